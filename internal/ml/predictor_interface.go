// Package ml loads a trained classifier and its label encoders, runs
// predictions over encoded feature rows and serves them over HTTP.
//
// The loaded artifacts are immutable after startup. When the model fails to
// load the service keeps running and reports every prediction as
// ErrModelUnavailable instead of answering with a default.
package ml

import (
	"context"

	"device-classifier/internal/features"
)

// PredictorInterface defines the prediction service used by the HTTP layer.
type PredictorInterface interface {
	// Predict encodes body with policy and returns the classifier's answer.
	Predict(ctx context.Context, policy features.Policy, body []byte) (*Result, error)

	// Available reports whether a model artifact is loaded.
	Available() bool

	Info() (ModelInfo, error)
	FeatureStats() ([]FeatureStats, error)
	Health() HealthStatus
}

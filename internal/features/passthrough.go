package features

import (
	"bytes"
	"encoding/json"
)

// FeatureRequest is the input record of the passthrough policy.
type FeatureRequest struct {
	Features []float64 `json:"features"`
}

// PassthroughEncoder accepts a precomputed numeric feature list.
type PassthroughEncoder struct{}

func (PassthroughEncoder) Policy() Policy { return PolicyPassthrough }

func (PassthroughEncoder) Encode(body []byte) (Encoded, error) {
	var raw struct {
		Features *json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Encoded{}, validationErrorf("invalid request body: %v", err)
	}
	if raw.Features == nil || isNull(*raw.Features) {
		return Encoded{}, validationErrorf("field %q is required", "features")
	}

	var items []json.RawMessage
	if err := json.Unmarshal(*raw.Features, &items); err != nil {
		return Encoded{}, validationErrorf("field %q must be a list", "features")
	}
	if len(items) == 0 {
		return Encoded{}, validationErrorf("features cannot be empty")
	}

	vector := make([]float64, len(items))
	for i, item := range items {
		var v float64
		if isNull(item) {
			return Encoded{}, encodingErrorf("feature %d is null", i)
		}
		if err := json.Unmarshal(item, &v); err != nil {
			return Encoded{}, encodingErrorf("feature %d is not numeric: %s", i, string(item))
		}
		vector[i] = v
	}

	return Encoded{
		Input:  FeatureRequest{Features: vector},
		Vector: vector,
	}, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

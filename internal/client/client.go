// Package client is a small HTTP client for the classifier service.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultTimeout = 5 * time.Second

type Client struct {
	base string
	rest *resty.Client
}

func New(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(defaultTimeout) // default fallback
	}
	r.SetHeader("Accept", "application/json")
	return &Client{base: strings.TrimRight(base, "/"), rest: r}
}

// APIError is a non-2xx answer from the service.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("classifier: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("classifier: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

type errorEnvelope struct {
	Error APIError `json:"error"`
}

type StatusResponse struct {
	Message string `json:"message"`
}

// PredictResponse mirrors the service's prediction result.
type PredictResponse struct {
	Input         json.RawMessage    `json:"input"`
	Features      []float64          `json:"features,omitempty"`
	Prediction    int                `json:"prediction"`
	Label         string             `json:"label,omitempty"`
	Probabilities map[string]float64 `json:"probabilities,omitempty"`

	RequestID string `json:"-"`
}

type ModelInfo struct {
	Version       string    `json:"version"`
	Algorithm     string    `json:"algorithm"`
	TrainedAt     time.Time `json:"trained_at"`
	FeatureNames  []string  `json:"feature_names"`
	NumFeatures   int       `json:"num_features"`
	Classes       []int     `json:"classes"`
	ClassLabels   []string  `json:"class_labels,omitempty"`
	Encoders      []string  `json:"encoders"`
	TargetEncoder string    `json:"target_encoder,omitempty"`
	Policy        string    `json:"policy"`
}

// Status calls GET /.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	out := &StatusResponse{}
	if _, err := c.do(ctx, http.MethodGet, "/", nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Predict posts payload to /predict, or to /predict/{policy} when policy is set.
// A []byte payload is sent as is; anything else is encoded as JSON.
func (c *Client) Predict(ctx context.Context, policy string, payload any) (*PredictResponse, error) {
	path := "/predict"
	if policy != "" {
		path += "/" + policy
	}
	out := &PredictResponse{}
	resp, err := c.do(ctx, http.MethodPost, path, payload, out)
	if err != nil {
		return nil, err
	}
	out.RequestID = resp.Header().Get("X-Request-ID")
	return out, nil
}

// ModelInfo calls GET /model/info.
func (c *Client) ModelInfo(ctx context.Context) (*ModelInfo, error) {
	out := &ModelInfo{}
	if _, err := c.do(ctx, http.MethodGet, "/model/info", nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) (*resty.Response, error) {
	envelope := &errorEnvelope{}
	req := c.rest.R().
		SetContext(ctx).
		SetResult(result).
		SetError(envelope)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, c.base+path)
	if err != nil {
		return nil, fmt.Errorf("classifier %s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr := envelope.Error
		apiErr.StatusCode = resp.StatusCode()
		return resp, &apiErr
	}
	return resp, nil
}

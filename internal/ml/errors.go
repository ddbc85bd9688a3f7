package ml

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"device-classifier/internal/features"
)

var (
	// ErrModelUnavailable is returned for every prediction while no artifact is loaded.
	ErrModelUnavailable = errors.New("model not loaded")
	// ErrInference wraps failures raised by the classifier call itself.
	ErrInference = errors.New("inference error")

	ErrValidation = features.ErrValidation
	ErrEncoding   = features.ErrEncoding
)

// ErrorKind classifies a prediction failure.
type ErrorKind string

const (
	KindModelUnavailable ErrorKind = "model_unavailable"
	KindValidation       ErrorKind = "validation"
	KindEncoding         ErrorKind = "encoding"
	KindInference        ErrorKind = "inference"
	KindTimeout          ErrorKind = "timeout"
	KindInternal         ErrorKind = "internal"
)

// PredictionError carries the failure class of a rejected prediction next to
// the underlying error.
type PredictionError struct {
	Kind ErrorKind
	Err  error
}

func (e *PredictionError) Error() string { return e.Err.Error() }

func (e *PredictionError) Unwrap() error { return e.Err }

func newPredictionError(err error) *PredictionError {
	return &PredictionError{Kind: Kind(err), Err: err}
}

// Kind reports which failure class err belongs to.
func Kind(err error) ErrorKind {
	var pe *PredictionError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	switch {
	case errors.Is(err, ErrModelUnavailable):
		return KindModelUnavailable
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrEncoding):
		return KindEncoding
	case errors.Is(err, ErrInference):
		return KindInference
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTimeout
	default:
		return KindInternal
	}
}

func inferenceError(err error) error {
	return fmt.Errorf("%w: %v", ErrInference, err)
}

// ErrorResponse is the HTTP rendering of a prediction failure.
type ErrorResponse struct {
	StatusCode int
	Code       string
	Message    string
}

// MapError maps prediction errors to HTTP error responses.
func MapError(err error) ErrorResponse {
	switch Kind(err) {
	case KindModelUnavailable:
		return ErrorResponse{
			StatusCode: http.StatusServiceUnavailable,
			Code:       "MODEL_UNAVAILABLE",
			Message:    ErrModelUnavailable.Error(),
		}
	case KindValidation:
		return ErrorResponse{
			StatusCode: http.StatusBadRequest,
			Code:       "VALIDATION_ERROR",
			Message:    err.Error(),
		}
	case KindEncoding:
		return ErrorResponse{
			StatusCode: http.StatusUnprocessableEntity,
			Code:       "ENCODING_ERROR",
			Message:    err.Error(),
		}
	case KindInference:
		return ErrorResponse{
			StatusCode: http.StatusUnprocessableEntity,
			Code:       "INFERENCE_ERROR",
			Message:    err.Error(),
		}
	case KindTimeout:
		return ErrorResponse{
			StatusCode: http.StatusServiceUnavailable,
			Code:       "TIMEOUT",
			Message:    "prediction timed out",
		}
	default:
		return ErrorResponse{
			StatusCode: http.StatusInternalServerError,
			Code:       "INTERNAL_ERROR",
			Message:    "internal server error",
		}
	}
}

// Package features turns one prediction request into the ordered numeric
// vector a classifier consumes.
//
// Three encoding policies exist and a deployment picks one explicitly:
// passthrough (the caller already sends numbers), manual (fixed category
// maps plus string-length proxies) and learned (persisted label encoders with
// a mode fallback for unseen categories).
package features

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Policy names an encoding policy.
type Policy string

const (
	PolicyPassthrough Policy = "passthrough"
	PolicyManual      Policy = "manual"
	PolicyLearned     Policy = "learned"
)

var (
	// ErrValidation marks a request body that does not match the expected record shape.
	ErrValidation = errors.New("validation error")
	// ErrEncoding marks a well-formed record that cannot be turned into a feature vector.
	ErrEncoding = errors.New("encoding error")
)

// Policies returns every supported policy in a stable order.
func Policies() []Policy {
	return []Policy{PolicyPassthrough, PolicyManual, PolicyLearned}
}

// ParsePolicy validates a policy name. Matching is case-insensitive.
func ParsePolicy(s string) (Policy, error) {
	p := Policy(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Policies() {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown encoding policy %q", s)
}

// Encoded is the outcome of encoding one request.
type Encoded struct {
	// Input is the validated record, echoed back to the caller.
	Input any
	// Vector is ordered exactly as the model was trained.
	Vector []float64
	// Fallbacks lists the fields that were replaced by a policy default.
	Fallbacks []string
}

// Encoder converts a raw JSON request body into an Encoded row.
type Encoder interface {
	Policy() Policy
	Encode(body []byte) (Encoded, error)
}

func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func encodingErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrEncoding, fmt.Sprintf(format, args...))
}

// requireEOF rejects anything but whitespace after the first JSON value.
func requireEOF(dec *json.Decoder) error {
	if _, err := dec.Token(); err != io.EOF {
		return validationErrorf("unexpected data after JSON object")
	}
	return nil
}

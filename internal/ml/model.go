package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"
)

// Model is a trained classifier. Implementations must be safe for concurrent
// use once loaded.
type Model interface {
	// Predict returns the most probable class id for one feature row.
	Predict(row []float64) (int, error)
	// PredictProba returns the probability of every known class for one row.
	PredictProba(row []float64) (map[int]float64, error)
	// Classes returns the class ids in model order.
	Classes() []int
	// FeatureNames returns the training column order, possibly empty.
	FeatureNames() []string
	// NumFeatures is the row width the model expects.
	NumFeatures() int
}

const (
	AlgorithmSoftmax  = "softmax"
	AlgorithmLogistic = "logistic"
)

// Artifact is the persisted form of a linear classifier.
type Artifact struct {
	Version      string      `json:"version"`
	Algorithm    string      `json:"algorithm"`
	TrainedAt    time.Time   `json:"trained_at"`
	FeatureNames []string    `json:"feature_names"`
	Classes      []int       `json:"classes"`
	Coefficients [][]float64 `json:"coefficients"`
	Intercepts   []float64   `json:"intercepts"`
}

// LinearModel evaluates a softmax (multinomial) or binary logistic artifact.
type LinearModel struct {
	artifact Artifact
	width    int
}

// LoadModel reads and validates a model artifact from disk.
func LoadModel(path string) (*LinearModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", path, err)
	}
	return ParseModel(data)
}

// ParseModel decodes and validates a model artifact.
func ParseModel(data []byte) (*LinearModel, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse model artifact: %w", err)
	}
	return NewLinearModel(a)
}

// NewLinearModel validates an artifact's shape.
func NewLinearModel(a Artifact) (*LinearModel, error) {
	if a.Algorithm == "" {
		a.Algorithm = AlgorithmSoftmax
	}
	if len(a.Coefficients) == 0 || len(a.Coefficients[0]) == 0 {
		return nil, fmt.Errorf("model artifact has no coefficients")
	}
	width := len(a.Coefficients[0])
	for i, row := range a.Coefficients {
		if len(row) != width {
			return nil, fmt.Errorf("coefficient row %d has %d weights, expected %d", i, len(row), width)
		}
	}
	if len(a.Intercepts) != len(a.Coefficients) {
		return nil, fmt.Errorf("model artifact has %d intercepts for %d coefficient rows", len(a.Intercepts), len(a.Coefficients))
	}

	switch a.Algorithm {
	case AlgorithmSoftmax:
		if len(a.Classes) != len(a.Coefficients) {
			return nil, fmt.Errorf("softmax artifact has %d classes for %d coefficient rows", len(a.Classes), len(a.Coefficients))
		}
		if len(a.Classes) < 2 {
			return nil, fmt.Errorf("softmax artifact needs at least 2 classes")
		}
	case AlgorithmLogistic:
		if len(a.Classes) != 2 || len(a.Coefficients) != 1 {
			return nil, fmt.Errorf("logistic artifact needs exactly 2 classes and 1 coefficient row")
		}
	default:
		return nil, fmt.Errorf("unsupported algorithm %q", a.Algorithm)
	}

	seen := make(map[int]bool, len(a.Classes))
	for _, c := range a.Classes {
		if seen[c] {
			return nil, fmt.Errorf("model artifact has duplicate class %d", c)
		}
		seen[c] = true
	}

	if len(a.FeatureNames) != 0 && len(a.FeatureNames) != width {
		return nil, fmt.Errorf("model artifact names %d features but has %d weights", len(a.FeatureNames), width)
	}

	return &LinearModel{artifact: a, width: width}, nil
}

func (m *LinearModel) Predict(row []float64) (int, error) {
	proba, err := m.scores(row)
	if err != nil {
		return 0, err
	}
	best := 0
	for i := range proba {
		if proba[i] > proba[best] {
			best = i
		}
	}
	return m.artifact.Classes[best], nil
}

func (m *LinearModel) PredictProba(row []float64) (map[int]float64, error) {
	proba, err := m.scores(row)
	if err != nil {
		return nil, err
	}
	out := make(map[int]float64, len(proba))
	for i, p := range proba {
		out[m.artifact.Classes[i]] = p
	}
	return out, nil
}

func (m *LinearModel) Classes() []int {
	return append([]int(nil), m.artifact.Classes...)
}

func (m *LinearModel) FeatureNames() []string {
	return append([]string(nil), m.artifact.FeatureNames...)
}

func (m *LinearModel) NumFeatures() int { return m.width }

// Artifact returns the artifact metadata the model was built from.
func (m *LinearModel) Artifact() Artifact { return m.artifact }

// scores returns class probabilities aligned with artifact.Classes.
func (m *LinearModel) scores(row []float64) ([]float64, error) {
	if len(row) != m.width {
		return nil, fmt.Errorf("expected %d features, got %d", m.width, len(row))
	}
	for i, f := range row {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("feature %d is not finite", i)
		}
	}

	a := m.artifact
	if a.Algorithm == AlgorithmLogistic {
		p := sigmoid(dot(a.Coefficients[0], row) + a.Intercepts[0])
		return []float64{1 - p, p}, nil
	}

	logits := make([]float64, len(a.Coefficients))
	maxLogit := math.Inf(-1)
	for i, coef := range a.Coefficients {
		logits[i] = dot(coef, row) + a.Intercepts[i]
		if logits[i] > maxLogit {
			maxLogit = logits[i]
		}
	}

	var sum float64
	for i := range logits {
		logits[i] = math.Exp(logits[i] - maxLogit)
		sum += logits[i]
	}
	for i := range logits {
		logits[i] /= sum
	}
	return logits, nil
}

func dot(weights, row []float64) float64 {
	var sum float64
	for i := range weights {
		sum += weights[i] * row[i]
	}
	return sum
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

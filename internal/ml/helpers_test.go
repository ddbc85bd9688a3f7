package ml

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"device-classifier/internal/features"

	"github.com/stretchr/testify/require"
)

// stubModel always answers the same class.
type stubModel struct {
	class int
	width int
	calls atomic.Int32
	err   error
}

func (m *stubModel) Predict(row []float64) (int, error) {
	m.calls.Add(1)
	if m.err != nil {
		return 0, m.err
	}
	return m.class, nil
}

func (m *stubModel) PredictProba(row []float64) (map[int]float64, error) {
	if m.err != nil {
		return nil, m.err
	}
	return map[int]float64{0: 0.25, m.class: 0.75}, nil
}

func (m *stubModel) Classes() []int         { return []int{0, m.class} }
func (m *stubModel) FeatureNames() []string { return nil }
func (m *stubModel) NumFeatures() int       { return m.width }

const testEncoderTable = `{
  "classification": {"classes": ["Class I", "Class II", "Class III"], "counts": [5, 20, 3]},
  "country": {"classes": ["Germany", "India", "USA"], "counts": [4, 9, 2]},
  "implanted": {"classes": ["no", "yes"]},
  "action_classification": {"classes": ["A", "B", "C"]}
}`

// testArtifact is a 3-class softmax over classification, country, implanted.
const testArtifact = `{
  "version": "1.0.0",
  "algorithm": "softmax",
  "trained_at": "2024-05-01T00:00:00Z",
  "feature_names": ["classification", "country", "implanted"],
  "classes": [0, 1, 2],
  "coefficients": [[-1.0, 0.5, 0.0], [1.0, 0.0, 0.5], [0.2, -0.5, 1.0]],
  "intercepts": [0.1, 0.0, -0.1]
}`

func newTestEncoders(t *testing.T) features.EncoderTable {
	t.Helper()
	table, err := features.ParseEncoderTable([]byte(testEncoderTable))
	require.NoError(t, err)
	return table
}

func newTestLinearModel(t *testing.T) *LinearModel {
	t.Helper()
	model, err := ParseModel([]byte(testArtifact))
	require.NoError(t, err)
	return model
}

// writeArtifacts writes the test model and encoder table into a temp dir.
func writeArtifacts(t *testing.T) (modelPath, encoderPath string) {
	t.Helper()
	dir := t.TempDir()
	modelPath = filepath.Join(dir, "model.json")
	encoderPath = filepath.Join(dir, "encoders.json")
	require.NoError(t, os.WriteFile(modelPath, []byte(testArtifact), 0o600))
	require.NoError(t, os.WriteFile(encoderPath, []byte(testEncoderTable), 0o600))
	return modelPath, encoderPath
}

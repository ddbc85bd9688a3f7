package ml

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"device-classifier/internal/features"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictor_UnavailableWhenModelMissing(t *testing.T) {
	metrics := &MockMetrics{}
	predictor := NewWithMetrics(Config{ModelPath: filepath.Join(t.TempDir(), "missing.json")}, metrics)

	assert.False(t, predictor.Available())
	assert.False(t, metrics.modelLoaded)

	for _, policy := range features.Policies() {
		_, err := predictor.Predict(context.Background(), policy, []byte(`{"features":[1,2,3]}`))
		assert.ErrorIs(t, err, ErrModelUnavailable)
		assert.Equal(t, KindModelUnavailable, Kind(err))
	}
	assert.Equal(t, 3, metrics.Failures("model_unavailable"))
	assert.Equal(t, 0, metrics.Predictions())

	health := predictor.Health()
	assert.False(t, health.Healthy)
	assert.False(t, health.ModelLoaded)
	assert.NotEmpty(t, health.LastError)

	_, err := predictor.Info()
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestPredictor_NilSafety(t *testing.T) {
	var predictor *Predictor

	assert.False(t, predictor.Available())
	_, err := predictor.Predict(context.Background(), "", []byte(`{}`))
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestPredictor_PassthroughExample(t *testing.T) {
	model := &stubModel{class: 1, width: 3}
	predictor := NewWithModel(model, nil, Config{Policy: features.PolicyPassthrough}, nil)

	result, err := predictor.Predict(context.Background(), "", []byte(`{"features":[1,2,3]}`))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Prediction)
	assert.Equal(t, []float64{1, 2, 3}, result.Features)
	assert.Empty(t, result.Label, "no target encoder means no label")
	assert.Nil(t, result.Probabilities)
	assert.Equal(t, features.PolicyPassthrough, result.Policy)
}

func TestPredictor_ManualExample(t *testing.T) {
	model := &stubModel{class: 1, width: 5}
	metrics := &MockMetrics{}
	predictor := NewWithModel(model, nil, Config{Policy: features.PolicyManual}, metrics)

	body := []byte(`{"device":"Pump","classification":"Class II","manufacturer":"Acme","country":"USA","implanted":"yes"}`)
	result, err := predictor.Predict(context.Background(), "", body)
	require.NoError(t, err)

	assert.Equal(t, []float64{2, 1, 1, 4, 4}, result.Features)
	assert.IsType(t, features.DeviceRecord{}, result.Input)
	assert.Empty(t, metrics.unknownCategories)
}

func TestPredictor_ManualUnknownCategoriesCounted(t *testing.T) {
	model := &stubModel{class: 1, width: 5}
	metrics := &MockMetrics{}
	predictor := NewWithModel(model, nil, Config{Policy: features.PolicyManual}, metrics)

	body := []byte(`{"device":"Cane","classification":"Class IV","manufacturer":"X","country":"France","implanted":"maybe"}`)
	result, err := predictor.Predict(context.Background(), "", body)
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 0, 0, 1, 4}, result.Features)
	assert.Equal(t, map[string]int{"classification": 1, "country": 1, "implanted": 1}, metrics.unknownCategories)
}

func TestPredictor_LearnedPolicy(t *testing.T) {
	metrics := &MockMetrics{}
	predictor := NewWithModel(newTestLinearModel(t), newTestEncoders(t), Config{
		Policy:              features.PolicyLearned,
		TargetEncoder:       "action_classification",
		EnableProbabilities: true,
	}, metrics)

	result, err := predictor.Predict(context.Background(), "", []byte(`{"classification":"Class III","country":"India","implanted":"yes"}`))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Prediction)
	assert.Equal(t, "B", result.Label)
	assert.Nil(t, result.Features, "learned results do not echo the vector")
	assert.IsType(t, features.Record{}, result.Input)

	require.Len(t, result.Probabilities, 3)
	var sum float64
	for label, p := range result.Probabilities {
		assert.Contains(t, []string{"A", "B", "C"}, label)
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Equal(t, 1, metrics.Predictions())
}

func TestPredictor_LearnedUnseenValuesUseMode(t *testing.T) {
	metrics := &MockMetrics{}
	predictor := NewWithModel(newTestLinearModel(t), newTestEncoders(t), Config{
		Policy:        features.PolicyLearned,
		TargetEncoder: "action_classification",
	}, metrics)

	result, err := predictor.Predict(context.Background(), "", []byte(`{"classification":"Class IX","country":"Peru","implanted":"maybe"}`))
	require.NoError(t, err, "unseen categories must not fail the request")

	// Modes: Class II (1), India (1), no (0)
	assert.Equal(t, 1, result.Prediction)
	assert.Equal(t, "B", result.Label)
	assert.Equal(t, map[string]int{"classification": 1, "country": 1, "implanted": 1}, metrics.unknownCategories)
}

func TestPredictor_TargetDecodeOutOfRange(t *testing.T) {
	model := &stubModel{class: 99, width: 3}
	predictor := NewWithModel(model, newTestEncoders(t), Config{
		TargetEncoder:       "action_classification",
		EnableProbabilities: true,
	}, nil)

	result, err := predictor.Predict(context.Background(), features.PolicyPassthrough, []byte(`{"features":[1,2,3]}`))
	require.NoError(t, err)

	assert.Equal(t, 99, result.Prediction)
	assert.Equal(t, "99", result.Label)
	assert.Equal(t, map[string]float64{"A": 0.25, "99": 0.75}, result.Probabilities)
}

func TestPredictor_ProbabilitiesWithoutTargetEncoder(t *testing.T) {
	model := &stubModel{class: 1, width: 3}
	predictor := NewWithModel(model, nil, Config{EnableProbabilities: true, TargetEncoder: "action_classification"}, nil)

	result, err := predictor.Predict(context.Background(), "", []byte(`{"features":[1,2,3]}`))
	require.NoError(t, err)

	assert.Empty(t, result.Label)
	assert.Equal(t, map[string]float64{"0": 0.25, "1": 0.75}, result.Probabilities)
}

func TestPredictor_ExplicitPolicyOverridesDefault(t *testing.T) {
	model := &stubModel{class: 1, width: 5}
	predictor := NewWithModel(model, nil, Config{Policy: features.PolicyPassthrough}, nil)

	body := []byte(`{"device":"Pump","classification":"Class II","manufacturer":"Acme","country":"USA","implanted":"yes"}`)

	_, err := predictor.Predict(context.Background(), "", body)
	assert.ErrorIs(t, err, ErrValidation, "a device record is not a passthrough payload")

	result, err := predictor.Predict(context.Background(), features.PolicyManual, body)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 1, 1, 4, 4}, result.Features)
}

func TestPredictor_ErrorKinds(t *testing.T) {
	testCases := []struct {
		name   string
		model  Model
		policy features.Policy
		body   string
		kind   ErrorKind
	}{
		{"malformed body", &stubModel{class: 1, width: 3}, features.PolicyPassthrough, `{"features":`, KindValidation},
		{"missing features", &stubModel{class: 1, width: 3}, features.PolicyPassthrough, `{}`, KindValidation},
		{"non-numeric element", &stubModel{class: 1, width: 3}, features.PolicyPassthrough, `{"features":[1,"x",3]}`, KindEncoding},
		{"unknown policy", &stubModel{class: 1, width: 3}, features.Policy("bogus"), `{}`, KindValidation},
		{"learned without encoders", &stubModel{class: 1, width: 3}, features.PolicyLearned, `{"a":1}`, KindEncoding},
		{"model rejects row", &stubModel{err: errors.New("boom")}, features.PolicyPassthrough, `{"features":[1]}`, KindInference},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			metrics := &MockMetrics{}
			predictor := NewWithModel(tc.model, nil, Config{}, metrics)

			_, err := predictor.Predict(context.Background(), tc.policy, []byte(tc.body))
			require.Error(t, err)
			assert.Equal(t, tc.kind, Kind(err))
			assert.Equal(t, 1, metrics.Failures(string(tc.kind)))

			var pe *PredictionError
			assert.True(t, errors.As(err, &pe))
		})
	}
}

func TestPredictor_WrongWidthIsInferenceError(t *testing.T) {
	predictor := NewWithModel(newTestLinearModel(t), nil, Config{}, nil)

	_, err := predictor.Predict(context.Background(), "", []byte(`{"features":[1,2]}`))
	assert.ErrorIs(t, err, ErrInference)
	assert.Contains(t, err.Error(), "expected 3 features, got 2")
}

func TestPredictor_CanceledContext(t *testing.T) {
	model := &stubModel{class: 1, width: 3}
	metrics := &MockMetrics{}
	predictor := NewWithModel(model, nil, Config{}, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := predictor.Predict(ctx, "", []byte(`{"features":[1,2,3]}`))
	assert.Equal(t, KindTimeout, Kind(err))
	assert.EqualValues(t, 0, model.calls.Load())
	assert.Equal(t, 1, metrics.Failures("timeout"))
}

func TestPredictor_Cache(t *testing.T) {
	model := &stubModel{class: 1, width: 3}
	metrics := &MockMetrics{}
	predictor := NewWithModel(model, nil, Config{CacheSize: 8}, metrics)

	body := []byte(`{"features":[1,2,3]}`)
	first, err := predictor.Predict(context.Background(), "", body)
	require.NoError(t, err)
	second, err := predictor.Predict(context.Background(), "", body)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, model.calls.Load())
	assert.Equal(t, 1, metrics.cacheHits)
	assert.Equal(t, 2, metrics.Predictions())

	_, err = predictor.Predict(context.Background(), "", []byte(`{"features":[3,2,1]}`))
	require.NoError(t, err)
	assert.EqualValues(t, 2, model.calls.Load())
}

func TestPredictor_CacheHitsStillCountedInStats(t *testing.T) {
	model := &stubModel{class: 1, width: 5}
	metrics := &MockMetrics{}
	predictor := NewWithModel(model, nil, Config{Policy: features.PolicyManual, CacheSize: 8}, metrics)

	body := []byte(`{"device":"Cane","classification":"Class IV","manufacturer":"X","country":"France","implanted":"yes"}`)
	for i := 0; i < 3; i++ {
		_, err := predictor.Predict(context.Background(), "", body)
		require.NoError(t, err)
	}

	assert.EqualValues(t, 1, model.calls.Load())
	assert.Equal(t, 2, metrics.cacheHits)
	assert.Equal(t, 3, metrics.Predictions())
	assert.Equal(t, map[string]int{"classification": 3, "country": 3}, metrics.unknownCategories)

	stats, err := predictor.FeatureStats()
	require.NoError(t, err)
	require.Len(t, stats, 5)
	for _, s := range stats {
		assert.EqualValues(t, 3, s.UsageCount, s.Name)
	}
	assert.InDelta(t, 4.0, stats[4].AverageValue, 1e-9)
}

func TestPredictor_NoCacheByDefault(t *testing.T) {
	model := &stubModel{class: 1, width: 3}
	predictor := NewWithModel(model, nil, Config{}, nil)

	body := []byte(`{"features":[1,2,3]}`)
	for i := 0; i < 3; i++ {
		_, err := predictor.Predict(context.Background(), "", body)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, model.calls.Load())
}

func TestPredictor_ConcurrentPredictions(t *testing.T) {
	metrics := &MockMetrics{}
	predictor := NewWithModel(newTestLinearModel(t), newTestEncoders(t), Config{
		Policy:              features.PolicyLearned,
		TargetEncoder:       "action_classification",
		EnableProbabilities: true,
		CacheSize:           4,
	}, metrics)

	bodies := [][]byte{
		[]byte(`{"classification":"Class III","country":"India","implanted":"yes"}`),
		[]byte(`{"classification":"Class I","country":"USA","implanted":"no"}`),
		[]byte(`{"classification":"Class IX","country":"Peru"}`),
	}

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := predictor.Predict(context.Background(), "", bodies[i%len(bodies)])
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 30, metrics.Predictions())
	assert.Equal(t, 30, metrics.latencyCount)
}

func TestNewWithMetrics_LoadsArtifacts(t *testing.T) {
	modelPath, encoderPath := writeArtifacts(t)
	metrics := &MockMetrics{}

	predictor := NewWithMetrics(Config{
		ModelPath:     modelPath,
		EncoderPath:   encoderPath,
		Policy:        features.PolicyLearned,
		TargetEncoder: "action_classification",
	}, metrics)

	require.True(t, predictor.Available())
	assert.True(t, metrics.modelLoaded)
	assert.GreaterOrEqual(t, metrics.modelAge, 0.0)

	info, err := predictor.Info()
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", info.Version)
	assert.Equal(t, AlgorithmSoftmax, info.Algorithm)
	assert.Equal(t, 3, info.NumFeatures)
	assert.Equal(t, []int{0, 1, 2}, info.Classes)
	assert.Equal(t, []string{"A", "B", "C"}, info.ClassLabels)
	assert.Equal(t, []string{"action_classification", "classification", "country", "implanted"}, info.Encoders)
	assert.Equal(t, "action_classification", info.TargetEncoder)
	assert.Equal(t, features.PolicyLearned, info.Policy)

	health := predictor.Health()
	assert.True(t, health.Healthy)
	assert.Equal(t, 4, health.Encoders)
	assert.Empty(t, health.LastError)
}

func TestNewWithMetrics_CorruptEncodersAreIgnored(t *testing.T) {
	modelPath, _ := writeArtifacts(t)
	encoderPath := filepath.Join(t.TempDir(), "encoders.json")
	require.NoError(t, os.WriteFile(encoderPath, []byte("not json"), 0o600))

	predictor := NewWithMetrics(Config{
		ModelPath:   modelPath,
		EncoderPath: encoderPath,
		Policy:      features.PolicyLearned,
	}, nil)

	require.True(t, predictor.Available())
	assert.Equal(t, 0, predictor.Health().Encoders)

	_, err := predictor.Predict(context.Background(), "", []byte(`{"classification":"Class I"}`))
	assert.ErrorIs(t, err, ErrEncoding)

	// Passthrough still works without encoders.
	result, err := predictor.Predict(context.Background(), features.PolicyPassthrough, []byte(`{"features":[0,0,1]}`))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Prediction)
}

func TestNewWithModel_DefaultPolicy(t *testing.T) {
	predictor := NewWithModel(&stubModel{class: 1, width: 1}, nil, Config{}, nil)
	assert.Equal(t, features.PolicyPassthrough, predictor.Policy())
}

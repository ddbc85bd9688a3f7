package ml

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureTracker_RunningStats(t *testing.T) {
	ft := NewFeatureTracker([]string{"a", "b"}, 2)

	ft.Observe([]float64{1, 10})
	ft.Observe([]float64{2, 10})
	ft.Observe([]float64{3, 10})
	ft.Observe([]float64{1, 2, 3}) // wrong width, ignored

	stats := ft.Snapshot(nil)
	require.Len(t, stats, 2)

	assert.Equal(t, "a", stats[0].Name)
	assert.EqualValues(t, 3, stats[0].UsageCount)
	assert.InDelta(t, 2.0, stats[0].AverageValue, 1e-12)
	assert.InDelta(t, 1.0, stats[0].StandardDeviation, 1e-12)
	assert.Equal(t, 1.0, stats[0].MinValue)
	assert.Equal(t, 3.0, stats[0].MaxValue)
	require.NotNil(t, stats[0].LastUpdated)
	assert.False(t, stats[0].LastUpdated.IsZero())

	assert.InDelta(t, 0.0, stats[1].StandardDeviation, 1e-12)
}

func TestFeatureTracker_EmptyIsJSONSafe(t *testing.T) {
	ft := NewFeatureTracker(nil, 2)

	stats := ft.Snapshot([]float64{0.25, 0.75})
	assert.Equal(t, "f0", stats[0].Name)
	assert.Equal(t, "f1", stats[1].Name)
	assert.Equal(t, 0.0, stats[0].MinValue)
	assert.Equal(t, 0.0, stats[0].MaxValue)
	assert.Equal(t, 0.75, stats[1].ImportanceScore)
	assert.Nil(t, stats[0].LastUpdated)

	data, err := json.Marshal(stats[0])
	require.NoError(t, err)
	assert.NotContains(t, string(data), "last_updated")
}

func TestFeatureTracker_Concurrent(t *testing.T) {
	ft := NewFeatureTracker([]string{"x"}, 1)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ft.Observe([]float64{4})
		}()
	}
	wg.Wait()

	stats := ft.Snapshot(nil)
	assert.EqualValues(t, 50, stats[0].UsageCount)
	assert.InDelta(t, 4.0, stats[0].AverageValue, 1e-12)
}

func TestCoefficientImportance(t *testing.T) {
	scores := CoefficientImportance(Artifact{
		Coefficients: [][]float64{{1, -3, 0}, {1, 1, 0}},
	})
	require.Len(t, scores, 3)

	// mean |w|: 1, 2, 0 -> normalised 1/3, 2/3, 0
	assert.InDelta(t, 1.0/3, scores[0], 1e-12)
	assert.InDelta(t, 2.0/3, scores[1], 1e-12)
	assert.Equal(t, 0.0, scores[2])

	assert.Nil(t, CoefficientImportance(Artifact{}))
	assert.Equal(t, []float64{0, 0}, CoefficientImportance(Artifact{Coefficients: [][]float64{{0, 0}}}))
}

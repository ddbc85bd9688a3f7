package ml

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// FeatureStats summarises one model input column over the rows served so far.
type FeatureStats struct {
	Name              string     `json:"name"`
	ImportanceScore   float64    `json:"importance_score"`
	UsageCount        int64      `json:"usage_count"`
	AverageValue      float64    `json:"average_value"`
	StandardDeviation float64    `json:"standard_deviation"`
	MinValue          float64    `json:"min_value"`
	MaxValue          float64    `json:"max_value"`
	LastUpdated       *time.Time `json:"last_updated,omitempty"`
}

// FeatureTracker keeps running statistics of the encoded rows the model sees.
type FeatureTracker struct {
	mu    sync.RWMutex
	names []string
	stats []accumulator
}

// accumulator is Welford's online mean and variance.
type accumulator struct {
	count       int64
	mean        float64
	m2          float64
	min, max    float64
	lastUpdated time.Time
}

// NewFeatureTracker tracks width columns. Missing names are filled as f0, f1, ...
func NewFeatureTracker(names []string, width int) *FeatureTracker {
	ft := &FeatureTracker{
		names: make([]string, width),
		stats: make([]accumulator, width),
	}
	for i := range ft.names {
		if i < len(names) && names[i] != "" {
			ft.names[i] = names[i]
		} else {
			ft.names[i] = fmt.Sprintf("f%d", i)
		}
		ft.stats[i] = accumulator{min: math.Inf(1), max: math.Inf(-1)}
	}
	return ft
}

// Observe records one row. Rows of the wrong width are ignored.
func (ft *FeatureTracker) Observe(row []float64) {
	if len(row) != len(ft.stats) {
		return
	}
	now := time.Now()

	ft.mu.Lock()
	defer ft.mu.Unlock()

	for i, v := range row {
		s := &ft.stats[i]
		s.count++
		delta := v - s.mean
		s.mean += delta / float64(s.count)
		s.m2 += delta * (v - s.mean)
		s.min = math.Min(s.min, v)
		s.max = math.Max(s.max, v)
		s.lastUpdated = now
	}
}

// Snapshot returns the statistics in column order. importance may be nil.
func (ft *FeatureTracker) Snapshot(importance []float64) []FeatureStats {
	ft.mu.RLock()
	defer ft.mu.RUnlock()

	out := make([]FeatureStats, len(ft.stats))
	for i, s := range ft.stats {
		fs := FeatureStats{Name: ft.names[i], UsageCount: s.count}
		if i < len(importance) {
			fs.ImportanceScore = importance[i]
		}
		if s.count > 0 {
			fs.AverageValue = s.mean
			fs.MinValue = s.min
			fs.MaxValue = s.max
			lastUpdated := s.lastUpdated
			fs.LastUpdated = &lastUpdated
		}
		if s.count > 1 {
			fs.StandardDeviation = math.Sqrt(s.m2 / float64(s.count-1))
		}
		out[i] = fs
	}
	return out
}

// CoefficientImportance scores each column by its mean absolute weight across
// classes, normalised to sum to 1.
func CoefficientImportance(a Artifact) []float64 {
	if len(a.Coefficients) == 0 {
		return nil
	}
	scores := make([]float64, len(a.Coefficients[0]))
	var total float64
	for _, row := range a.Coefficients {
		for j, w := range row {
			scores[j] += math.Abs(w) / float64(len(a.Coefficients))
		}
	}
	for _, s := range scores {
		total += s
	}
	if total == 0 {
		return scores
	}
	for j := range scores {
		scores[j] /= total
	}
	return scores
}

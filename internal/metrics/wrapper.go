package metrics

// MetricsWrapper adapts Metrics to the method set the predictor records into.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) MLPredictionsInc() {
	w.m.MLPredictions.Inc()
}

func (w *MetricsWrapper) MLFailuresInc(kind string) {
	w.m.MLFailures.WithLabelValues(kind).Inc()
}

func (w *MetricsWrapper) MLLatencyObserve(seconds float64) {
	w.m.MLLatency.Observe(seconds)
}

func (w *MetricsWrapper) MLModelLoadedSet(loaded bool) {
	if loaded {
		w.m.MLModelLoaded.Set(1)
		return
	}
	w.m.MLModelLoaded.Set(0)
}

func (w *MetricsWrapper) MLModelAgeSet(seconds float64) {
	w.m.MLModelAge.Set(seconds)
}

func (w *MetricsWrapper) UnknownCategoryInc(field string) {
	w.m.UnknownCategories.WithLabelValues(field).Inc()
}

func (w *MetricsWrapper) CacheHitInc() {
	w.m.CacheHits.Inc()
}

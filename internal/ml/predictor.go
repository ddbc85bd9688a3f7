package ml

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"device-classifier/internal/features"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

// MetricsInterface defines metrics methods needed by the predictor
type MetricsInterface interface {
	MLPredictionsInc()
	MLFailuresInc(kind string)
	MLLatencyObserve(float64)
	MLModelLoadedSet(bool)
	MLModelAgeSet(float64)
	UnknownCategoryInc(field string)
	CacheHitInc()
}

// Config selects the artifacts and the behaviour of a Predictor.
type Config struct {
	ModelPath           string
	EncoderPath         string
	Policy              features.Policy
	TargetEncoder       string
	EnableProbabilities bool
	CacheSize           int
}

// Predictor is the service context shared by every request. It is built once
// at startup and never mutated afterwards; a nil model means the artifact
// failed to load and every prediction reports ErrModelUnavailable.
type Predictor struct {
	model        Model
	encoders     features.EncoderTable
	codecs       map[features.Policy]features.Encoder
	config       Config
	metrics      MetricsInterface
	cache        *lru.Cache[string, cachedPrediction]
	tracker      *FeatureTracker
	importance   []float64
	loadErr      error
	modelCreated time.Time
	startTime    time.Time
}

// Result is the response of one prediction.
type Result struct {
	Input         any                `json:"input"`
	Features      []float64          `json:"features,omitempty"`
	Prediction    int                `json:"prediction"`
	Label         string             `json:"label,omitempty"`
	Probabilities map[string]float64 `json:"probabilities,omitempty"`

	Policy features.Policy `json:"-"`
}

// cachedPrediction keeps the encoded row next to the result so a cache hit is
// still counted in the feature statistics and fallback metrics.
type cachedPrediction struct {
	result    *Result
	vector    []float64
	fallbacks []string
}

func New(config Config) *Predictor {
	return NewWithMetrics(config, nil)
}

// NewWithMetrics loads the artifacts named by config. Load failures are logged
// and leave the predictor in the model-unavailable state; they are never fatal.
func NewWithMetrics(config Config, metrics MetricsInterface) *Predictor {
	// Get model file info for age tracking
	var modelCreated time.Time
	if info, err := os.Stat(config.ModelPath); err == nil {
		modelCreated = info.ModTime()
	}

	model, err := LoadModel(config.ModelPath)
	if err != nil {
		log.Error().Err(err).Str("model_path", config.ModelPath).Msg("Error loading model, predictions will be unavailable")
		p := NewWithModel(nil, nil, config, metrics)
		p.loadErr = err
		return p
	}

	var encoders features.EncoderTable
	if config.EncoderPath != "" {
		encoders, err = features.LoadEncoderTable(config.EncoderPath)
		if err != nil {
			log.Warn().Err(err).Str("encoder_path", config.EncoderPath).Msg("Failed to load label encoders, continuing without them")
			encoders = nil
		}
	}

	artifact := model.Artifact()
	log.Info().
		Str("model_path", config.ModelPath).
		Str("version", artifact.Version).
		Str("algorithm", artifact.Algorithm).
		Int("classes", len(artifact.Classes)).
		Int("features", model.NumFeatures()).
		Int("encoders", len(encoders)).
		Msg("Model loaded successfully")

	p := NewWithModel(model, encoders, config, metrics)
	p.modelCreated = modelCreated

	// Update model age metric if metrics available
	if p.metrics != nil && !modelCreated.IsZero() {
		p.metrics.MLModelAgeSet(time.Since(modelCreated).Seconds())
	}

	return p
}

// NewWithModel builds a predictor around an already loaded model. A nil model
// yields a predictor in the model-unavailable state.
func NewWithModel(model Model, encoders features.EncoderTable, config Config, metrics MetricsInterface) *Predictor {
	if config.Policy == "" {
		config.Policy = features.PolicyPassthrough
	}

	var featureNames []string
	var tracker *FeatureTracker
	var importance []float64
	if model != nil {
		featureNames = model.FeatureNames()
		tracker = NewFeatureTracker(featureNames, model.NumFeatures())
		if a, ok := model.(interface{ Artifact() Artifact }); ok {
			importance = CoefficientImportance(a.Artifact())
		}
	}

	p := &Predictor{
		model:    model,
		encoders: encoders,
		config:   config,
		metrics:  metrics,
		codecs: map[features.Policy]features.Encoder{
			features.PolicyPassthrough: features.PassthroughEncoder{},
			features.PolicyManual:      features.ManualEncoder{},
			features.PolicyLearned: features.LearnedEncoder{
				Table:        encoders,
				FeatureNames: featureNames,
				Target:       config.TargetEncoder,
			},
		},
		tracker:    tracker,
		importance: importance,
		startTime:  time.Now(),
	}

	if config.CacheSize > 0 {
		cache, err := lru.New[string, cachedPrediction](config.CacheSize)
		if err != nil {
			log.Warn().Err(err).Int("cache_size", config.CacheSize).Msg("Failed to create prediction cache, caching disabled")
		} else {
			p.cache = cache
		}
	}

	if p.metrics != nil {
		p.metrics.MLModelLoadedSet(model != nil)
	}

	return p
}

// Available reports whether a model artifact is loaded.
func (p *Predictor) Available() bool {
	return p != nil && p.model != nil
}

// Policy returns the deployment's default encoding policy.
func (p *Predictor) Policy() features.Policy {
	return p.config.Policy
}

// Predict encodes body with the given policy (the deployment default when
// empty) and runs the classifier on the resulting row.
func (p *Predictor) Predict(ctx context.Context, policy features.Policy, body []byte) (*Result, error) {
	if p == nil {
		return nil, newPredictionError(ErrModelUnavailable)
	}

	start := time.Now()
	defer func() {
		// Track latency if metrics available
		if p.metrics != nil {
			p.metrics.MLLatencyObserve(time.Since(start).Seconds())
		}
	}()

	result, err := p.predict(ctx, policy, body)
	if err != nil {
		perr := newPredictionError(err)
		if p.metrics != nil {
			p.metrics.MLFailuresInc(string(perr.Kind))
		}
		return nil, perr
	}

	if p.metrics != nil {
		p.metrics.MLPredictionsInc()
	}
	return result, nil
}

func (p *Predictor) predict(ctx context.Context, policy features.Policy, body []byte) (*Result, error) {
	if p.model == nil {
		return nil, ErrModelUnavailable
	}
	if policy == "" {
		policy = p.config.Policy
	}
	codec, ok := p.codecs[policy]
	if !ok {
		return nil, fmt.Errorf("%w: unknown encoding policy %q", ErrValidation, policy)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cacheKey := string(policy) + "\x00" + string(body)
	if p.cache != nil {
		if cached, ok := p.cache.Get(cacheKey); ok {
			if p.metrics != nil {
				p.metrics.CacheHitInc()
			}
			p.observe(policy, cached.vector, cached.fallbacks)
			return cached.result, nil
		}
	}

	encoded, err := codec.Encode(body)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	classID, err := p.model.Predict(encoded.Vector)
	if err != nil {
		return nil, inferenceError(err)
	}
	p.observe(policy, encoded.Vector, encoded.Fallbacks)

	result := &Result{
		Input:      encoded.Input,
		Prediction: classID,
		Policy:     policy,
	}
	if policy != features.PolicyLearned {
		result.Features = encoded.Vector
	}

	target := p.targetEncoder()
	if target != nil {
		result.Label = target.Decode(classID)
	}

	if p.config.EnableProbabilities {
		proba, err := p.model.PredictProba(encoded.Vector)
		if err != nil {
			return nil, inferenceError(err)
		}
		result.Probabilities = make(map[string]float64, len(proba))
		for id, prob := range proba {
			result.Probabilities[classLabel(target, id)] = prob
		}
	}

	if p.cache != nil {
		p.cache.Add(cacheKey, cachedPrediction{
			result:    result,
			vector:    encoded.Vector,
			fallbacks: encoded.Fallbacks,
		})
	}

	log.Debug().
		Str("policy", string(policy)).
		Interface("features", encoded.Vector).
		Int("prediction", classID).
		Str("label", result.Label).
		Msg("Prediction successful")

	return result, nil
}

// observe records one served row, whether it was computed or cached.
func (p *Predictor) observe(policy features.Policy, vector []float64, fallbacks []string) {
	for _, field := range fallbacks {
		if p.metrics != nil {
			p.metrics.UnknownCategoryInc(field)
		}
		log.Debug().Str("field", field).Str("policy", string(policy)).Msg("category fell back to policy default")
	}
	p.tracker.Observe(vector)
}

func (p *Predictor) targetEncoder() *features.LabelEncoder {
	if p.config.TargetEncoder == "" {
		return nil
	}
	return p.encoders[p.config.TargetEncoder]
}

func classLabel(target *features.LabelEncoder, id int) string {
	if target == nil {
		return strconv.Itoa(id)
	}
	return target.Decode(id)
}

// ModelInfo describes the loaded artifacts.
type ModelInfo struct {
	Version       string          `json:"version"`
	Algorithm     string          `json:"algorithm"`
	TrainedAt     time.Time       `json:"trained_at"`
	FeatureNames  []string        `json:"feature_names"`
	NumFeatures   int             `json:"num_features"`
	Classes       []int           `json:"classes"`
	ClassLabels   []string        `json:"class_labels,omitempty"`
	Encoders      []string        `json:"encoders"`
	TargetEncoder string          `json:"target_encoder,omitempty"`
	Policy        features.Policy `json:"policy"`
}

// Info returns metadata about the loaded model.
func (p *Predictor) Info() (ModelInfo, error) {
	if !p.Available() {
		return ModelInfo{}, ErrModelUnavailable
	}

	info := ModelInfo{
		FeatureNames: p.model.FeatureNames(),
		NumFeatures:  p.model.NumFeatures(),
		Classes:      p.model.Classes(),
		Encoders:     p.encoders.Fields(),
		Policy:       p.config.Policy,
	}
	if a, ok := p.model.(interface{ Artifact() Artifact }); ok {
		artifact := a.Artifact()
		info.Version = artifact.Version
		info.Algorithm = artifact.Algorithm
		info.TrainedAt = artifact.TrainedAt
	}
	if target := p.targetEncoder(); target != nil {
		info.TargetEncoder = p.config.TargetEncoder
		for _, id := range info.Classes {
			info.ClassLabels = append(info.ClassLabels, target.Decode(id))
		}
	}
	return info, nil
}

// FeatureStats returns running statistics of the rows served so far, with
// coefficient importance when the model exposes its weights.
func (p *Predictor) FeatureStats() ([]FeatureStats, error) {
	if !p.Available() {
		return nil, ErrModelUnavailable
	}
	return p.tracker.Snapshot(p.importance), nil
}

type HealthStatus struct {
	Healthy       bool            `json:"healthy"`
	ModelLoaded   bool            `json:"model_loaded"`
	Encoders      int             `json:"encoders"`
	Policy        features.Policy `json:"policy"`
	LastError     string          `json:"last_error,omitempty"`
	ModelAge      float64         `json:"model_age_seconds,omitempty"`
	UptimeSeconds float64         `json:"uptime_seconds"`
}

// Health reports whether the service can answer predictions.
func (p *Predictor) Health() HealthStatus {
	status := HealthStatus{
		Healthy:       p.Available(),
		ModelLoaded:   p.Available(),
		Encoders:      len(p.encoders),
		Policy:        p.config.Policy,
		UptimeSeconds: time.Since(p.startTime).Seconds(),
	}
	if p.loadErr != nil {
		status.LastError = p.loadErr.Error()
	}
	if !p.modelCreated.IsZero() {
		status.ModelAge = time.Since(p.modelCreated).Seconds()
	}
	return status
}

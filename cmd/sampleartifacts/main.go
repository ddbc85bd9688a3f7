// Command sampleartifacts writes a small model artifact and label encoder
// table so the classifier can be run locally without a training pipeline.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"device-classifier/internal/features"
	"device-classifier/internal/ml"

	"github.com/rs/zerolog/log"
)

type encoderEntry struct {
	Classes []string `json:"classes"`
	Counts  []int    `json:"counts,omitempty"`
}

// Learned-policy columns and the categories seen for each.
var sampleEncoders = map[string]encoderEntry{
	"classification":        {Classes: []string{"Class I", "Class II", "Class III"}, Counts: []int{410, 1290, 300}},
	"country":               {Classes: []string{"Germany", "India", "Japan", "USA"}, Counts: []int{220, 180, 140, 1460}},
	"implanted":             {Classes: []string{"no", "yes"}, Counts: []int{1580, 420}},
	"name_manufacturer":     {Classes: []string{"Abbott", "Boston Scientific", "Medtronic", "Philips"}, Counts: []int{350, 270, 610, 190}},
	"action_classification": {Classes: []string{"Class 1", "Class 2", "Class 3"}},
}

var learnedFeatures = []string{"classification", "country", "implanted", "name_manufacturer", "risk_score"}

func main() {
	var (
		outDir = flag.String("out", "models", "Output directory")
		policy = flag.String("policy", "learned", "Policy the model is trained for (passthrough, manual, learned)")
		width  = flag.Int("features", 3, "Row width for the passthrough policy")
		seed   = flag.Int64("seed", 42, "Random seed for the coefficients")
	)
	flag.Parse()

	p, err := features.ParsePolicy(*policy)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid policy")
	}

	var featureNames []string
	switch p {
	case features.PolicyManual:
		featureNames = features.ManualFeatureNames
	case features.PolicyLearned:
		featureNames = learnedFeatures
	default:
		for i := 0; i < *width; i++ {
			featureNames = append(featureNames, fmt.Sprintf("f%d", i))
		}
	}

	artifact := generateArtifact(featureNames, rand.New(rand.NewSource(*seed)))
	if _, err := ml.NewLinearModel(artifact); err != nil {
		log.Fatal().Err(err).Msg("generated artifact is invalid")
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("failed to create output directory")
	}

	modelPath := filepath.Join(*outDir, "model.json")
	if err := writeJSON(modelPath, artifact); err != nil {
		log.Fatal().Err(err).Msg("failed to write model")
	}
	encoderPath := filepath.Join(*outDir, "encoders.json")
	if err := writeJSON(encoderPath, sampleEncoders); err != nil {
		log.Fatal().Err(err).Msg("failed to write encoders")
	}

	fmt.Printf("✓ Wrote %s (%s policy, %d features)\n", modelPath, p, len(featureNames))
	fmt.Printf("✓ Wrote %s (%d encoders)\n", encoderPath, len(sampleEncoders))
}

// generateArtifact builds a 3-class softmax model with random weights.
func generateArtifact(featureNames []string, rng *rand.Rand) ml.Artifact {
	classes := []int{0, 1, 2}
	coefficients := make([][]float64, len(classes))
	intercepts := make([]float64, len(classes))
	for i := range classes {
		coefficients[i] = make([]float64, len(featureNames))
		for j := range coefficients[i] {
			coefficients[i][j] = rng.NormFloat64() * 0.5
		}
		intercepts[i] = rng.NormFloat64() * 0.1
	}

	return ml.Artifact{
		Version:      "sample-" + time.Now().UTC().Format("20060102"),
		Algorithm:    ml.AlgorithmSoftmax,
		TrainedAt:    time.Now().UTC().Truncate(time.Second),
		FeatureNames: append([]string(nil), featureNames...),
		Classes:      classes,
		Coefficients: coefficients,
		Intercepts:   intercepts,
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

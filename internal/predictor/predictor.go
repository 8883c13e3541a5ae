// Package predictor wraps the trained silica regression artifact. The active
// artifact is swapped by reference on retrain, so in-flight predictions keep
// the artifact they started with and never observe a partial swap.
package predictor

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"silicamon/internal/logger"
	"silicamon/internal/metrics"
)

// ErrModelUnavailable is returned by Predict when no artifact is loaded.
var ErrModelUnavailable = errors.New("no model artifact loaded")

// Status values reported by ModelInfo.
const (
	StatusReady        = "READY"
	StatusNotAvailable = "NOT_AVAILABLE"
)

// ModelInfo is the metadata surface exposed to callers.
type ModelInfo struct {
	Status    string     `json:"status"`
	ModelName string     `json:"model_name,omitempty"`
	Metrics   *Metrics   `json:"metrics,omitempty"`
	TrainedAt *time.Time `json:"trained_at,omitempty"`
}

// Predictor holds the active artifact and drives retraining.
type Predictor struct {
	dataPath  string
	modelPath string

	artifact atomic.Pointer[Artifact]
	trainMu  sync.Mutex
}

// New creates a predictor and loads a persisted artifact when one exists.
// A missing or mismatched artifact leaves the predictor NOT_AVAILABLE; the
// caller decides whether to train.
func New(dataPath, modelPath string) *Predictor {
	p := &Predictor{dataPath: dataPath, modelPath: modelPath}
	log := logger.WithComponent("predictor")

	art, err := LoadArtifact(modelPath)
	if err != nil {
		log.Warn().Err(err).Str("path", modelPath).Msg("no usable model artifact")
		return p
	}

	p.artifact.Store(art)
	log.Info().
		Str("model", art.ModelName).
		Float64("r2", art.Metrics.R2).
		Int("training_samples", art.Metrics.TrainingSamples).
		Msg("model artifact loaded")
	return p
}

// Predict scores a feature vector with the active artifact. The artifact
// reference is captured once at call start.
func (p *Predictor) Predict(features map[string]float64) (float64, error) {
	art := p.artifact.Load()
	if art == nil {
		metrics.PredictionFailuresTotal.WithLabelValues("unavailable").Inc()
		return 0, ErrModelUnavailable
	}

	start := time.Now()
	v, err := art.Predict(features)
	if err != nil {
		metrics.PredictionFailuresTotal.WithLabelValues("missing_feature").Inc()
		return 0, err
	}
	metrics.PredictionsTotal.Inc()
	metrics.PredictionDuration.Observe(time.Since(start).Seconds())
	return v, nil
}

// ModelInfo reports the active artifact's metadata.
func (p *Predictor) ModelInfo() ModelInfo {
	art := p.artifact.Load()
	if art == nil {
		return ModelInfo{Status: StatusNotAvailable}
	}
	m := art.Metrics
	t := art.TrainedAt
	return ModelInfo{
		Status:    StatusReady,
		ModelName: art.ModelName,
		Metrics:   &m,
		TrainedAt: &t,
	}
}

// Ready reports whether an artifact is loaded.
func (p *Predictor) Ready() bool {
	return p.artifact.Load() != nil
}

// Retrain reloads the training data, selects and fits the best candidate
// regressor, and atomically swaps the active artifact. On any failure the
// previous artifact stays active.
func (p *Predictor) Retrain() error {
	p.trainMu.Lock()
	defer p.trainMu.Unlock()

	log := logger.WithComponent("predictor")

	art, err := trainArtifact(p.dataPath)
	if err != nil {
		metrics.RetrainsTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).Msg("retraining failed, previous model kept")
		return err
	}

	if err := art.Save(p.modelPath); err != nil {
		// The new model is usable even if persistence failed.
		log.Warn().Err(err).Msg("trained model could not be persisted")
	}

	p.artifact.Store(art)
	metrics.RetrainsTotal.WithLabelValues("success").Inc()
	return nil
}

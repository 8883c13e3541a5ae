package predictor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"silicamon/internal/models"
)

// ArtifactVersion is bumped whenever the persisted layout changes.
const ArtifactVersion = 1

// SchemaError reports an artifact whose persisted record does not match the
// contract this build expects. Detected at load, never silently accepted.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("model artifact schema mismatch: %s", e.Reason)
}

// Metrics are the held-out evaluation results for a trained model.
type Metrics struct {
	R2              float64 `json:"r2"`
	MSE             float64 `json:"mse"`
	MAE             float64 `json:"mae"`
	RMSE            float64 `json:"rmse"`
	TrainingSamples int     `json:"training_samples"`
	DataSource      string  `json:"data_source"`
}

// Artifact is a trained regression model bundled with its feature schema and
// metrics. Artifacts are immutable; retraining replaces the whole record.
type Artifact struct {
	Version        int       `json:"version"`
	ModelName      string    `json:"model_name"`
	FeatureColumns []string  `json:"feature_columns"`
	TargetColumn   string    `json:"target_column"`
	Metrics        Metrics   `json:"metrics"`
	TrainedAt      time.Time `json:"trained_at"`

	// Standardizer and linear coefficients, one per feature column.
	Means     []float64 `json:"means"`
	Stds      []float64 `json:"stds"`
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
}

// Predict scores a feature vector against this artifact. The artifact is
// never mutated; concurrent calls are safe.
func (a *Artifact) Predict(features map[string]float64) (float64, error) {
	y := a.Intercept
	for i, col := range a.FeatureColumns {
		v, ok := features[col]
		if !ok {
			return 0, &models.MissingFeatureError{Name: col}
		}
		std := a.Stds[i]
		if std == 0 {
			std = 1
		}
		y += a.Weights[i] * (v - a.Means[i]) / std
	}
	return y, nil
}

// validate checks the internal consistency of a loaded record.
func (a *Artifact) validate() error {
	if a.Version != ArtifactVersion {
		return &SchemaError{Reason: fmt.Sprintf("version %d, expected %d", a.Version, ArtifactVersion)}
	}
	if len(a.FeatureColumns) == 0 {
		return &SchemaError{Reason: "empty feature column list"}
	}
	if a.TargetColumn == "" {
		return &SchemaError{Reason: "empty target column"}
	}
	n := len(a.FeatureColumns)
	if len(a.Weights) != n || len(a.Means) != n || len(a.Stds) != n {
		return &SchemaError{Reason: fmt.Sprintf(
			"coefficient lengths (%d/%d/%d) do not match %d feature columns",
			len(a.Weights), len(a.Means), len(a.Stds), n)}
	}
	return nil
}

// LoadArtifact reads a persisted artifact, rejecting schema mismatches with
// a typed error.
func LoadArtifact(path string) (*Artifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	var a Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, &SchemaError{Reason: err.Error()}
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Save persists the artifact record.
func (a *Artifact) Save(path string) error {
	raw, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create model dir: %w", err)
		}
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

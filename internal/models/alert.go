package models

import (
	"time"

	"github.com/google/uuid"
)

// PredictionSource distinguishes genuine model output from the heuristic
// fallback estimate used for display only.
type PredictionSource string

const (
	SourceModel     PredictionSource = "model"
	SourceHeuristic PredictionSource = "heuristic"
)

// PredictionResult is the scored value for a single reading. Not persisted;
// consumed by the evaluator and optionally surfaced to dashboard callers.
type PredictionResult struct {
	Sequence       int64            `json:"sequence"`
	PredictedValue float64          `json:"predicted_value"`
	Confidence     float64          `json:"confidence,omitempty"`
	Source         PredictionSource `json:"source"`
}

// AlertEvent is emitted when a prediction crosses the threshold.
// ThresholdAtTime is the settings value read at decision time; the event is
// never re-evaluated against later threshold changes.
type AlertEvent struct {
	ID              string             `json:"id"`
	Sequence        int64              `json:"sequence"`
	PredictedValue  float64            `json:"predicted_value"`
	ThresholdAtTime float64            `json:"threshold_at_time"`
	SensorSnapshot  map[string]float64 `json:"sensor_snapshot"`
	FiredAt         time.Time          `json:"fired_at"`
}

// NewAlertEvent builds an alert event for a scored reading.
func NewAlertEvent(r *SensorReading, predicted, threshold float64) *AlertEvent {
	return &AlertEvent{
		ID:              uuid.NewString(),
		Sequence:        r.Sequence,
		PredictedValue:  predicted,
		ThresholdAtTime: threshold,
		SensorSnapshot:  r.FeatureSnapshot(),
		FiredAt:         time.Now().UTC(),
	}
}

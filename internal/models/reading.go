package models

import (
	"errors"
	"fmt"
	"time"
)

// FeatureColumns is the fixed set of sensor channels required to score a
// reading, in the order the model consumes them.
var FeatureColumns = []string{
	"% Iron Feed",
	"% Silica Feed",
	"Starch Flow",
	"Amina Flow",
	"Ore Pulp Flow",
	"Ore Pulp pH",
	"Ore Pulp Density",
	"Flotation Column 01 Air Flow",
	"Flotation Column 02 Air Flow",
	"Flotation Column 03 Air Flow",
	"Flotation Column 04 Air Flow",
	"Flotation Column 05 Air Flow",
	"Flotation Column 06 Air Flow",
	"Flotation Column 07 Air Flow",
}

// TargetColumn is the downstream quality indicator the model predicts.
const TargetColumn = "% Silica Concentrate"

// Validation errors
var (
	ErrNegativeSequence = errors.New("sequence cannot be negative")
	ErrNoFeatures       = errors.New("reading has no feature data")
	ErrZeroTimestamp    = errors.New("timestamp cannot be zero")
	ErrInvalidTimestamp = errors.New("invalid timestamp format")
)

// MissingFeatureError reports a required sensor channel absent from a reading.
type MissingFeatureError struct {
	Name string
}

func (e *MissingFeatureError) Error() string {
	return fmt.Sprintf("missing required feature: %s", e.Name)
}

// SensorReading is one immutable observation from the flotation process.
// Sequence is assigned by the producer and defines canonical order;
// ReceivedAt is stamped on arrival and drives retention.
type SensorReading struct {
	Sequence   int64              `json:"row_index"`
	ObservedAt time.Time          `json:"timestamp"`
	Features   map[string]float64 `json:"sensor_data"`
	ReceivedAt time.Time          `json:"received_at"`
}

// Validate checks the reading carries every required feature column.
// Extra channels (targets included) are allowed and preserved.
func (r *SensorReading) Validate() error {
	if r.Sequence < 0 {
		return ErrNegativeSequence
	}
	if r.ObservedAt.IsZero() {
		return ErrZeroTimestamp
	}
	if len(r.Features) == 0 {
		return ErrNoFeatures
	}
	for _, col := range FeatureColumns {
		if _, ok := r.Features[col]; !ok {
			return &MissingFeatureError{Name: col}
		}
	}
	return nil
}

// Target returns the observed target channel value, when the producer
// included it in the row.
func (r *SensorReading) Target() (float64, bool) {
	v, ok := r.Features[TargetColumn]
	return v, ok
}

// FeatureSnapshot returns a copy of the feature map, safe to hand to
// consumers that outlive the caller.
func (r *SensorReading) FeatureSnapshot() map[string]float64 {
	snap := make(map[string]float64, len(r.Features))
	for k, v := range r.Features {
		snap[k] = v
	}
	return snap
}

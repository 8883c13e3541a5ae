// Package evaluator drives the per-reading alert decision:
// RECEIVED -> VALIDATED -> SCORED -> {ALERTED | SUPPRESSED | FAILED}.
// Each reading is evaluated exactly once, against the threshold in effect at
// decision time.
package evaluator

import (
	"context"
	"sync"
	"sync/atomic"

	"silicamon/internal/logger"
	"silicamon/internal/metrics"
	"silicamon/internal/models"
	"silicamon/internal/settings"
)

const recentAlertCap = 100

// Outcome is the terminal state of one evaluation.
type Outcome string

const (
	OutcomeAlerted    Outcome = "alerted"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeFailed     Outcome = "failed"
)

// Scorer maps a feature vector to a predicted silica value.
type Scorer interface {
	Predict(features map[string]float64) (float64, error)
}

// Dispatcher delivers a fired alert to the configured recipients.
type Dispatcher interface {
	Dispatch(ctx context.Context, event *models.AlertEvent, recipients []string) int
}

// Stats holds evaluation counters.
type Stats struct {
	Alerted    uint64 `json:"alerted"`
	Suppressed uint64 `json:"suppressed"`
	Failed     uint64 `json:"failed"`
}

// Evaluator scores readings and decides whether to fire alerts.
type Evaluator struct {
	scorer     Scorer
	settings   *settings.Store
	dispatcher Dispatcher

	alerted    atomic.Uint64
	suppressed atomic.Uint64
	failed     atomic.Uint64

	mu     sync.Mutex
	recent []*models.AlertEvent
}

// New builds an evaluator. A nil dispatcher disables delivery; alerts are
// still recorded.
func New(scorer Scorer, st *settings.Store, dispatcher Dispatcher) *Evaluator {
	return &Evaluator{
		scorer:     scorer,
		settings:   st,
		dispatcher: dispatcher,
	}
}

// Evaluate runs the state machine for one reading. Failures are terminal for
// that reading only; the pipeline continues. The returned event is non-nil
// exactly when the outcome is ALERTED, whether or not it was dispatched.
func (e *Evaluator) Evaluate(ctx context.Context, r *models.SensorReading) (Outcome, *models.AlertEvent) {
	log := logger.WithComponent("evaluator").With().Int64("sequence", r.Sequence).Logger()

	// VALIDATED
	if err := r.Validate(); err != nil {
		e.failed.Add(1)
		metrics.EvaluationsTotal.WithLabelValues(string(OutcomeFailed)).Inc()
		log.Warn().Err(err).Msg("reading failed validation, no alert")
		return OutcomeFailed, nil
	}

	// SCORED
	predicted, err := e.scorer.Predict(r.Features)
	if err != nil {
		e.failed.Add(1)
		metrics.EvaluationsTotal.WithLabelValues(string(OutcomeFailed)).Inc()
		log.Warn().Err(err).Msg("scoring failed, no alert")
		return OutcomeFailed, nil
	}

	// Decision: read the threshold at this instant, by value.
	threshold := e.settings.Threshold()
	if predicted <= threshold {
		e.suppressed.Add(1)
		metrics.EvaluationsTotal.WithLabelValues(string(OutcomeSuppressed)).Inc()
		log.Debug().
			Float64("predicted", predicted).
			Float64("threshold", threshold).
			Msg("below threshold, suppressed")
		return OutcomeSuppressed, nil
	}

	event := models.NewAlertEvent(r, predicted, threshold)
	e.alerted.Add(1)
	metrics.EvaluationsTotal.WithLabelValues(string(OutcomeAlerted)).Inc()
	e.record(event)

	log.Warn().
		Float64("predicted", predicted).
		Float64("threshold", threshold).
		Str("alert_id", event.ID).
		Msg("silica prediction above threshold")

	cfg := e.settings.NotificationConfig()
	if !cfg.Enabled || e.dispatcher == nil || len(cfg.Recipients) == 0 {
		// Alert fired but not dispatched; still counted for statistics.
		return OutcomeAlerted, event
	}

	e.dispatcher.Dispatch(ctx, event, cfg.Recipients)
	return OutcomeAlerted, event
}

func (e *Evaluator) record(event *models.AlertEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.recent) >= recentAlertCap {
		e.recent = e.recent[1:]
	}
	e.recent = append(e.recent, event)
}

// RecentAlerts returns a copy of the most recent fired alerts, newest last.
func (e *Evaluator) RecentAlerts() []*models.AlertEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*models.AlertEvent, len(e.recent))
	copy(out, e.recent)
	return out
}

// Stats returns the evaluation counters.
func (e *Evaluator) Stats() Stats {
	return Stats{
		Alerted:    e.alerted.Load(),
		Suppressed: e.suppressed.Load(),
		Failed:     e.failed.Load(),
	}
}

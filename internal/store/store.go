// Package store keeps the bounded retention window of sensor readings.
// The in-memory window is the source of truth for queries and alerting;
// the durable backend is best-effort, so a storage outage degrades
// persistence without ever blocking the alerting path.
package store

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/stat"

	"silicamon/internal/logger"
	"silicamon/internal/metrics"
	"silicamon/internal/models"
)

// OutOfOrderError reports an append whose sequence does not advance past the
// last accepted one. Gaps are tolerated; regression and duplication are not.
type OutOfOrderError struct {
	Last int64
	Got  int64
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("out-of-order append: sequence %d not greater than last %d", e.Got, e.Last)
}

// BackendError wraps a durable backend failure. The reading stays queryable
// from the in-memory window; the caller may retry persistence later.
type BackendError struct {
	Err error
}

func (e *BackendError) Error() string { return fmt.Sprintf("durable backend: %v", e.Err) }
func (e *BackendError) Unwrap() error { return e.Err }

// Backend is the durable side of the reading store. Retention applies to it
// too: the sweeper deletes aged-out points alongside the in-memory eviction.
type Backend interface {
	WriteReading(ctx context.Context, r *models.SensorReading) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) error
	Purge(ctx context.Context) error
	Close()
}

// WindowStats summarizes the target channel over the retained window.
type WindowStats struct {
	Count          int     `json:"count"`
	Mean           float64 `json:"mean"`
	Std            float64 `json:"std"`
	Min            float64 `json:"min"`
	Max            float64 `json:"max"`
	AboveThreshold int     `json:"above_threshold"`
	Percentage     float64 `json:"percentage"`
}

// Store is the append-only retention window. A single ingestion goroutine
// appends; queries and the eviction sweeper run concurrently and see
// copy-on-read snapshots.
type Store struct {
	mu       sync.RWMutex
	readings []*models.SensorReading // ascending by sequence
	lastSeq  int64
	revision int64

	backend  Backend
	degraded atomic.Bool
	maxAge   time.Duration
}

// New creates a store. A nil backend runs memory-only (already degraded).
func New(backend Backend, maxAge time.Duration) *Store {
	s := &Store{
		backend: backend,
		lastSeq: -1,
		maxAge:  maxAge,
	}
	if backend == nil {
		s.degraded.Store(true)
	}
	return s
}

// Append stores a reading and returns the new store revision. The sequence
// must strictly advance past the last accepted one. A durable backend
// failure is returned as a *BackendError after the in-memory window has
// already accepted the reading.
func (s *Store) Append(ctx context.Context, r *models.SensorReading) (int64, error) {
	s.mu.Lock()
	if r.Sequence <= s.lastSeq {
		last := s.lastSeq
		s.mu.Unlock()
		metrics.StoreOutOfOrderTotal.Inc()
		return 0, &OutOfOrderError{Last: last, Got: r.Sequence}
	}

	s.readings = append(s.readings, r)
	s.lastSeq = r.Sequence
	s.revision++
	rev := s.revision

	// Appends arrive in ReceivedAt order, so the retention sweep on the
	// hot path only ever trims a prefix.
	cutoff := time.Now().Add(-s.maxAge)
	evicted := s.evictLocked(cutoff)
	size := len(s.readings)
	s.mu.Unlock()

	metrics.StoreAppendsTotal.Inc()
	metrics.StoreWindowSize.Set(float64(size))
	if evicted > 0 {
		metrics.StoreEvictionsTotal.Add(float64(evicted))
	}

	if s.backend != nil {
		if err := s.backend.WriteReading(ctx, r); err != nil {
			s.degraded.Store(true)
			metrics.StoreBackendFailuresTotal.Inc()
			return rev, &BackendError{Err: err}
		}
		s.degraded.Store(false)
	}
	return rev, nil
}

// Seed loads readings into the window without writing them back to the
// durable backend. Entries that do not advance the sequence are skipped.
// Must be called before ingestion starts.
func (s *Store) Seed(readings []*models.SensorReading) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	loaded := 0
	for _, r := range readings {
		if r.Sequence <= s.lastSeq {
			continue
		}
		s.readings = append(s.readings, r)
		s.lastSeq = r.Sequence
		s.revision++
		loaded++
	}
	metrics.StoreWindowSize.Set(float64(len(s.readings)))
	return loaded
}

// Recent returns up to limit most-recent readings in ascending sequence
// order. The result is a snapshot; eviction never mutates it.
func (s *Store) Recent(limit int) []*models.SensorReading {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.readings)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*models.SensorReading, limit)
	copy(out, s.readings[n-limit:])
	return out
}

// Latest returns the most recent reading, or nil when the window is empty.
func (s *Store) Latest() *models.SensorReading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.readings) == 0 {
		return nil
	}
	return s.readings[len(s.readings)-1]
}

// EvictOlderThan removes readings whose ReceivedAt is strictly older than
// age and returns how many were removed. Eviction ignores sequence
// continuity entirely.
func (s *Store) EvictOlderThan(age time.Duration) int {
	cutoff := time.Now().Add(-age)

	s.mu.Lock()
	evicted := s.evictLocked(cutoff)
	size := len(s.readings)
	s.mu.Unlock()

	metrics.StoreWindowSize.Set(float64(size))
	if evicted > 0 {
		metrics.StoreEvictionsTotal.Add(float64(evicted))
		log := logger.WithComponent("store")
		log.Info().
			Int("evicted", evicted).
			Int("retained", size).
			Msg("retention sweep")
	}
	return evicted
}

func (s *Store) evictLocked(cutoff time.Time) int {
	keep := s.readings[:0:0]
	for _, r := range s.readings {
		if !r.ReceivedAt.Before(cutoff) {
			keep = append(keep, r)
		}
	}
	evicted := len(s.readings) - len(keep)
	if evicted > 0 {
		s.readings = keep
	}
	return evicted
}

// RunSweeper drives periodic eviction until the context is cancelled.
// One sweep runs immediately at startup.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	log := logger.WithComponent("store")
	log.Info().Dur("interval", interval).Dur("max_age", s.maxAge).Msg("retention sweeper started")

	s.sweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("retention sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep evicts aged-out readings from the window and, best-effort, from the
// durable backend.
func (s *Store) sweep(ctx context.Context) {
	s.EvictOlderThan(s.maxAge)

	if s.backend == nil {
		return
	}
	cutoff := time.Now().Add(-s.maxAge)
	if err := s.backend.DeleteOlderThan(ctx, cutoff); err != nil {
		metrics.StoreBackendFailuresTotal.Inc()
		log := logger.WithComponent("store")
		log.Warn().Err(err).
			Time("cutoff", cutoff).
			Msg("durable retention delete failed")
	}
}

// Purge irreversibly clears the window and the durable backend.
func (s *Store) Purge(ctx context.Context) error {
	s.mu.Lock()
	s.readings = nil
	s.revision++
	s.mu.Unlock()
	metrics.StoreWindowSize.Set(0)

	if s.backend != nil {
		if err := s.backend.Purge(ctx); err != nil {
			return &BackendError{Err: err}
		}
	}
	log := logger.WithComponent("store")
	log.Warn().Msg("all reading data purged")
	return nil
}

// Stats computes target-channel statistics over the retained window against
// the given threshold.
func (s *Store) Stats(threshold float64) WindowStats {
	snapshot := s.Recent(0)

	values := make([]float64, 0, len(snapshot))
	above := 0
	for _, r := range snapshot {
		v, ok := r.Target()
		if !ok {
			continue
		}
		values = append(values, v)
		if v > threshold {
			above++
		}
	}

	ws := WindowStats{Count: len(values), AboveThreshold: above}
	if len(values) == 0 {
		return ws
	}

	mean, std := stat.MeanStdDev(values, nil)
	if math.IsNaN(std) {
		std = 0
	}
	ws.Mean, ws.Std = mean, std
	ws.Min, ws.Max = values[0], values[0]
	for _, v := range values[1:] {
		ws.Min = math.Min(ws.Min, v)
		ws.Max = math.Max(ws.Max, v)
	}
	ws.Percentage = float64(above) / float64(len(values)) * 100
	return ws
}

// Len returns the current window size.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.readings)
}

// LastSequence returns the last accepted sequence, or -1 before any append.
func (s *Store) LastSequence() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeq
}

// Revision returns the store revision counter.
func (s *Store) Revision() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// Degraded reports whether the durable backend is unavailable.
func (s *Store) Degraded() bool {
	return s.degraded.Load()
}

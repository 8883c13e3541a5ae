// Package settings owns the mutable alert configuration: the silica
// threshold and the email notification policy. All reads hand out copies;
// writers persist to the durable settings file before the new value becomes
// visible, so the very next evaluator decision sees it.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"silicamon/internal/logger"
)

const (
	// DefaultThreshold is the silica alert threshold used until configured.
	DefaultThreshold = 4.0

	// ThresholdMin and ThresholdMax bound valid threshold values.
	ThresholdMin = 0.0
	ThresholdMax = 10.0
)

// OutOfRangeError reports a threshold outside [ThresholdMin, ThresholdMax].
type OutOfRangeError struct {
	Value float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("threshold %.2f out of range [%.0f, %.0f]", e.Value, ThresholdMin, ThresholdMax)
}

// NotificationConfig is the email alert policy. Recipients keep their
// configured order.
type NotificationConfig struct {
	Enabled    bool     `json:"enabled"`
	Recipients []string `json:"recipients"`
	Frequency  string   `json:"frequency"`
}

// ThresholdConfig is a point-in-time copy of the threshold setting.
type ThresholdConfig struct {
	Threshold   float64   `json:"threshold"`
	LastUpdated time.Time `json:"last_updated"`
}

// Snapshot is a copy of the full settings state for API callers.
type Snapshot struct {
	Threshold   float64            `json:"threshold"`
	Email       NotificationConfig `json:"email"`
	LastUpdated *time.Time         `json:"last_update"`
}

// persisted mirrors the durable settings file layout.
type persisted struct {
	Threshold  float64            `json:"threshold"`
	Email      NotificationConfig `json:"email"`
	LastUpdate *string            `json:"last_update"`
}

// Store holds the current settings with single-writer/multi-reader locking.
type Store struct {
	mu          sync.RWMutex
	path        string
	threshold   float64
	email       NotificationConfig
	lastUpdated time.Time
}

// Load opens the settings file, falling back to defaults when it does not
// exist. A corrupt file is an error; prior valid configuration on disk is
// never overwritten by defaults.
func Load(path string) (*Store, error) {
	log := logger.WithComponent("settings")
	s := &Store{
		path:      path,
		threshold: DefaultThreshold,
		email: NotificationConfig{
			Enabled:    true,
			Recipients: []string{},
			Frequency:  "immediate",
		},
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Info().
			Str("path", path).
			Float64("threshold", s.threshold).
			Msg("no settings file, using defaults")
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var p persisted
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	if p.Threshold < ThresholdMin || p.Threshold > ThresholdMax {
		return nil, &OutOfRangeError{Value: p.Threshold}
	}

	s.threshold = p.Threshold
	s.email = p.Email
	s.email.Recipients = normalizeRecipients(s.email.Recipients)
	if p.LastUpdate != nil {
		if t, err := time.Parse(time.RFC3339, *p.LastUpdate); err == nil {
			s.lastUpdated = t
		}
	}

	log.Info().
		Float64("threshold", s.threshold).
		Bool("email_enabled", s.email.Enabled).
		Int("recipients", len(s.email.Recipients)).
		Msg("settings loaded")
	return s, nil
}

// Threshold returns the current alert threshold.
func (s *Store) Threshold() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold
}

// ThresholdConfig returns a copy of the threshold state.
func (s *Store) ThresholdConfig() ThresholdConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ThresholdConfig{Threshold: s.threshold, LastUpdated: s.lastUpdated}
}

// SetThreshold validates, persists, and publishes a new threshold.
// On persistence failure the in-memory value is left unchanged.
func (s *Store) SetThreshold(value float64) error {
	if value < ThresholdMin || value > ThresholdMax {
		return &OutOfRangeError{Value: value}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, prevAt := s.threshold, s.lastUpdated
	s.threshold = value
	s.lastUpdated = time.Now().UTC()
	if err := s.persistLocked(); err != nil {
		s.threshold, s.lastUpdated = prev, prevAt
		return err
	}

	log := logger.WithComponent("settings")
	log.Info().
		Float64("threshold", value).
		Msg("alert threshold updated")
	return nil
}

// NotificationConfig returns a copy of the email policy.
func (s *Store) NotificationConfig() NotificationConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg := s.email
	cfg.Recipients = append([]string(nil), s.email.Recipients...)
	return cfg
}

// SetNotificationConfig normalizes, persists, and publishes a new email
// policy. Recipients are trimmed, empty entries removed, and duplicates
// dropped keeping the first occurrence; order is kept.
func (s *Store) SetNotificationConfig(cfg NotificationConfig) error {
	cfg.Recipients = normalizeRecipients(cfg.Recipients)
	if cfg.Frequency == "" {
		cfg.Frequency = "immediate"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, prevAt := s.email, s.lastUpdated
	s.email = cfg
	s.lastUpdated = time.Now().UTC()
	if err := s.persistLocked(); err != nil {
		s.email, s.lastUpdated = prev, prevAt
		return err
	}

	log := logger.WithComponent("settings")
	log.Info().
		Bool("enabled", cfg.Enabled).
		Int("recipients", len(cfg.Recipients)).
		Str("frequency", cfg.Frequency).
		Msg("notification config updated")
	return nil
}

// Snapshot returns a copy of the full settings state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Threshold: s.threshold,
		Email:     s.email,
	}
	snap.Email.Recipients = append([]string(nil), s.email.Recipients...)
	if !s.lastUpdated.IsZero() {
		t := s.lastUpdated
		snap.LastUpdated = &t
	}
	return snap
}

func (s *Store) persistLocked() error {
	p := persisted{
		Threshold: s.threshold,
		Email:     s.email,
	}
	if !s.lastUpdated.IsZero() {
		ts := s.lastUpdated.Format(time.RFC3339)
		p.LastUpdate = &ts
	}

	raw, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

func normalizeRecipients(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Package settings holds the process-wide verification tuning parameters.
// The store is injected rather than kept as ambient state so tests can run
// isolated configurations in parallel.
package settings

import "sync"

const (
	// DefaultTolerance is the maximum embedding distance below which two
	// faces count as the same identity. Lower is stricter.
	DefaultTolerance = 0.6

	// DefaultConfidenceThreshold mirrors the tolerance default.
	DefaultConfidenceThreshold = 0.6
)

// Config is a point-in-time snapshot of the tuning parameters. Cross-field
// consistency is not guaranteed under concurrent updates; readers take one
// snapshot at the start of a comparison and never re-read.
type Config struct {
	Tolerance           float64 `json:"tolerance"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

// Update carries the fields of a partial configuration change. Nil means
// "leave unchanged".
type Update struct {
	Tolerance           *float64 `json:"tolerance"`
	ConfidenceThreshold *float64 `json:"confidence_threshold"`
}

// RangeError reports a tuning value outside [0, 1].
type RangeError struct {
	Field string
	Value float64
}

func (e *RangeError) Error() string {
	switch e.Field {
	case "tolerance":
		return "Tolerance must be between 0.0 and 1.0"
	default:
		return "Confidence threshold must be between 0.0 and 1.0"
	}
}

// Store is a thread-safe configuration store. Values do not persist across
// restarts.
type Store struct {
	mu  sync.RWMutex
	cfg Config
}

// NewStore returns a store seeded with the default parameters.
func NewStore() *Store {
	return &Store{cfg: Config{
		Tolerance:           DefaultTolerance,
		ConfidenceThreshold: DefaultConfidenceThreshold,
	}}
}

// NewStoreWith returns a store seeded with explicit values, validated the
// same way as Apply.
func NewStoreWith(tolerance, confidenceThreshold float64) (*Store, error) {
	s := NewStore()
	if _, err := s.Apply(Update{
		Tolerance:           &tolerance,
		ConfidenceThreshold: &confidenceThreshold,
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot returns the current configuration.
func (s *Store) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Tolerance returns the current match tolerance.
func (s *Store) Tolerance() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Tolerance
}

// ConfidenceThreshold returns the current confidence threshold.
func (s *Store) ConfidenceThreshold() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.ConfidenceThreshold
}

// Apply validates and applies each provided field independently, in declared
// order: tolerance first, then confidence threshold. The first out-of-range
// field aborts with a RangeError; a sibling field already applied in the same
// call stays applied. Returns the configuration after the call.
func (s *Store) Apply(u Update) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.Tolerance != nil {
		if err := checkRange("tolerance", *u.Tolerance); err != nil {
			return s.cfg, err
		}
		s.cfg.Tolerance = *u.Tolerance
	}
	if u.ConfidenceThreshold != nil {
		if err := checkRange("confidence_threshold", *u.ConfidenceThreshold); err != nil {
			return s.cfg, err
		}
		s.cfg.ConfidenceThreshold = *u.ConfidenceThreshold
	}
	return s.cfg, nil
}

func checkRange(field string, value float64) error {
	if value < 0.0 || value > 1.0 {
		return &RangeError{Field: field, Value: value}
	}
	return nil
}

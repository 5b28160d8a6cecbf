// Package store holds the latest sensor reading and a bounded history of
// readings the change policy accepted.
//
// A Store is created once at process start and injected into whatever needs
// it; there is no package-level instance. Record is the only mutating
// operation and is serialized by a write lock. Latest and History take the
// read lock and always return copies.
package store

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"climatecloud/internal/modules/climate/policy"
	"climatecloud/internal/modules/climate/types"
)

const (
	DefaultCapacity     = 500
	DefaultHistoryLimit = 200
	DefaultSourceID     = "esp32-s3"
)

// ErrInvalidReading is returned by Record when a candidate holds a
// non-finite value. Nothing is mutated when it is returned.
var ErrInvalidReading = errors.New("invalid reading")

type Options struct {
	// Capacity is the maximum number of history entries (N).
	Capacity int
	// DefaultLimit is the number of entries RecentHistory returns. It must
	// not exceed Capacity.
	DefaultLimit int
	// Policy nil means policy.DefaultThresholds().
	Policy *policy.Policy
	// DefaultSourceID is used when a candidate has no SourceID.
	DefaultSourceID string
	Now             func() time.Time
}

// RecordResult describes what Record did with an accepted reading.
type RecordResult struct {
	Accepted bool
	Changed  bool
	Kind     types.ChangeKind
	Latest   types.Reading
	// Previous is the latest reading before this call, nil on the first record.
	Previous         *types.Reading
	DeltaTemperature float64
	DeltaHumidity    float64
	// Evicted is true when appending to history pushed out the oldest entry.
	Evicted bool
	// HistoryLen is the history size after this call.
	HistoryLen int
}

type Store struct {
	mu           sync.RWMutex
	latest       types.Reading
	hasLatest    bool
	history      *history
	policy       policy.Policy
	defaultLimit int
	sourceID     string
	now          func() time.Time
}

func New(opts Options) (*Store, error) {
	if opts.Capacity == 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Capacity < 0 {
		return nil, fmt.Errorf("history capacity must be positive, got %d", opts.Capacity)
	}
	if opts.DefaultLimit == 0 {
		opts.DefaultLimit = min(DefaultHistoryLimit, opts.Capacity)
	}
	if opts.DefaultLimit < 0 || opts.DefaultLimit > opts.Capacity {
		return nil, fmt.Errorf("default history limit must be in 1..%d, got %d", opts.Capacity, opts.DefaultLimit)
	}
	var pol policy.Policy
	if opts.Policy == nil {
		var err error
		if pol, err = policy.New(policy.DefaultThresholds()); err != nil {
			return nil, err
		}
	} else {
		pol = *opts.Policy
		if err := pol.Thresholds().Validate(); err != nil {
			return nil, err
		}
	}
	sourceID := strings.TrimSpace(opts.DefaultSourceID)
	if sourceID == "" {
		sourceID = DefaultSourceID
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Store{
		history:      newHistory(opts.Capacity),
		policy:       pol,
		defaultLimit: opts.DefaultLimit,
		sourceID:     sourceID,
		now:          now,
	}, nil
}

// Record validates candidate, stamps it and makes it the latest reading. It
// is appended to history only when the policy reports a change.
func (s *Store) Record(candidate types.Reading) (RecordResult, error) {
	if err := validate(candidate); err != nil {
		return RecordResult{}, err
	}
	candidate.SourceID = strings.TrimSpace(candidate.SourceID)
	if candidate.SourceID == "" {
		candidate.SourceID = s.sourceID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().UTC()
	var previous *types.Reading
	if s.hasLatest {
		prev := s.latest
		previous = &prev
		// Keep history ordering non-decreasing if the wall clock steps back.
		if ts.Before(prev.RecordedAt) {
			ts = prev.RecordedAt
		}
	}
	candidate.RecordedAt = ts

	d := s.policy.Evaluate(previous, candidate)

	s.latest = candidate
	s.hasLatest = true

	res := RecordResult{
		Accepted:         true,
		Changed:          d.Changed,
		Kind:             d.Kind,
		Latest:           candidate,
		Previous:         previous,
		DeltaTemperature: d.DeltaTemperature,
		DeltaHumidity:    d.DeltaHumidity,
	}
	if d.Changed {
		res.Evicted = s.history.push(candidate)
	}
	res.HistoryLen = s.history.len()
	return res, nil
}

// Latest returns the most recent reading. ok is false until the first
// successful Record.
func (s *Store) Latest() (r types.Reading, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.hasLatest
}

// History returns up to limit of the most recent changed readings,
// oldest-first. A non-positive limit yields an empty slice.
func (s *Store) History(limit int) []types.Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.lastN(limit)
}

// RecentHistory is History with the configured default limit.
func (s *Store) RecentHistory() []types.Reading {
	return s.History(s.defaultLimit)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.len()
}

func (s *Store) Capacity() int {
	return len(s.history.buf)
}

func (s *Store) DefaultLimit() int {
	return s.defaultLimit
}

func validate(r types.Reading) error {
	if math.IsNaN(r.Temperature) || math.IsInf(r.Temperature, 0) {
		return fmt.Errorf("%w: temperature must be a finite number, got %v", ErrInvalidReading, r.Temperature)
	}
	if math.IsNaN(r.Humidity) || math.IsInf(r.Humidity, 0) {
		return fmt.Errorf("%w: humidity must be a finite number, got %v", ErrInvalidReading, r.Humidity)
	}
	return nil
}

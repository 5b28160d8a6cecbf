package store

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"climatecloud/internal/modules/climate/policy"
	"climatecloud/internal/modules/climate/types"
)

func newTestStore(t *testing.T, capacity int) *Store {
	t.Helper()
	p, err := policy.New(policy.DefaultThresholds())
	if err != nil {
		t.Fatalf("policy.New: %v", err)
	}
	s, err := New(Options{Capacity: capacity, DefaultLimit: min(capacity, 2), Policy: &p})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func mustRecord(t *testing.T, s *Store, temperature, humidity float64) RecordResult {
	t.Helper()
	res, err := s.Record(types.Reading{Temperature: temperature, Humidity: humidity})
	if err != nil {
		t.Fatalf("Record(%v, %v): %v", temperature, humidity, err)
	}
	return res
}

func temperatures(rs []types.Reading) []float64 {
	out := make([]float64, len(rs))
	for i, r := range rs {
		out[i] = r.Temperature
	}
	return out
}

func equalFloats(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNew_validation(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{name: "negative capacity", opts: Options{Capacity: -1}},
		{name: "limit above capacity", opts: Options{Capacity: 10, DefaultLimit: 11}},
		{name: "negative limit", opts: Options{Capacity: 10, DefaultLimit: -5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Fatal("New() error = nil, want non-nil")
			}
		})
	}
}

func TestNew_defaults(t *testing.T) {
	s, err := New(Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Capacity() != DefaultCapacity {
		t.Errorf("Capacity() = %d, want %d", s.Capacity(), DefaultCapacity)
	}
	if s.DefaultLimit() != DefaultHistoryLimit {
		t.Errorf("DefaultLimit() = %d, want %d", s.DefaultLimit(), DefaultHistoryLimit)
	}

	small, err := New(Options{Capacity: 50})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if small.DefaultLimit() != 50 {
		t.Errorf("DefaultLimit() with capacity 50 = %d, want 50", small.DefaultLimit())
	}
}

func TestNew_nilPolicyUsesDefaultThresholds(t *testing.T) {
	s, err := New(Options{Capacity: 10})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	mustRecord(t, s, 20.0, 50.0)

	res := mustRecord(t, s, 20.05, 50.05)
	if res.Changed || res.Kind != types.ChangeNone {
		t.Fatalf("result = %+v, want unchanged within 0.1", res)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestNew_explicitZeroThresholdRecordsAnyDifference(t *testing.T) {
	p, err := policy.New(policy.Thresholds{})
	if err != nil {
		t.Fatalf("policy.New: %v", err)
	}
	s, err := New(Options{Capacity: 10, Policy: &p})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	mustRecord(t, s, 20.0, 50.0)

	if res := mustRecord(t, s, 20.05, 50.0); !res.Changed {
		t.Fatal("Changed = false with zero threshold, want true")
	}
	if res := mustRecord(t, s, 20.05, 50.0); res.Changed {
		t.Fatal("Changed = true for identical values, want false")
	}
}

func TestLatest_emptyBeforeFirstRecord(t *testing.T) {
	s := newTestStore(t, 3)

	if _, ok := s.Latest(); ok {
		t.Fatal("Latest() ok = true before any record, want false")
	}
	if got := s.History(10); len(got) != 0 {
		t.Fatalf("History(10) len = %d, want 0", len(got))
	}
}

func TestRecord_firstReadingIsChanged(t *testing.T) {
	s := newTestStore(t, 3)

	res := mustRecord(t, s, 20, 50)
	if !res.Accepted || !res.Changed {
		t.Fatalf("result = %+v, want accepted and changed", res)
	}
	if res.Kind != types.ChangeFirst {
		t.Errorf("Kind = %q, want %q", res.Kind, types.ChangeFirst)
	}
	if res.Previous != nil {
		t.Errorf("Previous = %+v, want nil", res.Previous)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestRecord_withinThresholdUpdatesLatestOnly(t *testing.T) {
	s := newTestStore(t, 3)
	mustRecord(t, s, 20.0, 50.0)

	res := mustRecord(t, s, 20.05, 50.05)
	if res.Changed {
		t.Fatal("Changed = true, want false within default threshold")
	}
	latest, ok := s.Latest()
	if !ok {
		t.Fatal("Latest() ok = false")
	}
	if latest.Temperature != 20.05 || latest.Humidity != 50.05 {
		t.Errorf("Latest() = %+v, want 20.05/50.05", latest)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestRecord_thresholdCrossingAppends(t *testing.T) {
	s := newTestStore(t, 3)
	mustRecord(t, s, 20.0, 50.0)

	res := mustRecord(t, s, 20.2, 50.0)
	if !res.Changed {
		t.Fatal("Changed = false, want true")
	}
	if res.Kind != types.ChangeTemperature {
		t.Errorf("Kind = %q, want %q", res.Kind, types.ChangeTemperature)
	}
	if res.Previous == nil || res.Previous.Temperature != 20.0 {
		t.Errorf("Previous = %+v, want temperature 20.0", res.Previous)
	}
	h := s.History(10)
	if len(h) != 2 {
		t.Fatalf("History len = %d, want 2", len(h))
	}
	if h[1].Temperature != 20.2 {
		t.Errorf("appended temperature = %v, want 20.2", h[1].Temperature)
	}
}

func TestRecord_evictsOldestFirst(t *testing.T) {
	s := newTestStore(t, 3)

	var evictions int
	for _, temp := range []float64{10, 11, 12, 13} {
		if mustRecord(t, s, temp, 50).Evicted {
			evictions++
		}
	}

	got := temperatures(s.History(10))
	if want := []float64{11, 12, 13}; !equalFloats(got, want) {
		t.Fatalf("history temperatures = %v, want %v", got, want)
	}
	if evictions != 1 {
		t.Errorf("evictions = %d, want 1", evictions)
	}
}

func TestRecord_boundHoldsAfterEveryCall(t *testing.T) {
	s := newTestStore(t, 5)
	for i := 0; i < 50; i++ {
		mustRecord(t, s, float64(i), 50)
		if s.Len() > s.Capacity() {
			t.Fatalf("after %d records Len() = %d > capacity %d", i+1, s.Len(), s.Capacity())
		}
	}
}

func TestRecord_invalidReadingDoesNotMutate(t *testing.T) {
	s := newTestStore(t, 3)
	mustRecord(t, s, 20, 50)
	before, _ := s.Latest()

	tests := []struct {
		name string
		in   types.Reading
	}{
		{name: "NaN temperature", in: types.Reading{Temperature: math.NaN(), Humidity: 50}},
		{name: "NaN humidity", in: types.Reading{Temperature: 20, Humidity: math.NaN()}},
		{name: "+Inf temperature", in: types.Reading{Temperature: math.Inf(1), Humidity: 50}},
		{name: "-Inf humidity", in: types.Reading{Temperature: 20, Humidity: math.Inf(-1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Record(tt.in)
			if !errors.Is(err, ErrInvalidReading) {
				t.Fatalf("Record() error = %v, want ErrInvalidReading", err)
			}
			after, _ := s.Latest()
			if after != before {
				t.Errorf("Latest() changed to %+v after invalid record", after)
			}
			if s.Len() != 1 {
				t.Errorf("Len() = %d, want 1", s.Len())
			}
		})
	}
}

func TestRecord_assignsTimestampAndSource(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := New(Options{Capacity: 3, Now: func() time.Time { return fixed }})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	supplied := time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)
	res, err := s.Record(types.Reading{Temperature: 1, Humidity: 2, RecordedAt: supplied})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !res.Latest.RecordedAt.Equal(fixed) {
		t.Errorf("RecordedAt = %v, want %v", res.Latest.RecordedAt, fixed)
	}
	if res.Latest.SourceID != DefaultSourceID {
		t.Errorf("SourceID = %q, want %q", res.Latest.SourceID, DefaultSourceID)
	}

	res, err = s.Record(types.Reading{Temperature: 5, Humidity: 2, SourceID: "  balcony "})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if res.Latest.SourceID != "balcony" {
		t.Errorf("SourceID = %q, want %q", res.Latest.SourceID, "balcony")
	}
}

func TestRecord_timestampsNeverGoBackwards(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := []time.Time{base, base.Add(-time.Minute), base.Add(time.Minute)}
	var i int
	s, err := New(Options{Capacity: 5, Now: func() time.Time {
		ts := clock[i]
		i++
		return ts
	}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, temp := range []float64{1, 2, 3} {
		if _, err := s.Record(types.Reading{Temperature: temp, Humidity: 0}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	h := s.History(5)
	for j := 1; j < len(h); j++ {
		if h[j].RecordedAt.Before(h[j-1].RecordedAt) {
			t.Fatalf("history[%d].RecordedAt %v before history[%d] %v", j, h[j].RecordedAt, j-1, h[j-1].RecordedAt)
		}
	}
}

func TestHistory_limits(t *testing.T) {
	s := newTestStore(t, 5)
	for _, temp := range []float64{1, 2, 3, 4} {
		mustRecord(t, s, temp, 0)
	}

	tests := []struct {
		name  string
		limit int
		want  []float64
	}{
		{name: "zero", limit: 0, want: []float64{}},
		{name: "negative", limit: -3, want: []float64{}},
		{name: "smaller than len", limit: 2, want: []float64{3, 4}},
		{name: "equal to len", limit: 4, want: []float64{1, 2, 3, 4}},
		{name: "larger than len", limit: 100, want: []float64{1, 2, 3, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.History(tt.limit)
			if got == nil {
				t.Fatal("History() = nil, want non-nil slice")
			}
			if !equalFloats(temperatures(got), tt.want) {
				t.Errorf("History(%d) = %v, want %v", tt.limit, temperatures(got), tt.want)
			}
		})
	}

	if got := temperatures(s.RecentHistory()); !equalFloats(got, []float64{3, 4}) {
		t.Errorf("RecentHistory() = %v, want [3 4]", got)
	}
}

func TestHistory_returnsCopy(t *testing.T) {
	s := newTestStore(t, 3)
	mustRecord(t, s, 1, 1)

	h := s.History(1)
	h[0].Temperature = 999

	if got := s.History(1)[0].Temperature; got != 1 {
		t.Errorf("stored temperature = %v after mutating returned slice, want 1", got)
	}
}

func TestRecord_concurrentWriters(t *testing.T) {
	const (
		capacity = 64
		writers  = 16
		perG     = 50
	)
	s := newTestStore(t, capacity)

	var wg sync.WaitGroup
	var mu sync.Mutex
	changed := 0
	for g := 0; g < writers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				// Distinct values spaced far beyond the threshold.
				temp := float64(g*perG+i) * 10
				res, err := s.Record(types.Reading{Temperature: temp, Humidity: 50})
				if err != nil {
					t.Errorf("Record: %v", err)
					return
				}
				if res.Changed {
					mu.Lock()
					changed++
					mu.Unlock()
				}
				_ = s.History(capacity)
				_, _ = s.Latest()
			}
		}(g)
	}
	wg.Wait()

	if changed != writers*perG {
		t.Fatalf("changed = %d, want %d", changed, writers*perG)
	}
	h := s.History(capacity * 2)
	if len(h) != capacity {
		t.Fatalf("history len = %d, want %d", len(h), capacity)
	}
	seen := make(map[float64]bool, len(h))
	for _, r := range h {
		if seen[r.Temperature] {
			t.Fatalf("duplicate history entry %v", r.Temperature)
		}
		seen[r.Temperature] = true
	}
}

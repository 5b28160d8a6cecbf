package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"climatecloud/internal/metrics"
	"climatecloud/internal/modules/climate/policy"
	"climatecloud/internal/modules/climate/repository"
	"climatecloud/internal/modules/climate/store"
	"climatecloud/internal/modules/climate/types"
	"climatecloud/internal/mqtt"
)

type fakePersistence struct {
	mu       sync.Mutex
	readings []types.Reading
	changes  []types.Change
	saveErr  error
	saves    int

	// started receives once per Save call when set; Save then waits on release.
	started chan struct{}
	release chan struct{}
}

func (f *fakePersistence) Save(ctx context.Context, r types.Reading) error {
	if f.started != nil {
		f.started <- struct{}{}
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.readings = append(f.readings, r)
	return nil
}

func (f *fakePersistence) SaveChange(_ context.Context, c types.Change) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, c)
	return nil
}

func (f *fakePersistence) Query(_ context.Context, limit int) ([]types.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > len(f.readings) {
		limit = len(f.readings)
	}
	return append([]types.Reading(nil), f.readings[len(f.readings)-limit:]...), nil
}

type fakeSink struct {
	mu      sync.Mutex
	changes []types.Change
}

func (s *fakeSink) Publish(_ context.Context, c types.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, c)
	return nil
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	pol, err := policy.New(policy.DefaultThresholds())
	if err != nil {
		t.Fatalf("policy.New: %v", err)
	}
	st, err := store.New(store.Options{Capacity: 10, Policy: &pol})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return st
}

func closePersister(t *testing.T, p *Persister) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestRecord_PersistsReadingsAndChanges(t *testing.T) {
	backend := &fakePersistence{}
	sink := &fakeSink{}
	m := metrics.New(prometheus.NewRegistry())
	p := NewPersister(PersisterOptions{Backend: backend, Sink: sink, Metrics: m})
	svc := NewService(Options{Store: newStore(t), Persister: p, Durable: backend, Metrics: m})

	ctx := context.Background()
	for _, r := range []types.Reading{
		{Temperature: 20, Humidity: 40},
		{Temperature: 20.05, Humidity: 40},
		{Temperature: 21, Humidity: 40},
	} {
		if _, err := svc.Record(ctx, TransportHTTP, r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	closePersister(t, p)

	if len(backend.readings) != 3 {
		t.Fatalf("saved %d readings, want 3", len(backend.readings))
	}
	if len(backend.changes) != 2 {
		t.Fatalf("saved %d changes, want 2", len(backend.changes))
	}
	first, second := backend.changes[0], backend.changes[1]
	if first.Kind != types.ChangeFirst || first.Previous != nil {
		t.Errorf("first change = %+v", first)
	}
	if second.Kind != types.ChangeTemperature || second.Previous == nil || second.Previous.Temperature != 20.05 {
		t.Errorf("second change = %+v", second)
	}
	if first.ID == "" || first.ID == second.ID {
		t.Errorf("change ids %q/%q must be unique and non-empty", first.ID, second.ID)
	}
	if len(sink.changes) != 2 {
		t.Errorf("sink got %d changes, want 2", len(sink.changes))
	}
	if got := testutil.ToFloat64(m.ReadingsRecorded.WithLabelValues("true")); got != 2 {
		t.Errorf("recorded{changed=true} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ChangeEvents.WithLabelValues("ok")); got != 2 {
		t.Errorf("change events ok = %v, want 2", got)
	}
}

func TestRecord_PersistenceFailureDoesNotFailRecord(t *testing.T) {
	backend := &fakePersistence{saveErr: errors.New("disk I/O error")}
	m := metrics.New(prometheus.NewRegistry())
	p := NewPersister(PersisterOptions{Backend: backend, MaxAttempts: 3, Backoff: time.Millisecond, Metrics: m})
	svc := NewService(Options{Store: newStore(t), Persister: p, Metrics: m})

	res, err := svc.Record(context.Background(), TransportHTTP, types.Reading{Temperature: 1, Humidity: 2})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !res.Accepted || !res.Changed {
		t.Fatalf("result = %+v, want accepted and changed", res)
	}
	closePersister(t, p)

	if backend.saves != 3 {
		t.Errorf("Save attempts = %d, want 3", backend.saves)
	}
	if got := testutil.ToFloat64(m.PersistenceFailures.WithLabelValues("save", "write_failed")); got != 1 {
		t.Errorf("failures{save,write_failed} = %v, want 1", got)
	}
	if latest, ok := svc.Latest(); !ok || latest.Temperature != 1 {
		t.Errorf("Latest = %+v, %v", latest, ok)
	}
}

func TestRecord_QueueFullDropsDurableWriteOnly(t *testing.T) {
	backend := &fakePersistence{started: make(chan struct{}, 1), release: make(chan struct{})}
	m := metrics.New(prometheus.NewRegistry())
	p := NewPersister(PersisterOptions{Backend: backend, QueueSize: 1, WriteTimeout: 5 * time.Second, Metrics: m})
	svc := NewService(Options{Store: newStore(t), Persister: p, Metrics: m})
	ctx := context.Background()

	if _, err := svc.Record(ctx, TransportHTTP, types.Reading{Temperature: 1, Humidity: 1}); err != nil {
		t.Fatalf("Record 1: %v", err)
	}
	<-backend.started // worker holds job 1

	if _, err := svc.Record(ctx, TransportHTTP, types.Reading{Temperature: 2, Humidity: 1}); err != nil {
		t.Fatalf("Record 2: %v", err)
	}
	// queue holds job 2, so job 3 is dropped
	if _, err := svc.Record(ctx, TransportHTTP, types.Reading{Temperature: 3, Humidity: 1}); err != nil {
		t.Fatalf("Record 3 must succeed even with a full queue: %v", err)
	}
	if got := testutil.ToFloat64(m.PersistenceFailures.WithLabelValues("enqueue", "queue_full")); got != 1 {
		t.Errorf("failures{enqueue,queue_full} = %v, want 1", got)
	}
	if got := svc.History(10); len(got) != 3 {
		t.Errorf("History has %d entries, want 3", len(got))
	}

	go func() {
		for range backend.started {
		}
	}()
	close(backend.release)
	closePersister(t, p)
	close(backend.started)

	if len(backend.readings) != 2 {
		t.Errorf("saved %d readings, want 2", len(backend.readings))
	}
}

func TestPersister_EnqueueAfterClose(t *testing.T) {
	p := NewPersister(PersisterOptions{Backend: &fakePersistence{}})
	closePersister(t, p)
	closePersister(t, p)

	err := p.Enqueue(types.Reading{}, nil)
	if !errors.Is(err, repository.ErrPersistenceUnavailable) {
		t.Fatalf("Enqueue after Close = %v, want ErrPersistenceUnavailable", err)
	}
}

func TestRecord_Invalid(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	svc := NewService(Options{Store: newStore(t), Metrics: m})

	_, err := svc.Record(context.Background(), TransportMQTT, types.Reading{Temperature: math.NaN(), Humidity: 1})
	if !errors.Is(err, store.ErrInvalidReading) {
		t.Fatalf("Record(NaN) error = %v, want ErrInvalidReading", err)
	}
	if got := testutil.ToFloat64(m.ReadingsInvalid.WithLabelValues("mqtt")); got != 1 {
		t.Errorf("invalid{mqtt} = %v, want 1", got)
	}
	if _, ok := svc.Latest(); ok {
		t.Error("invalid reading must not set latest")
	}
}

func TestQuery(t *testing.T) {
	svc := NewService(Options{Store: newStore(t)})
	if svc.HasDurable() {
		t.Fatal("HasDurable = true without a backend")
	}
	if _, err := svc.Query(context.Background(), 5); !errors.Is(err, repository.ErrPersistenceUnavailable) {
		t.Fatalf("Query without backend = %v, want ErrPersistenceUnavailable", err)
	}

	backend := &fakePersistence{readings: []types.Reading{{Temperature: 1}, {Temperature: 2}, {Temperature: 3}}}
	svc = NewService(Options{Store: newStore(t), Durable: backend})
	got, err := svc.Query(context.Background(), 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 || got[0].Temperature != 2 || got[1].Temperature != 3 {
		t.Fatalf("Query = %+v", got)
	}
}

type fakeChangeLog struct {
	fakePersistence
	gotLimit int
}

func (f *fakeChangeLog) QueryChanges(_ context.Context, limit int) ([]types.Change, error) {
	f.gotLimit = limit
	return []types.Change{{ID: "c-1", Kind: types.ChangeFirst}}, nil
}

func TestQueryChanges(t *testing.T) {
	ctx := context.Background()

	svc := NewService(Options{Store: newStore(t)})
	if _, err := svc.QueryChanges(ctx, 5); !errors.Is(err, repository.ErrPersistenceUnavailable) {
		t.Fatalf("QueryChanges without backend = %v, want ErrPersistenceUnavailable", err)
	}

	svc = NewService(Options{Store: newStore(t), Durable: &fakePersistence{}})
	if _, err := svc.QueryChanges(ctx, 5); !errors.Is(err, repository.ErrPersistenceUnavailable) {
		t.Fatalf("QueryChanges on backend without change log = %v, want ErrPersistenceUnavailable", err)
	}

	log := &fakeChangeLog{}
	svc = NewService(Options{Store: newStore(t), Durable: log})
	got, err := svc.QueryChanges(ctx, 5)
	if err != nil {
		t.Fatalf("QueryChanges: %v", err)
	}
	if len(got) != 1 || got[0].ID != "c-1" || log.gotLimit != 5 {
		t.Fatalf("QueryChanges = %+v (limit %d)", got, log.gotLimit)
	}
}

type fakeSubscriber struct {
	onMessage mqtt.MessageHandler
	onInvalid mqtt.InvalidHandler
}

func (f *fakeSubscriber) SetMessageHandler(h mqtt.MessageHandler) { f.onMessage = h }
func (f *fakeSubscriber) SetInvalidHandler(h mqtt.InvalidHandler) { f.onInvalid = h }

func TestRegisterMQTT(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	svc := NewService(Options{Store: newStore(t), Metrics: m})
	sub := &fakeSubscriber{}
	svc.RegisterMQTT(sub)

	if sub.onMessage == nil || sub.onInvalid == nil {
		t.Fatal("handlers not registered")
	}
	if err := sub.onMessage(types.Reading{Temperature: 22, Humidity: 50, SourceID: "attic"}); err != nil {
		t.Fatalf("message handler: %v", err)
	}
	latest, ok := svc.Latest()
	if !ok || latest.SourceID != "attic" {
		t.Fatalf("Latest = %+v, %v", latest, ok)
	}

	sub.onInvalid("climate/attic/readings", store.ErrInvalidReading)
	if got := testutil.ToFloat64(m.ReadingsInvalid.WithLabelValues("mqtt")); got != 1 {
		t.Errorf("invalid{mqtt} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ReadingsReceived.WithLabelValues("mqtt")); got != 2 {
		t.Errorf("received{mqtt} = %v, want 2", got)
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"climatecloud/internal/metrics"
	"climatecloud/internal/modules/climate/repository"
	"climatecloud/internal/modules/climate/store"
	"climatecloud/internal/modules/climate/types"
	"climatecloud/internal/mqtt"
)

const (
	TransportHTTP = "http"
	TransportMQTT = "mqtt"
)

type Options struct {
	Store *store.Store
	// Persister is nil when nothing durable is configured.
	Persister *Persister
	// Durable answers Query; nil means no durable backend.
	Durable repository.Persistence
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type Service struct {
	store     *store.Store
	persister *Persister
	durable   repository.Persistence
	metrics   *metrics.Metrics
	logger    *slog.Logger
	newID     func() string
}

func NewService(opts Options) *Service {
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(prometheus.NewRegistry())
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		store:     opts.Store,
		persister: opts.Persister,
		durable:   opts.Durable,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		newID:     uuid.NewString,
	}
}

// Record offers a reading that arrived over transport to the store. The
// result is decided by the store alone; durable writes happen later and
// their failures are only logged and counted.
func (s *Service) Record(ctx context.Context, transport string, r types.Reading) (store.RecordResult, error) {
	s.metrics.RecordReceived(transport)

	res, err := s.store.Record(r)
	if err != nil {
		if errors.Is(err, store.ErrInvalidReading) {
			s.metrics.RecordInvalid(transport)
		}
		return store.RecordResult{}, err
	}
	s.metrics.RecordAccepted(res.Changed, res.Evicted, res.HistoryLen)

	s.logger.DebugContext(ctx, "reading recorded",
		"transport", transport,
		"source_id", res.Latest.SourceID,
		"changed", res.Changed,
		"kind", res.Kind,
	)

	if s.persister != nil {
		var change *types.Change
		if res.Changed {
			change = &types.Change{
				ID:               s.newID(),
				Kind:             res.Kind,
				Current:          res.Latest,
				Previous:         res.Previous,
				DeltaTemperature: res.DeltaTemperature,
				DeltaHumidity:    res.DeltaHumidity,
			}
		}
		if err := s.persister.Enqueue(res.Latest, change); err != nil {
			s.logger.WarnContext(ctx, "reading not persisted", "source_id", res.Latest.SourceID, "error", err)
		}
	}
	return res, nil
}

// RecordInvalid counts a payload that never reached the store.
func (s *Service) RecordInvalid(transport string) {
	s.metrics.RecordReceived(transport)
	s.metrics.RecordInvalid(transport)
}

func (s *Service) Latest() (types.Reading, bool) {
	return s.store.Latest()
}

func (s *Service) History(limit int) []types.Reading {
	return s.store.History(limit)
}

func (s *Service) Capacity() int {
	return s.store.Capacity()
}

func (s *Service) DefaultLimit() int {
	return s.store.DefaultLimit()
}

// HasDurable reports whether Query can be answered.
func (s *Service) HasDurable() bool {
	return s.durable != nil
}

// Query reads the most recent limit readings from the durable backend,
// oldest-first.
func (s *Service) Query(ctx context.Context, limit int) ([]types.Reading, error) {
	if s.durable == nil {
		return nil, fmt.Errorf("%w: no durable backend configured", repository.ErrPersistenceUnavailable)
	}
	return s.durable.Query(ctx, limit)
}

// QueryChanges reads the most recent limit change records, oldest-first.
// Backends that keep no change log answer ErrPersistenceUnavailable.
func (s *Service) QueryChanges(ctx context.Context, limit int) ([]types.Change, error) {
	reader, ok := s.durable.(repository.ChangeReader)
	if !ok {
		return nil, fmt.Errorf("%w: no change log configured", repository.ErrPersistenceUnavailable)
	}
	return reader.QueryChanges(ctx, limit)
}

// RegisterMQTT routes readings from the subscriber into Record.
func (s *Service) RegisterMQTT(sub mqtt.MQTTSubscriber) {
	sub.SetMessageHandler(func(r types.Reading) error {
		_, err := s.Record(context.Background(), TransportMQTT, r)
		return err
	})
	sub.SetInvalidHandler(func(topic string, err error) {
		s.RecordInvalid(TransportMQTT)
	})
}

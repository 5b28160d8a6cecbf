package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"climatecloud/internal/metrics"
	"climatecloud/internal/modules/climate/repository"
	"climatecloud/internal/modules/climate/types"
)

// ChangeSink receives every change record after it was handed to the
// durable backend. Implemented by kafkaio.ChangePublisher.
type ChangeSink interface {
	Publish(ctx context.Context, c types.Change) error
}

type PersisterOptions struct {
	// Backend may be nil when only a sink is configured.
	Backend      repository.Persistence
	Sink         ChangeSink
	QueueSize    int
	WriteTimeout time.Duration
	MaxAttempts  int
	// Backoff is multiplied by the attempt number between retries.
	Backoff time.Duration
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type persistJob struct {
	reading types.Reading
	change  *types.Change
}

// Persister moves durable writes off the ingest path. One worker drains a
// bounded queue; a full queue drops the job instead of blocking Record.
type Persister struct {
	backend      repository.Persistence
	sink         ChangeSink
	writeTimeout time.Duration
	maxAttempts  int
	backoff      time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan persistJob
	done   chan struct{}
}

func NewPersister(opts PersisterOptions) *Persister {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 2 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff < 0 {
		opts.Backoff = 0
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(prometheus.NewRegistry())
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	p := &Persister{
		backend:      opts.Backend,
		sink:         opts.Sink,
		writeTimeout: opts.WriteTimeout,
		maxAttempts:  opts.MaxAttempts,
		backoff:      opts.Backoff,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		queue:        make(chan persistJob, opts.QueueSize),
		done:         make(chan struct{}),
	}
	go p.run()
	return p
}

// Enqueue hands a reading, and its change record when the reading changed
// history, to the worker. It never blocks.
func (p *Persister) Enqueue(reading types.Reading, change *types.Change) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.metrics.RecordPersistenceFailure("enqueue", "closed")
		return fmt.Errorf("%w: persister closed", repository.ErrPersistenceUnavailable)
	}
	select {
	case p.queue <- persistJob{reading: reading, change: change}:
		p.metrics.SetQueueDepth(len(p.queue))
		return nil
	default:
		p.metrics.RecordPersistenceFailure("enqueue", "queue_full")
		return fmt.Errorf("%w: persist queue full (%d)", repository.ErrPersistenceUnavailable, cap(p.queue))
	}
}

// Close stops accepting jobs and waits until queued ones are written or ctx
// ends.
func (p *Persister) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("persister drain: %w", ctx.Err())
	}
}

func (p *Persister) run() {
	defer close(p.done)
	for job := range p.queue {
		p.metrics.SetQueueDepth(len(p.queue))
		p.process(job)
	}
	p.logger.Info("persister drained")
}

func (p *Persister) process(job persistJob) {
	if p.backend != nil {
		if err := p.write("save", func(ctx context.Context) error {
			return p.backend.Save(ctx, job.reading)
		}); err != nil {
			p.logger.Error("persist reading failed", "source_id", job.reading.SourceID, "error", err)
		}
		if job.change != nil {
			if err := p.write("save_change", func(ctx context.Context) error {
				return p.backend.SaveChange(ctx, *job.change)
			}); err != nil {
				p.logger.Error("persist change failed", "change_id", job.change.ID, "error", err)
			}
		}
	}

	if p.sink != nil && job.change != nil {
		ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
		err := p.sink.Publish(ctx, *job.change)
		cancel()
		if err != nil {
			p.metrics.RecordChangeEvent("error")
			p.logger.Warn("publish change event failed", "change_id", job.change.ID, "error", err)
		} else {
			p.metrics.RecordChangeEvent("ok")
		}
	}
}

// write runs fn up to maxAttempts times, each bounded by writeTimeout.
func (p *Persister) write(op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
		err = fn(ctx)
		cancel()
		p.metrics.ObservePersistWrite(op, time.Since(start).Seconds())
		if err == nil {
			return nil
		}
		p.logger.Warn("durable write failed", "op", op, "attempt", attempt, "max_attempts", p.maxAttempts, "error", err)
		if attempt < p.maxAttempts {
			time.Sleep(time.Duration(attempt) * p.backoff)
		}
	}
	p.metrics.RecordPersistenceFailure(op, "write_failed")
	if errors.Is(err, repository.ErrPersistenceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", repository.ErrPersistenceUnavailable, op, err)
}

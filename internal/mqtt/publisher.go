package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"climatecloud/internal/modules/climate/types"
)

// Publisher sends readings the way a device would.
type Publisher struct {
	client mqtt.Client
	logger *slog.Logger

	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

type readingPayload struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	SourceID    string  `json:"sourceId"`
}

func NewPublisher(opts Options, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		logger: logger,
		stopCh: make(chan struct{}),
	}
	p.client = mqtt.NewClient(newClientOptions(opts, logger,
		func() { p.setConnected(true) },
		func() { p.setConnected(false) },
	))
	return p
}

func (p *Publisher) Connect(ctx context.Context) error {
	select {
	case <-p.stopCh:
		return ErrStopped
	default:
	}
	if p.IsConnected() {
		return nil
	}
	if err := waitToken(ctx, p.stopCh, p.client.Connect()); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// PublishReading publishes r on TopicFor(r.SourceID) with QoS 1.
func (p *Publisher) PublishReading(ctx context.Context, r types.Reading) error {
	if !p.client.IsConnected() {
		return errors.New("mqtt client not connected")
	}

	topic := TopicFor(r.SourceID)
	data, err := json.Marshal(readingPayload{
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		SourceID:    r.SourceID,
	})
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := waitToken(ctx, p.stopCh, p.client.Publish(topic, 1, false, data)); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	p.logger.Debug("published reading", "topic", topic, "source_id", r.SourceID)
	return nil
}

func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	connected := p.connected
	p.mu.RUnlock()
	return connected && p.client.IsConnected()
}

func (p *Publisher) Disconnect() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.client.Disconnect(250)
	p.setConnected(false)
	p.logger.Info("mqtt publisher disconnected")
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"climatecloud/internal/modules/climate/types"
)

// ErrNoDecoder is reported for every payload when SubscriberOptions.Decode
// is nil.
var ErrNoDecoder = errors.New("mqtt: no payload decoder configured")

// Decoder turns a raw payload into a reading. A reading without a source id
// takes it from the topic.
type Decoder func(payload []byte) (types.Reading, error)

// MessageHandler receives every decoded reading exactly once.
type MessageHandler func(reading types.Reading) error

// InvalidHandler is told about payloads that failed to decode.
type InvalidHandler func(topic string, err error)

type SubscriberOptions struct {
	Options
	Topic  string
	QoS    byte
	Decode Decoder
}

type Subscriber struct {
	client mqtt.Client
	opts   SubscriberOptions
	logger *slog.Logger

	mu        sync.RWMutex
	connected bool
	onMessage MessageHandler
	onInvalid InvalidHandler

	ready     chan struct{}
	readyOnce sync.Once

	stopCh   chan struct{}
	stopOnce sync.Once
}

// MQTTSubscriber is what feature modules need to attach their handlers.
type MQTTSubscriber interface {
	SetMessageHandler(h MessageHandler)
	SetInvalidHandler(h InvalidHandler)
}

func NewSubscriber(opts SubscriberOptions, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Subscriber{
		opts:   opts,
		logger: logger,
		ready:  make(chan struct{}),
		stopCh: make(chan struct{}),
	}

	// Subscribing on every connect restores the subscription after a
	// reconnect; the clean session drops it broker side.
	clientOpts := newClientOptions(opts.Options, logger,
		func() {
			s.setConnected(true)
			if err := s.subscribe(); err != nil {
				logger.Error("mqtt subscribe failed", "topic", opts.Topic, "error", err)
				return
			}
			s.readyOnce.Do(func() { close(s.ready) })
		},
		func() { s.setConnected(false) },
	)
	s.client = mqtt.NewClient(clientOpts)
	return s
}

func (s *Subscriber) SetMessageHandler(h MessageHandler) {
	s.mu.Lock()
	s.onMessage = h
	s.mu.Unlock()
}

func (s *Subscriber) SetInvalidHandler(h InvalidHandler) {
	s.mu.Lock()
	s.onInvalid = h
	s.mu.Unlock()
}

// Connect starts connecting and waits until the topic is subscribed. When
// ctx ends first the client keeps retrying in the background and subscribes
// once the broker is reachable.
func (s *Subscriber) Connect(ctx context.Context) error {
	select {
	case <-s.stopCh:
		return ErrStopped
	default:
	}

	if err := waitToken(ctx, s.stopCh, s.client.Connect()); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mqtt subscribe: %w", ctx.Err())
	case <-s.stopCh:
		return ErrStopped
	}
}

func (s *Subscriber) subscribe() error {
	token := s.client.Subscribe(s.opts.Topic, s.opts.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		s.handleMessage(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout for topic %s", s.opts.Topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.opts.Topic, err)
	}

	s.logger.Info("subscribed to mqtt topic", "topic", s.opts.Topic, "qos", s.opts.QoS)
	return nil
}

func (s *Subscriber) handleMessage(topic string, payload []byte) {
	s.logger.Debug("received mqtt message", "topic", topic, "size", len(payload))

	s.mu.RLock()
	onMessage, onInvalid := s.onMessage, s.onInvalid
	s.mu.RUnlock()

	decode := s.opts.Decode
	if decode == nil {
		decode = func([]byte) (types.Reading, error) { return types.Reading{}, ErrNoDecoder }
	}
	reading, err := decode(payload)
	if err != nil {
		s.logger.Warn("dropping invalid mqtt reading",
			"topic", topic,
			"error", err,
			"payload", string(payload),
		)
		if onInvalid != nil {
			onInvalid(topic, err)
		}
		return
	}
	if reading.SourceID == "" {
		reading.SourceID = SourceFromTopic(topic)
	}

	if onMessage == nil {
		return
	}
	if err := onMessage(reading); err != nil {
		s.logger.Error("message handler failed",
			"topic", topic,
			"source_id", reading.SourceID,
			"error", err,
		)
	}
}

func (s *Subscriber) IsConnected() bool {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	return connected && s.client.IsConnected()
}

// Disconnect stops reconnect attempts and closes the connection. It is
// idempotent.
func (s *Subscriber) Disconnect() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	if s.IsConnected() {
		token := s.client.Unsubscribe(s.opts.Topic)
		token.WaitTimeout(2 * time.Second)
	}
	s.client.Disconnect(250)

	s.setConnected(false)
	s.logger.Info("mqtt subscriber disconnected")
}

func (s *Subscriber) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

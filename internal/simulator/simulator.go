// Package simulator stands in for the ESP32 firmware: it produces a slowly
// drifting temperature/humidity series and sends it to the server over HTTP
// or MQTT.
package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"climatecloud/internal/config"
	"climatecloud/internal/modules/climate/types"
	"climatecloud/internal/mqtt"
)

const (
	minTemperature = 10.0
	maxTemperature = 35.0
	minHumidity    = 20.0
	maxHumidity    = 90.0

	// Share of ticks that resend the previous values unchanged.
	repeatProbability = 0.3
)

// Generator is a bounded random walk rounded to one decimal, the resolution
// the DHT firmware reports.
type Generator struct {
	rng      *rand.Rand
	sourceID string
	temp     float64
	hum      float64
	started  bool
}

func NewGenerator(seed uint64, sourceID string) *Generator {
	return &Generator{
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		sourceID: sourceID,
		temp:     22.0,
		hum:      45.0,
	}
}

func (g *Generator) Next() types.Reading {
	if !g.started || g.rng.Float64() >= repeatProbability {
		g.started = true
		g.temp = step(g.rng, g.temp, 0.4, minTemperature, maxTemperature)
		g.hum = step(g.rng, g.hum, 1.0, minHumidity, maxHumidity)
	}
	return types.Reading{
		Temperature: g.temp,
		Humidity:    g.hum,
		SourceID:    g.sourceID,
	}
}

func step(rng *rand.Rand, v, maxStep, lo, hi float64) float64 {
	v += (rng.Float64()*2 - 1) * maxStep
	v = math.Min(math.Max(v, lo), hi)
	return math.Round(v*10) / 10
}

// Sender delivers one reading to the server.
type Sender interface {
	Send(ctx context.Context, r types.Reading) error
}

type HTTPSender struct {
	url    string
	client *http.Client
}

func NewHTTPSender(url string, client *http.Client) *HTTPSender {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPSender{url: url, client: client}
}

type httpPayload struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	SourceID    string  `json:"sourceId"`
}

// Send POSTs r as JSON and fails on any non-2xx answer.
func (s *HTTPSender) Send(ctx context.Context, r types.Reading) error {
	body, err := json.Marshal(httpPayload{
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		SourceID:    r.SourceID,
	})
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", s.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post %s: status %d: %s", s.url, resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

type mqttSender struct {
	pub *mqtt.Publisher
}

func (s mqttSender) Send(ctx context.Context, r types.Reading) error {
	return s.pub.PublishReading(ctx, r)
}

// Loop sends one reading right away and then one per interval until ctx is
// done. Send failures are logged and the loop carries on.
func Loop(ctx context.Context, gen *Generator, sender Sender, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		r := gen.Next()
		if err := sender.Send(ctx, r); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("send failed", "error", err)
		} else {
			slog.Info("sent", "reading", r.String())
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func Run(ctx context.Context, cfg config.SimulatorConfig) error {
	var sender Sender
	switch cfg.Target {
	case "mqtt":
		pub := mqtt.NewPublisher(mqtt.Options{
			Broker:   cfg.MQTTBroker,
			Port:     cfg.MQTTPort,
			ClientID: cfg.MQTTClientID,
		}, slog.Default())
		defer pub.Disconnect()
		if err := pub.Connect(ctx); err != nil {
			return err
		}
		sender = mqttSender{pub: pub}
	default:
		sender = NewHTTPSender(cfg.HTTPURL, nil)
	}

	gen := NewGenerator(uint64(time.Now().UnixNano()), cfg.SourceID)
	return Loop(ctx, gen, sender, cfg.Interval)
}

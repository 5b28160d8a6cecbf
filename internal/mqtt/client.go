// Package mqtt connects the service and the simulator to an MQTT broker
// using the paho v3 client.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrStopped is returned by Connect after Disconnect was called.
var ErrStopped = errors.New("mqtt client stopped")

// Options are shared by the subscriber and the publisher.
type Options struct {
	Broker   string
	Port     int
	ClientID string
}

func (o Options) brokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", o.Broker, o.Port)
}

// newClientOptions returns auto-reconnecting options. Connect keeps
// retrying in the background until Disconnect.
func newClientOptions(o Options, logger *slog.Logger, onConnect func(), onLost func()) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.brokerURL())
	opts.SetClientID(o.ClientID)

	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("mqtt connected", "broker", o.Broker, "port", o.Port, "client_id", o.ClientID)
		onConnect()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
		onLost()
	})
	return opts
}

// waitToken waits for token in a ctx/stop-aware loop.
func waitToken(ctx context.Context, stopCh <-chan struct{}, token mqtt.Token) error {
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			return token.Error()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopCh:
			return ErrStopped
		default:
		}
	}
}

// TopicFor is the topic a source publishes its readings on.
func TopicFor(sourceID string) string {
	return "climate/" + sourceID + "/readings"
}

// SourceFromTopic returns the middle segment of a three-segment topic such
// as climate/<source>/readings, or "" for any other shape.
func SourceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

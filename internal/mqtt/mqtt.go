// Package mqtt carries readings over an MQTT broker: Source subscribes to a
// topic for the relay, Publisher pushes readings for development and tests.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	qos            = byte(1) // at least once
	disconnectWait = 250     // ms
)

var errStopped = errors.New("mqtt client stopped")

// Options configures a broker connection.
type Options struct {
	// BrokerURL is tcp://host:port or mqtt://host:port.
	BrokerURL string
	Topic     string
	ClientID  string
}

func (o Options) validate() error {
	if o.BrokerURL == "" {
		return errors.New("mqtt: broker url is required")
	}
	if o.Topic == "" {
		return errors.New("mqtt: topic is required")
	}
	if o.ClientID == "" {
		return errors.New("mqtt: client id is required")
	}
	return nil
}

func clientOptions(o Options) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.BrokerURL)
	opts.SetClientID(o.ClientID)

	// Session settings
	opts.SetCleanSession(true)

	// Keepalive / timeouts
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	return opts
}

// waitToken waits for token in a ctx/stop-aware loop.
func waitToken(ctx context.Context, stop <-chan struct{}, token mqtt.Token) error {
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			return token.Error()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return errStopped
		default:
		}
	}
}

// Source subscribes to one topic. Every message is delivered as a batch of
// one; an empty batch confirms the subscription.
type Source struct {
	opts   Options
	logger *slog.Logger
	client mqtt.Client

	mu      sync.Mutex
	onError func(error)

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSource builds a source. The broker is not contacted until Subscribe.
// Reconnects are disabled: a lost connection is reported, not retried.
func NewSource(o Options, logger *slog.Logger) (*Source, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Source{opts: o, logger: logger, stopCh: make(chan struct{})}

	opts := clientOptions(o)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("mqtt connected", "broker", o.BrokerURL)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
		s.reportError(fmt.Errorf("mqtt connection lost: %w", err))
	})
	s.client = mqtt.NewClient(opts)
	return s, nil
}

// Subscribe connects and subscribes to the topic. It returns once the
// subscription is acknowledged.
func (s *Source) Subscribe(ctx context.Context, onBatch func([][]byte), onError func(error)) error {
	select {
	case <-s.stopCh:
		return errStopped
	default:
	}

	s.mu.Lock()
	s.onError = onError
	s.mu.Unlock()

	if err := waitToken(ctx, s.stopCh, s.client.Connect()); err != nil {
		s.client.Disconnect(0)
		return fmt.Errorf("mqtt connect: %w", err)
	}

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		s.logger.Debug("received mqtt message", "topic", msg.Topic(), "size", len(msg.Payload()))
		onBatch([][]byte{msg.Payload()})
	}
	if err := waitToken(ctx, s.stopCh, s.client.Subscribe(s.opts.Topic, qos, handler)); err != nil {
		s.client.Disconnect(0)
		return fmt.Errorf("subscribe to %s: %w", s.opts.Topic, err)
	}

	select {
	case <-s.stopCh:
		s.client.Disconnect(0)
		return errStopped
	default:
	}

	s.logger.Info("subscribed to mqtt topic", "topic", s.opts.Topic, "qos", qos)
	onBatch(nil)
	return nil
}

func (s *Source) reportError(err error) {
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Close unsubscribes and disconnects. Idempotent.
func (s *Source) Close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })

	// No error reports after an intentional close.
	s.mu.Lock()
	s.onError = nil
	s.mu.Unlock()

	if s.client.IsConnected() {
		if err := waitToken(ctx, nil, s.client.Unsubscribe(s.opts.Topic)); err != nil {
			s.logger.Warn("mqtt unsubscribe", "topic", s.opts.Topic, "error", err)
		}
	}
	s.client.Disconnect(disconnectWait)
	s.logger.Info("mqtt source closed")
	return nil
}

package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"

	"weatherlive/internal/modules/weather/types"
)

// Publisher sends readings to the topic as JSON.
type Publisher struct {
	opts   Options
	logger *slog.Logger
	client mqtt.Client

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewPublisher builds a publisher that keeps reconnecting on its own.
func NewPublisher(o Options, logger *slog.Logger) (*Publisher, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{opts: o, logger: logger, stopCh: make(chan struct{})}

	opts := clientOptions(o)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})
	p.client = mqtt.NewClient(opts)
	return p, nil
}

// Connect waits for the initial connection, respecting ctx and Close.
func (p *Publisher) Connect(ctx context.Context) error {
	if p.client.IsConnected() {
		return nil
	}
	if err := waitToken(ctx, p.stopCh, p.client.Connect()); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.logger.Info("mqtt publisher connected", "broker", p.opts.BrokerURL)
	return nil
}

// Publish sends r to the topic.
func (p *Publisher) Publish(ctx context.Context, r types.Reading) error {
	if !p.client.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := waitToken(ctx, p.stopCh, p.client.Publish(p.opts.Topic, qos, false, data)); err != nil {
		return fmt.Errorf("publish to %s: %w", p.opts.Topic, err)
	}
	p.logger.Debug("published reading", "topic", p.opts.Topic, "location", r.LocationName)
	return nil
}

// Close disconnects. Idempotent.
func (p *Publisher) Close() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.client.Disconnect(disconnectWait)
	p.logger.Info("mqtt publisher disconnected")
}

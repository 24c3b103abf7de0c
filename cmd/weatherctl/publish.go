package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"weatherlive/internal/modules/weather/generator"
	"weatherlive/internal/modules/weather/types"
	"weatherlive/internal/mqtt"
	"weatherlive/internal/natsstream"
	"weatherlive/internal/redisstream"
)

type publisher interface {
	Publish(ctx context.Context, r types.Reading) error
	Close() error
}

// mqttPublisher adapts mqtt.Publisher, whose Close has no error.
type mqttPublisher struct {
	*mqtt.Publisher
}

func (p mqttPublisher) Close() error {
	p.Publisher.Close()
	return nil
}

func newPublisher(target, stream, clientID string, logger *slog.Logger) (publisher, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "mqtt", "mqtts", "tcp", "ssl", "ws", "wss":
		p, err := mqtt.NewPublisher(mqtt.Options{BrokerURL: target, Topic: stream, ClientID: clientID}, logger)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.Connect(ctx); err != nil {
			p.Close()
			return nil, err
		}
		return mqttPublisher{p}, nil
	case "nats", "tls":
		return natsstream.NewPublisher(target, stream)
	case "redis", "rediss":
		return redisstream.NewPublisher(redisstream.Options{URL: target, Stream: stream})
	default:
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
}

// publishLoop sends one generated reading per interval until ctx is done or
// count readings were sent. Readings are marked live so the relay accepts
// them as external events.
func publishLoop(ctx context.Context, pub publisher, gen *generator.Generator, interval time.Duration, count int, logger *slog.Logger) error {
	if gen == nil {
		gen = generator.New(nil, nil)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for sent := 0; count <= 0 || sent < count; {
		r := gen.Tick()
		r.Synthetic = false
		if err := pub.Publish(ctx, r); err != nil {
			logger.Warn("publish failed", "location", r.LocationName, "err", err)
		} else {
			sent++
			logger.Info("reading published", "location", r.LocationName, "temperature", r.Temperature)
		}
		if count > 0 && sent >= count {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

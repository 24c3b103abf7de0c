package weather

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"weatherlive/internal/config"
	"weatherlive/internal/modules/weather/relay"
	"weatherlive/internal/mqtt"
	"weatherlive/internal/natsstream"
	"weatherlive/internal/redisstream"
)

// NewSourceFactory picks the external source adapter from the scheme of
// SOURCE_URL. It returns nil when no external source is configured.
func NewSourceFactory(cfg config.Config, logger *slog.Logger) relay.SourceFactory {
	if !cfg.SourceConfigured() {
		return nil
	}
	return func() (relay.Source, error) {
		return newSource(cfg, logger)
	}
}

func newSource(cfg config.Config, logger *slog.Logger) (relay.Source, error) {
	u, err := url.Parse(cfg.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("parse SOURCE_URL: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "mqtt", "mqtts", "tcp", "ssl", "ws", "wss":
		return mqtt.NewSource(mqtt.Options{
			BrokerURL: cfg.SourceURL,
			Topic:     cfg.SourceStream,
			ClientID:  cfg.SourceClientID,
		}, logger)
	case "nats", "tls":
		return natsstream.NewSource(natsstream.Options{
			URL:      cfg.SourceURL,
			Stream:   cfg.SourceStream,
			Consumer: cfg.SourceClientID,
		}, logger)
	case "redis", "rediss":
		return redisstream.NewSource(redisstream.Options{
			URL:    cfg.SourceURL,
			Stream: cfg.SourceStream,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported SOURCE_URL scheme %q", u.Scheme)
	}
}

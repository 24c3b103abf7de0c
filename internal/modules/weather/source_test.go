package weather

import (
	"context"
	"testing"

	"weatherlive/internal/config"
	"weatherlive/internal/logging"
	"weatherlive/internal/mqtt"
	"weatherlive/internal/natsstream"
	"weatherlive/internal/redisstream"
)

func TestNewSourceFactory_NotConfigured(t *testing.T) {
	tests := []config.Config{
		{},
		{SourceURL: "nats://localhost:4222"},
		{SourceStream: "weather"},
	}
	for _, cfg := range tests {
		if f := NewSourceFactory(cfg, logging.Discard()); f != nil {
			t.Errorf("NewSourceFactory(%+v) returned a factory, want nil", cfg)
		}
	}
}

func TestNewSourceFactory_SchemeSelectsAdapter(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"mqtt://localhost:1883", "mqtt"},
		{"tcp://localhost:1883", "mqtt"},
		{"nats://localhost:4222", "nats"},
		{"redis://localhost:6379/0", "redis"},
		{"amqp://localhost:5672", ""},
		{"://bad", ""},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			cfg := config.Config{SourceURL: tt.url, SourceStream: "weather", SourceClientID: "weatherlive"}
			factory := NewSourceFactory(cfg, logging.Discard())
			if factory == nil {
				t.Fatal("factory is nil for a configured source")
			}
			src, err := factory()
			if tt.want == "" {
				if err == nil {
					t.Fatalf("factory() succeeded for %q", tt.url)
				}
				return
			}
			if err != nil {
				t.Fatalf("factory() = %v", err)
			}
			defer func() { _ = src.Close(context.Background()) }()

			var got string
			switch src.(type) {
			case *mqtt.Source:
				got = "mqtt"
			case *natsstream.Source:
				got = "nats"
			case *redisstream.Source:
				got = "redis"
			}
			if got != tt.want {
				t.Errorf("adapter = %q (%T), want %q", got, src, tt.want)
			}
		})
	}
}

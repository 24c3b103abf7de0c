package natsstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"weatherlive/internal/modules/weather/types"
)

// Publisher writes readings to a JetStream subject and waits for the
// stream's acknowledgement.
type Publisher struct {
	subject string
	nc      *nats.Conn
	js      jetstream.JetStream
}

func NewPublisher(url, subject string) (*Publisher, error) {
	if url == "" || subject == "" {
		return nil, errors.New("natsstream: url and subject are required")
	}
	nc, err := nats.Connect(url, nats.Name("weatherlive-publisher"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &Publisher{subject: subject, nc: nc, js: js}, nil
}

func (p *Publisher) Publish(ctx context.Context, r types.Reading) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}
	if _, err := p.js.Publish(ctx, p.subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", p.subject, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.nc.Drain()
}

// Package natsstream reads readings from a NATS JetStream stream through a
// durable pull consumer.
package natsstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	defaultBatchSize = 100
	defaultMaxWait   = 5 * time.Second
)

var errClosed = errors.New("natsstream: source closed")

type Options struct {
	URL    string
	Stream string
	// Consumer is the durable consumer name, also used as the connection name.
	Consumer  string
	BatchSize int
	MaxWait   time.Duration
}

// Source fetches batches of up to BatchSize messages. A fetch that times
// out without messages is delivered as an empty batch.
type Source struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	nc      *nats.Conn
	cancel  context.CancelFunc
	onError func(error)
	closing atomic.Bool
	wg      sync.WaitGroup
}

func NewSource(o Options, logger *slog.Logger) (*Source, error) {
	if o.URL == "" || o.Stream == "" {
		return nil, errors.New("natsstream: url and stream are required")
	}
	if o.Consumer == "" {
		return nil, errors.New("natsstream: consumer name is required")
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.MaxWait <= 0 {
		o.MaxWait = defaultMaxWait
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{opts: o, logger: logger}, nil
}

// Subscribe connects, binds the durable consumer and starts fetching.
func (s *Source) Subscribe(ctx context.Context, onBatch func([][]byte), onError func(error)) error {
	if s.closing.Load() {
		return errClosed
	}
	s.mu.Lock()
	s.onError = onError
	s.mu.Unlock()

	nc, err := nats.Connect(s.opts.URL,
		nats.Name(s.opts.Consumer),
		nats.NoReconnect(),
		nats.ClosedHandler(func(*nats.Conn) {
			s.reportError(errors.New("nats connection closed"))
		}),
	)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		nc.Close()
		return errClosed
	}
	s.nc = nc
	s.mu.Unlock()

	js, err := jetstream.New(nc)
	if err != nil {
		return s.abort(fmt.Errorf("jetstream: %w", err))
	}
	stream, err := js.Stream(ctx, s.opts.Stream)
	if err != nil {
		return s.abort(fmt.Errorf("stream %s: %w", s.opts.Stream, err))
	}
	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       s.opts.Consumer,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return s.abort(fmt.Errorf("consumer %s: %w", s.opts.Consumer, err))
	}

	// Close may have run while the consumer was being set up; it only
	// sees what is published under s.mu.
	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		return s.abort(errClosed)
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.fetchLoop(loopCtx, cons, onBatch)
	s.mu.Unlock()

	s.logger.Info("subscribed to jetstream", "stream", s.opts.Stream, "consumer", s.opts.Consumer)
	return nil
}

func (s *Source) abort(err error) error {
	s.closing.Store(true)
	s.mu.Lock()
	nc := s.nc
	s.nc = nil
	s.mu.Unlock()
	if nc != nil {
		nc.Close()
	}
	return err
}

func (s *Source) fetchLoop(ctx context.Context, cons jetstream.Consumer, onBatch func([][]byte)) {
	defer s.wg.Done()
	for ctx.Err() == nil {
		batch, err := cons.Fetch(s.opts.BatchSize, jetstream.FetchMaxWait(s.opts.MaxWait))
		if err != nil {
			if ctx.Err() == nil {
				s.reportError(fmt.Errorf("fetch: %w", err))
			}
			return
		}

		var bodies [][]byte
		for msg := range batch.Messages() {
			bodies = append(bodies, msg.Data())
			if err := msg.Ack(); err != nil {
				s.logger.Debug("jetstream ack failed", "error", err)
			}
		}
		if err := batch.Error(); err != nil && !isIdle(err) {
			if ctx.Err() == nil {
				s.reportError(fmt.Errorf("fetch: %w", err))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		onBatch(bodies)
	}
}

// isIdle reports fetch errors that only mean no messages arrived in time.
func isIdle(err error) bool {
	return errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

func (s *Source) reportError(err error) {
	if s.closing.Load() {
		return
	}
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Close stops fetching and closes the connection. Idempotent.
func (s *Source) Close(ctx context.Context) error {
	s.closing.Store(true)
	s.mu.Lock()
	cancel, nc := s.cancel, s.nc
	s.cancel, s.nc = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if nc != nil {
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("natsstream close: %w", ctx.Err())
	}
	s.logger.Info("jetstream source closed")
	return nil
}

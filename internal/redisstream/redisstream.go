// Package redisstream reads readings from a Redis stream with XREAD and
// writes them with XADD. Each entry carries its JSON body in the "data"
// field.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"weatherlive/internal/modules/weather/types"
)

const (
	dataField        = "data"
	defaultBatchSize = 100
	defaultBlock     = 5 * time.Second
	maxStreamLen     = 10000
)

var errClosed = errors.New("redisstream: source closed")

type Options struct {
	// URL is a redis:// or rediss:// connection string.
	URL       string
	Stream    string
	BatchSize int64
	Block     time.Duration
}

func (o Options) client() (*redis.Client, error) {
	if o.URL == "" || o.Stream == "" {
		return nil, errors.New("redisstream: url and stream are required")
	}
	opts, err := redis.ParseURL(o.URL)
	if err != nil {
		return nil, fmt.Errorf("redisstream: parse url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Source reads new stream entries in batches of up to BatchSize. A read
// that blocks without entries is delivered as an empty batch.
type Source struct {
	opts   Options
	client *redis.Client
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	closing atomic.Bool
	wg      sync.WaitGroup
}

func NewSource(o Options, logger *slog.Logger) (*Source, error) {
	client, err := o.client()
	if err != nil {
		return nil, err
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.Block <= 0 {
		o.Block = defaultBlock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{opts: o, client: client, logger: logger}, nil
}

// Subscribe checks connectivity, then reads entries added after this call.
func (s *Source) Subscribe(ctx context.Context, onBatch func([][]byte), onError func(error)) error {
	if s.closing.Load() {
		return errClosed
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	start, err := s.lastID(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		return errClosed
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.readLoop(loopCtx, start, onBatch, onError)
	s.mu.Unlock()

	s.logger.Info("subscribed to redis stream", "stream", s.opts.Stream, "from", start)
	return nil
}

// lastID returns the newest entry ID, or "0-0" for an empty stream.
func (s *Source) lastID(ctx context.Context) (string, error) {
	msgs, err := s.client.XRevRangeN(ctx, s.opts.Stream, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("read stream tail %s: %w", s.opts.Stream, err)
	}
	if len(msgs) == 0 {
		return "0-0", nil
	}
	return msgs[0].ID, nil
}

func (s *Source) readLoop(ctx context.Context, lastID string, onBatch func([][]byte), onError func(error)) {
	defer s.wg.Done()
	for ctx.Err() == nil {
		streams, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{s.opts.Stream, lastID},
			Count:   s.opts.BatchSize,
			Block:   s.opts.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				onBatch(nil)
				continue
			}
			if ctx.Err() == nil && !s.closing.Load() {
				onError(fmt.Errorf("read stream %s: %w", s.opts.Stream, err))
			}
			return
		}

		for _, stream := range streams {
			bodies, next, skipped := bodiesFrom(stream.Messages, lastID)
			if skipped > 0 {
				s.logger.Warn("skipping redis entries without data field", "stream", s.opts.Stream, "count", skipped)
			}
			lastID = next
			if ctx.Err() != nil {
				return
			}
			onBatch(bodies)
		}
	}
}

// bodiesFrom extracts entry bodies and the ID to resume after.
func bodiesFrom(msgs []redis.XMessage, lastID string) (bodies [][]byte, next string, skipped int) {
	next = lastID
	bodies = make([][]byte, 0, len(msgs))
	for _, m := range msgs {
		next = m.ID
		switch v := m.Values[dataField].(type) {
		case string:
			bodies = append(bodies, []byte(v))
		case []byte:
			bodies = append(bodies, v)
		default:
			skipped++
		}
	}
	return bodies, next, skipped
}

// Close stops reading and closes the client. Idempotent.
func (s *Source) Close(ctx context.Context) error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	closeErr := s.client.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("redisstream close: %w", ctx.Err())
	}
	s.logger.Info("redis stream source closed")
	return closeErr
}

// Publisher appends readings to the stream.
type Publisher struct {
	opts   Options
	client *redis.Client
}

func NewPublisher(o Options) (*Publisher, error) {
	client, err := o.client()
	if err != nil {
		return nil, err
	}
	return &Publisher{opts: o, client: client}, nil
}

// Publish appends r, trimming the stream to roughly maxStreamLen entries.
func (p *Publisher) Publish(ctx context.Context, r types.Reading) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.opts.Stream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]any{dataField: data},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish to stream %s: %w", p.opts.Stream, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}

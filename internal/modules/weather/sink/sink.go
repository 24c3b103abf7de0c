// Package sink is the best-effort persistence adapter for readings. Writes
// go through a circuit breaker and never block publishing; reads fall back
// to the deterministic reference snapshot whenever the store is unusable.
package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"weatherlive/internal/config"
	"weatherlive/internal/db"
	"weatherlive/internal/metrics"
	"weatherlive/internal/migrate"
	"weatherlive/internal/modules/weather/generator"
	"weatherlive/internal/modules/weather/repository"
	"weatherlive/internal/modules/weather/types"
)

const (
	breakerName         = "persistence"
	breakerFailures     = 5
	breakerOpenDuration = 30 * time.Second
)

// Store wraps the readings repository. It starts disconnected; Connect
// makes it ready.
type Store struct {
	cfg    config.Config
	logger *slog.Logger
	now    func() time.Time

	breaker *gobreaker.CircuitBreaker[any]
	ready   atomic.Bool

	mu   sync.RWMutex
	conn *sql.DB
	repo repository.WeatherRepository
}

// New returns a Store that is not yet connected.
func New(cfg config.Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{cfg: cfg, logger: logger, now: time.Now}
	s.breaker = newBreaker(logger, breakerFailures, breakerOpenDuration)
	return s
}

func newBreaker(logger *slog.Logger, failures uint32, open time.Duration) *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     open,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			if to == gobreaker.StateOpen {
				metrics.SinkBreakerOpen.Set(1)
			} else {
				metrics.SinkBreakerOpen.Set(0)
			}
		},
	})
}

// Connect opens the store and applies migrations. It returns
// db.ErrNotConfigured when persistence is disabled; the store then stays
// not ready for the life of the process.
func (s *Store) Connect(ctx context.Context) error {
	conn, err := db.Open(ctx, s.cfg, s.logger)
	if err != nil {
		return err
	}
	if err := migrate.Run(ctx, conn, s.logger); err != nil {
		_ = conn.Close()
		return fmt.Errorf("migrate: %w", err)
	}
	s.attach(conn, repository.NewRepository(conn))
	s.logger.Info("persistence connected", "driver", s.cfg.Driver)
	return nil
}

func (s *Store) attach(conn *sql.DB, repo repository.WeatherRepository) {
	s.mu.Lock()
	s.conn = conn
	s.repo = repo
	s.mu.Unlock()
	s.ready.Store(true)
}

func (s *Store) IsReady() bool {
	return s.ready.Load()
}

func (s *Store) activeRepo() repository.WeatherRepository {
	if !s.ready.Load() {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo
}

// BreakerState reports the write breaker state (closed, half-open, open).
func (s *Store) BreakerState() string {
	return s.breaker.State().String()
}

// Write persists r. A store that is not ready skips the write and returns
// nil. Failures, including breaker rejections, are returned for the caller
// to log.
func (s *Store) Write(ctx context.Context, r types.Reading) error {
	repo := s.activeRepo()
	if repo == nil {
		return nil
	}
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, repo.InsertReading(ctx, r)
	})
	switch {
	case err == nil:
		metrics.SinkWrites.WithLabelValues("ok").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.SinkWrites.WithLabelValues("rejected").Inc()
	default:
		metrics.SinkWrites.WithLabelValues("error").Inc()
	}
	return err
}

// Latest returns up to n of the most recent readings, newest first.
func (s *Store) Latest(ctx context.Context, n int) []types.Reading {
	if repo := s.activeRepo(); repo != nil {
		out, err := repo.GetLatestReadings(ctx, n)
		if err == nil {
			return out
		}
		s.logger.Error("query latest readings", "error", err)
	}
	metrics.SinkFallbacks.WithLabelValues("latest").Inc()
	snap := generator.Snapshot(s.now())
	if n >= 0 && n < len(snap) {
		snap = snap[:n]
	}
	return snap
}

// ByLocation returns up to limit readings for name, newest first.
func (s *Store) ByLocation(ctx context.Context, name string, limit int) []types.Reading {
	if repo := s.activeRepo(); repo != nil {
		out, err := repo.GetReadingsByLocation(ctx, name, limit)
		if err == nil {
			return out
		}
		s.logger.Error("query readings by location", "location", name, "error", err)
	}
	metrics.SinkFallbacks.WithLabelValues("location").Inc()
	out := []types.Reading{}
	if limit == 0 {
		return out
	}
	for _, r := range generator.Snapshot(s.now()) {
		if r.LocationName == name {
			out = append(out, r)
		}
	}
	return out
}

// Statistics returns per-location aggregates over stored readings.
func (s *Store) Statistics(ctx context.Context) []types.Statistic {
	if repo := s.activeRepo(); repo != nil {
		out, err := repo.GetStatistics(ctx)
		if err == nil {
			return out
		}
		s.logger.Error("query statistics", "error", err)
	}
	metrics.SinkFallbacks.WithLabelValues("statistics").Inc()
	snap := generator.ReferenceSet()
	out := make([]types.Statistic, 0, len(snap))
	for _, r := range snap {
		out = append(out, types.Statistic{
			LocationName: r.LocationName,
			AvgTemp:      r.Temperature,
			MaxTemp:      r.Temperature,
			MinTemp:      r.Temperature,
			AvgHumidity:  r.Humidity,
			Count:        1,
		})
	}
	return out
}

// Close releases the store, waiting at most until ctx is done.
func (s *Store) Close(ctx context.Context) error {
	s.ready.Store(false)
	s.mu.Lock()
	conn := s.conn
	s.conn, s.repo = nil, nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- db.Close(conn) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("close persistence: %w", ctx.Err())
	}
}

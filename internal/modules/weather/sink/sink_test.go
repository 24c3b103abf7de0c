package sink

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"weatherlive/internal/config"
	"weatherlive/internal/db"
	"weatherlive/internal/logging"
	"weatherlive/internal/modules/weather/generator"
	"weatherlive/internal/modules/weather/types"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeRepository is a hand-written WeatherRepository for sink tests.
type fakeRepository struct {
	mu       sync.Mutex
	inserted []types.Reading
	err      error
}

func (f *fakeRepository) InsertReading(_ context.Context, r types.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, r)
	return nil
}

func (f *fakeRepository) GetLatestReadings(context.Context, int) ([]types.Reading, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.inserted, nil
}

func (f *fakeRepository) GetReadingsByLocation(_ context.Context, name string, _ int) ([]types.Reading, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []types.Reading
	for _, r := range f.inserted {
		if r.LocationName == name {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRepository) GetStatistics(context.Context) ([]types.Statistic, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []types.Statistic{{LocationName: "stored", Count: len(f.inserted)}}, nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(config.Config{Driver: "sqlite3"}, logging.Discard())
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestNew_NotReady(t *testing.T) {
	s := newTestStore(t)
	if s.IsReady() {
		t.Fatal("new store must not be ready")
	}
	if got := s.BreakerState(); got != "closed" {
		t.Errorf("BreakerState = %q, want closed", got)
	}
}

func TestConnect_NotConfigured(t *testing.T) {
	s := newTestStore(t)
	err := s.Connect(context.Background())
	if !errors.Is(err, db.ErrNotConfigured) {
		t.Fatalf("Connect err = %v, want ErrNotConfigured", err)
	}
	if s.IsReady() {
		t.Error("store must stay not ready")
	}
}

func TestWrite_NotReadyIsSkipped(t *testing.T) {
	s := newTestStore(t)
	if err := s.Write(context.Background(), generator.Snapshot(fixedNow)[0]); err != nil {
		t.Fatalf("Write on unready store = %v, want nil", err)
	}
}

func TestFallback_Statistics(t *testing.T) {
	s := newTestStore(t)

	stats := s.Statistics(context.Background())
	ref := generator.ReferenceSet()
	if len(stats) != len(ref) {
		t.Fatalf("len = %d, want %d", len(stats), len(ref))
	}
	seen := make(map[string]bool)
	for i, st := range stats {
		if seen[st.LocationName] {
			t.Errorf("duplicate location %q", st.LocationName)
		}
		seen[st.LocationName] = true
		if st.Count != 1 {
			t.Errorf("%s: count = %d, want 1", st.LocationName, st.Count)
		}
		if st.AvgTemp != st.MaxTemp || st.MaxTemp != st.MinTemp {
			t.Errorf("%s: avg/max/min = %v/%v/%v, want equal", st.LocationName, st.AvgTemp, st.MaxTemp, st.MinTemp)
		}
		if st.AvgTemp != ref[i].Temperature || st.AvgHumidity != ref[i].Humidity {
			t.Errorf("%s: got %+v, want reference values", st.LocationName, st)
		}
	}
}

func TestFallback_IsDeterministic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if !reflect.DeepEqual(s.Latest(ctx, 10), s.Latest(ctx, 10)) {
		t.Error("Latest fallback differs between calls")
	}
	if !reflect.DeepEqual(s.Statistics(ctx), s.Statistics(ctx)) {
		t.Error("Statistics fallback differs between calls")
	}
}

func TestFallback_Latest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got := s.Latest(ctx, 10)
	if len(got) != 5 {
		t.Fatalf("len = %d, want 5", len(got))
	}
	for _, r := range got {
		if !r.Synthetic || !r.ObservedAt.Equal(fixedNow) {
			t.Errorf("fallback reading %+v must be synthetic and stamped now", r)
		}
	}
	if n := len(s.Latest(ctx, 2)); n != 2 {
		t.Errorf("Latest(2) len = %d, want 2", n)
	}
}

func TestFallback_ByLocation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got := s.ByLocation(ctx, "Ankara", 20)
	if len(got) != 1 || got[0].LocationName != "Ankara" || got[0].Temperature != 15 {
		t.Errorf("ByLocation(Ankara) = %+v, want one reference entry", got)
	}
	if got := s.ByLocation(ctx, "Konya", 20); got == nil || len(got) != 0 {
		t.Errorf("ByLocation(Konya) = %v, want empty", got)
	}
}

func TestQueries_UseRepositoryWhenReady(t *testing.T) {
	s := newTestStore(t)
	repo := &fakeRepository{}
	s.attach(nil, repo)
	ctx := context.Background()

	r := types.Reading{LocationName: "Bursa", Temperature: 9, ObservedAt: fixedNow}
	if err := s.Write(ctx, r); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := s.Latest(ctx, 10); len(got) != 1 || got[0].LocationName != "Bursa" {
		t.Errorf("Latest = %+v, want the stored reading", got)
	}
	if got := s.ByLocation(ctx, "Antalya", 10); len(got) != 0 {
		t.Errorf("ByLocation(Antalya) = %+v, want none", got)
	}
	if got := s.Statistics(ctx); len(got) != 1 || got[0].LocationName != "stored" {
		t.Errorf("Statistics = %+v, want repository result", got)
	}
}

func TestQueries_FallBackOnError(t *testing.T) {
	handler := &recordingHandler{}
	s := New(config.Config{}, slog.New(handler))
	s.now = func() time.Time { return fixedNow }
	s.attach(nil, &fakeRepository{err: errors.New("disk I/O error")})
	ctx := context.Background()

	if got := s.Latest(ctx, 10); len(got) != 5 {
		t.Errorf("Latest len = %d, want 5 fallback readings", len(got))
	}
	if got := s.Statistics(ctx); len(got) != 5 {
		t.Errorf("Statistics len = %d, want 5 fallback rows", len(got))
	}
	if got := s.ByLocation(ctx, "İzmir", 10); len(got) != 1 {
		t.Errorf("ByLocation len = %d, want 1", len(got))
	}
	if n := handler.count(slog.LevelError); n != 3 {
		t.Errorf("error logs = %d, want 3", n)
	}
}

func TestWrite_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	s := newTestStore(t)
	repo := &fakeRepository{err: errors.New("database is locked")}
	s.attach(nil, repo)
	s.breaker = newBreaker(logging.Discard(), 2, time.Hour)
	ctx := context.Background()
	r := types.Reading{LocationName: "Ankara", ObservedAt: fixedNow}

	for i := 0; i < 2; i++ {
		if err := s.Write(ctx, r); err == nil || errors.Is(err, gobreaker.ErrOpenState) {
			t.Fatalf("write %d: err = %v, want repository error", i, err)
		}
	}
	if err := s.Write(ctx, r); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("err = %v, want ErrOpenState", err)
	}
	if got := s.BreakerState(); got != "open" {
		t.Errorf("BreakerState = %q, want open", got)
	}
}

func TestConnect_InMemory(t *testing.T) {
	cfg := config.Config{Driver: "sqlite3", DSN: ":memory:", MaxOpenConns: 1, MaxIdleConns: 1}
	s := New(cfg, logging.Discard())
	ctx := context.Background()

	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !s.IsReady() {
		t.Fatal("store not ready after Connect")
	}

	r := generator.Snapshot(fixedNow)[1]
	if err := s.Write(ctx, r); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got := s.ByLocation(ctx, r.LocationName, 20)
	if len(got) != 1 || got[0].Temperature != r.Temperature || !got[0].Synthetic {
		t.Errorf("ByLocation = %+v, want the written reading", got)
	}
	stats := s.Statistics(ctx)
	if len(stats) != 1 || stats[0].Count != 1 {
		t.Errorf("Statistics = %+v, want one row", stats)
	}

	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s.IsReady() {
		t.Error("store still ready after Close")
	}
	if err := s.Close(ctx); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

type recordingHandler struct {
	mu     sync.Mutex
	levels []slog.Level
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.levels = append(h.levels, r.Level)
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *recordingHandler) WithGroup(string) slog.Handler { return h }

func (h *recordingHandler) count(level slog.Level) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, l := range h.levels {
		if l == level {
			n++
		}
	}
	return n
}

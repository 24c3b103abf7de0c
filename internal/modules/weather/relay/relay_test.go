package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"weatherlive/internal/logging"
	"weatherlive/internal/modules/weather/generator"
	"weatherlive/internal/modules/weather/types"
)

// delivery is one event handed to the fake fanout. to is "*" for broadcasts.
type delivery struct {
	to    string
	event string
	data  any
}

type fakeFanout struct {
	mu  sync.Mutex
	log []delivery
}

func (f *fakeFanout) Broadcast(event string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, delivery{to: "*", event: event, data: data})
}

func (f *fakeFanout) Send(clientID, event string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, delivery{to: clientID, event: event, data: data})
}

func (f *fakeFanout) events(name string) []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []delivery
	for _, d := range f.log {
		if d.event == name {
			out = append(out, d)
		}
	}
	return out
}

func (f *fakeFanout) readings() []types.Reading {
	var out []types.Reading
	for _, d := range f.events(EventWeatherUpdate) {
		out = append(out, d.data.(types.Reading))
	}
	return out
}

type fakeSource struct {
	subscribeErr error

	mu         sync.Mutex
	onBatch    func([][]byte)
	onError    func(error)
	subscribed chan struct{}
	closed     chan struct{}
	closeOnce  sync.Once
}

func newFakeSource() *fakeSource {
	return &fakeSource{subscribed: make(chan struct{}), closed: make(chan struct{})}
}

func (s *fakeSource) Subscribe(_ context.Context, onBatch func([][]byte), onError func(error)) error {
	if s.subscribeErr != nil {
		return s.subscribeErr
	}
	s.mu.Lock()
	s.onBatch, s.onError = onBatch, onError
	s.mu.Unlock()
	close(s.subscribed)
	return nil
}

func (s *fakeSource) Close(context.Context) error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSource) waitSubscribed(t *testing.T) {
	t.Helper()
	select {
	case <-s.subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("source was never subscribed")
	}
}

func (s *fakeSource) deliver(bodies ...string) {
	batch := make([][]byte, len(bodies))
	for i, b := range bodies {
		batch[i] = []byte(b)
	}
	s.mu.Lock()
	fn := s.onBatch
	s.mu.Unlock()
	fn(batch)
}

func (s *fakeSource) fail(err error) {
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()
	fn(err)
}

func (s *fakeSource) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// blockingSink never completes a write before its context expires.
type blockingSink struct {
	mu      sync.Mutex
	started int
}

func (b *blockingSink) Write(ctx context.Context, _ types.Reading) error {
	b.mu.Lock()
	b.started++
	b.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

type failingSink struct{}

func (failingSink) Write(context.Context, types.Reading) error {
	return errors.New("store unavailable")
}

func testOptions() Options {
	return Options{
		ConnectTimeout: time.Hour,
		SyntheticDelay: 5 * time.Millisecond,
		TickInterval:   time.Hour,
		WriteTimeout:   50 * time.Millisecond,
		CloseTimeout:   time.Second,
	}
}

func startRelay(t *testing.T, factory SourceFactory, sink Sink, opts Options) (*Relay, *fakeFanout) {
	t.Helper()
	fan := &fakeFanout{}
	r := New(factory, fan, sink, logging.Discard(), opts)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-r.Done():
		case <-time.After(5 * time.Second):
			t.Error("relay did not stop")
		}
	})
	return r, fan
}

func factoryFor(src Source) SourceFactory {
	return func() (Source, error) { return src, nil }
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func inReferenceSet(name string) bool {
	_, ok := generator.Lookup(name)
	return ok
}

const validBody = `{"locationName":"Konya","coordinates":{"lat":37.87,"lon":32.48},"temperature":12.5,"humidity":40}`

func TestNoSource_FirstSubscriberGetsImmediateSyntheticReading(t *testing.T) {
	r, fan := startRelay(t, nil, nil, testOptions())
	eventually(t, "synthetic state", func() bool { return r.Status().Source == StateSynthetic })

	r.SubscriberConnected("c1")
	eventually(t, "weatherUpdate", func() bool { return len(fan.readings()) == 1 })

	got := fan.readings()[0]
	if !got.Synthetic {
		t.Error("reading not marked synthetic")
	}
	if !inReferenceSet(got.LocationName) {
		t.Errorf("location %q not in reference set", got.LocationName)
	}
	if got.Humidity < 0 || got.Humidity > 100 {
		t.Errorf("humidity %v out of range", got.Humidity)
	}
}

func TestConnect_SendsGreetingAndCount(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	opts := testOptions()
	opts.Now = func() time.Time { return now }
	r, fan := startRelay(t, nil, nil, opts)

	r.SubscriberConnected("c1")
	r.SubscriberConnected("c2")
	eventually(t, "two clientCount events", func() bool { return len(fan.events(EventClientCount)) == 2 })

	greetings := fan.events(EventConnected)
	if len(greetings) != 2 {
		t.Fatalf("connected events = %d, want 2", len(greetings))
	}
	first := greetings[0]
	data := first.data.(ConnectedData)
	if first.to != "c1" || data.ClientID != "c1" || data.Message == "" {
		t.Errorf("greeting = %+v", first)
	}
	if data.Timestamp != "2025-06-01T09:30:00Z" {
		t.Errorf("timestamp = %q", data.Timestamp)
	}
	counts := fan.events(EventClientCount)
	if counts[0].to != "*" || counts[0].data != 1 || counts[1].data != 2 {
		t.Errorf("clientCount broadcasts = %+v", counts)
	}
	if r.Status().Subscribers != 2 {
		t.Errorf("Status().Subscribers = %d, want 2", r.Status().Subscribers)
	}
}

func TestGenerator_StartsOncePerFirstSubscriber(t *testing.T) {
	r, fan := startRelay(t, nil, nil, testOptions())
	eventually(t, "synthetic state", func() bool { return r.Status().Source == StateSynthetic })

	r.SubscriberConnected("c1")
	r.SubscriberConnected("c2")
	r.SubscriberConnected("c3")
	eventually(t, "three clients", func() bool { return r.Status().Subscribers == 3 })

	if n := len(fan.readings()); n != 1 {
		t.Errorf("weatherUpdate events = %d, want exactly 1 immediate reading", n)
	}
	if !r.Status().GeneratorActive {
		t.Error("generator not active")
	}
}

func TestGenerator_StopsWhenLastSubscriberLeaves(t *testing.T) {
	opts := testOptions()
	opts.TickInterval = 10 * time.Millisecond
	r, fan := startRelay(t, nil, nil, opts)
	eventually(t, "synthetic state", func() bool { return r.Status().Source == StateSynthetic })

	r.SubscriberConnected("c1")
	eventually(t, "periodic readings", func() bool { return len(fan.readings()) >= 3 })

	r.SubscriberDisconnected("c1")
	eventually(t, "generator stopped", func() bool { return !r.Status().GeneratorActive })
	stoppedAt := len(fan.readings())

	time.Sleep(60 * time.Millisecond)
	if n := len(fan.readings()); n != stoppedAt {
		t.Fatalf("readings after stop: %d, want %d", n, stoppedAt)
	}

	r.SubscriberConnected("c2")
	eventually(t, "immediate reading on reconnect", func() bool { return len(fan.readings()) > stoppedAt })
}

func TestDisconnect_NeverBelowZero(t *testing.T) {
	r, fan := startRelay(t, nil, nil, testOptions())

	r.SubscriberDisconnected("ghost")
	eventually(t, "clientCount", func() bool { return len(fan.events(EventClientCount)) == 1 })

	if got := fan.events(EventClientCount)[0].data; got != 0 {
		t.Errorf("clientCount = %v, want 0", got)
	}
	if r.Status().Subscribers != 0 {
		t.Errorf("Subscribers = %d, want 0", r.Status().Subscribers)
	}
}

func TestExternal_ConnectTimeoutFallsBack(t *testing.T) {
	src := newFakeSource()
	opts := testOptions()
	opts.ConnectTimeout = 30 * time.Millisecond
	r, fan := startRelay(t, factoryFor(src), nil, opts)

	r.SubscriberConnected("c1")
	src.waitSubscribed(t)
	if s := r.Status().Source; s != StatePending {
		t.Fatalf("state before timeout = %v, want pending", s)
	}

	eventually(t, "synthetic state", func() bool { return r.Status().Source == StateSynthetic })
	eventually(t, "synthetic reading", func() bool { return len(fan.readings()) == 1 })
	if !fan.readings()[0].Synthetic {
		t.Error("reading after timeout not synthetic")
	}
	eventually(t, "source closed", src.isClosed)
}

func TestExternal_FirstBatchSelectsExternal(t *testing.T) {
	src := newFakeSource()
	opts := testOptions()
	opts.ConnectTimeout = 30 * time.Millisecond
	r, fan := startRelay(t, factoryFor(src), nil, opts)
	src.waitSubscribed(t)

	src.deliver()
	eventually(t, "external state", func() bool { return r.Status().Source == StateExternal })

	// The cancelled timeout must not fire later.
	time.Sleep(60 * time.Millisecond)
	if s := r.Status().Source; s != StateExternal {
		t.Fatalf("state = %v after timeout window, want external", s)
	}

	r.SubscriberConnected("c1")
	src.deliver(validBody, `{"temperature":1}`, `not json`, validBody)
	eventually(t, "external readings", func() bool { return len(fan.readings()) == 2 })
	for _, got := range fan.readings() {
		if got.Synthetic || got.LocationName != "Konya" {
			t.Errorf("reading = %+v, want external Konya", got)
		}
	}
	if r.Status().GeneratorActive {
		t.Error("generator must not run while external is active")
	}
}

func TestExternal_ErrorIsOneWayFailover(t *testing.T) {
	src := newFakeSource()
	r, fan := startRelay(t, factoryFor(src), nil, testOptions())
	src.waitSubscribed(t)

	src.deliver(validBody)
	eventually(t, "external state", func() bool { return r.Status().Source == StateExternal })
	r.SubscriberConnected("c1")
	eventually(t, "subscriber", func() bool { return r.Status().Subscribers == 1 })

	src.fail(errors.New("connection reset"))
	eventually(t, "synthetic state", func() bool { return r.Status().Source == StateSynthetic })
	eventually(t, "generator started", func() bool { return r.Status().GeneratorActive })
	eventually(t, "source closed", src.isClosed)

	before := len(fan.readings())
	src.deliver(validBody, validBody)
	src.fail(errors.New("again"))
	r.SubscriberConnected("c2")
	eventually(t, "second subscriber", func() bool { return r.Status().Subscribers == 2 })

	if s := r.Status().Source; s != StateSynthetic {
		t.Fatalf("state = %v, want synthetic for the rest of the run", s)
	}
	for _, got := range fan.readings()[before:] {
		if !got.Synthetic {
			t.Errorf("late external reading published after fallback: %+v", got)
		}
	}
}

func TestExternal_ErrorBeforeFirstBatch(t *testing.T) {
	src := newFakeSource()
	r, _ := startRelay(t, factoryFor(src), nil, testOptions())
	src.waitSubscribed(t)

	src.fail(errors.New("unauthorized"))
	eventually(t, "synthetic state", func() bool { return r.Status().Source == StateSynthetic })
}

func TestExternal_SetupFailuresFallBackAfterDelay(t *testing.T) {
	tests := []struct {
		name    string
		factory func() SourceFactory
	}{
		{
			name: "factory error",
			factory: func() SourceFactory {
				return func() (Source, error) { return nil, errors.New("bad url") }
			},
		},
		{
			name: "subscribe error",
			factory: func() SourceFactory {
				src := newFakeSource()
				src.subscribeErr = errors.New("no such stream")
				return factoryFor(src)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			opts.SyntheticDelay = 40 * time.Millisecond
			start := time.Now()
			r, _ := startRelay(t, tt.factory(), nil, opts)

			eventually(t, "synthetic state", func() bool { return r.Status().Source == StateSynthetic })
			if elapsed := time.Since(start); elapsed < opts.SyntheticDelay {
				t.Errorf("fell back after %v, want at least %v", elapsed, opts.SyntheticDelay)
			}
		})
	}
}

func TestPublish_DeliversDespiteStuckSink(t *testing.T) {
	src := newFakeSource()
	sink := &blockingSink{}
	r, fan := startRelay(t, factoryFor(src), sink, testOptions())
	src.waitSubscribed(t)
	r.SubscriberConnected("c1")

	src.deliver(validBody, validBody, validBody)
	eventually(t, "all readings fanned out", func() bool { return len(fan.readings()) == 3 })
	eventually(t, "writes dispatched", func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.started == 3
	})
}

func TestPublish_DeliversDespiteFailingSink(t *testing.T) {
	r, fan := startRelay(t, nil, failingSink{}, testOptions())
	eventually(t, "synthetic state", func() bool { return r.Status().Source == StateSynthetic })

	r.SubscriberConnected("c1")
	eventually(t, "reading", func() bool { return len(fan.readings()) == 1 })
}

func TestRun_ShutdownClosesSourceAndStopsGenerator(t *testing.T) {
	src := newFakeSource()
	fan := &fakeFanout{}
	r := New(factoryFor(src), fan, nil, logging.Discard(), testOptions())
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()
	src.waitSubscribed(t)

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	if !src.isClosed() {
		t.Error("source not closed on shutdown")
	}

	// Notifications after shutdown must not block.
	r.SubscriberConnected("late")

	if err := r.Run(context.Background()); err == nil {
		t.Error("second Run: expected error")
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StatePending:   "pending",
		StateExternal:  "external",
		StateSynthetic: "synthetic",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

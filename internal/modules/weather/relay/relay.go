// Package relay decides which source feeds readings to subscribers and fans
// every reading out to them.
//
// All mutable state (source state, subscriber count, timers) is owned by the
// goroutine running Relay.Run. Source callbacks and subscriber
// notifications are posted to it as events and handled one at a time.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"weatherlive/internal/modules/weather/generator"
	"weatherlive/internal/modules/weather/types"
)

// Subscriber-facing event names.
const (
	EventConnected         = "connected"
	EventClientCount       = "clientCount"
	EventWeatherUpdate     = "weatherUpdate"
	EventLatestWeatherData = "latestWeatherData"
	EventCityWeatherData   = "cityWeatherData"
	EventError             = "error"
)

const connectedMessage = "Connected to live weather data"

// Source is an external event stream. Subscribe starts delivery: onBatch
// receives raw event bodies, onError reports a failure of the stream.
// Callbacks may run on any goroutine.
type Source interface {
	Subscribe(ctx context.Context, onBatch func([][]byte), onError func(error)) error
	Close(ctx context.Context) error
}

// SourceFactory builds the configured external source. A nil factory means
// no external source is configured.
type SourceFactory func() (Source, error)

// Fanout delivers events to subscribers. Implementations must not block.
type Fanout interface {
	Broadcast(event string, data any)
	Send(clientID, event string, data any)
}

// Sink persists readings.
type Sink interface {
	Write(ctx context.Context, r types.Reading) error
}

// State is the source selection state.
type State int32

const (
	StatePending State = iota
	StateExternal
	StateSynthetic
)

func (s State) String() string {
	switch s {
	case StateExternal:
		return "external"
	case StateSynthetic:
		return "synthetic"
	default:
		return "pending"
	}
}

// ConnectedData is sent to a subscriber right after it connects.
type ConnectedData struct {
	Message   string `json:"message"`
	ClientID  string `json:"clientId"`
	Timestamp string `json:"timestamp"`
}

// Status is a point-in-time view of the relay for health reporting.
type Status struct {
	Source          State
	Subscribers     int
	GeneratorActive bool
}

type Options struct {
	// ConnectTimeout bounds how long the external source may take to
	// deliver its first batch.
	ConnectTimeout time.Duration
	// SyntheticDelay is the delay before the synthetic fallback when no
	// external source can be subscribed.
	SyntheticDelay time.Duration
	// TickInterval is the generator period.
	TickInterval time.Duration
	// WriteTimeout bounds each detached persistence write.
	WriteTimeout time.Duration
	// CloseTimeout bounds closing the external source and draining writes.
	CloseTimeout time.Duration

	Generator *generator.Generator
	Now       func() time.Time
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.SyntheticDelay < 0 {
		o.SyntheticDelay = 0
	}
	if o.TickInterval <= 0 {
		o.TickInterval = 3 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = 5 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Generator == nil {
		o.Generator = generator.New(nil, o.Now)
	}
	return o
}

type eventKind int

const (
	evBatch eventKind = iota
	evSourceError
	evSubscribeFailed
	evConnect
	evDisconnect
)

type event struct {
	kind     eventKind
	batch    [][]byte
	err      error
	clientID string
}

type Relay struct {
	factory SourceFactory
	fanout  Fanout
	sink    Sink
	logger  *slog.Logger
	opts    Options

	events  chan event
	quit    chan struct{}
	done    chan struct{}
	started atomic.Bool
	writes  sync.WaitGroup

	// Owned by Run.
	state         State
	pendingReason string
	subscribers   int
	source        Source
	selectTimer   *time.Timer
	selectC       <-chan time.Time
	ticker        *time.Ticker
	tickC         <-chan time.Time

	stateView       atomic.Int32
	subscribersView atomic.Int64
	tickingView     atomic.Bool
}

// New returns a Relay. factory and sink may be nil.
func New(factory SourceFactory, fanout Fanout, sink Sink, logger *slog.Logger, opts Options) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		factory: factory,
		fanout:  fanout,
		sink:    sink,
		logger:  logger,
		opts:    opts.withDefaults(),
		events:  make(chan event, 64),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run selects the source and processes events until ctx is cancelled, then
// stops the generator, closes the external source and waits (bounded) for
// in-flight writes. Run may only be called once.
func (r *Relay) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return errors.New("relay: already running")
	}
	defer close(r.done)

	r.start(ctx)
	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return nil
		case ev := <-r.events:
			r.handle(ev)
		case <-r.selectC:
			r.selectTimer, r.selectC = nil, nil
			r.onSelectTimeout()
		case <-r.tickC:
			r.tick()
		}
	}
}

// Done is closed once Run has returned.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

// SubscriberConnected records a new subscriber.
func (r *Relay) SubscriberConnected(clientID string) {
	r.post(event{kind: evConnect, clientID: clientID})
}

// SubscriberDisconnected records a departed subscriber.
func (r *Relay) SubscriberDisconnected(clientID string) {
	r.post(event{kind: evDisconnect, clientID: clientID})
}

// Status is safe to call from any goroutine.
func (r *Relay) Status() Status {
	return Status{
		Source:          State(r.stateView.Load()),
		Subscribers:     int(r.subscribersView.Load()),
		GeneratorActive: r.tickingView.Load(),
	}
}

func (r *Relay) post(ev event) {
	select {
	case r.events <- ev:
	case <-r.quit:
	}
}

func (r *Relay) handle(ev event) {
	switch ev.kind {
	case evBatch:
		r.onBatch(ev.batch)
	case evSourceError:
		r.onSourceError(ev.err)
	case evSubscribeFailed:
		r.onSubscribeFailed(ev.err)
	case evConnect:
		r.onConnect(ev.clientID)
	case evDisconnect:
		r.onDisconnect(ev.clientID)
	}
}

func (r *Relay) shutdown() {
	close(r.quit)
	r.stopGenerator()
	r.stopSelectTimer()

	if src := r.source; src != nil {
		r.source = nil
		r.closeSource(src)
	}

	drained := make(chan struct{})
	go func() {
		r.writes.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(r.opts.CloseTimeout):
		r.logger.Warn("persistence writes still in flight at shutdown")
	}
	r.logger.Info("relay stopped")
}

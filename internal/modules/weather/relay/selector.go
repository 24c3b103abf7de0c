package relay

import (
	"context"
	"fmt"
	"time"

	"weatherlive/internal/metrics"
	"weatherlive/internal/modules/weather/types"
)

const (
	reasonNotConfigured   = "not configured"
	reasonSetupFailed     = "source setup failed"
	reasonSubscribeFailed = "subscribe failed"
	reasonConnectTimeout  = "connect timeout"
	reasonSourceError     = "source error"
)

// start performs source selection. It runs on the event loop before any
// event is handled.
func (r *Relay) start(ctx context.Context) {
	r.setState(StatePending)

	if r.factory == nil {
		r.logger.Warn("external source not configured, using synthetic readings",
			"delay", r.opts.SyntheticDelay)
		r.armSelectTimer(r.opts.SyntheticDelay, reasonNotConfigured)
		return
	}

	src, err := r.factory()
	if err != nil {
		r.logger.Warn("external source unavailable, using synthetic readings",
			"error", err, "delay", r.opts.SyntheticDelay)
		r.armSelectTimer(r.opts.SyntheticDelay, reasonSetupFailed)
		return
	}
	r.source = src
	r.armSelectTimer(r.opts.ConnectTimeout, reasonConnectTimeout)
	r.logger.Info("subscribing to external source", "timeout", r.opts.ConnectTimeout)

	onBatch := func(batch [][]byte) { r.post(event{kind: evBatch, batch: batch}) }
	onError := func(err error) { r.post(event{kind: evSourceError, err: err}) }
	go func() {
		if err := src.Subscribe(ctx, onBatch, onError); err != nil {
			r.post(event{kind: evSubscribeFailed, err: err})
		}
	}()
}

func (r *Relay) onBatch(batch [][]byte) {
	switch r.state {
	case StateSynthetic:
		r.logger.Debug("dropping external batch after fallback", "events", len(batch))
		return
	case StatePending:
		r.stopSelectTimer()
		r.setState(StateExternal)
		r.logger.Info("external source active", "events", len(batch))
	}

	now := r.opts.Now()
	for _, body := range batch {
		reading, err := types.DecodeExternal(body, now)
		if err != nil {
			metrics.EventsRejected.Inc()
			r.logger.Warn("skipping malformed external event", "error", err, "bytes", len(body))
			continue
		}
		r.publish(reading)
	}
}

func (r *Relay) onSourceError(err error) {
	if r.state == StateSynthetic {
		return
	}
	r.logger.Warn("external source failed, switching to synthetic readings",
		"error", err, "state", r.state.String())
	r.enterSynthetic(reasonSourceError)
}

// onSubscribeFailed treats a failed subscription like a setup failure: the
// fallback happens after the short start delay.
func (r *Relay) onSubscribeFailed(err error) {
	if r.state != StatePending {
		return
	}
	r.logger.Warn("external subscription failed, using synthetic readings",
		"error", err, "delay", r.opts.SyntheticDelay)
	r.armSelectTimer(r.opts.SyntheticDelay, reasonSubscribeFailed)
}

func (r *Relay) onSelectTimeout() {
	if r.state != StatePending {
		return
	}
	if r.pendingReason == reasonConnectTimeout {
		r.logger.Warn("external source sent nothing before timeout, switching to synthetic readings",
			"timeout", r.opts.ConnectTimeout)
	}
	r.enterSynthetic(r.pendingReason)
}

// enterSynthetic is terminal: the external source is closed and never
// retried.
func (r *Relay) enterSynthetic(reason string) {
	r.stopSelectTimer()
	r.setState(StateSynthetic)
	r.logger.Info("synthetic generator selected", "reason", reason, "subscribers", r.subscribers)

	if src := r.source; src != nil {
		r.source = nil
		go r.closeSource(src)
	}
	if r.subscribers > 0 {
		r.startGenerator()
	}
}

func (r *Relay) closeSource(src Source) {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.CloseTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- src.Close(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			r.logger.Warn("close external source", "error", err)
		}
	case <-ctx.Done():
		r.logger.Warn("close external source", "error", fmt.Errorf("gave up waiting: %w", ctx.Err()))
	}
}

func (r *Relay) armSelectTimer(d time.Duration, reason string) {
	r.stopSelectTimer()
	r.pendingReason = reason
	r.selectTimer = time.NewTimer(d)
	r.selectC = r.selectTimer.C
}

func (r *Relay) stopSelectTimer() {
	if r.selectTimer != nil {
		r.selectTimer.Stop()
	}
	r.selectTimer, r.selectC = nil, nil
}

func (r *Relay) setState(s State) {
	r.state = s
	r.stateView.Store(int32(s))
	switch s {
	case StateExternal:
		metrics.SourceState.Set(metrics.SourceExternal)
	case StateSynthetic:
		metrics.SourceState.Set(metrics.SourceSynthetic)
	default:
		metrics.SourceState.Set(metrics.SourcePending)
	}
}

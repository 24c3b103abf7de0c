package relay

import (
	"context"
	"time"

	"weatherlive/internal/metrics"
	"weatherlive/internal/modules/weather/types"
)

// publish fans r out to every subscriber and hands it to the sink without
// waiting for the write.
func (r *Relay) publish(reading types.Reading) {
	r.fanout.Broadcast(EventWeatherUpdate, reading)
	metrics.ReadingsPublished.WithLabelValues(metrics.Origin(reading.Synthetic)).Inc()

	if r.sink == nil {
		return
	}
	r.writes.Add(1)
	go func() {
		defer r.writes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.WriteTimeout)
		defer cancel()
		if err := r.sink.Write(ctx, reading); err != nil {
			r.logger.Error("persist reading", "location", reading.LocationName, "error", err)
		}
	}()
}

func (r *Relay) onConnect(clientID string) {
	r.setSubscribers(r.subscribers + 1)
	r.logger.Info("subscriber connected", "client_id", clientID, "subscribers", r.subscribers)

	r.fanout.Send(clientID, EventConnected, ConnectedData{
		Message:   connectedMessage,
		ClientID:  clientID,
		Timestamp: r.opts.Now().UTC().Format(time.RFC3339Nano),
	})
	r.fanout.Broadcast(EventClientCount, r.subscribers)

	if r.subscribers == 1 && r.state == StateSynthetic {
		r.startGenerator()
	}
}

func (r *Relay) onDisconnect(clientID string) {
	if r.subscribers > 0 {
		r.setSubscribers(r.subscribers - 1)
	}
	r.logger.Info("subscriber disconnected", "client_id", clientID, "subscribers", r.subscribers)

	r.fanout.Broadcast(EventClientCount, r.subscribers)

	if r.subscribers == 0 {
		r.stopGenerator()
	}
}

// startGenerator replaces any running ticker and emits one reading at once.
func (r *Relay) startGenerator() {
	r.stopGenerator()
	r.ticker = time.NewTicker(r.opts.TickInterval)
	r.tickC = r.ticker.C
	r.tickingView.Store(true)
	r.logger.Debug("generator started", "interval", r.opts.TickInterval)
	r.tick()
}

func (r *Relay) stopGenerator() {
	if r.ticker == nil {
		return
	}
	r.ticker.Stop()
	r.ticker, r.tickC = nil, nil
	r.tickingView.Store(false)
	r.logger.Debug("generator stopped")
}

func (r *Relay) tick() {
	if r.state != StateSynthetic || r.subscribers == 0 {
		return
	}
	r.publish(r.opts.Generator.Tick())
}

func (r *Relay) setSubscribers(n int) {
	r.subscribers = n
	r.subscribersView.Store(int64(n))
	metrics.ConnectedClients.Set(float64(n))
}

package httpapi

import (
	"net/http"
	"time"

	"weatherlive/internal/modules/weather/relay"
	"weatherlive/internal/utils"
)

// RelayStatus reports the relay's current state.
type RelayStatus interface {
	Status() relay.Status
}

// StoreStatus reports persistence health.
type StoreStatus interface {
	IsReady() bool
	BreakerState() string
}

type Health struct {
	Status             string `json:"status"`
	ConnectedClients   int    `json:"connectedClients"`
	Timestamp          string `json:"timestamp"`
	Source             string `json:"source"`
	Persistence        string `json:"persistence"`
	PersistenceBreaker string `json:"persistenceBreaker"`
	GeneratorActive    bool   `json:"generatorActive"`
}

type healthchecker struct {
	relay RelayStatus
	store StoreStatus
	now   func() time.Time
}

// handleHealthz always answers 200; a missing store or external source is a
// degraded mode, not a failure.
func (h *healthchecker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := h.relay.Status()
	persistence := "disconnected"
	if h.store.IsReady() {
		persistence = "connected"
	}
	utils.WriteJSON(w, http.StatusOK, Health{
		Status:             "ok",
		ConnectedClients:   st.Subscribers,
		Timestamp:          h.now().UTC().Format(time.RFC3339Nano),
		Source:             st.Source.String(),
		Persistence:        persistence,
		PersistenceBreaker: h.store.BreakerState(),
		GeneratorActive:    st.GeneratorActive,
	})
}

func registerHealthcheck(mux *http.ServeMux, rs RelayStatus, ss StoreStatus, now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	h := &healthchecker{relay: rs, store: ss, now: now}
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /health", h.handleHealthz)
}

package httpapi

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Deps struct {
	Relay RelayStatus
	Store StoreStatus
	// WebSocket serves GET /ws when set.
	WebSocket http.Handler
	StaticDir string
	Now       func() time.Time
}

func NewMux(deps Deps) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, deps.Relay, deps.Store, deps.Now)
	mux.Handle("GET /metrics", promhttp.Handler())
	if deps.WebSocket != nil {
		mux.Handle("GET /ws", deps.WebSocket)
	}
	if deps.StaticDir != "" {
		mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(deps.StaticDir))))
	}
	return mux
}

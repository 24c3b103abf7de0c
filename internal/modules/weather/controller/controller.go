package controller

import (
	"context"
	"log/slog"
	"net/http"

	"weatherlive/internal/modules/weather/types"
	"weatherlive/internal/websocket"
)

// Subscriber request types.
const (
	RequestLatestData = "requestLatestData"
	RequestCityData   = "requestCityData"
)

// Queries is the read side of the persistence sink.
type Queries interface {
	Latest(ctx context.Context, n int) []types.Reading
	ByLocation(ctx context.Context, name string, limit int) []types.Reading
	Statistics(ctx context.Context) []types.Statistic
}

// Sender delivers a message to one subscriber.
type Sender interface {
	Send(clientID, event string, data any)
}

type WeatherController interface {
	RegisterRoutes(mux *http.ServeMux)
	HandleRequest(ctx context.Context, clientID string, req websocket.Inbound)
}

type weatherControllerImpl struct {
	queries Queries
	sender  Sender
	logger  *slog.Logger
}

func NewWeatherController(queries Queries, sender Sender, logger *slog.Logger) WeatherController {
	if logger == nil {
		logger = slog.Default()
	}
	return &weatherControllerImpl{queries: queries, sender: sender, logger: logger}
}

func (c *weatherControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", c.handleDashboard)
	mux.HandleFunc("GET /api/weather/latest", c.handleLatest)
	mux.HandleFunc("GET /api/weather/city/{name}", c.handleCity)
	mux.HandleFunc("GET /api/weather/statistics", c.handleStatistics)
}

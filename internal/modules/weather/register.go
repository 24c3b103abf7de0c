package weather

import (
	"log/slog"
	"net/http"

	"weatherlive/internal/modules/weather/controller"
	"weatherlive/internal/websocket"
)

// RegisterFeature mounts the weather query routes and answers subscriber
// requests arriving on hub.
func RegisterFeature(mux *http.ServeMux, queries controller.Queries, hub *websocket.Hub, logger *slog.Logger) {
	weatherController := controller.NewWeatherController(queries, hub, logger)
	weatherController.RegisterRoutes(mux)
	hub.SetRequestHandler(weatherController.HandleRequest)
}

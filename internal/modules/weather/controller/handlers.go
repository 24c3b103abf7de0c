package controller

import (
	"bytes"
	"net/http"

	"weatherlive/internal/modules/weather/generator"
	"weatherlive/internal/modules/weather/views"
	"weatherlive/internal/utils"
)

const dashboardMaxRows = 50

func (c *weatherControllerImpl) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ref := generator.ReferenceSet()
	opts := make([]views.LocationOption, 0, len(ref))
	for _, reading := range ref {
		opts = append(opts, views.LocationOption{Name: reading.LocationName})
	}
	data := &views.DashboardData{
		Title:         "Live Weather",
		Locations:     opts,
		WebSocketPath: "/ws",
		MaxRows:       dashboardMaxRows,
	}

	var buf bytes.Buffer
	if err := views.RenderDashboard(&buf, data); err != nil {
		c.logger.Error("dashboard template render failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to render page")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(buf.Bytes()); err != nil {
		c.logger.Error("dashboard: write response failed", "error", err)
	}
}

func (c *weatherControllerImpl) handleLatest(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultLatestLimit)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	utils.WriteJSON(w, http.StatusOK, c.queries.Latest(r.Context(), limit))
}

func (c *weatherControllerImpl) handleCity(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		utils.WriteError(w, http.StatusBadRequest, "missing location name")
		return
	}

	limit, err := parseLimit(r, defaultCityLimit)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	utils.WriteJSON(w, http.StatusOK, c.queries.ByLocation(r.Context(), name, limit))
}

func (c *weatherControllerImpl) handleStatistics(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, c.queries.Statistics(r.Context()))
}

package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"iot-environment-server/internal/utils"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// ConnectionState is satisfied by the MQTT client.
type ConnectionState interface {
	IsConnected() bool
}

type healthchecker struct {
	db   Pinger
	mqtt ConnectionState
}

type healthStatus struct {
	Status string `json:"status"`
	MQTT   string `json:"mqtt,omitempty"`
}

// handleHealthz reports ok when the store answers. MQTT state is informational
// only; the query API works without a broker.
func (h *healthchecker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			slog.ErrorContext(r.Context(), "failed to check database connectivity", "error", err)
			utils.WriteError(w, http.StatusServiceUnavailable, "failed to check database connectivity")
			return
		}
	}

	status := healthStatus{Status: "ok"}
	if h.mqtt != nil {
		status.MQTT = "disconnected"
		if h.mqtt.IsConnected() {
			status.MQTT = "connected"
		}
	}
	utils.WriteJSON(w, http.StatusOK, status)
}

func registerHealthcheck(mux *http.ServeMux, db Pinger, mqtt ConnectionState) {
	h := &healthchecker{db: db, mqtt: mqtt}
	mux.HandleFunc("GET /healthz", h.handleHealthz)
}

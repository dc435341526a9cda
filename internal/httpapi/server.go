package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"iot-environment-server/internal/config"
)

func NewServer(cfg config.Config, mux *http.ServeMux, logger *slog.Logger) *http.Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           corsAllowAll(requestLogger(logger, mux)),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

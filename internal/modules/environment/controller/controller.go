package controller

import (
	"context"
	"net/http"
	"time"

	"iot-environment-server/internal/modules/environment/types"
)

// DefaultHistoryLimit is used when /history is called without ?limit=.
const DefaultHistoryLimit = 50

// QueryService is the read side the handlers need.
type QueryService interface {
	Latest(ctx context.Context) (types.Reading, bool, error)
	History(ctx context.Context, limit int) ([]types.Reading, error)
	Since(ctx context.Context, ts time.Time) ([]types.Reading, error)
}

type EnvironmentController interface {
	RegisterRoutes(mux *http.ServeMux)
}

type environmentControllerImpl struct {
	service      QueryService
	defaultLimit int
}

func NewEnvironmentController(service QueryService, defaultLimit int) EnvironmentController {
	if defaultLimit <= 0 {
		defaultLimit = DefaultHistoryLimit
	}
	return &environmentControllerImpl{service: service, defaultLimit: defaultLimit}
}

func (c *environmentControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/environment/latest", c.handleLatest)
	mux.HandleFunc("GET /api/environment/history", c.handleHistory)
	mux.HandleFunc("GET /api/environment/since", c.handleSince)
}

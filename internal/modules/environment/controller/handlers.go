package controller

import (
	"errors"
	"log/slog"
	"net/http"

	"iot-environment-server/internal/modules/environment/service"
	"iot-environment-server/internal/utils"
)

func (c *environmentControllerImpl) handleLatest(w http.ResponseWriter, r *http.Request) {
	reading, ok, err := c.service.Latest(r.Context())
	if err != nil {
		writeServiceError(w, r, "latest", err)
		return
	}
	if !ok {
		utils.WriteNoContent(w)
		return
	}
	utils.WriteJSON(w, http.StatusOK, reading)
}

func (c *environmentControllerImpl) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseHistoryQuery(r, c.defaultLimit)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	readings, err := c.service.History(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, "history", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, readings)
}

func (c *environmentControllerImpl) handleSince(w http.ResponseWriter, r *http.Request) {
	ts, err := parseSinceQuery(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	readings, err := c.service.Since(r.Context(), ts)
	if err != nil {
		writeServiceError(w, r, "since", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, readings)
}

func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, service.ErrMalformedInput):
		utils.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrStoreUnavailable):
		slog.WarnContext(r.Context(), op+": store unavailable", "error", err)
		utils.WriteError(w, http.StatusServiceUnavailable, "reading store unavailable")
	default:
		slog.ErrorContext(r.Context(), op+": query failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load readings")
	}
}

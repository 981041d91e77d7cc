package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"certify-manager/internal/config"
	"certify-manager/internal/model"
	"certify-manager/internal/service"
)

type ProgressHandler struct {
	app       *service.App
	logs      *service.ProgressLogger
	keepAlive time.Duration
}

func NewProgressHandler(app *service.App, logs *service.ProgressLogger) *ProgressHandler {
	return &ProgressHandler{
		app:       app,
		logs:      logs,
		keepAlive: config.SSEKeepAliveInterval,
	}
}

// List handles GET /api/v1/progress
func (h *ProgressHandler) List(c echo.Context) error {
	return c.JSON(http.StatusOK, h.app.Tracker().CurrentResults())
}

// Get handles GET /api/v1/progress/:id
func (h *ProgressHandler) Get(c echo.Context) error {
	state, ok := h.app.Tracker().Get(c.Param("id"))
	if !ok {
		return notFoundError(c, "Request progress")
	}
	return c.JSON(http.StatusOK, state)
}

// Logs handles GET /api/v1/progress/:id/logs
func (h *ProgressHandler) Logs(c echo.Context) error {
	resp, err := h.logs.GetLogs(c.Request().Context(), c.Param("id"))
	if err != nil {
		return internalError(c, "get progress logs", err)
	}
	return c.JSON(http.StatusOK, resp)
}

// Stream handles GET /api/v1/progress/stream as Server-Sent Events.
// The current state of every tracked request is sent first, then each change.
// An optional ?id= restricts the stream to one managed item.
func (h *ProgressHandler) Stream(c echo.Context) error {
	filter := c.QueryParam("id")
	events, cancel := h.app.Tracker().Subscribe(config.ProgressSubscriberBuffer)
	defer cancel()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return nil
	}
	for _, state := range h.app.Tracker().CurrentResults() {
		if filter != "" && state.ManagedItemID != filter {
			continue
		}
		if err := writeProgressEvent(w, state); err != nil {
			return nil
		}
	}
	w.Flush()

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return nil
			}
			w.Flush()

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if filter != "" && ev.State.ManagedItemID != filter {
				continue
			}
			keepAlive.Reset(h.keepAlive)

			if err := writeProgressEvent(w, ev.State); err != nil {
				log.Debug().Err(err).Msg("progress stream write failed")
				return nil
			}
			w.Flush()
		}
	}
}

func writeProgressEvent(w io.Writer, state model.RequestProgressState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: progress\nid: %s\ndata: %s\n\n", state.ManagedItemID, data)
	return err
}

package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"certify-manager/internal/config"
)

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

type StatusResponse struct {
	API               string `json:"api"`
	Database          string `json:"database"`
	Redis             string `json:"redis"`
	ManagedSites      int    `json:"managed_sites"`
	ActiveRequests    int    `json:"active_requests"`
	RegisteredContact string `json:"registered_contact,omitempty"`
}

type pinger interface {
	Health(ctx context.Context) error
}

type redisPinger interface {
	IsReady() bool
	Ping(ctx context.Context) error
}

// HealthHandler holds dependencies for health checks
type HealthHandler struct {
	db    pinger
	redis redisPinger
	app   engineStatus
}

type engineStatus interface {
	ManagedSiteCount() int
	ActiveRequestCount() int
	PrimaryContactEmail() string
}

// NewHealthHandler creates a new health handler with dependencies. redis may be nil.
func NewHealthHandler(db pinger, redis redisPinger, app engineStatus) *HealthHandler {
	return &HealthHandler{
		db:    db,
		redis: redis,
		app:   app,
	}
}

func Health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:    config.StatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.AppVersion,
	})
}

// Status returns detailed health status of all services
func (h *HealthHandler) Status(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), config.HealthCheckTimeout)
	defer cancel()

	response := StatusResponse{
		API:      config.StatusOK,
		Database: h.checkDatabase(ctx),
		Redis:    h.checkRedis(ctx),
	}
	if h.app != nil {
		response.ManagedSites = h.app.ManagedSiteCount()
		response.ActiveRequests = h.app.ActiveRequestCount()
		response.RegisteredContact = h.app.PrimaryContactEmail()
	}

	httpStatus := http.StatusOK
	if response.Database == config.StatusError {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, response)
}

// checkDatabase verifies database connectivity
func (h *HealthHandler) checkDatabase(ctx context.Context) string {
	if h.db == nil {
		return config.StatusError
	}

	if err := h.db.Health(ctx); err != nil {
		return config.StatusError
	}
	return config.StatusOK
}

// checkRedis verifies Redis connectivity; redis is optional
func (h *HealthHandler) checkRedis(ctx context.Context) string {
	if h.redis == nil || !h.redis.IsReady() {
		return config.StatusDisabled
	}

	if err := h.redis.Ping(ctx); err != nil {
		return config.StatusError
	}
	return config.StatusOK
}

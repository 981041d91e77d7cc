package handler

import (
	"github.com/labstack/echo/v4"

	"certify-manager/internal/metrics"
	"certify-manager/internal/service"
)

type RenewalHandler struct {
	app *service.App
}

func NewRenewalHandler(app *service.App) *RenewalHandler {
	return &RenewalHandler{app: app}
}

type RenewalStartedResponse struct {
	AutoRenewalsOnly bool   `json:"auto_renewals_only"`
	Message          string `json:"message"`
}

// RenewAll handles POST /api/v1/renewals?auto_only=true
func (h *RenewalHandler) RenewAll(c echo.Context) error {
	autoOnly := parseBoolQuery(c, "auto_only", true)

	metrics.ObserveRenewalRun("manual")
	h.app.Orchestrator().BeginRenewAll(c.Request().Context(), autoOnly)

	return acceptedResponse(c, RenewalStartedResponse{
		AutoRenewalsOnly: autoOnly,
		Message:          "renewal started",
	})
}

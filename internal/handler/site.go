package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"certify-manager/internal/service"
)

type SiteHandler struct {
	app *service.App
}

func NewSiteHandler(app *service.App) *SiteHandler {
	return &SiteHandler{app: app}
}

// List handles GET /api/v1/sites
func (h *SiteHandler) List(c echo.Context) error {
	sites, err := h.app.WebSiteList(c.Request().Context())
	if err != nil {
		return internalError(c, "list sites", err)
	}
	return c.JSON(http.StatusOK, sites)
}

// HostAddresses handles GET /api/v1/host/addresses
func (h *SiteHandler) HostAddresses(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]string{
		"addresses": h.app.HostIPAddresses(),
	})
}

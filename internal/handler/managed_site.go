package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"certify-manager/internal/model"
	"certify-manager/internal/service"
)

const managedSiteResource = "Managed site"

type ManagedSiteHandler struct {
	app *service.App
}

func NewManagedSiteHandler(app *service.App) *ManagedSiteHandler {
	return &ManagedSiteHandler{app: app}
}

type CreateManagedSiteRequest struct {
	SiteID             string `json:"site_id"`
	PrimaryDomain      string `json:"primary_domain"`
	IncludeInAutoRenew *bool  `json:"include_in_auto_renew"`
	ChallengeType      string `json:"challenge_type"`
	DNSProvider        string `json:"dns_provider"`
}

type SetPrimaryDomainRequest struct {
	Domain string `json:"domain"`
}

type SetAutoRenewRequest struct {
	IncludeInAutoRenew bool `json:"include_in_auto_renew"`
}

type SetChallengeRequest struct {
	ChallengeType string `json:"challenge_type"`
	DNSProvider   string `json:"dns_provider"`
}

// List handles GET /api/v1/managed-sites
func (h *ManagedSiteHandler) List(c echo.Context) error {
	return c.JSON(http.StatusOK, h.app.Store().List())
}

// Get handles GET /api/v1/managed-sites/:id
func (h *ManagedSiteHandler) Get(c echo.Context) error {
	site, ok := h.app.Store().Get(c.Param("id"))
	if !ok {
		return notFoundError(c, managedSiteResource)
	}
	return c.JSON(http.StatusOK, site)
}

// Create handles POST /api/v1/managed-sites
func (h *ManagedSiteHandler) Create(c echo.Context) error {
	var req CreateManagedSiteRequest
	if err := c.Bind(&req); err != nil {
		return badRequestError(c, "invalid request body")
	}
	if req.SiteID == "" {
		return badRequestError(c, "site_id is required")
	}

	ctx := c.Request().Context()
	sites, err := h.app.WebSiteList(ctx)
	if err != nil {
		return internalError(c, "list sites", err)
	}

	var website *model.SiteBindingItem
	for i := range sites {
		if sites[i].SiteID == req.SiteID {
			website = &sites[i]
			break
		}
	}
	if website == nil {
		return notFoundError(c, "Site")
	}

	session := h.app.NewManagedSite()
	if err := session.Populate(ctx, *website); err != nil {
		return serviceError(c, "populate managed site", "Site", err)
	}
	if req.PrimaryDomain != "" {
		if err := session.SetPrimaryDomain(req.PrimaryDomain); err != nil {
			return serviceError(c, "set primary domain", managedSiteResource, err)
		}
	}
	if req.IncludeInAutoRenew != nil {
		session.SetIncludeInAutoRenew(*req.IncludeInAutoRenew)
	}
	if req.ChallengeType != "" {
		if err := session.SetChallenge(req.ChallengeType, req.DNSProvider); err != nil {
			return serviceError(c, "set challenge", managedSiteResource, err)
		}
	}

	saved, err := session.Save(ctx)
	if err != nil {
		return serviceError(c, "save managed site", managedSiteResource, err)
	}

	return createdResponse(c, saved)
}

// Delete handles DELETE /api/v1/managed-sites/:id
func (h *ManagedSiteHandler) Delete(c echo.Context) error {
	id := c.Param("id")
	if _, ok := h.app.Store().Get(id); !ok {
		return notFoundError(c, managedSiteResource)
	}

	if err := h.app.Store().Delete(c.Request().Context(), id); err != nil {
		return databaseError(c, "delete managed site", err)
	}
	return noContentResponse(c)
}

// SetPrimaryDomain handles PUT /api/v1/managed-sites/:id/primary-domain
func (h *ManagedSiteHandler) SetPrimaryDomain(c echo.Context) error {
	var req SetPrimaryDomainRequest
	if err := c.Bind(&req); err != nil {
		return badRequestError(c, "invalid request body")
	}
	if req.Domain == "" {
		return badRequestError(c, "domain is required")
	}

	return h.edit(c, "set primary domain", func(s *service.EditSession) error {
		return s.SetPrimaryDomain(req.Domain)
	})
}

// SelectAll handles POST /api/v1/managed-sites/:id/domains/select-all
func (h *ManagedSiteHandler) SelectAll(c echo.Context) error {
	return h.edit(c, "select all domains", func(s *service.EditSession) error {
		s.SelectAll()
		return nil
	})
}

// SelectNone handles POST /api/v1/managed-sites/:id/domains/select-none
func (h *ManagedSiteHandler) SelectNone(c echo.Context) error {
	return h.edit(c, "select no domains", func(s *service.EditSession) error {
		s.SelectNone()
		return nil
	})
}

// SetAutoRenew handles PUT /api/v1/managed-sites/:id/auto-renew
func (h *ManagedSiteHandler) SetAutoRenew(c echo.Context) error {
	var req SetAutoRenewRequest
	if err := c.Bind(&req); err != nil {
		return badRequestError(c, "invalid request body")
	}

	return h.edit(c, "set auto renew", func(s *service.EditSession) error {
		s.SetIncludeInAutoRenew(req.IncludeInAutoRenew)
		return nil
	})
}

// SetChallenge handles PUT /api/v1/managed-sites/:id/challenge
func (h *ManagedSiteHandler) SetChallenge(c echo.Context) error {
	var req SetChallengeRequest
	if err := c.Bind(&req); err != nil {
		return badRequestError(c, "invalid request body")
	}

	return h.edit(c, "set challenge", func(s *service.EditSession) error {
		return s.SetChallenge(req.ChallengeType, req.DNSProvider)
	})
}

// RequestCertificate handles POST /api/v1/managed-sites/:id/request.
// The request runs in the background; progress is read from /progress.
func (h *ManagedSiteHandler) RequestCertificate(c echo.Context) error {
	id := c.Param("id")
	if err := h.app.Orchestrator().BeginCertificateRequest(c.Request().Context(), id); err != nil {
		return serviceError(c, "begin certificate request", managedSiteResource, err)
	}

	state, _ := h.app.Tracker().Get(id)
	return acceptedResponse(c, state)
}

func (h *ManagedSiteHandler) edit(c echo.Context, operation string, fn func(s *service.EditSession) error) error {
	session, err := h.app.EditManagedSite(c.Param("id"))
	if err != nil {
		return serviceError(c, operation, managedSiteResource, err)
	}

	if err := fn(session); err != nil {
		return serviceError(c, operation, managedSiteResource, err)
	}

	saved, err := session.Save(c.Request().Context())
	if err != nil {
		return serviceError(c, operation, managedSiteResource, err)
	}
	return c.JSON(http.StatusOK, saved)
}

package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"certify-manager/internal/model"
	"certify-manager/internal/service"
)

type VaultHandler struct {
	app *service.App
}

func NewVaultHandler(app *service.App) *VaultHandler {
	return &VaultHandler{app: app}
}

type VaultResponse struct {
	Items                 []model.VaultItem `json:"items"`
	ACMESummary           string            `json:"acme_summary"`
	VaultSummary          string            `json:"vault_summary"`
	PrimaryContactEmail   string            `json:"primary_contact_email,omitempty"`
	HasRegisteredContacts bool              `json:"has_registered_contacts"`
}

type ImportPreviewResponse struct {
	MergeSANs  bool                 `json:"merge_sans"`
	Candidates []*model.ManagedSite `json:"candidates"`
}

type ImportRequest struct {
	IDs []string `json:"ids"`
}

// Get handles GET /api/v1/vault. ?refresh=true reloads the vault first.
func (h *VaultHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	if parseBoolQuery(c, "refresh", false) {
		if err := h.app.LoadVaultTree(ctx); err != nil {
			return internalError(c, "load vault", err)
		}
	}

	return c.JSON(http.StatusOK, VaultResponse{
		Items:                 h.app.VaultTree(),
		ACMESummary:           h.app.ACMESummary(),
		VaultSummary:          h.app.VaultSummary(),
		PrimaryContactEmail:   h.app.PrimaryContactEmail(),
		HasRegisteredContacts: h.app.HasRegisteredContacts(ctx),
	})
}

// AddContact handles POST /api/v1/contacts
func (h *VaultHandler) AddContact(c echo.Context) error {
	var req model.ContactRegistration
	if err := c.Bind(&req); err != nil {
		return badRequestError(c, "invalid request body")
	}

	if err := h.app.Importer().AddContact(c.Request().Context(), req); err != nil {
		return serviceError(c, "add contact", "Contact", err)
	}

	return createdResponse(c, map[string]string{"email_address": req.EmailAddress})
}

// ImportPreview handles GET /api/v1/import/preview?merge=true
func (h *VaultHandler) ImportPreview(c echo.Context) error {
	merge := parseBoolQuery(c, "merge", h.app.Options().ImportMergeMode)

	candidates, err := h.app.Importer().PreviewImport(c.Request().Context(), merge)
	if err != nil {
		return internalError(c, "preview import", err)
	}

	return c.JSON(http.StatusOK, ImportPreviewResponse{MergeSANs: merge, Candidates: candidates})
}

// Import handles POST /api/v1/import. An empty id list imports every previewed candidate.
func (h *VaultHandler) Import(c echo.Context) error {
	var req ImportRequest
	if err := c.Bind(&req); err != nil {
		return badRequestError(c, "invalid request body")
	}

	imported, err := h.app.Importer().CommitImport(c.Request().Context(), req.IDs)
	if err != nil {
		return databaseError(c, "import managed sites", err)
	}

	return c.JSON(http.StatusOK, imported)
}

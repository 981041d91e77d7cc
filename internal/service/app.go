package service

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
	psnet "github.com/shirou/gopsutil/v3/net"

	"certify-manager/internal/model"
)

// AppDeps are the components an App is assembled from
type AppDeps struct {
	Store        *ManagedSiteStore
	Tracker      *ProgressTracker
	Orchestrator *RenewalOrchestrator
	Importer     *ImportReconciler
	Vault        VaultManager
	Domains      DomainOptionSource
	Discovery    SiteDiscovery
}

// AppOptions are the user settings the App consults
type AppOptions struct {
	IgnoreStoppedSites bool
	ImportMergeMode    bool
}

// App is the application context: it owns the engine components and the
// derived vault view, and is passed explicitly to everything that needs it
type App struct {
	deps   AppDeps
	opts   AppOptions
	logger zerolog.Logger

	interfaces func() (psnet.InterfaceStatList, error)

	mu           sync.RWMutex
	vaultTree    []model.VaultItem
	acmeSummary  string
	vaultSummary string
	primaryEmail string
}

func NewApp(deps AppDeps, opts AppOptions, logger zerolog.Logger) *App {
	a := &App{
		deps:       deps,
		opts:       opts,
		logger:     logger.With().Str("component", "app").Logger(),
		interfaces: psnet.Interfaces,
		vaultTree:  []model.VaultItem{},
	}

	if deps.Store != nil && deps.Importer != nil {
		deps.Store.SetBootstrapper(deps.Importer)
	}
	if deps.Importer != nil {
		deps.Importer.SetContactsChangedCallback(func(ctx context.Context) {
			if err := a.LoadVaultTree(ctx); err != nil {
				a.logger.Warn().Err(err).Msg("failed to refresh vault after contact change")
			}
		})
	}

	return a
}

func (a *App) Store() *ManagedSiteStore { return a.deps.Store }
func (a *App) Tracker() *ProgressTracker { return a.deps.Tracker }
func (a *App) Orchestrator() *RenewalOrchestrator { return a.deps.Orchestrator }
func (a *App) Importer() *ImportReconciler { return a.deps.Importer }
func (a *App) Options() AppOptions { return a.opts }

// Start loads the managed sites and the vault view
func (a *App) Start(ctx context.Context) error {
	if _, err := a.LoadSettings(ctx); err != nil {
		return err
	}
	if err := a.LoadVaultTree(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("vault unavailable at startup")
	}
	return nil
}

// Close waits for background requests and releases progress subscribers
func (a *App) Close(ctx context.Context) error {
	err := a.deps.Orchestrator.Wait(ctx)
	a.deps.Tracker.CloseSubscriptions()
	if err != nil {
		return fmt.Errorf("background requests still running: %w", err)
	}
	return nil
}

// LoadSettings reloads the managed sites from storage
func (a *App) LoadSettings(ctx context.Context) ([]*model.ManagedSite, error) {
	return a.deps.Store.LoadAll(ctx)
}

// LoadVaultTree rebuilds the vault view and the summaries derived from it
func (a *App) LoadVaultTree(ctx context.Context) error {
	regs, err := a.deps.Vault.GetRegistrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to load registrations: %w", err)
	}
	identifiers, err := a.deps.Vault.GetIdentifiers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load identifiers: %w", err)
	}
	certs, err := a.deps.Vault.GetCertificates(ctx)
	if err != nil {
		return fmt.Errorf("failed to load certificates: %w", err)
	}

	tree := []model.VaultItem{
		{ID: "registrations", Name: "Registrations", ItemType: model.VaultItemTypeGroup, Children: regs},
		{ID: "identifiers", Name: "Identifiers", ItemType: model.VaultItemTypeGroup, Children: identifiers},
		{ID: "certificates", Name: "Certificates", ItemType: model.VaultItemTypeGroup, Children: certs},
	}

	primaryEmail := ""
	if len(regs) > 0 {
		primaryEmail = regs[0].Name
	}

	acmeSummary := a.deps.Vault.GetAcmeSummary(ctx)
	vaultSummary := a.deps.Vault.GetVaultSummary(ctx)

	a.mu.Lock()
	a.vaultTree = tree
	a.primaryEmail = primaryEmail
	a.acmeSummary = acmeSummary
	a.vaultSummary = vaultSummary
	a.mu.Unlock()

	return nil
}

func (a *App) VaultTree() []model.VaultItem {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]model.VaultItem(nil), a.vaultTree...)
}

func (a *App) ACMESummary() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.acmeSummary
}

func (a *App) VaultSummary() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.vaultSummary
}

// PrimaryContactEmail returns the email of the first registered contact
func (a *App) PrimaryContactEmail() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.primaryEmail
}

func (a *App) HasRegisteredContacts(ctx context.Context) bool {
	return a.deps.Vault.HasRegisteredContacts(ctx)
}

func (a *App) HasRequestsInProgress() bool {
	return a.deps.Tracker.HasRequestsInProgress()
}

func (a *App) ManagedSiteCount() int {
	return a.deps.Store.Count()
}

// ActiveRequestCount returns the number of requests not yet finished
func (a *App) ActiveRequestCount() int {
	return a.deps.Tracker.ActiveCount()
}

// WebSiteList returns the discoverable sites, honouring the stopped-site setting
func (a *App) WebSiteList(ctx context.Context) ([]model.SiteBindingItem, error) {
	return a.deps.Discovery.GetPrimarySites(ctx, a.opts.IgnoreStoppedSites)
}

// HostIPAddresses lists the non-loopback addresses of this host. Lookup
// failures yield an empty list.
func (a *App) HostIPAddresses() []string {
	ifaces, err := a.interfaces()
	if err != nil {
		a.logger.Warn().Err(err).Msg("failed to list host interfaces")
		return []string{}
	}

	addrs := []string{}
	for _, iface := range ifaces {
		for _, addr := range iface.Addrs {
			ip, _, err := net.ParseCIDR(addr.Addr)
			if err != nil {
				ip = net.ParseIP(addr.Addr)
			}
			if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				continue
			}
			addrs = append(addrs, ip.String())
		}
	}
	return addrs
}

// NewManagedSite starts an edit session for a new, unmaterialized site
func (a *App) NewManagedSite() *EditSession {
	return NewEditSession(model.NewManagedSite(), a.deps.Store, a.deps.Domains)
}

// EditManagedSite starts an edit session for a stored site
func (a *App) EditManagedSite(id string) (*EditSession, error) {
	site, ok := a.deps.Store.Get(id)
	if !ok {
		return nil, model.ErrNotFound
	}
	return NewEditSession(site, a.deps.Store, a.deps.Domains), nil
}

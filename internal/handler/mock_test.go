package handler

import (
	"context"
	"sync"

	"certify-manager/internal/model"
	"certify-manager/internal/service"
)

// memoryPersister implements service.ManagedSitePersister in memory.
type memoryPersister struct {
	mu    sync.Mutex
	sites []*model.ManagedSite
}

func (p *memoryPersister) GetManagedSites(ctx context.Context) ([]*model.ManagedSite, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sites, nil
}

func (p *memoryPersister) SaveManagedSites(ctx context.Context, sites []*model.ManagedSite) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sites = sites
	return nil
}

// succeedingIssuer implements service.CertificateIssuer and issues every request.
type succeedingIssuer struct{}

func (succeedingIssuer) PerformCertificateRequest(ctx context.Context, cfg *model.RequestConfig, site *model.ManagedSite, progress service.ProgressReporter) (*model.CertificateRequestResult, error) {
	progress.Report(model.RequestProgressState{CurrentState: model.RequestStateSuccess, Message: "issued"})
	return &model.CertificateRequestResult{ManagedItemID: site.ID, IsSuccess: true}, nil
}

func (succeedingIssuer) PerformRenewalAllManagedSites(ctx context.Context, autoRenewalsOnly bool, trackers map[string]service.ProgressReporter) (map[string]*model.CertificateRequestResult, error) {
	results := map[string]*model.CertificateRequestResult{}
	for id, reporter := range trackers {
		reporter.Report(model.RequestProgressState{CurrentState: model.RequestStateSuccess})
		results[id] = &model.CertificateRequestResult{ManagedItemID: id, IsSuccess: true}
	}
	return results, nil
}

// stubVault implements service.VaultManager over fixed identifiers.
type stubVault struct {
	mu          sync.Mutex
	contacts    []string
	identifiers []model.VaultItem
}

func (v *stubVault) ImportManagedSitesFromVault(ctx context.Context, mergeSANs bool) ([]*model.ManagedSite, error) {
	return service.BuildImportCandidates(v.identifiers, mergeSANs), nil
}

func (v *stubVault) GetRegistrations(ctx context.Context) ([]model.VaultItem, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	items := []model.VaultItem{}
	for _, c := range v.contacts {
		items = append(items, model.VaultItem{ID: c, Name: c, ItemType: model.VaultItemTypeRegistration})
	}
	return items, nil
}

func (v *stubVault) GetIdentifiers(ctx context.Context) ([]model.VaultItem, error) {
	return v.identifiers, nil
}

func (v *stubVault) GetCertificates(ctx context.Context) ([]model.VaultItem, error) {
	return []model.VaultItem{}, nil
}

func (v *stubVault) AddRegisteredContact(ctx context.Context, reg model.ContactRegistration) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.contacts = append(v.contacts, reg.EmailAddress)
	return nil
}

func (v *stubVault) RemoveExtraContacts(ctx context.Context, keepEmail string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.contacts = []string{keepEmail}
	return nil
}

func (v *stubVault) HasRegisteredContacts(ctx context.Context) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.contacts) > 0
}

func (v *stubVault) GetAcmeSummary(ctx context.Context) string  { return "staging" }
func (v *stubVault) GetVaultSummary(ctx context.Context) string { return "vault" }

// stubSites implements service.SiteDiscovery and service.DomainOptionSource.
type stubSites struct {
	sites []model.SiteBindingItem
}

func (s *stubSites) GetPrimarySites(ctx context.Context, ignoreStoppedSites bool) ([]model.SiteBindingItem, error) {
	return s.sites, nil
}

func (s *stubSites) GetDomainOptionsFromSite(ctx context.Context, siteID string) ([]*model.DomainOption, error) {
	for _, site := range s.sites {
		if site.SiteID != siteID {
			continue
		}
		opts := []*model.DomainOption{}
		for i, host := range site.Hosts {
			opts = append(opts, &model.DomainOption{Domain: host, IsSelected: true, IsPrimaryDomain: i == 0})
		}
		return opts, nil
	}
	return nil, model.ErrNotFound
}

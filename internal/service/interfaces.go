package service

import (
	"context"

	"certify-manager/internal/model"
)

// ProgressReporter receives progress updates for one tracked request
type ProgressReporter interface {
	Report(update model.RequestProgressState)
}

// ManagedSitePersister loads and stores the complete managed site list
type ManagedSitePersister interface {
	GetManagedSites(ctx context.Context) ([]*model.ManagedSite, error)
	SaveManagedSites(ctx context.Context, sites []*model.ManagedSite) error
}

// CertificateIssuer performs certificate requests and batch renewals
type CertificateIssuer interface {
	PerformCertificateRequest(ctx context.Context, cfg *model.RequestConfig, site *model.ManagedSite, progress ProgressReporter) (*model.CertificateRequestResult, error)
	PerformRenewalAllManagedSites(ctx context.Context, autoRenewalsOnly bool, trackers map[string]ProgressReporter) (map[string]*model.CertificateRequestResult, error)
}

// VaultManager exposes stored ACME registrations, identifiers and certificates
type VaultManager interface {
	ImportManagedSitesFromVault(ctx context.Context, mergeSANs bool) ([]*model.ManagedSite, error)
	GetRegistrations(ctx context.Context) ([]model.VaultItem, error)
	GetIdentifiers(ctx context.Context) ([]model.VaultItem, error)
	GetCertificates(ctx context.Context) ([]model.VaultItem, error)
	AddRegisteredContact(ctx context.Context, reg model.ContactRegistration) error
	RemoveExtraContacts(ctx context.Context, keepEmail string) error
	HasRegisteredContacts(ctx context.Context) bool
	GetAcmeSummary(ctx context.Context) string
	GetVaultSummary(ctx context.Context) string
}

// DomainOptionSource lists the candidate domains of a discovered site
type DomainOptionSource interface {
	GetDomainOptionsFromSite(ctx context.Context, siteID string) ([]*model.DomainOption, error)
}

// SiteDiscovery enumerates locally hosted sites
type SiteDiscovery interface {
	GetPrimarySites(ctx context.Context, ignoreStoppedSites bool) ([]model.SiteBindingItem, error)
}

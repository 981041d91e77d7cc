package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"certify-manager/internal/model"
	"certify-manager/pkg/acme"
)

// mockPersister implements ManagedSitePersister for store tests.
type mockPersister struct {
	mock.Mock
}

func (m *mockPersister) GetManagedSites(ctx context.Context) ([]*model.ManagedSite, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.ManagedSite), args.Error(1)
}

func (m *mockPersister) SaveManagedSites(ctx context.Context, sites []*model.ManagedSite) error {
	args := m.Called(ctx, sites)
	return args.Error(0)
}

// mockIssuer implements CertificateIssuer. Return values may be given as
// functions to compute the result from the call arguments.
type mockIssuer struct {
	mock.Mock
}

func (m *mockIssuer) PerformCertificateRequest(ctx context.Context, cfg *model.RequestConfig, site *model.ManagedSite, progress ProgressReporter) (*model.CertificateRequestResult, error) {
	args := m.Called(ctx, cfg, site, progress)
	if fn, ok := args.Get(0).(func(*model.ManagedSite, ProgressReporter) *model.CertificateRequestResult); ok {
		return fn(site, progress), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CertificateRequestResult), args.Error(1)
}

func (m *mockIssuer) PerformRenewalAllManagedSites(ctx context.Context, autoRenewalsOnly bool, trackers map[string]ProgressReporter) (map[string]*model.CertificateRequestResult, error) {
	args := m.Called(ctx, autoRenewalsOnly, trackers)
	if fn, ok := args.Get(0).(func(map[string]ProgressReporter) map[string]*model.CertificateRequestResult); ok {
		return fn(trackers), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]*model.CertificateRequestResult), args.Error(1)
}

// mockVault implements VaultManager.
type mockVault struct {
	mock.Mock
}

func (m *mockVault) ImportManagedSitesFromVault(ctx context.Context, mergeSANs bool) ([]*model.ManagedSite, error) {
	args := m.Called(ctx, mergeSANs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.ManagedSite), args.Error(1)
}

func (m *mockVault) vaultItems(args mock.Arguments) ([]model.VaultItem, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.VaultItem), args.Error(1)
}

func (m *mockVault) GetRegistrations(ctx context.Context) ([]model.VaultItem, error) {
	return m.vaultItems(m.Called(ctx))
}

func (m *mockVault) GetIdentifiers(ctx context.Context) ([]model.VaultItem, error) {
	return m.vaultItems(m.Called(ctx))
}

func (m *mockVault) GetCertificates(ctx context.Context) ([]model.VaultItem, error) {
	return m.vaultItems(m.Called(ctx))
}

func (m *mockVault) AddRegisteredContact(ctx context.Context, reg model.ContactRegistration) error {
	return m.Called(ctx, reg).Error(0)
}

func (m *mockVault) RemoveExtraContacts(ctx context.Context, keepEmail string) error {
	return m.Called(ctx, keepEmail).Error(0)
}

func (m *mockVault) HasRegisteredContacts(ctx context.Context) bool {
	return m.Called(ctx).Bool(0)
}

func (m *mockVault) GetAcmeSummary(ctx context.Context) string {
	return m.Called(ctx).String(0)
}

func (m *mockVault) GetVaultSummary(ctx context.Context) string {
	return m.Called(ctx).String(0)
}

// mockDomainSource implements DomainOptionSource.
type mockDomainSource struct {
	mock.Mock
}

func (m *mockDomainSource) GetDomainOptionsFromSite(ctx context.Context, siteID string) ([]*model.DomainOption, error) {
	args := m.Called(ctx, siteID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.DomainOption), args.Error(1)
}

// mockDiscovery implements SiteDiscovery.
type mockDiscovery struct {
	mock.Mock
}

func (m *mockDiscovery) GetPrimarySites(ctx context.Context, ignoreStoppedSites bool) ([]model.SiteBindingItem, error) {
	args := m.Called(ctx, ignoreStoppedSites)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.SiteBindingItem), args.Error(1)
}

// recordingReporter collects every report it receives.
type recordingReporter struct {
	mu     sync.Mutex
	states []model.RequestProgressState
}

func (r *recordingReporter) Report(state model.RequestProgressState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recordingReporter) Last() model.RequestProgressState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return model.RequestProgressState{}
	}
	return r.states[len(r.states)-1]
}

// memorySiteRepo is an in-memory managedSiteRepository.
type memorySiteRepo struct {
	mu    sync.Mutex
	sites []*model.ManagedSite
	err   error
}

func (r *memorySiteRepo) List(ctx context.Context) ([]*model.ManagedSite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return cloneSites(r.sites), nil
}

func (r *memorySiteRepo) ReplaceAll(ctx context.Context, sites []*model.ManagedSite) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sites = cloneSites(sites)
	return nil
}

// memoryVaultRepo is an in-memory vaultRepository.
type memoryVaultRepo struct {
	mu            sync.Mutex
	registrations []model.Registration
	identifiers   []model.VaultIdentifier
	certificates  []model.VaultCertificate
	nextID        int
}

func (r *memoryVaultRepo) id() string {
	r.nextID++
	return fmt.Sprintf("v%d", r.nextID)
}

func (r *memoryVaultRepo) ListRegistrations(ctx context.Context) ([]model.Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Registration(nil), r.registrations...), nil
}

func (r *memoryVaultRepo) SaveRegistration(ctx context.Context, reg *model.Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.registrations {
		if existing.EmailAddress == reg.EmailAddress {
			r.registrations[i].Account = reg.Account
			return nil
		}
	}
	reg.ID = r.id()
	reg.CreatedAt = time.Now()
	r.registrations = append(r.registrations, *reg)
	return nil
}

func (r *memoryVaultRepo) DeleteRegistrationsExcept(ctx context.Context, email string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []model.Registration
	for _, reg := range r.registrations {
		if reg.EmailAddress == email {
			kept = append(kept, reg)
		}
	}
	removed := int64(len(r.registrations) - len(kept))
	r.registrations = kept
	return removed, nil
}

func (r *memoryVaultRepo) ListIdentifiers(ctx context.Context) ([]model.VaultIdentifier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.VaultIdentifier(nil), r.identifiers...), nil
}

func (r *memoryVaultRepo) SaveIdentifier(ctx context.Context, identifier *model.VaultIdentifier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.identifiers {
		if existing.Domain == identifier.Domain && existing.GroupID == identifier.GroupID {
			return nil
		}
	}
	identifier.ID = r.id()
	r.identifiers = append(r.identifiers, *identifier)
	return nil
}

func (r *memoryVaultRepo) ListCertificates(ctx context.Context) ([]model.VaultCertificate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.VaultCertificate(nil), r.certificates...), nil
}

func (r *memoryVaultRepo) SaveCertificate(ctx context.Context, cert *model.VaultCertificate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cert.ID = r.id()
	r.certificates = append(r.certificates, *cert)
	return nil
}

// fakeACME implements acmeClient without talking to a CA.
type fakeACME struct {
	mu       sync.Mutex
	obtained [][]string
	failFor  map[string]error
	panicFor map[string]bool
	expires  time.Time
}

func (f *fakeACME) CAURL() string { return acme.LetsEncryptStagingURL }

func (f *fakeACME) CreateUser(email string) (*acme.ACMEUser, error) {
	if email == "" {
		return nil, errors.New("email required")
	}
	return &acme.ACMEUser{Email: email}, nil
}

func (f *fakeACME) Register(user *acme.ACMEUser) error { return nil }

func (f *fakeACME) ObtainCertificate(user *acme.ACMEUser, req acme.ObtainRequest) (*acme.CertificateResult, error) {
	primary := req.Domains[0]
	if f.panicFor[primary] {
		panic("ca exploded")
	}
	if err := f.failFor[primary]; err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.obtained = append(f.obtained, req.Domains)
	f.mu.Unlock()

	return &acme.CertificateResult{
		CertificatePEM: "cert",
		PrivateKeyPEM:  "key",
		ExpiresAt:      f.expires,
	}, nil
}

func (f *fakeACME) SaveCertificateFiles(certID string, certPEM, keyPEM, issuerPEM string) (string, string, error) {
	return "/certs/" + certID + "/fullchain.pem", "/certs/" + certID + "/privkey.pem", nil
}

func newTestSite(id string, autoRenew bool, domains ...string) *model.ManagedSite {
	site := model.NewManagedSite()
	site.ID = id
	site.GroupID = "site-" + id
	site.Name = id
	site.ItemType = model.ItemTypeLetsEncryptLocal
	site.IncludeInAutoRenew = autoRenew
	for i, d := range domains {
		site.DomainOptions = append(site.DomainOptions, &model.DomainOption{
			Domain:          d,
			IsSelected:      true,
			IsPrimaryDomain: i == 0,
		})
	}
	if len(domains) > 0 {
		site.RequestConfig = &model.RequestConfig{
			PrimaryDomain:           domains[0],
			SubjectAlternativeNames: append([]string(nil), domains...),
			PerformAutoConfig:       true,
			ChallengeType:           model.ChallengeTypeHTTP01,
		}
	}
	return site
}

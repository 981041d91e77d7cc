package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"certify-manager/internal/metrics"
	"certify-manager/internal/model"
	"certify-manager/pkg/acme"
)

// CertificateReadyCallback is called after a certificate has been issued and stored
type CertificateReadyCallback func(ctx context.Context, managedSiteID string) error

type managedSiteRepository interface {
	List(ctx context.Context) ([]*model.ManagedSite, error)
	ReplaceAll(ctx context.Context, sites []*model.ManagedSite) error
}

type vaultRepository interface {
	ListRegistrations(ctx context.Context) ([]model.Registration, error)
	SaveRegistration(ctx context.Context, reg *model.Registration) error
	DeleteRegistrationsExcept(ctx context.Context, email string) (int64, error)
	ListIdentifiers(ctx context.Context) ([]model.VaultIdentifier, error)
	SaveIdentifier(ctx context.Context, identifier *model.VaultIdentifier) error
	ListCertificates(ctx context.Context) ([]model.VaultCertificate, error)
	SaveCertificate(ctx context.Context, cert *model.VaultCertificate) error
}

type acmeClient interface {
	CAURL() string
	CreateUser(email string) (*acme.ACMEUser, error)
	Register(user *acme.ACMEUser) error
	ObtainCertificate(user *acme.ACMEUser, req acme.ObtainRequest) (*acme.CertificateResult, error)
	SaveCertificateFiles(certID string, certPEM, keyPEM, issuerPEM string) (string, string, error)
}

type siteLookup interface {
	GetSite(ctx context.Context, id string) (*model.SiteBindingItem, error)
}

// CertificateService is the certificate management backend: managed site
// persistence, ACME issuance and the vault of accounts, identifiers and certificates
type CertificateService struct {
	sites            managedSiteRepository
	vault            vaultRepository
	acme             acmeClient
	siteLookup       siteLookup
	defaultACMEEmail string
	maxConcurrent    int
	onCertReady      CertificateReadyCallback
	logger           zerolog.Logger

	// serializes account creation so concurrent requests share one registration
	accountMu sync.Mutex
}

func NewCertificateService(
	sites managedSiteRepository,
	vault vaultRepository,
	acmeClient acmeClient,
	siteLookup siteLookup,
	defaultACMEEmail string,
	maxConcurrent int,
	logger zerolog.Logger,
) *CertificateService {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &CertificateService{
		sites:            sites,
		vault:            vault,
		acme:             acmeClient,
		siteLookup:       siteLookup,
		defaultACMEEmail: defaultACMEEmail,
		maxConcurrent:    maxConcurrent,
		logger:           logger.With().Str("component", "certificate").Logger(),
	}
}

// SetCertificateReadyCallback sets the callback to be called when a certificate is ready
func (s *CertificateService) SetCertificateReadyCallback(cb CertificateReadyCallback) {
	s.onCertReady = cb
}

func (s *CertificateService) notifyCertificateReady(ctx context.Context, managedSiteID string) {
	if s.onCertReady != nil {
		if err := s.onCertReady(ctx, managedSiteID); err != nil {
			s.logger.Warn().Err(err).Str("managed_site_id", managedSiteID).Msg("certificate ready callback failed")
		}
	}
}

func (s *CertificateService) GetManagedSites(ctx context.Context) ([]*model.ManagedSite, error) {
	return s.sites.List(ctx)
}

func (s *CertificateService) SaveManagedSites(ctx context.Context, sites []*model.ManagedSite) error {
	return s.sites.ReplaceAll(ctx, sites)
}

// PerformCertificateRequest orders and stores a certificate for site. cfg
// overrides the site's own request config when set. Operational failures are
// returned as an unsuccessful result and reported as the Error state.
func (s *CertificateService) PerformCertificateRequest(ctx context.Context, cfg *model.RequestConfig, site *model.ManagedSite, progress ProgressReporter) (*model.CertificateRequestResult, error) {
	if site == nil {
		return nil, fmt.Errorf("managed site is required")
	}
	if progress == nil {
		progress = noopReporter{}
	}
	if cfg == nil {
		cfg = site.RequestConfig
	}

	start := time.Now()
	result := s.performCertificateRequest(ctx, cfg, site, progress)
	metrics.ObserveCertificateRequest(result.IsSuccess, time.Since(start))

	final := model.RequestProgressState{CurrentState: model.RequestStateError, Message: result.Message}
	if result.IsSuccess {
		final.CurrentState = model.RequestStateSuccess
	}
	progress.Report(final)

	return result, nil
}

func (s *CertificateService) performCertificateRequest(ctx context.Context, cfg *model.RequestConfig, site *model.ManagedSite, progress ProgressReporter) *model.CertificateRequestResult {
	logger := s.logger.With().Str("managed_site_id", site.ID).Logger()
	report := func(format string, args ...interface{}) {
		msg := fmt.Sprintf(format, args...)
		logger.Info().Msg(msg)
		progress.Report(model.RequestProgressState{CurrentState: model.RequestStateInProgress, Message: msg})
	}
	fail := func(format string, args ...interface{}) *model.CertificateRequestResult {
		msg := fmt.Sprintf(format, args...)
		logger.Warn().Msg(msg)
		return &model.CertificateRequestResult{ManagedItemID: site.ID, Message: msg}
	}

	domains, err := issuanceDomains(cfg)
	if err != nil {
		return fail("Invalid request configuration: %v", err)
	}
	if len(domains) == 0 {
		return fail("No domains selected for certificate request")
	}

	report("Starting certificate request for domains: %v", domains)

	if err := ctx.Err(); err != nil {
		return fail("Certificate request cancelled: %v", err)
	}

	user, err := s.loadACMEUser(ctx)
	if err != nil {
		return fail("Failed to load ACME account: %v", err)
	}

	req := acme.ObtainRequest{
		Domains:       domains,
		ChallengeType: cfg.ChallengeType,
		DNSProvider:   cfg.DNSProvider,
	}
	if cfg.ChallengeType == model.ChallengeTypeDNS01 {
		report("Using DNS-01 challenge with provider: %s", cfg.DNSProvider)
	} else {
		if cfg.PerformChallengeFileCopy {
			req.WebrootPath = cfg.WebsiteRootPath
		}
		report("Using HTTP-01 challenge")
	}

	report("Requesting certificate from %s", s.acme.CAURL())
	certResult, err := s.acme.ObtainCertificate(user, req)
	if err != nil {
		return fail("Failed to obtain certificate: %v", err)
	}

	// the account may have been registered during the order
	if err := s.saveACMEUser(ctx, user); err != nil {
		logger.Warn().Err(err).Msg("failed to store ACME account")
	}

	report("Saving certificate files")
	certPath, keyPath, err := s.acme.SaveCertificateFiles(
		acme.CertificateDirName(site.ID),
		certResult.CertificatePEM,
		certResult.PrivateKeyPEM,
		certResult.IssuerCertificatePEM,
	)
	if err != nil {
		return fail("Failed to save certificate files: %v", err)
	}

	report("Updating certificate vault")
	cert := &model.VaultCertificate{
		ManagedSiteID:   site.ID,
		PrimaryDomain:   domains[0],
		Domains:         domains,
		CertificatePath: certPath,
		KeyPath:         keyPath,
		ExpiresAt:       certResult.ExpiresAt,
	}
	if err := s.vault.SaveCertificate(ctx, cert); err != nil {
		return fail("Failed to store certificate record: %v", err)
	}

	groupID := site.GroupID
	if groupID == "" {
		groupID = site.ID
	}
	for _, d := range domains {
		identifier := &model.VaultIdentifier{Domain: d, GroupID: groupID, Status: model.IdentifierStatusValid}
		if err := s.vault.SaveIdentifier(ctx, identifier); err != nil {
			logger.Warn().Err(err).Str("domain", d).Msg("failed to store identifier")
		}
	}

	s.notifyCertificateReady(ctx, site.ID)

	expiresAt := certResult.ExpiresAt
	return &model.CertificateRequestResult{
		ManagedItemID: site.ID,
		IsSuccess:     true,
		Message:       fmt.Sprintf("Certificate issued successfully! Expires: %s", expiresAt.Format("2006-01-02")),
		ExpiresAt:     &expiresAt,
	}
}

// PerformRenewalAllManagedSites requests certificates for the stored sites
// concurrently. When trackers is set only tracked sites are processed, each
// reporting into its own tracker. A failing or panicking item never affects
// its siblings.
func (s *CertificateService) PerformRenewalAllManagedSites(ctx context.Context, autoRenewalsOnly bool, trackers map[string]ProgressReporter) (map[string]*model.CertificateRequestResult, error) {
	sites, err := s.sites.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load managed sites: %w", err)
	}

	var (
		mu      sync.Mutex
		results = make(map[string]*model.CertificateRequestResult)
		g       errgroup.Group
	)
	g.SetLimit(s.maxConcurrent)

	for _, site := range sites {
		site := site
		if autoRenewalsOnly && !site.IncludeInAutoRenew {
			continue
		}

		var reporter ProgressReporter = noopReporter{}
		if trackers != nil {
			tracked, ok := trackers[site.ID]
			if !ok {
				continue
			}
			reporter = tracked
		}

		g.Go(func() error {
			result := s.renewOne(ctx, site, reporter)
			mu.Lock()
			results[site.ID] = result
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return results, nil
}

func (s *CertificateService) renewOne(ctx context.Context, site *model.ManagedSite, reporter ProgressReporter) (result *model.CertificateRequestResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("managed_site_id", site.ID).Msg("renewal panicked")
			result = &model.CertificateRequestResult{
				ManagedItemID: site.ID,
				Message:       fmt.Sprintf("Renewal failed: %v", r),
			}
			reporter.Report(model.RequestProgressState{CurrentState: model.RequestStateError, Message: result.Message})
		}
	}()

	result, err := s.PerformCertificateRequest(ctx, nil, site, reporter)
	if err != nil {
		result = &model.CertificateRequestResult{ManagedItemID: site.ID, Message: err.Error()}
		reporter.Report(model.RequestProgressState{CurrentState: model.RequestStateError, Message: result.Message})
	}
	return result
}

// ImportManagedSitesFromVault builds managed site candidates from the stored identifiers
func (s *CertificateService) ImportManagedSitesFromVault(ctx context.Context, mergeSANs bool) ([]*model.ManagedSite, error) {
	identifiers, err := s.GetIdentifiers(ctx)
	if err != nil {
		return nil, err
	}
	return BuildImportCandidates(identifiers, mergeSANs), nil
}

func (s *CertificateService) GetRegistrations(ctx context.Context) ([]model.VaultItem, error) {
	regs, err := s.vault.ListRegistrations(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]model.VaultItem, 0, len(regs))
	for _, r := range regs {
		items = append(items, model.VaultItem{ID: r.ID, Name: r.EmailAddress, ItemType: model.VaultItemTypeRegistration})
	}
	return items, nil
}

func (s *CertificateService) GetIdentifiers(ctx context.Context) ([]model.VaultItem, error) {
	identifiers, err := s.vault.ListIdentifiers(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]model.VaultItem, 0, len(identifiers))
	for _, id := range identifiers {
		items = append(items, model.VaultItem{ID: id.ID, Name: id.Domain, ItemType: model.VaultItemTypeIdentifier, GroupID: id.GroupID})
	}
	return items, nil
}

func (s *CertificateService) GetCertificates(ctx context.Context) ([]model.VaultItem, error) {
	certs, err := s.vault.ListCertificates(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]model.VaultItem, 0, len(certs))
	for _, c := range certs {
		items = append(items, model.VaultItem{
			ID:       c.ID,
			Name:     fmt.Sprintf("%s (expires %s)", c.PrimaryDomain, c.ExpiresAt.Format("2006-01-02")),
			ItemType: model.VaultItemTypeCertificate,
			GroupID:  c.ManagedSiteID,
		})
	}
	return items, nil
}

// AddRegisteredContact creates and registers a new ACME account for reg
func (s *CertificateService) AddRegisteredContact(ctx context.Context, reg model.ContactRegistration) error {
	s.accountMu.Lock()
	defer s.accountMu.Unlock()

	user, err := s.acme.CreateUser(reg.EmailAddress)
	if err != nil {
		return fmt.Errorf("failed to create ACME user: %w", err)
	}
	if err := s.acme.Register(user); err != nil {
		return err
	}
	return s.saveACMEUser(ctx, user)
}

func (s *CertificateService) RemoveExtraContacts(ctx context.Context, keepEmail string) error {
	removed, err := s.vault.DeleteRegistrationsExcept(ctx, keepEmail)
	if err != nil {
		return err
	}
	if removed > 0 {
		s.logger.Info().Int64("removed", removed).Str("kept", keepEmail).Msg("removed extra contacts")
	}
	return nil
}

func (s *CertificateService) HasRegisteredContacts(ctx context.Context) bool {
	regs, err := s.vault.ListRegistrations(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to list registrations")
		return false
	}
	return len(regs) > 0
}

func (s *CertificateService) GetAcmeSummary(ctx context.Context) string {
	regs, err := s.vault.ListRegistrations(ctx)
	if err != nil {
		return fmt.Sprintf("%s (unavailable)", s.acme.CAURL())
	}
	return fmt.Sprintf("%s (%d registered contacts)", s.acme.CAURL(), len(regs))
}

func (s *CertificateService) GetVaultSummary(ctx context.Context) string {
	regs, err := s.vault.ListRegistrations(ctx)
	if err != nil {
		return "Vault unavailable"
	}
	identifiers, err := s.vault.ListIdentifiers(ctx)
	if err != nil {
		return "Vault unavailable"
	}
	certs, err := s.vault.ListCertificates(ctx)
	if err != nil {
		return "Vault unavailable"
	}
	return fmt.Sprintf("%d registrations, %d identifiers, %d certificates", len(regs), len(identifiers), len(certs))
}

// GetDomainOptionsFromSite lists a discovered site's hosts as selected domain
// options, the first one primary
func (s *CertificateService) GetDomainOptionsFromSite(ctx context.Context, siteID string) ([]*model.DomainOption, error) {
	site, err := s.siteLookup.GetSite(ctx, siteID)
	if err != nil {
		return nil, err
	}

	opts := make([]*model.DomainOption, 0, len(site.Hosts))
	for i, host := range site.Hosts {
		opts = append(opts, &model.DomainOption{
			Domain:          host,
			IsSelected:      true,
			IsPrimaryDomain: i == 0,
		})
	}
	return opts, nil
}

// loadACMEUser restores the first registered account, or creates one for the default email
func (s *CertificateService) loadACMEUser(ctx context.Context) (*acme.ACMEUser, error) {
	s.accountMu.Lock()
	defer s.accountMu.Unlock()

	regs, err := s.vault.ListRegistrations(ctx)
	if err != nil {
		return nil, err
	}

	if len(regs) > 0 {
		user := &acme.ACMEUser{}
		if err := user.FromJSON(regs[0].Account); err != nil {
			return nil, fmt.Errorf("failed to restore ACME account %s: %w", regs[0].EmailAddress, err)
		}
		if user.Email == "" {
			user.Email = regs[0].EmailAddress
		}
		return user, nil
	}

	if s.defaultACMEEmail == "" {
		return nil, model.ErrNoRegisteredContact
	}

	user, err := s.acme.CreateUser(s.defaultACMEEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to create ACME user: %w", err)
	}
	if err := s.saveACMEUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *CertificateService) saveACMEUser(ctx context.Context, user *acme.ACMEUser) error {
	data, err := user.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to encode ACME account: %w", err)
	}
	return s.vault.SaveRegistration(ctx, &model.Registration{EmailAddress: user.Email, Account: data})
}

// issuanceDomains returns the punycode domains to order, primary first
func issuanceDomains(cfg *model.RequestConfig) ([]string, error) {
	if cfg == nil {
		return nil, nil
	}

	var domains []string
	for _, d := range cfg.Domains() {
		ascii, err := ToASCIIDomain(strings.TrimSpace(d))
		if err != nil {
			return nil, fmt.Errorf("invalid domain %q: %w", d, err)
		}
		domains = append(domains, ascii)
	}
	return dedupe(domains), nil
}

type noopReporter struct{}

func (noopReporter) Report(model.RequestProgressState) {}

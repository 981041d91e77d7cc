package service

import (
	"context"
	"errors"
	"fmt"

	"certify-manager/internal/model"
)

// EditSession is an editable working copy of one managed site. Changes reach
// the store only through Save.
type EditSession struct {
	item            *model.ManagedSite
	website         *model.SiteBindingItem
	validationError string

	store   *ManagedSiteStore
	domains DomainOptionSource
}

// NewEditSession starts editing a clone of item
func NewEditSession(item *model.ManagedSite, store *ManagedSiteStore, domains DomainOptionSource) *EditSession {
	if item == nil {
		item = model.NewManagedSite()
	}
	return &EditSession{
		item:    item.Clone(),
		store:   store,
		domains: domains,
	}
}

// Item returns the working copy
func (e *EditSession) Item() *model.ManagedSite {
	return e.item
}

func (e *EditSession) SetPrimaryDomain(domain string) error {
	return e.item.SetPrimaryDomain(domain)
}

func (e *EditSession) SelectAll() {
	e.item.SelectAllDomains()
}

func (e *EditSession) SelectNone() {
	e.item.SelectNoDomains()
}

func (e *EditSession) HasChanges() bool {
	return e.item.HasChanges()
}

// PrimarySubjectDomain returns the current primary option, or nil
func (e *EditSession) PrimarySubjectDomain() *model.DomainOption {
	for _, opt := range e.item.DomainOptions {
		if opt.IsPrimaryDomain {
			return opt
		}
	}
	return nil
}

func (e *EditSession) HasDomainOptions() bool {
	return len(e.item.DomainOptions) > 0
}

// IsWebsiteSelectable reports whether the item may still be bound to a website
func (e *EditSession) IsWebsiteSelectable() bool {
	return !e.item.IsMaterialized()
}

// IsValid reports whether the item is saved and unchanged
func (e *EditSession) IsValid() bool {
	return e.item.IsMaterialized() && !e.item.HasChanges()
}

// ValidationError returns the message of the last failed save, or ""
func (e *EditSession) ValidationError() string {
	return e.validationError
}

// SetIncludeInAutoRenew toggles automatic renewal for the item
func (e *EditSession) SetIncludeInAutoRenew(include bool) {
	if e.item.IncludeInAutoRenew != include {
		e.item.IncludeInAutoRenew = include
		e.item.IsChanged = true
	}
}

// SetChallenge selects the challenge type, and the DNS provider for dns-01
func (e *EditSession) SetChallenge(challengeType, dnsProvider string) error {
	if !model.IsSupportedChallengeType(challengeType) {
		return model.NewValidationError("challenge_type", fmt.Errorf("unsupported challenge type %q", challengeType))
	}
	if challengeType == model.ChallengeTypeDNS01 && !model.IsSupportedDNSProvider(dnsProvider) {
		return model.NewValidationError("dns_provider", fmt.Errorf("unsupported DNS provider %q", dnsProvider))
	}
	if challengeType == model.ChallengeTypeHTTP01 {
		dnsProvider = ""
	}

	if e.item.RequestConfig == nil {
		e.item.RequestConfig = &model.RequestConfig{}
	}
	cfg := e.item.RequestConfig
	if cfg.ChallengeType != challengeType || cfg.DNSProvider != dnsProvider {
		cfg.ChallengeType = challengeType
		cfg.DNSProvider = dnsProvider
		cfg.IsChanged = true
	}
	return nil
}

// Populate binds a new item to a discovered site: it takes the site name,
// applies request defaults and replaces the domain options with the site's bindings
func (e *EditSession) Populate(ctx context.Context, site model.SiteBindingItem) error {
	if e.item.Name == "" || e.item.Name != site.SiteName {
		e.item.Name = site.SiteName
		e.item.IsChanged = true
	}

	if e.item.RequestConfig == nil {
		e.item.RequestConfig = &model.RequestConfig{}
	}
	cfg := e.item.RequestConfig
	cfg.PerformExtensionlessConfigChecks = true
	cfg.PerformChallengeFileCopy = true
	cfg.PerformAutomatedCertBinding = true
	cfg.PerformAutoConfig = true
	cfg.EnableFailureNotifications = true
	cfg.ChallengeType = model.ChallengeTypeHTTP01
	cfg.IsChanged = true

	e.item.IncludeInAutoRenew = true

	opts, err := e.domains.GetDomainOptionsFromSite(ctx, site.SiteID)
	if err != nil {
		return fmt.Errorf("failed to read site bindings: %w", err)
	}
	e.item.ReplaceDomainOptions(opts)

	selected := site
	e.website = &selected

	if len(opts) == 0 {
		e.validationError = model.ErrNoDomainBindings.Error()
		return model.NewValidationError("domain_options", model.ErrNoDomainBindings)
	}

	e.validationError = ""
	return nil
}

// Save rebuilds the request config and stores the item. An item already in
// the store is updated in place: only the edited fields are written, so renewal
// dates recorded since the session started are kept. On success every dirty
// flag is cleared.
func (e *EditSession) Save(ctx context.Context) (*model.ManagedSite, error) {
	working := e.item.Clone()
	if err := BuildRequestConfig(working, e.website); err != nil {
		var ve *model.ValidationError
		if errors.As(err, &ve) {
			e.validationError = ve.Error()
		}
		return nil, err
	}
	working.MarkAllChangesCompleted()

	saved, err := e.store.Update(ctx, working.ID, func(current *model.ManagedSite) error {
		applyEdits(current, working)
		return nil
	})
	if errors.Is(err, model.ErrNotFound) {
		saved, err = e.store.Upsert(ctx, working)
	}
	if err != nil {
		return nil, err
	}

	e.item = saved.Clone()
	e.validationError = ""
	return saved, nil
}

// applyEdits copies the user-editable fields of src onto dst
func applyEdits(dst, src *model.ManagedSite) {
	edited := src.Clone()
	dst.GroupID = edited.GroupID
	dst.Name = edited.Name
	dst.ItemType = edited.ItemType
	dst.IncludeInAutoRenew = edited.IncludeInAutoRenew
	dst.DomainOptions = edited.DomainOptions
	dst.RequestConfig = edited.RequestConfig
	dst.IsChanged = false
}

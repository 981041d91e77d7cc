package model

import (
	"time"
)

// Managed item types
const (
	ItemTypeLetsEncryptLocal = "ssl_letsencrypt_local"
)

// Challenge types
const (
	ChallengeTypeHTTP01 = "http-01"
	ChallengeTypeDNS01  = "dns-01"
)

// ManagedSite is a configured certificate target: the domains it covers, how the
// certificate is requested, and whether it participates in automatic renewal.
// An empty ID means the item has not been materialized yet.
type ManagedSite struct {
	ID                 string          `json:"id"`
	GroupID            string          `json:"group_id"`
	Name               string          `json:"name"`
	ItemType           string          `json:"item_type"`
	IncludeInAutoRenew bool            `json:"include_in_auto_renew"`
	DomainOptions      []*DomainOption `json:"domain_options"`
	RequestConfig      *RequestConfig  `json:"request_config"`
	DateRenewed        *time.Time      `json:"date_renewed,omitempty"`
	DateExpiry         *time.Time      `json:"date_expiry,omitempty"`
	IsChanged          bool            `json:"is_changed"`
}

// NewManagedSite returns an unmaterialized item with an empty request config
func NewManagedSite() *ManagedSite {
	return &ManagedSite{
		DomainOptions: []*DomainOption{},
		RequestConfig: &RequestConfig{},
	}
}

// IsMaterialized reports whether the item has been assigned an ID
func (s *ManagedSite) IsMaterialized() bool {
	return s.ID != ""
}

// HasChanges aggregates the dirty flags of the item, its config and every domain option
func (s *ManagedSite) HasChanges() bool {
	if s.IsChanged {
		return true
	}
	if s.RequestConfig != nil && s.RequestConfig.IsChanged {
		return true
	}
	for _, opt := range s.DomainOptions {
		if opt.IsChanged {
			return true
		}
	}
	return false
}

// MarkAllChangesCompleted clears every dirty flag on the item
func (s *ManagedSite) MarkAllChangesCompleted() {
	s.IsChanged = false
	if s.RequestConfig != nil {
		s.RequestConfig.IsChanged = false
	}
	for _, opt := range s.DomainOptions {
		opt.IsChanged = false
	}
}

// PrimaryDomainOptions returns the options currently flagged as primary
func (s *ManagedSite) PrimaryDomainOptions() []*DomainOption {
	var primary []*DomainOption
	for _, opt := range s.DomainOptions {
		if opt.IsPrimaryDomain {
			primary = append(primary, opt)
		}
	}
	return primary
}

// PrimaryDomain returns the domain of the first primary option, or ""
func (s *ManagedSite) PrimaryDomain() string {
	for _, opt := range s.DomainOptions {
		if opt.IsPrimaryDomain {
			return opt.Domain
		}
	}
	return ""
}

// SetPrimaryDomain makes domain the single primary option and selects it.
// Selection of the other options is left untouched.
func (s *ManagedSite) SetPrimaryDomain(domain string) error {
	target := s.findOption(domain)
	if target == nil {
		return ErrDomainOptionNotFound
	}

	for _, opt := range s.DomainOptions {
		if opt == target {
			opt.SetPrimary(true)
			opt.SetSelected(true)
		} else {
			opt.SetPrimary(false)
		}
	}
	s.IsChanged = true
	return nil
}

// SelectAllDomains selects every domain option
func (s *ManagedSite) SelectAllDomains() {
	for _, opt := range s.DomainOptions {
		opt.SetSelected(true)
	}
}

// SelectNoDomains deselects every domain option
func (s *ManagedSite) SelectNoDomains() {
	for _, opt := range s.DomainOptions {
		opt.SetSelected(false)
	}
}

// ReplaceDomainOptions swaps the option list, e.g. after re-reading site bindings
func (s *ManagedSite) ReplaceDomainOptions(opts []*DomainOption) {
	s.DomainOptions = make([]*DomainOption, 0, len(opts))
	for _, opt := range opts {
		s.DomainOptions = append(s.DomainOptions, opt.Clone())
	}
	s.IsChanged = true
}

// SelectedDomains returns the selected option domains in display order
func (s *ManagedSite) SelectedDomains() []string {
	domains := []string{}
	for _, opt := range s.DomainOptions {
		if opt.IsSelected {
			domains = append(domains, opt.Domain)
		}
	}
	return domains
}

// Clone returns a deep copy of the item
func (s *ManagedSite) Clone() *ManagedSite {
	if s == nil {
		return nil
	}
	clone := *s
	if s.DomainOptions != nil {
		clone.DomainOptions = make([]*DomainOption, 0, len(s.DomainOptions))
		for _, opt := range s.DomainOptions {
			clone.DomainOptions = append(clone.DomainOptions, opt.Clone())
		}
	}
	clone.RequestConfig = s.RequestConfig.Clone()
	if s.DateRenewed != nil {
		t := *s.DateRenewed
		clone.DateRenewed = &t
	}
	if s.DateExpiry != nil {
		t := *s.DateExpiry
		clone.DateExpiry = &t
	}
	return &clone
}

func (s *ManagedSite) findOption(domain string) *DomainOption {
	for _, opt := range s.DomainOptions {
		if opt.Domain == domain {
			return opt
		}
	}
	return nil
}

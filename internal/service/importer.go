package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"certify-manager/internal/model"
)

// ImportReconciler prepares managed site candidates from vault identifiers and
// manages ACME contact registration
type ImportReconciler struct {
	vault  VaultManager
	store  *ManagedSiteStore
	logger zerolog.Logger

	mu                sync.Mutex
	candidates        []*model.ManagedSite
	mergeSANs         bool
	onContactsChanged func(ctx context.Context)
}

func NewImportReconciler(vault VaultManager, store *ManagedSiteStore, logger zerolog.Logger) *ImportReconciler {
	return &ImportReconciler{
		vault:      vault,
		store:      store,
		logger:     logger.With().Str("component", "import").Logger(),
		candidates: []*model.ManagedSite{},
	}
}

// SetContactsChangedCallback sets the callback invoked after a contact is added
func (r *ImportReconciler) SetContactsChangedCallback(cb func(ctx context.Context)) {
	r.onContactsChanged = cb
}

// PreviewImport loads candidates from the vault, dropping any whose primary
// domain is already managed. The store is not modified.
func (r *ImportReconciler) PreviewImport(ctx context.Context, mergeSANs bool) ([]*model.ManagedSite, error) {
	imported, err := r.vault.ImportManagedSitesFromVault(ctx, mergeSANs)
	if err != nil {
		return nil, fmt.Errorf("failed to import from vault: %w", err)
	}

	candidates := make([]*model.ManagedSite, 0, len(imported))
	for _, site := range imported {
		if r.store != nil && r.store.HasPrimaryDomain(candidatePrimaryDomain(site)) {
			continue
		}
		candidates = append(candidates, site.Clone())
	}

	r.mu.Lock()
	r.candidates = candidates
	r.mergeSANs = mergeSANs
	r.mu.Unlock()

	r.logger.Info().
		Int("imported", len(imported)).
		Int("candidates", len(candidates)).
		Bool("merge_sans", mergeSANs).
		Msg("import preview prepared")

	return cloneSites(candidates), nil
}

// ImportedManagedSites returns the candidates of the last preview
func (r *ImportReconciler) ImportedManagedSites() []*model.ManagedSite {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneSites(r.candidates)
}

// MergeMode reports the SAN merge mode of the last preview
func (r *ImportReconciler) MergeMode() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mergeSANs
}

// CommitImport stores the previewed candidates with the given IDs, or all of them when ids is empty
func (r *ImportReconciler) CommitImport(ctx context.Context, ids []string) ([]*model.ManagedSite, error) {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	r.mu.Lock()
	var chosen, remaining []*model.ManagedSite
	for _, c := range r.candidates {
		if len(ids) == 0 || wanted[c.ID] {
			chosen = append(chosen, c)
		} else {
			remaining = append(remaining, c)
		}
	}
	r.mu.Unlock()

	committed := make([]*model.ManagedSite, 0, len(chosen))
	for _, c := range chosen {
		site := c.Clone()
		site.MarkAllChangesCompleted()
		saved, err := r.store.Upsert(ctx, site)
		if err != nil {
			return committed, fmt.Errorf("failed to import %s: %w", c.Name, err)
		}
		committed = append(committed, saved)
	}

	r.mu.Lock()
	r.candidates = remaining
	if r.candidates == nil {
		r.candidates = []*model.ManagedSite{}
	}
	r.mu.Unlock()

	r.logger.Info().Int("count", len(committed)).Msg("import committed")
	return committed, nil
}

// AddContact registers a new ACME contact and removes every other contact
func (r *ImportReconciler) AddContact(ctx context.Context, reg model.ContactRegistration) error {
	if reg.EmailAddress == "" {
		return model.NewValidationError("email_address", fmt.Errorf("email address is required"))
	}
	if !reg.AgreedToTermsAndConditions {
		return model.NewValidationError("agreed_to_terms_and_conditions", fmt.Errorf("terms and conditions must be accepted"))
	}

	if err := r.vault.AddRegisteredContact(ctx, reg); err != nil {
		r.logger.Warn().Err(err).Str("email", reg.EmailAddress).Msg("contact registration failed")
		return fmt.Errorf("failed to register contact: %w", err)
	}

	if err := r.vault.RemoveExtraContacts(ctx, reg.EmailAddress); err != nil {
		r.logger.Warn().Err(err).Msg("failed to remove extra contacts")
	}

	if r.onContactsChanged != nil {
		r.onContactsChanged(ctx)
	}

	r.logger.Info().Str("email", reg.EmailAddress).Msg("contact registered")
	return nil
}

// BuildImportCandidates turns vault identifiers into managed site candidates.
//
// Identifiers are grouped by GroupID in first-seen order. With mergeSANs each
// group becomes one candidate carrying every domain, the first one primary;
// otherwise every identifier becomes its own candidate.
func BuildImportCandidates(identifiers []model.VaultItem, mergeSANs bool) []*model.ManagedSite {
	var order []string
	groups := map[string][]string{}
	for _, id := range identifiers {
		if id.Name == "" {
			continue
		}
		if _, ok := groups[id.GroupID]; !ok {
			order = append(order, id.GroupID)
		}
		groups[id.GroupID] = append(groups[id.GroupID], id.Name)
	}

	candidates := []*model.ManagedSite{}
	for _, groupID := range order {
		domains := dedupe(groups[groupID])
		if mergeSANs {
			candidates = append(candidates, newImportCandidate(groupID, domains))
			continue
		}
		for _, d := range domains {
			candidates = append(candidates, newImportCandidate(groupID, []string{d}))
		}
	}
	return candidates
}

func newImportCandidate(groupID string, domains []string) *model.ManagedSite {
	site := model.NewManagedSite()
	site.ID = uuid.NewString() + ":" + groupID
	site.GroupID = groupID
	site.Name = domains[0]
	site.ItemType = model.ItemTypeLetsEncryptLocal
	site.IncludeInAutoRenew = true

	for i, d := range domains {
		site.DomainOptions = append(site.DomainOptions, &model.DomainOption{
			Domain:          d,
			IsSelected:      true,
			IsPrimaryDomain: i == 0,
		})
	}

	primary := domains[0]
	if ascii, err := ToASCIIDomain(primary); err == nil {
		primary = ascii
	}
	site.RequestConfig = &model.RequestConfig{
		PrimaryDomain:                    primary,
		SubjectAlternativeNames:          append([]string(nil), domains...),
		PerformAutoConfig:                true,
		PerformChallengeFileCopy:         true,
		PerformExtensionlessConfigChecks: true,
		EnableFailureNotifications:       true,
		ChallengeType:                    model.ChallengeTypeHTTP01,
	}
	return site
}

func candidatePrimaryDomain(site *model.ManagedSite) string {
	if site.RequestConfig != nil && site.RequestConfig.PrimaryDomain != "" {
		return site.RequestConfig.PrimaryDomain
	}
	return site.PrimaryDomain()
}

func cloneSites(sites []*model.ManagedSite) []*model.ManagedSite {
	out := make([]*model.ManagedSite, 0, len(sites))
	for _, s := range sites {
		out = append(out, s.Clone())
	}
	return out
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

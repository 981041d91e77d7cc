package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"certify-manager/internal/model"
)

// ImportPreviewer produces import candidates for an empty store
type ImportPreviewer interface {
	PreviewImport(ctx context.Context, mergeSANs bool) ([]*model.ManagedSite, error)
}

// ManagedSiteStore is the in-memory list of managed sites, persisted as a whole
// through the persister after every change. Reads return clones.
type ManagedSiteStore struct {
	mu           sync.RWMutex
	sites        []*model.ManagedSite
	persister    ManagedSitePersister
	bootstrapper ImportPreviewer
	logger       zerolog.Logger
}

func NewManagedSiteStore(persister ManagedSitePersister, logger zerolog.Logger) *ManagedSiteStore {
	return &ManagedSiteStore{
		sites:     []*model.ManagedSite{},
		persister: persister,
		logger:    logger.With().Str("component", "managed_site_store").Logger(),
	}
}

// SetBootstrapper sets the import previewer consulted when LoadAll finds no sites
func (s *ManagedSiteStore) SetBootstrapper(b ImportPreviewer) {
	s.bootstrapper = b
}

// LoadAll replaces the in-memory list with the persisted one. When nothing is
// persisted and a bootstrapper is set, a merged import preview is prepared.
func (s *ManagedSiteStore) LoadAll(ctx context.Context) ([]*model.ManagedSite, error) {
	sites, err := s.persister.GetManagedSites(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load managed sites: %w", err)
	}

	s.mu.Lock()
	s.sites = make([]*model.ManagedSite, 0, len(sites))
	for _, site := range sites {
		s.sites = append(s.sites, site.Clone())
	}
	s.mu.Unlock()

	s.logger.Info().Int("count", len(sites)).Msg("managed sites loaded")

	if len(sites) == 0 && s.bootstrapper != nil {
		candidates, err := s.bootstrapper.PreviewImport(ctx, true)
		if err != nil {
			s.logger.Warn().Err(err).Msg("import preview on empty store failed")
		} else {
			s.logger.Info().Int("candidates", len(candidates)).Msg("no managed sites, import preview prepared")
		}
	}

	return s.List(), nil
}

// Upsert replaces the site with the same ID, or appends it, then persists the list
func (s *ManagedSiteStore) Upsert(ctx context.Context, site *model.ManagedSite) (*model.ManagedSite, error) {
	if site == nil || !site.IsMaterialized() {
		return nil, model.NewValidationError("id", errors.New("managed site must have an id"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.snapshotLocked()
	stored := site.Clone()
	replaced := false
	for i, existing := range s.sites {
		if existing.ID == site.ID {
			s.sites = append(s.sites[:i], s.sites[i+1:]...)
			replaced = true
			break
		}
	}
	s.sites = append(s.sites, stored)

	if err := s.persistLocked(ctx); err != nil {
		s.sites = previous
		return nil, err
	}

	s.logger.Debug().Str("managed_site_id", site.ID).Bool("replaced", replaced).Msg("managed site upserted")
	return stored.Clone(), nil
}

// Delete removes the site with id if present, then persists the list
func (s *ManagedSiteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.snapshotLocked()
	for i, existing := range s.sites {
		if existing.ID == id {
			s.sites = append(s.sites[:i], s.sites[i+1:]...)
			break
		}
	}

	if err := s.persistLocked(ctx); err != nil {
		s.sites = previous
		return err
	}
	return nil
}

// Update applies fn to the stored site under the store lock and persists the list
func (s *ManagedSiteStore) Update(ctx context.Context, id string, fn func(site *model.ManagedSite) error) (*model.ManagedSite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.sites {
		if existing.ID != id {
			continue
		}

		working := existing.Clone()
		if err := fn(working); err != nil {
			return nil, err
		}
		s.sites[i] = working

		if err := s.persistLocked(ctx); err != nil {
			s.sites[i] = existing
			return nil, err
		}
		return working.Clone(), nil
	}

	return nil, model.ErrNotFound
}

// Get returns a clone of the site with id
func (s *ManagedSiteStore) Get(id string) (*model.ManagedSite, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, site := range s.sites {
		if site.ID == id {
			return site.Clone(), true
		}
	}
	return nil, false
}

// List returns clones of every site in display order
func (s *ManagedSiteStore) List() []*model.ManagedSite {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sites := make([]*model.ManagedSite, 0, len(s.sites))
	for _, site := range s.sites {
		sites = append(sites, site.Clone())
	}
	return sites
}

func (s *ManagedSiteStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sites)
}

// HasPrimaryDomain reports whether any stored site uses domain as its primary domain
func (s *ManagedSiteStore) HasPrimaryDomain(domain string) bool {
	if domain == "" {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, site := range s.sites {
		if site.RequestConfig != nil && site.RequestConfig.PrimaryDomain == domain {
			return true
		}
		if site.PrimaryDomain() == domain {
			return true
		}
	}
	return false
}

// snapshotLocked copies the list header so a failed persist can restore it
func (s *ManagedSiteStore) snapshotLocked() []*model.ManagedSite {
	return append([]*model.ManagedSite(nil), s.sites...)
}

func (s *ManagedSiteStore) persistLocked(ctx context.Context) error {
	snapshot := make([]*model.ManagedSite, 0, len(s.sites))
	for _, site := range s.sites {
		snapshot = append(snapshot, site.Clone())
	}

	if err := s.persister.SaveManagedSites(ctx, snapshot); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist managed sites")
		return fmt.Errorf("failed to save managed sites: %w", err)
	}
	return nil
}

package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"certify-manager/internal/model"
)

// RenewalOrchestrator dispatches single and batch certificate requests and
// routes their outcome into the progress tracker
type RenewalOrchestrator struct {
	store   *ManagedSiteStore
	tracker *ProgressTracker
	issuer  CertificateIssuer
	timeout time.Duration
	logger  zerolog.Logger

	wg sync.WaitGroup
}

func NewRenewalOrchestrator(store *ManagedSiteStore, tracker *ProgressTracker, issuer CertificateIssuer, logger zerolog.Logger) *RenewalOrchestrator {
	return &RenewalOrchestrator{
		store:   store,
		tracker: tracker,
		issuer:  issuer,
		logger:  logger.With().Str("component", "renewal").Logger(),
	}
}

// SetRequestTimeout bounds every dispatched request; zero means no timeout
func (o *RenewalOrchestrator) SetRequestTimeout(timeout time.Duration) {
	o.timeout = timeout
}

// RenewAll requests certificates for every eligible site concurrently.
// Per-item failures are reported through the tracker and the result map.
func (o *RenewalOrchestrator) RenewAll(ctx context.Context, autoRenewalsOnly bool) (map[string]*model.CertificateRequestResult, error) {
	sites := o.eligibleSites(autoRenewalsOnly)

	trackers := make(map[string]ProgressReporter, len(sites))
	for _, site := range sites {
		trackers[site.ID] = o.tracker.Track(model.RequestProgressState{ManagedItemID: site.ID})
	}

	if len(sites) == 0 {
		o.logger.Info().Bool("auto_only", autoRenewalsOnly).Msg("no managed sites eligible for renewal")
		return map[string]*model.CertificateRequestResult{}, nil
	}

	o.logger.Info().Int("count", len(sites)).Bool("auto_only", autoRenewalsOnly).Msg("starting renewal of managed sites")

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	results, err := o.issuer.PerformRenewalAllManagedSites(ctx, autoRenewalsOnly, trackers)
	if err != nil {
		o.logger.Error().Err(err).Msg("batch renewal failed")
		results = map[string]*model.CertificateRequestResult{}
		for id, reporter := range trackers {
			// items the issuer already finished keep their reported outcome
			if state, ok := o.tracker.Get(id); ok && state.CurrentState.IsTerminal() {
				result := &model.CertificateRequestResult{
					ManagedItemID: id,
					IsSuccess:     state.CurrentState == model.RequestStateSuccess,
					Message:       state.Message,
				}
				if result.IsSuccess {
					o.recordRenewal(ctx, id, result)
				}
				results[id] = result
				continue
			}

			msg := fmt.Sprintf("renewal failed: %v", err)
			reporter.Report(model.RequestProgressState{CurrentState: model.RequestStateError, Message: msg})
			results[id] = &model.CertificateRequestResult{ManagedItemID: id, Message: msg}
		}
		return results, nil
	}
	if results == nil {
		results = map[string]*model.CertificateRequestResult{}
	}

	succeeded := 0
	for id, reporter := range trackers {
		result, ok := results[id]
		if !ok || result == nil {
			msg := "renewal produced no result"
			reporter.Report(model.RequestProgressState{CurrentState: model.RequestStateError, Message: msg})
			results[id] = &model.CertificateRequestResult{ManagedItemID: id, Message: msg}
			continue
		}
		if result.IsSuccess {
			succeeded++
			o.recordRenewal(ctx, id, result)
		}
	}

	o.logger.Info().Int("succeeded", succeeded).Int("failed", len(trackers)-succeeded).Msg("renewal of managed sites finished")
	return results, nil
}

// BeginRenewAll runs RenewAll in the background
func (o *RenewalOrchestrator) BeginRenewAll(ctx context.Context, autoRenewalsOnly bool) {
	ctx = context.WithoutCancel(ctx)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if _, err := o.RenewAll(ctx, autoRenewalsOnly); err != nil {
			o.logger.Error().Err(err).Msg("background renewal failed")
		}
	}()
}

// BeginCertificateRequest starts a request for one managed site in the background.
// The outcome is observable only through the progress tracker.
func (o *RenewalOrchestrator) BeginCertificateRequest(ctx context.Context, managedItemID string) error {
	site, ok := o.store.Get(managedItemID)
	if !ok {
		return model.ErrNotFound
	}

	reporter := o.tracker.Track(model.RequestProgressState{ManagedItemID: site.ID})
	ctx = context.WithoutCancel(ctx)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runRequest(ctx, site, reporter)
	}()

	return nil
}

// RequestCertificate runs a request for one managed site and waits for its result
func (o *RenewalOrchestrator) RequestCertificate(ctx context.Context, managedItemID string) (*model.CertificateRequestResult, error) {
	site, ok := o.store.Get(managedItemID)
	if !ok {
		return nil, model.ErrNotFound
	}

	reporter := o.tracker.Track(model.RequestProgressState{ManagedItemID: site.ID})
	return o.runRequest(ctx, site, reporter), nil
}

// Wait blocks until every background request has finished or ctx is done
func (o *RenewalOrchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *RenewalOrchestrator) runRequest(ctx context.Context, site *model.ManagedSite, reporter ProgressReporter) (result *model.CertificateRequestResult) {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().Interface("panic", r).Str("managed_site_id", site.ID).Msg("certificate request panicked")
			result = &model.CertificateRequestResult{
				ManagedItemID: site.ID,
				Message:       fmt.Sprintf("certificate request failed: %v", r),
			}
			reporter.Report(model.RequestProgressState{CurrentState: model.RequestStateError, Message: result.Message})
		}
	}()

	result, err := o.issuer.PerformCertificateRequest(ctx, nil, site, reporter)
	if err != nil {
		result = &model.CertificateRequestResult{ManagedItemID: site.ID, Message: err.Error()}
	}
	if result == nil {
		result = &model.CertificateRequestResult{ManagedItemID: site.ID, Message: "certificate request produced no result"}
	}
	if result.ManagedItemID == "" {
		result.ManagedItemID = site.ID
	}

	// The issuer reports its own terminal state; this confirmation is a no-op
	// unless the issuer returned without reaching one.
	final := model.RequestProgressState{CurrentState: model.RequestStateError, Message: result.Message}
	if result.IsSuccess {
		final.CurrentState = model.RequestStateSuccess
		o.recordRenewal(ctx, site.ID, result)
	}
	reporter.Report(final)

	return result
}

// recordRenewal stamps the renewal and expiry dates on the stored site
func (o *RenewalOrchestrator) recordRenewal(ctx context.Context, managedItemID string, result *model.CertificateRequestResult) {
	now := time.Now()
	_, err := o.store.Update(ctx, managedItemID, func(site *model.ManagedSite) error {
		site.DateRenewed = &now
		if result.ExpiresAt != nil {
			expiry := *result.ExpiresAt
			site.DateExpiry = &expiry
		}
		return nil
	})
	if err != nil {
		o.logger.Warn().Err(err).Str("managed_site_id", managedItemID).Msg("failed to record renewal date")
	}
}

func (o *RenewalOrchestrator) eligibleSites(autoRenewalsOnly bool) []*model.ManagedSite {
	var eligible []*model.ManagedSite
	for _, site := range o.store.List() {
		if autoRenewalsOnly && !site.IncludeInAutoRenew {
			continue
		}
		eligible = append(eligible, site)
	}
	return eligible
}

func (o *RenewalOrchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout > 0 {
		return context.WithTimeout(ctx, o.timeout)
	}
	return context.WithCancel(ctx)
}

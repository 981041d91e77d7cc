package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"certify-manager/internal/model"
)

type renewalFixture struct {
	store        *ManagedSiteStore
	tracker      *ProgressTracker
	issuer       *mockIssuer
	orchestrator *RenewalOrchestrator
}

func newRenewalFixture(t *testing.T, sites ...*model.ManagedSite) *renewalFixture {
	t.Helper()
	persister := new(mockPersister)
	persister.On("SaveManagedSites", mock.Anything, mock.Anything).Return(nil)
	store := NewManagedSiteStore(persister, zerolog.Nop())
	for _, site := range sites {
		_, err := store.Upsert(context.Background(), site)
		require.NoError(t, err)
	}

	tracker := NewProgressTracker(zerolog.Nop())
	issuer := new(mockIssuer)
	return &renewalFixture{
		store:        store,
		tracker:      tracker,
		issuer:       issuer,
		orchestrator: NewRenewalOrchestrator(store, tracker, issuer, zerolog.Nop()),
	}
}

func succeedAll(trackers map[string]ProgressReporter) map[string]*model.CertificateRequestResult {
	results := map[string]*model.CertificateRequestResult{}
	for id, reporter := range trackers {
		reporter.Report(model.RequestProgressState{CurrentState: model.RequestStateSuccess, Message: "issued"})
		results[id] = &model.CertificateRequestResult{ManagedItemID: id, IsSuccess: true}
	}
	return results
}

func TestRenewAll_AutoRenewalsOnly(t *testing.T) {
	f := newRenewalFixture(t,
		newTestSite("A", true, "a.example.com"),
		newTestSite("B", false, "b.example.com"),
	)

	var seen map[string]ProgressReporter
	f.issuer.On("PerformRenewalAllManagedSites", mock.Anything, true, mock.Anything).
		Run(func(args mock.Arguments) { seen = args.Get(2).(map[string]ProgressReporter) }).
		Return(succeedAll, nil)

	results, err := f.orchestrator.RenewAll(context.Background(), true)
	require.NoError(t, err)

	assert.Len(t, results, 1)
	assert.Contains(t, results, "A")
	assert.Contains(t, seen, "A")
	assert.NotContains(t, seen, "B")

	_, tracked := f.tracker.Get("B")
	assert.False(t, tracked)
	state, _ := f.tracker.Get("A")
	assert.Equal(t, model.RequestStateSuccess, state.CurrentState)
}

func TestRenewAll_AllSites(t *testing.T) {
	f := newRenewalFixture(t,
		newTestSite("A", true, "a.example.com"),
		newTestSite("B", false, "b.example.com"),
	)
	f.issuer.On("PerformRenewalAllManagedSites", mock.Anything, false, mock.Anything).Return(succeedAll, nil)

	results, err := f.orchestrator.RenewAll(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Len(t, f.tracker.CurrentResults(), 2)
}

func TestRenewAll_TracksBeforeDispatch(t *testing.T) {
	f := newRenewalFixture(t, newTestSite("A", true, "a.example.com"))

	f.issuer.On("PerformRenewalAllManagedSites", mock.Anything, true, mock.Anything).
		Return(func(trackers map[string]ProgressReporter) map[string]*model.CertificateRequestResult {
			state, ok := f.tracker.Get("A")
			assert.True(t, ok)
			assert.Equal(t, model.RequestStateNotStarted, state.CurrentState)
			return succeedAll(trackers)
		}, nil)

	_, err := f.orchestrator.RenewAll(context.Background(), true)
	require.NoError(t, err)
}

func TestRenewAll_NoEligibleSites(t *testing.T) {
	f := newRenewalFixture(t, newTestSite("B", false, "b.example.com"))

	results, err := f.orchestrator.RenewAll(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, results)
	f.issuer.AssertNotCalled(t, "PerformRenewalAllManagedSites", mock.Anything, mock.Anything, mock.Anything)
}

func TestRenewAll_IssuerErrorFailsEveryItem(t *testing.T) {
	f := newRenewalFixture(t,
		newTestSite("A", true, "a.example.com"),
		newTestSite("B", true, "b.example.com"),
	)
	f.issuer.On("PerformRenewalAllManagedSites", mock.Anything, true, mock.Anything).Return(nil, errors.New("vault offline"))

	results, err := f.orchestrator.RenewAll(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, id := range []string{"A", "B"} {
		assert.False(t, results[id].IsSuccess)
		state, _ := f.tracker.Get(id)
		assert.Equal(t, model.RequestStateError, state.CurrentState)
		assert.Contains(t, state.Message, "vault offline")
	}
}

func TestRenewAll_IssuerErrorKeepsFinishedOutcomes(t *testing.T) {
	f := newRenewalFixture(t,
		newTestSite("A", true, "a.example.com"),
		newTestSite("B", true, "b.example.com"),
	)
	f.issuer.On("PerformRenewalAllManagedSites", mock.Anything, true, mock.Anything).
		Return(func(trackers map[string]ProgressReporter) map[string]*model.CertificateRequestResult {
			trackers["A"].Report(model.RequestProgressState{CurrentState: model.RequestStateSuccess, Message: "issued"})
			return nil
		}, errors.New("late failure"))

	results, err := f.orchestrator.RenewAll(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.True(t, results["A"].IsSuccess)
	stateA, _ := f.tracker.Get("A")
	assert.Equal(t, model.RequestStateSuccess, stateA.CurrentState)
	assert.Equal(t, "issued", stateA.Message)

	siteA, ok := f.store.Get("A")
	require.True(t, ok)
	assert.NotNil(t, siteA.DateRenewed)

	assert.False(t, results["B"].IsSuccess)
	stateB, _ := f.tracker.Get("B")
	assert.Equal(t, model.RequestStateError, stateB.CurrentState)
	assert.Contains(t, stateB.Message, "late failure")
}

func TestRenewAll_MissingResultIsError(t *testing.T) {
	f := newRenewalFixture(t,
		newTestSite("A", true, "a.example.com"),
		newTestSite("B", true, "b.example.com"),
	)
	f.issuer.On("PerformRenewalAllManagedSites", mock.Anything, true, mock.Anything).
		Return(func(trackers map[string]ProgressReporter) map[string]*model.CertificateRequestResult {
			trackers["A"].Report(model.RequestProgressState{CurrentState: model.RequestStateSuccess})
			return map[string]*model.CertificateRequestResult{"A": {ManagedItemID: "A", IsSuccess: true}}
		}, nil)

	results, err := f.orchestrator.RenewAll(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, results["A"].IsSuccess)
	assert.False(t, results["B"].IsSuccess)

	state, _ := f.tracker.Get("B")
	assert.Equal(t, model.RequestStateError, state.CurrentState)
}

func TestRenewAll_RecordsRenewalDates(t *testing.T) {
	f := newRenewalFixture(t, newTestSite("A", true, "a.example.com"))
	expiry := time.Now().Add(90 * 24 * time.Hour)

	f.issuer.On("PerformRenewalAllManagedSites", mock.Anything, true, mock.Anything).
		Return(map[string]*model.CertificateRequestResult{"A": {ManagedItemID: "A", IsSuccess: true, ExpiresAt: &expiry}}, nil)

	_, err := f.orchestrator.RenewAll(context.Background(), true)
	require.NoError(t, err)

	site, _ := f.store.Get("A")
	require.NotNil(t, site.DateRenewed)
	require.NotNil(t, site.DateExpiry)
	assert.True(t, site.DateExpiry.Equal(expiry))
}

func TestBeginCertificateRequest(t *testing.T) {
	f := newRenewalFixture(t, newTestSite("A", true, "a.example.com"))
	f.issuer.On("PerformCertificateRequest", mock.Anything, (*model.RequestConfig)(nil), mock.Anything, mock.Anything).
		Return(func(site *model.ManagedSite, progress ProgressReporter) *model.CertificateRequestResult {
			progress.Report(model.RequestProgressState{Message: "ordering"})
			progress.Report(model.RequestProgressState{CurrentState: model.RequestStateSuccess, Message: "issued"})
			return &model.CertificateRequestResult{ManagedItemID: site.ID, IsSuccess: true}
		}, nil)

	require.NoError(t, f.orchestrator.BeginCertificateRequest(context.Background(), "A"))
	require.NoError(t, f.orchestrator.Wait(context.Background()))

	state, ok := f.tracker.Get("A")
	require.True(t, ok)
	assert.Equal(t, model.RequestStateSuccess, state.CurrentState)
	assert.Equal(t, "issued", state.Message)
}

func TestBeginCertificateRequest_UnknownItem(t *testing.T) {
	f := newRenewalFixture(t)

	err := f.orchestrator.BeginCertificateRequest(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.False(t, f.tracker.HasRequestsInProgress())
}

func TestBeginCertificateRequest_OutlivesCallerContext(t *testing.T) {
	f := newRenewalFixture(t, newTestSite("A", true, "a.example.com"))

	release := make(chan struct{})
	f.issuer.On("PerformCertificateRequest", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-release
			assert.NoError(t, args.Get(0).(context.Context).Err())
		}).
		Return(&model.CertificateRequestResult{ManagedItemID: "A", IsSuccess: true}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.orchestrator.BeginCertificateRequest(ctx, "A"))
	cancel()
	close(release)

	require.NoError(t, f.orchestrator.Wait(context.Background()))
	state, _ := f.tracker.Get("A")
	assert.Equal(t, model.RequestStateSuccess, state.CurrentState)
}

func TestRequestCertificate_IssuerPanicBecomesError(t *testing.T) {
	f := newRenewalFixture(t, newTestSite("A", true, "a.example.com"))
	f.issuer.On("PerformCertificateRequest", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { panic("boom") })

	result, err := f.orchestrator.RequestCertificate(context.Background(), "A")
	require.NoError(t, err)
	assert.False(t, result.IsSuccess)
	assert.Contains(t, result.Message, "boom")

	state, _ := f.tracker.Get("A")
	assert.Equal(t, model.RequestStateError, state.CurrentState)
}

func TestRequestCertificate_IssuerErrorBecomesError(t *testing.T) {
	f := newRenewalFixture(t, newTestSite("A", true, "a.example.com"))
	f.issuer.On("PerformCertificateRequest", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("no account"))

	result, err := f.orchestrator.RequestCertificate(context.Background(), "A")
	require.NoError(t, err)
	assert.False(t, result.IsSuccess)

	state, _ := f.tracker.Get("A")
	assert.Equal(t, model.RequestStateError, state.CurrentState)
	assert.Equal(t, "no account", state.Message)
}

func TestRequestCertificate_Timeout(t *testing.T) {
	f := newRenewalFixture(t, newTestSite("A", true, "a.example.com"))
	f.orchestrator.SetRequestTimeout(10 * time.Millisecond)

	f.issuer.On("PerformCertificateRequest", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	result, err := f.orchestrator.RequestCertificate(context.Background(), "A")
	require.NoError(t, err)
	assert.False(t, result.IsSuccess)
}

package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certify-manager/internal/config"
	"certify-manager/internal/model"
)

type fakeRenewer struct {
	mu       sync.Mutex
	calls    int
	autoOnly []bool
	block    chan struct{}
	err      error
}

func (f *fakeRenewer) RenewAll(ctx context.Context, autoRenewalsOnly bool) (map[string]*model.CertificateRequestResult, error) {
	f.mu.Lock()
	f.calls++
	f.autoOnly = append(f.autoOnly, autoRenewalsOnly)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if f.err != nil {
		return nil, f.err
	}
	return map[string]*model.CertificateRequestResult{
		"a": {ManagedItemID: "a", IsSuccess: true},
		"b": {ManagedItemID: "b"},
	}, nil
}

func (f *fakeRenewer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLocker struct {
	ready    bool
	held     map[string]string
	acquired int
	released int
	err      error
}

func (l *fakeLocker) IsReady() bool { return l.ready }

func (l *fakeLocker) AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	if _, ok := l.held[key]; ok {
		return false, nil
	}
	l.held[key] = value
	l.acquired++
	return true, nil
}

func (l *fakeLocker) ReleaseLock(ctx context.Context, key, value string) error {
	if l.held[key] == value {
		delete(l.held, key)
		l.released++
	}
	return nil
}

func TestRun_RenewsAutoSites(t *testing.T) {
	renewer := &fakeRenewer{}
	s := NewRenewalScheduler(renewer, nil, "0 3 * * *", zerolog.Nop())

	ran, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, []bool{true}, renewer.autoOnly)
}

func TestRun_UsesLock(t *testing.T) {
	renewer := &fakeRenewer{}
	locker := &fakeLocker{ready: true, held: map[string]string{}}
	s := NewRenewalScheduler(renewer, locker, "0 3 * * *", zerolog.Nop())

	ran, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, locker.acquired)
	assert.Equal(t, 1, locker.released)
	assert.Empty(t, locker.held)
}

func TestRun_SkipsWhenLockHeld(t *testing.T) {
	renewer := &fakeRenewer{}
	locker := &fakeLocker{ready: true, held: map[string]string{config.RenewalLockKey: "other-instance"}}
	s := NewRenewalScheduler(renewer, locker, "0 3 * * *", zerolog.Nop())

	ran, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Zero(t, renewer.Calls())
	assert.Equal(t, "other-instance", locker.held[config.RenewalLockKey])
}

func TestRun_LockErrorSkipsRenewal(t *testing.T) {
	renewer := &fakeRenewer{}
	locker := &fakeLocker{ready: true, held: map[string]string{}, err: errors.New("redis timeout")}
	s := NewRenewalScheduler(renewer, locker, "0 3 * * *", zerolog.Nop())

	ran, err := s.Run(context.Background())
	assert.Error(t, err)
	assert.False(t, ran)
	assert.Zero(t, renewer.Calls())
}

func TestRun_UnreadyLockerIsIgnored(t *testing.T) {
	renewer := &fakeRenewer{}
	locker := &fakeLocker{ready: false, held: map[string]string{}}
	s := NewRenewalScheduler(renewer, locker, "0 3 * * *", zerolog.Nop())

	ran, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Zero(t, locker.acquired)
}

func TestRun_SkipsOverlappingRuns(t *testing.T) {
	renewer := &fakeRenewer{block: make(chan struct{})}
	s := NewRenewalScheduler(renewer, nil, "0 3 * * *", zerolog.Nop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Run(context.Background())
	}()

	require.Eventually(t, func() bool { return renewer.Calls() == 1 }, time.Second, 5*time.Millisecond)

	ran, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)

	close(renewer.block)
	<-done
	assert.Equal(t, 1, renewer.Calls())
}

func TestRun_RenewerError(t *testing.T) {
	renewer := &fakeRenewer{err: errors.New("store unavailable")}
	s := NewRenewalScheduler(renewer, nil, "0 3 * * *", zerolog.Nop())

	ran, err := s.Run(context.Background())
	assert.True(t, ran)
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	s := NewRenewalScheduler(&fakeRenewer{}, nil, "0 3 * * *", zerolog.Nop())

	require.NoError(t, s.Start())
	next := s.NextRun()
	assert.False(t, next.IsZero())
	assert.Equal(t, 3, next.Hour())

	s.Stop()
	assert.True(t, s.NextRun().IsZero())
	s.Stop()
}

func TestStart_InvalidSchedule(t *testing.T) {
	s := NewRenewalScheduler(&fakeRenewer{}, nil, "not a schedule", zerolog.Nop())
	assert.Error(t, s.Start())
}

package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"certify-manager/internal/config"
	"certify-manager/internal/model"
)

type progressLogCache interface {
	IsReady() bool
	AppendJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	ListRange(ctx context.Context, key string) ([]string, error)
	Delete(ctx context.Context, keys ...string) error
}

// ProgressLogger mirrors tracker events into a per-item redis list so a
// request's history survives the tracker replacing its entry
type ProgressLogger struct {
	cache   progressLogCache
	tracker *ProgressTracker
	logger  zerolog.Logger

	mu     sync.Mutex
	cancel func()
	done   chan struct{}
}

func NewProgressLogger(cache progressLogCache, tracker *ProgressTracker, logger zerolog.Logger) *ProgressLogger {
	return &ProgressLogger{
		cache:   cache,
		tracker: tracker,
		logger:  logger.With().Str("component", "progress_log").Logger(),
	}
}

func logKey(managedItemID string) string {
	return config.ProgressLogKeyPrefix + managedItemID
}

// Start subscribes to the tracker and writes events until Stop is called
func (p *ProgressLogger) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}

	events, cancel := p.tracker.Subscribe(config.ProgressSubscriberBuffer)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		for ev := range events {
			p.record(ev)
		}
	}(p.done)

	p.logger.Info().Msg("progress log started")
}

func (p *ProgressLogger) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logger.Info().Msg("progress log stopped")
}

func (p *ProgressLogger) record(ev ProgressEvent) {
	if !p.cache.IsReady() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.ContextTimeout)
	defer cancel()

	key := logKey(ev.State.ManagedItemID)
	if ev.Tracked {
		// a fresh request starts a fresh history
		if err := p.cache.Delete(ctx, key); err != nil {
			p.logger.Warn().Err(err).Str("key", key).Msg("failed to reset progress log")
		}
	}

	entry := model.ProgressLogEntry{
		Timestamp: ev.State.UpdatedAt,
		State:     ev.State.CurrentState,
		Message:   ev.State.Message,
	}
	if err := p.cache.AppendJSON(ctx, key, entry, config.ProgressLogTTL); err != nil {
		p.logger.Warn().Err(err).Str("key", key).Msg("failed to append progress log")
	}
}

// GetLogs returns the recorded history of a managed item. Without redis only
// the current tracker state is returned.
func (p *ProgressLogger) GetLogs(ctx context.Context, managedItemID string) (*model.ProgressLogResponse, error) {
	state, tracked := p.tracker.Get(managedItemID)

	resp := &model.ProgressLogResponse{
		ManagedItemID: managedItemID,
		State:         state.CurrentState,
		Logs:          []model.ProgressLogEntry{},
		IsComplete:    tracked && state.CurrentState.IsTerminal(),
	}

	if !p.cache.IsReady() {
		if tracked {
			resp.Logs = append(resp.Logs, model.ProgressLogEntry{
				Timestamp: state.UpdatedAt,
				State:     state.CurrentState,
				Message:   state.Message,
			})
		}
		return resp, nil
	}

	raw, err := p.cache.ListRange(ctx, logKey(managedItemID))
	if err != nil {
		return nil, err
	}
	for _, r := range raw {
		var entry model.ProgressLogEntry
		if err := json.Unmarshal([]byte(r), &entry); err != nil {
			p.logger.Debug().Err(err).Msg("skipping malformed progress log entry")
			continue
		}
		resp.Logs = append(resp.Logs, entry)
	}

	if !tracked && len(resp.Logs) > 0 {
		last := resp.Logs[len(resp.Logs)-1]
		resp.State = last.State
		resp.IsComplete = last.State.IsTerminal()
	}
	return resp, nil
}

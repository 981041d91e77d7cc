package service

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"certify-manager/internal/model"
)

// ProgressEvent is published to subscribers whenever a tracked entry changes
type ProgressEvent struct {
	State model.RequestProgressState `json:"state"`
	// Tracked is set when the entry was just registered rather than updated
	Tracked bool `json:"tracked"`
}

// ProgressTracker is the registry of live request progress, one entry per managed item.
// It is the single synchronization point between running requests and observers.
type ProgressTracker struct {
	mu          sync.Mutex
	entries     map[string]*progressEntry
	seq         uint64
	subscribers map[int]chan ProgressEvent
	nextSubID   int
	now         func() time.Time
	logger      zerolog.Logger
}

type progressEntry struct {
	tracker *ProgressTracker
	seq     uint64
	state   model.RequestProgressState
}

// Report applies update to the entry this reporter was issued for
func (e *progressEntry) Report(update model.RequestProgressState) {
	e.tracker.report(e, update)
}

func NewProgressTracker(logger zerolog.Logger) *ProgressTracker {
	return &ProgressTracker{
		entries:     make(map[string]*progressEntry),
		subscribers: make(map[int]chan ProgressEvent),
		now:         time.Now,
		logger:      logger.With().Str("component", "progress_tracker").Logger(),
	}
}

// Track registers state, replacing any existing entry for the same managed item,
// and returns the reporter bound to the new entry
func (t *ProgressTracker) Track(state model.RequestProgressState) ProgressReporter {
	if state.CurrentState == "" {
		state.CurrentState = model.RequestStateNotStarted
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	state.UpdatedAt = t.now()
	entry := &progressEntry{tracker: t, seq: t.seq, state: state}
	t.entries[state.ManagedItemID] = entry

	t.publishLocked(ProgressEvent{State: state, Tracked: true})
	return entry
}

func (t *ProgressTracker) report(entry *progressEntry, update model.RequestProgressState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := entry.state.ManagedItemID
	if current, ok := t.entries[id]; !ok || current != entry {
		t.logger.Debug().Str("managed_item_id", id).Msg("dropping progress report for replaced entry")
		return
	}
	if entry.state.CurrentState.IsTerminal() {
		t.logger.Debug().
			Str("managed_item_id", id).
			Str("state", string(entry.state.CurrentState)).
			Str("ignored", string(update.CurrentState)).
			Msg("dropping progress report after terminal state")
		return
	}

	next := update.CurrentState
	if next == "" || next == model.RequestStateNotStarted {
		next = model.RequestStateInProgress
	}

	entry.state.CurrentState = next
	entry.state.IsStarted = true
	if update.Message != "" {
		entry.state.Message = update.Message
	}
	entry.state.UpdatedAt = t.now()

	t.publishLocked(ProgressEvent{State: entry.state})
}

// CurrentResults returns a snapshot of all entries in registration order
func (t *ProgressTracker) CurrentResults() []model.RequestProgressState {
	t.mu.Lock()
	entries := make([]*progressEntry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	results := make([]model.RequestProgressState, 0, len(entries))
	for _, e := range entries {
		results = append(results, e.state)
	}
	t.mu.Unlock()

	return results
}

// Get returns the current state for a managed item
func (t *ProgressTracker) Get(managedItemID string) (model.RequestProgressState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[managedItemID]
	if !ok {
		return model.RequestProgressState{}, false
	}
	return e.state, true
}

// HasRequestsInProgress reports whether any request is tracked
func (t *ProgressTracker) HasRequestsInProgress() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries) > 0
}

// ActiveCount returns the number of entries not yet in a terminal state
func (t *ProgressTracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, e := range t.entries {
		if !e.state.CurrentState.IsTerminal() {
			n++
		}
	}
	return n
}

// Remove drops the entry for a managed item; its reporter becomes inert
func (t *ProgressTracker) Remove(managedItemID string) {
	t.mu.Lock()
	delete(t.entries, managedItemID)
	t.mu.Unlock()
}

// Clear drops every entry
func (t *ProgressTracker) Clear() {
	t.mu.Lock()
	t.entries = make(map[string]*progressEntry)
	t.mu.Unlock()
}

// Subscribe returns a channel receiving every progress event in per-item order.
// Delivery never blocks the tracker: events for a full channel are dropped.
func (t *ProgressTracker) Subscribe(buffer int) (<-chan ProgressEvent, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan ProgressEvent, buffer)

	t.mu.Lock()
	id := t.nextSubID
	t.nextSubID++
	t.subscribers[id] = ch
	t.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			if _, ok := t.subscribers[id]; ok {
				delete(t.subscribers, id)
				close(ch)
			}
			t.mu.Unlock()
		})
	}
	return ch, cancel
}

// CloseSubscriptions closes every subscriber channel
func (t *ProgressTracker) CloseSubscriptions() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, ch := range t.subscribers {
		delete(t.subscribers, id)
		close(ch)
	}
}

func (t *ProgressTracker) publishLocked(event ProgressEvent) {
	for id, ch := range t.subscribers {
		select {
		case ch <- event:
		default:
			t.logger.Warn().
				Int("subscriber", id).
				Str("managed_item_id", event.State.ManagedItemID).
				Msg("progress subscriber is full, dropping event")
		}
	}
}

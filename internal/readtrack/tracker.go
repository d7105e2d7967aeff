// Package readtrack batches read receipts. Observing messages arms a short
// debounce timer; when it fires the accumulated ids go to the backend in one
// batch call. Switching chats flushes the previous context immediately so ids
// never leak across contexts.
package readtrack

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultDebounce is the window during which observed ids accumulate before
// the batch call.
const DefaultDebounce = 500 * time.Millisecond

// Marker performs the batch mark-read call.
type Marker func(messageIDs []string) error

// Tracker debounces and batches read receipts for the active chat context.
type Tracker struct {
	debounce time.Duration
	marker   Marker
	log      *zap.Logger

	mu      sync.Mutex
	chatKey string
	pending []string
	seen    map[string]bool
	timer   *time.Timer
	stopped bool
}

// NewTracker creates a Tracker. debounce <= 0 means DefaultDebounce.
func NewTracker(debounce time.Duration, marker Marker, logger *zap.Logger) *Tracker {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		debounce: debounce,
		marker:   marker,
		log:      logger.Named("readtrack"),
		seen:     make(map[string]bool),
	}
}

// Observe records that messageID became visible in chatKey. The first id for
// a new context implies a context switch: the previous context is flushed
// first. Duplicate ids within one pending batch are ignored.
func (t *Tracker) Observe(chatKey, messageID string) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}

	var flush []string
	if t.chatKey != "" && t.chatKey != chatKey {
		flush = t.takeLocked()
	}
	t.chatKey = chatKey

	if !t.seen[messageID] {
		t.seen[messageID] = true
		t.pending = append(t.pending, messageID)
		if t.timer == nil {
			t.timer = time.AfterFunc(t.debounce, t.flushTimer)
		}
	}
	t.mu.Unlock()

	t.mark(flush)
}

// SwitchChat flushes any batch pending for the previous chat context and
// makes newKey the active context. The old context's debounce timer must not
// fire afterwards.
func (t *Tracker) SwitchChat(newKey string) {
	t.mu.Lock()
	flush := t.takeLocked()
	t.chatKey = newKey
	t.mu.Unlock()

	t.mark(flush)
}

// Flush sends the pending batch immediately.
func (t *Tracker) Flush() {
	t.mu.Lock()
	flush := t.takeLocked()
	t.mu.Unlock()

	t.mark(flush)
}

// Stop cancels the pending timer and discards state. Pending ids are flushed
// one last time.
func (t *Tracker) Stop() {
	t.mu.Lock()
	flush := t.takeLocked()
	t.stopped = true
	t.mu.Unlock()

	t.mark(flush)
}

// takeLocked drains the pending batch and cancels the timer.
func (t *Tracker) takeLocked() []string {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	batch := t.pending
	t.pending = nil
	t.seen = make(map[string]bool)
	return batch
}

func (t *Tracker) flushTimer() {
	t.mu.Lock()
	if t.timer == nil {
		// Cancelled between firing and acquiring the lock.
		t.mu.Unlock()
		return
	}
	flush := t.takeLocked()
	t.mu.Unlock()

	t.mark(flush)
}

func (t *Tracker) mark(ids []string) {
	if len(ids) == 0 {
		return
	}
	if err := t.marker(ids); err != nil {
		t.log.Warn("mark-read batch failed", zap.Int("count", len(ids)), zap.Error(err))
	}
}

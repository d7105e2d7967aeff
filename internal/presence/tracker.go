// Package presence reduces typing and presence signals into per-entity
// boolean state with automatic decay. The server does not guarantee a
// "stopped" event for every "started" event, so every active mark carries a
// timeout as the safety net against a lost stop signal.
package presence

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultDecay is the window after which an active signal is assumed stale.
const DefaultDecay = 3 * time.Second

// Observer is notified on every state transition of an entity key.
type Observer func(key string, active bool)

type entry struct {
	active bool
	timer  *time.Timer
	// seq invalidates a decay timer that fires after being superseded by a
	// newer signal for the same key.
	seq uint64
}

// Tracker keeps the current active flag per entity key. An entity has no
// state at all until its first event arrives.
type Tracker struct {
	decay    time.Duration
	observer Observer
	log      *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// NewTracker creates a Tracker with the given decay window (DefaultDecay when
// zero). The observer may be nil.
func NewTracker(decay time.Duration, observer Observer, logger *zap.Logger) *Tracker {
	if decay <= 0 {
		decay = DefaultDecay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		decay:    decay,
		observer: observer,
		log:      logger.Named("presence"),
		entries:  make(map[string]*entry),
	}
}

// TypingKey builds the composite key for a user typing in a group.
func TypingKey(groupID, userID string) string {
	return groupID + ":" + userID
}

// Set records a signal for key. active=true (re)arms the decay timer — last
// write wins on the window. active=false cancels any pending timer and clears
// the flag immediately.
func (t *Tracker) Set(key string, active bool) {
	t.mu.Lock()

	e, seen := t.entries[key]
	if !seen {
		e = &entry{}
		t.entries[key] = e
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.seq++

	changed := !seen && active || seen && e.active != active
	e.active = active

	if active {
		seq := e.seq
		e.timer = time.AfterFunc(t.decay, func() { t.expire(key, seq) })
	}
	t.mu.Unlock()

	if changed {
		t.notify(key, active)
	}
}

// Active reports the current flag for key. The second result is false when
// no event about the key has ever arrived.
func (t *Tracker) Active(key string) (bool, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return false, false
	}
	return e.active, true
}

// Stop cancels every pending decay timer. No observer calls follow.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		e.seq++
	}
}

// expire fires when key's decay window elapses with no renewing signal.
func (t *Tracker) expire(key string, seq uint64) {
	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok || e.seq != seq {
		// Superseded or cancelled between firing and acquiring the lock.
		t.mu.Unlock()
		return
	}
	e.timer = nil
	e.seq++
	changed := e.active
	e.active = false
	t.mu.Unlock()

	if changed {
		t.log.Debug("signal decayed", zap.String("key", key))
		t.notify(key, false)
	}
}

func (t *Tracker) notify(key string, active bool) {
	if t.observer != nil {
		t.observer(key, active)
	}
}

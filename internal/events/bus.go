package events

import (
	"log"
	"sync"
	"time"
)

// DefaultHistorySize is the default ring buffer capacity.
const DefaultHistorySize = 200

// Listener receives events synchronously during Emit.
type Listener func(Event)

type subscription struct {
	typ Type
	fn  Listener
}

// Bus is a typed pub/sub event bus with synchronous fan-out and a bounded
// history ring for late or polling-based subscribers. A panicking listener
// is recovered and logged, never interrupting sibling listeners or the emitter.
type Bus struct {
	mu      sync.RWMutex
	nextID  int
	subs    map[int]subscription
	history []Event // ring buffer, oldest first
	histCap int
	closed  bool
}

// NewBus creates a new event bus retaining the last historySize events.
// historySize <= 0 uses DefaultHistorySize.
func NewBus(historySize int) *Bus {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Bus{
		subs:    make(map[int]subscription),
		histCap: historySize,
	}
}

// On registers a listener for the given event type (or Wildcard for all).
// Returns a subscription ID for Off.
func (b *Bus) On(typ Type, fn Listener) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return -1
	}

	b.nextID++
	b.subs[b.nextID] = subscription{typ: typ, fn: fn}
	return b.nextID
}

// Off removes a subscription. Unknown IDs are ignored.
func (b *Bus) Off(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Emit publishes an event to all matching listeners synchronously and
// records it in the history ring. No-op after Close.
func (b *Bus) Emit(typ Type, data any, meta map[string]string) {
	ev := Event{
		Type:      typ,
		Data:      data,
		Meta:      meta,
		Timestamp: time.Now(),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}

	// Record in ring buffer
	b.history = append(b.history, ev)
	if len(b.history) > b.histCap {
		b.history = b.history[len(b.history)-b.histCap:]
	}

	// Snapshot listeners so callbacks run outside the lock
	listeners := make([]Listener, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.typ == typ || sub.typ == Wildcard {
			listeners = append(listeners, sub.fn)
		}
	}
	b.mu.Unlock()

	for _, fn := range listeners {
		callListener(fn, ev)
	}
}

// callListener invokes a listener, recovering and logging any panic so one
// bad listener cannot interrupt its siblings or the emitter.
func callListener(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("WARNING: event listener panicked on %s: %v", ev.Type, r)
		}
	}()
	fn(ev)
}

// History returns up to limit retained events in FIFO order (oldest first).
// limit <= 0 returns the full retained window.
func (b *Bus) History(limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := len(b.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Event, n)
	copy(out, b.history[len(b.history)-n:])
	return out
}

// Close shuts the bus down. Safe to call multiple times (idempotent).
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.subs = make(map[int]subscription)
}

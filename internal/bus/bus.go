package bus

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/chatsync/internal/metrics"
)

// Bus fans events out to subscribers by kind prefix. Delivery never blocks the
// publisher: an event is dropped for a subscriber whose buffer is full.
type Bus struct {
	mu      sync.RWMutex
	subs    []*subscription
	dropped atomic.Uint64
}

type subscription struct {
	prefix string
	ch     chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

// Publish delivers evt to every subscription whose prefix starts evt.Kind.
// A zero Timestamp is set to now.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
			metrics.IncBusDropped(Family(evt.Kind))
		}
	}
}

// Subscribe registers a buffered channel for kinds starting with prefix.
// The returned cancel func may be called any number of times; the channel is
// never closed.
func (b *Bus) Subscribe(prefix string, buffer int) (<-chan Event, func()) {
	sub := &subscription{prefix: prefix, ch: make(chan Event, buffer)}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return sub.ch, func() {
		b.mu.Lock()
		b.subs = slices.DeleteFunc(b.subs, func(s *subscription) bool { return s == sub })
		b.mu.Unlock()
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was
// full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Family is the leading segment of an event kind: "sync", "live", "status"
// or "conversation".
func Family(kind string) string {
	if i := strings.IndexAny(kind, "./"); i >= 0 {
		return kind[:i]
	}
	return kind
}

package status

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
)

// State represents the daemon's connectivity state.
type State string

const (
	Booting  State = "BOOTING"
	Online   State = "ONLINE"
	Offline  State = "OFFLINE"
	Degraded State = "DEGRADED"
	Stopped  State = "STOPPED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:  {Online, Offline, Degraded, Stopped},
	Online:   {Offline, Degraded, Stopped},
	Offline:  {Online, Degraded, Stopped},
	Degraded: {Online, Offline, Stopped},
	Stopped:  {},
}

// Machine tracks and enforces daemon state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	since   time.Time
	reason  string
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		since:   time.Now(),
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Snapshot returns the current state, when it was entered and why.
func (m *Machine) Snapshot() (State, time.Time, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.since, m.reason
}

// Transition attempts to move to a new state. Moving to the current state
// only refreshes the reason. Returns error if transition is invalid.
func (m *Machine) Transition(to State, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == m.current {
		m.reason = reason
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.since = time.Now()
	m.reason = reason
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindStatusChanged,
			Timestamp: m.since,
			Payload: StatusChange{
				From:   from,
				To:     to,
				Reason: reason,
			},
		})
	}
	return nil
}

// Track drives the machine from sync and live events until ctx ends, then
// moves it to Stopped. Subscriptions are in place when Track returns; the
// returned channel is closed once tracking stopped.
func (m *Machine) Track(ctx context.Context) <-chan struct{} {
	syncEvents, unsubSync := m.bus.Subscribe("sync.", 64)
	liveEvents, unsubLive := m.bus.Subscribe("live.", 64)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer unsubSync()
		defer unsubLive()
		for {
			var evt bus.Event
			select {
			case <-ctx.Done():
				_ = m.Transition(Stopped, "shutdown")
				return
			case evt = <-syncEvents:
			case evt = <-liveEvents:
			}
			if to, reason, ok := stateFor(evt); ok {
				_ = m.Transition(to, reason)
			}
		}
	}()
	return done
}

// stateFor maps an event to the state it implies.
func stateFor(evt bus.Event) (State, string, bool) {
	switch evt.Kind {
	case bus.KindSyncCompleted:
		r, _ := evt.Payload.(bus.SyncReport)
		if r.Failed > 0 {
			return Degraded, fmt.Sprintf("%d message(s) failed to push in %s", r.Failed, r.ConversationID), true
		}
		return Online, "", true
	case bus.KindSyncFailed:
		r, _ := evt.Payload.(bus.SyncReport)
		if r.AuthFailed {
			return Degraded, r.Err, true
		}
		return Offline, r.Err, true
	case bus.KindLiveConnected:
		return Online, "", true
	case bus.KindLiveReconnecting:
		s, _ := evt.Payload.(bus.LiveState)
		return Offline, s.Reason, true
	}
	return "", "", false
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From   State
	To     State
	Reason string
}

package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/msgdb/internal/bus"
)

// EventStatusChanged is published on every accepted transition.
const EventStatusChanged = "store.status_changed"

// State is a lifecycle state of the message store process.
type State string

const (
	Opening   State = "OPENING"
	Migrating State = "MIGRATING"
	Loading   State = "LOADING"
	Ready     State = "READY"
	Degraded  State = "DEGRADED"
	Closing   State = "CLOSING"
	Closed    State = "CLOSED"
	Error     State = "ERROR"
)

var validTransitions = map[State][]State{
	Opening:   {Migrating, Error},
	Migrating: {Loading, Error},
	Loading:   {Ready, Degraded, Error},
	Ready:     {Degraded, Closing, Error},
	Degraded:  {Ready, Closing, Error},
	Closing:   {Closed},
	Closed:    {},
	Error:     {Opening, Closing},
}

// Machine tracks the store lifecycle and rejects out-of-order transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	reason  string
	bus     *bus.Bus
}

// NewMachine starts in Opening. b may be nil.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Opening, bus: b}
}

func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Reason returns the note attached to the last transition.
func (m *Machine) Reason() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reason
}

// Transition moves to the given state.
func (m *Machine) Transition(to State) error {
	return m.TransitionWithReason(to, "")
}

// TransitionWithReason moves to the given state and records why.
func (m *Machine) TransitionWithReason(to State, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.reason = reason
	if m.bus != nil {
		m.bus.Publish(bus.NewEvent(EventStatusChanged, time.Now(), StatusChange{From: from, To: to, Reason: reason}))
	}
	return nil
}

// Serving reports whether reads and writes should be accepted.
func (m *Machine) Serving() bool {
	switch m.Current() {
	case Ready, Degraded:
		return true
	}
	return false
}

// StatusChange is the payload of EventStatusChanged.
type StatusChange struct {
	From   State
	To     State
	Reason string
}

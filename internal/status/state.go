package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/vchat-dev/vchat/internal/bus"
)

// State represents the client's connectivity state toward the remote store.
type State string

const (
	Starting State = "STARTING"
	Online   State = "ONLINE"
	Offline  State = "OFFLINE"
	Closed   State = "CLOSED"
)

// validTransitions defines allowed state transitions. Offline and Online
// flip back and forth as connectivity comes and goes; Closed is terminal.
var validTransitions = map[State][]State{
	Starting: {Online, Offline, Closed},
	Online:   {Offline, Closed},
	Offline:  {Online, Closed},
	Closed:   {},
}

// Machine tracks and enforces connectivity state transitions.
// Subscriptions stay registered across Online/Offline flips, which is what
// lets the sync layer recover from connectivity loss without caller help.
type Machine struct {
	mu        sync.RWMutex
	current   State
	bus       *bus.Bus
	observers map[int]func(StatusChange)
	nextID    int
}

// NewMachine creates a new state machine starting in Starting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Starting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is
// invalid. Observers run synchronously before the bus event goes out, so the
// store's connectivity is already updated when consumers see the change.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	change := StatusChange{From: m.current, To: to}
	m.current = to
	observers := make([]func(StatusChange), 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	m.mu.Unlock()

	for _, fn := range observers {
		fn(change)
	}
	if m.bus != nil {
		m.bus.Emit("status.changed", change)
	}
	return nil
}

// OnChange registers fn to run on every successful transition. Returns an
// unregister function that is safe to call more than once.
func (m *Machine) OnChange(fn func(StatusChange)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	if m.observers == nil {
		m.observers = make(map[int]func(StatusChange))
	}
	m.observers[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.observers, id)
			m.mu.Unlock()
		})
	}
}

// ConnectivityStore is the slice of the document store the machine drives.
type ConnectivityStore interface {
	SetOnline(bool)
}

// Bind makes the machine the connectivity authority for store: entering
// Online turns the store online, entering Offline or Closed turns it off.
// Returns an unbind function.
func Bind(m *Machine, store ConnectivityStore) func() {
	return m.OnChange(func(c StatusChange) {
		store.SetOnline(c.To == Online)
	})
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}

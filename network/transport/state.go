package transport

import (
	"fmt"
	"sync"

	"github.com/linchenxuan/strixlink/log"
)

// State is the connection state of a transport.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Trigger is an input to the state machine.
type Trigger int

const (
	TriggerConnect Trigger = iota
	TriggerConnected
	TriggerConnectFailed
	TriggerDisconnect
	TriggerIOError
)

func (t Trigger) String() string {
	switch t {
	case TriggerConnect:
		return "connect"
	case TriggerConnected:
		return "connected"
	case TriggerConnectFailed:
		return "connect_failed"
	case TriggerDisconnect:
		return "disconnect"
	case TriggerIOError:
		return "io_error"
	default:
		return fmt.Sprintf("trigger(%d)", int(t))
	}
}

type transition struct {
	from State
	on   Trigger
}

var _transitions = map[transition]State{
	{Disconnected, TriggerConnect}:     Connecting,
	{Connecting, TriggerConnected}:     Connected,
	{Connecting, TriggerConnectFailed}: Disconnected,
	{Connecting, TriggerDisconnect}:    Disconnected,
	{Connected, TriggerDisconnect}:     Disconnected,
	{Connected, TriggerIOError}:        Disconnected,
}

// FSM guards the state of one transport. Illegal triggers leave the state
// unchanged and return a ValidationError.
type FSM struct {
	name  string
	mu    sync.Mutex
	state State
}

// NewFSM returns a machine in Disconnected. name tags warnings.
func NewFSM(name string) *FSM {
	return &FSM{name: name}
}

// State returns the current state.
func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Fire applies t and returns the previous state.
func (f *FSM) Fire(t Trigger) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	from := f.state
	to, ok := _transitions[transition{from, t}]
	if !ok {
		log.Warn().Str("transport", f.name).Stringer("state", from).Stringer("trigger", t).
			Msg("Illegal transport state transition")
		err := ValidationError(t.String(), "cannot %s while %s", t, from)
		err.Code = CodeState
		return from, err
	}
	f.state = to
	return from, nil
}

// Reset forces Disconnected regardless of the current state.
func (f *FSM) Reset() {
	f.mu.Lock()
	f.state = Disconnected
	f.mu.Unlock()
}

package negotiator

import "fmt"

// State is the negotiation state of a single link.
type State int

const (
	Idle State = iota
	LocalDescriptionReady
	RemoteDescriptionSet
	Open
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case LocalDescriptionReady:
		return "local-description-ready"
	case RemoteDescriptionSet:
		return "remote-description-set"
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == Closed || s == Failed
}

// allowed lists every forward edge of the state machine. Closed and Failed
// are reachable from any non-terminal state and handled separately.
var allowed = map[State][]State{
	Idle:                  {LocalDescriptionReady, RemoteDescriptionSet},
	LocalDescriptionReady: {RemoteDescriptionSet},
	RemoteDescriptionSet:  {Open},
}

func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == Closed || to == Failed {
		return true
	}
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}

package dispatch

// State is the position of one dispatch call in its lifecycle:
//
//	Start → AwaitingFirstResponse → Done
//	                              → ExecutingTools → AwaitingSecondResponse → Done
//
// and any state may move to Failed. There are no cycles.
type State int

const (
	StateStart State = iota
	StateAwaitingFirstResponse
	StateExecutingTools
	StateAwaitingSecondResponse
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "START"
	case StateAwaitingFirstResponse:
		return "AWAITING_FIRST_RESPONSE"
	case StateExecutingTools:
		return "EXECUTING_TOOLS"
	case StateAwaitingSecondResponse:
		return "AWAITING_SECOND_RESPONSE"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transitions can follow.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// StateChange is published on the bus for every transition.
type StateChange struct {
	From State
	To   State
}

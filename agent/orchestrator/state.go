package orchestrator

// State is the lifecycle phase of a turn.
type State int

const (
	StateIdle State = iota
	StateBuildingContext
	StateAwaitingModel
	StateResolvingTools
	StateFinalizing
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateIdle:            "idle",
	StateBuildingContext: "building_context",
	StateAwaitingModel:   "awaiting_model",
	StateResolvingTools:  "resolving_tools",
	StateFinalizing:      "finalizing",
	StateDone:            "done",
	StateFailed:          "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no transition may leave s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// StateHook observes state transitions of a session's turn.
type StateHook func(sessionID string, from, to State)

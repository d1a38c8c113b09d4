package common

// State is the lifecycle tag shared by a download and its group entry.
type State int32

const (
	StateEnqueued State = iota
	StateRunning
	StatePaused
	StateStopped
	StateFailure
	StateSuccess
)

var stateNames = [...]string{"ENQUEUED", "RUNNING", "PAUSED", "STOPPED", "FAILURE", "SUCCESS"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// IsTerminal reports whether no worker can be active in this state.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailure || s == StateSuccess
}

// ParseState maps a state name back to its tag.
func ParseState(name string) (State, bool) {
	for i, n := range stateNames {
		if n == name {
			return State(i), true
		}
	}
	return 0, false
}

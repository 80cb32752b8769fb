package session

// State is a miner's protocol state.
type State int

const (
	// WaitLogin is the initial state: only a login request is accepted.
	WaitLogin State = iota
	// WaitReady follows a valid login until the first job arrives.
	WaitReady
	// Ready is the steady state: jobs are pushed and shares accepted.
	Ready
	// Closing is terminal.  No request is processed once entered.
	Closing
)

var stateNames = [...]string{
	WaitLogin: "wait-login",
	WaitReady: "wait-ready",
	Ready:     "ready",
	Closing:   "closing",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

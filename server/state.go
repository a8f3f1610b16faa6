package server

// State is the lifecycle state of a Controller. Transitions only move
// forward: Idle, Starting, Running, Stopping, Stopped.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

var stateNames = [...]string{
	StateIdle:     "Idle",
	StateStarting: "Starting",
	StateRunning:  "Running",
	StateStopping: "Stopping",
	StateStopped:  "Stopped",
}

// String returns the state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

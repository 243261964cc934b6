package taskq

import "fmt"

// State is the lifecycle position of a task.
//
//	Queued -> Running -> {Paused, Complete, Stopped, Failed}
//	Paused -> Queued (resume) -> Running
//	Queued/Running/Paused -> Stopped
type State int

const (
	Queued State = iota
	Running
	Paused
	Complete
	Stopped
	Failed
)

var stateNames = [...]string{
	Queued:   "queued",
	Running:  "running",
	Paused:   "paused",
	Complete: "complete",
	Stopped:  "stopped",
	Failed:   "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Complete || s == Stopped || s == Failed
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown task state %q", b)
}

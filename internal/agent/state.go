package agent

import "time"

// TaskState is the lifecycle of one goal's execution.
type TaskState string

const (
	StateRunning        TaskState = "RUNNING"
	StateAwaitingReplan TaskState = "AWAITING_REPLAN"
	StateSucceeded      TaskState = "SUCCEEDED"
	StateFailed         TaskState = "FAILED"
)

var validTransitions = map[TaskState][]TaskState{
	StateRunning:        {StateAwaitingReplan, StateSucceeded, StateFailed},
	StateAwaitingReplan: {StateRunning, StateFailed},
}

// IsValidTransition reports whether from -> to is allowed.
func IsValidTransition(from, to TaskState) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s TaskState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

type Transition struct {
	From TaskState `json:"from"`
	To   TaskState `json:"to"`
	At   time.Time `json:"at"`
}

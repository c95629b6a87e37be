package agent

import "testing"

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from, to TaskState
		want     bool
	}{
		{StateRunning, StateAwaitingReplan, true},
		{StateRunning, StateSucceeded, true},
		{StateRunning, StateFailed, true},
		{StateAwaitingReplan, StateRunning, true},
		{StateAwaitingReplan, StateFailed, true},
		{StateAwaitingReplan, StateSucceeded, false},
		{StateSucceeded, StateRunning, false},
		{StateFailed, StateRunning, false},
	}
	for _, tt := range tests {
		if got := IsValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
	if !StateFailed.Terminal() || StateAwaitingReplan.Terminal() {
		t.Error("Terminal wrong")
	}
}

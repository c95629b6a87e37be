package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func results(statuses ...StepStatus) []StepResult {
	out := make([]StepResult, len(statuses))
	for i, s := range statuses {
		out[i] = StepResult{StepID: string(rune('a' + i)), Capability: "search", Status: s}
	}
	return out
}

func TestTriggered(t *testing.T) {
	tests := []struct {
		name string
		all  []StepResult
		wave []StepResult
		want bool
	}{
		{"clean wave", results(StepSucceeded), results(StepSucceeded), false},
		{"failure", results(StepFailed), results(StepFailed), true},
		{"denial", results(StepDenied), results(StepDenied), true},
		{"skipped only", results(StepSkipped), results(StepSkipped), false},
		{"third success", results(StepSucceeded, StepSucceeded, StepSucceeded), results(StepSucceeded), true},
		{"two successes", results(StepSucceeded, StepSucceeded), results(StepSucceeded), false},
	}
	for _, tt := range tests {
		if got := Triggered(tt.all, tt.wave); got != tt.want {
			t.Errorf("%s: Triggered = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestMaybeReplan(t *testing.T) {
	goal := NewGoal("chat", "book a table", TagNormal)
	failed := results(StepFailed)

	t.Run("no trigger", func(t *testing.T) {
		rev := &fakeReviser{}
		c := NewReplanCoordinator(rev, time.Second, nil, nil)
		budget := NewBudget()
		out := c.MaybeReplan(context.Background(), ReplanRequest{Goal: goal, Results: results(StepSucceeded), WaveResults: results(StepSucceeded), Budget: budget})
		if out.Decision != ReplanSkipped || rev.calls.Load() != 0 || budget.Remaining() != 1 {
			t.Errorf("out = %+v calls = %d remaining = %d", out, rev.calls.Load(), budget.Remaining())
		}
	})

	t.Run("budget exhausted", func(t *testing.T) {
		rev := &fakeReviser{rev: Revision{Waves: []Wave{newWave(newStep("search", ""))}}}
		c := NewReplanCoordinator(rev, time.Second, nil, nil)
		budget := NewBudget()
		first := c.MaybeReplan(context.Background(), ReplanRequest{Goal: goal, Results: failed, WaveResults: failed, Budget: budget})
		second := c.MaybeReplan(context.Background(), ReplanRequest{Goal: goal, Results: failed, WaveResults: failed, Budget: budget})
		if first.Decision != ReplanRevised || len(first.Waves) != 1 {
			t.Errorf("first = %+v", first)
		}
		if second.Decision != ReplanSkipped || second.Reason != "replan budget exhausted" {
			t.Errorf("second = %+v", second)
		}
		if rev.calls.Load() != 1 {
			t.Errorf("calls = %d, want 1", rev.calls.Load())
		}
	})

	t.Run("service error is fail-open", func(t *testing.T) {
		c := NewReplanCoordinator(&fakeReviser{err: errors.New("503")}, time.Second, nil, nil)
		out := c.MaybeReplan(context.Background(), ReplanRequest{Goal: goal, Results: failed, WaveResults: failed, Budget: NewBudget()})
		if out.Decision != ReplanUnchanged || !strings.Contains(out.Reason, "503") {
			t.Errorf("out = %+v", out)
		}
	})

	t.Run("empty revision", func(t *testing.T) {
		c := NewReplanCoordinator(&fakeReviser{}, time.Second, nil, nil)
		out := c.MaybeReplan(context.Background(), ReplanRequest{Goal: goal, Results: failed, WaveResults: failed, Budget: NewBudget()})
		if out.Decision != ReplanUnchanged || !strings.Contains(out.Reason, ErrMalformedPlan.Error()) {
			t.Errorf("out = %+v", out)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		rev := &fakeReviser{}
		c := NewReplanCoordinator(rev, time.Second, nil, nil)
		budget := NewBudget()
		out := c.MaybeReplan(ctx, ReplanRequest{Goal: goal, Results: failed, WaveResults: failed, Budget: budget})
		if out.Decision != ReplanSkipped || rev.calls.Load() != 0 || budget.Remaining() != 1 {
			t.Errorf("out = %+v", out)
		}
	})

	t.Run("no service", func(t *testing.T) {
		c := NewReplanCoordinator(nil, 0, nil, nil)
		if c.Timeout != 20*time.Second {
			t.Errorf("default timeout = %s", c.Timeout)
		}
		out := c.MaybeReplan(context.Background(), ReplanRequest{Goal: goal, Results: failed, WaveResults: failed, Budget: NewBudget()})
		if out.Decision != ReplanUnchanged {
			t.Errorf("out = %+v", out)
		}
	})
}

func TestSummarize(t *testing.T) {
	goal := Goal{Text: "plan a trip"}
	rs := []StepResult{
		{Capability: "search", Description: "find flights", Status: StepSucceeded, Output: "3 flights"},
		{Capability: "send_email", Description: "email agent", Status: StepDenied, Error: "confirmation not received"},
		{Capability: "browser", Status: StepSkipped},
	}
	got := Summarize(goal, rs)
	for _, want := range []string{
		"Goal: plan a trip",
		"- [search] find flights: 3 flights",
		"- [send_email] email agent: DENIED (confirmation not received)",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "browser") {
		t.Error("skipped step listed in summary")
	}
}

package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rahul/novaflow/internal/observability"
)

type ReplanDecision string

const (
	ReplanRevised   ReplanDecision = "revised"
	ReplanUnchanged ReplanDecision = "unchanged"
	ReplanSkipped   ReplanDecision = "skipped"
)

// ReplanOutcome is the typed result of a replan evaluation. Waves is only
// set when Decision is ReplanRevised.
type ReplanOutcome struct {
	Decision ReplanDecision `json:"decision"`
	Waves    []Wave         `json:"waves,omitempty"`
	Reason   string         `json:"reason"`
}

// ReplanThreshold is the cumulative SUCCEEDED count that triggers a replan.
const ReplanThreshold = 3

// Budget is the per-goal replan allowance. Once consumed it is never
// replenished.
type Budget struct {
	mu        sync.Mutex
	remaining int
}

func NewBudget() *Budget {
	return &Budget{remaining: 1}
}

func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

func (b *Budget) consume() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remaining <= 0 {
		return false
	}
	b.remaining--
	return true
}

// ReviseRequest is sent to the decomposition service.
type ReviseRequest struct {
	Goal      Goal
	Summary   string
	Results   []StepResult
	Remaining []Wave
}

// Revision is the service's answer: a new remaining-wave sequence, or an
// explicit "no change".
type Revision struct {
	Waves     []Wave
	Unchanged bool
}

// Reviser is the decomposition service as seen by the coordinator.
type Reviser interface {
	Revise(ctx context.Context, req ReviseRequest) (Revision, error)
}

type ReplanRequest struct {
	Goal Goal
	// Results holds every result so far; WaveResults the just-completed wave.
	Results     []StepResult
	WaveResults []StepResult
	Remaining   []Wave
	Budget      *Budget
}

// ReplanCoordinator decides whether a plan needs revising and, at most once
// per goal, asks the decomposition service for new remaining waves. Service
// failures never propagate: they yield ReplanUnchanged.
type ReplanCoordinator struct {
	Service Reviser
	Timeout time.Duration
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

func NewReplanCoordinator(service Reviser, timeout time.Duration, logger *observability.Logger, metrics *observability.Metrics) *ReplanCoordinator {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &ReplanCoordinator{Service: service, Timeout: timeout, Logger: logger, Metrics: metrics}
}

// Triggered reports whether the results warrant a replan, ignoring budget.
func Triggered(all, wave []StepResult) bool {
	for _, r := range wave {
		if r.Status == StepFailed || r.Status == StepDenied {
			return true
		}
	}
	n := 0
	for _, r := range all {
		if r.Status == StepSucceeded {
			n++
		}
	}
	return n >= ReplanThreshold
}

func (c *ReplanCoordinator) MaybeReplan(ctx context.Context, req ReplanRequest) ReplanOutcome {
	out := c.evaluate(ctx, req)
	c.Logger.LogReplan(req.Goal.ChatID, req.Goal.ID, string(out.Decision), out.Reason)
	c.Metrics.Replan(string(out.Decision))
	return out
}

func (c *ReplanCoordinator) evaluate(ctx context.Context, req ReplanRequest) ReplanOutcome {
	if ctx.Err() != nil {
		return ReplanOutcome{Decision: ReplanSkipped, Reason: "task cancelled"}
	}
	if !Triggered(req.Results, req.WaveResults) {
		return ReplanOutcome{Decision: ReplanSkipped, Reason: "no trigger"}
	}
	// An exhausted budget wins over any trigger.
	if req.Budget == nil || !req.Budget.consume() {
		return ReplanOutcome{Decision: ReplanSkipped, Reason: "replan budget exhausted"}
	}
	if c.Service == nil {
		return ReplanOutcome{Decision: ReplanUnchanged, Reason: "no planning service"}
	}

	observability.SetStatus(observability.RoleReplanning, req.Goal.Text)
	defer observability.SetStatus(observability.RoleExecuting, req.Goal.Text)

	cctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	rev, err := c.Service.Revise(cctx, ReviseRequest{
		Goal:      req.Goal,
		Summary:   Summarize(req.Goal, req.Results),
		Results:   req.Results,
		Remaining: req.Remaining,
	})
	switch {
	case err != nil && ctx.Err() != nil:
		return ReplanOutcome{Decision: ReplanUnchanged, Reason: "task cancelled during replan"}
	case err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded):
		return ReplanOutcome{Decision: ReplanUnchanged, Reason: fmt.Sprintf("planning service timed out after %s", c.Timeout)}
	case err != nil:
		return ReplanOutcome{Decision: ReplanUnchanged, Reason: fmt.Sprintf("planning service error: %v", err)}
	case rev.Unchanged:
		return ReplanOutcome{Decision: ReplanUnchanged, Reason: "planning service kept the plan"}
	}
	if err := validateWaves(rev.Waves); err != nil {
		return ReplanOutcome{Decision: ReplanUnchanged, Reason: err.Error()}
	}
	return ReplanOutcome{Decision: ReplanRevised, Waves: rev.Waves, Reason: fmt.Sprintf("revised into %d wave(s)", len(rev.Waves))}
}

func validateWaves(waves []Wave) error {
	if len(waves) == 0 {
		return fmt.Errorf("%w: no waves", ErrMalformedPlan)
	}
	steps := 0
	for i, w := range waves {
		for j, s := range w.Steps {
			if strings.TrimSpace(s.Capability) == "" {
				return fmt.Errorf("%w: wave %d step %d has no capability", ErrMalformedPlan, i+1, j+1)
			}
			steps++
		}
	}
	if steps == 0 {
		return fmt.Errorf("%w: no steps", ErrMalformedPlan)
	}
	return nil
}

// Summarize lists what worked and what failed so far.
func Summarize(goal Goal, results []StepResult) string {
	var worked, failed []string
	for _, r := range results {
		switch r.Status {
		case StepSucceeded:
			worked = append(worked, fmt.Sprintf("- [%s] %s: %s", r.Capability, describe(r), clip(r.Output, 300)))
		case StepFailed, StepDenied:
			failed = append(failed, fmt.Sprintf("- [%s] %s: %s (%s)", r.Capability, describe(r), r.Status, r.Error))
		}
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Goal: %s\n", goal.Text)
	sb.WriteString("What worked:\n")
	if len(worked) == 0 {
		sb.WriteString("- nothing yet\n")
	}
	for _, l := range worked {
		sb.WriteString(l + "\n")
	}
	sb.WriteString("What failed:\n")
	if len(failed) == 0 {
		sb.WriteString("- nothing\n")
	}
	for _, l := range failed {
		sb.WriteString(l + "\n")
	}
	return sb.String()
}

func clip(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}

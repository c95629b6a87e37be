package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Goal is an immutable request from a chat.
type Goal struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Text      string    `json:"text"`
	Tag       string    `json:"tag"`
	CreatedAt time.Time `json:"created_at"`
}

func NewGoal(chatID, text, tag string) Goal {
	return Goal{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Text:      text,
		Tag:       tag,
		CreatedAt: time.Now(),
	}
}

// Step is a single capability invocation. Steps are never modified after
// the plan that holds them is built.
type Step struct {
	ID          string          `json:"id"`
	Capability  string          `json:"capability"`
	Args        json.RawMessage `json:"args,omitempty"`
	Resource    string          `json:"resource,omitempty"`
	Description string          `json:"description"`
	Fatal       bool            `json:"fatal,omitempty"`
}

// Wave is a batch of steps that run concurrently.
type Wave struct {
	Steps []Step `json:"steps"`
}

// Plan is owned by the WaveExecutor running it.
type Plan struct {
	Goal      Goal   `json:"goal"`
	Waves     []Wave `json:"waves"`
	Version   int    `json:"version"`
	Replanned bool   `json:"replanned"`
}

func NewPlan(goal Goal, waves []Wave) *Plan {
	return &Plan{Goal: goal, Waves: waves, Version: 1}
}

// StepCount returns the number of steps across all waves.
func (p *Plan) StepCount() int {
	n := 0
	for _, w := range p.Waves {
		n += len(w.Steps)
	}
	return n
}

type StepStatus string

const (
	StepSucceeded StepStatus = "SUCCEEDED"
	StepFailed    StepStatus = "FAILED"
	StepDenied    StepStatus = "DENIED"
	StepSkipped   StepStatus = "SKIPPED"
)

// PolicyAudit records the gate's decision for a step.
type PolicyAudit struct {
	Effect string `json:"effect"`
	Tier   string `json:"tier"`
	Reason string `json:"reason"`
}

// StepResult is produced exactly once per step.
type StepResult struct {
	StepID      string        `json:"step_id"`
	Capability  string        `json:"capability"`
	Description string        `json:"description"`
	Wave        int           `json:"wave"`
	Status      StepStatus    `json:"status"`
	Output      string        `json:"output,omitempty"`
	Error       string        `json:"error,omitempty"`
	Code        ErrorCode     `json:"code,omitempty"`
	Policy      *PolicyAudit  `json:"policy,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
	Duration    time.Duration `json:"duration"`
}

// TaskOutcome is what WaveExecutor.Run reports.
type TaskOutcome struct {
	Goal        Goal            `json:"goal"`
	State       TaskState       `json:"state"`
	Plan        *Plan           `json:"plan"`
	Results     []StepResult    `json:"results"`
	FailedStep  *StepResult     `json:"failed_step,omitempty"`
	Replans     []ReplanOutcome `json:"replans,omitempty"`
	Transitions []Transition    `json:"transitions"`
	Score       *float64        `json:"score,omitempty"`
}

// Succeeded counts SUCCEEDED results.
func (o *TaskOutcome) Succeeded() int {
	n := 0
	for _, r := range o.Results {
		if r.Status == StepSucceeded {
			n++
		}
	}
	return n
}

// Summary is the user-visible account of the task: what was done and, for
// a failed task, which step failed.
func (o *TaskOutcome) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task %s after %d step(s)", strings.ToLower(string(o.State)), len(o.Results))
	if o.Plan != nil && o.Plan.Replanned {
		fmt.Fprintf(&sb, " (plan revised to v%d)", o.Plan.Version)
	}
	sb.WriteString(".\n")
	for _, r := range o.Results {
		fmt.Fprintf(&sb, "- %s: %s", describe(r), r.Status)
		if r.Status != StepSucceeded && r.Error != "" {
			fmt.Fprintf(&sb, " (%s)", r.Error)
		}
		sb.WriteString("\n")
	}
	if o.FailedStep != nil {
		fmt.Fprintf(&sb, "Stopped at: %s\n", describe(*o.FailedStep))
	}
	return sb.String()
}

func describe(r StepResult) string {
	if r.Description != "" {
		return r.Description
	}
	return r.Capability
}

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/novaflow/internal/governance"
	"github.com/rahul/novaflow/internal/tools"
)

type fakeTool struct {
	name  string
	calls atomic.Int32
	run   func(ctx context.Context, input string) (string, error)
}

func (f *fakeTool) Name() string               { return f.name }
func (f *fakeTool) Description() string        { return "fake " + f.name }
func (f *fakeTool) Parameters() map[string]any { return map[string]any{"type": "object"} }

func (f *fakeTool) Execute(ctx context.Context, input string) (string, error) {
	f.calls.Add(1)
	if f.run == nil {
		return f.name + " done", nil
	}
	return f.run(ctx, input)
}

func okTool(name string) *fakeTool { return &fakeTool{name: name} }

func badTool(name string) *fakeTool {
	return &fakeTool{name: name, run: func(context.Context, string) (string, error) {
		return "", errors.New("boom")
	}}
}

// newTestEnv registers the tools and classifies each at the given tier.
func newTestEnv(tiers map[*fakeTool]governance.Tier) (*tools.Registry, *governance.Gate) {
	reg := tools.NewRegistry()
	gate := governance.NewGate()
	for t, tier := range tiers {
		reg.Register(t)
		gate.SetTier(t.name, tier)
	}
	return reg, gate
}

func newStep(capability, args string) Step {
	s := Step{Capability: capability, Description: "run " + capability}
	if args != "" {
		s.Args = json.RawMessage(args)
	}
	return s
}

func newWave(steps ...Step) Wave { return Wave{Steps: steps} }

func newTestPlan(waves ...Wave) *Plan {
	return NewPlan(NewGoal("chat-1", "test goal", TagNormal), normalizeWaves(waves, 1))
}

type fakeReviser struct {
	calls atomic.Int32
	delay time.Duration
	rev   Revision
	err   error
}

func (f *fakeReviser) Revise(ctx context.Context, req ReviseRequest) (Revision, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Revision{}, ctx.Err()
		}
	}
	return f.rev, f.err
}

type fakeConfirmer struct {
	calls  atomic.Int32
	answer bool
	wait   <-chan struct{}
}

func (f *fakeConfirmer) Confirm(ctx context.Context, chatID string, s Step, d governance.Decision) (bool, error) {
	f.calls.Add(1)
	if f.wait != nil {
		select {
		case <-f.wait:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return f.answer, nil
}

type fixedScorer struct {
	score float64
	err   error
}

func (f fixedScorer) Score(context.Context, *TaskOutcome) (float64, error) {
	return f.score, f.err
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []string
	tools   [][]string
}

func (f *fakeRecorder) Record(_ context.Context, goal, approach string, used []string, score float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, approach)
	f.tools = append(f.tools, used)
	return nil
}

// fakeModel answers GenerateContent from respond, recording the options it
// was called with.
type fakeModel struct {
	mu      sync.Mutex
	calls   int
	tools   [][]llms.Tool
	respond func(messages []llms.MessageContent) (*llms.ContentResponse, error)
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	m.mu.Lock()
	m.calls++
	m.tools = append(m.tools, opts.Tools)
	m.mu.Unlock()
	return m.respond(messages)
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func textReply(text string) func([]llms.MessageContent) (*llms.ContentResponse, error) {
	return func([]llms.MessageContent) (*llms.ContentResponse, error) {
		return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}, nil
	}
}

func callReply(name, args string) func([]llms.MessageContent) (*llms.ContentResponse, error) {
	return func([]llms.MessageContent) (*llms.ContentResponse, error) {
		return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
			ToolCalls: []llms.ToolCall{{
				ID:           "call-1",
				Type:         "function",
				FunctionCall: &llms.FunctionCall{Name: name, Arguments: args},
			}},
		}}}, nil
	}
}

func statuses(results []StepResult) []StepStatus {
	out := make([]StepStatus, len(results))
	for i, r := range results {
		out[i] = r.Status
	}
	return out
}

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/novaflow/internal/governance"
	"github.com/rahul/novaflow/internal/history"
	"github.com/rahul/novaflow/internal/observability"
	"github.com/rahul/novaflow/internal/strategy"
	"github.com/rahul/novaflow/internal/tools"
)

const DefaultMaxPlanSteps = 7

// DecomposeRequest asks for an initial plan.
type DecomposeRequest struct {
	Goal       Goal
	History    []history.Turn
	Strategies []strategy.Strategy
}

// Decomposition is either a plan or, for goals that need no tools, a
// direct answer.
type Decomposition struct {
	Waves  []Wave
	Answer string
}

// Decomposer is the language-model decomposition service.
type Decomposer interface {
	Reviser
	Decompose(ctx context.Context, req DecomposeRequest) (Decomposition, error)
}

// TierSource reports a capability's risk tier so plans can be drafted with
// the gate's classification in view.
type TierSource interface {
	TierOf(capability string) governance.Tier
}

// LLMPlanner implements Decomposer with function calling: the model answers
// through the propose_plan tool, or keep_plan when revising.
type LLMPlanner struct {
	Model    llms.Model
	Registry *tools.Registry
	Tiers    TierSource
	Prompts  *PromptManager
	Logger   *observability.Logger
	MaxSteps int
}

func NewLLMPlanner(model llms.Model, registry *tools.Registry, tiers TierSource, prompts *PromptManager, logger *observability.Logger) *LLMPlanner {
	return &LLMPlanner{
		Model:    model,
		Registry: registry,
		Tiers:    tiers,
		Prompts:  prompts,
		Logger:   logger,
		MaxSteps: DefaultMaxPlanSteps,
	}
}

var proposePlanTool = llms.Tool{
	Type: "function",
	Function: &llms.FunctionDefinition{
		Name:        "propose_plan",
		Description: "Submit a plan as ordered waves. Steps in one wave run concurrently and must not depend on each other.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"waves": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"steps": map[string]any{
								"type": "array",
								"items": map[string]any{
									"type": "object",
									"properties": map[string]any{
										"capability": map[string]any{
											"type":        "string",
											"description": "Name of the tool to invoke",
										},
										"description": map[string]any{
											"type":        "string",
											"description": "What this step achieves, in one sentence",
										},
										"resource": map[string]any{
											"type":        "string",
											"description": "The thing affected, e.g. a recipient, file or URL",
										},
										"args": map[string]any{
											"type":        "object",
											"description": "Arguments matching the tool's parameter schema",
										},
										"fatal": map[string]any{
											"type":        "boolean",
											"description": "True if the goal cannot be met when this step fails",
										},
									},
									"required": []string{"capability", "description", "args"},
								},
							},
						},
						"required": []string{"steps"},
					},
				},
			},
			"required": []string{"waves"},
		},
	},
}

var keepPlanTool = llms.Tool{
	Type: "function",
	Function: &llms.FunctionDefinition{
		Name:        "keep_plan",
		Description: "Keep the remaining waves unchanged.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"reason": map[string]any{"type": "string"},
			},
		},
	},
}

type planArgs struct {
	Waves []struct {
		Steps []struct {
			Capability  string          `json:"capability"`
			Description string          `json:"description"`
			Resource    string          `json:"resource"`
			Args        json.RawMessage `json:"args"`
			Fatal       bool            `json:"fatal"`
		} `json:"steps"`
	} `json:"waves"`
}

func (p *LLMPlanner) Decompose(ctx context.Context, req DecomposeRequest) (Decomposition, error) {
	system := p.Prompts.GetPlannerPrompt() + "\n\n## Available Capabilities\n" + p.capabilityList()
	if advice := strategy.Advice(req.Strategies); advice != "" {
		system += "\n\n## Prior Strategies\n" + advice
	}

	messages := []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeSystem, system)}
	messages = append(messages, TurnsToMessages(req.History)...)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Goal.Text))

	choice, err := p.generate(ctx, req.Goal, messages, []llms.Tool{proposePlanTool})
	if err != nil {
		return Decomposition{}, err
	}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil || tc.FunctionCall.Name != "propose_plan" {
			continue
		}
		waves, err := p.parsePlan(tc.FunctionCall.Arguments, 1)
		if err != nil {
			return Decomposition{}, err
		}
		return Decomposition{Waves: waves}, nil
	}
	if strings.TrimSpace(choice.Content) != "" {
		return Decomposition{Answer: choice.Content}, nil
	}
	return Decomposition{}, fmt.Errorf("%w: planner returned neither a plan nor an answer", ErrMalformedPlan)
}

func (p *LLMPlanner) Revise(ctx context.Context, req ReviseRequest) (Revision, error) {
	remaining, _ := json.Marshal(req.Remaining)
	system := p.Prompts.GetReplanPrompt() + "\n\n## Available Capabilities\n" + p.capabilityList()
	user := fmt.Sprintf("%s\nRemaining waves:\n%s", req.Summary, remaining)

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}
	choice, err := p.generate(ctx, req.Goal, messages, []llms.Tool{proposePlanTool, keepPlanTool})
	if err != nil {
		return Revision{}, err
	}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		switch tc.FunctionCall.Name {
		case "keep_plan":
			return Revision{Unchanged: true}, nil
		case "propose_plan":
			waves, err := p.parsePlan(tc.FunctionCall.Arguments, 0)
			if err != nil {
				return Revision{}, err
			}
			return Revision{Waves: waves}, nil
		}
	}
	return Revision{}, fmt.Errorf("%w: replanner called no tool", ErrMalformedPlan)
}

func (p *LLMPlanner) generate(ctx context.Context, goal Goal, messages []llms.MessageContent, fns []llms.Tool) (llms.ContentChoice, error) {
	resp, err := p.Model.GenerateContent(ctx, messages, llms.WithTools(fns))
	if err != nil {
		return llms.ContentChoice{}, fmt.Errorf("%w: %v", ErrPlanningService, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return llms.ContentChoice{}, fmt.Errorf("%w: empty response", ErrPlanningService)
	}
	choice := resp.Choices[0]
	p.Logger.LogLLM(goal.ChatID, goal.ID, messages, choice.Content, choice.ToolCalls)
	return *choice, nil
}

func (p *LLMPlanner) parsePlan(raw string, version int) ([]Wave, error) {
	var args planArgs
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPlan, err)
	}
	var waves []Wave
	total := 0
	for _, w := range args.Waves {
		var wave Wave
		for _, s := range w.Steps {
			if p.Registry != nil && p.Registry.Get(s.Capability) == nil {
				return nil, fmt.Errorf("%w: unknown capability %q", ErrMalformedPlan, s.Capability)
			}
			wave.Steps = append(wave.Steps, Step{
				Capability:  s.Capability,
				Description: s.Description,
				Resource:    s.Resource,
				Args:        s.Args,
				Fatal:       s.Fatal,
			})
		}
		total += len(wave.Steps)
		if len(wave.Steps) > 0 {
			waves = append(waves, wave)
		}
	}
	if p.MaxSteps > 0 && total > p.MaxSteps {
		return nil, fmt.Errorf("%w: %d steps exceeds limit of %d", ErrMalformedPlan, total, p.MaxSteps)
	}
	if version > 0 {
		waves = normalizeWaves(waves, version)
	}
	return waves, nil
}

func (p *LLMPlanner) capabilityList() string {
	var sb strings.Builder
	for _, t := range p.Registry.List() {
		tier := governance.TierIrreversible
		if p.Tiers != nil {
			tier = p.Tiers.TierOf(t.Name())
		}
		params, _ := json.Marshal(t.Parameters())
		fmt.Fprintf(&sb, "- %s [%s]: %s\n  parameters: %s\n", t.Name(), tier, t.Description(), params)
	}
	return sb.String()
}

// normalizeWaves assigns IDs to steps that lack one, scoped by plan version.
func normalizeWaves(waves []Wave, version int) []Wave {
	out := make([]Wave, len(waves))
	for i, w := range waves {
		steps := make([]Step, len(w.Steps))
		for j, s := range w.Steps {
			if s.ID == "" {
				s.ID = fmt.Sprintf("v%d-w%d-s%d", version, i+1, j+1)
			}
			steps[j] = s
		}
		out[i] = Wave{Steps: steps}
	}
	return out
}

// TurnsToMessages converts history turns into chat messages.
func TurnsToMessages(turns []history.Turn) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, len(turns))
	for _, t := range turns {
		role := llms.ChatMessageTypeHuman
		switch t.Role {
		case history.RoleAssistant:
			role = llms.ChatMessageTypeAI
		case history.RoleSystem:
			role = llms.ChatMessageTypeSystem
		}
		msgs = append(msgs, llms.TextParts(role, t.Text))
	}
	return msgs
}

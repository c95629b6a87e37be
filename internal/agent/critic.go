package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/novaflow/internal/observability"
)

// Critique is the critic model's verdict on a finished task.
type Critique struct {
	Passed         bool     `json:"passed"`
	Score          float64  `json:"score"`
	Issues         []string `json:"issues"`
	RefinementHint string   `json:"refinement_hint"`
}

// LLMCritic scores outcomes with a language model. It implements
// OutcomeScorer.
type LLMCritic struct {
	Model   llms.Model
	Prompts *PromptManager
	Logger  *observability.Logger
}

func NewLLMCritic(model llms.Model, prompts *PromptManager, logger *observability.Logger) *LLMCritic {
	return &LLMCritic{Model: model, Prompts: prompts, Logger: logger}
}

func (c *LLMCritic) Score(ctx context.Context, outcome *TaskOutcome) (float64, error) {
	crit, err := c.Critique(ctx, outcome)
	if err != nil {
		return 0, err
	}
	return crit.Score, nil
}

func (c *LLMCritic) Critique(ctx context.Context, outcome *TaskOutcome) (Critique, error) {
	prompt := fmt.Sprintf("%s\n\n%s\nFinal state: %s\n", c.Prompts.GetCriticPrompt(), Summarize(outcome.Goal, outcome.Results), outcome.State)
	resp, err := llms.GenerateFromSinglePrompt(ctx, c.Model, prompt, llms.WithTemperature(0))
	if err != nil {
		return Critique{}, fmt.Errorf("%w: critic: %v", ErrNoScore, err)
	}
	c.Logger.LogLLM(outcome.Goal.ChatID, outcome.Goal.ID, prompt, resp, nil)
	return parseCritique(resp)
}

// parseCritique reads the first JSON object in text. Models often wrap
// their JSON in prose or code fences.
func parseCritique(text string) (Critique, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Critique{}, fmt.Errorf("%w: no JSON object in critic reply", ErrNoScore)
	}
	var crit Critique
	if err := json.Unmarshal([]byte(text[start:end+1]), &crit); err != nil {
		return Critique{}, fmt.Errorf("%w: %v", ErrNoScore, err)
	}
	switch {
	case crit.Score < 0:
		crit.Score = 0
	case crit.Score > 1:
		crit.Score = 1
	}
	return crit, nil
}

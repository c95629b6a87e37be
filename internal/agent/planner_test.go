package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/novaflow/internal/governance"
	"github.com/rahul/novaflow/internal/history"
	"github.com/rahul/novaflow/internal/tools"
)

func newTestPlanner(model llms.Model) *LLMPlanner {
	reg := tools.NewRegistry()
	reg.Register(okTool("search"))
	reg.Register(okTool("web_fetch"))
	reg.Register(okTool("send_email"))
	return NewLLMPlanner(model, reg, governance.NewGate(), nil, nil)
}

func TestLLMPlanner_Decompose(t *testing.T) {
	args := `{"waves":[
		{"steps":[{"capability":"search","description":"find venues","args":{"query":"venues"}}]},
		{"steps":[]},
		{"steps":[{"capability":"web_fetch","description":"read the best one","resource":"https://example.com","args":{"url":"https://example.com"},"fatal":true}]}
	]}`
	var system string
	model := &fakeModel{respond: func(msgs []llms.MessageContent) (*llms.ContentResponse, error) {
		system = msgs[0].Parts[0].(llms.TextContent).Text
		return callReply("propose_plan", args)(msgs)
	}}
	p := newTestPlanner(model)

	goal := NewGoal("chat", "find a venue", TagNormal)
	dec, err := p.Decompose(context.Background(), DecomposeRequest{
		Goal:    goal,
		History: []history.Turn{{Role: history.RoleUser, Text: "hi"}, {Role: history.RoleAssistant, Text: "hello"}},
	})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if len(dec.Waves) != 2 {
		t.Fatalf("waves = %d, want 2 (empty wave dropped)", len(dec.Waves))
	}
	first, second := dec.Waves[0].Steps[0], dec.Waves[1].Steps[0]
	if first.ID != "v1-w1-s1" || second.ID != "v1-w2-s1" {
		t.Errorf("ids = %s, %s", first.ID, second.ID)
	}
	if !second.Fatal || second.Resource != "https://example.com" {
		t.Errorf("second step = %+v", second)
	}
	if string(first.Args) != `{"query":"venues"}` {
		t.Errorf("args = %s", first.Args)
	}
	if !strings.Contains(system, "- search [read]") || !strings.Contains(system, "- send_email [write_irreversible]") {
		t.Errorf("system prompt lacks tiered capabilities:\n%s", system)
	}
	if len(model.tools[0]) != 1 || model.tools[0][0].Function.Name != "propose_plan" {
		t.Errorf("tools offered = %+v", model.tools[0])
	}
}

func TestLLMPlanner_DecomposeErrors(t *testing.T) {
	tests := []struct {
		name    string
		respond func([]llms.MessageContent) (*llms.ContentResponse, error)
		want    error
	}{
		{"unknown capability", callReply("propose_plan", `{"waves":[{"steps":[{"capability":"launch_rocket","args":{}}]}]}`), ErrMalformedPlan},
		{"bad json", callReply("propose_plan", `{"waves":`), ErrMalformedPlan},
		{"too many steps", callReply("propose_plan", `{"waves":[{"steps":[
			{"capability":"search"},{"capability":"search"},{"capability":"search"},{"capability":"search"},
			{"capability":"search"},{"capability":"search"},{"capability":"search"},{"capability":"search"}]}]}`), ErrMalformedPlan},
		{"empty reply", textReply("  "), ErrMalformedPlan},
		{"service down", func([]llms.MessageContent) (*llms.ContentResponse, error) {
			return nil, errors.New("connection refused")
		}, ErrPlanningService},
		{"no choices", func([]llms.MessageContent) (*llms.ContentResponse, error) {
			return &llms.ContentResponse{}, nil
		}, ErrPlanningService},
	}
	for _, tt := range tests {
		p := newTestPlanner(&fakeModel{respond: tt.respond})
		_, err := p.Decompose(context.Background(), DecomposeRequest{Goal: NewGoal("c", "g", TagNormal)})
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestLLMPlanner_DirectAnswer(t *testing.T) {
	p := newTestPlanner(&fakeModel{respond: textReply("Hello there!")})
	dec, err := p.Decompose(context.Background(), DecomposeRequest{Goal: NewGoal("c", "hi", TagNormal)})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if dec.Answer != "Hello there!" || len(dec.Waves) != 0 {
		t.Errorf("dec = %+v", dec)
	}
}

func TestLLMPlanner_Revise(t *testing.T) {
	req := ReviseRequest{Goal: NewGoal("c", "g", TagNormal), Summary: "Goal: g"}

	model := &fakeModel{respond: callReply("keep_plan", `{"reason":"fine"}`)}
	rev, err := newTestPlanner(model).Revise(context.Background(), req)
	if err != nil || !rev.Unchanged {
		t.Fatalf("keep_plan: rev = %+v err = %v", rev, err)
	}
	if len(model.tools[0]) != 2 {
		t.Errorf("revise offered %d tools, want 2", len(model.tools[0]))
	}

	model = &fakeModel{respond: callReply("propose_plan", `{"waves":[{"steps":[{"capability":"web_fetch","args":{"url":"u"}}]}]}`)}
	rev, err = newTestPlanner(model).Revise(context.Background(), req)
	if err != nil {
		t.Fatalf("propose_plan: %v", err)
	}
	if rev.Unchanged || len(rev.Waves) != 1 || rev.Waves[0].Steps[0].ID != "" {
		t.Errorf("rev = %+v, want one unnumbered wave", rev)
	}

	model = &fakeModel{respond: textReply("I think it is fine")}
	if _, err := newTestPlanner(model).Revise(context.Background(), req); !errors.Is(err, ErrMalformedPlan) {
		t.Errorf("text reply err = %v, want ErrMalformedPlan", err)
	}
}

func TestTurnsToMessages(t *testing.T) {
	msgs := TurnsToMessages([]history.Turn{
		{Role: history.RoleSystem, Text: "[Previous conversation summary: x]"},
		{Role: history.RoleUser, Text: "a"},
		{Role: history.RoleAssistant, Text: "b"},
	})
	want := []llms.ChatMessageType{llms.ChatMessageTypeSystem, llms.ChatMessageTypeHuman, llms.ChatMessageTypeAI}
	for i, m := range msgs {
		if m.Role != want[i] {
			t.Errorf("msg %d role = %s, want %s", i, m.Role, want[i])
		}
	}
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rahul/novaflow/internal/agent"
	"github.com/rahul/novaflow/internal/governance"
)

func waitPending(t *testing.T, c *Confirmations, chatID string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.Pending(chatID) != n {
		if time.Now().After(deadline) {
			t.Fatalf("pending = %d, want %d", c.Pending(chatID), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConfirmations_YesNo(t *testing.T) {
	c := NewConfirmations()

	if c.Resolve("chat", "yes") {
		t.Fatal("Resolve consumed a message with nothing pending")
	}

	tests := []struct {
		reply    string
		answer   bool
		consumed bool
	}{
		{"Yes!", true, true},
		{"no", false, true},
		{"what's the weather?", false, false},
	}
	for _, tt := range tests {
		got := make(chan bool, 1)
		go func() {
			ok, _ := c.Await(context.Background(), "chat")
			got <- ok
		}()
		waitPending(t, c, "chat", 1)

		if consumed := c.Resolve("chat", tt.reply); consumed != tt.consumed {
			t.Errorf("Resolve(%q) consumed = %v, want %v", tt.reply, consumed, tt.consumed)
		}
		if ok := <-got; ok != tt.answer {
			t.Errorf("Resolve(%q) answer = %v, want %v", tt.reply, ok, tt.answer)
		}
		if c.Pending("chat") != 0 {
			t.Errorf("pending after %q = %d", tt.reply, c.Pending("chat"))
		}
	}
}

func TestConfirmations_Timeout(t *testing.T) {
	c := NewConfirmations()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ok, err := c.Await(ctx, "chat")
	if ok || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Await = %v, %v", ok, err)
	}
	if c.Pending("chat") != 0 {
		t.Error("timed-out request left pending")
	}
	if c.Resolve("chat", "yes") {
		t.Error("late answer consumed")
	}
}

func TestConfirmations_FIFO(t *testing.T) {
	c := NewConfirmations()
	first, second := make(chan bool, 1), make(chan bool, 1)

	go func() { ok, _ := c.Await(context.Background(), "chat"); first <- ok }()
	waitPending(t, c, "chat", 1)
	go func() { ok, _ := c.Await(context.Background(), "chat"); second <- ok }()
	waitPending(t, c, "chat", 2)

	c.Resolve("chat", "yes")
	c.Resolve("chat", "no")
	if !<-first || <-second {
		t.Error("answers not applied in request order")
	}
}

func TestConfirmationPrompt(t *testing.T) {
	step := agent.Step{
		Capability:  "send_email",
		Description: "Email the landlord about the leak",
		Resource:    "landlord@example.com",
		Args:        json.RawMessage(`{"subject":"Leak"}`),
	}
	got := ConfirmationPrompt(step, governance.Decision{Tier: governance.TierIrreversible})
	for _, want := range []string{
		"Email the landlord about the leak",
		"send_email (write_irreversible)",
		"Target: landlord@example.com",
		`Arguments: {"subject":"Leak"}`,
		"Reply yes",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
}

func TestSplitMessage(t *testing.T) {
	text := strings.Repeat("a", 1500) + "\n" + strings.Repeat("b", 1500)
	parts := splitMessage(text, 2000)
	if len(parts) != 2 || parts[0] != strings.Repeat("a", 1500)+"\n" {
		t.Errorf("split into %d parts", len(parts))
	}
	if got := splitMessage("short", 2000); len(got) != 1 {
		t.Errorf("short message split into %d", len(got))
	}
}

type fakeGateway struct {
	prefix string
	sent   []string
}

func (f *fakeGateway) Start() error { return nil }
func (f *fakeGateway) Stop() error  { return nil }
func (f *fakeGateway) Send(chatID, text string) error {
	f.sent = append(f.sent, chatID)
	return nil
}
func (f *fakeGateway) Confirm(context.Context, string, agent.Step, governance.Decision) (bool, error) {
	return true, nil
}
func (f *fakeGateway) Owns(chatID string) bool { return strings.HasPrefix(chatID, f.prefix) }

func TestMulti_Routes(t *testing.T) {
	tg, dc := &fakeGateway{prefix: "1"}, &fakeGateway{prefix: DiscordChatPrefix}
	m := NewMulti(tg, dc)

	if err := m.Send("12345", "hi"); err != nil {
		t.Fatal(err)
	}
	if err := m.Send("discord:42", "hi"); err != nil {
		t.Fatal(err)
	}
	if len(tg.sent) != 1 || len(dc.sent) != 1 {
		t.Errorf("telegram sent %v, discord sent %v", tg.sent, dc.sent)
	}
	if err := m.Send("slack:9", "hi"); !errors.Is(err, ErrNoGateway) {
		t.Errorf("unowned chat err = %v", err)
	}
	if ok, err := m.Confirm(context.Background(), "discord:42", agent.Step{}, governance.Decision{}); !ok || err != nil {
		t.Errorf("Confirm = %v, %v", ok, err)
	}
	if err := m.Start(); err != nil {
		t.Errorf("Start = %v", err)
	}
}

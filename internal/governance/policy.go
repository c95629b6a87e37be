package governance

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow   Effect = "allow"
	EffectDeny    Effect = "deny"
	EffectConfirm Effect = "confirm"
)

// Tier classifies a capability by the reversibility of its side effects.
type Tier string

const (
	TierRead         Tier = "read"
	TierReversible   Tier = "write_reversible"
	TierIrreversible Tier = "write_irreversible"
)

// ParseTier accepts the canonical tier names plus the upper-case forms used
// in configuration files.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "-", "_"))) {
	case "read":
		return TierRead, nil
	case "write_reversible":
		return TierReversible, nil
	case "write_irreversible":
		return TierIrreversible, nil
	}
	return "", fmt.Errorf("unknown risk tier %q", s)
}

const ReasonDuplicate = "duplicate side effect"

var ErrScopeClosed = errors.New("policy scope closed")

// DefaultTiers is the built-in capability classification.
var DefaultTiers = map[string]Tier{
	"search":        TierRead,
	"web_fetch":     TierRead,
	"memory_query":  TierRead,
	"recall":        TierRead,
	"filesystem":    TierReversible,
	"schedule_task": TierReversible,
	"browser":       TierReversible,
	"calendar":      TierReversible,
	"shell":         TierIrreversible,
	"send_email":    TierIrreversible,
	"post_social":   TierIrreversible,
}

// Request contains the context of a tool call to be evaluated.
type Request struct {
	Capability string
	Resource   string
	Arguments  []byte
	ChatID     string
}

// Decision is the outcome of a policy evaluation. It is computed fresh for
// every request and never cached.
type Decision struct {
	Effect      Effect
	Tier        Tier
	Reason      string
	Fingerprint string
	Duplicate   bool
}

// PolicyEngine evaluates tool calls against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, scope *Scope, req Request) (Decision, error)
	Confirm(scope *Scope, req Request, confirmed bool) (Decision, error)
}

// Scope holds the side effects already admitted for one goal. It must be
// created per goal and closed when the goal finishes.
type Scope struct {
	GoalID string

	mu     sync.Mutex
	seen   map[string]struct{}
	closed bool
}

func NewScope(goalID string) *Scope {
	return &Scope{GoalID: goalID, seen: make(map[string]struct{})}
}

func (s *Scope) has(fp string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrScopeClosed
	}
	_, ok := s.seen[fp]
	return ok, nil
}

// claim registers fp and reports whether it was absent. Check and insert
// happen under one lock so concurrent steps cannot both pass.
func (s *Scope) claim(fp string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrScopeClosed
	}
	if _, ok := s.seen[fp]; ok {
		return false, nil
	}
	s.seen[fp] = struct{}{}
	return true, nil
}

// Len returns the number of registered side effects.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Close discards the seen-effects set.
func (s *Scope) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = nil
	s.closed = true
}

// Gate is the risk-tiered PolicyEngine.
type Gate struct {
	mu          sync.RWMutex
	tiers       map[string]Tier
	DeniedTools map[string]bool
	DeniedRegex []*regexp.Regexp
}

func NewGate() *Gate {
	g := &Gate{
		tiers:       make(map[string]Tier, len(DefaultTiers)),
		DeniedTools: make(map[string]bool),
		DeniedRegex: make([]*regexp.Regexp, 0),
	}
	for name, tier := range DefaultTiers {
		g.tiers[name] = tier
	}
	return g
}

// SetTier overrides the classification of a capability.
func (g *Gate) SetTier(capability string, tier Tier) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tiers[normalize(capability)] = tier
}

// TierOf returns the capability's tier. Unknown capabilities are treated as
// irreversible.
func (g *Gate) TierOf(capability string) Tier {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if tier, ok := g.tiers[normalize(capability)]; ok {
		return tier
	}
	return TierIrreversible
}

func (g *Gate) DenyTool(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.DeniedTools[normalize(name)] = true
}

func (g *Gate) DenyArguments(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.DeniedRegex = append(g.DeniedRegex, re)
	return nil
}

func (g *Gate) Evaluate(ctx context.Context, scope *Scope, req Request) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	tier := g.TierOf(req.Capability)
	fp := Fingerprint(req.Capability, req.Resource, req.Arguments)
	d := Decision{Tier: tier, Fingerprint: fp}

	if tier != TierRead {
		seen, err := scope.has(fp)
		if err != nil {
			return Decision{}, err
		}
		if seen {
			return duplicate(d), nil
		}
	}

	if tier == TierRead {
		d.Effect = EffectAllow
		d.Reason = "read-only capability"
		return d, nil
	}

	if reason, denied := g.restricted(req); denied {
		d.Effect = EffectDeny
		d.Reason = reason
		return d, nil
	}

	if tier == TierIrreversible {
		d.Effect = EffectConfirm
		d.Reason = "irreversible side effect requires confirmation"
		return d, nil
	}

	ok, err := scope.claim(fp)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return duplicate(d), nil
	}
	d.Effect = EffectAllow
	d.Reason = "reversible side effect registered"
	return d, nil
}

// Confirm resolves a CONFIRM decision once the upstream signal arrives. A
// confirmed request is registered in the scope as it is admitted.
func (g *Gate) Confirm(scope *Scope, req Request, confirmed bool) (Decision, error) {
	tier := g.TierOf(req.Capability)
	fp := Fingerprint(req.Capability, req.Resource, req.Arguments)
	d := Decision{Tier: tier, Fingerprint: fp}

	if !confirmed {
		d.Effect = EffectDeny
		d.Reason = "confirmation not received"
		return d, nil
	}
	ok, err := scope.claim(fp)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return duplicate(d), nil
	}
	d.Effect = EffectAllow
	d.Reason = "confirmed by user"
	return d, nil
}

func (g *Gate) restricted(req Request) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.DeniedTools[normalize(req.Capability)] {
		return fmt.Sprintf("Tool '%s' is restricted by system policy", req.Capability), true
	}
	for _, re := range g.DeniedRegex {
		if re.Match(req.Arguments) {
			return fmt.Sprintf("Arguments match restricted pattern: %s", re.String()), true
		}
	}
	return "", false
}

func duplicate(d Decision) Decision {
	d.Effect = EffectDeny
	d.Reason = ReasonDuplicate
	d.Duplicate = true
	return d
}

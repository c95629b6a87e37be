package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/rahul/novaflow/internal/governance"
	"github.com/rahul/novaflow/internal/observability"
	"github.com/rahul/novaflow/internal/tools"
)

// Confirmer delivers the upstream confirmation signal for CONFIRM decisions.
// It returns false when the user declines or does not answer before ctx ends.
type Confirmer interface {
	Confirm(ctx context.Context, chatID string, step Step, d governance.Decision) (bool, error)
}

// OutcomeScorer rates a finished task in [0, 1].
type OutcomeScorer interface {
	Score(ctx context.Context, outcome *TaskOutcome) (float64, error)
}

// StrategyRecorder receives successful approaches.
type StrategyRecorder interface {
	Record(ctx context.Context, goal, approach string, toolsUsed []string, score float64) error
}

const (
	DefaultWorkers           = 4
	DefaultStepTimeout       = 60 * time.Second
	DefaultConfirmTimeout    = 2 * time.Minute
	DefaultStrategyThreshold = 0.75
)

type ExecutorOption func(*WaveExecutor)

func WithWorkers(n int) ExecutorOption {
	return func(e *WaveExecutor) {
		if n > 0 {
			e.workers = n
		}
	}
}

func WithStepTimeout(d time.Duration) ExecutorOption {
	return func(e *WaveExecutor) {
		if d > 0 {
			e.stepTimeout = d
		}
	}
}

func WithConfirmTimeout(d time.Duration) ExecutorOption {
	return func(e *WaveExecutor) {
		if d > 0 {
			e.confirmTimeout = d
		}
	}
}

func WithStrategyThreshold(v float64) ExecutorOption {
	return func(e *WaveExecutor) {
		if v > 0 {
			e.strategyThreshold = v
		}
	}
}

func WithReplanner(r *ReplanCoordinator) ExecutorOption {
	return func(e *WaveExecutor) { e.Replanner = r }
}

func WithScorer(s OutcomeScorer) ExecutorOption {
	return func(e *WaveExecutor) { e.Scorer = s }
}

func WithStrategies(s StrategyRecorder) ExecutorOption {
	return func(e *WaveExecutor) { e.Strategies = s }
}

func WithConfirmer(c Confirmer) ExecutorOption {
	return func(e *WaveExecutor) { e.Confirmer = c }
}

func WithLogger(l *observability.Logger) ExecutorOption {
	return func(e *WaveExecutor) { e.Logger = l }
}

func WithMetrics(m *observability.Metrics) ExecutorOption {
	return func(e *WaveExecutor) { e.Metrics = m }
}

// WaveExecutor runs plans wave by wave. Steps in a wave run on a bounded
// pool and are joined before the next wave starts; every tool call passes
// through the policy gate first. One executor may run many goals at once,
// each with its own policy scope and replan budget.
type WaveExecutor struct {
	Registry   *tools.Registry
	Gate       governance.PolicyEngine
	Replanner  *ReplanCoordinator
	Confirmer  Confirmer
	Scorer     OutcomeScorer
	Strategies StrategyRecorder
	Logger     *observability.Logger
	Metrics    *observability.Metrics

	workers           int
	stepTimeout       time.Duration
	confirmTimeout    time.Duration
	strategyThreshold float64
}

func NewWaveExecutor(registry *tools.Registry, gate governance.PolicyEngine, opts ...ExecutorOption) *WaveExecutor {
	e := &WaveExecutor{
		Registry:          registry,
		Gate:              gate,
		workers:           DefaultWorkers,
		stepTimeout:       DefaultStepTimeout,
		confirmTimeout:    DefaultConfirmTimeout,
		strategyThreshold: DefaultStrategyThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetConfirmer installs the confirmation transport. Call it before the
// first Run; gateways are built after the executor they confirm for.
func (e *WaveExecutor) SetConfirmer(c Confirmer) {
	e.Confirmer = c
}

type run struct {
	e       *WaveExecutor
	ctx     context.Context
	plan    *Plan
	scope   *governance.Scope
	budget  *Budget
	outcome *TaskOutcome
}

// Run executes plan to a terminal state. It never returns an engine error:
// every failure is captured in the outcome.
func (e *WaveExecutor) Run(ctx context.Context, plan *Plan) *TaskOutcome {
	r := &run{
		e:      e,
		ctx:    ctx,
		plan:   plan,
		scope:  governance.NewScope(plan.Goal.ID),
		budget: NewBudget(),
		outcome: &TaskOutcome{
			Goal:  plan.Goal,
			State: StateRunning,
			Plan:  plan,
		},
	}
	defer r.scope.Close()

	observability.SetStatus(observability.RoleExecuting, plan.Goal.Text)
	e.Logger.LogPlan(plan.Goal.ChatID, plan.Goal.ID, plan.Version, plan.Waves)

	r.execute()
	e.Metrics.TaskOutcome(string(r.outcome.State))

	if r.outcome.State == StateSucceeded {
		e.recordStrategy(ctx, r.outcome)
	}
	return r.outcome
}

func (r *run) transition(to TaskState) {
	from := r.outcome.State
	if !IsValidTransition(from, to) {
		log.Printf("goal %s: invalid transition %s -> %s", r.plan.Goal.ID, from, to)
		return
	}
	r.outcome.State = to
	r.outcome.Transitions = append(r.outcome.Transitions, Transition{From: from, To: to, At: time.Now()})
	r.e.Logger.LogTransition(r.plan.Goal.ChatID, r.plan.Goal.ID, string(from), string(to))
}

func (r *run) execute() {
	var (
		lastWave []StepResult
		fatal    *StepResult
	)

	for i := 0; i < len(r.plan.Waves); i++ {
		if r.ctx.Err() != nil {
			r.skipFrom(i, "task cancelled")
			r.fail(nil)
			return
		}

		wave := r.plan.Waves[i]
		r.e.Logger.LogWave(r.plan.Goal.ChatID, r.plan.Goal.ID, i+1, len(wave.Steps))
		results := r.e.runWave(r.ctx, r.scope, r.plan.Goal, i+1, wave)
		r.outcome.Results = append(r.outcome.Results, results...)
		if len(results) > 0 {
			lastWave = results
		}

		waveFailed := false
		for j, res := range results {
			if res.Status == StepFailed || res.Status == StepDenied {
				waveFailed = true
			}
			if res.Status == StepFailed && wave.Steps[j].Fatal && fatal == nil {
				f := res
				fatal = &f
			}
		}

		if r.ctx.Err() != nil {
			r.skipFrom(i+1, "task cancelled")
			r.fail(nil)
			return
		}

		last := i == len(r.plan.Waves)-1
		// A clean final wave needs no replan: there is nothing left to revise.
		if r.e.Replanner != nil && Triggered(r.outcome.Results, results) && (!last || waveFailed) {
			r.transition(StateAwaitingReplan)
			ro := r.e.Replanner.MaybeReplan(r.ctx, ReplanRequest{
				Goal:        r.plan.Goal,
				Results:     r.outcome.Results,
				WaveResults: results,
				Remaining:   r.plan.Waves[i+1:],
				Budget:      r.budget,
			})
			r.outcome.Replans = append(r.outcome.Replans, ro)
			if ro.Decision == ReplanRevised {
				r.splice(i+1, ro.Waves)
				fatal = nil
			}
			if r.ctx.Err() != nil {
				r.skipFrom(i+1, "task cancelled")
				r.fail(nil)
				return
			}
			r.transition(StateRunning)
		}

		if fatal != nil {
			r.skipFrom(i+1, "fatal step failed")
			r.fail(fatal)
			return
		}
	}

	r.finish(lastWave)
}

// splice replaces everything after the completed waves with revised.
func (r *run) splice(at int, revised []Wave) {
	waves := make([]Wave, 0, at+len(revised))
	waves = append(waves, r.plan.Waves[:at]...)
	waves = append(waves, normalizeWaves(revised, r.plan.Version+1)...)
	r.plan.Waves = waves
	r.plan.Version++
	r.plan.Replanned = true
	r.e.Logger.LogPlan(r.plan.Goal.ChatID, r.plan.Goal.ID, r.plan.Version, r.plan.Waves)
}

// skipFrom yields a SKIPPED result for every step in waves[from:].
func (r *run) skipFrom(from int, reason string) {
	code := ErrorCode("")
	if r.ctx.Err() != nil {
		code = CodeCancelled
	}
	for i := from; i < len(r.plan.Waves); i++ {
		for _, s := range r.plan.Waves[i].Steps {
			res := skipped(s, i+1, reason, code)
			r.outcome.Results = append(r.outcome.Results, res)
			r.e.Logger.LogStep(r.plan.Goal.ChatID, r.plan.Goal.ID, s.ID, s.Capability, string(res.Status), reason)
		}
	}
}

func (r *run) fail(failed *StepResult) {
	r.outcome.FailedStep = failed
	r.transition(StateFailed)
}

// finish settles the terminal state once every wave has run. The task fails
// when the last wave that ran has a FAILED result and nothing succeeded in
// it, or when no step succeeded at all.
func (r *run) finish(lastWave []StepResult) {
	if r.plan.StepCount() == 0 {
		r.transition(StateSucceeded)
		return
	}
	var failed *StepResult
	lastOK := false
	for i := range lastWave {
		switch lastWave[i].Status {
		case StepSucceeded:
			lastOK = true
		case StepFailed:
			if failed == nil {
				failed = &lastWave[i]
			}
		}
	}
	if failed != nil && !lastOK {
		f := *failed
		r.fail(&f)
		return
	}
	if r.outcome.Succeeded() == 0 {
		for i := range r.outcome.Results {
			if s := r.outcome.Results[i].Status; s == StepFailed || s == StepDenied {
				f := r.outcome.Results[i]
				r.fail(&f)
				return
			}
		}
	}
	r.transition(StateSucceeded)
}

// runWave starts every step at once. Only tool execution takes a worker
// slot; policy checks and confirmation waits happen outside the pool.
func (e *WaveExecutor) runWave(ctx context.Context, scope *governance.Scope, goal Goal, index int, wave Wave) []StepResult {
	results := make([]StepResult, len(wave.Steps))
	pool := semaphore.NewWeighted(int64(e.workers))
	var g errgroup.Group
	for i, step := range wave.Steps {
		g.Go(func() error {
			results[i] = e.runStep(ctx, pool, scope, goal, index, step)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *WaveExecutor) runStep(ctx context.Context, pool *semaphore.Weighted, scope *governance.Scope, goal Goal, wave int, step Step) (res StepResult) {
	start := time.Now()
	res = StepResult{
		StepID:      step.ID,
		Capability:  step.Capability,
		Description: step.Description,
		Wave:        wave,
	}
	defer func() {
		res.Timestamp = time.Now()
		res.Duration = res.Timestamp.Sub(start)
		e.Logger.LogStep(goal.ChatID, goal.ID, step.ID, step.Capability, string(res.Status), res.Error)
		e.Metrics.StepResult(step.Capability, string(res.Status), res.Duration.Seconds())
	}()

	if ctx.Err() != nil {
		return skipped(step, wave, "task cancelled", CodeCancelled)
	}

	tool := e.Registry.Get(step.Capability)
	if tool == nil {
		res.Status = StepFailed
		res.Code = CodeUnknownCapability
		res.Error = fmt.Sprintf("unknown capability %q", step.Capability)
		return res
	}

	req := governance.Request{
		Capability: step.Capability,
		Resource:   step.Resource,
		Arguments:  step.Args,
		ChatID:     goal.ChatID,
	}
	d, err := e.Gate.Evaluate(ctx, scope, req)
	if err != nil {
		if ctx.Err() != nil {
			return skipped(step, wave, "task cancelled", CodeCancelled)
		}
		res.Status = StepDenied
		res.Code = CodePolicyDenied
		res.Error = fmt.Sprintf("policy evaluation failed: %v", err)
		return res
	}
	e.auditPolicy(goal, step, d, &res)

	denyCode := CodePolicyDenied
	if d.Effect == governance.EffectConfirm {
		confirmed := e.confirm(ctx, goal, step, d)
		if ctx.Err() != nil {
			return skipped(step, wave, "task cancelled awaiting confirmation", CodeCancelled)
		}
		d, err = e.Gate.Confirm(scope, req, confirmed)
		if err != nil {
			res.Status = StepDenied
			res.Code = CodePolicyDenied
			res.Error = fmt.Sprintf("policy confirmation failed: %v", err)
			return res
		}
		e.auditPolicy(goal, step, d, &res)
		if !confirmed {
			denyCode = CodeUnconfirmed
		}
	}

	if d.Effect != governance.EffectAllow {
		res.Status = StepDenied
		res.Code = denyCode
		if d.Duplicate {
			res.Code = CodeDuplicateEffect
		}
		res.Error = d.Reason
		return res
	}

	if err := pool.Acquire(ctx, 1); err != nil {
		return skipped(step, wave, "task cancelled", CodeCancelled)
	}
	out, code, err := e.invoke(ctx, tool, step, goal.ChatID)
	pool.Release(1)
	if err != nil {
		res.Status = StepFailed
		res.Code = code
		res.Error = err.Error()
		return res
	}
	res.Status = StepSucceeded
	res.Output = out
	return res
}

func (e *WaveExecutor) auditPolicy(goal Goal, step Step, d governance.Decision, res *StepResult) {
	res.Policy = &PolicyAudit{Effect: string(d.Effect), Tier: string(d.Tier), Reason: d.Reason}
	e.Logger.LogPolicy(goal.ChatID, goal.ID, step.Capability, string(d.Tier), string(d.Effect), d.Reason)
	e.Metrics.PolicyDecision(string(d.Tier), string(d.Effect))
}

// confirm waits for the user's answer. Without a transport, or on error or
// timeout, the answer is no.
func (e *WaveExecutor) confirm(ctx context.Context, goal Goal, step Step, d governance.Decision) bool {
	if e.Confirmer == nil {
		return false
	}
	cctx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	defer cancel()
	ok, err := e.Confirmer.Confirm(cctx, goal.ChatID, step, d)
	if err != nil {
		log.Printf("goal %s: confirmation for %s failed: %v", goal.ID, step.ID, err)
		return false
	}
	return ok
}

type toolReply struct {
	out  string
	err  error
	code ErrorCode
}

// invoke runs the tool under the step timeout. The wave never waits past
// the deadline even if the tool ignores its context.
func (e *WaveExecutor) invoke(ctx context.Context, tool tools.Tool, step Step, chatID string) (string, ErrorCode, error) {
	sctx, cancel := context.WithTimeout(tools.WithChatID(ctx, chatID), e.stepTimeout)
	defer cancel()

	args := strings.TrimSpace(string(step.Args))
	if args == "" || args == "null" {
		args = "{}"
	}

	ch := make(chan toolReply, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- toolReply{err: fmt.Errorf("%w: panic: %v", ErrToolExecution, p), code: CodePanic}
			}
		}()
		out, err := tool.Execute(sctx, args)
		ch <- toolReply{out: out, err: err}
	}()

	select {
	case rep := <-ch:
		if rep.err == nil {
			return rep.out, "", nil
		}
		if rep.code != "" {
			return "", rep.code, rep.err
		}
		return "", classify(ctx, sctx, rep.err), fmt.Errorf("%w: %v", ErrToolExecution, rep.err)
	case <-sctx.Done():
		if ctx.Err() != nil {
			return "", CodeCancelled, fmt.Errorf("%w: cancelled", ErrToolExecution)
		}
		return "", CodeTimeout, fmt.Errorf("%w: timed out after %s", ErrToolExecution, e.stepTimeout)
	}
}

func classify(parent, step context.Context, err error) ErrorCode {
	switch {
	case parent.Err() != nil:
		return CodeCancelled
	case errors.Is(step.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	default:
		return CodeToolError
	}
}

func skipped(step Step, wave int, reason string, code ErrorCode) StepResult {
	return StepResult{
		StepID:      step.ID,
		Capability:  step.Capability,
		Description: step.Description,
		Wave:        wave,
		Status:      StepSkipped,
		Code:        code,
		Error:       reason,
		Timestamp:   time.Now(),
	}
}

func (e *WaveExecutor) recordStrategy(ctx context.Context, outcome *TaskOutcome) {
	if e.Scorer == nil {
		return
	}
	score, err := e.Scorer.Score(ctx, outcome)
	if err != nil {
		log.Printf("goal %s: outcome scoring failed: %v", outcome.Goal.ID, err)
		return
	}
	outcome.Score = &score
	if score < e.strategyThreshold || e.Strategies == nil {
		return
	}
	approach, used := describeApproach(outcome)
	if err := e.Strategies.Record(ctx, outcome.Goal.Text, approach, used, score); err != nil {
		log.Printf("goal %s: strategy not recorded: %v", outcome.Goal.ID, err)
	}
}

// describeApproach renders the successful steps wave by wave, plus the
// distinct capabilities they used.
func describeApproach(outcome *TaskOutcome) (string, []string) {
	var (
		parts []string
		used  []string
		seen  = map[string]bool{}
	)
	byWave := map[int][]string{}
	maxWave := 0
	for _, r := range outcome.Results {
		if r.Status != StepSucceeded {
			continue
		}
		byWave[r.Wave] = append(byWave[r.Wave], fmt.Sprintf("%s (%s)", describe(r), r.Capability))
		if r.Wave > maxWave {
			maxWave = r.Wave
		}
		if !seen[r.Capability] {
			seen[r.Capability] = true
			used = append(used, r.Capability)
		}
	}
	for w := 1; w <= maxWave; w++ {
		if steps := byWave[w]; len(steps) > 0 {
			parts = append(parts, fmt.Sprintf("wave %d: %s", w, strings.Join(steps, "; ")))
		}
	}
	return strings.Join(parts, " -> "), used
}

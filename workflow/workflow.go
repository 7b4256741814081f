// Package workflow implements the WorkflowEngine (§4.13): the per-session
// scheduler that drives a Plan's items from pending to a terminal status,
// coordinating the Planner's downstream stages (ProviderSelector,
// ToolPlanner, ToolExecutor, Verifier, Replanner).
package workflow

import (
	"context"
	"fmt"
	"time"

	"goa.design/taskflow/clock"
	"goa.design/taskflow/config"
	"goa.design/taskflow/errs"
	"goa.design/taskflow/events"
	"goa.design/taskflow/hid"
	"goa.design/taskflow/plan"
	"goa.design/taskflow/providers"
	"goa.design/taskflow/providerselect"
	"goa.design/taskflow/replan"
	"goa.design/taskflow/toolexec"
	"goa.design/taskflow/toolplan"
	"goa.design/taskflow/verify"
)

// MaxBlockedChecksForRewrite is the §4.13 threshold at which a blocked
// item's replanned-parent dependencies are rewritten to that parent's
// children.
const MaxBlockedChecksForRewrite = 5

// Summary is the engine's terminal result for a plan run (§4.13, §7).
type Summary struct {
	Completed   int
	Total       int
	SuccessRate float64
	DurationMS  int64
}

// Deps bundles every downstream stage the Engine drives.
type Deps struct {
	ProviderSelector *providerselect.Selector
	ToolPlanner      *toolplan.Planner
	Executor         *toolexec.Executor
	Verifier         *verify.Verifier
	Replanner        *replan.Replanner
	Registry         *providers.Registry
	Clock            clock.Clock
	Sink             events.Sink
	Config           config.Document
}

// Engine is the single-threaded, cooperative per-session scheduler
// described in §4.13 and §5: one active item at a time, tool-calls within
// an item strictly ordered.
type Engine struct {
	deps Deps
}

// New builds an Engine. A nil Clock defaults to clock.Real{}; a nil Sink
// discards events.
func New(deps Deps) *Engine {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Sink == nil {
		deps.Sink = noopSink{}
	}
	return &Engine{deps: deps}
}

type noopSink struct{}

func (noopSink) Emit(events.Event) {}

// Run drives pl to completion: repeated passes over pl.Items (a scheduler
// "tick" per pass) until every item is terminal, dependency-gating blocked
// items and retrying/replanning failed ones, honoring ctx cancellation at
// every suspension point (§5).
func (e *Engine) Run(ctx context.Context, sessionID string, pl *plan.Plan) (Summary, error) {
	start := e.deps.Clock.Now()
	knownApps := knownAppNames(e.deps.Config.Apps)

	for {
		allTerminal := true

		for i := 0; i < len(pl.Items); i++ {
			item := &pl.Items[i]
			if item.Status.Terminal() {
				continue
			}
			allTerminal = false

			if err := ctx.Err(); err != nil {
				e.cancelItem(sessionID, item, pl)
				return e.summarize(pl, start), err
			}

			unsatisfied := pl.UnsatisfiedDependencies(*item)
			if len(unsatisfied) > 0 {
				e.markBlocked(sessionID, pl, item, unsatisfied)
				continue
			}

			aborted, err := e.processItem(ctx, sessionID, pl, item, knownApps)
			if aborted {
				return e.summarize(pl, start), err
			}
			if err != nil {
				e.cancelItem(sessionID, item, pl)
				return e.summarize(pl, start), err
			}
		}

		if allTerminal {
			break
		}
	}

	summary := e.summarize(pl, start)
	e.deps.Sink.Emit(events.Event{
		Type:      events.TypeWorkflowComplete,
		SessionID: sessionID,
		Data: events.DataWorkflowComplete{
			Completed:   summary.Completed,
			Total:       summary.Total,
			SuccessRate: summary.SuccessRate,
			DurationMS:  summary.DurationMS,
		},
	})
	return summary, nil
}

// summarize counts completed/total over the plan's *logical* work units: a
// replanned item is a superseded marker, not a unit of work in its own
// right — its injected children are the units that actually ran, and are
// already counted individually (§4.13 S3: a fully-completed replan still
// yields success_rate=100, not less).
func (e *Engine) summarize(pl *plan.Plan, start time.Time) Summary {
	completed, total := 0, 0
	for _, it := range pl.Items {
		if it.Status == plan.StatusReplanned {
			continue
		}
		total++
		if it.Status == plan.StatusCompleted {
			completed++
		}
	}
	rate := 0.0
	if total > 0 {
		rate = 100 * float64(completed) / float64(total)
	}
	return Summary{
		Completed:   completed,
		Total:       total,
		SuccessRate: rate,
		DurationMS:  e.deps.Clock.Now().Sub(start).Milliseconds(),
	}
}

// markBlocked implements the §4.13 blocked-check bookkeeping: increment,
// emit, rewrite replanned-parent dependencies after 5 checks, and force
// skipped after 10.
func (e *Engine) markBlocked(sessionID string, pl *plan.Plan, item *plan.Item, unsatisfied []hid.ID) {
	item.BlockedCheckCount++
	item.Status = plan.StatusBlocked

	blockedOn := make([]string, len(unsatisfied))
	for i, id := range unsatisfied {
		blockedOn[i] = id.String()
	}

	max := e.deps.Config.Retry.MaxBlockedChecks
	if max <= 0 {
		max = 10
	}

	if item.BlockedCheckCount >= max {
		item.Status = plan.StatusSkipped
		item.SkipReason = "blocked too many times"
		e.deps.Sink.Emit(events.Event{
			Type:      events.TypeItemSkipped,
			SessionID: sessionID,
			Data:      events.DataItemSkipped{ItemID: item.ID.String(), Reason: item.SkipReason},
		})
		return
	}

	e.deps.Sink.Emit(events.Event{
		Type:      events.TypeItemBlocked,
		SessionID: sessionID,
		Data: events.DataItemBlocked{
			ItemID:            item.ID.String(),
			BlockedOn:         blockedOn,
			BlockedCheckCount: item.BlockedCheckCount,
		},
	})

	if item.BlockedCheckCount >= MaxBlockedChecksForRewrite && hasReplannedDependency(pl, item) {
		item.Dependencies = pl.RewriteReplannedDependencies(*item)
		item.BlockedCheckCount = 0
	}
}

// hasReplannedDependency reports whether any of item's dependencies is a
// replanned item, the narrower condition §4.13 requires before the 5-check
// rewrite applies; an item blocked on a dependency that is simply still
// pending must keep counting toward the 10-check skip instead.
func hasReplannedDependency(pl *plan.Plan, item *plan.Item) bool {
	for _, dep := range item.Dependencies {
		if depItem := pl.Get(dep); depItem != nil && depItem.Status == plan.StatusReplanned {
			return true
		}
	}
	return false
}

func (e *Engine) cancelItem(sessionID string, item *plan.Item, pl *plan.Plan) {
	item.Status = plan.StatusFailed
	item.ReplanReason = "cancelled"
	e.deps.Sink.Emit(events.Event{
		Type:      events.TypeItemFailed,
		SessionID: sessionID,
		Data:      events.DataItemFailed{ItemID: item.ID.String(), Reason: "cancelled"},
	})
	e.deps.Sink.Emit(events.Event{
		Type:      events.TypeWorkflowError,
		SessionID: sessionID,
		Data:      events.DataWorkflowError{Reason: "cancelled", ItemID: item.ID.String()},
	})
}

// processItem runs the full plan -> execute -> verify -> retry/replan cycle
// for one dependency-satisfied item, returning aborted=true only when the
// Replanner chose to abort the whole run.
func (e *Engine) processItem(ctx context.Context, sessionID string, pl *plan.Plan, item *plan.Item, knownApps map[string]struct{}) (bool, error) {
	item.Status = plan.StatusInProgress
	maxAttempts := item.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = e.deps.Config.Retry.ItemExecutionMaxAttempts
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	toolStage, _ := e.deps.Config.Stage("tool_planner")

	for item.Attempt < maxAttempts {
		item.Attempt++

		if err := ctx.Err(); err != nil {
			return false, err
		}

		selection, err := e.deps.ProviderSelector.Select(ctx, item.Action, e.deps.Registry, nil)
		if err != nil {
			return false, errs.Wrap(errs.KindProviderUnavailable, "workflow: provider selection failed", err)
		}

		tpResult, err := e.deps.ToolPlanner.Plan(ctx, toolplan.Request{
			Action:          item.Action,
			SuccessCriteria: item.SuccessCriteria,
			Servers:         selection.Servers,
			TemplateName:    string(selection.Template),
			Model:           toolStage.Model,
			FallbackModel:   toolStage.FallbackModel,
		})
		if err != nil {
			return false, errs.Wrap(errs.KindValidation, "workflow: tool planning failed", err)
		}

		if tpResult.DirectResult != nil {
			item.Status = plan.StatusCompleted
			item.LastVerification = &plan.VerificationResult{
				Verified:   true,
				Confidence: 100,
				Reason:     "direct result, no tool execution required",
			}
			return false, nil
		}

		item.LastPlan = toLastPlan(tpResult.ToolCalls)

		results := e.deps.Executor.Execute(ctx, sessionID, item.ID.String(), tpResult.ToolCalls)
		item.LastExecution = toItemResults(results)
		executorSummary := summarizeResults(results)

		launchIndicator := verify.HasLaunchIndicator(item.Action, tpResult.ToolCalls, knownApps)

		verdict, err := e.deps.Verifier.Verify(ctx, sessionID, *item, executorSummary, selection.Servers, launchIndicator)
		if err != nil {
			return false, errs.Wrap(errs.KindTransport, "workflow: verification failed", err)
		}
		item.LastVerification = verdict

		if verdict.Verified {
			item.Status = plan.StatusCompleted
			return false, nil
		}

		if item.Attempt < maxAttempts {
			if sleepErr := e.deps.Clock.Sleep(ctx, backoffFor(item.Attempt)); sleepErr != nil {
				return false, sleepErr
			}
			continue
		}

		// Budget exhausted: hand off to the Replanner (§4.12).
		decision, err := e.deps.Replanner.Decide(ctx, replan.Input{
			Item:                *item,
			OriginalRequest:     pl.Request,
			ExecutorSummary:     executorSummary,
			VerifierReason:      verdict.Reason,
			RecommendedStrategy: string(replan.StrategyInjectChildren),
		})
		if err != nil {
			return false, errs.Wrap(errs.KindTransport, "workflow: replanning decision failed", err)
		}

		strategy, err := e.deps.Replanner.Apply(sessionID, pl, item.ID, decision)
		if strategy == replan.StrategyAbort {
			return true, err
		}
		return false, nil
	}

	return false, nil
}

func backoffFor(attempt int) time.Duration {
	ms := 1000 << uint(attempt-1)
	if ms > 8000 {
		ms = 8000
	}
	return time.Duration(ms) * time.Millisecond
}

func toLastPlan(calls []providers.ToolCall) []plan.ToolCallPlanEntry {
	out := make([]plan.ToolCallPlanEntry, len(calls))
	for i, c := range calls {
		out[i] = plan.ToolCallPlanEntry{Server: c.Server, Tool: c.Tool, Parameters: c.Parameters}
	}
	return out
}

func toItemResults(results []toolexec.CallResult) []plan.ToolCallResult {
	out := make([]plan.ToolCallResult, len(results))
	for i, r := range results {
		out[i] = plan.ToolCallResult{Server: r.Server, Tool: r.Tool, Success: r.Success, Result: r.Result, Error: r.Error}
	}
	return out
}

func summarizeResults(results []toolexec.CallResult) string {
	if len(results) == 0 {
		return "no tool calls"
	}
	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	return fmt.Sprintf("%d/%d calls succeeded", ok, len(results))
}

func knownAppNames(apps map[string]string) map[string]struct{} {
	out := make(map[string]struct{}, len(apps))
	for name := range apps {
		out[name] = struct{}{}
	}
	return out
}

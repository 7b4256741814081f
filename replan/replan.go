// Package replan implements the Replanner (§4.12): deciding, and applying,
// how to recover a plan item that exhausted its execution attempts without
// verifying.
package replan

import (
	"context"
	"encoding/json"
	"fmt"

	"goa.design/taskflow/errs"
	"goa.design/taskflow/events"
	"goa.design/taskflow/hid"
	"goa.design/taskflow/llm"
	"goa.design/taskflow/plan"
)

// MaxRounds is M from §4.12: at most this many replanning rounds per
// lineage (a chain of parent -> child replans). The M+1th is forced to
// skipped.
const MaxRounds = 3

// Strategy is one of the §4.12 output strategies.
type Strategy string

const (
	StrategyInjectChildren  Strategy = "inject_children"
	StrategySkipAndContinue Strategy = "skip_and_continue"
	StrategyAbort           Strategy = "abort"
)

// NewItemSpec is one entry of a Decision's new_items, before the engine
// assigns it a hierarchical ID.
type NewItemSpec struct {
	Action          string `json:"action"`
	SuccessCriteria string `json:"success_criteria"`
}

// Decision is the Replanner's output for one failed item.
type Decision struct {
	Strategy Strategy      `json:"strategy"`
	NewItems []NewItemSpec `json:"new_items"`
	Reason   string        `json:"reason"`
}

// rawDecision is the literal LLM response shape. Only the "reason" key is
// read; "skip_reason" and "abort_reason" keys are ignored.
type rawDecision struct {
	Strategy string        `json:"strategy"`
	NewItems []NewItemSpec `json:"new_items"`
	Reason   string        `json:"reason"`
}

const decisionPrompt = `An execution item has exhausted its attempts without passing verification. Decide how to recover:
- "inject_children": the item should be broken into 1..K smaller sub-steps. Return them in new_items as {"action", "success_criteria"}.
- "skip_and_continue": the item cannot be completed and the rest of the plan should proceed without it.
- "abort": the whole run should stop.
Respond with a single JSON object: {"strategy": "inject_children"|"skip_and_continue"|"abort", "new_items": [...], "reason": "..."}.`

// Input bundles what the Replanner needs to decide a failed item's fate.
type Input struct {
	Item                plan.Item
	OriginalRequest     string
	ExecutorSummary     string
	VerifierReason      string
	LikelyCause         string
	RecommendedStrategy string
}

// Replanner decides and applies §4.12 recovery strategies.
type Replanner struct {
	client llm.Client
	model  string
	sink   events.Sink
}

// New builds a Replanner.
func New(client llm.Client, model string, sink events.Sink) *Replanner {
	if sink == nil {
		sink = noopSink{}
	}
	return &Replanner{client: client, model: model, sink: sink}
}

type noopSink struct{}

func (noopSink) Emit(events.Event) {}

// Decide issues the LLM decision call for in.Item, defaulting to
// skip_and_continue on any parse failure (consistent with this codebase's
// "default to the safe terminal state on parse failure" convention).
func (r *Replanner) Decide(ctx context.Context, in Input) (Decision, error) {
	payload := map[string]any{
		"action":               in.Item.Action,
		"success_criteria":     in.Item.SuccessCriteria,
		"original_request":     in.OriginalRequest,
		"executor_summary":     in.ExecutorSummary,
		"verifier_reason":      in.VerifierReason,
		"likely_cause":         in.LikelyCause,
		"recommended_strategy": in.RecommendedStrategy,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Decision{}, errs.Wrap(errs.KindValidation, "replan: failed to marshal decision payload", err)
	}

	resp, err := r.client.Complete(ctx, llm.Request{
		Model: r.model,
		Messages: []llm.Message{
			{Role: "system", Content: decisionPrompt},
			{Role: "user", Content: string(raw)},
		},
		Temperature: 0.2,
		MaxTokens:   1024,
	})
	if err != nil {
		return Decision{}, err
	}

	return parseDecision(resp.Content), nil
}

func parseDecision(content string) Decision {
	sanitized := llm.Sanitize(content)
	var rd rawDecision
	if err := json.Unmarshal([]byte(sanitized), &rd); err != nil {
		if obj, ok := llm.ExtractJSONObject(sanitized); ok {
			if err := json.Unmarshal([]byte(obj), &rd); err == nil {
				return toDecision(rd)
			}
		}
		return Decision{Strategy: StrategySkipAndContinue, Reason: "replanning decision could not be parsed; skipping item"}
	}
	return toDecision(rd)
}

func toDecision(rd rawDecision) Decision {
	switch Strategy(rd.Strategy) {
	case StrategyInjectChildren, StrategySkipAndContinue, StrategyAbort:
		return Decision{Strategy: Strategy(rd.Strategy), NewItems: rd.NewItems, Reason: rd.Reason}
	default:
		return Decision{Strategy: StrategySkipAndContinue, Reason: "unrecognized strategy; skipping item"}
	}
}

// Apply mutates pl and the failed item in place per decision, bounded by
// MaxRounds per lineage (§4.12). It returns the strategy actually applied
// (which may differ from decision.Strategy when the round bound forces a
// skip) and, for abort, a non-nil error the caller should surface as a
// workflow error.
func (r *Replanner) Apply(sessionID string, pl *plan.Plan, itemID hid.ID, decision Decision) (Strategy, error) {
	item := pl.Get(itemID)
	if item == nil {
		return "", errs.Errorf(errs.KindValidation, "replan: item %s not found in plan", itemID)
	}

	round := item.ReplanCount + 1
	if round > MaxRounds {
		decision = Decision{Strategy: StrategySkipAndContinue, Reason: fmt.Sprintf("exceeded max replanning rounds (%d) for this lineage", MaxRounds)}
	}

	switch decision.Strategy {
	case StrategyInjectChildren:
		if len(decision.NewItems) == 0 {
			decision = Decision{Strategy: StrategySkipAndContinue, Reason: "replanner returned no new items"}
			break
		}
		children := make([]plan.Item, 0, len(decision.NewItems))
		population := pl.AllIDs()
		for _, spec := range decision.NewItems {
			childID, err := hid.GenerateNextChild(itemID, population)
			if err != nil {
				return "", errs.Wrap(errs.KindValidation, "replan: failed to assign child id", err)
			}
			population = append(population, childID)
			parent := itemID
			children = append(children, plan.Item{
				ID:              childID,
				Action:          spec.Action,
				SuccessCriteria: spec.SuccessCriteria,
				ParentID:        &parent,
				Status:          plan.StatusPending,
				Attempt:         0,
				MaxAttempts:     item.MaxAttempts,
				ReplanCount:     round,
			})
		}
		idx := pl.IndexOf(itemID)
		pl.InsertAfter(idx, children)
		item = pl.Get(itemID)
		item.Status = plan.StatusReplanned
		item.ReplanReason = decision.Reason

		r.sink.Emit(events.Event{
			Type:      events.TypeItemReplanned,
			SessionID: sessionID,
			Data: events.DataItemReplanned{
				ItemID:        itemID.String(),
				NewItemsCount: len(children),
				Reason:        decision.Reason,
			},
		})
		return StrategyInjectChildren, nil

	case StrategyAbort:
		r.sink.Emit(events.Event{
			Type:      events.TypeWorkflowError,
			SessionID: sessionID,
			Data: events.DataWorkflowError{
				Reason: decision.Reason,
				ItemID: itemID.String(),
			},
		})
		return StrategyAbort, errs.Errorf(errs.KindBudgetExhausted, "replan: run aborted on item %s: %s", itemID, decision.Reason)
	}

	// StrategySkipAndContinue, or any forced fallthrough above.
	item.Status = plan.StatusSkipped
	item.SkipReason = decision.Reason
	r.sink.Emit(events.Event{
		Type:      events.TypeItemSkipped,
		SessionID: sessionID,
		Data: events.DataItemSkipped{
			ItemID: itemID.String(),
			Reason: decision.Reason,
		},
	})
	return StrategySkipAndContinue, nil
}

// Package planner implements the Task-path Planner (§4.7): feasibility
// reasoning followed by plan creation, with deterministic ID assignment and
// success-criteria post-processing.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"goa.design/taskflow/errs"
	"goa.design/taskflow/events"
	"goa.design/taskflow/hid"
	"goa.design/taskflow/llm"
	"goa.design/taskflow/plan"
)

// Reasoning mirrors plan.Reasoning; re-exported here as the Planner's
// feasibility-stage output type for call-site clarity.
type Reasoning = plan.Reasoning

// rawPlanItem is the LLM's plan-creation response shape before IDs are
// assigned (§4.7: "IDs are not taken from the LLM; they are assigned here").
type rawPlanItem struct {
	Action          string   `json:"action"`
	SuccessCriteria string   `json:"success_criteria"`
	Dependencies    []int    `json:"dependencies"`
	MaxAttempts     int      `json:"max_attempts"`
	TTS             string   `json:"tts,omitempty"`
}

type rawPlan struct {
	Items []rawPlanItem `json:"items"`
}

// Planner drives the two-stage Task planning pipeline.
type Planner struct {
	client llm.Client
	model  string
	sink   events.Sink
}

// New builds a Planner using client for both feasibility and plan-creation
// calls, emitting todo-created events to sink.
func New(client llm.Client, model string, sink events.Sink) *Planner {
	if sink == nil {
		sink = noopSink{}
	}
	return &Planner{client: client, model: model, sink: sink}
}

type noopSink struct{}

func (noopSink) Emit(events.Event) {}

const feasibilityPrompt = `Assess whether the following request is feasible to accomplish with the available automation capabilities. Respond with a single JSON object: {"feasible": bool, "confidence": 0-100, "strategy": "...", "risks": ["..."], "prerequisites": ["..."], "estimated_steps": int, "reason": "..."}.`

// AssessFeasibility issues the feasibility-reasoning LLM call (§4.7 stage
// 1). On parse failure it defaults to feasible with low confidence and a
// diagnostic reason, per spec, rather than failing the request outright.
func (p *Planner) AssessFeasibility(ctx context.Context, request string) (Reasoning, error) {
	resp, err := p.client.Complete(ctx, llm.Request{
		Model: p.model,
		Messages: []llm.Message{
			{Role: "system", Content: feasibilityPrompt},
			{Role: "user", Content: request},
		},
		MaxTokens: 600,
	})
	if err != nil {
		return Reasoning{}, err
	}
	raw := llm.Sanitize(resp.Content)
	var r Reasoning
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		if obj, ok := llm.ExtractJSONObject(raw); ok {
			if err := json.Unmarshal([]byte(obj), &r); err == nil {
				return r, nil
			}
		}
		return Reasoning{
			Feasible:   true,
			Confidence: 30,
			Reason:     "feasibility assessment could not be parsed; defaulting to feasible",
		}, nil
	}
	return r, nil
}

const planCreationPrompt = `Produce a plan to accomplish the request as an ordered list of items. Respond with a single JSON object: {"items": [{"action": "...", "success_criteria": "...", "dependencies": [1-indexed item numbers this depends on], "max_attempts": int, "tts": "optional spoken summary"}]}. Item numbering in "dependencies" refers to the 1-indexed position of earlier items in this same list.`

var videoKeywords = regexp.MustCompile(`(?i)\b(play|video|fullscreen|playback)\b`)

// CreatePlan issues the plan-creation LLM call (§4.7 stage 2), assigns root
// hierarchical IDs in declaration order, rewrites 1-indexed LLM dependency
// references into those IDs, applies the deterministic success-criteria
// post-processing, and emits mcp_todo_created. The plan is rejected if empty
// or structurally malformed.
func (p *Planner) CreatePlan(ctx context.Context, sessionID, request string, mode plan.Mode) (*plan.Plan, error) {
	resp, err := p.client.Complete(ctx, llm.Request{
		Model: p.model,
		Messages: []llm.Message{
			{Role: "system", Content: planCreationPrompt},
			{Role: "user", Content: request},
		},
		MaxTokens: 2048,
	})
	if err != nil {
		return nil, err
	}

	raw := llm.Sanitize(resp.Content)
	var rp rawPlan
	if err := json.Unmarshal([]byte(raw), &rp); err != nil {
		if obj, ok := llm.ExtractJSONObject(raw); ok {
			_ = json.Unmarshal([]byte(obj), &rp)
		}
	}
	if len(rp.Items) == 0 {
		return nil, errs.New(errs.KindValidation, "planner: plan creation returned no items")
	}

	pl := plan.New(request, mode, len(rp.Items))
	ids := make([]hid.ID, len(rp.Items))
	for i := range rp.Items {
		id, err := hid.NewRoot(i + 1)
		if err != nil {
			return nil, errs.Wrap(errs.KindValidation, "planner: failed to assign item id", err)
		}
		ids[i] = id
	}

	for i, ri := range rp.Items {
		if strings.TrimSpace(ri.Action) == "" {
			return nil, errs.New(errs.KindValidation, fmt.Sprintf("planner: item %d has empty action", i+1))
		}
		deps := make([]hid.ID, 0, len(ri.Dependencies))
		for _, depIdx := range ri.Dependencies {
			if depIdx < 1 || depIdx > len(ids) || depIdx-1 == i {
				return nil, errs.New(errs.KindValidation, fmt.Sprintf("planner: item %d has invalid dependency index %d", i+1, depIdx))
			}
			deps = append(deps, ids[depIdx-1])
		}
		maxAttempts := ri.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = 1
		}
		item := plan.Item{
			ID:              ids[i],
			Action:          ri.Action,
			SuccessCriteria: applyObservableIndicator(ri.Action, ri.SuccessCriteria),
			Dependencies:    deps,
			Status:          plan.StatusPending,
			MaxAttempts:     maxAttempts,
			TTS:             ri.TTS,
		}
		pl.Items = append(pl.Items, item)
	}

	p.sink.Emit(events.Event{
		Type:      events.TypeTodoCreated,
		SessionID: sessionID,
		Data: events.DataTodoCreated{
			PlanID:    pl.ID,
			Summary:   summarize(pl.Items),
			ItemCount: len(pl.Items),
			Mode:      string(mode),
		},
	})

	return pl, nil
}

// applyObservableIndicator appends a deterministic, observable success
// indicator when the action or criteria mentions video/fullscreen playback
// (§4.7 post-processing), so Verifier evidence-gathering has something
// concrete to check for.
func applyObservableIndicator(action, criteria string) string {
	if !videoKeywords.MatchString(action) && !videoKeywords.MatchString(criteria) {
		return criteria
	}
	indicator := "playback timer is running"
	if strings.Contains(strings.ToLower(action)+strings.ToLower(criteria), "fullscreen") {
		indicator = "fullscreen indicator visible or window covers the entire display"
	}
	if criteria == "" {
		return indicator
	}
	return criteria + "; " + indicator
}

func summarize(items []plan.Item) string {
	if len(items) == 0 {
		return ""
	}
	if len(items) == 1 {
		return items[0].Action
	}
	return fmt.Sprintf("%s (+%d more)", items[0].Action, len(items)-1)
}

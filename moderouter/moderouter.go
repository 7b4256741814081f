// Package moderouter classifies an incoming request into Chat, Introspect,
// or Task (§4.6). It only classifies; routing a Task request into the
// planning pipeline is done by the caller (cmd/taskflowd).
package moderouter

import (
	"context"
	"encoding/json"
	"strings"

	"goa.design/taskflow/errs"
	"goa.design/taskflow/llm"
)

// Mode is the classified request category.
type Mode string

const (
	ModeChat       Mode = "chat"
	ModeIntrospect Mode = "introspect"
	ModeTask       Mode = "task"
)

// Classification is the ModeRouter's output (§4.6).
type Classification struct {
	Mode       Mode    `json:"mode"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	Mood       string  `json:"mood,omitempty"`
}

const classifyPrompt = `Classify the user's message into exactly one mode:
- "chat": conversational exchange with no work to perform.
- "introspect": the user is asking the assistant to reflect on its own state, capabilities, or past actions.
- "task": the user wants one or more concrete actions carried out.

Respond with a single JSON object: {"mode": "chat"|"introspect"|"task", "confidence": 0.0-1.0, "reasoning": "...", "mood": "optional"}.`

// Router wraps an llm.Client to classify requests.
type Router struct {
	client llm.Client
	model  string
}

// New builds a Router using client for classification calls.
func New(client llm.Client, model string) *Router {
	return &Router{client: client, model: model}
}

// Classify asks the configured LLM to classify userMessage. On parse
// failure it falls back to ModeTask with low confidence, since treating an
// ambiguous request as actionable work is the safer default (an
// unnecessary plan can be verified trivially false; a missed task cannot).
func (r *Router) Classify(ctx context.Context, userMessage string) (Classification, error) {
	resp, err := r.client.Complete(ctx, llm.Request{
		Model: r.model,
		Messages: []llm.Message{
			{Role: "system", Content: classifyPrompt},
			{Role: "user", Content: userMessage},
		},
		Temperature: 0,
		MaxTokens:   300,
	})
	if err != nil {
		return Classification{}, err
	}

	raw := llm.Sanitize(resp.Content)
	var c Classification
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		if obj, ok := llm.ExtractJSONObject(raw); ok {
			if err := json.Unmarshal([]byte(obj), &c); err == nil {
				return normalize(c), nil
			}
		}
		return Classification{
			Mode:       ModeTask,
			Confidence: 0.3,
			Reasoning:  "mode classification response could not be parsed; defaulting to task",
		}, nil
	}
	return normalize(c), nil
}

func normalize(c Classification) Classification {
	switch strings.ToLower(string(c.Mode)) {
	case string(ModeChat), string(ModeIntrospect), string(ModeTask):
		c.Mode = Mode(strings.ToLower(string(c.Mode)))
	default:
		c.Mode = ModeTask
		if c.Reasoning == "" {
			c.Reasoning = "unrecognized mode in classification response; defaulting to task"
		}
	}
	return c
}

// TaskHandoff carries the explicit context an Introspect branch hands to the
// Planner when it decides to transition into Task (§4.6, §9 Open Question
// 4). Its internal consistency is the introspection subsystem's
// responsibility; ModeRouter and Planner treat it as opaque beyond basic
// shape validation.
type TaskHandoff struct {
	Tasks []TaskHandoffItem `json:"tasks"`
}

// TaskHandoffItem is one pre-seeded task the Introspect branch hands off.
type TaskHandoffItem struct {
	Action           string   `json:"action"`
	SuccessCriteria  string   `json:"successCriteria"`
	Dependencies     []string `json:"dependencies,omitempty"`
}

// ValidateHandoff confirms the handoff has at least one well-formed task.
func ValidateHandoff(h TaskHandoff) error {
	if len(h.Tasks) == 0 {
		return errs.New(errs.KindValidation, "moderouter: introspect task handoff is empty")
	}
	for _, t := range h.Tasks {
		if strings.TrimSpace(t.Action) == "" {
			return errs.New(errs.KindValidation, "moderouter: handoff task has empty action")
		}
	}
	return nil
}

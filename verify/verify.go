// Package verify implements the Verifier (§4.11): deciding whether an
// item's success criteria are met, using its own evidence-gathering tool
// calls plus a decision LLM call.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"goa.design/taskflow/clock"
	"goa.design/taskflow/events"
	"goa.design/taskflow/llm"
	"goa.design/taskflow/plan"
	"goa.design/taskflow/providers"
	"goa.design/taskflow/toolexec"
	"goa.design/taskflow/toolplan"
)

// LaunchDelay is the adaptive wait before evidence gathering when the
// execution included an app-launch indicator; DefaultDelay otherwise
// (§4.11).
const (
	LaunchDelay  = 2500 * time.Millisecond
	DefaultDelay = 1000 * time.Millisecond
)

var launchKeywords = regexp.MustCompile(`(?i)\b(launch|open|start)\b`)

// HasLaunchIndicator reports whether calls or action text carry an
// app-launch indicator: a platform-automation call, a shell command
// matching a launch pattern, or launch keywords plus a known app name in
// the action text.
func HasLaunchIndicator(action string, calls []providers.ToolCall, knownApps map[string]struct{}) bool {
	for _, c := range calls {
		server := strings.ToLower(c.Server)
		if strings.Contains(server, "platform") {
			return true
		}
		if strings.Contains(server, "shell") {
			if cmd, ok := c.Parameters["command"].(string); ok && launchKeywords.MatchString(cmd) {
				return true
			}
		}
	}
	if launchKeywords.MatchString(action) {
		for app := range knownApps {
			if strings.Contains(strings.ToLower(action), strings.ToLower(app)) {
				return true
			}
		}
	}
	return false
}

// decision is the §4.11 phase-B LLM response shape.
type decision struct {
	Verified   bool   `json:"verified"`
	Confidence int    `json:"confidence"`
	Reason     string `json:"reason"`
	Evidence   string `json:"evidence"`
}

const decisionPrompt = `Decide whether the item's success criteria were met given the executor output and gathered evidence. Respond with a single JSON object: {"verified": bool, "confidence": 0-100, "reason": "...", "evidence": "..."}.`

// Verifier runs the two-phase §4.11 decision.
type Verifier struct {
	client      llm.Client
	toolPlanner *toolplan.Planner
	executor    *toolexec.Executor
	registry    *providers.Registry
	clk         clock.Clock
	sink        events.Sink
	model       string
}

// New builds a Verifier.
func New(client llm.Client, toolPlanner *toolplan.Planner, executor *toolexec.Executor, registry *providers.Registry, clk clock.Clock, sink events.Sink, model string) *Verifier {
	if clk == nil {
		clk = clock.Real{}
	}
	if sink == nil {
		sink = noopSink{}
	}
	return &Verifier{
		client:      client,
		toolPlanner: toolPlanner,
		executor:    executor,
		registry:    registry,
		clk:         clk,
		sink:        sink,
		model:       model,
	}
}

type noopSink struct{}

func (noopSink) Emit(events.Event) {}

// Verify runs the adaptive delay, evidence-gathering phase, and decision
// call for item, reusing servers (the same provider selection as the
// executor, per §4.11) to minimize prompt load.
func (v *Verifier) Verify(ctx context.Context, sessionID string, item plan.Item, executorSummary string, servers []string, launchIndicator bool) (*plan.VerificationResult, error) {
	delay := DefaultDelay
	if launchIndicator {
		delay = LaunchDelay
	}
	if err := v.clk.Sleep(ctx, delay); err != nil {
		return nil, err
	}

	evidence := v.gatherEvidence(ctx, sessionID, item, servers)
	evidenceSummary := summarizeEvidence(evidence)

	resp, err := v.client.Complete(ctx, llm.Request{
		Model: v.model,
		Messages: []llm.Message{
			{Role: "system", Content: decisionPrompt},
			{Role: "user", Content: decisionPayload(item, executorSummary, evidenceSummary)},
		},
		Temperature: 0,
		MaxTokens:   512,
	})
	if err != nil {
		return nil, err
	}

	result := parseDecision(resp.Content, evidence)

	v.sink.Emit(events.Event{
		Type:      events.TypeItemVerified,
		SessionID: sessionID,
		Data: events.DataItemVerified{
			ItemID:     item.ID.String(),
			Verified:   result.Verified,
			Confidence: float64(result.Confidence),
			Summary:    result.Reason,
		},
	})

	return result, nil
}

// gatherEvidence plans and executes evidence tool-calls for item, reusing the
// item's provider selection. When the planned calls hold no screen-evidence
// capture, it prepends one if a provider in servers exposes a
// screenshot-shaped tool; otherwise the calls run without one.
func (v *Verifier) gatherEvidence(ctx context.Context, sessionID string, item plan.Item, servers []string) []plan.ToolCallResult {
	res, err := v.toolPlanner.Plan(ctx, toolplan.Request{
		Action:          "gather evidence that: " + item.SuccessCriteria,
		SuccessCriteria: item.SuccessCriteria,
		Servers:         servers,
		TemplateName:    "default",
		Model:           v.model,
	})
	var calls []providers.ToolCall
	if err == nil {
		calls = res.ToolCalls
	}
	if !hasScreenEvidence(calls) {
		if synthetic, ok := v.syntheticScreenCapture(servers); ok {
			calls = append([]providers.ToolCall{synthetic}, calls...)
		}
	}
	if len(calls) == 0 {
		return nil
	}

	raw := v.executor.Execute(ctx, sessionID, item.ID.String()+"#verify", calls)
	out := make([]plan.ToolCallResult, len(raw))
	for i, r := range raw {
		out[i] = plan.ToolCallResult{Server: r.Server, Tool: r.Tool, Success: r.Success, Result: r.Result, Error: r.Error}
	}
	return out
}

var screenEvidenceNames = regexp.MustCompile(`(?i)(screenshot|capture_screen|read_file|screen_capture)`)

func hasScreenEvidence(calls []providers.ToolCall) bool {
	for _, c := range calls {
		if screenEvidenceNames.MatchString(c.Tool) {
			return true
		}
	}
	return false
}

// syntheticScreenCapture builds a minimal screenshot call against the first
// ready provider in servers that exposes a screenshot-shaped tool.
func (v *Verifier) syntheticScreenCapture(servers []string) (providers.ToolCall, bool) {
	for _, tool := range v.registry.ListTools(servers...) {
		if screenEvidenceNames.MatchString(tool.Name) {
			return providers.ToolCall{Server: tool.Server, Tool: tool.Name, Parameters: map[string]any{}}, true
		}
	}
	return providers.ToolCall{}, false
}

func decisionPayload(item plan.Item, executorSummary, evidenceSummary string) string {
	payload := map[string]any{
		"action":                   item.Action,
		"success_criteria":         item.SuccessCriteria,
		"executor_results_summary": executorSummary,
		"evidence_summary":         evidenceSummary,
	}
	raw, _ := json.Marshal(payload)
	return string(raw)
}

func summarizeEvidence(evidence []plan.ToolCallResult) string {
	if len(evidence) == 0 {
		return "no evidence gathered"
	}
	ok := 0
	for _, e := range evidence {
		if e.Success {
			ok++
		}
	}
	return fmt.Sprintf("%d/%d evidence calls succeeded", ok, len(evidence))
}

func parseDecision(raw string, evidence []plan.ToolCallResult) *plan.VerificationResult {
	sanitized := llm.Sanitize(raw)
	var d decision
	if err := json.Unmarshal([]byte(sanitized), &d); err != nil {
		if obj, ok := llm.ExtractJSONObject(sanitized); ok {
			if err := json.Unmarshal([]byte(obj), &d); err == nil {
				return &plan.VerificationResult{Verified: d.Verified, Confidence: d.Confidence, Reason: d.Reason, Evidence: evidence}
			}
		}
		return &plan.VerificationResult{
			Verified: false,
			Reason:   "verification decision could not be parsed; defaulting to not verified",
			Evidence: evidence,
		}
	}
	return &plan.VerificationResult{Verified: d.Verified, Confidence: d.Confidence, Reason: d.Reason, Evidence: evidence}
}

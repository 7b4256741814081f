// Package toolplan implements the ToolPlanner (§4.9): turning one plan item
// into a validated sequence of provider tool-calls.
package toolplan

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"goa.design/taskflow/clock"
	"goa.design/taskflow/errs"
	"goa.design/taskflow/llm"
	"goa.design/taskflow/providers"
	"goa.design/taskflow/schema"
	"goa.design/taskflow/telemetry"
)

// Result is the ToolPlanner's output for one item.
type Result struct {
	ToolCalls []providers.ToolCall
	// DirectResult, when non-nil, short-circuits the item straight to
	// completed without ToolExecutor/Verifier involvement (§4.9).
	DirectResult *string
	Reasoning    string
	// Fallback reports whether the deterministic fallback builder produced
	// this result rather than the LLM.
	Fallback bool
}

// Request bundles the inputs one Plan call needs.
type Request struct {
	Action          string
	SuccessCriteria string
	Servers         []string
	TemplateName    string
	UserLanguage    string
	Model           string
	FallbackModel   string
}

// Planner drives the §4.9 algorithm: prompt assembly, schema-constrained
// generation with self-correction, parameter autocorrection, and a
// deterministic fallback when no LLM attempt yields a usable plan.
type Planner struct {
	client      llm.Client
	constrainer *schema.Constrainer
	registry    *providers.Registry
	clk         clock.Clock
	logger      telemetry.Logger
	maxAttempts int
	retryDelay  time.Duration
}

// New builds a Planner. maxAttempts and retryDelay configure the per-stage
// retry loop (§4.9: "up to 3 attempts ... with a small fixed delay").
func New(client llm.Client, constrainer *schema.Constrainer, registry *providers.Registry, clk clock.Clock, logger telemetry.Logger, maxAttempts int, retryDelay time.Duration) *Planner {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Planner{
		client:      client,
		constrainer: constrainer,
		registry:    registry,
		clk:         clk,
		logger:      logger,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
	}
}

// Plan produces a validated tool-call sequence for req, retrying across the
// configured model sequence, falling back to a deterministic plan if every
// attempt fails to produce anything usable.
func (p *Planner) Plan(ctx context.Context, req Request) (Result, error) {
	tools := p.registry.ListTools(req.Servers...)
	if len(tools) == 0 {
		return p.deterministicFallback(req), nil
	}

	fallbackModel := req.FallbackModel
	if fallbackModel == "" {
		fallbackModel = req.Model
	}

	var lastErr error
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		model := req.Model
		if attempt == p.maxAttempts-1 && fallbackModel != "" {
			model = fallbackModel
		}

		result, direct, err := p.attempt(ctx, req, tools, model)
		if err == nil {
			if direct != nil {
				return Result{DirectResult: direct}, nil
			}
			return result, nil
		}
		lastErr = err
		p.logger.Warn(ctx, "toolplan: attempt failed", "attempt", attempt+1, "error", err.Error())

		if attempt < p.maxAttempts-1 && p.retryDelay > 0 {
			if sleepErr := p.clk.Sleep(ctx, p.retryDelay); sleepErr != nil {
				return Result{}, sleepErr
			}
		}
	}

	p.logger.Warn(ctx, "toolplan: all attempts failed, using deterministic fallback", "error", lastErr.Error())
	return p.deterministicFallback(req), nil
}

func (p *Planner) attempt(ctx context.Context, req Request, tools []providers.Tool, model string) (Result, *string, error) {
	availableTools := p.registry.ToolsSummary(req.Servers, 4000)
	prompt := assemblePrompt(req.TemplateName, req.Action, req.SuccessCriteria, availableTools, req.UserLanguage)

	ready := func(server string) bool { return p.registry.Ready(server) }

	var direct *string
	generate := func(ctx context.Context, priorErrors []schema.ValidationError) ([]byte, error) {
		messages := []llm.Message{{Role: "system", Content: prompt}}
		if len(priorErrors) > 0 {
			var b strings.Builder
			for _, e := range priorErrors {
				b.WriteString("- " + e.String() + "\n")
			}
			messages = append(messages, llm.Message{Role: "user", Content: substituteErrors(b.String())})
		} else {
			messages = append(messages, llm.Message{Role: "user", Content: req.Action})
		}

		doc := schema.Document(tools)
		responseFormat, _ := marshalSchema(doc)

		resp, err := p.client.Complete(ctx, llm.Request{
			Model:          model,
			Messages:       messages,
			Temperature:    0.1,
			MaxTokens:      1024,
			ResponseFormat: responseFormat,
		})
		if err != nil {
			return nil, err
		}

		raw := llm.Sanitize(resp.Content)
		if dr, ok := extractDirectResult(raw); ok {
			direct = &dr
			return []byte(`{"tool_calls":[]}`), nil
		}
		if obj, ok := llm.ExtractJSONObject(raw); ok {
			raw = obj
		}
		return reinferServers([]byte(raw)), nil
	}

	candidate, valErrs, err := p.constrainer.SelfCorrect(ctx, tools, ready, generate)
	if err != nil {
		return Result{}, nil, err
	}
	if direct != nil {
		return Result{}, direct, nil
	}
	if len(valErrs) > 0 {
		return Result{}, nil, errs.Errorf(errs.KindValidation, "toolplan: candidate failed validation after self-correction: %v", valErrs)
	}

	calls := enforceActiveTools(ctx, candidate.ToolCalls, tools, p.logger)
	calls = p.applyCorrections(calls)

	return Result{ToolCalls: calls, Reasoning: candidate.Reasoning}, nil, nil
}

func (p *Planner) applyCorrections(calls []providers.ToolCall) []providers.ToolCall {
	out := make([]providers.ToolCall, len(calls))
	for i, c := range calls {
		c.Parameters = p.registry.ApplyCorrections(c.Ident(), c.Parameters)
		out[i] = c
	}
	return out
}

// reinferServers preprocesses a raw tool_calls JSON response before schema
// validation, filling in an empty/absent "server" key from the "server__tool"
// prefix of "tool" (§4.9 step 3: this must happen before validation, since
// the schema requires "server" as present).
func reinferServers(raw []byte) []byte {
	var doc struct {
		ToolCalls []map[string]any `json:"tool_calls"`
		Reasoning string           `json:"reasoning,omitempty"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return raw
	}
	changed := false
	for _, call := range doc.ToolCalls {
		server, _ := call["server"].(string)
		tool, _ := call["tool"].(string)
		if server == "" {
			if idx := strings.Index(tool, "__"); idx >= 0 {
				call["server"] = tool[:idx]
				call["tool"] = tool[idx+2:]
				changed = true
			}
		}
	}
	if !changed {
		return raw
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return raw
	}
	return out
}

// enforceActiveTools drops tool-calls that do not reference an active
// server and an enumerated tool (§4.9 step 3).
func enforceActiveTools(ctx context.Context, calls []providers.ToolCall, tools []providers.Tool, logger telemetry.Logger) []providers.ToolCall {
	byIdent := make(map[string]providers.Tool, len(tools))
	for _, t := range tools {
		byIdent[t.Ident()] = t
	}

	out := make([]providers.ToolCall, 0, len(calls))
	for _, c := range calls {
		if _, ok := byIdent[c.Ident()]; !ok {
			logger.Warn(ctx, "toolplan: dropping tool call referencing unknown/inactive tool", "tool", c.Ident())
			continue
		}
		out = append(out, c)
	}
	return out
}

var (
	openAppRe   = regexp.MustCompile(`(?i)^open\s+(.+)$`)
	createDirRe = regexp.MustCompile(`(?i)create\s+(a\s+)?director`)
	runCmdRe    = regexp.MustCompile(`(?i)^(run|execute)\s+(.+)$`)
)

// deterministicFallback builds the §4.9 step 6 fallback plan from action
// keywords when no providers are available or every LLM attempt failed.
func (p *Planner) deterministicFallback(req Request) Result {
	action := strings.TrimSpace(req.Action)

	if m := openAppRe.FindStringSubmatch(action); m != nil {
		app := strings.TrimSpace(m[1])
		if server := p.firstReady("platform", req.Servers); server != "" {
			return Result{
				ToolCalls: []providers.ToolCall{{
					Server:     server,
					Tool:       "launch_app",
					Parameters: map[string]any{"name": app},
				}},
				Reasoning: "deterministic fallback: open-app keyword match",
				Fallback:  true,
			}
		}
	}

	if createDirRe.MatchString(action) {
		if server := p.firstReady("filesystem", req.Servers); server != "" {
			return Result{
				ToolCalls: []providers.ToolCall{{
					Server:     server,
					Tool:       "create_directory",
					Parameters: map[string]any{"path": inferPath(action)},
				}},
				Reasoning: "deterministic fallback: create-directory keyword match",
				Fallback:  true,
			}
		}
	}

	if m := runCmdRe.FindStringSubmatch(action); m != nil {
		if server := p.firstReady("shell", req.Servers); server != "" {
			return Result{
				ToolCalls: []providers.ToolCall{{
					Server:     server,
					Tool:       "run_command",
					Parameters: map[string]any{"command": strings.TrimSpace(m[2])},
				}},
				Reasoning: "deterministic fallback: run/execute keyword match",
				Fallback:  true,
			}
		}
	}

	return Result{ToolCalls: nil, Reasoning: "no tools needed", Fallback: true}
}

func (p *Planner) firstReady(preferredPrefix string, servers []string) string {
	for _, s := range servers {
		if strings.Contains(strings.ToLower(s), preferredPrefix) && p.registry.Ready(s) {
			return s
		}
	}
	for _, s := range servers {
		if p.registry.Ready(s) {
			return s
		}
	}
	return ""
}

func inferPath(action string) string {
	const marker = "directory "
	idx := strings.Index(strings.ToLower(action), marker)
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(action[idx+len(marker):])
}

func substituteErrors(errorLines string) string {
	return strings.ReplaceAll(correctionAddendum, "{{VALIDATION_ERRORS}}", errorLines)
}

// directResultProbe is the shape ToolPlanner checks for before attempting
// schema validation: a direct_result alongside an empty-or-absent
// tool_calls array short-circuits the item (§4.9).
type directResultProbe struct {
	DirectResult *string              `json:"direct_result"`
	ToolCalls    []providers.ToolCall `json:"tool_calls"`
}

func extractDirectResult(raw string) (string, bool) {
	body := raw
	if obj, ok := llm.ExtractJSONObject(raw); ok {
		body = obj
	}
	var probe directResultProbe
	if err := json.Unmarshal([]byte(body), &probe); err != nil {
		return "", false
	}
	if probe.DirectResult == nil || len(probe.ToolCalls) > 0 {
		return "", false
	}
	return *probe.DirectResult, true
}

func marshalSchema(doc map[string]any) ([]byte, error) {
	return json.Marshal(doc)
}

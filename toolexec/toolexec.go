// Package toolexec implements the ToolExecutor (§4.10): invoking a plan
// item's tool-calls against providers, in declaration order, sequentially.
package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"goa.design/taskflow/errs"
	"goa.design/taskflow/events"
	"goa.design/taskflow/providers"
	"goa.design/taskflow/telemetry"
	"goa.design/taskflow/toolerrors"
)

// DefaultTimeout is the per-tool-call timeout when no family-specific
// override applies (§4.10).
const DefaultTimeout = 30 * time.Second

// CallResult is the outcome of invoking a single tool call.
type CallResult struct {
	Server  string
	Tool    string
	Success bool
	Result  any
	Error   string
}

// Executor invokes tool-calls sequentially against a provider registry,
// applying a platform-specific shell command mapping, a per-call timeout,
// and an optional rate.Limiter shared across calls. The limiter applies no
// priority ordering: waiting calls are admitted in the order rate.Limiter
// admits them.
type Executor struct {
	registry        *providers.Registry
	sink            events.Sink
	logger          telemetry.Logger
	limiter         *rate.Limiter
	timeoutOverride map[string]time.Duration // keyed by tool family ("shell", "browser", ...)
	shellMap        map[string]string
}

// New builds an Executor. limiter may be nil to disable throttling.
// shellMap provides host-specific shell command remaps (§4.10: "unknown
// host-specific commands mapped to the platform equivalent").
func New(registry *providers.Registry, sink events.Sink, logger telemetry.Logger, limiter *rate.Limiter, shellMap map[string]string) *Executor {
	if sink == nil {
		sink = noopSink{}
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Executor{
		registry:        registry,
		sink:            sink,
		logger:          logger,
		limiter:         limiter,
		timeoutOverride: map[string]time.Duration{},
		shellMap:        shellMap,
	}
}

type noopSink struct{}

func (noopSink) Emit(events.Event) {}

// SetFamilyTimeout configures a per-tool-family timeout override (e.g.
// "shell" calls may need longer than the 30s default).
func (e *Executor) SetFamilyTimeout(family string, d time.Duration) {
	e.timeoutOverride[family] = d
}

// Execute runs calls in declaration order against the registry, continuing
// past individual failures — the item's overall success is decided by the
// Verifier, not by "all calls succeeded" (§4.10). It emits mcp_item_executed
// summarizing the run.
func (e *Executor) Execute(ctx context.Context, sessionID, itemID string, calls []providers.ToolCall) []CallResult {
	results := make([]CallResult, 0, len(calls))
	anySuccess := false

	for _, call := range calls {
		call = e.applyShellMapping(call)
		result := e.invoke(ctx, call)
		results = append(results, result)
		if result.Success {
			anySuccess = true
		}
	}

	e.sink.Emit(events.Event{
		Type:      events.TypeItemExecuted,
		SessionID: sessionID,
		Data: events.DataItemExecuted{
			ItemID:  itemID,
			Success: anySuccess,
			Summary: summarize(results),
		},
	})

	return results
}

func (e *Executor) invoke(ctx context.Context, call providers.ToolCall) CallResult {
	client := e.registry.Client(call.Server)
	if client == nil || !e.registry.Ready(call.Server) {
		err := errs.Errorf(errs.KindProviderUnavailable, "provider %q is not ready", call.Server)
		return CallResult{Server: call.Server, Tool: call.Tool, Success: false, Error: err.Error()}
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return CallResult{Server: call.Server, Tool: call.Tool, Success: false, Error: err.Error()}
		}
	}

	timeout := e.timeoutFor(call.Server)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params, err := marshalParams(call.Parameters)
	if err != nil {
		te := toolerrors.NewWithCause("failed to marshal tool parameters", err)
		return CallResult{Server: call.Server, Tool: call.Tool, Success: false, Error: te.Error()}
	}

	resp, err := client.CallTool(callCtx, providers.CallRequest{
		Server:     call.Server,
		Tool:       call.Tool,
		Parameters: params,
	})
	if err != nil {
		te := toolerrors.NewWithCause("tool call failed", err)
		return CallResult{Server: call.Server, Tool: call.Tool, Success: false, Error: te.Error()}
	}
	if resp.Error != "" {
		te := toolerrors.New(resp.Error)
		return CallResult{Server: call.Server, Tool: call.Tool, Success: false, Error: te.Error()}
	}

	var result any
	if len(resp.Result) > 0 {
		result = resp.Result
	}
	return CallResult{Server: call.Server, Tool: call.Tool, Success: true, Result: result}
}

func (e *Executor) timeoutFor(server string) time.Duration {
	for family, d := range e.timeoutOverride {
		if strings.Contains(strings.ToLower(server), family) {
			return d
		}
	}
	return DefaultTimeout
}

// applyShellMapping rewrites a shell tool-call's command through the
// configured host-specific map, emitting a diagnostic warning when a
// substitution occurs (§4.10).
func (e *Executor) applyShellMapping(call providers.ToolCall) providers.ToolCall {
	if !strings.Contains(strings.ToLower(call.Server), "shell") || e.shellMap == nil {
		return call
	}
	cmd, ok := call.Parameters["command"].(string)
	if !ok {
		return call
	}
	mapped, ok := e.shellMap[cmd]
	if !ok {
		return call
	}
	e.logger.Warn(context.Background(), "toolexec: remapped shell command for host platform", "from", cmd, "to", mapped)
	out := make(map[string]any, len(call.Parameters))
	for k, v := range call.Parameters {
		out[k] = v
	}
	out["command"] = mapped
	call.Parameters = out
	return call
}

func summarize(results []CallResult) string {
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

func marshalParams(params map[string]any) ([]byte, error) {
	return json.Marshal(params)
}

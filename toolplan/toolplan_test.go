package toolplan_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/taskflow/clock"
	"goa.design/taskflow/llm"
	"goa.design/taskflow/providers"
	"goa.design/taskflow/schema"
	"goa.design/taskflow/telemetry"
	"goa.design/taskflow/toolplan"
)

type fakeProviderClient struct {
	tools []providers.Tool
	ready bool
}

func (f fakeProviderClient) ListTools(context.Context) ([]providers.Tool, error) { return f.tools, nil }
func (f fakeProviderClient) CallTool(context.Context, providers.CallRequest) (providers.CallResponse, error) {
	return providers.CallResponse{}, nil
}
func (f fakeProviderClient) Ready(context.Context) bool { return f.ready }

func writeFileTool() providers.Tool {
	return providers.Tool{
		Server: "filesystem",
		Name:   "write_file",
		InputSchema: []byte(`{
			"type": "object",
			"required": ["path", "content"],
			"properties": {
				"path": {"type": "string"},
				"content": {"type": "string"}
			}
		}`),
	}
}

func newRegistry(t *testing.T, tools []providers.Tool) *providers.Registry {
	t.Helper()
	reg := providers.NewRegistry(telemetry.NewNoopLogger())
	reg.Register("filesystem", fakeProviderClient{tools: tools, ready: true})
	require.NoError(t, reg.Refresh(context.Background()))
	return reg
}

type fakeLLM struct {
	responses []string
	calls     int
}

func (f *fakeLLM) Complete(context.Context, llm.Request) (llm.Response, error) {
	r := f.responses[f.calls]
	if f.calls < len(f.responses)-1 {
		f.calls++
	}
	return llm.Response{Content: r}, nil
}

func TestPlanProducesValidatedToolCalls(t *testing.T) {
	reg := newRegistry(t, []providers.Tool{writeFileTool()})
	f := &fakeLLM{responses: []string{`{"tool_calls":[{"server":"filesystem","tool":"write_file","parameters":{"path":"/tmp/a.txt","content":"hi"}}],"reasoning":"write the file"}`}}
	p := toolplan.New(f, schema.New(), reg, clock.NewFake(time.Now()), telemetry.NewNoopLogger(), 3, time.Millisecond)

	res, err := p.Plan(context.Background(), toolplan.Request{
		Action:          "write hi to /tmp/a.txt",
		SuccessCriteria: "file exists with content hi",
		Servers:         []string{"filesystem"},
		TemplateName:    "filesystem",
		UserLanguage:    "en",
		Model:           "m",
	})
	require.NoError(t, err)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "filesystem__write_file", res.ToolCalls[0].Ident())
}

func TestPlanReinfersServerFromToolPrefix(t *testing.T) {
	reg := newRegistry(t, []providers.Tool{writeFileTool()})
	f := &fakeLLM{responses: []string{`{"tool_calls":[{"tool":"filesystem__write_file","parameters":{"path":"/tmp/a.txt","content":"hi"}}],"reasoning":"r"}`}}
	p := toolplan.New(f, schema.New(), reg, clock.NewFake(time.Now()), telemetry.NewNoopLogger(), 3, time.Millisecond)

	res, err := p.Plan(context.Background(), toolplan.Request{
		Action:       "write hi to /tmp/a.txt",
		Servers:      []string{"filesystem"},
		TemplateName: "filesystem",
		Model:        "m",
	})
	require.NoError(t, err)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "filesystem", res.ToolCalls[0].Server)
}

func TestPlanFallsBackDeterministicallyOnRepeatedFailure(t *testing.T) {
	reg := newRegistry(t, []providers.Tool{writeFileTool()})
	f := &fakeLLM{responses: []string{"not json at all"}}
	p := toolplan.New(f, schema.New(), reg, clock.NewFake(time.Now()), telemetry.NewNoopLogger(), 2, time.Millisecond)

	res, err := p.Plan(context.Background(), toolplan.Request{
		Action:       "run the build script",
		Servers:      []string{"filesystem"},
		TemplateName: "shell",
		Model:        "m",
	})
	require.NoError(t, err)
	assert.True(t, res.Fallback)
}

func TestPlanHandlesDirectResultShortCircuit(t *testing.T) {
	reg := newRegistry(t, []providers.Tool{writeFileTool()})
	f := &fakeLLM{responses: []string{`{"direct_result":"4","tool_calls":[]}`}}
	p := toolplan.New(f, schema.New(), reg, clock.NewFake(time.Now()), telemetry.NewNoopLogger(), 3, time.Millisecond)

	res, err := p.Plan(context.Background(), toolplan.Request{
		Action:       "what is 2+2",
		Servers:      []string{"filesystem"},
		TemplateName: "default",
		Model:        "m",
	})
	require.NoError(t, err)
	require.NotNil(t, res.DirectResult)
	assert.Equal(t, "4", *res.DirectResult)
	assert.Empty(t, res.ToolCalls)
}

func TestPlanNoProvidersUsesDeterministicFallback(t *testing.T) {
	reg := newRegistry(t, nil)
	f := &fakeLLM{responses: []string{`{"tool_calls":[]}`}}
	p := toolplan.New(f, schema.New(), reg, clock.NewFake(time.Now()), telemetry.NewNoopLogger(), 3, time.Millisecond)

	res, err := p.Plan(context.Background(), toolplan.Request{
		Action:  "create a directory /tmp/new",
		Servers: nil,
		Model:   "m",
	})
	require.NoError(t, err)
	assert.True(t, res.Fallback)
}

package providerselect_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/taskflow/llm"
	"goa.design/taskflow/providers"
	"goa.design/taskflow/providerselect"
	"goa.design/taskflow/telemetry"
)

type fakeClient struct {
	tools []providers.Tool
	ready bool
}

func (f fakeClient) ListTools(context.Context) ([]providers.Tool, error) { return f.tools, nil }
func (f fakeClient) CallTool(context.Context, providers.CallRequest) (providers.CallResponse, error) {
	return providers.CallResponse{}, nil
}
func (f fakeClient) Ready(context.Context) bool { return f.ready }

func newRegistry(t *testing.T, providersMap map[string][]providers.Tool) *providers.Registry {
	t.Helper()
	reg := providers.NewRegistry(telemetry.NewNoopLogger())
	for name, tools := range providersMap {
		reg.Register(name, fakeClient{tools: tools, ready: true})
	}
	require.NoError(t, reg.Refresh(context.Background()))
	return reg
}

type fakeLLM struct {
	content string
}

func (f fakeLLM) Complete(context.Context, llm.Request) (llm.Response, error) {
	return llm.Response{Content: f.content}, nil
}

func TestSelectUsesRouterPreFilterWhenReady(t *testing.T) {
	reg := newRegistry(t, map[string][]providers.Tool{
		"filesystem": {{Server: "filesystem", Name: "write_file"}},
		"shell":      {{Server: "shell", Name: "run_command"}},
	})
	sel := providerselect.New(fakeLLM{}, "m")
	out, err := sel.Select(context.Background(), "write a file", reg, &providerselect.PreFilter{Servers: []string{"filesystem"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"filesystem"}, out.Servers)
}

func TestSelectFallsBackToLLMWhenPreFilterNotReady(t *testing.T) {
	reg := newRegistry(t, map[string][]providers.Tool{
		"shell": {{Server: "shell", Name: "run_command"}},
	})
	sel := providerselect.New(fakeLLM{content: `{"selected_servers":["shell"],"selected_prompts":["shell"],"confidence":0.7}`}, "m")
	out, err := sel.Select(context.Background(), "run a command", reg, &providerselect.PreFilter{Servers: []string{"filesystem"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"shell"}, out.Servers)
}

func TestSelectFallsBackToAllReadyWhenClassificationEmpty(t *testing.T) {
	reg := newRegistry(t, map[string][]providers.Tool{
		"filesystem": {{Server: "filesystem", Name: "write_file"}},
	})
	sel := providerselect.New(fakeLLM{content: `not json`}, "m")
	out, err := sel.Select(context.Background(), "do something", reg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"filesystem"}, out.Servers)
}

func TestFallbackTemplateSelectsFilesystemForFileVerbs(t *testing.T) {
	reg := newRegistry(t, map[string][]providers.Tool{"filesystem": {{Server: "filesystem", Name: "write_file"}}})
	sel := providerselect.New(fakeLLM{}, "m")
	out, err := sel.Select(context.Background(), "create directory /tmp/foo", reg, &providerselect.PreFilter{Servers: []string{"filesystem"}})
	require.NoError(t, err)
	assert.Equal(t, providerselect.TemplateFilesystem, out.Template)
}

func TestFallbackTemplateSelectsShellForRunVerb(t *testing.T) {
	reg := newRegistry(t, map[string][]providers.Tool{"shell": {{Server: "shell", Name: "run_command"}}})
	sel := providerselect.New(fakeLLM{}, "m")
	out, err := sel.Select(context.Background(), "run the build script", reg, &providerselect.PreFilter{Servers: []string{"shell"}})
	require.NoError(t, err)
	assert.Equal(t, providerselect.TemplateShell, out.Template)
}

func TestFallbackTemplateDefaultsForUnrecognizedAction(t *testing.T) {
	reg := newRegistry(t, map[string][]providers.Tool{"misc": {{Server: "misc", Name: "noop"}}})
	sel := providerselect.New(fakeLLM{}, "m")
	out, err := sel.Select(context.Background(), "ponder the meaning of life", reg, &providerselect.PreFilter{Servers: []string{"misc"}})
	require.NoError(t, err)
	assert.Equal(t, providerselect.TemplateDefault, out.Template)
}

package providers_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/taskflow/providers"
)

type fakeClient struct {
	ready bool
	tools []providers.Tool
}

func (f *fakeClient) ListTools(context.Context) ([]providers.Tool, error) { return f.tools, nil }
func (f *fakeClient) CallTool(context.Context, providers.CallRequest) (providers.CallResponse, error) {
	return providers.CallResponse{Result: json.RawMessage(`{"ok":true}`)}, nil
}
func (f *fakeClient) Ready(context.Context) bool { return f.ready }

func TestRegistryRefreshAndReadiness(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "x-legacy-alias": "file_path"}
		}
	}`)
	fs := &fakeClient{ready: true, tools: []providers.Tool{
		{Server: "fs", Name: "write_file", Description: "Write a file", InputSchema: schema},
	}}
	disabled := &fakeClient{ready: false}

	reg := providers.NewRegistry(nil)
	reg.Register("fs", fs)
	reg.Register("shell", disabled)
	require.NoError(t, reg.Refresh(context.Background()))

	assert.True(t, reg.Ready("fs"))
	assert.False(t, reg.Ready("shell"))

	tools := reg.ListTools()
	require.Len(t, tools, 1)
	assert.Equal(t, "fs__write_file", tools[0].Ident())

	rules := reg.CorrectionRules("fs__write_file")
	require.Len(t, rules, 1)
	assert.Equal(t, "file_path", rules[0].From)
	assert.Equal(t, "path", rules[0].To)

	corrected := reg.ApplyCorrections("fs__write_file", map[string]any{"file_path": "/tmp/a.txt"})
	assert.Equal(t, "/tmp/a.txt", corrected["path"])
	_, hasOld := corrected["file_path"]
	assert.False(t, hasOld)
}

func TestListToolsExcludesUnready(t *testing.T) {
	reg := providers.NewRegistry(nil)
	reg.Register("shell", &fakeClient{ready: false, tools: []providers.Tool{{Server: "shell", Name: "run"}}})
	require.NoError(t, reg.Refresh(context.Background()))
	assert.Empty(t, reg.ListTools())
}

package moderouter_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/taskflow/llm"
	"goa.design/taskflow/moderouter"
)

type fakeLLM struct {
	content string
	err     error
}

func (f fakeLLM) Complete(context.Context, llm.Request) (llm.Response, error) {
	return llm.Response{Content: f.content}, f.err
}

func TestClassifyParsesCleanJSON(t *testing.T) {
	r := moderouter.New(fakeLLM{content: `{"mode":"task","confidence":0.9,"reasoning":"wants a file created"}`}, "m")
	c, err := r.Classify(context.Background(), "create a file")
	require.NoError(t, err)
	assert.Equal(t, moderouter.ModeTask, c.Mode)
	assert.Equal(t, 0.9, c.Confidence)
}

func TestClassifyRecoversJSONWrappedInProse(t *testing.T) {
	r := moderouter.New(fakeLLM{content: "Sure thing: {\"mode\":\"chat\",\"confidence\":0.8,\"reasoning\":\"hi\"} enjoy"}, "m")
	c, err := r.Classify(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, moderouter.ModeChat, c.Mode)
}

func TestClassifyFallsBackToTaskOnUnparsable(t *testing.T) {
	r := moderouter.New(fakeLLM{content: "not json at all"}, "m")
	c, err := r.Classify(context.Background(), "do something")
	require.NoError(t, err)
	assert.Equal(t, moderouter.ModeTask, c.Mode)
	assert.Less(t, c.Confidence, 0.5)
}

func TestValidateHandoffRejectsEmpty(t *testing.T) {
	err := moderouter.ValidateHandoff(moderouter.TaskHandoff{})
	assert.Error(t, err)
}

func TestValidateHandoffAcceptsWellFormed(t *testing.T) {
	err := moderouter.ValidateHandoff(moderouter.TaskHandoff{Tasks: []moderouter.TaskHandoffItem{{Action: "do x"}}})
	assert.NoError(t, err)
}

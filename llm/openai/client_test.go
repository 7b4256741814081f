package openai_test

import (
	"context"
	"testing"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/taskflow/llm"
	"goa.design/taskflow/llm/openai"
)

type fakeChat struct {
	resp *sdk.ChatCompletion
	err  error
	got  sdk.ChatCompletionNewParams
}

func (f *fakeChat) New(_ context.Context, body sdk.ChatCompletionNewParams, _ ...option.RequestOption) (*sdk.ChatCompletion, error) {
	f.got = body
	return f.resp, f.err
}

func TestCompleteTranslatesResponse(t *testing.T) {
	fake := &fakeChat{resp: &sdk.ChatCompletion{
		Choices: []sdk.ChatCompletionChoice{
			{Message: sdk.ChatCompletionMessage{Content: "hello there"}},
		},
	}}
	c, err := openai.New(openai.Options{Client: fake, DefaultModel: "gpt-x"})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, "gpt-x", fake.got.Model)
}

func TestCompleteRejectsEmptyMessages(t *testing.T) {
	c, err := openai.New(openai.Options{Client: &fakeChat{}, DefaultModel: "gpt-x"})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), llm.Request{})
	assert.Error(t, err)
}

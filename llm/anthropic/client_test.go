package anthropic_test

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/taskflow/llm"
	"goa.design/taskflow/llm/anthropic"
)

type fakeMessages struct {
	resp *sdk.Message
	err  error
	got  sdk.MessageNewParams
}

func (f *fakeMessages) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	f.got = body
	return f.resp, f.err
}

func TestCompleteTranslatesTextResponse(t *testing.T) {
	fake := &fakeMessages{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{{Type: "text", Text: "hi there"}},
	}}
	c, err := anthropic.New(fake, anthropic.Options{DefaultModel: "claude-x"})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "hello"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Content)
	assert.Len(t, fake.got.System, 1)
}

func TestCompleteRequiresAtLeastOneMessage(t *testing.T) {
	fake := &fakeMessages{}
	c, err := anthropic.New(fake, anthropic.Options{DefaultModel: "claude-x"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), llm.Request{})
	assert.Error(t, err)
}

package memory_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/taskflow/clock"
	"goa.design/taskflow/memory"
	"goa.design/taskflow/providers"
)

func fakeClock() *clock.Fake { return clock.NewFake(time.Now()) }

type fakeProviderClient struct {
	searchResult    memory.SearchResult
	createCallCount int
	lastEntities    []memory.Entity
}

func (f *fakeProviderClient) ListTools(context.Context) ([]providers.Tool, error) { return nil, nil }

func (f *fakeProviderClient) CallTool(_ context.Context, req providers.CallRequest) (providers.CallResponse, error) {
	switch req.Tool {
	case "search_nodes":
		raw, _ := json.Marshal(f.searchResult)
		return providers.CallResponse{Result: raw}, nil
	case "create_entities":
		var params struct {
			Entities []memory.Entity `json:"entities"`
		}
		_ = json.Unmarshal(req.Parameters, &params)
		f.createCallCount++
		f.lastEntities = params.Entities
		return providers.CallResponse{Result: json.RawMessage(`{}`)}, nil
	}
	return providers.CallResponse{}, nil
}

func (f *fakeProviderClient) Ready(context.Context) bool { return true }

func TestContextBlockReturnsEmptyWhenNotNeeded(t *testing.T) {
	fake := &fakeProviderClient{}
	co := memory.NewCoordinator(memory.NewClient(fake), memory.NewCache(fakeClock(), nil), nil, nil)
	assert.Empty(t, co.ContextBlock(context.Background(), "What's the weather today?"))
}

func TestContextBlockFormatsRetrievedEntities(t *testing.T) {
	fake := &fakeProviderClient{searchResult: memory.SearchResult{
		Entities: []memory.Entity{
			{Name: "user", EntityType: "person", Observations: []string{"prefers dark mode"}},
		},
	}}
	co := memory.NewCoordinator(memory.NewClient(fake), memory.NewCache(fakeClock(), nil), nil, nil)
	block := co.ContextBlock(context.Background(), "remember my preference for themes")
	assert.Contains(t, block, "user")
	assert.Contains(t, block, "dark mode")
}

func TestContextBlockIsCached(t *testing.T) {
	fake := &fakeProviderClient{searchResult: memory.SearchResult{
		Entities: []memory.Entity{{Name: "e", EntityType: "t"}},
	}}
	cache := memory.NewCache(fakeClock(), nil)
	co := memory.NewCoordinator(memory.NewClient(fake), cache, nil, nil)

	msg := "as discussed earlier, what did we decide?"
	first := co.ContextBlock(context.Background(), msg)
	fake.searchResult = memory.SearchResult{}
	second := co.ContextBlock(context.Background(), msg)
	assert.Equal(t, first, second)
}

func TestShouldStoreRejectsSystemPromptEcho(t *testing.T) {
	assert.False(t, memory.ShouldStore("remember this", "SYSTEM PROMPT: you are an assistant"))
	assert.False(t, memory.ShouldStore("remember this", "Relevant memory context:\n- foo"))
}

func TestShouldStoreAcceptsExplicitRequest(t *testing.T) {
	assert.True(t, memory.ShouldStore("please remember I like tabs", "Noted, I'll remember that."))
}

func TestShouldStoreRejectsUnrelatedChat(t *testing.T) {
	assert.False(t, memory.ShouldStore("what time is it", "It's 3pm."))
}

func TestStoreCallsCreateEntitiesWhenEligible(t *testing.T) {
	fake := &fakeProviderClient{}
	co := memory.NewCoordinator(memory.NewClient(fake), memory.NewCache(fakeClock(), nil), nil, nil)
	co.Store(context.Background(), "please remember my preference for dark mode", "Got it, noted.")
	require.Equal(t, 1, fake.createCallCount)
	require.NotEmpty(t, fake.lastEntities)
}

func TestStoreSkipsIneligibleExchange(t *testing.T) {
	fake := &fakeProviderClient{}
	co := memory.NewCoordinator(memory.NewClient(fake), memory.NewCache(fakeClock(), nil), nil, nil)
	co.Store(context.Background(), "what time is it", "It's 3pm.")
	assert.Equal(t, 0, fake.createCallCount)
}

func TestCacheKeyIsOrderIndependentOverTriggers(t *testing.T) {
	assert.Equal(t, memory.CacheKey("p", []string{"a", "b"}), memory.CacheKey("p", []string{"b", "a"}))
}

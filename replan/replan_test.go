package replan_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/taskflow/events"
	"goa.design/taskflow/hid"
	"goa.design/taskflow/llm"
	"goa.design/taskflow/plan"
	"goa.design/taskflow/replan"
)

type fakeLLM struct {
	response string
}

func (f fakeLLM) Complete(context.Context, llm.Request) (llm.Response, error) {
	return llm.Response{Content: f.response}, nil
}

type recordingSink struct {
	events []events.Event
}

func (s *recordingSink) Emit(e events.Event) { s.events = append(s.events, e) }

func newPlan(t *testing.T, items ...plan.Item) *plan.Plan {
	t.Helper()
	return &plan.Plan{ID: "p1", RunID: "r1", Items: items}
}

func TestDecideParsesInjectChildren(t *testing.T) {
	f := fakeLLM{response: `{"strategy":"inject_children","new_items":[{"action":"wait_for_ready","success_criteria":"app window visible"},{"action":"click_2","success_criteria":"digit 2 entered"}],"reason":"needs finer steps"}`}
	r := replan.New(f, "m", nil)

	item := plan.Item{ID: hid.MustParse("2"), Action: "click 2+2", MaxAttempts: 3}
	decision, err := r.Decide(context.Background(), replan.Input{Item: item, VerifierReason: "click had no effect"})
	require.NoError(t, err)
	assert.Equal(t, replan.StrategyInjectChildren, decision.Strategy)
	require.Len(t, decision.NewItems, 2)
	assert.Equal(t, "wait_for_ready", decision.NewItems[0].Action)
}

func TestDecideDefaultsToSkipOnParseFailure(t *testing.T) {
	f := fakeLLM{response: "not json"}
	r := replan.New(f, "m", nil)

	decision, err := r.Decide(context.Background(), replan.Input{Item: plan.Item{ID: hid.MustParse("2")}})
	require.NoError(t, err)
	assert.Equal(t, replan.StrategySkipAndContinue, decision.Strategy)
}

func TestApplyInjectChildrenSplicesAndAssignsHierarchicalIDs(t *testing.T) {
	item2 := plan.Item{ID: hid.MustParse("2"), Action: "click 2+2", MaxAttempts: 3, Status: plan.StatusFailed}
	item3 := plan.Item{ID: hid.MustParse("3"), Action: "read result"}
	pl := newPlan(t, plan.Item{ID: hid.MustParse("1")}, item2, item3)

	sink := &recordingSink{}
	r := replan.New(fakeLLM{}, "m", sink)

	decision := replan.Decision{
		Strategy: replan.StrategyInjectChildren,
		NewItems: []replan.NewItemSpec{
			{Action: "wait_for_ready", SuccessCriteria: "window visible"},
			{Action: "click_2", SuccessCriteria: "2 entered"},
		},
		Reason: "needs finer steps",
	}

	strategy, err := r.Apply("s1", pl, hid.MustParse("2"), decision)
	require.NoError(t, err)
	assert.Equal(t, replan.StrategyInjectChildren, strategy)

	require.Len(t, pl.Items, 5)
	assert.Equal(t, "2", pl.Items[1].ID.String())
	assert.Equal(t, plan.StatusReplanned, pl.Items[1].Status)
	assert.Equal(t, "2.1", pl.Items[2].ID.String())
	assert.Equal(t, "2.2", pl.Items[3].ID.String())
	assert.Equal(t, plan.StatusPending, pl.Items[2].Status)
	assert.Equal(t, "3", pl.Items[4].ID.String())

	require.Len(t, sink.events, 1)
	data, ok := sink.events[0].Data.(events.DataItemReplanned)
	require.True(t, ok)
	assert.Equal(t, 2, data.NewItemsCount)
}

func TestApplyForcesSkipBeyondMaxRounds(t *testing.T) {
	item := plan.Item{ID: hid.MustParse("2"), Status: plan.StatusFailed, ReplanCount: replan.MaxRounds}
	pl := newPlan(t, item)
	sink := &recordingSink{}
	r := replan.New(fakeLLM{}, "m", sink)

	decision := replan.Decision{Strategy: replan.StrategyInjectChildren, NewItems: []replan.NewItemSpec{{Action: "a"}}}
	strategy, err := r.Apply("s1", pl, hid.MustParse("2"), decision)
	require.NoError(t, err)
	assert.Equal(t, replan.StrategySkipAndContinue, strategy)
	assert.Equal(t, plan.StatusSkipped, pl.Items[0].Status)
}

func TestApplyAbortReturnsError(t *testing.T) {
	pl := newPlan(t, plan.Item{ID: hid.MustParse("2")})
	sink := &recordingSink{}
	r := replan.New(fakeLLM{}, "m", sink)

	_, err := r.Apply("s1", pl, hid.MustParse("2"), replan.Decision{Strategy: replan.StrategyAbort, Reason: "unrecoverable"})
	require.Error(t, err)
}

package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/taskflow/config"
	"goa.design/taskflow/events"
	"goa.design/taskflow/hid"
	"goa.design/taskflow/plan"
)

// TestBackoffForMatchesExponentialFormula covers property 8 (§8): backoff
// between attempts n->n+1 is exactly min(1000*2^(n-1), 8000) ms.
func TestBackoffForMatchesExponentialFormula(t *testing.T) {
	cases := map[int]time.Duration{
		1: 1000 * time.Millisecond,
		2: 2000 * time.Millisecond,
		3: 4000 * time.Millisecond,
		4: 8000 * time.Millisecond,
		5: 8000 * time.Millisecond,
	}
	for attempt, want := range cases {
		assert.Equal(t, want, backoffFor(attempt), "attempt %d", attempt)
	}
}

type recordingSink struct {
	events []events.Event
}

func (s *recordingSink) Emit(e events.Event) { s.events = append(s.events, e) }

func TestMarkBlockedRewritesDependenciesAfterFiveChecks(t *testing.T) {
	sink := &recordingSink{}
	e := New(Deps{Sink: sink, Config: config.Default()})

	parent := hid.MustParse("1")
	child1 := hid.MustParse("1.1")
	child2 := hid.MustParse("1.2")
	dependent := plan.Item{ID: hid.MustParse("2"), Dependencies: []hid.ID{parent}}
	pl := &plan.Plan{
		Items: []plan.Item{
			{ID: parent, Status: plan.StatusReplanned},
			{ID: child1, Status: plan.StatusCompleted, ParentID: &parent},
			{ID: child2, Status: plan.StatusPending, ParentID: &parent},
			dependent,
		},
	}
	item := &pl.Items[3]

	for i := 0; i < 4; i++ {
		e.markBlocked("s1", pl, item, []hid.ID{parent})
		assert.Equal(t, plan.StatusBlocked, item.Status)
	}
	require.Equal(t, 4, item.BlockedCheckCount)

	e.markBlocked("s1", pl, item, []hid.ID{parent})
	assert.Equal(t, 0, item.BlockedCheckCount, "count resets after the rewrite threshold")
	assert.ElementsMatch(t, []hid.ID{child1, child2}, item.Dependencies)

	blockedEvents := 0
	for _, ev := range sink.events {
		if ev.Type == events.TypeItemBlocked {
			blockedEvents++
		}
	}
	assert.Equal(t, 5, blockedEvents)
}

func TestMarkBlockedSkipsAfterTenChecks(t *testing.T) {
	sink := &recordingSink{}
	e := New(Deps{Sink: sink, Config: config.Default()})

	pl := &plan.Plan{Items: []plan.Item{{ID: hid.MustParse("2"), Dependencies: []hid.ID{hid.MustParse("1")}}}}
	item := &pl.Items[0]

	for i := 0; i < 10; i++ {
		e.markBlocked("s1", pl, item, []hid.ID{hid.MustParse("1")})
	}
	assert.Equal(t, plan.StatusSkipped, item.Status)
	assert.Equal(t, "blocked too many times", item.SkipReason)

	last := sink.events[len(sink.events)-1]
	assert.Equal(t, events.TypeItemSkipped, last.Type)
}

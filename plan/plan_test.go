package plan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/taskflow/hid"
	"goa.design/taskflow/plan"
)

func buildPlan(t *testing.T) *plan.Plan {
	t.Helper()
	p := plan.New("do the thing", plan.ModeStandard, 3)
	p.Items = []plan.Item{
		{ID: hid.MustParse("1"), Status: plan.StatusCompleted},
		{ID: hid.MustParse("2"), Status: plan.StatusPending, Dependencies: []hid.ID{hid.MustParse("1")}},
		{ID: hid.MustParse("3"), Status: plan.StatusPending, Dependencies: []hid.ID{hid.MustParse("1")}},
	}
	return p
}

func TestDependencySatisfiedCompleted(t *testing.T) {
	p := buildPlan(t)
	assert.True(t, p.DependencySatisfied(hid.MustParse("1")))
}

func TestDependencySatisfiedReplannedRequiresAllChildren(t *testing.T) {
	p := buildPlan(t)
	item1 := p.Get(hid.MustParse("1"))
	item1.Status = plan.StatusReplanned
	p.Items = append(p.Items, plan.Item{ID: hid.MustParse("1.1"), Status: plan.StatusCompleted})
	p.Items = append(p.Items, plan.Item{ID: hid.MustParse("1.2"), Status: plan.StatusPending})

	assert.False(t, p.DependencySatisfied(hid.MustParse("1")))

	p.Get(hid.MustParse("1.2")).Status = plan.StatusCompleted
	assert.True(t, p.DependencySatisfied(hid.MustParse("1")))
}

func TestRewriteReplannedDependencies(t *testing.T) {
	p := buildPlan(t)
	item1 := p.Get(hid.MustParse("1"))
	item1.Status = plan.StatusReplanned
	p.Items = append(p.Items, plan.Item{ID: hid.MustParse("1.1")})
	p.Items = append(p.Items, plan.Item{ID: hid.MustParse("1.2")})

	item2 := p.Get(hid.MustParse("2"))
	rewritten := p.RewriteReplannedDependencies(*item2)
	require.Len(t, rewritten, 2)
	assert.Equal(t, "1.1", rewritten[0].String())
	assert.Equal(t, "1.2", rewritten[1].String())
}

func TestInsertAfterPreservesOrder(t *testing.T) {
	p := buildPlan(t)
	idx := p.IndexOf(hid.MustParse("2"))
	p.InsertAfter(idx, []plan.Item{
		{ID: hid.MustParse("2.1")},
		{ID: hid.MustParse("2.2")},
	})
	ids := p.AllIDs()
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	assert.Equal(t, []string{"1", "2", "2.1", "2.2", "3"}, strs)
}

func TestValidateInvariantsCatchesDuplicates(t *testing.T) {
	p := buildPlan(t)
	p.Items = append(p.Items, plan.Item{ID: hid.MustParse("1")})
	assert.Error(t, p.ValidateInvariants())
}

func TestValidateInvariantsCatchesBadParent(t *testing.T) {
	p := buildPlan(t)
	bad := hid.MustParse("9")
	p.Items[1].ParentID = &bad
	assert.Error(t, p.ValidateInvariants())
}

package plan

import (
	"fmt"

	"github.com/google/uuid"

	"goa.design/taskflow/hid"
)

// Mode is the plan's execution mode, distinct from moderouter's Chat/
// Introspect/Task classification: within the Task path, a plan can still be
// "standard" or "extended" depth.
type Mode string

const (
	ModeStandard Mode = "standard"
	ModeExtended Mode = "extended"
)

// Context carries the original request plus any caller preferences forward
// through replanning so later stages do not need to re-derive intent.
type Context struct {
	OriginalRequest string
	Preferences     map[string]string
}

// ExecutionProgress is a lightweight rollup maintained by WorkflowEngine.
type ExecutionProgress struct {
	Completed int
	Total     int
}

// Plan is the ordered, mutable TODO a Planner produces and a WorkflowEngine
// drives to completion (§3). Items are stored in canonical insertion order,
// not natural-ID order; ordering is preserved across replan splices.
type Plan struct {
	ID         string
	RunID      string
	Request    string
	Mode       Mode
	Complexity int
	Items      []Item
	Context    Context
	Progress   ExecutionProgress
}

// New constructs an empty Plan for request, assigning fresh ID and RunID
// values.
func New(request string, mode Mode, complexity int) *Plan {
	return &Plan{
		ID:      uuid.NewString(),
		RunID:   uuid.NewString(),
		Request: request,
		Mode:    mode,
		Complexity: complexity,
		Context: Context{OriginalRequest: request},
	}
}

// IndexOf returns the index of the item with the given ID, or -1 if absent.
func (p *Plan) IndexOf(id hid.ID) int {
	for i := range p.Items {
		if p.Items[i].ID.Equal(id) {
			return i
		}
	}
	return -1
}

// Get returns a pointer to the item with the given ID, or nil if absent.
// The pointer aliases the plan's backing slice and must not be retained
// across a splice (InsertAfter may reallocate it).
func (p *Plan) Get(id hid.ID) *Item {
	idx := p.IndexOf(id)
	if idx < 0 {
		return nil
	}
	return &p.Items[idx]
}

// AllIDs returns the IDs of every item currently in the plan, in insertion
// order.
func (p *Plan) AllIDs() []hid.ID {
	ids := make([]hid.ID, len(p.Items))
	for i, it := range p.Items {
		ids[i] = it.ID
	}
	return ids
}

// InsertAfter splices newItems into the plan immediately after the item at
// afterIdx, preserving insertion order for everything else.
func (p *Plan) InsertAfter(afterIdx int, newItems []Item) {
	tail := append([]Item(nil), p.Items[afterIdx+1:]...)
	p.Items = append(p.Items[:afterIdx+1], newItems...)
	p.Items = append(p.Items, tail...)
}

// DependencySatisfied reports whether dep is satisfied for the purpose of
// unblocking a dependent item: dep must be completed, or replanned with
// every child completed (§4.13).
func (p *Plan) DependencySatisfied(dep hid.ID) bool {
	item := p.Get(dep)
	if item == nil {
		return false
	}
	switch item.Status {
	case StatusCompleted:
		return true
	case StatusReplanned:
		children := hid.ChildrenOf(dep, p.AllIDs())
		if len(children) == 0 {
			return false
		}
		for _, c := range children {
			child := p.Get(c)
			if child == nil || child.Status != StatusCompleted {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// UnsatisfiedDependencies returns the subset of item's dependencies that are
// not yet satisfied, preserving declaration order.
func (p *Plan) UnsatisfiedDependencies(item Item) []hid.ID {
	var out []hid.ID
	for _, dep := range item.Dependencies {
		if !p.DependencySatisfied(dep) {
			out = append(out, dep)
		}
	}
	return out
}

// RewriteReplannedDependencies substitutes every replanned-parent dependency
// of item with that parent's direct children, used after the blocked-check
// rewrite threshold in §4.13. Returns the new dependency list; callers are
// responsible for writing it back and resetting BlockedCheckCount.
func (p *Plan) RewriteReplannedDependencies(item Item) []hid.ID {
	out := make([]hid.ID, 0, len(item.Dependencies))
	for _, dep := range item.Dependencies {
		depItem := p.Get(dep)
		if depItem != nil && depItem.Status == StatusReplanned {
			children := hid.ChildrenOf(dep, p.AllIDs())
			out = append(out, children...)
			continue
		}
		out = append(out, dep)
	}
	return out
}

// ValidateInvariants checks invariants 1-3 from §3 against the plan's
// current state. It is intended for tests and defensive assertions at
// top-level state transitions, not for the per-tick hot path.
func (p *Plan) ValidateInvariants() error {
	seen := make(map[string]struct{}, len(p.Items))
	byID := make(map[string]Item, len(p.Items))
	for _, it := range p.Items {
		key := it.ID.String()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("plan: duplicate item id %s", key)
		}
		seen[key] = struct{}{}
		byID[key] = it
	}
	for _, it := range p.Items {
		if it.ParentID != nil {
			if !hid.IsChild(*it.ParentID, it.ID) {
				return fmt.Errorf("plan: item %s parent_id %s is not its direct parent", it.ID, it.ParentID)
			}
			if _, ok := byID[it.ParentID.String()]; !ok {
				return fmt.Errorf("plan: item %s parent_id %s does not exist", it.ID, it.ParentID)
			}
		}
		if it.Status == StatusPending || it.Status == StatusInProgress || it.Status == StatusBlocked {
			for _, dep := range it.Dependencies {
				if _, ok := byID[dep.String()]; !ok {
					return fmt.Errorf("plan: item %s dependency %s does not exist", it.ID, dep)
				}
			}
		}
	}
	return nil
}

// Package plan defines the TODO plan data model (§3): items, their status
// lifecycle, and the plan that owns them in canonical insertion order.
package plan

import (
	"time"

	"goa.design/taskflow/hid"
)

// Status is one of the item lifecycle states in §3.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
	StatusBlocked    Status = "blocked"
	StatusReplanned  Status = "replanned"
)

// Terminal reports whether s is one of the absorbing terminal states.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped, StatusReplanned:
		return true
	default:
		return false
	}
}

// EventRef records that an event of the given sequence number and type was
// emitted for an item, so the ordering regex in §8.5 can be checked directly
// against item history.
type EventRef struct {
	Seq  int64
	Type string
}

// ToolCallResult is one entry of Item.LastExecution: the outcome of a single
// tool invocation performed for this item (§4.10).
type ToolCallResult struct {
	Server  string
	Tool    string
	Success bool
	Result  any
	Error   string
}

// VerificationResult is Item.LastVerification: the Verifier's decision
// (§4.11).
type VerificationResult struct {
	Verified   bool
	Confidence int
	Reason     string
	Evidence   []ToolCallResult
}

// Item is a single unit of work within a Plan (§3).
type Item struct {
	ID               hid.ID
	Action           string
	SuccessCriteria  string
	Dependencies     []hid.ID
	ParentID         *hid.ID
	Status           Status
	Attempt          int
	MaxAttempts      int
	BlockedCheckCount int
	ReplanCount      int

	LastPlan        []ToolCallPlanEntry
	LastExecution   []ToolCallResult
	LastVerification *VerificationResult

	ReplanReason string
	SkipReason   string

	ProviderHint []string
	TTS          string

	Events    []EventRef
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ToolCallPlanEntry is one entry of Item.LastPlan: a planned (not yet
// necessarily executed) tool call, mirroring providers.ToolCall without
// importing the providers package (kept dependency-free for the data
// model).
type ToolCallPlanEntry struct {
	Server     string
	Tool       string
	Parameters map[string]any
}

// Clone returns a deep-enough copy of i suitable for snapshotting into
// diagnostics without aliasing slices the engine may still mutate.
func (i Item) Clone() Item {
	out := i
	out.Dependencies = append([]hid.ID(nil), i.Dependencies...)
	if i.ParentID != nil {
		p := *i.ParentID
		out.ParentID = &p
	}
	out.LastPlan = append([]ToolCallPlanEntry(nil), i.LastPlan...)
	out.LastExecution = append([]ToolCallResult(nil), i.LastExecution...)
	out.ProviderHint = append([]string(nil), i.ProviderHint...)
	out.Events = append([]EventRef(nil), i.Events...)
	return out
}

// HasDependency reports whether dep is among i's declared dependencies.
func (i Item) HasDependency(dep hid.ID) bool {
	for _, d := range i.Dependencies {
		if d.Equal(dep) {
			return true
		}
	}
	return false
}

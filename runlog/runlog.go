// Package runlog provides a durable, append-only event log for plan runs
// (§4.15). Per-item and per-plan events are, in addition to being pushed to
// the live events.Sink, appended here for post-hoc audit.
//
// This does not contradict §6's "Persisted state: None" for the
// WorkflowEngine: that clause describes the orchestrator's in-memory plan
// state, which remains process-owned and is discarded once a run reaches a
// terminal event. The run log is a side-channel observability trail, never
// read back by the engine itself.
package runlog

import (
	"context"
	"time"

	"goa.design/taskflow/events"
)

type (
	// Event is a single immutable entry appended to the run log.
	//
	// Store implementations assign Seq when persisting; Seq is opaque,
	// monotonically ordered within a run, and suitable for cursor-based
	// pagination.
	Event struct {
		// Seq is the store-assigned sequence number for this entry.
		Seq string
		// RunID identifies the plan run this event belongs to.
		RunID string
		// SessionID groups related runs into a conversation thread.
		SessionID string
		// Type is the underlying event's type (mirrors events.Event.Type).
		Type events.Type
		// Payload is the underlying event's data.
		Payload any
		// Timestamp is the event time.
		Timestamp time.Time
	}

	// Page is a forward page of run log entries.
	Page struct {
		// Events are ordered oldest-first.
		Events []*Event
		// NextCursor is the cursor to pass to the next List call. Empty
		// when there are no further events.
		NextCursor string
	}

	// Store is an append-only event store for run introspection.
	//
	// Implementations must provide stable ordering within a run; cursor
	// values are store-owned and opaque to callers.
	Store interface {
		// Append persists e, assigning its Seq. Append must be durable:
		// failures are surfaced to callers so the engine can fail fast
		// when canonical logging is unavailable.
		Append(ctx context.Context, e *Event) error
		// List returns the next forward page of events for runID. cursor
		// is an opaque value from a previous List call, or empty to start
		// from the beginning. limit must be greater than zero.
		List(ctx context.Context, runID string, cursor string, limit int) (Page, error)
	}
)

// Sink adapts a Store into an events.Sink so callers can pass it anywhere
// an events.Sink is expected without the engine needing direct runlog
// awareness: it appends every event to the run log, then forwards it to an
// inner sink (typically the live broadcaster). events.Event carries no run
// ID, so each appended entry records the event's SessionID as both RunID
// and SessionID.
type Sink struct {
	Store Store
	Inner events.Sink

	// OnAppendError is called, if set, when the durable append fails.
	// The underlying event is still forwarded to Inner — a run log
	// outage must not silently drop the live event stream.
	OnAppendError func(err error, ev events.Event)
}

// Emit implements events.Sink.
func (s Sink) Emit(ev events.Event) {
	if s.Store != nil {
		err := s.Store.Append(context.Background(), &Event{
			RunID:     ev.SessionID,
			SessionID: ev.SessionID,
			Type:      ev.Type,
			Payload:   ev.Data,
			Timestamp: ev.Timestamp,
		})
		if err != nil && s.OnAppendError != nil {
			s.OnAppendError(err, ev)
		}
	}
	if s.Inner != nil {
		s.Inner.Emit(ev)
	}
}

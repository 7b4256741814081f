// Package session defines the durable session registry (§4.16): a minimal
// record of {session_id, status, created_at, ended_at} spanning possibly
// many plan runs issued by the same external caller (chat continuations).
//
// This is explicitly not per-user storage: a Session carries no caller
// identity, only a caller-supplied opaque ID and lifecycle timestamps.
package session

import (
	"context"
	"errors"
	"time"
)

type (
	// Session captures durable session lifecycle state.
	//
	// Contract:
	//   - IDs are stable and caller-provided.
	//   - Sessions are created explicitly (CreateSession) and ended explicitly
	//     (EndSession).
	//   - Ended sessions are terminal: new runs must not start under an ended
	//     session.
	Session struct {
		ID        string
		Status    Status
		CreatedAt time.Time
		EndedAt   *time.Time
	}

	// RunMeta records which plan run executed under a session, for
	// introspection and resume (§9: "look-up-by-ID on resume").
	RunMeta struct {
		RunID     string
		SessionID string
		Status    RunStatus
		StartedAt time.Time
		UpdatedAt time.Time
		Metadata  map[string]any
	}

	// Store persists session lifecycle state and run metadata. Implementations
	// must be durable: failures are surfaced to callers so the engine can fail
	// fast when session bookkeeping is unavailable.
	Store interface {
		// CreateSession creates (or idempotently returns) an active session.
		// Returns ErrSessionEnded when the session exists but is terminal.
		CreateSession(ctx context.Context, sessionID string, createdAt time.Time) (Session, error)
		// LoadSession loads an existing session. Returns ErrSessionNotFound
		// when the session does not exist.
		LoadSession(ctx context.Context, sessionID string) (Session, error)
		// EndSession ends a session and returns its terminal state. Idempotent.
		EndSession(ctx context.Context, sessionID string, endedAt time.Time) (Session, error)

		// UpsertRun inserts or updates run metadata for a session.
		UpsertRun(ctx context.Context, run RunMeta) error
		// LoadRun loads run metadata. Returns ErrRunNotFound when missing.
		LoadRun(ctx context.Context, runID string) (RunMeta, error)
		// ListRunsBySession lists runs for the given session, optionally
		// filtered to the given statuses.
		ListRunsBySession(ctx context.Context, sessionID string, statuses []RunStatus) ([]RunMeta, error)
	}

	// Status is the lifecycle state of a Session.
	Status string

	// RunStatus is the lifecycle state of a plan run recorded under a
	// session, mirroring the WorkflowEngine's terminal outcomes (§4.13).
	RunStatus string
)

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"

	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

var (
	ErrSessionNotFound = errors.New("session: not found")
	ErrSessionEnded    = errors.New("session: ended")
	ErrRunNotFound     = errors.New("session: run not found")
)

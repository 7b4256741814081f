// Package engine defines the pluggable durable-execution abstraction the
// WorkflowEngine's scheduler loop runs under (§4.13 Supplemented). It lets
// the same deterministic tick loop (package workflow) run either in-process
// (engine/inmem, the default) or on a durable backend (engine/temporal)
// without the scheduler itself knowing which.
package engine

import (
	"context"
	"errors"
	"time"

	"goa.design/taskflow/plan"
	"goa.design/taskflow/workflow"
)

type (
	// Scheduler is the deterministic unit of work an Engine backend runs:
	// workflow.Engine.Run matches this signature exactly, so any
	// workflow.Engine can be handed to an Engine.StartRun call directly.
	Scheduler interface {
		Run(ctx context.Context, sessionID string, pl *plan.Plan) (workflow.Summary, error)
	}

	// Engine starts and tracks runs of a Scheduler. Implementations
	// translate this generic shape into backend-specific primitives: the
	// in-memory backend just launches a goroutine, the Temporal backend
	// schedules a workflow execution.
	Engine interface {
		// StartRun begins running pl under sessionID and returns a handle
		// for interacting with it. req.RunID must be unique for the
		// engine instance.
		StartRun(ctx context.Context, req StartRequest) (RunHandle, error)

		// QueryStatus reports the current lifecycle status of a run
		// started on this engine. Returns ErrRunNotFound if runID is
		// unknown.
		QueryStatus(ctx context.Context, runID string) (RunStatus, error)
	}

	// StartRequest describes a plan run to launch.
	StartRequest struct {
		// RunID uniquely identifies this run within the engine instance.
		RunID string
		// SessionID is the caller-supplied session this run belongs to.
		SessionID string
		// Plan is the plan to execute. Mutated in place by the scheduler
		// as items complete, fail, or get replanned.
		Plan *plan.Plan
	}

	// RunHandle lets callers interact with a started run.
	RunHandle interface {
		// RunID returns the identifier this handle was started with.
		RunID() string
		// Wait blocks until the run reaches a terminal outcome.
		Wait(ctx context.Context) (workflow.Summary, error)
		// Cancel requests cancellation of the run. The scheduler observes
		// ctx cancellation at every suspension point (§5) and unwinds
		// cooperatively; it does not stop instantaneously.
		Cancel(ctx context.Context) error
	}

	// RunStatus is the lifecycle state of a run as tracked by an Engine.
	RunStatus string
)

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// ErrRunNotFound indicates QueryStatus was called with an unknown run ID.
var ErrRunNotFound = errors.New("engine: run not found")

// ErrAlreadyStarted indicates StartRun was called with a run ID already in
// use on this engine instance.
var ErrAlreadyStarted = errors.New("engine: run already started")

// pollInterval is a default interval for waiting by polling rather than on a
// native completion signal. It is unexported and neither engine/inmem nor
// engine/temporal references it.
const pollInterval = 50 * time.Millisecond

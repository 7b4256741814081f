// Package temporal provides an optional, crash-recoverable Engine backend
// using Temporal (§4.13 Supplemented). It runs the same scheduler loop
// (package workflow) that engine/inmem runs in a goroutine, executed instead
// inside an activity on a Temporal worker.
//
// The scheduler's own steps (LLM calls, tool executions) are not
// idempotent-safe to decompose into individually-replayable Temporal
// activities without changing package workflow's semantics, so this adapter
// runs the whole scheduler loop as a single, heartbeating activity invoked
// from a minimal pass-through workflow function. That gives worker-crash
// recovery (Temporal restarts the activity on another worker) without
// requiring the scheduler to be deterministic itself.
package temporal

import (
	"context"
	"errors"
	"fmt"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"goa.design/taskflow/engine"
	"goa.design/taskflow/plan"
	wf "goa.design/taskflow/workflow"
)

const (
	workflowName      = "TaskflowPlanRun"
	activityName      = "RunPlanScheduler"
	heartbeatInterval = 10 * time.Second
	defaultRunTimeout = 30 * time.Minute
)

// Options configures the Temporal engine adapter.
type Options struct {
	// Client is a pre-configured Temporal client. Required.
	Client client.Client
	// TaskQueue is the queue workers poll and workflows/activities are
	// scheduled on. Required.
	TaskQueue string
	// DisableOTEL skips installing the OTEL tracing/metrics interceptor
	// that is wired in by default.
	DisableOTEL bool
}

// Engine implements engine.Engine using Temporal as the durable execution
// backend. One Engine manages one worker on one task queue.
type Engine struct {
	client    client.Client
	taskQueue string
	scheduler engine.Scheduler
	worker    worker.Worker
}

// New constructs a Temporal-backed Engine and registers its workflow and
// activity with a new worker for opts.TaskQueue. Call Start to begin
// polling; Close to shut the worker down.
func New(opts Options, scheduler engine.Scheduler) (*Engine, error) {
	if opts.Client == nil {
		return nil, errors.New("engine/temporal: client is required")
	}
	if opts.TaskQueue == "" {
		return nil, errors.New("engine/temporal: task queue is required")
	}
	if scheduler == nil {
		return nil, errors.New("engine/temporal: scheduler is required")
	}

	workerOpts := worker.Options{}
	if !opts.DisableOTEL {
		interceptor, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{})
		if err != nil {
			return nil, fmt.Errorf("engine/temporal: otel interceptor: %w", err)
		}
		workerOpts.Interceptors = append(workerOpts.Interceptors, interceptor)
	}

	w := worker.New(opts.Client, opts.TaskQueue, workerOpts)
	e := &Engine{client: opts.Client, taskQueue: opts.TaskQueue, scheduler: scheduler, worker: w}

	w.RegisterWorkflowWithOptions(e.runWorkflow, workflow.RegisterOptions{Name: workflowName})
	w.RegisterActivityWithOptions(e.runActivity, activity.RegisterOptions{Name: activityName})

	return e, nil
}

// Start begins polling the task queue. It blocks until ctx is cancelled or
// the worker stops with an error.
func (e *Engine) Start(ctx context.Context) error {
	stop := make(chan interface{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()
	return e.worker.Run(stop)
}

// Close stops the worker.
func (e *Engine) Close() {
	e.worker.Stop()
}

// runArgs is the payload passed from StartRun through Temporal to the
// workflow, and from the workflow to its single activity.
type runArgs struct {
	SessionID string
	Plan      *plan.Plan
}

// runWorkflow is the minimal pass-through workflow function: it schedules
// runActivity with a generous heartbeat timeout and returns its result.
// All real scheduling logic lives in package workflow, run inside the
// activity.
func (e *Engine) runWorkflow(ctx workflow.Context, args runArgs) (wf.Summary, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: defaultRunTimeout,
		HeartbeatTimeout:    heartbeatInterval * 3,
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var summary wf.Summary
	err := workflow.ExecuteActivity(ctx, activityName, args).Get(ctx, &summary)
	return summary, err
}

// runActivity invokes the real scheduler, heartbeating periodically so
// Temporal knows the run is alive across what may be a long-running,
// many-LLM-call plan execution.
func (e *Engine) runActivity(ctx context.Context, args runArgs) (wf.Summary, error) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()

	return e.scheduler.Run(ctx, args.SessionID, args.Plan)
}

// StartRun implements engine.Engine.
func (e *Engine) StartRun(ctx context.Context, req engine.StartRequest) (engine.RunHandle, error) {
	if req.RunID == "" {
		return nil, errors.New("engine/temporal: run id is required")
	}
	if req.Plan == nil {
		return nil, errors.New("engine/temporal: plan is required")
	}

	run, err := e.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        req.RunID,
		TaskQueue: e.taskQueue,
	}, workflowName, runArgs{SessionID: req.SessionID, Plan: req.Plan})
	if err != nil {
		return nil, err
	}

	return &handle{client: e.client, run: run}, nil
}

// QueryStatus implements engine.Engine.
func (e *Engine) QueryStatus(ctx context.Context, runID string) (engine.RunStatus, error) {
	desc, err := e.client.DescribeWorkflowExecution(ctx, runID, "")
	if err != nil {
		return "", engine.ErrRunNotFound
	}
	info := desc.GetWorkflowExecutionInfo()
	if info == nil {
		return "", engine.ErrRunNotFound
	}
	return statusFromTemporal(info.GetStatus()), nil
}

type handle struct {
	client client.Client
	run    client.WorkflowRun
}

func (h *handle) RunID() string { return h.run.GetID() }

func (h *handle) Wait(ctx context.Context) (wf.Summary, error) {
	var summary wf.Summary
	err := h.run.Get(ctx, &summary)
	return summary, err
}

func (h *handle) Cancel(ctx context.Context) error {
	return h.client.CancelWorkflow(ctx, h.run.GetID(), h.run.GetRunID())
}

func statusFromTemporal(status enumspb.WorkflowExecutionStatus) engine.RunStatus {
	switch status {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, enumspb.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW:
		return engine.RunStatusRunning
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return engine.RunStatusCompleted
	case enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		return engine.RunStatusCanceled
	default:
		return engine.RunStatusFailed
	}
}

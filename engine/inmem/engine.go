// Package inmem provides an in-memory, non-durable Engine implementation:
// the default backend, matching spec.md's scheduler description verbatim
// (§4.13 — "Persisted state: None"). Each run is a single goroutine; there
// is no crash recovery.
package inmem

import (
	"context"
	"errors"
	"sync"

	"goa.design/taskflow/engine"
	"goa.design/taskflow/workflow"
)

type (
	// Engine is an in-memory engine.Engine suitable for local development,
	// tests, and single-process deployments.
	Engine struct {
		scheduler engine.Scheduler

		mu       sync.RWMutex
		statuses map[string]engine.RunStatus
	}

	handle struct {
		runID  string
		cancel context.CancelFunc
		done   chan struct{}

		mu     sync.Mutex
		result workflow.Summary
		err    error
	}
)

// New returns an in-memory Engine that runs scheduler.Run for each started
// plan. scheduler is typically a *workflow.Engine.
func New(scheduler engine.Scheduler) *Engine {
	return &Engine{scheduler: scheduler, statuses: make(map[string]engine.RunStatus)}
}

// StartRun implements engine.Engine.
func (e *Engine) StartRun(ctx context.Context, req engine.StartRequest) (engine.RunHandle, error) {
	if req.RunID == "" {
		return nil, errors.New("engine/inmem: run id is required")
	}
	if req.Plan == nil {
		return nil, errors.New("engine/inmem: plan is required")
	}

	e.mu.Lock()
	if _, dup := e.statuses[req.RunID]; dup {
		e.mu.Unlock()
		return nil, engine.ErrAlreadyStarted
	}
	e.statuses[req.RunID] = engine.RunStatusRunning
	e.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	h := &handle{runID: req.RunID, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		summary, err := e.scheduler.Run(runCtx, req.SessionID, req.Plan)

		h.mu.Lock()
		h.result = summary
		h.err = err
		h.mu.Unlock()

		e.mu.Lock()
		switch {
		case errors.Is(err, context.Canceled):
			e.statuses[req.RunID] = engine.RunStatusCanceled
		case err != nil:
			e.statuses[req.RunID] = engine.RunStatusFailed
		default:
			e.statuses[req.RunID] = engine.RunStatusCompleted
		}
		e.mu.Unlock()
	}()

	return h, nil
}

// QueryStatus implements engine.Engine.
func (e *Engine) QueryStatus(_ context.Context, runID string) (engine.RunStatus, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	status, ok := e.statuses[runID]
	if !ok {
		return "", engine.ErrRunNotFound
	}
	return status, nil
}

func (h *handle) RunID() string { return h.runID }

func (h *handle) Wait(ctx context.Context) (workflow.Summary, error) {
	select {
	case <-ctx.Done():
		return workflow.Summary{}, ctx.Err()
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, h.err
	}
}

func (h *handle) Cancel(context.Context) error {
	h.cancel()
	return nil
}

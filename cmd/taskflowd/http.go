package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"goa.design/taskflow/engine"
	engineinmem "goa.design/taskflow/engine/inmem"
	"goa.design/taskflow/events"
	"goa.design/taskflow/moderouter"
	"goa.design/taskflow/plan"
	"goa.design/taskflow/runlog"
	"goa.design/taskflow/session"
)

// server exposes deps over HTTP. One run of the workflow engine corresponds
// to one POST /v1/sessions/{id}/runs call; its events are delivered to
// subsequent GET .../events SSE subscribers via a per-run broadcaster.
type server struct {
	deps   *deps
	logger *slog.Logger

	mu   sync.Mutex
	runs map[string]*runState
}

type runState struct {
	runID       string
	sessionID   string
	engine      engine.Engine
	handle      engine.RunHandle
	broadcaster events.Broadcaster
}

func newServer(d *deps, logger *slog.Logger) *server {
	return &server{deps: d, logger: logger, runs: make(map[string]*runState)}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("POST /v1/sessions/{id}/end", s.handleEndSession)
	mux.HandleFunc("POST /v1/sessions/{id}/runs", s.handleStartRun)
	mux.HandleFunc("GET /v1/runs/{id}", s.handleRunStatus)
	mux.HandleFunc("GET /v1/runs/{id}/events", s.handleRunEvents)
	mux.HandleFunc("POST /v1/runs/{id}/cancel", s.handleCancelRun)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

type createSessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

func (s *server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	sess, err := s.deps.sessions.CreateSession(r.Context(), req.SessionID, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID: sess.ID,
		Status:    string(sess.Status),
		CreatedAt: sess.CreatedAt.Format(time.RFC3339),
	})
}

func (s *server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.deps.sessions.EndSession(r.Context(), id, time.Now().UTC())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, createSessionResponse{SessionID: sess.ID, Status: string(sess.Status)})
}

type startRunRequest struct {
	Request string `json:"request"`
	// Mode optionally forces the plan's execution depth ("standard" or
	// "extended"); left empty, ModeStandard is used. This is independent
	// of the request/chat/introspect/task classification moderouter
	// performs, which always runs first.
	Mode string `json:"mode,omitempty"`
}

type startRunResponse struct {
	RunID      string `json:"run_id"`
	PlanID     string `json:"plan_id"`
	Mode       string `json:"classified_mode"`
	ItemCount  int    `json:"item_count"`
	EventsPath string `json:"events_path"`
}

func (s *server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Request == "" {
		writeError(w, http.StatusBadRequest, errors.New("request is required"))
		return
	}

	if _, err := s.deps.sessions.LoadSession(r.Context(), sessionID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	classification, err := s.deps.moderouter.Classify(r.Context(), req.Request)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	mode := plan.ModeStandard
	if req.Mode == string(plan.ModeExtended) {
		mode = plan.ModeExtended
	}

	var pl *plan.Plan
	if classification.Mode == moderouter.ModeTask {
		pl, err = s.deps.planner.CreatePlan(r.Context(), sessionID, req.Request, mode)
		if err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
	} else {
		// Chat and introspect classifications carry no plan items; the
		// caller still gets a run to observe classification events over.
		pl = plan.New(req.Request, mode, 0)
	}

	broadcaster := events.NewBroadcaster(sessionID, 64, false)
	sink := runlog.Sink{
		Store: s.deps.runlogStore,
		Inner: broadcaster,
		OnAppendError: func(err error, _ events.Event) {
			s.logger.Warn("runlog append failed", "err", err, "run_id", pl.RunID)
		},
	}

	scheduler := s.deps.newScheduler(sink)
	eng := engineinmem.New(scheduler)

	handle, err := eng.StartRun(r.Context(), engine.StartRequest{
		RunID:     pl.RunID,
		SessionID: sessionID,
		Plan:      pl,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	now := time.Now().UTC()
	_ = s.deps.sessions.UpsertRun(r.Context(), session.RunMeta{
		RunID:     pl.RunID,
		SessionID: sessionID,
		Status:    session.RunStatusRunning,
		StartedAt: now,
		UpdatedAt: now,
	})

	s.mu.Lock()
	s.runs[pl.RunID] = &runState{runID: pl.RunID, sessionID: sessionID, engine: eng, handle: handle, broadcaster: broadcaster}
	s.mu.Unlock()

	go s.awaitCompletion(pl.RunID, handle, broadcaster)

	writeJSON(w, http.StatusAccepted, startRunResponse{
		RunID:      pl.RunID,
		PlanID:     pl.ID,
		Mode:       string(classification.Mode),
		ItemCount:  len(pl.Items),
		EventsPath: fmt.Sprintf("/v1/runs/%s/events", pl.RunID),
	})
}

// awaitCompletion waits for a run's terminal outcome, records it in the
// session registry, and closes the run's broadcaster so any still-attached
// SSE subscribers see a clean stream end.
func (s *server) awaitCompletion(runID string, handle engine.RunHandle, broadcaster events.Broadcaster) {
	summary, err := handle.Wait(context.Background())
	defer broadcaster.Close()

	status := session.RunStatusCompleted
	switch {
	case errors.Is(err, context.Canceled):
		status = session.RunStatusCanceled
	case err != nil:
		status = session.RunStatusFailed
	}

	s.mu.Lock()
	rs, ok := s.runs[runID]
	s.mu.Unlock()
	if !ok {
		return
	}

	now := time.Now().UTC()
	_ = s.deps.sessions.UpsertRun(context.Background(), session.RunMeta{
		RunID:     runID,
		SessionID: rs.sessionID,
		Status:    status,
		UpdatedAt: now,
		Metadata: map[string]any{
			"completed":    summary.Completed,
			"total":        summary.Total,
			"success_rate": summary.SuccessRate,
			"duration_ms":  summary.DurationMS,
		},
	})
}

type runStatusResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

func (s *server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	s.mu.Lock()
	rs, ok := s.runs[runID]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, engine.ErrRunNotFound)
		return
	}

	status, err := rs.engine.QueryStatus(r.Context(), runID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, runStatusResponse{RunID: runID, Status: string(status)})
}

func (s *server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	s.mu.Lock()
	rs, ok := s.runs[runID]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, engine.ErrRunNotFound)
		return
	}

	if err := rs.handle.Cancel(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleRunEvents streams a run's events as text/event-stream frames (§6).
// Each frame's "event:" line is the taskflow event Type so a client can
// dispatch on it directly without parsing the JSON payload first.
func (s *server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	s.mu.Lock()
	rs, ok := s.runs[runID]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, engine.ErrRunNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := rs.broadcaster.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub.C():
			if !open {
				fmt.Fprintf(w, "event: %s\ndata: {}\n\n", "mcp_stream_closed")
				flusher.Flush()
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, payload)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrRunNotFound), errors.Is(err, engine.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionEnded):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

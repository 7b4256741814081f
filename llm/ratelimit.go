package llm

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"goa.design/taskflow/errs"
)

// RateLimiter applies an AIMD-adjusted token bucket in front of an llm.Client,
// estimating a request's token cost and blocking until budget is available.
// On a rate-limit error it halves the effective tokens-per-minute budget (down
// to a floor); on success it probes upward by a fixed step (up to a ceiling).
// This mirrors the teacher's AdaptiveRateLimiter, minus the cluster
// replicated-map coordination layer (see DESIGN.md).
type RateLimiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM float64
	minTPM     float64
	maxTPM     float64
	step       float64

	cluster ClusterBudget
}

// ClusterBudget coordinates a tokens-per-minute budget across processes. A
// nil ClusterBudget leaves the limiter process-local.
type ClusterBudget interface {
	// Reserve debits n tokens from the shared budget for the current window,
	// returning the remaining budget and whether the reservation fit.
	Reserve(ctx context.Context, n int) (remaining int, ok bool, err error)
}

// NewRateLimiter constructs a RateLimiter with the given initial and maximum
// tokens-per-minute budget. cluster may be nil for a process-local limiter.
func NewRateLimiter(initialTPM, maxTPM float64, cluster ClusterBudget) *RateLimiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	step := initialTPM * 0.05
	if step < 1 {
		step = 1
	}
	return &RateLimiter{
		limiter:    rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM: initialTPM,
		minTPM:     minTPM,
		maxTPM:     maxTPM,
		step:       step,
		cluster:    cluster,
	}
}

// Wait blocks until n tokens of local budget are available, consulting the
// cluster budget first (when configured) so a process-wide cap is respected
// before the local bucket is drawn down. When the cluster budget is
// exhausted Wait does not block: it returns a KindRateLimit error at once.
func (l *RateLimiter) Wait(ctx context.Context, n int) error {
	if l.cluster != nil {
		_, ok, err := l.cluster.Reserve(ctx, n)
		if err != nil {
			return err
		}
		if !ok {
			return errs.New(errs.KindRateLimit, "cluster token budget exhausted")
		}
	}
	return l.limiter.WaitN(ctx, n)
}

// Observe adjusts the budget after a completion attempt: backs off on a
// rate-limit error, probes upward on success.
func (l *RateLimiter) Observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	if errs.KindOf(err) == errs.KindRateLimit {
		l.backoff()
	}
}

func (l *RateLimiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.currentTPM * 0.5
	if next < l.minTPM {
		next = l.minTPM
	}
	l.setLocked(next)
}

func (l *RateLimiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.currentTPM + l.step
	if next > l.maxTPM {
		next = l.maxTPM
	}
	l.setLocked(next)
}

func (l *RateLimiter) setLocked(tpm float64) {
	if tpm == l.currentTPM {
		return
	}
	l.currentTPM = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60.0))
	l.limiter.SetBurst(int(tpm))
}

// EstimateTokens is a cheap heuristic: ~1 token per 3 characters of message
// content plus a fixed overhead buffer for framing and system prompts.
func EstimateTokens(req Request) int {
	chars := 0
	for _, m := range req.Messages {
		chars += len(m.Content)
	}
	if chars <= 0 {
		return 500
	}
	tokens := chars / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}

// ErrStreamingUnsupported reports that a client offers no streaming. Client
// defines only Complete, and no code in this module returns this error.
var ErrStreamingUnsupported = errors.New("llm: streaming is not supported by this client")

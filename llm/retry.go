package llm

import (
	"context"
	"time"

	"goa.design/taskflow/clock"
	"goa.design/taskflow/errs"
)

// RetryPolicy bounds how many attempts HTTPClient.Complete makes per call and
// the backoff schedule for each recognized error kind (§4.4, §7). Rate-limit
// errors back off more conservatively than transient transport/server
// errors since they signal a provider-side quota rather than a blip.
type RetryPolicy struct {
	MaxAttempts int

	RateLimitBase time.Duration
	RateLimitCap  time.Duration

	TransportBase time.Duration
	TransportCap  time.Duration

	// FallbackAfter is the attempt count (1-indexed) after which Complete
	// switches to HTTPOptions.FallbackModel, if one is configured, for the
	// remaining attempts.
	FallbackAfter int
}

// DefaultRetryPolicy returns the §4.4 schedule: 3 attempts, exponential
// backoff from 10s (cap 60s) for rate limits and from 1s (cap 10s) for
// transport/server errors, switching to the fallback model after 2 failed
// attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		RateLimitBase: 10 * time.Second,
		RateLimitCap:  60 * time.Second,
		TransportBase: 1 * time.Second,
		TransportCap:  10 * time.Second,
		FallbackAfter: 2,
	}
}

// backoff returns the delay before attempt (1-indexed) number `attempt+1`,
// doubling from base and clamped to cap.
func backoff(base, ceiling time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	if d > ceiling {
		d = ceiling
	}
	return d
}

// delayFor returns the backoff duration for the given error kind and attempt
// number (1-indexed, the attempt that just failed).
func (p RetryPolicy) delayFor(kind errs.Kind, attempt int) time.Duration {
	switch kind {
	case errs.KindRateLimit:
		return backoff(p.RateLimitBase, p.RateLimitCap, attempt)
	default:
		return backoff(p.TransportBase, p.TransportCap, attempt)
	}
}

// isRetryable reports whether kind warrants another attempt under this
// policy (rate-limit and transport errors only; parse/validation errors are
// not retried by LLMClient since a different prompt, not time, is what would
// fix them).
func isRetryable(kind errs.Kind) bool {
	return kind == errs.KindRateLimit || kind == errs.KindTransport
}

// withRetry runs call up to policy.MaxAttempts times, sleeping per the
// policy's backoff schedule between retryable failures and switching to
// fallbackModel (when non-empty) once policy.FallbackAfter attempts have
// failed. call receives the model identifier to use for that attempt.
func withRetry(ctx context.Context, clk clock.Clock, policy RetryPolicy, model, fallbackModel string, call func(ctx context.Context, model string) (Response, error)) (Response, error) {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	activeModel := model
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if fallbackModel != "" && attempt > policy.FallbackAfter {
			activeModel = fallbackModel
		}
		resp, err := call(ctx, activeModel)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		kind := errs.KindOf(err)
		if !isRetryable(kind) || attempt == policy.MaxAttempts {
			break
		}
		delay := policy.delayFor(kind, attempt)
		if sleepErr := clk.Sleep(ctx, delay); sleepErr != nil {
			return Response{}, sleepErr
		}
	}
	return Response{}, lastErr
}

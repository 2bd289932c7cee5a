package queue

import (
	"context"
	"fmt"
	"slices"
	"time"

	"tether/internal/logging"
)

// SkipReason explains why a drain call did not run a pass.
type SkipReason string

const (
	SkipBusy    SkipReason = "busy"
	SkipEmpty   SkipReason = "empty"
	SkipOffline SkipReason = "offline"
)

// DrainResult summarizes one drain call.
type DrainResult struct {
	Skipped   SkipReason
	Attempted int
	Delivered int
	Failed    int
	Evicted   int
	Duration  time.Duration
}

// Ran reports whether the call executed a pass.
func (r DrainResult) Ran() bool {
	return r.Skipped == ""
}

// Drain attempts every request queued when the pass starts, one at a time in
// priority order. Successes are removed; failures increment the retry count
// and are evicted at the ceiling. Each outcome is persisted and announced
// before the next request runs. A failure never stops the pass.
//
// Only one drain runs at a time: a call made while another is in progress
// returns immediately with SkipBusy. Requests enqueued during a pass wait for
// the next trigger. Cancelling ctx stops the pass before its next request.
func (e *Engine) Drain(ctx context.Context) DrainResult {
	if !e.draining.CompareAndSwap(false, true) {
		return DrainResult{Skipped: SkipBusy}
	}
	defer e.draining.Store(false)

	if ctx == nil {
		ctx = context.Background()
	}

	snapshot := e.Snapshot()
	if len(snapshot) == 0 {
		return DrainResult{Skipped: SkipEmpty}
	}
	if !e.monitor.Online() {
		e.logger.Debug("drain skipped; network offline", logging.Int("pending", len(snapshot)))
		return DrainResult{Skipped: SkipOffline}
	}

	start := e.now()
	e.logger.Info("drain started",
		logging.String(logging.FieldEventType, "drain_started"),
		logging.Int("pending", len(snapshot)),
	)

	var result DrainResult
	for _, req := range snapshot {
		if err := ctx.Err(); err != nil {
			e.logger.Info("drain interrupted",
				logging.String(logging.FieldEventType, "drain_interrupted"),
				logging.Error(err),
				logging.Int("remaining", len(snapshot)-result.Attempted),
			)
			break
		}
		result.Attempted++
		err := e.execute(ctx, req)
		if err == nil {
			result.Delivered++
			e.recordDelivery(ctx, req)
			continue
		}
		result.Failed++
		if e.recordFailure(ctx, req, err) {
			result.Evicted++
		}
	}
	result.Duration = e.now().Sub(start)

	e.logger.Info("drain completed",
		logging.String(logging.FieldEventType, "drain_completed"),
		logging.Int("attempted", result.Attempted),
		logging.Int("delivered", result.Delivered),
		logging.Int("failed", result.Failed),
		logging.Int("evicted", result.Evicted),
		logging.Duration("duration", result.Duration),
	)
	return result
}

// execute runs the executor for one request, converting a panic into a failure.
func (e *Engine) execute(ctx context.Context, req Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return e.executor.Execute(ctx, req.Clone())
}

func (e *Engine) recordDelivery(ctx context.Context, req Request) {
	e.mutate(ctx, func(items []Request) ([]Request, bool) {
		idx := indexOf(items, req.ID)
		if idx < 0 {
			return items, false
		}
		return slices.Delete(items, idx, idx+1), true
	})
	e.logger.Info("request delivered",
		logging.String(logging.FieldEventType, "request_delivered"),
		logging.String(logging.FieldRequestID, req.ID),
		logging.String(logging.FieldMethod, string(req.Method)),
		logging.String(logging.FieldResource, req.Resource),
	)
}

// recordFailure bumps the retry count of the live request and evicts it at
// the ceiling. It reports whether the request was evicted. A request removed
// while its call was in flight is left alone.
func (e *Engine) recordFailure(ctx context.Context, req Request, execErr error) bool {
	var (
		eviction *Eviction
		attempts int
	)
	found := e.mutate(ctx, func(items []Request) ([]Request, bool) {
		idx := indexOf(items, req.ID)
		if idx < 0 {
			return items, false
		}
		items[idx].RetryCount++
		attempts = items[idx].RetryCount

		var reason EvictionReason
		switch {
		case e.evictTerminal && IsTerminal(execErr):
			reason = EvictionTerminal
		case items[idx].RetryCount >= e.maxRetries:
			reason = EvictionRetryExhausted
		default:
			return items, true
		}
		eviction = &Eviction{
			Request:   items[idx].Clone(),
			Reason:    reason,
			LastError: execErr.Error(),
			EvictedAt: e.now().UTC(),
		}
		return slices.Delete(items, idx, idx+1), true
	})
	if !found {
		e.logger.Debug("failed request no longer queued", logging.String(logging.FieldRequestID, req.ID))
		return false
	}

	if eviction == nil {
		e.logger.Warn("request failed; will retry",
			logging.Error(execErr),
			logging.String(logging.FieldRequestID, req.ID),
			logging.String(logging.FieldResource, req.Resource),
			logging.Int("attempts", attempts),
			logging.Int("max_retries", e.maxRetries),
			logging.String(logging.FieldEventType, "request_failed"),
			logging.String(logging.FieldErrorHint, "the request is retried on the next drain"),
			logging.String(logging.FieldImpact, "delivery delayed"),
		)
		return false
	}

	logging.WarnWithContext(e.logger, "request evicted", "request_evicted",
		logging.Error(execErr),
		logging.String(logging.FieldRequestID, req.ID),
		logging.String(logging.FieldMethod, string(req.Method)),
		logging.String(logging.FieldResource, req.Resource),
		logging.String("reason", string(eviction.Reason)),
		logging.Int("attempts", attempts),
		logging.String(logging.FieldErrorHint, "re-submit the request once the upstream accepts it"),
		logging.String(logging.FieldImpact, "request dropped permanently"),
	)
	e.notifyEviction(*eviction)
	return true
}

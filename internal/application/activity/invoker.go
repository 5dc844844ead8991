package activity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/garyjia/leave-approval/internal/application/port"
	"github.com/garyjia/leave-approval/internal/domain/event"
	"github.com/garyjia/leave-approval/pkg/tracing"
)

// ErrExhausted is returned when an activity kept failing until its retry budget ran out.
// The failure is recorded in the log; it never aborts the workflow.
var ErrExhausted = errors.New("activity retries exhausted")

// ErrSuperseded is the cancel cause a caller sets when the workflow no longer needs an
// occurrence. The remaining retries are dropped and the occurrence is recorded as failed.
var ErrSuperseded = errors.New("activity superseded")

// Journal is the slice of an instance the invoker needs: dedup lookups and durable recording
type Journal interface {
	InstanceID() string
	ActivityDone(name event.ActivityName, seq int) bool
	RecordActivity(ctx context.Context, evt *event.Event) error
}

// Policy is the retry schedule applied to every invocation
type Policy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxAttempts caps the total number of calls; zero leaves only the time budget
	MaxAttempts uint64
}

// DefaultPolicy returns 1s exponential backoff capped at 5m with no attempt cap
func DefaultPolicy() Policy {
	return Policy{
		InitialBackoff: time.Second,
		MaxBackoff:     5 * time.Minute,
	}
}

func (p Policy) backoff(budget time.Duration) retry.Backoff {
	b := retry.NewExponential(p.InitialBackoff)
	if p.MaxBackoff > 0 {
		b = retry.WithCappedDuration(p.MaxBackoff, b)
	}
	if p.MaxAttempts > 0 {
		b = retry.WithMaxRetries(p.MaxAttempts-1, b)
	}
	if budget > 0 {
		b = retry.WithMaxDuration(budget, b)
	}
	return b
}

// Invoker runs notification activities at least once and at most once per logged occurrence
type Invoker struct {
	policy Policy
	clock  clockwork.Clock
	logger *zap.Logger
}

// NewInvoker creates an invoker. The clock stamps recorded events.
func NewInvoker(policy Policy, clock clockwork.Clock, logger *zap.Logger) *Invoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Invoker{policy: policy, clock: clock, logger: logger}
}

// Key identifies one logical activity occurrence of an instance
func Key(instanceID string, name event.ActivityName, seq int) string {
	return fmt.Sprintf("%s/%s/%d", instanceID, name, seq)
}

// Invoke calls fn for the occurrence (name, seq) unless the journal already holds a
// completion or final failure for it. Success is recorded as ActivityCompleted. When
// the budget runs out, or ctx is cancelled with ErrSuperseded, ActivityFailed is recorded
// and ErrExhausted returned. Any other error (cancelled ctx, failed append) is fatal for
// the caller.
func (inv *Invoker) Invoke(ctx context.Context, j Journal, name event.ActivityName, seq int, budget time.Duration, fn func(ctx context.Context) error) error {
	instanceID := j.InstanceID()
	log := inv.logger.With(
		zap.String("instance_id", instanceID),
		zap.String("activity", name.String()),
		zap.Int("sequence", seq))

	if j.ActivityDone(name, seq) {
		log.Debug("Activity already recorded, skipping")
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "activity."+name.String(), map[string]string{
		"instance_id": instanceID,
		"sequence":    fmt.Sprint(seq),
	})

	callCtx := port.WithIdempotencyKey(ctx, Key(instanceID, name, seq))
	attempts := 0
	var lastErr error
	err := retry.Do(ctx, inv.policy.backoff(budget), func(ctx context.Context) error {
		attempts++
		if err := fn(callCtx); err != nil {
			lastErr = err
			log.Warn("Activity attempt failed", zap.Int("attempt", attempts), zap.Error(err))
			return retry.RetryableError(err)
		}
		return nil
	})

	superseded := errors.Is(context.Cause(ctx), ErrSuperseded)
	if superseded {
		ctx = context.WithoutCancel(ctx)
	}

	if err == nil {
		tracing.EndSpan(span, nil)
		log.Info("Activity completed", zap.Int("attempts", attempts))
		return j.RecordActivity(ctx, event.NewActivityCompleted(instanceID, name, seq, inv.clock.Now().UTC()))
	}

	if ctx.Err() != nil {
		tracing.EndSpan(span, ctx.Err())
		return ctx.Err()
	}
	if superseded {
		if lastErr == nil {
			lastErr = ErrSuperseded
		} else {
			lastErr = fmt.Errorf("%w: %v", ErrSuperseded, lastErr)
		}
	}

	tracing.EndSpan(span, lastErr)
	log.Error("Activity failed after retries", zap.Int("attempts", attempts), zap.Error(lastErr))
	if rerr := j.RecordActivity(ctx, event.NewActivityFailed(instanceID, name, seq, lastErr, inv.clock.Now().UTC())); rerr != nil {
		return rerr
	}
	return fmt.Errorf("%w: %s after %d attempts: %v", ErrExhausted, name, attempts, lastErr)
}

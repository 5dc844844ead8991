package activity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/leave-approval/internal/application/port"
	"github.com/garyjia/leave-approval/internal/domain/event"
)

type fakeJournal struct {
	mu        sync.Mutex
	done      map[string]bool
	recorded  []*event.Event
	recordErr error
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{done: make(map[string]bool)}
}

func (j *fakeJournal) InstanceID() string { return "leave-001" }

func (j *fakeJournal) ActivityDone(name event.ActivityName, seq int) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.done[Key("leave-001", name, seq)]
}

func (j *fakeJournal) RecordActivity(ctx context.Context, evt *event.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.recordErr != nil {
		return j.recordErr
	}
	j.recorded = append(j.recorded, evt)
	j.done[Key("leave-001", evt.Activity.Name, evt.Activity.Sequence)] = true
	return nil
}

func fastPolicy(attempts uint64) Policy {
	return Policy{InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, MaxAttempts: attempts}
}

func newTestInvoker(p Policy) *Invoker {
	return NewInvoker(p, clockwork.NewFakeClockAt(time.Date(2024, 12, 1, 9, 0, 0, 0, time.UTC)), zap.NewNop())
}

// flaky fails the first n calls
func flaky(n int, calls *int) func(context.Context) error {
	return func(ctx context.Context) error {
		*calls++
		if *calls <= n {
			return errors.New("smtp unavailable")
		}
		return nil
	}
}

func TestInvoke_SucceedsAfterTransientFailures(t *testing.T) {
	j := newFakeJournal()
	calls := 0

	err := newTestInvoker(fastPolicy(5)).Invoke(context.Background(), j, event.ActivityNotifyApprover, 0, time.Hour, flaky(2, &calls))
	require.NoError(t, err)

	assert.Equal(t, 3, calls)
	require.Len(t, j.recorded, 1)
	assert.Equal(t, event.TypeActivityCompleted, j.recorded[0].Type)
	assert.Equal(t, event.ActivityNotifyApprover, j.recorded[0].Activity.Name)
}

func TestInvoke_ExhaustedIsRecordedAndNonFatal(t *testing.T) {
	j := newFakeJournal()
	calls := 0

	err := newTestInvoker(fastPolicy(3)).Invoke(context.Background(), j, event.ActivitySendReminder, 2, time.Hour, flaky(100, &calls))
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.Equal(t, 3, calls)

	require.Len(t, j.recorded, 1)
	failed := j.recorded[0]
	assert.Equal(t, event.TypeActivityFailed, failed.Type)
	assert.Equal(t, 2, failed.Activity.Sequence)
	assert.Equal(t, "smtp unavailable", failed.Activity.Error)
}

func TestInvoke_BudgetBoundsRetries(t *testing.T) {
	j := newFakeJournal()
	calls := 0

	start := time.Now()
	err := newTestInvoker(fastPolicy(0)).Invoke(context.Background(), j, event.ActivityNotifyEmployee, 0, 20*time.Millisecond, flaky(1<<30, &calls))
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Greater(t, calls, 1)
}

func TestInvoke_SkipsRecordedOccurrence(t *testing.T) {
	j := newFakeJournal()
	j.done[Key("leave-001", event.ActivitySendReminder, 1)] = true
	calls := 0

	err := newTestInvoker(fastPolicy(3)).Invoke(context.Background(), j, event.ActivitySendReminder, 1, time.Hour, flaky(0, &calls))
	require.NoError(t, err)
	assert.Zero(t, calls)
	assert.Empty(t, j.recorded)

	// a different occurrence of the same activity still runs
	err = newTestInvoker(fastPolicy(3)).Invoke(context.Background(), j, event.ActivitySendReminder, 2, time.Hour, flaky(0, &calls))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestInvoke_PassesIdempotencyKey(t *testing.T) {
	j := newFakeJournal()
	var got string

	err := newTestInvoker(fastPolicy(1)).Invoke(context.Background(), j, event.ActivitySendReminder, 2, time.Hour, func(ctx context.Context) error {
		got, _ = port.IdempotencyKey(ctx)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "leave-001/sendReminder/2", got)
}

func TestInvoke_CancelledContextIsFatal(t *testing.T) {
	j := newFakeJournal()
	ctx, cancel := context.WithCancel(context.Background())

	err := newTestInvoker(Policy{InitialBackoff: time.Hour}).Invoke(ctx, j, event.ActivityNotifyApprover, 0, 0, func(context.Context) error {
		cancel()
		return errors.New("connection reset")
	})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, ErrExhausted))
	assert.Empty(t, j.recorded)
}

func TestInvoke_RecordFailureIsFatal(t *testing.T) {
	j := newFakeJournal()
	j.recordErr = errors.New("disk full")

	err := newTestInvoker(fastPolicy(1)).Invoke(context.Background(), j, event.ActivityNotifyApprover, 0, time.Hour, func(context.Context) error {
		return nil
	})
	assert.EqualError(t, err, "disk full")
}

func TestInvoke_SupersededIsRecordedAsFailed(t *testing.T) {
	j := newFakeJournal()
	ctx, cancel := context.WithCancelCause(context.Background())

	err := newTestInvoker(Policy{InitialBackoff: time.Hour}).Invoke(ctx, j, event.ActivitySendReminder, 1, 0, func(context.Context) error {
		cancel(ErrSuperseded)
		return errors.New("mailbox full")
	})
	assert.True(t, errors.Is(err, ErrExhausted))

	require.Len(t, j.recorded, 1)
	failed := j.recorded[0]
	assert.Equal(t, event.TypeActivityFailed, failed.Type)
	assert.Equal(t, 1, failed.Activity.Sequence)
	assert.Contains(t, failed.Activity.Error, "mailbox full")
	assert.Contains(t, failed.Activity.Error, ErrSuperseded.Error())
}

func TestInvoke_SupersededBeforeFirstAttempt(t *testing.T) {
	j := newFakeJournal()
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(ErrSuperseded)
	calls := 0

	err := newTestInvoker(fastPolicy(0)).Invoke(ctx, j, event.ActivitySendReminder, 1, time.Hour, flaky(0, &calls))
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.Zero(t, calls)
	require.Len(t, j.recorded, 1)
	assert.Equal(t, ErrSuperseded.Error(), j.recorded[0].Activity.Error)
}

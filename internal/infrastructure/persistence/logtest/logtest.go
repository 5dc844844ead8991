// Package logtest holds the behaviour every port.EventLog implementation must share
package logtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/leave-approval/internal/application/port"
	"github.com/garyjia/leave-approval/internal/domain/event"
	"github.com/garyjia/leave-approval/internal/domain/leave"
)

var base = time.Date(2024, 12, 1, 9, 0, 0, 0, time.UTC)

// Request returns a valid request with the given id
func Request(id string) leave.Request {
	return leave.Request{
		RequestID:     id,
		EmployeeName:  "Yamada Taro",
		EmployeeEmail: "yamada@example.com",
		StartDate:     "2024-12-20",
		EndDate:       "2024-12-25",
		Reason:        "Year-end holidays",
		ApproverEmail: "manager@example.com",
	}
}

func started(id string, at time.Time) *event.Event {
	e := event.NewStarted(id, Request(id), at, leave.DefaultTiming())
	e.Sequence = 1
	return e
}

func at(e *event.Event, seq int64) *event.Event {
	e.Sequence = seq
	return e
}

// Run exercises the EventLog contract against logs produced by newLog
func Run(t *testing.T, newLog func(t *testing.T) port.EventLog) {
	ctx := context.Background()

	t.Run("append and load in order", func(t *testing.T) {
		log := newLog(t)
		require.NoError(t, log.Append(ctx, started("leave-001", base)))
		require.NoError(t, log.Append(ctx, at(event.NewActivityCompleted("leave-001", event.ActivityNotifyApprover, 0, base.Add(time.Second)), 2)))
		require.NoError(t, log.Append(ctx, at(event.NewReminderSent("leave-001", 1, base.Add(24*time.Hour)), 3)))
		require.NoError(t, log.Append(ctx, at(event.NewTimedOut("leave-001", base.Add(72*time.Hour)), 4)))

		events, err := log.Load(ctx, "leave-001")
		require.NoError(t, err)
		require.Len(t, events, 4)
		for i, e := range events {
			assert.Equal(t, int64(i+1), e.Sequence)
		}
		assert.Equal(t, event.TypeStarted, events[0].Type)
		assert.Equal(t, Request("leave-001"), events[0].Started.Request)
		assert.True(t, base.Equal(events[0].Started.SubmittedAt))
		assert.Equal(t, leave.DefaultTiming(), events[0].Started.Timing)
		assert.Equal(t, event.ActivityNotifyApprover, events[1].Activity.Name)
		assert.Equal(t, 1, events[2].Reminder.Sequence)
		assert.Equal(t, event.TypeTimedOut, events[3].Type)
		assert.NoError(t, event.VerifyChain(events))
	})

	t.Run("append sets hash chain on caller event", func(t *testing.T) {
		log := newLog(t)
		first := started("leave-001", base)
		require.NoError(t, log.Append(ctx, first))
		second := at(event.NewTimedOut("leave-001", base), 2)
		require.NoError(t, log.Append(ctx, second))

		assert.Equal(t, event.GenesisHash, first.PrevHash)
		assert.Equal(t, first.Hash, second.PrevHash)
		assert.NotEmpty(t, second.Hash)
	})

	t.Run("duplicate started", func(t *testing.T) {
		log := newLog(t)
		require.NoError(t, log.Append(ctx, started("leave-001", base)))
		err := log.Append(ctx, started("leave-001", base))
		assert.True(t, errors.Is(err, leave.ErrAlreadyExists))
	})

	t.Run("sequence gap and replay are conflicts", func(t *testing.T) {
		log := newLog(t)
		require.NoError(t, log.Append(ctx, started("leave-001", base)))

		err := log.Append(ctx, at(event.NewTimedOut("leave-001", base), 3))
		assert.True(t, errors.Is(err, port.ErrSequenceConflict))

		require.NoError(t, log.Append(ctx, at(event.NewTimedOut("leave-001", base), 2)))
		err = log.Append(ctx, at(event.NewReminderSent("leave-001", 1, base), 2))
		assert.True(t, errors.Is(err, port.ErrSequenceConflict))
	})

	t.Run("unknown instance", func(t *testing.T) {
		log := newLog(t)
		err := log.Append(ctx, at(event.NewTimedOut("ghost", base), 2))
		assert.True(t, errors.Is(err, leave.ErrNotFound))

		_, err = log.Load(ctx, "ghost")
		assert.True(t, errors.Is(err, leave.ErrNotFound))

		_, err = log.Get(ctx, "ghost")
		assert.True(t, errors.Is(err, leave.ErrNotFound))

		exists, err := log.Exists(ctx, "ghost")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("completion tracked in index", func(t *testing.T) {
		log := newLog(t)
		require.NoError(t, log.Append(ctx, started("leave-001", base)))
		cancel := at(event.NewSignalApplied("leave-001", leave.CancelSignal("personal"), base), 2)
		cancel.Signal.ResultingStatus = leave.StatusCancelled
		cancel.Signal.Applied = true
		require.NoError(t, log.Append(ctx, cancel))

		info, err := log.Get(ctx, "leave-001")
		require.NoError(t, err)
		assert.Nil(t, info.CompletedAt)
		assert.Equal(t, int64(2), info.LastSeq)

		result := leave.Result{RequestID: "leave-001", Status: leave.StatusCancelled, CancelReason: "personal", CompletedAt: base.Add(time.Minute)}
		require.NoError(t, log.Append(ctx, at(event.NewCompleted("leave-001", result, base.Add(time.Minute)), 3)))

		info, err = log.Get(ctx, "leave-001")
		require.NoError(t, err)
		require.NotNil(t, info.CompletedAt)
		assert.True(t, base.Add(time.Minute).Equal(*info.CompletedAt))

		events, err := log.Load(ctx, "leave-001")
		require.NoError(t, err)
		assert.Equal(t, "personal", events[1].Signal.Signal.CancelReason)
		assert.Equal(t, leave.StatusCancelled, events[2].Completed.Result.Status)
	})

	t.Run("list and archive", func(t *testing.T) {
		log := newLog(t)
		require.NoError(t, log.Append(ctx, started("leave-002", base.Add(time.Minute))))
		require.NoError(t, log.Append(ctx, started("leave-001", base)))

		list, err := log.ListInstances(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "leave-001", list[0].InstanceID)
		assert.Equal(t, "leave-002", list[1].InstanceID)

		require.NoError(t, log.Archive(ctx, "leave-001", base.Add(time.Hour)))
		assert.True(t, errors.Is(log.Archive(ctx, "leave-001", base), leave.ErrNotFound))

		list, err = log.ListInstances(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "leave-002", list[0].InstanceID)

		info, err := log.Get(ctx, "leave-001")
		require.NoError(t, err)
		require.NotNil(t, info.ArchivedAt)

		exists, err := log.Exists(ctx, "leave-001")
		require.NoError(t, err)
		assert.True(t, exists, "archived ids still collide")
		assert.True(t, errors.Is(log.Append(ctx, started("leave-001", base)), leave.ErrAlreadyExists))
	})

	t.Run("concurrent appends to different instances", func(t *testing.T) {
		log := newLog(t)
		var wg sync.WaitGroup
		errs := make(chan error, 40)
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				id := fmt.Sprintf("leave-%03d", n)
				if err := log.Append(ctx, started(id, base)); err != nil {
					errs <- err
					return
				}
				for seq := int64(2); seq <= 10; seq++ {
					if err := log.Append(ctx, at(event.NewActivityCompleted(id, event.ActivitySendReminder, int(seq), base), seq)); err != nil {
						errs <- err
						return
					}
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		for i := 0; i < 4; i++ {
			events, err := log.Load(ctx, fmt.Sprintf("leave-%03d", i))
			require.NoError(t, err)
			assert.Len(t, events, 10)
			assert.NoError(t, event.VerifyChain(events))
		}
	})
}

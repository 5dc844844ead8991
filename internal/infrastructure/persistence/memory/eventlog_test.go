package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/leave-approval/internal/application/port"
	"github.com/garyjia/leave-approval/internal/domain/event"
	"github.com/garyjia/leave-approval/internal/domain/leave"
	"github.com/garyjia/leave-approval/internal/infrastructure/persistence/logtest"
)

func TestEventLog_Contract(t *testing.T) {
	logtest.Run(t, func(t *testing.T) port.EventLog { return NewEventLog() })
}

func TestEventLog_LoadReturnsCopies(t *testing.T) {
	ctx := context.Background()
	log := NewEventLog()
	e := event.NewStarted("leave-001", logtest.Request("leave-001"), time.Now(), leave.DefaultTiming())
	e.Sequence = 1
	require.NoError(t, log.Append(ctx, e))

	loaded, err := log.Load(ctx, "leave-001")
	require.NoError(t, err)
	loaded[0].Started.Request.Reason = "tampered"

	again, err := log.Load(ctx, "leave-001")
	require.NoError(t, err)
	assert.Equal(t, "Year-end holidays", again[0].Started.Request.Reason)
}

func TestEventLog_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := event.NewStarted("leave-001", logtest.Request("leave-001"), time.Now(), leave.DefaultTiming())
	e.Sequence = 1
	assert.ErrorIs(t, NewEventLog().Append(ctx, e), context.Canceled)
}

package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/leave-approval/internal/application/port"
	"github.com/garyjia/leave-approval/internal/domain/event"
	"github.com/garyjia/leave-approval/internal/domain/leave"
	"github.com/garyjia/leave-approval/internal/infrastructure/persistence/logtest"
	"github.com/garyjia/leave-approval/migrations"
	"github.com/garyjia/leave-approval/pkg/database"
)

func openDB(t *testing.T, path string) *database.DB {
	t.Helper()
	ctx := context.Background()
	db, err := database.New(ctx, database.Config{Path: path, MaxOpenConns: 4}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, database.NewMigrator(db, zap.NewNop()).Run(ctx, migrations.FS))
	return db
}

func newTestLog(t *testing.T) *EventLog {
	t.Helper()
	db := openDB(t, filepath.Join(t.TempDir(), "events.db"))
	t.Cleanup(func() { db.Close() })
	return NewEventLog(NewDB(db.DB, zap.NewNop()), zap.NewNop())
}

func TestEventLog_Contract(t *testing.T) {
	logtest.Run(t, func(t *testing.T) port.EventLog { return newTestLog(t) })
}

func TestEventLog_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")
	submitted := time.Date(2024, 12, 1, 9, 0, 0, 123456789, time.UTC)

	db := openDB(t, path)
	log := NewEventLog(NewDB(db.DB, nil), nil)
	e := event.NewStarted("leave-001", logtest.Request("leave-001"), submitted, leave.DefaultTiming())
	e.Sequence = 1
	require.NoError(t, log.Append(ctx, e))
	require.NoError(t, db.Close())

	db = openDB(t, path)
	defer db.Close()
	events, err := NewEventLog(NewDB(db.DB, nil), nil).Load(ctx, "leave-001")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, submitted.Equal(events[0].RecordedAt))
	assert.True(t, submitted.Equal(events[0].Started.SubmittedAt))
	assert.NoError(t, event.VerifyChain(events))
}

func TestEventLog_FailedAppendLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	log := newTestLog(t)
	e := event.NewStarted("leave-001", logtest.Request("leave-001"), time.Now(), leave.DefaultTiming())
	e.Sequence = 1
	require.NoError(t, log.Append(ctx, e))

	// force the event insert to fail after the instance row was read
	_, err := log.db.ExecContext(ctx, `CREATE TRIGGER reject_reminders BEFORE INSERT ON workflow_events
		WHEN NEW.event_type = 'reminder.sent' BEGIN SELECT RAISE(ABORT, 'rejected'); END`)
	require.NoError(t, err)

	r := event.NewReminderSent("leave-001", 1, time.Now())
	r.Sequence = 2
	require.Error(t, log.Append(ctx, r))

	info, err := log.Get(ctx, "leave-001")
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.LastSeq)
}

func TestWithTransaction_JoinsOuterTransaction(t *testing.T) {
	ctx := context.Background()
	log := newTestLog(t)

	err := log.db.WithTransaction(ctx, func(ctx context.Context) error {
		outer := extractTx(ctx)
		require.NotNil(t, outer)
		return log.db.WithTransaction(ctx, func(inner context.Context) error {
			assert.Same(t, outer, extractTx(inner))
			return sql.ErrTxDone
		})
	})
	assert.ErrorIs(t, err, sql.ErrTxDone)
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/garyjia/leave-approval/internal/application/port"
	"github.com/garyjia/leave-approval/internal/domain/event"
	"github.com/garyjia/leave-approval/internal/domain/leave"
)

// EventLog stores instance logs in SQLite. Each append is one transaction that checks
// contiguity, chains the hash, inserts the event and advances the instance index.
type EventLog struct {
	db     *DB
	logger *zap.Logger
}

// NewEventLog creates a SQLite-backed event log over a migrated database
func NewEventLog(db *DB, logger *zap.Logger) *EventLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventLog{db: db, logger: logger}
}

func (l *EventLog) Append(ctx context.Context, evt *event.Event) error {
	payload, err := evt.MarshalPayload()
	if err != nil {
		return err
	}

	err = l.db.WithTransaction(ctx, func(ctx context.Context) error {
		exec := l.db.getExecutor(ctx)

		var lastSeq int64
		err := exec.QueryRowContext(ctx,
			`SELECT last_seq FROM workflow_instances WHERE instance_id = ?`, evt.InstanceID).Scan(&lastSeq)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if evt.Type != event.TypeStarted {
				return fmt.Errorf("%w: %s", leave.ErrNotFound, evt.InstanceID)
			}
			if _, err := exec.ExecContext(ctx,
				`INSERT INTO workflow_instances (instance_id, created_at, last_seq) VALUES (?, ?, 0)`,
				evt.InstanceID, evt.RecordedAt.UTC()); err != nil {
				return fmt.Errorf("failed to insert instance: %w", err)
			}
		case err != nil:
			return fmt.Errorf("failed to read instance: %w", err)
		case evt.Type == event.TypeStarted:
			return fmt.Errorf("%w: %s", leave.ErrAlreadyExists, evt.InstanceID)
		}

		if evt.Sequence != lastSeq+1 {
			return fmt.Errorf("%w: %s expected %d, got %d", port.ErrSequenceConflict, evt.InstanceID, lastSeq+1, evt.Sequence)
		}

		prev := event.GenesisHash
		if lastSeq > 0 {
			if err := exec.QueryRowContext(ctx,
				`SELECT hash FROM workflow_events WHERE instance_id = ? AND sequence = ?`,
				evt.InstanceID, lastSeq).Scan(&prev); err != nil {
				return fmt.Errorf("failed to read previous hash: %w", err)
			}
		}
		if err := event.Seal(prev, evt); err != nil {
			return err
		}

		if _, err := exec.ExecContext(ctx, `
			INSERT INTO workflow_events (id, instance_id, sequence, event_type, payload, recorded_at, prev_hash, hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			evt.ID, evt.InstanceID, evt.Sequence, string(evt.Type), string(payload),
			evt.RecordedAt.UTC(), evt.PrevHash, evt.Hash); err != nil {
			if isConstraint(err) {
				return fmt.Errorf("%w: %s sequence %d: %v", port.ErrSequenceConflict, evt.InstanceID, evt.Sequence, err)
			}
			return fmt.Errorf("failed to insert event: %w", err)
		}

		if evt.Type == event.TypeCompleted {
			_, err = exec.ExecContext(ctx,
				`UPDATE workflow_instances SET last_seq = ?, completed_at = ? WHERE instance_id = ?`,
				evt.Sequence, evt.RecordedAt.UTC(), evt.InstanceID)
		} else {
			_, err = exec.ExecContext(ctx,
				`UPDATE workflow_instances SET last_seq = ? WHERE instance_id = ?`,
				evt.Sequence, evt.InstanceID)
		}
		if err != nil {
			return fmt.Errorf("failed to advance instance: %w", err)
		}
		return nil
	})
	if err != nil {
		l.logger.Debug("Append failed",
			zap.String("instance_id", evt.InstanceID),
			zap.Int64("sequence", evt.Sequence),
			zap.Error(err))
	}
	return err
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

func (l *EventLog) Load(ctx context.Context, instanceID string) ([]*event.Event, error) {
	rows, err := l.db.getExecutor(ctx).QueryContext(ctx, `
		SELECT id, sequence, event_type, payload, recorded_at, prev_hash, hash
		FROM workflow_events WHERE instance_id = ? ORDER BY sequence`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*event.Event
	for rows.Next() {
		e := &event.Event{InstanceID: instanceID}
		var typ, payload string
		if err := rows.Scan(&e.ID, &e.Sequence, &typ, &payload, &e.RecordedAt, &e.PrevHash, &e.Hash); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Type = event.Type(typ)
		e.RecordedAt = e.RecordedAt.UTC()
		if err := e.UnmarshalPayload([]byte(payload)); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: %s", leave.ErrNotFound, instanceID)
	}
	return events, nil
}

func (l *EventLog) Exists(ctx context.Context, instanceID string) (bool, error) {
	var exists bool
	err := l.db.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM workflow_instances WHERE instance_id = ?)`, instanceID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check instance: %w", err)
	}
	return exists, nil
}

const instanceColumns = `instance_id, created_at, completed_at, archived_at, last_seq`

func scanInfo(scan func(dest ...interface{}) error) (port.InstanceInfo, error) {
	var info port.InstanceInfo
	var completed, archived sql.NullTime
	if err := scan(&info.InstanceID, &info.CreatedAt, &completed, &archived, &info.LastSeq); err != nil {
		return info, err
	}
	info.CreatedAt = info.CreatedAt.UTC()
	if completed.Valid {
		t := completed.Time.UTC()
		info.CompletedAt = &t
	}
	if archived.Valid {
		t := archived.Time.UTC()
		info.ArchivedAt = &t
	}
	return info, nil
}

func (l *EventLog) Get(ctx context.Context, instanceID string) (*port.InstanceInfo, error) {
	row := l.db.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM workflow_instances WHERE instance_id = ?`, instanceID)
	info, err := scanInfo(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", leave.ErrNotFound, instanceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read instance: %w", err)
	}
	return &info, nil
}

func (l *EventLog) ListInstances(ctx context.Context) ([]port.InstanceInfo, error) {
	rows, err := l.db.getExecutor(ctx).QueryContext(ctx,
		`SELECT `+instanceColumns+` FROM workflow_instances WHERE archived_at IS NULL ORDER BY created_at, instance_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var out []port.InstanceInfo
	for rows.Next() {
		info, err := scanInfo(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func (l *EventLog) Archive(ctx context.Context, instanceID string, at time.Time) error {
	res, err := l.db.getExecutor(ctx).ExecContext(ctx,
		`UPDATE workflow_instances SET archived_at = ? WHERE instance_id = ? AND archived_at IS NULL`,
		at.UTC(), instanceID)
	if err != nil {
		return fmt.Errorf("failed to archive instance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", leave.ErrNotFound, instanceID)
	}
	return nil
}

var _ port.EventLog = (*EventLog)(nil)

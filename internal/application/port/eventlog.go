package port

import (
	"context"
	"errors"
	"time"

	"github.com/garyjia/leave-approval/internal/domain/event"
)

// ErrSequenceConflict is returned when an append does not continue the instance log
// contiguously. It means another writer touched the log and is fatal for the caller.
var ErrSequenceConflict = errors.New("event sequence conflict")

// InstanceInfo is the index row kept next to each instance log
type InstanceInfo struct {
	InstanceID  string
	CreatedAt   time.Time
	CompletedAt *time.Time
	ArchivedAt  *time.Time
	LastSeq     int64
}

// EventLog is the append-only, per-instance totally ordered store of workflow events.
// Append must be durable before it returns. Appends to different instances must not
// interfere with each other.
type EventLog interface {
	// Append stores evt as the next event of its instance. The event's Sequence must be
	// the current last sequence plus one; Started must be sequence 1 and fails with
	// leave.ErrAlreadyExists when the instance exists (archived included). Append sets
	// PrevHash and Hash.
	Append(ctx context.Context, evt *event.Event) error

	// Load returns all events of an instance in sequence order, or leave.ErrNotFound
	Load(ctx context.Context, instanceID string) ([]*event.Event, error)

	// Exists reports whether any event was ever appended for the instance
	Exists(ctx context.Context, instanceID string) (bool, error)

	// Get returns the index row of an instance, or leave.ErrNotFound
	Get(ctx context.Context, instanceID string) (*InstanceInfo, error)

	// ListInstances returns the non-archived instances ordered by creation
	ListInstances(ctx context.Context) ([]InstanceInfo, error)

	// Archive hides an instance from ListInstances and marks it archived
	Archive(ctx context.Context, instanceID string, at time.Time) error
}

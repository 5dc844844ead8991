package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/leave-approval/internal/application/port"
	"github.com/garyjia/leave-approval/internal/domain/event"
	"github.com/garyjia/leave-approval/internal/domain/leave"
)

type stream struct {
	info   port.InstanceInfo
	events []*event.Event
}

// EventLog keeps instance logs in process memory. It follows the same contract as
// the SQLite log and backs tests and database.driver=memory.
type EventLog struct {
	mu      sync.RWMutex
	streams map[string]*stream
}

// NewEventLog creates an empty in-memory log
func NewEventLog() *EventLog {
	return &EventLog{streams: make(map[string]*stream)}
}

func (l *EventLog) Append(ctx context.Context, evt *event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := evt.Payload(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	s, exists := l.streams[evt.InstanceID]
	if evt.Type == event.TypeStarted {
		if exists {
			return fmt.Errorf("%w: %s", leave.ErrAlreadyExists, evt.InstanceID)
		}
		s = &stream{info: port.InstanceInfo{InstanceID: evt.InstanceID, CreatedAt: evt.RecordedAt}}
	} else if !exists {
		return fmt.Errorf("%w: %s", leave.ErrNotFound, evt.InstanceID)
	}

	if evt.Sequence != s.info.LastSeq+1 {
		return fmt.Errorf("%w: %s expected %d, got %d", port.ErrSequenceConflict, evt.InstanceID, s.info.LastSeq+1, evt.Sequence)
	}

	prev := event.GenesisHash
	if n := len(s.events); n > 0 {
		prev = s.events[n-1].Hash
	}
	if err := event.Seal(prev, evt); err != nil {
		return err
	}

	s.events = append(s.events, evt.Clone())
	s.info.LastSeq = evt.Sequence
	if evt.Type == event.TypeCompleted {
		at := evt.RecordedAt
		s.info.CompletedAt = &at
	}
	l.streams[evt.InstanceID] = s
	return nil
}

func (l *EventLog) Load(ctx context.Context, instanceID string) ([]*event.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s, ok := l.streams[instanceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", leave.ErrNotFound, instanceID)
	}
	out := make([]*event.Event, len(s.events))
	for i, e := range s.events {
		out[i] = e.Clone()
	}
	return out, nil
}

func (l *EventLog) Exists(ctx context.Context, instanceID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.streams[instanceID]
	return ok, nil
}

func (l *EventLog) Get(ctx context.Context, instanceID string) (*port.InstanceInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s, ok := l.streams[instanceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", leave.ErrNotFound, instanceID)
	}
	info := s.info
	return &info, nil
}

func (l *EventLog) ListInstances(ctx context.Context) ([]port.InstanceInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]port.InstanceInfo, 0, len(l.streams))
	for _, s := range l.streams {
		if s.info.ArchivedAt == nil {
			out = append(out, s.info)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].InstanceID < out[j].InstanceID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (l *EventLog) Archive(ctx context.Context, instanceID string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.streams[instanceID]
	if !ok || s.info.ArchivedAt != nil {
		return fmt.Errorf("%w: %s", leave.ErrNotFound, instanceID)
	}
	s.info.ArchivedAt = &at
	return nil
}

var _ port.EventLog = (*EventLog)(nil)

package dispatcher

import (
	"context"

	"github.com/garyjia/leave-approval/internal/domain/event"
)

// Handler reacts to an event after it has been durably appended
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo contains handler metadata for debugging
type HandlerInfo struct {
	Name      string
	EventType event.Type
	Handler   Handler
}

// AllTypes lists every event type, for subscribers that observe the whole log
var AllTypes = []event.Type{
	event.TypeStarted,
	event.TypeSignalApplied,
	event.TypeReminderSent,
	event.TypeTimedOut,
	event.TypeActivityCompleted,
	event.TypeActivityFailed,
	event.TypeCompleted,
}

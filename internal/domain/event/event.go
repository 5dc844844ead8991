package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/leave-approval/internal/domain/leave"
)

var (
	// ErrUnknownType is returned when decoding an event of an unrecognised type
	ErrUnknownType = errors.New("unknown event type")

	// ErrMissingPayload is returned when an event lacks the payload its type requires
	ErrMissingPayload = errors.New("event payload missing")
)

// Event is one append-only log entry of a workflow instance.
// Exactly one payload field is set, matching Type; TimedOut carries none.
type Event struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instance_id"`
	Sequence   int64     `json:"sequence"`
	Type       Type      `json:"type"`
	RecordedAt time.Time `json:"recorded_at"`
	PrevHash   string    `json:"prev_hash,omitempty"`
	Hash       string    `json:"hash,omitempty"`

	Started   *Started       `json:"started,omitempty"`
	Signal    *SignalApplied `json:"signal,omitempty"`
	Reminder  *ReminderSent  `json:"reminder,omitempty"`
	Activity  *Activity      `json:"activity,omitempty"`
	Completed *Completed     `json:"completed,omitempty"`
}

// Started opens an instance. SubmittedAt is the anchor for every deadline.
type Started struct {
	Request     leave.Request `json:"request"`
	SubmittedAt time.Time     `json:"submittedAt"`
	Timing      leave.Timing  `json:"timing"`
}

// SignalApplied records receipt of a signal and the status it resulted in.
// Applied is false when the signal arrived after the status was frozen.
type SignalApplied struct {
	Signal          leave.Signal `json:"signal"`
	ResultingStatus leave.Status `json:"resultingStatus"`
	Applied         bool         `json:"applied"`
}

// ReminderSent records the n-th reminder (1-based)
type ReminderSent struct {
	Sequence int `json:"sequence"`
}

// Activity identifies one logical activity occurrence and, for failures, the last error
type Activity struct {
	Name     ActivityName `json:"name"`
	Sequence int          `json:"sequence"`
	Error    string       `json:"error,omitempty"`
}

// Completed closes an instance with its final result
type Completed struct {
	Result leave.Result `json:"result"`
}

func newEvent(t Type, instanceID string, at time.Time) *Event {
	return &Event{
		ID:         uuid.New().String(),
		InstanceID: instanceID,
		Type:       t,
		RecordedAt: at,
	}
}

// NewStarted creates the opening event of an instance
func NewStarted(instanceID string, req leave.Request, submittedAt time.Time, timing leave.Timing) *Event {
	e := newEvent(TypeStarted, instanceID, submittedAt)
	e.Started = &Started{Request: req, SubmittedAt: submittedAt, Timing: timing}
	return e
}

// NewSignalApplied creates a signal receipt; ResultingStatus is filled in by the state machine
func NewSignalApplied(instanceID string, sig leave.Signal, at time.Time) *Event {
	e := newEvent(TypeSignalApplied, instanceID, at)
	e.Signal = &SignalApplied{Signal: sig}
	return e
}

// NewReminderSent creates a reminder record
func NewReminderSent(instanceID string, n int, at time.Time) *Event {
	e := newEvent(TypeReminderSent, instanceID, at)
	e.Reminder = &ReminderSent{Sequence: n}
	return e
}

// NewTimedOut creates the timeout record
func NewTimedOut(instanceID string, at time.Time) *Event {
	return newEvent(TypeTimedOut, instanceID, at)
}

// NewActivityCompleted records a successful activity occurrence
func NewActivityCompleted(instanceID string, name ActivityName, seq int, at time.Time) *Event {
	e := newEvent(TypeActivityCompleted, instanceID, at)
	e.Activity = &Activity{Name: name, Sequence: seq}
	return e
}

// NewActivityFailed records an activity occurrence that exhausted its retries
func NewActivityFailed(instanceID string, name ActivityName, seq int, cause error, at time.Time) *Event {
	e := newEvent(TypeActivityFailed, instanceID, at)
	e.Activity = &Activity{Name: name, Sequence: seq}
	if cause != nil {
		e.Activity.Error = cause.Error()
	}
	return e
}

// NewCompleted creates the closing event of an instance
func NewCompleted(instanceID string, result leave.Result, at time.Time) *Event {
	e := newEvent(TypeCompleted, instanceID, at)
	e.Completed = &Completed{Result: result}
	return e
}

// Payload returns the type-specific payload, or nil for TimedOut
func (e *Event) Payload() (interface{}, error) {
	switch e.Type {
	case TypeStarted:
		if e.Started == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingPayload, e.Type)
		}
		return e.Started, nil
	case TypeSignalApplied:
		if e.Signal == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingPayload, e.Type)
		}
		return e.Signal, nil
	case TypeReminderSent:
		if e.Reminder == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingPayload, e.Type)
		}
		return e.Reminder, nil
	case TypeActivityCompleted, TypeActivityFailed:
		if e.Activity == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingPayload, e.Type)
		}
		return e.Activity, nil
	case TypeCompleted:
		if e.Completed == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingPayload, e.Type)
		}
		return e.Completed, nil
	case TypeTimedOut:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, e.Type)
	}
}

// MarshalPayload encodes the payload for storage. TimedOut encodes as "null".
func (e *Event) MarshalPayload() ([]byte, error) {
	p, err := e.Payload()
	if err != nil {
		return nil, err
	}
	return json.Marshal(p)
}

// UnmarshalPayload decodes a stored payload into the field matching e.Type
func (e *Event) UnmarshalPayload(data []byte) error {
	var target interface{}
	switch e.Type {
	case TypeStarted:
		e.Started = &Started{}
		target = e.Started
	case TypeSignalApplied:
		e.Signal = &SignalApplied{}
		target = e.Signal
	case TypeReminderSent:
		e.Reminder = &ReminderSent{}
		target = e.Reminder
	case TypeActivityCompleted, TypeActivityFailed:
		e.Activity = &Activity{}
		target = e.Activity
	case TypeCompleted:
		e.Completed = &Completed{}
		target = e.Completed
	case TypeTimedOut:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownType, e.Type)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Clone returns a deep copy of the event so log stores never share memory with callers
func (e *Event) Clone() *Event {
	c := *e
	if e.Started != nil {
		s := *e.Started
		c.Started = &s
	}
	if e.Signal != nil {
		s := *e.Signal
		s.Signal.Decision = s.Signal.Decision.Clone()
		c.Signal = &s
	}
	if e.Reminder != nil {
		r := *e.Reminder
		c.Reminder = &r
	}
	if e.Activity != nil {
		a := *e.Activity
		c.Activity = &a
	}
	if e.Completed != nil {
		done := *e.Completed
		done.Result.Decision = done.Result.Decision.Clone()
		c.Completed = &done
	}
	return &c
}

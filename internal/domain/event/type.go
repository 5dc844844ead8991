package event

// Type identifies the type of workflow event
type Type string

const (
	TypeStarted           Type = "workflow.started"
	TypeSignalApplied     Type = "signal.applied"
	TypeReminderSent      Type = "reminder.sent"
	TypeTimedOut          Type = "workflow.timed_out"
	TypeActivityCompleted Type = "activity.completed"
	TypeActivityFailed    Type = "activity.failed"
	TypeCompleted         Type = "workflow.completed"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeStarted,
		TypeSignalApplied,
		TypeReminderSent,
		TypeTimedOut,
		TypeActivityCompleted,
		TypeActivityFailed,
		TypeCompleted:
		return true
	default:
		return false
	}
}

// ActivityName names one of the notification operations the scheduler invokes
type ActivityName string

const (
	ActivityNotifyApprover ActivityName = "notifyApprover"
	ActivitySendReminder   ActivityName = "sendReminder"
	ActivityNotifyEmployee ActivityName = "notifyEmployee"
)

// String returns the string representation of the activity name
func (n ActivityName) String() string {
	return string(n)
}

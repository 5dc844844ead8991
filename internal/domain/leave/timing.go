package leave

import "time"

const (
	// DefaultReminderInterval is the spacing between approver reminders
	DefaultReminderInterval = 24 * time.Hour

	// DefaultApprovalTimeout is the hard deadline measured from submission
	DefaultApprovalTimeout = 3 * 24 * time.Hour

	// DefaultTaskQueue identifies the partition instances are created on
	DefaultTaskQueue = "leave-request-queue"
)

// Timing is the per-instance schedule injected at creation and recorded in the Started event
type Timing struct {
	ReminderInterval time.Duration `json:"reminderInterval"`
	ApprovalTimeout  time.Duration `json:"approvalTimeout"`
	TaskQueue        string        `json:"taskQueue"`
}

// DefaultTiming returns the 1 day reminder / 3 day timeout schedule
func DefaultTiming() Timing {
	return Timing{
		ReminderInterval: DefaultReminderInterval,
		ApprovalTimeout:  DefaultApprovalTimeout,
		TaskQueue:        DefaultTaskQueue,
	}
}

// Validate checks the schedule is usable
func (t Timing) Validate() error {
	if t.ApprovalTimeout <= 0 {
		return &ValidationError{Field: "approvalTimeout", Reason: "must be positive"}
	}
	if t.ReminderInterval <= 0 {
		return &ValidationError{Field: "reminderInterval", Reason: "must be positive"}
	}
	if t.TaskQueue == "" {
		return &ValidationError{Field: "taskQueue", Reason: "is required"}
	}
	return nil
}

// TimeoutAt is the absolute approval deadline
func (t Timing) TimeoutAt(submittedAt time.Time) time.Time {
	return submittedAt.Add(t.ApprovalTimeout)
}

// ReminderAt is the absolute due time of the n-th reminder (1-based)
func (t Timing) ReminderAt(submittedAt time.Time, n int) time.Time {
	return submittedAt.Add(time.Duration(n) * t.ReminderInterval)
}

// MaxReminders counts the whole intervals that fall strictly inside the timeout window
func (t Timing) MaxReminders() int {
	if t.ReminderInterval <= 0 || t.ApprovalTimeout <= 0 {
		return 0
	}
	n := int(t.ApprovalTimeout / t.ReminderInterval)
	if t.ApprovalTimeout%t.ReminderInterval == 0 {
		n--
	}
	return n
}

// NextReminder returns the due time of the reminder following sent reminders, if one
// fits before the timeout
func (t Timing) NextReminder(submittedAt time.Time, sent int) (time.Time, bool) {
	if sent >= t.MaxReminders() {
		return time.Time{}, false
	}
	return t.ReminderAt(submittedAt, sent+1), true
}

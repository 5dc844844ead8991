package leave

import "time"

// State is the point-in-time view of one instance served to readers.
// Decision is set iff Status is approved or rejected; CancelReason iff cancelled.
type State struct {
	Request      Request   `json:"request"`
	Status       Status    `json:"status"`
	SubmittedAt  time.Time `json:"submittedAt"`
	Decision     *Decision `json:"decision,omitempty"`
	CancelReason string    `json:"cancelReason,omitempty"`
}

// Result is the outcome reported to the employee and recorded on completion
type Result struct {
	RequestID    string    `json:"requestId"`
	Status       Status    `json:"status"`
	Decision     *Decision `json:"decision,omitempty"`
	CancelReason string    `json:"cancelReason,omitempty"`
	CompletedAt  time.Time `json:"completedAt"`
}

// ResultOf builds the completion result from a terminal state
func ResultOf(s State, completedAt time.Time) Result {
	return Result{
		RequestID:    s.Request.RequestID,
		Status:       s.Status,
		Decision:     s.Decision.Clone(),
		CancelReason: s.CancelReason,
		CompletedAt:  completedAt,
	}
}

// Clone returns a copy that shares no memory with d
func (d *Decision) Clone() *Decision {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

// Clone returns a deep copy of the state
func (s State) Clone() State {
	s.Decision = s.Decision.Clone()
	return s
}

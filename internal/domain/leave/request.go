package leave

import (
	"net/mail"
	"strings"
	"time"
)

// DateLayout is the calendar date format used by startDate and endDate
const DateLayout = "2006-01-02"

// Request is a submitted leave request. It is never mutated after creation.
type Request struct {
	RequestID     string `json:"requestId"`
	EmployeeName  string `json:"employeeName"`
	EmployeeEmail string `json:"employeeEmail"`
	StartDate     string `json:"startDate"`
	EndDate       string `json:"endDate"`
	Reason        string `json:"reason"`
	ApproverEmail string `json:"approverEmail"`
}

// Validate checks required fields, email formats and the date range
func (r Request) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"requestId", r.RequestID},
		{"employeeName", r.EmployeeName},
		{"employeeEmail", r.EmployeeEmail},
		{"startDate", r.StartDate},
		{"endDate", r.EndDate},
		{"reason", r.Reason},
		{"approverEmail", r.ApproverEmail},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{Field: f.field, Reason: "is required"}
		}
	}

	if _, err := mail.ParseAddress(r.EmployeeEmail); err != nil {
		return &ValidationError{Field: "employeeEmail", Reason: "is not a valid email address"}
	}
	if _, err := mail.ParseAddress(r.ApproverEmail); err != nil {
		return &ValidationError{Field: "approverEmail", Reason: "is not a valid email address"}
	}

	start, err := time.Parse(DateLayout, r.StartDate)
	if err != nil {
		return &ValidationError{Field: "startDate", Reason: "must be formatted as YYYY-MM-DD"}
	}
	end, err := time.Parse(DateLayout, r.EndDate)
	if err != nil {
		return &ValidationError{Field: "endDate", Reason: "must be formatted as YYYY-MM-DD"}
	}
	if end.Before(start) {
		return &ValidationError{Field: "endDate", Reason: "must not be before startDate"}
	}

	return nil
}

// Decision is the approver's verdict. At most one is ever stored per instance.
type Decision struct {
	Approved  bool   `json:"approved"`
	Comment   string `json:"comment,omitempty"`
	DecidedBy string `json:"decidedBy"`
}

// SignalKind distinguishes the two external inputs an instance accepts
type SignalKind string

const (
	SignalDecision SignalKind = "decision"
	SignalCancel   SignalKind = "cancel"
)

// Signal is an asynchronous external input: either a decision or a cancellation
type Signal struct {
	Kind         SignalKind `json:"kind"`
	Decision     *Decision  `json:"decision,omitempty"`
	CancelReason string     `json:"cancelReason,omitempty"`
}

// DecisionSignal builds an approve/reject signal
func DecisionSignal(d Decision) Signal {
	return Signal{Kind: SignalDecision, Decision: &d}
}

// CancelSignal builds a cancellation signal
func CancelSignal(reason string) Signal {
	return Signal{Kind: SignalCancel, CancelReason: reason}
}

// Validate checks that the signal carries the payload its kind requires
func (s Signal) Validate() error {
	switch s.Kind {
	case SignalDecision:
		if s.Decision == nil {
			return &ValidationError{Field: "decision", Reason: "is required"}
		}
		if strings.TrimSpace(s.Decision.DecidedBy) == "" {
			return &ValidationError{Field: "decidedBy", Reason: "is required"}
		}
	case SignalCancel:
		if strings.TrimSpace(s.CancelReason) == "" {
			return &ValidationError{Field: "cancelReason", Reason: "is required"}
		}
	default:
		return &ValidationError{Field: "kind", Reason: "unknown signal kind " + string(s.Kind)}
	}
	return nil
}

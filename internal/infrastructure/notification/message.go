package notification

import (
	"fmt"
	"strings"

	"github.com/garyjia/leave-approval/internal/domain/leave"
)

// Message is a rendered notification addressed to one recipient
type Message struct {
	To      string
	Subject string
	Body    string
}

// Text joins subject and body for channels without a separate subject line
func (m Message) Text() string {
	return m.Subject + "\n\n" + m.Body
}

var statusText = map[leave.Status]string{
	leave.StatusApproved:  "was approved",
	leave.StatusRejected:  "was rejected",
	leave.StatusTimeout:   "was automatically rejected because no decision arrived in time",
	leave.StatusCancelled: "was cancelled by the requester",
	leave.StatusPending:   "is still being processed",
}

// ApproverMessage asks the approver for a decision
func ApproverMessage(req leave.Request) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "%s has submitted a leave request.\n\n", req.EmployeeName)
	fmt.Fprintf(&b, "Request ID: %s\n", req.RequestID)
	fmt.Fprintf(&b, "Period: %s to %s\n", req.StartDate, req.EndDate)
	fmt.Fprintf(&b, "Reason: %s\n\n", req.Reason)
	fmt.Fprintf(&b, "Approve: POST /api/requests/%s/approve\n", req.RequestID)
	fmt.Fprintf(&b, "Reject:  POST /api/requests/%s/reject", req.RequestID)
	return Message{To: req.ApproverEmail, Subject: "Leave request awaiting approval", Body: b.String()}
}

// ReminderMessage nudges the approver about a request still pending
func ReminderMessage(req leave.Request, n int) Message {
	body := fmt.Sprintf("The leave request from %s is still awaiting your decision.\nRequest ID: %s\nReminder: #%d",
		req.EmployeeName, req.RequestID, n)
	return Message{To: req.ApproverEmail, Subject: "Reminder: leave request pending", Body: body}
}

// EmployeeMessage tells the employee how the request ended
func EmployeeMessage(req leave.Request, result leave.Result) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "%s, your leave request (%s to %s) %s.", req.EmployeeName, req.StartDate, req.EndDate, statusText[result.Status])
	if result.Decision != nil && result.Decision.Comment != "" {
		fmt.Fprintf(&b, "\n\nComment: %s", result.Decision.Comment)
	}
	if result.CancelReason != "" {
		fmt.Fprintf(&b, "\n\nReason: %s", result.CancelReason)
	}
	return Message{To: req.EmployeeEmail, Subject: "Leave request result", Body: b.String()}
}

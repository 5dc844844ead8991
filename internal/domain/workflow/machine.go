package workflow

import "github.com/garyjia/leave-approval/internal/domain/leave"

// StateMachine tracks the current status of one instance and validates transitions
type StateMachine interface {
	// Status returns the current status
	Status() leave.Status

	// Fire executes the trigger, transitioning to the new status if allowed
	Fire(trigger Trigger) error
}

// approvalBuilder is the leave approval transition table: pending is the only
// status with outgoing edges.
var approvalBuilder = func() StateMachineBuilder {
	b := NewBuilder()
	b.Configure(leave.StatusPending).
		Permit(TriggerApprove, leave.StatusApproved).
		Permit(TriggerReject, leave.StatusRejected).
		Permit(TriggerCancel, leave.StatusCancelled).
		Permit(TriggerTimeout, leave.StatusTimeout)
	return b
}()

// NewApprovalMachine builds the approval state machine positioned at status
func NewApprovalMachine(status leave.Status) StateMachine {
	return approvalBuilder.Build(status)
}

package workflow

import (
	"fmt"

	"github.com/garyjia/leave-approval/internal/domain/leave"
)

// Trigger represents an input that can cause a status transition
type Trigger string

const (
	TriggerApprove Trigger = "APPROVE"
	TriggerReject  Trigger = "REJECT"
	TriggerCancel  Trigger = "CANCEL"
	TriggerTimeout Trigger = "TIMEOUT"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}

// TriggerFor maps an external signal to the trigger it fires
func TriggerFor(sig leave.Signal) (Trigger, error) {
	switch sig.Kind {
	case leave.SignalDecision:
		if sig.Decision == nil {
			return "", fmt.Errorf("%w: decision signal without decision", ErrInvalidSignal)
		}
		if sig.Decision.Approved {
			return TriggerApprove, nil
		}
		return TriggerReject, nil
	case leave.SignalCancel:
		return TriggerCancel, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidSignal, sig.Kind)
	}
}

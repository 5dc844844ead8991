package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when a status transition is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when an event cannot be folded onto the current snapshot
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidSignal is returned when a signal cannot be mapped to a trigger
	ErrInvalidSignal = errors.New("invalid signal")

	// ErrNotStarted is returned when an event precedes Started
	ErrNotStarted = errors.New("instance not started")

	// ErrAlreadyStarted is returned for a second Started event
	ErrAlreadyStarted = errors.New("instance already started")

	// ErrReplayDivergence is returned when a recorded outcome disagrees with the fold
	ErrReplayDivergence = errors.New("replay diverged from recorded outcome")
)

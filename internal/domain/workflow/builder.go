package workflow

import (
	"fmt"

	"github.com/garyjia/leave-approval/internal/domain/leave"
)

// StateMachineBuilder builds a configured state machine
type StateMachineBuilder interface {
	// Configure returns a state configuration for the given status
	Configure(status leave.Status) StateConfiguration

	// Build creates a new state machine instance with the given initial status
	Build(initial leave.Status) StateMachine
}

// StateConfiguration configures transitions for a specific status
type StateConfiguration interface {
	// Permit allows a trigger to transition to the target status
	Permit(trigger Trigger, to leave.Status) StateConfiguration
}

type stateConfig struct {
	from        leave.Status
	transitions map[Trigger]leave.Status
}

type stateMachineBuilder struct {
	configurations map[leave.Status]*stateConfig
}

type stateMachine struct {
	current        leave.Status
	configurations map[leave.Status]*stateConfig
}

// NewBuilder creates a new state machine builder
func NewBuilder() StateMachineBuilder {
	return &stateMachineBuilder{
		configurations: make(map[leave.Status]*stateConfig),
	}
}

// Configure returns a state configuration for the given status
func (b *stateMachineBuilder) Configure(status leave.Status) StateConfiguration {
	if !status.IsValid() {
		panic(fmt.Sprintf("invalid status: %s", status))
	}

	config, exists := b.configurations[status]
	if !exists {
		config = &stateConfig{
			from:        status,
			transitions: make(map[Trigger]leave.Status),
		}
		b.configurations[status] = config
	}

	return config
}

// Build creates a new state machine instance with the given initial status
func (b *stateMachineBuilder) Build(initial leave.Status) StateMachine {
	if !initial.IsValid() {
		panic(fmt.Sprintf("invalid initial status: %s", initial))
	}

	// Deep copy so later Configure calls do not leak into built machines
	configsCopy := make(map[leave.Status]*stateConfig, len(b.configurations))
	for status, config := range b.configurations {
		transitionsCopy := make(map[Trigger]leave.Status, len(config.transitions))
		for trigger, to := range config.transitions {
			transitionsCopy[trigger] = to
		}
		configsCopy[status] = &stateConfig{
			from:        status,
			transitions: transitionsCopy,
		}
	}

	return &stateMachine{
		current:        initial,
		configurations: configsCopy,
	}
}

// Permit allows a trigger to transition to the target status
func (c *stateConfig) Permit(trigger Trigger, to leave.Status) StateConfiguration {
	if !to.IsValid() {
		panic(fmt.Sprintf("invalid target status: %s", to))
	}
	if c.from.IsTerminal() {
		panic(fmt.Sprintf("terminal status %s cannot have outgoing transitions", c.from))
	}
	if prev, exists := c.transitions[trigger]; exists && prev != to {
		panic(fmt.Sprintf("trigger %s from %s already leads to %s", trigger, c.from, prev))
	}

	c.transitions[trigger] = to
	return c
}

// Status returns the current status
func (m *stateMachine) Status() leave.Status {
	return m.current
}

// Fire executes the trigger, transitioning to the new status if allowed
func (m *stateMachine) Fire(trigger Trigger) error {
	config, exists := m.configurations[m.current]
	if !exists {
		return fmt.Errorf("%w: cannot fire trigger %s from status %s (no configuration)", ErrInvalidTransition, trigger, m.current)
	}

	to, permitted := config.transitions[trigger]
	if !permitted {
		return fmt.Errorf("%w: cannot fire trigger %s from status %s", ErrInvalidTransition, trigger, m.current)
	}

	m.current = to
	return nil
}

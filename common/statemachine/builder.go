package statemachine

import (
	"github.com/pkg/errors"

	"github.com/jungbaepark/gcs/gcserrors"
)

// Builder is the state machine builder
type Builder struct {
	statemachine       StateMachine
	rules              map[State]*Rule
	timeoutrules       map[State]*TimeoutRule
	current            State
	name               string
	transitionCallback Callback
}

// NewBuilder creates new state machine builder
func NewBuilder() *Builder {
	return &Builder{
		statemachine: &statemachine{},
		rules:        make(map[State]*Rule),
		timeoutrules: make(map[State]*TimeoutRule),
	}
}

// WithName adds the name to state machine
func (b *Builder) WithName(name string) *Builder {
	b.name = name
	return b
}

// WithCurrentState adds the current state
func (b *Builder) WithCurrentState(current State) *Builder {
	b.current = current
	return b
}

// AddRule adds the rule for state machine
func (b *Builder) AddRule(rule *Rule) *Builder {
	b.rules[rule.From] = rule
	return b
}

// AddTimeoutRule adds the rule for state machine
func (b *Builder) AddTimeoutRule(timeoutRule *TimeoutRule) *Builder {
	b.timeoutrules[timeoutRule.From] = timeoutRule
	return b
}

// WithTransitionCallback adds the transition call back
func (b *Builder) WithTransitionCallback(callback Callback) *Builder {
	b.transitionCallback = callback
	return b
}

// Build builds the state machine. actor.go builds one machine per
// actor from scratch, so a builder used without a name or without at
// least one rule is always a caller bug rather than something worth
// discovering later as a nil-pointer panic on the first TransitTo.
func (b *Builder) Build() (StateMachine, error) {
	if b.name == "" {
		return nil, gcserrors.New(gcserrors.Invalid, "state machine requires a name")
	}
	if len(b.rules) == 0 {
		return nil, gcserrors.New(gcserrors.Invalid, "state machine requires at least one transition rule")
	}

	var err error
	b.statemachine, err = NewStateMachine(
		b.name,
		b.current,
		b.rules,
		b.timeoutrules,
		b.transitionCallback,
	)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return b.statemachine, nil
}

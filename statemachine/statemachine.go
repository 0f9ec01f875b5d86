// Package statemachine is a small rule-based state machine used to describe
// the legal transitions of machines and VMs owned by the scheduler.
//
// It is a single-threaded rendition of a state machine: the scheduler is
// already invoked single-threadedly by the simulator (see the scheduler
// package doc), so unlike a server-shaped state machine this one carries no
// internal lock and no timeout-driven rollback. A rule violation (an illegal
// transition) is a programmer error in the caller, not a runtime condition to
// recover from, so it is reported as an error rather than silently ignored.
package statemachine

import (
	"github.com/pkg/errors"
)

// State is the name of a state machine state.
type State string

// Rule describes the single set of states reachable from From, with an
// optional callback invoked after the transition takes effect.
type Rule struct {
	From     State
	To       []State
	Callback func(*Transition) error
}

// Transition describes one completed state change.
type Transition struct {
	Machine *StateMachine
	From    State
	To      State
	Reason  string
}

// StateMachine transitions a named entity between States according to Rules
// registered at construction time.
type StateMachine struct {
	name    string
	current State
	rules   map[State]*Rule
	reason  string
}

// New builds a StateMachine starting in the given state, or returns an error
// if any rule names a destination appearing more than once for the same
// source state.
func New(name string, initial State, rules []*Rule) (*StateMachine, error) {
	sm := &StateMachine{
		name:    name,
		current: initial,
		rules:   make(map[State]*Rule, len(rules)),
		reason:  "created",
	}
	for _, r := range rules {
		if err := validateRule(r); err != nil {
			return nil, errors.Wrapf(err, "state machine %s: invalid rule from %s", name, r.From)
		}
		sm.rules[r.From] = r
	}
	return sm, nil
}

func validateRule(rule *Rule) error {
	seen := make(map[State]bool, len(rule.To))
	for _, to := range rule.To {
		if seen[to] {
			return errors.Errorf("duplicate destination %s", to)
		}
		seen[to] = true
	}
	return nil
}

// Current returns the state machine's current state.
func (sm *StateMachine) Current() State {
	return sm.current
}

// Reason returns the reason given for the last transition.
func (sm *StateMachine) Reason() string {
	return sm.reason
}

// Name returns the name this state machine was constructed with.
func (sm *StateMachine) Name() string {
	return sm.name
}

// CanTransitTo reports whether a transition to the given state is legal from
// the current state, without performing it.
func (sm *StateMachine) CanTransitTo(to State) bool {
	rule, ok := sm.rules[sm.current]
	if !ok {
		return false
	}
	for _, dest := range rule.To {
		if dest == to {
			return true
		}
	}
	return false
}

// TransitTo moves the state machine to the given state, running the rule's
// callback if one is registered. It returns an error, and leaves the state
// machine unchanged, if the transition is not legal from the current state.
func (sm *StateMachine) TransitTo(to State, reason string) error {
	if !sm.CanTransitTo(to) {
		return errors.Errorf("state machine %s: illegal transition from %s to %s", sm.name, sm.current, to)
	}

	t := &Transition{Machine: sm, From: sm.current, To: to, Reason: reason}
	rule := sm.rules[sm.current]

	sm.current = to
	sm.reason = reason

	if rule.Callback != nil {
		if err := rule.Callback(t); err != nil {
			return errors.Wrapf(err, "state machine %s: callback failed transitioning %s to %s", sm.name, t.From, to)
		}
	}
	return nil
}

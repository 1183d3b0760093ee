package protofsm

import (
	"context"
	"fmt"
	"strings"
)

// idSeparator joins the names along the path from the root to a state.
const idSeparator = "."

// StateID is the full dotted path of a state within a state tree, for
// example "channel.opening.awaiting_funding_depth". It is the only handle by
// which callers refer to a state.
type StateID string

// Child returns the id of the sub-state with the given name.
func (s StateID) Child(name string) StateID {
	if s == "" {
		return StateID(name)
	}

	return StateID(string(s) + idSeparator + name)
}

// Parent returns the id of the enclosing state, or the empty id for a root.
func (s StateID) Parent() StateID {
	i := strings.LastIndex(string(s), idSeparator)
	if i < 0 {
		return ""
	}

	return s[:i]
}

// Name returns the last component of the id.
func (s StateID) Name() string {
	i := strings.LastIndex(string(s), idSeparator)

	return string(s[i+1:])
}

// String returns the dotted path.
func (s StateID) String() string {
	return string(s)
}

// EventType is the discriminant used to select a transition for an event.
type EventType string

// Event is anything a state machine can react to. Transitions are keyed by
// the event's type, never by its concrete Go type.
type Event interface {
	// EventType returns the discriminant of the event.
	EventType() EventType
}

// TransitionFunc handles an event for an entity of type C. It returns the id
// of the state the entity moves to. A non-nil error is an operational fault:
// the caller must not advance the entity's state.
type TransitionFunc[C any, E Event] func(ctx context.Context, c C,
	event E) (StateID, error)

// State is a node of a hierarchical state tree. It owns its sub-states and
// knows its parent only by id. A state that has no transition for an event
// type ignores that event, transitions are not inherited from ancestors.
type State[C any, E Event] struct {
	name   string
	id     StateID
	parent StateID

	subStates   []*State[C, E]
	transitions map[EventType]TransitionFunc[C, E]
}

// NewState creates a detached state with the given name. It becomes part of
// a tree once added to a parent via AddSubState.
func NewState[C any, E Event](name string) *State[C, E] {
	return &State[C, E]{
		name:        name,
		id:          StateID(name),
		transitions: make(map[EventType]TransitionFunc[C, E]),
	}
}

// Name returns the local name of the state.
func (s *State[C, E]) Name() string {
	return s.name
}

// ID returns the full dotted path of the state.
func (s *State[C, E]) ID() StateID {
	return s.id
}

// ParentID returns the id of the parent state, or the empty id for a root.
func (s *State[C, E]) ParentID() StateID {
	return s.parent
}

// SubStates returns the owned sub-states in the order they were added.
func (s *State[C, E]) SubStates() []*State[C, E] {
	return append([]*State[C, E](nil), s.subStates...)
}

// AddSubState adds child as an owned sub-state and returns the receiver so
// calls can be chained. The child's subtree is re-rooted beneath the
// receiver. A sub-state with the same name is rejected with
// ErrDuplicateSubState.
func (s *State[C, E]) AddSubState(child *State[C, E]) (*State[C, E], error) {
	for _, existing := range s.subStates {
		if existing.name == child.name {
			return s, fmt.Errorf("%w: %v already has %q",
				ErrDuplicateSubState, s.id, child.name)
		}
	}

	child.reparent(s.id)
	s.subStates = append(s.subStates, child)

	return s, nil
}

// MustAddSubState is AddSubState for statically known topologies. It panics
// on a duplicate name.
func (s *State[C, E]) MustAddSubState(child *State[C, E]) *State[C, E] {
	if _, err := s.AddSubState(child); err != nil {
		panic(err)
	}

	return s
}

// reparent recomputes the id of the state and all of its descendants after
// it has been attached below parent.
func (s *State[C, E]) reparent(parent StateID) {
	s.parent = parent
	s.id = parent.Child(s.name)

	for _, sub := range s.subStates {
		sub.reparent(s.id)
	}
}

// AddTransition registers the handler for an event type and returns the
// receiver so calls can be chained. Registering a second handler for the same
// event type replaces the first.
func (s *State[C, E]) AddTransition(eventType EventType,
	fn TransitionFunc[C, E]) *State[C, E] {

	s.transitions[eventType] = fn

	return s
}

// Transition returns the handler registered on this exact state for the
// event type.
func (s *State[C, E]) Transition(eventType EventType) (TransitionFunc[C, E],
	bool) {

	fn, ok := s.transitions[eventType]

	return fn, ok
}

// EventTypes returns the event types this state handles.
func (s *State[C, E]) EventTypes() []EventType {
	types := make([]EventType, 0, len(s.transitions))
	for eventType := range s.transitions {
		types = append(types, eventType)
	}

	return types
}

// IsLeaf returns true if the state has no sub-states.
func (s *State[C, E]) IsLeaf() bool {
	return len(s.subStates) == 0
}

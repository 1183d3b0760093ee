package protofsm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/btcsuite/btclog/v2"
)

// DispatchResult describes the outcome of dispatching one event.
type DispatchResult struct {
	// From is the state the entity was in when the event arrived.
	From StateID

	// Next is the state the entity is in after the event. It equals From
	// for dropped events and for faults.
	Next StateID

	// Handled is false when the current state has no transition for the
	// event type and the event was dropped.
	Handled bool
}

// Changed returns true if the dispatch moved the entity to another state.
func (d DispatchResult) Changed() bool {
	return d.Next != d.From
}

// StateMachine is an immutable, indexed view of a state tree. It holds no
// entity data, so a single instance is shared by every entity that follows
// the same topology. Each entity carries its own current StateID and is
// passed in on dispatch.
//
// The tree must be fully built before NewStateMachine is called and must not
// be modified afterwards.
type StateMachine[C any, E Event] struct {
	root  *State[C, E]
	index map[StateID]*State[C, E]
}

// NewStateMachine indexes the tree below root.
func NewStateMachine[C any, E Event](
	root *State[C, E]) *StateMachine[C, E] {

	m := &StateMachine[C, E]{
		root:  root,
		index: make(map[StateID]*State[C, E]),
	}
	m.Walk(func(s *State[C, E]) bool {
		m.index[s.ID()] = s
		return true
	})

	return m
}

// Root returns the root state of the tree.
func (m *StateMachine[C, E]) Root() *State[C, E] {
	return m.root
}

// Find resolves a state by its dotted id.
func (m *StateMachine[C, E]) Find(id StateID) (*State[C, E], bool) {
	s, ok := m.index[id]

	return s, ok
}

// Parent resolves the parent of the state with the given id. The root has no
// parent.
func (m *StateMachine[C, E]) Parent(id StateID) (*State[C, E], bool) {
	s, ok := m.index[id]
	if !ok || s.ParentID() == "" {
		return nil, false
	}

	return m.Find(s.ParentID())
}

// Walk visits every state depth first, parents before children in insertion
// order. Returning false from visit skips the state's subtree.
func (m *StateMachine[C, E]) Walk(visit func(*State[C, E]) bool) {
	var walk func(s *State[C, E])
	walk = func(s *State[C, E]) {
		if !visit(s) {
			return
		}

		for _, sub := range s.subStates {
			walk(sub)
		}
	}

	walk(m.root)
}

// Dispatch delivers an event to an entity that is currently in the state
// with the given id. The transition registered on that exact state for the
// event's type is run. If there is none, the event is dropped and the entity
// stays where it is.
//
// A non-nil error is an operational fault raised by the transition, or a
// transition that named a state outside of the tree. In both cases the
// returned result keeps the entity in its current state.
func (m *StateMachine[C, E]) Dispatch(ctx context.Context, current StateID,
	entity C, event E) (DispatchResult, error) {

	result := DispatchResult{
		From: current,
		Next: current,
	}

	state, ok := m.Find(current)
	if !ok {
		return result, fmt.Errorf("%w: %v", ErrUnknownState, current)
	}

	eventType := event.EventType()
	ctx = btclog.WithCtx(
		ctx, slog.String("state", current.String()),
		slog.String("event", string(eventType)),
	)

	transition, ok := state.Transition(eventType)
	if !ok {
		log.TraceS(ctx, "No transition for event, dropping")

		return result, nil
	}

	next, err := transition(ctx, entity, event)
	if err != nil {
		return result, err
	}

	if _, ok := m.Find(next); !ok {
		return result, fmt.Errorf("%w: transition from %v on %v "+
			"returned %v", ErrUnknownState, current, eventType,
			next)
	}

	log.DebugS(ctx, "Dispatched event", slog.String("next", next.String()))

	result.Next = next
	result.Handled = true

	return result, nil
}

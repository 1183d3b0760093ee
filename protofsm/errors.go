package protofsm

import "errors"

var (
	// ErrDuplicateSubState is returned when a sub-state is added to a
	// state that already has a sub-state with the same name.
	ErrDuplicateSubState = errors.New("duplicate sub-state")

	// ErrUnknownState is returned when a state id does not resolve to a
	// state of the tree.
	ErrUnknownState = errors.New("unknown state")
)

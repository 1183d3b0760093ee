package channeldb

import "fmt"

var (
	// ErrChannelNotFound is returned when a channel is looked up by an id
	// the store has no record of.
	ErrChannelNotFound = fmt.Errorf("channel not found")

	// ErrNoChannelBucket is returned when the top level channel bucket
	// has not been created yet.
	ErrNoChannelBucket = fmt.Errorf("channel bucket not found")

	// ErrFundingTxAttached is returned when a second funding transaction
	// is attached to a channel.
	ErrFundingTxAttached = fmt.Errorf("funding transaction already " +
		"attached")

	// ErrChannelIDAssigned is returned when the permanent channel id of
	// a channel would be assigned a second time.
	ErrChannelIDAssigned = fmt.Errorf("channel id already assigned")

	// ErrFundingOutputNotFound is returned when the funding transaction
	// does not pay to the channel's 2-of-2 funding script.
	ErrFundingOutputNotFound = fmt.Errorf("funding output not found in " +
		"funding transaction")

	// ErrAlreadyConfirmed is returned when a channel's funding
	// confirmation is recorded twice.
	ErrAlreadyConfirmed = fmt.Errorf("funding transaction already " +
		"confirmed")

	// ErrCommitNumberDecrease is returned when a commitment number would
	// move backwards.
	ErrCommitNumberDecrease = fmt.Errorf("commitment number cannot " +
		"decrease")

	// ErrPushExceedsFunding is returned when a channel is created with a
	// push amount larger than its capacity.
	ErrPushExceedsFunding = fmt.Errorf("push amount exceeds funding " +
		"amount")

	// ErrMissingKeys is returned when a channel is created without the
	// full set of local key material.
	ErrMissingKeys = fmt.Errorf("channel key material incomplete")

	// ErrTheirKeysUnknown is returned when an operation needs the remote
	// party's keys before accept_channel has been attached.
	ErrTheirKeysUnknown = fmt.Errorf("remote channel keys unknown")
)

// ErrBalanceMismatch is returned by CheckInvariants when the two balances of
// a channel no longer add up to its capacity.
type ErrBalanceMismatch struct {
	Ours     uint64
	Theirs   uint64
	Capacity uint64
}

// Error returns a human readable description of the mismatch.
func (e *ErrBalanceMismatch) Error() string {
	return fmt.Sprintf("balance mismatch: ours=%d msat + theirs=%d msat "+
		"!= capacity=%d msat", e.Ours, e.Theirs, e.Capacity)
}

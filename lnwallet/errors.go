package lnwallet

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/go-errors/errors"
	"github.com/lightningnetwork/lnchan/lnwire"
)

// OpeningErrorKind classifies why a message from the peer was rejected
// during the opening flow.
type OpeningErrorKind uint8

const (
	// ErrKindTempIDMismatch is used when a message names a temporary
	// channel id other than ours.
	ErrKindTempIDMismatch OpeningErrorKind = iota

	// ErrKindChanIDMismatch is used when a message names a channel id
	// other than the one derived from our funding outpoint.
	ErrKindChanIDMismatch

	// ErrKindNumConfsTooLarge is used when the peer asks for more
	// confirmations than we are willing to wait for.
	ErrKindNumConfsTooLarge

	// ErrKindZeroMinDepth is used when the peer does not require any
	// confirmation of the funding transaction.
	ErrKindZeroMinDepth

	// ErrKindCsvDelayTooLarge is used when the peer imposes a to-self
	// delay on us above our maximum.
	ErrKindCsvDelayTooLarge

	// ErrKindChanReserveTooLarge is used when the peer requires us to
	// keep back more than our policy allows.
	ErrKindChanReserveTooLarge

	// ErrKindChanReserveTooSmall is used when the reserve the peer
	// requires is below our dust limit.
	ErrKindChanReserveTooSmall

	// ErrKindDustLimitTooSmall is used when the peer's dust limit is
	// below the network's relay threshold.
	ErrKindDustLimitTooSmall

	// ErrKindDustLimitTooLarge is used when the peer's dust limit is
	// above our policy maximum or above the reserve we require of it.
	ErrKindDustLimitTooLarge

	// ErrKindMinHtlcTooLarge is used when the peer's minimum HTLC value
	// makes the channel unusable.
	ErrKindMinHtlcTooLarge

	// ErrKindMaxHtlcNumTooLarge is used when the peer allows more HTLCs
	// than the protocol maximum.
	ErrKindMaxHtlcNumTooLarge

	// ErrKindMaxHtlcNumTooSmall is used when the peer accepts no HTLCs.
	ErrKindMaxHtlcNumTooSmall

	// ErrKindMaxValueInFlightTooSmall is used when the peer's in-flight
	// cap is below our policy minimum.
	ErrKindMaxValueInFlightTooSmall

	// ErrKindMissingKey is used when a required public key is absent.
	ErrKindMissingKey

	// ErrKindInvalidSignature is used when the peer's commitment
	// signature does not verify.
	ErrKindInvalidSignature

	// ErrKindInsufficientFunds is used when the wallet cannot fund the
	// requested channel.
	ErrKindInsufficientFunds

	// ErrKindChanSize is used when the requested capacity is outside of
	// our policy bounds.
	ErrKindChanSize
)

// String returns a short name for the kind, used as a metric label.
func (k OpeningErrorKind) String() string {
	switch k {
	case ErrKindTempIDMismatch:
		return "temp_id_mismatch"
	case ErrKindChanIDMismatch:
		return "chan_id_mismatch"
	case ErrKindNumConfsTooLarge:
		return "num_confs_too_large"
	case ErrKindZeroMinDepth:
		return "zero_min_depth"
	case ErrKindCsvDelayTooLarge:
		return "csv_delay_too_large"
	case ErrKindChanReserveTooLarge:
		return "chan_reserve_too_large"
	case ErrKindChanReserveTooSmall:
		return "chan_reserve_too_small"
	case ErrKindDustLimitTooSmall:
		return "dust_limit_too_small"
	case ErrKindDustLimitTooLarge:
		return "dust_limit_too_large"
	case ErrKindMinHtlcTooLarge:
		return "min_htlc_too_large"
	case ErrKindMaxHtlcNumTooLarge:
		return "max_htlc_num_too_large"
	case ErrKindMaxHtlcNumTooSmall:
		return "max_htlc_num_too_small"
	case ErrKindMaxValueInFlightTooSmall:
		return "max_value_in_flight_too_small"
	case ErrKindMissingKey:
		return "missing_key"
	case ErrKindInvalidSignature:
		return "invalid_signature"
	case ErrKindInsufficientFunds:
		return "insufficient_funds"
	case ErrKindChanSize:
		return "chan_size"
	default:
		return "unknown"
	}
}

// OpeningError is an expected rejection of the peer's parameters. It is
// never an operational fault: the channel is failed deterministically and no
// retry is attempted.
type OpeningError struct {
	Kind OpeningErrorKind

	err *errors.Error
}

// Error returns the human readable reason of the rejection.
//
// NOTE: Part of the error interface.
func (e *OpeningError) Error() string {
	return e.err.Error()
}

// A compile time check to ensure OpeningError implements the error interface.
var _ error = (*OpeningError)(nil)

// newErrf creates an OpeningError of the given kind with a formatted
// description.
func newErrf(kind OpeningErrorKind, format string,
	a ...interface{}) *OpeningError {

	return &OpeningError{
		Kind: kind,
		err:  errors.Errorf(format, a...),
	}
}

// ErrNumConfsTooLarge returns an error indicating that the number of
// confirmations required for a channel is too large.
func ErrNumConfsTooLarge(numConfs, maxNumConfs uint32) *OpeningError {
	return newErrf(ErrKindNumConfsTooLarge, "minimum depth of %d is too "+
		"large, max is %d", numConfs, maxNumConfs)
}

// ErrZeroMinDepth returns an error indicating the peer would use the channel
// before the funding transaction confirmed.
func ErrZeroMinDepth() *OpeningError {
	return newErrf(ErrKindZeroMinDepth, "minimum depth of zero is not "+
		"supported")
}

// ErrCsvDelayTooLarge returns an error indicating that the CSV delay was too
// large to be accepted, along with the current max.
func ErrCsvDelayTooLarge(remoteDelay, maxDelay uint16) *OpeningError {
	return newErrf(ErrKindCsvDelayTooLarge, "CSV delay too large: %v, "+
		"max is %v", remoteDelay, maxDelay)
}

// ErrChanReserveTooLarge returns an error indicating that the chan reserve
// the remote is requiring, is too large to be accepted.
func ErrChanReserveTooLarge(reserve,
	maxReserve btcutil.Amount) *OpeningError {

	return newErrf(ErrKindChanReserveTooLarge, "channel reserve is too "+
		"large: %v sat, max is %v sat", int64(reserve),
		int64(maxReserve))
}

// ErrChanReserveTooSmall returns an error indicating that the channel
// reserve the remote is requiring is too small to be accepted.
func ErrChanReserveTooSmall(reserve,
	dustLimit btcutil.Amount) *OpeningError {

	return newErrf(ErrKindChanReserveTooSmall, "channel reserve of %v "+
		"sat is too small, min is %v sat", int64(reserve),
		int64(dustLimit))
}

// ErrDustLimitTooSmall returns an error indicating the peer's dust limit is
// below the relay threshold.
func ErrDustLimitTooSmall(dustLimit,
	minDustLimit btcutil.Amount) *OpeningError {

	return newErrf(ErrKindDustLimitTooSmall, "dust limit of %v sat is "+
		"too small, min is %v sat", int64(dustLimit),
		int64(minDustLimit))
}

// ErrDustLimitTooLarge returns an error indicating the peer's dust limit is
// above what we accept.
func ErrDustLimitTooLarge(dustLimit,
	maxDustLimit btcutil.Amount) *OpeningError {

	return newErrf(ErrKindDustLimitTooLarge, "dust limit of %v sat is "+
		"too large, max is %v sat", int64(dustLimit),
		int64(maxDustLimit))
}

// ErrMinHtlcTooLarge returns an error indicating that the MinHTLC value the
// remote required is too large to be accepted.
func ErrMinHtlcTooLarge(minHtlc,
	maxMinHtlc lnwire.MilliSatoshi) *OpeningError {

	return newErrf(ErrKindMinHtlcTooLarge, "minimum HTLC value is too "+
		"large: %v, max is %v", minHtlc, maxMinHtlc)
}

// ErrMaxHtlcNumTooLarge returns an error indicating that the 'max HTLCs in
// flight' value the remote required is too large to be accepted.
func ErrMaxHtlcNumTooLarge(maxHtlc, maxMaxHtlc uint16) *OpeningError {
	return newErrf(ErrKindMaxHtlcNumTooLarge, "max HTLC number is too "+
		"large: %v, max is %v", maxHtlc, maxMaxHtlc)
}

// ErrMaxHtlcNumTooSmall returns an error indicating that the 'max HTLCs in
// flight' value the remote required is too small to be accepted.
func ErrMaxHtlcNumTooSmall(maxHtlc, minMaxHtlc uint16) *OpeningError {
	return newErrf(ErrKindMaxHtlcNumTooSmall, "max HTLC number is too "+
		"small: %v, min is %v", maxHtlc, minMaxHtlc)
}

// ErrMaxValueInFlightTooSmall returns an error indicating that the 'max HTLC
// value in flight' the remote required is too small to be accepted.
func ErrMaxValueInFlightTooSmall(maxValInFlight,
	minMaxValInFlight lnwire.MilliSatoshi) *OpeningError {

	return newErrf(ErrKindMaxValueInFlightTooSmall, "max value in "+
		"flight too small: %v, min is %v", maxValInFlight,
		minMaxValInFlight)
}

// ErrMissingKey returns an error naming a public key the peer left out.
func ErrMissingKey(name string) *OpeningError {
	return newErrf(ErrKindMissingKey, "%s is missing", name)
}

// ErrTempIDMismatch returns an error indicating a message for another
// pending channel.
func ErrTempIDMismatch(got, want [32]byte) *OpeningError {
	return newErrf(ErrKindTempIDMismatch, "temporary channel id "+
		"mismatch: got %x, want %x", got[:], want[:])
}

// ErrChanIDMismatch returns an error indicating a message for another
// channel.
func ErrChanIDMismatch(got, want lnwire.ChannelID) *OpeningError {
	return newErrf(ErrKindChanIDMismatch, "channel id mismatch: got %v, "+
		"want %v", got, want)
}

// ErrInvalidCommitSig returns an error indicating the peer's signature for
// our commitment transaction does not verify.
func ErrInvalidCommitSig(reason error) *OpeningError {
	return newErrf(ErrKindInvalidSignature, "invalid commitment "+
		"signature: %v", reason)
}

// ErrInsufficientFunds returns an error indicating the wallet cannot fund a
// channel of the given size.
func ErrInsufficientFunds(amt btcutil.Amount) *OpeningError {
	return newErrf(ErrKindInsufficientFunds, "wallet has insufficient "+
		"funds for %v", amt)
}

// ErrChanTooSmall returns an error indicating that an incoming channel
// request was too small.
func ErrChanTooSmall(chanSize, minChanSize btcutil.Amount) *OpeningError {
	return newErrf(ErrKindChanSize, "chan size of %v is below min chan "+
		"size of %v", chanSize, minChanSize)
}

// ErrChanTooLarge returns an error indicating that an incoming channel
// request was too large.
func ErrChanTooLarge(chanSize, maxChanSize btcutil.Amount) *OpeningError {
	return newErrf(ErrKindChanSize, "chan size of %v exceeds maximum "+
		"chan size of %v", chanSize, maxChanSize)
}

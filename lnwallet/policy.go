package lnwallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnchan/lnwire"
)

const (
	// MaxHTLCNumber is the protocol maximum of HTLCs a party may accept.
	MaxHTLCNumber = 483

	// DefaultMaxMinimumDepth is the largest number of confirmations we
	// are willing to wait for before using a channel.
	DefaultMaxMinimumDepth = 6

	// DefaultMaxToSelfDelay is the largest CSV delay we let the peer
	// impose on our to_local output.
	DefaultMaxToSelfDelay = 2016

	// DefaultMaxReserveRatio is the largest reserve, in percent of the
	// capacity, we let the peer require from us.
	DefaultMaxReserveRatio = 20

	// DefaultMaxDustLimit is the largest dust limit we accept from the
	// peer.
	DefaultMaxDustLimit = btcutil.Amount(20_000)

	// DefaultMinChanSize is the smallest channel we open.
	DefaultMinChanSize = btcutil.Amount(20_000)

	// DefaultMaxChanSize is the largest channel we open without large
	// channel support.
	DefaultMaxChanSize = btcutil.Amount(1<<24) - 1

	// DefaultConfTarget is the confirmation target the funding fee rate
	// is estimated for.
	DefaultConfTarget = 6
)

// ChannelPolicy holds the limits we check the peer's accept_channel against
// and the constraints we propose in open_channel.
type ChannelPolicy struct {
	MinChanSize btcutil.Amount `long:"minchansize" description:"The smallest channel size (in satoshis) we open"`
	MaxChanSize btcutil.Amount `long:"maxchansize" description:"The largest channel size (in satoshis) we open"`

	MaxMinimumDepth uint32 `long:"maxminimumdepth" description:"The largest number of funding confirmations a peer may require"`
	MaxToSelfDelay  uint16 `long:"maxtoselfdelay" description:"The largest CSV delay a peer may impose on our outputs"`
	MaxReserveRatio uint32 `long:"maxreserveratio" description:"The largest reserve a peer may require from us, in percent of the capacity"`

	MaxDustLimit        btcutil.Amount      `long:"maxdustlimit" description:"The largest dust limit (in satoshis) we accept from a peer"`
	MinMaxValueInFlight lnwire.MilliSatoshi `long:"minmaxvalueinflight" description:"The smallest max-in-flight value (in msat) we accept from a peer"`

	ConfTarget uint32 `long:"conftarget" description:"The confirmation target used to estimate the funding fee rate"`

	LocalMinHtlc           lnwire.MilliSatoshi `long:"minhtlc" description:"The smallest HTLC (in msat) we accept"`
	LocalMaxAcceptedHtlcs  uint16              `long:"maxacceptedhtlcs" description:"The number of HTLCs we accept at once"`
	LocalMaxValueInFlight  lnwire.MilliSatoshi `long:"maxvalueinflight" description:"The value of HTLCs (in msat) we accept at once, 0 uses the capacity"`
	RemoteReserveRatio     uint32              `long:"reserveratio" description:"The reserve we require from the peer, in percent of the capacity"`
	RemoteToSelfDelay      uint16              `long:"toselfdelay" description:"The CSV delay we impose on the peer's outputs"`
	AnnounceChannelDefault bool                `long:"public" description:"Announce new channels by default"`
}

// DefaultChannelPolicy returns the policy used when none is configured.
func DefaultChannelPolicy() *ChannelPolicy {
	return &ChannelPolicy{
		MinChanSize:           DefaultMinChanSize,
		MaxChanSize:           DefaultMaxChanSize,
		MaxMinimumDepth:       DefaultMaxMinimumDepth,
		MaxToSelfDelay:        DefaultMaxToSelfDelay,
		MaxReserveRatio:       DefaultMaxReserveRatio,
		MaxDustLimit:          DefaultMaxDustLimit,
		MinMaxValueInFlight:   1000,
		ConfTarget:            DefaultConfTarget,
		LocalMinHtlc:          1000,
		LocalMaxAcceptedHtlcs: MaxHTLCNumber,
		RemoteReserveRatio:    1,
		RemoteToSelfDelay:     144,
	}
}

// Validate checks the policy for values that would reject every peer.
func (p *ChannelPolicy) Validate() error {
	switch {
	case p.MinChanSize > p.MaxChanSize:
		return fmt.Errorf("minchansize %v above maxchansize %v",
			p.MinChanSize, p.MaxChanSize)

	case p.MaxMinimumDepth == 0:
		return fmt.Errorf("maxminimumdepth must be positive")

	case p.MaxReserveRatio == 0 || p.MaxReserveRatio > 100:
		return fmt.Errorf("maxreserveratio must be in (0, 100], got %d",
			p.MaxReserveRatio)

	case p.RemoteReserveRatio > 100:
		return fmt.Errorf("reserveratio must be at most 100, got %d",
			p.RemoteReserveRatio)

	case p.LocalMaxAcceptedHtlcs == 0 ||
		p.LocalMaxAcceptedHtlcs > MaxHTLCNumber:

		return fmt.Errorf("maxacceptedhtlcs must be in [1, %d], got %d",
			MaxHTLCNumber, p.LocalMaxAcceptedHtlcs)

	case p.ConfTarget == 0:
		return fmt.Errorf("conftarget must be positive")
	}

	return nil
}

// RemoteReserve returns the reserve we require from the peer on a channel of
// the given capacity. It is never below dustLimit.
func (p *ChannelPolicy) RemoteReserve(capacity,
	dustLimit btcutil.Amount) btcutil.Amount {

	reserve := capacity * btcutil.Amount(p.RemoteReserveRatio) / 100
	if reserve < dustLimit {
		reserve = dustLimit
	}

	return reserve
}

// maxReserve returns the largest reserve the peer may require from us.
func (p *ChannelPolicy) maxReserve(capacity btcutil.Amount) btcutil.Amount {
	return capacity * btcutil.Amount(p.MaxReserveRatio) / 100
}

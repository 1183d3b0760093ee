package channeldb

import (
	"bytes"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnchan/input"
	"github.com/lightningnetwork/lnchan/lnwallet/chainfee"
	"github.com/lightningnetwork/lnchan/lnwire"
	"github.com/lightningnetwork/lnchan/shachain"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ChannelSide holds the parameters and commitment state of one party of a
// channel. Limits stored on a side are the ones that party's commitment
// transaction is subject to.
type ChannelSide struct {
	// Balance is the amount this side owns in the channel.
	Balance lnwire.MilliSatoshi

	// DustLimit is the value below which outputs are trimmed from this
	// side's commitment transaction.
	DustLimit btcutil.Amount

	// MinHtlcValue is the smallest HTLC this side will accept.
	MinHtlcValue lnwire.MilliSatoshi

	// MaxAcceptedHtlcs caps the number of HTLCs offered to this side.
	MaxAcceptedHtlcs uint16

	// MaxInFlightHtlcValue caps the value of outstanding HTLCs offered to
	// this side.
	MaxInFlightHtlcValue lnwire.MilliSatoshi

	// ChannelReserve is the amount this side must keep in the channel.
	// It is imposed by the other party.
	ChannelReserve btcutil.Amount

	// ToSelfDelayBlocks is the CSV delay on this side's to_local output.
	// It is imposed by the other party.
	ToSelfDelayBlocks uint16

	// NextCommitmentNumber is the number of the next commitment
	// transaction of this side. It never decreases.
	NextCommitmentNumber uint64

	// NextCommitmentPoint is the per-commitment point for
	// NextCommitmentNumber.
	NextCommitmentPoint *btcec.PublicKey

	// NextCommitmentSig is the counterparty's signature for this side's
	// next commitment transaction, once received.
	NextCommitmentSig fn.Option[lnwire.Sig]

	FundingPubKey           *btcec.PublicKey
	PaymentBasePoint        *btcec.PublicKey
	DelayedPaymentBasePoint *btcec.PublicKey
	HtlcBasePoint           *btcec.PublicKey
	RevocationBasePoint     *btcec.PublicKey
}

// ChannelKeys is the local secret key material of a channel.
type ChannelKeys struct {
	FundingKey                    *btcec.PrivateKey
	PaymentBasePointSecret        *btcec.PrivateKey
	DelayedPaymentBasePointSecret *btcec.PrivateKey
	HtlcBasePointSecret           *btcec.PrivateKey
	RevocationBasePointSecret     *btcec.PrivateKey

	// PerCommitmentSeed is the shachain root our per-commitment secrets
	// are derived from.
	PerCommitmentSeed [32]byte
}

func (k *ChannelKeys) complete() bool {
	return k.FundingKey != nil && k.PaymentBasePointSecret != nil &&
		k.DelayedPaymentBasePointSecret != nil &&
		k.HtlcBasePointSecret != nil &&
		k.RevocationBasePointSecret != nil
}

// ChannelConfig is the set of parameters a new outbound channel is created
// with, before the peer has replied to open_channel.
type ChannelConfig struct {
	PeerID        *btcec.PublicKey
	ChainHash     chainhash.Hash
	TemporaryID   [32]byte
	IsFunder      bool
	IsPublic      bool
	FundingAmount btcutil.Amount
	PushAmount    lnwire.MilliSatoshi
	FeeRatePerKw  chainfee.SatPerKWeight

	// Limits on our commitment transaction.
	OurDustLimit            btcutil.Amount
	OurMinHtlcValue         lnwire.MilliSatoshi
	OurMaxAcceptedHtlcs     uint16
	OurMaxInFlightHtlcValue lnwire.MilliSatoshi

	// Requirements we impose on the peer.
	TheirChannelReserve btcutil.Amount
	TheirToSelfDelay    uint16

	Keys ChannelKeys
}

// Channel is the state of a single channel throughout the opening
// lifecycle. A Channel is owned by exactly one goroutine at a time; none of
// its methods are safe for concurrent use.
type Channel struct {
	// PeerID is the identity key of the counterparty.
	PeerID *btcec.PublicKey

	// ChainHash is the genesis hash of the chain the channel lives on.
	ChainHash chainhash.Hash

	// TemporaryID identifies the channel until the funding outpoint is
	// known.
	TemporaryID [32]byte

	// ChannelID is the permanent id derived from the funding outpoint. It
	// is assigned once.
	ChannelID fn.Option[lnwire.ChannelID]

	IsFunder      bool
	IsPublic      bool
	FundingAmount btcutil.Amount
	PushAmount    lnwire.MilliSatoshi
	FeeRatePerKw  chainfee.SatPerKWeight

	// MinimumDepth is the number of confirmations the peer requires
	// before the channel can be used.
	MinimumDepth uint32

	OurSide   ChannelSide
	TheirSide ChannelSide

	Keys ChannelKeys

	// FundingTx is the funding transaction. Once attached it is never
	// replaced.
	FundingTx fn.Option[*wire.MsgTx]

	// FundingOutPoint is the 2-of-2 output of FundingTx.
	FundingOutPoint fn.Option[wire.OutPoint]

	// FundingConfirmedHeight is the height of the block that included the
	// funding transaction. Once set it is never cleared.
	FundingConfirmedHeight fn.Option[uint32]

	// ReadyHeight is the first height at which the funding transaction has
	// MinimumDepth confirmations.
	ReadyHeight fn.Option[uint32]

	// HasChannelReady is true once the peer's channel_ready was received.
	HasChannelReady bool

	// LastUpdate is stamped after every persisted transition.
	LastUpdate time.Time
}

// NewChannel creates the pre-funding state of an outbound channel. Balances
// are split according to the push amount and our commitment point for
// commitment zero is derived from the per-commitment seed.
func NewChannel(cfg *ChannelConfig) (*Channel, error) {
	capacity := lnwire.NewMSatFromSatoshis(cfg.FundingAmount)
	if cfg.PushAmount > capacity {
		return nil, fmt.Errorf("%w: push=%v funding=%v",
			ErrPushExceedsFunding, cfg.PushAmount,
			cfg.FundingAmount)
	}
	if cfg.PeerID == nil || !cfg.Keys.complete() {
		return nil, ErrMissingKeys
	}

	keys := cfg.Keys
	var (
		paymentBase = keys.PaymentBasePointSecret.PubKey()
		delayedBase = keys.DelayedPaymentBasePointSecret.PubKey()
		htlcBase    = keys.HtlcBasePointSecret.PubKey()
		revokeBase  = keys.RevocationBasePointSecret.PubKey()
	)
	c := &Channel{
		PeerID:        cfg.PeerID,
		ChainHash:     cfg.ChainHash,
		TemporaryID:   cfg.TemporaryID,
		IsFunder:      cfg.IsFunder,
		IsPublic:      cfg.IsPublic,
		FundingAmount: cfg.FundingAmount,
		PushAmount:    cfg.PushAmount,
		FeeRatePerKw:  cfg.FeeRatePerKw,
		OurSide: ChannelSide{
			Balance:                 capacity - cfg.PushAmount,
			DustLimit:               cfg.OurDustLimit,
			MinHtlcValue:            cfg.OurMinHtlcValue,
			MaxAcceptedHtlcs:        cfg.OurMaxAcceptedHtlcs,
			MaxInFlightHtlcValue:    cfg.OurMaxInFlightHtlcValue,
			FundingPubKey:           keys.FundingKey.PubKey(),
			PaymentBasePoint:        paymentBase,
			DelayedPaymentBasePoint: delayedBase,
			HtlcBasePoint:           htlcBase,
			RevocationBasePoint:     revokeBase,
		},
		TheirSide: ChannelSide{
			Balance:           cfg.PushAmount,
			ChannelReserve:    cfg.TheirChannelReserve,
			ToSelfDelayBlocks: cfg.TheirToSelfDelay,
		},
		Keys: keys,
	}

	point, err := c.NextPerCommitmentPoint(0)
	if err != nil {
		return nil, err
	}
	c.OurSide.NextCommitmentPoint = point

	return c, nil
}

// NextPerCommitmentPoint returns our per-commitment point for the given
// commitment number.
func (c *Channel) NextPerCommitmentPoint(n uint64) (*btcec.PublicKey,
	error) {

	producer := shachain.NewRevocationProducer(
		chainhash.Hash(c.Keys.PerCommitmentSeed),
	)
	secret, err := producer.AtIndex(n)
	if err != nil {
		return nil, fmt.Errorf("unable to derive commitment secret "+
			"%d: %w", n, err)
	}

	return input.ComputeCommitmentPoint(secret[:]), nil
}

// Capacity returns the funding amount in millisatoshis.
func (c *Channel) Capacity() lnwire.MilliSatoshi {
	return lnwire.NewMSatFromSatoshis(c.FundingAmount)
}

// AttachAcceptChannel records the parameters the peer sent in
// accept_channel. Reserve and to-self delay are requirements the peer
// places on our commitment, the remaining limits apply to theirs.
func (c *Channel) AttachAcceptChannel(msg *lnwire.AcceptChannel) {
	c.MinimumDepth = msg.MinAcceptDepth

	c.OurSide.ChannelReserve = msg.ChannelReserve
	c.OurSide.ToSelfDelayBlocks = msg.CsvDelay

	c.TheirSide.DustLimit = msg.DustLimit
	c.TheirSide.MinHtlcValue = msg.HtlcMinimum
	c.TheirSide.MaxInFlightHtlcValue = msg.MaxValueInFlight
	c.TheirSide.MaxAcceptedHtlcs = msg.MaxAcceptedHTLCs
	c.TheirSide.FundingPubKey = msg.FundingKey
	c.TheirSide.PaymentBasePoint = msg.PaymentPoint
	c.TheirSide.DelayedPaymentBasePoint = msg.DelayedPaymentPoint
	c.TheirSide.HtlcBasePoint = msg.HtlcPoint
	c.TheirSide.RevocationBasePoint = msg.RevocationPoint
	c.TheirSide.NextCommitmentNumber = 0
	c.TheirSide.NextCommitmentPoint = msg.FirstCommitmentPoint
}

// FundingScript returns the 2-of-2 witness script of the funding output and
// the output itself.
func (c *Channel) FundingScript() ([]byte, *wire.TxOut, error) {
	if c.TheirSide.FundingPubKey == nil {
		return nil, nil, ErrTheirKeysUnknown
	}

	return input.GenFundingPkScript(
		c.OurSide.FundingPubKey.SerializeCompressed(),
		c.TheirSide.FundingPubKey.SerializeCompressed(),
		int64(c.FundingAmount),
	)
}

// AttachFundingTx records the funding transaction, locates its funding
// output and assigns the permanent channel id. A funding transaction can
// only be attached once.
func (c *Channel) AttachFundingTx(tx *wire.MsgTx) error {
	if c.FundingTx.IsSome() {
		return ErrFundingTxAttached
	}
	if c.ChannelID.IsSome() {
		return ErrChannelIDAssigned
	}

	_, txOut, err := c.FundingScript()
	if err != nil {
		return err
	}

	found, index := input.FindScriptOutputIndex(tx, txOut.PkScript)
	if !found {
		return ErrFundingOutputNotFound
	}

	outPoint := wire.OutPoint{
		Hash:  tx.TxHash(),
		Index: index,
	}
	chanID, err := lnwire.NewChanIDFromOutPoint(outPoint)
	if err != nil {
		return err
	}

	c.FundingTx = fn.Some(tx)
	c.FundingOutPoint = fn.Some(outPoint)
	c.ChannelID = fn.Some(chanID)

	return nil
}

// AttachFundingSigned records the peer's signature for our first commitment
// transaction.
func (c *Channel) AttachFundingSigned(msg *lnwire.FundingSigned) {
	c.OurSide.NextCommitmentSig = fn.Some(msg.CommitSig)
}

// AttachChannelReady records the peer's point for its next commitment and
// marks the peer as ready.
func (c *Channel) AttachChannelReady(msg *lnwire.ChannelReady) error {
	if err := c.advanceTheirCommitment(1); err != nil {
		return err
	}

	c.TheirSide.NextCommitmentPoint = msg.NextPerCommitmentPoint
	c.HasChannelReady = true

	return nil
}

// advanceTheirCommitment moves the remote commitment number forward to n.
// Setting it to its current value is a no-op so that a repeated
// channel_ready is harmless.
func (c *Channel) advanceTheirCommitment(n uint64) error {
	if n < c.TheirSide.NextCommitmentNumber {
		return fmt.Errorf("%w: %d -> %d", ErrCommitNumberDecrease,
			c.TheirSide.NextCommitmentNumber, n)
	}
	c.TheirSide.NextCommitmentNumber = n

	return nil
}

// MarkConfirmed records the height the funding transaction confirmed at and
// the height at which it reaches the minimum depth.
func (c *Channel) MarkConfirmed(height uint32) error {
	if c.FundingConfirmedHeight.IsSome() {
		return ErrAlreadyConfirmed
	}

	depth := c.MinimumDepth
	if depth == 0 {
		depth = 1
	}

	c.FundingConfirmedHeight = fn.Some(height)
	c.ReadyHeight = fn.Some(height + depth - 1)

	return nil
}

// IsConfirmed returns true once the funding transaction was seen in a block.
func (c *Channel) IsConfirmed() bool {
	return c.FundingConfirmedHeight.IsSome()
}

// CheckInvariants verifies that the channel's balances still add up to its
// capacity.
func (c *Channel) CheckInvariants() error {
	capacity := c.Capacity()
	if c.OurSide.Balance+c.TheirSide.Balance != capacity {
		return &ErrBalanceMismatch{
			Ours:     uint64(c.OurSide.Balance),
			Theirs:   uint64(c.TheirSide.Balance),
			Capacity: uint64(capacity),
		}
	}

	return nil
}

// ID returns the permanent channel id if it is known and the temporary id
// otherwise.
func (c *Channel) ID() [32]byte {
	return [32]byte(c.ChannelID.UnwrapOr(
		lnwire.ChannelID(c.TemporaryID),
	))
}

// Copy returns a deep enough copy of the channel for read-only snapshots.
// Keys and transactions are shared, they are never mutated in place.
func (c *Channel) Copy() *Channel {
	cp := *c

	return &cp
}

// String returns a short description of the channel for log messages.
func (c *Channel) String() string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "temp_id=%x", c.TemporaryID[:])
	c.ChannelID.WhenSome(func(id lnwire.ChannelID) {
		fmt.Fprintf(&b, " chan_id=%v", id)
	})
	c.FundingOutPoint.WhenSome(func(op wire.OutPoint) {
		fmt.Fprintf(&b, " chan_point=%v", op)
	})

	return b.String()
}

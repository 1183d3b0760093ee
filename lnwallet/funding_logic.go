package lnwallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnchan/channeldb"
	"github.com/lightningnetwork/lnchan/lnutils"
	"github.com/lightningnetwork/lnchan/lnwallet/chainfee"
	"github.com/lightningnetwork/lnchan/lnwire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrNoFundingTx is returned when an operation needs the funding
	// transaction before it was attached.
	ErrNoFundingTx = errors.New("funding transaction not attached")
)

// IsOpeningError returns true if err is an OpeningError of one of the given
// kinds. With no kinds, any OpeningError matches.
func IsOpeningError(err error, kinds ...OpeningErrorKind) bool {
	var openErr *OpeningError
	if !errors.As(err, &openErr) {
		return false
	}

	if len(kinds) == 0 {
		return true
	}

	for _, kind := range kinds {
		if openErr.Kind == kind {
			return true
		}
	}

	return false
}

// Config bundles the collaborators of FundingLogic.
type Config struct {
	// Wallet funds channels and derives channel keys.
	Wallet Wallet

	// Messenger sends messages to peers.
	Messenger PeerMessenger

	// FeeEstimator provides the fee rate new channels are opened with.
	FeeEstimator chainfee.Estimator

	// Policy holds the limits the peer's parameters are checked against.
	Policy *ChannelPolicy

	// ChainHash is the genesis hash of the chain channels are opened on.
	ChainHash chainhash.Hash
}

// FundingLogic is the default implementation of the effectful operations of
// the channel opening flow: it checks the peer's messages against our
// policy, builds and signs the funding and commitment transactions and hands
// messages and transactions to the peer and the wallet.
type FundingLogic struct {
	cfg *Config
}

// NewFundingLogic creates a FundingLogic from the given config. A nil policy
// is replaced by DefaultChannelPolicy.
func NewFundingLogic(cfg *Config) *FundingLogic {
	if cfg.Policy == nil {
		cfg.Policy = DefaultChannelPolicy()
	}

	return &FundingLogic{
		cfg: cfg,
	}
}

// Policy returns the channel policy in use.
func (f *FundingLogic) Policy() *ChannelPolicy {
	return f.cfg.Policy
}

// CreateOpenChannel builds the open_channel message proposing the channel.
func (f *FundingLogic) CreateOpenChannel(_ context.Context,
	c *channeldb.Channel) (*lnwire.OpenChannel, error) {

	if c.OurSide.NextCommitmentPoint == nil {
		return nil, fmt.Errorf("first commitment point unknown")
	}

	var flags lnwire.FundingFlag
	if c.IsPublic {
		flags |= lnwire.FFAnnounceChannel
	}

	return &lnwire.OpenChannel{
		ChainHash:            c.ChainHash,
		PendingChannelID:     c.TemporaryID,
		FundingAmount:        c.FundingAmount,
		PushAmount:           c.PushAmount,
		DustLimit:            c.OurSide.DustLimit,
		MaxValueInFlight:     c.OurSide.MaxInFlightHtlcValue,
		ChannelReserve:       c.TheirSide.ChannelReserve,
		HtlcMinimum:          c.OurSide.MinHtlcValue,
		FeePerKiloWeight:     uint32(c.FeeRatePerKw),
		CsvDelay:             c.TheirSide.ToSelfDelayBlocks,
		MaxAcceptedHTLCs:     c.OurSide.MaxAcceptedHtlcs,
		FundingKey:           c.OurSide.FundingPubKey,
		RevocationPoint:      c.OurSide.RevocationBasePoint,
		PaymentPoint:         c.OurSide.PaymentBasePoint,
		DelayedPaymentPoint:  c.OurSide.DelayedPaymentBasePoint,
		HtlcPoint:            c.OurSide.HtlcBasePoint,
		FirstCommitmentPoint: c.OurSide.NextCommitmentPoint,
		ChannelFlags:         flags,
	}, nil
}

// ValidateAcceptChannel checks the peer's accept_channel against our
// channel policy and the limits we proposed in open_channel. A rejection is
// returned in the Result, the error is reserved for faults.
func (f *FundingLogic) ValidateAcceptChannel(_ context.Context,
	c *channeldb.Channel,
	msg *lnwire.AcceptChannel) (fn.Result[*lnwire.AcceptChannel], error) {

	walletLog.Tracef("ChannelPoint(%v): received accept_channel: %v", c,
		lnutils.SpewLogClosure(msg))

	if err := f.checkAcceptChannel(c, msg); err != nil {
		walletLog.Debugf("ChannelPoint(%v): rejecting "+
			"accept_channel: %v", c, err)

		return fn.Err[*lnwire.AcceptChannel](err), nil
	}

	return fn.Ok(msg), nil
}

func (f *FundingLogic) checkAcceptChannel(c *channeldb.Channel,
	msg *lnwire.AcceptChannel) error {

	policy := f.cfg.Policy

	if msg.PendingChannelID != c.TemporaryID {
		return ErrTempIDMismatch(msg.PendingChannelID, c.TemporaryID)
	}

	// We'll want to quickly check that the minimum depth the peer asks
	// for is within our accepted bounds.
	if msg.MinAcceptDepth > policy.MaxMinimumDepth {
		return ErrNumConfsTooLarge(
			msg.MinAcceptDepth, policy.MaxMinimumDepth,
		)
	}
	if msg.MinAcceptDepth == 0 {
		return ErrZeroMinDepth()
	}

	if msg.CsvDelay > policy.MaxToSelfDelay {
		return ErrCsvDelayTooLarge(msg.CsvDelay, policy.MaxToSelfDelay)
	}

	maxReserve := policy.maxReserve(c.FundingAmount)
	if msg.ChannelReserve > maxReserve {
		return ErrChanReserveTooLarge(msg.ChannelReserve, maxReserve)
	}

	// The reserve the peer requires from us must be above our dust limit,
	// otherwise our to_local output could be trimmed while we still owe
	// the reserve.
	if msg.ChannelReserve < c.OurSide.DustLimit {
		return ErrChanReserveTooSmall(
			msg.ChannelReserve, c.OurSide.DustLimit,
		)
	}

	minDust := DustLimitUnknownWitness()
	if msg.DustLimit < minDust {
		return ErrDustLimitTooSmall(msg.DustLimit, minDust)
	}
	if msg.DustLimit > policy.MaxDustLimit {
		return ErrDustLimitTooLarge(msg.DustLimit, policy.MaxDustLimit)
	}

	// Their dust limit can't exceed the reserve we require from them.
	if msg.DustLimit > c.TheirSide.ChannelReserve {
		return ErrDustLimitTooLarge(
			msg.DustLimit, c.TheirSide.ChannelReserve,
		)
	}

	maxMinHtlc := lnwire.NewMSatFromSatoshis(
		c.FundingAmount - msg.ChannelReserve,
	)
	if msg.HtlcMinimum > maxMinHtlc {
		return ErrMinHtlcTooLarge(msg.HtlcMinimum, maxMinHtlc)
	}

	if msg.MaxAcceptedHTLCs > MaxHTLCNumber {
		return ErrMaxHtlcNumTooLarge(
			msg.MaxAcceptedHTLCs, MaxHTLCNumber,
		)
	}
	if msg.MaxAcceptedHTLCs == 0 {
		return ErrMaxHtlcNumTooSmall(msg.MaxAcceptedHTLCs, 1)
	}

	if msg.MaxValueInFlight < policy.MinMaxValueInFlight {
		return ErrMaxValueInFlightTooSmall(
			msg.MaxValueInFlight, policy.MinMaxValueInFlight,
		)
	}

	keys := []struct {
		name string
		key  *btcec.PublicKey
	}{
		{"funding_pubkey", msg.FundingKey},
		{"revocation_basepoint", msg.RevocationPoint},
		{"payment_basepoint", msg.PaymentPoint},
		{"delayed_payment_basepoint", msg.DelayedPaymentPoint},
		{"htlc_basepoint", msg.HtlcPoint},
		{"first_per_commitment_point", msg.FirstCommitmentPoint},
	}
	for _, k := range keys {
		if k.key == nil {
			return ErrMissingKey(k.name)
		}
	}

	return nil
}

// CreateFundingTx asks the wallet for a transaction paying the channel
// capacity to the 2-of-2 funding output.
func (f *FundingLogic) CreateFundingTx(ctx context.Context,
	c *channeldb.Channel) (*wire.MsgTx, error) {

	_, fundingOutput, err := c.FundingScript()
	if err != nil {
		return nil, err
	}

	tx, err := f.cfg.Wallet.FundTx(ctx, fundingOutput, c.FeeRatePerKw)
	if err != nil {
		return nil, fmt.Errorf("unable to fund channel: %w", err)
	}

	walletLog.DebugS(ctx, "Funding transaction created",
		lnutils.LogID("temp_id", c.TemporaryID),
		"txid", tx.TxHash(),
		"capacity", c.FundingAmount)

	return tx, nil
}

// CreateRemoteCommitmentTx builds the peer's first commitment transaction.
func (f *FundingLogic) CreateRemoteCommitmentTx(_ context.Context,
	c *channeldb.Channel) (*wire.MsgTx, error) {

	return CreateRemoteCommitTx(c)
}

// commitSigHash returns the BIP 143 digest a commitment transaction is
// signed over by both funding keys.
func commitSigHash(c *channeldb.Channel, tx *wire.MsgTx) ([]byte, error) {
	witnessScript, fundingOutput, err := c.FundingScript()
	if err != nil {
		return nil, err
	}

	prevOutFetcher := txscript.NewCannedPrevOutputFetcher(
		fundingOutput.PkScript, fundingOutput.Value,
	)
	sigHashes := txscript.NewTxSigHashes(tx, prevOutFetcher)

	return txscript.CalcWitnessSigHash(
		witnessScript, sigHashes, txscript.SigHashAll, tx, 0,
		fundingOutput.Value,
	)
}

// SignCommitmentTx signs a commitment transaction with our funding key.
func (f *FundingLogic) SignCommitmentTx(_ context.Context,
	c *channeldb.Channel, tx *wire.MsgTx) (lnwire.Sig, error) {

	sigHash, err := commitSigHash(c, tx)
	if err != nil {
		return lnwire.Sig{}, err
	}

	sig := ecdsa.Sign(c.Keys.FundingKey, sigHash)

	return lnwire.NewSigFromSignature(sig)
}

// VerifyCommitSig checks that sig is the peer's valid signature for our
// next commitment transaction.
func VerifyCommitSig(c *channeldb.Channel, sig lnwire.Sig) error {
	commitTx, err := CreateLocalCommitTx(c)
	if err != nil {
		return err
	}

	sigHash, err := commitSigHash(c, commitTx)
	if err != nil {
		return err
	}

	parsed, err := sig.ToSignature()
	if err != nil {
		return ErrInvalidCommitSig(err)
	}

	if !parsed.Verify(sigHash, c.TheirSide.FundingPubKey) {
		return ErrInvalidCommitSig(
			fmt.Errorf("signature does not match funding key"),
		)
	}

	return nil
}

// CreateFundingCreated builds the funding_created message carrying our
// signature for the peer's commitment transaction.
func (f *FundingLogic) CreateFundingCreated(_ context.Context,
	c *channeldb.Channel, sig lnwire.Sig) (*lnwire.FundingCreated, error) {

	outPoint, err := c.FundingOutPoint.UnwrapOrErr(ErrNoFundingTx)
	if err != nil {
		return nil, err
	}

	return &lnwire.FundingCreated{
		PendingChannelID: c.TemporaryID,
		FundingPoint:     outPoint,
		CommitSig:        sig,
	}, nil
}

// ValidateFundingSigned checks that funding_signed is for our channel and
// carries a valid signature for our first commitment transaction.
func (f *FundingLogic) ValidateFundingSigned(_ context.Context,
	c *channeldb.Channel,
	msg *lnwire.FundingSigned) (fn.Result[*lnwire.FundingSigned], error) {

	chanID, err := c.ChannelID.UnwrapOrErr(ErrNoFundingTx)
	if err != nil {
		return fn.Result[*lnwire.FundingSigned]{}, err
	}

	if msg.ChanID != chanID {
		return fn.Err[*lnwire.FundingSigned](
			ErrChanIDMismatch(msg.ChanID, chanID),
		), nil
	}

	err = VerifyCommitSig(c, msg.CommitSig)
	switch {
	case IsOpeningError(err):
		walletLog.Debugf("ChannelPoint(%v): rejecting funding_signed: "+
			"%v", c, err)

		return fn.Err[*lnwire.FundingSigned](err), nil

	case err != nil:
		return fn.Result[*lnwire.FundingSigned]{}, err
	}

	return fn.Ok(msg), nil
}

// BroadcastTx publishes tx through the wallet.
func (f *FundingLogic) BroadcastTx(ctx context.Context,
	tx *wire.MsgTx) error {

	walletLog.InfoS(ctx, "Broadcasting transaction", "txid", tx.TxHash())

	return f.cfg.Wallet.BroadcastTx(ctx, tx)
}

// CreateChannelReady builds our channel_ready message. It carries the point
// of our commitment number 1, the first one after the funding commitment.
func (f *FundingLogic) CreateChannelReady(_ context.Context,
	c *channeldb.Channel) (*lnwire.ChannelReady, error) {

	chanID, err := c.ChannelID.UnwrapOrErr(ErrNoFundingTx)
	if err != nil {
		return nil, err
	}

	nextPoint, err := c.NextPerCommitmentPoint(1)
	if err != nil {
		return nil, err
	}

	return lnwire.NewChannelReady(chanID, nextPoint), nil
}

// ValidateChannelReady checks that channel_ready is for our channel and
// carries the peer's next commitment point.
func (f *FundingLogic) ValidateChannelReady(_ context.Context,
	c *channeldb.Channel,
	msg *lnwire.ChannelReady) (fn.Result[*lnwire.ChannelReady], error) {

	chanID, err := c.ChannelID.UnwrapOrErr(ErrNoFundingTx)
	if err != nil {
		return fn.Result[*lnwire.ChannelReady]{}, err
	}

	if msg.ChanID != chanID {
		return fn.Err[*lnwire.ChannelReady](
			ErrChanIDMismatch(msg.ChanID, chanID),
		), nil
	}

	if msg.NextPerCommitmentPoint == nil {
		return fn.Err[*lnwire.ChannelReady](
			ErrMissingKey("next_per_commitment_point"),
		), nil
	}

	return fn.Ok(msg), nil
}

// SendMessage sends msg to peer.
func (f *FundingLogic) SendMessage(ctx context.Context,
	peer *btcec.PublicKey, msg lnwire.Message) error {

	walletLog.DebugS(ctx, "Sending message",
		lnutils.LogPubKey("peer", peer),
		"msg_type", msg.MsgType())

	return f.cfg.Messenger.SendMessage(ctx, peer, msg)
}

// fundingFeeRate returns the fee rate new channels are opened with. It is
// never below the estimator's relay fee nor the fee floor.
func (f *FundingLogic) fundingFeeRate() (chainfee.SatPerKWeight, error) {
	feeRate, err := f.cfg.FeeEstimator.EstimateFeePerKW(
		f.cfg.Policy.ConfTarget,
	)
	if err != nil {
		return 0, fmt.Errorf("unable to estimate fee rate: %w", err)
	}

	floor := max(
		chainfee.FeePerKwFloor, f.cfg.FeeEstimator.RelayFeePerKW(),
	)
	if feeRate < floor {
		feeRate = floor
	}

	return feeRate, nil
}

// capacityBounds checks a requested channel size against our policy.
func (f *FundingLogic) capacityBounds(amt btcutil.Amount) error {
	policy := f.cfg.Policy
	if amt < policy.MinChanSize {
		return ErrChanTooSmall(amt, policy.MinChanSize)
	}
	if amt > policy.MaxChanSize {
		return ErrChanTooLarge(amt, policy.MaxChanSize)
	}

	return nil
}

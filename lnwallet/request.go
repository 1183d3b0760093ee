package lnwallet

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnchan/channeldb"
	"github.com/lightningnetwork/lnchan/lnutils"
	"github.com/lightningnetwork/lnchan/lnwire"
)

// OpenChannelRequest describes an outbound channel a user asked for.
type OpenChannelRequest struct {
	// PeerID is the identity key of the peer to open the channel with.
	PeerID *btcec.PublicKey

	// FundingAmount is the capacity of the channel.
	FundingAmount btcutil.Amount

	// PushAmount is given to the peer in the first commitment.
	PushAmount lnwire.MilliSatoshi

	// Private keeps the channel out of the public graph.
	Private bool
}

// CreateChannel derives the keys of a new outbound channel and creates its
// pre-funding state. The request is checked against our policy and the
// wallet balance first.
func (f *FundingLogic) CreateChannel(ctx context.Context,
	req *OpenChannelRequest) (*channeldb.Channel, error) {

	if req.PeerID == nil {
		return nil, fmt.Errorf("peer id required")
	}
	if err := f.capacityBounds(req.FundingAmount); err != nil {
		return nil, err
	}

	ok, err := f.cfg.Wallet.CheckFunds(ctx, req.FundingAmount)
	if err != nil {
		return nil, fmt.Errorf("unable to check funds: %w", err)
	}
	if !ok {
		return nil, ErrInsufficientFunds(req.FundingAmount)
	}

	feeRate, err := f.fundingFeeRate()
	if err != nil {
		return nil, err
	}

	keys, err := f.deriveChannelKeys(ctx)
	if err != nil {
		return nil, err
	}

	var tempID [32]byte
	if _, err := rand.Read(tempID[:]); err != nil {
		return nil, err
	}

	policy := f.cfg.Policy
	dustLimit := f.cfg.Wallet.DustLimit()

	maxInFlight := policy.LocalMaxValueInFlight
	if maxInFlight == 0 {
		maxInFlight = lnwire.NewMSatFromSatoshis(req.FundingAmount)
	}

	c, err := channeldb.NewChannel(&channeldb.ChannelConfig{
		PeerID:                  req.PeerID,
		ChainHash:               f.cfg.ChainHash,
		TemporaryID:             tempID,
		IsFunder:                true,
		IsPublic:                !req.Private,
		FundingAmount:           req.FundingAmount,
		PushAmount:              req.PushAmount,
		FeeRatePerKw:            feeRate,
		OurDustLimit:            dustLimit,
		OurMinHtlcValue:         policy.LocalMinHtlc,
		OurMaxAcceptedHtlcs:     policy.LocalMaxAcceptedHtlcs,
		OurMaxInFlightHtlcValue: maxInFlight,
		TheirChannelReserve: policy.RemoteReserve(
			req.FundingAmount, dustLimit,
		),
		TheirToSelfDelay: policy.RemoteToSelfDelay,
		Keys:             *keys,
	})
	if err != nil {
		return nil, err
	}

	walletLog.InfoS(ctx, "Created pending channel",
		lnutils.LogID("temp_id", tempID),
		lnutils.LogPubKey("peer", req.PeerID),
		"capacity", req.FundingAmount,
		"push", req.PushAmount,
		"fee_rate", feeRate)

	return c, nil
}

// deriveChannelKeys asks the wallet for the key material of a new channel.
func (f *FundingLogic) deriveChannelKeys(
	ctx context.Context) (*channeldb.ChannelKeys, error) {

	fundingKey, err := f.cfg.Wallet.DeriveFundingKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to derive funding key: %w", err)
	}

	secrets, err := f.cfg.Wallet.DeriveBasePointSecrets(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to derive base points: %w", err)
	}

	seed, err := f.cfg.Wallet.DerivePerCommitmentSeed(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to derive commitment seed: %w",
			err)
	}

	return &channeldb.ChannelKeys{
		FundingKey:                    fundingKey,
		PaymentBasePointSecret:        secrets.Payment,
		DelayedPaymentBasePointSecret: secrets.DelayedPayment,
		HtlcBasePointSecret:           secrets.Htlc,
		RevocationBasePointSecret:     secrets.Revocation,
		PerCommitmentSeed:             seed,
	}, nil
}

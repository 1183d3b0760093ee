package lnwallet

import (
	"context"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnchan/lnwallet/chainfee"
	"github.com/lightningnetwork/lnchan/lnwire"
)

// BasePointSecrets are the private keys of the four base points of a
// channel.
type BasePointSecrets struct {
	Payment        *btcec.PrivateKey
	DelayedPayment *btcec.PrivateKey
	Htlc           *btcec.PrivateKey
	Revocation     *btcec.PrivateKey
}

// Wallet is the on-chain wallet the channel logic funds channels from and
// derives channel keys with.
type Wallet interface {
	// DustLimit is the dust limit we use for our own commitment
	// transactions.
	DustLimit() btcutil.Amount

	// CheckFunds reports whether the wallet can fund an output of the
	// given amount.
	CheckFunds(ctx context.Context, amt btcutil.Amount) (bool, error)

	// DeriveFundingKey returns a fresh key for a 2-of-2 funding output.
	DeriveFundingKey(ctx context.Context) (*btcec.PrivateKey, error)

	// DeriveBasePointSecrets returns fresh base point secrets for a new
	// channel.
	DeriveBasePointSecrets(ctx context.Context) (*BasePointSecrets, error)

	// DerivePerCommitmentSeed returns a fresh per-commitment seed for a
	// new channel.
	DerivePerCommitmentSeed(ctx context.Context) ([32]byte, error)

	// FundTx returns a signed transaction paying to output, with inputs
	// and change chosen by the wallet.
	FundTx(ctx context.Context, output *wire.TxOut,
		feeRate chainfee.SatPerKWeight) (*wire.MsgTx, error)

	// BroadcastTx publishes a transaction to the network.
	BroadcastTx(ctx context.Context, tx *wire.MsgTx) error

	// BestHeight returns the height of the current chain tip.
	BestHeight(ctx context.Context) (uint32, error)
}

// PeerMessenger delivers protocol messages to a peer.
type PeerMessenger interface {
	// SendMessage sends msg to the peer with the given identity key.
	SendMessage(ctx context.Context, peer *btcec.PublicKey,
		msg lnwire.Message) error
}

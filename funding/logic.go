package funding

import (
	"context"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnchan/channeldb"
	"github.com/lightningnetwork/lnchan/lnwallet"
	"github.com/lightningnetwork/lnchan/lnwire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ChannelLogic is everything the opening flow needs from the outside world:
// checking the peer's messages, building and signing transactions, and
// talking to the peer and the chain.
//
// The Validate methods report a rejected message through the returned
// Result. Their error, like the error of every other method, is an
// operational fault that stalls the channel instead of failing it.
type ChannelLogic interface {
	// CreateChannel creates the pre-funding state of a new outbound
	// channel.
	CreateChannel(ctx context.Context,
		req *lnwallet.OpenChannelRequest) (*channeldb.Channel, error)

	// CreateOpenChannel builds the open_channel message for c.
	CreateOpenChannel(ctx context.Context,
		c *channeldb.Channel) (*lnwire.OpenChannel, error)

	// ValidateAcceptChannel checks the peer's accept_channel.
	ValidateAcceptChannel(ctx context.Context, c *channeldb.Channel,
		msg *lnwire.AcceptChannel) (fn.Result[*lnwire.AcceptChannel],
		error)

	// CreateFundingTx builds the transaction funding c.
	CreateFundingTx(ctx context.Context,
		c *channeldb.Channel) (*wire.MsgTx, error)

	// CreateRemoteCommitmentTx builds the peer's first commitment
	// transaction.
	CreateRemoteCommitmentTx(ctx context.Context,
		c *channeldb.Channel) (*wire.MsgTx, error)

	// SignCommitmentTx signs a commitment transaction of c with our
	// funding key.
	SignCommitmentTx(ctx context.Context, c *channeldb.Channel,
		tx *wire.MsgTx) (lnwire.Sig, error)

	// CreateFundingCreated builds funding_created carrying sig.
	CreateFundingCreated(ctx context.Context, c *channeldb.Channel,
		sig lnwire.Sig) (*lnwire.FundingCreated, error)

	// ValidateFundingSigned checks the peer's signature for our first
	// commitment transaction.
	ValidateFundingSigned(ctx context.Context, c *channeldb.Channel,
		msg *lnwire.FundingSigned) (fn.Result[*lnwire.FundingSigned],
		error)

	// BroadcastTx publishes tx.
	BroadcastTx(ctx context.Context, tx *wire.MsgTx) error

	// CreateChannelReady builds our channel_ready message.
	CreateChannelReady(ctx context.Context,
		c *channeldb.Channel) (*lnwire.ChannelReady, error)

	// ValidateChannelReady checks the peer's channel_ready.
	ValidateChannelReady(ctx context.Context, c *channeldb.Channel,
		msg *lnwire.ChannelReady) (fn.Result[*lnwire.ChannelReady],
		error)

	// SendMessage sends msg to peer.
	SendMessage(ctx context.Context, peer *btcec.PublicKey,
		msg lnwire.Message) error
}

// A compile time check to ensure FundingLogic implements ChannelLogic.
var _ ChannelLogic = (*lnwallet.FundingLogic)(nil)

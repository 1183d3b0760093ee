package funding

import (
	"context"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnchan/channeldb"
	"github.com/lightningnetwork/lnchan/lnwallet"
	"github.com/lightningnetwork/lnchan/lnwire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/mock"
)

// mockLogic is a mock implementation of the ChannelLogic interface.
type mockLogic struct {
	mock.Mock
}

// A compile time check to ensure mockLogic implements ChannelLogic.
var _ ChannelLogic = (*mockLogic)(nil)

func (m *mockLogic) CreateChannel(ctx context.Context,
	req *lnwallet.OpenChannelRequest) (*channeldb.Channel, error) {

	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*channeldb.Channel), args.Error(1)
}

func (m *mockLogic) CreateOpenChannel(ctx context.Context,
	c *channeldb.Channel) (*lnwire.OpenChannel, error) {

	args := m.Called(ctx, c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*lnwire.OpenChannel), args.Error(1)
}

func (m *mockLogic) ValidateAcceptChannel(ctx context.Context,
	c *channeldb.Channel,
	msg *lnwire.AcceptChannel) (fn.Result[*lnwire.AcceptChannel], error) {

	args := m.Called(ctx, c, msg)

	return args.Get(0).(fn.Result[*lnwire.AcceptChannel]), args.Error(1)
}

func (m *mockLogic) CreateFundingTx(ctx context.Context,
	c *channeldb.Channel) (*wire.MsgTx, error) {

	args := m.Called(ctx, c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*wire.MsgTx), args.Error(1)
}

func (m *mockLogic) CreateRemoteCommitmentTx(ctx context.Context,
	c *channeldb.Channel) (*wire.MsgTx, error) {

	args := m.Called(ctx, c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*wire.MsgTx), args.Error(1)
}

func (m *mockLogic) SignCommitmentTx(ctx context.Context,
	c *channeldb.Channel, tx *wire.MsgTx) (lnwire.Sig, error) {

	args := m.Called(ctx, c, tx)

	return args.Get(0).(lnwire.Sig), args.Error(1)
}

func (m *mockLogic) CreateFundingCreated(ctx context.Context,
	c *channeldb.Channel, sig lnwire.Sig) (*lnwire.FundingCreated, error) {

	args := m.Called(ctx, c, sig)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*lnwire.FundingCreated), args.Error(1)
}

func (m *mockLogic) ValidateFundingSigned(ctx context.Context,
	c *channeldb.Channel,
	msg *lnwire.FundingSigned) (fn.Result[*lnwire.FundingSigned], error) {

	args := m.Called(ctx, c, msg)

	return args.Get(0).(fn.Result[*lnwire.FundingSigned]), args.Error(1)
}

func (m *mockLogic) BroadcastTx(ctx context.Context, tx *wire.MsgTx) error {
	args := m.Called(ctx, tx)

	return args.Error(0)
}

func (m *mockLogic) CreateChannelReady(ctx context.Context,
	c *channeldb.Channel) (*lnwire.ChannelReady, error) {

	args := m.Called(ctx, c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*lnwire.ChannelReady), args.Error(1)
}

func (m *mockLogic) ValidateChannelReady(ctx context.Context,
	c *channeldb.Channel,
	msg *lnwire.ChannelReady) (fn.Result[*lnwire.ChannelReady], error) {

	args := m.Called(ctx, c, msg)

	return args.Get(0).(fn.Result[*lnwire.ChannelReady]), args.Error(1)
}

func (m *mockLogic) SendMessage(ctx context.Context, peer *btcec.PublicKey,
	msg lnwire.Message) error {

	args := m.Called(ctx, peer, msg)

	return args.Error(0)
}

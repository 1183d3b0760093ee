package funding

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnchan/channeldb"
	"github.com/lightningnetwork/lnchan/lnwallet"
	"github.com/lightningnetwork/lnchan/lnwire"
	"github.com/lightningnetwork/lnchan/protofsm"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// newTestChannel creates an outbound channel with the funder's test keys.
func newTestChannel(t *testing.T) *channeldb.Channel {
	t.Helper()

	keys := lnwallet.OurTestKeys
	points := keys.BasePoints
	c, err := channeldb.NewChannel(&channeldb.ChannelConfig{
		PeerID:                  lnwallet.TestPeerID,
		ChainHash:               lnwallet.TestChainHash,
		TemporaryID:             [32]byte{0x01},
		IsFunder:                true,
		IsPublic:                true,
		FundingAmount:           lnwallet.TestFundingAmount,
		PushAmount:              lnwallet.TestPushAmount,
		FeeRatePerKw:            lnwallet.TestFeeRate,
		OurDustLimit:            354,
		OurMinHtlcValue:         1_000,
		OurMaxAcceptedHtlcs:     lnwallet.MaxHTLCNumber,
		OurMaxInFlightHtlcValue: 20_000_000,
		TheirChannelReserve:     20_000,
		TheirToSelfDelay:        144,
		Keys: channeldb.ChannelKeys{
			FundingKey:                    keys.FundingKey,
			PaymentBasePointSecret:        points.Payment,
			DelayedPaymentBasePointSecret: points.DelayedPayment,
			HtlcBasePointSecret:           points.Htlc,
			RevocationBasePointSecret:     points.Revocation,
			PerCommitmentSeed:             keys.Seed,
		},
	})
	require.NoError(t, err)

	return c
}

// newFundedChannel returns a test channel with the peer's accept_channel
// and a funding transaction attached. The funding output is at index 1.
func newFundedChannel(t *testing.T) (*channeldb.Channel, *wire.MsgTx) {
	t.Helper()

	c := newTestChannel(t)
	c.AttachAcceptChannel(lnwallet.NewTestAcceptChannel(c))

	_, fundingOutput, err := c.FundingScript()
	require.NoError(t, err)

	fundingTx := lnwallet.NewTestFundingTx(fundingOutput)
	require.NoError(t, c.AttachFundingTx(fundingTx))

	return c, fundingTx
}

type transitionHarness struct {
	logic    *mockLogic
	machine  *ChannelStateMachine
	rejected []error
}

func newTransitionHarness(t *testing.T) *transitionHarness {
	t.Helper()

	h := &transitionHarness{
		logic: &mockLogic{},
	}
	t.Cleanup(func() {
		h.logic.AssertExpectations(t)
	})

	h.machine = NewChannelStateMachine(NewTransitions(
		h.logic, func(_ context.Context, _ *channeldb.Channel,
			_ protofsm.EventType, reason error) {

			h.rejected = append(h.rejected, reason)
		},
	))

	return h
}

// dispatch delivers event to c in state and returns the next state.
func (h *transitionHarness) dispatch(t *testing.T, state protofsm.StateID,
	c *channeldb.Channel, event ChannelEvent) protofsm.DispatchResult {

	t.Helper()

	result, err := h.machine.Dispatch(context.Background(), state, c, event)
	require.NoError(t, err)

	return result
}

func (h *transitionHarness) blockEvent(t *testing.T, height int32,
	txns ...*wire.MsgTx) *BlockConnected {

	t.Helper()

	event, err := NewBlockConnected(newTestBlock(height, txns...))
	require.NoError(t, err)

	return event
}

// TestOnAcceptChannel asserts a valid accept_channel funds the channel and
// sends our signature in funding_created.
func TestOnAcceptChannel(t *testing.T) {
	t.Parallel()

	h := newTransitionHarness(t)
	c := newTestChannel(t)
	accept := lnwallet.NewTestAcceptChannel(c)

	peerView := c.Copy()
	peerView.AttachAcceptChannel(accept)
	_, fundingOutput, err := peerView.FundingScript()
	require.NoError(t, err)
	fundingTx := lnwallet.NewTestFundingTx(fundingOutput)

	commitTx := wire.NewMsgTx(2)
	fundingCreated := &lnwire.FundingCreated{
		PendingChannelID: c.TemporaryID,
	}

	h.logic.On("ValidateAcceptChannel", mock.Anything, c, accept).
		Return(fn.Ok(accept), nil)
	h.logic.On("CreateFundingTx", mock.Anything, c).Return(fundingTx, nil)
	h.logic.On("CreateRemoteCommitmentTx", mock.Anything, c).
		Return(commitTx, nil)
	h.logic.On("SignCommitmentTx", mock.Anything, c, commitTx).
		Return(lnwire.Sig{}, nil)
	h.logic.On("CreateFundingCreated", mock.Anything, c, lnwire.Sig{}).
		Return(fundingCreated, nil)
	h.logic.On("SendMessage", mock.Anything, c.PeerID, fundingCreated).
		Return(nil)

	result := h.dispatch(
		t, StateAwaitingAcceptChannel, c, NewMessageEvent(accept),
	)
	require.Equal(t, StateAwaitingFundingSigned, result.Next)
	require.True(t, result.Handled)

	require.Equal(t, uint32(lnwallet.TestMinimumDepth), c.MinimumDepth)
	require.Equal(t, wire.OutPoint{Hash: fundingTx.TxHash(), Index: 1},
		c.FundingOutPoint.UnsafeFromSome())
	require.True(t, c.ChannelID.IsSome())
	require.Empty(t, h.rejected)
}

// TestOnAcceptChannelInvalid asserts a rejected accept_channel fails the
// channel without funding it or messaging the peer.
func TestOnAcceptChannelInvalid(t *testing.T) {
	t.Parallel()

	h := newTransitionHarness(t)
	c := newTestChannel(t)
	accept := lnwallet.NewTestAcceptChannel(c)
	accept.MinAcceptDepth = 0

	h.logic.On("ValidateAcceptChannel", mock.Anything, c, accept).
		Return(fn.Err[*lnwire.AcceptChannel](
			lnwallet.ErrZeroMinDepth(),
		), nil)

	result := h.dispatch(
		t, StateAwaitingAcceptChannel, c, NewMessageEvent(accept),
	)
	require.Equal(t, StateFailing, result.Next)

	h.logic.AssertNotCalled(t, "CreateFundingTx", mock.Anything, c)
	h.logic.AssertNotCalled(
		t, "SendMessage", mock.Anything, mock.Anything, mock.Anything,
	)
	require.Len(t, h.rejected, 1)
	require.True(t, lnwallet.IsOpeningError(
		h.rejected[0], lnwallet.ErrKindZeroMinDepth,
	))
	require.True(t, c.FundingTx.IsNone())
}

// TestOnFundingSigned asserts a valid funding_signed broadcasts the funding
// transaction and an invalid one fails the channel.
func TestOnFundingSigned(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		h := newTransitionHarness(t)
		c, fundingTx := newFundedChannel(t)
		msg := &lnwire.FundingSigned{
			ChanID:    c.ChannelID.UnsafeFromSome(),
			CommitSig: lnwire.Sig{0x01},
		}

		h.logic.On("ValidateFundingSigned", mock.Anything, c, msg).
			Return(fn.Ok(msg), nil)
		h.logic.On("BroadcastTx", mock.Anything, fundingTx).
			Return(nil)

		result := h.dispatch(
			t, StateAwaitingFundingSigned, c, NewMessageEvent(msg),
		)
		require.Equal(t, StateAwaitingFundingDepth, result.Next)
		require.Equal(t, msg.CommitSig,
			c.OurSide.NextCommitmentSig.UnsafeFromSome())
	})

	t.Run("invalid signature", func(t *testing.T) {
		t.Parallel()

		h := newTransitionHarness(t)
		c, _ := newFundedChannel(t)
		msg := &lnwire.FundingSigned{
			ChanID: c.ChannelID.UnsafeFromSome(),
		}

		h.logic.On("ValidateFundingSigned", mock.Anything, c, msg).
			Return(fn.Err[*lnwire.FundingSigned](
				lnwallet.ErrInvalidCommitSig(errors.New("bad")),
			), nil)

		result := h.dispatch(
			t, StateAwaitingFundingSigned, c, NewMessageEvent(msg),
		)
		require.Equal(t, StateFailing, result.Next)
		h.logic.AssertNotCalled(t, "BroadcastTx", mock.Anything,
			mock.Anything)
		require.True(t, c.OurSide.NextCommitmentSig.IsNone())
	})
}

// TestDepthBoundary confirms the funding transaction at height 100 with a
// minimum depth of 6: height 104 is one block short, height 105 sends our
// channel_ready.
func TestDepthBoundary(t *testing.T) {
	t.Parallel()

	h := newTransitionHarness(t)
	c, fundingTx := newFundedChannel(t)

	// Blocks without the funding transaction are ignored.
	result := h.dispatch(
		t, StateAwaitingFundingDepth, c,
		h.blockEvent(t, 99, newTestTx(0x05, 2)),
	)
	require.Equal(t, StateAwaitingFundingDepth, result.Next)
	require.False(t, c.IsConfirmed())

	result = h.dispatch(
		t, StateAwaitingFundingDepth, c,
		h.blockEvent(t, 100, newTestTx(0x05, 2), fundingTx),
	)
	require.Equal(t, StateAwaitingFundingDepth, result.Next)
	require.Equal(t, uint32(100), c.FundingConfirmedHeight.UnsafeFromSome())
	require.Equal(t, uint32(105), c.ReadyHeight.UnsafeFromSome())

	result = h.dispatch(
		t, StateAwaitingFundingDepth, c, h.blockEvent(t, 104),
	)
	require.Equal(t, StateAwaitingFundingDepth, result.Next)
	h.logic.AssertNotCalled(t, "CreateChannelReady", mock.Anything, c)

	ready := lnwallet.NewTestChannelReady(c)
	h.logic.On("CreateChannelReady", mock.Anything, c).Return(ready, nil)
	h.logic.On("SendMessage", mock.Anything, c.PeerID, ready).Return(nil)

	result = h.dispatch(
		t, StateAwaitingFundingDepth, c, h.blockEvent(t, 105),
	)
	require.Equal(t, StateAwaitingChannelReady, result.Next)

	// The same block again reaches the channel in its new state, which
	// drops it.
	result = h.dispatch(t, result.Next, c, h.blockEvent(t, 105))
	require.False(t, result.Handled)
	require.Equal(t, StateAwaitingChannelReady, result.Next)
	h.logic.AssertNumberOfCalls(t, "SendMessage", 1)

	peerReady := lnwallet.NewTestChannelReady(c)
	h.logic.On("ValidateChannelReady", mock.Anything, c, peerReady).
		Return(fn.Ok(peerReady), nil)

	result = h.dispatch(t, result.Next, c, NewMessageEvent(peerReady))
	require.Equal(t, StateNormal, result.Next)
	require.True(t, c.HasChannelReady)
	require.Equal(t, uint64(1), c.TheirSide.NextCommitmentNumber)
}

// TestEarlyChannelReady asserts the peer's channel_ready is recorded while
// the funding transaction is not deep enough yet, and honored once it is.
func TestEarlyChannelReady(t *testing.T) {
	t.Parallel()

	h := newTransitionHarness(t)
	c, fundingTx := newFundedChannel(t)

	peerReady := lnwallet.NewTestChannelReady(c)
	h.logic.On("ValidateChannelReady", mock.Anything, c, peerReady).
		Return(fn.Ok(peerReady), nil).Once()

	result := h.dispatch(
		t, StateAwaitingFundingDepth, c, NewMessageEvent(peerReady),
	)
	require.Equal(t, StateAwaitingFundingDepth, result.Next)
	require.True(t, result.Handled)
	require.True(t, c.HasChannelReady)
	require.True(t, c.TheirSide.NextCommitmentPoint.IsEqual(
		lnwallet.TheirTestKeys.CommitPoint(1),
	))

	h.dispatch(
		t, StateAwaitingFundingDepth, c,
		h.blockEvent(t, 100, fundingTx),
	)

	ready := lnwallet.NewTestChannelReady(c)
	h.logic.On("CreateChannelReady", mock.Anything, c).Return(ready, nil)
	h.logic.On("SendMessage", mock.Anything, c.PeerID, ready).
		Return(nil).Once()

	result = h.dispatch(
		t, StateAwaitingFundingDepth, c, h.blockEvent(t, 105),
	)
	require.Equal(t, StateNormal, result.Next)
}

// TestOnChannelReadyInvalid asserts a rejected channel_ready fails the
// channel from either state that handles it.
func TestOnChannelReadyInvalid(t *testing.T) {
	t.Parallel()

	states := []protofsm.StateID{
		StateAwaitingFundingDepth, StateAwaitingChannelReady,
	}
	for _, state := range states {
		t.Run(state.Name(), func(t *testing.T) {
			t.Parallel()

			h := newTransitionHarness(t)
			c, _ := newFundedChannel(t)

			msg := lnwire.NewChannelReady(
				lnwire.ChannelID{0xaa}, nil,
			)
			chanID := c.ChannelID.UnsafeFromSome()
			h.logic.On("ValidateChannelReady", mock.Anything, c,
				msg).Return(fn.Err[*lnwire.ChannelReady](
				lnwallet.ErrChanIDMismatch(msg.ChanID, chanID),
			), nil)

			result := h.dispatch(t, state, c, NewMessageEvent(msg))
			require.Equal(t, StateFailing, result.Next)
			require.False(t, c.HasChannelReady)
		})
	}
}

// TestTransitionFault asserts a failing collaborator leaves the channel in
// its state and surfaces the error.
func TestTransitionFault(t *testing.T) {
	t.Parallel()

	h := newTransitionHarness(t)
	c, fundingTx := newFundedChannel(t)
	msg := &lnwire.FundingSigned{ChanID: c.ChannelID.UnsafeFromSome()}

	errPublish := errors.New("publish failed")
	h.logic.On("ValidateFundingSigned", mock.Anything, c, msg).
		Return(fn.Ok(msg), nil)
	h.logic.On("BroadcastTx", mock.Anything, fundingTx).Return(errPublish)

	result, err := h.machine.Dispatch(
		context.Background(), StateAwaitingFundingSigned, c,
		NewMessageEvent(msg),
	)
	require.ErrorIs(t, err, errPublish)
	require.Equal(t, StateAwaitingFundingSigned, result.Next)
	require.False(t, result.Handled)
	require.Empty(t, h.rejected)

	// A validation call that fails is a fault too, not a rejection.
	errSign := errors.New("signer offline")
	h = newTransitionHarness(t)
	h.logic.On("ValidateFundingSigned", mock.Anything, c, msg).
		Return(fn.Result[*lnwire.FundingSigned]{}, errSign)

	_, err = h.machine.Dispatch(
		context.Background(), StateAwaitingFundingSigned, c,
		NewMessageEvent(msg),
	)
	require.ErrorIs(t, err, errSign)
	require.Empty(t, h.rejected)
}

// TestUnexpectedEvent asserts a message of the wrong kind is a fault.
func TestUnexpectedEvent(t *testing.T) {
	t.Parallel()

	h := newTransitionHarness(t)
	c := newTestChannel(t)

	_, err := h.transitions().OnAcceptChannel(
		context.Background(), c, h.blockEvent(t, 1),
	)
	require.ErrorIs(t, err, ErrUnexpectedEvent)
}

func (h *transitionHarness) transitions() *Transitions {
	return NewTransitions(h.logic, nil)
}

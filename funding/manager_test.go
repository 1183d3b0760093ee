package funding

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnchan/channeldb"
	"github.com/lightningnetwork/lnchan/input"
	"github.com/lightningnetwork/lnchan/lnwallet"
	"github.com/lightningnetwork/lnchan/lnwallet/chainfee"
	"github.com/lightningnetwork/lnchan/lnwire"
	"github.com/lightningnetwork/lnchan/protofsm"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testTime = time.Unix(1_700_000_000, 0)

type managerHarness struct {
	mgr       *Manager
	db        *channeldb.DB
	wallet    *lnwallet.MockWallet
	messenger *lnwallet.MockPeerMessenger
	clock     *clock.TestClock
	registry  *prometheus.Registry

	fundingTx *wire.MsgTx

	sentMtx sync.Mutex
	sent    []lnwire.Message
}

// isFundingTx matches the harness funding transaction by txid. A transaction
// reloaded from the store is equal on the wire but may differ in empty
// scripts.
func (h *managerHarness) isFundingTx() interface{} {
	return mock.MatchedBy(func(tx *wire.MsgTx) bool {
		return tx.TxHash() == h.fundingTx.TxHash()
	})
}

// newManagerHarness wires a manager to the default funding logic, mocked
// wallet and peer, and a channel database in a temporary directory.
func newManagerHarness(t *testing.T) *managerHarness {
	t.Helper()

	db, err := channeldb.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	h := &managerHarness{
		db:        db,
		wallet:    &lnwallet.MockWallet{},
		messenger: &lnwallet.MockPeerMessenger{},
		clock:     clock.NewTestClock(testTime),
		registry:  prometheus.NewRegistry(),
	}

	// The funding output only depends on both funding keys and the
	// capacity, so the wallet's funding transaction can be built upfront.
	ourKey := lnwallet.OurTestKeys.FundingKey.PubKey()
	theirKey := lnwallet.TheirTestKeys.FundingKey.PubKey()
	_, fundingOutput, err := input.GenFundingPkScript(
		ourKey.SerializeCompressed(), theirKey.SerializeCompressed(),
		int64(lnwallet.TestFundingAmount),
	)
	require.NoError(t, err)
	h.fundingTx = lnwallet.NewTestFundingTx(fundingOutput)

	h.wallet.ExpectTestKeys(lnwallet.OurTestKeys)
	h.wallet.On("DustLimit").Return(btcutil.Amount(354))
	h.wallet.On("CheckFunds", mock.Anything, lnwallet.TestFundingAmount).
		Return(true, nil)
	h.wallet.On(
		"FundTx", mock.Anything, fundingOutput, lnwallet.TestFeeRate,
	).Return(h.fundingTx, nil)

	h.messenger.On(
		"SendMessage", mock.Anything, lnwallet.TestPeerID,
		mock.Anything,
	).Return(nil).Run(func(args mock.Arguments) {
		h.sentMtx.Lock()
		defer h.sentMtx.Unlock()

		h.sent = append(h.sent, args.Get(2).(lnwire.Message))
	})

	logic := lnwallet.NewFundingLogic(&lnwallet.Config{
		Wallet:    h.wallet,
		Messenger: h.messenger,
		FeeEstimator: chainfee.NewStaticEstimator(
			lnwallet.TestFeeRate, chainfee.FeePerKwFloor,
		),
		Policy:    lnwallet.TestChannelPolicy(),
		ChainHash: lnwallet.TestChainHash,
	})

	h.mgr, err = NewManager(&Config{
		Logic:      logic,
		Store:      db,
		Clock:      h.clock,
		Registerer: h.registry,
	})
	require.NoError(t, err)
	require.NoError(t, h.mgr.Start(context.Background()))
	t.Cleanup(func() {
		require.NoError(t, h.mgr.Stop())
	})

	return h
}

// sentTypes returns the types of the messages sent to the peer so far.
func (h *managerHarness) sentTypes() []lnwire.MessageType {
	h.sentMtx.Lock()
	defer h.sentMtx.Unlock()

	types := make([]lnwire.MessageType, 0, len(h.sent))
	for _, msg := range h.sent {
		types = append(types, msg.MsgType())
	}

	return types
}

func (h *managerHarness) openChannel(t *testing.T) [32]byte {
	t.Helper()

	tempID, err := h.mgr.OpenChannel(context.Background(),
		&lnwallet.OpenChannelRequest{
			PeerID:        lnwallet.TestPeerID,
			FundingAmount: lnwallet.TestFundingAmount,
			PushAmount:    lnwallet.TestPushAmount,
		},
	)
	require.NoError(t, err)

	return tempID
}

func (h *managerHarness) snapshot(t *testing.T,
	id [32]byte) *ChannelSnapshot {

	t.Helper()

	snapshot, err := h.mgr.ChannelState(id)
	require.NoError(t, err)

	return snapshot
}

func (h *managerHarness) requireState(t *testing.T, id [32]byte,
	state protofsm.StateID) {

	t.Helper()

	require.Equal(t, state, h.snapshot(t, id).State)

	record, err := h.db.FetchChannel(h.snapshot(t, id).Channel.TemporaryID)
	require.NoError(t, err)
	require.Equal(t, state.String(), record.State)
}

func (h *managerHarness) process(t *testing.T, msg lnwire.Message) {
	t.Helper()

	err := h.mgr.ProcessMessage(
		context.Background(), lnwallet.TestPeerID, msg,
	)
	require.NoError(t, err)
}

func (h *managerHarness) connectBlock(t *testing.T, height int32,
	txns ...*wire.MsgTx) {

	t.Helper()

	err := h.mgr.ConnectBlock(context.Background(),
		newTestBlock(height, txns...))
	require.NoError(t, err)
}

// fundChannel drives a new channel to awaiting_funding_depth.
func (h *managerHarness) fundChannel(t *testing.T) [32]byte {
	t.Helper()

	tempID := h.openChannel(t)
	h.requireState(t, tempID, StateAwaitingAcceptChannel)

	c := h.snapshot(t, tempID).Channel
	h.process(t, lnwallet.NewTestAcceptChannel(c))
	h.requireState(t, tempID, StateAwaitingFundingSigned)

	c = h.snapshot(t, tempID).Channel
	fundingSigned, err := lnwallet.NewTestFundingSigned(c)
	require.NoError(t, err)

	h.wallet.On("BroadcastTx", mock.Anything, h.isFundingTx()).
		Return(nil).Once()
	h.process(t, fundingSigned)
	h.requireState(t, tempID, StateAwaitingFundingDepth)

	return tempID
}

// TestManagerHappyPath opens a channel and exchanges channel_ready in both
// orders.
func TestManagerHappyPath(t *testing.T) {
	t.Parallel()

	for _, peerFirst := range []bool{false, true} {
		name := "ours first"
		if peerFirst {
			name = "theirs first"
		}

		t.Run(name, func(t *testing.T) {
			t.Parallel()

			h := newManagerHarness(t)
			tempID := h.fundChannel(t)

			c := h.snapshot(t, tempID).Channel
			chanID := c.ChannelID.UnsafeFromSome()
			peerReady := lnwallet.NewTestChannelReady(c)

			h.connectBlock(t, 100, newTestTx(0x07, 1), h.fundingTx)
			for height := int32(101); height < 105; height++ {
				h.connectBlock(t, height)
			}
			h.requireState(t, tempID, StateAwaitingFundingDepth)

			if peerFirst {
				h.process(t, peerReady)
				h.requireState(
					t, tempID, StateAwaitingFundingDepth,
				)
			}

			h.connectBlock(t, 105)
			if !peerFirst {
				h.requireState(
					t, tempID, StateAwaitingChannelReady,
				)
				h.process(t, peerReady)
			}
			h.requireState(t, tempID, StateNormal)

			// Blocks after the channel is open are dropped.
			h.connectBlock(t, 105)
			h.connectBlock(t, 106)

			require.Equal(t, []lnwire.MessageType{
				lnwire.MsgOpenChannel,
				lnwire.MsgFundingCreated,
				lnwire.MsgChannelReady,
			}, h.sentTypes())

			snapshot := h.snapshot(t, chanID)
			require.Equal(t, tempID, snapshot.Channel.TemporaryID)
			require.Equal(t, uint32(100),
				snapshot.Channel.FundingConfirmedHeight.
					UnsafeFromSome())
			require.Equal(t, uint32(105),
				snapshot.Channel.ReadyHeight.UnsafeFromSome())
			require.True(t, snapshot.Channel.HasChannelReady)
			require.Equal(t, testTime, snapshot.Channel.LastUpdate)
			require.NoError(t, snapshot.Channel.CheckInvariants())
			require.False(t, snapshot.Stalled())

			to := "normal"
			if !peerFirst {
				to = "awaiting_channel_ready"
			}
			require.Equal(t, 1.0, testutil.ToFloat64(
				h.mgr.metrics.transitions.WithLabelValues(
					"awaiting_funding_depth", to,
				),
			))
		})
	}
}

// TestManagerInvalidAccept asserts a rejected accept_channel fails the
// channel without asking the wallet for funds.
func TestManagerInvalidAccept(t *testing.T) {
	t.Parallel()

	h := newManagerHarness(t)
	tempID := h.openChannel(t)

	accept := lnwallet.NewTestAcceptChannel(h.snapshot(t, tempID).Channel)
	accept.MinAcceptDepth = 100

	h.process(t, accept)
	h.requireState(t, tempID, StateFailing)

	h.wallet.AssertNotCalled(
		t, "FundTx", mock.Anything, mock.Anything, mock.Anything,
	)
	require.Equal(t, []lnwire.MessageType{lnwire.MsgOpenChannel},
		h.sentTypes())

	kind := lnwallet.ErrKindNumConfsTooLarge.String()
	require.Equal(t, 1.0, testutil.ToFloat64(
		h.mgr.metrics.rejections.WithLabelValues(
			"accept_channel", kind,
		),
	))

	// The failed channel ignores everything else.
	h.connectBlock(t, 100, h.fundingTx)
	h.requireState(t, tempID, StateFailing)
}

// TestManagerStallAndResume asserts a failed broadcast keeps the channel in
// its state and rejects further events until an operator resumes it.
func TestManagerStallAndResume(t *testing.T) {
	t.Parallel()

	h := newManagerHarness(t)
	tempID := h.openChannel(t)

	c := h.snapshot(t, tempID).Channel
	h.process(t, lnwallet.NewTestAcceptChannel(c))

	c = h.snapshot(t, tempID).Channel
	fundingSigned, err := lnwallet.NewTestFundingSigned(c)
	require.NoError(t, err)

	errPublish := errors.New("mempool full")
	h.wallet.On("BroadcastTx", mock.Anything, h.isFundingTx()).
		Return(errPublish).Once()

	err = h.mgr.ProcessMessage(
		context.Background(), lnwallet.TestPeerID, fundingSigned,
	)
	require.ErrorIs(t, err, ErrChannelStalled)
	require.ErrorIs(t, err, errPublish)

	snapshot := h.snapshot(t, tempID)
	require.True(t, snapshot.Stalled())
	require.Equal(t, StateAwaitingFundingSigned, snapshot.State)
	require.True(t, snapshot.Channel.OurSide.NextCommitmentSig.IsNone())
	h.requireState(t, tempID, StateAwaitingFundingSigned)

	err = h.mgr.ProcessMessage(
		context.Background(), lnwallet.TestPeerID, fundingSigned,
	)
	require.ErrorIs(t, err, ErrChannelStalled)

	// Stalled channels are skipped by block delivery.
	h.connectBlock(t, 100)

	require.NoError(t, h.mgr.ResumeChannel(tempID))
	require.ErrorIs(t, h.mgr.ResumeChannel(tempID), ErrChannelNotStalled)

	h.wallet.On("BroadcastTx", mock.Anything, h.isFundingTx()).
		Return(nil).Once()
	h.process(t, fundingSigned)
	h.requireState(t, tempID, StateAwaitingFundingDepth)
}

// TestManagerRouting asserts messages for unknown channels, of other peers
// or outside the opening flow are refused.
func TestManagerRouting(t *testing.T) {
	t.Parallel()

	h := newManagerHarness(t)
	tempID := h.openChannel(t)
	c := h.snapshot(t, tempID).Channel
	ctx := context.Background()

	accept := lnwallet.NewTestAcceptChannel(c)
	accept.PendingChannelID = [32]byte{0xee}
	err := h.mgr.ProcessMessage(ctx, lnwallet.TestPeerID, accept)
	require.ErrorIs(t, err, ErrUnknownChannel)

	otherPeer := lnwallet.TestPrivKey(0x30).PubKey()
	err = h.mgr.ProcessMessage(
		ctx, otherPeer, lnwallet.NewTestAcceptChannel(c),
	)
	require.ErrorIs(t, err, ErrUnknownChannel)

	// The channel id is only indexed once the funding outpoint is known,
	// so an early channel_ready addresses no channel.
	err = h.mgr.ProcessMessage(
		ctx, lnwallet.TestPeerID, &lnwire.ChannelReady{
			ChanID: lnwire.ChannelID{0xdd},
			NextPerCommitmentPoint: lnwallet.TestPrivKey(
				0x31,
			).PubKey(),
		},
	)
	require.ErrorIs(t, err, ErrUnknownChannel)

	err = h.mgr.ProcessMessage(
		ctx, lnwallet.TestPeerID, &lnwire.OpenChannel{},
	)
	require.ErrorIs(t, err, ErrUnsupportedMessage)

	_, err = h.mgr.ChannelState([32]byte{0xee})
	require.ErrorIs(t, err, ErrUnknownChannel)
}

// TestManagerRestart asserts channels are reloaded in their persisted state
// and the funding transaction of an unconfirmed channel is broadcast again.
func TestManagerRestart(t *testing.T) {
	t.Parallel()

	h := newManagerHarness(t)
	tempID := h.fundChannel(t)
	require.NoError(t, h.mgr.Stop())

	err := h.mgr.ProcessMessage(
		context.Background(), lnwallet.TestPeerID,
		&lnwire.FundingSigned{},
	)
	require.Error(t, err)

	h.wallet.On("BroadcastTx", mock.Anything, h.isFundingTx()).
		Return(nil).Once()

	restarted, err := NewManager(&Config{
		Logic: h.mgr.cfg.Logic,
		Store: h.db,
		Clock: h.clock,
	})
	require.NoError(t, err)
	require.NoError(t, restarted.Start(context.Background()))
	t.Cleanup(func() {
		require.NoError(t, restarted.Stop())
	})

	channels := restarted.ListChannels()
	require.Len(t, channels, 1)
	require.Equal(t, StateAwaitingFundingDepth, channels[0].State)
	require.Equal(t, tempID, channels[0].Channel.TemporaryID)

	chanID := channels[0].Channel.ChannelID.UnsafeFromSome()
	snapshot, err := restarted.ChannelState(chanID)
	require.NoError(t, err)
	require.Equal(t, tempID, snapshot.Channel.TemporaryID)

	h.wallet.AssertNumberOfCalls(t, "BroadcastTx", 2)
}

// TestManagerForgetChannel asserts a forgotten channel is gone from memory
// and the store.
func TestManagerForgetChannel(t *testing.T) {
	t.Parallel()

	h := newManagerHarness(t)
	first := h.openChannel(t)
	second := h.openChannel(t)
	require.Len(t, h.mgr.ListChannels(), 2)

	require.NoError(t, h.mgr.ForgetChannel(first))
	require.ErrorIs(t, h.mgr.ForgetChannel(first), ErrUnknownChannel)

	channels := h.mgr.ListChannels()
	require.Len(t, channels, 1)
	require.Equal(t, second, channels[0].Channel.TemporaryID)

	_, err := h.db.FetchChannel(first)
	require.ErrorIs(t, err, channeldb.ErrChannelNotFound)

	records, err := h.db.FetchChannels()
	require.NoError(t, err)
	require.Len(t, records, 1)
}

// TestManagerConcurrentChannels drives several channels through
// accept_channel at once.
func TestManagerConcurrentChannels(t *testing.T) {
	t.Parallel()

	h := newManagerHarness(t)

	const numChannels = 4
	tempIDs := make([][32]byte, numChannels)
	accepts := make([]*lnwire.AcceptChannel, numChannels)
	for i := range tempIDs {
		tempIDs[i] = h.openChannel(t)
		accepts[i] = lnwallet.NewTestAcceptChannel(
			h.snapshot(t, tempIDs[i]).Channel,
		)
	}

	errChan := make(chan error, numChannels)
	var wg sync.WaitGroup
	for _, accept := range accepts {
		wg.Add(1)
		go func() {
			defer wg.Done()

			errChan <- h.mgr.ProcessMessage(
				context.Background(), lnwallet.TestPeerID,
				accept,
			)
		}()
	}
	wg.Wait()
	close(errChan)

	for err := range errChan {
		require.NoError(t, err)
	}
	for _, tempID := range tempIDs {
		h.requireState(t, tempID, StateAwaitingFundingSigned)
	}

	require.Len(t, h.mgr.ListChannels(), numChannels)
	require.Equal(t, float64(numChannels), testutil.ToFloat64(
		h.mgr.metrics.channels,
	))
	require.Equal(t, float64(numChannels), testutil.ToFloat64(
		h.mgr.metrics.transitions.WithLabelValues(
			"awaiting_accept_channel", "awaiting_funding_signed",
		),
	))
}

package lnwallet

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnchan/channeldb"
	"github.com/lightningnetwork/lnchan/lnwallet/chainfee"
	"github.com/lightningnetwork/lnchan/lnwire"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type testHarness struct {
	logic     *FundingLogic
	wallet    *MockWallet
	messenger *MockPeerMessenger
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	wallet := &MockWallet{}
	messenger := &MockPeerMessenger{}
	t.Cleanup(func() {
		wallet.AssertExpectations(t)
		messenger.AssertExpectations(t)
	})

	logic := NewFundingLogic(&Config{
		Wallet:    wallet,
		Messenger: messenger,
		FeeEstimator: chainfee.NewStaticEstimator(
			TestFeeRate, chainfee.FeePerKwFloor,
		),
		Policy:    TestChannelPolicy(),
		ChainHash: TestChainHash,
	})

	return &testHarness{
		logic:     logic,
		wallet:    wallet,
		messenger: messenger,
	}
}

// newChannel creates a test channel through CreateChannel.
func (h *testHarness) newChannel(t *testing.T) *channeldb.Channel {
	t.Helper()

	h.wallet.ExpectTestKeys(OurTestKeys)
	h.wallet.On("DustLimit").Return(btcutil.Amount(354))
	h.wallet.On("CheckFunds", mock.Anything, TestFundingAmount).
		Return(true, nil)

	c, err := h.logic.CreateChannel(context.Background(),
		&OpenChannelRequest{
			PeerID:        TestPeerID,
			FundingAmount: TestFundingAmount,
			PushAmount:    TestPushAmount,
		},
	)
	require.NoError(t, err)

	return c
}

// fundChannel attaches the peer's accept_channel and a funding transaction
// to c.
func (h *testHarness) fundChannel(t *testing.T, c *channeldb.Channel) {
	t.Helper()

	c.AttachAcceptChannel(NewTestAcceptChannel(c))

	_, fundingOutput, err := c.FundingScript()
	require.NoError(t, err)

	fundingTx := NewTestFundingTx(fundingOutput)
	h.wallet.On("FundTx", mock.Anything, fundingOutput, TestFeeRate).
		Return(fundingTx, nil).Once()

	tx, err := h.logic.CreateFundingTx(context.Background(), c)
	require.NoError(t, err)
	require.NoError(t, c.AttachFundingTx(tx))
}

// TestCreateChannelRelayFeeFloor asserts a new channel never pays less than
// the estimator's relay fee.
func TestCreateChannelRelayFeeFloor(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	h.logic.cfg.FeeEstimator = chainfee.NewStaticEstimator(300, 2_000)

	c := h.newChannel(t)
	require.Equal(t, chainfee.SatPerKWeight(2_000), c.FeeRatePerKw)
}

// TestCreateChannel asserts a new channel carries the policy's constraints
// and the wallet's keys.
func TestCreateChannel(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	c := h.newChannel(t)

	require.True(t, c.IsFunder)
	require.True(t, c.IsPublic)
	require.Equal(t, TestChainHash, c.ChainHash)
	require.Equal(t, TestFeeRate, c.FeeRatePerKw)
	require.Equal(t, lnwire.MilliSatoshi(198_000_000), c.OurSide.Balance)
	require.Equal(t, TestPushAmount, c.TheirSide.Balance)
	require.Equal(t, btcutil.Amount(20_000), c.TheirSide.ChannelReserve)
	require.Equal(t, uint16(144), c.TheirSide.ToSelfDelayBlocks)
	require.Equal(t, btcutil.Amount(354), c.OurSide.DustLimit)
	require.Equal(t, uint16(30), c.OurSide.MaxAcceptedHtlcs)
	require.True(t, OurTestKeys.CommitPoint(0).IsEqual(
		c.OurSide.NextCommitmentPoint,
	))
	require.NotEqual(t, [32]byte{}, c.TemporaryID)
	require.NoError(t, c.CheckInvariants())

	open, err := h.logic.CreateOpenChannel(context.Background(), c)
	require.NoError(t, err)
	require.Equal(t, c.TemporaryID, open.PendingChannelID)
	require.Equal(t, TestFundingAmount, open.FundingAmount)
	require.Equal(t, TestPushAmount, open.PushAmount)
	require.Equal(t, uint32(TestFeeRate), open.FeePerKiloWeight)
	require.Equal(t, btcutil.Amount(20_000), open.ChannelReserve)
	require.Equal(t, lnwire.FFAnnounceChannel, open.ChannelFlags)
	require.True(t, open.FundingKey.IsEqual(
		OurTestKeys.FundingKey.PubKey(),
	))
}

// TestCreateChannelErrors asserts requests outside of our policy or the
// wallet's means are refused.
func TestCreateChannelErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("too small", func(t *testing.T) {
		h := newTestHarness(t)
		_, err := h.logic.CreateChannel(ctx, &OpenChannelRequest{
			PeerID:        TestPeerID,
			FundingAmount: 1_000,
		})
		require.True(t, IsOpeningError(err, ErrKindChanSize))
	})

	t.Run("insufficient funds", func(t *testing.T) {
		h := newTestHarness(t)
		h.wallet.On("CheckFunds", mock.Anything, TestFundingAmount).
			Return(false, nil)

		_, err := h.logic.CreateChannel(ctx, &OpenChannelRequest{
			PeerID:        TestPeerID,
			FundingAmount: TestFundingAmount,
		})
		require.True(t, IsOpeningError(err, ErrKindInsufficientFunds))
	})

	t.Run("wallet fault", func(t *testing.T) {
		h := newTestHarness(t)
		errWallet := errors.New("wallet locked")
		h.wallet.On("CheckFunds", mock.Anything, TestFundingAmount).
			Return(false, errWallet)

		_, err := h.logic.CreateChannel(ctx, &OpenChannelRequest{
			PeerID:        TestPeerID,
			FundingAmount: TestFundingAmount,
		})
		require.ErrorIs(t, err, errWallet)
		require.False(t, IsOpeningError(err))
	})
}

// TestValidateAcceptChannel checks every rejection rule of accept_channel.
func TestValidateAcceptChannel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(msg *lnwire.AcceptChannel)
		kind   OpeningErrorKind
		valid  bool
	}{
		{
			name:   "valid",
			modify: func(*lnwire.AcceptChannel) {},
			valid:  true,
		},
		{
			name: "temp id mismatch",
			modify: func(msg *lnwire.AcceptChannel) {
				msg.PendingChannelID[0] ^= 0xff
			},
			kind: ErrKindTempIDMismatch,
		},
		{
			name: "min depth too large",
			modify: func(msg *lnwire.AcceptChannel) {
				msg.MinAcceptDepth = DefaultMaxMinimumDepth + 1
			},
			kind: ErrKindNumConfsTooLarge,
		},
		{
			name: "zero min depth",
			modify: func(msg *lnwire.AcceptChannel) {
				msg.MinAcceptDepth = 0
			},
			kind: ErrKindZeroMinDepth,
		},
		{
			name: "csv too large",
			modify: func(msg *lnwire.AcceptChannel) {
				msg.CsvDelay = DefaultMaxToSelfDelay + 1
			},
			kind: ErrKindCsvDelayTooLarge,
		},
		{
			name: "reserve too large",
			modify: func(msg *lnwire.AcceptChannel) {
				msg.ChannelReserve = 40_001
			},
			kind: ErrKindChanReserveTooLarge,
		},
		{
			name: "reserve below our dust limit",
			modify: func(msg *lnwire.AcceptChannel) {
				msg.ChannelReserve = 353
			},
			kind: ErrKindChanReserveTooSmall,
		},
		{
			name: "dust limit too small",
			modify: func(msg *lnwire.AcceptChannel) {
				msg.DustLimit = 353
			},
			kind: ErrKindDustLimitTooSmall,
		},
		{
			name: "dust limit too large",
			modify: func(msg *lnwire.AcceptChannel) {
				msg.DustLimit = DefaultMaxDustLimit + 1
			},
			kind: ErrKindDustLimitTooLarge,
		},
		{
			name: "min htlc too large",
			modify: func(msg *lnwire.AcceptChannel) {
				msg.HtlcMinimum = 180_000_001
			},
			kind: ErrKindMinHtlcTooLarge,
		},
		{
			name: "too many htlcs",
			modify: func(msg *lnwire.AcceptChannel) {
				msg.MaxAcceptedHTLCs = MaxHTLCNumber + 1
			},
			kind: ErrKindMaxHtlcNumTooLarge,
		},
		{
			name: "no htlcs",
			modify: func(msg *lnwire.AcceptChannel) {
				msg.MaxAcceptedHTLCs = 0
			},
			kind: ErrKindMaxHtlcNumTooSmall,
		},
		{
			name: "max in flight too small",
			modify: func(msg *lnwire.AcceptChannel) {
				msg.MaxValueInFlight = 999
			},
			kind: ErrKindMaxValueInFlightTooSmall,
		},
		{
			name: "missing commitment point",
			modify: func(msg *lnwire.AcceptChannel) {
				msg.FirstCommitmentPoint = nil
			},
			kind: ErrKindMissingKey,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			h := newTestHarness(t)
			c := h.newChannel(t)

			msg := NewTestAcceptChannel(c)
			test.modify(msg)

			result, err := h.logic.ValidateAcceptChannel(
				context.Background(), c, msg,
			)
			require.NoError(t, err)

			if test.valid {
				require.True(t, result.IsOk())
				return
			}

			_, validateErr := result.Unpack()
			require.True(t, IsOpeningError(validateErr, test.kind),
				"unexpected error: %v", validateErr)
		})
	}
}

// TestRemoteCommitmentTx checks the peer's first commitment transaction and
// that our signature for it verifies against our funding key.
func TestRemoteCommitmentTx(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t)
	c := h.newChannel(t)
	h.fundChannel(t, c)

	commitTx, err := h.logic.CreateRemoteCommitmentTx(ctx, c)
	require.NoError(t, err)

	require.Equal(t, int32(2), commitTx.Version)
	require.Len(t, commitTx.TxIn, 1)
	require.Equal(t, c.FundingOutPoint.UnsafeFromSome(),
		commitTx.TxIn[0].PreviousOutPoint)
	require.Equal(t, uint32(0x80), commitTx.TxIn[0].Sequence>>24)
	require.Equal(t, uint32(0x20), commitTx.LockTime>>24)

	obfuscator := DeriveStateHintObfuscator(
		c.OurSide.PaymentBasePoint, c.TheirSide.PaymentBasePoint,
	)
	require.Zero(t, GetStateNumHint(commitTx, obfuscator))

	// The funder pays the 724 weight fee out of its balance.
	values := make(map[int64]bool)
	for _, txOut := range commitTx.TxOut {
		values[txOut.Value] = true
	}
	require.Len(t, commitTx.TxOut, 2)
	require.True(t, values[2_000])
	require.True(t, values[198_000-724])

	sig, err := h.logic.SignCommitmentTx(ctx, c, commitTx)
	require.NoError(t, err)

	sigHash, err := commitSigHash(c, commitTx)
	require.NoError(t, err)
	parsed, err := sig.ToSignature()
	require.NoError(t, err)
	require.True(t, parsed.Verify(sigHash, c.OurSide.FundingPubKey))

	created, err := h.logic.CreateFundingCreated(ctx, c, sig)
	require.NoError(t, err)
	require.Equal(t, c.TemporaryID, created.PendingChannelID)
	require.Equal(t, c.FundingOutPoint.UnsafeFromSome(),
		created.FundingPoint)
	require.Equal(t, sig, created.CommitSig)
}

// TestRemoteCommitmentTxNoPush asserts the peer's empty output is trimmed.
func TestRemoteCommitmentTxNoPush(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	c := h.newChannel(t)
	c.OurSide.Balance += c.TheirSide.Balance
	c.TheirSide.Balance = 0
	h.fundChannel(t, c)

	commitTx, err := CreateRemoteCommitTx(c)
	require.NoError(t, err)
	require.Len(t, commitTx.TxOut, 1)
	require.Equal(t, int64(200_000-724), commitTx.TxOut[0].Value)
}

// TestValidateFundingSigned checks the peer's signature for our commitment.
func TestValidateFundingSigned(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t)
	c := h.newChannel(t)
	h.fundChannel(t, c)

	msg, err := NewTestFundingSigned(c)
	require.NoError(t, err)

	result, err := h.logic.ValidateFundingSigned(ctx, c, msg)
	require.NoError(t, err)
	require.True(t, result.IsOk())

	// A signature by any other key is rejected.
	commitTx, err := CreateLocalCommitTx(c)
	require.NoError(t, err)
	sigHash, err := commitSigHash(c, commitTx)
	require.NoError(t, err)
	badSig, err := lnwire.NewSigFromSignature(
		ecdsa.Sign(TestPrivKey(99), sigHash),
	)
	require.NoError(t, err)

	result, err = h.logic.ValidateFundingSigned(ctx, c,
		&lnwire.FundingSigned{ChanID: msg.ChanID, CommitSig: badSig},
	)
	require.NoError(t, err)
	_, validateErr := result.Unpack()
	require.True(t, IsOpeningError(validateErr, ErrKindInvalidSignature))

	// So is a signature for another channel.
	wrongID := msg.ChanID
	wrongID[0] ^= 0x01
	result, err = h.logic.ValidateFundingSigned(ctx, c,
		&lnwire.FundingSigned{
			ChanID:    wrongID,
			CommitSig: msg.CommitSig,
		},
	)
	require.NoError(t, err)
	_, validateErr = result.Unpack()
	require.True(t, IsOpeningError(validateErr, ErrKindChanIDMismatch))
}

// TestValidateFundingSignedUnfunded asserts validating before the funding
// transaction exists is a fault, not a rejection.
func TestValidateFundingSignedUnfunded(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	c := h.newChannel(t)

	_, err := h.logic.ValidateFundingSigned(
		context.Background(), c, &lnwire.FundingSigned{},
	)
	require.ErrorIs(t, err, ErrNoFundingTx)
}

// TestChannelReady checks our channel_ready and the validation of the
// peer's.
func TestChannelReady(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t)
	c := h.newChannel(t)
	h.fundChannel(t, c)

	ready, err := h.logic.CreateChannelReady(ctx, c)
	require.NoError(t, err)
	require.Equal(t, c.ChannelID.UnsafeFromSome(), ready.ChanID)
	require.True(t, OurTestKeys.CommitPoint(1).IsEqual(
		ready.NextPerCommitmentPoint,
	))

	theirs := NewTestChannelReady(c)
	result, err := h.logic.ValidateChannelReady(ctx, c, theirs)
	require.NoError(t, err)
	require.True(t, result.IsOk())

	result, err = h.logic.ValidateChannelReady(ctx, c,
		&lnwire.ChannelReady{ChanID: theirs.ChanID},
	)
	require.NoError(t, err)
	_, validateErr := result.Unpack()
	require.True(t, IsOpeningError(validateErr, ErrKindMissingKey))

	result, err = h.logic.ValidateChannelReady(ctx, c,
		lnwire.NewChannelReady(lnwire.ChannelID{0x01},
			theirs.NextPerCommitmentPoint),
	)
	require.NoError(t, err)
	_, validateErr = result.Unpack()
	require.True(t, IsOpeningError(validateErr, ErrKindChanIDMismatch))
}

// TestBroadcastAndSend asserts effects are handed to the collaborators and
// their failures are returned.
func TestBroadcastAndSend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t)

	tx := wire.NewMsgTx(2)
	errPublish := errors.New("mempool full")
	h.wallet.On("BroadcastTx", mock.Anything, tx).Return(errPublish)
	require.ErrorIs(t, h.logic.BroadcastTx(ctx, tx), errPublish)

	msg := &lnwire.FundingSigned{}
	h.messenger.On("SendMessage", mock.Anything, TestPeerID, msg).
		Return(nil)
	require.NoError(t, h.logic.SendMessage(ctx, TestPeerID, msg))
}

package main

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/lightningnetwork/lnchan/channeldb"
	"github.com/lightningnetwork/lnchan/funding"
	"github.com/lightningnetwork/lnchan/lnwallet"
	"github.com/stretchr/testify/require"
)

func newStoredChannel(t *testing.T, db *channeldb.DB, tempID [32]byte,
	funded bool) *channeldb.Channel {

	t.Helper()

	keys := lnwallet.OurTestKeys
	points := keys.BasePoints
	c, err := channeldb.NewChannel(&channeldb.ChannelConfig{
		PeerID:                  lnwallet.TestPeerID,
		ChainHash:               lnwallet.TestChainHash,
		TemporaryID:             tempID,
		IsFunder:                true,
		FundingAmount:           lnwallet.TestFundingAmount,
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

	state := funding.StateAwaitingAcceptChannel
	if funded {
		c.AttachAcceptChannel(lnwallet.NewTestAcceptChannel(c))

		_, output, err := c.FundingScript()
		require.NoError(t, err)
		require.NoError(t, c.AttachFundingTx(
			lnwallet.NewTestFundingTx(output),
		))

		state = funding.StateAwaitingFundingSigned
	}

	require.NoError(t, db.SaveChannel(state.String(), c))

	return c
}

func TestParseID(t *testing.T) {
	t.Parallel()

	id := [32]byte{0xaa, 0x01}
	parsed, err := parseID(hex.EncodeToString(id[:]))
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	_, err = parseID("zz")
	require.ErrorContains(t, err, "invalid channel id")

	_, err = parseID("abcd")
	require.ErrorContains(t, err, "expected 32 bytes, got 2")
}

// TestFindChannel asserts channels are found by either of their ids.
func TestFindChannel(t *testing.T) {
	t.Parallel()

	db, err := channeldb.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	pending := newStoredChannel(t, db, [32]byte{0x01}, false)
	funded := newStoredChannel(t, db, [32]byte{0x02}, true)

	record, err := findChannel(db, pending.TemporaryID)
	require.NoError(t, err)
	require.Equal(t, pending.TemporaryID, record.Channel.TemporaryID)

	record, err = findChannel(db, funded.ID())
	require.NoError(t, err)
	require.Equal(t, funded.TemporaryID, record.Channel.TemporaryID)

	_, err = findChannel(db, [32]byte{0xff})
	require.ErrorIs(t, err, channeldb.ErrChannelNotFound)
}

func TestNewChannelInfo(t *testing.T) {
	t.Parallel()

	db, err := channeldb.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	c := newStoredChannel(t, db, [32]byte{0x03}, true)
	record, err := db.FetchChannel(c.TemporaryID)
	require.NoError(t, err)

	info := newChannelInfo(record)
	require.Equal(t, funding.StateAwaitingFundingSigned.String(),
		info.State)
	require.Equal(t, hex.EncodeToString(c.TemporaryID[:]),
		info.TemporaryID)
	require.NotEmpty(t, info.ChannelID)
	require.NotEmpty(t, info.ChannelPoint)
	require.Equal(t, int64(lnwallet.TestFundingAmount), info.CapacitySat)
	require.Zero(t, info.ConfirmedHeight)
	require.False(t, info.PeerReady)

	var b bytes.Buffer
	require.NoError(t, printJSON(&b, info))
	require.Contains(t, b.String(), `"channel_point": "`)
	require.NotContains(t, b.String(), "confirmed_height")
}

// TestPrintTopology asserts every state is printed indented below its
// parent along with the events it reacts to.
func TestPrintTopology(t *testing.T) {
	t.Parallel()

	var b bytes.Buffer
	require.NoError(t, printTopology(&b))

	lines := strings.Split(strings.TrimSpace(b.String()), "\n")
	require.Len(t, lines, 8)
	require.Equal(t, "channel", lines[0])
	require.Contains(t, lines,
		"        awaiting_funding_depth "+
			"(block_connected, channel_ready)")
	require.Contains(t, lines, "    normal")
}

package lnwallet

import (
	"bytes"
	"context"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnchan/channeldb"
	"github.com/lightningnetwork/lnchan/input"
	"github.com/lightningnetwork/lnchan/lnwallet/chainfee"
	"github.com/lightningnetwork/lnchan/lnwire"
	"github.com/lightningnetwork/lnchan/shachain"
)

const (
	// TestFundingAmount is the capacity of test channels.
	TestFundingAmount = btcutil.Amount(200_000)

	// TestPushAmount is pushed to the peer in test channels.
	TestPushAmount = lnwire.MilliSatoshi(2_000_000)

	// TestFeeRate is the fee rate of test channels.
	TestFeeRate = chainfee.SatPerKWeight(1000)

	// TestMinimumDepth is the depth the test peer requires.
	TestMinimumDepth = 6
)

// TestPrivKey returns the private key with the given scalar.
func TestPrivKey(scalar byte) *btcec.PrivateKey {
	var b [32]byte
	b[31] = scalar
	priv, _ := btcec.PrivKeyFromBytes(b[:])

	return priv
}

// TestKeySet is the key material of one test party.
type TestKeySet struct {
	FundingKey *btcec.PrivateKey
	BasePoints BasePointSecrets
	Seed       [32]byte
}

// CommitPoint returns the party's per-commitment point for commitment n.
func (k *TestKeySet) CommitPoint(n uint64) *btcec.PublicKey {
	producer := shachain.NewRevocationProducer(chainhash.Hash(k.Seed))
	secret, err := producer.AtIndex(n)
	if err != nil {
		panic(err)
	}

	return input.ComputeCommitmentPoint(secret[:])
}

// newTestKeySet derives keys from consecutive scalars starting at first and
// a seed with every byte set to seed.
func newTestKeySet(first, seed byte) *TestKeySet {
	return &TestKeySet{
		FundingKey: TestPrivKey(first),
		BasePoints: BasePointSecrets{
			Payment:        TestPrivKey(first + 1),
			DelayedPayment: TestPrivKey(first + 2),
			Htlc:           TestPrivKey(first + 3),
			Revocation:     TestPrivKey(first + 4),
		},
		Seed: [32]byte(bytes.Repeat([]byte{seed}, 32)),
	}
}

var (
	// OurTestKeys are the keys of the funder in tests.
	OurTestKeys = newTestKeySet(1, 0x00)

	// TheirTestKeys are the keys of the test peer.
	TheirTestKeys = newTestKeySet(11, 0xff)

	// TestPeerID is the identity key of the test peer.
	TestPeerID = TestPrivKey(0x20).PubKey()

	// TestChainHash is the chain test channels are opened on.
	TestChainHash = *chaincfg.RegressionNetParams.GenesisHash
)

// TestChannelPolicy returns a policy matching the test peer's parameters.
func TestChannelPolicy() *ChannelPolicy {
	policy := DefaultChannelPolicy()
	policy.LocalMinHtlc = 200_000
	policy.LocalMaxAcceptedHtlcs = 30
	policy.LocalMaxValueInFlight = 20_000_000
	policy.RemoteReserveRatio = 10
	policy.RemoteToSelfDelay = 144

	return policy
}

// NewTestAcceptChannel returns the test peer's valid reply to the
// open_channel of c.
func NewTestAcceptChannel(c *channeldb.Channel) *lnwire.AcceptChannel {
	keys := TheirTestKeys

	return &lnwire.AcceptChannel{
		PendingChannelID:     c.TemporaryID,
		DustLimit:            354,
		MaxValueInFlight:     20_000_000,
		ChannelReserve:       20_000,
		HtlcMinimum:          200_000,
		MinAcceptDepth:       TestMinimumDepth,
		CsvDelay:             144,
		MaxAcceptedHTLCs:     30,
		FundingKey:           keys.FundingKey.PubKey(),
		RevocationPoint:      keys.BasePoints.Revocation.PubKey(),
		PaymentPoint:         keys.BasePoints.Payment.PubKey(),
		DelayedPaymentPoint:  keys.BasePoints.DelayedPayment.PubKey(),
		HtlcPoint:            keys.BasePoints.Htlc.PubKey(),
		FirstCommitmentPoint: keys.CommitPoint(0),
	}
}

// NewTestFundingTx returns a transaction with a change output followed by
// output, so the funding output is not at index 0.
func NewTestFundingTx(output *wire.TxOut) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{
			Hash:  chainhash.Hash{0x01},
			Index: 1,
		},
	})
	tx.AddTxOut(wire.NewTxOut(50_000, bytes.Repeat([]byte{0x51}, 1)))
	tx.AddTxOut(output)

	return tx
}

// NewTestFundingSigned returns the test peer's funding_signed for c, signing
// our local commitment transaction with the peer's funding key.
func NewTestFundingSigned(c *channeldb.Channel) (*lnwire.FundingSigned,
	error) {

	peerView := c.Copy()
	peerView.Keys.FundingKey = TheirTestKeys.FundingKey

	commitTx, err := CreateLocalCommitTx(c)
	if err != nil {
		return nil, err
	}

	logic := &FundingLogic{cfg: &Config{}}
	sig, err := logic.SignCommitmentTx(
		context.Background(), peerView, commitTx,
	)
	if err != nil {
		return nil, err
	}

	return &lnwire.FundingSigned{
		ChanID:    c.ChannelID.UnsafeFromSome(),
		CommitSig: sig,
	}, nil
}

// NewTestChannelReady returns the test peer's channel_ready for c.
func NewTestChannelReady(c *channeldb.Channel) *lnwire.ChannelReady {
	return lnwire.NewChannelReady(
		c.ChannelID.UnsafeFromSome(), TheirTestKeys.CommitPoint(1),
	)
}

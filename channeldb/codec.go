package channeldb

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnchan/lnwallet/chainfee"
	"github.com/lightningnetwork/lnchan/lnwire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
)

// Record types of a serialized channel.
const (
	stateIDType         tlv.Type = 0
	peerIDType          tlv.Type = 1
	chainHashType       tlv.Type = 2
	temporaryIDType     tlv.Type = 3
	channelIDType       tlv.Type = 4
	isFunderType        tlv.Type = 5
	isPublicType        tlv.Type = 6
	fundingAmtType      tlv.Type = 7
	pushAmtType         tlv.Type = 8
	feeRateType         tlv.Type = 9
	minDepthType        tlv.Type = 10
	ourSideType         tlv.Type = 11
	theirSideType       tlv.Type = 12
	fundingKeyType      tlv.Type = 13
	paymentSecretType   tlv.Type = 14
	delayedSecretType   tlv.Type = 15
	htlcSecretType      tlv.Type = 16
	revocationSecType   tlv.Type = 17
	commitSeedType      tlv.Type = 18
	fundingTxType       tlv.Type = 19
	fundingTxidType     tlv.Type = 20
	fundingIndexType    tlv.Type = 21
	confirmedHeightType tlv.Type = 22
	readyHeightType     tlv.Type = 23
	hasChanReadyType    tlv.Type = 24
	lastUpdateType      tlv.Type = 25
)

// Record types of a serialized channel side.
const (
	balanceType        tlv.Type = 0
	dustLimitType      tlv.Type = 1
	minHtlcType        tlv.Type = 2
	maxAcceptedType    tlv.Type = 3
	maxInFlightType    tlv.Type = 4
	reserveType        tlv.Type = 5
	toSelfDelayType    tlv.Type = 6
	commitNumType      tlv.Type = 7
	commitPointType    tlv.Type = 8
	commitSigType      tlv.Type = 9
	fundingPubKeyType  tlv.Type = 10
	paymentBaseType    tlv.Type = 11
	delayedBaseType    tlv.Type = 12
	htlcBaseType       tlv.Type = 13
	revocationBaseType tlv.Type = 14
)

func boolToByte(b bool) uint8 {
	if b {
		return 1
	}

	return 0
}

// optionalKey appends a public key record if the key is known.
func optionalKey(records []tlv.Record, typ tlv.Type,
	key **btcec.PublicKey) []tlv.Record {

	if *key == nil {
		return records
	}

	return append(records, tlv.MakePrimitiveRecord(typ, key))
}

// serializeChannelSide encodes one side of a channel as a tlv stream.
func serializeChannelSide(w io.Writer, s *ChannelSide) error {
	var (
		balance     = uint64(s.Balance)
		dustLimit   = uint64(s.DustLimit)
		minHtlc     = uint64(s.MinHtlcValue)
		maxInFlight = uint64(s.MaxInFlightHtlcValue)
		reserve     = uint64(s.ChannelReserve)
	)

	records := []tlv.Record{
		tlv.MakePrimitiveRecord(balanceType, &balance),
		tlv.MakePrimitiveRecord(dustLimitType, &dustLimit),
		tlv.MakePrimitiveRecord(minHtlcType, &minHtlc),
		tlv.MakePrimitiveRecord(maxAcceptedType, &s.MaxAcceptedHtlcs),
		tlv.MakePrimitiveRecord(maxInFlightType, &maxInFlight),
		tlv.MakePrimitiveRecord(reserveType, &reserve),
		tlv.MakePrimitiveRecord(toSelfDelayType, &s.ToSelfDelayBlocks),
		tlv.MakePrimitiveRecord(
			commitNumType, &s.NextCommitmentNumber,
		),
	}
	records = optionalKey(records, commitPointType, &s.NextCommitmentPoint)

	var sig [64]byte
	s.NextCommitmentSig.WhenSome(func(commitSig lnwire.Sig) {
		sig = commitSig
		records = append(
			records, tlv.MakePrimitiveRecord(commitSigType, &sig),
		)
	})

	records = optionalKey(records, fundingPubKeyType, &s.FundingPubKey)
	records = optionalKey(records, paymentBaseType, &s.PaymentBasePoint)
	records = optionalKey(
		records, delayedBaseType, &s.DelayedPaymentBasePoint,
	)
	records = optionalKey(records, htlcBaseType, &s.HtlcBasePoint)
	records = optionalKey(
		records, revocationBaseType, &s.RevocationBasePoint,
	)

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// deserializeChannelSide decodes a channel side written by
// serializeChannelSide.
func deserializeChannelSide(r io.Reader) (ChannelSide, error) {
	var (
		s                                         ChannelSide
		balance, dust, minHtlc, inFlight, reserve uint64
		sig                                       [64]byte
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(balanceType, &balance),
		tlv.MakePrimitiveRecord(dustLimitType, &dust),
		tlv.MakePrimitiveRecord(minHtlcType, &minHtlc),
		tlv.MakePrimitiveRecord(maxAcceptedType, &s.MaxAcceptedHtlcs),
		tlv.MakePrimitiveRecord(maxInFlightType, &inFlight),
		tlv.MakePrimitiveRecord(reserveType, &reserve),
		tlv.MakePrimitiveRecord(toSelfDelayType, &s.ToSelfDelayBlocks),
		tlv.MakePrimitiveRecord(
			commitNumType, &s.NextCommitmentNumber,
		),
		tlv.MakePrimitiveRecord(
			commitPointType, &s.NextCommitmentPoint,
		),
		tlv.MakePrimitiveRecord(commitSigType, &sig),
		tlv.MakePrimitiveRecord(fundingPubKeyType, &s.FundingPubKey),
		tlv.MakePrimitiveRecord(paymentBaseType, &s.PaymentBasePoint),
		tlv.MakePrimitiveRecord(
			delayedBaseType, &s.DelayedPaymentBasePoint,
		),
		tlv.MakePrimitiveRecord(htlcBaseType, &s.HtlcBasePoint),
		tlv.MakePrimitiveRecord(
			revocationBaseType, &s.RevocationBasePoint,
		),
	)
	if err != nil {
		return s, err
	}

	parsed, err := stream.DecodeWithParsedTypes(r)
	if err != nil {
		return s, err
	}

	s.Balance = lnwire.MilliSatoshi(balance)
	s.DustLimit = btcutil.Amount(dust)
	s.MinHtlcValue = lnwire.MilliSatoshi(minHtlc)
	s.MaxInFlightHtlcValue = lnwire.MilliSatoshi(inFlight)
	s.ChannelReserve = btcutil.Amount(reserve)

	if _, ok := parsed[commitSigType]; ok {
		s.NextCommitmentSig = fn.Some(lnwire.Sig(sig))
	}

	return s, nil
}

// serializeChannel writes the channel and the id of the state it is in as a
// tlv stream.
func serializeChannel(w io.Writer, state string, c *Channel) error {
	var ourSide, theirSide bytes.Buffer
	if err := serializeChannelSide(&ourSide, &c.OurSide); err != nil {
		return err
	}
	if err := serializeChannelSide(&theirSide, &c.TheirSide); err != nil {
		return err
	}

	var (
		stateID     = []byte(state)
		chainHash   = [32]byte(c.ChainHash)
		isFunder    = boolToByte(c.IsFunder)
		isPublic    = boolToByte(c.IsPublic)
		fundingAmt  = uint64(c.FundingAmount)
		pushAmt     = uint64(c.PushAmount)
		feeRate     = uint64(c.FeeRatePerKw)
		ourBytes    = ourSide.Bytes()
		theirBytes  = theirSide.Bytes()
		hasReady    = boolToByte(c.HasChannelReady)
		lastUpdate  uint64
		fundingKey  = privKeyBytes(c.Keys.FundingKey)
		paymentKey  = privKeyBytes(c.Keys.PaymentBasePointSecret)
		delayedKey  = privKeyBytes(c.Keys.DelayedPaymentBasePointSecret)
		htlcKey     = privKeyBytes(c.Keys.HtlcBasePointSecret)
		revokeKey   = privKeyBytes(c.Keys.RevocationBasePointSecret)
		commitSeed  = c.Keys.PerCommitmentSeed
		chanID      [32]byte
		fundingTx   []byte
		fundingTxid [32]byte
		fundingIdx  uint32
		confHeight  uint32
		readyHeight uint32
	)

	if !c.LastUpdate.IsZero() {
		lastUpdate = uint64(c.LastUpdate.UnixNano())
	}

	records := []tlv.Record{
		tlv.MakePrimitiveRecord(stateIDType, &stateID),
		tlv.MakePrimitiveRecord(peerIDType, &c.PeerID),
		tlv.MakePrimitiveRecord(chainHashType, &chainHash),
		tlv.MakePrimitiveRecord(temporaryIDType, &c.TemporaryID),
	}

	c.ChannelID.WhenSome(func(id lnwire.ChannelID) {
		chanID = id
		records = append(records, tlv.MakePrimitiveRecord(
			channelIDType, &chanID,
		))
	})

	records = append(records,
		tlv.MakePrimitiveRecord(isFunderType, &isFunder),
		tlv.MakePrimitiveRecord(isPublicType, &isPublic),
		tlv.MakePrimitiveRecord(fundingAmtType, &fundingAmt),
		tlv.MakePrimitiveRecord(pushAmtType, &pushAmt),
		tlv.MakePrimitiveRecord(feeRateType, &feeRate),
		tlv.MakePrimitiveRecord(minDepthType, &c.MinimumDepth),
		tlv.MakePrimitiveRecord(ourSideType, &ourBytes),
		tlv.MakePrimitiveRecord(theirSideType, &theirBytes),
		tlv.MakePrimitiveRecord(fundingKeyType, &fundingKey),
		tlv.MakePrimitiveRecord(paymentSecretType, &paymentKey),
		tlv.MakePrimitiveRecord(delayedSecretType, &delayedKey),
		tlv.MakePrimitiveRecord(htlcSecretType, &htlcKey),
		tlv.MakePrimitiveRecord(revocationSecType, &revokeKey),
		tlv.MakePrimitiveRecord(commitSeedType, &commitSeed),
	)

	if c.FundingTx.IsSome() {
		tx := c.FundingTx.UnsafeFromSome()

		var b bytes.Buffer
		if err := tx.Serialize(&b); err != nil {
			return err
		}
		fundingTx = b.Bytes()
		records = append(records, tlv.MakePrimitiveRecord(
			fundingTxType, &fundingTx,
		))
	}

	c.FundingOutPoint.WhenSome(func(op wire.OutPoint) {
		fundingTxid = op.Hash
		fundingIdx = op.Index
		records = append(records,
			tlv.MakePrimitiveRecord(fundingTxidType, &fundingTxid),
			tlv.MakePrimitiveRecord(fundingIndexType, &fundingIdx),
		)
	})

	c.FundingConfirmedHeight.WhenSome(func(h uint32) {
		confHeight = h
		records = append(records, tlv.MakePrimitiveRecord(
			confirmedHeightType, &confHeight,
		))
	})

	c.ReadyHeight.WhenSome(func(h uint32) {
		readyHeight = h
		records = append(records, tlv.MakePrimitiveRecord(
			readyHeightType, &readyHeight,
		))
	})

	records = append(records,
		tlv.MakePrimitiveRecord(hasChanReadyType, &hasReady),
		tlv.MakePrimitiveRecord(lastUpdateType, &lastUpdate),
	)

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// deserializeChannel reads a channel written by serializeChannel and returns
// it along with the id of the state it was saved in.
func deserializeChannel(r io.Reader) (string, *Channel, error) {
	var (
		c           = &Channel{}
		stateID     []byte
		chainHash   [32]byte
		chanID      [32]byte
		isFunder    uint8
		isPublic    uint8
		fundingAmt  uint64
		pushAmt     uint64
		feeRate     uint64
		ourBytes    []byte
		theirBytes  []byte
		fundingKey  [32]byte
		paymentKey  [32]byte
		delayedKey  [32]byte
		htlcKey     [32]byte
		revokeKey   [32]byte
		fundingTx   []byte
		fundingTxid [32]byte
		fundingIdx  uint32
		confHeight  uint32
		readyHeight uint32
		hasReady    uint8
		lastUpdate  uint64
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(stateIDType, &stateID),
		tlv.MakePrimitiveRecord(peerIDType, &c.PeerID),
		tlv.MakePrimitiveRecord(chainHashType, &chainHash),
		tlv.MakePrimitiveRecord(temporaryIDType, &c.TemporaryID),
		tlv.MakePrimitiveRecord(channelIDType, &chanID),
		tlv.MakePrimitiveRecord(isFunderType, &isFunder),
		tlv.MakePrimitiveRecord(isPublicType, &isPublic),
		tlv.MakePrimitiveRecord(fundingAmtType, &fundingAmt),
		tlv.MakePrimitiveRecord(pushAmtType, &pushAmt),
		tlv.MakePrimitiveRecord(feeRateType, &feeRate),
		tlv.MakePrimitiveRecord(minDepthType, &c.MinimumDepth),
		tlv.MakePrimitiveRecord(ourSideType, &ourBytes),
		tlv.MakePrimitiveRecord(theirSideType, &theirBytes),
		tlv.MakePrimitiveRecord(fundingKeyType, &fundingKey),
		tlv.MakePrimitiveRecord(paymentSecretType, &paymentKey),
		tlv.MakePrimitiveRecord(delayedSecretType, &delayedKey),
		tlv.MakePrimitiveRecord(htlcSecretType, &htlcKey),
		tlv.MakePrimitiveRecord(revocationSecType, &revokeKey),
		tlv.MakePrimitiveRecord(
			commitSeedType, &c.Keys.PerCommitmentSeed,
		),
		tlv.MakePrimitiveRecord(fundingTxType, &fundingTx),
		tlv.MakePrimitiveRecord(fundingTxidType, &fundingTxid),
		tlv.MakePrimitiveRecord(fundingIndexType, &fundingIdx),
		tlv.MakePrimitiveRecord(confirmedHeightType, &confHeight),
		tlv.MakePrimitiveRecord(readyHeightType, &readyHeight),
		tlv.MakePrimitiveRecord(hasChanReadyType, &hasReady),
		tlv.MakePrimitiveRecord(lastUpdateType, &lastUpdate),
	)
	if err != nil {
		return "", nil, err
	}

	parsed, err := stream.DecodeWithParsedTypes(r)
	if err != nil {
		return "", nil, err
	}

	c.ChainHash = chainHash
	c.IsFunder = isFunder == 1
	c.IsPublic = isPublic == 1
	c.FundingAmount = btcutil.Amount(fundingAmt)
	c.PushAmount = lnwire.MilliSatoshi(pushAmt)
	c.FeeRatePerKw = chainfee.SatPerKWeight(feeRate)
	c.HasChannelReady = hasReady == 1
	if lastUpdate != 0 {
		c.LastUpdate = time.Unix(0, int64(lastUpdate))
	}

	c.Keys.FundingKey, _ = btcec.PrivKeyFromBytes(fundingKey[:])
	c.Keys.PaymentBasePointSecret, _ = btcec.PrivKeyFromBytes(paymentKey[:])
	c.Keys.DelayedPaymentBasePointSecret, _ = btcec.PrivKeyFromBytes(
		delayedKey[:],
	)
	c.Keys.HtlcBasePointSecret, _ = btcec.PrivKeyFromBytes(htlcKey[:])
	c.Keys.RevocationBasePointSecret, _ = btcec.PrivKeyFromBytes(
		revokeKey[:],
	)

	c.OurSide, err = deserializeChannelSide(bytes.NewReader(ourBytes))
	if err != nil {
		return "", nil, fmt.Errorf("unable to decode our side: %w", err)
	}
	c.TheirSide, err = deserializeChannelSide(bytes.NewReader(theirBytes))
	if err != nil {
		return "", nil, fmt.Errorf("unable to decode their side: %w",
			err)
	}

	if _, ok := parsed[channelIDType]; ok {
		c.ChannelID = fn.Some(lnwire.ChannelID(chanID))
	}

	if _, ok := parsed[fundingTxType]; ok {
		tx := &wire.MsgTx{}
		err := tx.Deserialize(bytes.NewReader(fundingTx))
		if err != nil {
			return "", nil, fmt.Errorf("unable to decode funding "+
				"tx: %w", err)
		}
		c.FundingTx = fn.Some(tx)
	}

	if _, ok := parsed[fundingTxidType]; ok {
		c.FundingOutPoint = fn.Some(wire.OutPoint{
			Hash:  fundingTxid,
			Index: fundingIdx,
		})
	}

	if _, ok := parsed[confirmedHeightType]; ok {
		c.FundingConfirmedHeight = fn.Some(confHeight)
	}
	if _, ok := parsed[readyHeightType]; ok {
		c.ReadyHeight = fn.Some(readyHeight)
	}

	return string(stateID), c, nil
}

// privKeyBytes returns the 32-byte scalar of a private key.
func privKeyBytes(k *btcec.PrivateKey) [32]byte {
	var b [32]byte
	if k != nil {
		k.Key.PutBytes(&b)
	}

	return b
}

// chanKey is the bucket key a channel is stored under.
func chanKey(tempID [32]byte) []byte {
	return tempID[:]
}

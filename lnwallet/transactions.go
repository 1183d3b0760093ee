package lnwallet

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/txsort"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnchan/channeldb"
	"github.com/lightningnetwork/lnchan/input"
)

const (
	// StateHintSize is the total number of bytes used between the sequence
	// number and locktime of the commitment transaction used to encode a
	// hint to the state number of a particular commitment transaction.
	StateHintSize = 6

	// maxStateHint is the maximum state number we're able to encode using
	// StateHintSize bytes amongst the sequence number and locktime fields
	// of the commitment transaction.
	maxStateHint uint64 = (1 << 48) - 1
)

var (
	// TimelockShift is used to make sure the commitment transaction is
	// spendable by setting the locktime with it so that it is larger than
	// 500,000,000, thus interpreting it as Unix epoch timestamp and not
	// a block height. It is also smaller than the current timestamp which
	// has bit (1 << 30) set, so there is no risk of having the commitment
	// transaction be rejected. This way we can safely use the lower 24 bits
	// of the locktime field for part of the obscured commitment transaction
	// number.
	TimelockShift = uint32(1 << 29)

	// ErrFeeExceedsBalance is returned when the funder's balance cannot
	// cover the commitment fee.
	ErrFeeExceedsBalance = errors.New("commitment fee exceeds funder " +
		"balance")
)

// SetStateNumHint encodes the current state number within the passed
// commitment transaction by re-purposing the locktime and sequence fields in
// the commitment transaction to encode the obfuscated state number. The state
// number is encoded using 48 bits. The lower 24 bits of the lock time are the
// lower 24 bits of the obfuscated state number and the lower 24 bits of the
// sequence field are the higher 24 bits.
func SetStateNumHint(commitTx *wire.MsgTx, stateNum uint64,
	obfuscator [StateHintSize]byte) error {

	if stateNum > maxStateHint {
		return fmt.Errorf("unable to encode state, %v is greater "+
			"state num that max of %v", stateNum, maxStateHint)
	}

	if len(commitTx.TxIn) != 1 {
		return fmt.Errorf("commitment tx must have exactly 1 input, "+
			"instead has %v", len(commitTx.TxIn))
	}

	stateNum ^= obfuscatorInt(obfuscator)

	// The high bit of the sequence disables relative lock semantics.
	commitTx.TxIn[0].Sequence = uint32(stateNum>>24) |
		wire.SequenceLockTimeDisabled
	commitTx.LockTime = uint32(stateNum&0xFFFFFF) | TimelockShift

	return nil
}

// GetStateNumHint recovers the current state number given a commitment
// transaction which has previously had the state number encoded within it via
// SetStateNumHint and a shared obfuscator.
func GetStateNumHint(commitTx *wire.MsgTx,
	obfuscator [StateHintSize]byte) uint64 {

	stateNumXor := uint64(commitTx.TxIn[0].Sequence&0xFFFFFF) << 24
	stateNumXor |= uint64(commitTx.LockTime & 0xFFFFFF)

	return stateNumXor ^ obfuscatorInt(obfuscator)
}

func obfuscatorInt(obfuscator [StateHintSize]byte) uint64 {
	var obfs [8]byte
	copy(obfs[2:], obfuscator[:])

	return binary.BigEndian.Uint64(obfs[:])
}

// DeriveStateHintObfuscator derives the bytes to be used for obfuscating the
// state hints from the payment base points of both parties. key1 must be the
// funder's point, key2 the other party's.
func DeriveStateHintObfuscator(key1,
	key2 *btcec.PublicKey) [StateHintSize]byte {

	h := sha256.New()
	h.Write(key1.SerializeCompressed())
	h.Write(key2.SerializeCompressed())

	sha := h.Sum(nil)

	var obfuscator [StateHintSize]byte
	copy(obfuscator[:], sha[26:])

	return obfuscator
}

// CommitmentKeyRing holds the keys of the two outputs of a commitment
// transaction, tweaked with the holder's per-commitment point.
type CommitmentKeyRing struct {
	// ToLocalKey is the key the holder sweeps its delayed output with.
	ToLocalKey *btcec.PublicKey

	// RevocationKey lets the other party claim the delayed output once
	// the commitment is revoked.
	RevocationKey *btcec.PublicKey

	// ToRemoteKey is the key the other party's output pays to.
	ToRemoteKey *btcec.PublicKey
}

// DeriveCommitmentKeys derives the key ring of the commitment transaction
// held by holder, given the per-commitment point of that commitment.
func DeriveCommitmentKeys(commitPoint *btcec.PublicKey, holder,
	other *channeldb.ChannelSide) *CommitmentKeyRing {

	return &CommitmentKeyRing{
		ToLocalKey: input.TweakPubKey(
			holder.DelayedPaymentBasePoint, commitPoint,
		),
		RevocationKey: input.DeriveRevocationPubkey(
			other.RevocationBasePoint, commitPoint,
		),
		ToRemoteKey: input.TweakPubKey(
			other.PaymentBasePoint, commitPoint,
		),
	}
}

// CreateCommitTx creates a commitment transaction spending the funding
// outpoint. The to_local output pays the holder after csvTimeout blocks or
// the other party with the revocation key, the to_remote output pays the
// other party immediately. Outputs below dustLimit are left out and the
// remaining outputs are sorted according to BIP 69.
func CreateCommitTx(fundingOutPoint wire.OutPoint, keyRing *CommitmentKeyRing,
	csvTimeout uint32, amountToLocal, amountToRemote,
	dustLimit btcutil.Amount) (*wire.MsgTx, error) {

	toLocalScript, err := input.CommitScriptToSelf(
		csvTimeout, keyRing.ToLocalKey, keyRing.RevocationKey,
	)
	if err != nil {
		return nil, err
	}
	toLocalPkScript, err := input.WitnessScriptHash(toLocalScript)
	if err != nil {
		return nil, err
	}

	toRemotePkScript, err := input.CommitScriptUnencumbered(
		keyRing.ToRemoteKey,
	)
	if err != nil {
		return nil, err
	}

	// CSV is only enforced for transactions of version 2 or above.
	commitTx := wire.NewMsgTx(2)
	commitTx.AddTxIn(wire.NewTxIn(&fundingOutPoint, nil, nil))

	if amountToLocal >= dustLimit {
		commitTx.AddTxOut(wire.NewTxOut(
			int64(amountToLocal), toLocalPkScript,
		))
	}
	if amountToRemote >= dustLimit {
		commitTx.AddTxOut(wire.NewTxOut(
			int64(amountToRemote), toRemotePkScript,
		))
	}

	txsort.InPlaceSort(commitTx)

	return commitTx, nil
}

// commitBalances returns the holder's and the other party's output amounts
// of a commitment transaction. The funder pays the whole fee.
func commitBalances(c *channeldb.Channel, holder,
	other *channeldb.ChannelSide,
	holderIsFunder bool) (btcutil.Amount, btcutil.Amount, error) {

	toLocal := holder.Balance.ToSatoshis()
	toRemote := other.Balance.ToSatoshis()

	fee := c.FeeRatePerKw.FeeForWeight(input.CommitWeight)

	funderBalance := &toRemote
	if holderIsFunder {
		funderBalance = &toLocal
	}
	if *funderBalance < fee {
		return 0, 0, fmt.Errorf("%w: fee=%v balance=%v",
			ErrFeeExceedsBalance, fee, *funderBalance)
	}
	*funderBalance -= fee

	return toLocal, toRemote, nil
}

// createCommitTxForSide builds the next commitment transaction held by
// holder. theirs reports whether holder is the remote party.
func createCommitTxForSide(c *channeldb.Channel,
	theirs bool) (*wire.MsgTx, error) {

	outPoint, err := c.FundingOutPoint.UnwrapOrErr(
		channeldb.ErrFundingOutputNotFound,
	)
	if err != nil {
		return nil, err
	}

	holder, other := &c.OurSide, &c.TheirSide
	holderIsFunder := c.IsFunder
	if theirs {
		holder, other = other, holder
		holderIsFunder = !c.IsFunder
	}

	if holder.NextCommitmentPoint == nil {
		return nil, fmt.Errorf("commitment point %d unknown",
			holder.NextCommitmentNumber)
	}
	if other.RevocationBasePoint == nil || other.PaymentBasePoint == nil {
		return nil, channeldb.ErrTheirKeysUnknown
	}

	toLocal, toRemote, err := commitBalances(
		c, holder, other, holderIsFunder,
	)
	if err != nil {
		return nil, err
	}

	keyRing := DeriveCommitmentKeys(
		holder.NextCommitmentPoint, holder, other,
	)
	commitTx, err := CreateCommitTx(
		outPoint, keyRing, uint32(holder.ToSelfDelayBlocks), toLocal,
		toRemote, holder.DustLimit,
	)
	if err != nil {
		return nil, err
	}

	// The obfuscator always starts with the funder's payment base point.
	funder, fundee := &c.OurSide, &c.TheirSide
	if !c.IsFunder {
		funder, fundee = fundee, funder
	}
	obfuscator := DeriveStateHintObfuscator(
		funder.PaymentBasePoint, fundee.PaymentBasePoint,
	)
	err = SetStateNumHint(commitTx, holder.NextCommitmentNumber, obfuscator)
	if err != nil {
		return nil, err
	}

	return commitTx, nil
}

// CreateLocalCommitTx builds our next commitment transaction, the one the
// peer signs in funding_signed.
func CreateLocalCommitTx(c *channeldb.Channel) (*wire.MsgTx, error) {
	return createCommitTxForSide(c, false)
}

// CreateRemoteCommitTx builds the peer's next commitment transaction, the one
// we sign in funding_created.
func CreateRemoteCommitTx(c *channeldb.Channel) (*wire.MsgTx, error) {
	return createCommitTxForSide(c, true)
}

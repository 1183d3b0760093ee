package lnwallet

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func pubKeyFromHex(t *testing.T, keyHex string) *btcec.PublicKey {
	t.Helper()

	b, err := hex.DecodeString(keyHex)
	require.NoError(t, err)
	key, err := btcec.ParsePubKey(b)
	require.NoError(t, err)

	return key
}

// TestStateHintVector checks the obscured commitment number against the
// commitment test vector of BOLT #3.
func TestStateHintVector(t *testing.T) {
	t.Parallel()

	localPayment := pubKeyFromHex(t, "034f355bdcb7cc0af728ef3cceb9615d9068"+
		"4bb5b2ca5f859ab0f0b704075871aa")
	remotePayment := pubKeyFromHex(t, "032c0b7cf95324a07d05398b240174dc0c"+
		"2be444d96b159aa6c7f7b1e668680991")

	obfuscator := DeriveStateHintObfuscator(localPayment, remotePayment)
	require.Equal(t, "2bb038521914", hex.EncodeToString(obfuscator[:]))

	commitTx := wire.NewMsgTx(2)
	commitTx.AddTxIn(&wire.TxIn{})
	require.NoError(t, SetStateNumHint(commitTx, 42, obfuscator))

	require.Equal(t, uint32(542251326), commitTx.LockTime)
	require.Equal(t, uint32(2150346808), commitTx.TxIn[0].Sequence)
	require.Equal(t, uint64(42), GetStateNumHint(commitTx, obfuscator))
}

// TestStateHintErrors asserts numbers that don't fit and transactions with
// the wrong number of inputs are rejected.
func TestStateHintErrors(t *testing.T) {
	t.Parallel()

	var obfuscator [StateHintSize]byte

	commitTx := wire.NewMsgTx(2)
	require.Error(t, SetStateNumHint(commitTx, 1, obfuscator))

	commitTx.AddTxIn(&wire.TxIn{})
	require.Error(t, SetStateNumHint(commitTx, maxStateHint+1, obfuscator))
}

// TestStateHintRoundTrip asserts every encodable number is recovered.
func TestStateHintRoundTrip(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		stateNum := rapid.Uint64Max(maxStateHint).Draw(t, "state")
		obfs := rapid.SliceOfN(rapid.Byte(), StateHintSize,
			StateHintSize).Draw(t, "obfuscator")

		var obfuscator [StateHintSize]byte
		copy(obfuscator[:], obfs)

		commitTx := wire.NewMsgTx(2)
		commitTx.AddTxIn(&wire.TxIn{})
		err := SetStateNumHint(commitTx, stateNum, obfuscator)
		require.NoError(t, err)

		require.Equal(t, stateNum,
			GetStateNumHint(commitTx, obfuscator))
		require.Equal(t, TimelockShift, commitTx.LockTime&0xFF000000)
		require.NotZero(t,
			commitTx.TxIn[0].Sequence&wire.SequenceLockTimeDisabled)
	})
}

// TestCreateCommitTxTrimsDust asserts outputs below the dust limit are left
// out of the commitment transaction.
func TestCreateCommitTxTrimsDust(t *testing.T) {
	t.Parallel()

	keyRing := &CommitmentKeyRing{
		ToLocalKey:    TestPrivKey(1).PubKey(),
		RevocationKey: TestPrivKey(2).PubKey(),
		ToRemoteKey:   TestPrivKey(3).PubKey(),
	}
	outPoint := wire.OutPoint{Hash: chainhash.Hash{0x02}, Index: 1}

	tests := []struct {
		name       string
		toLocal    btcutil.Amount
		toRemote   btcutil.Amount
		numOutputs int
	}{
		{"both", 10_000, 10_000, 2},
		{"remote dust", 10_000, 353, 1},
		{"local dust", 353, 10_000, 1},
		{"at dust limit", 354, 354, 2},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			commitTx, err := CreateCommitTx(
				outPoint, keyRing, 144, test.toLocal,
				test.toRemote, 354,
			)
			require.NoError(t, err)
			require.Len(t, commitTx.TxOut, test.numOutputs)
			require.Equal(t, int32(2), commitTx.Version)
			require.Len(t, commitTx.TxIn, 1)
			require.Equal(t, outPoint,
				commitTx.TxIn[0].PreviousOutPoint)
		})
	}
}

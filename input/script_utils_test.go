package input

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func decodeHex(t *testing.T, s string) []byte {
	t.Helper()

	b, err := hex.DecodeString(s)
	require.NoError(t, err)

	return b
}

func parsePubKey(t *testing.T, s string) *btcec.PublicKey {
	t.Helper()

	pub, err := btcec.ParsePubKey(decodeHex(t, s))
	require.NoError(t, err)

	return pub
}

// TestKeyDerivationVectors checks key tweaking against the key derivation
// test vectors of BOLT #3.
func TestKeyDerivationVectors(t *testing.T) {
	t.Parallel()

	baseSecret := decodeHex(
		t, "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f",
	)
	perCommitmentSecret := decodeHex(
		t, "1f1e1d1c1b1a191817161514131211100f0e0d0c0b0a09080706050403020100",
	)

	basePriv, basePoint := btcec.PrivKeyFromBytes(baseSecret)
	require.True(t, parsePubKey(
		t, "036d6caac248af96f6afa7f904f550253a0f3ef3f5aa2fe6838a95b216691468e2",
	).IsEqual(basePoint))

	commitPoint := ComputeCommitmentPoint(perCommitmentSecret)
	require.True(t, parsePubKey(
		t, "025f7117a78150fe2ef97db7cfc83bd57b2e2c0d0dd25eaf467a4a1c2a45ce1486",
	).IsEqual(commitPoint))

	localPub := TweakPubKey(basePoint, commitPoint)
	require.True(t, parsePubKey(
		t, "0235f2dbfaa89b57ec7b055afe29849ef7ddfeb1cefdb9ebdc43f5494984db29e5",
	).IsEqual(localPub))

	localPriv := TweakPrivKey(
		basePriv, SingleTweakBytes(commitPoint, basePoint),
	)
	require.Equal(t, decodeHex(
		t, "cbced912d3b21bf196a766651e436aff192362621ce317704ea2f75d87e7be0f",
	), localPriv.Serialize())
	require.True(t, localPriv.PubKey().IsEqual(localPub))

	revocationPub := DeriveRevocationPubkey(basePoint, commitPoint)
	require.True(t, parsePubKey(
		t, "02916e326636d19c33f13e8c0c3a03dd157f332f3e99c317c141dd865eb01f8ff0",
	).IsEqual(revocationPub))

	commitSecretPriv, _ := btcec.PrivKeyFromBytes(perCommitmentSecret)
	revocationPriv := DeriveRevocationPrivKey(basePriv, commitSecretPriv)
	require.Equal(t, decodeHex(
		t, "d09ffff62ddb2297ab000cc85bcb4283fdeb6aa052affbc9dddcf33b61078110",
	), revocationPriv.Serialize())
	require.True(t, revocationPriv.PubKey().IsEqual(revocationPub))
}

// TestGenFundingPkScript asserts the funding script is independent of the
// key order and that its output can be found again in a transaction.
func TestGenFundingPkScript(t *testing.T) {
	t.Parallel()

	_, a := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x01}, 32))
	_, b := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x02}, 32))

	scriptAB, outAB, err := GenFundingPkScript(
		a.SerializeCompressed(), b.SerializeCompressed(), 200_000,
	)
	require.NoError(t, err)

	scriptBA, outBA, err := GenFundingPkScript(
		b.SerializeCompressed(), a.SerializeCompressed(), 200_000,
	)
	require.NoError(t, err)
	require.Equal(t, scriptAB, scriptBA)
	require.Equal(t, outAB, outBA)

	require.Len(t, outAB.PkScript, P2WSHSize)
	require.Equal(
		t, txscript.WitnessV0ScriptHashTy,
		txscript.GetScriptClass(outAB.PkScript),
	)

	tx := wire.NewMsgTx(2)
	tx.AddTxOut(wire.NewTxOut(1_000, []byte{txscript.OP_TRUE}))
	tx.AddTxOut(outAB)

	found, index := FindScriptOutputIndex(tx, outAB.PkScript)
	require.True(t, found)
	require.EqualValues(t, 1, index)

	found, _ = FindScriptOutputIndex(tx, []byte{txscript.OP_FALSE})
	require.False(t, found)

	_, _, err = GenFundingPkScript(
		a.SerializeCompressed(), b.SerializeCompressed(), 0,
	)
	require.Error(t, err)

	_, err = GenMultiSigScript(a.SerializeUncompressed(), b.SerializeCompressed())
	require.Error(t, err)
}

// TestCommitScripts asserts the shape of both commitment output scripts.
func TestCommitScripts(t *testing.T) {
	t.Parallel()

	_, self := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x03}, 32))
	_, revoke := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x04}, 32))

	toSelf, err := CommitScriptToSelf(144, self, revoke)
	require.NoError(t, err)

	disasm, err := txscript.DisasmString(toSelf)
	require.NoError(t, err)
	require.Equal(
		t, "OP_IF "+hex.EncodeToString(revoke.SerializeCompressed())+
			" OP_ELSE 9000 OP_CHECKSEQUENCEVERIFY OP_DROP "+
			hex.EncodeToString(self.SerializeCompressed())+
			" OP_ENDIF OP_CHECKSIG", disasm,
	)

	toRemote, err := CommitScriptUnencumbered(self)
	require.NoError(t, err)
	require.Len(t, toRemote, P2WPKHSize)
	require.Equal(
		t, txscript.WitnessV0PubKeyHashTy,
		txscript.GetScriptClass(toRemote),
	)
}

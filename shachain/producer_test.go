package shachain

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

// rawHash decodes the hex string without the byte reversal chainhash applies
// to display strings.
func rawHash(t *testing.T, s string) chainhash.Hash {
	t.Helper()

	b, err := hex.DecodeString(s)
	require.NoError(t, err)

	var h chainhash.Hash
	copy(h[:], b)

	return h
}

// TestGenerateFromSeed checks the derivation against the per-commitment secret
// generation vectors of BOLT #3.
func TestGenerateFromSeed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		seed   string
		index  index
		output string
	}{
		{
			name:   "generate_from_seed 0 final node",
			seed:   "0000000000000000000000000000000000000000000000000000000000000000",
			index:  0xffffffffffff,
			output: "02a40c85b6f28da08dfdbe0926c53fab2de6d28c10301f8f7c4073d5e42e3148",
		},
		{
			name:   "generate_from_seed FF final node",
			seed:   "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff",
			index:  0xffffffffffff,
			output: "7cc854b54e3e0dcdb010d7a3fee464a9687be6e8db3be6854c475621e007a5dc",
		},
		{
			name:   "generate_from_seed FF alternate bits 1",
			seed:   "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff",
			index:  0xaaaaaaaaaaa,
			output: "56f4008fb007ca9acf0e15b054d5c9fd12ee06cea347914ddbaed70d1c13a528",
		},
		{
			name:   "generate_from_seed FF alternate bits 2",
			seed:   "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff",
			index:  0x555555555555,
			output: "9015daaeb06dba4ccc05b91b2f73bd54405f2be9f217fbacd3c5ac2e62327d31",
		},
		{
			name:   "generate_from_seed 01 last nontrivial node",
			seed:   "0101010101010101010101010101010101010101010101010101010101010101",
			index:  1,
			output: "915c75942a26bb3a433a8ce2cb0427c29ec6c1775cfc78328b57f6ba7bfeaa9c",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			root := &element{
				index: rootIndex,
				hash:  rawHash(t, test.seed),
			}

			e, err := root.derive(test.index)
			require.NoError(t, err)
			require.Equal(t, rawHash(t, test.output), e.hash)
		})
	}
}

// TestProducerAtIndex asserts that commitment number zero maps onto the first
// shachain index and that distinct commitments yield distinct secrets.
func TestProducerAtIndex(t *testing.T) {
	t.Parallel()

	seed := rawHash(
		t, "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff",
	)
	producer := NewRevocationProducer(seed)

	first, err := producer.AtIndex(0)
	require.NoError(t, err)
	require.Equal(t, rawHash(
		t, "7cc854b54e3e0dcdb010d7a3fee464a9687be6e8db3be6854c475621e007a5dc",
	), *first)

	second, err := producer.AtIndex(1)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	again, err := producer.AtIndex(1)
	require.NoError(t, err)
	require.Equal(t, second, again)
}

// TestDeriveBitTransformations covers the prefix rule on a few small
// indexes.
func TestDeriveBitTransformations(t *testing.T) {
	t.Parallel()

	positions, err := index(4).deriveBitTransformations(7)
	require.NoError(t, err)
	require.Equal(t, []uint8{1, 0}, positions)

	positions, err = index(6).deriveBitTransformations(6)
	require.NoError(t, err)
	require.Empty(t, positions)

	_, err = index(5).deriveBitTransformations(6)
	require.Error(t, err)
}

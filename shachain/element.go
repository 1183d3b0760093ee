package shachain

import (
	"crypto/sha256"
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// element is one output of the shachain PRF together with the index it was
// derived for. Knowing an element allows the derivation of every element
// whose index shares its prefix.
type element struct {
	index index
	hash  chainhash.Hash
}

// derive computes one shachain element from another by applying a series of
// bit flips and hashing operations based on the starting and ending index.
func (e *element) derive(toIndex index) (*element, error) {
	positions, err := e.index.deriveBitTransformations(toIndex)
	if err != nil {
		return nil, err
	}

	buf := e.hash.CloneBytes()
	for _, position := range positions {
		changeBit(buf, position)

		h := sha256.Sum256(buf)
		buf = h[:]
	}

	hash, err := chainhash.NewHash(buf)
	if err != nil {
		return nil, err
	}

	return &element{
		index: toIndex,
		hash:  *hash,
	}, nil
}

const (
	// maxHeight is the number of bits in a shachain index.
	maxHeight uint8 = 48

	// rootIndex is an index which corresponds to the root hash.
	rootIndex index = 0
)

// startIndex is the index of first element in the shachain PRF.
var startIndex index = (1 << maxHeight) - 1

// index identifies an element of the chain. Commitment numbers count up from
// zero while indexes count down from startIndex.
type index uint64

// newIndex maps a commitment number onto its shachain index.
func newIndex(v uint64) index {
	return startIndex - index(v)
}

// deriveBitTransformations checks that the 'to' index is derivable from the
// 'from' index, which is the case when 'from' is a prefix of 'to'. The bit
// positions that are set in 'to' below the common prefix are returned from
// the most significant down, in the order they need to be flipped.
func (from index) deriveBitTransformations(to index) ([]uint8, error) {
	var positions []uint8

	if from == to {
		return positions, nil
	}

	zeros := countTrailingZeros(from)
	if uint64(from) != getPrefix(to, zeros) {
		return nil, errors.New("prefixes are different - indexes " +
			"aren't derivable")
	}

	for position := zeros - 1; ; position-- {
		if getBit(to, position) == 1 {
			positions = append(positions, position)
		}

		if position == 0 {
			break
		}
	}

	return positions, nil
}

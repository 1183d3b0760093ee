package lnwallet

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnchan/input"
)

// DustLimitForSize retrieves the dust limit for a given pkscript size. Given
// the size, it automatically determines whether the script is a witness script
// or not. It calls btcd's GetDustThreshold method under the hood. It must be
// called with a proper size parameter or else a panic occurs.
func DustLimitForSize(scriptSize int) btcutil.Amount {
	var pkscript []byte

	// With the size of the script, determine which type of pkscript to
	// create. The contents of the script don't matter, only its size.
	switch scriptSize {
	case input.P2WPKHSize:
		pkscript, _ = input.WitnessPubKeyHash([]byte{})

	case input.P2WSHSize:
		pkscript, _ = input.WitnessScriptHash([]byte{})

	case input.P2SHSize:
		pkscript, _ = input.GenerateP2SH([]byte{})

	case input.P2PKHSize:
		pkscript, _ = input.GenerateP2PKH([]byte{})

	case input.UnknownWitnessSize:
		pkscript, _ = input.GenerateUnknownWitness()

	default:
		panic("invalid script size")
	}

	txout := &wire.TxOut{PkScript: pkscript}

	return btcutil.Amount(mempool.GetDustThreshold(txout))
}

// DustLimitUnknownWitness returns the dust limit for an UnknownWitnessSize.
// It is the smallest dust limit a peer may ask for: below it, an output of
// any standard script type could fail to relay.
func DustLimitUnknownWitness() btcutil.Amount {
	return DustLimitForSize(input.UnknownWitnessSize)
}

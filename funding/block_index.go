package funding

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ContainsOutPoint returns true if one of txns creates the output op. Every
// output of every transaction is compared until a match is found.
func ContainsOutPoint(txns []*wire.MsgTx, op wire.OutPoint) bool {
	for _, tx := range txns {
		txid := tx.TxHash()
		for i := range tx.TxOut {
			candidate := wire.OutPoint{
				Hash:  txid,
				Index: uint32(i),
			}
			if candidate == op {
				return true
			}
		}
	}

	return false
}

// BlockIndex maps the txid of each transaction of a block to its number of
// outputs. It answers ContainsOutPoint without hashing the block's
// transactions again for every channel that watches it. A BlockIndex is
// read-only once built and safe for concurrent use.
type BlockIndex struct {
	outputs map[chainhash.Hash]uint32
}

// NewBlockIndex indexes txns.
func NewBlockIndex(txns []*wire.MsgTx) *BlockIndex {
	outputs := make(map[chainhash.Hash]uint32, len(txns))
	for _, tx := range txns {
		outputs[tx.TxHash()] = uint32(len(tx.TxOut))
	}

	return &BlockIndex{
		outputs: outputs,
	}
}

// ContainsOutPoint returns true if the indexed block creates the output op.
func (b *BlockIndex) ContainsOutPoint(op wire.OutPoint) bool {
	numOutputs, ok := b.outputs[op.Hash]

	return ok && op.Index < numOutputs
}

// NumTransactions returns the number of indexed transactions.
func (b *BlockIndex) NumTransactions() int {
	return len(b.outputs)
}

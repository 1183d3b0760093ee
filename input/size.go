package input

const (
	// CommitWeight 724 weight
	//
	// The weight of a commitment transaction without any HTLC outputs, as
	// used for the fee calculation of both commitments.
	CommitWeight int64 = 724

	// HTLCWeight 172 weight
	//
	// The weight each untrimmed HTLC output adds to a commitment
	// transaction.
	HTLCWeight int64 = 172

	// P2WSHSize 34 bytes
	//	- OP_0: 1 byte
	//	- OP_DATA: 1 byte (WitnessScriptSHA256 length)
	//	- WitnessScriptSHA256: 32 bytes
	P2WSHSize = 1 + 1 + 32

	// P2WPKHSize 22 bytes
	//	- OP_0: 1 byte
	//	- OP_DATA: 1 byte (PublicKeyHASH160 length)
	//	- PublicKeyHASH160: 20 bytes
	P2WPKHSize = 1 + 1 + 20

	// P2PKHSize 25 bytes
	//	- OP_DUP: 1 byte
	//	- OP_HASH160: 1 byte
	//	- OP_DATA: 1 byte (PublicKeyHASH160 length)
	//	- PublicKeyHASH160: 20 bytes
	//	- OP_EQUALVERIFY: 1 byte
	//	- OP_CHECKSIG: 1 byte
	P2PKHSize = 1 + 1 + 1 + 20 + 1 + 1

	// P2SHSize 23 bytes
	//	- OP_HASH160: 1 byte
	//	- OP_DATA: 1 byte (ScriptHASH160 length)
	//	- ScriptHASH160: 20 bytes
	//	- OP_EQUAL: 1 byte
	P2SHSize = 1 + 1 + 20 + 1

	// UnknownWitnessSize 42 bytes
	//	- OP_x: 1 byte
	//	- OP_DATA: 1 byte (max-size length)
	//	- max-size: 40 bytes
	UnknownWitnessSize = 1 + 1 + 40
)

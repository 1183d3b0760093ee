package lnwire

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

var (
	// errSigOverflow is returned when a signature scalar overflows the
	// group order.
	errSigOverflow = errors.New("signature scalar overflows curve order")
)

// Sig is a fixed-sized ECDSA signature. Unlike Bitcoin, we use fixed sized
// signatures on the wire, instead of DER encoded signatures. The signature is
// the 32-byte big-endian R value followed by the 32-byte big-endian S value.
type Sig [64]byte

// NewSigFromSignature creates a new signature as used on the wire, from an
// existing ecdsa.Signature.
func NewSigFromSignature(sig *ecdsa.Signature) (Sig, error) {
	if sig == nil {
		return Sig{}, fmt.Errorf("cannot decode empty signature")
	}

	var (
		b    Sig
		r, s = sig.R(), sig.S()
	)
	r.PutBytesUnchecked(b[:32])
	s.PutBytesUnchecked(b[32:])

	return b, nil
}

// ToSignature converts the fixed-sized signature to a ecdsa.Signature which
// can be used for signature validation checks.
func (b *Sig) ToSignature() (*ecdsa.Signature, error) {
	var r, s btcec.ModNScalar
	if overflow := r.SetByteSlice(b[:32]); overflow {
		return nil, errSigOverflow
	}
	if overflow := s.SetByteSlice(b[32:]); overflow {
		return nil, errSigOverflow
	}

	return ecdsa.NewSignature(&r, &s), nil
}

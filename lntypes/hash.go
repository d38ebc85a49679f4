package lntypes

import (
	"encoding/hex"
	"fmt"
)

// HashSize is the size in bytes of a payment hash.
const HashSize = 32

// ZeroHash is the all-zero payment hash. It is never handed out by the
// invoice registry.
var ZeroHash Hash

// Hash is a 32-byte payment hash. It identifies an invoice and every payment
// attempt made against it.
type Hash [HashSize]byte

// String returns the hex encoding of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether the hash is the all-zero hash.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// MakeHash copies a byte slice of exactly HashSize bytes into a Hash.
func MakeHash(b []byte) (Hash, error) {
	if len(b) != HashSize {
		return Hash{}, fmt.Errorf("invalid hash length of %v, want %v",
			len(b), HashSize)
	}

	var h Hash
	copy(h[:], b)

	return h, nil
}

// MakeHashFromStr parses a hex encoded payment hash.
func MakeHashFromStr(s string) (Hash, error) {
	if len(s) != HashSize*2 {
		return Hash{}, fmt.Errorf("invalid hash string length of %v, "+
			"want %v", len(s), HashSize*2)
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, err
	}

	return MakeHash(b)
}

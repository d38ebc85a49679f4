package lntypes

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// PreimageSize is the size in bytes of a payment preimage.
const PreimageSize = 32

// Preimage is the secret whose sha256 digest is a payment hash. Revealing it
// is what settles a payment or releases a hold escrow.
type Preimage [PreimageSize]byte

// String returns the hex encoding of the preimage.
func (p Preimage) String() string {
	return hex.EncodeToString(p[:])
}

// NewPreimage draws a fresh preimage from the given entropy source. A nil
// source falls back to crypto/rand.
func NewPreimage(entropy io.Reader) (Preimage, error) {
	if entropy == nil {
		entropy = rand.Reader
	}

	var p Preimage
	if _, err := io.ReadFull(entropy, p[:]); err != nil {
		return Preimage{}, fmt.Errorf("unable to read preimage "+
			"entropy: %w", err)
	}

	return p, nil
}

// MakePreimage copies a byte slice of exactly PreimageSize bytes into a
// Preimage.
func MakePreimage(b []byte) (Preimage, error) {
	if len(b) != PreimageSize {
		return Preimage{}, fmt.Errorf("invalid preimage length of %v, "+
			"want %v", len(b), PreimageSize)
	}

	var p Preimage
	copy(p[:], b)

	return p, nil
}

// MakePreimageFromStr parses a hex encoded preimage.
func MakePreimageFromStr(s string) (Preimage, error) {
	if len(s) != PreimageSize*2 {
		return Preimage{}, fmt.Errorf("invalid preimage string length "+
			"of %v, want %v", len(s), PreimageSize*2)
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return Preimage{}, err
	}

	return MakePreimage(b)
}

// Hash returns the payment hash committed to by the preimage.
func (p Preimage) Hash() Hash {
	return Hash(sha256.Sum256(p[:]))
}

// Matches returns true if the preimage hashes to h.
func (p Preimage) Matches(h Hash) bool {
	return p.Hash() == h
}

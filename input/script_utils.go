package input

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const (
	// EscrowRequiredSigs is the number of signatures that unlock an
	// escrow output.
	EscrowRequiredSigs = 2

	// EscrowScriptSize is the size of a 2-of-3 multisig witness script:
	// OP_2 + 3 * (OP_DATA_33 + 33 byte key) + OP_3 + OP_CHECKMULTISIG.
	EscrowScriptSize = 1 + 3*(1+33) + 1 + 1
)

// ErrDuplicateEscrowKey is returned when two escrow participants share a
// key.
var ErrDuplicateEscrowKey = errors.New("escrow participant keys must be " +
	"distinct")

// WitnessScriptHash generates a pay-to-witness-script-hash public key script
// paying to a version 0 witness program paying to the passed redeem script.
func WitnessScriptHash(witnessScript []byte) ([]byte, error) {
	bldr := txscript.NewScriptBuilder()

	bldr.AddOp(txscript.OP_0)
	scriptHash := sha256.Sum256(witnessScript)
	bldr.AddData(scriptHash[:])
	return bldr.Script()
}

// GenEscrowScript generates the non-p2sh'd 2-of-3 multisig script of an
// escrow between a funder, a claimant and an arbiter. Keys are sorted in
// lexicographical order, so the script doesn't depend on the order the
// participants are passed in.
func GenEscrowScript(funder, claimant,
	arbiter *btcec.PublicKey) ([]byte, error) {

	if funder == nil || claimant == nil || arbiter == nil {
		return nil, errors.New("escrow script needs three keys")
	}

	keys := [][]byte{
		funder.SerializeCompressed(),
		claimant.SerializeCompressed(),
		arbiter.SerializeCompressed(),
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i], keys[j]) < 0
	})
	if bytes.Equal(keys[0], keys[1]) || bytes.Equal(keys[1], keys[2]) {
		return nil, ErrDuplicateEscrowKey
	}

	bldr := txscript.NewScriptBuilder()
	bldr.AddOp(txscript.OP_2)
	for _, key := range keys {
		bldr.AddData(key)
	}
	bldr.AddOp(txscript.OP_3)
	bldr.AddOp(txscript.OP_CHECKMULTISIG)
	return bldr.Script()
}

// GenEscrowPkScript creates the 2-of-3 witness script and its matching p2wsh
// output carrying amt.
func GenEscrowPkScript(funder, claimant, arbiter *btcec.PublicKey,
	amt btcutil.Amount) ([]byte, *wire.TxOut, error) {

	// As a sanity check, ensure that the passed amount is above zero.
	if amt <= 0 {
		return nil, nil, fmt.Errorf("can't create escrow script with " +
			"zero, or negative coins")
	}

	witnessScript, err := GenEscrowScript(funder, claimant, arbiter)
	if err != nil {
		return nil, nil, err
	}

	pkScript, err := WitnessScriptHash(witnessScript)
	if err != nil {
		return nil, nil, err
	}

	return witnessScript, wire.NewTxOut(int64(amt), pkScript), nil
}

// EscrowAddress returns the p2wsh address paying to the witness script.
func EscrowAddress(witnessScript []byte,
	net *chaincfg.Params) (*btcutil.AddressWitnessScriptHash, error) {

	scriptHash := sha256.Sum256(witnessScript)

	return btcutil.NewAddressWitnessScriptHash(scriptHash[:], net)
}

// EscrowKeys returns the keys of a 2-of-3 escrow script in script order.
func EscrowKeys(witnessScript []byte) ([]*btcec.PublicKey, error) {
	class, addrs, reqSigs, err := txscript.ExtractPkScriptAddrs(
		witnessScript, &chaincfg.MainNetParams,
	)
	if err != nil {
		return nil, err
	}
	if class != txscript.MultiSigTy || reqSigs != EscrowRequiredSigs ||
		len(addrs) != 3 {

		return nil, fmt.Errorf("not a 2-of-3 escrow script: %v", class)
	}

	keys := make([]*btcec.PublicKey, 0, len(addrs))
	for _, addr := range addrs {
		pubKeyAddr, ok := addr.(*btcutil.AddressPubKey)
		if !ok {
			return nil, fmt.Errorf("unexpected address %T", addr)
		}
		keys = append(keys, pubKeyAddr.PubKey())
	}

	return keys, nil
}

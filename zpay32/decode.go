package zpay32

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/lightningnetwork/lnpay/lntypes"
	"github.com/lightningnetwork/lnpay/lnwire"
)

// Decode parses the provided encoded invoice and returns a decoded Invoice
// if it is valid and belongs to net. A nil net accepts any supported
// network.
func Decode(invoice string, net *chaincfg.Params) (*Invoice, error) {
	if len(invoice) > maxInvoiceLength {
		return nil, ErrInvoiceTooLarge
	}

	hrp, data, err := bech32.DecodeNoLimit(invoice)
	if err != nil {
		return nil, err
	}

	if !strings.HasPrefix(hrp, "ln") {
		return nil, fmt.Errorf("prefix should be \"ln\"")
	}

	// The network prefix runs until the first digit of the amount.
	rest := hrp[2:]
	split := strings.IndexAny(rest, "0123456789")
	if split == -1 {
		split = len(rest)
	}

	decodedNet, err := netForHRP(rest[:split])
	if err != nil {
		return nil, err
	}
	if net != nil && decodedNet.Name != net.Name {
		return nil, fmt.Errorf("%w: invoice is for %v, expected %v",
			ErrInvalidNet, decodedNet.Name, net.Name)
	}

	decoded := &Invoice{
		Net: decodedNet,
	}

	if amount := rest[split:]; amount != "" {
		msat, err := decodeAmount(amount)
		if err != nil {
			return nil, err
		}
		decoded.MilliSat = fn.Some(msat)
	}

	if len(data) < 1 {
		return nil, fmt.Errorf("%w: version", ErrMissingField)
	}
	if data[0] != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, data[0])
	}

	payload, err := bech32.ConvertBits(data[1:], 5, 8, false)
	if err != nil {
		return nil, err
	}

	if err := decodePayload(payload, decoded); err != nil {
		return nil, err
	}

	if err := validateInvoice(decoded); err != nil {
		return nil, err
	}

	return decoded, nil
}

// decodePayload parses the TLV stream into the invoice.
func decodePayload(payload []byte, invoice *Invoice) error {
	var (
		hash        [32]byte
		description []byte
		expiry      uint64
		timestamp   uint64
		destination *btcec.PublicKey
		secret      [32]byte
		cltvDelta   uint32
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(hashType, &hash),
		tlv.MakePrimitiveRecord(descriptionType, &description),
		tlv.MakePrimitiveRecord(expiryType, &expiry),
		tlv.MakePrimitiveRecord(timestampType, &timestamp),
		tlv.MakePrimitiveRecord(destinationType, &destination),
		tlv.MakePrimitiveRecord(secretType, &secret),
		tlv.MakePrimitiveRecord(cltvType, &cltvDelta),
	)
	if err != nil {
		return err
	}

	parsed, err := stream.DecodeWithParsedTypes(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("unable to decode invoice payload: %w", err)
	}

	for _, typ := range []tlv.Type{
		hashType, descriptionType, expiryType, timestampType,
	} {
		if _, ok := parsed[typ]; !ok {
			return fmt.Errorf("%w: type %d", ErrMissingField, typ)
		}
	}

	invoice.PaymentHash = lntypes.Hash(hash)
	invoice.Description = string(description)
	invoice.Expiry = time.Unix(int64(expiry), 0)
	invoice.Timestamp = time.Unix(int64(timestamp), 0)

	if _, ok := parsed[destinationType]; ok {
		invoice.Destination = destination
	}
	if _, ok := parsed[secretType]; ok {
		invoice.PaymentSecret = fn.Some(secret)
	}
	if _, ok := parsed[cltvType]; ok {
		invoice.MinFinalCLTVExpiry = fn.Some(cltvDelta)
	}

	return nil
}

// Amount returns the requested amount, or zero when the payer chooses it.
func (invoice *Invoice) Amount() lnwire.MilliSatoshi {
	return invoice.MilliSat.UnwrapOr(0)
}

package zpay32

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/lightningnetwork/lnd/tlv"
)

// Encode returns the bech32 string form of the invoice. The human readable
// part is "ln", the network prefix and the optional amount. The data part
// is a version group followed by the TLV payload in 5-bit groups.
func (invoice *Invoice) Encode() (string, error) {
	if err := validateInvoice(invoice); err != nil {
		return "", err
	}

	hrp := "ln" + invoice.Net.Bech32HRPSegwit
	if amt, ok := optionValue(invoice.MilliSat); ok {
		am, err := encodeAmount(amt)
		if err != nil {
			return "", err
		}
		hrp += am
	}

	var payload bytes.Buffer
	if err := encodePayload(&payload, invoice); err != nil {
		return "", err
	}

	payloadBase32, err := bech32.ConvertBits(payload.Bytes(), 8, 5, true)
	if err != nil {
		return "", err
	}

	data := make([]byte, 0, len(payloadBase32)+1)
	data = append(data, Version)
	data = append(data, payloadBase32...)

	b32, err := bech32.Encode(hrp, data)
	if err != nil {
		return "", err
	}

	if len(b32) > maxInvoiceLength {
		return "", ErrInvoiceTooLarge
	}

	return b32, nil
}

// encodePayload writes the TLV stream of the invoice fields.
func encodePayload(w *bytes.Buffer, invoice *Invoice) error {
	var (
		hash        = [32]byte(invoice.PaymentHash)
		description = []byte(invoice.Description)
		expiry      = uint64(invoice.Expiry.Unix())
		timestamp   = uint64(invoice.Timestamp.Unix())
	)

	records := []tlv.Record{
		tlv.MakePrimitiveRecord(hashType, &hash),
		tlv.MakePrimitiveRecord(descriptionType, &description),
		tlv.MakePrimitiveRecord(expiryType, &expiry),
		tlv.MakePrimitiveRecord(timestampType, &timestamp),
	}

	if invoice.Destination != nil {
		dest := invoice.Destination
		records = append(
			records, tlv.MakePrimitiveRecord(destinationType, &dest),
		)
	}

	if secret, ok := optionValue(invoice.PaymentSecret); ok {
		records = append(
			records, tlv.MakePrimitiveRecord(secretType, &secret),
		)
	}

	if delta, ok := optionValue(invoice.MinFinalCLTVExpiry); ok {
		records = append(
			records, tlv.MakePrimitiveRecord(cltvType, &delta),
		)
	}

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return fmt.Errorf("unable to create invoice stream: %w", err)
	}

	return stream.Encode(w)
}

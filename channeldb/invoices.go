package channeldb

import (
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/lightningnetwork/lnpay/invoices"
	"github.com/lightningnetwork/lnpay/lntypes"
	"github.com/lightningnetwork/lnpay/lnwire"
)

const (
	invPayReqType     tlv.Type = 0
	invHashType       tlv.Type = 1
	invPreimageType   tlv.Type = 2
	invAmountType     tlv.Type = 3
	invDescType       tlv.Type = 4
	invCreationType   tlv.Type = 5
	invExpiryType     tlv.Type = 6
	invSecretType     tlv.Type = 7
	invCltvDeltaType  tlv.Type = 8
	invHodlType       tlv.Type = 9
	invStateType      tlv.Type = 10
	invAmtPaidType    tlv.Type = 11
	invSettleDateType tlv.Type = 12
	invAddIndexType   tlv.Type = 13
)

// A compile time check to ensure DB implements invoices.InvoiceDB.
var _ invoices.InvoiceDB = (*DB)(nil)

// serializeInvoice encodes an invoice. The preimage and the payment secret
// are only written when known.
func serializeInvoice(i *invoices.Invoice) ([]byte, error) {
	var (
		payReq     = []byte(i.PaymentRequest)
		hash       = [32]byte(i.PaymentHash)
		amount     = uint64(i.Amount)
		desc       = []byte(i.Description)
		creation   = encodeTime(i.CreationDate)
		expiry     = encodeTime(i.Expiry)
		cltvDelta  = i.FinalCltvDelta
		hodl       uint8
		state      = uint8(i.State)
		amtPaid    = uint64(i.AmtPaid)
		settleDate = encodeTime(i.SettleDate)
		addIndex   = i.AddIndex
	)
	if i.HodlInvoice {
		hodl = 1
	}

	records := []tlv.Record{
		tlv.MakePrimitiveRecord(invPayReqType, &payReq),
		tlv.MakePrimitiveRecord(invHashType, &hash),
	}

	var preimage [32]byte
	i.Preimage.WhenSome(func(p lntypes.Preimage) {
		preimage = p
		records = append(records, tlv.MakePrimitiveRecord(
			invPreimageType, &preimage,
		))
	})

	records = append(records,
		tlv.MakePrimitiveRecord(invAmountType, &amount),
		tlv.MakePrimitiveRecord(invDescType, &desc),
		tlv.MakePrimitiveRecord(invCreationType, &creation),
		tlv.MakePrimitiveRecord(invExpiryType, &expiry),
	)

	var secret [32]byte
	i.PaymentSecret.WhenSome(func(s [32]byte) {
		secret = s
		records = append(records, tlv.MakePrimitiveRecord(
			invSecretType, &secret,
		))
	})

	records = append(records,
		tlv.MakePrimitiveRecord(invCltvDeltaType, &cltvDelta),
		tlv.MakePrimitiveRecord(invHodlType, &hodl),
		tlv.MakePrimitiveRecord(invStateType, &state),
		tlv.MakePrimitiveRecord(invAmtPaidType, &amtPaid),
		tlv.MakePrimitiveRecord(invSettleDateType, &settleDate),
		tlv.MakePrimitiveRecord(invAddIndexType, &addIndex),
	)

	return serializeRecords(records...)
}

// deserializeInvoice decodes an invoice.
func deserializeInvoice(data []byte) (*invoices.Invoice, error) {
	var (
		payReq     []byte
		hash       [32]byte
		preimage   [32]byte
		amount     uint64
		desc       []byte
		creation   uint64
		expiry     uint64
		secret     [32]byte
		cltvDelta  uint32
		hodl       uint8
		state      uint8
		amtPaid    uint64
		settleDate uint64
		addIndex   uint64
	)

	typeMap, err := deserializeRecords(data,
		tlv.MakePrimitiveRecord(invPayReqType, &payReq),
		tlv.MakePrimitiveRecord(invHashType, &hash),
		tlv.MakePrimitiveRecord(invPreimageType, &preimage),
		tlv.MakePrimitiveRecord(invAmountType, &amount),
		tlv.MakePrimitiveRecord(invDescType, &desc),
		tlv.MakePrimitiveRecord(invCreationType, &creation),
		tlv.MakePrimitiveRecord(invExpiryType, &expiry),
		tlv.MakePrimitiveRecord(invSecretType, &secret),
		tlv.MakePrimitiveRecord(invCltvDeltaType, &cltvDelta),
		tlv.MakePrimitiveRecord(invHodlType, &hodl),
		tlv.MakePrimitiveRecord(invStateType, &state),
		tlv.MakePrimitiveRecord(invAmtPaidType, &amtPaid),
		tlv.MakePrimitiveRecord(invSettleDateType, &settleDate),
		tlv.MakePrimitiveRecord(invAddIndexType, &addIndex),
	)
	if err != nil {
		return nil, err
	}

	invoice := &invoices.Invoice{
		PaymentRequest: string(payReq),
		PaymentHash:    lntypes.Hash(hash),
		Preimage:       fn.None[lntypes.Preimage](),
		Amount:         lnwire.MilliSatoshi(amount),
		Description:    string(desc),
		CreationDate:   decodeTime(creation),
		Expiry:         decodeTime(expiry),
		PaymentSecret:  fn.None[[32]byte](),
		FinalCltvDelta: cltvDelta,
		HodlInvoice:    hodl == 1,
		State:          invoices.ContractState(state),
		AmtPaid:        lnwire.MilliSatoshi(amtPaid),
		SettleDate:     decodeTime(settleDate),
		AddIndex:       addIndex,
	}
	if hasType(typeMap, invPreimageType) {
		invoice.Preimage = fn.Some(lntypes.Preimage(preimage))
	}
	if hasType(typeMap, invSecretType) {
		invoice.PaymentSecret = fn.Some(secret)
	}

	return invoice, nil
}

// PutInvoice inserts or overwrites the invoice.
func (d *DB) PutInvoice(invoice *invoices.Invoice) error {
	value, err := serializeInvoice(invoice)
	if err != nil {
		return err
	}

	return d.putRecord(invoiceBucket, invoice.PaymentHash[:], value)
}

// FetchInvoices returns all persisted invoices.
func (d *DB) FetchInvoices() ([]*invoices.Invoice, error) {
	var result []*invoices.Invoice
	err := d.forEachRecord(invoiceBucket, func() {
		result = nil
	}, func(_, v []byte) error {
		invoice, err := deserializeInvoice(v)
		if err != nil {
			return err
		}
		result = append(result, invoice)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

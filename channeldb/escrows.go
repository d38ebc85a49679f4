package channeldb

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/lightningnetwork/lnpay/escrow"
	"github.com/lightningnetwork/lnpay/lntypes"
	"github.com/lightningnetwork/lnpay/lnwire"
	"github.com/lightningnetwork/lnpay/routing/route"
)

const (
	escrowIDType         tlv.Type = 0
	escrowAmountType     tlv.Type = 1
	escrowContractType   tlv.Type = 2
	escrowTermsType      tlv.Type = 3
	escrowStatusType     tlv.Type = 4
	escrowCreatedType    tlv.Type = 5
	escrowDeadlineType   tlv.Type = 6
	escrowReasonType     tlv.Type = 7
	escrowResolutionType tlv.Type = 8
	escrowClosedType     tlv.Type = 9
)

const (
	holdHashType     tlv.Type = 0
	holdPreimageType tlv.Type = 1
	holdChanIDType   tlv.Type = 2
	holdPayReqType   tlv.Type = 3
)

const (
	msFunderType    tlv.Type = 0
	msClaimantType  tlv.Type = 1
	msArbiterType   tlv.Type = 2
	msScriptType    tlv.Type = 3
	msAddressType   tlv.Type = 4
	msTxidType      tlv.Type = 5
	msOutIndexType  tlv.Type = 6
	msApprovalsType tlv.Type = 7
)

// A compile time check to ensure DB implements escrow.Persister.
var _ escrow.Persister = (*DB)(nil)

// serializeHold encodes the terms of a hold escrow.
func serializeHold(h *escrow.LightningHold) ([]byte, error) {
	var (
		hash   = [32]byte(h.PaymentHash)
		chanID = [32]byte(h.ChanID)
		payReq = []byte(h.PaymentRequest)
	)
	records := []tlv.Record{
		tlv.MakePrimitiveRecord(holdHashType, &hash),
	}

	var preimage [32]byte
	h.Preimage.WhenSome(func(p lntypes.Preimage) {
		preimage = p
		records = append(records, tlv.MakePrimitiveRecord(
			holdPreimageType, &preimage,
		))
	})

	records = append(records,
		tlv.MakePrimitiveRecord(holdChanIDType, &chanID),
		tlv.MakePrimitiveRecord(holdPayReqType, &payReq),
	)

	return serializeRecords(records...)
}

// deserializeHold decodes the terms of a hold escrow.
func deserializeHold(data []byte) (*escrow.LightningHold, error) {
	var (
		hash     [32]byte
		preimage [32]byte
		chanID   [32]byte
		payReq   []byte
	)

	typeMap, err := deserializeRecords(data,
		tlv.MakePrimitiveRecord(holdHashType, &hash),
		tlv.MakePrimitiveRecord(holdPreimageType, &preimage),
		tlv.MakePrimitiveRecord(holdChanIDType, &chanID),
		tlv.MakePrimitiveRecord(holdPayReqType, &payReq),
	)
	if err != nil {
		return nil, err
	}

	hold := &escrow.LightningHold{
		PaymentHash:    lntypes.Hash(hash),
		Preimage:       fn.None[lntypes.Preimage](),
		ChanID:         lnwire.ChannelID(chanID),
		PaymentRequest: string(payReq),
	}
	if hasType(typeMap, holdPreimageType) {
		hold.Preimage = fn.Some(lntypes.Preimage(preimage))
	}

	return hold, nil
}

// serializeMultiSig encodes the terms of a multisig escrow. Approvals are
// stored as concatenated keys.
func serializeMultiSig(m *escrow.MultiSig) ([]byte, error) {
	var (
		funder    = [33]byte(m.Funder)
		claimant  = [33]byte(m.Claimant)
		arbiter   = [33]byte(m.Arbiter)
		script    = m.WitnessScript
		address   = []byte(m.Address)
		approvals = make([]byte, 0, len(m.Approvals)*route.VertexSize)
	)
	for _, approval := range m.Approvals {
		approvals = append(approvals, approval[:]...)
	}

	records := []tlv.Record{
		tlv.MakePrimitiveRecord(msFunderType, &funder),
		tlv.MakePrimitiveRecord(msClaimantType, &claimant),
		tlv.MakePrimitiveRecord(msArbiterType, &arbiter),
		tlv.MakePrimitiveRecord(msScriptType, &script),
		tlv.MakePrimitiveRecord(msAddressType, &address),
	}

	var (
		txid     [32]byte
		outIndex uint32
	)
	m.FundingOutpoint.WhenSome(func(op wire.OutPoint) {
		txid, outIndex = op.Hash, op.Index
		records = append(records,
			tlv.MakePrimitiveRecord(msTxidType, &txid),
			tlv.MakePrimitiveRecord(msOutIndexType, &outIndex),
		)
	})

	records = append(records, tlv.MakePrimitiveRecord(
		msApprovalsType, &approvals,
	))

	return serializeRecords(records...)
}

// deserializeMultiSig decodes the terms of a multisig escrow.
func deserializeMultiSig(data []byte) (*escrow.MultiSig, error) {
	var (
		funder    [33]byte
		claimant  [33]byte
		arbiter   [33]byte
		script    []byte
		address   []byte
		txid      [32]byte
		outIndex  uint32
		approvals []byte
	)

	typeMap, err := deserializeRecords(data,
		tlv.MakePrimitiveRecord(msFunderType, &funder),
		tlv.MakePrimitiveRecord(msClaimantType, &claimant),
		tlv.MakePrimitiveRecord(msArbiterType, &arbiter),
		tlv.MakePrimitiveRecord(msScriptType, &script),
		tlv.MakePrimitiveRecord(msAddressType, &address),
		tlv.MakePrimitiveRecord(msTxidType, &txid),
		tlv.MakePrimitiveRecord(msOutIndexType, &outIndex),
		tlv.MakePrimitiveRecord(msApprovalsType, &approvals),
	)
	if err != nil {
		return nil, err
	}
	if len(approvals)%route.VertexSize != 0 {
		return nil, fmt.Errorf("%w: approvals of %d bytes",
			ErrCorruptRecord, len(approvals))
	}

	ms := &escrow.MultiSig{
		Funder:          route.Vertex(funder),
		Claimant:        route.Vertex(claimant),
		Arbiter:         route.Vertex(arbiter),
		WitnessScript:   script,
		Address:         string(address),
		FundingOutpoint: fn.None[wire.OutPoint](),
	}
	if hasType(typeMap, msTxidType) {
		ms.FundingOutpoint = fn.Some(wire.OutPoint{
			Hash:  chainhash.Hash(txid),
			Index: outIndex,
		})
	}
	for i := 0; i < len(approvals); i += route.VertexSize {
		ms.Approvals = append(ms.Approvals, route.Vertex(
			approvals[i:i+route.VertexSize],
		))
	}

	return ms, nil
}

// serializeEscrow encodes an escrow. The contract terms are nested as a
// separate stream tagged with the contract type.
func serializeEscrow(e *escrow.Escrow) ([]byte, error) {
	var (
		terms []byte
		err   error
	)
	switch c := e.Contract.(type) {
	case *escrow.LightningHold:
		terms, err = serializeHold(c)

	case *escrow.MultiSig:
		terms, err = serializeMultiSig(c)

	default:
		err = fmt.Errorf("unknown escrow contract %T", e.Contract)
	}
	if err != nil {
		return nil, err
	}

	var (
		id           = [32]byte(e.ID)
		amount       = uint64(e.Amount)
		contractType = uint8(e.Contract.Type())
		status       = uint8(e.Status)
		created      = encodeTime(e.CreatedAt)
		deadline     = encodeTime(e.Deadline)
		reason       = []byte(e.DisputeReason)
		closed       = encodeTime(e.ClosedAt)
	)
	records := []tlv.Record{
		tlv.MakePrimitiveRecord(escrowIDType, &id),
		tlv.MakePrimitiveRecord(escrowAmountType, &amount),
		tlv.MakePrimitiveRecord(escrowContractType, &contractType),
		tlv.MakePrimitiveRecord(escrowTermsType, &terms),
		tlv.MakePrimitiveRecord(escrowStatusType, &status),
		tlv.MakePrimitiveRecord(escrowCreatedType, &created),
		tlv.MakePrimitiveRecord(escrowDeadlineType, &deadline),
		tlv.MakePrimitiveRecord(escrowReasonType, &reason),
	}

	var resolution uint8
	e.Resolution.WhenSome(func(s escrow.Status) {
		resolution = uint8(s)
		records = append(records, tlv.MakePrimitiveRecord(
			escrowResolutionType, &resolution,
		))
	})

	records = append(records, tlv.MakePrimitiveRecord(
		escrowClosedType, &closed,
	))

	return serializeRecords(records...)
}

// deserializeEscrow decodes an escrow.
func deserializeEscrow(data []byte) (*escrow.Escrow, error) {
	var (
		id           [32]byte
		amount       uint64
		contractType uint8
		terms        []byte
		status       uint8
		created      uint64
		deadline     uint64
		reason       []byte
		resolution   uint8
		closed       uint64
	)

	typeMap, err := deserializeRecords(data,
		tlv.MakePrimitiveRecord(escrowIDType, &id),
		tlv.MakePrimitiveRecord(escrowAmountType, &amount),
		tlv.MakePrimitiveRecord(escrowContractType, &contractType),
		tlv.MakePrimitiveRecord(escrowTermsType, &terms),
		tlv.MakePrimitiveRecord(escrowStatusType, &status),
		tlv.MakePrimitiveRecord(escrowCreatedType, &created),
		tlv.MakePrimitiveRecord(escrowDeadlineType, &deadline),
		tlv.MakePrimitiveRecord(escrowReasonType, &reason),
		tlv.MakePrimitiveRecord(escrowResolutionType, &resolution),
		tlv.MakePrimitiveRecord(escrowClosedType, &closed),
	)
	if err != nil {
		return nil, err
	}

	var contract escrow.Contract
	switch escrow.ContractType(contractType) {
	case escrow.ContractLightningHold:
		contract, err = deserializeHold(terms)

	case escrow.ContractMultiSig:
		contract, err = deserializeMultiSig(terms)

	default:
		err = fmt.Errorf("%w: unknown contract type %d",
			ErrCorruptRecord, contractType)
	}
	if err != nil {
		return nil, err
	}

	e := &escrow.Escrow{
		ID:            escrow.ID(id),
		Amount:        btcutil.Amount(amount),
		Contract:      contract,
		Status:        escrow.Status(status),
		CreatedAt:     decodeTime(created),
		Deadline:      decodeTime(deadline),
		DisputeReason: string(reason),
		Resolution:    fn.None[escrow.Status](),
		ClosedAt:      decodeTime(closed),
	}
	if hasType(typeMap, escrowResolutionType) {
		e.Resolution = fn.Some(escrow.Status(resolution))
	}

	return e, nil
}

// PutEscrow inserts or replaces an escrow.
func (d *DB) PutEscrow(e *escrow.Escrow) error {
	value, err := serializeEscrow(e)
	if err != nil {
		return err
	}

	return d.putRecord(escrowBucket, e.ID[:], value)
}

// FetchEscrows returns every stored escrow.
func (d *DB) FetchEscrows() ([]*escrow.Escrow, error) {
	var result []*escrow.Escrow
	err := d.forEachRecord(escrowBucket, func() {
		result = nil
	}, func(_, v []byte) error {
		e, err := deserializeEscrow(v)
		if err != nil {
			return err
		}
		result = append(result, e)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

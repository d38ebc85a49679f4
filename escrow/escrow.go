package escrow

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnpay/lntypes"
	"github.com/lightningnetwork/lnpay/lnwire"
	"github.com/lightningnetwork/lnpay/routing/route"
)

// ID identifies an escrow. Hold escrows use their payment hash.
type ID = lntypes.Hash

// Status is the lifecycle state of an escrow.
type Status uint8

const (
	// StatusFunded means the funds are locked and the escrow is open.
	StatusFunded Status = 0

	// StatusReleased means the funds went to the claimant.
	StatusReleased Status = 1

	// StatusRefunded means the funds went back to the funder.
	StatusRefunded Status = 2

	// StatusDisputed means a participant contested the escrow and it
	// waits for a resolution.
	StatusDisputed Status = 3
)

// String returns a human readable name of the status.
func (s Status) String() string {
	switch s {
	case StatusFunded:
		return "Funded"

	case StatusReleased:
		return "Released"

	case StatusRefunded:
		return "Refunded"

	case StatusDisputed:
		return "Disputed"
	}

	return fmt.Sprintf("Unknown(%d)", uint8(s))
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusReleased || s == StatusRefunded
}

// ContractType tags the variant of an escrow contract.
type ContractType uint8

const (
	// ContractLightningHold is a hold invoice backed escrow.
	ContractLightningHold ContractType = 0

	// ContractMultiSig is a 2-of-3 on-chain escrow record.
	ContractMultiSig ContractType = 1
)

// String returns the name of the contract type.
func (c ContractType) String() string {
	switch c {
	case ContractLightningHold:
		return "hold"

	case ContractMultiSig:
		return "multisig"
	}

	return "unknown"
}

// Contract is the variant specific part of an escrow. It is implemented by
// *LightningHold and *MultiSig only.
type Contract interface {
	// Type returns the variant tag.
	Type() ContractType

	copyContract() Contract
}

// LightningHold locks funds of a channel against a payment hash. The funds
// move to the channel peer once the preimage is revealed.
type LightningHold struct {
	// PaymentHash is the hash the funds are locked to.
	PaymentHash lntypes.Hash

	// Preimage is known once the escrow was released.
	Preimage fn.Option[lntypes.Preimage]

	// ChanID is the channel whose local balance backs the escrow.
	ChanID lnwire.ChannelID

	// PaymentRequest is the hold invoice handed to the claimant.
	PaymentRequest string
}

// Type returns ContractLightningHold.
func (h *LightningHold) Type() ContractType {
	return ContractLightningHold
}

func (h *LightningHold) copyContract() Contract {
	cp := *h
	return &cp
}

// MultiSig records a 2-of-3 on-chain escrow between a funder, a claimant
// and an arbiter. No transactions are built or signed, the record tracks
// approvals and the outcome.
type MultiSig struct {
	// Funder, Claimant and Arbiter are the participant keys.
	Funder   route.Vertex
	Claimant route.Vertex
	Arbiter  route.Vertex

	// WitnessScript is the 2-of-3 script the funding output pays to.
	WitnessScript []byte

	// Address is the p2wsh address of the witness script.
	Address string

	// FundingOutpoint is the output locking the funds, if known.
	FundingOutpoint fn.Option[wire.OutPoint]

	// Approvals lists the participants that approved a release.
	Approvals []route.Vertex
}

// Type returns ContractMultiSig.
func (m *MultiSig) Type() ContractType {
	return ContractMultiSig
}

func (m *MultiSig) copyContract() Contract {
	cp := *m
	cp.WitnessScript = append([]byte(nil), m.WitnessScript...)
	cp.Approvals = append([]route.Vertex(nil), m.Approvals...)

	return &cp
}

// isParticipant reports whether key is one of the three escrow keys.
func (m *MultiSig) isParticipant(key route.Vertex) bool {
	return key == m.Funder || key == m.Claimant || key == m.Arbiter
}

// hasApproved reports whether key already approved.
func (m *MultiSig) hasApproved(key route.Vertex) bool {
	for _, approval := range m.Approvals {
		if approval == key {
			return true
		}
	}

	return false
}

// Escrow is an amount held on behalf of two parties until it is released to
// the claimant or refunded to the funder.
type Escrow struct {
	// ID identifies the escrow.
	ID ID

	// Amount is the escrowed amount.
	Amount btcutil.Amount

	// Contract is the variant specific state.
	Contract Contract

	// Status is the lifecycle state.
	Status Status

	// CreatedAt is when the escrow was funded.
	CreatedAt time.Time

	// Deadline is when an undisputed escrow is refunded automatically.
	Deadline time.Time

	// DisputeReason is set when the escrow was disputed.
	DisputeReason string

	// Resolution is the outcome chosen for a disputed escrow.
	Resolution fn.Option[Status]

	// ClosedAt is when the escrow reached a terminal status.
	ClosedAt time.Time
}

// Copy returns a deep copy of the escrow.
func (e *Escrow) Copy() *Escrow {
	cp := *e
	if e.Contract != nil {
		cp.Contract = e.Contract.copyContract()
	}

	return &cp
}

// IsExpired reports whether the escrow passed its deadline at now.
func (e *Escrow) IsExpired(now time.Time) bool {
	return !e.Deadline.IsZero() && now.After(e.Deadline)
}

// String returns a short description of the escrow for logs.
func (e *Escrow) String() string {
	return fmt.Sprintf("escrow(id=%v, type=%v, amt=%v, status=%v)", e.ID,
		e.Contract.Type(), e.Amount, e.Status)
}

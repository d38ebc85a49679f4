package escrow

import "errors"

var (
	// ErrEscrowNotFound is returned when no escrow has the given id.
	ErrEscrowNotFound = errors.New("escrow not found")

	// ErrEscrowExists is returned when an escrow with the same id was
	// already funded.
	ErrEscrowExists = errors.New("escrow already exists")

	// ErrInvalidAmount is returned for non-positive escrow amounts.
	ErrInvalidAmount = errors.New("escrow amount must be positive")

	// ErrInvalidTransition is returned when the escrow's status doesn't
	// allow the requested operation.
	ErrInvalidTransition = errors.New("invalid escrow status transition")

	// ErrPreimageRequired is returned when a hold escrow is released
	// without a preimage.
	ErrPreimageRequired = errors.New("hold escrow release needs the " +
		"preimage")

	// ErrPreimageMismatch is returned when the preimage doesn't hash to
	// the escrow's payment hash.
	ErrPreimageMismatch = errors.New("preimage does not match payment " +
		"hash")

	// ErrNotParticipant is returned when an approval comes from a key
	// that is not part of the escrow.
	ErrNotParticipant = errors.New("key is not an escrow participant")

	// ErrNotEnoughApprovals is returned when a multisig escrow is released
	// before two distinct participants approved.
	ErrNotEnoughApprovals = errors.New("release needs approvals of two " +
		"distinct participants")

	// ErrWrongContract is returned when an operation doesn't apply to the
	// escrow's contract type.
	ErrWrongContract = errors.New("operation not supported for contract " +
		"type")

	// ErrInvalidResolution is returned when a dispute is resolved to
	// anything but Released or Refunded.
	ErrInvalidResolution = errors.New("dispute must resolve to released " +
		"or refunded")

	// ErrNoReservation is returned when a hold escrow lost its balance
	// reservation.
	ErrNoReservation = errors.New("hold escrow has no balance " +
		"reservation")
)

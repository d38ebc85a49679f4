package zpay32

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/lightningnetwork/lnpay/lntypes"
	"github.com/lightningnetwork/lnpay/lnwire"
)

const (
	// Version is the payload version written by Encode. Decode rejects
	// any other version.
	Version = 0

	// DefaultExpiry is the expiry used when none is given.
	DefaultExpiry = time.Hour

	// DefaultMinFinalCLTVExpiry is the minimum final cltv delta assumed
	// when the invoice does not carry one.
	DefaultMinFinalCLTVExpiry = 18

	// maxInvoiceLength is the maximum total length an invoice can have.
	// This is chosen to be the maximum number of bytes that can fit into
	// a single QR code.
	maxInvoiceLength = 7089

	// maxDescriptionLength bounds the description so that every valid
	// invoice fits in maxInvoiceLength.
	maxDescriptionLength = 639
)

// TLV types of the invoice payload.
const (
	hashType        tlv.Type = 0
	descriptionType tlv.Type = 4
	expiryType      tlv.Type = 6
	timestampType   tlv.Type = 8
	destinationType tlv.Type = 10
	secretType      tlv.Type = 12
	cltvType        tlv.Type = 14
)

var (
	// ErrInvoiceTooLarge is returned when an invoice exceeds
	// maxInvoiceLength.
	ErrInvoiceTooLarge = errors.New("invoice is too large")

	// ErrUnknownVersion is returned when decoding a payload version this
	// package does not know.
	ErrUnknownVersion = errors.New("unknown invoice version")

	// ErrInvalidNet is returned when the invoice is for another network.
	ErrInvalidNet = errors.New("invoice not for current active network")

	// ErrMissingField is returned when a required field is absent.
	ErrMissingField = errors.New("invoice field missing")

	// ErrEmptyDescription is returned for invoices without description.
	ErrEmptyDescription = errors.New("invoice description must not be " +
		"empty")
)

// supportedNets are the networks invoices can be issued for.
var supportedNets = []*chaincfg.Params{
	&chaincfg.MainNetParams,
	&chaincfg.TestNet3Params,
	&chaincfg.RegressionNetParams,
	&chaincfg.SimNetParams,
}

// Invoice is a payment request. All times are carried with second
// precision.
type Invoice struct {
	// Net is the network the invoice is valid on.
	Net *chaincfg.Params

	// MilliSat is the amount requested. None means the payer chooses.
	MilliSat fn.Option[lnwire.MilliSatoshi]

	// PaymentHash is the hash whose preimage settles the invoice.
	PaymentHash lntypes.Hash

	// Description is a human readable purpose of the payment.
	Description string

	// Timestamp is the creation time.
	Timestamp time.Time

	// Expiry is the absolute time after which the invoice is no longer
	// payable.
	Expiry time.Time

	// Destination is the node the payment goes to. May be nil.
	Destination *btcec.PublicKey

	// PaymentSecret is an optional secret the payer has to present.
	PaymentSecret fn.Option[[32]byte]

	// MinFinalCLTVExpiry is the optional cltv delta of the final hop.
	MinFinalCLTVExpiry fn.Option[uint32]
}

// NewInvoice creates an invoice for the given hash. The expiry defaults to
// DefaultExpiry after the timestamp.
func NewInvoice(net *chaincfg.Params, paymentHash lntypes.Hash,
	timestamp time.Time, options ...func(*Invoice)) (*Invoice, error) {

	invoice := &Invoice{
		Net:         net,
		PaymentHash: paymentHash,
		Timestamp:   time.Unix(timestamp.Unix(), 0),
	}
	invoice.Expiry = invoice.Timestamp.Add(DefaultExpiry)

	for _, option := range options {
		option(invoice)
	}

	if err := validateInvoice(invoice); err != nil {
		return nil, err
	}

	return invoice, nil
}

// Amount is a functional option that sets the requested amount.
func Amount(milliSat lnwire.MilliSatoshi) func(*Invoice) {
	return func(i *Invoice) {
		i.MilliSat = fn.Some(milliSat)
	}
}

// Description is a functional option that sets the description.
func Description(description string) func(*Invoice) {
	return func(i *Invoice) {
		i.Description = description
	}
}

// Expiry is a functional option that sets the expiry relative to the
// invoice timestamp.
func Expiry(expiry time.Duration) func(*Invoice) {
	return func(i *Invoice) {
		i.Expiry = i.Timestamp.Add(expiry)
	}
}

// ExpiresAt is a functional option that sets an absolute expiry.
func ExpiresAt(t time.Time) func(*Invoice) {
	return func(i *Invoice) {
		i.Expiry = time.Unix(t.Unix(), 0)
	}
}

// Destination is a functional option that sets the destination node.
func Destination(destination *btcec.PublicKey) func(*Invoice) {
	return func(i *Invoice) {
		i.Destination = destination
	}
}

// PaymentSecret is a functional option that sets the payment secret.
func PaymentSecret(secret [32]byte) func(*Invoice) {
	return func(i *Invoice) {
		i.PaymentSecret = fn.Some(secret)
	}
}

// CLTVExpiry is a functional option that sets the min final cltv delta.
func CLTVExpiry(delta uint32) func(*Invoice) {
	return func(i *Invoice) {
		i.MinFinalCLTVExpiry = fn.Some(delta)
	}
}

// MinFinalCLTVExpiryDelta returns the min final cltv delta, or the default
// if the invoice does not specify one.
func (invoice *Invoice) MinFinalCLTVExpiryDelta() uint32 {
	return invoice.MinFinalCLTVExpiry.UnwrapOr(DefaultMinFinalCLTVExpiry)
}

// IsExpired reports whether the invoice expired at time now.
func (invoice *Invoice) IsExpired(now time.Time) bool {
	return invoice.Expiry.Before(now)
}

// validateInvoice does a sanity check of the provided Invoice.
func validateInvoice(invoice *Invoice) error {
	if invoice.Net == nil {
		return fmt.Errorf("net params not set")
	}
	if !IsSupportedNet(invoice.Net) {
		return fmt.Errorf("%w: %v", ErrInvalidNet, invoice.Net.Name)
	}

	switch {
	case strings.TrimSpace(invoice.Description) == "":
		return ErrEmptyDescription

	case len(invoice.Description) > maxDescriptionLength:
		return fmt.Errorf("description length %d exceeds maximum of %d",
			len(invoice.Description), maxDescriptionLength)

	case invoice.Timestamp.Unix() < 0:
		return fmt.Errorf("timestamp %v before unix epoch",
			invoice.Timestamp)

	case invoice.Expiry.Before(invoice.Timestamp):
		return fmt.Errorf("expiry %v before timestamp %v",
			invoice.Expiry, invoice.Timestamp)
	}

	if invoice.MilliSat.UnwrapOr(1) == 0 {
		return fmt.Errorf("amount must be positive when set")
	}

	return nil
}

// IsSupportedNet reports whether invoices can be issued for net.
func IsSupportedNet(net *chaincfg.Params) bool {
	for _, supported := range supportedNets {
		if supported.Name == net.Name {
			return true
		}
	}

	return false
}

// netForHRP returns the network whose bech32 prefix is hrp.
func netForHRP(hrp string) (*chaincfg.Params, error) {
	for _, net := range supportedNets {
		if net.Bech32HRPSegwit == hrp {
			return net, nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrInvalidNet, hrp)
}

// optionValue unpacks an option into its value and presence.
func optionValue[T any](o fn.Option[T]) (T, bool) {
	var zero T
	return o.UnwrapOr(zero), o.IsSome()
}

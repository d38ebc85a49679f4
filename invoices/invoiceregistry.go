package invoices

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnpay/lntypes"
	"github.com/lightningnetwork/lnpay/lnwire"
	"github.com/lightningnetwork/lnpay/subscribe"
	"github.com/lightningnetwork/lnpay/zpay32"
)

const (
	// DefaultInvoiceExpiry is the expiry of invoices created without an
	// explicit one.
	DefaultInvoiceExpiry = time.Hour

	// DefaultFinalCltvDelta is the min final cltv delta written into
	// new invoices.
	DefaultFinalCltvDelta = 40
)

// RegistryConfig contains the configuration parameters for the invoice
// registry.
type RegistryConfig struct {
	// Net is the network invoices are issued for.
	Net *chaincfg.Params

	// DefaultExpiry is the relative expiry of new invoices.
	DefaultExpiry time.Duration

	// FinalCltvDelta is the min final cltv delta of new invoices.
	FinalCltvDelta uint32

	// NodeKey is written as destination into new invoices. May be nil.
	NodeKey *btcec.PublicKey

	// Clock is used to timestamp invoices and to evaluate expiry.
	Clock clock.Clock

	// Entropy is the source of preimages. Defaults to crypto/rand.
	Entropy io.Reader

	// DB persists invoices. When nil the registry is memory only.
	DB InvoiceDB
}

// InvoiceRegistry is a central registry of all the outstanding invoices
// created by the daemon. Invoices are indexed by payment hash.
type InvoiceRegistry struct {
	cfg *RegistryConfig

	// mu guards every field below.
	mu            sync.RWMutex
	net           *chaincfg.Params
	defaultExpiry time.Duration
	invoices      map[lntypes.Hash]*Invoice
	addIndex      uint64

	ntfnServer *subscribe.Server

	stopped sync.Once
}

// NewRegistry creates a new invoice registry and loads the persisted
// invoices.
func NewRegistry(cfg *RegistryConfig) (*InvoiceRegistry, error) {
	if cfg.Net == nil {
		cfg.Net = &chaincfg.MainNetParams
	}
	if !zpay32.IsSupportedNet(cfg.Net) {
		return nil, fmt.Errorf("unsupported invoice network %v",
			cfg.Net.Name)
	}
	if cfg.DefaultExpiry == 0 {
		cfg.DefaultExpiry = DefaultInvoiceExpiry
	}
	if cfg.DefaultExpiry < 0 {
		return nil, ErrInvalidExpiry
	}
	if cfg.FinalCltvDelta == 0 {
		cfg.FinalCltvDelta = DefaultFinalCltvDelta
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.Entropy == nil {
		cfg.Entropy = rand.Reader
	}

	r := &InvoiceRegistry{
		cfg:           cfg,
		net:           cfg.Net,
		defaultExpiry: cfg.DefaultExpiry,
		invoices:      make(map[lntypes.Hash]*Invoice),
		ntfnServer:    subscribe.NewServer(),
	}

	if cfg.DB != nil {
		invoices, err := cfg.DB.FetchInvoices()
		if err != nil {
			return nil, fmt.Errorf("unable to load invoices: %w",
				err)
		}

		for _, invoice := range invoices {
			r.invoices[invoice.PaymentHash] = invoice
			if invoice.AddIndex > r.addIndex {
				r.addIndex = invoice.AddIndex
			}
		}

		log.Infof("Loaded %d invoices from disk", len(invoices))
	}

	if err := r.ntfnServer.Start(); err != nil {
		return nil, err
	}

	return r, nil
}

// Stop signals the registry for a graceful shutdown.
func (i *InvoiceRegistry) Stop() error {
	var err error
	i.stopped.Do(func() {
		log.Info("InvoiceRegistry shutting down...")
		err = i.ntfnServer.Stop()
	})

	return err
}

// SetDefaultExpiry changes the expiry of invoices created from now on.
func (i *InvoiceRegistry) SetDefaultExpiry(expiry time.Duration) error {
	if expiry <= 0 {
		return ErrInvalidExpiry
	}

	i.mu.Lock()
	i.defaultExpiry = expiry
	i.mu.Unlock()

	return nil
}

// DefaultExpiry returns the expiry of newly created invoices.
func (i *InvoiceRegistry) DefaultExpiry() time.Duration {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return i.defaultExpiry
}

// SetNetwork changes the network of invoices created and accepted from now
// on.
func (i *InvoiceRegistry) SetNetwork(net *chaincfg.Params) error {
	if !zpay32.IsSupportedNet(net) {
		return fmt.Errorf("unsupported invoice network %v", net.Name)
	}

	i.mu.Lock()
	i.net = net
	i.mu.Unlock()

	return nil
}

// Network returns the network invoices are issued for.
func (i *InvoiceRegistry) Network() *chaincfg.Params {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return i.net
}

// addInvoiceOptions holds the optional invoice terms.
type addInvoiceOptions struct {
	expiry         fn.Option[time.Duration]
	paymentSecret  fn.Option[[32]byte]
	finalCltvDelta fn.Option[uint32]
	destination    fn.Option[*btcec.PublicKey]
}

// AddInvoiceOption modifies the terms of a new invoice.
type AddInvoiceOption func(*addInvoiceOptions)

// WithExpiry overrides the default expiry.
func WithExpiry(expiry time.Duration) AddInvoiceOption {
	return func(o *addInvoiceOptions) {
		o.expiry = fn.Some(expiry)
	}
}

// WithPaymentSecret adds a payment secret to the invoice.
func WithPaymentSecret(secret [32]byte) AddInvoiceOption {
	return func(o *addInvoiceOptions) {
		o.paymentSecret = fn.Some(secret)
	}
}

// WithFinalCltvDelta overrides the min final cltv delta.
func WithFinalCltvDelta(delta uint32) AddInvoiceOption {
	return func(o *addInvoiceOptions) {
		o.finalCltvDelta = fn.Some(delta)
	}
}

// WithDestination overrides the destination node of the invoice.
func WithDestination(pub *btcec.PublicKey) AddInvoiceOption {
	return func(o *addInvoiceOptions) {
		o.destination = fn.Some(pub)
	}
}

// AddInvoice creates an invoice for amt with a fresh random preimage. An
// amt of zero creates an invoice for any amount.
func (i *InvoiceRegistry) AddInvoice(amt lnwire.MilliSatoshi,
	description string, opts ...AddInvoiceOption) (*Invoice, error) {

	if strings.TrimSpace(description) == "" {
		return nil, ErrEmptyDescription
	}

	preimage, err := lntypes.NewPreimage(i.cfg.Entropy)
	if err != nil {
		return nil, fmt.Errorf("unable to generate preimage: %w", err)
	}

	return i.addInvoice(
		preimage.Hash(), fn.Some(preimage), amt, description, opts,
	)
}

// AddHoldInvoice creates an invoice for a payment hash whose preimage is
// held by the caller. It can only be settled through SettleInvoice after
// it was accepted.
func (i *InvoiceRegistry) AddHoldInvoice(hash lntypes.Hash,
	amt lnwire.MilliSatoshi, description string,
	opts ...AddInvoiceOption) (*Invoice, error) {

	if strings.TrimSpace(description) == "" {
		return nil, ErrEmptyDescription
	}
	if hash.IsZero() {
		return nil, fmt.Errorf("hold invoice needs a payment hash")
	}

	return i.addInvoice(
		hash, fn.None[lntypes.Preimage](), amt, description, opts,
	)
}

// addInvoice encodes and stores a new invoice.
func (i *InvoiceRegistry) addInvoice(hash lntypes.Hash,
	preimage fn.Option[lntypes.Preimage], amt lnwire.MilliSatoshi,
	description string, opts []AddInvoiceOption) (*Invoice, error) {

	options := &addInvoiceOptions{}
	for _, opt := range opts {
		opt(options)
	}

	i.mu.RLock()
	net, defaultExpiry := i.net, i.defaultExpiry
	i.mu.RUnlock()

	expiry := options.expiry.UnwrapOr(defaultExpiry)
	if expiry <= 0 {
		return nil, ErrInvalidExpiry
	}
	cltvDelta := options.finalCltvDelta.UnwrapOr(i.cfg.FinalCltvDelta)

	payReqOpts := []func(*zpay32.Invoice){
		zpay32.Description(description),
		zpay32.Expiry(expiry),
		zpay32.CLTVExpiry(cltvDelta),
	}
	if amt > 0 {
		payReqOpts = append(payReqOpts, zpay32.Amount(amt))
	}
	if dest := options.destination.UnwrapOr(i.cfg.NodeKey); dest != nil {
		payReqOpts = append(payReqOpts, zpay32.Destination(dest))
	}
	options.paymentSecret.WhenSome(func(secret [32]byte) {
		payReqOpts = append(payReqOpts, zpay32.PaymentSecret(secret))
	})

	payReq, err := zpay32.NewInvoice(
		net, hash, i.cfg.Clock.Now(), payReqOpts...,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create payment request: %w",
			err)
	}

	encoded, err := payReq.Encode()
	if err != nil {
		return nil, err
	}

	invoice := &Invoice{
		PaymentRequest: encoded,
		PaymentHash:    hash,
		Preimage:       preimage,
		Amount:         amt,
		Description:    description,
		CreationDate:   payReq.Timestamp,
		Expiry:         payReq.Expiry,
		PaymentSecret:  options.paymentSecret,
		FinalCltvDelta: cltvDelta,
		HodlInvoice:    preimage.IsNone(),
		State:          ContractOpen,
	}

	i.mu.Lock()
	if _, ok := i.invoices[hash]; ok {
		i.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrDuplicateInvoice, hash)
	}

	invoice.AddIndex = i.addIndex + 1
	if i.cfg.DB != nil {
		if err := i.cfg.DB.PutInvoice(invoice); err != nil {
			i.mu.Unlock()
			return nil, fmt.Errorf("unable to persist invoice: %w",
				err)
		}
	}
	i.addIndex++
	i.invoices[hash] = invoice
	i.mu.Unlock()

	log.Debugf("Added %v, hodl=%v, expiry=%v", invoice,
		invoice.HodlInvoice, invoice.Expiry)

	i.notify(invoice)

	return invoice.Copy(), nil
}

// DecodePayReq decodes an encoded invoice for the registry's network.
func (i *InvoiceRegistry) DecodePayReq(payReq string) (*zpay32.Invoice,
	error) {

	decoded, err := zpay32.Decode(payReq, i.Network())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPaymentRequest, err)
	}

	return decoded, nil
}

// Verify checks that an encoded invoice can be paid now. It returns an
// ErrInvoiceExpired error once the expiry passed, and refuses invoices of
// this registry that are already settled or canceled. Verify never
// modifies any invoice.
func (i *InvoiceRegistry) Verify(payReq string) (bool, error) {
	decoded, err := i.DecodePayReq(payReq)
	if err != nil {
		return false, err
	}

	now := i.cfg.Clock.Now()
	if decoded.IsExpired(now) {
		return false, fmt.Errorf("%w: %v expired at %v",
			ErrInvoiceExpired, decoded.PaymentHash,
			decoded.Expiry.UTC())
	}

	// Invoices issued by this registry must still be payable.
	i.mu.RLock()
	state := ContractOpen
	if local, ok := i.invoices[decoded.PaymentHash]; ok {
		state = local.State
	}
	i.mu.RUnlock()

	switch state {
	case ContractSettled:
		return false, fmt.Errorf("%w: %v", ErrInvoiceAlreadySettled,
			decoded.PaymentHash)

	case ContractCanceled:
		return false, fmt.Errorf("%w: %v", ErrInvoiceAlreadyCanceled,
			decoded.PaymentHash)
	}

	return true, nil
}

// LookupInvoice looks up an invoice by its payment hash.
func (i *InvoiceRegistry) LookupInvoice(hash lntypes.Hash) (*Invoice,
	error) {

	i.mu.RLock()
	defer i.mu.RUnlock()

	invoice, ok := i.invoices[hash]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrInvoiceNotFound, hash)
	}

	return invoice.Copy(), nil
}

// Invoices returns copies of all invoices in creation order.
func (i *InvoiceRegistry) Invoices() []*Invoice {
	i.mu.RLock()
	invoices := make([]*Invoice, 0, len(i.invoices))
	for _, invoice := range i.invoices {
		invoices = append(invoices, invoice.Copy())
	}
	i.mu.RUnlock()

	sort.Slice(invoices, func(a, b int) bool {
		return invoices[a].AddIndex < invoices[b].AddIndex
	})

	return invoices
}

// updateInvoice applies the callback to a copy of the invoice, persists the
// result and swaps it in. Nothing changes if the callback fails.
func (i *InvoiceRegistry) updateInvoice(hash lntypes.Hash,
	callback func(*Invoice) error) (*Invoice, error) {

	i.mu.Lock()

	current, ok := i.invoices[hash]
	if !ok {
		i.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrInvoiceNotFound, hash)
	}

	updated := current.Copy()
	if err := callback(updated); err != nil {
		i.mu.Unlock()
		return nil, err
	}

	if i.cfg.DB != nil {
		if err := i.cfg.DB.PutInvoice(updated); err != nil {
			i.mu.Unlock()
			return nil, fmt.Errorf("unable to persist invoice: %w",
				err)
		}
	}
	i.invoices[hash] = updated
	i.mu.Unlock()

	i.notify(updated)

	return updated.Copy(), nil
}

// AcceptHoldInvoice locks in a payment of amt for an open invoice.
func (i *InvoiceRegistry) AcceptHoldInvoice(hash lntypes.Hash,
	amt lnwire.MilliSatoshi) error {

	now := i.cfg.Clock.Now()
	_, err := i.updateInvoice(hash, func(invoice *Invoice) error {
		switch invoice.State {
		case ContractSettled:
			return ErrInvoiceAlreadySettled

		case ContractCanceled:
			return ErrInvoiceAlreadyCanceled

		case ContractAccepted:
			return ErrInvoiceCannotAccept
		}

		if invoice.IsExpired(now) {
			return fmt.Errorf("%w: %v", ErrInvoiceExpired, hash)
		}
		if amt < invoice.Amount || amt == 0 {
			return fmt.Errorf("%w: paid %v, requested %v",
				ErrAmountTooLow, amt, invoice.Amount)
		}

		invoice.State = ContractAccepted
		invoice.AmtPaid = amt

		return nil
	})
	if err != nil {
		return err
	}

	log.Debugf("Accepted invoice %v for %v", hash, amt)

	return nil
}

// SettleInvoice settles an invoice with its preimage. Hold invoices must be
// accepted first.
func (i *InvoiceRegistry) SettleInvoice(hash lntypes.Hash,
	preimage lntypes.Preimage) error {

	if !preimage.Matches(hash) {
		return fmt.Errorf("%w: %v", ErrInvoicePreimageMismatch, hash)
	}

	now := i.cfg.Clock.Now()
	_, err := i.updateInvoice(hash, func(invoice *Invoice) error {
		switch invoice.State {
		case ContractSettled:
			return ErrInvoiceAlreadySettled

		case ContractCanceled:
			return ErrInvoiceAlreadyCanceled

		case ContractOpen:
			if invoice.HodlInvoice {
				return ErrInvoiceStillOpen
			}
			invoice.AmtPaid = invoice.Amount
		}

		invoice.State = ContractSettled
		invoice.Preimage = fn.Some(preimage)
		invoice.SettleDate = now

		return nil
	})
	if err != nil {
		return err
	}

	log.Infof("Settled invoice %v", hash)

	return nil
}

// CancelInvoice cancels an invoice that is not yet settled. Canceling a
// canceled invoice is a no-op.
func (i *InvoiceRegistry) CancelInvoice(hash lntypes.Hash) error {
	_, err := i.updateInvoice(hash, func(invoice *Invoice) error {
		switch invoice.State {
		case ContractSettled:
			return ErrInvoiceAlreadySettled

		case ContractCanceled:
			return ErrInvoiceAlreadyCanceled
		}

		invoice.State = ContractCanceled

		return nil
	})
	switch {
	case errors.Is(err, ErrInvoiceAlreadyCanceled):
		log.Debugf("Invoice %v already canceled", hash)
		return nil

	case err != nil:
		return err
	}

	log.Infof("Canceled invoice %v", hash)

	return nil
}

// SubscribeNotifications returns a client receiving an InvoiceEvent for
// every added or updated invoice.
func (i *InvoiceRegistry) SubscribeNotifications() (*subscribe.Client,
	error) {

	return i.ntfnServer.Subscribe()
}

// notify sends an invoice event to all subscribers.
func (i *InvoiceRegistry) notify(invoice *Invoice) {
	err := i.ntfnServer.SendUpdate(&InvoiceEvent{Invoice: invoice.Copy()})
	if err != nil {
		log.Tracef("Unable to send invoice event: %v", err)
	}
}

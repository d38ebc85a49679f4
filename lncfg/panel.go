package lncfg

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
)

const (
	// PanelID identifies the payment settings panel towards the host.
	PanelID = "payment_config"

	// PanelName is the display name of the panel.
	PanelName = "Payments"
)

// Keys of the panel fields.
const (
	KeyLightningEnabled      = "lightning_enabled"
	KeyDefaultNetwork        = "default_network"
	KeyMinChannelCapacity    = "min_channel_capacity"
	KeyMaxChannelCapacity    = "max_channel_capacity"
	KeyInvoiceExpiry         = "invoice_expiry"
	KeyMaxPaymentRetries     = "max_payment_retries"
	KeyPaymentTimeout        = "payment_timeout"
	KeyAutoChannelManagement = "auto_channel_management"
)

// Networks a node can be switched to from the panel.
var panelNetworks = []string{"mainnet", "testnet", "regtest", "simnet"}

// FieldKind is the type of a panel field.
type FieldKind uint8

const (
	// FieldToggle is a boolean field.
	FieldToggle FieldKind = iota

	// FieldRange is an integer field with inclusive bounds.
	FieldRange

	// FieldSelect is a field taking one of a fixed set of strings.
	FieldSelect
)

// String returns a human readable name of the field kind.
func (k FieldKind) String() string {
	switch k {
	case FieldToggle:
		return "toggle"

	case FieldRange:
		return "range"

	case FieldSelect:
		return "select"

	default:
		return fmt.Sprintf("FieldKind(%d)", uint8(k))
	}
}

// Field describes one setting of the panel.
type Field struct {
	// Key addresses the field in Get and Apply.
	Key string

	// Label is the display name.
	Label string

	// Description explains the field.
	Description string

	// Kind is the field type.
	Kind FieldKind

	// Min and Max bound a range field.
	Min int64
	Max int64

	// Options are the values of a select field.
	Options []string

	// Default is the textual default value.
	Default string

	boolRef func(*PanelSettings) *bool
	intRef  func(*PanelSettings) *int64
	strRef  func(*PanelSettings) *string
}

// format returns the field value in s as text.
func (f *Field) format(s *PanelSettings) string {
	switch f.Kind {
	case FieldToggle:
		return strconv.FormatBool(*f.boolRef(s))

	case FieldRange:
		return strconv.FormatInt(*f.intRef(s), 10)

	default:
		return *f.strRef(s)
	}
}

// check validates the field value in s.
func (f *Field) check(s *PanelSettings) error {
	switch f.Kind {
	case FieldRange:
		n := *f.intRef(s)
		if n < f.Min || n > f.Max {
			return configErr(f.Key, n, fmt.Errorf("%w: [%d, %d]",
				ErrOutOfRange, f.Min, f.Max))
		}

	case FieldSelect:
		v := *f.strRef(s)
		if !slices.Contains(f.Options, v) {
			return configErr(f.Key, v, fmt.Errorf("%w: one of %s",
				ErrOutOfRange, strings.Join(f.Options, ", ")))
		}
	}

	return nil
}

// parse sets the field in s from raw.
func (f *Field) parse(s *PanelSettings, raw string) error {
	raw = strings.TrimSpace(raw)

	switch f.Kind {
	case FieldToggle:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return configErr(f.Key, raw, ErrInvalidValue)
		}
		*f.boolRef(s) = b

	case FieldRange:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return configErr(f.Key, raw, ErrInvalidValue)
		}
		*f.intRef(s) = n

	case FieldSelect:
		*f.strRef(s) = raw
	}

	return f.check(s)
}

// PanelSettings are the values of the panel. Capacities are in satoshis and
// durations in seconds.
type PanelSettings struct {
	LightningEnabled      bool
	DefaultNetwork        string
	MinChannelCapacity    int64
	MaxChannelCapacity    int64
	InvoiceExpiry         int64
	MaxPaymentRetries     int64
	PaymentTimeout        int64
	AutoChannelManagement bool
}

// DefaultPanelSettings returns the documented defaults.
func DefaultPanelSettings() PanelSettings {
	return PanelSettings{
		LightningEnabled:      true,
		DefaultNetwork:        "mainnet",
		MinChannelCapacity:    int64(DefaultMinChanCapacity),
		MaxChannelCapacity:    int64(DefaultMaxChanCapacity),
		InvoiceExpiry:         int64(DefaultInvoiceExpiry / time.Second),
		MaxPaymentRetries:     DefaultMaxPaymentRetries,
		PaymentTimeout:        int64(DefaultPaymentTimeout / time.Second),
		AutoChannelManagement: true,
	}
}

// MinCapacity returns the minimum channel capacity.
func (s *PanelSettings) MinCapacity() btcutil.Amount {
	return btcutil.Amount(s.MinChannelCapacity)
}

// MaxCapacity returns the maximum channel capacity.
func (s *PanelSettings) MaxCapacity() btcutil.Amount {
	return btcutil.Amount(s.MaxChannelCapacity)
}

// InvoiceExpiryDuration returns the default invoice expiry.
func (s *PanelSettings) InvoiceExpiryDuration() time.Duration {
	return time.Duration(s.InvoiceExpiry) * time.Second
}

// PaymentTimeoutDuration returns the payment timeout.
func (s *PanelSettings) PaymentTimeoutDuration() time.Duration {
	return time.Duration(s.PaymentTimeout) * time.Second
}

// Validate checks every field against its bounds and the capacity bounds
// against each other.
func (s *PanelSettings) Validate() error {
	for i := range panelFields {
		if err := panelFields[i].check(s); err != nil {
			return err
		}
	}

	if s.MinChannelCapacity > s.MaxChannelCapacity {
		return configErr(KeyMinChannelCapacity, s.MinChannelCapacity,
			fmt.Errorf("%w: %s=%d", ErrInvalidBounds,
				KeyMaxChannelCapacity, s.MaxChannelCapacity))
	}

	return nil
}

// Values returns every setting as text keyed by field.
func (s *PanelSettings) Values() map[string]string {
	values := make(map[string]string, len(panelFields))
	for i := range panelFields {
		values[panelFields[i].Key] = panelFields[i].format(s)
	}

	return values
}

var panelFields = []Field{
	{
		Key:         KeyLightningEnabled,
		Label:       "Enable Lightning",
		Description: "Allow invoices, payments and channel opens.",
		Kind:        FieldToggle,
		boolRef: func(s *PanelSettings) *bool {
			return &s.LightningEnabled
		},
	},
	{
		Key:         KeyDefaultNetwork,
		Label:       "Network",
		Description: "The network invoices are issued for.",
		Kind:        FieldSelect,
		Options:     panelNetworks,
		strRef: func(s *PanelSettings) *string {
			return &s.DefaultNetwork
		},
	},
	{
		Key:         KeyMinChannelCapacity,
		Label:       "Min channel capacity (sat)",
		Description: "The smallest channel that may be opened.",
		Kind:        FieldRange,
		Min:         10_000,
		Max:         10_000_000,
		intRef: func(s *PanelSettings) *int64 {
			return &s.MinChannelCapacity
		},
	},
	{
		Key:         KeyMaxChannelCapacity,
		Label:       "Max channel capacity (sat)",
		Description: "The largest channel that may be opened.",
		Kind:        FieldRange,
		Min:         20_000,
		Max:         100_000_000,
		intRef: func(s *PanelSettings) *int64 {
			return &s.MaxChannelCapacity
		},
	},
	{
		Key:         KeyInvoiceExpiry,
		Label:       "Invoice expiry (s)",
		Description: "The expiry of invoices created without one.",
		Kind:        FieldRange,
		Min:         60,
		Max:         604_800,
		intRef: func(s *PanelSettings) *int64 {
			return &s.InvoiceExpiry
		},
	},
	{
		Key:         KeyMaxPaymentRetries,
		Label:       "Max payment retries",
		Description: "Attempts made after the first one failed.",
		Kind:        FieldRange,
		Min:         0,
		Max:         20,
		intRef: func(s *PanelSettings) *int64 {
			return &s.MaxPaymentRetries
		},
	},
	{
		Key:         KeyPaymentTimeout,
		Label:       "Payment timeout (s)",
		Description: "The time a payment may take.",
		Kind:        FieldRange,
		Min:         1,
		Max:         3600,
		intRef: func(s *PanelSettings) *int64 {
			return &s.PaymentTimeout
		},
	},
	{
		Key:         KeyAutoChannelManagement,
		Label:       "Auto channel management",
		Description: "Confirm funding locally and announce own channels.",
		Kind:        FieldToggle,
		boolRef: func(s *PanelSettings) *bool {
			return &s.AutoChannelManagement
		},
	},
}

// fieldByKey returns the field with the given key.
func fieldByKey(key string) (*Field, bool) {
	for i := range panelFields {
		if panelFields[i].Key == key {
			return &panelFields[i], true
		}
	}

	return nil, false
}

// Schema returns the panel fields in display order with their defaults.
func Schema() []Field {
	defaults := DefaultPanelSettings()

	fields := make([]Field, len(panelFields))
	for i := range panelFields {
		fields[i] = panelFields[i]
		fields[i].Options = slices.Clone(panelFields[i].Options)
		fields[i].Default = panelFields[i].format(&defaults)
	}

	return fields
}

// Setting is a key and its textual value.
type Setting struct {
	Key   string
	Value string
}

// ApplyFunc pushes new settings into the running components. When it fails
// the panel keeps the old settings.
type ApplyFunc func(prev, next PanelSettings) error

// Panel holds the live payment settings of a node. Changes are validated as
// a whole before the apply callback runs, so a rejected change leaves every
// setting untouched.
type Panel struct {
	mu       sync.Mutex
	settings PanelSettings
	apply    ApplyFunc
}

// NewPanel creates a panel with validated initial settings. apply may be nil.
func NewPanel(initial PanelSettings, apply ApplyFunc) (*Panel, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}

	return &Panel{
		settings: initial,
		apply:    apply,
	}, nil
}

// Schema returns the fields of the panel.
func (p *Panel) Schema() []Field {
	return Schema()
}

// Settings returns the current settings.
func (p *Panel) Settings() PanelSettings {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.settings
}

// Snapshot returns every setting as text in schema order.
func (p *Panel) Snapshot() []Setting {
	settings := p.Settings()

	snapshot := make([]Setting, 0, len(panelFields))
	for i := range panelFields {
		snapshot = append(snapshot, Setting{
			Key:   panelFields[i].Key,
			Value: panelFields[i].format(&settings),
		})
	}

	return snapshot
}

// Get returns the value of a single setting.
func (p *Panel) Get(key string) (string, error) {
	field, ok := fieldByKey(key)
	if !ok {
		return "", configErr(key, "", ErrUnknownField)
	}

	settings := p.Settings()

	return field.format(&settings), nil
}

// Set changes a single setting.
func (p *Panel) Set(key, value string) error {
	return p.Apply(map[string]string{key: value})
}

// Apply changes several settings at once. Either all of them are applied or
// none is.
func (p *Panel) Apply(changes map[string]string) error {
	keys := make([]string, 0, len(changes))
	for key := range changes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	p.mu.Lock()
	defer p.mu.Unlock()

	next := p.settings
	for _, key := range keys {
		field, ok := fieldByKey(key)
		if !ok {
			return configErr(key, changes[key], ErrUnknownField)
		}

		if err := field.parse(&next, changes[key]); err != nil {
			return err
		}
	}

	return p.commitLocked(next)
}

// ResetToDefaults restores the documented defaults.
func (p *Panel) ResetToDefaults() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.commitLocked(DefaultPanelSettings())
}

// commitLocked validates next, runs the apply callback and stores next.
func (p *Panel) commitLocked(next PanelSettings) error {
	if err := next.Validate(); err != nil {
		return err
	}
	if next == p.settings {
		return nil
	}

	if p.apply != nil {
		if err := p.apply(p.settings, next); err != nil {
			return err
		}
	}
	p.settings = next

	return nil
}

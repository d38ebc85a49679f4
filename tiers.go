package lnpay

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnpay/invoices"
	"github.com/lightningnetwork/lnpay/lnwire"
)

var (
	// ErrFreeTier is returned when an invoice is requested for the free
	// tier.
	ErrFreeTier = errors.New("free tier needs no payment")

	// ErrZeroMonths is returned for a subscription invoice over no time.
	ErrZeroMonths = errors.New("subscription must last at least a month")
)

// Unlimited marks a tier feature without a cap.
const Unlimited = math.MaxUint32

// SubscriptionTier is a paid service level.
type SubscriptionTier uint8

const (
	// TierFree covers the basic peer to peer features.
	TierFree SubscriptionTier = iota

	// TierPro adds AI operations and priority seeding.
	TierPro

	// TierEnterprise adds private repositories without limit and an SLA.
	TierEnterprise
)

// Tiers lists every tier in ascending price.
var Tiers = []SubscriptionTier{TierFree, TierPro, TierEnterprise}

// String returns the name of the tier.
func (t SubscriptionTier) String() string {
	switch t {
	case TierFree:
		return "free"

	case TierPro:
		return "pro"

	case TierEnterprise:
		return "enterprise"

	default:
		return fmt.Sprintf("SubscriptionTier(%d)", uint8(t))
	}
}

// ParseTier returns the tier with the given name.
func ParseTier(name string) (SubscriptionTier, error) {
	for _, t := range Tiers {
		if strings.EqualFold(name, t.String()) {
			return t, nil
		}
	}

	return 0, fmt.Errorf("unknown tier %q", name)
}

// MonthlyPrice is the price of one month of the tier.
func (t SubscriptionTier) MonthlyPrice() btcutil.Amount {
	switch t {
	case TierPro:
		return 10_000

	case TierEnterprise:
		return 100_000

	default:
		return 0
	}
}

// TierFeatures are the limits included in a tier.
type TierFeatures struct {
	AIOperationsPerMonth uint32
	PrivateRepos         uint32
	PrioritySeeding      bool
	SLAGuarantee         bool
	MaxRepoSizeGB        float64
}

// Features returns the limits of the tier.
func (t SubscriptionTier) Features() TierFeatures {
	switch t {
	case TierPro:
		return TierFeatures{
			AIOperationsPerMonth: 1000,
			PrivateRepos:         10,
			PrioritySeeding:      true,
			MaxRepoSizeGB:        10,
		}

	case TierEnterprise:
		return TierFeatures{
			AIOperationsPerMonth: Unlimited,
			PrivateRepos:         Unlimited,
			PrioritySeeding:      true,
			SLAGuarantee:         true,
			MaxRepoSizeGB:        100,
		}

	default:
		return TierFeatures{
			AIOperationsPerMonth: 10,
			MaxRepoSizeGB:        1,
		}
	}
}

// AddSubscriptionInvoice issues an invoice over months of the tier.
func (n *Node) AddSubscriptionInvoice(tier SubscriptionTier,
	months uint32) (*invoices.Invoice, error) {

	if months == 0 {
		return nil, ErrZeroMonths
	}
	price := tier.MonthlyPrice()
	if price == 0 {
		return nil, ErrFreeTier
	}

	amt := lnwire.NewMSatFromSatoshis(price * btcutil.Amount(months))
	desc := fmt.Sprintf("lnpay %v subscription, %d month(s)", tier,
		months)

	return n.AddInvoice(amt, desc)
}

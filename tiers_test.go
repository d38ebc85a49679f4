package lnpay

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnpay/lnwire"
	"github.com/stretchr/testify/require"
)

func TestTierPricing(t *testing.T) {
	t.Parallel()

	require.Equal(t, btcutil.Amount(0), TierFree.MonthlyPrice())
	require.Equal(t, btcutil.Amount(10_000), TierPro.MonthlyPrice())
	require.Equal(t, btcutil.Amount(100_000), TierEnterprise.MonthlyPrice())
}

func TestTierFeatures(t *testing.T) {
	t.Parallel()

	free := TierFree.Features()
	require.Equal(t, uint32(10), free.AIOperationsPerMonth)
	require.Zero(t, free.PrivateRepos)
	require.False(t, free.PrioritySeeding)

	pro := TierPro.Features()
	require.Equal(t, uint32(1000), pro.AIOperationsPerMonth)
	require.True(t, pro.PrioritySeeding)
	require.False(t, pro.SLAGuarantee)

	enterprise := TierEnterprise.Features()
	require.Equal(t, uint32(Unlimited), enterprise.PrivateRepos)
	require.True(t, enterprise.SLAGuarantee)
}

func TestParseTier(t *testing.T) {
	t.Parallel()

	for _, tier := range Tiers {
		parsed, err := ParseTier(tier.String())
		require.NoError(t, err)
		require.Equal(t, tier, parsed)
	}

	parsed, err := ParseTier("PRO")
	require.NoError(t, err)
	require.Equal(t, TierPro, parsed)

	_, err = ParseTier("gold")
	require.Error(t, err)
}

func TestSubscriptionInvoice(t *testing.T) {
	t.Parallel()

	h := newNodeHarness(t)

	invoice, err := h.node.AddSubscriptionInvoice(TierPro, 3)
	require.NoError(t, err)
	require.Equal(t, lnwire.NewMSatFromSatoshis(30_000), invoice.Amount)
	require.Contains(t, invoice.Description, "pro")

	_, err = h.node.AddSubscriptionInvoice(TierFree, 1)
	require.ErrorIs(t, err, ErrFreeTier)

	_, err = h.node.AddSubscriptionInvoice(TierEnterprise, 0)
	require.ErrorIs(t, err, ErrZeroMonths)
}

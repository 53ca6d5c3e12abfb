package service

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/layer-3/paygate/core"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateChallenge_ConfiguredPricing(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.Pricing().Set(core.ResourcePricing{
		ResourceID:     "premium-report",
		Price:          big.NewInt(1_000_000),
		AccessDuration: time.Hour,
	}))

	c := h.challenge(t, "premium-report")

	assert.Equal(t, "premium-report", c.ResourceID)
	assert.Equal(t, big.NewInt(1_000_000), c.Amount)
	assert.Equal(t, "", c.Currency, "native asset")
	assert.Equal(t, core.MethodTransaction, c.Method)
	assert.Equal(t, testRecipient, c.Recipient)
	assert.Equal(t, int64(testChainID), c.ChainID)
	assert.Equal(t, h.clock.Now().Add(300*time.Second), c.ExpiresAt)
	assert.Equal(t, time.Hour, c.AccessDuration)
}

func TestCreateChallenge_MatchesEveryPricing(t *testing.T) {
	h := newHarness(t)
	pricings := []core.ResourcePricing{
		{ResourceID: "a", Price: big.NewInt(1), Methods: []core.PaymentMethod{core.MethodSignature}},
		{ResourceID: "b", Price: big.NewInt(250), Currency: testToken, Decimals: 6},
		{ResourceID: "c", Price: big.NewInt(0), Methods: []core.PaymentMethod{core.MethodTransaction}},
	}
	for _, p := range pricings {
		require.NoError(t, h.svc.Pricing().Set(p))
	}

	for _, p := range pricings {
		c := h.challenge(t, p.ResourceID)
		assert.Equal(t, p.Price, c.Amount, p.ResourceID)
		assert.Equal(t, p.Currency, c.Currency, p.ResourceID)
		if len(p.Methods) > 0 {
			assert.Equal(t, p.Methods[0], c.Method, p.ResourceID)
			assert.Equal(t, p.Methods, c.AcceptedMethods, p.ResourceID)
		}
	}
}

func TestCreateChallenge_AdvertisesDisplayAmountAndDiscount(t *testing.T) {
	h := newHarness(t)
	discount := decimal.RequireFromString("0.25")
	require.NoError(t, h.svc.Pricing().Set(core.ResourcePricing{
		ResourceID:           "feed",
		Price:                big.NewInt(2_500_000),
		Currency:             testToken,
		Decimals:             6,
		SubscriptionDiscount: &discount,
	}))

	c := h.challenge(t, "feed")
	assert.Equal(t, "2.5", c.DisplayAmount)
	require.NotNil(t, c.SubscriptionDiscount)
	assert.Equal(t, "0.25", c.SubscriptionDiscount.String())

	stored, err := h.svc.GetChallenge(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "2.5", stored.DisplayAmount)
	assert.True(t, discount.Equal(*stored.SubscriptionDiscount))

	// Decimals belong to the configured currency and do not carry over.
	native := ""
	c, err = h.svc.CreateChallenge(context.Background(), "feed", &core.PricingOverride{Currency: &native})
	require.NoError(t, err)
	assert.Equal(t, "2500000", c.DisplayAmount)
}

func TestCreateChallenge_DefaultPricing(t *testing.T) {
	h := newHarness(t)

	c := h.challenge(t, "/unpriced")

	assert.Equal(t, big.NewInt(1000), c.Amount)
	assert.Equal(t, "", c.Currency)
	assert.Equal(t, time.Hour, c.AccessDuration)
	assert.Equal(t, []core.PaymentMethod{core.MethodTransaction, core.MethodSignature}, c.AcceptedMethods)
}

func TestCreateChallenge_Override(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.Pricing().Set(core.ResourcePricing{ResourceID: "r", Price: big.NewInt(10)}))

	currency := testToken
	c, err := h.svc.CreateChallenge(context.Background(), "r", &core.PricingOverride{
		Price:          big.NewInt(99),
		Currency:       &currency,
		Methods:        []core.PaymentMethod{core.MethodSignature},
		AccessDuration: time.Minute,
		Metadata:       map[string]string{"plan": "trial"},
	})
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(99), c.Amount)
	assert.Equal(t, testToken, c.Currency)
	assert.Equal(t, core.MethodSignature, c.Method)
	assert.Equal(t, time.Minute, c.AccessDuration)
	assert.Equal(t, "trial", c.Metadata["plan"])

	// The registry is not changed by an override.
	p, ok := h.svc.Pricing().Get("r")
	require.True(t, ok)
	assert.Equal(t, big.NewInt(10), p.Price)
}

func TestCreateChallenge_StoresChallenge(t *testing.T) {
	h := newHarness(t)
	c := h.challenge(t, "r")

	raw, err := h.store.Get(context.Background(), challengeKey(c.ID))
	require.NoError(t, err)

	var stored core.Challenge
	require.NoError(t, json.Unmarshal(raw, &stored))
	assert.Equal(t, c.ID, stored.ID)
	assert.Equal(t, c.Amount, stored.Amount)
}

func TestCreateChallenge_UniqueWithinSameSecond(t *testing.T) {
	h := newHarness(t)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		c := h.challenge(t, "same-resource")
		require.False(t, seen[c.ID], "duplicate challenge id %s", c.ID)
		seen[c.ID] = true
	}
}

package service

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/layer-3/paygate/core"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_LastWriteWins(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Set(core.ResourcePricing{ResourceID: "a", Price: big.NewInt(1)}))
	require.NoError(t, r.Set(core.ResourcePricing{ResourceID: "a", Price: big.NewInt(2)}))

	p, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, big.NewInt(2), p.Price)
	assert.Len(t, r.List(), 1)

	_, ok = r.Get("b")
	assert.False(t, ok)
}

func TestRegistry_ReturnsCopies(t *testing.T) {
	r := NewRegistry()
	price := big.NewInt(10)
	require.NoError(t, r.Set(core.ResourcePricing{ResourceID: "a", Price: price}))
	price.SetInt64(999)

	p, _ := r.Get("a")
	p.Price.SetInt64(1)

	again, _ := r.Get("a")
	assert.Equal(t, big.NewInt(10), again.Price)
}

func TestRegistry_Rejects(t *testing.T) {
	half := decimal.RequireFromString("0.5")
	tooMuch := decimal.RequireFromString("1.5")

	tests := []struct {
		name string
		p    core.ResourcePricing
		ok   bool
	}{
		{"valid", core.ResourcePricing{ResourceID: "a", Price: big.NewInt(1), SubscriptionDiscount: &half}, true},
		{"missing id", core.ResourcePricing{Price: big.NewInt(1)}, false},
		{"missing price", core.ResourcePricing{ResourceID: "a"}, false},
		{"negative price", core.ResourcePricing{ResourceID: "a", Price: big.NewInt(-1)}, false},
		{"unknown method", core.ResourcePricing{ResourceID: "a", Price: big.NewInt(1), Methods: []core.PaymentMethod{"cash"}}, false},
		{"discount above one", core.ResourcePricing{ResourceID: "a", Price: big.NewInt(1), SubscriptionDiscount: &tooMuch}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry().Set(tt.p)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, core.ErrConfiguration)
			}
		})
	}
}

const pricingYAML = `
resources:
  - id: premium-report
    price: "1000000"
    accessDuration: 1h
  - id: usdc-feed
    price: "2500000"
    currency: "0x0000000000000000000000000000000000000Bb0"
    decimals: 6
    methods: [signature]
    subscriptionDiscount: "0.2"
`

func TestParsePricing(t *testing.T) {
	pricings, err := ParsePricing([]byte(pricingYAML))
	require.NoError(t, err)
	require.Len(t, pricings, 2)

	assert.Equal(t, "premium-report", pricings[0].ResourceID)
	assert.Equal(t, big.NewInt(1_000_000), pricings[0].Price)
	assert.Equal(t, time.Hour, pricings[0].AccessDuration)

	feed := pricings[1]
	assert.Equal(t, []core.PaymentMethod{core.MethodSignature}, feed.Methods)
	assert.Equal(t, "2.5", feed.DisplayPrice())
	require.NotNil(t, feed.SubscriptionDiscount)
	assert.Equal(t, "0.2", feed.SubscriptionDiscount.String())
}

func TestParsePricing_BadPrice(t *testing.T) {
	_, err := ParsePricing([]byte("resources:\n  - id: x\n    price: one\n"))
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestRegistry_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(pricingYAML), 0o600))

	r := NewRegistry()
	require.NoError(t, r.LoadFile(path))

	p, ok := r.Get("premium-report")
	require.True(t, ok)
	assert.Equal(t, []core.PaymentMethod{core.MethodTransaction, core.MethodSignature}, p.Methods)
	assert.Len(t, r.List(), 2)
}

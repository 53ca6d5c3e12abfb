package http

import (
	"testing"

	"github.com/layer-3/paygate/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteMatcher(t *testing.T) {
	m := NewRouteMatcher(
		[]string{"/api/*", "/reports/*/pdf", "/exact"},
		[]string{"/api/health", "/api/public/*"},
	)

	tests := []struct {
		path string
		want bool
	}{
		{"/api/report", true},
		{"/api/health", false},
		{"/api/public/docs", false},
		{"/reports/42/pdf", true},
		{"/reports/42/csv", false},
		{"/exact", true},
		{"/exact/more", false},
		{"/", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.Protected(tt.path), tt.path)
	}
}

func TestRouteMatcher_ExclusionWins(t *testing.T) {
	m := NewRouteMatcher([]string{"/api/*"}, []string{"/api/*"})
	assert.False(t, m.Protected("/api/report"))
}

func TestRouteMatcher_EmptyProtectsEverything(t *testing.T) {
	m := NewRouteMatcher(nil, []string{"/healthz"})
	assert.True(t, m.Protected("/anything"))
	assert.False(t, m.Protected("/healthz"))
}

func TestProofRoundTrip(t *testing.T) {
	payment := core.Payment{
		ChallengeID: "0xabc",
		Payer:       "0x00000000000000000000000000000000000000C1",
		Timestamp:   1700000000,
		Proof:       core.Proof{Kind: core.MethodTransaction, TxRef: "0xdead"},
	}

	header, err := EncodeProof(payment)
	require.NoError(t, err)

	decoded, err := DecodeProof(header)
	require.NoError(t, err)
	assert.Equal(t, payment, decoded)
}

func TestDecodeProof_Rejects(t *testing.T) {
	for _, header := range []string{"!!", "bm90IGpzb24=", "e30="} {
		_, err := DecodeProof(header)
		assert.ErrorIs(t, err, core.ErrInvalidProof, header)
	}
}

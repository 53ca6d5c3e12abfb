package core

import (
	"math/big"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod names the kind of proof a challenge accepts.
type PaymentMethod string

const (
	// MethodTransaction is proof by a confirmed on-chain transfer.
	MethodTransaction PaymentMethod = "transaction"
	// MethodSignature is proof by an EIP-712 authorization signed by the payer.
	MethodSignature PaymentMethod = "signature"
)

// ResourcePricing is the operator-configured price of a protected resource.
type ResourcePricing struct {
	ResourceID string
	// Price is expressed in the smallest unit of Currency.
	Price *big.Int
	// Currency is the token contract address; empty means the chain's native asset.
	Currency             string
	Decimals             int32
	Methods              []PaymentMethod
	AccessDuration       time.Duration
	SubscriptionDiscount *decimal.Decimal
}

// Accepts reports whether method is one of the configured methods.
func (p ResourcePricing) Accepts(method PaymentMethod) bool {
	return slices.Contains(p.Methods, method)
}

// DisplayPrice renders Price in whole currency units.
func (p ResourcePricing) DisplayPrice() string {
	if p.Price == nil {
		return "0"
	}
	return decimal.NewFromBigInt(p.Price, -p.Decimals).String()
}

// Challenge describes the payment required to unlock a resource.
type Challenge struct {
	ID              string            `json:"id"`
	ResourceID      string            `json:"resourceId"`
	Amount          *big.Int          `json:"amount"`
	Currency        string            `json:"currency"`
	Method          PaymentMethod     `json:"method"`
	AcceptedMethods []PaymentMethod   `json:"acceptedMethods"`
	Recipient       string            `json:"recipient"`
	ChainID         int64             `json:"chainId"`
	IssuedAt        time.Time         `json:"issuedAt"`
	ExpiresAt       time.Time         `json:"expiresAt"`
	AccessDuration  time.Duration     `json:"accessDuration"`
	Metadata        map[string]string `json:"metadata,omitempty"`

	// DisplayAmount is Amount in whole currency units.
	DisplayAmount string `json:"displayAmount,omitempty"`
	// SubscriptionDiscount is advertised to clients only; Amount is what must be paid.
	SubscriptionDiscount *decimal.Decimal `json:"subscriptionDiscount,omitempty"`
}

// Expired reports whether the challenge can no longer be paid at now.
func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Accepts reports whether the challenge takes proofs of the given method.
func (c *Challenge) Accepts(method PaymentMethod) bool {
	return slices.Contains(c.AcceptedMethods, method)
}

// Proof is a tagged payment proof. Kind selects which of the remaining fields is meaningful.
type Proof struct {
	Kind      PaymentMethod `json:"kind"`
	TxRef     string        `json:"txRef,omitempty"`
	Signature string        `json:"signature,omitempty"`
}

// Payment is a payer's submission against a challenge. It is never persisted.
type Payment struct {
	ChallengeID string `json:"challengeId"`
	Payer       string `json:"payer"`
	Timestamp   int64  `json:"timestamp"`
	Proof       Proof  `json:"proof"`
}

// ConfirmedPayment is what a successful validation learned about the payment.
type ConfirmedPayment struct {
	Method      PaymentMethod
	Payer       string
	Amount      *big.Int
	BlockNumber uint64
	TxRef       string
}

// ValidationResult is the outcome of validating a payment against a challenge.
type ValidationResult struct {
	Valid     bool
	Errors    []string
	Confirmed *ConfirmedPayment
}

// Invalid builds a failed result from one or more reasons.
func Invalid(reasons ...string) ValidationResult {
	return ValidationResult{Errors: reasons}
}

// PricingOverride replaces parts of a resource's pricing for a single challenge.
// Nil and zero fields keep the configured value.
type PricingOverride struct {
	Price          *big.Int
	Currency       *string
	Methods        []PaymentMethod
	AccessDuration time.Duration
	Metadata       map[string]string
}

package core

import (
	"math/big"
	"time"
)

// ReceiptMetadata is a snapshot of what was paid for.
type ReceiptMetadata struct {
	ResourceID string   `json:"resourceId"`
	Payer      string   `json:"payer"`
	Amount     *big.Int `json:"amount"`
	Currency   string   `json:"currency"`
}

// Receipt proves a challenge was fulfilled and carries the access token it unlocked.
type Receipt struct {
	ID          string          `json:"id"`
	ChallengeID string          `json:"challengeId"`
	PaymentID   string          `json:"paymentId"`
	AccessToken string          `json:"accessToken,omitempty"`
	IssuedAt    time.Time       `json:"issuedAt"`
	ExpiresAt   time.Time       `json:"expiresAt"`
	Signature   string          `json:"signature,omitempty"`
	Metadata    ReceiptMetadata `json:"metadata"`
}

// Expired reports whether the access granted by the receipt has lapsed at now.
func (r *Receipt) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// AccessResult is the outcome of presenting an access token.
type AccessResult struct {
	Granted bool
	Reason  string
	Receipt *Receipt
	TTL     time.Duration
}

// ChainTransaction is the subset of a transaction needed to confirm a payment.
type ChainTransaction struct {
	Hash  string
	From  string
	To    string
	Value *big.Int
}

// TokenTransfer is a decoded ERC-20 Transfer event.
type TokenTransfer struct {
	Token string
	From  string
	To    string
	Value *big.Int
}

// ChainReceipt is the settlement status of a mined transaction.
type ChainReceipt struct {
	Success     bool
	BlockNumber uint64
	Transfers   []TokenTransfer
}

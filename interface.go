// Package paygate gates HTTP resources behind verifiable payments.
//
// A request without credentials receives a payment challenge. Paying the
// challenge, either with a confirmed on-chain transfer or with an EIP-712
// authorization signed by the payer, yields a receipt carrying a
// time-limited access token.
package paygate

import (
	"context"

	"github.com/layer-3/paygate/core"
)

// Gate represents the public interface of the payment gate
type Gate interface {
	// CreateChallenge prices resourceID and stores a single-use challenge for it
	CreateChallenge(ctx context.Context, resourceID string, override *core.PricingOverride) (*core.Challenge, error)

	// GetChallenge returns a stored challenge, which may already be expired
	GetChallenge(ctx context.Context, id string) (*core.Challenge, error)

	// ValidatePayment checks a payment against its challenge without consuming it
	ValidatePayment(ctx context.Context, challengeID string, payment core.Payment) (core.ValidationResult, error)

	// ProcessPayment consumes the challenge and issues a receipt
	ProcessPayment(ctx context.Context, challengeID string, payment core.Payment) (*core.Receipt, error)

	// CheckAccess reports whether an access token is currently valid
	CheckAccess(ctx context.Context, token string) (core.AccessResult, error)

	// RevokeAccess invalidates an access token; unknown tokens are ignored
	RevokeAccess(ctx context.Context, token string) error

	// GetReceipt returns a previously issued receipt
	GetReceipt(ctx context.Context, id string) (*core.Receipt, error)
}

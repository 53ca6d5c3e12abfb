package core

import (
	"errors"
	"strings"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrConfiguration        = errors.New("invalid configuration")
	ErrPaymentInvalid       = errors.New("payment invalid")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrInvalidProof         = errors.New("invalid payment proof")
	ErrStoreOperationFailed = errors.New("store operation failed")
)

// Validation failure messages surfaced to paying clients.
const (
	ReasonChallengeNotFound   = "challenge not found"
	ReasonChallengeExpired    = "challenge expired"
	ReasonChallengeMismatch   = "challenge id mismatch"
	ReasonMethodNotAccepted   = "payment method not accepted"
	ReasonTransactionNotFound = "transaction not found"
	ReasonTransactionPending  = "transaction not confirmed"
	ReasonRecipientMismatch   = "recipient mismatch"
	ReasonInsufficientAmount  = "insufficient amount"
	ReasonTransactionUsed     = "transaction already used"
	ReasonVerificationFailed  = "payment verification unavailable"
	ReasonInvalidSignature    = "invalid signature"
	ReasonSignerMismatch      = "signer mismatch"
	ReasonNoProof             = "no valid payment proof provided"
	ReasonMissingPayer        = "payer is required"
	ReasonAccessNotFound      = "not found"
	ReasonAccessExpired       = "expired"
)

// PaymentError carries the validation failures that made a payment unusable.
type PaymentError struct {
	Errors []string
}

func (e *PaymentError) Error() string {
	return "payment invalid: " + strings.Join(e.Errors, "; ")
}

func (e *PaymentError) Unwrap() error {
	return ErrPaymentInvalid
}

// Has reports whether reason is one of the collected failures.
func (e *PaymentError) Has(reason string) bool {
	for _, r := range e.Errors {
		if r == reason {
			return true
		}
	}
	return false
}

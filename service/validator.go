package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/layer-3/paygate/core"
	"github.com/layer-3/paygate/internal/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ValidatePayment checks payment against the stored challenge without
// changing any state.
//
// Challenge-level failures (unknown, expired, mismatched id, unaccepted
// method) are reported alone. Proof-level failures are accumulated so the
// payer sees every condition that did not hold.
//
// A signature proof only proves that the declared payer authorized payment of
// this challenge. No amount or recipient is checked on that path; operators
// that need settlement guarantees should accept transaction proofs only.
//
// The returned error is non-nil only when the store could not be read.
func (s *PaymentService) ValidatePayment(ctx context.Context, challengeID string, payment core.Payment) (core.ValidationResult, error) {
	ctx, span := s.tracer.Start(ctx, "paygate.ValidatePayment")
	defer span.End()
	span.SetAttributes(
		attribute.String("paygate.challenge_id", challengeID),
		attribute.String("paygate.proof_kind", string(payment.Proof.Kind)),
	)

	result, err := s.validate(ctx, challengeID, payment)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation aborted")
		return core.ValidationResult{}, err
	}

	outcome := "valid"
	if !result.Valid {
		outcome = "invalid"
		span.SetAttributes(attribute.StringSlice("paygate.errors", result.Errors))
	}
	metrics.PaymentValidations.WithLabelValues(string(payment.Proof.Kind), outcome).Inc()
	return result, nil
}

func (s *PaymentService) validate(ctx context.Context, challengeID string, payment core.Payment) (core.ValidationResult, error) {
	challenge, err := s.getChallenge(ctx, challengeID)
	switch {
	case errors.Is(err, core.ErrNotFound):
		return core.Invalid(core.ReasonChallengeNotFound), nil
	case err != nil:
		return core.ValidationResult{}, fmt.Errorf("failed to load challenge: %w", err)
	}

	if challenge.Expired(s.now()) {
		return core.Invalid(core.ReasonChallengeExpired), nil
	}
	if payment.ChallengeID != challengeID {
		return core.Invalid(core.ReasonChallengeMismatch), nil
	}

	proof := payment.Proof
	switch {
	case proof.Kind == core.MethodTransaction && proof.TxRef != "":
	case proof.Kind == core.MethodSignature && proof.Signature != "":
	default:
		return core.Invalid(core.ReasonNoProof), nil
	}
	if !challenge.Accepts(proof.Kind) {
		return core.Invalid(core.ReasonMethodNotAccepted), nil
	}

	if proof.Kind == core.MethodTransaction {
		return s.validateTransaction(ctx, challenge, proof.TxRef)
	}
	return s.validateSignature(challenge, payment), nil
}

func (s *PaymentService) validateTransaction(ctx context.Context, challenge *core.Challenge, ref string) (core.ValidationResult, error) {
	var reasons []string

	canonical := canonicalTxRef(ref)
	used, err := s.txRefUsed(ctx, canonical)
	if err != nil {
		return core.ValidationResult{}, err
	}
	if used {
		reasons = append(reasons, core.ReasonTransactionUsed)
	}

	if s.chain == nil {
		s.logger.Warn("transaction proof received but no chain reader is configured", "challenge_id", challenge.ID)
		return core.Invalid(append(reasons, core.ReasonVerificationFailed)...), nil
	}

	ctx, span := s.tracer.Start(ctx, "paygate.ChainLookup")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ChainTimeout)
	defer cancel()

	started := s.now()
	defer func() { metrics.ChainLookupSeconds.Observe(s.now().Sub(started).Seconds()) }()

	tx, err := s.chain.GetTransaction(ctx, ref)
	switch {
	case errors.Is(err, core.ErrTransactionNotFound), errors.Is(err, core.ErrInvalidProof):
		return core.Invalid(append(reasons, core.ReasonTransactionNotFound)...), nil
	case err != nil:
		s.chainFailure(challenge.ID, ref, err)
		return core.Invalid(append(reasons, core.ReasonVerificationFailed)...), nil
	}

	// The node is the authority on which transaction ref names.
	if tx.Hash != "" && canonicalTxRef(tx.Hash) != canonical {
		canonical = canonicalTxRef(tx.Hash)
		if !used {
			if used, err = s.txRefUsed(ctx, canonical); err != nil {
				return core.ValidationResult{}, err
			}
			if used {
				reasons = append(reasons, core.ReasonTransactionUsed)
			}
		}
	}

	receipt, err := s.chain.GetTransactionReceipt(ctx, ref)
	switch {
	case errors.Is(err, core.ErrTransactionNotFound):
		reasons = append(reasons, core.ReasonTransactionPending)
	case err != nil:
		s.chainFailure(challenge.ID, ref, err)
		return core.Invalid(append(reasons, core.ReasonVerificationFailed)...), nil
	case !receipt.Success:
		reasons = append(reasons, core.ReasonTransactionPending)
	}

	payer, paid, ok := settledAmount(challenge, tx, receipt)
	if !ok {
		reasons = append(reasons, core.ReasonRecipientMismatch)
	} else if paid.Cmp(challenge.Amount) < 0 {
		reasons = append(reasons, core.ReasonInsufficientAmount)
	}

	if len(reasons) > 0 {
		return core.Invalid(reasons...), nil
	}
	return core.ValidationResult{
		Valid: true,
		Confirmed: &core.ConfirmedPayment{
			Method:      core.MethodTransaction,
			Payer:       payer,
			Amount:      paid,
			BlockNumber: receipt.BlockNumber,
			TxRef:       canonical,
		},
	}, nil
}

func (s *PaymentService) txRefUsed(ctx context.Context, canonical string) (bool, error) {
	_, err := s.store.Get(ctx, txRefPrefix+canonical)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, core.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("failed to check transaction reuse: %w", err)
	}
}

// settledAmount returns who paid and how much reached the challenge
// recipient. Native payments are read from the transaction itself, token
// payments from the Transfer logs of the currency contract. ok is false when
// nothing was sent to the recipient.
func settledAmount(challenge *core.Challenge, tx *core.ChainTransaction, receipt *core.ChainReceipt) (payer string, paid *big.Int, ok bool) {
	if challenge.Currency == "" {
		if !strings.EqualFold(tx.To, challenge.Recipient) || tx.Value == nil {
			return "", nil, false
		}
		return tx.From, tx.Value, true
	}

	if receipt == nil {
		return "", nil, false
	}
	paid = new(big.Int)
	for _, t := range receipt.Transfers {
		if !strings.EqualFold(t.Token, challenge.Currency) || !strings.EqualFold(t.To, challenge.Recipient) {
			continue
		}
		paid.Add(paid, t.Value)
		payer = t.From
		ok = true
	}
	return payer, paid, ok
}

func (s *PaymentService) chainFailure(challengeID, ref string, err error) {
	s.logger.Error("chain lookup failed", "challenge_id", challengeID, "tx_ref", ref, "err", err)
}

func (s *PaymentService) validateSignature(challenge *core.Challenge, payment core.Payment) core.ValidationResult {
	if payment.Payer == "" {
		return core.Invalid(core.ReasonMissingPayer)
	}

	signer, err := s.verifier.RecoverPayer(challenge.ID, payment.Payer, payment.Timestamp, payment.Proof.Signature)
	if err != nil {
		s.logger.Debug("signature rejected", "challenge_id", challenge.ID, "err", err)
		return core.Invalid(core.ReasonInvalidSignature)
	}
	if !strings.EqualFold(signer, payment.Payer) {
		return core.Invalid(core.ReasonSignerMismatch)
	}

	return core.ValidationResult{
		Valid: true,
		Confirmed: &core.ConfirmedPayment{
			Method: core.MethodSignature,
			Payer:  signer,
			Amount: new(big.Int).Set(challenge.Amount),
		},
	}
}

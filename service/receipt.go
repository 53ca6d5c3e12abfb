package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/layer-3/paygate/core"
	"github.com/layer-3/paygate/internal/eth"
	"github.com/layer-3/paygate/internal/metrics"
	"go.opentelemetry.io/otel/attribute"
)

const accessTokenBytes = 32

func newAccessToken() (string, error) {
	buf := make([]byte, accessTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate access token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// paymentID identifies the proof a receipt was issued for.
func paymentID(payment core.Payment, confirmed *core.ConfirmedPayment) string {
	if confirmed != nil && confirmed.TxRef != "" {
		return confirmed.TxRef
	}
	return crypto.Keccak256Hash([]byte(payment.Proof.Signature)).Hex()
}

// ProcessPayment validates payment, consumes the challenge and issues a receipt.
//
// Validation failures are returned as *core.PaymentError. Only one caller can
// consume a challenge; the others get a PaymentError with "challenge not found".
func (s *PaymentService) ProcessPayment(ctx context.Context, challengeID string, payment core.Payment) (_ *core.Receipt, err error) {
	ctx, span := s.tracer.Start(ctx, "paygate.ProcessPayment")
	defer span.End()
	span.SetAttributes(attribute.String("paygate.challenge_id", challengeID))

	result, err := s.ValidatePayment(ctx, challengeID, payment)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, &core.PaymentError{Errors: result.Errors}
	}
	confirmed := result.Confirmed

	receiptID := uuid.NewString()

	// A transaction pays for one challenge only. Claim it before consuming the
	// challenge; the claim is released unless a receipt is stored.
	if confirmed.TxRef != "" {
		claimKey := txRefKey(confirmed.TxRef)
		claimed, cerr := s.store.SetNX(ctx, claimKey, []byte(receiptID), 0)
		if cerr != nil {
			return nil, fmt.Errorf("failed to claim transaction: %w", cerr)
		}
		if !claimed {
			return nil, &core.PaymentError{Errors: []string{core.ReasonTransactionUsed}}
		}
		defer func() {
			if err == nil {
				return
			}
			if derr := s.store.Delete(context.WithoutCancel(ctx), claimKey); derr != nil {
				s.logger.Error("failed to release transaction claim", "tx_ref", confirmed.TxRef, "err", derr)
			}
		}()
	}

	challenge, err := s.takeChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	receipt, err := s.issueReceipt(ctx, receiptID, challenge, payment, confirmed)
	if err != nil {
		s.restoreChallenge(context.WithoutCancel(ctx), challenge)
		return nil, err
	}

	metrics.ReceiptsIssued.WithLabelValues(string(confirmed.Method)).Inc()
	s.logger.Info("receipt issued",
		"receipt_id", receipt.ID,
		"challenge_id", challenge.ID,
		"resource", challenge.ResourceID,
		"payer", receipt.Metadata.Payer,
		"method", confirmed.Method,
	)

	if s.eventPub != nil {
		if err := s.eventPub.PublishReceiptIssued(ctx, receipt); err != nil {
			// The receipt is already stored; the event is informational.
			s.logger.Warn("failed to publish receipt event", "receipt_id", receipt.ID, "err", err)
		}
	}

	return receipt, nil
}

// takeChallenge atomically removes the challenge from the store.
func (s *PaymentService) takeChallenge(ctx context.Context, challengeID string) (*core.Challenge, error) {
	key := challengeKey(challengeID)
	raw, err := s.store.Take(ctx, key)
	if errors.Is(err, core.ErrNotFound) {
		return nil, &core.PaymentError{Errors: []string{core.ReasonChallengeNotFound}}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume challenge: %w", err)
	}

	var challenge core.Challenge
	if err := decode(key, raw, &challenge); err != nil {
		return nil, err
	}
	if challenge.Expired(s.now()) {
		// Keep it visible as expired for the rest of its retention.
		s.restoreChallenge(context.WithoutCancel(ctx), &challenge)
		return nil, &core.PaymentError{Errors: []string{core.ReasonChallengeExpired}}
	}
	return &challenge, nil
}

// restoreChallenge puts back a taken challenge until its retention ends.
func (s *PaymentService) restoreChallenge(ctx context.Context, challenge *core.Challenge) {
	ttl := challenge.ExpiresAt.Sub(s.now()) + s.cfg.Retention
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(challenge)
	if err == nil {
		err = s.store.Set(ctx, challengeKey(challenge.ID), data, ttl)
	}
	if err != nil {
		s.logger.Error("failed to restore challenge", "challenge_id", challenge.ID, "err", err)
	}
}

func (s *PaymentService) issueReceipt(
	ctx context.Context,
	receiptID string,
	challenge *core.Challenge,
	payment core.Payment,
	confirmed *core.ConfirmedPayment,
) (*core.Receipt, error) {
	token, err := newAccessToken()
	if err != nil {
		return nil, err
	}

	accessDuration := challenge.AccessDuration
	if accessDuration <= 0 {
		accessDuration = s.cfg.AccessDuration
	}
	now := s.now()

	receipt := &core.Receipt{
		ID:          receiptID,
		ChallengeID: challenge.ID,
		PaymentID:   paymentID(payment, confirmed),
		AccessToken: token,
		IssuedAt:    now,
		ExpiresAt:   now.Add(accessDuration),
		Metadata: core.ReceiptMetadata{
			ResourceID: challenge.ResourceID,
			Payer:      confirmed.Payer,
			Amount:     confirmed.Amount,
			Currency:   challenge.Currency,
		},
	}

	sig, err := s.signer.Sign(eth.ReceiptDigest(receipt.ID, receipt.AccessToken, receipt.ExpiresAt.Unix()))
	if err != nil {
		// The signature is audit evidence only; access control does not depend on it.
		s.logger.Error("failed to sign receipt", "receipt_id", receipt.ID, "err", err)
	} else {
		receipt.Signature = hexutil.Encode(sig)
	}

	data, err := json.Marshal(receipt)
	if err != nil {
		return nil, fmt.Errorf("failed to encode receipt: %w", err)
	}

	ttl := accessDuration + s.cfg.Retention
	if err := s.store.Set(ctx, receiptKey(receipt.ID), data, ttl); err != nil {
		return nil, fmt.Errorf("failed to store receipt: %w", err)
	}
	if err := s.store.Set(ctx, tokenKey(receipt.AccessToken), data, ttl); err != nil {
		if derr := s.store.Delete(context.WithoutCancel(ctx), receiptKey(receipt.ID)); derr != nil {
			s.logger.Error("failed to remove orphaned receipt", "receipt_id", receipt.ID, "err", derr)
		}
		return nil, fmt.Errorf("failed to store access token: %w", err)
	}

	return receipt, nil
}

package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/layer-3/paygate/core"
	"github.com/layer-3/paygate/internal/metrics"
)

// CheckAccess reports whether token currently grants access. Expired tokens
// are deleted as they are read. The error is non-nil only for store failures.
func (s *PaymentService) CheckAccess(ctx context.Context, token string) (core.AccessResult, error) {
	if token == "" {
		metrics.AccessChecks.WithLabelValues("not_found").Inc()
		return core.AccessResult{Reason: core.ReasonAccessNotFound}, nil
	}

	key := tokenKey(token)
	raw, err := s.store.Get(ctx, key)
	if errors.Is(err, core.ErrNotFound) {
		metrics.AccessChecks.WithLabelValues("not_found").Inc()
		return core.AccessResult{Reason: core.ReasonAccessNotFound}, nil
	}
	if err != nil {
		return core.AccessResult{}, fmt.Errorf("failed to look up access token: %w", err)
	}

	var receipt core.Receipt
	if err := decode(key, raw, &receipt); err != nil {
		return core.AccessResult{}, err
	}

	now := s.now()
	if receipt.Expired(now) {
		if err := s.store.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to evict expired access token", "receipt_id", receipt.ID, "err", err)
		}
		metrics.AccessChecks.WithLabelValues("expired").Inc()
		return core.AccessResult{Reason: core.ReasonAccessExpired}, nil
	}

	metrics.AccessChecks.WithLabelValues("granted").Inc()
	return core.AccessResult{
		Granted: true,
		Receipt: &receipt,
		TTL:     receipt.ExpiresAt.Sub(now),
	}, nil
}

// RevokeAccess removes token. Revoking an unknown or already revoked token
// succeeds without doing anything.
//
// Revocation only reaches instances sharing the same store.
func (s *PaymentService) RevokeAccess(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	_, err := s.store.Take(ctx, tokenKey(token))
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to revoke access token: %w", err)
	}

	metrics.Revocations.Inc()
	s.logger.Info("access revoked")

	if s.eventPub != nil {
		if err := s.eventPub.PublishAccessRevoked(ctx, token); err != nil {
			s.logger.Warn("failed to publish revocation event", "err", err)
		}
	}
	return nil
}

// GetReceipt returns a stored receipt by id, or core.ErrNotFound.
func (s *PaymentService) GetReceipt(ctx context.Context, id string) (*core.Receipt, error) {
	key := receiptKey(id)
	raw, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var receipt core.Receipt
	if err := decode(key, raw, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

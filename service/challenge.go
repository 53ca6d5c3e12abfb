package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"maps"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/paygate/core"
	"github.com/layer-3/paygate/internal/metrics"
	"go.opentelemetry.io/otel/attribute"
)

// challengeID hashes the resource, price and issue time together with 16
// random bytes so that identical same-second challenges never collide.
func challengeID(resourceID string, price *big.Int, unix int64) (string, error) {
	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return "", fmt.Errorf("failed to generate challenge salt: %w", err)
	}
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(unix))
	return crypto.Keccak256Hash([]byte(resourceID), price.Bytes(), ts[:], salt[:]).Hex(), nil
}

// resolvePricing returns the registered pricing of a resource, or the service
// default when none is configured, with override applied on top.
func (s *PaymentService) resolvePricing(resourceID string, override *core.PricingOverride) core.ResourcePricing {
	pricing, ok := s.pricing.Get(resourceID)
	if !ok {
		pricing = core.ResourcePricing{
			ResourceID:     resourceID,
			Price:          new(big.Int).Set(s.cfg.DefaultPrice),
			Methods:        []core.PaymentMethod{core.MethodTransaction, core.MethodSignature},
			AccessDuration: s.cfg.AccessDuration,
		}
	}
	if pricing.AccessDuration <= 0 {
		pricing.AccessDuration = s.cfg.AccessDuration
	}

	if override == nil {
		return pricing
	}
	if override.Price != nil {
		pricing.Price = new(big.Int).Set(override.Price)
	}
	if override.Currency != nil && *override.Currency != pricing.Currency {
		pricing.Currency = *override.Currency
		pricing.Decimals = 0
	}
	if len(override.Methods) > 0 {
		pricing.Methods = slices.Clone(override.Methods)
	}
	if override.AccessDuration > 0 {
		pricing.AccessDuration = override.AccessDuration
	}
	return pricing
}

// CreateChallenge prices a resource and stores a new challenge for it.
func (s *PaymentService) CreateChallenge(ctx context.Context, resourceID string, override *core.PricingOverride) (*core.Challenge, error) {
	ctx, span := s.tracer.Start(ctx, "paygate.CreateChallenge")
	defer span.End()
	span.SetAttributes(attribute.String("paygate.resource", resourceID))

	pricing := s.resolvePricing(resourceID, override)
	if pricing.Price.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative price for %s", core.ErrConfiguration, resourceID)
	}

	now := s.now()
	id, err := challengeID(resourceID, pricing.Price, now.Unix())
	if err != nil {
		return nil, err
	}

	challenge := &core.Challenge{
		ID:              id,
		ResourceID:      resourceID,
		Amount:          pricing.Price,
		Currency:        pricing.Currency,
		Method:          pricing.Methods[0],
		AcceptedMethods: pricing.Methods,
		Recipient:       s.cfg.Recipient,
		ChainID:         s.cfg.ChainID,
		IssuedAt:        now,
		ExpiresAt:       now.Add(s.cfg.ChallengeTTL),
		AccessDuration:  pricing.AccessDuration,

		DisplayAmount:        pricing.DisplayPrice(),
		SubscriptionDiscount: pricing.SubscriptionDiscount,
	}
	if override != nil && len(override.Metadata) > 0 {
		challenge.Metadata = maps.Clone(override.Metadata)
	}

	data, err := json.Marshal(challenge)
	if err != nil {
		return nil, fmt.Errorf("failed to encode challenge: %w", err)
	}
	if err := s.store.Set(ctx, challengeKey(id), data, s.cfg.ChallengeTTL+s.cfg.Retention); err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}

	metrics.ChallengesIssued.Inc()
	s.logger.Debug("challenge issued", "challenge_id", id, "resource", resourceID, "amount", pricing.Price.String())
	return challenge, nil
}

func (s *PaymentService) getChallenge(ctx context.Context, id string) (*core.Challenge, error) {
	key := challengeKey(id)
	raw, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var challenge core.Challenge
	if err := decode(key, raw, &challenge); err != nil {
		return nil, err
	}
	return &challenge, nil
}

// GetChallenge returns a stored challenge, expired or not, or core.ErrNotFound.
func (s *PaymentService) GetChallenge(ctx context.Context, id string) (*core.Challenge, error) {
	return s.getChallenge(ctx, id)
}

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/layer-3/paygate/core"
	"github.com/layer-3/paygate/ports"
)

const (
	// TopicReceiptIssued carries ReceiptIssuedEvent payloads.
	TopicReceiptIssued = "paygate.receipt.issued"
	// TopicAccessRevoked carries AccessRevokedEvent payloads.
	TopicAccessRevoked = "paygate.access.revoked"
)

// ReceiptIssuedEvent is published after a challenge is consumed. It never
// contains the access token.
type ReceiptIssuedEvent struct {
	ReceiptID   string    `json:"receipt_id"`
	ChallengeID string    `json:"challenge_id"`
	PaymentID   string    `json:"payment_id"`
	ResourceID  string    `json:"resource_id"`
	Payer       string    `json:"payer"`
	Amount      string    `json:"amount"`
	Currency    string    `json:"currency,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AccessRevokedEvent announces a revoked token by its hash.
type AccessRevokedEvent struct {
	TokenHash string    `json:"token_hash"`
	RevokedAt time.Time `json:"revoked_at"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

var _ ports.EventPublisher = (*WatermillPublisher)(nil)

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishReceiptIssued publishes a receipt issued event
func (p *WatermillPublisher) PublishReceiptIssued(ctx context.Context, receipt *core.Receipt) error {
	amount := ""
	if receipt.Metadata.Amount != nil {
		amount = receipt.Metadata.Amount.String()
	}

	return p.publish(ctx, TopicReceiptIssued, receipt.ID, ReceiptIssuedEvent{
		ReceiptID:   receipt.ID,
		ChallengeID: receipt.ChallengeID,
		PaymentID:   receipt.PaymentID,
		ResourceID:  receipt.Metadata.ResourceID,
		Payer:       receipt.Metadata.Payer,
		Amount:      amount,
		Currency:    receipt.Metadata.Currency,
		ExpiresAt:   receipt.ExpiresAt,
	})
}

// PublishAccessRevoked publishes an access revoked event
func (p *WatermillPublisher) PublishAccessRevoked(ctx context.Context, accessToken string) error {
	hash := TokenHash(accessToken)
	return p.publish(ctx, TopicAccessRevoked, hash, AccessRevokedEvent{
		TokenHash: hash,
		RevokedAt: time.Now(),
	})
}

func (p *WatermillPublisher) publish(ctx context.Context, topic, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("key", key)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

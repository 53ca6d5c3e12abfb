package ports

import (
	"context"

	"github.com/layer-3/paygate/core"
)

// EventPublisher notifies other instances and audit sinks about access changes.
type EventPublisher interface {
	PublishReceiptIssued(ctx context.Context, receipt *core.Receipt) error
	PublishAccessRevoked(ctx context.Context, accessToken string) error
}

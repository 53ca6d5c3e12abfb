package ports

import "github.com/layer-3/paygate/core"

// Attestor turns receipts into tokens third parties can verify offline.
type Attestor interface {
	ReceiptToToken(receipt *core.Receipt) (string, error)
	TokenToReceipt(token string) (*core.Receipt, error)
}

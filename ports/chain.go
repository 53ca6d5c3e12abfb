package ports

import (
	"context"

	"github.com/layer-3/paygate/core"
)

// ChainReader looks up settled transactions. Lookups may block on the network.
type ChainReader interface {
	// GetTransaction returns core.ErrTransactionNotFound for unknown refs.
	GetTransaction(ctx context.Context, ref string) (*core.ChainTransaction, error)
	// GetTransactionReceipt returns core.ErrTransactionNotFound while the transaction is unmined.
	GetTransactionReceipt(ctx context.Context, ref string) (*core.ChainReceipt, error)
}

// Package chain adapts an Ethereum JSON-RPC node to ports.ChainReader.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/layer-3/paygate/core"
	"github.com/layer-3/paygate/ports"
)

var _ ports.ChainReader = (*EthReader)(nil)

// transferTopic is keccak256("Transfer(address,address,uint256)").
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// ethBackend is the slice of *ethclient.Client the reader needs.
type ethBackend interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// EthReader reads transactions from an Ethereum node.
type EthReader struct {
	backend ethBackend
}

// Dial connects to the node at rawURL.
func Dial(ctx context.Context, rawURL string) (*EthReader, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial chain rpc: %w", err)
	}
	return NewEthReader(client), client, nil
}

// NewEthReader wraps an ethclient-compatible backend.
func NewEthReader(backend ethBackend) *EthReader {
	return &EthReader{backend: backend}
}

func parseRef(ref string) (common.Hash, error) {
	b := common.FromHex(ref)
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: malformed transaction reference %q", core.ErrInvalidProof, ref)
	}
	return common.BytesToHash(b), nil
}

// GetTransaction returns the sender, recipient and value of a transaction.
func (r *EthReader) GetTransaction(ctx context.Context, ref string) (*core.ChainTransaction, error) {
	hash, err := parseRef(ref)
	if err != nil {
		return nil, err
	}

	tx, _, err := r.backend.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, core.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to fetch transaction: %w", err)
	}

	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover transaction sender: %w", err)
	}

	result := &core.ChainTransaction{
		Hash:  tx.Hash().Hex(),
		From:  from.Hex(),
		Value: new(big.Int).Set(tx.Value()),
	}
	if to := tx.To(); to != nil {
		result.To = to.Hex()
	}
	return result, nil
}

// GetTransactionReceipt returns the settlement status and decoded ERC-20 transfers.
func (r *EthReader) GetTransactionReceipt(ctx context.Context, ref string) (*core.ChainReceipt, error) {
	hash, err := parseRef(ref)
	if err != nil {
		return nil, err
	}

	receipt, err := r.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, core.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to fetch receipt: %w", err)
	}

	result := &core.ChainReceipt{
		Success:   receipt.Status == types.ReceiptStatusSuccessful,
		Transfers: decodeTransfers(receipt.Logs),
	}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return result, nil
}

func decodeTransfers(logs []*types.Log) []core.TokenTransfer {
	var transfers []core.TokenTransfer
	for _, l := range logs {
		if l == nil || len(l.Topics) != 3 || l.Topics[0] != transferTopic || len(l.Data) != 32 {
			continue
		}
		transfers = append(transfers, core.TokenTransfer{
			Token: l.Address.Hex(),
			From:  common.BytesToAddress(l.Topics[1].Bytes()).Hex(),
			To:    common.BytesToAddress(l.Topics[2].Bytes()).Hex(),
			Value: new(big.Int).SetBytes(l.Data),
		})
	}
	return transfers
}

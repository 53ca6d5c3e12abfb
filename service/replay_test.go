package service

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/paygate/adapters/chain"
	"github.com/layer-3/paygate/adapters/store"
	"github.com/layer-3/paygate/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nodeBackend serves a single mined transaction to chain.EthReader.
type nodeBackend struct {
	tx      *types.Transaction
	receipt *types.Receipt
}

func (b nodeBackend) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	if hash != b.tx.Hash() {
		return nil, false, ethereum.NotFound
	}
	return b.tx, false, nil
}

func (b nodeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	if hash != b.tx.Hash() {
		return nil, ethereum.NotFound
	}
	return b.receipt, nil
}

func minedTransfer(t *testing.T, value int64) *types.Transaction {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	to := common.HexToAddress(testRecipient)
	tx, err := types.SignTx(
		types.NewTx(&types.LegacyTx{Nonce: 1, To: &to, Value: big.NewInt(value), Gas: 21000, GasPrice: big.NewInt(1)}),
		types.LatestSignerForChainID(big.NewInt(testChainID)),
		key,
	)
	require.NoError(t, err)
	return tx
}

func TestProcessPayment_TransactionReplayAcrossSpellings(t *testing.T) {
	h := newHarness(t)
	tx := minedTransfer(t, 5000)
	h.svc.chain = chain.NewEthReader(nodeBackend{
		tx:      tx,
		receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(7)},
	})
	hash := tx.Hash().Hex()

	first := h.challenge(t, "r")
	receipt, err := h.svc.ProcessPayment(context.Background(), first.ID, txPayment(first.ID, hash))
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(hash), receipt.PaymentID)

	for _, ref := range []string{
		strings.TrimPrefix(hash, "0x"),
		"0X" + strings.ToUpper(hash[2:]),
		" " + hash + " ",
	} {
		c := h.challenge(t, "r")
		_, err := h.svc.ProcessPayment(context.Background(), c.ID, txPayment(c.ID, ref))
		requirePaymentError(t, err, core.ReasonTransactionUsed)
	}
}

func TestProcessPayment_UnprefixedRefClaimsCanonicalHash(t *testing.T) {
	h := newHarness(t)
	tx := minedTransfer(t, 5000)
	h.svc.chain = chain.NewEthReader(nodeBackend{
		tx:      tx,
		receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(7)},
	})
	hash := strings.ToLower(tx.Hash().Hex())

	c := h.challenge(t, "r")
	_, err := h.svc.ProcessPayment(context.Background(), c.ID, txPayment(c.ID, hash[2:]))
	require.NoError(t, err)

	_, err = h.store.Get(context.Background(), txRefPrefix+hash)
	assert.NoError(t, err)
}

var errDiskFull = errors.New("disk full")

// faultyStore fails Set for keys with prefix a fixed number of times.
type faultyStore struct {
	*store.MemoryStore

	mu     sync.Mutex
	prefix string
	fails  int
}

func (s *faultyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	fail := s.fails > 0 && strings.HasPrefix(key, s.prefix)
	if fail {
		s.fails--
	}
	s.mu.Unlock()

	if fail {
		return errDiskFull
	}
	return s.MemoryStore.Set(ctx, key, value, ttl)
}

func TestProcessPayment_StoreFailureReleasesTransaction(t *testing.T) {
	h := newHarness(t)
	h.nativeTransfer(txRef, 5000)
	c := h.challenge(t, "r")
	h.svc.store = &faultyStore{MemoryStore: h.store, prefix: receiptPrefix, fails: 1}

	_, err := h.svc.ProcessPayment(context.Background(), c.ID, txPayment(c.ID, txRef))
	require.ErrorIs(t, err, errDiskFull)
	assert.NotErrorIs(t, err, core.ErrPaymentInvalid)

	_, err = h.store.Get(context.Background(), txRefKey(txRef))
	assert.ErrorIs(t, err, core.ErrNotFound, "transaction must stay usable")

	restored, err := h.svc.GetChallenge(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ResourceID, restored.ResourceID)

	receipt, err := h.svc.ProcessPayment(context.Background(), c.ID, txPayment(c.ID, txRef))
	require.NoError(t, err)
	assert.Equal(t, txRef, receipt.PaymentID)
}

func TestProcessPayment_TokenFailureLeavesNoReceipt(t *testing.T) {
	h := newHarness(t)
	h.nativeTransfer(txRef, 5000)
	c := h.challenge(t, "r")
	h.svc.store = &faultyStore{MemoryStore: h.store, prefix: tokenPrefix, fails: 1}

	_, err := h.svc.ProcessPayment(context.Background(), c.ID, txPayment(c.ID, txRef))
	require.ErrorIs(t, err, errDiskFull)

	var receipts int
	require.NoError(t, h.store.Iterate(context.Background(), receiptPrefix, func(string, []byte) bool {
		receipts++
		return true
	}))
	assert.Zero(t, receipts)

	_, err = h.store.Get(context.Background(), txRefKey(txRef))
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Empty(t, h.events.receipts)
}

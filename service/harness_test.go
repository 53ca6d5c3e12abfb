package service

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/paygate/adapters/signer"
	"github.com/layer-3/paygate/adapters/store"
	"github.com/layer-3/paygate/core"
	"github.com/layer-3/paygate/internal/eth"
	"github.com/layer-3/paygate/internal/logging"
	"github.com/stretchr/testify/require"
)

const (
	testRecipient = "0x00000000000000000000000000000000000000Aa"
	testToken     = "0x0000000000000000000000000000000000000Bb0"
	testChainID   = 1337
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeChain struct {
	mu       sync.Mutex
	txs      map[string]*core.ChainTransaction
	receipts map[string]*core.ChainReceipt
	err      error
	block    bool
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		txs:      make(map[string]*core.ChainTransaction),
		receipts: make(map[string]*core.ChainReceipt),
	}
}

func (f *fakeChain) add(ref string, tx *core.ChainTransaction, receipt *core.ChainReceipt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[ref] = tx
	if receipt != nil {
		f.receipts[ref] = receipt
	}
}

func (f *fakeChain) GetTransaction(ctx context.Context, ref string) (*core.ChainTransaction, error) {
	f.mu.Lock()
	block, err := f.block, f.err
	tx, ok := f.txs[ref]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.ErrTransactionNotFound
	}
	return tx, nil
}

func (f *fakeChain) GetTransactionReceipt(ctx context.Context, ref string) (*core.ChainReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[ref]
	if !ok {
		return nil, core.ErrTransactionNotFound
	}
	return r, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	receipts []*core.Receipt
	revoked  []string
}

func (p *recordingPublisher) PublishReceiptIssued(_ context.Context, r *core.Receipt) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receipts = append(p.receipts, r)
	return nil
}

func (p *recordingPublisher) PublishAccessRevoked(_ context.Context, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked = append(p.revoked, token)
	return nil
}

type harness struct {
	svc      *PaymentService
	store    *store.MemoryStore
	signer   *signer.KeySigner
	verifier *signer.EIP712Verifier
	chain    *fakeChain
	clock    *fakeClock
	events   *recordingPublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	h := &harness{
		store:    store.NewMemoryStore(),
		signer:   signer.NewKeySigner(key),
		verifier: signer.NewEIP712Verifier("paygate", "1", testChainID, ""),
		chain:    newFakeChain(),
		clock:    &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		events:   &recordingPublisher{},
	}

	h.svc = NewPaymentService(h.store, h.signer, h.verifier, Config{
		Recipient:      testRecipient,
		ChainID:        testChainID,
		ChallengeTTL:   300 * time.Second,
		AccessDuration: time.Hour,
		DefaultPrice:   big.NewInt(1000),
		Retention:      10 * time.Minute,
		ChainTimeout:   time.Second,
	},
		WithChainReader(h.chain),
		WithEventPublisher(h.events),
		WithClock(h.clock.Now),
		WithLogger(logging.Discard()),
	)
	return h
}

type payer struct {
	key     *ecdsa.PrivateKey
	address string
}

func newPayer(t *testing.T) payer {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return payer{key: key, address: crypto.PubkeyToAddress(key.PublicKey).Hex()}
}

// signedPayment builds a signature proof for challengeID signed by key on behalf of declared.
func (h *harness) signedPayment(t *testing.T, challengeID string, key *ecdsa.PrivateKey, declared string) core.Payment {
	t.Helper()
	ts := h.clock.Now().Unix()
	msg := eth.PaymentAuthorization(challengeID, common.HexToAddress(declared), ts)
	sig, err := eth.SignTypedData(h.verifier.Domain(), msg, key)
	require.NoError(t, err)

	return core.Payment{
		ChallengeID: challengeID,
		Payer:       declared,
		Timestamp:   ts,
		Proof:       core.Proof{Kind: core.MethodSignature, Signature: hexutil.Encode(sig)},
	}
}

func txPayment(challengeID, ref string) core.Payment {
	return core.Payment{
		ChallengeID: challengeID,
		Payer:       "0x00000000000000000000000000000000000000C1",
		Proof:       core.Proof{Kind: core.MethodTransaction, TxRef: ref},
	}
}

func (h *harness) challenge(t *testing.T, resourceID string) *core.Challenge {
	t.Helper()
	c, err := h.svc.CreateChallenge(context.Background(), resourceID, nil)
	require.NoError(t, err)
	return c
}

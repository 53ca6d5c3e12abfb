package http

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/paygate/adapters/signer"
	"github.com/layer-3/paygate/adapters/store"
	"github.com/layer-3/paygate/adapters/tokenizer"
	"github.com/layer-3/paygate/core"
	"github.com/layer-3/paygate/internal/eth"
	"github.com/layer-3/paygate/internal/logging"
	"github.com/layer-3/paygate/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testRecipient = "0x00000000000000000000000000000000000000Aa"

var reportDiscount = decimal.RequireFromString("0.15")

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	svc      *service.PaymentService
	verifier *signer.EIP712Verifier
	attestor *tokenizer.JWTTokenizer
	router   *gin.Engine
	payer    *ecdsa.PrivateKey
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	serverKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	payerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	attestKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	verifier := signer.NewEIP712Verifier("paygate", "1", 1, "")
	svc := service.NewPaymentService(store.NewMemoryStore(), signer.NewKeySigner(serverKey), verifier, service.Config{
		Recipient:      testRecipient,
		AccessDuration: time.Hour,
	}, service.WithLogger(logging.Discard()))
	require.NoError(t, svc.Pricing().Set(core.ResourcePricing{
		ResourceID:           "/api/report",
		Price:                big.NewInt(1_000_000),
		Decimals:             6,
		SubscriptionDiscount: &reportDiscount,
	}))

	ts := &testServer{
		svc:      svc,
		verifier: verifier,
		attestor: tokenizer.NewJWTTokenizer(attestKey, "paygate"),
		payer:    payerKey,
	}
	ts.router = SetupRouter(svc, RouterConfig{
		Attestor:  ts.attestor,
		Logger:    logging.Discard(),
		Protected: []string{"/api/*"},
		Excluded:  []string{"/api/public*"},
		Upstream: func(c *gin.Context) {
			resource := "public"
			if receipt, ok := GetReceipt(c); ok {
				resource = receipt.Metadata.ResourceID
			}
			c.JSON(http.StatusOK, gin.H{"served": resource})
		},
	})
	return ts
}

func (ts *testServer) payerAddress() string {
	return crypto.PubkeyToAddress(ts.payer.PublicKey).Hex()
}

func (ts *testServer) sign(t *testing.T, challengeID string, ts64 int64) string {
	t.Helper()
	msg := eth.PaymentAuthorization(challengeID, common.HexToAddress(ts.payerAddress()), ts64)
	sig, err := eth.SignTypedData(ts.verifier.Domain(), msg, ts.payer)
	require.NoError(t, err)
	return hexutil.Encode(sig)
}

func (ts *testServer) payment(t *testing.T, challengeID string) core.Payment {
	t.Helper()
	now := time.Now().Unix()
	return core.Payment{
		ChallengeID: challengeID,
		Payer:       ts.payerAddress(),
		Timestamp:   now,
		Proof:       core.Proof{Kind: core.MethodSignature, Signature: ts.sign(t, challengeID, now)},
	}
}

func (ts *testServer) challenge(t *testing.T, resource string) *core.Challenge {
	t.Helper()
	c, err := ts.svc.CreateChallenge(context.Background(), resource, nil)
	require.NoError(t, err)
	return c
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) get(path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return ts.do(req)
}

func (ts *testServer) postJSON(t *testing.T, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return ts.do(req)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/layer-3/paygate"
	"github.com/layer-3/paygate/core"
	"github.com/layer-3/paygate/internal/logging"
	"github.com/layer-3/paygate/ports"
)

// PaymentHandlers contains HTTP handlers for the x402 endpoints
type PaymentHandlers struct {
	gate     paygate.Gate
	attestor ports.Attestor
	logger   *slog.Logger
}

// NewPaymentHandlers creates new payment handlers. attestor may be nil.
func NewPaymentHandlers(gate paygate.Gate, attestor ports.Attestor, logger *slog.Logger) *PaymentHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentHandlers{
		gate:     gate,
		attestor: attestor,
		logger:   logger,
	}
}

// internalError hides err behind a trace id that is logged alongside it.
func internalError(c *gin.Context, logger *slog.Logger, err error) {
	traceID := uuid.NewString()
	logger.Error("internal error", "trace_id", traceID, "err", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"traceId": traceID,
	})
}

type paymentBody struct {
	Payer     string             `json:"payer"`
	Signature string             `json:"signature"`
	Timestamp int64              `json:"timestamp"`
	TxRef     string             `json:"txRef"`
	Kind      core.PaymentMethod `json:"kind"`
}

// proof picks the proof type: an explicit kind wins, otherwise a transaction
// reference takes precedence over a signature.
func (b paymentBody) proof() core.Proof {
	kind := b.Kind
	if kind == "" {
		switch {
		case b.TxRef != "":
			kind = core.MethodTransaction
		case b.Signature != "":
			kind = core.MethodSignature
		}
	}

	proof := core.Proof{Kind: kind}
	switch kind {
	case core.MethodTransaction:
		proof.TxRef = b.TxRef
	case core.MethodSignature:
		proof.Signature = b.Signature
	}
	return proof
}

// Pay handles a payment submitted outside of a protected request
func (h *PaymentHandlers) Pay(c *gin.Context) {
	var req struct {
		ChallengeID string       `json:"challengeId" binding:"required"`
		Payment     *paymentBody `json:"payment" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	ctx := c.Request.Context()
	logger := logging.RequestLogger(h.logger, c.Request)
	payment := core.Payment{
		ChallengeID: req.ChallengeID,
		Payer:       req.Payment.Payer,
		Timestamp:   req.Payment.Timestamp,
		Proof:       req.Payment.proof(),
	}

	receipt, err := h.gate.ProcessPayment(ctx, req.ChallengeID, payment)
	var paymentErr *core.PaymentError
	switch {
	case errors.As(err, &paymentErr):
		if paymentErr.Has(core.ReasonChallengeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": core.ReasonChallengeNotFound})
			return
		}
		challenge, err := h.payableChallenge(c, req.ChallengeID)
		if err != nil {
			internalError(c, logger, err)
			return
		}
		body := gin.H{
			"error":  "payment_invalid",
			"errors": paymentErr.Errors,
		}
		if challenge != nil {
			body["challenge"] = challenge
		}
		c.JSON(http.StatusPaymentRequired, body)
		return
	case err != nil:
		internalError(c, logger, err)
		return
	}

	c.Header(HeaderAccessToken, receipt.AccessToken)
	c.Header(HeaderReceiptID, receipt.ID)
	c.JSON(http.StatusOK, gin.H{
		"receipt": gin.H{
			"id":          receipt.ID,
			"accessToken": receipt.AccessToken,
			"expiresAt":   receipt.ExpiresAt.UTC().Format(time.RFC3339),
		},
	})
}

// payableChallenge returns the challenge a failed payment can be retried
// against: the original while it is live, otherwise a fresh one for the same
// resource.
func (h *PaymentHandlers) payableChallenge(c *gin.Context, challengeID string) (*core.Challenge, error) {
	ctx := c.Request.Context()
	challenge, err := h.gate.GetChallenge(ctx, challengeID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !challenge.Expired(time.Now()) {
		setChallengeHeaders(c, challenge)
		return challenge, nil
	}

	fresh, err := h.gate.CreateChallenge(ctx, challenge.ResourceID, nil)
	if err != nil {
		return nil, err
	}
	setChallengeHeaders(c, fresh)
	return fresh, nil
}

// Status reports whether the presented access token is valid
func (h *PaymentHandlers) Status(c *gin.Context) {
	result, err := h.gate.CheckAccess(c.Request.Context(), c.GetHeader(HeaderAccessToken))
	if err != nil {
		internalError(c, logging.RequestLogger(h.logger, c.Request), err)
		return
	}

	if !result.Granted {
		c.JSON(http.StatusOK, gin.H{
			"granted": false,
			"reason":  result.Reason,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"granted":    true,
		"ttl":        int64(result.TTL / time.Second),
		"resourceId": result.Receipt.Metadata.ResourceID,
	})
}

// Revoke invalidates the presented access token
func (h *PaymentHandlers) Revoke(c *gin.Context) {
	token := c.GetHeader(HeaderAccessToken)
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + HeaderAccessToken + " header"})
		return
	}

	if err := h.gate.RevokeAccess(c.Request.Context(), token); err != nil {
		internalError(c, logging.RequestLogger(h.logger, c.Request), err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

// Receipt returns a receipt and its signed attestation. The access token is
// never included.
func (h *PaymentHandlers) Receipt(c *gin.Context) {
	receipt, err := h.gate.GetReceipt(c.Request.Context(), c.Param("id"))
	if errors.Is(err, core.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "receipt not found"})
		return
	}
	if err != nil {
		internalError(c, logging.RequestLogger(h.logger, c.Request), err)
		return
	}

	public := *receipt
	public.AccessToken = ""
	body := gin.H{"receipt": public}

	if h.attestor != nil {
		attestation, err := h.attestor.ReceiptToToken(&public)
		if err != nil {
			internalError(c, logging.RequestLogger(h.logger, c.Request), err)
			return
		}
		body["attestation"] = attestation
	}

	c.JSON(http.StatusOK, body)
}

// Health reports liveness
func (h *PaymentHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

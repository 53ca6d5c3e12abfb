package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/paygate"
	"github.com/layer-3/paygate/core"
	"github.com/layer-3/paygate/internal/logging"
)

const (
	HeaderChallengeID      = "X-Challenge-Id"
	HeaderChallengeExpires = "X-Challenge-Expires"
	HeaderPaymentAmount    = "X-Payment-Amount"
	HeaderPaymentRecipient = "X-Payment-Recipient"
	HeaderAccessToken      = "X-Access-Token"
	HeaderReceiptID        = "X-Receipt-Id"
	HeaderPaymentProof     = "X-Payment-Proof"
)

// ReceiptKey is the gin context key holding the *core.Receipt of an allowed request.
const ReceiptKey = "paygate.receipt"

const accessDeniedMessage = "access token is not valid for this resource"

// ResourceResolver maps a request to the resource id it is priced under.
type ResourceResolver func(c *gin.Context) string

// PathResource prices every path as its own resource.
func PathResource(c *gin.Context) string {
	return c.Request.URL.Path
}

// MiddlewareConfig configures PaymentMiddleware.
type MiddlewareConfig struct {
	Routes  *RouteMatcher
	Resolve ResourceResolver
	Logger  *slog.Logger
}

// Instructions tell a client how to pay a challenge.
type Instructions struct {
	Header    string               `json:"header"`
	Encoding  string               `json:"encoding"`
	Methods   []core.PaymentMethod `json:"methods"`
	Amount    string               `json:"amount"`
	Currency  string               `json:"currency,omitempty"`
	PayTo     string               `json:"payTo"`
	ChainID   int64                `json:"chainId"`
	ExpiresIn int64                `json:"expiresIn"`

	DisplayAmount        string `json:"displayAmount,omitempty"`
	SubscriptionDiscount string `json:"subscriptionDiscount,omitempty"`
}

func instructionsFor(challenge *core.Challenge, now time.Time) Instructions {
	in := Instructions{
		Header:        HeaderPaymentProof,
		Encoding:      "base64(json)",
		Methods:       challenge.AcceptedMethods,
		Amount:        challenge.Amount.String(),
		Currency:      challenge.Currency,
		PayTo:         challenge.Recipient,
		ChainID:       challenge.ChainID,
		ExpiresIn:     int64(challenge.ExpiresAt.Sub(now).Seconds()),
		DisplayAmount: challenge.DisplayAmount,
	}
	if challenge.SubscriptionDiscount != nil {
		in.SubscriptionDiscount = challenge.SubscriptionDiscount.String()
	}
	return in
}

// PaymentMiddleware gates protected routes behind payment.
//
// A request carrying X-Payment-Proof is charged; on success the new access
// token is returned in X-Access-Token and the request proceeds. A request
// carrying a valid X-Access-Token for the resource proceeds. Everything else
// is answered with 402 and a fresh challenge.
func PaymentMiddleware(gate paygate.Gate, cfg MiddlewareConfig) gin.HandlerFunc {
	resolve := cfg.Resolve
	if resolve == nil {
		resolve = PathResource
	}
	base := cfg.Logger
	if base == nil {
		base = slog.Default()
	}

	return func(c *gin.Context) {
		if !cfg.Routes.Protected(c.Request.URL.Path) {
			c.Next()
			return
		}

		logger := logging.RequestLogger(base, c.Request)
		resource := resolve(c)
		ctx := c.Request.Context()

		if header := c.GetHeader(HeaderPaymentProof); header != "" {
			payment, err := DecodeProof(header)
			if err != nil {
				logger.Debug("malformed payment proof", "err", err)
				paymentRequired(c, gate, logger, resource, gin.H{"errors": []string{core.ReasonNoProof}})
				return
			}

			receipt, err := gate.ProcessPayment(ctx, payment.ChallengeID, payment)
			var paymentErr *core.PaymentError
			if errors.As(err, &paymentErr) {
				paymentRequired(c, gate, logger, resource, gin.H{"errors": paymentErr.Errors})
				return
			}
			if err != nil {
				internalError(c, logger, err)
				return
			}

			c.Header(HeaderAccessToken, receipt.AccessToken)
			c.Header(HeaderReceiptID, receipt.ID)
			if receipt.Metadata.ResourceID != resource {
				paymentRequired(c, gate, logger, resource, gin.H{"message": accessDeniedMessage})
				return
			}
			c.Set(ReceiptKey, receipt)
			c.Next()
			return
		}

		if token := c.GetHeader(HeaderAccessToken); token != "" {
			result, err := gate.CheckAccess(ctx, token)
			if err != nil {
				internalError(c, logger, err)
				return
			}
			if result.Granted && result.Receipt.Metadata.ResourceID == resource {
				c.Header(HeaderReceiptID, result.Receipt.ID)
				c.Set(ReceiptKey, result.Receipt)
				c.Next()
				return
			}
			logger.Debug("access denied", "reason", result.Reason)
			paymentRequired(c, gate, logger, resource, gin.H{"message": accessDeniedMessage})
			return
		}

		paymentRequired(c, gate, logger, resource, nil)
	}
}

// paymentRequired aborts with 402 and a brand-new challenge for resource.
func paymentRequired(c *gin.Context, gate paygate.Gate, logger *slog.Logger, resource string, extra gin.H) {
	challenge, err := gate.CreateChallenge(c.Request.Context(), resource, nil)
	if err != nil {
		internalError(c, logger, err)
		return
	}

	setChallengeHeaders(c, challenge)

	body := gin.H{
		"error":        "payment_required",
		"challenge":    challenge,
		"instructions": instructionsFor(challenge, time.Now()),
	}
	for k, v := range extra {
		body[k] = v
	}
	c.AbortWithStatusJSON(http.StatusPaymentRequired, body)
}

func setChallengeHeaders(c *gin.Context, challenge *core.Challenge) {
	c.Header(HeaderChallengeID, challenge.ID)
	c.Header(HeaderChallengeExpires, challenge.ExpiresAt.UTC().Format(time.RFC3339))
	c.Header(HeaderPaymentAmount, challenge.Amount.String())
	c.Header(HeaderPaymentRecipient, challenge.Recipient)
}

// GetReceipt returns the receipt PaymentMiddleware attached to an allowed request.
func GetReceipt(c *gin.Context) (*core.Receipt, bool) {
	v, ok := c.Get(ReceiptKey)
	if !ok {
		return nil, false
	}
	receipt, ok := v.(*core.Receipt)
	return receipt, ok
}

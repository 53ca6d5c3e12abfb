package tokenizer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/paygate/core"
	"github.com/layer-3/paygate/ports"
)

// AudienceReceipt scopes attestation tokens so they cannot be confused with other JWTs.
const AudienceReceipt = "paygate:receipt"

var _ ports.Attestor = (*JWTTokenizer)(nil)

// JWTTokenizer implements the Attestor interface using ES256 JWTs
type JWTTokenizer struct {
	signKey *ecdsa.PrivateKey
	issuer  string
}

// NewJWTTokenizer creates a new JWT tokenizer
func NewJWTTokenizer(signKey *ecdsa.PrivateKey, issuer string) *JWTTokenizer {
	return &JWTTokenizer{signKey: signKey, issuer: issuer}
}

// ReceiptToToken converts a Receipt to a signed JWT
func (j *JWTTokenizer) ReceiptToToken(receipt *core.Receipt) (string, error) {
	amount := ""
	if receipt.Metadata.Amount != nil {
		amount = receipt.Metadata.Amount.String()
	}

	claims := ReceiptClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   receipt.Metadata.Payer,
			ID:        receipt.ID,
			ExpiresAt: jwt.NewNumericDate(receipt.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(receipt.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceReceipt},
		},
		ChallengeID: receipt.ChallengeID,
		PaymentID:   receipt.PaymentID,
		ResourceID:  receipt.Metadata.ResourceID,
		Amount:      amount,
		Currency:    receipt.Metadata.Currency,
		Signature:   receipt.Signature,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign receipt token: %w", err)
	}

	return signedToken, nil
}

// TokenToReceipt verifies a JWT and rebuilds the receipt it attests, minus the access token
func (j *JWTTokenizer) TokenToReceipt(tokenStr string) (*core.Receipt, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &ReceiptClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return &j.signKey.PublicKey, nil
	}, jwt.WithAudience(AudienceReceipt), jwt.WithIssuer(j.issuer))
	if err != nil {
		return nil, fmt.Errorf("failed to parse receipt token: %w", err)
	}

	claims, ok := token.Claims.(*ReceiptClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid receipt token claims")
	}

	receipt := &core.Receipt{
		ID:          claims.ID,
		ChallengeID: claims.ChallengeID,
		PaymentID:   claims.PaymentID,
		Signature:   claims.Signature,
		Metadata: core.ReceiptMetadata{
			ResourceID: claims.ResourceID,
			Payer:      claims.Subject,
			Currency:   claims.Currency,
		},
	}
	if claims.IssuedAt != nil {
		receipt.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		receipt.ExpiresAt = claims.ExpiresAt.Time
	}
	if claims.Amount != "" {
		amount, ok := new(big.Int).SetString(claims.Amount, 10)
		if !ok {
			return nil, fmt.Errorf("invalid amount claim %q", claims.Amount)
		}
		receipt.Metadata.Amount = amount
	}

	return receipt, nil
}

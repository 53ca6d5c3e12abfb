package tokenizer

import "github.com/golang-jwt/jwt/v5"

// ReceiptClaims carry a receipt snapshot. The subject is the payer and the
// JWT id is the receipt id. The access token itself is never embedded.
type ReceiptClaims struct {
	jwt.RegisteredClaims
	ChallengeID string `json:"cid"`
	PaymentID   string `json:"pid"`
	ResourceID  string `json:"res"`
	Amount      string `json:"amt"`
	Currency    string `json:"cur,omitempty"`
	Signature   string `json:"sig,omitempty"`
}

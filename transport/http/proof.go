package http

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/layer-3/paygate/core"
)

// EncodeProof renders a payment for the X-Payment-Proof header.
func EncodeProof(payment core.Payment) (string, error) {
	data, err := json.Marshal(payment)
	if err != nil {
		return "", fmt.Errorf("failed to encode payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeProof parses an X-Payment-Proof header: base64 of the JSON payment,
// whose proof.kind selects the proof type.
func DecodeProof(header string) (core.Payment, error) {
	var payment core.Payment

	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return payment, fmt.Errorf("%w: not base64: %v", core.ErrInvalidProof, err)
	}
	if err := json.Unmarshal(data, &payment); err != nil {
		return payment, fmt.Errorf("%w: %v", core.ErrInvalidProof, err)
	}
	if payment.ChallengeID == "" {
		return payment, fmt.Errorf("%w: missing challengeId", core.ErrInvalidProof)
	}
	return payment, nil
}

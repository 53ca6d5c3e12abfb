package events

import (
	"github.com/ethereum/go-ethereum/crypto"
)

// TokenHash identifies an access token in logs and events without revealing it.
func TokenHash(accessToken string) string {
	return crypto.Keccak256Hash([]byte(accessToken)).Hex()
}

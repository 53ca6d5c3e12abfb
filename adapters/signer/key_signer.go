package signer

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/paygate/core"
	"github.com/layer-3/paygate/ports"
)

var _ ports.Signer = (*KeySigner)(nil)

// KeySigner signs digests with a local secp256k1 key.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address string
}

// NewKeySigner wraps an existing private key.
func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}
}

// NewKeySignerFromHex parses a hex private key, with or without 0x.
func NewKeySignerFromHex(hexKey string) (*KeySigner, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, fmt.Errorf("%w: signing key is empty", core.ErrConfiguration)
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid signing key: %v", core.ErrConfiguration, err)
	}
	return NewKeySigner(key), nil
}

// Address is the checksummed address of the signing key.
func (s *KeySigner) Address() string {
	return s.address
}

// Sign returns a 65-byte [R || S || V] signature with V in {0, 1}.
func (s *KeySigner) Sign(digest []byte) ([]byte, error) {
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}
	return sig, nil
}

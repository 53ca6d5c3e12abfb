package ports

// Signer is the server's signing key.
type Signer interface {
	// Address is the hex address of the key.
	Address() string
	// Sign signs a 32-byte digest.
	Sign(digest []byte) ([]byte, error)
}

// AuthorizationVerifier recovers who signed a payment authorization.
type AuthorizationVerifier interface {
	RecoverPayer(challengeID, payer string, timestamp int64, signature string) (string, error)
}

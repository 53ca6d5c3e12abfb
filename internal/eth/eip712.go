// Package eth holds the EIP-712 and secp256k1 helpers shared by the payment
// validator and the receipt signer.
package eth

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// ErrMalformedSignature is returned for signatures that are not 65-byte [R || S || V].
var ErrMalformedSignature = errors.New("malformed signature")

// PaymentAuthorizationType is the primary type payers sign instead of sending a transfer.
const PaymentAuthorizationType = "PaymentAuthorization"

// EIP712Domain separates paygate signatures from every other typed-data signature.
type EIP712Domain struct {
	Name    string
	Version string
	ChainID *big.Int
	// VerifyingContract is left out of the domain when zero.
	VerifyingContract common.Address
}

func (d EIP712Domain) types() []apitypes.Type {
	types := []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
	}
	if d.VerifyingContract != (common.Address{}) {
		types = append(types, apitypes.Type{Name: "verifyingContract", Type: "address"})
	}
	return types
}

func (d EIP712Domain) typedDataDomain() apitypes.TypedDataDomain {
	domain := apitypes.TypedDataDomain{
		Name:    d.Name,
		Version: d.Version,
		ChainId: (*math.HexOrDecimal256)(new(big.Int).Set(d.ChainID)),
	}
	if d.VerifyingContract != (common.Address{}) {
		domain.VerifyingContract = d.VerifyingContract.Hex()
	}
	return domain
}

// TypedMessage is a single struct to be signed under a domain.
type TypedMessage struct {
	PrimaryType string
	Fields      []apitypes.Type
	Values      apitypes.TypedDataMessage
}

// PaymentAuthorization is the canonical {challengeId, payer, timestamp} message.
func PaymentAuthorization(challengeID string, payer common.Address, timestamp int64) TypedMessage {
	return TypedMessage{
		PrimaryType: PaymentAuthorizationType,
		Fields: []apitypes.Type{
			{Name: "challengeId", Type: "string"},
			{Name: "payer", Type: "address"},
			{Name: "timestamp", Type: "uint256"},
		},
		Values: apitypes.TypedDataMessage{
			"challengeId": challengeID,
			"payer":       payer.Hex(),
			"timestamp":   big.NewInt(timestamp).String(),
		},
	}
}

// HashTypedData returns the EIP-712 digest of msg under domain.
func HashTypedData(domain EIP712Domain, msg TypedMessage) ([]byte, error) {
	if domain.ChainID == nil {
		return nil, errors.New("eip712 domain requires a chain id")
	}
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain":  domain.types(),
			msg.PrimaryType: msg.Fields,
		},
		PrimaryType: msg.PrimaryType,
		Domain:      domain.typedDataDomain(),
		Message:     msg.Values,
	}
	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return hash, nil
}

// SignTypedData signs msg with key, producing a wallet-style signature with V in {27, 28}.
func SignTypedData(domain EIP712Domain, msg TypedMessage, key *ecdsa.PrivateKey) ([]byte, error) {
	hash, err := HashTypedData(domain, msg)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverSigner returns the address that produced sig over msg.
func RecoverSigner(domain EIP712Domain, msg TypedMessage, sig []byte) (common.Address, error) {
	hash, err := HashTypedData(domain, msg)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverDigestSigner(hash, sig)
}

// RecoverDigestSigner recovers the signer of a 32-byte digest. V may be 0/1 or 27/28.
func RecoverDigestSigner(digest, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: want %d bytes, got %d", ErrMalformedSignature, crypto.SignatureLength, len(sig))
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	if normalized[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("%w: bad recovery id", ErrMalformedSignature)
	}
	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// ReceiptDigest is the keccak256 digest the server signs for every receipt.
func ReceiptDigest(receiptID, accessToken string, expiresAt int64) []byte {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(expiresAt))
	return crypto.Keccak256([]byte(receiptID), []byte(accessToken), ts[:])
}

package signer

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/layer-3/paygate/core"
	"github.com/layer-3/paygate/internal/eth"
	"github.com/layer-3/paygate/ports"
)

var _ ports.AuthorizationVerifier = (*EIP712Verifier)(nil)

// EIP712Verifier recovers the signer of a PaymentAuthorization under a fixed domain.
type EIP712Verifier struct {
	domain eth.EIP712Domain
}

// NewEIP712Verifier creates a verifier. contract may be empty.
func NewEIP712Verifier(name, version string, chainID int64, contract string) *EIP712Verifier {
	domain := eth.EIP712Domain{
		Name:    name,
		Version: version,
		ChainID: big.NewInt(chainID),
	}
	if contract != "" {
		domain.VerifyingContract = common.HexToAddress(contract)
	}
	return &EIP712Verifier{domain: domain}
}

// Domain returns the domain signatures are checked against.
func (v *EIP712Verifier) Domain() eth.EIP712Domain {
	return v.domain
}

// RecoverPayer returns the checksummed address that signed the authorization.
func (v *EIP712Verifier) RecoverPayer(challengeID, payer string, timestamp int64, signature string) (string, error) {
	if !common.IsHexAddress(payer) {
		return "", fmt.Errorf("%w: payer %q is not an address", core.ErrInvalidSignature, payer)
	}
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return "", fmt.Errorf("failed to decode signature: %w", core.ErrInvalidSignature)
	}

	msg := eth.PaymentAuthorization(challengeID, common.HexToAddress(payer), timestamp)
	signer, err := eth.RecoverSigner(v.domain, msg, sig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrInvalidSignature, err)
	}
	return signer.Hex(), nil
}

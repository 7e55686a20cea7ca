package client

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"x402-go/mechanisms/evm"
	"x402-go/types"
)

// ExactEvmSchemeV1 implements the SchemeNetworkClientV1 interface for EVM
// exact payments on the legacy v1 protocol. V1 only supports the EIP-3009
// flow; the authorization is signed against the token contract.
type ExactEvmSchemeV1 struct {
	signer evm.ClientEvmSigner
}

// NewExactEvmSchemeV1 creates a new v1 EVM client scheme
func NewExactEvmSchemeV1(signer evm.ClientEvmSigner) *ExactEvmSchemeV1 {
	return &ExactEvmSchemeV1{
		signer: signer,
	}
}

// Scheme returns the scheme identifier
func (c *ExactEvmSchemeV1) Scheme() string {
	return evm.SchemeExact
}

// CreatePaymentPayload creates a v1 payment payload for the exact scheme
func (c *ExactEvmSchemeV1) CreatePaymentPayload(
	ctx context.Context,
	requirements types.PaymentRequirementsV1,
) (types.PaymentPayloadV1, error) {
	networkStr := requirements.Network

	config, err := evm.GetNetworkConfig(networkStr)
	if err != nil {
		return types.PaymentPayloadV1{}, err
	}

	assetInfo, err := evm.GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return types.PaymentPayloadV1{}, err
	}

	value, ok := new(big.Int).SetString(requirements.MaxAmountRequired, 10)
	if !ok {
		return types.PaymentPayloadV1{}, fmt.Errorf("invalid maxAmountRequired: %s", requirements.MaxAmountRequired)
	}

	nonce, err := evm.CreateNonce()
	if err != nil {
		return types.PaymentPayloadV1{}, err
	}

	// V1 specific: generous 10 minute backdating buffer on validAfter,
	// validBefore driven by the advertised timeout.
	timeout := requirements.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = evm.DefaultValidityPeriod
	}
	now := time.Now().Unix()
	validAfter := big.NewInt(now - 600)
	validBefore := big.NewInt(now + int64(timeout))

	// Extract EIP-712 domain overrides from requirements extra
	tokenName := assetInfo.Name
	tokenVersion := assetInfo.Version
	if extra := requirements.ExtraMap(); extra != nil {
		if name, ok := extra["name"].(string); ok {
			tokenName = name
		}
		if ver, ok := extra["version"].(string); ok {
			tokenVersion = ver
		}
	}

	authorization := evm.ExactEIP3009Authorization{
		From:        c.signer.Address(),
		To:          requirements.PayTo,
		Value:       value.String(),
		ValidAfter:  validAfter.String(),
		ValidBefore: validBefore.String(),
		Nonce:       nonce,
	}

	signature, err := c.signAuthorization(ctx, authorization, config.ChainID, assetInfo.Address, tokenName, tokenVersion)
	if err != nil {
		return types.PaymentPayloadV1{}, fmt.Errorf("failed to sign authorization: %w", err)
	}

	evmPayload := &evm.ExactEIP3009Payload{
		Signature:     "0x" + hex.EncodeToString(signature),
		Authorization: authorization,
	}

	return types.PaymentPayloadV1{
		X402Version: 1,
		Payload:     evmPayload.ToMap(),
	}, nil
}

// signAuthorization signs the EIP-3009 authorization using EIP-712
func (c *ExactEvmSchemeV1) signAuthorization(
	ctx context.Context,
	authorization evm.ExactEIP3009Authorization,
	chainID *big.Int,
	verifyingContract string,
	tokenName string,
	tokenVersion string,
) ([]byte, error) {
	domain := evm.TypedDataDomain{
		Name:              tokenName,
		Version:           tokenVersion,
		ChainID:           chainID,
		VerifyingContract: verifyingContract,
	}

	types := map[string][]evm.TypedDataField{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		"TransferWithAuthorization": {
			{Name: "from", Type: "address"},
			{Name: "to", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "validAfter", Type: "uint256"},
			{Name: "validBefore", Type: "uint256"},
			{Name: "nonce", Type: "bytes32"},
		},
	}

	value, _ := new(big.Int).SetString(authorization.Value, 10)
	validAfter, _ := new(big.Int).SetString(authorization.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(authorization.ValidBefore, 10)
	nonceBytes, _ := evm.HexToBytes(authorization.Nonce)

	message := map[string]interface{}{
		"from":        authorization.From,
		"to":          authorization.To,
		"value":       value,
		"validAfter":  validAfter,
		"validBefore": validBefore,
		"nonce":       nonceBytes,
	}

	return c.signer.SignTypedData(ctx, domain, types, "TransferWithAuthorization", message)
}

package client

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"x402-go/mechanisms/evm"
	"x402-go/types"

	"github.com/ethereum/go-ethereum/common"
)

// ExactEvmScheme is the v2 client side of the exact scheme on EVM
// networks. Tokens with EIP-3009 get a gasless signed authorization;
// tokens without it fall back to an approve-plus-facilitator flow.
type ExactEvmScheme struct {
	signer evm.ClientEvmSigner
}

// NewExactEvmScheme creates a new ExactEvmScheme
func NewExactEvmScheme(signer evm.ClientEvmSigner) *ExactEvmScheme {
	return &ExactEvmScheme{signer: signer}
}

// Scheme returns the scheme identifier
func (c *ExactEvmScheme) Scheme() string {
	return evm.SchemeExact
}

// CreatePaymentPayload signs an authorization for the requirements and
// wraps it in a v2 payload core.
func (c *ExactEvmScheme) CreatePaymentPayload(
	ctx context.Context,
	requirements types.PaymentRequirements,
) (types.PaymentPayload, error) {
	networkStr := string(requirements.Network)
	if !evm.IsValidNetwork(networkStr) {
		return types.PaymentPayload{}, fmt.Errorf("unsupported network: %s", requirements.Network)
	}
	config, err := evm.GetNetworkConfig(networkStr)
	if err != nil {
		return types.PaymentPayload{}, err
	}
	assetInfo, err := evm.GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return types.PaymentPayload{}, err
	}

	// Amount arrives already in atomic units.
	value, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return types.PaymentPayload{}, fmt.Errorf("invalid amount: %s", requirements.Amount)
	}

	nonce, err := evm.CreateNonce()
	if err != nil {
		return types.PaymentPayload{}, err
	}
	validAfter, validBefore := evm.CreateValidityWindow(time.Hour)

	// Requirements.Extra may override the token's signing domain.
	tokenName := assetInfo.Name
	tokenVersion := assetInfo.Version
	if requirements.Extra != nil {
		if name, ok := requirements.Extra["name"].(string); ok {
			tokenName = name
		}
		if ver, ok := requirements.Extra["version"].(string); ok {
			tokenVersion = ver
		}
	}

	// Prefer the gasless EIP-3009 flow. When the static config doesn't
	// claim support, probe the contract; a failed probe (offline
	// signer, no RPC) falls back to the universal ERC-20 flow.
	supportsEIP3009 := assetInfo.SupportsEIP3009
	if !supportsEIP3009 {
		if supported, err := evm.VerifyEIP3009Support(ctx, c.signer, config.ChainID, c.signer.Address(), assetInfo.Address); err == nil && supported {
			supportsEIP3009 = true
		}
	}

	if supportsEIP3009 {
		return c.createEIP3009Payload(ctx, requirements, value, nonce, validAfter, validBefore, config.ChainID, assetInfo.Address, tokenName, tokenVersion)
	}
	return c.createERC20Payload(ctx, requirements, value, nonce, validAfter, validBefore, config.ChainID, assetInfo.Address)
}

func (c *ExactEvmScheme) createEIP3009Payload(
	ctx context.Context,
	requirements types.PaymentRequirements,
	value *big.Int,
	nonce string,
	validAfter, validBefore *big.Int,
	chainID *big.Int,
	tokenAddress, tokenName, tokenVersion string,
) (types.PaymentPayload, error) {
	authorization := evm.ExactEIP3009Authorization{
		From:        c.signer.Address(),
		To:          requirements.PayTo,
		Value:       value.String(),
		ValidAfter:  validAfter.String(),
		ValidBefore: validBefore.String(),
		Nonce:       nonce,
	}

	signature, err := c.signAuthorizationEIP3009(ctx, authorization, chainID, tokenAddress, tokenName, tokenVersion)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to sign authorization: %w", err)
	}

	evmPayload := &evm.ExactEIP3009Payload{
		Signature:     "0x" + hex.EncodeToString(signature),
		Authorization: authorization,
	}
	payloadMap := evmPayload.ToMap()
	payloadMap["type"] = "authorizationEip3009"

	return types.PaymentPayload{
		X402Version: 2,
		Payload:     payloadMap,
	}, nil
}

func (c *ExactEvmScheme) createERC20Payload(
	ctx context.Context,
	requirements types.PaymentRequirements,
	value *big.Int,
	nonce string,
	validAfter, validBefore *big.Int,
	chainID *big.Int,
	tokenAddress string,
) (types.PaymentPayload, error) {
	// The facilitator contract pulls the tokens, so it needs allowance
	// covering this payment before the authorization is any good.
	allowanceRes, err := c.signer.ReadContract(
		ctx,
		tokenAddress,
		evm.ERC20ABI,
		"allowance",
		common.HexToAddress(c.signer.Address()),
		common.HexToAddress(evm.FacilitatorContractAddress),
	)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to check allowance: %w", err)
	}
	allowance, ok := allowanceRes.(*big.Int)
	if !ok {
		return types.PaymentPayload{}, fmt.Errorf("invalid allowance type returned: %T", allowanceRes)
	}

	if allowance.Cmp(value) < 0 {
		txHash, err := c.signer.WriteContract(
			ctx,
			tokenAddress,
			evm.ERC20ABI,
			"approve",
			common.HexToAddress(evm.FacilitatorContractAddress),
			value,
		)
		if err != nil {
			return types.PaymentPayload{}, fmt.Errorf("failed to send approve transaction: %w", err)
		}
		receipt, err := c.signer.WaitForTransactionReceipt(ctx, txHash)
		if err != nil {
			return types.PaymentPayload{}, fmt.Errorf("failed to wait for approve receipt: %w", err)
		}
		if receipt.Status == 0 {
			return types.PaymentPayload{}, fmt.Errorf("approve transaction failed")
		}
	}

	authorization := evm.ExactERC20Authorization{
		Token:       tokenAddress,
		From:        c.signer.Address(),
		To:          requirements.PayTo,
		Value:       value.String(),
		ValidAfter:  validAfter.String(),
		ValidBefore: validBefore.String(),
		Nonce:       nonce,
		NeedApprove: true,
	}

	signature, err := c.signAuthorizationERC20(ctx, authorization, chainID, evm.FacilitatorContractAddress)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to sign authorization: %w", err)
	}

	evmPayload := &evm.ExactERC20Payload{
		Signature:     "0x" + hex.EncodeToString(signature),
		Authorization: authorization,
	}
	payloadMap := evmPayload.ToMap()
	payloadMap["type"] = "authorization"

	return types.PaymentPayload{
		X402Version: 2,
		Payload:     payloadMap,
	}, nil
}

// signAuthorizationEIP3009 signs a TransferWithAuthorization tuple in the
// token contract's EIP-712 domain.
func (c *ExactEvmScheme) signAuthorizationEIP3009(
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

// signAuthorizationERC20 signs a tokenTransferWithAuthorization tuple in
// the facilitator contract's domain (name "Facilitator", version "1").
func (c *ExactEvmScheme) signAuthorizationERC20(
	ctx context.Context,
	authorization evm.ExactERC20Authorization,
	chainID *big.Int,
	verifyingContract string,
) ([]byte, error) {
	domain := evm.TypedDataDomain{
		Name:              "Facilitator",
		Version:           "1",
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
		"tokenTransferWithAuthorization": {
			{Name: "token", Type: "address"},
			{Name: "from", Type: "address"},
			{Name: "to", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "validAfter", Type: "uint256"},
			{Name: "validBefore", Type: "uint256"},
			{Name: "nonce", Type: "bytes32"},
			{Name: "needApprove", Type: "bool"},
		},
	}

	value, _ := new(big.Int).SetString(authorization.Value, 10)
	validAfter, _ := new(big.Int).SetString(authorization.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(authorization.ValidBefore, 10)
	nonceBytes, _ := evm.HexToBytes(authorization.Nonce)

	message := map[string]interface{}{
		"token":       authorization.Token,
		"from":        authorization.From,
		"to":          authorization.To,
		"value":       value,
		"validAfter":  validAfter,
		"validBefore": validBefore,
		"nonce":       nonceBytes,
		"needApprove": authorization.NeedApprove,
	}

	return c.signer.SignTypedData(ctx, domain, types, "tokenTransferWithAuthorization", message)
}

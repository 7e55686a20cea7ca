package facilitator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	x402 "x402-go"
	"x402-go/mechanisms/evm"
	"x402-go/types"
)

// ExactEvmSchemeV1Config holds configuration for the v1 EVM facilitator
type ExactEvmSchemeV1Config struct {
	// DeployERC4337WithEIP6492 enables automatic deployment of ERC-4337 smart wallets
	// via EIP-6492 when encountering undeployed contract signatures during settlement
	DeployERC4337WithEIP6492 bool
}

// ExactEvmSchemeV1 implements the SchemeNetworkFacilitatorV1 interface for
// EVM exact payments on the legacy v1 protocol. V1 payloads are always
// EIP-3009 authorizations signed against the token contract, so settlement
// calls transferWithAuthorization on the token directly.
type ExactEvmSchemeV1 struct {
	signer evm.FacilitatorEvmSigner
	config ExactEvmSchemeV1Config
}

// NewExactEvmSchemeV1 creates a new v1 EVM facilitator scheme
func NewExactEvmSchemeV1(signer evm.FacilitatorEvmSigner, config *ExactEvmSchemeV1Config) *ExactEvmSchemeV1 {
	cfg := ExactEvmSchemeV1Config{}
	if config != nil {
		cfg = *config
	}
	return &ExactEvmSchemeV1{
		signer: signer,
		config: cfg,
	}
}

// Scheme returns the scheme identifier
func (f *ExactEvmSchemeV1) Scheme() string {
	return evm.SchemeExact
}

// CaipFamily returns the CAIP family pattern this facilitator supports
func (f *ExactEvmSchemeV1) CaipFamily() string {
	return "eip155:*"
}

// GetExtra returns mechanism-specific extra data for the supported kinds endpoint
func (f *ExactEvmSchemeV1) GetExtra(_ x402.Network) map[string]interface{} {
	return nil
}

// GetSigners returns signer addresses used by this facilitator
func (f *ExactEvmSchemeV1) GetSigners(_ x402.Network) []string {
	return f.signer.GetAddresses()
}

// Verify verifies a v1 payment payload against requirements
func (f *ExactEvmSchemeV1) Verify(
	ctx context.Context,
	payload types.PaymentPayloadV1,
	requirements types.PaymentRequirementsV1,
) (*x402.VerifyResponse, error) {
	network := x402.Network(requirements.Network)

	// V1 carries scheme and network at the payload top level
	if payload.Scheme != evm.SchemeExact {
		return nil, x402.NewVerifyError("invalid_scheme", "", network, nil)
	}
	if payload.Network != requirements.Network {
		return nil, x402.NewVerifyError("network_mismatch", "", network, nil)
	}

	config, err := evm.GetNetworkConfig(requirements.Network)
	if err != nil {
		return nil, x402.NewVerifyError("failed_to_get_network_config", "", network, err)
	}

	assetInfo, err := evm.GetAssetInfo(requirements.Network, requirements.Asset)
	if err != nil {
		return nil, x402.NewVerifyError("failed_to_get_asset_info", "", network, err)
	}

	evmPayload, err := evm.PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, x402.NewVerifyError("invalid_payload", "", network, err)
	}

	if evmPayload.Signature == "" {
		return nil, x402.NewVerifyError("missing_signature", "", network, nil)
	}

	if !strings.EqualFold(evmPayload.Authorization.To, requirements.PayTo) {
		return nil, x402.NewVerifyError("recipient_mismatch", "", network, nil)
	}

	authValue, ok := new(big.Int).SetString(evmPayload.Authorization.Value, 10)
	if !ok {
		return nil, x402.NewVerifyError("invalid_authorization_value", "", network, nil)
	}

	requiredValue, ok := new(big.Int).SetString(requirements.MaxAmountRequired, 10)
	if !ok {
		return nil, x402.NewVerifyError("invalid_required_amount", "", network, fmt.Errorf("invalid maxAmountRequired: %s", requirements.MaxAmountRequired))
	}

	if authValue.Cmp(requiredValue) < 0 {
		return nil, x402.NewVerifyError("insufficient_amount", evmPayload.Authorization.From, network, nil)
	}

	// Authorization window, with settlement headroom on validBefore
	now := time.Now().Unix()
	validAfter, okAfter := new(big.Int).SetString(evmPayload.Authorization.ValidAfter, 10)
	validBefore, okBefore := new(big.Int).SetString(evmPayload.Authorization.ValidBefore, 10)
	if !okAfter || !okBefore {
		return nil, x402.NewVerifyError("invalid_authorization_window", evmPayload.Authorization.From, network, nil)
	}
	if validBefore.Cmp(big.NewInt(now+evm.SettleHeadroomSeconds)) < 0 {
		return nil, x402.NewVerifyError("valid_before_expired", evmPayload.Authorization.From, network, nil)
	}
	if validAfter.Cmp(big.NewInt(now)) > 0 {
		return nil, x402.NewVerifyError("valid_after_in_future", evmPayload.Authorization.From, network, nil)
	}

	nonce, err := evm.HexToNonce(evmPayload.Authorization.Nonce)
	if err != nil {
		return nil, x402.NewVerifyError("invalid_payload", evmPayload.Authorization.From, network, err)
	}

	// Nonce replay check; a lookup failure is non-fatal
	if used, err := f.checkNonceUsed(ctx, evmPayload.Authorization.From, nonce, assetInfo.Address); err == nil && used {
		return nil, x402.NewVerifyError("nonce_already_used", evmPayload.Authorization.From, network, nil)
	}

	// Balance check, likewise non-fatal on lookup failure
	if balance, err := f.signer.GetBalance(ctx, evmPayload.Authorization.From, assetInfo.Address); err == nil && balance != nil {
		if balance.Cmp(authValue) < 0 {
			return nil, x402.NewVerifyError("insufficient_balance", evmPayload.Authorization.From, network, nil)
		}
	}

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

	signatureBytes, err := evm.HexToBytes(evmPayload.Signature)
	if err != nil {
		return nil, x402.NewVerifyError("invalid_signature_format", evmPayload.Authorization.From, network, err)
	}

	hash, err := evm.HashEIP3009Authorization(
		evmPayload.Authorization,
		config.ChainID,
		assetInfo.Address,
		tokenName,
		tokenVersion,
	)
	if err != nil {
		return nil, x402.NewVerifyError("failed_to_hash_authorization", evmPayload.Authorization.From, network, err)
	}
	var hash32 [32]byte
	copy(hash32[:], hash)

	valid, _, err := evm.VerifyUniversalSignature(
		ctx,
		f.signer,
		evmPayload.Authorization.From,
		hash32,
		signatureBytes,
		true,
	)
	if err != nil {
		return nil, x402.NewVerifyError("failed_to_verify_signature", evmPayload.Authorization.From, network, err)
	}
	if !valid {
		return nil, x402.NewVerifyError("invalid_signature", evmPayload.Authorization.From, network, nil)
	}

	return &x402.VerifyResponse{
		IsValid: true,
		Payer:   evmPayload.Authorization.From,
	}, nil
}

// Settle settles a v1 payment on-chain via transferWithAuthorization
func (f *ExactEvmSchemeV1) Settle(
	ctx context.Context,
	payload types.PaymentPayloadV1,
	requirements types.PaymentRequirementsV1,
) (*x402.SettleResponse, error) {
	network := x402.Network(requirements.Network)

	verifyResp, err := f.Verify(ctx, payload, requirements)
	if err != nil {
		ve := &x402.VerifyError{}
		if errors.As(err, &ve) {
			return nil, x402.NewSettleError(ve.Reason, ve.Payer, ve.Network, "", ve.Err)
		}
		return nil, x402.NewSettleError("verification_failed", "", network, "", err)
	}

	assetInfo, err := evm.GetAssetInfo(requirements.Network, requirements.Asset)
	if err != nil {
		return nil, x402.NewSettleError("failed_to_get_asset_info", verifyResp.Payer, network, "", err)
	}

	evmPayload, err := evm.PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, x402.NewSettleError("invalid_payload", verifyResp.Payer, network, "", err)
	}

	signatureBytes, err := evm.HexToBytes(evmPayload.Signature)
	if err != nil {
		return nil, x402.NewSettleError("invalid_signature_format", verifyResp.Payer, network, "", err)
	}

	sigData, err := evm.ParseERC6492Signature(signatureBytes)
	if err != nil {
		return nil, x402.NewSettleError("failed_to_parse_signature", verifyResp.Payer, network, "", err)
	}

	// Deploy undeployed smart wallets when the signature carries factory data
	zeroFactory := [20]byte{}
	if sigData.Factory != zeroFactory && len(sigData.FactoryCalldata) > 0 {
		code, err := f.signer.GetCode(ctx, evmPayload.Authorization.From)
		if err != nil {
			return nil, x402.NewSettleError("failed_to_check_deployment", verifyResp.Payer, network, "", err)
		}
		if len(code) == 0 {
			if !f.config.DeployERC4337WithEIP6492 {
				return nil, x402.NewSettleError(evm.ErrUndeployedSmartWallet, verifyResp.Payer, network, "", nil)
			}
			if err := f.deploySmartWallet(ctx, sigData); err != nil {
				return nil, x402.NewSettleError(evm.ErrSmartWalletDeploymentFailed, verifyResp.Payer, network, "", err)
			}
		}
	}

	value, _ := new(big.Int).SetString(evmPayload.Authorization.Value, 10)
	validAfter, _ := new(big.Int).SetString(evmPayload.Authorization.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(evmPayload.Authorization.ValidBefore, 10)
	nonce, err := evm.HexToNonce(evmPayload.Authorization.Nonce)
	if err != nil {
		return nil, x402.NewSettleError("invalid_payload", verifyResp.Payer, network, "", err)
	}

	// 65-byte ECDSA signatures use the (v, r, s) overload; smart wallet
	// signatures go through the bytes overload.
	var txHash string
	innerSig := sigData.InnerSignature
	if len(innerSig) == 65 {
		var r, s [32]byte
		copy(r[:], innerSig[0:32])
		copy(s[:], innerSig[32:64])
		txHash, err = f.signer.WriteContract(
			ctx,
			assetInfo.Address,
			evm.TransferWithAuthorizationVRSABI,
			evm.FunctionTransferWithAuthorization,
			common.HexToAddress(evmPayload.Authorization.From),
			common.HexToAddress(requirements.PayTo),
			value,
			validAfter,
			validBefore,
			nonce,
			innerSig[64],
			r,
			s,
		)
	} else {
		txHash, err = f.signer.WriteContract(
			ctx,
			assetInfo.Address,
			evm.TransferWithAuthorizationBytesABI,
			evm.FunctionTransferWithAuthorization,
			common.HexToAddress(evmPayload.Authorization.From),
			common.HexToAddress(requirements.PayTo),
			value,
			validAfter,
			validBefore,
			nonce,
			innerSig,
		)
	}
	if err != nil {
		return nil, x402.NewSettleError("failed_to_execute_transfer", verifyResp.Payer, network, "", err)
	}

	receipt, err := f.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, x402.NewSettleError("failed_to_get_receipt", verifyResp.Payer, network, txHash, err)
	}

	if receipt.Status != evm.TxStatusSuccess {
		return nil, x402.NewSettleError("transaction_failed", verifyResp.Payer, network, txHash, nil)
	}

	return &x402.SettleResponse{
		Success:     true,
		Transaction: txHash,
		Network:     network,
		Payer:       verifyResp.Payer,
	}, nil
}

func (f *ExactEvmSchemeV1) deploySmartWallet(ctx context.Context, sigData *evm.ERC6492SignatureData) error {
	factoryAddr := common.BytesToAddress(sigData.Factory[:])

	txHash, err := f.signer.SendTransaction(ctx, factoryAddr.Hex(), sigData.FactoryCalldata)
	if err != nil {
		return fmt.Errorf("factory deployment transaction failed: %w", err)
	}

	receipt, err := f.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return fmt.Errorf("failed to wait for deployment: %w", err)
	}
	if receipt.Status != evm.TxStatusSuccess {
		return fmt.Errorf("deployment transaction reverted")
	}
	return nil
}

func (f *ExactEvmSchemeV1) checkNonceUsed(ctx context.Context, from string, nonce [32]byte, tokenAddress string) (bool, error) {
	result, err := f.signer.ReadContract(
		ctx,
		tokenAddress,
		evm.AuthorizationStateABI,
		evm.FunctionAuthorizationState,
		common.HexToAddress(from),
		nonce,
	)
	if err != nil {
		return false, err
	}

	used, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("unexpected result type from authorizationState")
	}

	return used, nil
}

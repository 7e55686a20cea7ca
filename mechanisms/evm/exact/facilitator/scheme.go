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

// ExactEvmSchemeConfig tunes facilitator-side behavior.
type ExactEvmSchemeConfig struct {
	// DeployERC4337WithEIP6492 lets settlement deploy an undeployed
	// smart wallet from the factory data carried in its ERC-6492
	// signature. When off, such payments fail at settle.
	DeployERC4337WithEIP6492 bool
}

// ExactEvmScheme verifies and settles v2 exact payments on EVM chains.
type ExactEvmScheme struct {
	signer evm.FacilitatorEvmSigner
	config ExactEvmSchemeConfig
}

// NewExactEvmScheme builds the scheme around a facilitator signer.
// A nil config means defaults.
func NewExactEvmScheme(signer evm.FacilitatorEvmSigner, config *ExactEvmSchemeConfig) *ExactEvmScheme {
	scheme := &ExactEvmScheme{signer: signer}
	if config != nil {
		scheme.config = *config
	}
	return scheme
}

func (f *ExactEvmScheme) Scheme() string { return evm.SchemeExact }

func (f *ExactEvmScheme) CaipFamily() string { return "eip155:*" }

// GetExtra has nothing to add for EVM networks.
func (f *ExactEvmScheme) GetExtra(_ x402.Network) map[string]interface{} {
	return nil
}

// GetSigners lists the addresses settlement transactions may come from.
func (f *ExactEvmScheme) GetSigners(_ x402.Network) []string {
	return f.signer.GetAddresses()
}

// Verify checks a payment payload off-chain before any gas is spent:
// scheme and network agreement, authorization amount and validity
// window, nonce freshness, payer balance, and finally the signature
// itself. The signature check dispatches on the payload type: EIP-3009
// authorizations are signed against the token contract, generic ERC-20
// authorizations against the facilitator contract.
func (f *ExactEvmScheme) Verify(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
) (*x402.VerifyResponse, error) {
	network := x402.Network(requirements.Network)

	if payload.Accepted.Scheme != evm.SchemeExact {
		return nil, x402.NewVerifyError("invalid_scheme", "", network, nil)
	}
	if payload.Accepted.Network != requirements.Network {
		return nil, x402.NewVerifyError("network_mismatch", "", network, nil)
	}

	networkStr := string(requirements.Network)
	config, err := evm.GetNetworkConfig(networkStr)
	if err != nil {
		return nil, x402.NewVerifyError("failed_to_get_network_config", "", network, err)
	}
	assetInfo, err := evm.GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return nil, x402.NewVerifyError("failed_to_get_asset_info", "", network, err)
	}

	// Both payload flavors share the EIP-3009 field layout, so one
	// parse covers the common checks.
	evmPayload, err := evm.PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, x402.NewVerifyError("invalid_payload", "", network, err)
	}
	if evmPayload.Signature == "" {
		return nil, x402.NewVerifyError("missing_signature", "", network, nil)
	}

	auth := evmPayload.Authorization

	// The token's EIP-712 domain travels in requirements.extra; without
	// it the signature cannot be checked against the right domain.
	tokenName, tokenVersion, ok := tokenDomain(requirements)
	if !ok {
		return nil, x402.NewVerifyError("missing_eip712_domain", auth.From, network, nil)
	}

	authValue, err := f.checkAuthorization(auth, requirements, network)
	if err != nil {
		return nil, err
	}

	nonce, err := evm.HexToNonce(auth.Nonce)
	if err != nil {
		return nil, x402.NewVerifyError("invalid_payload", auth.From, network, err)
	}

	isEIP3009, err := f.isEIP3009Payload(ctx, payload.Payload, config.ChainID, auth.From, assetInfo.Address)
	if err != nil {
		return nil, x402.NewVerifyError("invalid_payload_type", "", network, err)
	}

	// Nonce replay check via the on-chain authorizationState view.
	// A lookup failure is non-fatal: verification continues and the
	// nonce gets enforced by the contract at settlement.
	nonceContract := assetInfo.Address
	if !isEIP3009 {
		nonceContract = evm.FacilitatorContractAddress
	}
	if used, err := f.checkNonceUsed(ctx, auth.From, nonce, nonceContract); err == nil && used {
		return nil, x402.NewVerifyError("nonce_already_used", auth.From, network, nil)
	}

	// Balance check, likewise non-fatal on lookup failure.
	if balance, err := f.signer.GetBalance(ctx, auth.From, assetInfo.Address); err == nil && balance != nil {
		if balance.Cmp(authValue) < 0 {
			return nil, x402.NewVerifyError("insufficient_balance", auth.From, network, nil)
		}
	}

	signatureBytes, err := evm.HexToBytes(evmPayload.Signature)
	if err != nil {
		return nil, x402.NewVerifyError("invalid_signature_format", auth.From, network, err)
	}

	var valid bool
	if isEIP3009 {
		valid, err = f.verifyEIP3009Signature(ctx, auth, signatureBytes, config.ChainID, assetInfo.Address, tokenName, tokenVersion)
		if err != nil {
			return nil, x402.NewVerifyError("failed_to_verify_signature", auth.From, network, err)
		}
	} else {
		valid, err = f.verifyERC20Signature(ctx, payload.Payload, auth.From, signatureBytes, config.ChainID, network)
		if err != nil {
			return nil, err
		}
	}

	if !valid {
		return nil, x402.NewVerifyError("invalid_signature", auth.From, network, nil)
	}

	return &x402.VerifyResponse{
		IsValid: true,
		Payer:   auth.From,
	}, nil
}

// checkAuthorization validates recipient, amount, and validity window,
// returning the parsed authorization value.
func (f *ExactEvmScheme) checkAuthorization(
	auth evm.ExactEIP3009Authorization,
	requirements types.PaymentRequirements,
	network x402.Network,
) (*big.Int, error) {
	if !strings.EqualFold(auth.To, requirements.PayTo) {
		return nil, x402.NewVerifyError("recipient_mismatch", "", network, nil)
	}

	authValue, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return nil, x402.NewVerifyError("invalid_authorization_value", "", network, nil)
	}
	requiredValue, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return nil, x402.NewVerifyError("invalid_required_amount", "", network, fmt.Errorf("invalid amount: %s", requirements.Amount))
	}
	if authValue.Cmp(requiredValue) < 0 {
		return nil, x402.NewVerifyError("insufficient_amount", auth.From, network, nil)
	}

	// Settlement needs headroom to land on-chain, so validBefore must
	// be at least SettleHeadroomSeconds in the future; validAfter must
	// already have passed.
	now := time.Now().Unix()
	validAfter, okAfter := new(big.Int).SetString(auth.ValidAfter, 10)
	validBefore, okBefore := new(big.Int).SetString(auth.ValidBefore, 10)
	if !okAfter || !okBefore {
		return nil, x402.NewVerifyError("invalid_authorization_window", auth.From, network, nil)
	}
	if validBefore.Cmp(big.NewInt(now+evm.SettleHeadroomSeconds)) < 0 {
		return nil, x402.NewVerifyError("valid_before_expired", auth.From, network, nil)
	}
	if validAfter.Cmp(big.NewInt(now)) > 0 {
		return nil, x402.NewVerifyError("valid_after_in_future", auth.From, network, nil)
	}

	return authValue, nil
}

// tokenDomain reads the token's EIP-712 domain name and version from
// requirements.Extra. The server declares both when it builds the
// requirements; ok is false when either is absent.
func tokenDomain(requirements types.PaymentRequirements) (string, string, bool) {
	name, nameOK := requirements.Extra["name"].(string)
	version, versionOK := requirements.Extra["version"].(string)
	return name, version, nameOK && versionOK
}

// verifyEIP3009Signature checks the typed-data signature against the
// token contract's domain. EOA, EIP-1271, and ERC-6492 signatures are
// all accepted; undeployed wallets pass here and get deployed at settle
// when configured.
func (f *ExactEvmScheme) verifyEIP3009Signature(
	ctx context.Context,
	authorization evm.ExactEIP3009Authorization,
	signature []byte,
	chainID *big.Int,
	verifyingContract string,
	tokenName string,
	tokenVersion string,
) (bool, error) {
	hash, err := evm.HashEIP3009Authorization(authorization, chainID, verifyingContract, tokenName, tokenVersion)
	if err != nil {
		return false, err
	}
	var hash32 [32]byte
	copy(hash32[:], hash)

	valid, sigData, err := evm.VerifyUniversalSignature(ctx, f.signer, authorization.From, hash32, signature, true)
	if err != nil {
		return false, err
	}

	if sigData != nil {
		var zeroFactory [20]byte
		if sigData.Factory != zeroFactory {
			if _, err := f.signer.GetCode(ctx, authorization.From); err != nil {
				return false, err
			}
		}
	}

	return valid, nil
}

// verifyERC20Signature checks a generic ERC-20 authorization, which is
// signed against the facilitator contract's domain.
func (f *ExactEvmScheme) verifyERC20Signature(
	ctx context.Context,
	payloadMap map[string]interface{},
	from string,
	signature []byte,
	chainID *big.Int,
	network x402.Network,
) (bool, error) {
	payloadERC20, err := evm.PayloadERC20FromMap(payloadMap)
	if err != nil {
		return false, x402.NewVerifyError("invalid_payload", "", network, err)
	}

	hash, err := evm.HashERC20Authorization(payloadERC20.Authorization, chainID, evm.FacilitatorContractAddress)
	if err != nil {
		return false, x402.NewVerifyError("failed_to_hash_authorization", from, network, err)
	}
	var hash32 [32]byte
	copy(hash32[:], hash)

	valid, _, err := evm.VerifyUniversalSignature(ctx, f.signer, from, hash32, signature, true)
	if err != nil {
		return false, x402.NewVerifyError("failed_to_verify_signature", from, network, err)
	}
	return valid, nil
}

// Settle re-verifies the payment and then executes the transfer
// on-chain, deploying the payer's smart wallet first when the signature
// carries factory data and deployment is enabled.
func (f *ExactEvmScheme) Settle(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
) (*x402.SettleResponse, error) {
	network := x402.Network(payload.Accepted.Network)

	verifyResp, err := f.Verify(ctx, payload, requirements)
	if err != nil {
		ve := &x402.VerifyError{}
		if errors.As(err, &ve) {
			return nil, x402.NewSettleError(ve.Reason, ve.Payer, ve.Network, "", ve.Err)
		}
		return nil, x402.NewSettleError("verification_failed", "", network, "", err)
	}
	payer := verifyResp.Payer

	networkStr := string(requirements.Network)
	assetInfo, err := evm.GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return nil, x402.NewSettleError("failed_to_get_asset_info", payer, network, "", err)
	}

	evmPayload, err := evm.PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, x402.NewSettleError("invalid_payload", payer, network, "", err)
	}

	signatureBytes, err := evm.HexToBytes(evmPayload.Signature)
	if err != nil {
		return nil, x402.NewSettleError("invalid_signature_format", payer, network, "", err)
	}
	sigData, err := evm.ParseERC6492Signature(signatureBytes)
	if err != nil {
		return nil, x402.NewSettleError("failed_to_parse_signature", payer, network, "", err)
	}

	if err := f.deployIfNeeded(ctx, sigData, evmPayload.Authorization.From, payer, network); err != nil {
		return nil, err
	}

	value, _ := new(big.Int).SetString(evmPayload.Authorization.Value, 10)
	validAfter, _ := new(big.Int).SetString(evmPayload.Authorization.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(evmPayload.Authorization.ValidBefore, 10)
	nonce, err := evm.HexToNonce(evmPayload.Authorization.Nonce)
	if err != nil {
		return nil, x402.NewSettleError("invalid_payload", payer, network, "", err)
	}

	config, err := evm.GetNetworkConfig(networkStr)
	if err != nil {
		return nil, x402.NewSettleError("failed_to_get_network_config", payer, network, "", err)
	}

	isEIP3009, err := f.isEIP3009Payload(ctx, payload.Payload, config.ChainID, evmPayload.Authorization.From, assetInfo.Address)
	if err != nil {
		return nil, x402.NewSettleError("invalid_payload_type", payer, network, "", err)
	}

	from := common.HexToAddress(evmPayload.Authorization.From)
	to := common.HexToAddress(requirements.PayTo)

	var txHash string
	if isEIP3009 {
		// Settles directly on the token contract. Smart wallets signed
		// via ERC-6492 were deployed above, so the inner signature is
		// what the token's EIP-1271 check expects. A 65-byte ECDSA
		// signature uses the (v, r, s) overload; anything else goes
		// through the bytes overload.
		innerSig := sigData.InnerSignature
		if len(innerSig) == 65 {
			var r, s [32]byte
			copy(r[:], innerSig[0:32])
			copy(s[:], innerSig[32:64])
			txHash, err = f.signer.WriteContract(ctx, assetInfo.Address,
				evm.TransferWithAuthorizationVRSABI, evm.FunctionTransferWithAuthorization,
				from, to, value, validAfter, validBefore, nonce,
				innerSig[64], r, s)
		} else {
			txHash, err = f.signer.WriteContract(ctx, assetInfo.Address,
				evm.TransferWithAuthorizationBytesABI, evm.FunctionTransferWithAuthorization,
				from, to, value, validAfter, validBefore, nonce,
				innerSig)
		}
	} else {
		// Generic ERC-20 authorizations settle through the facilitator
		// contract's settlePayment. Its Solady SignatureChecker handles
		// ERC-6492 wrapping, so the full signature goes through as is.
		txHash, err = f.signer.WriteContract(ctx, evm.FacilitatorContractAddress,
			evm.SettlePaymentABI, "settlePayment",
			common.HexToAddress(assetInfo.Address), from, to,
			value, validAfter, validBefore, nonce,
			signatureBytes)
	}
	if err != nil {
		return nil, x402.NewSettleError("failed_to_execute_transfer", payer, network, "", err)
	}

	receipt, err := f.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, x402.NewSettleError("failed_to_get_receipt", payer, network, txHash, err)
	}
	if receipt.Status != evm.TxStatusSuccess {
		return nil, x402.NewSettleError("transaction_failed", payer, network, txHash, nil)
	}

	return &x402.SettleResponse{
		Success:     true,
		Transaction: txHash,
		Network:     network,
		Payer:       payer,
	}, nil
}

// deployIfNeeded deploys the payer's smart wallet when the signature
// carries ERC-6492 factory data and the wallet has no code yet.
func (f *ExactEvmScheme) deployIfNeeded(
	ctx context.Context,
	sigData *evm.ERC6492SignatureData,
	fromAddress string,
	payer string,
	network x402.Network,
) error {
	var zeroFactory [20]byte
	if sigData.Factory == zeroFactory || len(sigData.FactoryCalldata) == 0 {
		return nil
	}

	code, err := f.signer.GetCode(ctx, fromAddress)
	if err != nil {
		return x402.NewSettleError("failed_to_check_deployment", payer, network, "", err)
	}
	if len(code) > 0 {
		return nil
	}
	if !f.config.DeployERC4337WithEIP6492 {
		return x402.NewSettleError(evm.ErrUndeployedSmartWallet, payer, network, "", nil)
	}
	if err := f.deploySmartWallet(ctx, sigData); err != nil {
		return x402.NewSettleError(evm.ErrSmartWalletDeploymentFailed, payer, network, "", err)
	}
	return nil
}

// deploySmartWallet sends the pre-encoded factory calldata as a
// transaction and waits for it to mine.
func (f *ExactEvmScheme) deploySmartWallet(ctx context.Context, sigData *evm.ERC6492SignatureData) error {
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

// isEIP3009Payload decides which authorization flow a payload uses.
// Payloads carry a "type" tag; older clients omit it, in which case we
// probe the token for EIP-3009 support and fall back to the generic
// ERC-20 flow when the probe is inconclusive.
func (f *ExactEvmScheme) isEIP3009Payload(
	ctx context.Context,
	payloadMap map[string]interface{},
	chainID *big.Int,
	from string,
	tokenAddress string,
) (bool, error) {
	if typeStr, ok := payloadMap["type"].(string); ok {
		switch typeStr {
		case "authorizationEip3009":
			return true, nil
		case "authorization":
			return false, nil
		default:
			return false, fmt.Errorf("unknown payload type: %s", typeStr)
		}
	}

	supported, err := evm.VerifyEIP3009Support(ctx, f.signer, chainID, from, tokenAddress)
	if err != nil {
		return false, nil
	}
	return supported, nil
}

// checkNonceUsed reads authorizationState on the given contract.
func (f *ExactEvmScheme) checkNonceUsed(ctx context.Context, from string, nonce [32]byte, tokenAddress string) (bool, error) {
	result, err := f.signer.ReadContract(ctx, tokenAddress,
		evm.AuthorizationStateABI, evm.FunctionAuthorizationState,
		common.HexToAddress(from), nonce)
	if err != nil {
		return false, err
	}

	used, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("unexpected result type from authorizationState")
	}
	return used, nil
}

package evm

import (
	"math/big"
	"os"
)

const (
	SchemeExact = "exact"

	// USDC decimals
	DefaultDecimals = 6

	FunctionTransferWithAuthorization = "transferWithAuthorization"
	FunctionReceiveWithAuthorization  = "receiveWithAuthorization"
	FunctionAuthorizationState        = "authorizationState"

	TxStatusSuccess = 1
	TxStatusFailed  = 0

	// Validity window length when the caller does not pick one (1 hour)
	DefaultValidityPeriod = 3600

	// Minimum remaining validity an authorization must have at verify
	// time so settlement can still land on-chain
	SettleHeadroomSeconds = 6

	// bytes32(uint256(keccak256("erc6492.invalid.signature")) - 1),
	// the trailing magic of a wrapped ERC-6492 signature
	ERC6492MagicValue = "0x6492649264926492649264926492649264926492649264926492649264926492"

	// Selector isValidSignature returns on success (EIP-1271)
	EIP1271MagicValue = "0x1626ba7e"

	ErrInvalidSignature            = "invalid_exact_evm_payload_signature"
	ErrUndeployedSmartWallet       = "invalid_exact_evm_payload_undeployed_smart_wallet"
	ErrSmartWalletDeploymentFailed = "smart_wallet_deployment_failed"
)

var (
	ChainIDMainnet     = big.NewInt(1)
	ChainIDBase        = big.NewInt(8453)
	ChainIDBaseSepolia = big.NewInt(84532)

	usdcMainnet     = usdcAsset("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "USD Coin")
	usdcBase        = usdcAsset("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", "USD Coin")
	usdcBaseSepolia = usdcAsset("0x036CbD53842c5426634e7929541eC2318f3dCF7e", "USDC")

	// NetworkConfigs keys both CAIP-2 identifiers and the legacy network
	// names still accepted by v1 clients.
	NetworkConfigs = map[string]NetworkConfig{
		"eip155:1":     usdcNetwork(ChainIDMainnet, usdcMainnet),
		"eip155:8453":  usdcNetwork(ChainIDBase, usdcBase),
		"base":         usdcNetwork(ChainIDBase, usdcBase),
		"base-mainnet": usdcNetwork(ChainIDBase, usdcBase),
		"eip155:84532": usdcNetwork(ChainIDBaseSepolia, usdcBaseSepolia),
		"base-sepolia": usdcNetwork(ChainIDBaseSepolia, usdcBaseSepolia),
	}
)

func usdcAsset(address, name string) AssetInfo {
	return AssetInfo{
		Address:         address,
		Name:            name,
		Version:         "2",
		Decimals:        DefaultDecimals,
		SupportsEIP3009: true,
	}
}

func usdcNetwork(chainID *big.Int, usdc AssetInfo) NetworkConfig {
	return NetworkConfig{
		ChainID:         chainID,
		DefaultAsset:    usdc,
		SupportedAssets: map[string]AssetInfo{"USDC": usdc},
	}
}

var (
	// transferWithAuthorization taking v,r,s (EOA signatures)
	TransferWithAuthorizationVRSABI = []byte(`[
		{
			"inputs": [
				{"name": "from", "type": "address"},
				{"name": "to", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "validAfter", "type": "uint256"},
				{"name": "validBefore", "type": "uint256"},
				{"name": "nonce", "type": "bytes32"},
				{"name": "v", "type": "uint8"},
				{"name": "r", "type": "bytes32"},
				{"name": "s", "type": "bytes32"}
			],
			"name": "transferWithAuthorization",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)

	// transferWithAuthorization taking a bytes signature (smart wallets)
	TransferWithAuthorizationBytesABI = []byte(`[
		{
			"inputs": [
				{"name": "from", "type": "address"},
				{"name": "to", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "validAfter", "type": "uint256"},
				{"name": "validBefore", "type": "uint256"},
				{"name": "nonce", "type": "bytes32"},
				{"name": "signature", "type": "bytes"}
			],
			"name": "transferWithAuthorization",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)

	// Deprecated: use TransferWithAuthorizationVRSABI.
	TransferWithAuthorizationABI = TransferWithAuthorizationVRSABI

	AuthorizationStateABI = []byte(`[
		{
			"inputs": [
				{"name": "authorizer", "type": "address"},
				{"name": "nonce", "type": "bytes32"}
			],
			"name": "authorizationState",
			"outputs": [{"name": "", "type": "bool"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)

	// tokenTransferWithAuthorization on the facilitator contract
	TokenTransferWithAuthorizationABI = []byte(`[
		{
			"inputs": [
				{"name": "token", "type": "address"},
				{"name": "from", "type": "address"},
				{"name": "to", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "validAfter", "type": "uint256"},
				{"name": "validBefore", "type": "uint256"},
				{"name": "nonce", "type": "bytes32"},
				{"name": "signature", "type": "bytes"}
			],
			"name": "tokenTransferWithAuthorization",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)

	// settlePayment on the facilitator contract
	SettlePaymentABI = []byte(`[
		{
			"inputs": [
				{"name": "token", "type": "address"},
				{"name": "from", "type": "address"},
				{"name": "to", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "validAfter", "type": "uint256"},
				{"name": "validBefore", "type": "uint256"},
				{"name": "nonce", "type": "bytes32"},
				{"name": "signature", "type": "bytes"}
			],
			"name": "settlePayment",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)

	// allowance and approve
	ERC20ABI = []byte(`[
		{
			"constant": true,
			"inputs": [
				{"name": "owner", "type": "address"},
				{"name": "spender", "type": "address"}
			],
			"name": "allowance",
			"outputs": [{"name": "", "type": "uint256"}],
			"payable": false,
			"stateMutability": "view",
			"type": "function"
		},
		{
			"constant": false,
			"inputs": [
				{"name": "spender", "type": "address"},
				{"name": "value", "type": "uint256"}
			],
			"name": "approve",
			"outputs": [{"name": "", "type": "bool"}],
			"payable": false,
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)
)

// FacilitatorContractAddress is deployed at the same address on every
// supported network.
var FacilitatorContractAddress = "0x555e3311a9893c9B17444C1Ff0d88192a57Ef13e"

// Local chains deploy their own contracts, so both the facilitator
// contract and the Base Sepolia USDC address can be overridden from the
// environment.
func init() {
	if addr := os.Getenv("EVM_FACILITATOR_CONTRACT_ADDRESS"); addr != "" {
		FacilitatorContractAddress = addr
	}

	if usdcAddr := os.Getenv("EVM_USDC_ADDRESS"); usdcAddr != "" {
		for _, network := range []string{"eip155:84532", "base-sepolia"} {
			config, ok := NetworkConfigs[network]
			if !ok {
				continue
			}
			config.DefaultAsset.Address = usdcAddr
			if asset, ok := config.SupportedAssets["USDC"]; ok {
				asset.Address = usdcAddr
				config.SupportedAssets["USDC"] = asset
			}
			NetworkConfigs[network] = config
		}
	}
}

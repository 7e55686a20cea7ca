package evm

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// normalizeEvmNetwork maps legacy network names onto their CAIP-2 form.
func normalizeEvmNetwork(network string) string {
	switch network {
	case "base", "base-mainnet":
		return "eip155:8453"
	case "base-sepolia":
		return "eip155:84532"
	}
	return network
}

// GetEvmChainId resolves a network identifier to its chain ID, accepting
// legacy names, known CAIP-2 networks, and arbitrary eip155:<id> strings.
func GetEvmChainId(network string) (*big.Int, error) {
	normalized := normalizeEvmNetwork(network)
	if config, ok := NetworkConfigs[normalized]; ok {
		return config.ChainID, nil
	}
	if id, found := strings.CutPrefix(normalized, "eip155:"); found {
		if chainID, ok := new(big.Int).SetString(id, 10); ok {
			return chainID, nil
		}
	}
	return nil, fmt.Errorf("unsupported network: %s", network)
}

// CreateNonce generates a random 32-byte hex nonce for EIP-3009
func CreateNonce() (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return "0x" + hex.EncodeToString(nonce), nil
}

// NormalizeAddress lowercases an address and guarantees the 0x prefix
func NormalizeAddress(address string) string {
	return "0x" + strings.TrimPrefix(strings.ToLower(address), "0x")
}

// IsValidAddress reports whether the string is 20 bytes of hex,
// with or without the 0x prefix.
func IsValidAddress(address string) bool {
	addr := strings.TrimPrefix(address, "0x")
	if len(addr) != 40 {
		return false
	}
	_, err := hex.DecodeString(addr)
	return err == nil
}

// ParseAmount converts a decimal token amount into atomic units.
// Fractional digits beyond the token's decimals are truncated.
func ParseAmount(amount string, decimals int) (*big.Int, error) {
	parts := strings.Split(amount, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid amount format: %s", amount)
	}

	intPart, ok := new(big.Int).SetString(parts[0], 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer part: %s", parts[0])
	}

	decPart := new(big.Int)
	if len(parts) == 2 && parts[1] != "" {
		decStr := parts[1]
		if len(decStr) > decimals {
			decStr = decStr[:decimals]
		} else {
			decStr += strings.Repeat("0", decimals-len(decStr))
		}
		decPart, ok = new(big.Int).SetString(decStr, 10)
		if !ok {
			return nil, fmt.Errorf("invalid decimal part: %s", parts[1])
		}
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Int).Add(new(big.Int).Mul(intPart, scale), decPart), nil
}

// FormatAmount renders an atomic-unit amount as a decimal string,
// trimming trailing fractional zeros.
func FormatAmount(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}

	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	quotient, remainder := new(big.Int).DivMod(amount, divisor, new(big.Int))

	decStr := remainder.String()
	if len(decStr) < decimals {
		decStr = strings.Repeat("0", decimals-len(decStr)) + decStr
	}
	decStr = strings.TrimRight(decStr, "0")
	if decStr == "" {
		return quotient.String()
	}
	return quotient.String() + "." + decStr
}

// GetNetworkConfig returns the static configuration for a known network
func GetNetworkConfig(network string) (*NetworkConfig, error) {
	if config, ok := NetworkConfigs[normalizeEvmNetwork(network)]; ok {
		return &config, nil
	}
	return nil, fmt.Errorf("unsupported network: %s", network)
}

// GetAssetInfo resolves an asset given as an address or a symbol. Known
// addresses and symbols come back with their signing metadata; an
// unknown address gets generic 18-decimal metadata; an unknown symbol
// falls back to the network's default asset.
func GetAssetInfo(network string, assetSymbolOrAddress string) (*AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}

	if IsValidAddress(assetSymbolOrAddress) {
		normalized := NormalizeAddress(assetSymbolOrAddress)
		if normalized == NormalizeAddress(config.DefaultAsset.Address) {
			return &config.DefaultAsset, nil
		}
		return &AssetInfo{
			Address:  normalized,
			Name:     "Unknown Token",
			Version:  "1",
			Decimals: 18,
		}, nil
	}

	if asset, ok := config.SupportedAssets[strings.ToUpper(assetSymbolOrAddress)]; ok {
		return &asset, nil
	}
	return &config.DefaultAsset, nil
}

// CreateValidityWindow builds the validAfter/validBefore pair for an
// authorization. validAfter sits 30s in the past to absorb clock skew.
func CreateValidityWindow(duration time.Duration) (validAfter, validBefore *big.Int) {
	now := time.Now().Unix()
	validAfter = big.NewInt(now - 30)
	validBefore = big.NewInt(now + int64(duration.Seconds()))
	return validAfter, validBefore
}

// HexToBytes decodes a hex string, tolerating a 0x prefix
func HexToBytes(hexStr string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(hexStr, "0x"))
}

// HexToNonce decodes an authorization nonce, which EIP-3009 defines as
// exactly 32 bytes. Anything else is rejected here so a malformed nonce
// never reaches an on-chain call.
func HexToNonce(hexStr string) ([32]byte, error) {
	var nonce [32]byte
	b, err := HexToBytes(hexStr)
	if err != nil {
		return nonce, err
	}
	if len(b) != len(nonce) {
		return nonce, fmt.Errorf("authorization nonce must be 32 bytes, got %d", len(b))
	}
	copy(nonce[:], b)
	return nonce, nil
}

// EIP3009SupportCache memoizes VerifyEIP3009Support results,
// keyed "chainID:tokenAddress".
var EIP3009SupportCache sync.Map

// transferWithAuthorizationABI is the VRS form of the EIP-3009 entry
// point, enough to build a probe call.
var transferWithAuthorizationABI = []byte(`[
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

// VerifyEIP3009Support probes whether a token contract implements
// transferWithAuthorization. It simulates a zero-value self-transfer
// with a dummy signature and classifies the revert: a signature,
// authorization or nonce complaint means the entry point exists; an
// unrecognized-selector failure means it doesn't. Results are cached
// per chain and token.
func VerifyEIP3009Support(ctx context.Context, reader ContractReader, chainID *big.Int, fromAddress string, tokenAddress string) (bool, error) {
	cacheKey := fmt.Sprintf("%s:%s", chainID.String(), strings.ToLower(tokenAddress))
	if val, ok := EIP3009SupportCache.Load(cacheKey); ok {
		return val.(bool), nil
	}

	from := common.HexToAddress(fromAddress)
	var nonce, r, s [32]byte

	_, err := reader.ReadContract(
		ctx,
		tokenAddress,
		transferWithAuthorizationABI,
		"transferWithAuthorization",
		from,
		from, // to self, nothing can move on a surprise success
		big.NewInt(0),
		big.NewInt(0),
		big.NewInt(0),
		nonce,
		uint8(27),
		r,
		s,
	)

	supported := err == nil
	if err != nil {
		errStr := strings.ToLower(err.Error())
		supported = strings.Contains(errStr, "signature") ||
			strings.Contains(errStr, "authorization") ||
			strings.Contains(errStr, "nonce")
	}

	EIP3009SupportCache.Store(cacheKey, supported)
	return supported, nil
}

package evm

import (
	"context"
	"math/big"
)

// ExactEIP3009Authorization is the TransferWithAuthorization tuple.
// Amounts and timestamps travel as decimal strings; the nonce is
// 32 bytes of hex.
type ExactEIP3009Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactEIP3009Payload is the exact-scheme payment payload for EVM
// networks: a signed authorization.
type ExactEIP3009Payload struct {
	Signature     string                    `json:"signature,omitempty"`
	Authorization ExactEIP3009Authorization `json:"authorization"`
}

// Version aliases; the payload shape is identical across protocol versions.
type ExactEvmPayloadV1 = ExactEIP3009Payload
type ExactEvmPayloadV2 = ExactEIP3009Payload

// ExactERC20Authorization is the authorization tuple for tokens without
// native EIP-3009, settled through an escrow flow. NeedApprove marks
// authorizations that still require an on-chain allowance.
type ExactERC20Authorization struct {
	Token       string `json:"token"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
	NeedApprove bool   `json:"needApprove"`
}

// ExactERC20Payload is the signed form of ExactERC20Authorization
type ExactERC20Payload struct {
	Signature     string                  `json:"signature,omitempty"`
	Authorization ExactERC20Authorization `json:"authorization"`
}

// ToMap flattens the payload into the generic map shape payment
// envelopes carry.
func (p *ExactERC20Payload) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"authorization": map[string]interface{}{
			"token":       p.Authorization.Token,
			"from":        p.Authorization.From,
			"to":          p.Authorization.To,
			"value":       p.Authorization.Value,
			"validAfter":  p.Authorization.ValidAfter,
			"validBefore": p.Authorization.ValidBefore,
			"nonce":       p.Authorization.Nonce,
			"needApprove": p.Authorization.NeedApprove,
		},
	}
	if p.Signature != "" {
		result["signature"] = p.Signature
	}
	return result
}

// ContractReader is the read-only slice of a signer, enough for
// feature probes like VerifyEIP3009Support.
type ContractReader interface {
	ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error)
}

// ClientEvmSigner is what the client-side exact scheme needs from a
// wallet: an address, EIP-712 signing, and enough chain access for
// feature detection and ERC-20 approvals. Implementations without
// network access may return errors from the contract methods.
type ClientEvmSigner interface {
	// Address returns the signer's Ethereum address
	Address() string

	// SignTypedData signs EIP-712 typed data
	SignTypedData(ctx context.Context, domain TypedDataDomain, types map[string][]TypedDataField, primaryType string, message map[string]interface{}) ([]byte, error)

	// ReadContract reads data from a smart contract
	ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error)

	// WriteContract executes a smart contract transaction
	WriteContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (string, error)

	// WaitForTransactionReceipt waits for a transaction to be mined
	WaitForTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error)
}

// FacilitatorEvmSigner is the facilitator's chain access. It may hold
// several addresses (key rotation, load balancing); GetAddresses
// exposes them all.
type FacilitatorEvmSigner interface {
	// GetAddresses returns all addresses this facilitator can sign with
	GetAddresses() []string

	// ReadContract reads data from a smart contract
	ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error)

	// VerifyTypedData verifies an EIP-712 signature
	VerifyTypedData(ctx context.Context, address string, domain TypedDataDomain, types map[string][]TypedDataField, primaryType string, message map[string]interface{}, signature []byte) (bool, error)

	// WriteContract executes a smart contract transaction
	WriteContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (string, error)

	// SendTransaction sends pre-encoded calldata, used for ERC-6492
	// wallet deployment
	SendTransaction(ctx context.Context, to string, data []byte) (string, error)

	// WaitForTransactionReceipt waits for a transaction to be mined
	WaitForTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error)

	// GetBalance returns an address's balance of a token
	GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error)

	// GetChainID returns the connected network's chain ID
	GetChainID(ctx context.Context) (*big.Int, error)

	// GetCode returns the bytecode at an address, empty for EOAs
	GetCode(ctx context.Context, address string) ([]byte, error)
}

// TypedDataDomain is the EIP-712 domain separator
type TypedDataDomain struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	ChainID           *big.Int `json:"chainId"`
	VerifyingContract string   `json:"verifyingContract"`
}

// TypedDataField is one field of an EIP-712 struct type
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TransactionReceipt is the subset of a mined transaction's receipt
// the schemes care about.
type TransactionReceipt struct {
	Status      uint64 `json:"status"`
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"transactionHash"`
}

// AssetInfo carries the EIP-712 signing metadata for an ERC-20 token
type AssetInfo struct {
	Address         string
	Name            string
	Version         string
	Decimals        int
	SupportsEIP3009 bool
}

// NetworkConfig is the static per-network configuration
type NetworkConfig struct {
	ChainID         *big.Int
	DefaultAsset    AssetInfo
	SupportedAssets map[string]AssetInfo // symbol -> AssetInfo
}

// ToMap flattens the payload into the generic map shape payment
// envelopes carry.
func (p *ExactEIP3009Payload) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"authorization": map[string]interface{}{
			"from":        p.Authorization.From,
			"to":          p.Authorization.To,
			"value":       p.Authorization.Value,
			"validAfter":  p.Authorization.ValidAfter,
			"validBefore": p.Authorization.ValidBefore,
			"nonce":       p.Authorization.Nonce,
		},
	}
	if p.Signature != "" {
		result["signature"] = p.Signature
	}
	return result
}

func mapString(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

// PayloadFromMap rebuilds an ExactEIP3009Payload from the generic map
// shape. Missing or mistyped fields are left zero rather than rejected;
// verification catches them with precise reasons.
func PayloadFromMap(data map[string]interface{}) (*ExactEIP3009Payload, error) {
	payload := &ExactEIP3009Payload{Signature: mapString(data, "signature")}
	if auth, ok := data["authorization"].(map[string]interface{}); ok {
		payload.Authorization = ExactEIP3009Authorization{
			From:        mapString(auth, "from"),
			To:          mapString(auth, "to"),
			Value:       mapString(auth, "value"),
			ValidAfter:  mapString(auth, "validAfter"),
			ValidBefore: mapString(auth, "validBefore"),
			Nonce:       mapString(auth, "nonce"),
		}
	}
	return payload, nil
}

// PayloadERC20FromMap rebuilds an ExactERC20Payload from the generic
// map shape, including the token address and approval flag the
// EIP-3009 form doesn't carry.
func PayloadERC20FromMap(data map[string]interface{}) (*ExactERC20Payload, error) {
	payload := &ExactERC20Payload{Signature: mapString(data, "signature")}
	if auth, ok := data["authorization"].(map[string]interface{}); ok {
		needApprove, _ := auth["needApprove"].(bool)
		payload.Authorization = ExactERC20Authorization{
			Token:       mapString(auth, "token"),
			From:        mapString(auth, "from"),
			To:          mapString(auth, "to"),
			Value:       mapString(auth, "value"),
			ValidAfter:  mapString(auth, "validAfter"),
			ValidBefore: mapString(auth, "validBefore"),
			Nonce:       mapString(auth, "nonce"),
			NeedApprove: needApprove,
		}
	}
	return payload, nil
}

// IsValidNetwork reports whether the network is one this mechanism
// supports, by CAIP-2 identifier or legacy name.
func IsValidNetwork(network string) bool {
	switch network {
	case "eip155:1", "eip155:8453", "eip155:84532", "base", "base-sepolia", "base-mainnet":
		return true
	default:
		return false
	}
}

// ERC6492SignatureData is a parsed ERC-6492 signature: the factory and
// calldata that would deploy the counterfactual wallet, plus the inner
// signature itself. A zero factory means the signature wasn't wrapped.
type ERC6492SignatureData struct {
	Factory         [20]byte
	FactoryCalldata []byte
	InnerSignature  []byte
}

package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// eip712DomainFields is the canonical EIP712Domain type used by every
// digest this package produces.
var eip712DomainFields = []TypedDataField{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// HashTypedData computes the EIP-712 digest
// keccak256("\x19\x01" || domainSeparator || hashStruct(message))
// for the given domain, type set and primary type. The returned 32 bytes
// are what gets signed or recovered against.
func HashTypedData(
	domain TypedDataDomain,
	types map[string][]TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	typed := apitypes.TypedData{
		Types:       make(apitypes.Types, len(types)+1),
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: message,
	}

	for name, fields := range types {
		converted := make([]apitypes.Type, len(fields))
		for i, f := range fields {
			converted[i] = apitypes.Type{Name: f.Name, Type: f.Type}
		}
		typed.Types[name] = converted
	}
	if _, ok := typed.Types["EIP712Domain"]; !ok {
		domainType := make([]apitypes.Type, len(eip712DomainFields))
		for i, f := range eip712DomainFields {
			domainType[i] = apitypes.Type{Name: f.Name, Type: f.Type}
		}
		typed.Types["EIP712Domain"] = domainType
	}

	structHash, err := typed.HashStruct(typed.PrimaryType, typed.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash struct: %w", err)
	}
	domainSeparator, err := typed.HashStruct("EIP712Domain", typed.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	raw := make([]byte, 0, 2+len(domainSeparator)+len(structHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, structHash...)
	return crypto.Keccak256(raw), nil
}

// HashEIP3009Authorization computes the digest signed for an EIP-3009
// transferWithAuthorization call. The domain is the token contract's
// (name, version, chainId, address); the message is the authorization
// tuple with addresses checksummed and amounts as uint256.
func HashEIP3009Authorization(
	authorization ExactEIP3009Authorization,
	chainID *big.Int,
	verifyingContract string,
	tokenName string,
	tokenVersion string,
) ([]byte, error) {
	domain := TypedDataDomain{
		Name:              tokenName,
		Version:           tokenVersion,
		ChainID:           chainID,
		VerifyingContract: verifyingContract,
	}

	types := map[string][]TypedDataField{
		"EIP712Domain": eip712DomainFields,
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
	nonce, _ := HexToBytes(authorization.Nonce)

	message := map[string]interface{}{
		"from":        common.HexToAddress(authorization.From).Hex(),
		"to":          common.HexToAddress(authorization.To).Hex(),
		"value":       value,
		"validAfter":  validAfter,
		"validBefore": validBefore,
		"nonce":       nonce,
	}

	return HashTypedData(domain, types, "TransferWithAuthorization", message)
}

// HashERC20Authorization computes the digest signed for a generic
// ERC-20 tokenTransferWithAuthorization settled through the facilitator
// contract. The domain is the facilitator contract's (name
// "Facilitator", version "1"); the message carries the token address
// and approval flag on top of the EIP-3009 tuple.
func HashERC20Authorization(
	authorization ExactERC20Authorization,
	chainID *big.Int,
	verifyingContract string,
) ([]byte, error) {
	domain := TypedDataDomain{
		Name:              "Facilitator",
		Version:           "1",
		ChainID:           chainID,
		VerifyingContract: verifyingContract,
	}

	types := map[string][]TypedDataField{
		"EIP712Domain": eip712DomainFields,
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
	nonce, _ := HexToBytes(authorization.Nonce)

	message := map[string]interface{}{
		"token":       authorization.Token,
		"from":        authorization.From,
		"to":          authorization.To,
		"value":       value,
		"validAfter":  validAfter,
		"validBefore": validBefore,
		"nonce":       nonce,
		"needApprove": authorization.NeedApprove,
	}

	return HashTypedData(domain, types, "tokenTransferWithAuthorization", message)
}

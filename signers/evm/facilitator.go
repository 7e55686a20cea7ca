package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	x402evm "x402-go/mechanisms/evm"
)

// FacilitatorSigner implements x402evm.FacilitatorEvmSigner over an RPC
// connection and a settlement key. It both reads chain state (bytecode,
// balances, nonce views) and submits settlement transactions.
type FacilitatorSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	ethClient  *ethclient.Client
}

// NewFacilitatorSigner creates a facilitator signer from a hex-encoded
// private key and an RPC endpoint
func NewFacilitatorSigner(privateKeyHex string, rpcURL string) (*FacilitatorSigner, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	return &FacilitatorSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		ethClient:  client,
	}, nil
}

// GetAddresses returns the settlement addresses this facilitator controls
func (s *FacilitatorSigner) GetAddresses() []string {
	return []string{s.address.Hex()}
}

// ReadContract reads data from a smart contract
func (s *FacilitatorSigner) ReadContract(
	ctx context.Context,
	contractAddress string,
	abiJSON []byte,
	functionName string,
	args ...interface{},
) (interface{}, error) {
	parsedABI, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	data, err := parsedABI.Pack(functionName, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack data: %w", err)
	}

	to := common.HexToAddress(contractAddress)
	msg := ethereum.CallMsg{
		To:   &to,
		Data: data,
	}

	resultBytes, err := s.ethClient.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, err
	}

	unpacked, err := parsedABI.Unpack(functionName, resultBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack result: %w", err)
	}

	if len(unpacked) == 0 {
		return nil, nil
	}
	if len(unpacked) == 1 {
		return unpacked[0], nil
	}
	return unpacked, nil
}

// VerifyTypedData verifies an EIP-712 signature against the expected
// signer address using ECDSA recovery
func (s *FacilitatorSigner) VerifyTypedData(
	_ context.Context,
	address string,
	domain x402evm.TypedDataDomain,
	fieldTypes map[string][]x402evm.TypedDataField,
	primaryType string,
	message map[string]interface{},
	signature []byte,
) (bool, error) {
	typedData := apitypes.TypedData{
		Types:       make(apitypes.Types),
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: message,
	}
	for typeName, fields := range fieldTypes {
		typed := make([]apitypes.Type, len(fields))
		for i, field := range fields {
			typed[i] = apitypes.Type{Name: field.Name, Type: field.Type}
		}
		typedData.Types[typeName] = typed
	}
	if _, exists := typedData.Types["EIP712Domain"]; !exists {
		typedData.Types["EIP712Domain"] = []apitypes.Type{
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		}
	}

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return false, fmt.Errorf("failed to hash struct: %w", err)
	}
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return false, fmt.Errorf("failed to hash domain: %w", err)
	}

	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, dataHash...)
	digest := crypto.Keccak256(rawData)

	if len(signature) != 65 {
		return false, fmt.Errorf("signature must be 65 bytes, got %d", len(signature))
	}
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pubKey, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return false, fmt.Errorf("failed to recover public key: %w", err)
	}

	recovered := crypto.PubkeyToAddress(*pubKey)
	return strings.EqualFold(recovered.Hex(), address), nil
}

// WriteContract executes a smart contract transaction
func (s *FacilitatorSigner) WriteContract(
	ctx context.Context,
	contractAddress string,
	abiJSON []byte,
	functionName string,
	args ...interface{},
) (string, error) {
	parsedABI, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return "", fmt.Errorf("failed to parse ABI: %w", err)
	}

	data, err := parsedABI.Pack(functionName, args...)
	if err != nil {
		return "", fmt.Errorf("failed to pack data: %w", err)
	}

	return s.sendSignedTransaction(ctx, common.HexToAddress(contractAddress), data)
}

// SendTransaction sends a raw transaction with pre-encoded calldata
func (s *FacilitatorSigner) SendTransaction(ctx context.Context, to string, data []byte) (string, error) {
	return s.sendSignedTransaction(ctx, common.HexToAddress(to), data)
}

func (s *FacilitatorSigner) sendSignedTransaction(ctx context.Context, to common.Address, data []byte) (string, error) {
	chainID, err := s.ethClient.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get chain ID: %w", err)
	}

	nonce, err := s.ethClient.PendingNonceAt(ctx, s.address)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := s.ethClient.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}

	msg := ethereum.CallMsg{
		From: s.address,
		To:   &to,
		Data: data,
	}
	gasLimit, err := s.ethClient.EstimateGas(ctx, msg)
	if err != nil {
		gasLimit = 300000
	} else {
		gasLimit = uint64(float64(gasLimit) * 1.2)
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(chainID), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := s.ethClient.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	return signedTx.Hash().Hex(), nil
}

// WaitForTransactionReceipt waits for a transaction to be mined
func (s *FacilitatorSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*x402evm.TransactionReceipt, error) {
	hash := common.HexToHash(txHash)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := s.ethClient.TransactionReceipt(ctx, hash)
			if err != nil {
				if err == ethereum.NotFound {
					continue
				}
				return nil, err
			}
			return &x402evm.TransactionReceipt{
				Status:      receipt.Status,
				BlockNumber: receipt.BlockNumber.Uint64(),
				TxHash:      receipt.TxHash.Hex(),
			}, nil
		}
	}
}

// GetBalance returns the ERC-20 token balance of an address
func (s *FacilitatorSigner) GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error) {
	result, err := s.ReadContract(ctx, tokenAddress, balanceOfABI, "balanceOf", common.HexToAddress(address))
	if err != nil {
		return nil, err
	}
	balance, ok := result.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", result)
	}
	return balance, nil
}

// GetChainID returns the chain ID of the connected network
func (s *FacilitatorSigner) GetChainID(ctx context.Context) (*big.Int, error) {
	return s.ethClient.ChainID(ctx)
}

// GetCode returns the bytecode at the given address
func (s *FacilitatorSigner) GetCode(ctx context.Context, address string) ([]byte, error) {
	return s.ethClient.CodeAt(ctx, common.HexToAddress(address), nil)
}

var balanceOfABI = []byte(`[
	{
		"inputs": [{"name": "account", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`)

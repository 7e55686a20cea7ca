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
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	x402evm "x402-go/mechanisms/evm"
)

const fallbackGasLimit = 300000

// ClientSigner implements x402evm.ClientEvmSigner with a raw ECDSA key.
// Signing works offline; the contract methods need Connect first.
type ClientSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	ethClient  *ethclient.Client
}

// NewClientSignerFromPrivateKey creates a client signer from a
// hex-encoded private key (0x prefix optional):
//
//	signer, err := evm.NewClientSignerFromPrivateKey("0x1234...")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client := x402.Newx402Client().
//	    Register("eip155:*", evm.NewExactEvmClient(signer))
func NewClientSignerFromPrivateKey(privateKeyHex string) (x402evm.ClientEvmSigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &ClientSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// Connect attaches the signer to an RPC endpoint, enabling the
// contract read/write methods
func (s *ClientSigner) Connect(rpcURL string) error {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return fmt.Errorf("failed to connect to RPC: %w", err)
	}
	s.ethClient = client
	return nil
}

// Address returns the signer's Ethereum address
func (s *ClientSigner) Address() string {
	return s.address.Hex()
}

// SignTypedData signs an EIP-712 digest with the signer's key,
// returning the 65-byte (r, s, v) signature with v in 27/28 form.
func (s *ClientSigner) SignTypedData(
	ctx context.Context,
	domain x402evm.TypedDataDomain,
	types map[string][]x402evm.TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	digest, err := x402evm.HashTypedData(domain, types, primaryType, message)
	if err != nil {
		return nil, err
	}

	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	signature[64] += 27 // recovery id -> Ethereum v
	return signature, nil
}

// packCall parses the ABI and encodes the calldata for one function.
func packCall(abiJSON []byte, functionName string, args []interface{}) (abi.ABI, []byte, error) {
	parsedABI, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return abi.ABI{}, nil, fmt.Errorf("bad ABI for %s: %w", functionName, err)
	}
	data, err := parsedABI.Pack(functionName, args...)
	if err != nil {
		return abi.ABI{}, nil, fmt.Errorf("encode %s call: %w", functionName, err)
	}
	return parsedABI, data, nil
}

// ReadContract calls a view function and unpacks the result. A single
// return value comes back unwrapped; multiple values come back as a
// slice.
func (s *ClientSigner) ReadContract(
	ctx context.Context,
	contractAddress string,
	abiJSON []byte,
	functionName string,
	args ...interface{},
) (interface{}, error) {
	if s.ethClient == nil {
		return nil, fmt.Errorf("RPC client not configured")
	}

	parsedABI, data, err := packCall(abiJSON, functionName, args)
	if err != nil {
		return nil, err
	}

	to := common.HexToAddress(contractAddress)
	resultBytes, err := s.ethClient.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}

	unpacked, err := parsedABI.Unpack(functionName, resultBytes)
	if err != nil {
		return nil, fmt.Errorf("decode %s result: %w", functionName, err)
	}
	switch len(unpacked) {
	case 0:
		return nil, nil
	case 1:
		return unpacked[0], nil
	default:
		return unpacked, nil
	}
}

// WriteContract packs, signs and submits a state-changing call,
// returning the transaction hash without waiting for inclusion.
func (s *ClientSigner) WriteContract(
	ctx context.Context,
	contractAddress string,
	abiJSON []byte,
	functionName string,
	args ...interface{},
) (string, error) {
	if s.ethClient == nil {
		return "", fmt.Errorf("RPC client not configured")
	}

	_, data, err := packCall(abiJSON, functionName, args)
	if err != nil {
		return "", err
	}

	chainID, err := s.ethClient.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("chain ID lookup: %w", err)
	}
	nonce, err := s.ethClient.PendingNonceAt(ctx, s.address)
	if err != nil {
		return "", fmt.Errorf("nonce lookup: %w", err)
	}
	gasPrice, err := s.ethClient.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("gas price lookup: %w", err)
	}

	to := common.HexToAddress(contractAddress)
	gasLimit, err := s.ethClient.EstimateGas(ctx, ethereum.CallMsg{
		From: s.address,
		To:   &to,
		Data: data,
	})
	if err != nil {
		// estimation failed; safe default for simple calls
		gasLimit = fallbackGasLimit
	} else {
		gasLimit = uint64(float64(gasLimit) * 1.2)
	}

	// Legacy transaction type; works on every EVM network we target.
	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(chainID), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}
	if err := s.ethClient.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}
	return signedTx.Hash().Hex(), nil
}

// WaitForTransactionReceipt polls until the transaction is mined or the
// context expires
func (s *ClientSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*x402evm.TransactionReceipt, error) {
	if s.ethClient == nil {
		return nil, fmt.Errorf("RPC client not configured")
	}

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

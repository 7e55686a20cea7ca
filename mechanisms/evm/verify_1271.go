package evm

import (
	"context"
	"errors"
)

// eip1271ABI covers just isValidSignature(bytes32,bytes)
const eip1271ABI = `[{
	"inputs": [
		{"type": "bytes32", "name": "hash"},
		{"type": "bytes", "name": "signature"}
	],
	"name": "isValidSignature",
	"outputs": [{"type": "bytes4", "name": "magicValue"}],
	"stateMutability": "view",
	"type": "function"
}]`

// eip1271MagicValue is bytes4(keccak256("isValidSignature(bytes32,bytes)")),
// the value a contract wallet returns when the signature is valid.
var eip1271MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}

// VerifyEIP1271Signature asks a smart contract wallet whether it
// recognizes the signature over hash, per EIP-1271. The call goes
// through the facilitator signer's ReadContract so the same RPC
// connection and retry behavior apply.
func VerifyEIP1271Signature(
	ctx context.Context,
	signer FacilitatorEvmSigner,
	wallet string,
	hash [32]byte,
	signature []byte,
) (bool, error) {
	result, err := signer.ReadContract(
		ctx,
		wallet,
		[]byte(eip1271ABI),
		"isValidSignature",
		hash,
		signature,
	)
	if err != nil {
		return false, err
	}

	// ReadContract returns interface{}; bytes4 may come back as a
	// slice or a fixed array depending on the ABI decoder.
	var resultBytes []byte
	switch v := result.(type) {
	case []byte:
		resultBytes = v
	case [4]byte:
		resultBytes = v[:]
	default:
		return false, errors.New("invalid return type from isValidSignature: expected bytes4")
	}
	if len(resultBytes) < 4 {
		return false, errors.New("invalid return value from isValidSignature: too short")
	}

	var magic [4]byte
	copy(magic[:], resultBytes[:4])
	return magic == eip1271MagicValue, nil
}

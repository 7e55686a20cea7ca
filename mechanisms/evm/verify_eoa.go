package evm

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// VerifyEOASignature checks an ECDSA signature by recovering the
// secp256k1 public key and comparing the derived address against the
// expected signer. Accepts both v = 27/28 (Ethereum convention) and
// v = 0/1 (raw recovery id).
func VerifyEOASignature(
	hash []byte,
	signature []byte,
	expectedAddress common.Address,
) (bool, error) {
	if len(signature) != 65 {
		return false, errors.New("invalid EOA signature length: expected 65 bytes")
	}

	// SigToPub wants v in {0, 1}; don't touch the caller's slice.
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return false, err
	}
	return crypto.PubkeyToAddress(*pubKey) == expectedAddress, nil
}

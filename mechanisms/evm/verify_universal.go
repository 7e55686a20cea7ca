package evm

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// VerifyUniversalSignature verifies a signature that may come from an
// EOA, a deployed EIP-1271 contract wallet, or an undeployed ERC-6492
// counterfactual wallet.
//
// A plain 65-byte signature with no ERC-6492 factory goes straight to
// ECDSA recovery, skipping the GetCode round trip. Anything else checks
// deployment: a deployed signer is asked via EIP-1271; an undeployed
// signer with factory calldata is accepted when allowUndeployed is set
// (deployment happens at settlement); an undeployed signer without
// deployment info falls back to EOA recovery.
func VerifyUniversalSignature(
	ctx context.Context,
	facilitatorSigner FacilitatorEvmSigner,
	signerAddress string,
	hash [32]byte,
	signature []byte,
	allowUndeployed bool,
) (bool, *ERC6492SignatureData, error) {
	sigData, err := ParseERC6492Signature(signature)
	if err != nil {
		return false, nil, err
	}

	var zeroFactory [20]byte
	if len(sigData.InnerSignature) == 65 && sigData.Factory == zeroFactory {
		valid, err := VerifyEOASignature(hash[:], sigData.InnerSignature, common.HexToAddress(signerAddress))
		return valid, sigData, err
	}

	code, err := facilitatorSigner.GetCode(ctx, signerAddress)
	if err != nil {
		return false, nil, err
	}

	if len(code) == 0 {
		if sigData.Factory != zeroFactory && len(sigData.FactoryCalldata) > 0 {
			if !allowUndeployed {
				return false, nil, errors.New(ErrUndeployedSmartWallet + ": undeployed not allowed")
			}
			return true, sigData, nil
		}
		// No deployment info; the signer may be an EOA sending an
		// oddly framed signature.
		valid, err := VerifyEOASignature(hash[:], sigData.InnerSignature, common.HexToAddress(signerAddress))
		return valid, sigData, err
	}

	valid, err := VerifyEIP1271Signature(ctx, facilitatorSigner, signerAddress, hash, sigData.InnerSignature)
	return valid, sigData, err
}

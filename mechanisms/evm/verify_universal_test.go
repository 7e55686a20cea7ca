package evm

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestVerifyUniversalSignatureEOA(t *testing.T) {
	ctx := context.Background()

	privateKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	address := crypto.PubkeyToAddress(privateKey.PublicKey)

	digest := crypto.Keccak256([]byte("authorization digest"))
	sig, err := crypto.Sign(digest, privateKey)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	sig[64] += 27

	var hash32 [32]byte
	copy(hash32[:], digest)

	// No bytecode at the address.
	stub := &chainStub{code: []byte{}}

	t.Run("valid signature short-circuits to recovery", func(t *testing.T) {
		valid, sigData, err := VerifyUniversalSignature(ctx, stub, address.Hex(), hash32, sig, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !valid {
			t.Error("expected valid signature")
		}
		if sigData == nil {
			t.Fatal("expected parsed signature data")
		}
		if !bytes.Equal(sigData.InnerSignature, sig) {
			t.Error("inner signature should be the input signature")
		}
	})

	t.Run("recovery to a different address fails", func(t *testing.T) {
		other := common.HexToAddress("0x0000000000000000000000000000000000000001")
		valid, _, err := VerifyUniversalSignature(ctx, stub, other.Hex(), hash32, sig, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if valid {
			t.Error("expected invalid signature")
		}
	})
}

func TestVerifyUniversalSignatureEIP1271(t *testing.T) {
	ctx := context.Background()
	wallet := "0x1234567890123456789012345678901234567890"
	var digest [32]byte
	for i := range digest {
		digest[i] = byte(i + 1)
	}
	walletSig := make([]byte, 100) // not 65 bytes, so the contract path runs

	t.Run("deployed wallet accepts", func(t *testing.T) {
		stub := &chainStub{
			code:       []byte{0x60, 0x80},
			readResult: []byte{0x16, 0x26, 0xba, 0x7e},
		}
		valid, sigData, err := VerifyUniversalSignature(ctx, stub, wallet, digest, walletSig, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !valid {
			t.Error("expected valid signature")
		}
		if sigData == nil {
			t.Error("expected parsed signature data")
		}
	})

	t.Run("deployed wallet rejects", func(t *testing.T) {
		stub := &chainStub{
			code:       []byte{0x60, 0x80},
			readResult: []byte{0x00, 0x00, 0x00, 0x00},
		}
		valid, _, err := VerifyUniversalSignature(ctx, stub, wallet, digest, walletSig, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if valid {
			t.Error("expected invalid signature")
		}
	})
}

func TestVerifyUniversalSignatureERC6492(t *testing.T) {
	ctx := context.Background()
	wallet := "0x1234567890123456789012345678901234567890"
	digest := [32]byte{1, 2, 3, 4, 5}

	factory := common.HexToAddress("0xfactory0000000000000000000000000000000000")
	wrapped := wrap6492(t, factory, []byte("deploy calldata"), make([]byte, 65))
	undeployed := &chainStub{code: []byte{}}

	t.Run("undeployed wallet allowed", func(t *testing.T) {
		valid, sigData, err := VerifyUniversalSignature(ctx, undeployed, wallet, digest, wrapped, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !valid {
			t.Error("expected the counterfactual signature to pass")
		}
		if sigData == nil {
			t.Fatal("expected parsed signature data")
		}
		if common.BytesToAddress(sigData.Factory[:]) != factory {
			t.Error("factory address lost in parsing")
		}
	})

	t.Run("undeployed wallet not allowed", func(t *testing.T) {
		valid, _, err := VerifyUniversalSignature(ctx, undeployed, wallet, digest, wrapped, false)
		if err == nil {
			t.Error("expected an error when undeployed wallets are disallowed")
		}
		if valid {
			t.Error("expected invalid result")
		}
	})

	t.Run("undeployed wallet without deployment info", func(t *testing.T) {
		// Oversized signature with no ERC-6492 wrapper: falls back to
		// EOA recovery, which rejects the length.
		valid, _, err := VerifyUniversalSignature(ctx, undeployed, wallet, digest, make([]byte, 100), true)
		if err == nil {
			t.Error("expected an error without deployment info")
		}
		if valid {
			t.Error("expected invalid result")
		}
	})
}

func TestVerifyUniversalSignatureErrors(t *testing.T) {
	ctx := context.Background()
	digest := [32]byte{1, 2, 3}

	t.Run("GetCode failure propagates", func(t *testing.T) {
		stub := &chainStub{codeErr: errors.New("network error")}
		valid, _, err := VerifyUniversalSignature(ctx, stub, "0x1234", digest, make([]byte, 64), true)
		if err == nil {
			t.Error("expected error when GetCode fails")
		}
		if valid {
			t.Error("expected invalid result")
		}
	})

	t.Run("malformed ERC-6492 wrapper", func(t *testing.T) {
		malformed := append([]byte{0x00, 0x01}, erc6492MagicBytes...)
		stub := &chainStub{code: []byte{}}
		if _, _, err := VerifyUniversalSignature(ctx, stub, "0x1234", digest, malformed, true); err == nil {
			t.Error("expected decode error for malformed wrapper")
		}
	})
}

package evm

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestVerifyEOASignature(t *testing.T) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	address := crypto.PubkeyToAddress(privateKey.PublicKey)

	digest := crypto.Keccak256([]byte("payment authorization digest"))
	sig, err := crypto.Sign(digest, privateKey)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	sig[64] += 27

	signedOther := func() []byte {
		otherDigest := crypto.Keccak256([]byte("some other digest"))
		otherSig, _ := crypto.Sign(otherDigest, privateKey)
		otherSig[64] += 27
		return otherSig
	}

	tests := []struct {
		name      string
		hash      []byte
		signature []byte
		address   common.Address
		want      bool
		wantErr   bool
	}{
		{
			name:      "valid signature",
			hash:      digest,
			signature: sig,
			address:   address,
			want:      true,
		},
		{
			name:      "64 bytes rejected",
			hash:      digest,
			signature: make([]byte, 64),
			address:   address,
			wantErr:   true,
		},
		{
			name:      "66 bytes rejected",
			hash:      digest,
			signature: make([]byte, 66),
			address:   address,
			wantErr:   true,
		},
		{
			name:      "empty signature rejected",
			hash:      digest,
			signature: []byte{},
			address:   address,
			wantErr:   true,
		},
		{
			name:      "recovers to a different address",
			hash:      digest,
			signature: sig,
			address:   common.HexToAddress("0x0000000000000000000000000000000000000001"),
			want:      false,
		},
		{
			name:      "signature over a different digest",
			hash:      digest,
			signature: signedOther(),
			address:   address,
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := VerifyEOASignature(tt.hash, tt.signature, tt.address)
			if (err != nil) != tt.wantErr {
				t.Fatalf("VerifyEOASignature() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("VerifyEOASignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVerifyEOASignatureRecoveryID(t *testing.T) {
	privateKey, _ := crypto.GenerateKey()
	address := crypto.PubkeyToAddress(privateKey.PublicKey)
	digest := crypto.Keccak256([]byte("recovery id forms"))

	t.Run("raw recovery id 0/1", func(t *testing.T) {
		sig, _ := crypto.Sign(digest, privateKey)
		got, err := VerifyEOASignature(digest, sig, address)
		if err != nil {
			t.Fatalf("VerifyEOASignature() error = %v", err)
		}
		if !got {
			t.Error("signature with raw v should verify")
		}
	})

	t.Run("ethereum v 27/28", func(t *testing.T) {
		sig, _ := crypto.Sign(digest, privateKey)
		sig[64] += 27
		got, err := VerifyEOASignature(digest, sig, address)
		if err != nil {
			t.Fatalf("VerifyEOASignature() error = %v", err)
		}
		if !got {
			t.Error("signature with Ethereum v should verify")
		}
	})
}

package evm

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// wrap6492 builds a wrapped ERC-6492 signature:
// abi.encode((factory, factoryCalldata, innerSig)) followed by the magic suffix.
func wrap6492(t *testing.T, factory common.Address, factoryData []byte, innerSig []byte) []byte {
	t.Helper()

	addressTy, err := abi.NewType("address", "", nil)
	if err != nil {
		t.Fatalf("failed to create address type: %v", err)
	}
	bytesTy, err := abi.NewType("bytes", "", nil)
	if err != nil {
		t.Fatalf("failed to create bytes type: %v", err)
	}
	arguments := abi.Arguments{{Type: addressTy}, {Type: bytesTy}, {Type: bytesTy}}

	packed, err := arguments.Pack(factory, factoryData, innerSig)
	if err != nil {
		t.Fatalf("failed to pack ERC-6492 data: %v", err)
	}
	return append(packed, erc6492MagicBytes...)
}

func TestIsERC6492Signature(t *testing.T) {
	tests := []struct {
		name string
		sig  []byte
		want bool
	}{
		{name: "magic suffix present", sig: append(make([]byte, 100), erc6492MagicBytes...), want: true},
		{name: "plain 65-byte signature", sig: make([]byte, 65), want: false},
		{name: "shorter than the magic", sig: make([]byte, 10), want: false},
		{name: "empty", sig: []byte{}, want: false},
		{name: "wrong suffix", sig: append(make([]byte, 100), make([]byte, 32)...), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsERC6492Signature(tt.sig); got != tt.want {
				t.Errorf("IsERC6492Signature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseERC6492Signature(t *testing.T) {
	factory := common.HexToAddress("0x1234567890123456789012345678901234567890")
	factoryCalldata := []byte("factory calldata")
	innerSig := make([]byte, 65)
	for i := range innerSig {
		innerSig[i] = byte(i)
	}

	t.Run("wrapped signature", func(t *testing.T) {
		result, err := ParseERC6492Signature(wrap6492(t, factory, factoryCalldata, innerSig))
		if err != nil {
			t.Fatalf("ParseERC6492Signature() error = %v", err)
		}
		if common.BytesToAddress(result.Factory[:]) != factory {
			t.Errorf("Factory = %v, want %v", common.BytesToAddress(result.Factory[:]), factory)
		}
		if !bytes.Equal(result.FactoryCalldata, factoryCalldata) {
			t.Errorf("FactoryCalldata = %q, want %q", result.FactoryCalldata, factoryCalldata)
		}
		if !bytes.Equal(result.InnerSignature, innerSig) {
			t.Errorf("InnerSignature does not round-trip")
		}
	})

	t.Run("unwrapped signature passes through", func(t *testing.T) {
		result, err := ParseERC6492Signature(innerSig)
		if err != nil {
			t.Fatalf("ParseERC6492Signature() error = %v", err)
		}
		if !bytes.Equal(result.InnerSignature, innerSig) {
			t.Errorf("InnerSignature = %v, want the input unchanged", result.InnerSignature)
		}
		var zeroFactory [20]byte
		if result.Factory != zeroFactory {
			t.Error("Factory should be zero for an unwrapped signature")
		}
		if len(result.FactoryCalldata) != 0 {
			t.Error("FactoryCalldata should be empty for an unwrapped signature")
		}
	})

	t.Run("empty factory calldata", func(t *testing.T) {
		result, err := ParseERC6492Signature(wrap6492(t, factory, []byte{}, innerSig))
		if err != nil {
			t.Fatalf("ParseERC6492Signature() error = %v", err)
		}
		if len(result.FactoryCalldata) != 0 {
			t.Errorf("FactoryCalldata = %v, want empty", result.FactoryCalldata)
		}
	})

	t.Run("oversized inner signature", func(t *testing.T) {
		result, err := ParseERC6492Signature(wrap6492(t, factory, factoryCalldata, make([]byte, 200)))
		if err != nil {
			t.Fatalf("ParseERC6492Signature() error = %v", err)
		}
		if len(result.InnerSignature) != 200 {
			t.Errorf("InnerSignature length = %d, want 200", len(result.InnerSignature))
		}
	})

	t.Run("empty input", func(t *testing.T) {
		result, err := ParseERC6492Signature([]byte{})
		if err != nil {
			t.Fatalf("ParseERC6492Signature() error = %v", err)
		}
		if len(result.InnerSignature) != 0 {
			t.Errorf("InnerSignature should be empty")
		}
	})

	t.Run("magic suffix over garbage", func(t *testing.T) {
		garbage := append(make([]byte, 10), erc6492MagicBytes...)
		if _, err := ParseERC6492Signature(garbage); err == nil {
			t.Error("expected decode error for malformed wrapper")
		}
	})

	t.Run("magic suffix alone", func(t *testing.T) {
		if _, err := ParseERC6492Signature(erc6492MagicBytes); err == nil {
			t.Error("expected decode error for the bare magic value")
		}
	})
}

func TestHexToBytes(t *testing.T) {
	tests := []struct {
		name    string
		hexStr  string
		want    []byte
		wantErr bool
	}{
		{name: "with 0x prefix", hexStr: "0x1234", want: []byte{0x12, 0x34}},
		{name: "without prefix", hexStr: "1234", want: []byte{0x12, 0x34}},
		{name: "empty string", hexStr: "", want: []byte{}},
		{name: "invalid hex", hexStr: "0xGGGG", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HexToBytes(tt.hexStr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("HexToBytes() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !bytes.Equal(got, tt.want) {
				t.Errorf("HexToBytes() = %v, want %v", got, tt.want)
			}
		})
	}
}

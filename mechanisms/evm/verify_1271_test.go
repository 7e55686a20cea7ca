package evm

import (
	"context"
	"errors"
	"math/big"
	"testing"
)

// chainStub implements FacilitatorEvmSigner with canned chain state for
// the signature verification tests. Methods the tests never reach
// return errors.
type chainStub struct {
	readResult interface{}
	readErr    error
	code       []byte
	codeErr    error
}

func (m *chainStub) GetAddresses() []string {
	return []string{"0x0000000000000000000000000000000000000000"}
}

func (m *chainStub) ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	return m.readResult, nil
}

func (m *chainStub) VerifyTypedData(ctx context.Context, address string, domain TypedDataDomain, types map[string][]TypedDataField, primaryType string, message map[string]interface{}, signature []byte) (bool, error) {
	return false, errors.New("not implemented")
}

func (m *chainStub) WriteContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (string, error) {
	return "", errors.New("not implemented")
}

func (m *chainStub) SendTransaction(ctx context.Context, to string, data []byte) (string, error) {
	return "", errors.New("not implemented")
}

func (m *chainStub) WaitForTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error) {
	return nil, errors.New("not implemented")
}

func (m *chainStub) GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (m *chainStub) GetChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (m *chainStub) GetCode(ctx context.Context, address string) ([]byte, error) {
	if m.codeErr != nil {
		return nil, m.codeErr
	}
	return m.code, nil
}

func TestVerifyEIP1271Signature(t *testing.T) {
	ctx := context.Background()
	wallet := "0x1234567890123456789012345678901234567890"
	var digest [32]byte
	for i := range digest {
		digest[i] = byte(i + 1)
	}
	signature := []byte("opaque wallet signature")

	tests := []struct {
		name       string
		readResult interface{}
		readErr    error
		want       bool
		wantErr    bool
	}{
		{
			name:       "magic value as bytes",
			readResult: []byte{0x16, 0x26, 0xba, 0x7e},
			want:       true,
		},
		{
			name:       "magic value as fixed array",
			readResult: [4]byte{0x16, 0x26, 0xba, 0x7e},
			want:       true,
		},
		{
			name:       "wrong magic value",
			readResult: []byte{0x00, 0x00, 0x00, 0x00},
			want:       false,
		},
		{
			name:    "contract call reverts",
			readErr: errors.New("execution reverted"),
			wantErr: true,
		},
		{
			name:       "unexpected return type",
			readResult: "not bytes",
			wantErr:    true,
		},
		{
			name:       "return value too short",
			readResult: []byte{0x16},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &chainStub{readResult: tt.readResult, readErr: tt.readErr}
			got, err := VerifyEIP1271Signature(ctx, stub, wallet, digest, signature)
			if (err != nil) != tt.wantErr {
				t.Fatalf("VerifyEIP1271Signature() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("VerifyEIP1271Signature() = %v, want %v", got, tt.want)
			}
		})
	}
}

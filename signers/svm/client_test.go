package svm

import (
	"context"
	"testing"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

// Deterministic throwaway key for signer tests
const testPrivateKeyBase58 = "4Z7cXSyeFR8wNGMVXUE1TwtKn5D5Vu7FzEv69dokLv7KrQk7h2enu1bSz1tLTjKLuqBm1cUYXL9j3xTmD8wWEqmr"

// buildTransferTx makes a one-instruction SOL transfer paid by the signer
func buildTransferTx(t *testing.T, payer solana.PublicKey) *solana.Transaction {
	t.Helper()

	recipient := solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	transferIx := system.NewTransferInstruction(1000000, payer, recipient).Build()

	tx, err := solana.NewTransactionBuilder().
		AddInstruction(transferIx).
		SetRecentBlockHash(solana.MustHashFromBase58("11111111111111111111111111111111")).
		SetFeePayer(payer).
		Build()
	if err != nil {
		t.Fatalf("failed to build transaction: %v", err)
	}
	return tx
}

func TestNewClientSignerFromPrivateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "valid base58 key", key: testPrivateKeyBase58},
		{name: "not base58", key: "invalid!!!", wantErr: true},
		{name: "too short", key: "short", wantErr: true},
		{name: "empty", key: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer, err := NewClientSignerFromPrivateKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewClientSignerFromPrivateKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && signer == nil {
				t.Error("expected a signer")
			}
		})
	}
}

func TestClientSignerAddress(t *testing.T) {
	signer, err := NewClientSignerFromPrivateKey(testPrivateKeyBase58)
	if err != nil {
		t.Fatalf("NewClientSignerFromPrivateKey() failed: %v", err)
	}

	addr := signer.Address()
	if addr == (solana.PublicKey{}) {
		t.Error("Address() returned the zero public key")
	}
	if len(addr) != 32 {
		t.Errorf("Address() length = %d, want 32", len(addr))
	}
}

func TestClientSignerSignTransaction(t *testing.T) {
	signer, err := NewClientSignerFromPrivateKey(testPrivateKeyBase58)
	if err != nil {
		t.Fatalf("NewClientSignerFromPrivateKey() failed: %v", err)
	}

	tx := buildTransferTx(t, signer.Address())
	if err := signer.SignTransaction(context.Background(), tx); err != nil {
		t.Fatalf("SignTransaction() failed: %v", err)
	}

	if len(tx.Signatures) == 0 {
		t.Fatal("SignTransaction() added no signatures")
	}

	var signed bool
	for _, sig := range tx.Signatures {
		if sig != (solana.Signature{}) {
			signed = true
			break
		}
	}
	if !signed {
		t.Error("SignTransaction() left only zero signatures")
	}
}

func TestClientSignerFillsSignatureSlot(t *testing.T) {
	signer, err := NewClientSignerFromPrivateKey(testPrivateKeyBase58)
	if err != nil {
		t.Fatalf("NewClientSignerFromPrivateKey() failed: %v", err)
	}

	tx := buildTransferTx(t, signer.Address())
	if err := signer.SignTransaction(context.Background(), tx); err != nil {
		t.Fatalf("SignTransaction() failed: %v", err)
	}

	// The signature must land in the slot matching the signer's
	// position in the account keys.
	accountIndex, _ := tx.GetAccountIndex(signer.Address())
	if int(accountIndex) >= len(tx.Signatures) {
		t.Fatalf("signature array not sized for index %d (length %d)", accountIndex, len(tx.Signatures))
	}
	if tx.Signatures[accountIndex] == (solana.Signature{}) {
		t.Error("signer's signature slot is still zero")
	}
}

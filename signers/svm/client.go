package svm

import (
	"context"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
)

// ClientSigner implements x402svm.ClientSvmSigner using an ed25519 keypair.
// It signs payment transactions client-side, filling only its own
// signature slot so a facilitator fee payer can co-sign later.
type ClientSigner struct {
	privateKey solana.PrivateKey
	publicKey  solana.PublicKey
}

// NewClientSignerFromPrivateKey creates a client signer from a
// base58-encoded private key
func NewClientSignerFromPrivateKey(privateKeyBase58 string) (*ClientSigner, error) {
	privateKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return &ClientSigner{
		privateKey: privateKey,
		publicKey:  privateKey.PublicKey(),
	}, nil
}

// Address returns the signer's public key
func (s *ClientSigner) Address() solana.PublicKey {
	return s.publicKey
}

// SignTransaction signs the transaction message and stores the signature
// in the slot matching this signer's account position, expanding the
// signatures array to the required length if needed. Other signer slots
// are left untouched.
func (s *ClientSigner) SignTransaction(_ context.Context, tx *solana.Transaction) error {
	msgBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	signature, err := s.privateKey.Sign(msgBytes)
	if err != nil {
		return fmt.Errorf("failed to sign message: %w", err)
	}

	numRequired := int(tx.Message.Header.NumRequiredSignatures)
	for len(tx.Signatures) < numRequired {
		tx.Signatures = append(tx.Signatures, solana.Signature{})
	}

	for i := 0; i < numRequired && i < len(tx.Message.AccountKeys); i++ {
		if tx.Message.AccountKeys[i].Equals(s.publicKey) {
			tx.Signatures[i] = signature
			return nil
		}
	}

	return fmt.Errorf("signer %s is not a required signer of this transaction", s.publicKey)
}

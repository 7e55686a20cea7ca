package svm

import (
	"context"
	"fmt"
	"sync"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	x402svm "x402-go/mechanisms/svm"
)

// FacilitatorSigner implements x402svm.FacilitatorSvmSigner over an ed25519
// fee-payer keypair and per-network RPC connections.
type FacilitatorSigner struct {
	privateKey solana.PrivateKey
	publicKey  solana.PublicKey

	// defaultRPC overrides the per-network default endpoints when set
	defaultRPC string

	mu      sync.Mutex
	clients map[string]*rpc.Client
}

// NewFacilitatorSigner creates a facilitator signer from a base58-encoded
// private key. rpcURL overrides the network default endpoint when non-empty.
func NewFacilitatorSigner(privateKeyBase58 string, rpcURL string) (*FacilitatorSigner, error) {
	privateKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return &FacilitatorSigner{
		privateKey: privateKey,
		publicKey:  privateKey.PublicKey(),
		defaultRPC: rpcURL,
		clients:    make(map[string]*rpc.Client),
	}, nil
}

// GetAddresses returns the fee-payer addresses managed for the network
func (s *FacilitatorSigner) GetAddresses(_ context.Context, _ string) []string {
	return []string{s.publicKey.String()}
}

// SignTransaction signs with the fee-payer key, filling the matching slot
func (s *FacilitatorSigner) SignTransaction(_ context.Context, _ string, tx *solana.Transaction) error {
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

	return fmt.Errorf("fee payer %s is not a required signer of this transaction", s.publicKey)
}

// SimulateTransaction simulates the transaction with signature
// verification enabled
func (s *FacilitatorSigner) SimulateTransaction(ctx context.Context, network string, tx *solana.Transaction) error {
	client, err := s.clientFor(network)
	if err != nil {
		return err
	}

	result, err := client.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:  true,
		Commitment: rpc.CommitmentProcessed,
	})
	if err != nil {
		return fmt.Errorf("simulation request failed: %w", err)
	}
	if result.Value != nil && result.Value.Err != nil {
		return fmt.Errorf("simulation failed: %v (logs: %v)", result.Value.Err, result.Value.Logs)
	}
	return nil
}

// SendTransaction submits the transaction with preflight skipped
func (s *FacilitatorSigner) SendTransaction(ctx context.Context, network string, tx *solana.Transaction) (string, error) {
	client, err := s.clientFor(network)
	if err != nil {
		return "", err
	}

	signature, err := client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	return signature.String(), nil
}

// ConfirmTransaction polls signature statuses until the transaction is
// confirmed, fails on-chain, or the context expires
func (s *FacilitatorSigner) ConfirmTransaction(ctx context.Context, network string, signature string) error {
	client, err := s.clientFor(network)
	if err != nil {
		return err
	}

	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return fmt.Errorf("invalid transaction signature: %w", err)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			result, err := client.GetSignatureStatuses(ctx, true, sig)
			if err != nil {
				continue
			}
			if len(result.Value) == 0 || result.Value[0] == nil {
				continue
			}
			status := result.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction failed on-chain: %v", status.Err)
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
		}
	}
}

func (s *FacilitatorSigner) clientFor(network string) (*rpc.Client, error) {
	url := s.defaultRPC
	if url == "" {
		config, err := x402svm.GetNetworkConfig(network)
		if err != nil {
			return nil, err
		}
		url = config.RPCURL
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if client, ok := s.clients[url]; ok {
		return client, nil
	}
	client := rpc.New(url)
	s.clients[url] = client
	return client, nil
}

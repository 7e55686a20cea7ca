package svm

import (
	"context"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
)

// ClientSvmSigner signs Solana transactions on behalf of a paying client
type ClientSvmSigner interface {
	// Address returns the signer's public key
	Address() solana.PublicKey

	// SignTransaction adds the signer's signature to the transaction,
	// expanding the signature slots as needed
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// FacilitatorSvmSigner is the facilitator's view of its Solana fee-payer
// keys and RPC connection. The network parameter is the CAIP-2 identifier
// or a legacy v1 name; implementations route to the matching RPC endpoint.
type FacilitatorSvmSigner interface {
	// GetAddresses returns the fee-payer addresses this facilitator
	// controls for the given network
	GetAddresses(ctx context.Context, network string) []string

	// SignTransaction signs the transaction with the managed fee-payer key
	SignTransaction(ctx context.Context, network string, tx *solana.Transaction) error

	// SimulateTransaction simulates the transaction with signature
	// verification enabled; a non-nil error means simulation failed
	SimulateTransaction(ctx context.Context, network string, tx *solana.Transaction) error

	// SendTransaction submits the transaction with preflight skipped and
	// returns its signature
	SendTransaction(ctx context.Context, network string, tx *solana.Transaction) (string, error)

	// ConfirmTransaction polls until the signature is confirmed, fails,
	// or the context expires
	ConfirmTransaction(ctx context.Context, network string, signature string) error
}

// ExactSvmPayload is the scheme-specific inner payload: a base64-encoded
// serialized transaction, partially signed by the payer (v2) or fully
// signed (v1).
type ExactSvmPayload struct {
	Transaction string `json:"transaction"`
}

// ToMap converts the payload to the generic map carried inside a
// PaymentPayload
func (p *ExactSvmPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"transaction": p.Transaction,
	}
}

// PayloadFromMap extracts an ExactSvmPayload from a generic payload map
func PayloadFromMap(data map[string]interface{}) (*ExactSvmPayload, error) {
	payload := &ExactSvmPayload{}

	tx, ok := data["transaction"].(string)
	if !ok || tx == "" {
		return nil, fmt.Errorf("payload missing transaction field")
	}
	payload.Transaction = tx

	return payload, nil
}

// TransferInfo is the decoded content of a TransferChecked instruction
type TransferInfo struct {
	Source    solana.PublicKey
	Mint      solana.PublicKey
	Dest      solana.PublicKey
	Authority solana.PublicKey
	Amount    uint64
	Decimals  uint8
}

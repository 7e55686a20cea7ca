package facilitator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"time"

	solana "github.com/gagliardetto/solana-go"

	x402 "x402-go"
	"x402-go/mechanisms/svm"
	"x402-go/types"
)

// ExactSvmScheme implements the SchemeNetworkFacilitator interface for SVM
// exact payments (V2). The facilitator co-signs the payer's partially
// signed transaction as fee payer, simulates it before declaring the
// payment valid, and submits it with preflight skipped at settlement.
type ExactSvmScheme struct {
	signer svm.FacilitatorSvmSigner
}

// NewExactSvmScheme creates a new ExactSvmScheme facilitator
func NewExactSvmScheme(signer svm.FacilitatorSvmSigner) *ExactSvmScheme {
	return &ExactSvmScheme{
		signer: signer,
	}
}

// Scheme returns the scheme identifier
func (f *ExactSvmScheme) Scheme() string {
	return svm.SchemeExact
}

// CaipFamily returns the CAIP family pattern this facilitator supports
func (f *ExactSvmScheme) CaipFamily() string {
	return "solana:*"
}

// GetExtra returns the fee payer the client must set on its transaction.
// When the facilitator manages several fee payers one is picked at random
// to spread rent and fee load.
func (f *ExactSvmScheme) GetExtra(network x402.Network) map[string]interface{} {
	addresses := f.signer.GetAddresses(context.Background(), string(network))
	if len(addresses) == 0 {
		return nil
	}
	return map[string]interface{}{
		"feePayer": addresses[rand.Intn(len(addresses))],
	}
}

// GetSigners returns the fee-payer addresses for the network
func (f *ExactSvmScheme) GetSigners(network x402.Network) []string {
	return f.signer.GetAddresses(context.Background(), string(network))
}

// Verify verifies a V2 payment payload against requirements
func (f *ExactSvmScheme) Verify(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
) (*x402.VerifyResponse, error) {
	network := x402.Network(requirements.Network)

	if payload.Accepted.Scheme != svm.SchemeExact {
		return nil, x402.NewVerifyError(svm.ErrUnsupportedScheme, "", network, nil)
	}
	if payload.Accepted.Network != requirements.Network {
		return nil, x402.NewVerifyError(svm.ErrNetworkMismatch, "", network, nil)
	}
	if !svm.IsValidNetwork(requirements.Network) {
		return nil, x402.NewVerifyError(svm.ErrFailedToGetNetworkConfig, "", network, nil)
	}

	tx, info, err := f.checkTransaction(ctx, payload.Payload, requirements.Network, requirements.Asset, requirements.PayTo, requirements.Amount, requirements.Extra)
	if err != nil {
		return nil, err
	}

	// Sign as fee payer and simulate with signature verification enabled.
	// Simulation catches everything the pure checks cannot: missing source
	// ATA, frozen accounts, insufficient token balance.
	if err := f.signer.SignTransaction(ctx, requirements.Network, tx); err != nil {
		return nil, x402.NewVerifyError(svm.ErrInvalidTransaction, info.Authority.String(), network, err)
	}
	if err := f.signer.SimulateTransaction(ctx, requirements.Network, tx); err != nil {
		return nil, x402.NewVerifyError(svm.ErrSimulationFailed, info.Authority.String(), network, err)
	}

	return &x402.VerifyResponse{
		IsValid: true,
		Payer:   info.Authority.String(),
	}, nil
}

// Settle settles a V2 payment on-chain
func (f *ExactSvmScheme) Settle(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
) (*x402.SettleResponse, error) {
	network := x402.Network(requirements.Network)

	verifyResp, err := f.Verify(ctx, payload, requirements)
	if err != nil {
		ve := &x402.VerifyError{}
		if errors.As(err, &ve) {
			return nil, x402.NewSettleError(ve.Reason, ve.Payer, ve.Network, "", ve.Err)
		}
		return nil, x402.NewSettleError("verification_failed", "", network, "", err)
	}

	// Re-decode and re-sign; Verify worked on its own copy
	svmPayload, err := svm.PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, x402.NewSettleError(svm.ErrInvalidPayload, verifyResp.Payer, network, "", err)
	}
	tx, err := svm.DecodeTransactionBase64(svmPayload.Transaction)
	if err != nil {
		return nil, x402.NewSettleError(svm.ErrInvalidTransaction, verifyResp.Payer, network, "", err)
	}
	if err := f.signer.SignTransaction(ctx, requirements.Network, tx); err != nil {
		return nil, x402.NewSettleError(svm.ErrInvalidTransaction, verifyResp.Payer, network, "", err)
	}

	// Preflight is skipped: the transaction was already simulated in Verify
	signature, err := f.signer.SendTransaction(ctx, requirements.Network, tx)
	if err != nil {
		return nil, x402.NewSettleError(svm.ErrTransactionFailed, verifyResp.Payer, network, "", err)
	}

	confirmCtx, cancel := context.WithTimeout(ctx, svm.ConfirmTimeoutSeconds*time.Second)
	defer cancel()
	if err := f.signer.ConfirmTransaction(confirmCtx, requirements.Network, signature); err != nil {
		return nil, x402.NewSettleError(svm.ErrTransactionFailed, verifyResp.Payer, network, signature, err)
	}

	return &x402.SettleResponse{
		Success:     true,
		Transaction: signature,
		Network:     network,
		Payer:       verifyResp.Payer,
	}, nil
}

// checkTransaction runs the pure (state-independent) checks on the payment
// transaction and returns the decoded transaction and transfer details.
// Ordering matters: the instruction count is rejected before any
// instruction is inspected.
func (f *ExactSvmScheme) checkTransaction(
	ctx context.Context,
	payloadMap map[string]interface{},
	networkStr string,
	asset string,
	payTo string,
	amount string,
	extra map[string]interface{},
) (*solana.Transaction, *svm.TransferInfo, error) {
	network := x402.Network(networkStr)

	svmPayload, err := svm.PayloadFromMap(payloadMap)
	if err != nil {
		return nil, nil, x402.NewVerifyError(svm.ErrInvalidPayload, "", network, err)
	}

	tx, err := svm.DecodeTransactionBase64(svmPayload.Transaction)
	if err != nil {
		return nil, nil, x402.NewVerifyError(svm.ErrInvalidTransaction, "", network, err)
	}

	instructions := tx.Message.Instructions
	if len(instructions) < svm.MinInstructions || len(instructions) > svm.MaxInstructions {
		return nil, nil, x402.NewVerifyError(svm.ErrInvalidInstructionCount, "", network,
			fmt.Errorf("transaction has %d instructions, want %d-%d", len(instructions), svm.MinInstructions, svm.MaxInstructions))
	}

	if err := svm.ValidateComputeUnitLimit(tx, instructions[0]); err != nil {
		return nil, nil, x402.NewVerifyError(svm.ErrInvalidComputeLimit, "", network, err)
	}

	price, err := svm.ValidateComputeUnitPrice(tx, instructions[1])
	if err != nil {
		return nil, nil, x402.NewVerifyError(svm.ErrInvalidComputePrice, "", network, err)
	}
	if price > svm.MaxComputeUnitPrice {
		return nil, nil, x402.NewVerifyError(svm.ErrInvalidComputePrice, "", network,
			fmt.Errorf("compute unit price %d exceeds maximum %d", price, svm.MaxComputeUnitPrice))
	}

	info, err := svm.ParseTransferChecked(tx, instructions[2])
	if err != nil {
		return nil, nil, x402.NewVerifyError(svm.ErrInvalidTransferInstr, "", network, err)
	}

	for _, ix := range instructions[3:] {
		if err := svm.ValidateExtraInstruction(tx, ix); err != nil {
			return nil, nil, x402.NewVerifyError(svm.ErrInvalidExtraInstr, info.Authority.String(), network, err)
		}
	}

	// The declared fee payer must be one of this facilitator's keys and
	// must match the transaction's fee payer (first account)
	feePayerStr, _ := extra["feePayer"].(string)
	managed := f.signer.GetAddresses(ctx, networkStr)
	if feePayerStr == "" || !containsAddress(managed, feePayerStr) {
		return nil, nil, x402.NewVerifyError(svm.ErrFeePayerNotManaged, info.Authority.String(), network, nil)
	}
	if len(tx.Message.AccountKeys) == 0 || tx.Message.AccountKeys[0].String() != feePayerStr {
		return nil, nil, x402.NewVerifyError(svm.ErrFeePayerNotManaged, info.Authority.String(), network,
			fmt.Errorf("transaction fee payer does not match declared fee payer"))
	}

	// The transfer authority must never be a facilitator fee payer; a
	// hostile payload could otherwise move the facilitator's own funds
	if containsAddress(managed, info.Authority.String()) {
		return nil, nil, x402.NewVerifyError(svm.ErrFeePayerTransferring, info.Authority.String(), network, nil)
	}

	mint, err := svm.GetAssetMint(networkStr, asset)
	if err != nil {
		return nil, nil, x402.NewVerifyError(svm.ErrInvalidMint, info.Authority.String(), network, err)
	}
	if !info.Mint.Equals(mint) {
		return nil, nil, x402.NewVerifyError(svm.ErrInvalidMint, info.Authority.String(), network,
			fmt.Errorf("transfer mint %s, want %s", info.Mint, mint))
	}

	payToKey, err := solana.PublicKeyFromBase58(payTo)
	if err != nil {
		return nil, nil, x402.NewVerifyError(svm.ErrInvalidDestination, info.Authority.String(), network, err)
	}
	expectedDest, err := svm.DeriveATA(payToKey, mint)
	if err != nil {
		return nil, nil, x402.NewVerifyError(svm.ErrInvalidDestination, info.Authority.String(), network, err)
	}
	if !info.Dest.Equals(expectedDest) {
		return nil, nil, x402.NewVerifyError(svm.ErrInvalidDestination, info.Authority.String(), network,
			fmt.Errorf("transfer destination %s, want ATA %s", info.Dest, expectedDest))
	}

	required, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return nil, nil, x402.NewVerifyError(svm.ErrInvalidPayload, info.Authority.String(), network,
			fmt.Errorf("invalid required amount: %s", amount))
	}
	if new(big.Int).SetUint64(info.Amount).Cmp(required) < 0 {
		return nil, nil, x402.NewVerifyError(svm.ErrInsufficientAmount, info.Authority.String(), network, nil)
	}

	return tx, info, nil
}

func containsAddress(addresses []string, address string) bool {
	for _, a := range addresses {
		if a == address {
			return true
		}
	}
	return false
}

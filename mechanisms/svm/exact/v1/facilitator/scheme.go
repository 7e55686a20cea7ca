package facilitator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	solana "github.com/gagliardetto/solana-go"

	x402 "x402-go"
	"x402-go/mechanisms/svm"
	"x402-go/types"
)

// ExactSvmSchemeV1 implements the SchemeNetworkFacilitatorV1 interface for
// SVM exact payments on the legacy v1 protocol. V1 transactions arrive
// fully signed by the payer, who also pays their own fees; the facilitator
// only simulates and forwards them.
type ExactSvmSchemeV1 struct {
	signer svm.FacilitatorSvmSigner
}

// NewExactSvmSchemeV1 creates a new v1 SVM facilitator scheme
func NewExactSvmSchemeV1(signer svm.FacilitatorSvmSigner) *ExactSvmSchemeV1 {
	return &ExactSvmSchemeV1{
		signer: signer,
	}
}

// Scheme returns the scheme identifier
func (f *ExactSvmSchemeV1) Scheme() string {
	return svm.SchemeExact
}

// CaipFamily returns the CAIP family pattern this facilitator supports
func (f *ExactSvmSchemeV1) CaipFamily() string {
	return "solana:*"
}

// GetExtra returns nil: v1 payers fund their own fees, so no fee payer is published
func (f *ExactSvmSchemeV1) GetExtra(_ x402.Network) map[string]interface{} {
	return nil
}

// GetSigners returns the facilitator-controlled addresses for the network
func (f *ExactSvmSchemeV1) GetSigners(network x402.Network) []string {
	return f.signer.GetAddresses(context.Background(), string(network))
}

// Verify verifies a v1 payment payload against requirements
func (f *ExactSvmSchemeV1) Verify(
	ctx context.Context,
	payload types.PaymentPayloadV1,
	requirements types.PaymentRequirementsV1,
) (*x402.VerifyResponse, error) {
	network := x402.Network(requirements.Network)

	if payload.Scheme != svm.SchemeExact {
		return nil, x402.NewVerifyError(svm.ErrUnsupportedScheme, "", network, nil)
	}
	if payload.Network != requirements.Network {
		return nil, x402.NewVerifyError(svm.ErrNetworkMismatch, "", network, nil)
	}
	if !svm.IsValidNetwork(requirements.Network) {
		return nil, x402.NewVerifyError(svm.ErrFailedToGetNetworkConfig, "", network, nil)
	}

	tx, info, err := f.checkTransaction(ctx, payload.Payload, requirements)
	if err != nil {
		return nil, err
	}

	// The transaction arrives fully signed; simulate as-is
	if err := f.signer.SimulateTransaction(ctx, requirements.Network, tx); err != nil {
		return nil, x402.NewVerifyError(svm.ErrSimulationFailed, info.Authority.String(), network, err)
	}

	return &x402.VerifyResponse{
		IsValid: true,
		Payer:   info.Authority.String(),
	}, nil
}

// Settle settles a v1 payment on-chain
func (f *ExactSvmSchemeV1) Settle(
	ctx context.Context,
	payload types.PaymentPayloadV1,
	requirements types.PaymentRequirementsV1,
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

	svmPayload, err := svm.PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, x402.NewSettleError(svm.ErrInvalidPayload, verifyResp.Payer, network, "", err)
	}
	tx, err := svm.DecodeTransactionBase64(svmPayload.Transaction)
	if err != nil {
		return nil, x402.NewSettleError(svm.ErrInvalidTransaction, verifyResp.Payer, network, "", err)
	}

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

// checkTransaction runs the pure checks shared with v2, minus the fee
// payer requirements that only apply to co-signed v2 transactions
func (f *ExactSvmSchemeV1) checkTransaction(
	ctx context.Context,
	payloadMap map[string]interface{},
	requirements types.PaymentRequirementsV1,
) (*solana.Transaction, *svm.TransferInfo, error) {
	network := x402.Network(requirements.Network)

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

	// Even in v1 the transfer authority must not be a facilitator key
	if managed := f.signer.GetAddresses(ctx, requirements.Network); containsAddress(managed, info.Authority.String()) {
		return nil, nil, x402.NewVerifyError(svm.ErrFeePayerTransferring, info.Authority.String(), network, nil)
	}

	mint, err := svm.GetAssetMint(requirements.Network, requirements.Asset)
	if err != nil {
		return nil, nil, x402.NewVerifyError(svm.ErrInvalidMint, info.Authority.String(), network, err)
	}
	if !info.Mint.Equals(mint) {
		return nil, nil, x402.NewVerifyError(svm.ErrInvalidMint, info.Authority.String(), network,
			fmt.Errorf("transfer mint %s, want %s", info.Mint, mint))
	}

	payToKey, err := solana.PublicKeyFromBase58(requirements.PayTo)
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

	required, ok := new(big.Int).SetString(requirements.MaxAmountRequired, 10)
	if !ok {
		return nil, nil, x402.NewVerifyError(svm.ErrInvalidPayload, info.Authority.String(), network,
			fmt.Errorf("invalid maxAmountRequired: %s", requirements.MaxAmountRequired))
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

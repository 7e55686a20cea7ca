package client

import (
	"context"
	"encoding/binary"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"x402-go/mechanisms/svm"
	"x402-go/types"
)

// ExactSvmSchemeV1 implements the SchemeNetworkClientV1 interface for SVM
// exact payments on the legacy v1 protocol. Unlike v2 there is no
// facilitator co-signing: the payer is the sole signer and pays its own
// transaction fees.
type ExactSvmSchemeV1 struct {
	signer svm.ClientSvmSigner
	rpcURL string
}

// NewExactSvmSchemeV1 creates a new v1 SVM client scheme
func NewExactSvmSchemeV1(signer svm.ClientSvmSigner) *ExactSvmSchemeV1 {
	return &ExactSvmSchemeV1{
		signer: signer,
	}
}

// WithRPCURL overrides the default RPC endpoint
func (c *ExactSvmSchemeV1) WithRPCURL(url string) *ExactSvmSchemeV1 {
	c.rpcURL = url
	return c
}

// Scheme returns the scheme identifier
func (c *ExactSvmSchemeV1) Scheme() string {
	return svm.SchemeExact
}

// CreatePaymentPayload creates a v1 payment payload for the exact scheme
func (c *ExactSvmSchemeV1) CreatePaymentPayload(
	ctx context.Context,
	requirements types.PaymentRequirementsV1,
) (types.PaymentPayloadV1, error) {
	config, err := svm.GetNetworkConfig(requirements.Network)
	if err != nil {
		return types.PaymentPayloadV1{}, err
	}

	mint, err := svm.GetAssetMint(requirements.Network, requirements.Asset)
	if err != nil {
		return types.PaymentPayloadV1{}, err
	}

	var amount uint64
	if _, err := fmt.Sscanf(requirements.MaxAmountRequired, "%d", &amount); err != nil {
		return types.PaymentPayloadV1{}, fmt.Errorf("invalid maxAmountRequired: %s", requirements.MaxAmountRequired)
	}

	payTo, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return types.PaymentPayloadV1{}, fmt.Errorf("invalid payTo address: %w", err)
	}

	sourceATA, err := svm.DeriveATA(c.signer.Address(), mint)
	if err != nil {
		return types.PaymentPayloadV1{}, err
	}
	destATA, err := svm.DeriveATA(payTo, mint)
	if err != nil {
		return types.PaymentPayloadV1{}, err
	}

	rpcURL := c.rpcURL
	if rpcURL == "" {
		rpcURL = config.RPCURL
	}
	rpcClient := rpc.New(rpcURL)

	recent, err := rpcClient.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return types.PaymentPayloadV1{}, fmt.Errorf("failed to get blockhash: %w", err)
	}

	instructions := []solana.Instruction{
		newSetComputeUnitLimitInstruction(svm.DefaultComputeUnitLimit),
		newSetComputeUnitPriceInstruction(svm.DefaultComputeUnitPrice),
		newTransferCheckedInstruction(sourceATA, mint, destATA, c.signer.Address(), amount, svm.DefaultDecimals),
	}

	// V1: the payer is the fee payer and sole signer
	tx, err := solana.NewTransaction(
		instructions,
		recent.Value.Blockhash,
		solana.TransactionPayer(c.signer.Address()),
	)
	if err != nil {
		return types.PaymentPayloadV1{}, fmt.Errorf("failed to create transaction: %w", err)
	}

	if err := c.signer.SignTransaction(ctx, tx); err != nil {
		return types.PaymentPayloadV1{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	txBase64, err := svm.EncodeTransactionBase64(tx)
	if err != nil {
		return types.PaymentPayloadV1{}, err
	}

	svmPayload := &svm.ExactSvmPayload{Transaction: txBase64}
	return types.PaymentPayloadV1{
		X402Version: 1,
		Payload:     svmPayload.ToMap(),
	}, nil
}

func newSetComputeUnitLimitInstruction(units uint32) solana.Instruction {
	data := make([]byte, 5)
	data[0] = svm.ComputeBudgetDiscriminatorSetLimit
	binary.LittleEndian.PutUint32(data[1:], units)
	return solana.NewInstruction(svm.ComputeBudgetProgramID, solana.AccountMetaSlice{}, data)
}

func newSetComputeUnitPriceInstruction(microlamports uint64) solana.Instruction {
	data := make([]byte, 9)
	data[0] = svm.ComputeBudgetDiscriminatorSetPrice
	binary.LittleEndian.PutUint64(data[1:], microlamports)
	return solana.NewInstruction(svm.ComputeBudgetProgramID, solana.AccountMetaSlice{}, data)
}

func newTransferCheckedInstruction(
	source, mint, dest, owner solana.PublicKey,
	amount uint64,
	decimals uint8,
) solana.Instruction {
	data := make([]byte, 10)
	data[0] = svm.TokenDiscriminatorTransferChecked
	binary.LittleEndian.PutUint64(data[1:9], amount)
	data[9] = decimals

	accounts := solana.AccountMetaSlice{
		{PublicKey: source, IsSigner: false, IsWritable: true},
		{PublicKey: mint, IsSigner: false, IsWritable: false},
		{PublicKey: dest, IsSigner: false, IsWritable: true},
		{PublicKey: owner, IsSigner: true, IsWritable: false},
	}
	return solana.NewInstruction(svm.TokenProgramID, accounts, data)
}

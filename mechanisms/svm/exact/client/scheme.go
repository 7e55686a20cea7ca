package client

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"x402-go/mechanisms/svm"
	"x402-go/types"
)

// ExactSvmScheme implements the SchemeNetworkClient interface for SVM exact
// payments (V2). The produced transaction is partially signed: the payer
// signs the transfer authority slot and leaves the fee-payer slot as a
// placeholder for the facilitator to fill.
type ExactSvmScheme struct {
	signer svm.ClientSvmSigner

	// rpcURL overrides the network default when set
	rpcURL string
}

// NewExactSvmScheme creates a new ExactSvmScheme client
func NewExactSvmScheme(signer svm.ClientSvmSigner) *ExactSvmScheme {
	return &ExactSvmScheme{
		signer: signer,
	}
}

// WithRPCURL overrides the default RPC endpoint for the scheme's networks
func (c *ExactSvmScheme) WithRPCURL(url string) *ExactSvmScheme {
	c.rpcURL = url
	return c
}

// Scheme returns the scheme identifier
func (c *ExactSvmScheme) Scheme() string {
	return svm.SchemeExact
}

// CreatePaymentPayload creates a V2 payment payload for the exact scheme
func (c *ExactSvmScheme) CreatePaymentPayload(
	ctx context.Context,
	requirements types.PaymentRequirements,
) (types.PaymentPayload, error) {
	config, err := svm.GetNetworkConfig(requirements.Network)
	if err != nil {
		return types.PaymentPayload{}, err
	}

	// The facilitator publishes its fee payer in the requirements extra;
	// without it there is nobody to co-sign and pay transaction fees
	feePayerStr, _ := requirements.Extra["feePayer"].(string)
	if feePayerStr == "" {
		return types.PaymentPayload{}, fmt.Errorf("requirements extra is missing feePayer")
	}
	feePayer, err := solana.PublicKeyFromBase58(feePayerStr)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("invalid feePayer address: %w", err)
	}

	mint, err := svm.GetAssetMint(requirements.Network, requirements.Asset)
	if err != nil {
		return types.PaymentPayload{}, err
	}

	amount, err := parseAtomicAmount(requirements.Amount)
	if err != nil {
		return types.PaymentPayload{}, err
	}

	rpcURL := c.rpcURL
	if rpcURL == "" {
		rpcURL = config.RPCURL
	}
	rpcClient := rpc.New(rpcURL)

	tokenProgram, decimals, err := fetchMintInfo(ctx, rpcClient, mint)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to fetch mint info: %w", err)
	}

	payTo, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("invalid payTo address: %w", err)
	}

	sourceATA, err := svm.DeriveATA(c.signer.Address(), mint)
	if err != nil {
		return types.PaymentPayload{}, err
	}
	destATA, err := svm.DeriveATA(payTo, mint)
	if err != nil {
		return types.PaymentPayload{}, err
	}

	recent, err := rpcClient.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to get blockhash: %w", err)
	}

	memo, err := createMemoInstruction()
	if err != nil {
		return types.PaymentPayload{}, err
	}

	instructions := []solana.Instruction{
		newSetComputeUnitLimitInstruction(svm.DefaultComputeUnitLimit),
		newSetComputeUnitPriceInstruction(svm.DefaultComputeUnitPrice),
		newTransferCheckedInstruction(tokenProgram, sourceATA, mint, destATA, c.signer.Address(), amount, decimals),
		memo,
	}

	tx, err := solana.NewTransaction(
		instructions,
		recent.Value.Blockhash,
		solana.TransactionPayer(feePayer),
	)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to create transaction: %w", err)
	}

	// Partial sign: fills the payer's slot, leaves the fee payer's slot
	// zeroed for the facilitator
	if err := c.signer.SignTransaction(ctx, tx); err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	txBase64, err := svm.EncodeTransactionBase64(tx)
	if err != nil {
		return types.PaymentPayload{}, err
	}

	svmPayload := &svm.ExactSvmPayload{Transaction: txBase64}
	return types.PaymentPayload{
		X402Version: 2,
		Payload:     svmPayload.ToMap(),
	}, nil
}

// parseAtomicAmount parses an atomic-unit amount string into uint64
func parseAtomicAmount(amount string) (uint64, error) {
	var value uint64
	if _, err := fmt.Sscanf(amount, "%d", &value); err != nil {
		return 0, fmt.Errorf("invalid amount: %s", amount)
	}
	return value, nil
}

// fetchMintInfo reads the mint account and returns its owning token
// program and decimals. SPL mint layout puts decimals at offset 44.
func fetchMintInfo(ctx context.Context, client *rpc.Client, mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	result, err := client.GetAccountInfo(ctx, mint)
	if err != nil {
		return solana.PublicKey{}, 0, err
	}
	if result == nil || result.Value == nil {
		return solana.PublicKey{}, 0, fmt.Errorf("mint account %s not found", mint)
	}

	owner := result.Value.Owner
	if !owner.Equals(svm.TokenProgramID) && !owner.Equals(svm.Token2022ProgramID) {
		return solana.PublicKey{}, 0, fmt.Errorf("account %s is not a token mint", mint)
	}

	data := result.Value.Data.GetBinary()
	if len(data) < 45 {
		return solana.PublicKey{}, 0, fmt.Errorf("mint account data too short: %d bytes", len(data))
	}

	return owner, data[44], nil
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

// newTransferCheckedInstruction builds a TransferChecked against the
// mint's owning token program (Token or Token-2022)
func newTransferCheckedInstruction(
	tokenProgram solana.PublicKey,
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
	return solana.NewInstruction(tokenProgram, accounts, data)
}

// createMemoInstruction adds a random memo so two otherwise identical
// payments never hash to the same transaction
func createMemoInstruction() (solana.Instruction, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate memo nonce: %w", err)
	}
	return solana.NewInstruction(
		svm.MemoProgramID,
		solana.AccountMetaSlice{},
		[]byte(hex.EncodeToString(nonce)),
	), nil
}

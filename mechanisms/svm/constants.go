package svm

import (
	"regexp"

	solana "github.com/gagliardetto/solana-go"
)

const (
	// SchemeExact is the exact payment scheme identifier
	SchemeExact = "exact"

	// USDC decimals on Solana
	DefaultDecimals = 6

	// Compute budget instruction discriminators
	ComputeBudgetDiscriminatorSetLimit = 2
	ComputeBudgetDiscriminatorSetPrice = 3

	// TransferChecked instruction discriminator (SPL Token program)
	TokenDiscriminatorTransferChecked = 12

	// MaxComputeUnitPrice caps the priority fee a payer may request
	// (microlamports per compute unit)
	MaxComputeUnitPrice = 5_000_000

	// Defaults used by clients when building payment transactions
	DefaultComputeUnitLimit uint32 = 20_000
	DefaultComputeUnitPrice uint64 = 1

	// Instruction shape bounds: [limit, price, transfer] plus up to three
	// Memo/Lighthouse instructions
	MinInstructions = 3
	MaxInstructions = 6

	// Confirmation polling window for settlement
	ConfirmTimeoutSeconds = 30

	// Error reason codes
	ErrInvalidPayload           = "invalid_exact_svm_payload"
	ErrInvalidTransaction       = "invalid_exact_svm_payload_transaction"
	ErrInvalidInstructionCount  = "invalid_exact_svm_payload_instruction_count"
	ErrInvalidComputeLimit      = "invalid_exact_svm_payload_compute_unit_limit"
	ErrInvalidComputePrice      = "invalid_exact_svm_payload_compute_unit_price"
	ErrInvalidTransferInstr     = "invalid_exact_svm_payload_transfer_instruction"
	ErrInvalidExtraInstr        = "invalid_exact_svm_payload_extra_instruction"
	ErrInvalidMint              = "invalid_exact_svm_payload_mint"
	ErrInvalidDestination       = "invalid_exact_svm_payload_destination"
	ErrInsufficientAmount       = "insufficient_amount"
	ErrFeePayerNotManaged       = "fee_payer_not_managed_by_facilitator"
	ErrFeePayerTransferring     = "fee_payer_transferring"
	ErrSimulationFailed         = "transaction_simulation_failed"
	ErrTransactionFailed        = "transaction_failed"
	ErrUnsupportedScheme        = "unsupported_scheme"
	ErrNetworkMismatch          = "network_mismatch"
	ErrFailedToGetNetworkConfig = "failed_to_get_network_config"
)

// Program IDs
var (
	TokenProgramID         = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	Token2022ProgramID     = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")
	ComputeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")
	MemoProgramID          = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")
	LighthouseProgramID    = solana.MustPublicKeyFromBase58("L2TExMFKdjpN9kozasaurPirfHy9P8sbXoAN1qA3S95")
)

// Base58Regexp matches a Solana base58 address
var Base58Regexp = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// NetworkConfig holds per-network settings
type NetworkConfig struct {
	// CAIP-2 identifier (solana:<genesis hash prefix>)
	CaipID string
	// Legacy v1 network name
	LegacyName string
	// Default stablecoin mint (USDC)
	USDCMint string
	// Public RPC endpoint
	RPCURL string
}

// NetworkConfigs maps both CAIP-2 ids and legacy names to their config
var NetworkConfigs = map[string]NetworkConfig{
	"solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp": {
		CaipID:     "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp",
		LegacyName: "solana",
		USDCMint:   "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		RPCURL:     "https://api.mainnet-beta.solana.com",
	},
	"solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1": {
		CaipID:     "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1",
		LegacyName: "solana-devnet",
		USDCMint:   "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
		RPCURL:     "https://api.devnet.solana.com",
	},
	"solana:4uhcVJyU9pJkvQyS88uRDiswHXSCkY3z": {
		CaipID:     "solana:4uhcVJyU9pJkvQyS88uRDiswHXSCkY3z",
		LegacyName: "solana-testnet",
		USDCMint:   "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
		RPCURL:     "https://api.testnet.solana.com",
	},
}

// legacyNetworkNames maps v1 names to CAIP-2 ids
var legacyNetworkNames = map[string]string{
	"solana":         "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp",
	"solana-devnet":  "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1",
	"solana-testnet": "solana:4uhcVJyU9pJkvQyS88uRDiswHXSCkY3z",
}

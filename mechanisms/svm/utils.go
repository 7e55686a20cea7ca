package svm

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
)

// NormalizeNetwork maps a legacy v1 network name to its CAIP-2 identifier.
// CAIP-2 identifiers pass through unchanged.
func NormalizeNetwork(network string) string {
	if caip, ok := legacyNetworkNames[network]; ok {
		return caip
	}
	return network
}

// GetNetworkConfig returns the configuration for a network, accepting
// both CAIP-2 ids and legacy v1 names
func GetNetworkConfig(network string) (*NetworkConfig, error) {
	if config, ok := NetworkConfigs[NormalizeNetwork(network)]; ok {
		return &config, nil
	}
	return nil, fmt.Errorf("unsupported network: %s", network)
}

// IsValidNetwork reports whether the network is a known Solana network
func IsValidNetwork(network string) bool {
	_, ok := NetworkConfigs[NormalizeNetwork(network)]
	return ok
}

// IsValidAddress reports whether the string is a valid base58 Solana address
func IsValidAddress(address string) bool {
	if !Base58Regexp.MatchString(address) {
		return false
	}
	_, err := solana.PublicKeyFromBase58(address)
	return err == nil
}

// GetAssetMint resolves an asset declaration to a mint address. Addresses
// pass through; empty or "USDC" resolve to the network's USDC mint.
func GetAssetMint(network string, asset string) (solana.PublicKey, error) {
	if IsValidAddress(asset) {
		return solana.PublicKeyFromBase58(asset)
	}
	config, err := GetNetworkConfig(network)
	if err != nil {
		return solana.PublicKey{}, err
	}
	if asset == "" || strings.EqualFold(asset, "usdc") {
		return solana.PublicKeyFromBase58(config.USDCMint)
	}
	return solana.PublicKey{}, fmt.Errorf("unsupported asset: %s", asset)
}

// ParseAmount converts a decimal string amount to atomic units
func ParseAmount(amount string, decimals int) (uint64, error) {
	parts := strings.Split(amount, ".")
	if len(parts) > 2 {
		return 0, fmt.Errorf("invalid amount format: %s", amount)
	}

	intPart, ok := new(big.Int).SetString(parts[0], 10)
	if !ok {
		return 0, fmt.Errorf("invalid integer part: %s", parts[0])
	}

	decPart := new(big.Int)
	if len(parts) == 2 && parts[1] != "" {
		decStr := parts[1]
		if len(decStr) > decimals {
			decStr = decStr[:decimals]
		} else {
			decStr += strings.Repeat("0", decimals-len(decStr))
		}
		decPart, ok = new(big.Int).SetString(decStr, 10)
		if !ok {
			return 0, fmt.Errorf("invalid decimal part: %s", parts[1])
		}
	}

	multiplier := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	result := new(big.Int).Mul(intPart, multiplier)
	result.Add(result, decPart)

	if !result.IsUint64() {
		return 0, fmt.Errorf("amount out of range: %s", amount)
	}
	return result.Uint64(), nil
}

// DecodeTransactionBase64 decodes a base64-encoded serialized transaction
func DecodeTransactionBase64(txBase64 string) (*solana.Transaction, error) {
	txBytes, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 transaction: %w", err)
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(txBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return tx, nil
}

// EncodeTransactionBase64 serializes a transaction to base64
func EncodeTransactionBase64(tx *solana.Transaction) (string, error) {
	txBytes, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to marshal transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(txBytes), nil
}

// DeriveATA derives the associated token account for (owner, mint)
func DeriveATA(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive ATA: %w", err)
	}
	return ata, nil
}

// resolveProgramID returns the program id a compiled instruction targets
func resolveProgramID(tx *solana.Transaction, ix solana.CompiledInstruction) (solana.PublicKey, error) {
	return tx.Message.ResolveProgramIDIndex(ix.ProgramIDIndex)
}

// resolveAccount returns the account key at the instruction's accounts[idx]
func resolveAccount(tx *solana.Transaction, ix solana.CompiledInstruction, idx int) (solana.PublicKey, error) {
	if idx >= len(ix.Accounts) {
		return solana.PublicKey{}, fmt.Errorf("instruction has %d accounts, need index %d", len(ix.Accounts), idx)
	}
	accountIndex := int(ix.Accounts[idx])
	if accountIndex >= len(tx.Message.AccountKeys) {
		return solana.PublicKey{}, fmt.Errorf("account index %d out of range", accountIndex)
	}
	return tx.Message.AccountKeys[accountIndex], nil
}

// ValidateComputeUnitLimit checks that the instruction is a
// SetComputeUnitLimit on the compute budget program
func ValidateComputeUnitLimit(tx *solana.Transaction, ix solana.CompiledInstruction) error {
	programID, err := resolveProgramID(tx, ix)
	if err != nil {
		return err
	}
	if !programID.Equals(ComputeBudgetProgramID) {
		return fmt.Errorf("instruction 0 targets %s, want compute budget program", programID)
	}
	if len(ix.Data) != 5 || ix.Data[0] != ComputeBudgetDiscriminatorSetLimit {
		return fmt.Errorf("instruction 0 is not SetComputeUnitLimit")
	}
	return nil
}

// ValidateComputeUnitPrice checks that the instruction is a
// SetComputeUnitPrice on the compute budget program and returns the
// requested price in microlamports
func ValidateComputeUnitPrice(tx *solana.Transaction, ix solana.CompiledInstruction) (uint64, error) {
	programID, err := resolveProgramID(tx, ix)
	if err != nil {
		return 0, err
	}
	if !programID.Equals(ComputeBudgetProgramID) {
		return 0, fmt.Errorf("instruction 1 targets %s, want compute budget program", programID)
	}
	if len(ix.Data) != 9 || ix.Data[0] != ComputeBudgetDiscriminatorSetPrice {
		return 0, fmt.Errorf("instruction 1 is not SetComputeUnitPrice")
	}
	return binary.LittleEndian.Uint64(ix.Data[1:9]), nil
}

// ParseTransferChecked extracts the transfer details from a TransferChecked
// instruction. Account order per the SPL Token program:
// [source, mint, destination, authority].
func ParseTransferChecked(tx *solana.Transaction, ix solana.CompiledInstruction) (*TransferInfo, error) {
	programID, err := resolveProgramID(tx, ix)
	if err != nil {
		return nil, err
	}
	if !programID.Equals(TokenProgramID) && !programID.Equals(Token2022ProgramID) {
		return nil, fmt.Errorf("transfer instruction targets %s, want a token program", programID)
	}
	if len(ix.Data) != 10 || ix.Data[0] != TokenDiscriminatorTransferChecked {
		return nil, fmt.Errorf("instruction is not TransferChecked")
	}
	if len(ix.Accounts) < 4 {
		return nil, fmt.Errorf("TransferChecked needs 4 accounts, got %d", len(ix.Accounts))
	}

	info := &TransferInfo{
		Amount:   binary.LittleEndian.Uint64(ix.Data[1:9]),
		Decimals: ix.Data[9],
	}
	if info.Source, err = resolveAccount(tx, ix, 0); err != nil {
		return nil, err
	}
	if info.Mint, err = resolveAccount(tx, ix, 1); err != nil {
		return nil, err
	}
	if info.Dest, err = resolveAccount(tx, ix, 2); err != nil {
		return nil, err
	}
	if info.Authority, err = resolveAccount(tx, ix, 3); err != nil {
		return nil, err
	}
	return info, nil
}

// ValidateExtraInstruction checks that a trailing instruction is a Memo or
// Lighthouse assertion, the only extras a payment transaction may carry
func ValidateExtraInstruction(tx *solana.Transaction, ix solana.CompiledInstruction) error {
	programID, err := resolveProgramID(tx, ix)
	if err != nil {
		return err
	}
	if programID.Equals(MemoProgramID) || programID.Equals(LighthouseProgramID) {
		return nil
	}
	return fmt.Errorf("unexpected extra instruction targeting %s", programID)
}

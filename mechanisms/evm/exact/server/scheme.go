package server

import (
	"context"
	"fmt"

	x402 "x402-go"
	"x402-go/mechanisms/evm"
	"x402-go/types"
)

// ExactEvmScheme implements the SchemeNetworkServer interface for EVM exact payments (V2)
type ExactEvmScheme struct{}

// NewExactEvmScheme creates a new ExactEvmScheme server
func NewExactEvmScheme() *ExactEvmScheme {
	return &ExactEvmScheme{}
}

// Scheme returns the scheme identifier
func (s *ExactEvmScheme) Scheme() string {
	return evm.SchemeExact
}

// ParsePrice converts a normalized decimal money amount (e.g. "0.10")
// into atomic units of the network's default stablecoin.
func (s *ExactEvmScheme) ParsePrice(price interface{}, network x402.Network) (types.AssetAmount, error) {
	amount, ok := price.(string)
	if !ok {
		return types.AssetAmount{}, fmt.Errorf("unsupported price type %T", price)
	}

	config, err := evm.GetNetworkConfig(string(network))
	if err != nil {
		return types.AssetAmount{}, err
	}

	asset := config.DefaultAsset
	value, err := evm.ParseAmount(amount, asset.Decimals)
	if err != nil {
		return types.AssetAmount{}, err
	}

	return types.AssetAmount{
		Amount: value.String(),
		Asset:  asset.Address,
		Extra: map[string]interface{}{
			"name":    asset.Name,
			"version": asset.Version,
		},
	}, nil
}

// EnhancePaymentRequirements fills in EVM defaults: the network's default
// asset when none was declared, and the EIP-712 domain name/version the
// client needs to sign against the token.
func (s *ExactEvmScheme) EnhancePaymentRequirements(
	_ context.Context,
	requirements *types.PaymentRequirements,
	_ *x402.SupportedResponse,
) error {
	config, err := evm.GetNetworkConfig(requirements.Network)
	if err != nil {
		return err
	}

	if requirements.Asset == "" {
		requirements.Asset = config.DefaultAsset.Address
	}

	assetInfo, err := evm.GetAssetInfo(requirements.Network, requirements.Asset)
	if err != nil {
		return err
	}

	if requirements.Extra == nil {
		requirements.Extra = map[string]interface{}{}
	}
	if _, ok := requirements.Extra["name"]; !ok {
		requirements.Extra["name"] = assetInfo.Name
	}
	if _, ok := requirements.Extra["version"]; !ok {
		requirements.Extra["version"] = assetInfo.Version
	}

	return nil
}

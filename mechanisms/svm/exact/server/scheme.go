package server

import (
	"context"
	"fmt"

	x402 "x402-go"
	"x402-go/mechanisms/svm"
	"x402-go/types"
)

// ExactSvmScheme implements the SchemeNetworkServer interface for SVM exact payments (V2)
type ExactSvmScheme struct{}

// NewExactSvmScheme creates a new ExactSvmScheme server
func NewExactSvmScheme() *ExactSvmScheme {
	return &ExactSvmScheme{}
}

// Scheme returns the scheme identifier
func (s *ExactSvmScheme) Scheme() string {
	return svm.SchemeExact
}

// ParsePrice converts a normalized decimal money amount into atomic units
// of the network's USDC mint
func (s *ExactSvmScheme) ParsePrice(price interface{}, network x402.Network) (types.AssetAmount, error) {
	amount, ok := price.(string)
	if !ok {
		return types.AssetAmount{}, fmt.Errorf("unsupported price type %T", price)
	}

	config, err := svm.GetNetworkConfig(string(network))
	if err != nil {
		return types.AssetAmount{}, err
	}

	value, err := svm.ParseAmount(amount, svm.DefaultDecimals)
	if err != nil {
		return types.AssetAmount{}, err
	}

	return types.AssetAmount{
		Amount: fmt.Sprintf("%d", value),
		Asset:  config.USDCMint,
	}, nil
}

// EnhancePaymentRequirements fills the default mint and copies the
// facilitator's fee payer from the capability catalog into extra.feePayer,
// where the paying client expects it.
func (s *ExactSvmScheme) EnhancePaymentRequirements(
	_ context.Context,
	requirements *types.PaymentRequirements,
	supported *x402.SupportedResponse,
) error {
	config, err := svm.GetNetworkConfig(requirements.Network)
	if err != nil {
		return err
	}

	if requirements.Asset == "" {
		requirements.Asset = config.USDCMint
	}

	if requirements.Extra == nil {
		requirements.Extra = map[string]interface{}{}
	}
	if _, ok := requirements.Extra["feePayer"]; ok {
		return nil
	}

	if supported == nil {
		return fmt.Errorf("no facilitator catalog available for %s", requirements.Network)
	}
	for _, kind := range supported.Kinds {
		if kind.Scheme != svm.SchemeExact {
			continue
		}
		if !kind.Network.Matches(requirements.Network) && string(kind.Network) != requirements.Network {
			continue
		}
		if feePayer, ok := kind.Extra["feePayer"].(string); ok && feePayer != "" {
			requirements.Extra["feePayer"] = feePayer
			return nil
		}
	}
	return fmt.Errorf("facilitator catalog has no fee payer for %s", requirements.Network)
}

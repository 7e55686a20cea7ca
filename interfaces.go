package x402

import (
	"context"
	"encoding/json"

	"x402-go/types"
)

// Requirements is the version-agnostic view over v1 and v2 payment
// requirements, used by hooks and policies that do not care which
// protocol version produced them.
type Requirements interface {
	GetScheme() string
	GetNetwork() string
	GetAsset() string
	GetAmount() string
	GetPayTo() string
}

// SchemeNetworkClient produces the scheme-specific inner payload for a v2
// payment. Implementations return a partial PaymentPayload (version +
// payload body); the client core fills in the accepted requirements,
// resource, and extensions.
type SchemeNetworkClient interface {
	// Scheme returns the scheme identifier (e.g. "exact")
	Scheme() string

	// CreatePaymentPayload signs a payment for the given requirements
	CreatePaymentPayload(ctx context.Context, requirements types.PaymentRequirements) (types.PaymentPayload, error)
}

// SchemeNetworkClientV1 is the legacy v1 client scheme contract
type SchemeNetworkClientV1 interface {
	Scheme() string
	CreatePaymentPayload(ctx context.Context, requirements types.PaymentRequirementsV1) (types.PaymentPayloadV1, error)
}

// SchemeNetworkServer lets a resource server resolve prices and fill
// scheme-specific defaults into payment requirements before publishing
// them in a 402 challenge.
type SchemeNetworkServer interface {
	// Scheme returns the scheme identifier (e.g. "exact")
	Scheme() string

	// ParsePrice converts a price declaration (Price money string or
	// types.AssetAmount) into an explicit atomic-unit asset amount.
	ParsePrice(price interface{}, network Network) (types.AssetAmount, error)

	// EnhancePaymentRequirements fills scheme defaults that only the
	// mechanism knows (default asset, signing domain, fee payer), using
	// the facilitator capability catalog where needed.
	EnhancePaymentRequirements(ctx context.Context, requirements *types.PaymentRequirements, supported *SupportedResponse) error
}

// SchemeNetworkFacilitator verifies and settles v2 payments for one
// scheme on one chain family.
type SchemeNetworkFacilitator interface {
	// Scheme returns the scheme identifier (e.g. "exact")
	Scheme() string

	// CaipFamily returns the chain family wildcard this mechanism serves
	// (e.g. "eip155:*")
	CaipFamily() string

	// GetExtra returns mechanism-specific data published in the supported
	// kinds catalog (e.g. SVM fee payer), or nil
	GetExtra(network Network) map[string]interface{}

	// GetSigners returns the facilitator-controlled signer addresses for
	// the given network
	GetSigners(network Network) []string

	// Verify checks a payment payload against requirements
	Verify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*VerifyResponse, error)

	// Settle executes the payment on-chain
	Settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*SettleResponse, error)
}

// SchemeNetworkFacilitatorV1 is the legacy v1 facilitator scheme contract
type SchemeNetworkFacilitatorV1 interface {
	Scheme() string
	CaipFamily() string
	GetExtra(network Network) map[string]interface{}
	GetSigners(network Network) []string
	Verify(ctx context.Context, payload types.PaymentPayloadV1, requirements types.PaymentRequirementsV1) (*VerifyResponse, error)
	Settle(ctx context.Context, payload types.PaymentPayloadV1, requirements types.PaymentRequirementsV1) (*SettleResponse, error)
}

// FacilitatorClient is the resource server's view of a facilitator,
// local or remote. Payload and requirements travel as raw JSON so the
// client stays version-agnostic; business failures come back as
// responses with IsValid/Success false, never as errors.
type FacilitatorClient interface {
	Verify(ctx context.Context, paymentPayload, paymentRequirements json.RawMessage) (*VerifyResponse, error)
	Settle(ctx context.Context, paymentPayload, paymentRequirements json.RawMessage) (*SettleResponse, error)
	GetSupported(ctx context.Context) (*SupportedResponse, error)
}

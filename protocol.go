package x402

import (
	"strings"

	"x402-go/types"
)

// Network identifies a blockchain network, either as a CAIP-2 id
// ("eip155:8453", "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"), a legacy
// v1 name ("base-sepolia", "solana-devnet"), or a wildcard family
// pattern ("eip155:*") used for registration.
type Network string

// IsWildcard reports whether the network is a family pattern like "eip155:*"
func (n Network) IsWildcard() bool {
	return strings.HasSuffix(string(n), ":*")
}

// Family returns the CAIP namespace prefix ("eip155", "solana"),
// or the full value for legacy v1 names without a namespace.
func (n Network) Family() string {
	if idx := strings.Index(string(n), ":"); idx >= 0 {
		return string(n)[:idx]
	}
	return string(n)
}

// Matches reports whether a concrete network falls under this network
// value: exact equality, or family-wide match for wildcard patterns.
func (n Network) Matches(other string) bool {
	if string(n) == other {
		return true
	}
	if n.IsWildcard() {
		return Network(other).Family() == n.Family()
	}
	return false
}

// Price is a human-readable money amount such as "$0.001".
// Atomic-unit pricing uses types.AssetAmount instead.
type Price string

// Convenience aliases so callers outside the types package can refer to
// the protocol data model through the root package.
type (
	PaymentRequirements   = types.PaymentRequirements
	PaymentRequirementsV1 = types.PaymentRequirementsV1
	PaymentPayload        = types.PaymentPayload
	PaymentPayloadV1      = types.PaymentPayloadV1
	PaymentRequired       = types.PaymentRequired
	PaymentRequiredV1     = types.PaymentRequiredV1
	AssetAmount           = types.AssetAmount
)

// VerifyResponse is the outcome of a facilitator verification.
// Business failures never raise; IsValid=false plus a reason code.
type VerifyResponse struct {
	IsValid        bool   `json:"isValid"`
	InvalidReason  string `json:"invalidReason,omitempty"`
	InvalidMessage string `json:"invalidMessage,omitempty"`
	Payer          string `json:"payer,omitempty"`
}

// SettleResponse is the outcome of a facilitator settlement.
type SettleResponse struct {
	Success      bool    `json:"success"`
	ErrorReason  string  `json:"errorReason,omitempty"`
	ErrorMessage string  `json:"errorMessage,omitempty"`
	Transaction  string  `json:"transaction,omitempty"`
	Network      Network `json:"network,omitempty"`
	Payer        string  `json:"payer,omitempty"`
}

// SupportedKind describes one (version, scheme, network) combination a
// facilitator can verify and settle.
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     Network                `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse is the facilitator capability catalog: the supported
// kinds plus the signer addresses the facilitator controls, keyed by
// chain-family wildcard ("eip155:*", "solana:*"). Built once at
// initialization and read-only afterward.
type SupportedResponse struct {
	Kinds   []SupportedKind     `json:"kinds"`
	Signers map[string][]string `json:"signers,omitempty"`
}

// SignersForFamily returns the signer addresses for a concrete network,
// matching the catalog's family-wildcard keys.
func (s *SupportedResponse) SignersForFamily(network string) []string {
	if s == nil || s.Signers == nil {
		return nil
	}
	for pattern, addrs := range s.Signers {
		if Network(pattern).Matches(network) {
			return addrs
		}
	}
	return nil
}

package types

import "encoding/json"

// Protocol version constants used in payload envelopes
const (
	PaymentVersionV1 = 1
	PaymentVersionV2 = 2
)

// AssetAmount is an explicit amount of a specific asset in its smallest
// integer unit. Amounts are always integer-denominated strings, never floats.
type AssetAmount struct {
	Amount string                 `json:"amount"`
	Asset  string                 `json:"asset"`
	Extra  map[string]interface{} `json:"extra,omitempty"`
}

// PaymentRequirements is one acceptable way to pay for a resource (v2).
// Amount is in the asset's atomic units.
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme"`
	Network           string                 `json:"network"`
	Asset             string                 `json:"asset"`
	Amount            string                 `json:"amount"`
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// GetScheme implements the version-agnostic requirements view
func (r PaymentRequirements) GetScheme() string { return r.Scheme }

// GetNetwork implements the version-agnostic requirements view
func (r PaymentRequirements) GetNetwork() string { return r.Network }

// GetAsset implements the version-agnostic requirements view
func (r PaymentRequirements) GetAsset() string { return r.Asset }

// GetAmount implements the version-agnostic requirements view
func (r PaymentRequirements) GetAmount() string { return r.Amount }

// GetPayTo implements the version-agnostic requirements view
func (r PaymentRequirements) GetPayTo() string { return r.PayTo }

// PaymentRequirementsV1 is the legacy v1 requirements shape: the amount is
// named maxAmountRequired and resource metadata lives inline.
type PaymentRequirementsV1 struct {
	Scheme            string      `json:"scheme"`
	Network           string      `json:"network"`
	MaxAmountRequired string      `json:"maxAmountRequired"`
	Resource          string      `json:"resource,omitempty"`
	Description       string      `json:"description,omitempty"`
	MimeType          string      `json:"mimeType,omitempty"`
	OutputSchema      interface{} `json:"outputSchema,omitempty"`
	PayTo             string      `json:"payTo"`
	MaxTimeoutSeconds int         `json:"maxTimeoutSeconds,omitempty"`
	Asset             string      `json:"asset"`
	// Extra may arrive as an object or as a JSON-encoded string from
	// older producers; consumers normalize via ExtraMap.
	Extra interface{} `json:"extra,omitempty"`
}

// GetScheme implements the version-agnostic requirements view
func (r PaymentRequirementsV1) GetScheme() string { return r.Scheme }

// GetNetwork implements the version-agnostic requirements view
func (r PaymentRequirementsV1) GetNetwork() string { return r.Network }

// GetAsset implements the version-agnostic requirements view
func (r PaymentRequirementsV1) GetAsset() string { return r.Asset }

// GetAmount implements the version-agnostic requirements view
func (r PaymentRequirementsV1) GetAmount() string { return r.MaxAmountRequired }

// GetPayTo implements the version-agnostic requirements view
func (r PaymentRequirementsV1) GetPayTo() string { return r.PayTo }

// ExtraMap normalizes the v1 extra field, which older producers emit as a
// JSON-encoded string rather than an object.
func (r PaymentRequirementsV1) ExtraMap() map[string]interface{} {
	switch v := r.Extra.(type) {
	case map[string]interface{}:
		return v
	case string:
		var m map[string]interface{}
		if json.Unmarshal([]byte(v), &m) == nil {
			return m
		}
	}
	return nil
}

// ResourceInfo describes the protected resource a v2 challenge covers
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PaymentRequired is the v2 402 challenge body/header payload
type PaymentRequired struct {
	X402Version int                    `json:"x402Version"`
	Error       string                 `json:"error,omitempty"`
	Accepts     []PaymentRequirements  `json:"accepts"`
	Resource    *ResourceInfo          `json:"resource,omitempty"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// PaymentRequiredV1 is the legacy v1 402 challenge body
type PaymentRequiredV1 struct {
	X402Version int                     `json:"x402Version"`
	Error       string                  `json:"error,omitempty"`
	Accepts     []PaymentRequirementsV1 `json:"accepts"`
}

// PaymentPayload is a signed v2 payment attempt. Payload is the
// scheme-specific inner body; Accepted echoes the requirements entry the
// client selected from the challenge's accepts list.
type PaymentPayload struct {
	X402Version int                    `json:"x402Version"`
	Payload     map[string]interface{} `json:"payload"`
	Accepted    PaymentRequirements    `json:"accepted"`
	Resource    *ResourceInfo          `json:"resource,omitempty"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// PaymentPayloadV1 is a signed v1 payment attempt with scheme and network
// inline at the top level.
type PaymentPayloadV1 struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     string                 `json:"network"`
	Payload     map[string]interface{} `json:"payload"`
}

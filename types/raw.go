package types

import (
	"encoding/json"
	"fmt"
)

// DetectVersion reads the x402Version discriminator out of raw JSON.
// Anything below 1 (including an absent field) is rejected.
func DetectVersion(data []byte) (int, error) {
	var detector struct {
		X402Version int `json:"x402Version"`
	}
	if err := json.Unmarshal(data, &detector); err != nil {
		return 0, fmt.Errorf("failed to detect version: %w", err)
	}
	if detector.X402Version < 1 {
		return 0, fmt.Errorf("invalid version: %d", detector.X402Version)
	}
	return detector.X402Version, nil
}

// RequirementsInfo is the routing pair pulled out of raw requirements
type RequirementsInfo struct {
	Scheme  string
	Network string
}

// ExtractRequirementsInfo reads scheme and network from raw
// requirements bytes. Both versions keep those two at the top level,
// so one decoder serves both.
func ExtractRequirementsInfo(data []byte) (*RequirementsInfo, error) {
	var partial struct {
		Scheme  string `json:"scheme"`
		Network string `json:"network"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return nil, err
	}
	return &RequirementsInfo{Scheme: partial.Scheme, Network: partial.Network}, nil
}

// PayloadBase is the version-plus-payload core of a payment payload,
// what a v2 scheme client returns before the envelope is filled in.
type PayloadBase struct {
	X402Version int                    `json:"x402Version"`
	Payload     map[string]interface{} `json:"payload"`
}

// ToPayloadBase decodes just the version and payload fields
func ToPayloadBase(data []byte) (*PayloadBase, error) {
	var base PayloadBase
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, err
	}
	return &base, nil
}

// PaymentRequiredPartial is a PaymentRequired whose accepts entries stay
// raw, so callers can route each one by its own version instead of
// committing to a shape up front.
type PaymentRequiredPartial struct {
	X402Version int               `json:"x402Version"`
	Error       string            `json:"error,omitempty"`
	Accepts     []json.RawMessage `json:"accepts"`
	Resource    json.RawMessage   `json:"resource,omitempty"`
	Extensions  json.RawMessage   `json:"extensions,omitempty"`
}

// ToPaymentRequiredPartial decodes a PaymentRequired, keeping accepts raw
func ToPaymentRequiredPartial(data []byte) (*PaymentRequiredPartial, error) {
	var required PaymentRequiredPartial
	if err := json.Unmarshal(data, &required); err != nil {
		return nil, err
	}
	return &required, nil
}

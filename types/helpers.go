package types

import (
	"encoding/json"
	"fmt"
)

// matchFields is the set of requirement fields a v2 payload must echo
// back in its accepted block for the two to be considered the same offer.
type matchFields struct {
	Scheme  string `json:"scheme"`
	Network string `json:"network"`
	Amount  string `json:"amount"`
	Asset   string `json:"asset"`
	PayTo   string `json:"payTo"`
}

// GetSchemeAndNetwork extracts the routing pair from raw payload bytes.
// V1 carries scheme and network at the top level; v2 nests them inside
// the accepted requirement.
func GetSchemeAndNetwork(version int, payloadBytes []byte) (scheme string, network string, err error) {
	switch version {
	case 1:
		var partial struct {
			Scheme  string `json:"scheme"`
			Network string `json:"network"`
		}
		if err := json.Unmarshal(payloadBytes, &partial); err != nil {
			return "", "", fmt.Errorf("failed to parse v1 payload: %w", err)
		}
		return partial.Scheme, partial.Network, nil

	case 2:
		var partial struct {
			Accepted struct {
				Scheme  string `json:"scheme"`
				Network string `json:"network"`
			} `json:"accepted"`
		}
		if err := json.Unmarshal(payloadBytes, &partial); err != nil {
			return "", "", fmt.Errorf("failed to parse v2 payload: %w", err)
		}
		return partial.Accepted.Scheme, partial.Accepted.Network, nil

	default:
		return "", "", fmt.Errorf("unsupported version: %d", version)
	}
}

// MatchPayloadToRequirements reports whether a raw payload was produced
// against the given raw requirements. V1 can only compare scheme and
// network; v2 compares the full offer identity (scheme, network,
// amount, asset, payTo).
func MatchPayloadToRequirements(
	version int,
	payloadBytes []byte,
	requirementsBytes []byte,
) (bool, error) {
	switch version {
	case 1:
		payloadScheme, payloadNetwork, err := GetSchemeAndNetwork(1, payloadBytes)
		if err != nil {
			return false, err
		}
		reqInfo, err := ExtractRequirementsInfo(requirementsBytes)
		if err != nil {
			return false, err
		}
		return payloadScheme == reqInfo.Scheme && payloadNetwork == reqInfo.Network, nil

	case 2:
		var payloadPartial struct {
			Accepted matchFields `json:"accepted"`
		}
		if err := json.Unmarshal(payloadBytes, &payloadPartial); err != nil {
			return false, err
		}
		var req matchFields
		if err := json.Unmarshal(requirementsBytes, &req); err != nil {
			return false, err
		}
		return payloadPartial.Accepted == req, nil

	default:
		return false, fmt.Errorf("unsupported version: %d", version)
	}
}

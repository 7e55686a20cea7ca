package x402

import (
	"math/big"

	"x402-go/types"
)

// PaymentPolicy is a pure transform over the candidate requirements list.
// The client applies its policies in registration order; every policy
// must return a non-empty list or selection fails with
// NoMatchingRequirementsError. Policies receive the protocol version so
// one policy can serve both v1 and v2 selection (v1 requirements are
// evaluated through their v2-shaped view).
type PaymentPolicy func(version int, accepts []types.PaymentRequirements) []types.PaymentRequirements

// PaymentSelector picks exactly one requirement from the filtered,
// policy-ordered list. The default selector takes the first entry.
type PaymentSelector func(version int, accepts []types.PaymentRequirements) (types.PaymentRequirements, error)

// FirstSelector returns the first candidate. It is the default selector,
// which makes policy ordering the selection mechanism.
func FirstSelector(version int, accepts []types.PaymentRequirements) (types.PaymentRequirements, error) {
	if len(accepts) == 0 {
		return types.PaymentRequirements{}, &NoMatchingRequirementsError{Message: "empty candidate list"}
	}
	return accepts[0], nil
}

// PreferNetworkPolicy moves requirements on the given network to the
// front of the list, preserving relative order. Non-matching entries are
// kept as fallbacks.
func PreferNetworkPolicy(network Network) PaymentPolicy {
	return func(version int, accepts []types.PaymentRequirements) []types.PaymentRequirements {
		preferred := make([]types.PaymentRequirements, 0, len(accepts))
		rest := make([]types.PaymentRequirements, 0, len(accepts))
		for _, req := range accepts {
			if network.Matches(req.Network) {
				preferred = append(preferred, req)
			} else {
				rest = append(rest, req)
			}
		}
		return append(preferred, rest...)
	}
}

// PreferSchemePolicy moves requirements with the given scheme to the
// front of the list, preserving relative order.
func PreferSchemePolicy(scheme string) PaymentPolicy {
	return func(version int, accepts []types.PaymentRequirements) []types.PaymentRequirements {
		preferred := make([]types.PaymentRequirements, 0, len(accepts))
		rest := make([]types.PaymentRequirements, 0, len(accepts))
		for _, req := range accepts {
			if req.Scheme == scheme {
				preferred = append(preferred, req)
			} else {
				rest = append(rest, req)
			}
		}
		return append(preferred, rest...)
	}
}

// MaxAmountPolicy drops requirements asking for more than maxAmount
// atomic units. Amounts that fail to parse are dropped as well.
func MaxAmountPolicy(maxAmount string) PaymentPolicy {
	limit, limitOK := new(big.Int).SetString(maxAmount, 10)
	return func(version int, accepts []types.PaymentRequirements) []types.PaymentRequirements {
		if !limitOK {
			return nil
		}
		filtered := make([]types.PaymentRequirements, 0, len(accepts))
		for _, req := range accepts {
			amount, ok := new(big.Int).SetString(req.Amount, 10)
			if !ok {
				continue
			}
			if amount.Cmp(limit) <= 0 {
				filtered = append(filtered, req)
			}
		}
		return filtered
	}
}

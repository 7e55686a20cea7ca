package x402

import (
	"context"
	"encoding/json"
	"fmt"

	"x402-go/types"
)

// x402Facilitator is the trust anchor: it routes verify/settle calls to
// the registered scheme mechanism for the payload's (scheme, network)
// and exposes a capability catalog.
//
// Routing is first-match: exact network membership is tried across all
// registrations first, then wildcard patterns in registration order.
// Registries are populated during setup and read-only afterward, so
// concurrent verify/settle calls need no locking.
type x402Facilitator struct {
	entries   []*facilitatorEntry
	entriesV1 []*facilitatorEntryV1

	beforeVerifyHooks  []FacilitatorBeforeVerifyHook
	afterVerifyHooks   []FacilitatorAfterVerifyHook
	verifyFailureHooks []FacilitatorVerifyFailureHook
	beforeSettleHooks  []FacilitatorBeforeSettleHook
	afterSettleHooks   []FacilitatorAfterSettleHook
	settleFailureHooks []FacilitatorSettleFailureHook
}

type facilitatorEntry struct {
	scheme    string
	networks  map[string]bool
	patterns  []Network
	mechanism SchemeNetworkFacilitator
}

type facilitatorEntryV1 struct {
	scheme    string
	networks  map[string]bool
	patterns  []Network
	mechanism SchemeNetworkFacilitatorV1
}

// Newx402Facilitator creates a facilitator with no registered mechanisms
func Newx402Facilitator() *x402Facilitator {
	return &x402Facilitator{}
}

// Register adds a v2 scheme mechanism for a set of networks. Entries in
// the list may be concrete networks or family wildcards ("eip155:*").
func (f *x402Facilitator) Register(networks []Network, mechanism SchemeNetworkFacilitator) *x402Facilitator {
	entry := &facilitatorEntry{
		scheme:    mechanism.Scheme(),
		networks:  make(map[string]bool),
		mechanism: mechanism,
	}
	for _, network := range networks {
		if network.IsWildcard() {
			entry.patterns = append(entry.patterns, network)
		} else {
			entry.networks[string(network)] = true
		}
	}
	f.entries = append(f.entries, entry)
	return f
}

// RegisterV1 adds a legacy v1 scheme mechanism for a set of networks
func (f *x402Facilitator) RegisterV1(networks []Network, mechanism SchemeNetworkFacilitatorV1) *x402Facilitator {
	entry := &facilitatorEntryV1{
		scheme:    mechanism.Scheme(),
		networks:  make(map[string]bool),
		mechanism: mechanism,
	}
	for _, network := range networks {
		if network.IsWildcard() {
			entry.patterns = append(entry.patterns, network)
		} else {
			entry.networks[string(network)] = true
		}
	}
	f.entriesV1 = append(f.entriesV1, entry)
	return f
}

// OnBeforeVerify registers a hook that runs before verification and may abort it
func (f *x402Facilitator) OnBeforeVerify(hook FacilitatorBeforeVerifyHook) *x402Facilitator {
	f.beforeVerifyHooks = append(f.beforeVerifyHooks, hook)
	return f
}

// OnAfterVerify registers a hook that observes successful verifications
func (f *x402Facilitator) OnAfterVerify(hook FacilitatorAfterVerifyHook) *x402Facilitator {
	f.afterVerifyHooks = append(f.afterVerifyHooks, hook)
	return f
}

// OnVerifyFailure registers a hook that runs when verification fails and
// may supply a recovered result.
func (f *x402Facilitator) OnVerifyFailure(hook FacilitatorVerifyFailureHook) *x402Facilitator {
	f.verifyFailureHooks = append(f.verifyFailureHooks, hook)
	return f
}

// OnBeforeSettle registers a hook that runs before settlement and may abort it
func (f *x402Facilitator) OnBeforeSettle(hook FacilitatorBeforeSettleHook) *x402Facilitator {
	f.beforeSettleHooks = append(f.beforeSettleHooks, hook)
	return f
}

// OnAfterSettle registers a hook that observes successful settlements
func (f *x402Facilitator) OnAfterSettle(hook FacilitatorAfterSettleHook) *x402Facilitator {
	f.afterSettleHooks = append(f.afterSettleHooks, hook)
	return f
}

// OnSettleFailure registers a hook that runs when settlement fails and
// may supply a recovered result.
func (f *x402Facilitator) OnSettleFailure(hook FacilitatorSettleFailureHook) *x402Facilitator {
	f.settleFailureHooks = append(f.settleFailureHooks, hook)
	return f
}

// findMechanism routes a v2 (scheme, network) pair: exact membership
// across all entries first, then wildcard patterns in registration order.
func (f *x402Facilitator) findMechanism(scheme, network string) SchemeNetworkFacilitator {
	for _, entry := range f.entries {
		if entry.scheme == scheme && entry.networks[network] {
			return entry.mechanism
		}
	}
	for _, entry := range f.entries {
		if entry.scheme != scheme {
			continue
		}
		for _, pattern := range entry.patterns {
			if pattern.Matches(network) {
				return entry.mechanism
			}
		}
	}
	return nil
}

func (f *x402Facilitator) findMechanismV1(scheme, network string) SchemeNetworkFacilitatorV1 {
	for _, entry := range f.entriesV1 {
		if entry.scheme == scheme && entry.networks[network] {
			return entry.mechanism
		}
	}
	for _, entry := range f.entriesV1 {
		if entry.scheme != scheme {
			continue
		}
		for _, pattern := range entry.patterns {
			if pattern.Matches(network) {
				return entry.mechanism
			}
		}
	}
	return nil
}

// Verify routes a raw payment payload to the matching mechanism and runs
// its verification inside the hook pipeline. Both business and
// infrastructure failures are returned as errors; extract a *VerifyError
// for the structured reason code.
func (f *x402Facilitator) Verify(ctx context.Context, paymentPayload, paymentRequirements json.RawMessage) (*VerifyResponse, error) {
	version, err := types.DetectVersion(paymentPayload)
	if err != nil {
		return nil, err
	}
	scheme, network, err := types.GetSchemeAndNetwork(version, paymentPayload)
	if err != nil {
		return nil, err
	}

	hookCtx := FacilitatorVerifyContext{
		Version:             version,
		Scheme:              scheme,
		Network:             Network(network),
		PaymentPayload:      paymentPayload,
		PaymentRequirements: paymentRequirements,
	}

	p := pipeline[FacilitatorVerifyContext, *VerifyResponse]{
		call: func(FacilitatorVerifyContext) (*VerifyResponse, error) {
			return f.dispatchVerify(ctx, version, scheme, network, paymentPayload, paymentRequirements)
		},
	}
	for _, hook := range f.beforeVerifyHooks {
		p.before = append(p.before, hook)
	}
	for _, hook := range f.verifyFailureHooks {
		h := hook
		p.failure = append(p.failure, func(hc FacilitatorVerifyContext, callErr error) (bool, *VerifyResponse, error) {
			res, err := h(FacilitatorVerifyFailureContext{FacilitatorVerifyContext: hc, Error: callErr})
			if err != nil {
				return false, nil, err
			}
			if res == nil || !res.Recovered {
				return false, nil, nil
			}
			return true, res.Result, nil
		})
	}
	for _, hook := range f.afterVerifyHooks {
		h := hook
		p.after = append(p.after, func(hc FacilitatorVerifyContext, result *VerifyResponse) {
			_ = h(FacilitatorVerifyResultContext{FacilitatorVerifyContext: hc, Result: result})
		})
	}

	return p.run(hookCtx)
}

func (f *x402Facilitator) dispatchVerify(
	ctx context.Context,
	version int,
	scheme, network string,
	paymentPayload, paymentRequirements json.RawMessage,
) (*VerifyResponse, error) {
	switch version {
	case ProtocolVersion:
		mechanism := f.findMechanism(scheme, network)
		if mechanism == nil {
			return nil, &SchemeNotFoundError{Scheme: scheme, Network: network, Version: version}
		}
		var payload types.PaymentPayload
		if err := json.Unmarshal(paymentPayload, &payload); err != nil {
			return nil, fmt.Errorf("failed to parse payment payload: %w", err)
		}
		var requirements types.PaymentRequirements
		if err := json.Unmarshal(paymentRequirements, &requirements); err != nil {
			return nil, fmt.Errorf("failed to parse payment requirements: %w", err)
		}
		return mechanism.Verify(ctx, payload, requirements)

	case ProtocolVersionV1:
		mechanism := f.findMechanismV1(scheme, network)
		if mechanism == nil {
			return nil, &SchemeNotFoundError{Scheme: scheme, Network: network, Version: version}
		}
		var payload types.PaymentPayloadV1
		if err := json.Unmarshal(paymentPayload, &payload); err != nil {
			return nil, fmt.Errorf("failed to parse v1 payment payload: %w", err)
		}
		var requirements types.PaymentRequirementsV1
		if err := json.Unmarshal(paymentRequirements, &requirements); err != nil {
			return nil, fmt.Errorf("failed to parse v1 payment requirements: %w", err)
		}
		return mechanism.Verify(ctx, payload, requirements)

	default:
		return nil, fmt.Errorf("unsupported protocol version: %d", version)
	}
}

// Settle routes a raw payment payload to the matching mechanism and
// executes settlement inside the hook pipeline. Settlement is not
// idempotent: callers invoke it exactly once, after a successful verify.
func (f *x402Facilitator) Settle(ctx context.Context, paymentPayload, paymentRequirements json.RawMessage) (*SettleResponse, error) {
	version, err := types.DetectVersion(paymentPayload)
	if err != nil {
		return nil, err
	}
	scheme, network, err := types.GetSchemeAndNetwork(version, paymentPayload)
	if err != nil {
		return nil, err
	}

	hookCtx := FacilitatorSettleContext{
		Version:             version,
		Scheme:              scheme,
		Network:             Network(network),
		PaymentPayload:      paymentPayload,
		PaymentRequirements: paymentRequirements,
	}

	p := pipeline[FacilitatorSettleContext, *SettleResponse]{
		call: func(FacilitatorSettleContext) (*SettleResponse, error) {
			return f.dispatchSettle(ctx, version, scheme, network, paymentPayload, paymentRequirements)
		},
	}
	for _, hook := range f.beforeSettleHooks {
		p.before = append(p.before, hook)
	}
	for _, hook := range f.settleFailureHooks {
		h := hook
		p.failure = append(p.failure, func(hc FacilitatorSettleContext, callErr error) (bool, *SettleResponse, error) {
			res, err := h(FacilitatorSettleFailureContext{FacilitatorSettleContext: hc, Error: callErr})
			if err != nil {
				return false, nil, err
			}
			if res == nil || !res.Recovered {
				return false, nil, nil
			}
			return true, res.Result, nil
		})
	}
	for _, hook := range f.afterSettleHooks {
		h := hook
		p.after = append(p.after, func(hc FacilitatorSettleContext, result *SettleResponse) {
			_ = h(FacilitatorSettleResultContext{FacilitatorSettleContext: hc, Result: result})
		})
	}

	return p.run(hookCtx)
}

func (f *x402Facilitator) dispatchSettle(
	ctx context.Context,
	version int,
	scheme, network string,
	paymentPayload, paymentRequirements json.RawMessage,
) (*SettleResponse, error) {
	switch version {
	case ProtocolVersion:
		mechanism := f.findMechanism(scheme, network)
		if mechanism == nil {
			return nil, &SchemeNotFoundError{Scheme: scheme, Network: network, Version: version}
		}
		var payload types.PaymentPayload
		if err := json.Unmarshal(paymentPayload, &payload); err != nil {
			return nil, fmt.Errorf("failed to parse payment payload: %w", err)
		}
		var requirements types.PaymentRequirements
		if err := json.Unmarshal(paymentRequirements, &requirements); err != nil {
			return nil, fmt.Errorf("failed to parse payment requirements: %w", err)
		}
		return mechanism.Settle(ctx, payload, requirements)

	case ProtocolVersionV1:
		mechanism := f.findMechanismV1(scheme, network)
		if mechanism == nil {
			return nil, &SchemeNotFoundError{Scheme: scheme, Network: network, Version: version}
		}
		var payload types.PaymentPayloadV1
		if err := json.Unmarshal(paymentPayload, &payload); err != nil {
			return nil, fmt.Errorf("failed to parse v1 payment payload: %w", err)
		}
		var requirements types.PaymentRequirementsV1
		if err := json.Unmarshal(paymentRequirements, &requirements); err != nil {
			return nil, fmt.Errorf("failed to parse v1 payment requirements: %w", err)
		}
		return mechanism.Settle(ctx, payload, requirements)

	default:
		return nil, fmt.Errorf("unsupported protocol version: %d", version)
	}
}

// GetSupported aggregates one SupportedKind per registered
// (version, scheme, network) pair, de-duplicated, plus the signer
// addresses grouped by chain family.
func (f *x402Facilitator) GetSupported() *SupportedResponse {
	response := &SupportedResponse{
		Signers: make(map[string][]string),
	}
	seenKinds := make(map[string]bool)
	seenSigners := make(map[string]map[string]bool)

	addKind := func(version int, scheme string, network Network, extra map[string]interface{}) {
		key := fmt.Sprintf("%d|%s|%s", version, scheme, network)
		if seenKinds[key] {
			return
		}
		seenKinds[key] = true
		response.Kinds = append(response.Kinds, SupportedKind{
			X402Version: version,
			Scheme:      scheme,
			Network:     network,
			Extra:       extra,
		})
	}
	addSigners := func(family string, addrs []string) {
		if len(addrs) == 0 {
			return
		}
		if seenSigners[family] == nil {
			seenSigners[family] = make(map[string]bool)
		}
		for _, addr := range addrs {
			if seenSigners[family][addr] {
				continue
			}
			seenSigners[family][addr] = true
			response.Signers[family] = append(response.Signers[family], addr)
		}
	}

	for _, entry := range f.entries {
		for network := range entry.networks {
			addKind(ProtocolVersion, entry.scheme, Network(network), entry.mechanism.GetExtra(Network(network)))
			addSigners(entry.mechanism.CaipFamily(), entry.mechanism.GetSigners(Network(network)))
		}
		for _, pattern := range entry.patterns {
			addKind(ProtocolVersion, entry.scheme, pattern, entry.mechanism.GetExtra(pattern))
			addSigners(entry.mechanism.CaipFamily(), entry.mechanism.GetSigners(pattern))
		}
	}
	for _, entry := range f.entriesV1 {
		for network := range entry.networks {
			addKind(ProtocolVersionV1, entry.scheme, Network(network), entry.mechanism.GetExtra(Network(network)))
			addSigners(entry.mechanism.CaipFamily(), entry.mechanism.GetSigners(Network(network)))
		}
		for _, pattern := range entry.patterns {
			addKind(ProtocolVersionV1, entry.scheme, pattern, entry.mechanism.GetExtra(pattern))
			addSigners(entry.mechanism.CaipFamily(), entry.mechanism.GetSigners(pattern))
		}
	}

	return response
}

package x402

import (
	"context"
	"fmt"

	"x402-go/types"
)

// x402Client selects one acceptable payment requirement from a 402
// challenge and produces a signed payment payload through the registered
// scheme implementation for its (scheme, network).
type x402Client struct {
	schemes     map[string]SchemeNetworkClient
	wildcards   []clientWildcardEntry
	schemesV1   map[string]SchemeNetworkClientV1
	wildcardsV1 []clientWildcardEntryV1

	policies []PaymentPolicy
	selector PaymentSelector

	beforeHooks  []BeforePaymentCreationHook
	afterHooks   []AfterPaymentCreationHook
	failureHooks []PaymentCreationFailureHook
}

type clientWildcardEntry struct {
	scheme  string
	pattern Network
	client  SchemeNetworkClient
}

type clientWildcardEntryV1 struct {
	scheme  string
	pattern Network
	client  SchemeNetworkClientV1
}

// Newx402Client creates a payment client with no registered schemes and
// the default first-of-list selector.
func Newx402Client() *x402Client {
	return &x402Client{
		schemes:   make(map[string]SchemeNetworkClient),
		schemesV1: make(map[string]SchemeNetworkClientV1),
		selector:  FirstSelector,
	}
}

func schemeNetworkKey(scheme, network string) string {
	return scheme + "|" + network
}

// Register adds a v2 scheme client for a network or a family wildcard
// ("eip155:*"). Returns the client for fluent chaining.
func (c *x402Client) Register(network Network, client SchemeNetworkClient) *x402Client {
	if network.IsWildcard() {
		c.wildcards = append(c.wildcards, clientWildcardEntry{
			scheme:  client.Scheme(),
			pattern: network,
			client:  client,
		})
		return c
	}
	c.schemes[schemeNetworkKey(client.Scheme(), string(network))] = client
	return c
}

// RegisterV1 adds a legacy v1 scheme client for a network or family wildcard
func (c *x402Client) RegisterV1(network Network, client SchemeNetworkClientV1) *x402Client {
	if network.IsWildcard() {
		c.wildcardsV1 = append(c.wildcardsV1, clientWildcardEntryV1{
			scheme:  client.Scheme(),
			pattern: network,
			client:  client,
		})
		return c
	}
	c.schemesV1[schemeNetworkKey(client.Scheme(), string(network))] = client
	return c
}

// WithPolicies appends selection policies, applied in order during
// SelectPaymentRequirements. Each policy must return a non-empty list.
func (c *x402Client) WithPolicies(policies ...PaymentPolicy) *x402Client {
	c.policies = append(c.policies, policies...)
	return c
}

// WithSelector replaces the default first-of-list selector
func (c *x402Client) WithSelector(selector PaymentSelector) *x402Client {
	c.selector = selector
	return c
}

// OnBeforePaymentCreation registers a hook that runs before payment
// creation and may abort it.
func (c *x402Client) OnBeforePaymentCreation(hook BeforePaymentCreationHook) *x402Client {
	c.beforeHooks = append(c.beforeHooks, hook)
	return c
}

// OnAfterPaymentCreation registers a hook that observes created payloads.
// Hook errors are ignored so side effects cannot fail a signed payment.
func (c *x402Client) OnAfterPaymentCreation(hook AfterPaymentCreationHook) *x402Client {
	c.afterHooks = append(c.afterHooks, hook)
	return c
}

// OnPaymentCreationFailure registers a hook that runs when payment
// creation fails and may supply a recovered payload.
func (c *x402Client) OnPaymentCreationFailure(hook PaymentCreationFailureHook) *x402Client {
	c.failureHooks = append(c.failureHooks, hook)
	return c
}

// findScheme resolves the v2 scheme client for a (scheme, network) pair:
// exact registrations first, then wildcard registrations in insertion order.
func (c *x402Client) findScheme(scheme, network string) SchemeNetworkClient {
	if client, ok := c.schemes[schemeNetworkKey(scheme, network)]; ok {
		return client
	}
	for _, entry := range c.wildcards {
		if entry.scheme == scheme && entry.pattern.Matches(network) {
			return entry.client
		}
	}
	return nil
}

func (c *x402Client) findSchemeV1(scheme, network string) SchemeNetworkClientV1 {
	if client, ok := c.schemesV1[schemeNetworkKey(scheme, network)]; ok {
		return client
	}
	for _, entry := range c.wildcardsV1 {
		if entry.scheme == scheme && entry.pattern.Matches(network) {
			return entry.client
		}
	}
	return nil
}

// SelectPaymentRequirements picks one requirement from a v2 accepts list:
// filter to registered schemes, apply policies in order, then select.
func (c *x402Client) SelectPaymentRequirements(accepts []types.PaymentRequirements) (types.PaymentRequirements, error) {
	candidates := make([]types.PaymentRequirements, 0, len(accepts))
	for _, req := range accepts {
		if c.findScheme(req.Scheme, req.Network) != nil {
			candidates = append(candidates, req)
		}
	}
	if len(candidates) == 0 {
		return types.PaymentRequirements{}, &NoMatchingRequirementsError{
			Message: "no registered scheme matches any accepted requirement",
		}
	}

	for _, policy := range c.policies {
		candidates = policy(ProtocolVersion, candidates)
		if len(candidates) == 0 {
			return types.PaymentRequirements{}, &NoMatchingRequirementsError{
				Message: "a selection policy eliminated all candidates",
			}
		}
	}

	return c.selector(ProtocolVersion, candidates)
}

// SelectPaymentRequirementsV1 picks one requirement from a v1 accepts
// list. Policies and the selector see v1 entries through their v2-shaped
// view; the chosen view is mapped back to the original entry.
func (c *x402Client) SelectPaymentRequirementsV1(accepts []types.PaymentRequirementsV1) (types.PaymentRequirementsV1, error) {
	candidates := make([]types.PaymentRequirementsV1, 0, len(accepts))
	views := make([]types.PaymentRequirements, 0, len(accepts))
	for _, req := range accepts {
		if c.findSchemeV1(req.Scheme, req.Network) == nil {
			continue
		}
		candidates = append(candidates, req)
		views = append(views, types.PaymentRequirements{
			Scheme:            req.Scheme,
			Network:           req.Network,
			Asset:             req.Asset,
			Amount:            req.MaxAmountRequired,
			PayTo:             req.PayTo,
			MaxTimeoutSeconds: req.MaxTimeoutSeconds,
			Extra:             req.ExtraMap(),
		})
	}
	if len(candidates) == 0 {
		return types.PaymentRequirementsV1{}, &NoMatchingRequirementsError{
			Message: "no registered v1 scheme matches any accepted requirement",
		}
	}

	filtered := views
	for _, policy := range c.policies {
		filtered = policy(ProtocolVersionV1, filtered)
		if len(filtered) == 0 {
			return types.PaymentRequirementsV1{}, &NoMatchingRequirementsError{
				Message: "a selection policy eliminated all candidates",
			}
		}
	}

	selected, err := c.selector(ProtocolVersionV1, filtered)
	if err != nil {
		return types.PaymentRequirementsV1{}, err
	}
	for i, view := range views {
		if view.Scheme == selected.Scheme &&
			view.Network == selected.Network &&
			view.Asset == selected.Asset &&
			view.Amount == selected.Amount &&
			view.PayTo == selected.PayTo {
			return candidates[i], nil
		}
	}
	return types.PaymentRequirementsV1{}, &NoMatchingRequirementsError{
		Message: "selected requirement not found in candidate list",
	}
}

// CreatePaymentPayload signs a v2 payment for the selected requirements.
// The scheme implementation produces the inner payload; the client wraps
// it with the accepted requirements, resource, and extensions. The hook
// pipeline wraps the whole operation.
func (c *x402Client) CreatePaymentPayload(
	ctx context.Context,
	requirements types.PaymentRequirements,
	resource *types.ResourceInfo,
	extensions map[string]interface{},
) (types.PaymentPayload, error) {
	scheme := c.findScheme(requirements.Scheme, requirements.Network)
	if scheme == nil {
		return types.PaymentPayload{}, &SchemeNotFoundError{
			Scheme:  requirements.Scheme,
			Network: requirements.Network,
			Version: ProtocolVersion,
		}
	}

	p := pipeline[PaymentCreationContext, types.PaymentPayload]{
		call: func(PaymentCreationContext) (types.PaymentPayload, error) {
			payload, err := scheme.CreatePaymentPayload(ctx, requirements)
			if err != nil {
				return types.PaymentPayload{}, err
			}
			payload.X402Version = ProtocolVersion
			payload.Accepted = requirements
			payload.Resource = resource
			payload.Extensions = extensions
			return payload, nil
		},
	}
	for _, hook := range c.beforeHooks {
		h := hook
		p.before = append(p.before, func(hc PaymentCreationContext) (*BeforeHookResult, error) {
			res, err := h(hc)
			if err != nil {
				return nil, err
			}
			if res != nil && res.Abort {
				return &BeforeHookResult{Abort: true, Reason: res.Reason}, nil
			}
			return nil, nil
		})
	}
	for _, hook := range c.failureHooks {
		h := hook
		p.failure = append(p.failure, func(hc PaymentCreationContext, callErr error) (bool, types.PaymentPayload, error) {
			res, err := h(PaymentCreationFailureContext{
				Version:              hc.Version,
				SelectedRequirements: hc.SelectedRequirements,
				Error:                callErr,
			})
			if err != nil {
				return false, types.PaymentPayload{}, err
			}
			if res == nil || !res.Recovered {
				return false, types.PaymentPayload{}, nil
			}
			switch payload := res.Payload.(type) {
			case types.PaymentPayload:
				return true, payload, nil
			case *types.PaymentPayload:
				return true, *payload, nil
			default:
				return false, types.PaymentPayload{}, fmt.Errorf("recovered payload has unexpected type %T", res.Payload)
			}
		})
	}
	for _, hook := range c.afterHooks {
		h := hook
		p.after = append(p.after, func(hc PaymentCreationContext, result types.PaymentPayload) {
			_ = h(PaymentCreatedContext{
				Version:              hc.Version,
				SelectedRequirements: hc.SelectedRequirements,
				Payload:              &result,
			})
		})
	}

	return p.run(PaymentCreationContext{
		Version:              ProtocolVersion,
		SelectedRequirements: requirements,
	})
}

// CreatePaymentPayloadV1 signs a legacy v1 payment for the selected
// requirements.
func (c *x402Client) CreatePaymentPayloadV1(
	ctx context.Context,
	requirements types.PaymentRequirementsV1,
) (types.PaymentPayloadV1, error) {
	scheme := c.findSchemeV1(requirements.Scheme, requirements.Network)
	if scheme == nil {
		return types.PaymentPayloadV1{}, &SchemeNotFoundError{
			Scheme:  requirements.Scheme,
			Network: requirements.Network,
			Version: ProtocolVersionV1,
		}
	}

	p := pipeline[PaymentCreationContext, types.PaymentPayloadV1]{
		call: func(PaymentCreationContext) (types.PaymentPayloadV1, error) {
			payload, err := scheme.CreatePaymentPayload(ctx, requirements)
			if err != nil {
				return types.PaymentPayloadV1{}, err
			}
			payload.X402Version = ProtocolVersionV1
			payload.Scheme = requirements.Scheme
			payload.Network = requirements.Network
			return payload, nil
		},
	}
	for _, hook := range c.beforeHooks {
		h := hook
		p.before = append(p.before, func(hc PaymentCreationContext) (*BeforeHookResult, error) {
			res, err := h(hc)
			if err != nil {
				return nil, err
			}
			if res != nil && res.Abort {
				return &BeforeHookResult{Abort: true, Reason: res.Reason}, nil
			}
			return nil, nil
		})
	}
	for _, hook := range c.failureHooks {
		h := hook
		p.failure = append(p.failure, func(hc PaymentCreationContext, callErr error) (bool, types.PaymentPayloadV1, error) {
			res, err := h(PaymentCreationFailureContext{
				Version:              hc.Version,
				SelectedRequirements: hc.SelectedRequirements,
				Error:                callErr,
			})
			if err != nil {
				return false, types.PaymentPayloadV1{}, err
			}
			if res == nil || !res.Recovered {
				return false, types.PaymentPayloadV1{}, nil
			}
			switch payload := res.Payload.(type) {
			case types.PaymentPayloadV1:
				return true, payload, nil
			case *types.PaymentPayloadV1:
				return true, *payload, nil
			default:
				return false, types.PaymentPayloadV1{}, fmt.Errorf("recovered payload has unexpected type %T", res.Payload)
			}
		})
	}
	for _, hook := range c.afterHooks {
		h := hook
		p.after = append(p.after, func(hc PaymentCreationContext, result types.PaymentPayloadV1) {
			_ = h(PaymentCreatedContext{
				Version:              hc.Version,
				SelectedRequirements: hc.SelectedRequirements,
				Payload:              &result,
			})
		})
	}

	return p.run(PaymentCreationContext{
		Version:              ProtocolVersionV1,
		SelectedRequirements: requirements,
	})
}

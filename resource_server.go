package x402

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"x402-go/types"
)

// MoneyParser converts a normalized decimal money amount (e.g. "1.50")
// into an explicit asset amount for a network. Returning (nil, nil)
// passes the amount to the next parser in the chain; the scheme's
// default stablecoin conversion runs when no parser claims it.
type MoneyParser func(amount string, network Network) (*types.AssetAmount, error)

// ResourceServerOption configures a resource server at construction
type ResourceServerOption func(*x402ResourceServer)

// WithFacilitatorClient adds a facilitator the server delegates
// verification and settlement to. May be given multiple times; the
// first facilitator whose catalog supports a payload's (scheme, network)
// handles it.
func WithFacilitatorClient(client FacilitatorClient) ResourceServerOption {
	return func(s *x402ResourceServer) {
		s.facilitators = append(s.facilitators, client)
	}
}

// PaymentConfig declares one acceptable way to pay for a resource.
// Price is either a Price money string ("$0.10"), a plain string, or a
// types.AssetAmount in atomic units.
type PaymentConfig struct {
	Scheme            string
	Network           Network
	PayTo             string
	Price             interface{}
	MaxTimeoutSeconds int
	Extra             map[string]interface{}
}

// x402ResourceServer builds payment requirement sets from price
// declarations and delegates verify/settle to its facilitators.
type x402ResourceServer struct {
	facilitators []FacilitatorClient
	schemes      map[string]SchemeNetworkServer
	wildcards    []serverWildcardEntry
	moneyParsers []MoneyParser

	// per-facilitator capability catalogs, fetched once at Initialize
	supported []*SupportedResponse

	beforeVerifyHooks  []BeforeVerifyHook
	afterVerifyHooks   []AfterVerifyHook
	verifyFailureHooks []VerifyFailureHook
	beforeSettleHooks  []BeforeSettleHook
	afterSettleHooks   []AfterSettleHook
	settleFailureHooks []SettleFailureHook
}

type serverWildcardEntry struct {
	scheme  string
	pattern Network
	server  SchemeNetworkServer
}

// Newx402ResourceServer creates a resource server
func Newx402ResourceServer(opts ...ResourceServerOption) *x402ResourceServer {
	s := &x402ResourceServer{
		schemes: make(map[string]SchemeNetworkServer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a scheme server for a network or family wildcard.
// Returns the server for fluent chaining.
func (s *x402ResourceServer) Register(network Network, server SchemeNetworkServer) *x402ResourceServer {
	if network.IsWildcard() {
		s.wildcards = append(s.wildcards, serverWildcardEntry{
			scheme:  server.Scheme(),
			pattern: network,
			server:  server,
		})
		return s
	}
	s.schemes[schemeNetworkKey(server.Scheme(), string(network))] = server
	return s
}

// RegisterMoneyParser appends a custom money parser to the chain
func (s *x402ResourceServer) RegisterMoneyParser(parser MoneyParser) *x402ResourceServer {
	s.moneyParsers = append(s.moneyParsers, parser)
	return s
}

// OnBeforeVerify registers a hook that runs before verification and may abort it
func (s *x402ResourceServer) OnBeforeVerify(hook BeforeVerifyHook) *x402ResourceServer {
	s.beforeVerifyHooks = append(s.beforeVerifyHooks, hook)
	return s
}

// OnAfterVerify registers a hook that observes verification results
func (s *x402ResourceServer) OnAfterVerify(hook AfterVerifyHook) *x402ResourceServer {
	s.afterVerifyHooks = append(s.afterVerifyHooks, hook)
	return s
}

// OnVerifyFailure registers a hook that may recover a failed verification
func (s *x402ResourceServer) OnVerifyFailure(hook VerifyFailureHook) *x402ResourceServer {
	s.verifyFailureHooks = append(s.verifyFailureHooks, hook)
	return s
}

// OnBeforeSettle registers a hook that runs before settlement and may abort it
func (s *x402ResourceServer) OnBeforeSettle(hook BeforeSettleHook) *x402ResourceServer {
	s.beforeSettleHooks = append(s.beforeSettleHooks, hook)
	return s
}

// OnAfterSettle registers a hook that observes settlement results
func (s *x402ResourceServer) OnAfterSettle(hook AfterSettleHook) *x402ResourceServer {
	s.afterSettleHooks = append(s.afterSettleHooks, hook)
	return s
}

// OnSettleFailure registers a hook that may recover a failed settlement
func (s *x402ResourceServer) OnSettleFailure(hook SettleFailureHook) *x402ResourceServer {
	s.settleFailureHooks = append(s.settleFailureHooks, hook)
	return s
}

func (s *x402ResourceServer) findScheme(scheme, network string) SchemeNetworkServer {
	if server, ok := s.schemes[schemeNetworkKey(scheme, network)]; ok {
		return server
	}
	for _, entry := range s.wildcards {
		if entry.scheme == scheme && entry.pattern.Matches(network) {
			return entry.server
		}
	}
	return nil
}

// Initialize fetches each facilitator's capability catalog and validates
// that every registered (scheme, network) has remote support. It fails
// fast with one error line per missing combination.
func (s *x402ResourceServer) Initialize(ctx context.Context) error {
	if len(s.facilitators) == 0 {
		return fmt.Errorf("resource server has no facilitator client configured")
	}

	s.supported = s.supported[:0]
	for i, facilitator := range s.facilitators {
		supported, err := facilitator.GetSupported(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch supported kinds from facilitator %d: %w", i, err)
		}
		s.supported = append(s.supported, supported)
	}

	var missing []string
	check := func(scheme, network string) {
		if s.supportingCatalog(scheme, network) == nil {
			missing = append(missing, fmt.Sprintf("scheme=%s network=%s", scheme, network))
		}
	}
	for key := range s.schemes {
		parts := strings.SplitN(key, "|", 2)
		check(parts[0], parts[1])
	}
	for _, entry := range s.wildcards {
		check(entry.scheme, string(entry.pattern))
	}
	if len(missing) > 0 {
		return fmt.Errorf("no facilitator supports: %s", strings.Join(missing, "; "))
	}
	return nil
}

// supportingCatalog returns the first facilitator catalog that supports
// the (scheme, network) pair, matching wildcard kinds in both directions.
func (s *x402ResourceServer) supportingCatalog(scheme, network string) *SupportedResponse {
	for _, supported := range s.supported {
		if supported == nil {
			continue
		}
		for _, kind := range supported.Kinds {
			if kind.Scheme != scheme {
				continue
			}
			if kind.Network.Matches(network) || Network(network).Matches(string(kind.Network)) {
				return supported
			}
		}
	}
	return nil
}

// facilitatorFor returns the facilitator client whose catalog supports
// the pair, falling back to the first configured facilitator before
// Initialize has run.
func (s *x402ResourceServer) facilitatorFor(scheme, network string) (FacilitatorClient, error) {
	if len(s.facilitators) == 0 {
		return nil, fmt.Errorf("resource server has no facilitator client configured")
	}
	for i, supported := range s.supported {
		if supported == nil {
			continue
		}
		for _, kind := range supported.Kinds {
			if kind.Scheme != scheme {
				continue
			}
			if kind.Network.Matches(network) || Network(network).Matches(string(kind.Network)) {
				return s.facilitators[i], nil
			}
		}
	}
	return s.facilitators[0], nil
}

// parseMoneyAmount normalizes a human money amount: strips a leading
// currency symbol and a trailing USD/USDC suffix, and validates the rest
// is a plain decimal number.
func parseMoneyAmount(price string) (string, error) {
	amount := strings.TrimSpace(price)
	amount = strings.TrimPrefix(amount, "$")
	upper := strings.ToUpper(amount)
	if strings.HasSuffix(upper, "USDC") {
		amount = strings.TrimSpace(amount[:len(amount)-4])
	} else if strings.HasSuffix(upper, "USD") {
		amount = strings.TrimSpace(amount[:len(amount)-3])
	}
	if amount == "" {
		return "", fmt.Errorf("empty money amount: %q", price)
	}
	dot := false
	for _, r := range amount {
		if r == '.' {
			if dot {
				return "", fmt.Errorf("invalid money amount: %q", price)
			}
			dot = true
			continue
		}
		if r < '0' || r > '9' {
			return "", fmt.Errorf("invalid money amount: %q", price)
		}
	}
	return amount, nil
}

// resolvePrice turns a price declaration into an explicit asset amount.
// Explicit AssetAmounts pass through (asset required); money strings run
// through the custom parser chain, then the scheme's default conversion.
func (s *x402ResourceServer) resolvePrice(price interface{}, network Network, scheme SchemeNetworkServer) (types.AssetAmount, error) {
	switch p := price.(type) {
	case types.AssetAmount:
		if p.Asset == "" {
			return types.AssetAmount{}, fmt.Errorf("asset amount price requires an asset address")
		}
		return p, nil
	case *types.AssetAmount:
		return s.resolvePrice(*p, network, scheme)
	case Price:
		return s.resolveMoney(string(p), network, scheme)
	case string:
		return s.resolveMoney(p, network, scheme)
	default:
		return types.AssetAmount{}, fmt.Errorf("unsupported price type %T", price)
	}
}

func (s *x402ResourceServer) resolveMoney(price string, network Network, scheme SchemeNetworkServer) (types.AssetAmount, error) {
	amount, err := parseMoneyAmount(price)
	if err != nil {
		return types.AssetAmount{}, err
	}
	for _, parser := range s.moneyParsers {
		parsed, err := parser(amount, network)
		if err != nil {
			return types.AssetAmount{}, err
		}
		if parsed != nil {
			return *parsed, nil
		}
	}
	return scheme.ParsePrice(amount, network)
}

// BuildPaymentRequirements resolves each config's price and fills scheme
// defaults, producing one requirements entry per config.
func (s *x402ResourceServer) BuildPaymentRequirements(ctx context.Context, configs []PaymentConfig) ([]types.PaymentRequirements, error) {
	requirements := make([]types.PaymentRequirements, 0, len(configs))
	for _, config := range configs {
		scheme := s.findScheme(config.Scheme, string(config.Network))
		if scheme == nil {
			return nil, &SchemeNotFoundError{
				Scheme:  config.Scheme,
				Network: string(config.Network),
				Version: ProtocolVersion,
			}
		}

		assetAmount, err := s.resolvePrice(config.Price, config.Network, scheme)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve price for %s on %s: %w", config.Scheme, config.Network, err)
		}

		maxTimeout := config.MaxTimeoutSeconds
		if maxTimeout == 0 {
			maxTimeout = DefaultMaxTimeoutSeconds
		}

		extra := config.Extra
		if extra == nil && assetAmount.Extra != nil {
			extra = assetAmount.Extra
		}

		req := types.PaymentRequirements{
			Scheme:            config.Scheme,
			Network:           string(config.Network),
			Asset:             assetAmount.Asset,
			Amount:            assetAmount.Amount,
			PayTo:             config.PayTo,
			MaxTimeoutSeconds: maxTimeout,
			Extra:             extra,
		}

		if err := scheme.EnhancePaymentRequirements(ctx, &req, s.supportingCatalog(config.Scheme, string(config.Network))); err != nil {
			return nil, fmt.Errorf("failed to enhance requirements for %s on %s: %w", config.Scheme, config.Network, err)
		}

		requirements = append(requirements, req)
	}
	return requirements, nil
}

// requirementsView decodes whichever requirements version the raw bytes
// hold into the version-agnostic hook view.
func requirementsView(version int, requirementsBytes json.RawMessage) (Requirements, error) {
	switch version {
	case ProtocolVersionV1:
		var req types.PaymentRequirementsV1
		if err := json.Unmarshal(requirementsBytes, &req); err != nil {
			return nil, fmt.Errorf("failed to parse v1 requirements: %w", err)
		}
		return req, nil
	default:
		var req types.PaymentRequirements
		if err := json.Unmarshal(requirementsBytes, &req); err != nil {
			return nil, fmt.Errorf("failed to parse requirements: %w", err)
		}
		return req, nil
	}
}

// VerifyPayment delegates verification of a raw payload to the matching
// facilitator inside the hook pipeline. Business failures return a
// response with IsValid=false, not an error.
func (s *x402ResourceServer) VerifyPayment(ctx context.Context, paymentPayload, paymentRequirements json.RawMessage) (*VerifyResponse, error) {
	version, err := types.DetectVersion(paymentPayload)
	if err != nil {
		return nil, err
	}
	scheme, network, err := types.GetSchemeAndNetwork(version, paymentPayload)
	if err != nil {
		return nil, err
	}
	view, err := requirementsView(version, paymentRequirements)
	if err != nil {
		return nil, err
	}
	facilitator, err := s.facilitatorFor(scheme, network)
	if err != nil {
		return nil, err
	}

	hookCtx := VerifyContext{
		Version:        version,
		Requirements:   view,
		PaymentPayload: paymentPayload,
	}

	p := pipeline[VerifyContext, *VerifyResponse]{
		call: func(VerifyContext) (*VerifyResponse, error) {
			return facilitator.Verify(ctx, paymentPayload, paymentRequirements)
		},
	}
	for _, hook := range s.beforeVerifyHooks {
		p.before = append(p.before, hook)
	}
	for _, hook := range s.verifyFailureHooks {
		h := hook
		p.failure = append(p.failure, func(hc VerifyContext, callErr error) (bool, *VerifyResponse, error) {
			res, err := h(VerifyFailureContext{VerifyContext: hc, Error: callErr})
			if err != nil {
				return false, nil, err
			}
			if res == nil || !res.Recovered {
				return false, nil, nil
			}
			return true, res.Result, nil
		})
	}
	for _, hook := range s.afterVerifyHooks {
		h := hook
		p.after = append(p.after, func(hc VerifyContext, result *VerifyResponse) {
			_ = h(VerifyResultContext{VerifyContext: hc, Result: result})
		})
	}

	return p.run(hookCtx)
}

// SettlePayment delegates settlement of a raw payload to the matching
// facilitator inside the hook pipeline.
func (s *x402ResourceServer) SettlePayment(ctx context.Context, paymentPayload, paymentRequirements json.RawMessage) (*SettleResponse, error) {
	version, err := types.DetectVersion(paymentPayload)
	if err != nil {
		return nil, err
	}
	scheme, network, err := types.GetSchemeAndNetwork(version, paymentPayload)
	if err != nil {
		return nil, err
	}
	view, err := requirementsView(version, paymentRequirements)
	if err != nil {
		return nil, err
	}
	facilitator, err := s.facilitatorFor(scheme, network)
	if err != nil {
		return nil, err
	}

	hookCtx := SettleContext{
		Version:        version,
		Requirements:   view,
		PaymentPayload: paymentPayload,
	}

	p := pipeline[SettleContext, *SettleResponse]{
		call: func(SettleContext) (*SettleResponse, error) {
			return facilitator.Settle(ctx, paymentPayload, paymentRequirements)
		},
	}
	for _, hook := range s.beforeSettleHooks {
		p.before = append(p.before, hook)
	}
	for _, hook := range s.settleFailureHooks {
		h := hook
		p.failure = append(p.failure, func(hc SettleContext, callErr error) (bool, *SettleResponse, error) {
			res, err := h(SettleFailureContext{SettleContext: hc, Error: callErr})
			if err != nil {
				return false, nil, err
			}
			if res == nil || !res.Recovered {
				return false, nil, nil
			}
			return true, res.Result, nil
		})
	}
	for _, hook := range s.afterSettleHooks {
		h := hook
		p.after = append(p.after, func(hc SettleContext, result *SettleResponse) {
			_ = h(SettleResultContext{SettleContext: hc, Result: result})
		})
	}

	return p.run(hookCtx)
}

// FindMatchingRequirements returns the accepts entry a payment payload
// was created for, comparing version-appropriate identifying fields.
func (s *x402ResourceServer) FindMatchingRequirements(paymentPayload json.RawMessage, accepts []json.RawMessage) (json.RawMessage, error) {
	version, err := types.DetectVersion(paymentPayload)
	if err != nil {
		return nil, err
	}
	for _, req := range accepts {
		match, err := types.MatchPayloadToRequirements(version, paymentPayload, req)
		if err != nil {
			continue
		}
		if match {
			return req, nil
		}
	}
	return nil, &NoMatchingRequirementsError{Message: "payload does not match any accepted requirement"}
}

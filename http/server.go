package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"

	x402 "x402-go"
	"x402-go/types"
)

// DynamicPriceFunc computes a price at request time from the request
// context, enabling tiered or user-based pricing.
type DynamicPriceFunc func(ctx context.Context, reqCtx HTTPRequestContext) (x402.Price, error)

// PaymentOption declares one acceptable way to pay for a route. Price is
// an x402.Price money string, a types.AssetAmount in atomic units, or a
// DynamicPriceFunc evaluated per request.
type PaymentOption struct {
	Scheme            string
	Network           x402.Network
	PayTo             string
	Price             interface{}
	MaxTimeoutSeconds int
	Extra             map[string]interface{}
}

// PaymentOptions is the list of payment options a route accepts
type PaymentOptions []PaymentOption

// RouteConfig is the payment configuration for one protected route
type RouteConfig struct {
	Accepts     PaymentOptions
	Description string
	MimeType    string
	Extensions  map[string]interface{}
}

// RoutesConfig maps route patterns to their payment configuration.
// Keys are either a bare path ("/api/protected"), which matches every
// method, or "METHOD /path" ("GET /weather") for a single method.
type RoutesConfig map[string]RouteConfig

// HTTPAdapter abstracts the incoming request so the server core stays
// framework-agnostic. Framework integrations (gin, net/http) implement it.
type HTTPAdapter interface {
	GetHeader(name string) string
	GetMethod() string
	GetPath() string
	GetURL() string
	GetAcceptHeader() string
	GetUserAgent() string
}

// HTTPRequestContext carries the adapter plus the routing fields for one
// request through processing and dynamic pricing.
type HTTPRequestContext struct {
	Adapter HTTPAdapter
	Path    string
	Method  string
}

// ResultType classifies the outcome of processing a request
type ResultType string

const (
	// ResultNoPaymentRequired means the route is not payment-protected
	ResultNoPaymentRequired ResultType = "no-payment-required"

	// ResultPaymentVerified means a valid payment accompanied the request
	ResultPaymentVerified ResultType = "payment-verified"

	// ResultPaymentError means the request must be answered with the
	// attached 402 (or error) response instructions
	ResultPaymentError ResultType = "payment-error"
)

// ResponseInstructions tells the framework integration what to write
// back when the request cannot proceed to the handler.
type ResponseInstructions struct {
	Status  int
	Headers map[string]string
	Body    []byte
	IsHTML  bool
}

// ProcessResult is the outcome of ProcessHTTPRequest. On
// ResultPaymentVerified the verified payload and its matched
// requirements are attached for settlement after the handler runs;
// v1 payments populate the V1 fields instead.
type ProcessResult struct {
	Type     ResultType
	Response *ResponseInstructions

	PaymentPayload      *types.PaymentPayload
	PaymentRequirements *types.PaymentRequirements

	PaymentPayloadV1      *types.PaymentPayloadV1
	PaymentRequirementsV1 *types.PaymentRequirementsV1
}

// ProcessOptions tweaks per-request processing
type ProcessOptions struct {
	// Resource overrides the resource info published in the challenge
	Resource *types.ResourceInfo
}

// SettlementResult is the outcome of ProcessSettlement. Headers carry
// the base64 settlement receipt to attach to the final response.
type SettlementResult struct {
	Success     bool
	ErrorReason string
	Headers     map[string]string
}

// x402HTTPResourceServer wraps the x402 resource server core with route
// configuration and the HTTP 402 challenge/verify/settle flow.
type x402HTTPResourceServer struct {
	*x402.X402ResourceServer
	routes RoutesConfig
}

// HTTPServer is the exported type for x402HTTPResourceServer
type HTTPServer = x402HTTPResourceServer

// Newx402HTTPResourceServer creates an HTTP resource server over a fresh
// x402 core configured by opts.
func Newx402HTTPResourceServer(routes RoutesConfig, opts ...x402.ResourceServerOption) *x402HTTPResourceServer {
	return &x402HTTPResourceServer{
		X402ResourceServer: x402.Newx402ResourceServer(opts...),
		routes:             routes,
	}
}

// WrapResourceServer creates an HTTP resource server over an existing,
// already-configured x402 core.
func WrapResourceServer(server *x402.X402ResourceServer, routes RoutesConfig) *x402HTTPResourceServer {
	return &x402HTTPResourceServer{
		X402ResourceServer: server,
		routes:             routes,
	}
}

// findRoute matches "METHOD /path" keys before bare path keys
func (s *x402HTTPResourceServer) findRoute(method, path string) (RouteConfig, bool) {
	if route, ok := s.routes[method+" "+path]; ok {
		return route, true
	}
	if route, ok := s.routes[path]; ok {
		return route, true
	}
	return RouteConfig{}, false
}

// ProcessHTTPRequest runs the payment flow for one request: unprotected
// routes pass through, requests without payment get 402 response
// instructions, and requests with a payment header are verified.
func (s *x402HTTPResourceServer) ProcessHTTPRequest(ctx context.Context, reqCtx HTTPRequestContext, opts *ProcessOptions) ProcessResult {
	route, ok := s.findRoute(reqCtx.Method, reqCtx.Path)
	if !ok {
		return ProcessResult{Type: ResultNoPaymentRequired}
	}

	requirements, err := s.buildRequirements(ctx, reqCtx, route)
	if err != nil {
		return errorResult(http.StatusInternalServerError, fmt.Sprintf("failed to build payment requirements: %v", err))
	}

	resource := s.resourceInfo(reqCtx, route, opts)

	if encoded := reqCtx.Adapter.GetHeader(HeaderPaymentSignature); encoded != "" {
		return s.verifyV2(ctx, reqCtx, route, requirements, resource, encoded)
	}
	if encoded := reqCtx.Adapter.GetHeader(HeaderPaymentV1); encoded != "" {
		return s.verifyV1(ctx, reqCtx, route, requirements, resource, encoded)
	}

	return s.challenge(reqCtx, route, requirements, resource, "Payment required")
}

// buildRequirements resolves the route's payment options, evaluating
// dynamic prices against the live request.
func (s *x402HTTPResourceServer) buildRequirements(ctx context.Context, reqCtx HTTPRequestContext, route RouteConfig) ([]types.PaymentRequirements, error) {
	configs := make([]x402.PaymentConfig, 0, len(route.Accepts))
	for _, option := range route.Accepts {
		price := option.Price
		if dynamic, ok := price.(DynamicPriceFunc); ok {
			resolved, err := dynamic(ctx, reqCtx)
			if err != nil {
				return nil, fmt.Errorf("dynamic price for %s %s: %w", reqCtx.Method, reqCtx.Path, err)
			}
			price = resolved
		}
		configs = append(configs, x402.PaymentConfig{
			Scheme:            option.Scheme,
			Network:           option.Network,
			PayTo:             option.PayTo,
			Price:             price,
			MaxTimeoutSeconds: option.MaxTimeoutSeconds,
			Extra:             option.Extra,
		})
	}
	return s.BuildPaymentRequirements(ctx, configs)
}

func (s *x402HTTPResourceServer) resourceInfo(reqCtx HTTPRequestContext, route RouteConfig, opts *ProcessOptions) *types.ResourceInfo {
	if opts != nil && opts.Resource != nil {
		return opts.Resource
	}
	url := reqCtx.Path
	if reqCtx.Adapter != nil && reqCtx.Adapter.GetURL() != "" {
		url = reqCtx.Adapter.GetURL()
	}
	return &types.ResourceInfo{
		URL:         url,
		Description: route.Description,
		MimeType:    route.MimeType,
	}
}

// challenge builds the 402 response: the v2 challenge base64-encoded in
// the PAYMENT-REQUIRED header, a v1-compatible JSON body for legacy
// clients, and a paywall page when the caller looks like a browser.
func (s *x402HTTPResourceServer) challenge(reqCtx HTTPRequestContext, route RouteConfig, requirements []types.PaymentRequirements, resource *types.ResourceInfo, errMsg string) ProcessResult {
	required := types.PaymentRequired{
		X402Version: x402.ProtocolVersion,
		Error:       errMsg,
		Accepts:     requirements,
		Resource:    resource,
		Extensions:  route.Extensions,
	}
	requiredBytes, err := json.Marshal(required)
	if err != nil {
		return errorResult(http.StatusInternalServerError, fmt.Sprintf("failed to encode challenge: %v", err))
	}

	headers := map[string]string{
		HeaderPaymentRequired: base64.StdEncoding.EncodeToString(requiredBytes),
	}

	if isBrowserRequest(reqCtx.Adapter) {
		return ProcessResult{
			Type: ResultPaymentError,
			Response: &ResponseInstructions{
				Status:  http.StatusPaymentRequired,
				Headers: headers,
				Body:    paywallHTML(route, requirements),
				IsHTML:  true,
			},
		}
	}

	body, err := json.Marshal(v1Challenge(requirements, resource, errMsg))
	if err != nil {
		body = requiredBytes
	}
	return ProcessResult{
		Type: ResultPaymentError,
		Response: &ResponseInstructions{
			Status:  http.StatusPaymentRequired,
			Headers: headers,
			Body:    body,
		},
	}
}

// v1Challenge renders the same requirements in the legacy body shape so
// v1 clients can pay v2 routes.
func v1Challenge(requirements []types.PaymentRequirements, resource *types.ResourceInfo, errMsg string) types.PaymentRequiredV1 {
	required := types.PaymentRequiredV1{
		X402Version: x402.ProtocolVersionV1,
		Error:       errMsg,
	}
	for _, req := range requirements {
		entry := types.PaymentRequirementsV1{
			Scheme:            req.Scheme,
			Network:           req.Network,
			MaxAmountRequired: req.Amount,
			PayTo:             req.PayTo,
			MaxTimeoutSeconds: req.MaxTimeoutSeconds,
			Asset:             req.Asset,
		}
		if req.Extra != nil {
			entry.Extra = req.Extra
		}
		if resource != nil {
			entry.Resource = resource.URL
			entry.Description = resource.Description
			entry.MimeType = resource.MimeType
		}
		required.Accepts = append(required.Accepts, entry)
	}
	return required
}

func (s *x402HTTPResourceServer) verifyV2(ctx context.Context, reqCtx HTTPRequestContext, route RouteConfig, requirements []types.PaymentRequirements, resource *types.ResourceInfo, encoded string) ProcessResult {
	payloadBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return s.challenge(reqCtx, route, requirements, resource, "Invalid payment header encoding")
	}
	var payload types.PaymentPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return s.challenge(reqCtx, route, requirements, resource, "Invalid payment payload")
	}

	acceptsRaw := make([]json.RawMessage, 0, len(requirements))
	for _, req := range requirements {
		raw, err := json.Marshal(req)
		if err != nil {
			return errorResult(http.StatusInternalServerError, fmt.Sprintf("failed to encode requirements: %v", err))
		}
		acceptsRaw = append(acceptsRaw, raw)
	}
	matchedRaw, err := s.FindMatchingRequirements(payloadBytes, acceptsRaw)
	if err != nil {
		return s.challenge(reqCtx, route, requirements, resource, "Payment does not match any accepted requirement")
	}
	var matched types.PaymentRequirements
	if err := json.Unmarshal(matchedRaw, &matched); err != nil {
		return errorResult(http.StatusInternalServerError, fmt.Sprintf("failed to decode matched requirements: %v", err))
	}

	verify, err := s.VerifyPayment(ctx, payloadBytes, matchedRaw)
	if err != nil {
		return s.challenge(reqCtx, route, requirements, resource, verifyFailureMessage(err))
	}
	if verify == nil || !verify.IsValid {
		reason := "Payment verification failed"
		if verify != nil && verify.InvalidReason != "" {
			reason = verify.InvalidReason
		}
		return s.challenge(reqCtx, route, requirements, resource, reason)
	}

	return ProcessResult{
		Type:                ResultPaymentVerified,
		PaymentPayload:      &payload,
		PaymentRequirements: &matched,
	}
}

func (s *x402HTTPResourceServer) verifyV1(ctx context.Context, reqCtx HTTPRequestContext, route RouteConfig, requirements []types.PaymentRequirements, resource *types.ResourceInfo, encoded string) ProcessResult {
	payloadBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return s.challenge(reqCtx, route, requirements, resource, "Invalid payment header encoding")
	}
	var payload types.PaymentPayloadV1
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return s.challenge(reqCtx, route, requirements, resource, "Invalid payment payload")
	}

	v1 := v1Challenge(requirements, resource, "")
	acceptsRaw := make([]json.RawMessage, 0, len(v1.Accepts))
	for _, req := range v1.Accepts {
		raw, err := json.Marshal(req)
		if err != nil {
			return errorResult(http.StatusInternalServerError, fmt.Sprintf("failed to encode requirements: %v", err))
		}
		acceptsRaw = append(acceptsRaw, raw)
	}
	matchedRaw, err := s.FindMatchingRequirements(payloadBytes, acceptsRaw)
	if err != nil {
		return s.challenge(reqCtx, route, requirements, resource, "Payment does not match any accepted requirement")
	}
	var matched types.PaymentRequirementsV1
	if err := json.Unmarshal(matchedRaw, &matched); err != nil {
		return errorResult(http.StatusInternalServerError, fmt.Sprintf("failed to decode matched requirements: %v", err))
	}

	verify, err := s.VerifyPayment(ctx, payloadBytes, matchedRaw)
	if err != nil {
		return s.challenge(reqCtx, route, requirements, resource, verifyFailureMessage(err))
	}
	if verify == nil || !verify.IsValid {
		reason := "Payment verification failed"
		if verify != nil && verify.InvalidReason != "" {
			reason = verify.InvalidReason
		}
		return s.challenge(reqCtx, route, requirements, resource, reason)
	}

	return ProcessResult{
		Type:                  ResultPaymentVerified,
		PaymentPayloadV1:      &payload,
		PaymentRequirementsV1: &matched,
	}
}

// ProcessSettlement settles a verified v2 payment and returns the
// PAYMENT-RESPONSE header for the final response. Failures come back in
// the result, never as a panic or opaque error, so integrations can
// still answer the client.
func (s *x402HTTPResourceServer) ProcessSettlement(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) SettlementResult {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return SettlementResult{ErrorReason: fmt.Sprintf("failed to encode payment payload: %v", err)}
	}
	requirementsBytes, err := json.Marshal(requirements)
	if err != nil {
		return SettlementResult{ErrorReason: fmt.Sprintf("failed to encode payment requirements: %v", err)}
	}
	return s.settle(ctx, payloadBytes, requirementsBytes, HeaderPaymentResponse)
}

// ProcessSettlementV1 settles a verified v1 payment with the legacy
// X-PAYMENT-RESPONSE header.
func (s *x402HTTPResourceServer) ProcessSettlementV1(ctx context.Context, payload types.PaymentPayloadV1, requirements types.PaymentRequirementsV1) SettlementResult {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return SettlementResult{ErrorReason: fmt.Sprintf("failed to encode payment payload: %v", err)}
	}
	requirementsBytes, err := json.Marshal(requirements)
	if err != nil {
		return SettlementResult{ErrorReason: fmt.Sprintf("failed to encode payment requirements: %v", err)}
	}
	return s.settle(ctx, payloadBytes, requirementsBytes, HeaderPaymentResponseV1)
}

func (s *x402HTTPResourceServer) settle(ctx context.Context, payloadBytes, requirementsBytes json.RawMessage, header string) SettlementResult {
	settle, err := s.SettlePayment(ctx, payloadBytes, requirementsBytes)
	if err != nil {
		reason := "settlement_failed"
		var settleErr *x402.SettleError
		if errors.As(err, &settleErr) {
			reason = settleErr.Reason
		}
		return SettlementResult{ErrorReason: reason}
	}
	if settle == nil {
		return SettlementResult{ErrorReason: "settlement returned no response"}
	}

	settleBytes, err := json.Marshal(settle)
	if err != nil {
		return SettlementResult{ErrorReason: fmt.Sprintf("failed to encode settlement response: %v", err)}
	}
	result := SettlementResult{
		Success: settle.Success,
		Headers: map[string]string{header: base64.StdEncoding.EncodeToString(settleBytes)},
	}
	if !settle.Success {
		result.ErrorReason = settle.ErrorReason
	}
	return result
}

func verifyFailureMessage(err error) string {
	var verifyErr *x402.VerifyError
	if errors.As(err, &verifyErr) {
		return verifyErr.Reason
	}
	return "Payment verification failed"
}

func errorResult(status int, message string) ProcessResult {
	body, _ := json.Marshal(map[string]string{"error": message})
	return ProcessResult{
		Type: ResultPaymentError,
		Response: &ResponseInstructions{
			Status:  status,
			Headers: map[string]string{},
			Body:    body,
		},
	}
}

// isBrowserRequest heuristically detects interactive browsers so they
// get a paywall page instead of a JSON challenge.
func isBrowserRequest(adapter HTTPAdapter) bool {
	if adapter == nil {
		return false
	}
	accept := adapter.GetAcceptHeader()
	userAgent := adapter.GetUserAgent()
	return strings.Contains(accept, "text/html") && strings.Contains(userAgent, "Mozilla")
}

// paywallHTML renders a minimal human-readable payment page
func paywallHTML(route RouteConfig, requirements []types.PaymentRequirements) []byte {
	var options strings.Builder
	for _, req := range requirements {
		options.WriteString(fmt.Sprintf(
			"<li>%s on %s: %s (pay to %s)</li>",
			html.EscapeString(req.Scheme),
			html.EscapeString(req.Network),
			html.EscapeString(req.Amount),
			html.EscapeString(req.PayTo),
		))
	}
	description := route.Description
	if description == "" {
		description = "This resource requires payment."
	}
	page := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><title>Payment Required</title></head>
<body>
<h1>402 Payment Required</h1>
<p>%s</p>
<ul>%s</ul>
<p>Use an x402-enabled client to pay for access.</p>
</body>
</html>`, html.EscapeString(description), options.String())
	return []byte(page)
}

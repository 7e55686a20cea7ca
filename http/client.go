package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	x402 "x402-go"
	"x402-go/types"
)

// Protocol header names. V2 carries the challenge and the payment in
// headers; V1 carries the challenge in the 402 body and the payment in
// the legacy X-PAYMENT header.
const (
	HeaderPaymentRequired  = "PAYMENT-REQUIRED"
	HeaderPaymentSignature = "PAYMENT-SIGNATURE"
	HeaderPaymentResponse  = "PAYMENT-RESPONSE"

	HeaderPaymentV1         = "X-PAYMENT"
	HeaderPaymentResponseV1 = "X-PAYMENT-RESPONSE"
)

// x402HTTPClient drives the 402 payment flow over HTTP: it decodes
// challenges, asks the wrapped x402 client to select and sign a payment,
// and retries the request with the payment header attached.
type x402HTTPClient struct {
	client     *x402.X402Client
	httpClient *http.Client
}

// HTTPClient is the exported type for x402HTTPClient
type HTTPClient = x402HTTPClient

// Newx402HTTPClient creates an HTTP-aware wrapper around an x402 client
func Newx402HTTPClient(client *x402.X402Client) *x402HTTPClient {
	return &x402HTTPClient{
		client:     client,
		httpClient: http.DefaultClient,
	}
}

// WithHTTPClient replaces the underlying HTTP client used for requests
func (c *x402HTTPClient) WithHTTPClient(httpClient *http.Client) *x402HTTPClient {
	c.httpClient = httpClient
	return c
}

// headerLookup finds a header value tolerating the exact, lower and
// canonical casings map-based adapters tend to use.
func headerLookup(headers map[string]string, name string) string {
	if headers == nil {
		return ""
	}
	if v, ok := headers[name]; ok {
		return v
	}
	if v, ok := headers[http.CanonicalHeaderKey(name)]; ok {
		return v
	}
	for k, v := range headers {
		if http.CanonicalHeaderKey(k) == http.CanonicalHeaderKey(name) {
			return v
		}
	}
	return ""
}

// GetPaymentRequiredResponse decodes a 402 challenge. V2 challenges
// arrive base64-encoded in the PAYMENT-REQUIRED header; V1 challenges
// arrive as the JSON response body. V1 challenges are lifted into the
// v2 shape (amount from maxAmountRequired) with X402Version preserved,
// so callers handle one type.
func (c *x402HTTPClient) GetPaymentRequiredResponse(headers map[string]string, body []byte) (*types.PaymentRequired, error) {
	if encoded := headerLookup(headers, HeaderPaymentRequired); encoded != "" {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s header: %w", HeaderPaymentRequired, err)
		}
		var required types.PaymentRequired
		if err := json.Unmarshal(decoded, &required); err != nil {
			return nil, fmt.Errorf("failed to parse payment required response: %w", err)
		}
		return &required, nil
	}

	if len(body) == 0 {
		return nil, fmt.Errorf("no %s header and no response body to decode", HeaderPaymentRequired)
	}

	var requiredV1 types.PaymentRequiredV1
	if err := json.Unmarshal(body, &requiredV1); err != nil {
		return nil, fmt.Errorf("failed to parse v1 payment required body: %w", err)
	}
	required := &types.PaymentRequired{
		X402Version: requiredV1.X402Version,
		Error:       requiredV1.Error,
	}
	for _, req := range requiredV1.Accepts {
		required.Accepts = append(required.Accepts, types.PaymentRequirements{
			Scheme:            req.Scheme,
			Network:           req.Network,
			Asset:             req.Asset,
			Amount:            req.MaxAmountRequired,
			PayTo:             req.PayTo,
			MaxTimeoutSeconds: req.MaxTimeoutSeconds,
			Extra:             req.ExtraMap(),
		})
	}
	return required, nil
}

// EncodePaymentSignatureHeader encodes a signed payment payload into the
// request header for its protocol version: PAYMENT-SIGNATURE for v2,
// X-PAYMENT for v1.
func (c *x402HTTPClient) EncodePaymentSignatureHeader(payloadBytes []byte) map[string]string {
	encoded := base64.StdEncoding.EncodeToString(payloadBytes)
	version, err := types.DetectVersion(payloadBytes)
	if err == nil && version == x402.ProtocolVersionV1 {
		return map[string]string{HeaderPaymentV1: encoded}
	}
	return map[string]string{HeaderPaymentSignature: encoded}
}

// GetWithPayment performs a GET request, paying if challenged
func (c *x402HTTPClient) GetWithPayment(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.DoWithPayment(ctx, req)
}

// PostWithPayment performs a POST request, paying if challenged.
// The body is buffered so the request can be replayed with the payment
// header attached.
func (c *x402HTTPClient) PostWithPayment(ctx context.Context, url string, body io.Reader) (*http.Response, error) {
	var buffered []byte
	if body != nil {
		var err error
		buffered, err = io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("failed to buffer request body: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buffered))
	if err != nil {
		return nil, err
	}
	return c.DoWithPayment(ctx, req)
}

// DoWithPayment sends the request and, on a 402 challenge, signs a
// payment and retries once with the payment header attached. Non-402
// responses pass through untouched.
func (c *x402HTTPClient) DoWithPayment(ctx context.Context, req *http.Request) (*http.Response, error) {
	retry, err := cloneRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	headers, body, err := drainChallenge(resp)
	if err != nil {
		return nil, err
	}

	paymentHeaders, err := c.createPaymentHeaders(ctx, headers, body)
	if err != nil {
		return nil, err
	}

	for name, value := range paymentHeaders {
		retry.Header.Set(name, value)
	}
	return c.httpClient.Do(retry)
}

// createPaymentHeaders turns a 402 challenge into the request headers
// for the retry, running selection and signing on the wrapped client.
func (c *x402HTTPClient) createPaymentHeaders(ctx context.Context, headers map[string]string, body []byte) (map[string]string, error) {
	if encoded := headerLookup(headers, HeaderPaymentRequired); encoded != "" {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s header: %w", HeaderPaymentRequired, err)
		}
		var required types.PaymentRequired
		if err := json.Unmarshal(decoded, &required); err != nil {
			return nil, fmt.Errorf("failed to parse payment required response: %w", err)
		}

		selected, err := c.client.SelectPaymentRequirements(required.Accepts)
		if err != nil {
			return nil, err
		}
		payload, err := c.client.CreatePaymentPayload(ctx, selected, required.Resource, required.Extensions)
		if err != nil {
			return nil, err
		}
		payloadBytes, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payment payload: %w", err)
		}
		return map[string]string{HeaderPaymentSignature: base64.StdEncoding.EncodeToString(payloadBytes)}, nil
	}

	// Legacy v1 challenge in the response body
	var requiredV1 types.PaymentRequiredV1
	if err := json.Unmarshal(body, &requiredV1); err != nil {
		return nil, fmt.Errorf("failed to parse v1 payment required body: %w", err)
	}
	selected, err := c.client.SelectPaymentRequirementsV1(requiredV1.Accepts)
	if err != nil {
		return nil, err
	}
	payload, err := c.client.CreatePaymentPayloadV1(ctx, selected)
	if err != nil {
		return nil, err
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal v1 payment payload: %w", err)
	}
	return map[string]string{HeaderPaymentV1: base64.StdEncoding.EncodeToString(payloadBytes)}, nil
}

// drainChallenge reads and closes a 402 response, returning its headers
// as a flat map plus the body bytes.
func drainChallenge(resp *http.Response) (map[string]string, []byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read 402 response body: %w", err)
	}
	headers := make(map[string]string, len(resp.Header))
	for name := range resp.Header {
		headers[name] = resp.Header.Get(name)
	}
	return headers, body, nil
}

// cloneRequest copies a request for the paid retry, re-reading the body
// via GetBody when one is present.
func cloneRequest(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("request body is not replayable; use a request with GetBody set")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("failed to replay request body: %w", err)
	}
	clone.Body = body
	return clone, nil
}

// GetSettleResponse decodes the settlement receipt header from a paid
// response, trying the v2 header first. Returns nil when no settlement
// header is present.
func GetSettleResponse(headers http.Header) (*x402.SettleResponse, error) {
	encoded := headers.Get(HeaderPaymentResponse)
	if encoded == "" {
		encoded = headers.Get(HeaderPaymentResponseV1)
	}
	if encoded == "" {
		return nil, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode settlement response header: %w", err)
	}
	var settle x402.SettleResponse
	if err := json.Unmarshal(decoded, &settle); err != nil {
		return nil, fmt.Errorf("failed to parse settlement response: %w", err)
	}
	return &settle, nil
}

// paymentRoundTripper retries 402 responses with a signed payment,
// making any http.Client payment-aware.
type paymentRoundTripper struct {
	base   http.RoundTripper
	client *x402HTTPClient
}

func (t *paymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	retry, err := cloneRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	headers, body, err := drainChallenge(resp)
	if err != nil {
		return nil, err
	}
	paymentHeaders, err := t.client.createPaymentHeaders(req.Context(), headers, body)
	if err != nil {
		return nil, err
	}
	for name, value := range paymentHeaders {
		retry.Header.Set(name, value)
	}
	return t.base.RoundTrip(retry)
}

// WrapHTTPClientWithPayment returns a copy of the given HTTP client whose
// transport pays 402 challenges using the x402 HTTP client.
func WrapHTTPClientWithPayment(client *http.Client, x402Client *x402HTTPClient) *http.Client {
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped := *client
	wrapped.Transport = &paymentRoundTripper{base: base, client: x402Client}
	return &wrapped
}

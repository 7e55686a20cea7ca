package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	x402 "x402-go"
	"x402-go/types"
)

// DefaultFacilitatorTimeout bounds facilitator round-trips when the
// config does not set one. Settlement waits for on-chain confirmation,
// so the default is generous.
const DefaultFacilitatorTimeout = 60 * time.Second

// FacilitatorConfig configures a remote facilitator connection
type FacilitatorConfig struct {
	// URL is the facilitator base URL, e.g. "https://facilitator.example.com"
	URL string

	// Timeout bounds each facilitator request; zero means
	// DefaultFacilitatorTimeout
	Timeout time.Duration

	// Headers are attached to every facilitator request (e.g. API keys)
	Headers map[string]string

	// HTTPClient overrides the transport; nil uses a fresh client
	HTTPClient *http.Client
}

// HTTPFacilitatorClient talks to a remote facilitator over its REST
// surface: POST /verify, POST /settle, GET /supported. It implements
// x402.FacilitatorClient, so a resource server can use remote and local
// facilitators interchangeably.
type HTTPFacilitatorClient struct {
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
}

// NewHTTPFacilitatorClient creates a facilitator client from config
func NewHTTPFacilitatorClient(config *FacilitatorConfig) *HTTPFacilitatorClient {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultFacilitatorTimeout
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &HTTPFacilitatorClient{
		baseURL:    strings.TrimRight(config.URL, "/"),
		headers:    config.Headers,
		httpClient: httpClient,
	}
}

// facilitatorRequest is the envelope for /verify and /settle. Payload
// and requirements pass through as raw JSON so both protocol versions
// travel unchanged.
type facilitatorRequest struct {
	X402Version         int             `json:"x402Version"`
	PaymentPayload      json.RawMessage `json:"paymentPayload"`
	PaymentRequirements json.RawMessage `json:"paymentRequirements"`
}

// Verify submits a payment for verification. Non-2xx responses that
// carry a structured verification result come back as business
// failures, not errors.
func (c *HTTPFacilitatorClient) Verify(ctx context.Context, paymentPayload, paymentRequirements json.RawMessage) (*x402.VerifyResponse, error) {
	body, status, err := c.post(ctx, "/verify", paymentPayload, paymentRequirements)
	if err != nil {
		return nil, err
	}

	var response x402.VerifyResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse verify response (status %d): %w", status, err)
	}
	if status >= 400 && response.InvalidReason == "" && !response.IsValid {
		return nil, fmt.Errorf("facilitator verify failed with status %d: %s", status, truncateBody(body))
	}
	return &response, nil
}

// Settle submits a payment for settlement
func (c *HTTPFacilitatorClient) Settle(ctx context.Context, paymentPayload, paymentRequirements json.RawMessage) (*x402.SettleResponse, error) {
	body, status, err := c.post(ctx, "/settle", paymentPayload, paymentRequirements)
	if err != nil {
		return nil, err
	}

	var response x402.SettleResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse settle response (status %d): %w", status, err)
	}
	if status >= 400 && response.ErrorReason == "" && !response.Success {
		return nil, fmt.Errorf("facilitator settle failed with status %d: %s", status, truncateBody(body))
	}
	return &response, nil
}

// GetSupported fetches the facilitator capability catalog
func (c *HTTPFacilitatorClient) GetSupported(ctx context.Context) (*x402.SupportedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/supported", nil)
	if err != nil {
		return nil, err
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch supported kinds: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("facilitator /supported returned status %d: %s", resp.StatusCode, truncateBody(body))
	}

	var supported x402.SupportedResponse
	if err := json.Unmarshal(body, &supported); err != nil {
		return nil, fmt.Errorf("failed to parse supported response: %w", err)
	}
	return &supported, nil
}

func (c *HTTPFacilitatorClient) post(ctx context.Context, path string, paymentPayload, paymentRequirements json.RawMessage) ([]byte, int, error) {
	version, err := types.DetectVersion(paymentPayload)
	if err != nil {
		return nil, 0, err
	}
	envelope, err := json.Marshal(facilitatorRequest{
		X402Version:         version,
		PaymentPayload:      paymentPayload,
		PaymentRequirements: paymentRequirements,
	})
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(envelope))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("facilitator request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func (c *HTTPFacilitatorClient) applyHeaders(req *http.Request) {
	for name, value := range c.headers {
		req.Header.Set(name, value)
	}
}

func truncateBody(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

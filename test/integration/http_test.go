package integration_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	x402 "x402-go"
	x402http "x402-go/http"
	"x402-go/test/mocks/cash"
	"x402-go/types"
)

// fakeAdapter stands in for a framework request. Header lookup is
// case-insensitive, matching real HTTP servers.
type fakeAdapter struct {
	headers map[string]string
	method  string
	path    string
	url     string
}

func (a *fakeAdapter) GetHeader(name string) string {
	for key, val := range a.headers {
		if strings.EqualFold(key, name) {
			return val
		}
	}
	return ""
}

func (a *fakeAdapter) GetMethod() string       { return a.method }
func (a *fakeAdapter) GetPath() string         { return a.path }
func (a *fakeAdapter) GetURL() string          { return a.url }
func (a *fakeAdapter) GetAcceptHeader() string { return "application/json" }
func (a *fakeAdapter) GetUserAgent() string    { return "TestClient/1.0" }

// Drives the whole loop in-process with the cash mock scheme: the
// server issues a 402 challenge, the client answers it, the server
// verifies and settles through the facilitator.
func TestHTTPPaymentRoundTrip(t *testing.T) {
	ctx := context.Background()

	routes := x402http.RoutesConfig{
		"/api/protected": {
			Accepts: x402http.PaymentOptions{
				{
					Scheme:  "cash",
					PayTo:   "merchant@example.com",
					Price:   "$0.10",
					Network: "x402:cash",
				},
			},
			Description: "Access to protected API",
			MimeType:    "application/json",
		},
	}

	facilitator := x402.Newx402Facilitator()
	facilitator.Register([]x402.Network{"x402:cash"}, cash.NewSchemeNetworkFacilitator())

	x402Client := x402.Newx402Client()
	x402Client.Register("x402:cash", cash.NewSchemeNetworkClient("John"))
	httpClient := x402http.Newx402HTTPClient(x402Client)

	server := x402http.Newx402HTTPResourceServer(
		routes,
		x402.WithFacilitatorClient(cash.NewFacilitatorClient(facilitator)),
	)
	server.Register("x402:cash", cash.NewSchemeNetworkServer())
	if err := server.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	adapter := &fakeAdapter{
		headers: map[string]string{},
		method:  "GET",
		path:    "/api/protected",
		url:     "https://example.com/api/protected",
	}
	reqCtx := x402http.HTTPRequestContext{
		Adapter: adapter,
		Path:    "/api/protected",
		Method:  "GET",
	}

	// First pass, no payment header: the server must challenge.
	challenge := server.ProcessHTTPRequest(ctx, reqCtx, nil)
	if challenge.Type != x402http.ResultPaymentError {
		t.Fatalf("result type = %s, want payment error", challenge.Type)
	}
	if challenge.Response == nil {
		t.Fatal("challenge carries no response instructions")
	}
	if challenge.Response.Status != 402 {
		t.Errorf("status = %d, want 402", challenge.Response.Status)
	}
	if challenge.Response.Headers["PAYMENT-REQUIRED"] == "" {
		t.Error("challenge missing PAYMENT-REQUIRED header")
	}
	if challenge.Response.IsHTML {
		t.Error("JSON accept header should not get the HTML paywall")
	}

	// The client decodes the challenge, picks a requirement, signs.
	paymentRequired, err := httpClient.GetPaymentRequiredResponse(challenge.Response.Headers, nil)
	if err != nil {
		t.Fatalf("GetPaymentRequiredResponse: %v", err)
	}

	var accepts []types.PaymentRequirements
	for _, acc := range paymentRequired.Accepts {
		accepts = append(accepts, types.PaymentRequirements{
			Scheme:  acc.Scheme,
			Network: string(acc.Network),
			Asset:   acc.Asset,
			Amount:  acc.Amount,
			PayTo:   acc.PayTo,
			Extra:   acc.Extra,
		})
	}

	selected, err := x402Client.SelectPaymentRequirements(accepts)
	if err != nil {
		t.Fatalf("SelectPaymentRequirements: %v", err)
	}

	payload, err := x402Client.CreatePaymentPayload(ctx, selected, nil, nil)
	if err != nil {
		t.Fatalf("CreatePaymentPayload: %v", err)
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	adapter.headers = httpClient.EncodePaymentSignatureHeader(payloadBytes)

	// Second pass with the signed payment attached.
	verified := server.ProcessHTTPRequest(ctx, reqCtx, nil)
	if verified.Type != x402http.ResultPaymentVerified {
		t.Fatalf("result type = %s, want payment verified", verified.Type)
	}
	if verified.PaymentPayload == nil || verified.PaymentRequirements == nil {
		t.Fatal("verified result missing payload or requirements")
	}

	// Settlement runs after the resource handler succeeds.
	settlement := server.ProcessSettlement(ctx, *verified.PaymentPayload, *verified.PaymentRequirements)
	if !settlement.Success {
		t.Fatalf("settlement failed: %v", settlement.ErrorReason)
	}

	encoded := settlement.Headers["PAYMENT-RESPONSE"]
	if encoded == "" {
		t.Fatal("settlement missing PAYMENT-RESPONSE header")
	}

	settleData, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decode settlement header: %v", err)
	}
	var settleResponse x402.SettleResponse
	if err := json.Unmarshal(settleData, &settleResponse); err != nil {
		t.Fatalf("unmarshal settlement response: %v", err)
	}
	if !settleResponse.Success {
		t.Errorf("settlement receipt reports failure: %s", settleResponse.ErrorReason)
	}
}

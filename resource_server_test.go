package x402

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"x402-go/types"
)

// stubSchemeServer is a minimal scheme server whose default price
// conversion maps a decimal amount straight onto a fixed asset.
type stubSchemeServer struct {
	scheme string
	asset  string
}

func (s *stubSchemeServer) Scheme() string { return s.scheme }

func (s *stubSchemeServer) ParsePrice(price interface{}, network Network) (types.AssetAmount, error) {
	amount, ok := price.(string)
	if !ok {
		return types.AssetAmount{}, fmt.Errorf("unsupported price type %T", price)
	}
	return types.AssetAmount{Amount: amount, Asset: s.asset}, nil
}

func (s *stubSchemeServer) EnhancePaymentRequirements(ctx context.Context, requirements *types.PaymentRequirements, supported *SupportedResponse) error {
	return nil
}

func TestParseMoneyAmount(t *testing.T) {
	tests := []struct {
		price   string
		want    string
		wantErr bool
	}{
		{price: "$0.10", want: "0.10"},
		{price: "0.10", want: "0.10"},
		{price: "$1", want: "1"},
		{price: "1.50 USD", want: "1.50"},
		{price: "1.50USDC", want: "1.50"},
		{price: "$2 usdc", want: "2"},
		{price: "  $3.25  ", want: "3.25"},
		{price: "$", wantErr: true},
		{price: "USD", wantErr: true},
		{price: "", wantErr: true},
		{price: "1.2.3", wantErr: true},
		{price: "1,50", wantErr: true},
		{price: "ten dollars", wantErr: true},
		{price: "$-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.price, func(t *testing.T) {
			got, err := parseMoneyAmount(tt.price)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseMoneyAmount(%q) = %q, want error", tt.price, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseMoneyAmount(%q) failed: %v", tt.price, err)
			}
			if got != tt.want {
				t.Errorf("parseMoneyAmount(%q) = %q, want %q", tt.price, got, tt.want)
			}
		})
	}
}

func TestResolvePrice(t *testing.T) {
	server := Newx402ResourceServer()
	scheme := &stubSchemeServer{scheme: "exact", asset: "stub-asset"}

	t.Run("asset amount passes through", func(t *testing.T) {
		got, err := server.resolvePrice(types.AssetAmount{Amount: "1000", Asset: "0xToken"}, "x402:test", scheme)
		if err != nil {
			t.Fatalf("resolvePrice failed: %v", err)
		}
		if got.Amount != "1000" || got.Asset != "0xToken" {
			t.Errorf("got %+v, want amount 1000 on 0xToken", got)
		}
	})

	t.Run("asset amount without asset is rejected", func(t *testing.T) {
		if _, err := server.resolvePrice(types.AssetAmount{Amount: "1000"}, "x402:test", scheme); err == nil {
			t.Error("expected error for asset amount with no asset")
		}
	})

	t.Run("money string falls through to the scheme default", func(t *testing.T) {
		got, err := server.resolvePrice(Price("$0.10"), "x402:test", scheme)
		if err != nil {
			t.Fatalf("resolvePrice failed: %v", err)
		}
		if got.Amount != "0.10" || got.Asset != "stub-asset" {
			t.Errorf("got %+v, want 0.10 on stub-asset", got)
		}
	})

	t.Run("unsupported price type", func(t *testing.T) {
		if _, err := server.resolvePrice(42, "x402:test", scheme); err == nil {
			t.Error("expected error for int price")
		}
	})
}

func TestRegisterMoneyParserChain(t *testing.T) {
	server := Newx402ResourceServer()
	scheme := &stubSchemeServer{scheme: "exact", asset: "stub-asset"}

	// First parser only claims "13"; everything else falls through.
	server.RegisterMoneyParser(func(amount string, network Network) (*types.AssetAmount, error) {
		if amount != "13" {
			return nil, nil
		}
		return &types.AssetAmount{Amount: "13000000", Asset: "lucky-token"}, nil
	})
	server.RegisterMoneyParser(func(amount string, network Network) (*types.AssetAmount, error) {
		if amount != "0.01" {
			return nil, nil
		}
		return nil, errors.New("amount below minimum")
	})

	t.Run("claimed by first parser", func(t *testing.T) {
		got, err := server.resolveMoney("$13", "x402:test", scheme)
		if err != nil {
			t.Fatalf("resolveMoney failed: %v", err)
		}
		if got.Asset != "lucky-token" || got.Amount != "13000000" {
			t.Errorf("got %+v, want the first parser's conversion", got)
		}
	})

	t.Run("parser error stops the chain", func(t *testing.T) {
		if _, err := server.resolveMoney("$0.01", "x402:test", scheme); err == nil {
			t.Error("expected the second parser's error")
		}
	})

	t.Run("unclaimed amounts reach the scheme default", func(t *testing.T) {
		got, err := server.resolveMoney("$5", "x402:test", scheme)
		if err != nil {
			t.Fatalf("resolveMoney failed: %v", err)
		}
		if got.Asset != "stub-asset" || got.Amount != "5" {
			t.Errorf("got %+v, want the scheme default", got)
		}
	})
}

func TestBuildPaymentRequirements(t *testing.T) {
	server := Newx402ResourceServer()
	server.Register("x402:test", &stubSchemeServer{scheme: "exact", asset: "stub-asset"})
	server.Register("x402:*", &stubSchemeServer{scheme: "exact", asset: "family-asset"})

	t.Run("exact registration fills defaults", func(t *testing.T) {
		reqs, err := server.BuildPaymentRequirements(context.Background(), []PaymentConfig{{
			Scheme:  "exact",
			Network: "x402:test",
			PayTo:   "till-1",
			Price:   Price("$0.10"),
		}})
		if err != nil {
			t.Fatalf("BuildPaymentRequirements failed: %v", err)
		}
		if len(reqs) != 1 {
			t.Fatalf("got %d requirements, want 1", len(reqs))
		}
		req := reqs[0]
		if req.Asset != "stub-asset" || req.Amount != "0.10" || req.PayTo != "till-1" {
			t.Errorf("unexpected requirements: %+v", req)
		}
		if req.MaxTimeoutSeconds != DefaultMaxTimeoutSeconds {
			t.Errorf("MaxTimeoutSeconds = %d, want default %d", req.MaxTimeoutSeconds, DefaultMaxTimeoutSeconds)
		}
	})

	t.Run("wildcard registration covers the family", func(t *testing.T) {
		reqs, err := server.BuildPaymentRequirements(context.Background(), []PaymentConfig{{
			Scheme:            "exact",
			Network:           "x402:other",
			PayTo:             "till-2",
			Price:             Price("$1"),
			MaxTimeoutSeconds: 60,
		}})
		if err != nil {
			t.Fatalf("BuildPaymentRequirements failed: %v", err)
		}
		if reqs[0].Asset != "family-asset" {
			t.Errorf("Asset = %q, want the wildcard registration's asset", reqs[0].Asset)
		}
		if reqs[0].MaxTimeoutSeconds != 60 {
			t.Errorf("MaxTimeoutSeconds = %d, want the configured 60", reqs[0].MaxTimeoutSeconds)
		}
	})

	t.Run("unregistered scheme", func(t *testing.T) {
		_, err := server.BuildPaymentRequirements(context.Background(), []PaymentConfig{{
			Scheme:  "stream",
			Network: "x402:test",
			Price:   Price("$1"),
		}})
		var notFound *SchemeNotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("got %v, want SchemeNotFoundError", err)
		}
	})
}

func TestFindMatchingRequirements(t *testing.T) {
	server := Newx402ResourceServer()

	mustJSON := func(v interface{}) json.RawMessage {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return b
	}

	reqA := mustJSON(types.PaymentRequirements{
		Scheme: "exact", Network: "x402:test", Asset: "cash", Amount: "10", PayTo: "till-1",
	})
	reqB := mustJSON(types.PaymentRequirements{
		Scheme: "exact", Network: "x402:test", Asset: "cash", Amount: "25", PayTo: "till-2",
	})

	t.Run("v2 payload matches on accepted fields", func(t *testing.T) {
		payload := mustJSON(types.PaymentPayload{
			X402Version: 2,
			Accepted: types.PaymentRequirements{
				Scheme: "exact", Network: "x402:test", Asset: "cash", Amount: "25", PayTo: "till-2",
			},
			Payload: map[string]interface{}{"nonce": "n1"},
		})
		match, err := server.FindMatchingRequirements(payload, []json.RawMessage{reqA, reqB})
		if err != nil {
			t.Fatalf("FindMatchingRequirements failed: %v", err)
		}
		var got types.PaymentRequirements
		if err := json.Unmarshal(match, &got); err != nil {
			t.Fatalf("unmarshal match: %v", err)
		}
		if got.PayTo != "till-2" {
			t.Errorf("matched PayTo %q, want till-2", got.PayTo)
		}
	})

	t.Run("v1 payload matches on scheme and network", func(t *testing.T) {
		payload := mustJSON(types.PaymentPayloadV1{
			X402Version: 1,
			Scheme:      "exact",
			Network:     "x402:test",
			Payload:     map[string]interface{}{"nonce": "n2"},
		})
		match, err := server.FindMatchingRequirements(payload, []json.RawMessage{reqA})
		if err != nil {
			t.Fatalf("FindMatchingRequirements failed: %v", err)
		}
		if match == nil {
			t.Fatal("expected a match")
		}
	})

	t.Run("no requirement matches", func(t *testing.T) {
		payload := mustJSON(types.PaymentPayload{
			X402Version: 2,
			Accepted: types.PaymentRequirements{
				Scheme: "exact", Network: "x402:elsewhere", Asset: "cash", Amount: "25", PayTo: "till-2",
			},
		})
		_, err := server.FindMatchingRequirements(payload, []json.RawMessage{reqA, reqB})
		var noMatch *NoMatchingRequirementsError
		if !errors.As(err, &noMatch) {
			t.Fatalf("got %v, want NoMatchingRequirementsError", err)
		}
	})
}

package unit_test

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	x402 "x402-go"
	"x402-go/test/mocks/cash"
	"x402-go/types"
)

// failingSchemeClient always fails payload creation, for exercising the
// client hook pipeline.
type failingSchemeClient struct {
	scheme string
}

func (f *failingSchemeClient) Scheme() string { return f.scheme }

func (f *failingSchemeClient) CreatePaymentPayload(ctx context.Context, requirements types.PaymentRequirements) (types.PaymentPayload, error) {
	return types.PaymentPayload{}, errors.New("signer offline")
}

// taggedFacilitator reports its tag as the payer so routing tests can
// tell which registration handled the call.
type taggedFacilitator struct {
	tag     string
	scheme  string
	family  string
	signers []string
}

func (t *taggedFacilitator) Scheme() string     { return t.scheme }
func (t *taggedFacilitator) CaipFamily() string { return t.family }

func (t *taggedFacilitator) GetExtra(network x402.Network) map[string]interface{} { return nil }

func (t *taggedFacilitator) GetSigners(network x402.Network) []string { return t.signers }

func (t *taggedFacilitator) Verify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*x402.VerifyResponse, error) {
	return &x402.VerifyResponse{IsValid: true, Payer: t.tag}, nil
}

func (t *taggedFacilitator) Settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*x402.SettleResponse, error) {
	return &x402.SettleResponse{Success: true, Transaction: t.tag, Network: x402.Network(requirements.Network)}, nil
}

func cashRequirement(network, amount string) types.PaymentRequirements {
	return types.PaymentRequirements{
		Scheme:            cash.Scheme,
		Network:           network,
		Asset:             cash.AssetCash,
		Amount:            amount,
		PayTo:             "till-1",
		MaxTimeoutSeconds: 60,
	}
}

func TestNetworkMatching(t *testing.T) {
	tests := []struct {
		network  x402.Network
		other    string
		wildcard bool
		family   string
		matches  bool
	}{
		{"eip155:8453", "eip155:8453", false, "eip155", true},
		{"eip155:8453", "eip155:84532", false, "eip155", false},
		{"eip155:*", "eip155:84532", true, "eip155", true},
		{"eip155:*", "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1", true, "eip155", false},
		{"solana:*", "solana-devnet", true, "solana", false},
		{"base-sepolia", "base-sepolia", false, "base-sepolia", true},
	}

	for _, tt := range tests {
		if got := tt.network.IsWildcard(); got != tt.wildcard {
			t.Errorf("%q.IsWildcard() = %v, want %v", tt.network, got, tt.wildcard)
		}
		if got := tt.network.Family(); got != tt.family {
			t.Errorf("%q.Family() = %q, want %q", tt.network, got, tt.family)
		}
		if got := tt.network.Matches(tt.other); got != tt.matches {
			t.Errorf("%q.Matches(%q) = %v, want %v", tt.network, tt.other, got, tt.matches)
		}
	}
}

func TestSelectPaymentRequirements(t *testing.T) {
	newClient := func() *x402.X402Client {
		return x402.Newx402Client().
			Register(cash.NetworkCash, cash.NewSchemeNetworkClient("alice")).
			Register("x402:coupon", cash.NewSchemeNetworkClient("alice"))
	}

	t.Run("filters unregistered networks", func(t *testing.T) {
		client := newClient()
		accepts := []types.PaymentRequirements{
			{Scheme: "exact", Network: "eip155:8453", Asset: "0xusdc", Amount: "1000", PayTo: "0xabc"},
			cashRequirement(string(cash.NetworkCash), "100"),
		}
		selected, err := client.SelectPaymentRequirements(accepts)
		if err != nil {
			t.Fatalf("SelectPaymentRequirements failed: %v", err)
		}
		if selected.Network != string(cash.NetworkCash) {
			t.Errorf("selected network = %q, want %q", selected.Network, cash.NetworkCash)
		}
	})

	t.Run("no registered scheme matches", func(t *testing.T) {
		client := newClient()
		accepts := []types.PaymentRequirements{
			{Scheme: "exact", Network: "eip155:8453", Amount: "1000"},
		}
		_, err := client.SelectPaymentRequirements(accepts)
		var noMatch *x402.NoMatchingRequirementsError
		if !errors.As(err, &noMatch) {
			t.Fatalf("expected NoMatchingRequirementsError, got %v", err)
		}
	})

	t.Run("prefer network policy reorders", func(t *testing.T) {
		client := newClient().WithPolicies(x402.PreferNetworkPolicy("x402:coupon"))
		accepts := []types.PaymentRequirements{
			cashRequirement(string(cash.NetworkCash), "100"),
			cashRequirement("x402:coupon", "200"),
		}
		selected, err := client.SelectPaymentRequirements(accepts)
		if err != nil {
			t.Fatalf("SelectPaymentRequirements failed: %v", err)
		}
		if selected.Network != "x402:coupon" {
			t.Errorf("selected network = %q, want x402:coupon", selected.Network)
		}
	})

	t.Run("max amount policy filters", func(t *testing.T) {
		client := newClient().WithPolicies(x402.MaxAmountPolicy("150"))
		accepts := []types.PaymentRequirements{
			cashRequirement("x402:coupon", "200"),
			cashRequirement(string(cash.NetworkCash), "100"),
		}
		selected, err := client.SelectPaymentRequirements(accepts)
		if err != nil {
			t.Fatalf("SelectPaymentRequirements failed: %v", err)
		}
		if selected.Amount != "100" {
			t.Errorf("selected amount = %q, want 100", selected.Amount)
		}
	})

	t.Run("policy eliminating everything fails", func(t *testing.T) {
		client := newClient().WithPolicies(x402.MaxAmountPolicy("50"))
		accepts := []types.PaymentRequirements{
			cashRequirement(string(cash.NetworkCash), "100"),
		}
		_, err := client.SelectPaymentRequirements(accepts)
		var noMatch *x402.NoMatchingRequirementsError
		if !errors.As(err, &noMatch) {
			t.Fatalf("expected NoMatchingRequirementsError, got %v", err)
		}
	})

	t.Run("custom selector", func(t *testing.T) {
		client := newClient().WithSelector(func(version int, accepts []types.PaymentRequirements) (types.PaymentRequirements, error) {
			// Pick the last candidate instead of the first.
			return accepts[len(accepts)-1], nil
		})
		accepts := []types.PaymentRequirements{
			cashRequirement(string(cash.NetworkCash), "100"),
			cashRequirement("x402:coupon", "200"),
		}
		selected, err := client.SelectPaymentRequirements(accepts)
		if err != nil {
			t.Fatalf("SelectPaymentRequirements failed: %v", err)
		}
		if selected.Amount != "200" {
			t.Errorf("selected amount = %q, want 200", selected.Amount)
		}
	})
}

func TestSelectPaymentRequirementsV1(t *testing.T) {
	client := x402.Newx402Client().
		RegisterV1(cash.NetworkCash, cash.NewSchemeNetworkClientV1("alice")).
		WithPolicies(x402.MaxAmountPolicy("500"))

	accepts := []types.PaymentRequirementsV1{
		{Scheme: "exact", Network: "base-sepolia", MaxAmountRequired: "10", PayTo: "0xabc", Asset: "0xusdc"},
		{Scheme: cash.Scheme, Network: string(cash.NetworkCash), MaxAmountRequired: "900", PayTo: "till-1", Asset: cash.AssetCash},
		{Scheme: cash.Scheme, Network: string(cash.NetworkCash), MaxAmountRequired: "300", PayTo: "till-2", Asset: cash.AssetCash},
	}

	selected, err := client.SelectPaymentRequirementsV1(accepts)
	if err != nil {
		t.Fatalf("SelectPaymentRequirementsV1 failed: %v", err)
	}
	if selected.PayTo != "till-2" {
		t.Errorf("selected payTo = %q, want till-2 (the only candidate under the amount cap)", selected.PayTo)
	}
	if selected.MaxAmountRequired != "300" {
		t.Errorf("selected maxAmountRequired = %q, want 300", selected.MaxAmountRequired)
	}
}

func TestCreatePaymentPayload(t *testing.T) {
	requirements := cashRequirement(string(cash.NetworkCash), "100")
	resource := &types.ResourceInfo{URL: "https://api.example.com/weather", MimeType: "application/json"}

	t.Run("fills payment envelope", func(t *testing.T) {
		client := x402.Newx402Client().Register(cash.NetworkCash, cash.NewSchemeNetworkClient("alice"))
		payload, err := client.CreatePaymentPayload(context.Background(), requirements, resource, map[string]interface{}{"trace": "abc"})
		if err != nil {
			t.Fatalf("CreatePaymentPayload failed: %v", err)
		}
		if payload.X402Version != x402.ProtocolVersion {
			t.Errorf("x402Version = %d, want %d", payload.X402Version, x402.ProtocolVersion)
		}
		if !reflect.DeepEqual(payload.Accepted, requirements) {
			t.Errorf("accepted = %+v, want the selected requirements echoed back", payload.Accepted)
		}
		if payload.Resource == nil || payload.Resource.URL != resource.URL {
			t.Errorf("resource = %+v, want %+v", payload.Resource, resource)
		}
		if payload.Extensions["trace"] != "abc" {
			t.Errorf("extensions = %+v, want trace preserved", payload.Extensions)
		}
		if payload.Payload["payer"] != "alice" {
			t.Errorf("inner payload payer = %v, want alice", payload.Payload["payer"])
		}
	})

	t.Run("unknown scheme", func(t *testing.T) {
		client := x402.Newx402Client()
		_, err := client.CreatePaymentPayload(context.Background(), requirements, nil, nil)
		var notFound *x402.SchemeNotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("expected SchemeNotFoundError, got %v", err)
		}
	})

	t.Run("before hook aborts", func(t *testing.T) {
		client := x402.Newx402Client().
			Register(cash.NetworkCash, cash.NewSchemeNetworkClient("alice")).
			OnBeforePaymentCreation(func(ctx x402.PaymentCreationContext) (*x402.BeforePaymentCreationHookResult, error) {
				return &x402.BeforePaymentCreationHookResult{Abort: true, Reason: "spending limit reached"}, nil
			})
		_, err := client.CreatePaymentPayload(context.Background(), requirements, nil, nil)
		var aborted *x402.PaymentAbortedError
		if !errors.As(err, &aborted) {
			t.Fatalf("expected PaymentAbortedError, got %v", err)
		}
		if aborted.Reason != "spending limit reached" {
			t.Errorf("abort reason = %q", aborted.Reason)
		}
	})

	t.Run("failure hook recovers", func(t *testing.T) {
		substitute := types.PaymentPayload{
			X402Version: x402.ProtocolVersion,
			Payload:     map[string]interface{}{"payer": "backup"},
			Accepted:    requirements,
		}
		client := x402.Newx402Client().
			Register(cash.NetworkCash, &failingSchemeClient{scheme: cash.Scheme}).
			OnPaymentCreationFailure(func(ctx x402.PaymentCreationFailureContext) (*x402.PaymentCreationFailureHookResult, error) {
				if ctx.Error == nil {
					t.Error("failure hook called without an error")
				}
				return &x402.PaymentCreationFailureHookResult{Recovered: true, Payload: substitute}, nil
			})
		payload, err := client.CreatePaymentPayload(context.Background(), requirements, nil, nil)
		if err != nil {
			t.Fatalf("expected recovery, got %v", err)
		}
		if payload.Payload["payer"] != "backup" {
			t.Errorf("recovered payer = %v, want backup", payload.Payload["payer"])
		}
	})

	t.Run("after hook observes without failing the payment", func(t *testing.T) {
		observed := 0
		client := x402.Newx402Client().
			Register(cash.NetworkCash, cash.NewSchemeNetworkClient("alice")).
			OnAfterPaymentCreation(func(ctx x402.PaymentCreatedContext) error {
				observed++
				return errors.New("analytics backend down")
			})
		_, err := client.CreatePaymentPayload(context.Background(), requirements, nil, nil)
		if err != nil {
			t.Fatalf("after-hook error must not fail the payment: %v", err)
		}
		if observed != 1 {
			t.Errorf("after hook ran %d times, want 1", observed)
		}
	})
}

func TestFacilitatorRouting(t *testing.T) {
	exact := &taggedFacilitator{tag: "exact-entry", scheme: cash.Scheme, family: "x402:*"}
	wildcard := &taggedFacilitator{tag: "wildcard-entry", scheme: cash.Scheme, family: "x402:*"}

	facilitator := x402.Newx402Facilitator().
		Register([]x402.Network{"x402:*"}, wildcard).
		Register([]x402.Network{cash.NetworkCash}, exact)

	marshal := func(t *testing.T, v interface{}) json.RawMessage {
		t.Helper()
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return data
	}

	t.Run("exact network wins over earlier wildcard", func(t *testing.T) {
		requirements := cashRequirement(string(cash.NetworkCash), "100")
		payload := types.PaymentPayload{X402Version: 2, Accepted: requirements, Payload: map[string]interface{}{}}
		resp, err := facilitator.Verify(context.Background(), marshal(t, payload), marshal(t, requirements))
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if resp.Payer != "exact-entry" {
			t.Errorf("routed to %q, want the exact registration", resp.Payer)
		}
	})

	t.Run("wildcard catches other family networks", func(t *testing.T) {
		requirements := cashRequirement("x402:arcade", "100")
		payload := types.PaymentPayload{X402Version: 2, Accepted: requirements, Payload: map[string]interface{}{}}
		resp, err := facilitator.Verify(context.Background(), marshal(t, payload), marshal(t, requirements))
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if resp.Payer != "wildcard-entry" {
			t.Errorf("routed to %q, want the wildcard registration", resp.Payer)
		}
	})

	t.Run("unknown family", func(t *testing.T) {
		requirements := cashRequirement("eip155:8453", "100")
		payload := types.PaymentPayload{X402Version: 2, Accepted: requirements, Payload: map[string]interface{}{}}
		_, err := facilitator.Verify(context.Background(), marshal(t, payload), marshal(t, requirements))
		var notFound *x402.SchemeNotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("expected SchemeNotFoundError, got %v", err)
		}
	})

	t.Run("settle routes the same way", func(t *testing.T) {
		requirements := cashRequirement(string(cash.NetworkCash), "100")
		payload := types.PaymentPayload{X402Version: 2, Accepted: requirements, Payload: map[string]interface{}{}}
		resp, err := facilitator.Settle(context.Background(), marshal(t, payload), marshal(t, requirements))
		if err != nil {
			t.Fatalf("Settle failed: %v", err)
		}
		if resp.Transaction != "exact-entry" {
			t.Errorf("routed to %q, want the exact registration", resp.Transaction)
		}
	})
}

func TestFacilitatorHooks(t *testing.T) {
	requirements := cashRequirement(string(cash.NetworkCash), "100")
	payloadBytes, _ := json.Marshal(types.PaymentPayload{X402Version: 2, Accepted: requirements, Payload: map[string]interface{}{}})
	requirementsBytes, _ := json.Marshal(requirements)

	t.Run("before hook aborts verification", func(t *testing.T) {
		facilitator := x402.Newx402Facilitator().
			Register([]x402.Network{cash.NetworkCash}, &taggedFacilitator{tag: "f", scheme: cash.Scheme, family: "x402:*"}).
			OnBeforeVerify(func(ctx x402.FacilitatorVerifyContext) (*x402.BeforeHookResult, error) {
				return &x402.BeforeHookResult{Abort: true, Reason: "rate limited"}, nil
			})
		_, err := facilitator.Verify(context.Background(), payloadBytes, requirementsBytes)
		var aborted *x402.PaymentAbortedError
		if !errors.As(err, &aborted) {
			t.Fatalf("expected PaymentAbortedError, got %v", err)
		}
	})

	t.Run("failure hook recovers missing mechanism", func(t *testing.T) {
		facilitator := x402.Newx402Facilitator().
			OnVerifyFailure(func(ctx x402.FacilitatorVerifyFailureContext) (*x402.VerifyFailureHookResult, error) {
				return &x402.VerifyFailureHookResult{
					Recovered: true,
					Result:    &x402.VerifyResponse{IsValid: false, InvalidReason: "unsupported_scheme"},
				}, nil
			})
		resp, err := facilitator.Verify(context.Background(), payloadBytes, requirementsBytes)
		if err != nil {
			t.Fatalf("expected recovery, got %v", err)
		}
		if resp.IsValid || resp.InvalidReason != "unsupported_scheme" {
			t.Errorf("recovered response = %+v", resp)
		}
	})

	t.Run("after hook observes settlement", func(t *testing.T) {
		var seen *x402.SettleResponse
		facilitator := x402.Newx402Facilitator().
			Register([]x402.Network{cash.NetworkCash}, &taggedFacilitator{tag: "tx-1", scheme: cash.Scheme, family: "x402:*"}).
			OnAfterSettle(func(ctx x402.FacilitatorSettleResultContext) error {
				seen = ctx.Result
				return nil
			})
		resp, err := facilitator.Settle(context.Background(), payloadBytes, requirementsBytes)
		if err != nil {
			t.Fatalf("Settle failed: %v", err)
		}
		if seen == nil || seen.Transaction != resp.Transaction {
			t.Errorf("after hook saw %+v, settle returned %+v", seen, resp)
		}
	})
}

func TestGetSupported(t *testing.T) {
	facilitator := x402.Newx402Facilitator().
		Register([]x402.Network{cash.NetworkCash, "x402:coupon"}, &taggedFacilitator{
			tag: "f", scheme: cash.Scheme, family: "x402:*", signers: []string{"cash-register"},
		})

	supported := facilitator.GetSupported()
	if len(supported.Kinds) != 2 {
		t.Fatalf("kinds = %d, want 2", len(supported.Kinds))
	}
	for _, kind := range supported.Kinds {
		if kind.X402Version != x402.ProtocolVersion || kind.Scheme != cash.Scheme {
			t.Errorf("unexpected kind %+v", kind)
		}
	}
	signers := supported.SignersForFamily(string(cash.NetworkCash))
	if len(signers) != 1 || signers[0] != "cash-register" {
		t.Errorf("signers = %v, want [cash-register]", signers)
	}
}

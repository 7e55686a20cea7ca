package unit_test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	x402 "x402-go"
	"x402-go/mechanisms/evm"
	evmclient "x402-go/mechanisms/evm/exact/client"
	evmfacilitator "x402-go/mechanisms/evm/exact/facilitator"
	evmv1client "x402-go/mechanisms/evm/exact/v1/client"
	evmv1facilitator "x402-go/mechanisms/evm/exact/v1/facilitator"
	"x402-go/types"
)

// replayedNonceSigner reports every nonce as already consumed
type replayedNonceSigner struct {
	*fakeChainSigner
}

func (m *replayedNonceSigner) ReadContract(
	ctx context.Context,
	address string,
	abi []byte,
	functionName string,
	args ...interface{},
) (interface{}, error) {
	if functionName == "authorizationState" {
		return true, nil
	}
	return m.fakeChainSigner.ReadContract(ctx, address, abi, functionName, args...)
}

func evmBoundaryRequirements() types.PaymentRequirements {
	return types.PaymentRequirements{
		Scheme:  evm.SchemeExact,
		Network: "eip155:8453",
		Asset:   "erc20:0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Amount:  "1000000",
		PayTo:   "0xabcdef1234567890123456789012345678901234",
		Extra: map[string]interface{}{
			"name":    "USD Coin",
			"version": "2",
		},
	}
}

// newEvmPayment signs a fresh payment so each subtest can tamper with its
// own copy of the authorization map.
func newEvmPayment(t *testing.T, req types.PaymentRequirements) types.PaymentPayload {
	t.Helper()
	client := x402.Newx402Client()
	client.Register("eip155:8453", evmclient.NewExactEvmScheme(&offlineEvmSigner{}))
	payload, err := client.CreatePaymentPayload(context.Background(), req, nil, nil)
	if err != nil {
		t.Fatalf("CreatePaymentPayload failed: %v", err)
	}
	return payload
}

func authorizationMap(t *testing.T, payload types.PaymentPayload) map[string]interface{} {
	t.Helper()
	auth, ok := payload.Payload["authorization"].(map[string]interface{})
	if !ok {
		t.Fatalf("payload has no authorization map: %+v", payload.Payload)
	}
	return auth
}

func requireEvmVerifyReason(t *testing.T, err error, reason string) {
	t.Helper()
	var ve *x402.VerifyError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *x402.VerifyError, got %T: %v", err, err)
	}
	if ve.Reason != reason {
		t.Errorf("reason = %q, want %q", ve.Reason, reason)
	}
}

func TestEVMVerifyBoundaries(t *testing.T) {
	ctx := context.Background()
	req := evmBoundaryRequirements()

	newFacilitator := func() *evmfacilitator.ExactEvmScheme {
		return evmfacilitator.NewExactEvmScheme(newFakeChainSigner(), nil)
	}

	t.Run("value one unit short", func(t *testing.T) {
		payload := newEvmPayment(t, req)
		authorizationMap(t, payload)["value"] = "999999"
		_, err := newFacilitator().Verify(ctx, payload, req)
		requireEvmVerifyReason(t, err, "insufficient_amount")
	})

	t.Run("recipient mismatch", func(t *testing.T) {
		payload := newEvmPayment(t, req)
		authorizationMap(t, payload)["to"] = "0x1111111111111111111111111111111111111111"
		_, err := newFacilitator().Verify(ctx, payload, req)
		requireEvmVerifyReason(t, err, "recipient_mismatch")
	})

	t.Run("validBefore inside the settle headroom", func(t *testing.T) {
		payload := newEvmPayment(t, req)
		expiry := time.Now().Unix() + evm.SettleHeadroomSeconds - 1
		authorizationMap(t, payload)["validBefore"] = fmt.Sprintf("%d", expiry)
		_, err := newFacilitator().Verify(ctx, payload, req)
		requireEvmVerifyReason(t, err, "valid_before_expired")
	})

	t.Run("validBefore just past the headroom passes the window check", func(t *testing.T) {
		payload := newEvmPayment(t, req)
		expiry := time.Now().Unix() + evm.SettleHeadroomSeconds + 1
		authorizationMap(t, payload)["validBefore"] = fmt.Sprintf("%d", expiry)
		_, err := newFacilitator().Verify(ctx, payload, req)
		// Tampering invalidates the signature, so verification still fails,
		// but it must get past the window check first.
		var ve *x402.VerifyError
		if !errors.As(err, &ve) {
			t.Fatalf("expected *x402.VerifyError, got %v", err)
		}
		if ve.Reason == "valid_before_expired" {
			t.Error("window check rejected a validBefore with enough headroom")
		}
	})

	t.Run("validAfter in the future", func(t *testing.T) {
		payload := newEvmPayment(t, req)
		notYet := time.Now().Unix() + 300
		authorizationMap(t, payload)["validAfter"] = fmt.Sprintf("%d", notYet)
		_, err := newFacilitator().Verify(ctx, payload, req)
		requireEvmVerifyReason(t, err, "valid_after_in_future")
	})

	t.Run("insufficient balance", func(t *testing.T) {
		payload := newEvmPayment(t, req)
		signer := newFakeChainSigner()
		signer.balances["0x14791697260E4c9A71f18484C9f997B308e59325:0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"] = big.NewInt(999999)
		facilitator := evmfacilitator.NewExactEvmScheme(signer, nil)
		_, err := facilitator.Verify(ctx, payload, req)
		requireEvmVerifyReason(t, err, "insufficient_balance")
	})

	t.Run("nonce already used", func(t *testing.T) {
		payload := newEvmPayment(t, req)
		facilitator := evmfacilitator.NewExactEvmScheme(&replayedNonceSigner{newFakeChainSigner()}, nil)
		_, err := facilitator.Verify(ctx, payload, req)
		requireEvmVerifyReason(t, err, "nonce_already_used")
	})

	t.Run("network mismatch", func(t *testing.T) {
		payload := newEvmPayment(t, req)
		other := req
		other.Network = "eip155:84532"
		_, err := newFacilitator().Verify(ctx, payload, other)
		requireEvmVerifyReason(t, err, "network_mismatch")
	})

	t.Run("nonce shorter than 32 bytes", func(t *testing.T) {
		payload := newEvmPayment(t, req)
		authorizationMap(t, payload)["nonce"] = "0x01"
		_, err := newFacilitator().Verify(ctx, payload, req)
		requireEvmVerifyReason(t, err, "invalid_payload")
	})

	t.Run("nonce longer than 32 bytes", func(t *testing.T) {
		payload := newEvmPayment(t, req)
		authorizationMap(t, payload)["nonce"] = "0x" + fmt.Sprintf("%066x", 1)
		_, err := newFacilitator().Verify(ctx, payload, req)
		requireEvmVerifyReason(t, err, "invalid_payload")
	})

	t.Run("missing EIP-712 domain", func(t *testing.T) {
		payload := newEvmPayment(t, req)
		bare := req
		bare.Extra = nil
		_, err := newFacilitator().Verify(ctx, payload, bare)
		requireEvmVerifyReason(t, err, "missing_eip712_domain")
	})

	t.Run("EIP-712 domain missing version", func(t *testing.T) {
		payload := newEvmPayment(t, req)
		partial := req
		partial.Extra = map[string]interface{}{"name": "USD Coin"}
		_, err := newFacilitator().Verify(ctx, payload, partial)
		requireEvmVerifyReason(t, err, "missing_eip712_domain")
	})
}

// A tampered v1 nonce must be rejected before any contract call is
// attempted, same as on the v2 path.
func TestEVMV1VerifyNonceLength(t *testing.T) {
	ctx := context.Background()
	req := v1EvmRequirements()

	client := x402.Newx402Client()
	client.RegisterV1("eip155:8453", evmv1client.NewExactEvmSchemeV1(&offlineEvmSigner{}))
	payload, err := client.CreatePaymentPayloadV1(ctx, req)
	if err != nil {
		t.Fatalf("CreatePaymentPayloadV1 failed: %v", err)
	}
	auth, ok := payload.Payload["authorization"].(map[string]interface{})
	if !ok {
		t.Fatalf("payload has no authorization map: %+v", payload.Payload)
	}
	auth["nonce"] = "0x01"

	facilitator := evmv1facilitator.NewExactEvmSchemeV1(newFakeChainSigner(), nil)
	_, err = facilitator.Verify(ctx, payload, req)
	requireEvmVerifyReason(t, err, "invalid_payload")
}

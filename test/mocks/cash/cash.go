// Package cash implements a toy in-memory payment scheme used by
// integration tests to exercise the full client/server/facilitator flow
// without touching a chain. The scheme is "cash" on the synthetic
// network "x402:cash"; amounts are atomic cents of USD.
package cash

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	x402 "x402-go"
	"x402-go/types"
)

const (
	// Scheme is the cash scheme identifier
	Scheme = "cash"

	// NetworkCash is the synthetic network cash payments settle on
	NetworkCash x402.Network = "x402:cash"

	// AssetCash is the asset identifier; amounts are in cents
	AssetCash = "cash"

	decimals = 2
)

// ============================================================================
// Client scheme
// ============================================================================

// SchemeNetworkClient signs cash payments on behalf of a named payer
type SchemeNetworkClient struct {
	payer string
}

// NewSchemeNetworkClient creates a cash client scheme for the given payer
func NewSchemeNetworkClient(payer string) *SchemeNetworkClient {
	return &SchemeNetworkClient{payer: payer}
}

// Scheme returns the scheme identifier
func (c *SchemeNetworkClient) Scheme() string {
	return Scheme
}

// CreatePaymentPayload produces a cash "IOU" for the requirements
func (c *SchemeNetworkClient) CreatePaymentPayload(ctx context.Context, requirements types.PaymentRequirements) (types.PaymentPayload, error) {
	if c.payer == "" {
		return types.PaymentPayload{}, fmt.Errorf("cash client has no payer name")
	}
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return types.PaymentPayload{}, err
	}
	return types.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Payload: map[string]interface{}{
			"payer":  c.payer,
			"amount": requirements.Amount,
			"asset":  requirements.Asset,
			"payTo":  requirements.PayTo,
			"nonce":  hex.EncodeToString(nonce),
		},
	}, nil
}

// SchemeNetworkClientV1 is the legacy v1 cash client scheme
type SchemeNetworkClientV1 struct {
	payer string
}

// NewSchemeNetworkClientV1 creates a v1 cash client scheme
func NewSchemeNetworkClientV1(payer string) *SchemeNetworkClientV1 {
	return &SchemeNetworkClientV1{payer: payer}
}

// Scheme returns the scheme identifier
func (c *SchemeNetworkClientV1) Scheme() string {
	return Scheme
}

// CreatePaymentPayload produces a v1 cash payment
func (c *SchemeNetworkClientV1) CreatePaymentPayload(ctx context.Context, requirements types.PaymentRequirementsV1) (types.PaymentPayloadV1, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return types.PaymentPayloadV1{}, err
	}
	return types.PaymentPayloadV1{
		X402Version: x402.ProtocolVersionV1,
		Scheme:      Scheme,
		Network:     requirements.Network,
		Payload: map[string]interface{}{
			"payer":  c.payer,
			"amount": requirements.MaxAmountRequired,
			"asset":  requirements.Asset,
			"payTo":  requirements.PayTo,
			"nonce":  hex.EncodeToString(nonce),
		},
	}, nil
}

// ============================================================================
// Server scheme
// ============================================================================

// SchemeNetworkServer prices routes in cash
type SchemeNetworkServer struct{}

// NewSchemeNetworkServer creates a cash server scheme
func NewSchemeNetworkServer() *SchemeNetworkServer {
	return &SchemeNetworkServer{}
}

// Scheme returns the scheme identifier
func (s *SchemeNetworkServer) Scheme() string {
	return Scheme
}

// ParsePrice converts a decimal money amount into atomic cents
func (s *SchemeNetworkServer) ParsePrice(price interface{}, network x402.Network) (types.AssetAmount, error) {
	amount, ok := price.(string)
	if !ok {
		return types.AssetAmount{}, fmt.Errorf("cash prices must be money strings, got %T", price)
	}
	atomic, err := toAtomic(amount)
	if err != nil {
		return types.AssetAmount{}, err
	}
	return types.AssetAmount{
		Amount: atomic,
		Asset:  AssetCash,
	}, nil
}

// EnhancePaymentRequirements fills the cash asset when absent
func (s *SchemeNetworkServer) EnhancePaymentRequirements(ctx context.Context, requirements *types.PaymentRequirements, supported *x402.SupportedResponse) error {
	if requirements.Asset == "" {
		requirements.Asset = AssetCash
	}
	return nil
}

// toAtomic converts a decimal amount ("0.10") into cents ("10")
func toAtomic(amount string) (string, error) {
	parts := strings.SplitN(amount, ".", 2)
	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if len(frac) > decimals {
		return "", fmt.Errorf("cash amounts have at most %d decimal places: %q", decimals, amount)
	}
	for len(frac) < decimals {
		frac += "0"
	}
	if whole == "" {
		whole = "0"
	}
	atomic, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return "", fmt.Errorf("invalid cash amount: %q", amount)
	}
	return atomic.String(), nil
}

// ============================================================================
// Facilitator scheme
// ============================================================================

// SchemeNetworkFacilitator verifies and settles cash payments entirely
// in memory, tracking spent nonces to reject replays.
type SchemeNetworkFacilitator struct {
	mu    sync.Mutex
	spent map[string]bool
}

// NewSchemeNetworkFacilitator creates a cash facilitator scheme
func NewSchemeNetworkFacilitator() *SchemeNetworkFacilitator {
	return &SchemeNetworkFacilitator{spent: make(map[string]bool)}
}

// Scheme returns the scheme identifier
func (f *SchemeNetworkFacilitator) Scheme() string {
	return Scheme
}

// CaipFamily returns the synthetic cash family wildcard
func (f *SchemeNetworkFacilitator) CaipFamily() string {
	return "x402:*"
}

// GetExtra returns nothing; cash has no mechanism extras
func (f *SchemeNetworkFacilitator) GetExtra(network x402.Network) map[string]interface{} {
	return nil
}

// GetSigners returns the facilitator's cash register identity
func (f *SchemeNetworkFacilitator) GetSigners(network x402.Network) []string {
	return []string{"cash-register"}
}

// Verify checks the cash IOU against the requirements
func (f *SchemeNetworkFacilitator) Verify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*x402.VerifyResponse, error) {
	payer, err := f.check(payload.Payload, requirements.Amount, requirements.Asset, requirements.PayTo, requirements.Network)
	if err != nil {
		return nil, err
	}
	return &x402.VerifyResponse{IsValid: true, Payer: payer}, nil
}

// Settle marks the IOU's nonce as spent and issues a receipt
func (f *SchemeNetworkFacilitator) Settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*x402.SettleResponse, error) {
	payer, err := f.check(payload.Payload, requirements.Amount, requirements.Asset, requirements.PayTo, requirements.Network)
	if err != nil {
		return nil, settleError(err, requirements.Network)
	}
	nonce, _ := payload.Payload["nonce"].(string)
	transaction, err := f.spend(nonce, payer, requirements.Network)
	if err != nil {
		return nil, err
	}
	return &x402.SettleResponse{
		Success:     true,
		Transaction: transaction,
		Network:     x402.Network(requirements.Network),
		Payer:       payer,
	}, nil
}

// SchemeNetworkFacilitatorV1 is the legacy v1 cash facilitator scheme,
// sharing the nonce ledger with its v2 counterpart when wrapped around
// the same instance.
type SchemeNetworkFacilitatorV1 struct {
	*SchemeNetworkFacilitator
}

// NewSchemeNetworkFacilitatorV1 creates a v1 cash facilitator scheme
func NewSchemeNetworkFacilitatorV1() *SchemeNetworkFacilitatorV1 {
	return &SchemeNetworkFacilitatorV1{SchemeNetworkFacilitator: NewSchemeNetworkFacilitator()}
}

// Verify checks a v1 cash payment
func (f *SchemeNetworkFacilitatorV1) Verify(ctx context.Context, payload types.PaymentPayloadV1, requirements types.PaymentRequirementsV1) (*x402.VerifyResponse, error) {
	if payload.Scheme != Scheme {
		return nil, x402.NewVerifyError("unsupported_scheme", "", x402.Network(payload.Network), nil)
	}
	payer, err := f.check(payload.Payload, requirements.MaxAmountRequired, requirements.Asset, requirements.PayTo, requirements.Network)
	if err != nil {
		return nil, err
	}
	return &x402.VerifyResponse{IsValid: true, Payer: payer}, nil
}

// Settle settles a v1 cash payment
func (f *SchemeNetworkFacilitatorV1) Settle(ctx context.Context, payload types.PaymentPayloadV1, requirements types.PaymentRequirementsV1) (*x402.SettleResponse, error) {
	payer, err := f.check(payload.Payload, requirements.MaxAmountRequired, requirements.Asset, requirements.PayTo, requirements.Network)
	if err != nil {
		return nil, settleError(err, requirements.Network)
	}
	nonce, _ := payload.Payload["nonce"].(string)
	transaction, err := f.spend(nonce, payer, requirements.Network)
	if err != nil {
		return nil, err
	}
	return &x402.SettleResponse{
		Success:     true,
		Transaction: transaction,
		Network:     x402.Network(requirements.Network),
		Payer:       payer,
	}, nil
}

func (f *SchemeNetworkFacilitator) check(payload map[string]interface{}, amount, asset, payTo, network string) (string, error) {
	payer, _ := payload["payer"].(string)
	if payer == "" {
		return "", x402.NewVerifyError("invalid_cash_payload", "", x402.Network(network), fmt.Errorf("missing payer"))
	}
	if got, _ := payload["amount"].(string); got != amount {
		return payer, x402.NewVerifyError("insufficient_amount", payer, x402.Network(network), fmt.Errorf("amount %q does not cover %q", got, amount))
	}
	if got, _ := payload["asset"].(string); got != asset {
		return payer, x402.NewVerifyError("invalid_asset", payer, x402.Network(network), nil)
	}
	if got, _ := payload["payTo"].(string); got != payTo {
		return payer, x402.NewVerifyError("invalid_recipient", payer, x402.Network(network), nil)
	}
	nonce, _ := payload["nonce"].(string)
	if nonce == "" {
		return payer, x402.NewVerifyError("invalid_cash_payload", payer, x402.Network(network), fmt.Errorf("missing nonce"))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spent[nonce] {
		return payer, x402.NewVerifyError("nonce_already_used", payer, x402.Network(network), nil)
	}
	return payer, nil
}

// settleError reshapes a pre-settlement check failure as a settle error,
// the way on-chain schemes report verify failures during settlement
func settleError(err error, network string) error {
	var verifyErr *x402.VerifyError
	if errors.As(err, &verifyErr) {
		return x402.NewSettleError(verifyErr.Reason, verifyErr.Payer, verifyErr.Network, "", verifyErr.Err)
	}
	return x402.NewSettleError("settlement_failed", "", x402.Network(network), "", err)
}

func (f *SchemeNetworkFacilitator) spend(nonce, payer, network string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spent[nonce] {
		return "", x402.NewSettleError("nonce_already_used", payer, x402.Network(network), "", nil)
	}
	f.spent[nonce] = true
	return "cash-" + nonce, nil
}

// ============================================================================
// Facilitator client wrapper
// ============================================================================

// FacilitatorClient adapts a local in-process facilitator to the
// FacilitatorClient interface, converting structured verify/settle
// errors into business-failure responses the way a remote facilitator
// service would.
type FacilitatorClient struct {
	facilitator *x402.X402Facilitator
}

// NewFacilitatorClient wraps a local facilitator
func NewFacilitatorClient(facilitator *x402.X402Facilitator) *FacilitatorClient {
	return &FacilitatorClient{facilitator: facilitator}
}

// Verify delegates to the local facilitator
func (c *FacilitatorClient) Verify(ctx context.Context, paymentPayload, paymentRequirements json.RawMessage) (*x402.VerifyResponse, error) {
	response, err := c.facilitator.Verify(ctx, paymentPayload, paymentRequirements)
	if err != nil {
		var verifyErr *x402.VerifyError
		if errors.As(err, &verifyErr) {
			return &x402.VerifyResponse{
				IsValid:        false,
				InvalidReason:  verifyErr.Reason,
				InvalidMessage: verifyErr.Error(),
				Payer:          verifyErr.Payer,
			}, nil
		}
		return nil, err
	}
	return response, nil
}

// Settle delegates to the local facilitator
func (c *FacilitatorClient) Settle(ctx context.Context, paymentPayload, paymentRequirements json.RawMessage) (*x402.SettleResponse, error) {
	response, err := c.facilitator.Settle(ctx, paymentPayload, paymentRequirements)
	if err != nil {
		var settleErr *x402.SettleError
		if errors.As(err, &settleErr) {
			return &x402.SettleResponse{
				Success:      false,
				ErrorReason:  settleErr.Reason,
				ErrorMessage: settleErr.Error(),
				Transaction:  settleErr.Transaction,
				Network:      settleErr.Network,
				Payer:        settleErr.Payer,
			}, nil
		}
		return nil, err
	}
	return response, nil
}

// GetSupported returns the local facilitator's capability catalog
func (c *FacilitatorClient) GetSupported(ctx context.Context) (*x402.SupportedResponse, error) {
	return c.facilitator.GetSupported(), nil
}

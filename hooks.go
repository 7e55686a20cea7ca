package x402

import "encoding/json"

// Hook contexts and results for the payment lifecycle.
//
// Every role runs the same pipeline:
//
//	INIT -> BEFORE hooks (abortable) -> CALL -> on error: FAILURE hooks
//	(recoverable) -> AFTER hooks -> DONE
//
// A before hook aborts by returning a result with Abort set; the
// operation then fails with PaymentAbortedError. A failure hook recovers
// by returning a result with Recovered set and a substitute value.
// After hooks are observational: their errors are ignored by the
// pipeline so side effects cannot fail a completed payment.

// BeforeHookResult optionally aborts a verify/settle operation
type BeforeHookResult struct {
	Abort  bool
	Reason string
}

// PaymentCreationContext is passed to client before-hooks
type PaymentCreationContext struct {
	Version              int
	SelectedRequirements Requirements
}

// BeforePaymentCreationHookResult optionally aborts payment creation
type BeforePaymentCreationHookResult struct {
	Abort  bool
	Reason string
}

// PaymentCreatedContext is passed to client after-hooks
type PaymentCreatedContext struct {
	Version              int
	SelectedRequirements Requirements
	// Payload is *types.PaymentPayload for v2 or *types.PaymentPayloadV1 for v1
	Payload interface{}
}

// PaymentCreationFailureContext is passed to client failure-hooks
type PaymentCreationFailureContext struct {
	Version              int
	SelectedRequirements Requirements
	Error                error
}

// PaymentCreationFailureHookResult optionally recovers a failed payment
// creation with a substitute payload (same type as PaymentCreatedContext.Payload)
type PaymentCreationFailureHookResult struct {
	Recovered bool
	Payload   interface{}
}

// BeforePaymentCreationHook runs before the client signs a payment
type BeforePaymentCreationHook func(ctx PaymentCreationContext) (*BeforePaymentCreationHookResult, error)

// AfterPaymentCreationHook runs after a payment payload is created
type AfterPaymentCreationHook func(ctx PaymentCreatedContext) error

// PaymentCreationFailureHook runs when payment creation fails
type PaymentCreationFailureHook func(ctx PaymentCreationFailureContext) (*PaymentCreationFailureHookResult, error)

// VerifyContext is passed to resource-server verify hooks
type VerifyContext struct {
	Version        int
	Requirements   Requirements
	PaymentPayload json.RawMessage
}

// VerifyResultContext is passed to resource-server after-verify hooks
type VerifyResultContext struct {
	VerifyContext
	Result *VerifyResponse
}

// VerifyFailureContext is passed to resource-server verify failure hooks
type VerifyFailureContext struct {
	VerifyContext
	Error error
}

// VerifyFailureHookResult optionally recovers a failed verification
type VerifyFailureHookResult struct {
	Recovered bool
	Result    *VerifyResponse
}

// SettleContext is passed to resource-server settle hooks
type SettleContext struct {
	Version        int
	Requirements   Requirements
	PaymentPayload json.RawMessage
}

// SettleResultContext is passed to resource-server after-settle hooks
type SettleResultContext struct {
	SettleContext
	Result *SettleResponse
}

// SettleFailureContext is passed to resource-server settle failure hooks
type SettleFailureContext struct {
	SettleContext
	Error error
}

// SettleFailureHookResult optionally recovers a failed settlement
type SettleFailureHookResult struct {
	Recovered bool
	Result    *SettleResponse
}

// BeforeVerifyHook runs before payment verification
type BeforeVerifyHook func(ctx VerifyContext) (*BeforeHookResult, error)

// AfterVerifyHook runs after successful payment verification
type AfterVerifyHook func(ctx VerifyResultContext) error

// VerifyFailureHook runs when payment verification fails
type VerifyFailureHook func(ctx VerifyFailureContext) (*VerifyFailureHookResult, error)

// BeforeSettleHook runs before payment settlement
type BeforeSettleHook func(ctx SettleContext) (*BeforeHookResult, error)

// AfterSettleHook runs after successful payment settlement
type AfterSettleHook func(ctx SettleResultContext) error

// SettleFailureHook runs when payment settlement fails
type SettleFailureHook func(ctx SettleFailureContext) (*SettleFailureHookResult, error)

// FacilitatorVerifyContext is passed to facilitator verify hooks.
// Payload and requirements are the raw JSON the facilitator received.
type FacilitatorVerifyContext struct {
	Version             int
	Scheme              string
	Network             Network
	PaymentPayload      json.RawMessage
	PaymentRequirements json.RawMessage
}

// FacilitatorVerifyResultContext is passed to facilitator after-verify hooks
type FacilitatorVerifyResultContext struct {
	FacilitatorVerifyContext
	Result *VerifyResponse
}

// FacilitatorVerifyFailureContext is passed to facilitator verify failure hooks
type FacilitatorVerifyFailureContext struct {
	FacilitatorVerifyContext
	Error error
}

// FacilitatorSettleContext is passed to facilitator settle hooks
type FacilitatorSettleContext struct {
	Version             int
	Scheme              string
	Network             Network
	PaymentPayload      json.RawMessage
	PaymentRequirements json.RawMessage
}

// FacilitatorSettleResultContext is passed to facilitator after-settle hooks
type FacilitatorSettleResultContext struct {
	FacilitatorSettleContext
	Result *SettleResponse
}

// FacilitatorSettleFailureContext is passed to facilitator settle failure hooks
type FacilitatorSettleFailureContext struct {
	FacilitatorSettleContext
	Error error
}

// FacilitatorBeforeVerifyHook runs before the facilitator verifies a payment
type FacilitatorBeforeVerifyHook func(ctx FacilitatorVerifyContext) (*BeforeHookResult, error)

// FacilitatorAfterVerifyHook runs after the facilitator verifies a payment
type FacilitatorAfterVerifyHook func(ctx FacilitatorVerifyResultContext) error

// FacilitatorVerifyFailureHook runs when facilitator verification fails
type FacilitatorVerifyFailureHook func(ctx FacilitatorVerifyFailureContext) (*VerifyFailureHookResult, error)

// FacilitatorBeforeSettleHook runs before the facilitator settles a payment
type FacilitatorBeforeSettleHook func(ctx FacilitatorSettleContext) (*BeforeHookResult, error)

// FacilitatorAfterSettleHook runs after the facilitator settles a payment
type FacilitatorAfterSettleHook func(ctx FacilitatorSettleResultContext) error

// FacilitatorSettleFailureHook runs when facilitator settlement fails
type FacilitatorSettleFailureHook func(ctx FacilitatorSettleFailureContext) (*SettleFailureHookResult, error)

// pipeline is the shared lifecycle state machine. The typed hook slices
// of each role are adapted into its closures so all three roles drive
// their operations through one implementation.
type pipeline[C any, R any] struct {
	before  []func(C) (*BeforeHookResult, error)
	call    func(C) (R, error)
	failure []func(C, error) (recovered bool, result R, err error)
	after   []func(C, R)
}

type pipelinePhase int

const (
	phaseBefore pipelinePhase = iota
	phaseCall
	phaseFailure
	phaseAfter
	phaseDone
)

// run drives the pipeline to completion for one operation
func (p pipeline[C, R]) run(c C) (R, error) {
	var result R
	var callErr error

	for phase := phaseBefore; phase != phaseDone; {
		switch phase {
		case phaseBefore:
			for _, h := range p.before {
				res, err := h(c)
				if err != nil {
					return result, err
				}
				if res != nil && res.Abort {
					return result, &PaymentAbortedError{Reason: res.Reason}
				}
			}
			phase = phaseCall

		case phaseCall:
			result, callErr = p.call(c)
			if callErr != nil {
				phase = phaseFailure
			} else {
				phase = phaseAfter
			}

		case phaseFailure:
			for _, h := range p.failure {
				recovered, r, err := h(c, callErr)
				if err != nil {
					return result, err
				}
				if recovered {
					result = r
					callErr = nil
					break
				}
			}
			if callErr != nil {
				return result, callErr
			}
			phase = phaseAfter

		case phaseAfter:
			for _, h := range p.after {
				h(c, result)
			}
			phase = phaseDone
		}
	}

	return result, nil
}

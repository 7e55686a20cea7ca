package x402

import "fmt"

// VerifyError is returned when payment verification fails.
// It carries a stable machine-readable reason code plus context about
// the payer and network so callers can build structured responses.
type VerifyError struct {
	Reason  string
	Payer   string
	Network Network
	Err     error
}

// NewVerifyError creates a VerifyError with the given reason code
func NewVerifyError(reason string, payer string, network Network, err error) *VerifyError {
	return &VerifyError{
		Reason:  reason,
		Payer:   payer,
		Network: network,
		Err:     err,
	}
}

func (e *VerifyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("verification failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("verification failed: %s", e.Reason)
}

func (e *VerifyError) Unwrap() error {
	return e.Err
}

// SettleError is returned when payment settlement fails.
// Transaction is set when the settlement transaction was broadcast but
// did not succeed on-chain.
type SettleError struct {
	Reason      string
	Payer       string
	Network     Network
	Transaction string
	Err         error
}

// NewSettleError creates a SettleError with the given reason code
func NewSettleError(reason string, payer string, network Network, transaction string, err error) *SettleError {
	return &SettleError{
		Reason:      reason,
		Payer:       payer,
		Network:     network,
		Transaction: transaction,
		Err:         err,
	}
}

func (e *SettleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("settlement failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("settlement failed: %s", e.Reason)
}

func (e *SettleError) Unwrap() error {
	return e.Err
}

// SchemeNotFoundError is returned when no scheme implementation is
// registered for the (scheme, network) pair of a payload or requirement.
type SchemeNotFoundError struct {
	Scheme  string
	Network string
	Version int
}

func (e *SchemeNotFoundError) Error() string {
	return fmt.Sprintf("no scheme registered for scheme=%s network=%s (v%d)", e.Scheme, e.Network, e.Version)
}

// NoMatchingRequirementsError is returned when none of the accepted
// payment requirements match a registered scheme, or when a selection
// policy filters the candidate list down to nothing.
type NoMatchingRequirementsError struct {
	Message string
}

func (e *NoMatchingRequirementsError) Error() string {
	if e.Message != "" {
		return "no matching payment requirements: " + e.Message
	}
	return "no matching payment requirements"
}

// PaymentAbortedError is returned when a before-hook aborts an operation.
// It is a signaled abort, distinct from infrastructure failures.
type PaymentAbortedError struct {
	Reason string
}

func (e *PaymentAbortedError) Error() string {
	if e.Reason != "" {
		return "payment aborted: " + e.Reason
	}
	return "payment aborted"
}

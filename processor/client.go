/*
Package processor talks to the external payment processor.

PURPOSE:
  The payout engine never moves money itself. It asks the processor to create
  payee accounts, send transfers, reverse the per-tip auto-forwards and report
  the platform's available balance. Everything behind this interface is
  blocking network I/O.

IMPLEMENTATIONS:
  - stripe.go: Stripe-compatible REST client (live and sandbox)
  - memory.go: In-process fake for tests and the "memory" environment

ENVIRONMENTS:
  live     - real money; no top-up path exists
  sandbox  - processor test mode; SandboxFunder may create test charges
  memory   - no network at all

SEE ALSO:
  - funder.go: Sandbox-only balance top-up
  - payout/transfer.go: Main consumer
*/
package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/warp/payout-engine/generic"
)

// =============================================================================
// ENVIRONMENT
// =============================================================================

type Environment string

const (
	EnvironmentLive    Environment = "live"
	EnvironmentSandbox Environment = "sandbox"
	EnvironmentMemory  Environment = "memory"
)

func (e Environment) Valid() bool {
	return e == EnvironmentLive || e == EnvironmentSandbox || e == EnvironmentMemory
}

// =============================================================================
// TYPES
// =============================================================================

// Transfer is money moved from the platform to a connected account.
type Transfer struct {
	ID             string
	Amount         generic.Amount
	AmountReversed generic.Amount
	Currency       string
	Destination    string
}

// Unreversed is the part of the transfer still sitting at the destination.
func (t Transfer) Unreversed() generic.Amount {
	return t.Amount.Sub(t.AmountReversed)
}

// Reversal pulls (part of) a transfer back to the platform.
type Reversal struct {
	ID         string
	TransferID string
	Amount     generic.Amount
}

// Payment is a captured customer payment. TransferRef is the automatic
// forward to the venue's collection account, if any.
type Payment struct {
	ID          string
	Amount      generic.Amount
	Status      string
	TransferRef string
}

// Balance is the platform's holding balance per currency.
type Balance struct {
	Available map[string]generic.Amount
	Pending   map[string]generic.Amount
}

// AvailableIn returns the available amount in a currency (case-insensitive key).
func (b Balance) AvailableIn(currency string) generic.Amount {
	return b.Available[normalizeCurrency(currency)]
}

type TransferParams struct {
	Amount         generic.Amount
	Currency       string
	Destination    string
	Description    string
	TransferGroup  string
	Metadata       map[string]string
	IdempotencyKey string
}

type PayeeAccountParams struct {
	EmployeeID        string
	FirstName         string
	LastName          string
	Email             string
	Country           string
	Currency          string
	RoutingCode       string
	AccountNumber     string
	AccountHolderName string
	IdempotencyKey    string
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is the set of processor operations the payout engine relies on.
type Client interface {
	CreatePayeeAccount(ctx context.Context, params PayeeAccountParams) (string, error)
	CreateTransfer(ctx context.Context, params TransferParams) (*Transfer, error)
	RetrieveTransfer(ctx context.Context, id string) (*Transfer, error)
	ReverseTransfer(ctx context.Context, transferID string, amount generic.Amount, idempotencyKey string) (*Reversal, error)
	RetrieveBalance(ctx context.Context) (*Balance, error)
	RetrievePayment(ctx context.Context, id string) (*Payment, error)
	Environment() Environment
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotSandbox is returned when a sandbox-only capability is requested
	// against a client that is not in sandbox mode.
	ErrNotSandbox = errors.New("operation only allowed in sandbox environment")

	// ErrMissingCredentials is returned when a networked client has no secret key.
	ErrMissingCredentials = errors.New("processor secret key not configured")
)

// APIError is an error response from the processor.
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("processor %d %s (%s): %s", e.StatusCode, e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("processor %d %s: %s", e.StatusCode, e.Type, e.Message)
}

// Retryable reports whether repeating the same request may succeed.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusConflict ||
		e.StatusCode >= http.StatusInternalServerError
}

// IsRetryable reports whether err is worth retrying with the same idempotency key.
// Non-API errors (timeouts, connection resets) are treated as retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}

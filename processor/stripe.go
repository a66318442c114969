package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/logging"
	"github.com/warp/payout-engine/metrics"
)

// =============================================================================
// CONFIG
// =============================================================================

// StripeConfig configures the REST client.
type StripeConfig struct {
	BaseURL     string
	SecretKey   string
	Environment Environment

	Timeout           time.Duration // per attempt
	MaxRetries        uint64
	InitialBackoff    time.Duration
	RequestsPerSecond float64 // <= 0 disables client-side limiting
	Burst             int
	BreakerFailures   uint32 // consecutive failures before the breaker opens
	BreakerTimeout    time.Duration

	HTTPClient *http.Client
}

func (c *StripeConfig) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.stripe.com"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// StripeClient is a Stripe-compatible REST client. Every call is rate limited,
// guarded by a circuit breaker, bounded by a per-attempt timeout, and retried
// with exponential backoff for retryable failures. Writes carry an
// Idempotency-Key that stays the same across retries.
type StripeClient struct {
	cfg     StripeConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	log     zerolog.Logger
}

// NewStripeClient validates the configuration and builds a client.
func NewStripeClient(cfg StripeConfig) (*StripeClient, error) {
	if cfg.Environment != EnvironmentLive && cfg.Environment != EnvironmentSandbox {
		return nil, fmt.Errorf("stripe client: unsupported environment %q", cfg.Environment)
	}
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.Environment == EnvironmentSandbox && strings.HasPrefix(cfg.SecretKey, "sk_live_") {
		return nil, errors.New("stripe client: live secret key configured for sandbox environment")
	}
	cfg.applyDefaults()

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	c := &StripeClient{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		log:     logging.WithComponent("processor").With().Str("environment", string(cfg.Environment)).Logger(),
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "processor-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			// a 4xx means the processor is up and rejected the request
			return err == nil || !IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.ProcessorBreakerState.Set(breakerStateValue(to))
		},
	})
	return c, nil
}

func (c *StripeClient) Environment() Environment { return c.cfg.Environment }

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// =============================================================================
// OPERATIONS
// =============================================================================

type wireTransfer struct {
	ID             string `json:"id"`
	Amount         int64  `json:"amount"`
	AmountReversed int64  `json:"amount_reversed"`
	Currency       string `json:"currency"`
	Destination    string `json:"destination"`
}

func (w wireTransfer) toTransfer() *Transfer {
	return &Transfer{
		ID:             w.ID,
		Amount:         generic.Amount(w.Amount),
		AmountReversed: generic.Amount(w.AmountReversed),
		Currency:       w.Currency,
		Destination:    w.Destination,
	}
}

func (c *StripeClient) CreateTransfer(ctx context.Context, p TransferParams) (*Transfer, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(p.Amount.Int64(), 10))
	form.Set("currency", normalizeCurrency(p.Currency))
	form.Set("destination", p.Destination)
	if p.Description != "" {
		form.Set("description", p.Description)
	}
	if p.TransferGroup != "" {
		form.Set("transfer_group", p.TransferGroup)
	}
	for k, v := range p.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	var out wireTransfer
	if err := c.do(ctx, "create_transfer", http.MethodPost, "/v1/transfers", form, p.IdempotencyKey, &out); err != nil {
		return nil, err
	}
	return out.toTransfer(), nil
}

func (c *StripeClient) RetrieveTransfer(ctx context.Context, id string) (*Transfer, error) {
	var out wireTransfer
	if err := c.do(ctx, "retrieve_transfer", http.MethodGet, "/v1/transfers/"+url.PathEscape(id), nil, "", &out); err != nil {
		return nil, err
	}
	return out.toTransfer(), nil
}

func (c *StripeClient) ReverseTransfer(ctx context.Context, transferID string, amount generic.Amount, idempotencyKey string) (*Reversal, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amount.Int64(), 10))

	var out struct {
		ID       string `json:"id"`
		Transfer string `json:"transfer"`
		Amount   int64  `json:"amount"`
	}
	path := "/v1/transfers/" + url.PathEscape(transferID) + "/reversals"
	if err := c.do(ctx, "reverse_transfer", http.MethodPost, path, form, idempotencyKey, &out); err != nil {
		return nil, err
	}
	return &Reversal{ID: out.ID, TransferID: out.Transfer, Amount: generic.Amount(out.Amount)}, nil
}

func (c *StripeClient) RetrieveBalance(ctx context.Context) (*Balance, error) {
	type fund struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	var out struct {
		Available []fund `json:"available"`
		Pending   []fund `json:"pending"`
	}
	if err := c.do(ctx, "retrieve_balance", http.MethodGet, "/v1/balance", nil, "", &out); err != nil {
		return nil, err
	}

	b := &Balance{Available: map[string]generic.Amount{}, Pending: map[string]generic.Amount{}}
	for _, f := range out.Available {
		b.Available[normalizeCurrency(f.Currency)] += generic.Amount(f.Amount)
	}
	for _, f := range out.Pending {
		b.Pending[normalizeCurrency(f.Currency)] += generic.Amount(f.Amount)
	}
	return b, nil
}

func (c *StripeClient) CreatePayeeAccount(ctx context.Context, p PayeeAccountParams) (string, error) {
	form := url.Values{}
	form.Set("type", "custom")
	form.Set("country", p.Country)
	form.Set("business_type", "individual")
	form.Set("capabilities[transfers][requested]", "true")
	if p.Email != "" {
		form.Set("email", p.Email)
		form.Set("individual[email]", p.Email)
	}
	form.Set("individual[first_name]", p.FirstName)
	form.Set("individual[last_name]", p.LastName)
	form.Set("external_account[object]", "bank_account")
	form.Set("external_account[country]", p.Country)
	form.Set("external_account[currency]", normalizeCurrency(p.Currency))
	form.Set("external_account[routing_number]", p.RoutingCode)
	form.Set("external_account[account_number]", p.AccountNumber)
	form.Set("external_account[account_holder_name]", p.AccountHolderName)
	form.Set("external_account[account_holder_type]", "individual")
	form.Set("metadata[employee_id]", p.EmployeeID)

	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, "create_payee_account", http.MethodPost, "/v1/accounts", form, p.IdempotencyKey, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *StripeClient) RetrievePayment(ctx context.Context, id string) (*Payment, error) {
	var out struct {
		ID           string `json:"id"`
		Amount       int64  `json:"amount"`
		Status       string `json:"status"`
		LatestCharge *struct {
			Transfer string `json:"transfer"`
		} `json:"latest_charge"`
	}
	path := "/v1/payment_intents/" + url.PathEscape(id) + "?expand[]=latest_charge"
	if err := c.do(ctx, "retrieve_payment", http.MethodGet, path, nil, "", &out); err != nil {
		return nil, err
	}

	p := &Payment{ID: out.ID, Amount: generic.Amount(out.Amount), Status: out.Status}
	if out.LatestCharge != nil {
		p.TransferRef = out.LatestCharge.Transfer
	}
	return p, nil
}

// CreateTestCharge funds the platform balance with a test card charge.
// Refused outside the sandbox environment.
func (c *StripeClient) CreateTestCharge(ctx context.Context, amount generic.Amount, currency, source, idempotencyKey string) error {
	if c.cfg.Environment != EnvironmentSandbox {
		return ErrNotSandbox
	}
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amount.Int64(), 10))
	form.Set("currency", normalizeCurrency(currency))
	form.Set("source", source)
	form.Set("description", "sandbox: platform balance top-up for payouts")
	return c.do(ctx, "create_test_charge", http.MethodPost, "/v1/charges", form, idempotencyKey, nil)
}

// =============================================================================
// TRANSPORT
// =============================================================================

func (c *StripeClient) do(ctx context.Context, op, method, path string, form url.Values, idempotencyKey string, out any) error {
	var body []byte
	attempt := 0
	operation := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		b, err := c.breaker.Execute(func() ([]byte, error) {
			return c.roundTrip(ctx, op, method, path, form, idempotencyKey)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || !IsRetryable(err) {
				return backoff.Permanent(err)
			}
			c.log.Debug().Err(err).Str("operation", op).Int("attempt", attempt).Msg("processor call failed, retrying")
			return err
		}
		body = b
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.InitialBackoff
	policy.MaxElapsedTime = 0
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, c.cfg.MaxRetries), ctx)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func (c *StripeClient) roundTrip(ctx context.Context, op, method, path string, form url.Values, idempotencyKey string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reqBody)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	start := time.Now()
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		metrics.RecordProcessorCall(op, time.Since(start), err)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err == nil && resp.StatusCode >= http.StatusBadRequest {
		err = decodeAPIError(resp.StatusCode, data)
	}
	metrics.RecordProcessorCall(op, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func decodeAPIError(status int, data []byte) *APIError {
	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	apiErr := &APIError{StatusCode: status}
	if json.Unmarshal(data, &envelope) == nil {
		apiErr.Type = envelope.Error.Type
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

func normalizeCurrency(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

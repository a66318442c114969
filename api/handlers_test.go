/*
handlers_test.go - HTTP tests for the operator API

Tests for:
- Payout calculation, listing, lookup, cancel
- Execute / retry status codes (200, 207, 409, 422)
- Preview query validation
- Admin auto-payout run
- Bearer auth and request ids
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/processor"
	"github.com/warp/payout-engine/store/memory"
)

// =============================================================================
// FIXTURE
// =============================================================================

type apiFixture struct {
	store   *memory.Store
	proc    *processor.Memory
	handler *Handler
	router  *chi.Mux
}

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

// newAPIFixture seeds venue-1 with Alice (all week) and Bob (from Friday
// 2025-03-07) and $100 of forwarded tips in the week of 2025-03-03.
func newAPIFixture(t *testing.T, cfg RouterConfig) *apiFixture {
	t.Helper()
	f := &apiFixture{store: memory.New(), proc: processor.NewMemory(processor.EnvironmentMemory)}

	f.store.PutVenue(payout.Venue{ID: "venue-1", Name: "Harbour Bar", CollectionAccountRef: "acct_venue"})
	bank := payout.BankDetails{RoutingCode: "062-000", AccountNumber: "12345678", AccountName: "Holder"}
	aliceFrom := mustTime("2025-01-01T00:00:00Z")
	bobFrom := mustTime("2025-03-07T10:00:00Z")
	f.store.PutEmployee(payout.Employee{ID: "emp-alice", VenueID: "venue-1", Name: "Alice", Bank: bank, ActivatedAt: &aliceFrom, IsActive: true})
	f.store.PutEmployee(payout.Employee{ID: "emp-bob", VenueID: "venue-1", Name: "Bob", Bank: bank, ActivatedAt: &bobFrom, IsActive: true})

	for _, tip := range []struct {
		id     string
		amount generic.Amount
		at     string
	}{
		{"t1", 6000, "2025-03-04T20:00:00Z"},
		{"t2", 4000, "2025-03-08T21:00:00Z"},
	} {
		f.store.PutTip(payout.Tip{
			ID:          tip.id,
			VenueID:     "venue-1",
			Amount:      tip.amount,
			Currency:    "aud",
			Status:      payout.TipSucceeded,
			TransferRef: f.proc.SeedTransfer("acct_venue", tip.amount, "aud"),
			CreatedAt:   mustTime(tip.at),
		})
	}

	clock := generic.FixedClock{At: mustTime("2025-03-10T09:00:00Z")}
	service := payout.NewService(f.store, f.proc, payout.Options{Clock: clock, MaxConcurrentTransfers: 2})
	runner := payout.NewAutoPayout(f.store, service, payout.AutoPayoutOptions{Clock: clock})
	f.handler = NewHandler(service, runner, "aud")
	f.router = NewRouter(f.handler, cfg)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *apiFixture) calculate(t *testing.T) PayoutDTO {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/payouts", CalculatePayoutRequest{
		VenueID: "venue-1", PeriodStart: "2025-03-03", PeriodEnd: "2025-03-09",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[PayoutDTO](t, rec)
}

// =============================================================================
// CALCULATION
// =============================================================================

func TestCalculatePayout_Created(t *testing.T) {
	f := newAPIFixture(t, RouterConfig{})

	// WHEN
	p := f.calculate(t)

	// THEN
	assert.Equal(t, "pending", p.Status)
	assert.Equal(t, int64(10000), p.TotalAmount)
	assert.Equal(t, int64(500), p.PlatformFee)
	assert.Equal(t, int64(9500), p.NetAmount)
	assert.Equal(t, "aud", p.Currency)
	assert.Nil(t, p.ProcessedAt)
	require.Len(t, p.Distributions, 2)
	assert.Equal(t, "emp-alice", p.Distributions[0].EmployeeID)
	assert.Equal(t, int64(6650), p.Distributions[0].Amount)
	assert.False(t, p.Distributions[0].IsProrated)
	assert.Equal(t, int64(2850), p.Distributions[1].Amount)
	assert.Equal(t, 3, p.Distributions[1].DaysActive)
	assert.True(t, p.Distributions[1].IsProrated)
}

func TestCalculatePayout_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"malformed json", `{"venue_id":`, http.StatusBadRequest},
		{"unknown field", `{"venue_id":"venue-1","period_start":"2025-03-03","period_end":"2025-03-09","fee":1}`, http.StatusBadRequest},
		{"missing venue", CalculatePayoutRequest{PeriodStart: "2025-03-03", PeriodEnd: "2025-03-09"}, http.StatusBadRequest},
		{"bad date", CalculatePayoutRequest{VenueID: "venue-1", PeriodStart: "2025-3-3", PeriodEnd: "2025-03-09"}, http.StatusBadRequest},
		{"end before start", CalculatePayoutRequest{VenueID: "venue-1", PeriodStart: "2025-03-09", PeriodEnd: "2025-03-03"}, http.StatusBadRequest},
		{"unknown venue", CalculatePayoutRequest{VenueID: "nope", PeriodStart: "2025-03-03", PeriodEnd: "2025-03-09"}, http.StatusNotFound},
		{"no tips", CalculatePayoutRequest{VenueID: "venue-1", PeriodStart: "2025-02-03", PeriodEnd: "2025-02-09"}, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t, RouterConfig{})
			rec := f.do(t, http.MethodPost, "/api/payouts", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decodeBody[ErrorResponse](t, rec).Error)
		})
	}
}

func TestCalculatePayout_OverlapConflict(t *testing.T) {
	f := newAPIFixture(t, RouterConfig{})
	f.calculate(t)

	// WHEN: a period sharing two days (and tip t2) with the first
	rec := f.do(t, http.MethodPost, "/api/payouts", CalculatePayoutRequest{
		VenueID: "venue-1", PeriodStart: "2025-03-08", PeriodEnd: "2025-03-14",
	})

	// THEN
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decodeBody[ErrorResponse](t, rec).Code)
}

// =============================================================================
// QUERIES
// =============================================================================

func TestGetAndListPayouts(t *testing.T) {
	f := newAPIFixture(t, RouterConfig{})
	created := f.calculate(t)

	rec := f.do(t, http.MethodGet, "/api/payouts/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decodeBody[PayoutDTO](t, rec).ID)

	rec = f.do(t, http.MethodGet, "/api/payouts/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/payouts", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/payouts?venue_id=venue-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[struct {
		Payouts []PayoutDTO `json:"payouts"`
	}](t, rec)
	require.Len(t, list.Payouts, 1)
	assert.Len(t, list.Payouts[0].Distributions, 2)
}

func TestPreviewPayout(t *testing.T) {
	f := newAPIFixture(t, RouterConfig{})

	rec := f.do(t, http.MethodGet, "/api/venues/venue-1/payout-preview?period_start=2025-03-03&period_end=2025-03-09", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decodeBody[PreviewDTO](t, rec)
	assert.Equal(t, int64(9500), preview.NetAmount)
	assert.Equal(t, 2, preview.TipCount)
	assert.Len(t, preview.Shares, 2)

	// nothing was stored
	rec = f.do(t, http.MethodGet, "/api/payouts?venue_id=venue-1", nil)
	assert.Contains(t, rec.Body.String(), `"payouts":[]`)

	rec = f.do(t, http.MethodGet, "/api/venues/venue-1/payout-preview?period_start=2025-03-03", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// EXECUTION
// =============================================================================

func TestExecutePayout_Completed(t *testing.T) {
	f := newAPIFixture(t, RouterConfig{})
	p := f.calculate(t)

	// WHEN
	rec := f.do(t, http.MethodPost, "/api/payouts/"+p.ID+"/execute", nil)

	// THEN
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[ExecutionDTO](t, rec)
	assert.Equal(t, "completed", res.Payout.Status)
	assert.NotNil(t, res.Payout.ProcessedAt)
	assert.Equal(t, 2, res.Summary.Completed)
	assert.Equal(t, 2, res.Recollection.Reversed)
	assert.Empty(t, res.Error)
	for _, r := range res.Results {
		assert.NotEmpty(t, r.TransferRef)
	}

	// AND: a second execute is a conflict
	rec = f.do(t, http.MethodPost, "/api/payouts/"+p.ID+"/execute", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestExecutePayout_PartialFailureThenRetry(t *testing.T) {
	f := newAPIFixture(t, RouterConfig{})
	bob, _ := f.store.GetEmployee(context.Background(), "emp-bob")
	bob.PayeeID = "acct_bob"
	f.store.PutEmployee(*bob)
	f.proc.FailTransfersTo("acct_bob", &processor.APIError{StatusCode: 400, Message: "account closed"})
	p := f.calculate(t)

	// WHEN
	rec := f.do(t, http.MethodPost, "/api/payouts/"+p.ID+"/execute", nil)

	// THEN: 207 with the per-employee outcome
	require.Equal(t, http.StatusMultiStatus, rec.Code, rec.Body.String())
	res := decodeBody[ExecutionDTO](t, rec)
	assert.Equal(t, "partially_completed", res.Payout.Status)
	assert.Equal(t, 1, res.Summary.Completed)
	assert.Equal(t, 1, res.Summary.Failed)
	assert.Contains(t, res.Error, "Bob")

	// AND: once the account is fixed, retry pays only Bob
	f.proc.FailTransfersTo("acct_bob", nil)
	rec = f.do(t, http.MethodPost, "/api/payouts/"+p.ID+"/retry", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res = decodeBody[ExecutionDTO](t, rec)
	assert.Equal(t, "completed", res.Payout.Status)
	assert.Equal(t, 1, res.Summary.Completed)
	assert.Equal(t, 1, res.Summary.PreviouslyCompleted)
}

func TestExecutePayout_MissingBankDetails(t *testing.T) {
	f := newAPIFixture(t, RouterConfig{})
	bob, _ := f.store.GetEmployee(context.Background(), "emp-bob")
	bob.Bank = payout.BankDetails{}
	f.store.PutEmployee(*bob)
	p := f.calculate(t)

	rec := f.do(t, http.MethodPost, "/api/payouts/"+p.ID+"/execute", nil)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "missing_payee_details", body.Code)
	assert.Equal(t, []string{"Bob"}, body.Employees)
	assert.Equal(t, 0, f.proc.Calls("create_transfer"))
}

func TestRetryPayout_PendingIsConflict(t *testing.T) {
	f := newAPIFixture(t, RouterConfig{})
	p := f.calculate(t)

	rec := f.do(t, http.MethodPost, "/api/payouts/"+p.ID+"/retry", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelPayout(t *testing.T) {
	f := newAPIFixture(t, RouterConfig{})
	p := f.calculate(t)

	rec := f.do(t, http.MethodDelete, "/api/payouts/"+p.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/payouts/"+p.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// the period is free again
	f.calculate(t)
}

// =============================================================================
// ADMIN
// =============================================================================

type stubRunner struct {
	report *payout.Report
	err    error
}

func (s stubRunner) Run(context.Context) (*payout.Report, error) { return s.report, s.err }

func TestRunAutoPayouts(t *testing.T) {
	f := newAPIFixture(t, RouterConfig{})

	// real runner: venue-1 has auto payouts disabled
	rec := f.do(t, http.MethodPost, "/api/admin/auto-payouts/run", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeBody[AutoPayoutReportDTO](t, rec)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "2025-03-10", report.Date)
	assert.Equal(t, 0, report.Checked)

	f.handler.Runner = stubRunner{err: payout.ErrRunInProgress}
	rec = f.do(t, http.MethodPost, "/api/admin/auto-payouts/run", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	f.handler.Runner = nil
	rec = f.do(t, http.MethodPost, "/api/admin/auto-payouts/run", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func TestBearerAuth(t *testing.T) {
	f := newAPIFixture(t, RouterConfig{OperatorToken: "s3cret"})

	// GIVEN: no credentials
	rec := f.do(t, http.MethodGet, "/api/payouts?venue_id=venue-1", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// health stays open
	rec = f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	for token, want := range map[string]int{"Bearer wrong": http.StatusUnauthorized, "Bearer s3cret": http.StatusOK, "s3cret": http.StatusUnauthorized} {
		req := httptest.NewRequest(http.MethodGet, "/api/payouts?venue_id=venue-1", nil)
		req.Header.Set("Authorization", token)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, token)
	}
}

func TestRequestIDHeader(t *testing.T) {
	f := newAPIFixture(t, RouterConfig{})
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestRateLimit(t *testing.T) {
	f := newAPIFixture(t, RouterConfig{RateLimit: 2, RateLimitWindow: time.Minute})

	codes := make([]int, 0, 3)
	for range 3 {
		codes = append(codes, f.do(t, http.MethodGet, "/healthz", nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

// =============================================================================
// HTTP SERVICE
// =============================================================================

type fakeServer struct {
	stopped chan struct{}
	shut    bool
}

func (s *fakeServer) ListenAndServe() error {
	<-s.stopped
	return http.ErrServerClosed
}

func (s *fakeServer) Shutdown(context.Context) error {
	s.shut = true
	close(s.stopped)
	return nil
}

func TestHTTPService_ShutsDownOnCancel(t *testing.T) {
	srv := &fakeServer{stopped: make(chan struct{})}
	svc := NewHTTPService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
		assert.True(t, srv.shut)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
}

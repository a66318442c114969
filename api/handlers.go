/*
handlers.go - HTTP API handlers for the payout engine

PURPOSE:
  Exposes the payout service to operators. Handles HTTP request/response,
  JSON serialization and validation, and delegates to payout.Service.

ENDPOINTS:
  Payouts:
    POST   /api/payouts                    Calculate a pending payout
    GET    /api/payouts?venue_id=          List a venue's payouts
    GET    /api/payouts/{id}               Payout with distributions
    POST   /api/payouts/{id}/execute       Move money (200, or 207 partial)
    POST   /api/payouts/{id}/retry         Re-attempt failed distributions
    DELETE /api/payouts/{id}               Cancel a pending payout

  Venues:
    GET    /api/venues/{id}/payout-preview Calculation without persisting

  Admin:
    POST   /api/admin/auto-payouts/run     One auto-payout pass

  Scenarios (server.enable_scenarios only):
    GET    /api/scenarios                  List demo scenarios
    GET    /api/scenarios/current          Currently loaded scenario
    POST   /api/scenarios/load             Reset and seed a scenario

ERROR HANDLING:
  Errors are returned as ErrorResponse with:
  - 400: Malformed body, failed validation, bad period
  - 404: Venue or payout not found
  - 409: Payout not pending / not retryable, period overlap, run in progress
  - 422: Nothing to pay, missing bank details, not onboarded, balance too low
  - 207: Some transfers failed; body is the execution result
  - 500: Anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/warp/payout-engine/logging"
	"github.com/warp/payout-engine/payout"
)

// AutoPayoutRunner performs one auto-payout pass on demand.
type AutoPayoutRunner interface {
	Run(ctx context.Context) (*payout.Report, error)
}

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service   *payout.Service
	Runner    AutoPayoutRunner // nil disables the admin run endpoint
	Scenarios *ScenarioLoader  // nil unless scenarios are enabled

	currency string
	validate *validator.Validate
	log      zerolog.Logger
}

// NewHandler creates a handler. currency is reported alongside every amount.
func NewHandler(service *payout.Service, runner AutoPayoutRunner, currency string) *Handler {
	if currency == "" {
		currency = "aud"
	}
	return &Handler{
		Service:  service,
		Runner:   runner,
		currency: currency,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      logging.WithComponent("api"),
	}
}

// =============================================================================
// PAYOUT HANDLERS
// =============================================================================

// CalculatePayout computes and stores a pending payout.
// POST /api/payouts
func (h *Handler) CalculatePayout(w http.ResponseWriter, r *http.Request) {
	var req CalculatePayoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	period, err := parsePeriod(req.PeriodStart, req.PeriodEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}

	p, err := h.Service.CalculatePayout(r.Context(), req.VenueID, period)
	if err != nil {
		h.writeDomainError(w, r, "Failed to calculate payout", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPayoutDTO(*p, h.currency))
}

// ListPayouts returns a venue's payouts, newest period first.
// GET /api/payouts?venue_id=
func (h *Handler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	venueID := r.URL.Query().Get("venue_id")
	if venueID == "" {
		writeError(w, http.StatusBadRequest, "venue_id is required", nil)
		return
	}

	payouts, err := h.Service.ListPayouts(r.Context(), venueID)
	if err != nil {
		h.writeDomainError(w, r, "Failed to list payouts", err)
		return
	}
	dtos := make([]PayoutDTO, 0, len(payouts))
	for _, p := range payouts {
		dtos = append(dtos, toPayoutDTO(p, h.currency))
	}
	writeJSON(w, http.StatusOK, map[string]any{"payouts": dtos})
}

// GetPayout returns one payout with its distributions.
// GET /api/payouts/{id}
func (h *Handler) GetPayout(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.GetPayout(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, "Failed to get payout", err)
		return
	}
	writeJSON(w, http.StatusOK, toPayoutDTO(*p, h.currency))
}

// ExecutePayout moves money for a pending payout.
// POST /api/payouts/{id}/execute
func (h *Handler) ExecutePayout(w http.ResponseWriter, r *http.Request) {
	result, err := h.Service.ExecutePayout(r.Context(), chi.URLParam(r, "id"))
	h.writeExecution(w, r, result, err)
}

// RetryPayout re-attempts the failed distributions of a payout.
// POST /api/payouts/{id}/retry
func (h *Handler) RetryPayout(w http.ResponseWriter, r *http.Request) {
	result, err := h.Service.RetryPayout(r.Context(), chi.URLParam(r, "id"))
	h.writeExecution(w, r, result, err)
}

func (h *Handler) writeExecution(w http.ResponseWriter, r *http.Request, result *payout.ExecutionResult, err error) {
	var partial *payout.PartialFailureError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, toExecutionDTO(result, h.currency))
	case errors.As(err, &partial) && result != nil:
		dto := toExecutionDTO(result, h.currency)
		dto.Error = err.Error()
		writeJSON(w, http.StatusMultiStatus, dto)
	default:
		h.writeDomainError(w, r, "Failed to execute payout", err)
	}
}

// CancelPayout deletes a payout that has not started executing.
// DELETE /api/payouts/{id}
func (h *Handler) CancelPayout(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.CancelPayout(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, r, "Failed to cancel payout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// VENUE HANDLERS
// =============================================================================

// PreviewPayout runs the calculation without storing a payout.
// GET /api/venues/{id}/payout-preview?period_start=&period_end=
func (h *Handler) PreviewPayout(w http.ResponseWriter, r *http.Request) {
	q := PreviewQuery{
		PeriodStart: r.URL.Query().Get("period_start"),
		PeriodEnd:   r.URL.Query().Get("period_end"),
	}
	if err := h.validate.Struct(q); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}
	period, err := parsePeriod(q.PeriodStart, q.PeriodEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}

	venueID := chi.URLParam(r, "id")
	calc, err := h.Service.Preview(r.Context(), venueID, period)
	if err != nil {
		h.writeDomainError(w, r, "Failed to preview payout", err)
		return
	}
	writeJSON(w, http.StatusOK, toPreviewDTO(venueID, calc, h.currency))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RunAutoPayouts performs one auto-payout pass and returns its report.
// POST /api/admin/auto-payouts/run
func (h *Handler) RunAutoPayouts(w http.ResponseWriter, r *http.Request) {
	if h.Runner == nil {
		writeError(w, http.StatusServiceUnavailable, "Auto-payout runner not configured", nil)
		return
	}
	report, err := h.Runner.Run(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "Failed to run auto-payouts", err)
		return
	}
	writeJSON(w, http.StatusOK, NewReportDTO(report))
}

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON body. It writes the 400 itself.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// writeDomainError maps payout errors to HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	var (
		missing      *payout.MissingPayeeDetailsError
		insufficient *payout.InsufficientBalanceError
	)
	resp := ErrorResponse{Error: message, Details: err.Error()}
	status := http.StatusInternalServerError

	switch {
	case payout.IsNotFound(err):
		status, resp.Code = http.StatusNotFound, "not_found"
	case errors.As(err, &missing):
		status, resp.Code = http.StatusUnprocessableEntity, "missing_payee_details"
		resp.Employees = missing.Employees
	case errors.As(err, &insufficient):
		status, resp.Code = http.StatusUnprocessableEntity, "insufficient_platform_balance"
	case payout.IsClientError(err):
		status, resp.Code = http.StatusUnprocessableEntity, "unprocessable"
	case payout.IsConflict(err), errors.Is(err, payout.ErrRunInProgress):
		status, resp.Code = http.StatusConflict, "conflict"
	default:
		resp.Code = "internal"
		logging.Ctx(r.Context(), h.log).Error().Err(err).Str("path", r.URL.Path).Msg(message)
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

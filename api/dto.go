/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures of the operator API. They decouple the payout domain model
  from the wire contract: amounts are integer minor units plus a currency,
  dates are YYYY-MM-DD, instants are RFC 3339 UTC.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator tags. Handlers call
  validate.Struct before touching the domain.

SEE ALSO:
  - handlers.go: Uses these types
  - payout/types.go: Domain model
*/
package api

import (
	"time"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/payout"
)

// =============================================================================
// REQUESTS
// =============================================================================

// CalculatePayoutRequest asks for a pending payout over an inclusive period.
type CalculatePayoutRequest struct {
	VenueID     string `json:"venue_id" validate:"required"`
	PeriodStart string `json:"period_start" validate:"required,datetime=2006-01-02"`
	PeriodEnd   string `json:"period_end" validate:"required,datetime=2006-01-02"`
}

// PreviewQuery holds the query parameters of the preview endpoint.
type PreviewQuery struct {
	PeriodStart string `validate:"required,datetime=2006-01-02"`
	PeriodEnd   string `validate:"required,datetime=2006-01-02"`
}

// LoadScenarioRequest selects a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// PAYOUTS
// =============================================================================

type DistributionDTO struct {
	ID              string `json:"id"`
	EmployeeID      string `json:"employee_id"`
	EmployeeName    string `json:"employee_name"`
	Amount          int64  `json:"amount"`
	DaysActive      int    `json:"days_active"`
	TotalPeriodDays int    `json:"total_period_days"`
	IsProrated      bool   `json:"is_prorated"`
	Status          string `json:"status"`
	TransferRef     string `json:"transfer_ref,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`
	Attempts        int    `json:"attempts"`
}

type PayoutDTO struct {
	ID            string            `json:"id"`
	VenueID       string            `json:"venue_id"`
	PeriodStart   string            `json:"period_start"`
	PeriodEnd     string            `json:"period_end"`
	TotalAmount   int64             `json:"total_amount"`
	PlatformFee   int64             `json:"platform_fee"`
	NetAmount     int64             `json:"net_amount"`
	Currency      string            `json:"currency"`
	Status        string            `json:"status"`
	ProcessedAt   *string           `json:"processed_at"`
	CreatedAt     string            `json:"created_at"`
	Distributions []DistributionDTO `json:"distributions"`
}

// PreviewDTO is a calculation that was not stored.
type PreviewDTO struct {
	VenueID     string     `json:"venue_id"`
	PeriodStart string     `json:"period_start"`
	PeriodEnd   string     `json:"period_end"`
	TotalAmount int64      `json:"total_amount"`
	PlatformFee int64      `json:"platform_fee"`
	NetAmount   int64      `json:"net_amount"`
	Currency    string     `json:"currency"`
	TipCount    int        `json:"tip_count"`
	Shares      []ShareDTO `json:"shares"`
}

type ShareDTO struct {
	EmployeeID      string `json:"employee_id"`
	EmployeeName    string `json:"employee_name"`
	Amount          int64  `json:"amount"`
	DaysActive      int    `json:"days_active"`
	TotalPeriodDays int    `json:"total_period_days"`
	IsProrated      bool   `json:"is_prorated"`
}

// =============================================================================
// EXECUTION
// =============================================================================

type TransferResultDTO struct {
	EmployeeID          string `json:"employee_id"`
	EmployeeName        string `json:"employee_name"`
	Amount              int64  `json:"amount"`
	Status              string `json:"status"`
	TransferRef         string `json:"transfer_ref,omitempty"`
	Error               string `json:"error,omitempty"`
	PreviouslyCompleted bool   `json:"previously_completed,omitempty"`
}

type RecollectionDTO struct {
	Reversed int   `json:"reversed"`
	Skipped  int   `json:"skipped"`
	Failed   int   `json:"failed"`
	Amount   int64 `json:"amount"`
}

// ExecutionDTO is returned by execute and retry. Error is set on 207.
type ExecutionDTO struct {
	Payout       PayoutDTO               `json:"payout"`
	Summary      payout.ExecutionSummary `json:"summary"`
	Results      []TransferResultDTO     `json:"results"`
	Recollection RecollectionDTO         `json:"recollection"`
	Error        string                  `json:"error,omitempty"`
}

// =============================================================================
// AUTO-PAYOUT
// =============================================================================

type VenueOutcomeDTO struct {
	VenueID     string `json:"venue_id"`
	VenueName   string `json:"venue_name"`
	Result      string `json:"result"`
	Reason      string `json:"reason,omitempty"`
	PayoutID    string `json:"payout_id,omitempty"`
	PeriodStart string `json:"period_start,omitempty"`
	PeriodEnd   string `json:"period_end,omitempty"`
}

type AutoPayoutReportDTO struct {
	RunID           string            `json:"run_id"`
	Date            string            `json:"date"`
	StartedAt       string            `json:"started_at"`
	FinishedAt      string            `json:"finished_at"`
	Checked         int               `json:"checked"`
	Due             int               `json:"due"`
	Completed       int               `json:"completed"`
	PartialFailures int               `json:"partial_failures"`
	Failed          int               `json:"failed"`
	Skipped         int               `json:"skipped"`
	Venues          []VenueOutcomeDTO `json:"venues"`
}

// =============================================================================
// MISC
// =============================================================================

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string   `json:"error"`
	Code      string   `json:"code,omitempty"`
	Details   string   `json:"details,omitempty"`
	Employees []string `json:"employees,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func formatInstant(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func toDistributionDTO(d payout.Distribution) DistributionDTO {
	return DistributionDTO{
		ID:              d.ID,
		EmployeeID:      d.EmployeeID,
		EmployeeName:    d.EmployeeName,
		Amount:          d.Amount.Int64(),
		DaysActive:      d.DaysActive,
		TotalPeriodDays: d.TotalPeriodDays,
		IsProrated:      d.IsProrated,
		Status:          string(d.Status),
		TransferRef:     d.TransferRef,
		ErrorMessage:    d.ErrorMessage,
		Attempts:        d.Attempts,
	}
}

func toPayoutDTO(p payout.Payout, currency string) PayoutDTO {
	dto := PayoutDTO{
		ID:            p.ID,
		VenueID:       p.VenueID,
		PeriodStart:   p.Period.Start.String(),
		PeriodEnd:     p.Period.End.String(),
		TotalAmount:   p.TotalAmount.Int64(),
		PlatformFee:   p.PlatformFee.Int64(),
		NetAmount:     p.NetAmount.Int64(),
		Currency:      currency,
		Status:        string(p.Status),
		CreatedAt:     formatInstant(p.CreatedAt),
		Distributions: make([]DistributionDTO, 0, len(p.Distributions)),
	}
	if p.ProcessedAt != nil {
		s := formatInstant(*p.ProcessedAt)
		dto.ProcessedAt = &s
	}
	for _, d := range p.Distributions {
		dto.Distributions = append(dto.Distributions, toDistributionDTO(d))
	}
	return dto
}

func toPreviewDTO(venueID string, c *payout.Calculation, currency string) PreviewDTO {
	dto := PreviewDTO{
		VenueID:     venueID,
		PeriodStart: c.Period.Start.String(),
		PeriodEnd:   c.Period.End.String(),
		TotalAmount: c.TotalAmount.Int64(),
		PlatformFee: c.PlatformFee.Int64(),
		NetAmount:   c.NetAmount.Int64(),
		Currency:    currency,
		TipCount:    c.TipCount,
		Shares:      make([]ShareDTO, 0, len(c.Shares)),
	}
	for _, s := range c.Shares {
		dto.Shares = append(dto.Shares, ShareDTO{
			EmployeeID:      s.EmployeeID,
			EmployeeName:    s.EmployeeName,
			Amount:          s.Amount.Int64(),
			DaysActive:      s.DaysActive,
			TotalPeriodDays: s.TotalPeriodDays,
			IsProrated:      s.IsProrated,
		})
	}
	return dto
}

func toExecutionDTO(r *payout.ExecutionResult, currency string) ExecutionDTO {
	dto := ExecutionDTO{
		Payout:  toPayoutDTO(*r.Payout, currency),
		Summary: r.Summary,
		Results: make([]TransferResultDTO, 0, len(r.Results)),
		Recollection: RecollectionDTO{
			Reversed: r.Recollection.Reversed,
			Skipped:  r.Recollection.Skipped,
			Failed:   r.Recollection.Failed,
			Amount:   r.Recollection.Amount.Int64(),
		},
	}
	for _, res := range r.Results {
		dto.Results = append(dto.Results, TransferResultDTO{
			EmployeeID:          res.EmployeeID,
			EmployeeName:        res.EmployeeName,
			Amount:              res.Amount,
			Status:              string(res.Status),
			TransferRef:         res.TransferRef,
			Error:               res.Error,
			PreviouslyCompleted: res.PreviouslyCompleted,
		})
	}
	return dto
}

// NewReportDTO converts a scheduler report for JSON output.
func NewReportDTO(r *payout.Report) AutoPayoutReportDTO {
	dto := AutoPayoutReportDTO{
		RunID:           r.RunID,
		Date:            r.Date.String(),
		StartedAt:       formatInstant(r.StartedAt),
		FinishedAt:      formatInstant(r.FinishedAt),
		Checked:         r.Checked,
		Due:             r.Due,
		Completed:       r.Completed,
		PartialFailures: r.PartialFailures,
		Failed:          r.Failed,
		Skipped:         r.Skipped,
		Venues:          make([]VenueOutcomeDTO, 0, len(r.Venues)),
	}
	for _, v := range r.Venues {
		o := VenueOutcomeDTO{
			VenueID:   v.VenueID,
			VenueName: v.VenueName,
			Result:    string(v.Result),
			Reason:    v.Reason,
			PayoutID:  v.PayoutID,
		}
		if v.Period != nil {
			o.PeriodStart = v.Period.Start.String()
			o.PeriodEnd = v.Period.End.String()
		}
		dto.Venues = append(dto.Venues, o)
	}
	return dto
}

// parsePeriod builds a validated period from two YYYY-MM-DD strings.
func parsePeriod(start, end string) (generic.Period, error) {
	s, err := generic.ParseDate(start)
	if err != nil {
		return generic.Period{}, err
	}
	e, err := generic.ParseDate(end)
	if err != nil {
		return generic.Period{}, err
	}
	return generic.NewPeriod(s, e)
}

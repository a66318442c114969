/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Pre-built data sets that populate the store with a venue, its staff and
  last week's tips, so every payout path can be exercised by hand. Dates are
  relative to today, so a scenario loaded on any day has a payable week.

AVAILABLE SCENARIOS:
  weekly-prorated:      Two full-week staff plus a mid-week starter
  partial-failure:      One payee account rejects transfers
  missing-bank-details: Execution is refused before any money moves
  auto-payout-due:      Auto payouts enabled and due today

HOW SCENARIOS WORK:
  1. Reset the store (clear all data)
  2. Save venue, employees and tips
  3. With the memory processor: seed the tip transfers into the venue's
     collection account, fund the platform balance, inject failures

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "partial-failure"}

NOTE:
  Scenarios reset the store. Only enabled with server.enable_scenarios,
  which config refuses for the live processor.

SEE ALSO:
  - handlers.go: Route table
  - processor/memory.go: Seeding and failure injection
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/logging"
	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/processor"
)

// ErrUnknownScenario is returned for an id not in the catalogue.
var ErrUnknownScenario = errors.New("unknown scenario")

// ScenarioStore is the write side the loader needs. Both stores implement it.
type ScenarioStore interface {
	Reset(ctx context.Context) error
	SaveVenue(ctx context.Context, v payout.Venue) error
	SaveEmployee(ctx context.Context, e payout.Employee) error
	SaveTip(ctx context.Context, t payout.Tip) error
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "weekly-prorated",
		Name:        "Weekly Prorated",
		Description: "Two staff all week and one who started Friday; last week's pool split by days active",
	},
	{
		ID:          "partial-failure",
		Name:        "Partial Failure",
		Description: "One payee account rejects transfers; execution ends partially completed and can be retried",
	},
	{
		ID:          "missing-bank-details",
		Name:        "Missing Bank Details",
		Description: "One employee has no bank details; execution is refused before any transfer",
	},
	{
		ID:          "auto-payout-due",
		Name:        "Auto-Payout Due",
		Description: "Weekly auto payouts enabled with today as the payout day",
	},
}

// scenarioData is what one scenario writes.
type scenarioData struct {
	venues    []payout.Venue
	employees []payout.Employee
	tips      []seedTip
	balance   generic.Amount
	failing   []string // payee accounts whose transfers are rejected
}

type seedTip struct {
	payout.Tip
	forwarded bool // create the auto-forward transfer in the memory processor
}

// =============================================================================
// LOADER
// =============================================================================

// ScenarioLoader resets the store and seeds a scenario.
type ScenarioLoader struct {
	store    ScenarioStore
	mem      *processor.Memory // nil unless the memory processor is in use
	clock    generic.Clock
	currency string

	mu      sync.Mutex
	current string
	log     zerolog.Logger
}

// NewScenarioLoader creates a loader. Processor seeding only happens when
// client is the in-memory processor.
func NewScenarioLoader(store ScenarioStore, client processor.Client, currency string) *ScenarioLoader {
	mem, _ := client.(*processor.Memory)
	if currency == "" {
		currency = "aud"
	}
	return &ScenarioLoader{
		store:    store,
		mem:      mem,
		clock:    generic.SystemClock{},
		currency: currency,
		log:      logging.WithComponent("scenarios"),
	}
}

// Current returns the loaded scenario, or nil.
func (l *ScenarioLoader) Current() *ScenarioDTO {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range scenarios {
		if s.ID == l.current {
			return &s
		}
	}
	return nil
}

// Load resets the store and writes the scenario's data.
func (l *ScenarioLoader) Load(ctx context.Context, id string) (*ScenarioDTO, error) {
	var desc *ScenarioDTO
	for _, s := range scenarios {
		if s.ID == id {
			desc = &s
			break
		}
	}
	if desc == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScenario, id)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	data := l.build(id, generic.Today(l.clock))
	if err := l.store.Reset(ctx); err != nil {
		return nil, fmt.Errorf("reset store: %w", err)
	}
	if err := l.write(ctx, data); err != nil {
		return nil, err
	}
	l.current = id
	logging.Ctx(ctx, l.log).Info().
		Str("scenario", id).
		Int("venues", len(data.venues)).
		Int("employees", len(data.employees)).
		Int("tips", len(data.tips)).
		Bool("processor_seeded", l.mem != nil).
		Msg("scenario loaded")
	return desc, nil
}

func (l *ScenarioLoader) write(ctx context.Context, data scenarioData) error {
	collection := make(map[string]string, len(data.venues))
	for _, v := range data.venues {
		if err := l.store.SaveVenue(ctx, v); err != nil {
			return fmt.Errorf("save venue %s: %w", v.ID, err)
		}
		collection[v.ID] = v.CollectionAccountRef
	}
	for _, e := range data.employees {
		if err := l.store.SaveEmployee(ctx, e); err != nil {
			return fmt.Errorf("save employee %s: %w", e.ID, err)
		}
	}
	for _, st := range data.tips {
		tip := st.Tip
		if st.forwarded && l.mem != nil {
			tip.TransferRef = l.mem.SeedTransfer(collection[tip.VenueID], tip.Amount, tip.Currency)
		}
		if err := l.store.SaveTip(ctx, tip); err != nil {
			return fmt.Errorf("save tip %s: %w", tip.ID, err)
		}
	}

	if l.mem != nil {
		l.mem.SetBalance(l.currency, data.balance)
		for _, acct := range data.failing {
			l.mem.FailTransfersTo(acct, &processor.APIError{
				StatusCode: http.StatusBadRequest,
				Code:       "account_closed",
				Message:    "The destination account is closed",
			})
		}
	}
	return nil
}

// build returns the data for id. Every scenario pays the last full
// Monday-Sunday week before today.
func (l *ScenarioLoader) build(id string, today generic.TimePoint) scenarioData {
	monday := lastWeekMonday(today)
	longAgo := at(today.AddDays(-90), 9)
	b := scenarioBuilder{currency: l.currency}

	switch id {
	case "weekly-prorated":
		v := b.venue("venue-harbour", "Harbour Bar", "acct_harbour")
		b.employee(v, "emp-ava", "Ava Thompson", longAgo, true)
		b.employee(v, "emp-ben", "Ben Okafor", longAgo, true)
		b.employee(v, "emp-cleo", "Cleo Martin", at(monday.AddDays(4), 10), true)
		b.week(v, monday, 4200)
		b.tip(v, "tip-harbour-pending", 1500, payout.TipPending, at(monday.AddDays(2), 21))
		b.tip(v, "tip-harbour-refunded", 900, payout.TipRefunded, at(monday.AddDays(3), 21))
		b.data.balance = 100000

	case "partial-failure":
		v := b.venue("venue-laneway", "Laneway Espresso", "acct_laneway")
		b.employee(v, "emp-dana", "Dana Lee", longAgo, true)
		eli := b.employee(v, "emp-eli", "Eli Novak", longAgo, true)
		eli.PayeeID = "acct_scn_eli"
		b.week(v, monday, 2500)
		b.data.failing = []string{eli.PayeeID}
		b.data.balance = 100000

	case "missing-bank-details":
		v := b.venue("venue-dockside", "Dockside Diner", "acct_dockside")
		b.employee(v, "emp-gia", "Gia Russo", longAgo, true)
		b.employee(v, "emp-finn", "Finn Walsh", longAgo, false)
		b.week(v, monday, 3100)
		b.data.balance = 100000

	case "auto-payout-due":
		v := b.venue("venue-rooftop", "Rooftop Garden", "acct_rooftop")
		v.AutoPayoutEnabled = true
		v.PayoutFrequency = payout.FrequencyWeekly
		v.PayoutDay = int(today.Weekday())
		b.employee(v, "emp-hana", "Hana Sato", longAgo, true)
		b.employee(v, "emp-ivan", "Ivan Petrov", at(monday.AddDays(2), 8), true)
		b.week(v, monday, 5000)
		b.data.balance = 100000
	}
	b.flush()
	return b.data
}

// lastWeekMonday returns the Monday of the last full week before today.
func lastWeekMonday(today generic.TimePoint) generic.TimePoint {
	sinceMonday := (int(today.Weekday()) + 6) % 7
	return today.AddDays(-sinceMonday - 7)
}

func at(day generic.TimePoint, hour int) time.Time {
	return day.StartOfDay().Add(time.Duration(hour) * time.Hour)
}

// scenarioBuilder accumulates scenario rows. Venues and employees are held by
// pointer so a scenario can adjust them before flush.
type scenarioBuilder struct {
	currency string
	data     scenarioData
	venues   []*payout.Venue
	staff    []*payout.Employee
}

func (b *scenarioBuilder) venue(id, name, collection string) *payout.Venue {
	v := &payout.Venue{ID: id, Name: name, CollectionAccountRef: collection}
	b.venues = append(b.venues, v)
	return v
}

func (b *scenarioBuilder) employee(v *payout.Venue, id, name string, activated time.Time, bank bool) *payout.Employee {
	e := &payout.Employee{
		ID:          id,
		VenueID:     v.ID,
		Name:        name,
		Email:       id + "@example.com",
		ActivatedAt: &activated,
		IsActive:    true,
	}
	if bank {
		e.Bank = payout.BankDetails{RoutingCode: "062-000", AccountNumber: "1234" + id[len(id)-2:], AccountName: name}
	}
	b.staff = append(b.staff, e)
	return e
}

// week adds one forwarded tip per evening of the week starting monday.
func (b *scenarioBuilder) week(v *payout.Venue, monday generic.TimePoint, base int64) {
	for i := range 7 {
		amount := generic.Amount(base + int64(i)*250)
		b.tip(v, fmt.Sprintf("tip-%s-%d", v.ID, i), amount, payout.TipSucceeded, at(monday.AddDays(i), 20))
	}
}

func (b *scenarioBuilder) tip(v *payout.Venue, id string, amount generic.Amount, status payout.TipStatus, created time.Time) {
	b.data.tips = append(b.data.tips, seedTip{
		Tip: payout.Tip{
			ID:         id,
			VenueID:    v.ID,
			Amount:     amount,
			Currency:   b.currency,
			Status:     status,
			PaymentRef: "pi_" + id,
			CreatedAt:  created,
		},
		forwarded: status == payout.TipSucceeded,
	})
}

// flush copies the venues and employees into data.
func (b *scenarioBuilder) flush() {
	for _, v := range b.venues {
		b.data.venues = append(b.data.venues, *v)
	}
	for _, e := range b.staff {
		b.data.employees = append(b.data.employees, *e)
	}
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Scenarios.Current())
}

// LoadScenario resets the store and seeds a scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	s, err := h.Scenarios.Load(r.Context(), req.ScenarioID)
	if errors.Is(err, ErrUnknownScenario) {
		writeError(w, http.StatusNotFound, "Unknown scenario", err)
		return
	}
	if err != nil {
		h.writeDomainError(w, r, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "loaded", "scenario": s})
}

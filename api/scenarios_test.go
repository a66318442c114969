package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/processor"
	"github.com/warp/payout-engine/store/memory"
	"github.com/warp/payout-engine/store/sqlite"
)

var _ ScenarioStore = (*sqlite.Store)(nil)

// Wednesday 2025-03-12: every scenario pays the week of 2025-03-03.
var scenarioNow = mustTime("2025-03-12T03:00:00Z")

type scenarioFixture struct {
	store   *memory.Store
	proc    *processor.Memory
	loader  *ScenarioLoader
	service *payout.Service
}

func newScenarioFixture(t *testing.T) *scenarioFixture {
	t.Helper()
	f := &scenarioFixture{store: memory.New(), proc: processor.NewMemory(processor.EnvironmentMemory)}
	f.loader = NewScenarioLoader(f.store, f.proc, "aud")
	f.loader.clock = generic.FixedClock{At: scenarioNow}
	f.service = payout.NewService(f.store, f.proc, payout.Options{
		Clock:                  generic.FixedClock{At: scenarioNow},
		MaxConcurrentTransfers: 2,
	})
	return f
}

func (f *scenarioFixture) load(t *testing.T, id string) string {
	t.Helper()
	_, err := f.loader.Load(context.Background(), id)
	require.NoError(t, err)

	venues := map[string]string{
		"weekly-prorated":      "venue-harbour",
		"partial-failure":      "venue-laneway",
		"missing-bank-details": "venue-dockside",
		"auto-payout-due":      "venue-rooftop",
	}
	return venues[id]
}

func lastWeek() generic.Period {
	return generic.Period{Start: generic.MustParseDate("2025-03-03"), End: generic.MustParseDate("2025-03-09")}
}

func TestLastWeekMonday(t *testing.T) {
	tests := map[string]string{
		"2025-03-10": "2025-03-03", // Monday
		"2025-03-12": "2025-03-03",
		"2025-03-16": "2025-03-03", // Sunday
		"2025-03-17": "2025-03-10",
	}
	for today, want := range tests {
		assert.Equal(t, want, lastWeekMonday(generic.MustParseDate(today)).String(), today)
	}
}

func TestScenario_WeeklyProrated(t *testing.T) {
	f := newScenarioFixture(t)
	venueID := f.load(t, "weekly-prorated")
	ctx := context.Background()

	// WHEN
	p, err := f.service.CalculatePayout(ctx, venueID, lastWeek())
	require.NoError(t, err)

	// THEN: pending and refunded tips are excluded, Cleo is prorated
	assert.Equal(t, generic.Amount(7*4200+250*(0+1+2+3+4+5+6)), p.TotalAmount)
	require.Len(t, p.Distributions, 3)
	cleo := p.Distributions[2]
	assert.Equal(t, "emp-cleo", cleo.EmployeeID)
	assert.Equal(t, 3, cleo.DaysActive)
	assert.True(t, cleo.IsProrated)

	res, err := f.service.ExecutePayout(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, payout.StatusCompleted, res.Payout.Status)
	assert.Equal(t, 7, res.Recollection.Reversed)
}

func TestScenario_PartialFailure(t *testing.T) {
	f := newScenarioFixture(t)
	venueID := f.load(t, "partial-failure")
	ctx := context.Background()

	p, err := f.service.CalculatePayout(ctx, venueID, lastWeek())
	require.NoError(t, err)

	res, err := f.service.ExecutePayout(ctx, p.ID)
	var partial *payout.PartialFailureError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, payout.StatusPartiallyCompleted, res.Payout.Status)
	require.Len(t, partial.Failures, 1)
	assert.Equal(t, "emp-eli", partial.Failures[0].EmployeeID)
}

func TestScenario_MissingBankDetails(t *testing.T) {
	f := newScenarioFixture(t)
	venueID := f.load(t, "missing-bank-details")
	ctx := context.Background()

	p, err := f.service.CalculatePayout(ctx, venueID, lastWeek())
	require.NoError(t, err)

	_, err = f.service.ExecutePayout(ctx, p.ID)
	var missing *payout.MissingPayeeDetailsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"Finn Walsh"}, missing.Employees)
	assert.Equal(t, 0, f.proc.Calls("create_transfer"))
}

func TestScenario_AutoPayoutDue(t *testing.T) {
	f := newScenarioFixture(t)
	venueID := f.load(t, "auto-payout-due")
	runner := payout.NewAutoPayout(f.store, f.service, payout.AutoPayoutOptions{
		Clock:        generic.FixedClock{At: scenarioNow},
		VenueTimeout: time.Minute,
	})

	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Due)
	assert.Equal(t, 1, report.Completed)
	require.Len(t, report.Venues, 1)
	assert.Equal(t, venueID, report.Venues[0].VenueID)
}

func TestScenario_LoadResetsAndRejectsUnknown(t *testing.T) {
	f := newScenarioFixture(t)
	ctx := context.Background()
	f.load(t, "weekly-prorated")
	f.load(t, "partial-failure")

	v, err := f.store.GetVenue(ctx, "venue-harbour")
	require.NoError(t, err)
	assert.Nil(t, v, "previous scenario cleared")
	assert.Equal(t, "partial-failure", f.loader.Current().ID)

	_, err = f.loader.Load(ctx, "black-friday")
	assert.True(t, errors.Is(err, ErrUnknownScenario))
	assert.Equal(t, "partial-failure", f.loader.Current().ID)
}

func TestScenarioRoutes(t *testing.T) {
	f := newAPIFixture(t, RouterConfig{})

	// GIVEN: scenarios disabled
	rec := f.do(t, http.MethodGet, "/api/scenarios", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// WHEN: enabled
	f.handler.Scenarios = NewScenarioLoader(f.store, f.proc, "aud")
	f.router = NewRouter(f.handler, RouterConfig{})

	rec = f.do(t, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]ScenarioDTO](t, rec), len(scenarios))

	rec = f.do(t, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))

	rec = f.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "missing-bank-details"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "missing-bank-details", decodeBody[ScenarioDTO](t, rec).ID)

	rec = f.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/scenarios/load", strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

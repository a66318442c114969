package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/payout"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func ptr[T any](v T) *T { return &v }

func week() generic.Period {
	return generic.Period{
		Start: generic.MustParseDate("2025-03-03"),
		End:   generic.MustParseDate("2025-03-09"),
	}
}

func seedPayout(t *testing.T, s *Store, id string, period generic.Period) *payout.Payout {
	t.Helper()
	ctx := context.Background()
	p := &payout.Payout{
		ID:          id,
		VenueID:     "venue-1",
		Period:      period,
		TotalAmount: 10000,
		PlatformFee: 500,
		NetAmount:   9500,
		Status:      payout.StatusPending,
		CreatedAt:   at("2025-03-10T09:00:00Z"),
	}
	require.NoError(t, s.CreatePayout(ctx, p))
	require.NoError(t, s.CreateDistributions(ctx, []payout.Distribution{
		{ID: id + "-b", PayoutID: id, EmployeeID: "emp-bob", EmployeeName: "Bob", Amount: 2850,
			DaysActive: 3, TotalPeriodDays: 7, IsProrated: true, Status: payout.DistributionPending},
		{ID: id + "-a", PayoutID: id, EmployeeID: "emp-alice", EmployeeName: "Alice", Amount: 6650,
			DaysActive: 7, TotalPeriodDays: 7, Status: payout.DistributionPending},
	}))
	return p
}

// =============================================================================
// VENUES & EMPLOYEES
// =============================================================================

func TestVenue_RoundTripAndAutoList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveVenue(ctx, payout.Venue{ID: "v2", Name: "Manual", CollectionAccountRef: "acct_2"}))
	require.NoError(t, s.SaveVenue(ctx, payout.Venue{
		ID: "v1", Name: "Harbour Bar", CollectionAccountRef: "acct_1",
		AutoPayoutEnabled: true, PayoutFrequency: payout.FrequencyWeekly, PayoutDay: 1,
	}))

	v, err := s.GetVenue(ctx, "v1")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "Harbour Bar", v.Name)
	assert.True(t, v.Onboarded())
	assert.Nil(t, v.LastAutoPayoutAt)

	auto, err := s.ListAutoPayoutVenues(ctx)
	require.NoError(t, err)
	require.Len(t, auto, 1)
	assert.Equal(t, "v1", auto[0].ID)

	missing, err := s.GetVenue(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAdvanceAutoPayoutCursor_CompareAndSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveVenue(ctx, payout.Venue{ID: "v1", Name: "Bar", AutoPayoutEnabled: true}))

	// GIVEN: a venue that never ran
	first := at("2025-03-10T02:00:00Z")

	// WHEN: advancing from nil
	require.NoError(t, s.AdvanceAutoPayoutCursor(ctx, "v1", nil, first))

	// THEN: a second writer still expecting nil loses
	err := s.AdvanceAutoPayoutCursor(ctx, "v1", nil, first.Add(time.Hour))
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)

	// AND: the winner's value can be advanced by whoever read it
	require.NoError(t, s.AdvanceAutoPayoutCursor(ctx, "v1", &first, first.AddDate(0, 0, 7)))
	v, err := s.GetVenue(ctx, "v1")
	require.NoError(t, err)
	require.NotNil(t, v.LastAutoPayoutAt)
	assert.True(t, v.LastAutoPayoutAt.Equal(first.AddDate(0, 0, 7)))

	err = s.AdvanceAutoPayoutCursor(ctx, "missing", nil, first)
	assert.ErrorIs(t, err, generic.ErrEntityNotFound)
}

func TestEmployee_SetPayeeIDOnlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveEmployee(ctx, payout.Employee{
		ID: "emp-alice", VenueID: "v1", Name: "Alice Nguyen", Email: "alice@example.com",
		Bank:        payout.BankDetails{RoutingCode: "062-000", AccountNumber: "12345678", AccountName: "A Nguyen"},
		ActivatedAt: ptr(at("2025-01-01T00:00:00Z")), IsActive: true,
	}))

	stored, err := s.SetPayeeID(ctx, "emp-alice", "acct_1")
	require.NoError(t, err)
	assert.Equal(t, "acct_1", stored)

	stored, err = s.SetPayeeID(ctx, "emp-alice", "acct_2")
	require.NoError(t, err)
	assert.Equal(t, "acct_1", stored, "existing identity wins")

	e, err := s.GetEmployee(ctx, "emp-alice")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "acct_1", e.PayeeID)
	assert.True(t, e.Bank.Complete())
	assert.Nil(t, e.DeactivatedAt)

	_, err = s.SetPayeeID(ctx, "ghost", "acct_3")
	assert.ErrorIs(t, err, generic.ErrEntityNotFound)
}

// =============================================================================
// TIPS
// =============================================================================

func TestSettledTips_PeriodBoundsAndStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tips := []payout.Tip{
		{ID: "before", CreatedAt: at("2025-03-02T23:59:59Z"), Status: payout.TipSucceeded},
		{ID: "first", CreatedAt: at("2025-03-03T00:00:00Z"), Status: payout.TipSucceeded},
		{ID: "last", CreatedAt: at("2025-03-09T23:59:59.999Z"), Status: payout.TipSucceeded},
		{ID: "after", CreatedAt: at("2025-03-10T00:00:00Z"), Status: payout.TipSucceeded},
		{ID: "refunded", CreatedAt: at("2025-03-05T12:00:00Z"), Status: payout.TipRefunded},
		{ID: "pending", CreatedAt: at("2025-03-05T12:00:00Z"), Status: payout.TipPending},
	}
	for _, tip := range tips {
		tip.VenueID = "v1"
		tip.Amount = 1000
		require.NoError(t, s.SaveTip(ctx, tip))
	}
	require.NoError(t, s.SaveTip(ctx, payout.Tip{ID: "other-venue", VenueID: "v2", Amount: 1000,
		Status: payout.TipSucceeded, CreatedAt: at("2025-03-05T12:00:00Z")}))

	got, err := s.SettledTips(ctx, "v1", week())
	require.NoError(t, err)

	var ids []string
	for _, tip := range got {
		ids = append(ids, tip.ID)
	}
	assert.Equal(t, []string{"first", "last"}, ids)
	assert.Equal(t, "aud", got[0].Currency)
}

// =============================================================================
// PAYOUTS
// =============================================================================

func TestPayout_CreateGetOrdersDistributions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPayout(t, s, "p1", week())

	p, err := s.GetPayout(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, week(), p.Period)
	assert.Equal(t, generic.Amount(9500), p.NetAmount)
	assert.Nil(t, p.ProcessedAt)
	require.Len(t, p.Distributions, 2)
	assert.Equal(t, "emp-alice", p.Distributions[0].EmployeeID)
	assert.Equal(t, "emp-bob", p.Distributions[1].EmployeeID)
	assert.True(t, p.Distributions[1].IsProrated)

	missing, err := s.GetPayout(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCreateDistributions_AllOrNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreatePayout(ctx, &payout.Payout{
		ID: "p1", VenueID: "v1", Period: week(), TotalAmount: 100, PlatformFee: 5, NetAmount: 95,
		Status: payout.StatusPending, CreatedAt: at("2025-03-10T09:00:00Z"),
	}))

	// GIVEN: a batch whose second row violates the days_active bound
	err := s.CreateDistributions(ctx, []payout.Distribution{
		{ID: "d1", PayoutID: "p1", EmployeeID: "e1", Amount: 50, DaysActive: 7, TotalPeriodDays: 7, Status: payout.DistributionPending},
		{ID: "d2", PayoutID: "p1", EmployeeID: "e2", Amount: 45, DaysActive: 0, TotalPeriodDays: 7, Status: payout.DistributionPending},
	})

	// THEN: nothing from the batch was written
	require.Error(t, err)
	p, err := s.GetPayout(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, p.Distributions)
}

func TestCompareAndSetStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPayout(t, s, "p1", week())

	// WHEN: two executors race for the same pending payout
	require.NoError(t, s.CompareAndSetStatus(ctx, "p1", payout.StatusPending, payout.StatusProcessing, nil))
	err := s.CompareAndSetStatus(ctx, "p1", payout.StatusPending, payout.StatusProcessing, nil)

	// THEN: only the first wins
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)

	processed := at("2025-03-10T09:05:00Z")
	require.NoError(t, s.CompareAndSetStatus(ctx, "p1", payout.StatusProcessing, payout.StatusCompleted, &processed))

	p, err := s.GetPayout(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusCompleted, p.Status)
	require.NotNil(t, p.ProcessedAt)
	assert.True(t, p.ProcessedAt.Equal(processed))

	err = s.CompareAndSetStatus(ctx, "missing", payout.StatusPending, payout.StatusProcessing, nil)
	assert.ErrorIs(t, err, generic.ErrEntityNotFound)
}

func TestUpdateDistribution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPayout(t, s, "p1", week())

	require.NoError(t, s.UpdateDistribution(ctx, payout.Distribution{
		ID: "p1-a", PayoutID: "p1", Status: payout.DistributionCompleted, TransferRef: "tr_9", Attempts: 1,
	}))
	require.NoError(t, s.UpdateDistribution(ctx, payout.Distribution{
		ID: "p1-b", PayoutID: "p1", Status: payout.DistributionFailed, ErrorMessage: "account closed", Attempts: 1,
	}))

	p, err := s.GetPayout(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, payout.DistributionCompleted, p.Distributions[0].Status)
	assert.Equal(t, "tr_9", p.Distributions[0].TransferRef)
	assert.Equal(t, payout.DistributionFailed, p.Distributions[1].Status)
	assert.Equal(t, "account closed", p.Distributions[1].ErrorMessage)
	assert.Equal(t, 1, p.Distributions[1].Attempts)

	err = s.UpdateDistribution(ctx, payout.Distribution{ID: "ghost"})
	assert.ErrorIs(t, err, generic.ErrEntityNotFound)
}

func TestListPayouts_NewestFirstAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := week()
	newer := generic.Period{Start: older.End.AddDays(1), End: older.End.AddDays(7)}
	seedPayout(t, s, "old", older)
	seedPayout(t, s, "new", newer)

	list, err := s.ListPayouts(ctx, "venue-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, "old", list[1].ID)
	assert.Len(t, list[0].Distributions, 2)

	require.NoError(t, s.DeletePayout(ctx, "new"))
	list, err = s.ListPayouts(ctx, "venue-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "old", list[0].ID)
}

func TestReset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPayout(t, s, "p1", week())
	require.NoError(t, s.SaveVenue(ctx, payout.Venue{ID: "v1", Name: "Bar"}))

	require.NoError(t, s.Reset(ctx))

	p, err := s.GetPayout(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, p)
	v, err := s.GetVenue(ctx, "v1")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestCreatePayout_RejectsOverlapAcrossConnections(t *testing.T) {
	// GIVEN: two stores on one database file, as a server and a cron run would have
	path := filepath.Join(t.TempDir(), "payouts.db")
	server, err := New(path)
	require.NoError(t, err)
	defer server.Close()
	cron, err := New(path)
	require.NoError(t, err)
	defer cron.Close()
	ctx := context.Background()

	seedPayout(t, server, "p1", week())

	// WHEN: the other store claims a period sharing the last day
	overlapping := &payout.Payout{
		ID: "p2", VenueID: "venue-1", Status: payout.StatusPending, CreatedAt: at("2025-03-10T09:00:00Z"),
		Period: generic.Period{Start: week().End, End: week().End.AddDays(6)},
	}
	err = cron.CreatePayout(ctx, overlapping)

	// THEN
	var overlap *payout.PeriodOverlapError
	require.ErrorAs(t, err, &overlap)
	assert.Equal(t, "p1", overlap.ExistingPayoutID)
	assert.Equal(t, week(), overlap.Existing)
	assert.ErrorIs(t, err, payout.ErrPeriodOverlap)

	got, err := server.GetPayout(ctx, "p2")
	require.NoError(t, err)
	assert.Nil(t, got)

	// AND: adjacent periods and other venues are fine
	overlapping.Period = generic.Period{Start: week().End.AddDays(1), End: week().End.AddDays(7)}
	require.NoError(t, cron.CreatePayout(ctx, overlapping))
	require.NoError(t, cron.CreatePayout(ctx, &payout.Payout{
		ID: "p3", VenueID: "venue-2", Period: week(), Status: payout.StatusPending, CreatedAt: at("2025-03-10T09:00:00Z"),
	}))
}

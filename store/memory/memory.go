// Package memory provides an in-memory payout.Store (tests, local runs).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/payout"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Store struct {
	mu            sync.RWMutex
	venues        map[string]payout.Venue
	employees     map[string]payout.Employee
	tips          map[string]payout.Tip
	payouts       map[string]payout.Payout
	distributions map[string][]payout.Distribution // by payout id

	// FailDistributions makes the next CreateDistributions call fail.
	FailDistributions error
}

func New() *Store {
	return &Store{
		venues:        make(map[string]payout.Venue),
		employees:     make(map[string]payout.Employee),
		tips:          make(map[string]payout.Tip),
		payouts:       make(map[string]payout.Payout),
		distributions: make(map[string][]payout.Distribution),
	}
}

var _ payout.Store = (*Store)(nil)

// =============================================================================
// SEEDING
// =============================================================================

func (s *Store) PutVenue(v payout.Venue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.venues[v.ID] = v
}

func (s *Store) PutEmployee(e payout.Employee) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.employees[e.ID] = e
}

func (s *Store) PutTip(t payout.Tip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tips[t.ID] = t
}

// SaveVenue, SaveEmployee and SaveTip match the sqlite store's seeding API.

func (s *Store) SaveVenue(_ context.Context, v payout.Venue) error {
	s.PutVenue(v)
	return nil
}

func (s *Store) SaveEmployee(_ context.Context, e payout.Employee) error {
	s.PutEmployee(e)
	return nil
}

func (s *Store) SaveTip(_ context.Context, t payout.Tip) error {
	s.PutTip(t)
	return nil
}

// Reset drops all data.
func (s *Store) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.venues = make(map[string]payout.Venue)
	s.employees = make(map[string]payout.Employee)
	s.tips = make(map[string]payout.Tip)
	s.payouts = make(map[string]payout.Payout)
	s.distributions = make(map[string][]payout.Distribution)
	return nil
}

// =============================================================================
// VENUES
// =============================================================================

func (s *Store) GetVenue(_ context.Context, id string) (*payout.Venue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.venues[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (s *Store) ListAutoPayoutVenues(_ context.Context) ([]payout.Venue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []payout.Venue
	for _, v := range s.venues {
		if v.AutoPayoutEnabled {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AdvanceAutoPayoutCursor(_ context.Context, venueID string, expected *time.Time, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.venues[venueID]
	if !ok {
		return generic.ErrEntityNotFound
	}
	if !sameInstant(v.LastAutoPayoutAt, expected) {
		return generic.ErrConcurrentModification
	}
	n := next.UTC()
	v.LastAutoPayoutAt = &n
	s.venues[venueID] = v
	return nil
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (s *Store) GetEmployee(_ context.Context, id string) (*payout.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.employees[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *Store) ListEmployees(_ context.Context, venueID string) ([]payout.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []payout.Employee
	for _, e := range s.employees {
		if e.VenueID == venueID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SetPayeeID(_ context.Context, employeeID, payeeID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.employees[employeeID]
	if !ok {
		return "", generic.ErrEntityNotFound
	}
	if e.PayeeID != "" {
		return e.PayeeID, nil
	}
	e.PayeeID = payeeID
	s.employees[employeeID] = e
	return payeeID, nil
}

// =============================================================================
// TIPS
// =============================================================================

func (s *Store) SettledTips(_ context.Context, venueID string, period generic.Period) ([]payout.Tip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []payout.Tip
	for _, t := range s.tips {
		if t.VenueID != venueID || t.Status != payout.TipSucceeded {
			continue
		}
		if !period.Contains(generic.DateOf(t.CreatedAt)) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// =============================================================================
// PAYOUTS
// =============================================================================

func (s *Store) CreatePayout(_ context.Context, p *payout.Payout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.payouts {
		if existing.VenueID == p.VenueID && existing.Period.Overlaps(p.Period) {
			return &payout.PeriodOverlapError{ExistingPayoutID: existing.ID, Existing: existing.Period}
		}
	}
	cp := *p
	cp.Distributions = nil
	s.payouts[p.ID] = cp
	return nil
}

func (s *Store) CreateDistributions(_ context.Context, ds []payout.Distribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailDistributions; err != nil {
		s.FailDistributions = nil
		return err
	}
	for _, d := range ds {
		if _, ok := s.payouts[d.PayoutID]; !ok {
			return generic.ErrEntityNotFound
		}
	}
	for _, d := range ds {
		s.distributions[d.PayoutID] = append(s.distributions[d.PayoutID], d)
	}
	return nil
}

func (s *Store) DeletePayout(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.payouts, id)
	delete(s.distributions, id)
	return nil
}

func (s *Store) GetPayout(_ context.Context, id string) (*payout.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payouts[id]
	if !ok {
		return nil, nil
	}
	p.Distributions = s.distributionsLocked(id)
	return &p, nil
}

func (s *Store) ListPayouts(_ context.Context, venueID string) ([]payout.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []payout.Payout
	for id, p := range s.payouts {
		if p.VenueID != venueID {
			continue
		}
		p.Distributions = s.distributionsLocked(id)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Period.Start.Equal(out[j].Period.Start) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Period.Start.After(out[j].Period.Start)
	})
	return out, nil
}

func (s *Store) CompareAndSetStatus(_ context.Context, id string, from, to payout.Status, processedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payouts[id]
	if !ok {
		return generic.ErrEntityNotFound
	}
	if p.Status != from {
		return generic.ErrConcurrentModification
	}
	p.Status = to
	if processedAt != nil {
		t := processedAt.UTC()
		p.ProcessedAt = &t
	}
	s.payouts[id] = p
	return nil
}

func (s *Store) UpdateDistribution(_ context.Context, d payout.Distribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.distributions[d.PayoutID]
	for i := range rows {
		if rows[i].ID == d.ID {
			rows[i].Status = d.Status
			rows[i].TransferRef = d.TransferRef
			rows[i].ErrorMessage = d.ErrorMessage
			rows[i].Attempts = d.Attempts
			return nil
		}
	}
	return generic.ErrEntityNotFound
}

// distributionsLocked returns a copy ordered by employee id. Caller holds mu.
func (s *Store) distributionsLocked(payoutID string) []payout.Distribution {
	rows := append([]payout.Distribution(nil), s.distributions[payoutID]...)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].EmployeeID < rows[j].EmployeeID })
	return rows
}

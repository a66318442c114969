/*
Package sqlite provides a SQLite-backed implementation of payout.Store.

PURPOSE:
  Persists venues, employees, tips, payouts and distributions. Venues,
  employees and tips are written by other systems; this engine only reads
  them, except for the payee identity and the auto-payout cursor.

INTERFACES IMPLEMENTED:
  payout.VenueStore:    Venue lookup, optimistic cursor
  payout.EmployeeStore: Roster, set-if-null payee identity
  payout.TipLedger:     Settled tips in a period
  payout.RecordStore:   Payouts, distributions, CAS status

KEY TABLES:
  venues, employees, tips:  Read-mostly inputs
  payouts:                  One row per calculation
  payout_distributions:     One row per eligible employee per payout

COMPARE-AND-SET:
  Status transitions and cursor updates are single UPDATE statements with
  the expected value in the WHERE clause. Zero rows affected means another
  writer got there first (generic.ErrConcurrentModification).

TIME FORMAT:
  Instants are stored as fixed-width UTC strings so that string comparison
  in SQL matches chronological order. Calendar dates are YYYY-MM-DD.

CONCURRENCY:
  Uses sync.RWMutex plus a single connection. Queries never nest while a
  result set is open.

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - payout/store.go: Interface definitions
  - store/memory/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/payout"
)

// timeLayout is fixed width so lexical order equals time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements payout.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ payout.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS venues (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		collection_account_ref TEXT,
		auto_payout_enabled INTEGER NOT NULL DEFAULT 0,
		payout_frequency TEXT NOT NULL DEFAULT 'weekly',
		payout_day INTEGER NOT NULL DEFAULT 1,
		last_auto_payout_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_venues_auto_payout
		ON venues(auto_payout_enabled);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		venue_id TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT,
		bank_routing_code TEXT,
		bank_account_number TEXT,
		bank_account_name TEXT,
		payee_id TEXT,
		activated_at TEXT,
		deactivated_at TEXT,
		is_active INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_employees_venue
		ON employees(venue_id);

	CREATE TABLE IF NOT EXISTS tips (
		id TEXT PRIMARY KEY,
		venue_id TEXT NOT NULL,
		employee_id TEXT,
		amount INTEGER NOT NULL,
		currency TEXT NOT NULL DEFAULT 'aud',
		status TEXT NOT NULL,
		payment_ref TEXT,
		transfer_ref TEXT,
		created_at TEXT NOT NULL
	);

	-- Hot path for the tip ledger reader
	CREATE INDEX IF NOT EXISTS idx_tips_venue_status_created
		ON tips(venue_id, status, created_at);

	CREATE TABLE IF NOT EXISTS payouts (
		id TEXT PRIMARY KEY,
		venue_id TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		total_amount INTEGER NOT NULL,
		platform_fee INTEGER NOT NULL,
		net_amount INTEGER NOT NULL,
		status TEXT NOT NULL,
		processed_at TEXT,
		created_at TEXT NOT NULL,
		CHECK (period_end >= period_start),
		CHECK (net_amount = total_amount - platform_fee)
	);

	CREATE INDEX IF NOT EXISTS idx_payouts_venue_period
		ON payouts(venue_id, period_start);

	CREATE TABLE IF NOT EXISTS payout_distributions (
		id TEXT PRIMARY KEY,
		payout_id TEXT NOT NULL REFERENCES payouts(id) ON DELETE CASCADE,
		employee_id TEXT NOT NULL,
		employee_name TEXT NOT NULL DEFAULT '',
		amount INTEGER NOT NULL,
		days_active INTEGER NOT NULL,
		total_period_days INTEGER NOT NULL,
		is_prorated INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		transfer_ref TEXT,
		error_message TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		CHECK (days_active >= 1 AND days_active <= total_period_days)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_distributions_payout_employee
		ON payout_distributions(payout_id, employee_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// VENUES
// =============================================================================

const venueColumns = `id, name, collection_account_ref, auto_payout_enabled, payout_frequency, payout_day, last_auto_payout_at`

func (s *Store) GetVenue(ctx context.Context, id string) (*payout.Venue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+venueColumns+` FROM venues WHERE id = ?`, id)
	v, err := scanVenue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Store) ListAutoPayoutVenues(ctx context.Context) ([]payout.Venue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+venueColumns+` FROM venues WHERE auto_payout_enabled = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payout.Venue
	for rows.Next() {
		v, err := scanVenue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) AdvanceAutoPayoutCursor(ctx context.Context, venueID string, expected *time.Time, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE venues SET last_auto_payout_at = ? WHERE id = ? AND last_auto_payout_at IS ?`,
		formatTime(next), venueID, nullTime(expected))
	if err != nil {
		return err
	}
	return s.checkAffected(ctx, res, "venues", venueID)
}

// SaveVenue upserts a venue. Used by seeding and tests.
func (s *Store) SaveVenue(ctx context.Context, v payout.Venue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO venues (`+venueColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			collection_account_ref = excluded.collection_account_ref,
			auto_payout_enabled = excluded.auto_payout_enabled,
			payout_frequency = excluded.payout_frequency,
			payout_day = excluded.payout_day,
			last_auto_payout_at = excluded.last_auto_payout_at
	`, v.ID, v.Name, nullString(v.CollectionAccountRef), v.AutoPayoutEnabled,
		string(v.PayoutFrequency), v.PayoutDay, nullTime(v.LastAutoPayoutAt))
	return err
}

func scanVenue(row interface{ Scan(...any) error }) (payout.Venue, error) {
	var (
		v        payout.Venue
		account  sql.NullString
		freq     string
		lastAuto sql.NullString
	)
	if err := row.Scan(&v.ID, &v.Name, &account, &v.AutoPayoutEnabled, &freq, &v.PayoutDay, &lastAuto); err != nil {
		return v, err
	}
	v.CollectionAccountRef = account.String
	v.PayoutFrequency = payout.Frequency(freq)
	t, err := parseNullTime(lastAuto)
	if err != nil {
		return v, err
	}
	v.LastAutoPayoutAt = t
	return v, nil
}

// =============================================================================
// EMPLOYEES
// =============================================================================

const employeeColumns = `id, venue_id, name, email, bank_routing_code, bank_account_number, bank_account_name,
	payee_id, activated_at, deactivated_at, is_active`

func (s *Store) GetEmployee(ctx context.Context, id string) (*payout.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = ?`, id)
	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) ListEmployees(ctx context.Context, venueID string) ([]payout.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE venue_id = ? ORDER BY id`, venueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payout.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) SetPayeeID(ctx context.Context, employeeID, payeeID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE employees SET payee_id = ? WHERE id = ? AND (payee_id IS NULL OR payee_id = '')`,
		payeeID, employeeID); err != nil {
		return "", err
	}
	var stored sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT payee_id FROM employees WHERE id = ?`, employeeID).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return "", generic.ErrEntityNotFound
	}
	if err != nil {
		return "", err
	}
	return stored.String, tx.Commit()
}

// SaveEmployee upserts an employee. Used by seeding and tests.
func (s *Store) SaveEmployee(ctx context.Context, e payout.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (`+employeeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			venue_id = excluded.venue_id,
			name = excluded.name,
			email = excluded.email,
			bank_routing_code = excluded.bank_routing_code,
			bank_account_number = excluded.bank_account_number,
			bank_account_name = excluded.bank_account_name,
			payee_id = excluded.payee_id,
			activated_at = excluded.activated_at,
			deactivated_at = excluded.deactivated_at,
			is_active = excluded.is_active
	`, e.ID, e.VenueID, e.Name, nullString(e.Email),
		nullString(e.Bank.RoutingCode), nullString(e.Bank.AccountNumber), nullString(e.Bank.AccountName),
		nullString(e.PayeeID), nullTime(e.ActivatedAt), nullTime(e.DeactivatedAt), e.IsActive)
	return err
}

func scanEmployee(row interface{ Scan(...any) error }) (payout.Employee, error) {
	var (
		e                                     payout.Employee
		email, routing, number, holder, payee sql.NullString
		activated, deactivated                sql.NullString
	)
	if err := row.Scan(&e.ID, &e.VenueID, &e.Name, &email, &routing, &number, &holder,
		&payee, &activated, &deactivated, &e.IsActive); err != nil {
		return e, err
	}
	e.Email = email.String
	e.Bank = payout.BankDetails{RoutingCode: routing.String, AccountNumber: number.String, AccountName: holder.String}
	e.PayeeID = payee.String

	var err error
	if e.ActivatedAt, err = parseNullTime(activated); err != nil {
		return e, err
	}
	if e.DeactivatedAt, err = parseNullTime(deactivated); err != nil {
		return e, err
	}
	return e, nil
}

// =============================================================================
// TIPS
// =============================================================================

func (s *Store) SettledTips(ctx context.Context, venueID string, period generic.Period) ([]payout.Tip, error) {
	from, until := period.Instants()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, venue_id, employee_id, amount, currency, status, payment_ref, transfer_ref, created_at
		FROM tips
		WHERE venue_id = ? AND status = ? AND created_at >= ? AND created_at < ?
		ORDER BY created_at, id
	`, venueID, string(payout.TipSucceeded), formatTime(from), formatTime(until))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payout.Tip
	for rows.Next() {
		var (
			t                         payout.Tip
			employee, payment, trnsfr sql.NullString
			status, created           string
			amount                    int64
		)
		if err := rows.Scan(&t.ID, &t.VenueID, &employee, &amount, &t.Currency, &status, &payment, &trnsfr, &created); err != nil {
			return nil, err
		}
		t.EmployeeID = employee.String
		t.Amount = generic.Amount(amount)
		t.Status = payout.TipStatus(status)
		t.PaymentRef = payment.String
		t.TransferRef = trnsfr.String
		if t.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("tip %s: %w", t.ID, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveTip upserts a tip. Used by seeding and tests.
func (s *Store) SaveTip(ctx context.Context, t payout.Tip) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	currency := t.Currency
	if currency == "" {
		currency = "aud"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tips (id, venue_id, employee_id, amount, currency, status, payment_ref, transfer_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			payment_ref = excluded.payment_ref,
			transfer_ref = excluded.transfer_ref
	`, t.ID, t.VenueID, nullString(t.EmployeeID), t.Amount.Int64(), currency, string(t.Status),
		nullString(t.PaymentRef), nullString(t.TransferRef), formatTime(t.CreatedAt))
	return err
}

// =============================================================================
// PAYOUTS
// =============================================================================

const payoutColumns = `id, venue_id, period_start, period_end, total_amount, platform_fee, net_amount, status, processed_at, created_at`

const distributionColumns = `id, payout_id, employee_id, employee_name, amount, days_active, total_period_days,
	is_prorated, status, transfer_ref, error_message, attempts`

// CreatePayout checks for an overlapping period and inserts in one
// immediate transaction, so separate processes cannot both claim the days.
func (s *Store) CreatePayout(ctx context.Context, p *payout.Payout) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existingID, start, end string
	err = tx.QueryRowContext(ctx, `SELECT id, period_start, period_end FROM payouts
		WHERE venue_id = ? AND period_start <= ? AND period_end >= ? LIMIT 1`,
		p.VenueID, p.Period.End.String(), p.Period.Start.String()).Scan(&existingID, &start, &end)
	switch {
	case err == nil:
		from, perr := generic.ParseDate(start)
		if perr != nil {
			return fmt.Errorf("payout %s: %w", existingID, perr)
		}
		to, perr := generic.ParseDate(end)
		if perr != nil {
			return fmt.Errorf("payout %s: %w", existingID, perr)
		}
		return &payout.PeriodOverlapError{ExistingPayoutID: existingID, Existing: generic.Period{Start: from, End: to}}
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("check overlap: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO payouts (`+payoutColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.VenueID, p.Period.Start.String(), p.Period.End.String(),
		p.TotalAmount.Int64(), p.PlatformFee.Int64(), p.NetAmount.Int64(),
		string(p.Status), nullTime(p.ProcessedAt), formatTime(p.CreatedAt)); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateDistributions inserts all rows in one SQL transaction.
func (s *Store) CreateDistributions(ctx context.Context, ds []payout.Distribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO payout_distributions (`+distributionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range ds {
		if _, err := stmt.ExecContext(ctx, d.ID, d.PayoutID, d.EmployeeID, d.EmployeeName, d.Amount.Int64(),
			d.DaysActive, d.TotalPeriodDays, d.IsProrated, string(d.Status),
			nullString(d.TransferRef), nullString(d.ErrorMessage), d.Attempts); err != nil {
			return fmt.Errorf("insert distribution %s: %w", d.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) DeletePayout(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM payout_distributions WHERE payout_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM payouts WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetPayout(ctx context.Context, id string) (*payout.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = ?`, id)
	p, err := scanPayout(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	byPayout, err := s.queryDistributions(ctx,
		`SELECT `+distributionColumns+` FROM payout_distributions WHERE payout_id = ? ORDER BY employee_id`, id)
	if err != nil {
		return nil, err
	}
	p.Distributions = byPayout[id]
	return &p, nil
}

func (s *Store) ListPayouts(ctx context.Context, venueID string) ([]payout.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE venue_id = ? ORDER BY period_start DESC, created_at DESC`, venueID)
	if err != nil {
		return nil, err
	}
	var out []payout.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	byPayout, err := s.queryDistributions(ctx, `
		SELECT d.id, d.payout_id, d.employee_id, d.employee_name, d.amount, d.days_active, d.total_period_days,
			d.is_prorated, d.status, d.transfer_ref, d.error_message, d.attempts
		FROM payout_distributions d JOIN payouts p ON p.id = d.payout_id
		WHERE p.venue_id = ?
		ORDER BY d.employee_id`, venueID)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Distributions = byPayout[out[i].ID]
	}
	return out, nil
}

func (s *Store) CompareAndSetStatus(ctx context.Context, id string, from, to payout.Status, processedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE payouts SET status = ?, processed_at = COALESCE(?, processed_at) WHERE id = ? AND status = ?`,
		string(to), nullTime(processedAt), id, string(from))
	if err != nil {
		return err
	}
	return s.checkAffected(ctx, res, "payouts", id)
}

func (s *Store) UpdateDistribution(ctx context.Context, d payout.Distribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE payout_distributions
		SET status = ?, transfer_ref = ?, error_message = ?, attempts = ?
		WHERE id = ?
	`, string(d.Status), nullString(d.TransferRef), nullString(d.ErrorMessage), d.Attempts, d.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return generic.ErrEntityNotFound
	}
	return nil
}

func scanPayout(row interface{ Scan(...any) error }) (payout.Payout, error) {
	var (
		p                          payout.Payout
		start, end, status, create string
		total, fee, net            int64
		processed                  sql.NullString
	)
	if err := row.Scan(&p.ID, &p.VenueID, &start, &end, &total, &fee, &net, &status, &processed, &create); err != nil {
		return p, err
	}
	var err error
	if p.Period.Start, err = generic.ParseDate(start); err != nil {
		return p, err
	}
	if p.Period.End, err = generic.ParseDate(end); err != nil {
		return p, err
	}
	p.TotalAmount = generic.Amount(total)
	p.PlatformFee = generic.Amount(fee)
	p.NetAmount = generic.Amount(net)
	p.Status = payout.Status(status)
	if p.ProcessedAt, err = parseNullTime(processed); err != nil {
		return p, err
	}
	if p.CreatedAt, err = time.Parse(timeLayout, create); err != nil {
		return p, err
	}
	return p, nil
}

// queryDistributions groups rows by payout id. Caller holds mu.
func (s *Store) queryDistributions(ctx context.Context, query string, args ...any) (map[string][]payout.Distribution, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string][]payout.Distribution{}
	for rows.Next() {
		var (
			d             payout.Distribution
			amount        int64
			status        string
			ref, errorMsg sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.PayoutID, &d.EmployeeID, &d.EmployeeName, &amount, &d.DaysActive,
			&d.TotalPeriodDays, &d.IsProrated, &status, &ref, &errorMsg, &d.Attempts); err != nil {
			return nil, err
		}
		d.Amount = generic.Amount(amount)
		d.Status = payout.DistributionStatus(status)
		d.TransferRef = ref.String
		d.ErrorMessage = errorMsg.String
		out[d.PayoutID] = append(out[d.PayoutID], d)
	}
	return out, rows.Err()
}

// =============================================================================
// MAINTENANCE
// =============================================================================

// Reset deletes all data. Demo scenarios only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"payout_distributions", "payouts", "tips", "employees", "venues"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// checkAffected distinguishes a lost compare-and-set from a missing row.
// Caller holds mu.
func (s *Store) checkAffected(ctx context.Context, res sql.Result, table, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.ErrEntityNotFound
	}
	if err != nil {
		return err
	}
	return generic.ErrConcurrentModification
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

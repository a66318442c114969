package payout

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/warp/payout-engine/logging"
	"github.com/warp/payout-engine/metrics"
	"github.com/warp/payout-engine/processor"
)

// PayeeProvisioner is the get-or-create of an employee's payee identity.
// Calls for the same employee are serialized, the store is re-read under the
// lock, and the processor request carries a per-employee idempotency key, so
// a retry after a partial failure finds the existing identity.
type PayeeProvisioner struct {
	client    processor.Client
	employees EmployeeStore
	country   string
	currency  string
	locks     keyedMutex
	log       zerolog.Logger
}

func NewPayeeProvisioner(client processor.Client, employees EmployeeStore, country, currency string) *PayeeProvisioner {
	return &PayeeProvisioner{
		client:    client,
		employees: employees,
		country:   country,
		currency:  currency,
		log:       logging.WithComponent("payee"),
	}
}

// Ensure returns the employee's payee identity, creating it on first use.
func (p *PayeeProvisioner) Ensure(ctx context.Context, employeeID string) (string, error) {
	unlock := p.locks.Lock(employeeID)
	defer unlock()

	emp, err := p.employees.GetEmployee(ctx, employeeID)
	if err != nil {
		return "", fmt.Errorf("load employee: %w", err)
	}
	if emp == nil {
		return "", fmt.Errorf("%w: %s", ErrEmployeeMissing, employeeID)
	}
	if emp.PayeeID != "" {
		return emp.PayeeID, nil
	}
	if !emp.Bank.Complete() {
		return "", &MissingPayeeDetailsError{Employees: []string{displayName(*emp)}}
	}

	first, last := splitName(emp.Name)
	accountID, err := p.client.CreatePayeeAccount(ctx, processor.PayeeAccountParams{
		EmployeeID:        emp.ID,
		FirstName:         first,
		LastName:          last,
		Email:             emp.Email,
		Country:           p.country,
		Currency:          p.currency,
		RoutingCode:       emp.Bank.RoutingCode,
		AccountNumber:     emp.Bank.AccountNumber,
		AccountHolderName: emp.Bank.AccountName,
		IdempotencyKey:    "payee-" + emp.ID,
	})
	if err != nil {
		return "", fmt.Errorf("create payee account: %w", err)
	}

	stored, err := p.employees.SetPayeeID(ctx, emp.ID, accountID)
	if err != nil {
		return "", fmt.Errorf("store payee identity: %w", err)
	}
	if stored != accountID {
		p.log.Warn().Str("employee_id", emp.ID).Str("existing", stored).Str("created", accountID).
			Msg("payee identity already recorded, using existing")
	} else {
		metrics.PayeesProvisioned.Inc()
		logging.Ctx(ctx, p.log).Info().Str("employee_id", emp.ID).Str("payee_id", accountID).Msg("payee identity created")
	}
	return stored, nil
}

// splitName splits "Alice Mary Nguyen" into "Alice" and "Mary Nguyen".
// A single-word name is used for both parts.
func splitName(name string) (first, last string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return name, name
	case 1:
		return parts[0], parts[0]
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

func displayName(e Employee) string {
	if strings.TrimSpace(e.Name) != "" {
		return e.Name
	}
	return e.ID
}

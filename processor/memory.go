package processor

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/warp/payout-engine/generic"
)

// Memory is an in-process processor. It keeps balances, accounts and
// transfers in maps, honours idempotency keys, and lets tests inject
// failures per destination, transfer or employee.
type Memory struct {
	mu  sync.Mutex
	env Environment
	seq int

	balance   map[string]generic.Amount
	accounts  map[string]PayeeAccountParams
	transfers map[string]*Transfer
	order     []string
	reversals []Reversal
	payments  map[string]*Payment
	charges   generic.Amount

	idempotent map[string]any

	failTransferTo  map[string]error
	failReversal    map[string]error
	failPayee       map[string]error
	failPayment     map[string]error
	failBalance     error
	failTransferGet map[string]error

	calls map[string]int
}

// NewMemory creates an empty in-memory processor reporting env.
func NewMemory(env Environment) *Memory {
	if env == "" {
		env = EnvironmentMemory
	}
	return &Memory{
		env:             env,
		balance:         map[string]generic.Amount{},
		accounts:        map[string]PayeeAccountParams{},
		transfers:       map[string]*Transfer{},
		payments:        map[string]*Payment{},
		idempotent:      map[string]any{},
		failTransferTo:  map[string]error{},
		failReversal:    map[string]error{},
		failPayee:       map[string]error{},
		failPayment:     map[string]error{},
		failTransferGet: map[string]error{},
		calls:           map[string]int{},
	}
}

func (m *Memory) Environment() Environment { return m.env }

// =============================================================================
// SEEDING & FAILURE INJECTION
// =============================================================================

// SetBalance sets the available platform balance.
func (m *Memory) SetBalance(currency string, amount generic.Amount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance[normalizeCurrency(currency)] = amount
}

// SeedTransfer records an existing transfer (e.g. a tip auto-forward) and returns its id.
func (m *Memory) SeedTransfer(destination string, amount generic.Amount, currency string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.newTransfer(destination, amount, currency)
	return t.ID
}

// SeedPayment records a captured payment whose funds were forwarded by transferRef.
func (m *Memory) SeedPayment(id string, amount generic.Amount, transferRef string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[id] = &Payment{ID: id, Amount: amount, Status: "succeeded", TransferRef: transferRef}
}

// FailTransfersTo makes every transfer to destination fail with err.
func (m *Memory) FailTransfersTo(destination string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failTransferTo, destination)
		return
	}
	m.failTransferTo[destination] = err
}

func (m *Memory) FailReversal(transferID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failReversal[transferID] = err
}

func (m *Memory) FailRetrieveTransfer(transferID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failTransferGet[transferID] = err
}

func (m *Memory) FailPayeeAccount(employeeID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPayee[employeeID] = err
}

func (m *Memory) FailPayment(paymentID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPayment[paymentID] = err
}

func (m *Memory) FailBalance(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failBalance = err
}

// =============================================================================
// INSPECTION
// =============================================================================

// Calls returns how many times an operation was invoked.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// AccountCount returns the number of payee accounts created.
func (m *Memory) AccountCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accounts)
}

// Account returns the parameters an account was created with.
func (m *Memory) Account(id string) (PayeeAccountParams, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.accounts[id]
	return p, ok
}

// TransfersTo returns transfers sent to destination in creation order.
func (m *Memory) TransfersTo(destination string) []Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Transfer
	for _, id := range m.order {
		if t := m.transfers[id]; t.Destination == destination {
			out = append(out, *t)
		}
	}
	return out
}

// Reversals returns every reversal issued.
func (m *Memory) Reversals() []Reversal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Reversal(nil), m.reversals...)
}

// ChargedTotal is the sum of sandbox test charges.
func (m *Memory) ChargedTotal() generic.Amount {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.charges
}

// =============================================================================
// CLIENT
// =============================================================================

func (m *Memory) CreatePayeeAccount(ctx context.Context, p PayeeAccountParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["create_payee_account"]++

	if id, ok := m.idempotent[p.IdempotencyKey].(string); ok && p.IdempotencyKey != "" {
		return id, nil
	}
	if err := m.failPayee[p.EmployeeID]; err != nil {
		return "", err
	}
	m.seq++
	id := fmt.Sprintf("acct_%d", m.seq)
	m.accounts[id] = p
	if p.IdempotencyKey != "" {
		m.idempotent[p.IdempotencyKey] = id
	}
	return id, nil
}

func (m *Memory) CreateTransfer(ctx context.Context, p TransferParams) (*Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["create_transfer"]++

	if t, ok := m.idempotent[p.IdempotencyKey].(*Transfer); ok && p.IdempotencyKey != "" {
		cp := *t
		return &cp, nil
	}
	if err := m.failTransferTo[p.Destination]; err != nil {
		return nil, err
	}
	cur := normalizeCurrency(p.Currency)
	if m.balance[cur].LessThan(p.Amount) {
		return nil, &APIError{StatusCode: http.StatusBadRequest, Type: "invalid_request_error", Code: "balance_insufficient", Message: "insufficient available funds"}
	}
	m.balance[cur] = m.balance[cur].Sub(p.Amount)

	t := m.newTransfer(p.Destination, p.Amount, cur)
	if p.IdempotencyKey != "" {
		m.idempotent[p.IdempotencyKey] = t
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) RetrieveTransfer(ctx context.Context, id string) (*Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["retrieve_transfer"]++

	if err := m.failTransferGet[id]; err != nil {
		return nil, err
	}
	t, ok := m.transfers[id]
	if !ok {
		return nil, &APIError{StatusCode: http.StatusNotFound, Type: "invalid_request_error", Code: "resource_missing", Message: "no such transfer: " + id}
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) ReverseTransfer(ctx context.Context, transferID string, amount generic.Amount, idempotencyKey string) (*Reversal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["reverse_transfer"]++

	if r, ok := m.idempotent[idempotencyKey].(Reversal); ok && idempotencyKey != "" {
		return &r, nil
	}
	if err := m.failReversal[transferID]; err != nil {
		return nil, err
	}
	t, ok := m.transfers[transferID]
	if !ok {
		return nil, &APIError{StatusCode: http.StatusNotFound, Type: "invalid_request_error", Code: "resource_missing", Message: "no such transfer: " + transferID}
	}
	if !amount.IsPositive() || t.Unreversed().LessThan(amount) {
		return nil, &APIError{StatusCode: http.StatusBadRequest, Type: "invalid_request_error", Message: "reversal amount exceeds transfer"}
	}
	t.AmountReversed = t.AmountReversed.Add(amount)
	m.balance[t.Currency] = m.balance[t.Currency].Add(amount)

	m.seq++
	r := Reversal{ID: fmt.Sprintf("trr_%d", m.seq), TransferID: transferID, Amount: amount}
	m.reversals = append(m.reversals, r)
	if idempotencyKey != "" {
		m.idempotent[idempotencyKey] = r
	}
	return &r, nil
}

func (m *Memory) RetrieveBalance(ctx context.Context) (*Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["retrieve_balance"]++

	if m.failBalance != nil {
		return nil, m.failBalance
	}
	b := &Balance{Available: map[string]generic.Amount{}, Pending: map[string]generic.Amount{}}
	for k, v := range m.balance {
		b.Available[k] = v
	}
	return b, nil
}

func (m *Memory) RetrievePayment(ctx context.Context, id string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["retrieve_payment"]++

	if err := m.failPayment[id]; err != nil {
		return nil, err
	}
	p, ok := m.payments[id]
	if !ok {
		return nil, &APIError{StatusCode: http.StatusNotFound, Type: "invalid_request_error", Code: "resource_missing", Message: "no such payment: " + id}
	}
	cp := *p
	return &cp, nil
}

// CreateTestCharge adds funds to the balance. Refused outside sandbox.
func (m *Memory) CreateTestCharge(ctx context.Context, amount generic.Amount, currency, source, idempotencyKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["create_test_charge"]++

	if m.env != EnvironmentSandbox {
		return ErrNotSandbox
	}
	if _, ok := m.idempotent[idempotencyKey]; ok && idempotencyKey != "" {
		return nil
	}
	cur := normalizeCurrency(currency)
	m.balance[cur] = m.balance[cur].Add(amount)
	m.charges = m.charges.Add(amount)
	if idempotencyKey != "" {
		m.idempotent[idempotencyKey] = amount
	}
	return nil
}

// newTransfer must be called with mu held.
func (m *Memory) newTransfer(destination string, amount generic.Amount, currency string) *Transfer {
	m.seq++
	t := &Transfer{
		ID:          fmt.Sprintf("tr_%d", m.seq),
		Amount:      amount,
		Currency:    normalizeCurrency(currency),
		Destination: destination,
	}
	m.transfers[t.ID] = t
	m.order = append(m.order, t.ID)
	return t
}

package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payout-engine/generic"
)

func TestMemory_TransferDebitsBalanceAndHonoursIdempotency(t *testing.T) {
	// GIVEN: a platform balance of 100.00
	m := NewMemory(EnvironmentMemory)
	m.SetBalance("aud", 10000)
	ctx := context.Background()

	// WHEN: the same transfer is sent twice with one key
	params := TransferParams{Amount: 4000, Currency: "aud", Destination: "acct_1", IdempotencyKey: "k1"}
	first, err := m.CreateTransfer(ctx, params)
	require.NoError(t, err)
	second, err := m.CreateTransfer(ctx, params)
	require.NoError(t, err)

	// THEN: only one transfer exists and the balance moved once
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, m.TransfersTo("acct_1"), 1)
	b, _ := m.RetrieveBalance(ctx)
	assert.Equal(t, generic.Amount(6000), b.AvailableIn("aud"))
}

func TestMemory_TransferRejectsInsufficientBalance(t *testing.T) {
	m := NewMemory(EnvironmentMemory)
	m.SetBalance("aud", 100)

	_, err := m.CreateTransfer(context.Background(), TransferParams{Amount: 500, Currency: "aud", Destination: "acct_1"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "balance_insufficient", apiErr.Code)
}

func TestMemory_ReversalCreditsBalance(t *testing.T) {
	m := NewMemory(EnvironmentMemory)
	ctx := context.Background()
	id := m.SeedTransfer("acct_venue", 1000, "aud")

	_, err := m.ReverseTransfer(ctx, id, 400, "")
	require.NoError(t, err)
	_, err = m.ReverseTransfer(ctx, id, 700, "")
	assert.Error(t, err, "cannot reverse more than remains")

	tr, err := m.RetrieveTransfer(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, generic.Amount(600), tr.Unreversed())
	b, _ := m.RetrieveBalance(ctx)
	assert.Equal(t, generic.Amount(400), b.AvailableIn("aud"))
}

func TestMemory_FailureInjection(t *testing.T) {
	m := NewMemory(EnvironmentMemory)
	m.SetBalance("aud", 10000)
	boom := errors.New("account closed")
	m.FailTransfersTo("acct_bob", boom)

	_, err := m.CreateTransfer(context.Background(), TransferParams{Amount: 1, Currency: "aud", Destination: "acct_bob"})
	assert.ErrorIs(t, err, boom)

	m.FailTransfersTo("acct_bob", nil)
	_, err = m.CreateTransfer(context.Background(), TransferParams{Amount: 1, Currency: "aud", Destination: "acct_bob"})
	assert.NoError(t, err)
}

func TestMemory_PayeeAccountIdempotent(t *testing.T) {
	m := NewMemory(EnvironmentMemory)
	ctx := context.Background()

	a, err := m.CreatePayeeAccount(ctx, PayeeAccountParams{EmployeeID: "e1", IdempotencyKey: "payee-e1"})
	require.NoError(t, err)
	b, err := m.CreatePayeeAccount(ctx, PayeeAccountParams{EmployeeID: "e1", IdempotencyKey: "payee-e1"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, 1, m.AccountCount())
}

func TestAPIError_Retryable(t *testing.T) {
	assert.True(t, (&APIError{StatusCode: 429}).Retryable())
	assert.True(t, (&APIError{StatusCode: 502}).Retryable())
	assert.False(t, (&APIError{StatusCode: 400}).Retryable())
	assert.False(t, IsRetryable(context.Canceled))
	assert.True(t, IsRetryable(errors.New("connection reset")))
	assert.False(t, IsRetryable(nil))
}

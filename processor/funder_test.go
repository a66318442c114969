package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payout-engine/generic"
)

type flakyCharger struct {
	env     Environment
	fail    map[string]error
	charged []string
}

func (f *flakyCharger) Environment() Environment { return f.env }

func (f *flakyCharger) CreateTestCharge(_ context.Context, _ generic.Amount, _, source, _ string) error {
	if err := f.fail[source]; err != nil {
		return err
	}
	f.charged = append(f.charged, source)
	return nil
}

func TestNewSandboxFunder_RefusesNonSandbox(t *testing.T) {
	_, err := NewSandboxFunder(NewMemory(EnvironmentLive), 0)
	assert.ErrorIs(t, err, ErrNotSandbox)

	_, err = NewSandboxFunder(NewMemory(EnvironmentMemory), 0)
	assert.ErrorIs(t, err, ErrNotSandbox)

	_, err = NewSandboxFunder(nil, 0)
	assert.ErrorIs(t, err, ErrNotSandbox)
}

func TestSandboxFunder_TopUp(t *testing.T) {
	m := NewMemory(EnvironmentSandbox)
	f, err := NewSandboxFunder(m, 0)
	require.NoError(t, err)

	require.NoError(t, f.TopUp(context.Background(), 2500, "aud"))

	b, _ := m.RetrieveBalance(context.Background())
	assert.Equal(t, generic.Amount(2500), b.AvailableIn("aud"))
	assert.Equal(t, generic.Amount(2500), m.ChargedTotal())
}

func TestSandboxFunder_FallsBackToSecondSource(t *testing.T) {
	c := &flakyCharger{env: EnvironmentSandbox, fail: map[string]error{"tok_visa": errors.New("card declined")}}
	f, err := NewSandboxFunder(c, 0)
	require.NoError(t, err)

	require.NoError(t, f.TopUp(context.Background(), 100, "aud"))
	assert.Equal(t, []string{"tok_bypassPending"}, c.charged)
}

func TestSandboxFunder_AllSourcesFail(t *testing.T) {
	c := &flakyCharger{env: EnvironmentSandbox, fail: map[string]error{
		"tok_visa":          errors.New("declined"),
		"tok_bypassPending": errors.New("declined again"),
	}}
	f, err := NewSandboxFunder(c, 0)
	require.NoError(t, err)

	err = f.TopUp(context.Background(), 100, "aud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declined again")
}

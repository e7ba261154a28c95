package retry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaywire/wacore/relayerr"
	"github.com/relaywire/wacore/types"
)

func TestAttemptUnknownReturnsErrRetryUnknown(t *testing.T) {
	m := New(0, 0)
	dest := types.MustJID("15551234567", 0, types.DefaultUserServer)

	_, err := m.Attempt(dest, "msg1")
	require.ErrorIs(t, err, relayerr.ErrRetryUnknown)
}

func TestRecordThenAttemptReturnsPlaintext(t *testing.T) {
	m := New(3, 0)
	dest := types.MustJID("15551234567", 0, types.DefaultUserServer)
	m.Record(dest, "msg1", []byte("hello"))

	got, err := m.Attempt(dest, "msg1")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
}

func TestAttemptExceedsMaxRetries(t *testing.T) {
	m := New(2, 0)
	dest := types.MustJID("15551234567", 0, types.DefaultUserServer)
	m.Record(dest, "msg1", []byte("hello"))

	_, err := m.Attempt(dest, "msg1")
	require.NoError(t, err)
	_, err = m.Attempt(dest, "msg1")
	require.NoError(t, err)
	_, err = m.Attempt(dest, "msg1")
	require.ErrorIs(t, err, relayerr.ErrRetryBudgetExceeded)

	// The entry is evicted once the budget is exceeded.
	_, err = m.Attempt(dest, "msg1")
	require.ErrorIs(t, err, relayerr.ErrRetryUnknown)
}

func TestForgetEvictsEntry(t *testing.T) {
	m := New(3, 0)
	dest := types.MustJID("15551234567", 0, types.DefaultUserServer)
	m.Record(dest, "msg1", []byte("hello"))
	m.Forget(dest, "msg1")

	_, err := m.Attempt(dest, "msg1")
	require.ErrorIs(t, err, relayerr.ErrRetryUnknown)
}

func TestNilManagerIsNoop(t *testing.T) {
	var m *Manager
	dest := types.MustJID("15551234567", 0, types.DefaultUserServer)

	require.NotPanics(t, func() { m.Record(dest, "msg1", []byte("hello")) })
	require.NotPanics(t, func() { m.Forget(dest, "msg1") })

	_, err := m.Attempt(dest, "msg1")
	require.ErrorIs(t, err, relayerr.ErrRetryUnknown)
}

package keystore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaywire/wacore/walog"
)

func openTest(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:", walog.Noop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetSetRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, map[string]map[string][]byte{
		ColumnSession: {"alice.0": []byte("session-bytes")},
	}))

	got, err := s.Get(ctx, ColumnSession, []string{"alice.0", "missing"})
	require.NoError(t, err)
	require.Equal(t, []byte("session-bytes"), got["alice.0"])
	_, ok := got["missing"]
	require.False(t, ok)
}

func TestSetNilDeletes(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, map[string]map[string][]byte{
		ColumnSession: {"alice.0": []byte("x")},
	}))
	require.NoError(t, s.Set(ctx, map[string]map[string][]byte{
		ColumnSession: {"alice.0": nil},
	}))

	got, err := s.Get(ctx, ColumnSession, []string{"alice.0"})
	require.NoError(t, err)
	_, ok := got["alice.0"]
	require.False(t, ok)
}

func TestTransactionCommitsAtomically(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	err := s.Transaction(ctx, "jid", func(ctx context.Context) error {
		if err := s.Set(ctx, map[string]map[string][]byte{
			ColumnSession: {"a.0": []byte("1")},
		}); err != nil {
			return err
		}
		return s.Set(ctx, map[string]map[string][]byte{
			ColumnSession: {"a.1": []byte("2")},
		})
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, ColumnSession, []string{"a.0", "a.1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestTransactionRollsBackOnError(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	sentinel := errTest
	err := s.Transaction(ctx, "jid", func(ctx context.Context) error {
		_ = s.Set(ctx, map[string]map[string][]byte{
			ColumnSession: {"a.0": []byte("1")},
		})
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	got, err := s.Get(ctx, ColumnSession, []string{"a.0"})
	require.NoError(t, err)
	_, ok := got["a.0"]
	require.False(t, ok, "rolled-back writes must not be visible")
}

var errTest = errSentinel{}

type errSentinel struct{}

func (errSentinel) Error() string { return "test sentinel error" }

package lidmap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaywire/wacore/keystore"
	"github.com/relaywire/wacore/types"
	"github.com/relaywire/wacore/walog"
)

type fakeResolver struct {
	pairs []Pair
	calls [][]types.JID
}

func (f *fakeResolver) ResolvePNs(ctx context.Context, pns []types.JID) ([]Pair, error) {
	f.calls = append(f.calls, pns)
	return f.pairs, nil
}

func newTestStore(t *testing.T, resolver Resolver) *Store {
	t.Helper()
	ks, err := keystore.Open(":memory:", walog.Noop())
	require.NoError(t, err)
	t.Cleanup(func() { ks.Close() })
	return New(ks, resolver, walog.Noop(), 3*24*time.Hour)
}

func TestLIDsForPNsBackfillsThroughResolver(t *testing.T) {
	pn := types.MustJID("15551234567", 0, types.DefaultUserServer)
	lid := types.MustJID("9999", 0, types.LIDServer)
	resolver := &fakeResolver{pairs: []Pair{{PN: pn, LID: lid}}}
	store := newTestStore(t, resolver)

	pairs, err := store.LIDsForPNs(context.Background(), []types.JID{pn})
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	require.Equal(t, "9999", pairs[0].LID.User)
	require.Equal(t, types.LIDServer, pairs[0].LID.Server)
	require.Len(t, resolver.calls, 1)

	// Second call must be served from cache, no further resolver calls.
	pairs2, err := store.LIDsForPNs(context.Background(), []types.JID{pn})
	require.NoError(t, err)
	require.Len(t, pairs2, 1)
	require.Len(t, resolver.calls, 1, "cache should have satisfied the second lookup")
}

func TestStoreRoundTrip(t *testing.T) {
	store := newTestStore(t, nil)
	pn := types.MustJID("15551234567", 0, types.DefaultUserServer)
	lid := types.MustJID("9999", 0, types.LIDServer)

	require.NoError(t, store.Store(context.Background(), []Pair{{PN: pn, LID: lid}}))

	gotLID, ok, err := store.LIDForPN(context.Background(), pn)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "9999", gotLID.User)

	gotPN, ok, err := store.PNForLID(context.Background(), lid)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "15551234567", gotPN.User)
	require.Equal(t, types.DefaultUserServer, gotPN.Server)
}

func TestStoreIsIdempotent(t *testing.T) {
	store := newTestStore(t, nil)
	pn := types.MustJID("15551234567", 0, types.DefaultUserServer)
	lid := types.MustJID("9999", 0, types.LIDServer)

	require.NoError(t, store.Store(context.Background(), []Pair{{PN: pn, LID: lid}}))
	require.NoError(t, store.Store(context.Background(), []Pair{{PN: pn, LID: lid}}))

	gotLID, ok, err := store.LIDForPN(context.Background(), pn)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "9999", gotLID.User)
}

func TestStoreRejectsMismatchedPair(t *testing.T) {
	store := newTestStore(t, nil)
	a := types.MustJID("111", 0, types.DefaultUserServer)
	b := types.MustJID("222", 0, types.DefaultUserServer)

	require.NoError(t, store.Store(context.Background(), []Pair{{PN: a, LID: b}}))

	_, ok, err := store.LIDForPN(context.Background(), a)
	require.NoError(t, err)
	require.False(t, ok, "mismatched pair (both PN) must not be persisted")
}

func TestHostedDeviceNormalizedForResolver(t *testing.T) {
	hostedPN := types.MustJID("15551234567", types.HostedDeviceID, types.HostedServer)
	lid := types.MustJID("9999", 0, types.LIDServer)
	resolver := &fakeResolver{pairs: []Pair{{PN: types.NewUserJID("15551234567", types.DefaultUserServer), LID: lid}}}
	store := newTestStore(t, resolver)

	_, err := store.LIDsForPNs(context.Background(), []types.JID{hostedPN})
	require.NoError(t, err)
	require.Len(t, resolver.calls, 1)
	require.Equal(t, types.DefaultUserServer, resolver.calls[0][0].Server)
	require.Equal(t, uint16(0), resolver.calls[0][0].Device)
}

package signalstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mau.fi/libsignal/ecc"
	"go.mau.fi/libsignal/keys/identity"
	"go.mau.fi/libsignal/protocol"

	"github.com/relaywire/wacore/keystore"
	"github.com/relaywire/wacore/lidmap"
	"github.com/relaywire/wacore/types"
	"github.com/relaywire/wacore/walog"
)

func testIdentity(t *testing.T) Identity {
	t.Helper()
	pub, priv := ecc.GenerateKeyPair()
	return Identity{
		KeyPair:        identity.NewKeyPair(identity.NewKey(pub), priv),
		RegistrationID: 1,
	}
}

func newTestBinding(t *testing.T, resolver lidmap.Resolver) (*Binding, *keystore.SQLiteStore) {
	t.Helper()
	ks, err := keystore.Open(":memory:", walog.Noop())
	require.NoError(t, err)
	t.Cleanup(func() { ks.Close() })
	lid := lidmap.New(ks, resolver, walog.Noop(), 3*24*time.Hour)
	return New(ks, lid, testIdentity(t), walog.Noop()), ks
}

func TestSessionRoundTripsWithoutSession(t *testing.T) {
	b, _ := newTestBinding(t, nil)
	addr := protocol.NewSignalAddress("15551234567", 1)

	has, err := b.ContainsSession(context.Background(), addr)
	require.NoError(t, err)
	require.False(t, has)

	rec, err := b.LoadSession(context.Background(), addr)
	require.NoError(t, err)
	require.NotNil(t, rec, "a fresh session record must be returned instead of nil")
}

func TestSessionStoreRedirectsToLID(t *testing.T) {
	pn := types.MustJID("15551234567", 0, types.DefaultUserServer)
	lid := types.MustJID("9999", 0, types.LIDServer)

	b, ks := newTestBinding(t, nil)
	lidStore := lidmap.New(ks, nil, walog.Noop(), 3*24*time.Hour)
	require.NoError(t, lidStore.Store(context.Background(), []lidmap.Pair{{PN: pn, LID: lid}}))
	b.lid = lidStore

	addr := protocol.NewSignalAddress(pn.User, 1)
	resolved := b.resolveAddress(context.Background(), addr)
	require.Equal(t, "9999_1", resolved.Name())
	require.Equal(t, uint32(1), resolved.DeviceID())
}

func TestSessionAddressUnaffectedWithoutMapping(t *testing.T) {
	b, _ := newTestBinding(t, nil)
	addr := protocol.NewSignalAddress("15559999999", 1)
	resolved := b.resolveAddress(context.Background(), addr)
	require.Equal(t, addr.Name(), resolved.Name())
}

func TestIsTrustedIdentityAlwaysTrue(t *testing.T) {
	b, _ := newTestBinding(t, nil)
	pub, _ := ecc.GenerateKeyPair()
	trusted, err := b.IsTrustedIdentity(context.Background(), protocol.NewSignalAddress("x", 1), identity.NewKey(pub))
	require.NoError(t, err)
	require.True(t, trusted)
}

func TestPreKeyAbsentByDefault(t *testing.T) {
	b, _ := newTestBinding(t, nil)
	ctx := context.Background()

	has, err := b.ContainsPreKey(ctx, 5)
	require.NoError(t, err)
	require.False(t, has)

	require.NoError(t, b.RemovePreKey(ctx, 5)) // removing an absent key must not error
}

package devices

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaywire/wacore/keystore"
	"github.com/relaywire/wacore/lidmap"
	"github.com/relaywire/wacore/types"
	"github.com/relaywire/wacore/walog"
)

type fakeTransport struct {
	resp types.Node
	err  error
}

func (f *fakeTransport) SendIQ(ctx context.Context, iq types.Node) (types.Node, error) {
	return f.resp, f.err
}

func deviceListResponse(user types.JID, devices []int64, lid string) types.Node {
	var deviceNodes []types.Node
	for _, d := range devices {
		deviceNodes = append(deviceNodes, types.Node{Tag: "device", Attrs: map[string]any{"id": d}})
	}
	userNode := types.Node{
		Tag:   "user",
		Attrs: map[string]any{"jid": user},
		Content: []types.Node{
			{Tag: "devices", Content: []types.Node{{Tag: "device-list", Content: deviceNodes}}},
		},
	}
	if lid != "" {
		userNode.Content = append(userNode.Children(), types.Node{Tag: "lid", Attrs: map[string]any{"val": lid}})
	}
	return types.Node{
		Tag: "iq",
		Content: []types.Node{{
			Tag: "usync",
			Content: []types.Node{{
				Tag:     "list",
				Content: []types.Node{userNode},
			}},
		}},
	}
}

func newTestDirectory(t *testing.T, transport *fakeTransport) (*Directory, *keystore.SQLiteStore) {
	t.Helper()
	ks, err := keystore.Open(":memory:", walog.Noop())
	require.NoError(t, err)
	t.Cleanup(func() { ks.Close() })
	lid := lidmap.New(ks, nil, walog.Noop(), 0)
	dir := New(ks, transport, lid, nil, walog.Noop(), 0, func() string { return "req1" })
	return dir, ks
}

func TestGetDevicesExplicitDevicePassesThrough(t *testing.T) {
	dir, _ := newTestDirectory(t, &fakeTransport{})
	jid := types.MustJID("15551234567", 3, types.DefaultUserServer)

	result, err := dir.GetDevices(context.Background(), []types.JID{jid}, true, false)
	require.NoError(t, err)
	require.Equal(t, []types.JID{jid}, result)
}

func TestGetDevicesFetchesAndCaches(t *testing.T) {
	user := types.MustJID("15551234567", 0, types.DefaultUserServer)
	transport := &fakeTransport{resp: deviceListResponse(user, []int64{0, 1, 2}, "")}
	dir, ks := newTestDirectory(t, transport)

	result, err := dir.GetDevices(context.Background(), []types.JID{user}, true, false)
	require.NoError(t, err)
	require.Len(t, result, 3)

	stored, err := ks.Get(context.Background(), keystore.ColumnDeviceList, []string{user.User})
	require.NoError(t, err)
	var devices []uint16
	require.NoError(t, json.Unmarshal(stored[user.User], &devices))
	require.ElementsMatch(t, []uint16{0, 1, 2}, devices)

	// Second call should be served from cache, without hitting the
	// transport again: the transport now fails, so the call can only
	// succeed from the cache.
	transport.err = context.Canceled
	result2, err := dir.GetDevices(context.Background(), []types.JID{user}, true, false)
	require.NoError(t, err)
	require.Len(t, result2, 3)
}

func TestGetDevicesIgnoreZeroDevicesFiltersPrimary(t *testing.T) {
	user := types.MustJID("15551234567", 0, types.DefaultUserServer)
	transport := &fakeTransport{resp: deviceListResponse(user, []int64{0, 1}, "")}
	dir, _ := newTestDirectory(t, transport)

	result, err := dir.GetDevices(context.Background(), []types.JID{user}, false, true)
	require.NoError(t, err)
	require.Len(t, result, 1)
	require.EqualValues(t, 1, result[0].Device)
}

func TestGetDevicesStoresLIDMappings(t *testing.T) {
	user := types.MustJID("15551234567", 0, types.DefaultUserServer)
	transport := &fakeTransport{resp: deviceListResponse(user, []int64{0}, "9999")}
	dir, ks := newTestDirectory(t, transport)

	_, err := dir.GetDevices(context.Background(), []types.JID{user}, false, false)
	require.NoError(t, err)

	stored, err := ks.Get(context.Background(), keystore.ColumnLIDMapping, []string{"pn:" + user.User})
	require.NoError(t, err)
	require.Equal(t, "9999", string(stored["pn:"+user.User]))
}

func TestGetDevicesNoLookupUsersReturnsEarly(t *testing.T) {
	dir, _ := newTestDirectory(t, &fakeTransport{})
	jid := types.MustJID("15551234567", 5, types.DefaultUserServer)

	result, err := dir.GetDevices(context.Background(), []types.JID{jid, jid}, true, false)
	require.NoError(t, err)
	require.Len(t, result, 2)
}

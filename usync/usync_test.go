package usync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaywire/wacore/types"
)

type fakeTransport struct {
	resp types.Node
	err  error
	sent types.Node
}

func (f *fakeTransport) SendIQ(ctx context.Context, iq types.Node) (types.Node, error) {
	f.sent = iq
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

func TestQueryParsesDevices(t *testing.T) {
	user := types.MustJID("15551234567", 0, types.DefaultUserServer)
	transport := &fakeTransport{resp: deviceListResponse(user, []int64{0, 1, 2}, "")}

	result, err := Query(context.Background(), transport, "req1", []types.JID{user})
	require.NoError(t, err)
	require.Len(t, result.Devices, 1)
	require.ElementsMatch(t, []uint16{0, 1, 2}, result.Devices[0].Devices)
	require.Empty(t, result.LIDMappings)
}

func TestQueryIgnorePrimaryDropsDeviceZero(t *testing.T) {
	user := types.MustJID("15551234567", 0, types.DefaultUserServer)
	transport := &fakeTransport{resp: deviceListResponse(user, []int64{0, 1}, "")}

	result, err := Query(context.Background(), transport, "req1", []types.JID{user}, WithIgnorePrimary())
	require.NoError(t, err)
	require.ElementsMatch(t, []uint16{1}, result.Devices[0].Devices)
}

func TestQueryCollectsLIDMappings(t *testing.T) {
	user := types.MustJID("15551234567", 0, types.DefaultUserServer)
	transport := &fakeTransport{resp: deviceListResponse(user, []int64{0}, "9999")}

	result, err := Query(context.Background(), transport, "req1", []types.JID{user}, WithLIDProtocol())
	require.NoError(t, err)
	require.Len(t, result.LIDMappings, 1)
	require.Equal(t, "9999", result.LIDMappings[0].LID.User)
	require.Equal(t, user.User, result.LIDMappings[0].PN.User)
}

func TestQuerySendsUsyncStanza(t *testing.T) {
	user := types.MustJID("15551234567", 0, types.DefaultUserServer)
	transport := &fakeTransport{resp: deviceListResponse(user, nil, "")}

	_, err := Query(context.Background(), transport, "req1", []types.JID{user}, WithContext("message"))
	require.NoError(t, err)
	require.Equal(t, "iq", transport.sent.Tag)
	require.Equal(t, "get", transport.sent.Attrs["type"])
}

func TestQueryPropagatesTransportError(t *testing.T) {
	user := types.MustJID("15551234567", 0, types.DefaultUserServer)
	transport := &fakeTransport{err: errTransport}

	_, err := Query(context.Background(), transport, "req1", []types.JID{user})
	require.ErrorIs(t, err, errTransport)
}

var errTransport = errors.New("transport failed")

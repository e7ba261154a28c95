package groupmeta

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaywire/wacore/relayconfig"
	"github.com/relaywire/wacore/types"
)

type fakeTransport struct {
	resp  types.Node
	err   error
	calls int
}

func (f *fakeTransport) SendIQ(ctx context.Context, iq types.Node) (types.Node, error) {
	f.calls++
	return f.resp, f.err
}

func groupInfoResponse(jid types.JID, addressingMode string, participants []types.JID) types.Node {
	var participantNodes []types.Node
	for _, p := range participants {
		participantNodes = append(participantNodes, types.Node{
			Tag:   "participant",
			Attrs: map[string]any{"jid": p},
		})
	}
	return types.Node{
		Tag: "iq",
		Content: []types.Node{{
			Tag:     "group",
			Attrs:   map[string]any{"id": jid.User, "addressing_mode": addressingMode},
			Content: participantNodes,
		}},
	}
}

func TestGetGroupMetadataParsesParticipants(t *testing.T) {
	group := types.MustJID("group1", 0, types.GroupServer)
	participants := []types.JID{
		types.MustJID("111", 0, types.DefaultUserServer),
		types.MustJID("222", 0, types.DefaultUserServer),
	}
	transport := &fakeTransport{resp: groupInfoResponse(group, "lid", participants)}
	p := New(transport, 0, func() string { return "req1" }, nil)

	meta, err := p.GetGroupMetadata(context.Background(), group, true)
	require.NoError(t, err)
	require.Equal(t, "lid", meta.AddressingMode)
	require.Len(t, meta.Participants, 2)
}

func TestGetGroupMetadataCachesAcrossCalls(t *testing.T) {
	group := types.MustJID("group1", 0, types.GroupServer)
	transport := &fakeTransport{resp: groupInfoResponse(group, "pn", nil)}
	p := New(transport, 0, func() string { return "req1" }, nil)

	_, err := p.GetGroupMetadata(context.Background(), group, true)
	require.NoError(t, err)
	_, err = p.GetGroupMetadata(context.Background(), group, true)
	require.NoError(t, err)
	require.Equal(t, 1, transport.calls)
}

func TestGetGroupMetadataBypassesCacheWhenDisabled(t *testing.T) {
	group := types.MustJID("group1", 0, types.GroupServer)
	transport := &fakeTransport{resp: groupInfoResponse(group, "pn", nil)}
	p := New(transport, 0, func() string { return "req1" }, nil)

	_, err := p.GetGroupMetadata(context.Background(), group, false)
	require.NoError(t, err)
	_, err = p.GetGroupMetadata(context.Background(), group, false)
	require.NoError(t, err)
	require.Equal(t, 2, transport.calls)
}

func TestGetGroupMetadataUsesHostCacheBeforeNetwork(t *testing.T) {
	group := types.MustJID("group1", 0, types.GroupServer)
	transport := &fakeTransport{resp: groupInfoResponse(group, "lid", nil)}
	hostMeta := &relayconfig.GroupMetadata{
		JID:             group.String(),
		AddressingMode:  "pn",
		ParticipantJIDs: []string{"111@s.whatsapp.net", "222@s.whatsapp.net"},
	}
	p := New(transport, 0, func() string { return "req1" }, func(jid string) (*relayconfig.GroupMetadata, bool) {
		require.Equal(t, group.String(), jid)
		return hostMeta, true
	})

	meta, err := p.GetGroupMetadata(context.Background(), group, true)
	require.NoError(t, err)
	require.Equal(t, "pn", meta.AddressingMode)
	require.Len(t, meta.Participants, 2)
	require.Zero(t, transport.calls)

	// A second lookup is served from the provider's own ttlcache, not
	// the host cache again.
	meta2, err := p.GetGroupMetadata(context.Background(), group, true)
	require.NoError(t, err)
	require.Equal(t, meta, meta2)
	require.Zero(t, transport.calls)
}

func TestGetGroupMetadataFallsBackToNetworkWhenHostCacheMisses(t *testing.T) {
	group := types.MustJID("group1", 0, types.GroupServer)
	participants := []types.JID{types.MustJID("111", 0, types.DefaultUserServer)}
	transport := &fakeTransport{resp: groupInfoResponse(group, "lid", participants)}
	p := New(transport, 0, func() string { return "req1" }, func(jid string) (*relayconfig.GroupMetadata, bool) {
		return nil, false
	})

	meta, err := p.GetGroupMetadata(context.Background(), group, true)
	require.NoError(t, err)
	require.Len(t, meta.Participants, 1)
	require.Equal(t, 1, transport.calls)
}

func TestGetGroupMetadataPropagatesErrorNode(t *testing.T) {
	group := types.MustJID("group1", 0, types.GroupServer)
	transport := &fakeTransport{resp: types.Node{
		Tag:     "iq",
		Content: []types.Node{{Tag: "error", Attrs: map[string]any{"code": "404"}}},
	}}
	p := New(transport, 0, func() string { return "req1" }, nil)

	_, err := p.GetGroupMetadata(context.Background(), group, true)
	require.Error(t, err)
}

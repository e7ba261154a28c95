package sessionassert

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mau.fi/libsignal/keys/prekey"

	"github.com/relaywire/wacore/signalrepo"
	"github.com/relaywire/wacore/types"
	"github.com/relaywire/wacore/walog"
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

type fakeSessionStore struct {
	statuses  map[string]signalrepo.SessionStatus
	injected  map[string]*prekey.Bundle
	validateN int
}

func (f *fakeSessionStore) ValidateSession(ctx context.Context, jid types.JID) (signalrepo.SessionStatus, error) {
	f.validateN++
	return f.statuses[jid.String()], nil
}

func (f *fakeSessionStore) InjectE2ESession(ctx context.Context, jid types.JID, bundle *prekey.Bundle) error {
	if f.injected == nil {
		f.injected = make(map[string]*prekey.Bundle)
	}
	f.injected[jid.String()] = bundle
	return nil
}

func keyIDBytes(id uint32) []byte {
	var buf [3]byte
	buf[0] = byte(id >> 16)
	buf[1] = byte(id >> 8)
	buf[2] = byte(id)
	return buf[:]
}

func fakePublicKeyBytes() []byte {
	raw := make([]byte, 33)
	raw[0] = 0x05
	for i := 1; i < 33; i++ {
		raw[i] = byte(i)
	}
	return raw
}

func encryptGetResponse(jid types.JID, regID uint32) types.Node {
	var regBuf [4]byte
	binary.BigEndian.PutUint32(regBuf[:], regID)

	userNode := types.Node{
		Tag:   "user",
		Attrs: map[string]any{"jid": jid},
		Content: []types.Node{
			{Tag: "registration", Content: regBuf[:]},
			{Tag: "keys", Content: []types.Node{
				{Tag: "identity", Content: fakePublicKeyBytes()},
				{Tag: "key", Content: []types.Node{
					{Tag: "id", Content: keyIDBytes(1)},
					{Tag: "value", Content: fakePublicKeyBytes()},
				}},
				{Tag: "skey", Content: []types.Node{
					{Tag: "id", Content: keyIDBytes(2)},
					{Tag: "value", Content: fakePublicKeyBytes()},
					{Tag: "signature", Content: bytes.Repeat([]byte{1}, 64)},
				}},
			}},
		},
	}
	return types.Node{
		Tag: "iq",
		Content: []types.Node{{
			Tag:     "list",
			Content: []types.Node{userNode},
		}},
	}
}

func newTestAsserter(t *testing.T, store *fakeSessionStore, transport *fakeTransport) *Asserter {
	t.Helper()
	return New(store, nil, transport, walog.Noop(), 0, func() string { return "req1" })
}

func TestAssertSessionsSkipsWhenAllExist(t *testing.T) {
	jid := types.MustJID("15551234567", 1, types.DefaultUserServer)
	store := &fakeSessionStore{statuses: map[string]signalrepo.SessionStatus{
		jid.String(): {Exists: true},
	}}
	transport := &fakeTransport{}
	asserter := newTestAsserter(t, store, transport)

	fetched, err := asserter.AssertSessions(context.Background(), []types.JID{jid}, false)
	require.NoError(t, err)
	require.False(t, fetched)
	require.Equal(t, 1, store.validateN)
}

func TestAssertSessionsFetchesMissingSession(t *testing.T) {
	jid := types.MustJID("15551234567", 1, types.DefaultUserServer)
	store := &fakeSessionStore{statuses: map[string]signalrepo.SessionStatus{
		jid.String(): {Exists: false, Reason: "no record"},
	}}
	transport := &fakeTransport{resp: encryptGetResponse(jid, 42)}
	asserter := newTestAsserter(t, store, transport)

	fetched, err := asserter.AssertSessions(context.Background(), []types.JID{jid}, false)
	require.NoError(t, err)
	require.True(t, fetched)
	require.Contains(t, store.injected, jid.String())
	require.Equal(t, "key", transport.sent.Content.([]types.Node)[0].Tag)
}

func TestAssertSessionsForcedAddsIdentityReason(t *testing.T) {
	jid := types.MustJID("15551234567", 1, types.DefaultUserServer)
	store := &fakeSessionStore{statuses: map[string]signalrepo.SessionStatus{}}
	transport := &fakeTransport{resp: encryptGetResponse(jid, 42)}
	asserter := newTestAsserter(t, store, transport)

	fetched, err := asserter.AssertSessions(context.Background(), []types.JID{jid}, true)
	require.NoError(t, err)
	require.True(t, fetched)
	keyNode := transport.sent.Content.([]types.Node)[0]
	require.Equal(t, "identity", keyNode.Attrs["reason"])
	// Forced mode bypasses ValidateSession entirely.
	require.Equal(t, 0, store.validateN)
}

func TestAssertSessionsDedupesInput(t *testing.T) {
	jid := types.MustJID("15551234567", 1, types.DefaultUserServer)
	store := &fakeSessionStore{statuses: map[string]signalrepo.SessionStatus{
		jid.String(): {Exists: true},
	}}
	transport := &fakeTransport{}
	asserter := newTestAsserter(t, store, transport)

	_, err := asserter.AssertSessions(context.Background(), []types.JID{jid, jid, jid}, false)
	require.NoError(t, err)
	require.Equal(t, 1, store.validateN)
}

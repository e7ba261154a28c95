package relay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaywire/wacore/keystore"
	"github.com/relaywire/wacore/relayerr"
	"github.com/relaywire/wacore/retry"
	"github.com/relaywire/wacore/signalrepo"
	"github.com/relaywire/wacore/types"
	"github.com/relaywire/wacore/walog"
)

type fakeTransport struct {
	sent []types.Node
	err  error
}

func (f *fakeTransport) SendMessage(ctx context.Context, node types.Node) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, node)
	return nil
}

type fakeRepo struct {
	encryptType string
	groupResult signalrepo.GroupEncryptResult
	err         error
}

func (f *fakeRepo) EncryptMessage(ctx context.Context, jid types.JID, plaintext []byte) (signalrepo.EncryptResult, error) {
	if f.err != nil {
		return signalrepo.EncryptResult{}, f.err
	}
	t := f.encryptType
	if t == "" {
		t = "msg"
	}
	return signalrepo.EncryptResult{Type: t, Ciphertext: append([]byte("ct:"), plaintext...)}, nil
}

func (f *fakeRepo) EncryptGroupMessage(ctx context.Context, group, meID types.JID, plaintext []byte) (signalrepo.GroupEncryptResult, error) {
	if f.err != nil {
		return signalrepo.GroupEncryptResult{}, f.err
	}
	if f.groupResult.Ciphertext != nil {
		return f.groupResult, nil
	}
	return signalrepo.GroupEncryptResult{Ciphertext: append([]byte("gct:"), plaintext...), SenderKeyDistributionMessage: []byte("skdm")}, nil
}

type fakeDevices struct {
	byUser map[string][]types.JID
}

func (f *fakeDevices) GetDevices(ctx context.Context, jids []types.JID, useCache, ignoreZeroDevices bool) ([]types.JID, error) {
	var out []types.JID
	for _, jid := range jids {
		out = append(out, f.byUser[jid.User]...)
	}
	return out, nil
}

type fakeSessions struct {
	called bool
	jids   []types.JID
}

func (f *fakeSessions) AssertSessions(ctx context.Context, jids []types.JID, force bool) (bool, error) {
	f.called = true
	f.jids = jids
	return len(jids) > 0, nil
}

type fakeGroups struct {
	meta GroupMetadata
	err  error
}

func (f *fakeGroups) GetGroupMetadata(ctx context.Context, jid types.JID, useCache bool) (GroupMetadata, error) {
	return f.meta, f.err
}

type fakeFanoutEncrypter struct {
	calls []types.JID
}

func (f *fakeFanoutEncrypter) EncryptMessage(ctx context.Context, jid types.JID, plaintext []byte) (signalrepo.EncryptResult, error) {
	f.calls = append(f.calls, jid)
	return signalrepo.EncryptResult{Type: "msg", Ciphertext: append([]byte("fct:"), plaintext...)}, nil
}

type fakeNewsletter struct{}

func (fakeNewsletter) Encode(message []byte) ([]byte, error) {
	return append([]byte("nl:"), message...), nil
}

type fakeOwnEvents struct {
	called bool
}

func (f *fakeOwnEvents) EmitAppend(ctx context.Context, dest types.JID, id string, plaintext []byte) {
	f.called = true
}

func newTestRelay(t *testing.T, transport *fakeTransport, repo *fakeRepo, devices *fakeDevices, sessions *fakeSessions, groups *fakeGroups, fenc *fakeFanoutEncrypter) (*Relay, *keystore.SQLiteStore) {
	t.Helper()
	ks, err := keystore.Open(":memory:", walog.Noop())
	require.NoError(t, err)
	t.Cleanup(func() { ks.Close() })

	self := SelfIdentity{
		PN:            types.MustJID("111", 0, types.DefaultUserServer),
		LID:           types.MustJID("911", 0, types.LIDServer),
		SendingDevice: 0,
	}

	return New(Deps{
		Repo:            repo,
		Devices:         devices,
		Sessions:        sessions,
		Groups:          groups,
		FanoutEncrypter: fenc,
		Newsletter:      fakeNewsletter{},
		Transport:       transport,
		KeyStore:        ks,
		RetryManager:    retry.New(0, 0),
		OwnEvents:       &fakeOwnEvents{},
		Self:            self,
		DeviceIdentity:  []byte("device-identity"),
		Log:             walog.Noop(),
	}), ks
}

func TestSendNewsletterEncodesPlaintext(t *testing.T) {
	transport := &fakeTransport{}
	r, _ := newTestRelay(t, transport, &fakeRepo{}, &fakeDevices{}, &fakeSessions{}, &fakeGroups{}, &fakeFanoutEncrypter{})

	to := types.MustJID("555", 0, types.NewsletterServer)
	err := r.Send(context.Background(), to, []byte("hello"), SendOptions{})
	require.NoError(t, err)
	require.Len(t, transport.sent, 1)
	require.Equal(t, "message", transport.sent[0].Tag)
	plaintextNode := transport.sent[0].Children()[0]
	require.Equal(t, "plaintext", plaintextNode.Tag)
	require.Equal(t, []byte("nl:hello"), plaintextNode.Content)
}

func TestSendRetryGroupAddressing(t *testing.T) {
	transport := &fakeTransport{}
	r, _ := newTestRelay(t, transport, &fakeRepo{encryptType: "msg"}, &fakeDevices{}, &fakeSessions{}, &fakeGroups{}, &fakeFanoutEncrypter{})

	group := types.MustJID("group1", 0, types.GroupServer)
	target := types.MustJID("222", 1, types.DefaultUserServer)
	err := r.Send(context.Background(), group, []byte("retrymsg"), SendOptions{Participant: &target})
	require.NoError(t, err)
	require.Len(t, transport.sent, 1)
	attrs := transport.sent[0].Attrs
	require.Equal(t, group, attrs["to"])
	require.Equal(t, target, attrs["participant"])
	// device_fanout=false is a 1:1-retry attribute; a group-participant
	// retry must not carry it.
	require.NotContains(t, attrs, "device_fanout")
}

func TestSendRetrySelfTargetUsesRecipientAttr(t *testing.T) {
	transport := &fakeTransport{}
	r, _ := newTestRelay(t, transport, &fakeRepo{encryptType: "pkmsg"}, &fakeDevices{}, &fakeSessions{}, &fakeGroups{}, &fakeFanoutEncrypter{})

	originalDest := types.MustJID("333", 0, types.DefaultUserServer)
	ownDevice := types.MustJID("111", 5, types.DefaultUserServer)
	err := r.Send(context.Background(), originalDest, []byte("retrymsg"), SendOptions{Participant: &ownDevice})
	require.NoError(t, err)
	attrs := transport.sent[0].Attrs
	require.Equal(t, ownDevice, attrs["to"])
	require.Equal(t, originalDest.String(), attrs["recipient"])
	require.Equal(t, "false", attrs["device_fanout"])
	// pkmsg retries must carry a device-identity node.
	var sawDeviceIdentity bool
	for _, c := range transport.sent[0].Children() {
		if c.Tag == "device-identity" {
			sawDeviceIdentity = true
		}
	}
	require.True(t, sawDeviceIdentity)
}

func TestSendRetryDefaultSetsDeviceFanoutFalse(t *testing.T) {
	transport := &fakeTransport{}
	r, _ := newTestRelay(t, transport, &fakeRepo{encryptType: "msg"}, &fakeDevices{}, &fakeSessions{}, &fakeGroups{}, &fakeFanoutEncrypter{})

	originalDest := types.MustJID("333", 0, types.DefaultUserServer)
	otherDevice := types.MustJID("333", 2, types.DefaultUserServer)
	err := r.Send(context.Background(), originalDest, []byte("retrymsg"), SendOptions{Participant: &otherDevice})
	require.NoError(t, err)
	attrs := transport.sent[0].Attrs
	require.Equal(t, otherDevice, attrs["to"])
	require.NotContains(t, attrs, "recipient")
	require.Equal(t, "false", attrs["device_fanout"])
}

func TestSendGroupFansOutSenderKeyOnce(t *testing.T) {
	transport := &fakeTransport{}
	devices := &fakeDevices{byUser: map[string][]types.JID{
		"222": {types.MustJID("222", 1, types.DefaultUserServer)},
		"333": {types.MustJID("333", 1, types.DefaultUserServer)},
	}}
	groups := &fakeGroups{meta: GroupMetadata{
		Participants: []types.JID{
			types.MustJID("222", 0, types.DefaultUserServer),
			types.MustJID("333", 0, types.DefaultUserServer),
		},
	}}
	fenc := &fakeFanoutEncrypter{}
	r, _ := newTestRelay(t, transport, &fakeRepo{}, devices, &fakeSessions{}, groups, fenc)

	group := types.MustJID("group1", 0, types.GroupServer)
	err := r.Send(context.Background(), group, []byte("groupmsg"), SendOptions{})
	require.NoError(t, err)
	require.Len(t, fenc.calls, 2)
	require.Equal(t, "lid", transport.sent[0].Attrs["addressing_mode"])
	require.NotContains(t, transport.sent[0].Attrs, "phash")

	// Second send to the same group should skip devices already in
	// sender-key memory.
	fenc.calls = nil
	err = r.Send(context.Background(), group, []byte("groupmsg2"), SendOptions{})
	require.NoError(t, err)
	require.Empty(t, fenc.calls)
}

func TestSendDirectAssertsSessionsAndFansOut(t *testing.T) {
	transport := &fakeTransport{}
	devices := &fakeDevices{byUser: map[string][]types.JID{
		"111": {types.MustJID("111", 0, types.DefaultUserServer)},
		"444": {types.MustJID("444", 0, types.DefaultUserServer), types.MustJID("444", 2, types.DefaultUserServer)},
	}}
	sessions := &fakeSessions{}
	fenc := &fakeFanoutEncrypter{}
	r, _ := newTestRelay(t, transport, &fakeRepo{}, devices, sessions, &fakeGroups{}, fenc)

	to := types.MustJID("444", 0, types.DefaultUserServer)
	err := r.Send(context.Background(), to, []byte("hi"), SendOptions{})
	require.NoError(t, err)
	require.True(t, sessions.called)
	require.Len(t, fenc.calls, 2)
	require.Len(t, transport.sent, 1)
}

func TestSendPeerDataOperationRequiresSelf(t *testing.T) {
	transport := &fakeTransport{}
	r, _ := newTestRelay(t, transport, &fakeRepo{}, &fakeDevices{}, &fakeSessions{}, &fakeGroups{}, &fakeFanoutEncrypter{})
	r.self = SelfIdentity{}

	to := types.MustJID("555", 0, types.DefaultUserServer)
	err := r.Send(context.Background(), to, []byte("peerop"), SendOptions{Category: "peer"})
	require.ErrorIs(t, err, relayerr.ErrAuthenticationMissing)
}

func TestSendPeerDataOperationSucceeds(t *testing.T) {
	transport := &fakeTransport{}
	r, _ := newTestRelay(t, transport, &fakeRepo{encryptType: "pkmsg"}, &fakeDevices{}, &fakeSessions{}, &fakeGroups{}, &fakeFanoutEncrypter{})

	to := types.MustJID("555", 0, types.DefaultUserServer)
	err := r.Send(context.Background(), to, []byte("peerop"), SendOptions{Category: "peer"})
	require.NoError(t, err)
	require.Equal(t, "peer", transport.sent[0].Attrs["category"])
}

func TestSendTransportFailureWraps(t *testing.T) {
	transport := &fakeTransport{err: context.DeadlineExceeded}
	r, _ := newTestRelay(t, transport, &fakeRepo{}, &fakeDevices{}, &fakeSessions{}, &fakeGroups{}, &fakeFanoutEncrypter{})

	to := types.MustJID("555", 0, types.NewsletterServer)
	err := r.Send(context.Background(), to, []byte("hello"), SendOptions{})
	require.ErrorIs(t, err, relayerr.ErrTransportFailure)
}

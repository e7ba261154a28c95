package fanout

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaywire/wacore/signalrepo"
	"github.com/relaywire/wacore/types"
)

type fakeEncrypter struct {
	byRecipient map[string]signalrepo.EncryptResult
	calls       map[string][]byte
}

func newFakeEncrypter() *fakeEncrypter {
	return &fakeEncrypter{byRecipient: map[string]signalrepo.EncryptResult{}, calls: map[string][]byte{}}
}

func (f *fakeEncrypter) EncryptMessage(ctx context.Context, jid types.JID, plaintext []byte) (signalrepo.EncryptResult, error) {
	f.calls[jid.String()] = plaintext
	if res, ok := f.byRecipient[jid.String()]; ok {
		return res, nil
	}
	return signalrepo.EncryptResult{Type: "msg", Ciphertext: plaintext}, nil
}

func TestCreateParticipantNodesEncryptsEachRecipient(t *testing.T) {
	recipients := []types.JID{
		types.MustJID("111", 1, types.DefaultUserServer),
		types.MustJID("222", 1, types.DefaultUserServer),
	}
	enc := newFakeEncrypter()

	result, err := CreateParticipantNodes(context.Background(), enc, SelfIdentity{}, recipients, []byte("hello"), nil, nil)
	require.NoError(t, err)
	require.Len(t, result.Nodes, 2)
	require.False(t, result.ShouldIncludeDeviceIdentity)
	require.Equal(t, []byte("hello"), enc.calls["111:1@s.whatsapp.net"])
	require.Equal(t, []byte("hello"), enc.calls["222:1@s.whatsapp.net"])
}

func TestCreateParticipantNodesSetsDeviceIdentityFlagOnPreKey(t *testing.T) {
	recipients := []types.JID{types.MustJID("111", 1, types.DefaultUserServer)}
	enc := newFakeEncrypter()
	enc.byRecipient["111:1@s.whatsapp.net"] = signalrepo.EncryptResult{Type: "pkmsg", Ciphertext: []byte("ct")}

	result, err := CreateParticipantNodes(context.Background(), enc, SelfIdentity{}, recipients, []byte("hello"), nil, nil)
	require.NoError(t, err)
	require.True(t, result.ShouldIncludeDeviceIdentity)
}

func TestCreateParticipantNodesSubstitutesDSMForOwnNonExactDevice(t *testing.T) {
	recipients := []types.JID{
		types.MustJID("self", 1, types.DefaultUserServer), // own, different device -> DSM
		types.MustJID("self", 5, types.DefaultUserServer), // own, exact sending device -> excluded from DSM
		types.MustJID("other", 1, types.DefaultUserServer),
	}
	self := SelfIdentity{PNUser: "self", SendingDevice: 5}
	enc := newFakeEncrypter()

	_, err := CreateParticipantNodes(context.Background(), enc, self, recipients, []byte("plain"), nil, []byte("dsm"))
	require.NoError(t, err)
	require.Equal(t, []byte("dsm"), enc.calls["self:1@s.whatsapp.net"])
	require.Equal(t, []byte("plain"), enc.calls["self:5@s.whatsapp.net"])
	require.Equal(t, []byte("plain"), enc.calls["other:1@s.whatsapp.net"])
}

func TestCreateParticipantNodesAppliesSinglePatchToAll(t *testing.T) {
	recipients := []types.JID{
		types.MustJID("111", 1, types.DefaultUserServer),
		types.MustJID("222", 1, types.DefaultUserServer),
	}
	enc := newFakeEncrypter()
	patch := func(message []byte, recipients []types.JID) ([][]byte, error) {
		return [][]byte{[]byte("patched")}, nil
	}

	_, err := CreateParticipantNodes(context.Background(), enc, SelfIdentity{}, recipients, []byte("hello"), patch, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("patched"), enc.calls["111:1@s.whatsapp.net"])
	require.Equal(t, []byte("patched"), enc.calls["222:1@s.whatsapp.net"])
}

func TestCreateParticipantNodesAppliesPerRecipientPatch(t *testing.T) {
	recipients := []types.JID{
		types.MustJID("111", 1, types.DefaultUserServer),
		types.MustJID("222", 1, types.DefaultUserServer),
	}
	enc := newFakeEncrypter()
	patch := func(message []byte, recipients []types.JID) ([][]byte, error) {
		return [][]byte{[]byte("for-111"), []byte("for-222")}, nil
	}

	_, err := CreateParticipantNodes(context.Background(), enc, SelfIdentity{}, recipients, []byte("hello"), patch, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("for-111"), enc.calls["111:1@s.whatsapp.net"])
	require.Equal(t, []byte("for-222"), enc.calls["222:1@s.whatsapp.net"])
}

func TestCreateParticipantNodesPropagatesEncryptError(t *testing.T) {
	recipients := []types.JID{types.MustJID("111", 1, types.DefaultUserServer)}
	enc := &erroringEncrypter{}

	_, err := CreateParticipantNodes(context.Background(), enc, SelfIdentity{}, recipients, []byte("hello"), nil, nil)
	require.Error(t, err)
}

type erroringEncrypter struct{}

func (e *erroringEncrypter) EncryptMessage(ctx context.Context, jid types.JID, plaintext []byte) (signalrepo.EncryptResult, error) {
	return signalrepo.EncryptResult{}, fmt.Errorf("boom")
}

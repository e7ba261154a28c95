package relay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaywire/wacore/relayconfig"
	"github.com/relaywire/wacore/types"
)

func TestAdaptPatchMessageBeforeSendingNilIsNil(t *testing.T) {
	require.Nil(t, AdaptPatchMessageBeforeSending(nil))
}

func TestAdaptPatchMessageBeforeSendingSingleSharesAcrossRecipients(t *testing.T) {
	patcher := AdaptPatchMessageBeforeSending(func(message any, recipients []string) (relayconfig.PatchMessageResult, error) {
		require.Equal(t, []string{"111@s.whatsapp.net", "222@s.whatsapp.net"}, recipients)
		return relayconfig.PatchMessageResult{Single: []byte("patched")}, nil
	})

	recipients := []types.JID{
		types.MustJID("111", 0, types.DefaultUserServer),
		types.MustJID("222", 0, types.DefaultUserServer),
	}
	out, err := patcher([]byte("orig"), recipients)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("patched")}, out)
}

func TestAdaptPatchMessageBeforeSendingPerRecipient(t *testing.T) {
	patcher := AdaptPatchMessageBeforeSending(func(message any, recipients []string) (relayconfig.PatchMessageResult, error) {
		return relayconfig.PatchMessageResult{
			HasPerRecipient: true,
			PerRecipient: map[string]any{
				"111@s.whatsapp.net": []byte("for-111"),
				"222@s.whatsapp.net": []byte("for-222"),
			},
		}, nil
	})

	recipients := []types.JID{
		types.MustJID("111", 0, types.DefaultUserServer),
		types.MustJID("222", 0, types.DefaultUserServer),
	}
	out, err := patcher([]byte("orig"), recipients)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("for-111"), []byte("for-222")}, out)
}

func TestAdaptPatchMessageBeforeSendingMissingRecipientErrors(t *testing.T) {
	patcher := AdaptPatchMessageBeforeSending(func(message any, recipients []string) (relayconfig.PatchMessageResult, error) {
		return relayconfig.PatchMessageResult{
			HasPerRecipient: true,
			PerRecipient:    map[string]any{"111@s.whatsapp.net": []byte("for-111")},
		}, nil
	})

	recipients := []types.JID{
		types.MustJID("111", 0, types.DefaultUserServer),
		types.MustJID("222", 0, types.DefaultUserServer),
	}
	_, err := patcher([]byte("orig"), recipients)
	require.Error(t, err)
}

func TestAdaptPatchMessageBeforeSendingWrongTypeErrors(t *testing.T) {
	patcher := AdaptPatchMessageBeforeSending(func(message any, recipients []string) (relayconfig.PatchMessageResult, error) {
		return relayconfig.PatchMessageResult{Single: "not bytes"}, nil
	})

	_, err := patcher([]byte("orig"), []types.JID{types.MustJID("111", 0, types.DefaultUserServer)})
	require.Error(t, err)
}

func TestAdaptPatchMessageBeforeSendingPropagatesFuncError(t *testing.T) {
	wantErr := context.DeadlineExceeded
	patcher := AdaptPatchMessageBeforeSending(func(message any, recipients []string) (relayconfig.PatchMessageResult, error) {
		return relayconfig.PatchMessageResult{}, wantErr
	})

	_, err := patcher([]byte("orig"), []types.JID{types.MustJID("111", 0, types.DefaultUserServer)})
	require.ErrorIs(t, err, wantErr)
}

package relay

import (
	"fmt"

	"github.com/relaywire/wacore/fanout"
	"github.com/relaywire/wacore/relayconfig"
	"github.com/relaywire/wacore/types"
)

// AdaptPatchMessageBeforeSending adapts the host-supplied
// relayconfig.PatchMessageBeforeSendingFunc (spec.md §6's configuration
// surface) into a fanout.PreSendPatcher, so a relayconfig.Config's hook
// can be dropped straight into SendOptions.Patcher instead of every
// caller hand-rolling the []byte/string conversion. Returns nil for a
// nil fn, matching PreSendPatcher's own "nil means identity" contract.
func AdaptPatchMessageBeforeSending(fn relayconfig.PatchMessageBeforeSendingFunc) fanout.PreSendPatcher {
	if fn == nil {
		return nil
	}
	return func(message []byte, recipients []types.JID) ([][]byte, error) {
		recipientStrs := make([]string, len(recipients))
		for i, r := range recipients {
			recipientStrs[i] = r.String()
		}
		result, err := fn(message, recipientStrs)
		if err != nil {
			return nil, fmt.Errorf("patch message before sending: %w", err)
		}
		if !result.HasPerRecipient {
			patched, ok := result.Single.([]byte)
			if !ok {
				return nil, fmt.Errorf("patch message before sending: Single must be []byte, got %T", result.Single)
			}
			return [][]byte{patched}, nil
		}
		out := make([][]byte, len(recipients))
		for i, r := range recipientStrs {
			v, ok := result.PerRecipient[r]
			if !ok {
				return nil, fmt.Errorf("patch message before sending: missing per-recipient result for %s", r)
			}
			patched, ok := v.([]byte)
			if !ok {
				return nil, fmt.Errorf("patch message before sending: per-recipient result for %s must be []byte, got %T", r, v)
			}
			out[i] = patched
		}
		return out, nil
	}
}

package relay

import (
	"context"
	"fmt"

	"github.com/relaywire/wacore/keystore"
	"github.com/relaywire/wacore/types"
)

// senderKeyMemory tracks, per group, which devices have already
// received a sender-key distribution message — spec.md §4.8's "for
// each device not yet in sender-key memory" check, backed by the key
// store's dedicated `sender-key-memory` column (spec.md §6) rather than
// an in-process cache, so it survives a restart the same way session
// state does.
type senderKeyMemory struct {
	ks keystore.Store
}

func memoryKey(group, device types.JID) string {
	return group.User + "::" + device.ADString()
}

func (m *senderKeyMemory) HasSentTo(ctx context.Context, group, device types.JID) (bool, error) {
	key := memoryKey(group, device)
	found, err := m.ks.Get(ctx, keystore.ColumnSenderKeyMemory, []string{key})
	if err != nil {
		return false, fmt.Errorf("sender key memory lookup for %s/%s: %w", group, device, err)
	}
	raw, ok := found[key]
	return ok && raw != nil, nil
}

func (m *senderKeyMemory) MarkSent(ctx context.Context, group, device types.JID) error {
	key := memoryKey(group, device)
	return m.ks.Set(ctx, map[string]map[string][]byte{
		keystore.ColumnSenderKeyMemory: {key: []byte{1}},
	})
}

// Package keystore implements the external key-store contract from
// spec.md §6: named columns, transactional get/set, tag-scoped
// serializability.
package keystore

import "context"

// Column names recognized by the relay core (spec.md §6).
const (
	ColumnSession          = "session"
	ColumnPreKey           = "pre-key"
	ColumnSenderKey        = "sender-key"
	ColumnSenderKeyMemory  = "sender-key-memory"
	ColumnLIDMapping       = "lid-mapping"
	ColumnDeviceList       = "device-list"
	ColumnTCToken          = "tctoken"
)

// Store is the transactional key-value contract every other component
// is built against. nil values passed to Set delete the key.
type Store interface {
	// Get fetches the given keys from column. Missing keys are simply
	// absent from the result map (not an error).
	Get(ctx context.Context, column string, keys []string) (map[string][]byte, error)

	// Set writes (or, for a nil value, deletes) keys across one or more
	// columns in a single call.
	Set(ctx context.Context, sets map[string]map[string][]byte) error

	// Transaction serializes every call sharing the same tag and
	// commits atomically. Implementations without real transactional
	// semantics may degrade to invoking fn directly (spec.md §5), but
	// the SQLite-backed Store here provides the real thing.
	Transaction(ctx context.Context, tag string, fn func(ctx context.Context) error) error
}

// Package retry implements the message retry manager (C16): an
// expiring cache of the last-sent plaintext for each (destination,
// message id) pair, so an incoming retry receipt can be re-encrypted and
// resent without the caller having to keep its own history, per spec.md
// §4.8 ("Message retry manager... optional component"). Entries leave
// the cache only when their TTL expires or Forget is called; the number
// of cached messages is not limited.
package retry

import (
	"time"

	"github.com/relaywire/wacore/relayconfig"
	"github.com/relaywire/wacore/relayerr"
	"github.com/relaywire/wacore/ttlcache"
	"github.com/relaywire/wacore/types"
)

// entry is one cached send: the plaintext and how many retry attempts
// have consumed it so far.
type entry struct {
	plaintext []byte
	attempts  int
}

// Manager is the message retry manager. A nil *Manager is a valid
// no-op — Record is a no-op, Attempt always returns
// relayerr.ErrRetryUnknown, and Forget is a no-op — so wiring retry
// support is optional per spec.md §4.8 without every call site needing
// a nil check.
type Manager struct {
	cache      *ttlcache.Cache[string, *entry]
	maxRetries int
}

// New constructs a Manager. maxRetries <= 0 defaults to
// relayconfig.DefaultMaxMsgRetryCount; ttl <= 0 defaults to one day,
// comfortably longer than WhatsApp's retry-receipt window.
func New(maxRetries int, ttl time.Duration) *Manager {
	if maxRetries <= 0 {
		maxRetries = relayconfig.DefaultMaxMsgRetryCount
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		cache:      ttlcache.New[string, *entry](ttl),
		maxRetries: maxRetries,
	}
}

func cacheKey(dest types.JID, msgID string) string {
	return dest.String() + "|" + msgID
}

// Record caches plaintext as the last content sent to (dest, msgID),
// resetting its attempt counter. Call this right after a successful
// send.
func (m *Manager) Record(dest types.JID, msgID string, plaintext []byte) {
	if m == nil {
		return
	}
	m.cache.Set(cacheKey(dest, msgID), &entry{plaintext: append([]byte{}, plaintext...)})
}

// Attempt returns the cached plaintext for a retry of (dest, msgID) and
// increments its attempt counter, or relayerr.ErrRetryUnknown if
// nothing is cached, or relayerr.ErrRetryBudgetExceeded (evicting the
// entry) once maxRetries attempts have been spent.
func (m *Manager) Attempt(dest types.JID, msgID string) ([]byte, error) {
	if m == nil {
		return nil, relayerr.ErrRetryUnknown
	}
	key := cacheKey(dest, msgID)
	e, ok := m.cache.Get(key)
	if !ok {
		return nil, relayerr.ErrRetryUnknown
	}
	if e.attempts >= m.maxRetries {
		m.cache.Delete(key)
		return nil, relayerr.ErrRetryBudgetExceeded
	}
	e.attempts++
	return e.plaintext, nil
}

// Forget evicts any cached content for (dest, msgID), e.g. once the
// peer acknowledges successful delivery.
func (m *Manager) Forget(dest types.JID, msgID string) {
	if m == nil {
		return
	}
	m.cache.Delete(cacheKey(dest, msgID))
}

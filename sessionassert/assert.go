// Package sessionassert implements the session asserter (C7): ensuring
// a Signal session exists for every target address before an encrypt
// path runs, as described in spec.md §4.6.
package sessionassert

import (
	"context"
	"fmt"
	"time"

	"go.mau.fi/libsignal/keys/prekey"

	"github.com/relaywire/wacore/lidmap"
	"github.com/relaywire/wacore/relayconfig"
	"github.com/relaywire/wacore/signalrepo"
	"github.com/relaywire/wacore/ttlcache"
	"github.com/relaywire/wacore/types"
	"github.com/relaywire/wacore/walog"
)

// Transport is the out-of-scope IQ collaborator this package sends
// `encrypt` queries through.
type Transport interface {
	SendIQ(ctx context.Context, iq types.Node) (types.Node, error)
}

// SessionStore is the subset of signalrepo.Repo this package depends
// on, narrowed so tests can stub it without a real Signal store.
type SessionStore interface {
	ValidateSession(ctx context.Context, jid types.JID) (signalrepo.SessionStatus, error)
	InjectE2ESession(ctx context.Context, jid types.JID, bundle *prekey.Bundle) error
}

// Asserter is the session asserter (C7).
type Asserter struct {
	repo       SessionStore
	lid        *lidmap.Store
	transport  Transport
	log        walog.Logger
	peerCache  *ttlcache.Cache[string, bool]
	requestIDs func() string
}

// New constructs an Asserter.
func New(repo SessionStore, lid *lidmap.Store, transport Transport, log walog.Logger, cacheTTL time.Duration, requestIDs func() string) *Asserter {
	if cacheTTL <= 0 {
		cacheTTL = relayconfig.DefaultPeerSessionCacheTTL
	}
	return &Asserter{
		repo:       repo,
		lid:        lid,
		transport:  transport,
		log:        log,
		peerCache:  ttlcache.New[string, bool](cacheTTL, ttlcache.WithAccessRefresh[string, bool]()),
		requestIDs: requestIDs,
	}
}

func peerCacheKey(jid types.JID) string {
	return jid.String()
}

// AssertSessions is assertSessions (spec.md §4.6). Returns whether a
// prekey fetch actually happened.
func (a *Asserter) AssertSessions(ctx context.Context, jids []types.JID, force bool) (bool, error) {
	deduped := dedupe(jids)

	var needsFetch []types.JID
	for _, jid := range deduped {
		if force {
			needsFetch = append(needsFetch, jid)
			continue
		}
		if has, ok := a.peerCache.Get(peerCacheKey(jid)); ok {
			if !has {
				needsFetch = append(needsFetch, jid)
			}
			continue
		}
		status, err := a.repo.ValidateSession(ctx, jid)
		if err != nil {
			return false, fmt.Errorf("validate session for %s: %w", jid, err)
		}
		a.peerCache.Set(peerCacheKey(jid), status.Exists)
		if !status.Exists {
			needsFetch = append(needsFetch, jid)
		}
	}
	if len(needsFetch) == 0 {
		return false, nil
	}

	wireJIDs, wireToOriginal := a.translateToWire(ctx, needsFetch)

	iq := buildEncryptGetIQ(a.requestIDs(), wireJIDs, force)
	resp, err := a.transport.SendIQ(ctx, iq)
	if err != nil {
		return false, fmt.Errorf("send encrypt/get iq: %w", err)
	}

	bundles, err := parseKeyBundles(resp)
	if err != nil {
		return false, fmt.Errorf("parse encrypt/get response: %w", err)
	}

	for _, wireJID := range wireJIDs {
		bundle, ok := bundles[wireJID.String()]
		if !ok {
			a.log.Warnf("no prekey bundle returned for %s", wireJID)
			continue
		}
		if err := a.repo.InjectE2ESession(ctx, wireJID, bundle); err != nil {
			a.log.Warnf("failed to inject session for %s: %v", wireJID, err)
			continue
		}
		a.peerCache.Set(peerCacheKey(wireJID), true)
		if original, ok := wireToOriginal[wireJID.String()]; ok {
			a.peerCache.Set(peerCacheKey(original), true)
		}
	}
	return true, nil
}

// translateToWire maps each PN-addressed jid to its LID equivalent
// where one is known (spec.md §4.6 step 4), keeping the original
// address for anything unmapped. The returned map lets the caller mark
// both the wire address and the originally-requested address as
// session-bearing.
func (a *Asserter) translateToWire(ctx context.Context, jids []types.JID) ([]types.JID, map[string]types.JID) {
	wireToOriginal := make(map[string]types.JID, len(jids))
	if a.lid == nil {
		for _, jid := range jids {
			wireToOriginal[jid.String()] = jid
		}
		return jids, wireToOriginal
	}

	var pns []types.JID
	for _, jid := range jids {
		if !jid.IsLID() {
			pns = append(pns, jid)
		}
	}
	var pairs []lidmap.Pair
	if len(pns) > 0 {
		var err error
		pairs, err = a.lid.LIDsForPNs(ctx, pns)
		if err != nil {
			a.log.Warnf("failed to translate PN addresses to LID, using PN addresses: %v", err)
			pairs = nil
		}
	}
	lidByPNUser := make(map[string]types.JID, len(pairs))
	for _, pair := range pairs {
		lidByPNUser[pair.PN.User] = pair.LID
	}

	wire := make([]types.JID, 0, len(jids))
	for _, jid := range jids {
		target := jid
		if lid, ok := lidByPNUser[jid.User]; ok {
			target = lid
		}
		wire = append(wire, target)
		wireToOriginal[target.String()] = jid
	}
	return wire, wireToOriginal
}

func dedupe(jids []types.JID) []types.JID {
	seen := make(map[string]bool, len(jids))
	out := make([]types.JID, 0, len(jids))
	for _, jid := range jids {
		key := jid.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, jid)
	}
	return out
}

func buildEncryptGetIQ(requestID string, jids []types.JID, force bool) types.Node {
	userNodes := make([]types.Node, len(jids))
	for i, jid := range jids {
		userNodes[i] = types.Node{Tag: "user", Attrs: map[string]any{"jid": jid}}
	}
	keyAttrs := map[string]any{}
	if force {
		keyAttrs["reason"] = "identity"
	}
	return types.Node{
		Tag: "iq",
		Attrs: map[string]any{
			"id":    requestID,
			"xmlns": "encrypt",
			"type":  "get",
			"to":    serverJID,
		},
		Content: []types.Node{{
			Tag:     "key",
			Attrs:   keyAttrs,
			Content: userNodes,
		}},
	}
}

var serverJID = types.NewUserJID("", types.DefaultUserServer)

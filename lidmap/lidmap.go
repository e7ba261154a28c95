// Package lidmap implements the bidirectional PN↔LID user mapping
// described in spec.md §3/§4.2.
package lidmap

import (
	"context"
	"fmt"
	"time"

	"github.com/relaywire/wacore/keystore"
	"github.com/relaywire/wacore/relayerr"
	"github.com/relaywire/wacore/ttlcache"
	"github.com/relaywire/wacore/types"
	"github.com/relaywire/wacore/walog"
)

// Pair is one resolved PN↔LID association, device suffix preserved, as
// returned from LIDsForPNs (spec.md §4.2).
type Pair struct {
	PN  types.JID
	LID types.JID
}

// Resolver is the host-supplied delegate consulted on a persistent-store
// miss — typically a USync call (spec.md §4.2/§6). A nil Pair slice (or
// an error) is not cached negatively, per spec.md §9's Open Question.
type Resolver interface {
	ResolvePNs(ctx context.Context, pns []types.JID) ([]Pair, error)
}

// Store is the LID mapping store (C3).
type Store struct {
	ks       keystore.Store
	resolver Resolver
	log      walog.Logger

	pnCache  *ttlcache.Cache[string, string] // "pn:<user>"  -> lid user
	lidCache *ttlcache.Cache[string, string] // "lid:<user>" -> pn user
}

const mappingTxnTag = "lid-mapping"

// New constructs a Store. ttl is the cache TTL from spec.md §3 (3 days
// in production, access-refreshing on every hit).
func New(ks keystore.Store, resolver Resolver, log walog.Logger, ttl time.Duration) *Store {
	return &Store{
		ks:       ks,
		resolver: resolver,
		log:      log,
		pnCache:  ttlcache.New[string, string](ttl, ttlcache.WithAccessRefresh[string, string]()),
		lidCache: ttlcache.New[string, string](ttl, ttlcache.WithAccessRefresh[string, string]()),
	}
}

func pnCacheKey(user string) string  { return "pn:" + user }
func lidCacheKey(user string) string { return "lid:" + user }

// validate checks that exactly one side of pair is a PN and the other a
// LID (spec.md §3/§4.2).
func validate(pair Pair) error {
	if pair.PN.IsLID() || !pair.LID.IsLID() {
		return fmt.Errorf("%w: pn=%s lid=%s", relayerr.ErrMappingMismatch, pair.PN, pair.LID)
	}
	return nil
}

// Store persists pairs: each is validated, duplicates (already-stored,
// identical mappings) are skipped as a no-op, and the surviving pairs
// are written forward+reverse inside a single lid-mapping transaction
// (spec.md §4.2, invariant: "forward and reverse mapping entries always
// cover each other").
func (s *Store) Store(ctx context.Context, pairs []Pair) error {
	type write struct {
		pnUser, lidUser string
	}
	var writes []write
	for _, pair := range pairs {
		if err := validate(pair); err != nil {
			s.log.Warnf("skipping invalid LID/PN pair: %v", err)
			continue
		}
		existingLID, _ := s.pnCache.Get(pnCacheKey(pair.PN.User))
		if existingLID == pair.LID.User {
			continue // idempotent no-op, spec.md §8
		}
		writes = append(writes, write{pnUser: pair.PN.User, lidUser: pair.LID.User})
	}
	if len(writes) == 0 {
		return nil
	}
	err := s.ks.Transaction(ctx, mappingTxnTag, func(ctx context.Context) error {
		sets := map[string]map[string][]byte{
			keystore.ColumnLIDMapping: make(map[string][]byte, len(writes)*2),
		}
		for _, w := range writes {
			sets[keystore.ColumnLIDMapping]["pn:"+w.pnUser] = []byte(w.lidUser)
			sets[keystore.ColumnLIDMapping]["lid:"+w.lidUser+"_reverse"] = []byte(w.pnUser)
		}
		return s.ks.Set(ctx, sets)
	})
	if err != nil {
		return fmt.Errorf("store LID/PN mappings: %w", err)
	}
	for _, w := range writes {
		s.pnCache.Set(pnCacheKey(w.pnUser), w.lidUser)
		s.lidCache.Set(lidCacheKey(w.lidUser), w.pnUser)
	}
	return nil
}

// LIDForPN returns the LID JID mapped to pn, device suffix preserved.
func (s *Store) LIDForPN(ctx context.Context, pn types.JID) (types.JID, bool, error) {
	pairs, err := s.LIDsForPNs(ctx, []types.JID{pn})
	if err != nil {
		return types.JID{}, false, err
	}
	for _, p := range pairs {
		if p.PN.User == pn.User {
			return deviceJIDFor(p.LID, pn, types.LIDServer, types.HostedLIDServer), true, nil
		}
	}
	return types.JID{}, false, nil
}

// LIDsForPNs fills from cache, then the key store, then the resolver
// delegate, persisting anything the resolver teaches it (spec.md §4.2).
func (s *Store) LIDsForPNs(ctx context.Context, pns []types.JID) ([]Pair, error) {
	result := make([]Pair, 0, len(pns))
	var storeLookup []types.JID
	seen := make(map[string]bool, len(pns))

	for _, pn := range pns {
		if seen[pn.User] {
			continue
		}
		seen[pn.User] = true
		if lidUser, ok := s.pnCache.Get(pnCacheKey(pn.User)); ok {
			result = append(result, Pair{PN: pn, LID: deviceJIDFor(types.NewUserJID(lidUser, types.LIDServer), pn, types.LIDServer, types.HostedLIDServer)})
			continue
		}
		storeLookup = append(storeLookup, pn)
	}
	if len(storeLookup) == 0 {
		return result, nil
	}

	keys := make([]string, len(storeLookup))
	for i, pn := range storeLookup {
		keys[i] = "pn:" + pn.User
	}
	found, err := s.ks.Get(ctx, keystore.ColumnLIDMapping, keys)
	if err != nil {
		return nil, fmt.Errorf("lookup lid mappings: %w", err)
	}

	var unresolved []types.JID
	for _, pn := range storeLookup {
		value, ok := found["pn:"+pn.User]
		if !ok {
			unresolved = append(unresolved, pn)
			continue
		}
		lidUser := string(value)
		s.pnCache.Set(pnCacheKey(pn.User), lidUser)
		s.lidCache.Set(lidCacheKey(lidUser), pn.User)
		result = append(result, Pair{PN: pn, LID: deviceJIDFor(types.NewUserJID(lidUser, types.LIDServer), pn, types.LIDServer, types.HostedLIDServer)})
	}
	if len(unresolved) == 0 || s.resolver == nil {
		return result, nil
	}

	resolverInput := make([]types.JID, len(unresolved))
	for i, pn := range unresolved {
		resolverInput[i] = canonicalizeForResolver(pn)
	}
	resolved, err := s.resolver.ResolvePNs(ctx, resolverInput)
	if err != nil {
		// Best-effort: resolver failure is logged and swallowed, per
		// spec.md §7's "mapping ... persistence failures are logged
		// and swallowed" policy.
		s.log.Warnf("LID/PN resolver failed: %v", err)
		return result, nil
	}
	if len(resolved) == 0 {
		// Negative result: not cached, per spec.md §9's Open Question.
		return result, nil
	}
	if err := s.Store(ctx, resolved); err != nil {
		s.log.Warnf("failed to persist resolved LID/PN mappings: %v", err)
	}
	for _, pair := range resolved {
		for _, pn := range unresolved {
			if pair.PN.User == pn.User {
				result = append(result, Pair{PN: pn, LID: deviceJIDFor(pair.LID, pn, types.LIDServer, types.HostedLIDServer)})
			}
		}
	}
	return result, nil
}

// LIDUserForPNUser is the device-independent lookup the Signal storage
// binding (C4) needs to transparently redirect a PN-addressed session
// to its LID-addressed equivalent (spec.md §4.3). It consults cache and
// key store only — it never calls the resolver, since address
// resolution during encrypt/decrypt must not block on a network round
// trip.
func (s *Store) LIDUserForPNUser(ctx context.Context, pnUser string) (string, bool, error) {
	if lidUser, ok := s.pnCache.Get(pnCacheKey(pnUser)); ok {
		return lidUser, true, nil
	}
	found, err := s.ks.Get(ctx, keystore.ColumnLIDMapping, []string{"pn:" + pnUser})
	if err != nil {
		return "", false, fmt.Errorf("lookup lid mapping for %s: %w", pnUser, err)
	}
	value, ok := found["pn:"+pnUser]
	if !ok {
		return "", false, nil
	}
	lidUser := string(value)
	s.pnCache.Set(pnCacheKey(pnUser), lidUser)
	return lidUser, true, nil
}

// PNForLID returns the PN JID mapped to lid, device suffix preserved,
// on the appropriate server ("hosted" if the LID was a hosted LID, else
// "s.whatsapp.net").
func (s *Store) PNForLID(ctx context.Context, lid types.JID) (types.JID, bool, error) {
	pnUser, ok := s.lidCache.Get(lidCacheKey(lid.User))
	if !ok {
		found, err := s.ks.Get(ctx, keystore.ColumnLIDMapping, []string{"lid:" + lid.User + "_reverse"})
		if err != nil {
			return types.JID{}, false, fmt.Errorf("lookup reverse lid mapping: %w", err)
		}
		value, present := found["lid:"+lid.User+"_reverse"]
		if !present {
			return types.JID{}, false, nil
		}
		pnUser = string(value)
		s.lidCache.Set(lidCacheKey(lid.User), pnUser)
		s.pnCache.Set(pnCacheKey(pnUser), lid.User)
	}
	server := types.DefaultUserServer
	if lid.Server == types.HostedLIDServer {
		server = types.HostedServer
	}
	return deviceJIDFor(types.NewUserJID(pnUser, server), lid, server, server), true, nil
}

// deviceJIDFor appends the source JID's device to target's user,
// choosing server from the source's domain: device 99 ⇒ the hosted
// variant, else the plain variant (spec.md §3).
func deviceJIDFor(target types.JID, source types.JID, plainServer, hostedServer string) types.JID {
	server := plainServer
	if source.Device == types.HostedDeviceID {
		server = hostedServer
	}
	return types.JID{User: target.User, Device: source.Device, Server: server}
}

// canonicalizeForResolver normalizes a hosted-PN (device 99) JID to the
// canonical `<user>@s.whatsapp.net` form before handing it to the
// resolver delegate (spec.md §4.2).
func canonicalizeForResolver(pn types.JID) types.JID {
	if pn.Device == types.HostedDeviceID {
		return types.NewUserJID(pn.User, types.DefaultUserServer)
	}
	return pn.ToNonAD()
}

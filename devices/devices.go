// Package devices implements the device directory (C6): USync-driven
// device enumeration with per-user caching and device-list persistence,
// as described in spec.md §4.5.
package devices

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/relaywire/wacore/keystore"
	"github.com/relaywire/wacore/lidmap"
	"github.com/relaywire/wacore/relayconfig"
	"github.com/relaywire/wacore/signalrepo"
	"github.com/relaywire/wacore/ttlcache"
	"github.com/relaywire/wacore/types"
	"github.com/relaywire/wacore/usync"
	"github.com/relaywire/wacore/walog"
)

// SessionRefresher is consulted so newly-discovered LID mappings can
// force-refresh stale PN-addressed sessions (spec.md §4.5 step 4, see
// §4.6). Satisfied by signalrepo.Repo's MigrateSession.
type SessionRefresher interface {
	MigrateSession(ctx context.Context, fromPN, toLID types.JID) (signalrepo.MigrationResult, error)
}

// Directory is the device directory (C6).
type Directory struct {
	ks        keystore.Store
	transport usync.Transport
	lid       *lidmap.Store
	refresher SessionRefresher
	log       walog.Logger

	userCache  *ttlcache.Cache[string, []types.JID]
	requestIDs func() string
}

// New constructs a Directory. refresher may be nil (no force-refresh on
// newly discovered mappings, acceptable when the caller doesn't need
// §4.6's eager behavior).
func New(ks keystore.Store, transport usync.Transport, lid *lidmap.Store, refresher SessionRefresher, log walog.Logger, cacheTTL time.Duration, requestIDs func() string) *Directory {
	if cacheTTL <= 0 {
		cacheTTL = relayconfig.DefaultUserDevicesCacheTTL
	}
	return &Directory{
		ks:         ks,
		transport:  transport,
		lid:        lid,
		refresher:  refresher,
		log:        log,
		userCache:  ttlcache.New[string, []types.JID](cacheTTL),
		requestIDs: requestIDs,
	}
}

// GetDevices is getDevices (spec.md §4.5).
func (d *Directory) GetDevices(ctx context.Context, jids []types.JID, useCache, ignoreZeroDevices bool) ([]types.JID, error) {
	var result []types.JID
	var lookupUsers []types.JID
	seen := make(map[string]bool, len(jids))

	for _, jid := range jids {
		if jid.Device != 0 {
			result = append(result, jid)
			continue
		}
		if seen[jid.User] {
			continue
		}
		seen[jid.User] = true
		lookupUsers = append(lookupUsers, jid)
	}
	if len(lookupUsers) == 0 {
		return result, nil
	}

	var fetchUsers []types.JID
	if useCache {
		for _, u := range lookupUsers {
			if cached, ok := d.userCache.Get(u.User); ok {
				result = append(result, filterZeroDevices(cached, ignoreZeroDevices)...)
				continue
			}
			fetchUsers = append(fetchUsers, u)
		}
	} else {
		fetchUsers = lookupUsers
	}
	if len(fetchUsers) == 0 {
		return result, nil
	}

	res, err := usync.Query(ctx, d.transport, d.requestIDs(), fetchUsers,
		usync.WithContext("message"), usync.WithLIDProtocol())
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}

	if len(res.LIDMappings) > 0 && d.lid != nil {
		if err := d.lid.Store(ctx, res.LIDMappings); err != nil {
			d.log.Warnf("failed to persist LID mappings from usync: %v", err)
		}
		if d.refresher != nil {
			for _, pair := range res.LIDMappings {
				if _, err := d.refresher.MigrateSession(ctx, pair.PN, pair.LID); err != nil {
					d.log.Warnf("failed to force-refresh session for newly mapped %s -> %s: %v", pair.PN, pair.LID, err)
				}
			}
		}
	}

	for _, ud := range res.Devices {
		server := ud.User.Server
		deviceJIDs := make([]types.JID, 0, len(ud.Devices))
		for _, device := range ud.Devices {
			deviceJIDs = append(deviceJIDs, types.JID{User: ud.User.User, Device: device, Server: server})
		}
		d.userCache.Set(ud.User.User, deviceJIDs)
		result = append(result, filterZeroDevices(deviceJIDs, ignoreZeroDevices)...)

		encoded, err := json.Marshal(deviceNumbers(deviceJIDs))
		if err != nil {
			d.log.Warnf("failed to encode device list for %s: %v", ud.User.User, err)
			continue
		}
		if err := d.ks.Set(ctx, map[string]map[string][]byte{
			keystore.ColumnDeviceList: {ud.User.User: encoded},
		}); err != nil {
			d.log.Warnf("failed to persist device list for %s: %v", ud.User.User, err)
		}
	}
	return result, nil
}

func filterZeroDevices(devices []types.JID, ignoreZeroDevices bool) []types.JID {
	if !ignoreZeroDevices {
		return devices
	}
	out := make([]types.JID, 0, len(devices))
	for _, d := range devices {
		if d.Device != 0 {
			out = append(out, d)
		}
	}
	return out
}

func deviceNumbers(jids []types.JID) []uint16 {
	out := make([]uint16, len(jids))
	for i, j := range jids {
		out[i] = j.Device
	}
	return out
}

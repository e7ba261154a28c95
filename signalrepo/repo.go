// Package signalrepo implements the Signal repository (C5): transactional
// encrypt/decrypt/migration operations on top of signalstore's storage
// binding, as described in spec.md §4.4.
package signalrepo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.mau.fi/libsignal/groups"
	"go.mau.fi/libsignal/keys/prekey"
	"go.mau.fi/libsignal/protocol"
	"go.mau.fi/libsignal/session"

	"github.com/relaywire/wacore/keystore"
	"github.com/relaywire/wacore/lidmap"
	"github.com/relaywire/wacore/relayconfig"
	"github.com/relaywire/wacore/relayerr"
	"github.com/relaywire/wacore/signalstore"
	"github.com/relaywire/wacore/ttlcache"
	"github.com/relaywire/wacore/types"
	"github.com/relaywire/wacore/walog"
)

// EncryptResult is the outcome of encryptMessage (spec.md §4.4).
type EncryptResult struct {
	Type       string // "pkmsg" or "msg"
	Ciphertext []byte
}

// GroupEncryptResult is the outcome of encryptGroupMessage.
type GroupEncryptResult struct {
	Ciphertext                   []byte
	SenderKeyDistributionMessage []byte
}

// SessionStatus is the outcome of validateSession.
type SessionStatus struct {
	Exists bool
	Reason string
}

// MigrationResult is the outcome of migrateSession.
type MigrationResult struct {
	Migrated int
	Skipped  int
	Total    int
}

// Repo is the Signal repository (C5).
type Repo struct {
	ks      keystore.Store
	binding *signalstore.Binding
	lid     *lidmap.Store
	log     walog.Logger

	migrated *ttlcache.Cache[string, bool] // "<user>.<device>" -> migrated, spec.md §4.4 step 7
}

// New constructs a Repo. migratedTTL is the migrated-session cache
// window (spec.md §4.4 step 7); pass relayconfig.DefaultMigratedSessionTTL
// unless the caller overrides it.
func New(ks keystore.Store, binding *signalstore.Binding, lid *lidmap.Store, log walog.Logger, migratedTTL time.Duration) *Repo {
	if migratedTTL <= 0 {
		migratedTTL = relayconfig.DefaultMigratedSessionTTL
	}
	return &Repo{
		ks:       ks,
		binding:  binding,
		lid:      lid,
		log:      log,
		migrated: ttlcache.New[string, bool](migratedTTL, ttlcache.WithAccessRefresh[string, bool]()),
	}
}

// devKey mirrors signalstore's sessionKey(address) exactly: the real
// encrypt/decrypt path keys sessions by jid.SignalAddress().Name() (i.e.
// jid.SignalUser(), which appends "_1" for LID identities), not by the
// raw .User field, so every caller here must do the same or it ends up
// reading/writing a key the real path never touches.
func devKey(jid types.JID) string {
	return fmt.Sprintf("%s.%d", jid.SignalUser(), jid.Device)
}

func padMessage(plaintext []byte, randomByte func() byte) []byte {
	pad := randomByte() & 0xf
	if pad == 0 {
		pad = 0xf
	}
	return append(plaintext, bytes.Repeat([]byte{pad}, int(pad))...)
}

func unpadMessage(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("empty plaintext has no padding")
	}
	last := plaintext[len(plaintext)-1]
	if last == 0 {
		return nil, fmt.Errorf("plaintext doesn't have expected padding")
	}
	expected := bytes.Repeat([]byte{last}, int(last))
	if !bytes.HasSuffix(plaintext, expected) {
		return nil, fmt.Errorf("plaintext doesn't have expected padding")
	}
	return plaintext[:len(plaintext)-int(last)], nil
}

// EncryptMessage is encryptMessage (spec.md §4.4).
func (r *Repo) EncryptMessage(ctx context.Context, jid types.JID, data []byte) (EncryptResult, error) {
	var result EncryptResult
	err := r.ks.Transaction(ctx, jid.String(), func(ctx context.Context) error {
		addr := jid.SignalAddress()
		builder := session.NewBuilderFromSignal(r.binding, addr, serializer)
		cipher := session.NewCipher(builder, addr)
		padded := padMessage(data, randomPadByte)
		ciphertext, err := cipher.Encrypt(ctx, padded)
		if err != nil {
			return fmt.Errorf("encrypt message for %s: %w", jid, err)
		}
		encType := "msg"
		if ciphertext.Type() == protocol.PREKEY_TYPE {
			encType = "pkmsg"
		}
		result = EncryptResult{Type: encType, Ciphertext: ciphertext.Serialize()}
		return nil
	})
	return result, err
}

// DecryptMessage is decryptMessage (spec.md §4.4).
func (r *Repo) DecryptMessage(ctx context.Context, jid types.JID, msgType string, ciphertext []byte) ([]byte, error) {
	var plaintext []byte
	err := r.ks.Transaction(ctx, jid.String(), func(ctx context.Context) error {
		addr := jid.SignalAddress()
		builder := session.NewBuilderFromSignal(r.binding, addr, serializer)
		cipher := session.NewCipher(builder, addr)

		var padded []byte
		var err error
		switch msgType {
		case "pkmsg":
			msg, parseErr := protocol.NewPreKeySignalMessageFromBytes(ciphertext, serializer.PreKeySignalMessage, serializer.SignalMessage)
			if parseErr != nil {
				return fmt.Errorf("parse prekey message from %s: %w", jid, parseErr)
			}
			padded, _, err = cipher.DecryptMessageReturnKey(ctx, msg)
		case "msg":
			msg, parseErr := protocol.NewSignalMessageFromBytes(ciphertext, serializer.SignalMessage)
			if parseErr != nil {
				return fmt.Errorf("parse signal message from %s: %w", jid, parseErr)
			}
			padded, err = cipher.Decrypt(ctx, msg)
		default:
			return fmt.Errorf("%w: %s", relayerr.ErrUnknownMessageType, msgType)
		}
		if err != nil {
			return fmt.Errorf("decrypt message from %s: %w", jid, err)
		}
		plaintext, err = unpadMessage(padded)
		return err
	})
	return plaintext, err
}

// EncryptGroupMessage is encryptGroupMessage (spec.md §4.4).
func (r *Repo) EncryptGroupMessage(ctx context.Context, group, meID types.JID, data []byte) (GroupEncryptResult, error) {
	var result GroupEncryptResult
	err := r.ks.Transaction(ctx, group.String(), func(ctx context.Context) error {
		name := protocol.NewSenderKeyName(group.String(), meID.SignalAddress())
		builder := groups.NewGroupSessionBuilder(r.binding, serializer)

		has, err := r.binding.ContainsSenderKey(ctx, name)
		if err != nil {
			return fmt.Errorf("check sender key for %s/%s: %w", group, meID, err)
		}
		if !has {
			// spec.md §4.4: "if no sender-key record exists ... an empty
			// one is stored first."
			empty, err := r.binding.LoadSenderKey(ctx, name)
			if err != nil {
				return fmt.Errorf("build empty sender key for %s/%s: %w", group, meID, err)
			}
			if err := r.binding.StoreSenderKey(ctx, name, empty); err != nil {
				return fmt.Errorf("seed empty sender key for %s/%s: %w", group, meID, err)
			}
		}

		skdMsg, err := builder.Create(ctx, name)
		if err != nil {
			return fmt.Errorf("create sender key distribution message for %s: %w", group, err)
		}

		cipher := groups.NewGroupCipher(builder, name, r.binding)
		padded := padMessage(data, randomPadByte)
		encrypted, err := cipher.Encrypt(ctx, padded)
		if err != nil {
			return fmt.Errorf("encrypt group message for %s: %w", group, err)
		}

		result = GroupEncryptResult{
			Ciphertext:                   encrypted.SignedSerialize(),
			SenderKeyDistributionMessage: skdMsg.Serialize(),
		}
		return nil
	})
	return result, err
}

// DecryptGroupMessage is decryptGroupMessage (spec.md §4.4).
func (r *Repo) DecryptGroupMessage(ctx context.Context, group, author types.JID, msg []byte) ([]byte, error) {
	var plaintext []byte
	err := r.ks.Transaction(ctx, group.String(), func(ctx context.Context) error {
		name := protocol.NewSenderKeyName(group.String(), author.SignalAddress())
		builder := groups.NewGroupSessionBuilder(r.binding, serializer)
		cipher := groups.NewGroupCipher(builder, name, r.binding)

		parsed, err := protocol.NewSenderKeyMessageFromBytes(msg, serializer.SenderKeyMessage)
		if err != nil {
			return fmt.Errorf("parse group message from %s in %s: %w", author, group, err)
		}
		padded, err := cipher.Decrypt(ctx, parsed)
		if err != nil {
			return fmt.Errorf("decrypt group message from %s in %s: %w", author, group, err)
		}
		plaintext, err = unpadMessage(padded)
		return err
	})
	return plaintext, err
}

// ProcessSenderKeyDistributionMessage is processSenderKeyDistributionMessage
// (spec.md §4.4).
func (r *Repo) ProcessSenderKeyDistributionMessage(ctx context.Context, group, author types.JID, raw []byte) error {
	if group.User == "" {
		return fmt.Errorf("%w: sender key distribution message from %s", relayerr.ErrMissingGroupID, author)
	}
	return r.ks.Transaction(ctx, group.String(), func(ctx context.Context) error {
		name := protocol.NewSenderKeyName(group.String(), author.SignalAddress())
		builder := groups.NewGroupSessionBuilder(r.binding, serializer)

		has, err := r.binding.ContainsSenderKey(ctx, name)
		if err != nil {
			return fmt.Errorf("check sender key for %s/%s: %w", group, author, err)
		}
		if !has {
			empty, err := r.binding.LoadSenderKey(ctx, name)
			if err != nil {
				return fmt.Errorf("build empty sender key for %s/%s: %w", group, author, err)
			}
			if err := r.binding.StoreSenderKey(ctx, name, empty); err != nil {
				return fmt.Errorf("seed empty sender key for %s/%s: %w", group, author, err)
			}
		}

		sdkMsg, err := protocol.NewSenderKeyDistributionMessageFromBytes(raw, serializer.SenderKeyDistributionMessage)
		if err != nil {
			return fmt.Errorf("parse sender key distribution message from %s: %w", author, err)
		}
		if err := builder.Process(ctx, name, sdkMsg); err != nil {
			return fmt.Errorf("process sender key distribution message from %s: %w", author, err)
		}
		return nil
	})
}

// InjectE2ESession is injectE2ESession (spec.md §4.4).
func (r *Repo) InjectE2ESession(ctx context.Context, jid types.JID, bundle *prekey.Bundle) error {
	return r.ks.Transaction(ctx, jid.String(), func(ctx context.Context) error {
		addr := jid.SignalAddress()
		builder := session.NewBuilderFromSignal(r.binding, addr, serializer)
		if err := builder.ProcessBundle(ctx, bundle); err != nil {
			return fmt.Errorf("inject e2e session for %s: %w", jid, err)
		}
		return nil
	})
}

// ValidateSession is validateSession (spec.md §4.4).
func (r *Repo) ValidateSession(ctx context.Context, jid types.JID) (SessionStatus, error) {
	var status SessionStatus
	err := r.ks.Transaction(ctx, jid.String(), func(ctx context.Context) error {
		addr := jid.SignalAddress()
		rec, err := r.binding.LoadSession(ctx, addr)
		if err != nil {
			return fmt.Errorf("load session for %s: %w", jid, err)
		}
		if rec == nil || !hasOpenSession(rec.Serialize()) {
			status = SessionStatus{Exists: false, Reason: "no open session"}
			return nil
		}
		status = SessionStatus{Exists: true}
		return nil
	})
	return status, err
}

// emptySessionBytes is the serialized form of a session record with no
// state installed — the baseline hasOpenSession compares against, since
// the vendored record type exposes no direct "is open" predicate.
var emptySessionBytes = func() []byte {
	return sessionRecordBaseline()
}()

func hasOpenSession(serialized []byte) bool {
	return len(serialized) > 0 && !bytes.Equal(serialized, emptySessionBytes)
}

// DeleteSession is deleteSession (spec.md §4.4).
func (r *Repo) DeleteSession(ctx context.Context, jids []types.JID) error {
	if len(jids) == 0 {
		return nil
	}
	tag := fmt.Sprintf("delete-%d-sessions", len(jids))
	return r.ks.Transaction(ctx, tag, func(ctx context.Context) error {
		sets := make(map[string][]byte, len(jids))
		for _, jid := range jids {
			sets[devKey(jid)] = nil
		}
		return r.ks.Set(ctx, map[string]map[string][]byte{keystore.ColumnSession: sets})
	})
}

// deviceListKey returns the key-store key holding a user's persisted
// device list (a JSON-encoded []uint16), as maintained by the devices
// package (C6).
func deviceListKey(user string) string { return user }

// MigrateSession is migrateSession (spec.md §4.4): moves every open
// session for fromPN's devices onto toLID, preserving device numbers.
func (r *Repo) MigrateSession(ctx context.Context, fromPN, toLID types.JID) (MigrationResult, error) {
	var result MigrationResult

	// Loaded outside the transaction purely to size the transaction
	// tag ("migrate-<n>-sessions-<to-user>", spec.md §4.4); re-read
	// inside under the transaction below for the actual migration.
	preview, err := r.ks.Get(ctx, keystore.ColumnDeviceList, []string{deviceListKey(fromPN.User)})
	if err != nil {
		return result, fmt.Errorf("load device list for %s: %w", fromPN, err)
	}
	previewRaw, ok := preview[deviceListKey(fromPN.User)]
	if !ok {
		return result, nil // spec.md §4.4 step 1: no device list => noop
	}
	var previewDevices []uint16
	if err := json.Unmarshal(previewRaw, &previewDevices); err != nil {
		return result, fmt.Errorf("decode device list for %s: %w", fromPN, err)
	}

	tag := fmt.Sprintf("migrate-%d-sessions-%s", len(previewDevices), toLID.User)
	err = r.ks.Transaction(ctx, tag, func(ctx context.Context) error {
		found, err := r.ks.Get(ctx, keystore.ColumnDeviceList, []string{deviceListKey(fromPN.User)})
		if err != nil {
			return fmt.Errorf("load device list for %s: %w", fromPN, err)
		}
		raw, ok := found[deviceListKey(fromPN.User)]
		if !ok {
			return nil // device list disappeared between preview and transaction
		}
		var devices []uint16
		if err := json.Unmarshal(raw, &devices); err != nil {
			return fmt.Errorf("decode device list for %s: %w", fromPN, err)
		}
		if !containsDevice(devices, fromPN.Device) {
			devices = append(devices, fromPN.Device) // step 2
		}
		sort.Slice(devices, func(i, j int) bool { return devices[i] < devices[j] })

		var candidates []uint16
		for _, d := range devices {
			if migrated, ok := r.migrated.Get(devKey(fromPN.WithDevice(d))); ok && migrated {
				result.Skipped++
				continue
			}
			candidates = append(candidates, d)
		}
		result.Total = len(devices)

		if len(candidates) == 0 {
			return nil
		}

		keys := make([]string, len(candidates))
		for i, d := range candidates {
			keys[i] = devKey(fromPN.WithDevice(d))
		}
		sessions, err := r.ks.Get(ctx, keystore.ColumnSession, keys)
		if err != nil {
			return fmt.Errorf("batch load sessions for %s: %w", fromPN, err)
		}

		sets := make(map[string][]byte, len(candidates)*2)
		var migratedDevices []uint16
		for _, d := range candidates {
			raw, ok := sessions[devKey(fromPN.WithDevice(d))]
			if !ok || !hasOpenSession(raw) {
				continue
			}
			target := lidSessionTarget(toLID, d)
			sets[devKey(fromPN.WithDevice(d))] = nil
			sets[devKey(target)] = raw
			migratedDevices = append(migratedDevices, d)
		}
		if len(sets) == 0 {
			return nil
		}
		if err := r.ks.Set(ctx, map[string]map[string][]byte{keystore.ColumnSession: sets}); err != nil {
			return fmt.Errorf("migrate sessions from %s to %s: %w", fromPN, toLID, err)
		}
		for _, d := range migratedDevices {
			r.migrated.Set(devKey(fromPN.WithDevice(d)), true)
		}
		result.Migrated = len(migratedDevices)
		result.Skipped += len(candidates) - len(migratedDevices)
		return nil
	})
	return result, err
}

func containsDevice(devices []uint16, device uint16) bool {
	for _, d := range devices {
		if d == device {
			return true
		}
	}
	return false
}

// lidSessionTarget applies spec.md §4.4 step 5's device-transfer rule:
// preserve the device number, switch server to the LID/hosted.lid
// variant per the device-99 rule.
func lidSessionTarget(toLID types.JID, device uint16) types.JID {
	server := types.LIDServer
	if device == types.HostedDeviceID {
		server = types.HostedLIDServer
	}
	return types.JID{User: toLID.User, Device: device, Server: server}
}

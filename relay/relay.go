// Package relay implements the relay pipeline (C9): classifying a send
// target and assembling the final `<message>` stanza across the
// newsletter, retry-resend, group/status, direct 1:1, and
// peer-data-operation paths, as described in spec.md §4.8.
package relay

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/relaywire/wacore/fanout"
	"github.com/relaywire/wacore/keystore"
	"github.com/relaywire/wacore/relayerr"
	"github.com/relaywire/wacore/retry"
	"github.com/relaywire/wacore/signalrepo"
	"github.com/relaywire/wacore/types"
	"github.com/relaywire/wacore/walog"
)

// Transport is the out-of-scope collaborator this package hands the
// final assembled stanza to.
type Transport interface {
	SendMessage(ctx context.Context, node types.Node) error
}

// Repo is the narrow signalrepo.Repo surface the relay pipeline needs.
type Repo interface {
	EncryptMessage(ctx context.Context, jid types.JID, plaintext []byte) (signalrepo.EncryptResult, error)
	EncryptGroupMessage(ctx context.Context, group types.JID, meID types.JID, plaintext []byte) (signalrepo.GroupEncryptResult, error)
}

// DeviceDirectory is the devices.Directory surface this package needs.
type DeviceDirectory interface {
	GetDevices(ctx context.Context, jids []types.JID, useCache, ignoreZeroDevices bool) ([]types.JID, error)
}

// SessionAsserter is the sessionassert.Asserter surface this package needs.
type SessionAsserter interface {
	AssertSessions(ctx context.Context, jids []types.JID, force bool) (bool, error)
}

// GroupMetadataProvider resolves a group's participant list and
// addressing mode (cached where the caller allows it).
type GroupMetadataProvider interface {
	GetGroupMetadata(ctx context.Context, jid types.JID, useCache bool) (GroupMetadata, error)
}

// NewsletterCodec encodes an application message for the newsletter
// plaintext path. Newsletter content isn't Signal-encrypted (spec.md
// §4.8), so this is a pure encoding step, not a cipher.
type NewsletterCodec interface {
	Encode(message []byte) ([]byte, error)
}

// OwnEventSink replays a successful send locally as an "append" to the
// host's upsert stream, when SendOptions.EmitOwnEvents is set.
type OwnEventSink interface {
	EmitAppend(ctx context.Context, dest types.JID, id string, plaintext []byte)
}

// SelfIdentity identifies this device for own-device/own-user checks
// across the group and direct paths.
type SelfIdentity struct {
	PN            types.JID // own PN-addressed, device-0 JID
	LID           types.JID // own LID-addressed, device-0 JID
	SendingDevice uint16
}

func (s SelfIdentity) toFanout() fanout.SelfIdentity {
	return fanout.SelfIdentity{PNUser: s.PN.User, LIDUser: s.LID.User, SendingDevice: s.SendingDevice}
}

func (s SelfIdentity) isOwnUser(jid types.JID) bool {
	return jid.User == s.PN.User || jid.User == s.LID.User
}

// Relay is the relay pipeline (C9).
type Relay struct {
	repo            Repo
	devices         DeviceDirectory
	sessions        SessionAsserter
	groups          GroupMetadataProvider
	fanoutEncrypter fanout.Encrypter
	newsletter      NewsletterCodec
	transport       Transport
	ks              keystore.Store
	retryMgr        *retry.Manager
	ownEvents       OwnEventSink
	self            SelfIdentity
	deviceIdentity  []byte
	log             walog.Logger

	senderKeys *senderKeyMemory
}

// Deps bundles Relay's collaborators; every field but the truly
// optional ones (RetryManager, OwnEvents, DeviceIdentity) must be set.
type Deps struct {
	Repo            Repo
	Devices         DeviceDirectory
	Sessions        SessionAsserter
	Groups          GroupMetadataProvider
	FanoutEncrypter fanout.Encrypter
	Newsletter      NewsletterCodec
	Transport       Transport
	KeyStore        keystore.Store
	RetryManager    *retry.Manager
	OwnEvents       OwnEventSink
	Self            SelfIdentity
	DeviceIdentity  []byte
	Log             walog.Logger
}

// New constructs a Relay.
func New(deps Deps) *Relay {
	return &Relay{
		repo:            deps.Repo,
		devices:         deps.Devices,
		sessions:        deps.Sessions,
		groups:          deps.Groups,
		fanoutEncrypter: deps.FanoutEncrypter,
		newsletter:      deps.Newsletter,
		transport:       deps.Transport,
		ks:              deps.KeyStore,
		retryMgr:        deps.RetryManager,
		ownEvents:       deps.OwnEvents,
		self:            deps.Self,
		deviceIdentity:  deps.DeviceIdentity,
		log:             deps.Log,
		senderKeys:      &senderKeyMemory{ks: deps.KeyStore},
	}
}

// Send dispatches (jid, message, options) across one of the five paths
// in spec.md §4.8.
func (r *Relay) Send(ctx context.Context, to types.JID, message []byte, opts SendOptions) error {
	id := opts.MessageID
	if id == "" {
		id = uuid.NewString()
	}

	switch {
	case to.Server == types.NewsletterServer:
		return r.sendNewsletter(ctx, to, id, message, opts)
	case opts.Participant != nil:
		return r.sendRetry(ctx, to, id, message, opts)
	case to.Server == types.GroupServer || (to.Server == types.BroadcastServer && to.User == types.StatusBroadcastUser):
		return r.sendGroupOrStatus(ctx, to, id, message, opts)
	case opts.Category == "peer":
		return r.sendPeerDataOperation(ctx, to, id, message, opts)
	default:
		return r.sendDirect(ctx, to, id, message, opts)
	}
}

func messageTypeAttr(opts SendOptions) string {
	switch {
	case opts.IsPoll:
		return "poll"
	case opts.IsEvent:
		return "event"
	case opts.MediaSubtype != "":
		return "media"
	default:
		return "text"
	}
}

func mergeAttrs(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		if _, exists := out[k]; !exists {
			out[k] = v
		}
	}
	return out
}

func baseAttrs(id string, to types.JID, opts SendOptions) map[string]any {
	attrs := map[string]any{"id": id, "to": to, "type": messageTypeAttr(opts)}
	if opts.MediaSubtype != "" {
		attrs["mediatype"] = opts.MediaSubtype
	}
	if opts.Expiration != nil {
		attrs["expiration"] = *opts.Expiration
	}
	if opts.PushPriority != "" {
		attrs["push_priority"] = opts.PushPriority
	}
	if opts.MediaID != "" {
		attrs["media_id"] = opts.MediaID
	}
	return attrs
}

func appendDeviceIdentity(node *types.Node, identity []byte) {
	if len(identity) == 0 {
		return
	}
	children := node.Children()
	node.Content = append(children, types.Node{Tag: "device-identity", Content: identity})
}

// finalize sends the assembled node, records it for retry, and
// optionally replays it as a local own-event (spec.md §4.8 "Exit").
func (r *Relay) finalize(ctx context.Context, node types.Node, id string, dest types.JID, plaintext []byte, opts SendOptions) error {
	if err := r.transport.SendMessage(ctx, node); err != nil {
		return fmt.Errorf("%w: %v", relayerr.ErrTransportFailure, err)
	}
	r.retryMgr.Record(dest, id, plaintext)
	if opts.EmitOwnEvents && r.ownEvents != nil {
		r.ownEvents.EmitAppend(ctx, dest, id, plaintext)
	}
	return nil
}

// --- Newsletter ---

func (r *Relay) sendNewsletter(ctx context.Context, to types.JID, id string, message []byte, opts SendOptions) error {
	encoded, err := r.newsletter.Encode(message)
	if err != nil {
		return fmt.Errorf("encode newsletter message: %w", err)
	}
	attrs := mergeAttrs(baseAttrs(id, to, opts), opts.ExtraAttrs)
	content := append([]types.Node{{Tag: "plaintext", Content: encoded}}, opts.ExtraNodes...)
	node := types.Node{Tag: "message", Attrs: attrs, Content: content}
	return r.finalize(ctx, node, id, to, message, opts)
}

// --- Retry resend ---

func (r *Relay) sendRetry(ctx context.Context, to types.JID, id string, message []byte, opts SendOptions) error {
	target := *opts.Participant
	plaintext := message
	if r.self.isOwnUser(target) && opts.DSMPlaintext != nil {
		plaintext = opts.DSMPlaintext
	}

	encrypted, err := r.repo.EncryptMessage(ctx, target, plaintext)
	if err != nil {
		return fmt.Errorf("encrypt retry resend for %s: %w", target, err)
	}
	encNode := types.Node{
		Tag:     "enc",
		Attrs:   map[string]any{"v": "2", "type": encrypted.Type, "count": "1"},
		Content: encrypted.Ciphertext,
	}

	attrs := baseAttrs(id, to, opts)
	switch {
	case to.Server == types.GroupServer:
		attrs["to"] = to
		attrs["participant"] = target
	case r.self.isOwnUser(target):
		// device_fanout=false is scoped to the 1:1 retry case (spec.md
		// §4.8); it doesn't apply to a group-participant retry.
		attrs["device_fanout"] = "false"
		attrs["to"] = target
		attrs["recipient"] = to.String()
	default:
		attrs["device_fanout"] = "false"
		attrs["to"] = target
	}
	attrs = mergeAttrs(attrs, opts.ExtraAttrs)

	content := append([]types.Node{encNode}, opts.ExtraNodes...)
	node := types.Node{Tag: "message", Attrs: attrs, Content: content}
	if encrypted.Type == "pkmsg" {
		appendDeviceIdentity(&node, r.deviceIdentity)
	}
	return r.finalize(ctx, node, id, target, message, opts)
}

// --- Group / status broadcast ---

func (r *Relay) sendGroupOrStatus(ctx context.Context, to types.JID, id string, message []byte, opts SendOptions) error {
	isStatus := to.Server == types.BroadcastServer

	var participants []types.JID
	addressingMode := "lid"
	if isStatus {
		participants = opts.StatusParticipants
		addressingMode = "pn"
	} else {
		meta, err := r.groups.GetGroupMetadata(ctx, to, opts.UseCachedGroupMetadata)
		if err != nil {
			return fmt.Errorf("get group metadata for %s: %w", to, err)
		}
		participants = meta.Participants
		if meta.AddressingMode != "" {
			addressingMode = meta.AddressingMode
		}
	}
	if opts.AddressingMode != "" {
		addressingMode = opts.AddressingMode
	}

	senderIdentity := r.self.PN
	if addressingMode == "lid" {
		senderIdentity = r.self.LID
	}

	groupEnc, err := r.repo.EncryptGroupMessage(ctx, to, senderIdentity, message)
	if err != nil {
		return fmt.Errorf("encrypt group message for %s: %w", to, err)
	}

	deviceJIDs, err := r.devices.GetDevices(ctx, participants, true, true)
	if err != nil {
		return fmt.Errorf("enumerate participant devices for %s: %w", to, err)
	}

	var distributeTo []types.JID
	for _, device := range deviceJIDs {
		if device.IsHosted() || device.Device == types.HostedDeviceID {
			continue
		}
		sent, err := r.senderKeys.HasSentTo(ctx, to, device)
		if err != nil {
			return fmt.Errorf("check sender key memory for %s: %w", device, err)
		}
		if !sent {
			distributeTo = append(distributeTo, device)
		}
	}

	var participantNodes []types.Node
	includeIdentity := false
	if len(distributeTo) > 0 {
		result, err := fanout.CreateParticipantNodes(ctx, r.fanoutEncrypter, r.self.toFanout(), distributeTo, groupEnc.SenderKeyDistributionMessage, opts.Patcher, nil)
		if err != nil {
			return fmt.Errorf("fan out sender key distribution message for %s: %w", to, err)
		}
		participantNodes = result.Nodes
		includeIdentity = result.ShouldIncludeDeviceIdentity
		for _, device := range distributeTo {
			if err := r.senderKeys.MarkSent(ctx, to, device); err != nil {
				r.log.Warnf("failed to record sender key memory for %s: %v", device, err)
			}
		}
	}

	// phash is scoped to direct 1:1 sends (spec.md §4.8); group/status
	// stanzas never carry it.
	attrs := baseAttrs(id, to, opts)
	attrs["addressing_mode"] = addressingMode
	attrs = mergeAttrs(attrs, opts.ExtraAttrs)

	var content []types.Node
	if len(participantNodes) > 0 {
		content = append(content, types.Node{Tag: "participants", Content: participantNodes})
	}
	content = append(content, types.Node{
		Tag:     "enc",
		Attrs:   map[string]any{"v": "2", "type": "skmsg"},
		Content: groupEnc.Ciphertext,
	})
	content = append(content, opts.ExtraNodes...)

	node := types.Node{Tag: "message", Attrs: attrs, Content: content}
	if includeIdentity {
		appendDeviceIdentity(&node, r.deviceIdentity)
	}
	return r.finalize(ctx, node, id, to, message, opts)
}

// --- Direct 1:1 ---

func (r *Relay) sendDirect(ctx context.Context, to types.JID, id string, message []byte, opts SendOptions) error {
	self := r.self.PN
	if to.IsLID() {
		self = r.self.LID
	}

	ownDevices, err := r.devices.GetDevices(ctx, []types.JID{self.ToNonAD()}, true, false)
	if err != nil {
		return fmt.Errorf("enumerate own devices: %w", err)
	}
	theirDevices, err := r.devices.GetDevices(ctx, []types.JID{to.ToNonAD()}, true, false)
	if err != nil {
		return fmt.Errorf("enumerate devices for %s: %w", to, err)
	}

	var mine []types.JID
	for _, device := range ownDevices {
		if device.Device == r.self.SendingDevice {
			continue
		}
		mine = append(mine, device)
	}
	theirs := theirDevices

	all := make([]types.JID, 0, len(mine)+len(theirs))
	all = append(all, mine...)
	all = append(all, theirs...)

	if _, err := r.sessions.AssertSessions(ctx, all, opts.ForceIdentity); err != nil {
		return fmt.Errorf("assert sessions for %s: %w", to, err)
	}

	result, err := fanout.CreateParticipantNodes(ctx, r.fanoutEncrypter, r.self.toFanout(), all, message, opts.Patcher, opts.DSMPlaintext)
	if err != nil {
		return fmt.Errorf("fan out message to %s: %w", to, err)
	}

	attrs := baseAttrs(id, to, opts)
	if len(all) > 0 {
		attrs["phash"] = participantListHashV2(all)
	}
	attrs = mergeAttrs(attrs, opts.ExtraAttrs)

	content := []types.Node{{Tag: "participants", Content: result.Nodes}}
	if token, ok := r.tcToken(ctx, to); ok {
		content = append(content, types.Node{Tag: "tctoken", Content: token})
	}
	content = append(content, opts.ExtraNodes...)

	node := types.Node{Tag: "message", Attrs: attrs, Content: content}
	if result.ShouldIncludeDeviceIdentity {
		appendDeviceIdentity(&node, r.deviceIdentity)
	}
	return r.finalize(ctx, node, id, to, message, opts)
}

func (r *Relay) tcToken(ctx context.Context, to types.JID) ([]byte, bool) {
	found, err := r.ks.Get(ctx, keystore.ColumnTCToken, []string{to.User})
	if err != nil {
		r.log.Warnf("failed to read tctoken for %s: %v", to, err)
		return nil, false
	}
	token, ok := found[to.User]
	return token, ok && token != nil
}

// --- Peer data operation ---

func (r *Relay) sendPeerDataOperation(ctx context.Context, to types.JID, id string, message []byte, opts SendOptions) error {
	if r.self.PN.IsEmpty() && r.self.LID.IsEmpty() {
		return relayerr.ErrAuthenticationMissing
	}

	encrypted, err := r.repo.EncryptMessage(ctx, to, message)
	if err != nil {
		return fmt.Errorf("encrypt peer data operation for %s: %w", to, err)
	}

	attrs := baseAttrs(id, to, opts)
	attrs["category"] = "peer"
	attrs = mergeAttrs(attrs, opts.ExtraAttrs)

	content := append([]types.Node{{
		Tag:     "enc",
		Attrs:   map[string]any{"v": "2", "type": encrypted.Type},
		Content: encrypted.Ciphertext,
	}}, opts.ExtraNodes...)

	node := types.Node{Tag: "message", Attrs: attrs, Content: content}
	if encrypted.Type == "pkmsg" {
		appendDeviceIdentity(&node, r.deviceIdentity)
	}
	return r.finalize(ctx, node, id, to, message, opts)
}

package relay

import (
	"github.com/relaywire/wacore/fanout"
	"github.com/relaywire/wacore/types"
)

// GroupMetadata is the subset of group state the relay pipeline needs:
// its participant list and the addressing mode it should fan out under.
type GroupMetadata struct {
	JID            types.JID
	Participants   []types.JID
	AddressingMode string // "lid" or "pn"; empty defers to the group-path default ("lid")
}

// SendOptions configures one Send call. Every field is optional; zero
// values select spec.md §4.8's defaults.
type SendOptions struct {
	// MessageID overrides the generated message id.
	MessageID string

	// Participant marks this as a retry-resend: the single wire target
	// to re-encrypt and resend to (spec.md §4.8 "Retry resend").
	Participant *types.JID

	// Category selects the peer-data-operation path when set to "peer".
	Category string

	// StatusParticipants is the recipient list for a status-broadcast
	// send (to = status@broadcast); unused for group sends, which load
	// their participant list from group metadata.
	StatusParticipants []types.JID
	// AddressingMode overrides the group/status path's default
	// addressing mode ("lid" for groups, "pn" for status unless set).
	AddressingMode string
	// UseCachedGroupMetadata allows a cached group-metadata read rather
	// than forcing a fresh fetch.
	UseCachedGroupMetadata bool

	// DSMPlaintext is the pre-marshaled DeviceSentMessage-wrapped
	// plaintext for a direct 1:1 send's own-device recipients.
	// Marshaling the DeviceSentMessage proto itself is the host
	// application's message-codec concern, out of this module's scope
	// (spec.md §1's Non-goals exclude message-content codecs).
	DSMPlaintext []byte

	// ForceIdentity forces a session re-assert with reason=identity
	// even when the peer-session cache says a session already exists.
	ForceIdentity bool

	// Patcher is the host-provided pre-send patch hook (spec.md §4.7
	// step 1), threaded through to the fan-out stage.
	Patcher fanout.PreSendPatcher

	// IsPoll / IsEvent / MediaSubtype drive the type-attribute mapping
	// (spec.md §4.8's "type-attribute mapping" table).
	IsPoll       bool
	IsEvent      bool
	MediaSubtype string

	// Expiration, PushPriority, MediaID are passed straight through to
	// the root <message> attributes when set.
	Expiration   *int64
	PushPriority string
	MediaID      string

	// ExtraAttrs/ExtraNodes are caller-supplied additions to the root
	// message's attributes/content (spec.md §4.8's "additional
	// caller-supplied nodes").
	ExtraAttrs map[string]any
	ExtraNodes []types.Node

	// EmitOwnEvents, when true and a sink is configured, replays the
	// send locally as an append to the upsert stream after a
	// successful transport send (spec.md §4.8 "Exit").
	EmitOwnEvents bool
}

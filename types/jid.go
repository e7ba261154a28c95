// Package types holds the JID and wire-node vocabulary shared by every
// component of the relay core.
package types

import (
	"fmt"
	"strconv"
	"strings"

	"go.mau.fi/libsignal/protocol"

	"github.com/relaywire/wacore/relayerr"
)

// ErrInvalidJID re-exports relayerr.ErrInvalidJID for convenient
// errors.Is checks against values returned from this package.
var ErrInvalidJID = relayerr.ErrInvalidJID

// Server domains recognized by the relay core (spec.md §3).
const (
	DefaultUserServer = "s.whatsapp.net"
	LIDServer         = "lid"
	HostedServer      = "hosted"
	HostedLIDServer   = "hosted.lid"
	GroupServer       = "g.us"
	BroadcastServer   = "broadcast"
	NewsletterServer  = "newsletter"
	ServerServer      = "s.whatsapp.net"
)

// StatusBroadcastUser is the pseudo-user for the status broadcast chat.
const StatusBroadcastUser = "status"

// HostedDeviceID is the fixed device id every hosted-server JID must carry.
const HostedDeviceID = 99

// JID is the `(user, device, server)` triple described in spec.md §3.
type JID struct {
	User   string
	Device uint16
	Server string
}

// NewJID validates and constructs a JID. Device 99 is only legal on a
// hosted server; this is spec.md §3's standing invariant, enforced here
// instead of scattered across callers.
func NewJID(user string, device uint16, server string) (JID, error) {
	j := JID{User: user, Device: device, Server: server}
	if device == HostedDeviceID && server != HostedServer && server != HostedLIDServer {
		return JID{}, fmt.Errorf("%w: device 99 on non-hosted server %q", ErrInvalidJID, server)
	}
	return j, nil
}

// MustJID panics on an invalid triple; only meant for constants/tests.
func MustJID(user string, device uint16, server string) JID {
	j, err := NewJID(user, device, server)
	if err != nil {
		panic(err)
	}
	return j
}

// NewUserJID builds a device-less (user-level) JID.
func NewUserJID(user, server string) JID {
	return JID{User: user, Server: server}
}

// IsEmpty reports whether j is the zero JID.
func (j JID) IsEmpty() bool {
	return j.User == "" && j.Server == ""
}

// IsHosted reports whether j lives on one of the hosted-phone domains.
func (j JID) IsHosted() bool {
	return j.Server == HostedServer || j.Server == HostedLIDServer
}

// IsLID reports whether j is addressed on a LID-family server.
func (j JID) IsLID() bool {
	return j.Server == LIDServer || j.Server == HostedLIDServer
}

// ToNonAD returns the user-level (device-less) form of j.
func (j JID) ToNonAD() JID {
	return JID{User: j.User, Server: j.Server}
}

// WithDevice returns a copy of j addressed at the given device.
func (j JID) WithDevice(device uint16) JID {
	return JID{User: j.User, Device: device, Server: j.Server}
}

// String renders the device-omitted wire form when Device is zero,
// matching spec.md §3 ("a device of zero may be omitted in wire form").
func (j JID) String() string {
	if j.Device == 0 {
		return j.User + "@" + j.Server
	}
	return j.ADString()
}

// ADString always renders the device-qualified form, `user:device@server`.
func (j JID) ADString() string {
	return fmt.Sprintf("%s:%d@%s", j.User, j.Device, j.Server)
}

// Equal reports structural equality.
func (j JID) Equal(o JID) bool {
	return j.User == o.User && j.Device == o.Device && j.Server == o.Server
}

// SameUser reports whether j and o name the same user on the same
// server, ignoring device — the "own non-exact-device" comparison used
// throughout C8/C9.
func (j JID) SameUser(o JID) bool {
	return j.User == o.User && j.Server == o.Server
}

// DomainTypeInt returns the domain-type tag used to build Signal
// protocol addresses (spec.md §3): 0 for s.whatsapp.net, hosted and
// unrecognized servers, 1 for lid, 2 for hosted.lid. The hosted PN
// domain has no tag of its own; it shares 0 with the regular identity.
func (j JID) DomainTypeInt() int {
	switch j.Server {
	case DefaultUserServer, HostedServer:
		return 0
	case LIDServer:
		return 1
	case HostedLIDServer:
		return 2
	default:
		return 0
	}
}

// SignalUser returns the string used to index Signal sessions and
// sender keys: bare `user` when DomainTypeInt is 0 (including hosted
// PN JIDs), `user_<domaintype>` otherwise (spec.md §3).
func (j JID) SignalUser() string {
	if j.DomainTypeInt() == 0 {
		return j.User
	}
	return j.User + "_" + strconv.Itoa(j.DomainTypeInt())
}

// SignalAddress builds the libsignal protocol address this JID's
// session/sender-key state is indexed under.
func (j JID) SignalAddress() *protocol.SignalAddress {
	return protocol.NewSignalAddress(j.SignalUser(), uint32(j.Device))
}

// ParseJID parses a wire-form JID (`user[:device]@server`).
func ParseJID(s string) (JID, error) {
	at := strings.LastIndexByte(s, '@')
	if at < 0 {
		return JID{}, fmt.Errorf("%w: missing @ in %q", ErrInvalidJID, s)
	}
	server := s[at+1:]
	left := s[:at]
	user := left
	var device uint16
	if colon := strings.IndexByte(left, ':'); colon >= 0 {
		user = left[:colon]
		d, err := strconv.ParseUint(left[colon+1:], 10, 16)
		if err != nil {
			return JID{}, fmt.Errorf("%w: bad device in %q: %v", ErrInvalidJID, s, err)
		}
		device = uint16(d)
	}
	return NewJID(user, device, server)
}

// IsNewsletter reports whether j addresses a newsletter.
func (j JID) IsNewsletter() bool {
	return j.Server == NewsletterServer
}

// IsStatusBroadcast reports whether j is the status-broadcast pseudo-chat.
func (j JID) IsStatusBroadcast() bool {
	return j.User == StatusBroadcastUser && j.Server == BroadcastServer
}

// IsGroup reports whether j addresses a group or the status broadcast.
func (j JID) IsGroup() bool {
	return j.Server == GroupServer || j.Server == BroadcastServer
}

// Command relaydemo wires every relay-core component together and
// sends a single text message, the way automationWhatsapp.Run() wired
// a whatsmeow client together in the teacher repo — but here the
// actual socket connection, pairing, and wire-codec are left to the
// host application (spec.md §1's Non-goals), so SendIQ/SendMessage are
// backed by a stub transport that only logs what it would have sent.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.mau.fi/libsignal/ecc"
	"go.mau.fi/libsignal/keys/identity"

	"github.com/relaywire/wacore/devices"
	"github.com/relaywire/wacore/fanout"
	"github.com/relaywire/wacore/groupmeta"
	"github.com/relaywire/wacore/keystore"
	"github.com/relaywire/wacore/lidmap"
	"github.com/relaywire/wacore/relay"
	"github.com/relaywire/wacore/relayconfig"
	"github.com/relaywire/wacore/sessionassert"
	"github.com/relaywire/wacore/signalrepo"
	"github.com/relaywire/wacore/signalstore"
	"github.com/relaywire/wacore/types"
	"github.com/relaywire/wacore/walog"
)

// stubTransport stands in for the host's real socket connection. It
// implements usync.Transport, sessionassert.Transport, groupmeta.Transport,
// and relay.Transport, logging every stanza instead of writing it to a
// socket.
type stubTransport struct {
	log walog.Logger
}

func (s *stubTransport) SendIQ(ctx context.Context, iq types.Node) (types.Node, error) {
	s.log.Infof("would send IQ: %+v", iq)
	return types.Node{Tag: "iq", Attrs: map[string]any{"type": "result"}}, nil
}

func (s *stubTransport) SendMessage(ctx context.Context, node types.Node) error {
	s.log.Infof("would send message: %+v", node)
	return nil
}

func main() {
	to := flag.String("to", "", "recipient JID user part, e.g. 15551234567")
	text := flag.String("text", "hello from relaydemo", "plaintext message body")
	dbPath := flag.String("db", "relaydemo.db", "sqlite store path")
	flag.Parse()

	if *to == "" {
		fmt.Fprintln(os.Stderr, "usage: relaydemo --to=<jid user>")
		os.Exit(1)
	}

	log := walog.Stdout("relaydemo", "INFO", true)
	cfg := relayconfig.New(
		// Demonstrates the host-cache hook from spec.md §6: a host with
		// its own group-metadata store can answer from it instead of
		// paying a round trip through groupmeta.Provider's network path.
		relayconfig.WithCachedGroupMetadata(demoGroupMetadataCache),
		// Demonstrates the pre-send patch hook: uppercases the outgoing
		// plaintext identically for every recipient.
		relayconfig.WithPatchMessageBeforeSending(demoUppercasePatch),
	)

	ks, err := keystore.Open(*dbPath, log)
	if err != nil {
		log.Errorf("open key store: %v", err)
		os.Exit(1)
	}
	defer ks.Close()

	transport := &stubTransport{log: log}
	requestIDs := newRequestIDGenerator()

	lidStore := lidmap.New(ks, nil, log, cfg.MappingCacheTTL)

	pub, priv := ecc.GenerateKeyPair()
	selfIdentity := signalstore.Identity{
		KeyPair:        identity.NewKeyPair(identity.NewKey(pub), priv),
		RegistrationID: 1,
	}

	binding := signalstore.New(ks, lidStore, selfIdentity, log)
	repo := signalrepo.New(ks, binding, lidStore, log, cfg.MigratedSessionTTL)

	deviceDir := devices.New(ks, transport, lidStore, repo, log, cfg.UserDevicesCacheTTL, requestIDs)
	sessions := sessionassert.New(repo, lidStore, transport, log, cfg.PeerSessionCacheTTL, requestIDs)
	groups := groupmeta.New(transport, relayconfig.DefaultGroupMetadataCacheTTL, requestIDs, cfg.CachedGroupMetadata)

	self := relay.SelfIdentity{
		PN:            types.MustJID("000000000000", 0, types.DefaultUserServer),
		LID:           types.MustJID("000000000001", 0, types.LIDServer),
		SendingDevice: 0,
	}

	r := relay.New(relay.Deps{
		Repo:            repo,
		Devices:         deviceDir,
		Sessions:        sessions,
		Groups:          groups,
		FanoutEncrypter: fanoutEncrypter{repo},
		Newsletter:      plaintextNewsletter{},
		Transport:       transport,
		KeyStore:        ks,
		Self:            self,
		Log:             log,
	})

	dest := types.MustJID(*to, 0, types.DefaultUserServer)
	sendOpts := relay.SendOptions{
		EmitOwnEvents: cfg.EmitOwnEvents,
		Patcher:       relay.AdaptPatchMessageBeforeSending(cfg.PatchMessageBeforeSending),
	}
	if err := r.Send(context.Background(), dest, []byte(*text), sendOpts); err != nil {
		log.Errorf("send failed: %v", err)
		os.Exit(1)
	}
	log.Infof("sent to %s", dest)
}

// fanoutEncrypter adapts signalrepo.Repo to fanout.Encrypter.
type fanoutEncrypter struct {
	repo *signalrepo.Repo
}

func (f fanoutEncrypter) EncryptMessage(ctx context.Context, jid types.JID, plaintext []byte) (signalrepo.EncryptResult, error) {
	return f.repo.EncryptMessage(ctx, jid, plaintext)
}

var _ fanout.Encrypter = fanoutEncrypter{}

// plaintextNewsletter implements relay.NewsletterCodec with a no-op
// identity encode; the real wire codec for newsletter plaintext
// payloads is a host application concern (spec.md §1 Non-goals).
type plaintextNewsletter struct{}

func (plaintextNewsletter) Encode(message []byte) ([]byte, error) {
	return message, nil
}

// demoGroupMetadataCache stands in for a host's own group-metadata
// store; this demo has no groups to look up, so it always misses and
// lets groupmeta.Provider fall through to the network fetch.
func demoGroupMetadataCache(groupJID string) (*relayconfig.GroupMetadata, bool) {
	return nil, false
}

// demoUppercasePatch shows the PatchMessageBeforeSendingFunc shape:
// one patched message shared by every recipient.
func demoUppercasePatch(message any, recipients []string) (relayconfig.PatchMessageResult, error) {
	plaintext, ok := message.([]byte)
	if !ok {
		return relayconfig.PatchMessageResult{}, fmt.Errorf("expected []byte message, got %T", message)
	}
	return relayconfig.PatchMessageResult{Single: []byte(strings.ToUpper(string(plaintext)))}, nil
}

func newRequestIDGenerator() func() string {
	var n int
	return func() string {
		n++
		return fmt.Sprintf("relaydemo-%d", n)
	}
}

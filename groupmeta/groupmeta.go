// Package groupmeta implements the group-metadata fetch the relay
// pipeline's group send path depends on: an `w:g2` "query"/"interactive"
// IQ, parsed into the participant list and addressing mode spec.md
// §4.8 needs, cached with a short TTL the way device lists and peer
// sessions are.
//
// Grounded on `(*Client).GetGroupInfo` in
// `_examples/gazandic-whatsmeow/multidevice/send.go`: same IQ shape
// (namespace `w:g2`, `<query request=interactive>`), same
// `<group>`/`<participant>` parse, generalized to also read the
// `addressing_mode` attribute the archived source predates.
package groupmeta

import (
	"context"
	"fmt"
	"time"

	"github.com/relaywire/wacore/relay"
	"github.com/relaywire/wacore/relayconfig"
	"github.com/relaywire/wacore/ttlcache"
	"github.com/relaywire/wacore/types"
)

// Transport is the out-of-scope IQ collaborator group lookups are sent
// through.
type Transport interface {
	SendIQ(ctx context.Context, iq types.Node) (types.Node, error)
}

// Provider is the group-metadata provider (part of C9's supporting
// cast): fetches and caches group participant lists.
type Provider struct {
	transport  Transport
	cache      *ttlcache.Cache[string, relay.GroupMetadata]
	requestIDs func() string
	hostCache  relayconfig.CachedGroupMetadataFunc
}

// New constructs a Provider. hostCache is the host-supplied
// relayconfig.CachedGroupMetadataFunc (spec.md §6); it is consulted
// between this Provider's own ttlcache miss and the network IQ fetch,
// letting a host answer from its own store without paying a round
// trip. Pass nil to disable the host-cache tier entirely.
func New(transport Transport, cacheTTL time.Duration, requestIDs func() string, hostCache relayconfig.CachedGroupMetadataFunc) *Provider {
	if cacheTTL <= 0 {
		cacheTTL = relayconfig.DefaultGroupMetadataCacheTTL
	}
	return &Provider{
		transport:  transport,
		cache:      ttlcache.New[string, relay.GroupMetadata](cacheTTL),
		requestIDs: requestIDs,
		hostCache:  hostCache,
	}
}

// GetGroupMetadata implements relay.GroupMetadataProvider.
func (p *Provider) GetGroupMetadata(ctx context.Context, jid types.JID, useCache bool) (relay.GroupMetadata, error) {
	key := jid.String()
	if useCache {
		if meta, ok := p.cache.Get(key); ok {
			return meta, nil
		}
		if p.hostCache != nil {
			if hostMeta, ok := p.hostCache(key); ok {
				meta, err := convertHostGroupMetadata(hostMeta)
				if err != nil {
					return relay.GroupMetadata{}, fmt.Errorf("host-cached group metadata for %s: %w", jid, err)
				}
				p.cache.Set(key, meta)
				return meta, nil
			}
		}
	}

	resp, err := p.transport.SendIQ(ctx, types.Node{
		Tag: "iq",
		Attrs: map[string]any{
			"id":    p.requestIDs(),
			"type":  "get",
			"to":    jid,
			"xmlns": "w:g2",
		},
		Content: []types.Node{{
			Tag:   "query",
			Attrs: map[string]any{"request": "interactive"},
		}},
	})
	if err != nil {
		return relay.GroupMetadata{}, fmt.Errorf("request group info for %s: %w", jid, err)
	}

	if errNode, ok := resp.GetOptionalChildByTag("error"); ok {
		return relay.GroupMetadata{}, fmt.Errorf("group info request for %s returned error %v", jid, errNode.Attrs)
	}

	groupNode, ok := resp.GetOptionalChildByTag("group")
	if !ok {
		return relay.GroupMetadata{}, fmt.Errorf("group info response for %s missing group node", jid)
	}

	meta := relay.GroupMetadata{JID: jid}
	ag := groupNode.AttrGetter()
	meta.AddressingMode = ag.OptionalString("addressing_mode")

	for _, child := range groupNode.GetChildrenByTag("participant") {
		childAG := child.AttrGetter()
		participant, ok := childAG.OptionalJID("jid")
		if !ok {
			continue
		}
		meta.Participants = append(meta.Participants, participant)
	}

	p.cache.Set(key, meta)
	return meta, nil
}

// convertHostGroupMetadata converts the host's string-addressed
// relayconfig.GroupMetadata into the JID-addressed relay.GroupMetadata
// the pipeline works with.
func convertHostGroupMetadata(host *relayconfig.GroupMetadata) (relay.GroupMetadata, error) {
	jid, err := types.ParseJID(host.JID)
	if err != nil {
		return relay.GroupMetadata{}, fmt.Errorf("parse group jid %q: %w", host.JID, err)
	}
	meta := relay.GroupMetadata{JID: jid, AddressingMode: host.AddressingMode}
	for _, s := range host.ParticipantJIDs {
		p, err := types.ParseJID(s)
		if err != nil {
			return relay.GroupMetadata{}, fmt.Errorf("parse participant jid %q: %w", s, err)
		}
		meta.Participants = append(meta.Participants, p)
	}
	return meta, nil
}

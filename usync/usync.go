// Package usync implements the wire-level USync IQ query/response
// shape (C15), factored out of the device directory's caching policy
// per SPEC_FULL.md §4.14. Grounded on `GetUSyncDevices` in
// `_examples/gazandic-whatsmeow/multidevice/send.go`.
package usync

import (
	"context"
	"fmt"
	"strconv"

	"github.com/relaywire/wacore/lidmap"
	"github.com/relaywire/wacore/types"
)

// Transport is the out-of-scope collaborator (SPEC_FULL.md §6) this
// package sends IQs through.
type Transport interface {
	SendIQ(ctx context.Context, iq types.Node) (types.Node, error)
}

// UserDevices is one user's resolved device list.
type UserDevices struct {
	User    types.JID // the (possibly LID-addressed) user JID, device 0
	Devices []uint16
}

// Result is what a USync query yields: the devices and any LID↔PN
// mappings the response carried for LID-requested users.
type Result struct {
	Devices     []UserDevices
	LIDMappings []lidmap.Pair
}

// queryOptions configures Query.
type queryOptions struct {
	context       string
	requestLID    bool
	ignorePrimary bool
}

// QueryOption configures a Query call.
type QueryOption func(*queryOptions)

// WithContext sets the USync "context" attribute (e.g. "message",
// "interactive").
func WithContext(ctx string) QueryOption {
	return func(o *queryOptions) { o.context = ctx }
}

// WithLIDProtocol requests the LID device-list protocol alongside the
// device protocol, and records every LID-addressed input user as
// LID-requested, so that user's devices come back on the LID server
// (other users' devices stay on the PN server).
func WithLIDProtocol() QueryOption {
	return func(o *queryOptions) { o.requestLID = true }
}

// WithIgnorePrimary drops each user's device 0 from the result.
func WithIgnorePrimary() QueryOption {
	return func(o *queryOptions) { o.ignorePrimary = true }
}

var serverJID = types.NewUserJID("", "s.whatsapp.net")

// Query builds and sends a USync IQ for users, and parses the response
// (spec.md §4.5 steps 3-5).
func Query(ctx context.Context, transport Transport, requestID string, users []types.JID, opts ...QueryOption) (Result, error) {
	options := queryOptions{context: "message"}
	for _, opt := range opts {
		opt(&options)
	}

	userList := make([]types.Node, len(users))
	requestedAsLID := make(map[string]bool, len(users))
	for i, u := range users {
		userList[i] = types.Node{Tag: "user", Attrs: map[string]any{"jid": types.NewUserJID(u.User, types.DefaultUserServer)}}
		if options.requestLID && u.IsLID() {
			requestedAsLID[u.User] = true
		}
	}

	queryChildren := []types.Node{
		{Tag: "devices", Attrs: map[string]any{"version": "2"}},
	}
	if options.requestLID {
		queryChildren = append(queryChildren, types.Node{Tag: "lid"})
	}

	iq := types.Node{
		Tag: "iq",
		Attrs: map[string]any{
			"type":  "get",
			"xmlns": "usync",
			"to":    serverJID,
		},
		Content: []types.Node{{
			Tag: "usync",
			Attrs: map[string]any{
				"sid":     requestID,
				"mode":    "query",
				"last":    "true",
				"index":   "0",
				"context": options.context,
			},
			Content: []types.Node{
				{Tag: "query", Content: queryChildren},
				{Tag: "list", Content: userList},
			},
		}},
	}

	resp, err := transport.SendIQ(ctx, iq)
	if err != nil {
		return Result{}, fmt.Errorf("send usync query: %w", err)
	}
	return parseResponse(resp, requestedAsLID, options.ignorePrimary)
}

func parseResponse(resp types.Node, requestedAsLID map[string]bool, ignorePrimary bool) (Result, error) {
	usyncNode, ok := resp.GetOptionalChildByTag("usync")
	if !ok {
		return Result{}, fmt.Errorf("usync response missing usync element")
	}
	listNode, ok := usyncNode.GetOptionalChildByTag("list")
	if !ok {
		return Result{}, fmt.Errorf("usync response missing list element")
	}

	var result Result
	for _, userNode := range listNode.GetChildrenByTag("user") {
		ag := userNode.AttrGetter()
		jid := ag.JID("jid")
		if !ag.OK() {
			continue
		}

		var deviceList []uint16
		if devicesNode, ok := userNode.GetOptionalChildByTag("devices"); ok {
			if deviceListNode, ok := devicesNode.GetOptionalChildByTag("device-list"); ok {
				for _, deviceNode := range deviceListNode.GetChildrenByTag("device") {
					id, ok := deviceNode.AttrGetter().GetInt64("id", true)
					if !ok {
						continue
					}
					if id == 0 && ignorePrimary {
						continue
					}
					deviceList = append(deviceList, uint16(id))
				}
			}
		}

		user := jid
		if requestedAsLID[jid.User] {
			user = types.JID{User: jid.User, Server: types.LIDServer}
		}
		result.Devices = append(result.Devices, UserDevices{User: user, Devices: deviceList})

		if lidNode, ok := userNode.GetOptionalChildByTag("lid"); ok {
			lidAG := lidNode.AttrGetter()
			lidVal := lidAG.OptionalString("val")
			if lidVal != "" {
				if lidJID, err := parseLIDUser(lidVal); err == nil {
					result.LIDMappings = append(result.LIDMappings, lidmap.Pair{
						PN:  jid,
						LID: lidJID,
					})
				}
			}
		}
	}
	return result, nil
}

func parseLIDUser(raw string) (types.JID, error) {
	if _, err := strconv.ParseUint(raw, 10, 64); err != nil {
		return types.JID{}, fmt.Errorf("invalid lid value %q: %w", raw, err)
	}
	return types.NewUserJID(raw, types.LIDServer), nil
}

package sessionassert

import (
	"encoding/binary"
	"fmt"

	"go.mau.fi/libsignal/ecc"
	"go.mau.fi/libsignal/keys/identity"
	"go.mau.fi/libsignal/keys/prekey"
	"go.mau.fi/libsignal/util/optional"

	"github.com/relaywire/wacore/types"
)

// parseKeyBundles extracts one prekey.Bundle per user from an
// `encrypt/get` IQ response (spec.md §4.6 step 6), keyed by wire JID
// string. Grounded on the `<list><user jid=...><registration/><keys>`
// shape used throughout the teacher's wire layer (usync's `devices`
// parsing follows the same `AttrGetter`/`GetOptionalChildByTag` idiom).
func parseKeyBundles(resp types.Node) (map[string]*prekey.Bundle, error) {
	listNode, ok := resp.GetOptionalChildByTag("list")
	if !ok {
		return nil, fmt.Errorf("encrypt response missing list element")
	}

	bundles := make(map[string]*prekey.Bundle, len(listNode.Children()))
	for _, userNode := range listNode.GetChildrenByTag("user") {
		ag := userNode.AttrGetter()
		jid := ag.JID("jid")
		if !ag.OK() {
			continue
		}
		if _, isError := userNode.GetOptionalChildByTag("error"); isError {
			continue
		}
		bundle, err := nodeToBundle(jid, userNode)
		if err != nil {
			return nil, fmt.Errorf("prekey bundle for %s: %w", jid, err)
		}
		bundles[jid.String()] = bundle
	}
	return bundles, nil
}

func nodeToBundle(jid types.JID, userNode types.Node) (*prekey.Bundle, error) {
	registrationNode, ok := userNode.GetOptionalChildByTag("registration")
	if !ok {
		return nil, fmt.Errorf("missing registration element")
	}
	registrationBytes, ok := registrationNode.Content.([]byte)
	if !ok || len(registrationBytes) != 4 {
		return nil, fmt.Errorf("malformed registration id")
	}
	registrationID := binary.BigEndian.Uint32(registrationBytes)

	keysNode, ok := userNode.GetOptionalChildByTag("keys")
	if !ok {
		return nil, fmt.Errorf("missing keys element")
	}

	identityNode, ok := keysNode.GetOptionalChildByTag("identity")
	if !ok {
		return nil, fmt.Errorf("missing identity element")
	}
	identityPub, err := parsePublicKey(identityNode)
	if err != nil {
		return nil, fmt.Errorf("identity key: %w", err)
	}
	identityKey := identity.NewKey(identityPub)

	var preKeyID *optional.Uint32
	var preKeyPub ecc.ECPublicKeyable
	if preKeyNode, ok := keysNode.GetOptionalChildByTag("key"); ok {
		id, pub, err := parseKeyNode(preKeyNode)
		if err != nil {
			return nil, fmt.Errorf("one-time prekey: %w", err)
		}
		preKeyID = optional.NewUint32(id)
		preKeyPub = pub
	} else {
		preKeyID = optional.NewEmptyUint32()
	}

	signedPreKeyNode, ok := keysNode.GetOptionalChildByTag("skey")
	if !ok {
		return nil, fmt.Errorf("missing signed prekey element")
	}
	signedPreKeyID, signedPreKeyPub, err := parseKeyNode(signedPreKeyNode)
	if err != nil {
		return nil, fmt.Errorf("signed prekey: %w", err)
	}
	signatureNode, ok := signedPreKeyNode.GetOptionalChildByTag("signature")
	if !ok {
		return nil, fmt.Errorf("missing signed prekey signature")
	}
	signature, ok := signatureNode.Content.([]byte)
	if !ok || len(signature) == 0 {
		return nil, fmt.Errorf("malformed signed prekey signature")
	}

	return prekey.NewBundle(registrationID, uint32(jid.Device), preKeyID, preKeyPub,
		signedPreKeyID, signedPreKeyPub, signature, identityKey), nil
}

// parseKeyNode extracts an (id, public key) pair from a `<key>`/`<skey>`
// element with `<id>`/`<value>` children.
func parseKeyNode(node types.Node) (uint32, ecc.ECPublicKeyable, error) {
	idNode, ok := node.GetOptionalChildByTag("id")
	if !ok {
		return 0, nil, fmt.Errorf("missing id element")
	}
	idBytes, ok := idNode.Content.([]byte)
	if !ok || len(idBytes) == 0 {
		return 0, nil, fmt.Errorf("malformed id")
	}
	id := decodeKeyID(idBytes)

	valueNode, ok := node.GetOptionalChildByTag("value")
	if !ok {
		return 0, nil, fmt.Errorf("missing value element")
	}
	pub, err := parsePublicKey(valueNode)
	if err != nil {
		return 0, nil, err
	}
	return id, pub, nil
}

// decodeKeyID decodes a big-endian key id, as used for WhatsApp's
// 3-byte prekey/signed-prekey ids on the wire.
func decodeKeyID(raw []byte) uint32 {
	var id uint32
	for _, b := range raw {
		id = id<<8 | uint32(b)
	}
	return id
}

// parsePublicKey strips the leading Curve25519 type byte (0x05) WhatsApp
// prepends to every public key on the wire.
func parsePublicKey(node types.Node) (ecc.ECPublicKeyable, error) {
	raw, ok := node.Content.([]byte)
	if !ok {
		return nil, fmt.Errorf("missing public key bytes")
	}
	if len(raw) == 33 && raw[0] == 0x05 {
		raw = raw[1:]
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("unexpected public key length %d", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return ecc.NewDjbECPublicKey(key), nil
}

package relay

import (
	"crypto/sha256"
	"encoding/base64"
	"sort"
	"strings"

	"github.com/relaywire/wacore/types"
)

// participantListHashV2 computes spec.md §4.8's "phash": v2 hashing
// over the full sorted recipient list. Grounded on `participantListHashV2`
// in `_examples/gazandic-whatsmeow/multidevice/send.go`.
func participantListHashV2(jids []types.JID) string {
	strs := make([]string, len(jids))
	for i, jid := range jids {
		strs[i] = jid.String()
	}
	sort.Strings(strs)
	hash := sha256.Sum256([]byte(strings.Join(strs, "")))
	return "2:" + base64.RawStdEncoding.EncodeToString(hash[:6])
}

package signalrepo

import (
	"crypto/rand"

	"go.mau.fi/libsignal/serialize"
	sessionrecord "go.mau.fi/libsignal/state/record"
)

// serializer is the wire format for every Signal record this repository
// builds or parses, matching the one signalstore's binding uses.
var serializer = serialize.NewProtoBufSerializer()

// randomPadByte draws the padding nibble padMessage needs (spec.md §4.4,
// grounded on the padMessage/unpadMessage shape used throughout the
// whatsmeow reference sources).
func randomPadByte() byte {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return b[0]
}

// sessionRecordBaseline returns the serialized form of a session record
// with no state installed, the baseline hasOpenSession compares new
// records against.
func sessionRecordBaseline() []byte {
	return sessionrecord.NewSession(serializer.Session).Serialize()
}

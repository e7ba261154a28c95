// Package relayerr defines the sentinel error kinds from spec.md §7.
//
// Callers should use errors.Is/errors.As against these sentinels; call
// sites that need to attach context (a JID, an address, a byte count)
// wrap them with fmt.Errorf("...: %w", relayerr.ErrInvalidJID).
package relayerr

import "errors"

var (
	// ErrInvalidJID is returned when a JID fails to decode, or a device
	// 99 appears on a non-hosted server.
	ErrInvalidJID = errors.New("invalid JID")

	// ErrUnknownMessageType is returned by decrypt when given a Signal
	// wire type other than "pkmsg" or "msg".
	ErrUnknownMessageType = errors.New("unknown message type")

	// ErrMissingGroupID is returned when a sender-key distribution
	// message is processed without a group id.
	ErrMissingGroupID = errors.New("missing group id")

	// ErrAuthenticationMissing is returned when a peer-data-operation
	// send is attempted without an authenticated self identity.
	ErrAuthenticationMissing = errors.New("authentication missing")

	// ErrMappingMismatch is returned (and logged, never propagated past
	// the single offending entry) when a PN/LID pair doesn't have
	// exactly one side of each kind.
	ErrMappingMismatch = errors.New("invalid PN/LID mapping pair")

	// ErrSessionMissing names the "no session" condition. No function in
	// this module returns it: ValidateSession reports a missing session
	// through SessionStatus.Exists, which the session asserter handles.
	ErrSessionMissing = errors.New("signal session missing")

	// ErrMediaRetryFailure is surfaced from the media-update subsystem
	// with the underlying server status code attached.
	ErrMediaRetryFailure = errors.New("media retry failed")

	// ErrTransportFailure wraps an error propagated verbatim from the
	// transport; the relay core never attempts to recover from it.
	ErrTransportFailure = errors.New("transport failure")

	// ErrNoSession signals that a recipient has no usable Signal
	// session yet and must go through the retry-with-prekey-bundle path.
	ErrNoSession = errors.New("no signal session established")

	// ErrRetryBudgetExceeded is returned by the message retry manager
	// once a (destination, message id) pair has been re-sent the
	// configured maximum number of times.
	ErrRetryBudgetExceeded = errors.New("message retry budget exceeded")

	// ErrRetryUnknown is returned when a retry receipt references a
	// (destination, message id) pair the retry manager never recorded
	// (already evicted, or never sent).
	ErrRetryUnknown = errors.New("no cached plaintext for retry")
)

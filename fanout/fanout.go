// Package fanout implements the encryption fan-out (C8) described in
// spec.md §4.7: per-recipient patch/substitute/encrypt, run under a
// per-recipient keyed mutex and bounded concurrency.
package fanout

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/relaywire/wacore/signalrepo"
	"github.com/relaywire/wacore/types"
)

// Encrypter is the narrow signalrepo.Repo surface this package needs.
type Encrypter interface {
	EncryptMessage(ctx context.Context, jid types.JID, plaintext []byte) (signalrepo.EncryptResult, error)
}

// PreSendPatcher is the host-provided hook from spec.md §4.7 step 1. It
// may return a single patched message shared by every recipient, or
// one message per recipient (same length and order as recipients).
type PreSendPatcher func(message []byte, recipients []types.JID) ([][]byte, error)

// SelfIdentity identifies the sending device, so fan-out can recognize
// "our own, non-exact-device" recipients (spec.md §4.7 step 2).
type SelfIdentity struct {
	PNUser        string
	LIDUser       string
	SendingDevice uint16
}

func (s SelfIdentity) isOwnNonExactDevice(recipient types.JID) bool {
	isOwnUser := recipient.User == s.PNUser || recipient.User == s.LIDUser
	if !isOwnUser {
		return false
	}
	return recipient.Device != s.SendingDevice
}

// Result is what CreateParticipantNodes returns: the assembled
// `<to>/<enc>` subtrees and whether any recipient required a pkmsg
// (which the caller must then also emit a `<device-identity>` node for).
type Result struct {
	Nodes                       []types.Node
	ShouldIncludeDeviceIdentity bool
}

// keyedMutex hands out one *sync.Mutex per key, lazily. No keyed-mutex
// helper exists in the example pack (or its `go.mau.fi/util` dependency),
// so this stays on a stdlib sync.Map rather than adding a dependency
// for a dozen lines of bookkeeping.
type keyedMutex struct {
	locks sync.Map // string -> *sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	v, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// CreateParticipantNodes is createParticipantNodes (spec.md §4.7).
func CreateParticipantNodes(ctx context.Context, enc Encrypter, self SelfIdentity, recipients []types.JID, message []byte, patch PreSendPatcher, dsmMessage []byte) (Result, error) {
	patched, err := applyPatch(patch, message, recipients)
	if err != nil {
		return Result{}, err
	}

	var mu sync.Mutex
	var nodes []types.Node
	includeIdentity := false
	var locks keyedMutex

	g, gctx := errgroup.WithContext(ctx)
	for i, recipient := range recipients {
		i, recipient := i, recipient
		g.Go(func() error {
			plaintext := patched[i]
			if dsmMessage != nil && self.isOwnNonExactDevice(recipient) {
				plaintext = dsmMessage
			}

			unlock := locks.lock(recipient.String())
			defer unlock()

			encrypted, err := enc.EncryptMessage(gctx, recipient, plaintext)
			if err != nil {
				return fmt.Errorf("encrypt for %s: %w", recipient, err)
			}

			node := types.Node{
				Tag:   "to",
				Attrs: map[string]any{"jid": recipient},
				Content: []types.Node{{
					Tag:     "enc",
					Attrs:   map[string]any{"v": "2", "type": encrypted.Type},
					Content: encrypted.Ciphertext,
				}},
			}

			mu.Lock()
			nodes = append(nodes, node)
			if encrypted.Type == "pkmsg" {
				includeIdentity = true
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	return Result{Nodes: nodes, ShouldIncludeDeviceIdentity: includeIdentity}, nil
}

func applyPatch(patch PreSendPatcher, message []byte, recipients []types.JID) ([][]byte, error) {
	if patch == nil {
		out := make([][]byte, len(recipients))
		for i := range out {
			out[i] = message
		}
		return out, nil
	}
	patched, err := patch(message, recipients)
	if err != nil {
		return nil, fmt.Errorf("pre-send patcher: %w", err)
	}
	if len(patched) == 1 {
		out := make([][]byte, len(recipients))
		for i := range out {
			out[i] = patched[0]
		}
		return out, nil
	}
	if len(patched) != len(recipients) {
		return nil, fmt.Errorf("pre-send patcher returned %d messages for %d recipients", len(patched), len(recipients))
	}
	return patched, nil
}

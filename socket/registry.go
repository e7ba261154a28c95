// Package socket implements the process-wide socket registry (C10), as
// described in spec.md §4.9: at most one live socket per session id,
// with a graceful-close handoff when a session is replaced.
package socket

import (
	"context"
	"sync"
	"time"

	"go.mau.fi/util/exsync"

	"github.com/relaywire/wacore/relayconfig"
	"github.com/relaywire/wacore/walog"
)

// Socket is the transport connection this registry supervises. Close
// should initiate a graceful shutdown and eventually set OnClose;
// Terminate is the forceful fallback when that doesn't happen in time.
type Socket interface {
	Close(ctx context.Context) error
	Terminate()
	OnClose() *exsync.Event
}

// Registry is the socket registry (C10). It is safe for concurrent use
// and is meant to be constructed once per process.
type Registry struct {
	mu           sync.Mutex
	sockets      map[string]Socket
	closeTimeout time.Duration
	log          walog.Logger
}

// New constructs a Registry. closeTimeout <= 0 defaults to spec.md
// §4.9/§5's 1.5s graceful-close budget.
func New(log walog.Logger, closeTimeout time.Duration) *Registry {
	if closeTimeout <= 0 {
		closeTimeout = relayconfig.DefaultSocketCloseTimeout
	}
	return &Registry{
		sockets:      make(map[string]Socket),
		closeTimeout: closeTimeout,
		log:          log,
	}
}

// Register installs sock as the current socket for sessionID. If a
// socket was already registered for sessionID, it is gracefully closed
// (falling back to a forced Terminate if it doesn't finish within the
// close timeout) before the new socket takes its place. The new
// socket auto-deregisters itself when it closes, provided it is still
// the registry's current entry for sessionID.
func (r *Registry) Register(ctx context.Context, sessionID string, sock Socket) {
	r.mu.Lock()
	old, hadOld := r.sockets[sessionID]
	r.mu.Unlock()

	if hadOld {
		// The replaced socket's own auto-deregister goroutine (spawned
		// the last time it was registered) only deletes the entry while
		// it still points at the replaced socket, and sock is installed
		// only after this close returns, so it never removes sock — that
		// is how "the replaced socket's event listeners are removed" is
		// realized without an explicit unsubscribe API.
		r.gracefulClose(ctx, old)
	}

	r.mu.Lock()
	r.sockets[sessionID] = sock
	r.mu.Unlock()
	go r.autoDeregister(sessionID, sock)
}

// Get returns the current socket for sessionID, if any.
func (r *Registry) Get(sessionID string) (Socket, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sock, ok := r.sockets[sessionID]
	return sock, ok
}

// Remove unregisters sessionID's current socket if sock is still it.
func (r *Registry) Remove(sessionID string, sock Socket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sockets[sessionID] == sock {
		delete(r.sockets, sessionID)
	}
}

func (r *Registry) gracefulClose(ctx context.Context, sock Socket) {
	if err := sock.Close(ctx); err != nil {
		r.log.Warnf("graceful socket close returned an error: %v", err)
	}
	if !sock.OnClose().WaitTimeout(r.closeTimeout) {
		r.log.Warnf("socket did not close within %s, terminating", r.closeTimeout)
		sock.Terminate()
	}
}

func (r *Registry) autoDeregister(sessionID string, sock Socket) {
	<-sock.OnClose().GetChan()
	r.Remove(sessionID, sock)
}

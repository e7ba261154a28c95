package socket

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mau.fi/util/exsync"

	"github.com/relaywire/wacore/walog"
)

type fakeSocket struct {
	onClose     *exsync.Event
	closeCalled atomic.Bool
	terminated  atomic.Bool
	closeDelay  time.Duration
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{onClose: exsync.NewEvent()}
}

func (f *fakeSocket) Close(ctx context.Context) error {
	f.closeCalled.Store(true)
	if f.closeDelay > 0 {
		go func() {
			time.Sleep(f.closeDelay)
			f.onClose.Set()
		}()
	} else {
		f.onClose.Set()
	}
	return nil
}

func (f *fakeSocket) Terminate() {
	f.terminated.Store(true)
	f.onClose.Set()
}

func (f *fakeSocket) OnClose() *exsync.Event { return f.onClose }

func TestRegisterStoresSocket(t *testing.T) {
	reg := New(walog.Noop(), 0)
	sock := newFakeSocket()
	reg.Register(context.Background(), "session1", sock)

	got, ok := reg.Get("session1")
	require.True(t, ok)
	require.Same(t, sock, got)
}

func TestRegisterGracefullyClosesReplacedSocket(t *testing.T) {
	reg := New(walog.Noop(), 50*time.Millisecond)
	oldSock := newFakeSocket()
	reg.Register(context.Background(), "session1", oldSock)

	newSock := newFakeSocket()
	reg.Register(context.Background(), "session1", newSock)

	require.Eventually(t, func() bool { return oldSock.closeCalled.Load() }, time.Second, time.Millisecond)
	got, ok := reg.Get("session1")
	require.True(t, ok)
	require.Same(t, newSock, got)
}

func TestRegisterTerminatesSlowSocket(t *testing.T) {
	reg := New(walog.Noop(), 20*time.Millisecond)
	oldSock := newFakeSocket()
	oldSock.closeDelay = time.Second // longer than the close timeout
	reg.Register(context.Background(), "session1", oldSock)

	newSock := newFakeSocket()
	reg.Register(context.Background(), "session1", newSock)

	require.Eventually(t, func() bool { return oldSock.terminated.Load() }, time.Second, time.Millisecond)
}

func TestSocketAutoDeregistersOnClose(t *testing.T) {
	reg := New(walog.Noop(), 0)
	sock := newFakeSocket()
	reg.Register(context.Background(), "session1", sock)

	sock.onClose.Set()

	require.Eventually(t, func() bool {
		_, ok := reg.Get("session1")
		return !ok
	}, time.Second, time.Millisecond)
}

func TestReplacedSocketDoesNotDeregisterNewEntry(t *testing.T) {
	reg := New(walog.Noop(), 0)
	oldSock := newFakeSocket()
	reg.Register(context.Background(), "session1", oldSock)

	newSock := newFakeSocket()
	reg.Register(context.Background(), "session1", newSock)

	// The old socket's own close fires after it has been replaced; it
	// must not remove the new socket's registry entry.
	oldSock.onClose.Set()
	time.Sleep(20 * time.Millisecond)

	got, ok := reg.Get("session1")
	require.True(t, ok)
	require.Same(t, newSock, got)
}

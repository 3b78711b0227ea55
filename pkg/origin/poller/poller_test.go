//go:build linux

package poller

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newPipeFDs(t *testing.T) (r, w *os.File) {
	t.Helper()
	fds, err := os.Pipe()
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(int(fds[0].Fd()), true))
	require.NoError(t, unix.SetNonblock(int(fds[1].Fd()), true))
	return fds[0], fds[1]
}

func TestPollerReportsReadable(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	defer p.Close()

	r, w := newPipeFDs(t)
	defer r.Close()
	defer w.Close()

	require.NoError(t, p.Add(int(r.Fd()), Read))

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	events, err := p.Wait(time.Second)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.True(t, events[0].Readable)
	require.Equal(t, int(r.Fd()), events[0].FD)
}

func TestPollerUnregisteredFDNeverReappears(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	defer p.Close()

	r, w := newPipeFDs(t)
	defer r.Close()
	defer w.Close()

	require.NoError(t, p.Add(int(r.Fd()), Read))
	require.NoError(t, p.Remove(int(r.Fd())))

	_, _ = w.Write([]byte("x"))

	events, err := p.Wait(50 * time.Millisecond)
	require.NoError(t, err)
	for _, e := range events {
		require.NotEqual(t, int(r.Fd()), e.FD)
	}
}

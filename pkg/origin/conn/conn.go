// Package conn implements the per-connection state machine: two byte
// buffers, state transitions among Reading/Processing/Writing/Closed,
// keep-alive accounting, and the creation/last-activity timestamps the
// event loop uses for the inactivity sweep.
//
// State here is a plain field, not an atomic: only the event loop's
// own goroutine ever touches a Connection, so nothing needs locking.
package conn

import (
	"net"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/bytebufferpool"
)

// State is the connection's position in its state machine.
type State int

const (
	Reading State = iota
	Processing
	Writing
	WaitingForCgi // REDESIGN FLAG: CGI no longer blocks the loop.
	Closed
)

func (s State) String() string {
	switch s {
	case Reading:
		return "reading"
	case Processing:
		return "processing"
	case Writing:
		return "writing"
	case WaitingForCgi:
		return "waiting_for_cgi"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// bufPool pools read/write buffers across all connections so framing
// doesn't allocate a fresh slice per request.
var bufPool bytebufferpool.Pool

// Connection is the exclusive owner of one accepted socket's buffers
// and state.
type Connection struct {
	FD         int
	NetConn    net.Conn
	ListenPort int
	RemoteAddr string
	TraceID    uuid.UUID

	state State

	readBuf  *bytebufferpool.ByteBuffer
	writeBuf *bytebufferpool.ByteBuffer
	writeOff int

	keepAlive bool

	CreatedAt    time.Time
	LastActivity time.Time

	// CGI-in-flight bookkeeping, used only while state == WaitingForCgi.
	CgiPipeFD int
	CgiDone   func() (body []byte, err error)
}

// New wraps an accepted, already-non-blocking net.Conn.
func New(nc net.Conn, fd int, listenPort int) *Connection {
	now := time.Now()
	return &Connection{
		FD:           fd,
		NetConn:      nc,
		ListenPort:   listenPort,
		RemoteAddr:   nc.RemoteAddr().String(),
		TraceID:      uuid.New(),
		state:        Reading,
		readBuf:      bufPool.Get(),
		writeBuf:     bufPool.Get(),
		keepAlive:    true,
		CreatedAt:    now,
		LastActivity: now,
	}
}

// State returns the connection's current state. Only the event loop
// calls SetState; every other reader gets a consistent snapshot because
// nothing else runs concurrently with the loop's goroutine.
func (c *Connection) State() State { return c.state }

// SetState transitions the connection and stamps LastActivity. Only the
// event loop calls this.
func (c *Connection) SetState(s State) {
	c.state = s
	c.LastActivity = time.Now()
}

// ReadBuffered returns the bytes accumulated so far in the read buffer.
func (c *Connection) ReadBuffered() []byte { return c.readBuf.B }

// Read performs one non-blocking read from the socket, appending to the
// read buffer. It returns (n, wouldBlock, err): wouldBlock is a
// non-event (state unchanged, no bytes accounted); n==0 with no error
// and !wouldBlock means peer EOF, which the caller must treat as
// Closed.
func (c *Connection) Read(scratch []byte) (n int, wouldBlock bool, err error) {
	n, err = syscall.Read(c.FD, scratch)
	if err != nil {
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			return 0, true, nil
		}
		return 0, false, err
	}
	if n > 0 {
		c.readBuf.Write(scratch[:n])
		c.LastActivity = time.Now()
	}
	return n, false, nil
}

// ResetRead clears the read buffer. The Writing→Reading reset goes
// through ResetForReuse, which clears it directly; this engine never
// pipelines — one request is fully written before the next is read.
func (c *Connection) ResetRead() { c.readBuf.Reset() }

// LoadResponse installs a serialized response into the write buffer and
// resets the write cursor to 0, for the Processing→Writing transition.
func (c *Connection) LoadResponse(b []byte) {
	c.writeBuf.Reset()
	c.writeBuf.Write(b)
	c.writeOff = 0
}

// Write performs one non-blocking write of the remaining unsent bytes in
// the write buffer, advancing the cursor. It returns drained=true once
// every byte has been written.
func (c *Connection) Write() (drained bool, wouldBlock bool, err error) {
	buf := c.writeBuf.B
	if c.writeOff >= len(buf) {
		return true, false, nil
	}

	n, err := syscall.Write(c.FD, buf[c.writeOff:])
	if err != nil {
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			return false, true, nil
		}
		return false, false, err
	}
	c.writeOff += n
	c.LastActivity = time.Now()
	return c.writeOff >= len(buf), false, nil
}

// SetKeepAlive records the outgoing response's keep-alive decision,
// recomputed from the response's Connection header once it's set.
func (c *Connection) SetKeepAlive(keepAlive bool) { c.keepAlive = keepAlive }

// KeepAlive reports the last-computed keep-alive decision.
func (c *Connection) KeepAlive() bool { return c.keepAlive }

// ResetForReuse empties both buffers and the write cursor for the
// Writing→Reading transition on a keep-alive connection.
func (c *Connection) ResetForReuse() {
	c.readBuf.Reset()
	c.writeBuf.Reset()
	c.writeOff = 0
	c.SetState(Reading)
}

// IdleFor reports how long the connection has gone without activity,
// for the event loop's inactivity sweep.
func (c *Connection) IdleFor() time.Duration { return time.Since(c.LastActivity) }

// Close releases the connection's pooled buffers and closes the socket.
// The event loop must have already unregistered FD from the poller
// before calling Close.
func (c *Connection) Close() error {
	c.state = Closed
	bufPool.Put(c.readBuf)
	bufPool.Put(c.writeBuf)
	c.readBuf = nil
	c.writeBuf = nil
	return c.NetConn.Close()
}

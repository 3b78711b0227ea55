// Package listener implements the non-blocking accepting socket: on
// readable readiness, the event loop calls DrainAccept to pull every
// pending connection off the kernel's accept queue, handing each one
// back non-blocking and tagged with the listener's port.
//
// Reaches into a *net.TCPConn's raw fd via SyscallConn.Control to flip
// O_NONBLOCK on both the listening socket and every accepted connection.
package listener

import (
	"errors"
	"net"
	"os"
	"syscall"
	"time"
)

// ErrWouldBlock is returned by Accept when the kernel's accept queue is
// currently empty — a non-event, not a failure.
var ErrWouldBlock = errors.New("listener: accept would block")

// Listener is a non-blocking accepting socket bound to one port.
type Listener struct {
	ln   *net.TCPListener
	port int
	fd   int
}

// Listen binds host:port and returns a non-blocking Listener. Bind
// failure is fatal — the caller should treat a non-nil error here as a
// reason to abort startup.
func Listen(host string, port int) (*Listener, error) {
	tcpLn, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP(host), Port: port})
	if err != nil {
		return nil, err
	}

	fd, err := fdOf(tcpLn)
	if err != nil {
		tcpLn.Close()
		return nil, err
	}
	if err := syscall.SetNonblock(fd, true); err != nil {
		tcpLn.Close()
		return nil, err
	}

	return &Listener{ln: tcpLn, port: port, fd: fd}, nil
}

// FD returns the listening socket's file descriptor, for poller
// registration.
func (l *Listener) FD() int { return l.fd }

// Port returns the port this listener is bound to.
func (l *Listener) Port() int { return l.port }

// Close closes the listening socket.
func (l *Listener) Close() error { return l.ln.Close() }

// Accept performs one accept, waiting at most one millisecond for a
// pending connection. It returns ErrWouldBlock when the accept queue is
// empty; DrainAccept loops this until that happens.
func (l *Listener) Accept() (net.Conn, error) {
	l.ln.SetDeadline(time.Now().Add(time.Millisecond))
	conn, err := l.ln.Accept()
	if err != nil {
		if isWouldBlock(err) || errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, ErrWouldBlock
		}
		return nil, err
	}

	cfd, err := fdOf(conn.(*net.TCPConn))
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := syscall.SetNonblock(cfd, true); err != nil {
		conn.Close()
		return nil, err
	}

	return conn, nil
}

// DrainAccept repeatedly accepts until the queue would block, invoking
// fn for each accepted connection.
func (l *Listener) DrainAccept(fn func(conn net.Conn)) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, ErrWouldBlock) {
				return nil
			}
			return err
		}
		fn(conn)
	}
}

func isWouldBlock(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}

// fdOf extracts the raw file descriptor from a TCP socket via
// conn.(*net.TCPConn).SyscallConn.
func fdOf(sc syscall.Conn) (int, error) {
	rc, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	ctrlErr := rc.Control(func(p uintptr) { fd = int(p) })
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	return fd, nil
}

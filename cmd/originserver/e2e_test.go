package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/originserver/pkg/origin/config"
	"github.com/yourusername/originserver/pkg/origin/loop"
)

// freePort asks the OS for an ephemeral port and releases it immediately;
// there's a small race window before the server binds it, acceptable for
// this test's purposes.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func startServer(t *testing.T, confBody string) (port int, stop func()) {
	t.Helper()
	cfg, err := config.Load(confBody)
	require.NoError(t, err)

	l, err := loop.New(cfg, zap.NewNop())
	require.NoError(t, err)

	stopCh := make(chan struct{})
	done := make(chan struct{})
	go func() {
		l.Run(stopCh)
		close(done)
	}()

	return cfg.Servers[0].Ports[0], func() {
		close(stopCh)
		<-done
	}
}

func dialAndSend(t *testing.T, port int, raw string) string {
	t.Helper()
	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 50*time.Millisecond)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err)
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Write([]byte(raw))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)

	out := statusLine
	for {
		line, err := reader.ReadString('\n')
		out += line
		if err != nil || line == "\r\n" {
			break
		}
	}

	buf := make([]byte, 65536)
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	n, _ := reader.Read(buf)
	out += string(buf[:n])
	return out
}

func TestEndToEndStaticGet(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("hello world"), 0o644))

	port := freePort(t)
	conf := fmt.Sprintf("server {\n listen %d;\n root %s;\n}\n", port, root)
	_, stop := startServer(t, conf)
	defer stop()

	resp := dialAndSend(t, port, "GET /index.html HTTP/1.1\r\nHost: localhost\r\nConnection: close\r\n\r\n")
	require.Contains(t, resp, "200 OK")
	require.Contains(t, resp, "hello world")
}

func TestEndToEndNotFound(t *testing.T) {
	root := t.TempDir()
	port := freePort(t)
	conf := fmt.Sprintf("server {\n listen %d;\n root %s;\n}\n", port, root)
	_, stop := startServer(t, conf)
	defer stop()

	resp := dialAndSend(t, port, "GET /nope.html HTTP/1.1\r\nHost: localhost\r\nConnection: close\r\n\r\n")
	require.Contains(t, resp, "404")
}

func TestEndToEndMethodNotAllowed(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("hi"), 0o644))

	port := freePort(t)
	conf := fmt.Sprintf("server {\n listen %d;\n root %s;\n\n location / {\n  methods GET;\n }\n}\n", port, root)
	_, stop := startServer(t, conf)
	defer stop()

	resp := dialAndSend(t, port, "DELETE /index.html HTTP/1.1\r\nHost: localhost\r\nConnection: close\r\n\r\n")
	require.Contains(t, resp, "405")
}

func TestEndToEndRedirect(t *testing.T) {
	root := t.TempDir()
	port := freePort(t)
	conf := fmt.Sprintf("server {\n listen %d;\n root %s;\n\n location /old {\n  return /new;\n }\n}\n", port, root)
	_, stop := startServer(t, conf)
	defer stop()

	resp := dialAndSend(t, port, "GET /old HTTP/1.1\r\nHost: localhost\r\nConnection: close\r\n\r\n")
	require.Contains(t, resp, "302")
	require.Contains(t, resp, "location: /new")
}

package main

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/nspcc-dev/ledger-go/cli/app"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"
	"google.golang.org/grpc"
)

// syncBuffer is a bytes.Buffer that can be written to by a running command
// while the test reads it.
type syncBuffer struct {
	mtx sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) ReadString(delim byte) (string, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.buf.ReadString(delim)
}

func (b *syncBuffer) String() string {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.buf.Reset()
}

type executor struct {
	CLI *cli.App
	Out *syncBuffer
	Err *syncBuffer
}

func newExecutor(t *testing.T) *executor {
	e := &executor{
		CLI: app.New(),
		Out: new(syncBuffer),
		Err: new(syncBuffer),
	}
	e.CLI.Writer = e.Out
	e.CLI.ErrWriter = e.Err
	return e
}

func (e *executor) getNextLine(t *testing.T) string {
	line, err := e.Out.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimSuffix(line, "\n")
}

func (e *executor) checkNextLine(t *testing.T, expected string) {
	require.Regexp(t, expected, e.getNextLine(t))
}

func (e *executor) checkEOF(t *testing.T) {
	line, err := e.Out.ReadString('\n')
	require.Empty(t, line)
	require.Error(t, err)
}

func setExitFunc() <-chan int {
	ch := make(chan int, 1)
	cli.OsExiter = func(code int) {
		ch <- code
	}
	return ch
}

func checkExit(t *testing.T, ch <-chan int, code int) {
	select {
	case c := <-ch:
		require.Equal(t, code, c)
	default:
		if code != 0 {
			require.Fail(t, "no exit was called")
		}
	}
}

// RunWithError runs the command and checks that it fails with exit code 1.
func (e *executor) RunWithError(t *testing.T, args ...string) {
	ch := setExitFunc()
	require.Error(t, e.run(args...))
	checkExit(t, ch, 1)
}

func (e *executor) Run(t *testing.T, args ...string) {
	ch := setExitFunc()
	require.NoError(t, e.run(args...))
	checkExit(t, ch, 0)
}

func (e *executor) run(args ...string) error {
	e.Out.Reset()
	e.Err.Reset()
	return e.CLI.Run(args)
}

// startServer starts a gRPC server without services, it's enough for
// connections to become ready.
func startServer(t *testing.T) string {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer()
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

// writeConfig creates a config file with the given nodes (address to
// account) and mirror address.
func writeConfig(t *testing.T, nodes map[string]string, mirror string, extra ...string) string {
	var sb strings.Builder
	sb.WriteString("Nodes:\n")
	for addr, id := range nodes {
		fmt.Fprintf(&sb, "  %q: %s\n", addr, id)
	}
	if mirror != "" {
		fmt.Fprintf(&sb, "MirrorNetwork:\n  - %q\n", mirror)
	}
	sb.WriteString(`Logger:
  LogLevel: error
Prometheus:
  Enabled: true
  Addresses:
    - "127.0.0.1:0"
`)
	for _, e := range extra {
		sb.WriteString(e)
	}
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0644))
	return path
}

package main

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/spf13/cobra"
	"github.com/srg/bleproxy/internal/testutils"
)

// CommandTestSuite extends MockScannerSuite with command testing utilities.
// All cmd/bleproxy test suites should embed this instead of MockScannerSuite.
type CommandTestSuite struct {
	testutils.MockScannerSuite
}

// syncBuffer lets background loggers write while the command runs.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// ExecuteCommand runs a cobra command with args, returns combined output and error.
func (s *CommandTestSuite) ExecuteCommand(cmd *cobra.Command, args ...string) (string, error) {
	buf := &syncBuffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// ExecuteCommandContext runs a cobra command under ctx and keeps stdout and stderr apart.
func (s *CommandTestSuite) ExecuteCommandContext(ctx context.Context, cmd *cobra.Command, args ...string) (stdout, stderr string, err error) {
	out, errOut := &syncBuffer{}, &syncBuffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err = cmd.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

// FreeAddr returns a loopback address with a port nothing is listening on.
func (s *CommandTestSuite) FreeAddr() string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err, "probe listener MUST open")
	port := ln.Addr().(*net.TCPAddr).Port
	s.Require().NoError(ln.Close())
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

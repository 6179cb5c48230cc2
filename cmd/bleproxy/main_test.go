package main

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/bleproxy/internal/frame"
	"github.com/srg/bleproxy/internal/scanner"
	"github.com/srg/bleproxy/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}

func TestVersionCommand(t *testing.T) {
	s := &CommandTestSuite{}
	s.SetT(t)

	out, err := s.ExecuteCommand(newRootCmd(), "version")
	require.NoError(t, err)
	testutils.NewTextAsserter(t).Assert(out, `
bleproxy dev (commit none, built unknown)
protocol API 1.6
`)

	out, err = s.ExecuteCommand(newRootCmd(), "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "bleproxy version dev")
}

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{
			name: "address in use",
			err:  fmt.Errorf("listen on :6053: %w", &os.SyscallError{Syscall: "bind", Err: syscall.EADDRINUSE}),
			want: "listen address already in use; is another proxy running?",
		},
		{
			name: "connection refused",
			err:  fmt.Errorf("failed to connect: %w", syscall.ECONNREFUSED),
			want: "proxy is not accepting connections at that address",
		},
		{
			name: "permission denied",
			err:  fmt.Errorf("open hci0: %w", syscall.EPERM),
			want: "permission denied; BLE scanning needs root or CAP_NET_ADMIN",
		},
		{
			name: "unsupported platform",
			err:  fmt.Errorf("failed to create BLE scanner: %w", scanner.ErrUnsupportedPlatform),
			want: "BLE scanning is not supported on this platform",
		},
		{
			name: "connection lost",
			err:  fmt.Errorf("%w: eof", ErrConnectionLost),
			want: "the proxy closed the connection",
		},
		{
			name: "closed frame stream",
			err:  &frame.ConnectionClosedError{},
			want: "the proxy closed the connection",
		},
		{
			name: "protocol violation",
			err:  frame.Malformed("hello: short payload"),
			want: "the peer does not speak the proxy protocol",
		},
		{name: "anything else", err: errors.New("boom"), want: "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatUserError(tt.err)
			if tt.want == "" {
				assert.Empty(t, got)
				return
			}
			assert.Contains(t, got, tt.want)
		})
	}
}

func TestConfigureLogger(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		fallback logrus.Level
		want     logrus.Level
		wantErr  bool
	}{
		{name: "fallback", fallback: logrus.WarnLevel, want: logrus.WarnLevel},
		{name: "verbose", args: []string{"--verbose"}, fallback: logrus.WarnLevel, want: logrus.DebugLevel},
		{name: "explicit level", args: []string{"--log-level", "error"}, fallback: logrus.InfoLevel, want: logrus.ErrorLevel},
		{name: "level beats verbose", args: []string{"--verbose", "--log-level", "info"}, fallback: logrus.WarnLevel, want: logrus.InfoLevel},
		{name: "invalid level", args: []string{"--log-level", "loud"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{Use: "test"}
			cmd.Flags().String("log-level", "", "")
			cmd.Flags().Bool("verbose", false, "")
			require.NoError(t, cmd.ParseFlags(tt.args))

			logger, err := configureLogger(cmd, "verbose", tt.fallback)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}

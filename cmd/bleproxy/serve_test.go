package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/bleproxy/internal/message"
	"github.com/srg/bleproxy/internal/testutils"
	"github.com/srg/bleproxy/pkg/config"
	"github.com/srg/bleproxy/pkg/connection"
	"github.com/stretchr/testify/suite"
)

type ServeTestSuite struct {
	CommandTestSuite
}

func (s *ServeTestSuite) SetupTest() {
	s.WithAdvertisements().
		WithAdvertisement(testutils.CreateMockAdvertisement("Sensor1", "aa:bb:cc:dd:ee:ff", -70).
			WithRawData([]byte{0x02, 0x01, 0x06})).
		Build()

	s.CommandTestSuite.SetupTest()

	// Keep advertising so clients connecting late still see traffic.
	s.Device.Repeat = true
	s.Device.Interval = 20 * time.Millisecond
}

func (s *ServeTestSuite) TestServeRelaysScannedAdvertisements() {
	// GOAL: serve wires scanner, hub and server together until interrupted
	//
	// TEST SCENARIO: serve on a free port → client handshakes → radio advert arrives → cancel → nil error

	addr := s.FreeAddr()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		stderr string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		_, stderr, err := s.ExecuteCommandContext(ctx, newRootCmd(), "serve",
			"--listen", addr, "--no-mdns", "--hostname", "test", "--mac", "01:02:03:04:05:06",
			"--grace-period", "500ms")
		done <- result{stderr: stderr, err: err}
	}()

	conn := s.Helper.WaitForDial(addr, 2*time.Second)
	client := connection.NewConnection(conn, connection.DefaultConnectOptions(addr), s.Logger)
	defer client.Close()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer reqCancel()

	hello, err := client.Hello(reqCtx)
	s.Require().NoError(err)
	s.Equal(uint16(1), hello.Major)
	s.Equal(uint16(6), hello.Minor)
	s.Contains(hello.ServerInfo, "linux-bt-proxy")

	info, err := client.DeviceInfo(reqCtx)
	s.Require().NoError(err)
	s.Equal("linux-bt-proxy", info.Name)
	s.Equal("01:02:03:04:05:06", info.MAC)
	s.Equal(message.FeaturePassiveScan|message.FeatureRawAdvertising, info.ProxyFlags)

	adv, err := client.NextAdvertisement(reqCtx)
	s.Require().NoError(err)
	s.Equal("AA:BB:CC:DD:EE:FF", adv.Address.String())
	s.Equal("Sensor1", adv.Name)
	s.Equal(int16(-70), adv.RSSI)
	s.False(adv.Timestamp.IsZero(), "relayed adverts MUST carry a timestamp")

	cancel()

	select {
	case res := <-done:
		s.Require().NoError(res.err, res.stderr)
		s.Contains(res.stderr, "Starting BLE proxy")
		s.Contains(res.stderr, "Server stopped")
	case <-time.After(5 * time.Second):
		s.FailNow("serve did not stop after cancellation")
	}

	s.GreaterOrEqual(s.Radio.Opens(), 1)
}

func (s *ServeTestSuite) TestServeListenFailure() {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)
	defer ln.Close()

	_, stderr, err := s.ExecuteCommandContext(context.Background(), newRootCmd(), "serve",
		"--listen", ln.Addr().String(), "--no-mdns", "--hostname", "test", "--mac", "01:02:03:04:05:06")
	s.Require().Error(err, stderr)
	s.Contains(FormatUserError(err), "already in use")
}

func (s *ServeTestSuite) TestLoadServeConfig() {
	path := filepath.Join(s.T().TempDir(), "bleproxy.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(`
listen: 127.0.0.1:7000
name: garage-proxy
grace_period: 2s
scan:
  adapter: 1
  backoff: 3s
`), 0o600))

	tests := []struct {
		name    string
		args    []string
		wantErr string
		assert  func(cfg *config.Config)
	}{
		{
			name: "defaults without file or flags",
			assert: func(cfg *config.Config) {
				s.Equal(config.DefaultConfig(), cfg)
			},
		},
		{
			name: "file values survive unset flags",
			args: []string{"--config", path},
			assert: func(cfg *config.Config) {
				s.Equal("127.0.0.1:7000", cfg.Listen)
				s.Equal("garage-proxy", cfg.Name)
				s.Equal(2*time.Second, cfg.GracePeriod)
				s.Equal(1, cfg.Scan.Adapter)
				s.Equal(3*time.Second, cfg.Scan.Backoff)
				s.True(cfg.MDNS.Enabled)
			},
		},
		{
			name: "flags override the file",
			args: []string{"-c", path, "--listen", "127.0.0.1:7001", "-a", "2", "--no-mdns",
				"--grace-period", "1s", "--block", "AA:BB:CC:DD:EE:FF", "--max-sessions", "3",
				"--log-level", "debug"},
			assert: func(cfg *config.Config) {
				s.Equal("127.0.0.1:7001", cfg.Listen)
				s.Equal("garage-proxy", cfg.Name)
				s.Equal(time.Second, cfg.GracePeriod)
				s.Equal(2, cfg.Scan.Adapter)
				s.False(cfg.MDNS.Enabled)
				s.Equal([]string{"AA:BB:CC:DD:EE:FF"}, cfg.Scan.BlockList)
				s.Equal(3, cfg.MaxSessions)
				s.Equal("debug", cfg.LogLevel)
			},
		},
		{
			name:    "invalid listen address",
			args:    []string{"--listen", "nowhere"},
			wantErr: "invalid listen address",
		},
		{
			name:    "invalid mac",
			args:    []string{"--mac", "01:02"},
			wantErr: "invalid mac",
		},
		{
			name:    "missing config file",
			args:    []string{"--config", filepath.Join(s.T().TempDir(), "absent.yaml")},
			wantErr: "absent.yaml",
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			f := &serveFlags{}
			cmd := &cobra.Command{Use: "serve"}
			bindServeFlags(cmd, f)
			cmd.Flags().String("log-level", "", "")
			s.Require().NoError(cmd.ParseFlags(tt.args))

			cfg, err := loadServeConfig(cmd, f)
			if tt.wantErr != "" {
				s.Require().Error(err)
				s.Contains(err.Error(), tt.wantErr)
				return
			}
			s.Require().NoError(err)
			tt.assert(cfg)
		})
	}
}

func TestServeTestSuite(t *testing.T) {
	suite.Run(t, new(ServeTestSuite))
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleproxy/internal/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "0.0.0.0:6053", cfg.Listen)
	assert.Equal(t, "linux-bt-proxy", cfg.Name)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.MDNS.Enabled)
	assert.Equal(t, "_esphomelib._tcp", cfg.MDNS.ServiceType)
	assert.Equal(t, 5*time.Second, cfg.Scan.Backoff)
	assert.Equal(t, uint32(1024), cfg.Scan.BufferSize)
	assert.Equal(t, 262144, cfg.Session.OutboxBytes)
	assert.Equal(t, uint64(4<<20), cfg.Session.MaxPayloadBytes)
	assert.Equal(t, 10*time.Second, cfg.Session.HandshakeTimeout)
	assert.Equal(t, 5*time.Second, cfg.Session.WriteTimeout)
	assert.Equal(t, 5*time.Second, cfg.GracePeriod)
	assert.Zero(t, cfg.MaxSessions)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     logrus.Level
	}{
		{name: "creates logger with debug level", logLevel: "debug", want: logrus.DebugLevel},
		{name: "creates logger with info level", logLevel: "info", want: logrus.InfoLevel},
		{name: "creates logger with warn level", logLevel: "warn", want: logrus.WarnLevel},
		{name: "creates logger with error level", logLevel: "ERROR", want: logrus.ErrorLevel},
		{name: "empty level means info", logLevel: "", want: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.want, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bleproxy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: 127.0.0.1:7000
hostname: garage
mac: "DC:A6:32:01:02:03"
log_level: debug
mdns:
  enabled: false
scan:
  adapter: 1
  window: 30s
  backoff: 2s
  block_list: ["AA:BB:CC:DD:EE:FF"]
session:
  outbox_bytes: 4096
grace_period: 1s
max_sessions: 3
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:7000", cfg.Listen)
	assert.Equal(t, "garage", cfg.Hostname)
	assert.False(t, cfg.MDNS.Enabled)
	assert.Equal(t, "_esphomelib._tcp", cfg.MDNS.ServiceType, "keys missing from the file keep defaults")
	assert.Equal(t, 1, cfg.Scan.Adapter)
	assert.Equal(t, 30*time.Second, cfg.Scan.Window)
	assert.Equal(t, 2*time.Second, cfg.Scan.Backoff)
	assert.Equal(t, []string{"AA:BB:CC:DD:EE:FF"}, cfg.Scan.BlockList)
	assert.Equal(t, 4096, cfg.Session.OutboxBytes)
	assert.Equal(t, 10*time.Second, cfg.Session.HandshakeTimeout)
	assert.Equal(t, time.Second, cfg.GracePeriod)
	assert.Equal(t, 3, cfg.MaxSessions)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("listen_addr: 1.2.3.4:1\n"), 0o600))
	_, err = Load(unknown)
	assert.Error(t, err, "unknown keys are rejected")

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	cfg, err := Load(empty)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{name: "defaults are valid", mutate: func(*Config) {}, valid: true},
		{name: "bad listen address", mutate: func(c *Config) { c.Listen = "nowhere" }},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "trace" }},
		{name: "bad mac", mutate: func(c *Config) { c.MAC = "01:02" }},
		{name: "bad bluetooth mac", mutate: func(c *Config) { c.BluetoothMAC = "zz" }},
		{name: "tiny outbox", mutate: func(c *Config) { c.Session.OutboxBytes = 8 }},
		{name: "zero payload limit", mutate: func(c *Config) { c.Session.MaxPayloadBytes = 0 }},
		{name: "zero handshake timeout", mutate: func(c *Config) { c.Session.HandshakeTimeout = 0 }},
		{name: "negative grace period", mutate: func(c *Config) { c.GracePeriod = -time.Second }},
		{name: "negative max sessions", mutate: func(c *Config) { c.MaxSessions = -1 }},
		{name: "bad scan options", mutate: func(c *Config) { c.Scan.Backoff = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if tt.valid {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestIdentity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Hostname = "garage"
	cfg.MAC = "dc-a6-32-01-02-03"

	host, err := cfg.ResolveHostname()
	require.NoError(t, err)
	assert.Equal(t, "garage", host)

	mac, err := cfg.ResolveMAC()
	require.NoError(t, err)
	assert.Equal(t, message.Address(0xDCA632010203), mac)

	info := cfg.DeviceInfo(mac, 0, "1.0.0")
	assert.Equal(t, "DC:A6:32:01:02:03", info.MAC)
	assert.Empty(t, info.BluetoothMAC)
	assert.Equal(t, message.FeaturePassiveScan|message.FeatureRawAdvertising, info.ProxyFlags)

	opts := cfg.SessionOptions(nil, info)
	assert.Equal(t, "linux-bt-proxy (1.0.0)", opts.Identity.ServerInfo)
	assert.Equal(t, uint64(4<<20), opts.Limits.MaxPayloadBytes)

	rec, err := cfg.Record(host, mac, 0, "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "garage_dca632010203", rec.Instance)
	assert.Equal(t, 6053, rec.Port)
}

func TestResolveBluetoothMAC(t *testing.T) {
	dir := t.TempDir()
	orig := sysBluetoothDir
	sysBluetoothDir = dir
	defer func() { sysBluetoothDir = orig }()

	cfg := DefaultConfig()
	assert.Zero(t, cfg.ResolveBluetoothMAC(), "no adapter")

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "hci0"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hci0", "address"), []byte("DC:A6:32:0A:0B:0C\n"), 0o600))
	assert.Equal(t, message.Address(0xDCA6320A0B0C), cfg.ResolveBluetoothMAC())

	cfg.BluetoothMAC = "11:22:33:44:55:66"
	assert.Equal(t, message.Address(0x112233445566), cfg.ResolveBluetoothMAC())
}

func BenchmarkDefaultConfig(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = DefaultConfig()
	}
}

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleproxy/internal/discovery"
	"github.com/srg/bleproxy/internal/frame"
	"github.com/srg/bleproxy/internal/message"
	"github.com/srg/bleproxy/internal/scanner"
	"github.com/srg/bleproxy/internal/session"
	"gopkg.in/yaml.v3"
)

// sysBluetoothDir is where Linux exposes HCI adapters; replaced in tests.
var sysBluetoothDir = "/sys/class/bluetooth"

// Config holds application configuration
type Config struct {
	Listen       string `default:"0.0.0.0:6053" yaml:"listen"`
	Hostname     string `yaml:"hostname"`
	MAC          string `yaml:"mac"`
	BluetoothMAC string `yaml:"bluetooth_mac"`
	Name         string `default:"linux-bt-proxy" yaml:"name"`
	Model        string `default:"bleproxy" yaml:"model"`
	LogLevel     string `default:"info" yaml:"log_level"`

	MDNS    MDNSConfig      `yaml:"mdns"`
	Scan    scanner.Options `yaml:"scan"`
	Session SessionConfig   `yaml:"session"`

	GracePeriod time.Duration `default:"5s" yaml:"grace_period"`
	MaxSessions int           `yaml:"max_sessions"`
}

type MDNSConfig struct {
	Enabled     bool   `default:"true" yaml:"enabled"`
	ServiceType string `default:"_esphomelib._tcp" yaml:"service_type"`
	Network     string `default:"ethernet" yaml:"network"`
}

type SessionConfig struct {
	OutboxBytes      int           `default:"262144" yaml:"outbox_bytes"`
	MaxPayloadBytes  uint64        `default:"4194304" yaml:"max_payload_bytes"`
	HandshakeTimeout time.Duration `default:"10s" yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `default:"5s" yaml:"write_timeout"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. Keys missing from the file keep their default.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges and formats.
func (c *Config) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.MAC != "" {
		if _, err := message.ParseAddress(c.MAC); err != nil {
			return fmt.Errorf("invalid mac: %w", err)
		}
	}
	if c.BluetoothMAC != "" {
		if _, err := message.ParseAddress(c.BluetoothMAC); err != nil {
			return fmt.Errorf("invalid bluetooth_mac: %w", err)
		}
	}
	if c.Session.OutboxBytes < 64 {
		return fmt.Errorf("session outbox must hold at least 64 bytes, got %d", c.Session.OutboxBytes)
	}
	if c.Session.MaxPayloadBytes == 0 || c.Session.MaxPayloadBytes > frame.MaxFrameLength {
		return fmt.Errorf("max payload must be between 1 and %d bytes", uint64(frame.MaxFrameLength))
	}
	if c.Session.HandshakeTimeout <= 0 || c.Session.WriteTimeout <= 0 {
		return errors.New("session timeouts must be positive")
	}
	if c.GracePeriod < 0 {
		return fmt.Errorf("grace period must not be negative, got %s", c.GracePeriod)
	}
	if c.MaxSessions < 0 {
		return fmt.Errorf("max sessions must not be negative, got %d", c.MaxSessions)
	}
	return c.Scan.Validate()
}

// Level parses LogLevel.
func (c *Config) Level() (logrus.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return logrus.DebugLevel, nil
	case "info", "":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	}
	return logrus.InfoLevel, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	level, _ := c.Level()

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}

// ResolveHostname returns Hostname or the system hostname.
func (c *Config) ResolveHostname() (string, error) {
	if c.Hostname != "" {
		return c.Hostname, nil
	}
	h, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}
	return h, nil
}

// ResolveMAC returns MAC or the address of the first non-loopback interface that has one.
func (c *Config) ResolveMAC() (message.Address, error) {
	if c.MAC != "" {
		return message.ParseAddress(c.MAC)
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return 0, fmt.Errorf("failed to list network interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) != 6 {
			continue
		}
		return message.ParseAddress(iface.HardwareAddr.String())
	}
	return 0, errors.New("no MAC address provided and none available on this system")
}

// ResolveBluetoothMAC returns BluetoothMAC or the address of the configured HCI adapter.
// Zero means unknown.
func (c *Config) ResolveBluetoothMAC() message.Address {
	if c.BluetoothMAC != "" {
		if a, err := message.ParseAddress(c.BluetoothMAC); err == nil {
			return a
		}
	}
	data, err := os.ReadFile(filepath.Join(sysBluetoothDir, "hci"+strconv.Itoa(c.Scan.Adapter), "address"))
	if err != nil {
		return 0
	}
	a, err := message.ParseAddress(string(data))
	if err != nil {
		return 0
	}
	return a
}

// ScanOptions returns the scan loop settings.
func (c *Config) ScanOptions() scanner.Options {
	return c.Scan
}

// SessionOptions returns per-connection settings for a node with the given identity.
func (c *Config) SessionOptions(logger *logrus.Logger, info message.DeviceInfo) session.Options {
	return session.Options{
		Logger: logger,
		Identity: session.Identity{
			ServerInfo: fmt.Sprintf("%s (%s)", c.Name, info.Version),
			DeviceInfo: info,
		},
		Limits:           frame.Limits{MaxPayloadBytes: c.Session.MaxPayloadBytes},
		OutboxBytes:      c.Session.OutboxBytes,
		HandshakeTimeout: c.Session.HandshakeTimeout,
		WriteTimeout:     c.Session.WriteTimeout,
	}
}

// DeviceInfo describes this node to connected hubs.
func (c *Config) DeviceInfo(mac, btMAC message.Address, version string) message.DeviceInfo {
	info := message.DeviceInfo{
		Name:       c.Name,
		MAC:        mac.String(),
		Model:      c.Model,
		Version:    version,
		ProxyFlags: message.FeaturePassiveScan | message.FeatureRawAdvertising,
	}
	if btMAC != 0 {
		info.BluetoothMAC = btMAC.String()
	}
	return info
}

// Record builds the mDNS record announced for this node.
func (c *Config) Record(hostname string, mac, btMAC message.Address, version string) (discovery.Record, error) {
	port, err := listenPort(c.Listen)
	if err != nil {
		return discovery.Record{}, err
	}
	return discovery.NewRecord(hostname, mac, port, discovery.RecordOptions{
		ServiceType:  c.MDNS.ServiceType,
		FriendlyName: c.Name,
		Version:      version,
		Network:      c.MDNS.Network,
		BluetoothMAC: btMAC,
	})
}

func listenPort(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	return strconv.Atoi(p)
}

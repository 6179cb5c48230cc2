package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/bleproxy/internal/discovery"
	"github.com/srg/bleproxy/internal/hub"
	"github.com/srg/bleproxy/internal/scanner"
	"github.com/srg/bleproxy/internal/server"
	"github.com/srg/bleproxy/pkg/config"
)

type serveFlags struct {
	configPath      string
	listen          string
	hostname        string
	mac             string
	adapter         int
	noMDNS          bool
	window          time.Duration
	backoff         time.Duration
	grace           time.Duration
	allow           []string
	block           []string
	maxSessions     int
	duplicateFilter bool
}

func newServeCmd() *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy daemon",
		Long: `Scan for BLE advertisements and relay them to every connected hub.

The daemon listens for API clients, announces itself over mDNS and keeps
scanning until interrupted. Radio failures are retried with a backoff;
Ctrl+C or SIGTERM closes all client sessions gracefully.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, f)
		},
	}
	bindServeFlags(cmd, f)
	return cmd
}

func bindServeFlags(cmd *cobra.Command, f *serveFlags) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "YAML configuration file")
	cmd.Flags().StringVarP(&f.listen, "listen", "l", "0.0.0.0:6053", "TCP listen address")
	cmd.Flags().StringVar(&f.hostname, "hostname", "", "Hostname to advertise (default: system hostname)")
	cmd.Flags().StringVarP(&f.mac, "mac", "m", "", "Network MAC address to advertise (default: first interface)")
	cmd.Flags().IntVarP(&f.adapter, "adapter", "a", 0, "Bluetooth adapter index (e.g. 0 for hci0)")
	cmd.Flags().BoolVar(&f.noMDNS, "no-mdns", false, "Do not announce the proxy over mDNS")
	cmd.Flags().DurationVar(&f.window, "scan-window", 0, "Restart the radio after this long (0 scans until failure)")
	cmd.Flags().DurationVar(&f.backoff, "scan-backoff", 5*time.Second, "Pause before reopening a failed radio")
	cmd.Flags().DurationVar(&f.grace, "grace-period", 5*time.Second, "How long shutdown waits for clients to close")
	cmd.Flags().StringSliceVar(&f.allow, "allow", nil, "Only relay devices with these addresses")
	cmd.Flags().StringSliceVar(&f.block, "block", nil, "Never relay devices with these addresses")
	cmd.Flags().IntVar(&f.maxSessions, "max-sessions", 0, "Maximum concurrent clients (0 for unlimited)")
	cmd.Flags().BoolVar(&f.duplicateFilter, "duplicate-filter", false, "Ask the radio to suppress repeated advertisements")
}

// loadServeConfig reads --config and applies the flags the user set explicitly.
func loadServeConfig(cmd *cobra.Command, f *serveFlags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Listen = f.listen
	}
	if flags.Changed("hostname") {
		cfg.Hostname = f.hostname
	}
	if flags.Changed("mac") {
		cfg.MAC = f.mac
	}
	if flags.Changed("adapter") {
		cfg.Scan.Adapter = f.adapter
	}
	if flags.Changed("no-mdns") {
		cfg.MDNS.Enabled = !f.noMDNS
	}
	if flags.Changed("scan-window") {
		cfg.Scan.Window = f.window
	}
	if flags.Changed("scan-backoff") {
		cfg.Scan.Backoff = f.backoff
	}
	if flags.Changed("grace-period") {
		cfg.GracePeriod = f.grace
	}
	if flags.Changed("allow") {
		cfg.Scan.AllowList = f.allow
	}
	if flags.Changed("block") {
		cfg.Scan.BlockList = f.block
	}
	if flags.Changed("max-sessions") {
		cfg.MaxSessions = f.maxSessions
	}
	if flags.Changed("duplicate-filter") {
		cfg.Scan.DuplicateFilter = f.duplicateFilter
	}
	if lvl, _ := flags.GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	return cfg, cfg.Validate()
}

func runServe(cmd *cobra.Command, f *serveFlags) error {
	cfg, err := loadServeConfig(cmd, f)
	if err != nil {
		return err
	}
	level, _ := cfg.Level()
	logger, err := configureLogger(cmd, "verbose", level)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	hostname, err := cfg.ResolveHostname()
	if err != nil {
		return err
	}
	mac, err := cfg.ResolveMAC()
	if err != nil {
		return err
	}
	btMAC := cfg.ResolveBluetoothMAC()
	ver := formatVersion(version)
	info := cfg.DeviceInfo(mac, btMAC, ver)

	h := hub.New(logger)
	src, err := scanner.NewSource(h, cfg.ScanOptions(), logger)
	if err != nil {
		return fmt.Errorf("failed to create BLE scanner: %w", err)
	}

	opts := server.Options{
		Addr:           cfg.Listen,
		Hub:            h,
		Source:         src,
		SessionOptions: cfg.SessionOptions(logger, info),
		GracePeriod:    cfg.GracePeriod,
		MaxSessions:    cfg.MaxSessions,
		Logger:         logger,
	}
	if cfg.MDNS.Enabled {
		rec, err := cfg.Record(hostname, mac, btMAC, ver)
		if err != nil {
			return err
		}
		opts.Announcer = discovery.NewZeroconfAnnouncer(logger)
		opts.Record = &rec
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithFields(logrus.Fields{
		"version":  ver,
		"hostname": hostname,
		"mac":      mac.String(),
		"adapter":  cfg.Scan.Adapter,
		"mdns":     cfg.MDNS.Enabled,
	}).Info("Starting BLE proxy")

	return server.New(opts).Serve(ctx)
}

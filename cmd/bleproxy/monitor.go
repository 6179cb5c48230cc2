package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/bleproxy/internal/frame"
	"github.com/srg/bleproxy/internal/message"
	"github.com/srg/bleproxy/pkg/connection"
	"golang.org/x/term"
)

type monitorFlags struct {
	format   string
	count    int
	duration time.Duration
	timeout  time.Duration
}

func newMonitorCmd() *cobra.Command {
	f := &monitorFlags{}
	cmd := &cobra.Command{
		Use:   "monitor <host:port>",
		Short: "Watch the advertisements relayed by a proxy",
		Long: `Connect to a running proxy, perform the handshake and print every relayed
advertisement. Output is a table on a terminal and JSON lines otherwise.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd, args[0], f)
		},
	}

	cmd.Flags().StringVarP(&f.format, "format", "f", "auto", "Output format (auto, table, json)")
	cmd.Flags().IntVarP(&f.count, "count", "n", 0, "Stop after this many advertisements (0 for no limit)")
	cmd.Flags().DurationVarP(&f.duration, "duration", "d", 0, "Stop after this long (0 for indefinite)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 10*time.Second, "Connect and handshake timeout")
	return cmd
}

func runMonitor(cmd *cobra.Command, addr string, f *monitorFlags) error {
	switch f.format {
	case "auto", "table", "json":
	default:
		return fmt.Errorf("invalid format '%s': must be one of [auto table json]", f.format)
	}
	if f.count < 0 {
		return fmt.Errorf("count must not be negative, got %d", f.count)
	}

	logger, err := configureLogger(cmd, "verbose", logrus.WarnLevel)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if f.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.duration)
		defer cancel()
	}

	out := cmd.OutOrStdout()
	tty := isTerminal(out)
	format := f.format
	if format == "auto" {
		format = "json"
		if tty {
			format = "table"
		}
	}

	opts := connection.DefaultConnectOptions(addr)
	opts.ConnectTimeout = f.timeout
	conn, err := connection.Dial(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	helloCtx, cancelHello := context.WithTimeout(ctx, f.timeout)
	hello, err := conn.Hello(helloCtx)
	cancelHello()
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"server":     hello.ServerInfo,
		"server_api": fmt.Sprintf("%d.%d", hello.Major, hello.Minor),
	}).Info("Connected to proxy")

	var printer advertPrinter
	if format == "table" {
		printer = newTablePrinter(out, tty)
	} else {
		printer = newJSONPrinter(out)
	}
	printer.Header(hello)

	for seen := 0; f.count == 0 || seen < f.count; seen++ {
		adv, err := conn.NextAdvertisement(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if frame.IsConnectionClosed(err) {
				return fmt.Errorf("%w: %v", ErrConnectionLost, err)
			}
			return err
		}
		if err := printer.Print(adv); err != nil {
			return err
		}
	}

	byeCtx, cancelBye := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancelBye()
	if err := conn.Disconnect(byeCtx); err != nil {
		logger.WithError(err).Debug("Disconnect handshake failed")
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

type advertPrinter interface {
	Header(hello message.HelloResponse)
	Print(adv message.Advertisement) error
}

type tablePrinter struct {
	w      io.Writer
	header *color.Color
	strong *color.Color
	medium *color.Color
	weak   *color.Color
}

func newTablePrinter(w io.Writer, colored bool) *tablePrinter {
	p := &tablePrinter{
		w:      w,
		header: color.New(color.Bold),
		strong: color.New(color.FgGreen),
		medium: color.New(color.FgYellow),
		weak:   color.New(color.FgRed),
	}
	for _, c := range []*color.Color{p.header, p.strong, p.medium, p.weak} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p *tablePrinter) Header(hello message.HelloResponse) {
	fmt.Fprintf(p.w, "Connected to %s (API %d.%d)\n\n", hello.ServerInfo, hello.Major, hello.Minor)
	p.header.Fprintf(p.w, "%-12s  %-17s  %-6s  %5s  %-20s  %s\n", "TIME", "ADDRESS", "TYPE", "RSSI", "NAME", "DATA")
}

func (p *tablePrinter) Print(adv message.Advertisement) error {
	rssi := p.weak
	switch {
	case adv.RSSI == message.RSSIUnknown:
		rssi = p.header
	case adv.RSSI >= -60:
		rssi = p.strong
	case adv.RSSI >= -80:
		rssi = p.medium
	}

	ts := "-"
	if !adv.Timestamp.IsZero() {
		ts = adv.Timestamp.UTC().Format("15:04:05.000")
	}
	name := adv.Name
	if name == "" {
		name = "-"
	}

	_, err := fmt.Fprintf(p.w, "%-12s  %-17s  %-6s  %s  %-20s  %s\n",
		ts, adv.Address, adv.AddressType, rssi.Sprintf("%5d", adv.RSSI), name, hex.EncodeToString(adv.Raw))
	return err
}

type jsonPrinter struct {
	enc *json.Encoder
}

type jsonAdvertisement struct {
	Address     string     `json:"address"`
	AddressType string     `json:"address_type"`
	RSSI        int16      `json:"rssi"`
	Name        string     `json:"name,omitempty"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	Raw         string     `json:"raw"`
}

func newJSONPrinter(w io.Writer) *jsonPrinter {
	return &jsonPrinter{enc: json.NewEncoder(w)}
}

func (p *jsonPrinter) Header(message.HelloResponse) {}

func (p *jsonPrinter) Print(adv message.Advertisement) error {
	rec := jsonAdvertisement{
		Address:     adv.Address.String(),
		AddressType: adv.AddressType.String(),
		RSSI:        adv.RSSI,
		Name:        adv.Name,
		Raw:         hex.EncodeToString(adv.Raw),
	}
	if !adv.Timestamp.IsZero() {
		ts := adv.Timestamp
		rec.Timestamp = &ts
	}
	if err := p.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

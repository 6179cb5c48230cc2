// Package discovery announces the proxy on the local network over mDNS/DNS-SD.
//
// The record is published once at startup and withdrawn at shutdown. Client
// connections never change it.
package discovery

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/srg/bleproxy/internal/message"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	DefaultServiceType = "_esphomelib._tcp"
	DefaultDomain      = "local."
)

// Record is the service advertised on the network. Text keeps insertion order so the
// TXT record is stable across restarts.
type Record struct {
	ServiceType string
	Instance    string
	Domain      string
	Port        int
	Text        *orderedmap.OrderedMap[string, string]
}

// RecordOptions carries the optional TXT values of a record.
type RecordOptions struct {
	ServiceType  string
	FriendlyName string
	Version      string
	Network      string
	BluetoothMAC message.Address
}

// NewRecord builds the record for this host. The instance name is
// <hostname>_<mac in lower-case hex>. Port 0 is filled in once the listener is bound.
func NewRecord(hostname string, mac message.Address, port int, opts RecordOptions) (Record, error) {
	hostname = strings.TrimSuffix(strings.TrimSpace(hostname), ".")
	if hostname == "" {
		return Record{}, errors.New("discovery: hostname is required")
	}
	if port < 0 || port > 65535 {
		return Record{}, fmt.Errorf("discovery: invalid port %d", port)
	}

	serviceType := opts.ServiceType
	if serviceType == "" {
		serviceType = DefaultServiceType
	}

	txt := orderedmap.New[string, string]()
	txt.Set("mac", mac.Hex())
	if opts.FriendlyName != "" {
		txt.Set("friendly_name", opts.FriendlyName)
	}
	if opts.Version != "" {
		txt.Set("version", opts.Version)
	}
	txt.Set("platform", runtime.GOOS)
	txt.Set("api_encryption_supported", "false")
	if opts.Network != "" {
		txt.Set("network", opts.Network)
	}
	if opts.BluetoothMAC != 0 {
		txt.Set("bluetooth_mac_address", opts.BluetoothMAC.String())
	}

	return Record{
		ServiceType: serviceType,
		Instance:    hostname + "_" + mac.Hex(),
		Domain:      DefaultDomain,
		Port:        port,
		Text:        txt,
	}, nil
}

// TXT renders the text map as key=value strings in insertion order.
func (r Record) TXT() []string {
	if r.Text == nil {
		return nil
	}
	out := make([]string, 0, r.Text.Len())
	for pair := r.Text.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key+"="+pair.Value)
	}
	return out
}

func (r Record) String() string {
	return fmt.Sprintf("%s.%s%s:%d", r.Instance, r.ServiceType, r.Domain, r.Port)
}

// Withdrawer removes a published record.
type Withdrawer interface {
	Withdraw()
}

// Announcer publishes a record on the network.
type Announcer interface {
	Announce(r Record) (Withdrawer, error)
}

// NopAnnouncer publishes nothing.
type NopAnnouncer struct{}

func (NopAnnouncer) Announce(Record) (Withdrawer, error) {
	return nopWithdrawer{}, nil
}

type nopWithdrawer struct{}

func (nopWithdrawer) Withdraw() {}

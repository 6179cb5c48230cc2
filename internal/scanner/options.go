package scanner

import (
	"fmt"
	"time"

	"github.com/srg/bleproxy/internal/message"
)

// Options controls the scan loop.
type Options struct {
	// Adapter is the HCI device index (Linux only).
	Adapter int `yaml:"adapter"`
	// Window is how long one scan runs before the radio is restarted. Zero scans until failure.
	Window time.Duration `yaml:"window"`
	// Idle is the pause between two clean scan windows.
	Idle time.Duration `yaml:"idle"`
	// Backoff is the pause after a failed scan before trying again.
	Backoff time.Duration `default:"5s" yaml:"backoff"`
	// DuplicateFilter asks the radio to suppress repeated advertisements.
	DuplicateFilter bool `yaml:"duplicate_filter"`
	// AllowList and BlockList filter by device address.
	AllowList []string `yaml:"allow_list"`
	BlockList []string `yaml:"block_list"`
	// BufferSize is the capacity of the ring between the radio callback and the hub.
	BufferSize uint32 `default:"1024" yaml:"buffer_size"`
}

// DefaultOptions returns options for a continuous scan with a 5s restart backoff.
func DefaultOptions() Options {
	return Options{
		Backoff:    5 * time.Second,
		BufferSize: 1024,
	}
}

// Validate checks the options for values the loop cannot run with.
func (o Options) Validate() error {
	if o.Backoff <= 0 {
		return fmt.Errorf("scan backoff must be positive, got %s", o.Backoff)
	}
	if o.Window < 0 || o.Idle < 0 {
		return fmt.Errorf("scan window and idle must not be negative")
	}
	if o.Adapter < 0 {
		return fmt.Errorf("adapter index must not be negative, got %d", o.Adapter)
	}
	for _, list := range [][]string{o.AllowList, o.BlockList} {
		for _, a := range list {
			if _, err := message.ParseAddress(a); err != nil {
				return err
			}
		}
	}
	return nil
}

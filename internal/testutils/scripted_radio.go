package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/srg/bleproxy/internal/message"
	"github.com/srg/bleproxy/internal/scanner"
)

// ScriptedDevice replays a fixed list of detections, then either fails with Err or
// blocks until the scan context ends.
type ScriptedDevice struct {
	Detections []scanner.Detection
	Err        error
	// Interval spaces out replayed detections.
	Interval time.Duration
	// PanicWith makes Scan panic after the replay.
	PanicWith any
	// Repeat replays Detections until the scan context ends. Requires Interval.
	Repeat bool
}

func (d *ScriptedDevice) Scan(ctx context.Context, _ bool, handler func(scanner.Detection)) error {
	for {
		for _, det := range d.Detections {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			handler(det)
			if d.Interval > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(d.Interval):
				}
			}
		}
		if !d.Repeat || d.Interval <= 0 {
			break
		}
	}
	if d.PanicWith != nil {
		panic(d.PanicWith)
	}
	if d.Err != nil {
		return d.Err
	}
	<-ctx.Done()
	return ctx.Err()
}

// ScriptedRadio stands in for scanner.DeviceFactory. Each open consumes one entry of
// OpenErrors; once they run out, opens succeed and return Device.
type ScriptedRadio struct {
	mu         sync.Mutex
	opens      int
	OpenErrors []error
	Device     scanner.ScanningDevice
	// Devices, when set, are handed out one per successful open before falling back to Device.
	Devices []scanner.ScanningDevice
}

// Factory has the signature of scanner.DeviceFactory.
func (r *ScriptedRadio) Factory(_ int) (scanner.ScanningDevice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opens++
	if len(r.OpenErrors) > 0 {
		err := r.OpenErrors[0]
		r.OpenErrors = r.OpenErrors[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(r.Devices) > 0 {
		dev := r.Devices[0]
		r.Devices = r.Devices[1:]
		return dev, nil
	}
	return r.Device, nil
}

// Opens returns how many times the factory was called.
func (r *ScriptedRadio) Opens() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opens
}

// RecordingPublisher collects published advertisements.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []message.Advertisement
	signal chan struct{}
}

func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{signal: make(chan struct{}, 1)}
}

func (p *RecordingPublisher) Publish(ev message.Advertisement) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// Events returns a copy of everything published so far.
func (p *RecordingPublisher) Events() []message.Advertisement {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]message.Advertisement(nil), p.events...)
}

// WaitFor blocks until at least n events arrived or timeout passes, returning what it has.
func (p *RecordingPublisher) WaitFor(n int, timeout time.Duration) []message.Advertisement {
	deadline := time.After(timeout)
	for {
		if ev := p.Events(); len(ev) >= n {
			return ev
		}
		select {
		case <-p.signal:
		case <-deadline:
			return p.Events()
		}
	}
}

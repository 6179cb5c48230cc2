// Package scanner turns the platform BLE radio into a stream of normalized advertisement events.
//
// The radio callback never touches the hub directly: detections are normalized, filtered and
// pushed into an overwrite-oldest ring, and a single producer goroutine drains that ring into
// the publisher. A failing radio is reopened after a backoff until the context is cancelled.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleproxy/internal/groutine"
	"github.com/srg/bleproxy/internal/message"
)

// Publisher receives normalized events. hub.Hub implements it.
type Publisher interface {
	Publish(ev message.Advertisement)
}

// ScanSourceError reports a radio failure. It is handled inside the scan loop and never
// reaches clients.
type ScanSourceError struct {
	Op  string
	Err error
}

func (e *ScanSourceError) Error() string {
	return fmt.Sprintf("scan source %s: %v", e.Op, e.Err)
}

func (e *ScanSourceError) Unwrap() error { return e.Err }

var errDiscoveryStopped = errors.New("radio stopped discovery")

// Stats is a snapshot of scan counters.
type Stats struct {
	Detections  uint64
	Published   uint64
	Malformed   uint64
	Filtered    uint64
	Overwritten uint64
	Restarts    uint64
}

// Source runs the scan loop.
type Source struct {
	publisher Publisher
	opts      Options
	logger    *logrus.Logger
	filter    *addressFilter

	ring   mpmc.RichOverlappedRingBuffer[message.Advertisement]
	notify chan struct{}

	// now stamps events; replaced in tests
	now func() time.Time

	detections  atomic.Uint64
	published   atomic.Uint64
	malformed   atomic.Uint64
	filtered    atomic.Uint64
	overwritten atomic.Uint64
	restarts    atomic.Uint64
}

// NewSource validates opts and creates a source publishing into pub.
func NewSource(pub Publisher, opts Options, logger *logrus.Logger) (*Source, error) {
	if pub == nil {
		return nil, errors.New("scanner: publisher is required")
	}
	defaults.SetDefaults(&opts)
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Source{
		publisher: pub,
		opts:      opts,
		logger:    logger,
		filter:    newAddressFilter(opts.AllowList, opts.BlockList),
		ring:      mpmc.NewOverlappedRingBuffer[message.Advertisement](opts.BufferSize),
		notify:    make(chan struct{}, 1),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetClock replaces the timestamp source.
func (s *Source) SetClock(now func() time.Time) {
	s.now = now
}

// Run scans until ctx is cancelled and returns ctx.Err(). Radio failures are logged and retried.
func (s *Source) Run(ctx context.Context) error {
	g := groutine.Group{OnPanic: func(err *groutine.PanicError) {
		s.logger.WithError(err).Error("Advertisement producer crashed")
	}}
	g.Go(ctx, "scan-producer", s.produce)
	defer g.Wait()

	s.logger.WithFields(logrus.Fields{
		"adapter": s.opts.Adapter,
		"window":  s.opts.Window,
		"backoff": s.opts.Backoff,
	}).Info("Starting BLE scan loop")

	for {
		err := s.scanOnce(ctx)
		if ctx.Err() != nil {
			s.logger.Info("BLE scan loop stopped")
			return ctx.Err()
		}

		pause := s.opts.Idle
		if err != nil {
			s.restarts.Add(1)
			pause = s.opts.Backoff
			s.logger.WithError(err).WithField("retry_in", pause).Warn("BLE scan failed, restarting")
		}
		if pause <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			s.logger.Info("BLE scan loop stopped")
			return ctx.Err()
		case <-time.After(pause):
		}
	}
}

// scanOnce opens the radio and runs one scan window.
func (s *Source) scanOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ScanSourceError{Op: "scan", Err: fmt.Errorf("driver panic: %v", r)}
		}
	}()

	dev, err := DeviceFactory(s.opts.Adapter)
	if err != nil {
		return &ScanSourceError{Op: "open", Err: err}
	}
	if stopper, ok := dev.(interface{ Stop() error }); ok {
		defer func() {
			if stopErr := stopper.Stop(); stopErr != nil {
				s.logger.WithError(stopErr).Debug("Failed to release BLE device")
			}
		}()
	}

	scanCtx := ctx
	if s.opts.Window > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, s.opts.Window)
		defer cancel()
	}

	err = dev.Scan(scanCtx, !s.opts.DuplicateFilter, s.handle)
	switch {
	case scanCtx.Err() != nil:
		// window elapsed or shutdown
		return nil
	case err != nil:
		return &ScanSourceError{Op: "scan", Err: err}
	default:
		return &ScanSourceError{Op: "scan", Err: errDiscoveryStopped}
	}
}

// handle runs on the driver's goroutine and must not block.
func (s *Source) handle(d Detection) {
	s.detections.Add(1)

	ev, err := normalize(d, s.now())
	if err != nil {
		s.malformed.Add(1)
		s.logger.WithError(err).Debug("Dropping malformed advertisement")
		return
	}
	if !s.filter.admit(ev.Address) {
		s.filtered.Add(1)
		return
	}

	overwrites, err := s.ring.EnqueueM(ev)
	if err != nil {
		s.logger.WithError(err).Warn("Advertisement buffer rejected event")
		return
	}
	if overwrites > 0 {
		s.overwritten.Add(uint64(overwrites))
	}

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// produce is the single task that hands events to the publisher.
func (s *Source) produce(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.notify:
		}
		for !s.ring.IsEmpty() {
			ev, err := s.ring.Dequeue()
			if err != nil {
				break
			}
			s.publisher.Publish(ev)
			s.published.Add(1)
		}
	}
}

// Stats returns a snapshot of the scan counters.
func (s *Source) Stats() Stats {
	return Stats{
		Detections:  s.detections.Load(),
		Published:   s.published.Load(),
		Malformed:   s.malformed.Load(),
		Filtered:    s.filtered.Load(),
		Overwritten: s.overwritten.Load(),
		Restarts:    s.restarts.Load(),
	}
}

// Package session implements the per-connection protocol state machine:
//
//	AwaitingHello → Established → Closing → Closed
//
// A session owns its socket. One goroutine reads and dispatches frames, one goroutine
// drains the outbound queue, and cleanup runs exactly once whichever side ends it.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleproxy/internal/frame"
	"github.com/srg/bleproxy/internal/groutine"
	"github.com/srg/bleproxy/internal/hub"
	"github.com/srg/bleproxy/internal/message"
)

var (
	ErrOutboxFull       = errors.New("session outbox full")
	ErrSessionClosed    = errors.New("session closed")
	ErrNotEstablished   = errors.New("session not established")
	ErrHandshakeTimeout = errors.New("no hello received before handshake timeout")
	ErrShutdown         = errors.New("server shutting down")
	ErrPeerDisconnect   = errors.New("peer requested disconnect")
)

// Registrar receives the session once it is established and again when it closes.
type Registrar interface {
	Register(s hub.Subscriber)
	Unregister(s hub.Subscriber)
}

type nopRegistrar struct{}

func (nopRegistrar) Register(hub.Subscriber)   {}
func (nopRegistrar) Unregister(hub.Subscriber) {}

// Identity is what the session tells a peer about this node.
type Identity struct {
	ServerInfo string `default:"bleproxy"`
	DeviceInfo message.DeviceInfo
}

// Options configures a Session.
type Options struct {
	Registrar        Registrar
	Logger           *logrus.Logger
	Identity         Identity
	Limits           frame.Limits
	OutboxBytes      int           `default:"262144"`
	HandshakeTimeout time.Duration `default:"10s"`
	WriteTimeout     time.Duration `default:"5s"`
}

// Stats is a snapshot of session counters.
type Stats struct {
	State         State
	FramesIn      uint64
	FramesQueued  uint64
	FramesDropped uint64
	BytesOut      uint64
	Pending       int
}

// Session is one TCP client of the proxy.
type Session struct {
	id     string
	conn   net.Conn
	reader *bufio.Reader
	opts   Options
	logger *logrus.Entry

	state   atomic.Uint32
	out     *outbox
	writeMu sync.Mutex
	aborted atomic.Bool

	closeOnce  sync.Once
	closing    chan struct{}
	abort      chan struct{}
	writerDone chan struct{}
	done       chan struct{}
	reason     error

	framesIn atomic.Uint64
	bytesOut atomic.Uint64
}

// New wraps conn in a session. The session takes ownership of conn.
func New(conn net.Conn, opts Options) *Session {
	defaults.SetDefaults(&opts)
	if opts.Registrar == nil {
		opts.Registrar = nopRegistrar{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	s := &Session{
		id:         uuid.NewString(),
		conn:       conn,
		reader:     bufio.NewReader(conn),
		opts:       opts,
		out:        newOutbox(opts.OutboxBytes),
		closing:    make(chan struct{}),
		abort:      make(chan struct{}),
		writerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	s.logger = opts.Logger.WithFields(logrus.Fields{
		"session": s.id,
		"peer":    s.Peer(),
	})
	return s
}

func (s *Session) ID() string { return s.id }

// Peer returns the remote address of the connection.
func (s *Session) Peer() string {
	if addr := s.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the reason the session closed, nil while it is open.
func (s *Session) Err() error {
	select {
	case <-s.closing:
		return s.reason
	default:
		return nil
	}
}

// Run drives the session until it is closed. It blocks; ctx cancellation closes the session.
// The returned error is the close reason, nil for an orderly end.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g groutine.Group
	g.OnPanic = func(err *groutine.PanicError) {
		s.Abort(err)
	}
	g.Go(ctx, "session-writer", func(ctx context.Context) { s.writeLoop() })
	g.Go(ctx, "session-watch", func(ctx context.Context) {
		select {
		case <-ctx.Done():
			s.Close(ErrShutdown)
		case <-s.closing:
		}
	})

	s.logger.Info("Client connected")
	if err := s.readLoop(); err != nil && s.State() < StateClosing {
		s.Abort(err)
	}
	s.Close(nil)

	s.finish()
	cancel()
	g.Wait()

	return s.result()
}

func (s *Session) result() error {
	switch {
	case s.reason == nil,
		errors.Is(s.reason, ErrShutdown),
		errors.Is(s.reason, ErrPeerDisconnect),
		frame.IsConnectionClosed(s.reason):
		return nil
	}
	return s.reason
}

func (s *Session) readLoop() error {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.HandshakeTimeout))

	for {
		if s.State() >= StateClosing {
			return nil
		}
		f, err := frame.ReadFrame(s.reader, s.opts.Limits)
		if err != nil {
			if s.State() >= StateClosing {
				return nil
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() && s.State() == StateAwaitingHello {
				return ErrHandshakeTimeout
			}
			return err
		}
		s.framesIn.Add(1)
		if err := s.dispatch(f); err != nil {
			return err
		}
	}
}

// Enqueue encodes f and queues it for the writer. It never blocks.
func (s *Session) Enqueue(f frame.Frame) error {
	raw, err := frame.Encode(f.Opcode, f.Payload)
	if err != nil {
		return err
	}
	return s.EnqueueEncoded(raw)
}

// EnqueueEncoded queues bytes that already hold one or more complete frames.
func (s *Session) EnqueueEncoded(raw []byte) error {
	switch s.State() {
	case StateAwaitingHello:
		return ErrNotEstablished
	case StateClosing, StateClosed:
		return ErrSessionClosed
	}
	return s.out.push(raw)
}

// Close ends the session, letting already queued frames drain for up to the write timeout.
// Safe to call any number of times from any goroutine.
func (s *Session) Close(reason error) {
	s.beginClose(reason)
}

// Abort ends the session discarding anything still queued. Called after Close it cuts
// the pending drain short and releases the socket.
func (s *Session) Abort(reason error) {
	s.beginClose(reason)
	if !s.aborted.CompareAndSwap(false, true) {
		return
	}
	s.out.discard()
	_ = s.conn.SetWriteDeadline(time.Now())
	close(s.abort)
}

// beginClose takes the session out of the registry and into Closing, once.
// Unregistering first means a publish never reaches a Closing session.
func (s *Session) beginClose(reason error) {
	s.closeOnce.Do(func() {
		s.opts.Registrar.Unregister(s)
		s.reason = reason
		s.state.Store(uint32(StateClosing))
		close(s.closing)

		s.out.close()
		// unblock a pending read without tearing down the socket under the writer
		_ = s.conn.SetReadDeadline(time.Now())

		s.logClose(reason)
	})
}

func (s *Session) logClose(reason error) {
	entry := s.logger.WithField("state", s.State().String())
	switch {
	case reason == nil:
		entry.Debug("Session closing")
	case errors.Is(reason, ErrShutdown):
		entry.Debug("Session closing for shutdown")
	case errors.Is(reason, ErrPeerDisconnect):
		entry.Info("Client requested disconnect")
	case frame.IsConnectionClosed(reason):
		entry.WithError(reason).Info("Client disconnected")
	case frame.IsProtocolError(reason):
		entry.WithError(reason).Warn("Protocol violation, closing session")
	default:
		entry.WithError(reason).Warn("Closing session")
	}
}

// finish runs once, on the Run goroutine, after the read loop has returned.
func (s *Session) finish() {
	s.opts.Registrar.Unregister(s)

	timer := time.NewTimer(s.opts.WriteTimeout)
	defer timer.Stop()
	select {
	case <-s.writerDone:
	case <-s.abort:
	case <-timer.C:
		s.logger.Warn("Pending frames not flushed before write timeout")
		s.Abort(s.reason)
	}

	// closing the socket also releases a write stuck behind a peer that stopped reading
	_ = s.conn.Close()
	<-s.writerDone

	s.state.Store(uint32(StateClosed))
	close(s.done)
	s.logger.WithFields(logrus.Fields{
		"frames_in": s.framesIn.Load(),
		"bytes_out": s.bytesOut.Load(),
	}).Debug("Session closed")
}

func (s *Session) writeLoop() {
	defer close(s.writerDone)

	buf := make([]byte, 32*1024)
	for {
		_, open := <-s.out.notify
		for {
			n := s.out.pop(buf)
			if n == 0 {
				break
			}
			if err := s.write(buf[:n]); err != nil {
				if s.State() < StateClosing {
					s.Abort(fmt.Errorf("write failed: %w", err))
				}
				return
			}
		}
		if !open {
			return
		}
	}
}

// write is the only path to the socket; the handshake response and the writer loop share it.
func (s *Session) write(p []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.aborted.Load() {
		return ErrSessionClosed
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	n, err := s.conn.Write(p)
	s.bytesOut.Add(uint64(n))
	return err
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		State:         s.State(),
		FramesIn:      s.framesIn.Load(),
		FramesQueued:  s.out.frames.Load(),
		FramesDropped: s.out.dropped.Load(),
		BytesOut:      s.bytesOut.Load(),
		Pending:       s.out.pending(),
	}
}

// Package server owns the TCP listener and the lifetime of everything the proxy runs:
// sessions, the scan source and the discovery record.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleproxy/internal/discovery"
	"github.com/srg/bleproxy/internal/groutine"
	"github.com/srg/bleproxy/internal/hub"
	"github.com/srg/bleproxy/internal/session"
)

const maxAcceptDelay = time.Second

// Source produces advertisements until its context ends. scanner.Source implements it.
type Source interface {
	Run(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	Addr string `default:"0.0.0.0:6053"`
	// Hub relays events to sessions; a fresh hub is created when nil.
	Hub    *hub.Hub
	Source Source
	// Announcer publishes Record once listening. A zero Port in Record is replaced by the bound port.
	Announcer      discovery.Announcer
	Record         *discovery.Record
	SessionOptions session.Options
	// GracePeriod bounds how long shutdown waits for sessions to flush and close.
	GracePeriod time.Duration `default:"5s"`
	// MaxSessions limits concurrent clients; zero means unlimited.
	MaxSessions int
	Logger      *logrus.Logger
}

// Stats is a snapshot of server counters.
type Stats struct {
	Sessions int
	Accepted uint64
	Rejected uint64
}

// Server accepts clients and coordinates shutdown.
type Server struct {
	opts     Options
	logger   *logrus.Logger
	hub      *hub.Hub
	sessions *hashmap.Map[string, *session.Session]

	ready    chan struct{}
	addr     net.Addr
	stop     chan struct{}
	stopOnce sync.Once
	clients  groutine.Group

	accepted atomic.Uint64
	rejected atomic.Uint64
}

// New creates a server. Nothing is opened until Serve.
func New(opts Options) *Server {
	defaults.SetDefaults(&opts)
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Hub == nil {
		opts.Hub = hub.New(opts.Logger)
	}
	if opts.SessionOptions.Logger == nil {
		opts.SessionOptions.Logger = opts.Logger
	}
	opts.SessionOptions.Registrar = opts.Hub

	return &Server{
		opts:     opts,
		logger:   opts.Logger,
		hub:      opts.Hub,
		sessions: hashmap.New[string, *session.Session](),
		ready:    make(chan struct{}),
		stop:     make(chan struct{}),
	}
}

// Hub returns the relay hub sessions are registered with.
func (s *Server) Hub() *hub.Hub { return s.hub }

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound address, nil before Ready is closed.
func (s *Server) Addr() net.Addr {
	select {
	case <-s.ready:
		return s.addr
	default:
		return nil
	}
}

// Sessions returns the number of live sessions.
func (s *Server) Sessions() int { return s.sessions.Len() }

// Shutdown makes Serve stop as if its context had been cancelled.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Serve listens, announces, runs the source and accepts clients until ctx is cancelled or
// Shutdown is called. It returns nil after an orderly shutdown, and an error when the
// listener cannot be opened or fails permanently.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := listen(ctx, s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}
	s.addr = ln.Addr()
	close(s.ready)
	s.logger.WithField("addr", s.addr.String()).Info("Listening for API clients")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	withdraw := s.announce()

	sourceCtx, stopSource := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSource()
	bg := groutine.Group{OnPanic: func(err *groutine.PanicError) {
		s.logger.WithError(err).Error("Background task crashed")
	}}
	if s.opts.Source != nil {
		bg.Go(sourceCtx, "scan-source", func(ctx context.Context) {
			if err := s.opts.Source.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.WithError(err).Error("Scan source stopped")
			}
		})
	}

	groutine.Go(ctx, "listener-close", func(ctx context.Context) {
		select {
		case <-ctx.Done():
		case <-s.stop:
			cancel()
		}
		_ = ln.Close()
	})

	acceptErr := s.acceptLoop(ctx, ln)
	cancel()
	_ = ln.Close()

	s.closeSessions()

	stopSource()
	bg.Wait()
	if withdraw != nil {
		withdraw.Withdraw()
	}

	s.logger.WithFields(logrus.Fields{
		"accepted": s.accepted.Load(),
		"rejected": s.rejected.Load(),
	}).Info("Server stopped")
	return acceptErr
}

func (s *Server) announce() discovery.Withdrawer {
	if s.opts.Announcer == nil || s.opts.Record == nil {
		return nil
	}
	rec := *s.opts.Record
	if rec.Port == 0 {
		if tcp, ok := s.addr.(*net.TCPAddr); ok {
			rec.Port = tcp.Port
		}
	}
	w, err := s.opts.Announcer.Announce(rec)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to announce service on the local network")
		return nil
	}
	return w
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isTemporary(err) {
				if delay == 0 {
					delay = 5 * time.Millisecond
				} else {
					delay = min(delay*2, maxAcceptDelay)
				}
				s.logger.WithError(err).WithField("retry_in", delay).Warn("Accept failed, retrying")
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(delay):
				}
				continue
			}
			s.logger.WithError(err).Error("Listener failed")
			return fmt.Errorf("accept: %w", err)
		}
		delay = 0

		if s.opts.MaxSessions > 0 && s.sessions.Len() >= s.opts.MaxSessions {
			s.rejected.Add(1)
			s.logger.WithFields(logrus.Fields{
				"peer":         conn.RemoteAddr().String(),
				"max_sessions": s.opts.MaxSessions,
			}).Warn("Rejecting client, session limit reached")
			_ = conn.Close()
			continue
		}

		s.accepted.Add(1)
		s.startSession(ctx, conn)
	}
}

func (s *Server) startSession(ctx context.Context, conn net.Conn) {
	sess := session.New(conn, s.opts.SessionOptions)
	s.sessions.Set(sess.ID(), sess)

	s.clients.Go(ctx, "session-"+sess.ID(), func(ctx context.Context) {
		defer s.sessions.Del(sess.ID())
		defer func() {
			if r := recover(); r != nil {
				s.logger.WithField("session", sess.ID()).Errorf("Session crashed: %v", r)
				sess.Abort(fmt.Errorf("session panic: %v", r))
			}
		}()

		if err := sess.Run(ctx); err != nil {
			s.logger.WithError(err).WithField("session", sess.ID()).Debug("Session ended with error")
		}
	})
}

// closeSessions waits for sessions closed by the cancelled context, then forces the rest.
func (s *Server) closeSessions() {
	if n := s.sessions.Len(); n > 0 {
		s.logger.WithField("sessions", n).Info("Closing client sessions")
	}

	grace, cancel := context.WithTimeout(context.Background(), s.opts.GracePeriod)
	defer cancel()
	if err := s.clients.WaitContext(grace); err == nil {
		return
	}

	s.sessions.Range(func(id string, sess *session.Session) bool {
		s.logger.WithField("session", id).Warn("Session did not close within grace period, forcing")
		sess.Abort(session.ErrShutdown)
		return true
	})
	s.clients.Wait()
}

// Stats returns a snapshot of server counters.
func (s *Server) Stats() Stats {
	return Stats{
		Sessions: s.sessions.Len(),
		Accepted: s.accepted.Load(),
		Rejected: s.rejected.Load(),
	}
}

// Port extracts the numeric port of a host:port listen address.
func Port(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(p)
}

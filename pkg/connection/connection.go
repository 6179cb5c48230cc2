// Package connection is a client for the proxy's TCP protocol. The monitor command and the
// integration tests use it to talk to a running server.
package connection

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleproxy/internal/frame"
	"github.com/srg/bleproxy/internal/message"
)

// maxBacklog bounds the frames kept aside while waiting for a specific response.
const maxBacklog = 1024

var ErrNotConnected = errors.New("not connected")

// ConnectOptions configures a client connection.
type ConnectOptions struct {
	Address        string
	ClientInfo     string        `default:"bleproxy-monitor"`
	ConnectTimeout time.Duration `default:"10s"`
	WriteTimeout   time.Duration `default:"5s"`
	Limits         frame.Limits
}

// DefaultConnectOptions returns options for connecting to address.
func DefaultConnectOptions(address string) *ConnectOptions {
	opts := &ConnectOptions{Address: address}
	defaults.SetDefaults(opts)
	return opts
}

// Connection is one client session with a proxy. Writes are safe for concurrent use,
// reads are not.
type Connection struct {
	conn   net.Conn
	reader *bufio.Reader
	opts   ConnectOptions
	logger *logrus.Logger

	writeMutex sync.Mutex
	backlog    []frame.Frame
	server     message.HelloResponse
	closed     atomic.Bool
}

// Dial connects to opts.Address.
func Dial(ctx context.Context, opts *ConnectOptions, logger *logrus.Logger) (*Connection, error) {
	if opts == nil || opts.Address == "" {
		return nil, errors.New("proxy address is required")
	}
	o := *opts
	defaults.SetDefaults(&o)

	dialer := net.Dialer{Timeout: o.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", o.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", o.Address, err)
	}
	return NewConnection(conn, &o, logger), nil
}

// NewConnection wraps an established stream. The connection takes ownership of conn.
func NewConnection(conn net.Conn, opts *ConnectOptions, logger *logrus.Logger) *Connection {
	if logger == nil {
		logger = logrus.New()
	}
	var o ConnectOptions
	if opts != nil {
		o = *opts
	}
	defaults.SetDefaults(&o)

	return &Connection{
		conn:   conn,
		reader: bufio.NewReader(conn),
		opts:   o,
		logger: logger,
	}
}

// Hello performs the handshake and returns the server's answer.
func (c *Connection) Hello(ctx context.Context) (message.HelloResponse, error) {
	req := message.HelloRequest{
		Major:      message.APIVersionMajor,
		Minor:      message.APIVersionMinor,
		ClientInfo: c.opts.ClientInfo,
	}
	f, err := req.Frame()
	if err != nil {
		return message.HelloResponse{}, err
	}
	if err := c.Send(f); err != nil {
		return message.HelloResponse{}, err
	}

	resp, err := c.expect(ctx, message.OpHelloResponse)
	if err != nil {
		return message.HelloResponse{}, fmt.Errorf("handshake: %w", err)
	}
	var hello message.HelloResponse
	if err := hello.UnmarshalBinary(resp.Payload); err != nil {
		return message.HelloResponse{}, fmt.Errorf("handshake: %w", err)
	}
	c.server = hello

	c.logger.WithFields(logrus.Fields{
		"server":     hello.ServerInfo,
		"server_api": fmt.Sprintf("%d.%d", hello.Major, hello.Minor),
	}).Debug("Handshake complete")
	return hello, nil
}

// ServerInfo returns the hello response received by Hello.
func (c *Connection) ServerInfo() message.HelloResponse {
	return c.server
}

// Ping sends a ping and waits for the answer, returning the round trip time.
func (c *Connection) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := c.Send(message.Empty(message.OpPingRequest)); err != nil {
		return 0, err
	}
	if _, err := c.expect(ctx, message.OpPingResponse); err != nil {
		return 0, fmt.Errorf("ping: %w", err)
	}
	return time.Since(start), nil
}

// DeviceInfo asks the proxy to describe itself.
func (c *Connection) DeviceInfo(ctx context.Context) (message.DeviceInfo, error) {
	if err := c.Send(message.Empty(message.OpDeviceInfoRequest)); err != nil {
		return message.DeviceInfo{}, err
	}
	f, err := c.expect(ctx, message.OpDeviceInfoResponse)
	if err != nil {
		return message.DeviceInfo{}, fmt.Errorf("device info: %w", err)
	}
	var info message.DeviceInfo
	if err := info.UnmarshalBinary(f.Payload); err != nil {
		return message.DeviceInfo{}, fmt.Errorf("device info: %w", err)
	}
	return info, nil
}

// Next returns the next frame from the server, including frames set aside while an
// earlier call waited for a response.
func (c *Connection) Next(ctx context.Context) (frame.Frame, error) {
	if len(c.backlog) > 0 {
		f := c.backlog[0]
		c.backlog = c.backlog[1:]
		return f, nil
	}
	return c.read(ctx)
}

// NextAdvertisement returns the next relayed advertisement. Server pings are answered and
// other frames are skipped. A server initiated disconnect is acknowledged and reported as
// a closed connection.
func (c *Connection) NextAdvertisement(ctx context.Context) (message.Advertisement, error) {
	for {
		f, err := c.Next(ctx)
		if err != nil {
			return message.Advertisement{}, err
		}
		switch f.Opcode {
		case message.OpAdvertisement:
			var adv message.Advertisement
			if err := adv.UnmarshalBinary(f.Payload); err != nil {
				return message.Advertisement{}, err
			}
			return adv, nil
		case message.OpPingRequest:
			if err := c.Send(message.Empty(message.OpPingResponse)); err != nil {
				return message.Advertisement{}, err
			}
		case message.OpDisconnectRequest:
			_ = c.Send(message.Empty(message.OpDisconnectResponse))
			_ = c.Close()
			return message.Advertisement{}, &frame.ConnectionClosedError{Err: errors.New("server requested disconnect")}
		default:
			c.logger.WithField("opcode", message.OpcodeName(f.Opcode)).Debug("Skipping frame")
		}
	}
}

// Disconnect asks the server to end the session, waits for its answer, then closes.
func (c *Connection) Disconnect(ctx context.Context) error {
	defer c.Close()

	if err := c.Send(message.Empty(message.OpDisconnectRequest)); err != nil {
		return err
	}
	if _, err := c.expect(ctx, message.OpDisconnectResponse); err != nil && !frame.IsConnectionClosed(err) {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

// Send writes one frame.
func (c *Connection) Send(f frame.Frame) error {
	if c.closed.Load() {
		return ErrNotConnected
	}
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return frame.WriteFrame(c.conn, f)
}

// IsConnected reports whether Close has not been called yet.
func (c *Connection) IsConnected() bool {
	return !c.closed.Load()
}

// Close closes the socket without notifying the server.
func (c *Connection) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}

// expect reads until a frame with op arrives; unrelated frames go to the backlog.
func (c *Connection) expect(ctx context.Context, op frame.Opcode) (frame.Frame, error) {
	for {
		f, err := c.read(ctx)
		if err != nil {
			return frame.Frame{}, err
		}
		switch f.Opcode {
		case op:
			return f, nil
		case message.OpPingRequest:
			if err := c.Send(message.Empty(message.OpPingResponse)); err != nil {
				return frame.Frame{}, err
			}
		default:
			if len(c.backlog) >= maxBacklog {
				c.backlog = c.backlog[1:]
			}
			c.backlog = append(c.backlog, f)
		}
	}
}

func (c *Connection) read(ctx context.Context) (frame.Frame, error) {
	if c.closed.Load() {
		return frame.Frame{}, ErrNotConnected
	}

	deadline, _ := ctx.Deadline()
	_ = c.conn.SetReadDeadline(deadline)

	stop := c.watch(ctx)
	f, err := frame.ReadFrame(c.reader, c.opts.Limits)
	stop()

	if err != nil && ctx.Err() != nil {
		return frame.Frame{}, ctx.Err()
	}
	return f, err
}

// watch interrupts a blocked read when ctx ends.
func (c *Connection) watch(ctx context.Context) func() {
	if ctx.Done() == nil {
		return func() {}
	}
	stopCh := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-ctx.Done():
			_ = c.conn.SetReadDeadline(time.Now())
		case <-stopCh:
		}
	}()
	return func() {
		close(stopCh)
		<-done
	}
}

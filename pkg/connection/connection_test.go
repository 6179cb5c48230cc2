package connection

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleproxy/internal/frame"
	"github.com/srg/bleproxy/internal/hub"
	"github.com/srg/bleproxy/internal/message"
	"github.com/srg/bleproxy/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConnectOptions(t *testing.T) {
	opts := DefaultConnectOptions("127.0.0.1:6053")

	assert.Equal(t, "127.0.0.1:6053", opts.Address)
	assert.Equal(t, "bleproxy-monitor", opts.ClientInfo)
	assert.Equal(t, 10*time.Second, opts.ConnectTimeout)
	assert.Equal(t, 5*time.Second, opts.WriteTimeout)
}

func TestNewConnection(t *testing.T) {
	tests := []struct {
		name   string
		opts   *ConnectOptions
		logger *logrus.Logger
	}{
		{name: "creates connection with provided logger", opts: DefaultConnectOptions("x"), logger: logrus.New()},
		{name: "creates connection with nil logger", opts: DefaultConnectOptions("x")},
		{name: "creates connection with nil options"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := net.Pipe()
			defer b.Close()

			conn := NewConnection(a, tt.opts, tt.logger)
			assert.NotNil(t, conn.logger)
			assert.True(t, conn.IsConnected())
			assert.Equal(t, "bleproxy-monitor", conn.opts.ClientInfo)

			require.NoError(t, conn.Close())
			assert.False(t, conn.IsConnected())
			assert.NoError(t, conn.Close(), "second close is a no-op")
			assert.ErrorIs(t, conn.Send(message.Empty(message.OpPingRequest)), ErrNotConnected)
		})
	}
}

func TestDialRequiresAddress(t *testing.T) {
	_, err := Dial(context.Background(), &ConnectOptions{}, nil)
	assert.Error(t, err)
}

// startProxySession serves one end of a pipe with a real session registered in h.
func startProxySession(t *testing.T, h *hub.Hub) (*Connection, *session.Session) {
	t.Helper()
	server, client := net.Pipe()
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	sess := session.New(server, session.Options{
		Registrar: h,
		Logger:    logger,
		Identity: session.Identity{
			ServerInfo: "bleproxy test",
			DeviceInfo: message.DeviceInfo{Name: "proxy", MAC: "AA:BB:CC:00:11:22", ProxyFlags: message.FeaturePassiveScan},
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sess.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return NewConnection(client, DefaultConnectOptions("pipe"), logger), sess
}

func TestConversationWithSession(t *testing.T) {
	h := hub.New(nil)
	conn, sess := startProxySession(t, h)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	hello, err := conn.Hello(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), hello.Major)
	assert.Equal(t, uint16(6), hello.Minor)
	assert.Equal(t, "bleproxy test", hello.ServerInfo)
	assert.Equal(t, hello, conn.ServerInfo())

	_, err = conn.Ping(ctx)
	require.NoError(t, err)

	info, err := conn.DeviceInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "proxy", info.Name)
	assert.Equal(t, message.FeaturePassiveScan, info.ProxyFlags)

	require.Eventually(t, func() bool { return h.Registered(sess.ID()) }, time.Second, 5*time.Millisecond)

	ts := time.UnixMilli(1_700_000_000_000).UTC()
	h.Publish(message.Advertisement{Address: 0xAABBCCDDEEFF, RSSI: -70, Timestamp: ts, Name: "Sensor1", Raw: []byte{1, 2}})

	adv, err := conn.NextAdvertisement(ctx)
	require.NoError(t, err)
	assert.Equal(t, message.Address(0xAABBCCDDEEFF), adv.Address)
	assert.Equal(t, int16(-70), adv.RSSI)
	assert.Equal(t, ts, adv.Timestamp)
	assert.Equal(t, []byte{1, 2}, adv.Raw)

	require.NoError(t, conn.Disconnect(ctx))
	select {
	case <-sess.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not close after disconnect")
	}
	assert.False(t, h.Registered(sess.ID()))
}

func TestAdvertisementsDuringRequestAreKept(t *testing.T) {
	h := hub.New(nil)
	conn, sess := startProxySession(t, h)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := conn.Hello(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.Registered(sess.ID()) }, time.Second, 5*time.Millisecond)

	h.Publish(message.Advertisement{Address: 1, RSSI: -40})
	_, err = conn.Ping(ctx)
	require.NoError(t, err)

	adv, err := conn.NextAdvertisement(ctx)
	require.NoError(t, err)
	assert.Equal(t, message.Address(1), adv.Address)
}

func TestNextAnswersServerPing(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	conn := NewConnection(a, nil, nil)
	defer conn.Close()
	peer := bufio.NewReader(b)

	go func() {
		_ = frame.WriteFrame(b, message.Empty(message.OpPingRequest))
		f, err := frame.ReadFrame(peer, frame.DefaultLimits())
		if err != nil || f.Opcode != message.OpPingResponse {
			return
		}
		adv, _ := message.Advertisement{Address: 7, RSSI: -60}.Frame()
		_ = frame.WriteFrame(b, adv)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	adv, err := conn.NextAdvertisement(ctx)
	require.NoError(t, err)
	assert.Equal(t, message.Address(7), adv.Address)
}

func TestReadHonoursContext(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	conn := NewConnection(a, nil, nil)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := conn.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestServerDisconnectEndsStream(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	conn := NewConnection(a, nil, nil)
	peer := bufio.NewReader(b)

	got := make(chan frame.Opcode, 1)
	go func() {
		_ = frame.WriteFrame(b, message.Empty(message.OpDisconnectRequest))
		if f, err := frame.ReadFrame(peer, frame.DefaultLimits()); err == nil {
			got <- f.Opcode
		}
	}()

	_, err := conn.NextAdvertisement(context.Background())
	assert.True(t, frame.IsConnectionClosed(err))
	assert.Equal(t, message.OpDisconnectResponse, <-got)
	assert.False(t, conn.IsConnected())
}

package main

import (
	"errors"
	"os"
	"syscall"

	"github.com/srg/bleproxy/internal/frame"
	"github.com/srg/bleproxy/internal/scanner"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the proxy dropped the monitor connection mid-stream.
	ErrConnectionLost = errors.New("connection to proxy lost")
)

// FormatUserError turns well-known failures into a one-line hint for the operator.
func FormatUserError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, syscall.EADDRINUSE):
		return "listen address already in use; is another proxy running? (" + err.Error() + ")"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "proxy is not accepting connections at that address (" + err.Error() + ")"
	case errors.Is(err, os.ErrPermission), errors.Is(err, syscall.EPERM):
		return "permission denied; BLE scanning needs root or CAP_NET_ADMIN (" + err.Error() + ")"
	case errors.Is(err, scanner.ErrUnsupportedPlatform):
		return "BLE scanning is not supported on this platform"
	case errors.Is(err, ErrConnectionLost), frame.IsConnectionClosed(err):
		return "the proxy closed the connection"
	case frame.IsProtocolError(err):
		return "the peer does not speak the proxy protocol: " + err.Error()
	}
	return err.Error()
}

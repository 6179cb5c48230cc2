package server

import (
	"context"
	"errors"
	"net"
)

func listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: listenControl}
	return lc.Listen(ctx, "tcp", addr)
}

// isTemporary reports accept errors worth retrying: timeouts and resource exhaustion.
func isTemporary(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return isTemporaryErrno(err)
}

package transport

import (
	"log/slog"
	"net"
)

const (
	minUDPBuffer     = 256 * 1024
	maxUDPBuffer     = 64 * 1024 * 1024
	defaultUDPBuffer = 8 * 1024 * 1024
)

// tuneUDPBuffers raises the socket buffers on the UDP conn the QUIC
// session runs over. Kernel limits (net.core.rmem_max and friends) can
// cap or deny the request; the connection still works, it just absorbs
// smaller bursts, so a denial is logged and not treated as fatal.
func tuneUDPBuffers(conn *net.UDPConn, size int, logger *slog.Logger) {
	if conn == nil {
		return
	}
	req := clampUDPBuffer(size)
	if err := conn.SetReadBuffer(req); err != nil {
		logger.Warn("udp read buffer request denied", "requested", req, "error", err)
	}
	if err := conn.SetWriteBuffer(req); err != nil {
		logger.Warn("udp write buffer request denied", "requested", req, "error", err)
	}
}

func clampUDPBuffer(n int) int {
	if n <= 0 {
		return defaultUDPBuffer
	}
	if n < minUDPBuffer {
		return minUDPBuffer
	}
	if n > maxUDPBuffer {
		return maxUDPBuffer
	}
	return n
}

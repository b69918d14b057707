package transport

import "github.com/quic-go/quic-go"

const (
	defaultConnWindow   = 16 * 1024 * 1024
	defaultStreamWindow = 8 * 1024 * 1024
	minConnWindow       = 1 * 1024 * 1024
	maxConnWindow       = 1024 * 1024 * 1024
	minStreamWindow     = 1 * 1024 * 1024
	maxStreamWindow     = 256 * 1024 * 1024
	initialWindowCap    = 2 * 1024 * 1024
)

// applyWindows sets the receive-window limits on cfg. Requested sizes
// are clamped into the supported range; zero selects the defaults. The
// initial windows start small and let flow control grow them.
func applyWindows(cfg *quic.Config, connWin, streamWin int) {
	if connWin == 0 {
		connWin = defaultConnWindow
	}
	if streamWin == 0 {
		streamWin = defaultStreamWindow
	}
	conn := clampWindow(connWin, minConnWindow, maxConnWindow)
	stream := clampWindow(streamWin, minStreamWindow, maxStreamWindow)

	initialConn := initialWindowCap
	if initialConn > conn {
		initialConn = conn
	}
	initialStream := initialWindowCap
	if initialStream > stream {
		initialStream = stream
	}
	cfg.InitialConnectionReceiveWindow = uint64(initialConn)
	cfg.MaxConnectionReceiveWindow = uint64(conn)
	cfg.InitialStreamReceiveWindow = uint64(initialStream)
	cfg.MaxStreamReceiveWindow = uint64(stream)
}

func clampWindow(n, min, max int) int {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

package transport

import (
	"testing"

	"github.com/quic-go/quic-go"
)

func TestApplyWindowsDefaults(t *testing.T) {
	cfg := &quic.Config{}
	applyWindows(cfg, 0, 0)

	if cfg.MaxConnectionReceiveWindow != defaultConnWindow {
		t.Errorf("conn window = %d, want default %d", cfg.MaxConnectionReceiveWindow, defaultConnWindow)
	}
	if cfg.MaxStreamReceiveWindow != defaultStreamWindow {
		t.Errorf("stream window = %d, want default %d", cfg.MaxStreamReceiveWindow, defaultStreamWindow)
	}
	if cfg.InitialConnectionReceiveWindow != initialWindowCap {
		t.Errorf("initial conn window = %d, want %d", cfg.InitialConnectionReceiveWindow, initialWindowCap)
	}
}

func TestApplyWindowsClamps(t *testing.T) {
	cfg := &quic.Config{}
	applyWindows(cfg, 1, 1)
	if cfg.MaxConnectionReceiveWindow != minConnWindow {
		t.Errorf("tiny request: conn window = %d, want clamp %d", cfg.MaxConnectionReceiveWindow, minConnWindow)
	}
	if cfg.MaxStreamReceiveWindow != minStreamWindow {
		t.Errorf("tiny request: stream window = %d, want clamp %d", cfg.MaxStreamReceiveWindow, minStreamWindow)
	}

	applyWindows(cfg, 1<<40, 1<<40)
	if cfg.MaxConnectionReceiveWindow != maxConnWindow {
		t.Errorf("huge request: conn window = %d, want clamp %d", cfg.MaxConnectionReceiveWindow, maxConnWindow)
	}
	if cfg.MaxStreamReceiveWindow != maxStreamWindow {
		t.Errorf("huge request: stream window = %d, want clamp %d", cfg.MaxStreamReceiveWindow, maxStreamWindow)
	}
}

func TestClampUDPBuffer(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, defaultUDPBuffer},
		{-5, defaultUDPBuffer},
		{1024, minUDPBuffer},
		{defaultUDPBuffer, defaultUDPBuffer},
		{1 << 30, maxUDPBuffer},
	}
	for _, tt := range tests {
		if got := clampUDPBuffer(tt.in); got != tt.want {
			t.Errorf("clampUDPBuffer(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// applyWindows must keep the initial window no larger than the maximum
// when a small maximum is requested.
func TestApplyWindowsInitialNeverExceedsMax(t *testing.T) {
	cfg := &quic.Config{}
	applyWindows(cfg, minConnWindow, minStreamWindow)
	if cfg.InitialConnectionReceiveWindow > cfg.MaxConnectionReceiveWindow {
		t.Errorf("initial conn window %d exceeds max %d",
			cfg.InitialConnectionReceiveWindow, cfg.MaxConnectionReceiveWindow)
	}
	if cfg.InitialStreamReceiveWindow > cfg.MaxStreamReceiveWindow {
		t.Errorf("initial stream window %d exceeds max %d",
			cfg.InitialStreamReceiveWindow, cfg.MaxStreamReceiveWindow)
	}
}

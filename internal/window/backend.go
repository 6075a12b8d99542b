package window

import (
	"context"
	"fmt"
	"time"

	"github.com/bryanchriswhite/SilentShot/internal/capture"
)

// Info describes the active window.
type Info struct {
	ID    uint32       `json:"id"`
	Title string       `json:"title"`
	Class string       `json:"class"`
	PID   int          `json:"pid"`
	Rect  capture.Rect `json:"rect"`
}

// Tracker reports the bounds of the foreground window.
type Tracker interface {
	// ActiveWindow returns the current foreground window
	ActiveWindow() (*Info, error)

	// ActiveRect returns the foreground window's outer bounds in screen
	// coordinates. ok is false when there is no usable window.
	ActiveRect() (capture.Rect, bool)

	// Close closes the connection to the display server
	Close() error

	// Name returns the backend name (e.g., "x11")
	Name() string
}

// Open returns the tracker for backend. Only X11 is available; "none"
// disables windowed crops.
func Open(backend string) (Tracker, error) {
	switch backend {
	case "x11", "auto", "":
		t, err := NewX11Tracker()
		if err != nil {
			return nil, err
		}
		return t, nil
	case "none":
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown window backend %q", backend)
	}
}

// Nop never reports a window, so every capture is full screen.
type Nop struct{}

func (Nop) ActiveWindow() (*Info, error)    { return nil, fmt.Errorf("no window tracker") }
func (Nop) ActiveRect() (capture.Rect, bool) { return capture.Rect{}, false }
func (Nop) Close() error                     { return nil }
func (Nop) Name() string                     { return "none" }

// Watch polls t and calls fn whenever the active window or its bounds
// change, until ctx is done.
func Watch(ctx context.Context, t Tracker, interval time.Duration, fn func(*Info)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var current *Info
	check := func() {
		info, err := t.ActiveWindow()
		if err != nil {
			return
		}
		changed := current == nil ||
			current.ID != info.ID ||
			current.Title != info.Title ||
			current.Rect != info.Rect
		if changed {
			current = info
			fn(info)
		}
	}

	check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

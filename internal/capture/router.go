package capture

import (
	"fmt"

	"github.com/bryanchriswhite/SilentShot/internal/logger"
)

// Open returns the frame source for backend: "x11", "screenshot", or
// "auto", which tries X11 first and falls back to the screenshot library.
func Open(backend string, display int) (FrameSource, error) {
	log := logger.WithComponent("capture-router")

	switch backend {
	case "x11":
		return NewX11Source(display)
	case "screenshot":
		return NewScreenshotSource(display)
	case "auto", "":
		x11, err := NewX11Source(display)
		if err == nil {
			return x11, nil
		}
		log.Warn().Err(err).Msg("X11 capture not available, falling back to screenshot backend")

		src, err2 := NewScreenshotSource(display)
		if err2 != nil {
			return nil, fmt.Errorf("no capture backends available: x11: %v; screenshot: %w", err, err2)
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unknown capture backend %q (use auto, x11 or screenshot)", backend)
	}
}

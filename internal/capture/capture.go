package capture

import (
	"errors"
	"fmt"
	"image"
)

var (
	// ErrNotReady means the surface could not be read this time; retry later.
	ErrNotReady = errors.New("frame not ready")

	// ErrFatal means the source is unusable and the capture loop must stop.
	ErrFatal = errors.New("frame source failed")

	// ErrResolutionChanged is reported when the display size no longer
	// matches the size the source was opened with.
	ErrResolutionChanged = fmt.Errorf("%w: display resolution changed", ErrFatal)
)

// BytesPerPixel of a BGRA frame.
const BytesPerPixel = 4

// RawFrame is one BGRA framebuffer. Pix belongs to the FrameSource and is
// only valid until the next call to Next.
type RawFrame struct {
	Pix    []byte
	Stride int // bytes per row, >= 4*Width
	Width  int
	Height int
	Origin image.Point // top-left of the frame in screen coordinates
}

// FrameSource hands out the current frame of one display. Dimensions are
// fixed when the source is opened.
type FrameSource interface {
	// Next returns the current frame. Errors wrap ErrNotReady or ErrFatal.
	Next() (RawFrame, error)

	// Size returns the dimensions fixed at construction.
	Size() (width, height int)

	// Name returns a human-readable name for this source
	Name() string

	Close() error
}

func notReady(err error) error {
	return fmt.Errorf("%w: %v", ErrNotReady, err)
}

func fatal(err error) error {
	return fmt.Errorf("%w: %v", ErrFatal, err)
}

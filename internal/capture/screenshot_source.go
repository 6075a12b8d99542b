package capture

import (
	"fmt"
	"image"

	"github.com/bryanchriswhite/SilentShot/internal/logger"
	"github.com/kbinani/screenshot"
)

// ScreenshotSource captures one display through the portable screenshot
// library and converts its RGBA output to BGRA.
type ScreenshotSource struct {
	display     int
	bounds      image.Rectangle
	buf         []byte
	captureRect func(image.Rectangle) (*image.RGBA, error)
	numDisplays func() int
	boundsOf    func(int) image.Rectangle
}

// NewScreenshotSource opens display index display.
func NewScreenshotSource(display int) (*ScreenshotSource, error) {
	return newScreenshotSource(display, screenshot.CaptureRect, screenshot.NumActiveDisplays, screenshot.GetDisplayBounds)
}

func newScreenshotSource(
	display int,
	captureRect func(image.Rectangle) (*image.RGBA, error),
	numDisplays func() int,
	boundsOf func(int) image.Rectangle,
) (*ScreenshotSource, error) {
	n := numDisplays()
	if display < 0 || display >= n {
		return nil, fmt.Errorf("display %d not found (%d active)", display, n)
	}
	bounds := boundsOf(display)
	if bounds.Empty() {
		return nil, fmt.Errorf("display %d has empty bounds", display)
	}

	s := &ScreenshotSource{
		display:     display,
		bounds:      bounds,
		buf:         make([]byte, BytesPerPixel*bounds.Dx()*bounds.Dy()),
		captureRect: captureRect,
		numDisplays: numDisplays,
		boundsOf:    boundsOf,
	}

	logger.WithComponent("screenshot-source").Info().
		Int("display", display).
		Str("bounds", bounds.String()).
		Msg("Screenshot frame source opened")

	return s, nil
}

// Name returns the source name
func (s *ScreenshotSource) Name() string {
	return "screenshot"
}

// Size returns the display size fixed at open time.
func (s *ScreenshotSource) Size() (int, int) {
	return s.bounds.Dx(), s.bounds.Dy()
}

// Next captures the display. A failed capture is retried later as long as
// the display still exists with the same size.
func (s *ScreenshotSource) Next() (RawFrame, error) {
	if s.display >= s.numDisplays() {
		return RawFrame{}, fatal(fmt.Errorf("display %d disappeared", s.display))
	}
	if b := s.boundsOf(s.display); b.Size() != s.bounds.Size() {
		return RawFrame{}, fmt.Errorf("%w: %v -> %v", ErrResolutionChanged, s.bounds.Size(), b.Size())
	}

	img, err := s.captureRect(s.bounds)
	if err != nil {
		return RawFrame{}, notReady(err)
	}
	if img.Rect.Dx() != s.bounds.Dx() || img.Rect.Dy() != s.bounds.Dy() {
		return RawFrame{}, notReady(fmt.Errorf("captured %v, want %v", img.Rect.Size(), s.bounds.Size()))
	}

	w, h := s.bounds.Dx(), s.bounds.Dy()
	rowBytes := BytesPerPixel * w
	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+rowBytes]
		dst := s.buf[y*rowBytes : (y+1)*rowBytes]
		for i := 0; i < rowBytes; i += 4 {
			dst[i+0] = src[i+2]
			dst[i+1] = src[i+1]
			dst[i+2] = src[i+0]
			dst[i+3] = src[i+3]
		}
	}

	return RawFrame{
		Pix:    s.buf,
		Stride: rowBytes,
		Width:  w,
		Height: h,
		Origin: s.bounds.Min,
	}, nil
}

// Close is a no-op; the library holds no per-source resources.
func (s *ScreenshotSource) Close() error {
	return nil
}

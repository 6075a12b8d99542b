package capture

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/SilentShot/internal/logger"
)

// X11Source grabs the root window of one X screen.
type X11Source struct {
	conn   *xgb.Conn
	root   xproto.Window
	screen *xproto.ScreenInfo
	width  int
	height int
	mu     sync.Mutex
}

// NewX11Source connects to the X server and opens screen index display.
func NewX11Source(display int) (*X11Source, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	if display < 0 || display >= len(setup.Roots) {
		conn.Close()
		return nil, fmt.Errorf("X screen %d not found (%d available)", display, len(setup.Roots))
	}
	screen := &setup.Roots[display]

	if screen.RootDepth != 24 && screen.RootDepth != 32 {
		conn.Close()
		return nil, fmt.Errorf("unsupported root depth %d", screen.RootDepth)
	}

	s := &X11Source{
		conn:   conn,
		root:   screen.Root,
		screen: screen,
		width:  int(screen.WidthInPixels),
		height: int(screen.HeightInPixels),
	}

	logger.WithComponent("x11-source").Info().
		Int("screen", display).
		Int("width", s.width).
		Int("height", s.height).
		Uint8("depth", screen.RootDepth).
		Msg("X11 frame source opened")

	return s, nil
}

// Name returns the source name
func (s *X11Source) Name() string {
	return "X11"
}

// Size returns the root window size fixed at open time.
func (s *X11Source) Size() (int, int) {
	return s.width, s.height
}

// Next grabs the root window as ZPixmap. The server sends BGRX rows for
// depth 24 and 32 visuals; the X byte is undefined and is set to opaque.
func (s *X11Source) Next() (RawFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	geom, err := xproto.GetGeometry(s.conn, xproto.Drawable(s.root)).Reply()
	if err != nil {
		return RawFrame{}, classifyX11Error(err)
	}
	if int(geom.Width) != s.width || int(geom.Height) != s.height {
		return RawFrame{}, fmt.Errorf("%w: %dx%d -> %dx%d",
			ErrResolutionChanged, s.width, s.height, geom.Width, geom.Height)
	}

	reply, err := xproto.GetImage(
		s.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(s.root),
		0, 0,
		uint16(s.width), uint16(s.height),
		0xffffffff,
	).Reply()
	if err != nil {
		return RawFrame{}, classifyX11Error(err)
	}

	stride := len(reply.Data) / s.height
	if stride < BytesPerPixel*s.width {
		return RawFrame{}, notReady(fmt.Errorf("short image: %d bytes for %dx%d",
			len(reply.Data), s.width, s.height))
	}

	setOpaque(reply.Data, stride, s.width, s.height)

	return RawFrame{
		Pix:    reply.Data,
		Stride: stride,
		Width:  s.width,
		Height: s.height,
		Origin: image.Point{},
	}, nil
}

// classifyX11Error maps X protocol errors to the frame source contract.
// BadMatch shows up while the screen is being reconfigured and clears on
// its own; everything else means the connection is unusable.
func classifyX11Error(err error) error {
	var match xproto.MatchError
	if errors.As(err, &match) {
		return notReady(err)
	}
	return fatal(err)
}

// Close closes the X11 connection
func (s *X11Source) Close() error {
	s.conn.Close()
	return nil
}

// setOpaque sets the fourth byte of every pixel to 0xFF.
func setOpaque(pix []byte, stride, width, height int) {
	for y := 0; y < height; y++ {
		row := pix[y*stride : y*stride+BytesPerPixel*width]
		for i := 3; i < len(row); i += BytesPerPixel {
			row[i] = 0xFF
		}
	}
}

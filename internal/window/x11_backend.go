package window

import (
	"fmt"
	"strings"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/SilentShot/internal/capture"
	"github.com/bryanchriswhite/SilentShot/internal/logger"
)

// X11Tracker finds the active window through EWMH with a focus fallback.
type X11Tracker struct {
	conn  *xgb.Conn
	root  xproto.Window
	atoms map[string]xproto.Atom
	mu    sync.Mutex
}

// NewX11Tracker creates a new X11 window tracker
func NewX11Tracker() (*X11Tracker, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	root := setup.DefaultScreen(conn).Root

	return &X11Tracker{
		conn:  conn,
		root:  root,
		atoms: make(map[string]xproto.Atom),
	}, nil
}

// Close closes the X11 connection
func (t *X11Tracker) Close() error {
	t.conn.Close()
	return nil
}

// Name returns the backend name
func (t *X11Tracker) Name() string {
	return "x11"
}

// ActiveRect returns the outer bounds of the active top-level window.
func (t *X11Tracker) ActiveRect() (capture.Rect, bool) {
	info, err := t.ActiveWindow()
	if err != nil {
		logger.WithComponent("x11-window").Debug().Err(err).Msg("No active window")
		return capture.Rect{}, false
	}
	r := info.Rect
	if r.Right <= r.Left || r.Bottom <= r.Top {
		return capture.Rect{}, false
	}
	return r, true
}

// ActiveWindow returns the active window with its frame bounds.
func (t *X11Tracker) ActiveWindow() (*Info, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	win, err := t.activeWindow()
	if err != nil {
		return nil, err
	}
	if win == 0 || win == t.root {
		return nil, fmt.Errorf("no window has focus")
	}

	frame, err := topLevel(win, t.root, t.parentOf)
	if err != nil {
		return nil, fmt.Errorf("failed to find frame of window %d: %w", win, err)
	}

	rect, err := t.rootRect(frame)
	if err != nil {
		return nil, err
	}

	info := &Info{ID: uint32(win), Rect: rect}
	t.describe(win, info)
	return info, nil
}

// activeWindow reads _NET_ACTIVE_WINDOW and falls back to the input focus.
func (t *X11Tracker) activeWindow() (xproto.Window, error) {
	if atom, err := t.getAtom("_NET_ACTIVE_WINDOW"); err == nil {
		reply, err := xproto.GetProperty(t.conn, false, t.root, atom,
			xproto.AtomWindow, 0, 1).Reply()
		if err == nil {
			if id, ok := cardinal(reply.Value); ok && id != 0 {
				return xproto.Window(id), nil
			}
		}
	}

	focus, err := xproto.GetInputFocus(t.conn).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to get input focus: %w", err)
	}
	return focus.Focus, nil
}

func (t *X11Tracker) parentOf(w xproto.Window) (xproto.Window, error) {
	tree, err := xproto.QueryTree(t.conn, w).Reply()
	if err != nil {
		return 0, err
	}
	return tree.Parent, nil
}

// topLevel walks up from w to the child of root that contains it. With a
// reparenting window manager that is the decorated frame.
func topLevel(w, root xproto.Window, parentOf func(xproto.Window) (xproto.Window, error)) (xproto.Window, error) {
	for depth := 0; depth < 64; depth++ {
		parent, err := parentOf(w)
		if err != nil {
			return 0, err
		}
		if parent == root || parent == 0 {
			return w, nil
		}
		w = parent
	}
	return 0, fmt.Errorf("window tree too deep")
}

// rootRect returns w's outer bounds in root coordinates.
func (t *X11Tracker) rootRect(w xproto.Window) (capture.Rect, error) {
	geom, err := xproto.GetGeometry(t.conn, xproto.Drawable(w)).Reply()
	if err != nil {
		return capture.Rect{}, fmt.Errorf("failed to get window geometry: %w", err)
	}
	pos, err := xproto.TranslateCoordinates(t.conn, w, t.root, 0, 0).Reply()
	if err != nil {
		return capture.Rect{}, fmt.Errorf("failed to translate coordinates: %w", err)
	}

	border := int(geom.BorderWidth)
	left := int(pos.DstX) - border
	top := int(pos.DstY) - border
	return capture.Rect{
		Left:   left,
		Top:    top,
		Right:  left + int(geom.Width) + 2*border,
		Bottom: top + int(geom.Height) + 2*border,
	}, nil
}

// describe fills in title, class and pid. Missing properties are left empty.
func (t *X11Tracker) describe(win xproto.Window, info *Info) {
	if atom, err := t.getAtom("_NET_WM_NAME"); err == nil {
		if title, err := t.getProperty(win, atom); err == nil {
			info.Title = title
		}
	}
	if info.Title == "" {
		if title, err := t.getProperty(win, xproto.AtomWmName); err == nil {
			info.Title = title
		}
	}

	// WM_CLASS format is: instance\0class\0
	if classRaw, err := t.getProperty(win, xproto.AtomWmClass); err == nil {
		info.Class = parseWMClass(classRaw)
	}

	if atom, err := t.getAtom("_NET_WM_PID"); err == nil {
		reply, err := xproto.GetProperty(t.conn, false, win, atom,
			xproto.AtomCardinal, 0, 1).Reply()
		if err == nil {
			if pid, ok := cardinal(reply.Value); ok {
				info.PID = int(pid)
			}
		}
	}
}

func parseWMClass(raw string) string {
	parts := strings.Split(raw, "\x00")
	if len(parts) >= 2 && parts[1] != "" {
		return parts[1]
	}
	if len(parts) >= 1 {
		return parts[0]
	}
	return ""
}

// cardinal decodes the first 32-bit little-endian value of a property.
func cardinal(value []byte) (uint32, bool) {
	if len(value) < 4 {
		return 0, false
	}
	return uint32(value[0]) |
		uint32(value[1])<<8 |
		uint32(value[2])<<16 |
		uint32(value[3])<<24, true
}

// getAtom gets an atom ID by name
func (t *X11Tracker) getAtom(name string) (xproto.Atom, error) {
	if atom, ok := t.atoms[name]; ok {
		return atom, nil
	}
	reply, err := xproto.InternAtom(t.conn, true, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	if reply.Atom == 0 {
		return 0, fmt.Errorf("atom %s not defined", name)
	}
	t.atoms[name] = reply.Atom
	return reply.Atom, nil
}

// getProperty gets a property value as a string
func (t *X11Tracker) getProperty(win xproto.Window, atom xproto.Atom) (string, error) {
	reply, err := xproto.GetProperty(
		t.conn,
		false,
		win,
		atom,
		xproto.GetPropertyTypeAny,
		0,
		(1<<32)-1,
	).Reply()
	if err != nil {
		return "", err
	}

	if reply.ValueLen == 0 {
		return "", fmt.Errorf("empty property")
	}

	return strings.TrimRight(string(reply.Value), "\x00"), nil
}

package capture

// WindowInset trims the border the window manager draws around a window
// from the left, right and bottom edges of a windowed crop. The top edge
// keeps the title bar.
const WindowInset = 7

// Rect is a rectangle in screen coordinates, as reported by the window
// tracker. Right and Bottom are exclusive.
type Rect struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// CropRect is a rectangle inside a frame with
// 0 <= Top <= Bottom <= Height and 0 <= Left <= Right <= Width.
type CropRect struct {
	Top    int `json:"top"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
	Right  int `json:"right"`
}

// Width in pixels.
func (r CropRect) Width() int { return r.Right - r.Left }

// Height in pixels.
func (r CropRect) Height() int { return r.Bottom - r.Top }

// Empty reports a zero-area rectangle.
func (r CropRect) Empty() bool { return r.Right <= r.Left || r.Bottom <= r.Top }

// Clamp saturates v into [lo, hi]. ok is false iff lo > hi.
func Clamp(v, lo, hi int) (int, bool) {
	if lo > hi {
		return 0, false
	}
	if v < lo {
		return lo, true
	}
	if v > hi {
		return hi, true
	}
	return v, true
}

// FullRect covers a whole frame.
func FullRect(width, height int) CropRect {
	return CropRect{Top: 0, Bottom: height, Left: 0, Right: width}
}

// WindowRegion maps a window rect (already relative to the frame origin)
// to the crop region, applying WindowInset and clamping into the frame.
// A window that ends up with no area yields an empty CropRect.
func WindowRegion(win Rect, width, height int) CropRect {
	left, _ := Clamp(win.Left+WindowInset, 0, width)
	right, _ := Clamp(win.Right-WindowInset, 0, width)
	top, _ := Clamp(win.Top, 0, height)
	bottom, _ := Clamp(win.Bottom-WindowInset, 0, height)

	r := CropRect{Top: top, Bottom: bottom, Left: left, Right: right}
	if r.Empty() {
		return CropRect{Top: top, Bottom: top, Left: left, Right: left}
	}
	return r
}

// Cropper copies regions out of frames into a tightly packed BGRA buffer
// it reuses between calls. The returned slice is valid until the next call.
type Cropper struct {
	buf []byte
}

// Full strips the stride padding from a frame.
func (c *Cropper) Full(f RawFrame) ([]byte, int, int) {
	return c.Crop(f, FullRect(f.Width, f.Height))
}

// Window crops the frame to a window rect given in screen coordinates.
func (c *Cropper) Window(f RawFrame, win Rect) ([]byte, int, int) {
	rel := Rect{
		Left:   win.Left - f.Origin.X,
		Top:    win.Top - f.Origin.Y,
		Right:  win.Right - f.Origin.X,
		Bottom: win.Bottom - f.Origin.Y,
	}
	return c.Crop(f, WindowRegion(rel, f.Width, f.Height))
}

// Crop copies r out of f. r must satisfy the CropRect bounds for f.
func (c *Cropper) Crop(f RawFrame, r CropRect) ([]byte, int, int) {
	if r.Empty() {
		c.buf = c.buf[:0]
		return c.buf, 0, 0
	}

	w, h := r.Width(), r.Height()
	rowBytes := BytesPerPixel * w
	n := rowBytes * h
	if cap(c.buf) < n {
		c.buf = make([]byte, n)
	}
	c.buf = c.buf[:n]

	for y := 0; y < h; y++ {
		src := (r.Top+y)*f.Stride + BytesPerPixel*r.Left
		copy(c.buf[y*rowBytes:(y+1)*rowBytes], f.Pix[src:src+rowBytes])
	}
	return c.buf, w, h
}

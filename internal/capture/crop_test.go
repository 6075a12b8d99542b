package capture

import (
	"bytes"
	"image"
	"testing"
)

func TestClamp(t *testing.T) {
	tests := []struct {
		v, lo, hi int
		want      int
		ok        bool
	}{
		{5, 0, 10, 5, true},
		{-3, 0, 10, 0, true},
		{42, 0, 10, 10, true},
		{7, 7, 7, 7, true},
		{0, 0, 0, 0, true},
		{5, 10, 0, 0, false},
		{5, 1, 0, 0, false},
	}
	for _, tt := range tests {
		got, ok := Clamp(tt.v, tt.lo, tt.hi)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("Clamp(%d, %d, %d) = %d, %v, want %d, %v", tt.v, tt.lo, tt.hi, got, ok, tt.want, tt.ok)
		}
	}
}

func TestClampStaysInRange(t *testing.T) {
	for lo := -5; lo <= 5; lo++ {
		for hi := lo; hi <= 8; hi++ {
			for v := -10; v <= 10; v++ {
				got, ok := Clamp(v, lo, hi)
				if !ok || got < lo || got > hi {
					t.Fatalf("Clamp(%d, %d, %d) = %d, %v", v, lo, hi, got, ok)
				}
				if v >= lo && v <= hi && got != v {
					t.Fatalf("Clamp(%d, %d, %d) moved an in-range value to %d", v, lo, hi, got)
				}
			}
		}
	}
}

func TestWindowRegionArithmetic(t *testing.T) {
	win := Rect{Top: 100, Bottom: 300, Left: 50, Right: 250}
	got := WindowRegion(win, 1920, 1080)
	want := CropRect{Top: 100, Bottom: 293, Left: 57, Right: 243}
	if got != want {
		t.Fatalf("WindowRegion = %+v, want %+v", got, want)
	}
	if got.Width() != 186 || got.Height() != 193 {
		t.Errorf("dims = %dx%d, want 186x193", got.Width(), got.Height())
	}
}

func TestWindowRegionClampsToFrame(t *testing.T) {
	tests := []struct {
		name string
		win  Rect
		want CropRect
	}{
		{"maximized with border outside", Rect{Left: -7, Top: -30, Right: 1927, Bottom: 1087}, CropRect{Top: 0, Bottom: 1080, Left: 0, Right: 1920}},
		{"hanging off the right", Rect{Left: 1800, Top: 500, Right: 2200, Bottom: 700}, CropRect{Top: 500, Bottom: 693, Left: 1807, Right: 1920}},
	}
	for _, tt := range tests {
		if got := WindowRegion(tt.win, 1920, 1080); got != tt.want {
			t.Errorf("%s: WindowRegion = %+v, want %+v", tt.name, got, tt.want)
		}
	}
}

func TestWindowRegionDegenerate(t *testing.T) {
	tests := []Rect{
		{Left: 3000, Top: 2000, Right: 3200, Bottom: 2100}, // off screen
		{Left: -500, Top: -500, Right: -100, Bottom: -100}, // off screen the other way
		{Left: 100, Top: 100, Right: 110, Bottom: 400},     // narrower than both insets
		{Left: 100, Top: 100, Right: 400, Bottom: 105},     // shorter than the bottom inset
	}
	for _, win := range tests {
		r := WindowRegion(win, 1920, 1080)
		if !r.Empty() || r.Width() != 0 || r.Height() != 0 {
			t.Errorf("WindowRegion(%+v) = %+v, want zero area", win, r)
		}
		if r.Left < 0 || r.Left > 1920 || r.Top < 0 || r.Top > 1080 {
			t.Errorf("WindowRegion(%+v) = %+v, outside frame", win, r)
		}
	}
}

// testFrame builds a BGRA frame where pixel (x, y) is {x, y, 0xAA, 0xFF}
// and every row carries pad bytes of 0xEE after the pixels.
func testFrame(w, h, pad int) RawFrame {
	stride := w*BytesPerPixel + pad
	pix := make([]byte, stride*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*stride + x*BytesPerPixel
			pix[i], pix[i+1], pix[i+2], pix[i+3] = byte(x), byte(y), 0xAA, 0xFF
		}
		for p := 0; p < pad; p++ {
			pix[y*stride+w*BytesPerPixel+p] = 0xEE
		}
	}
	return RawFrame{Pix: pix, Stride: stride, Width: w, Height: h}
}

func TestFullStripsStride(t *testing.T) {
	f := testFrame(3, 2, 8)
	var c Cropper
	buf, w, h := c.Full(f)
	if w != 3 || h != 2 {
		t.Fatalf("dims = %dx%d, want 3x2", w, h)
	}
	if len(buf) != 4*3*2 {
		t.Fatalf("len = %d, want 24", len(buf))
	}
	if bytes.IndexByte(buf, 0xEE) >= 0 {
		t.Error("padding bytes leaked into the packed buffer")
	}
	for y := 0; y < 2; y++ {
		row := buf[y*12 : (y+1)*12]
		src := f.Pix[y*f.Stride : y*f.Stride+12]
		if !bytes.Equal(row, src) {
			t.Errorf("row %d = %v, want %v", y, row, src)
		}
	}
}

func TestWindowCropContents(t *testing.T) {
	f := testFrame(64, 48, 4)
	var c Cropper
	win := Rect{Left: 10, Top: 5, Right: 40, Bottom: 30}
	buf, w, h := c.Window(f, win)

	if w != 40-7-(10+7) || h != 30-7-5 {
		t.Fatalf("dims = %dx%d", w, h)
	}
	if len(buf) != 4*w*h {
		t.Fatalf("len = %d, want %d", len(buf), 4*w*h)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 4
			if buf[i] != byte(17+x) || buf[i+1] != byte(5+y) {
				t.Fatalf("pixel (%d,%d) = (%d,%d), want (%d,%d)", x, y, buf[i], buf[i+1], 17+x, 5+y)
			}
		}
	}
}

func TestWindowCropTranslatesOrigin(t *testing.T) {
	f := testFrame(64, 48, 0)
	f.Origin = image.Point{X: 1920, Y: 0}
	var c Cropper

	// Same window as TestWindowCropContents, but on a second monitor.
	_, w, h := c.Window(f, Rect{Left: 1930, Top: 5, Right: 1960, Bottom: 30})
	if w != 16 || h != 18 {
		t.Errorf("dims = %dx%d, want 16x18", w, h)
	}
}

func TestCropDegenerateIsEmpty(t *testing.T) {
	f := testFrame(16, 16, 0)
	var c Cropper
	buf, w, h := c.Window(f, Rect{Left: 500, Top: 500, Right: 600, Bottom: 600})
	if len(buf) != 0 || w != 0 || h != 0 {
		t.Errorf("got len=%d %dx%d, want empty", len(buf), w, h)
	}
}

func TestCropperReusesBuffer(t *testing.T) {
	f := testFrame(32, 32, 0)
	var c Cropper
	first, _, _ := c.Full(f)
	second, w, h := c.Crop(f, CropRect{Top: 2, Bottom: 10, Left: 4, Right: 12})
	if w != 8 || h != 8 {
		t.Fatalf("dims = %dx%d", w, h)
	}
	if &first[0] != &second[0] {
		t.Error("smaller crop allocated a new buffer")
	}
	if second[0] != 4 || second[1] != 2 {
		t.Errorf("first pixel = (%d,%d), want (4,2)", second[0], second[1])
	}
}

package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/png"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func TestNamerDistinctWithinOneMillisecond(t *testing.T) {
	fixed := time.UnixMicro(1_700_000_000_000_000)
	n := NewNamerWithClock(func() time.Time { return fixed })

	seen := make(map[int64]bool)
	prev := int64(0)
	for i := 0; i < 5000; i++ {
		idx := n.Next()
		if seen[idx] {
			t.Fatalf("index %d repeated", idx)
		}
		if idx <= prev {
			t.Fatalf("index %d not after %d", idx, prev)
		}
		seen[idx] = true
		prev = idx
	}
}

func TestNamerClockGoesBackwards(t *testing.T) {
	now := time.UnixMicro(2_000_000)
	n := NewNamerWithClock(func() time.Time { return now })
	first := n.Next()
	now = now.Add(-time.Hour)
	if second := n.Next(); second != first+1 {
		t.Errorf("after clock step back got %d, want %d", second, first+1)
	}
	now = time.UnixMicro(9_000_000)
	if third := n.Next(); third != 9_000_000 {
		t.Errorf("after clock recovers got %d, want 9000000", third)
	}
}

func TestNamerConcurrent(t *testing.T) {
	n := NewNamer()
	const workers, per = 8, 500
	out := make(chan int64, workers*per)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				out <- n.Next()
			}
		}()
	}
	wg.Wait()
	close(out)

	seen := make(map[int64]bool)
	for idx := range out {
		if seen[idx] {
			t.Fatalf("index %d handed out twice", idx)
		}
		seen[idx] = true
	}
}

// bgra returns a w*h packed BGRA gradient.
func bgra(w, h int) []byte {
	pix := make([]byte, 4*w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := 4 * (y*w + x)
			pix[i], pix[i+1], pix[i+2], pix[i+3] = byte(x*7), byte(y*13), byte(x+y), byte(0x80+x-y)
		}
	}
	return pix
}

func TestRawToCompressedRoundTrip(t *testing.T) {
	const w, h = 37, 21
	pix := bgra(w, h)

	var raw bytes.Buffer
	if err := EncodeRaw(&raw, pix, w, h); err != nil {
		t.Fatalf("EncodeRaw: %v", err)
	}
	img, err := DecodeRaw(&raw)
	if err != nil {
		t.Fatalf("DecodeRaw: %v", err)
	}
	assertBGRA(t, "raw", img, pix, w, h)

	var compressed bytes.Buffer
	if err := EncodeCompressed(&compressed, img, CompressionLevel("best")); err != nil {
		t.Fatalf("EncodeCompressed: %v", err)
	}
	out, err := png.Decode(&compressed)
	if err != nil {
		t.Fatalf("png.Decode: %v", err)
	}
	assertBGRA(t, "png", out, pix, w, h)
}

// assertBGRA checks img against the packed BGRA buffer, alpha included.
func assertBGRA(t *testing.T, name string, img image.Image, pix []byte, w, h int) {
	t.Helper()
	if img.Bounds() != image.Rect(0, 0, w, h) {
		t.Fatalf("%s: bounds = %v", name, img.Bounds())
	}
	nrgba, ok := img.(*image.NRGBA)
	if !ok {
		t.Fatalf("%s: decoded as %T, want *image.NRGBA", name, img)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := 4 * (y*w + x)
			j := nrgba.PixOffset(x, y)
			got := nrgba.Pix[j : j+4]
			if got[0] != pix[i+2] || got[1] != pix[i+1] || got[2] != pix[i] || got[3] != pix[i+3] {
				t.Fatalf("%s: pixel (%d,%d) RGBA = %v, want %d,%d,%d,%d",
					name, x, y, got, pix[i+2], pix[i+1], pix[i], pix[i+3])
			}
		}
	}
}

func TestRawLayoutIsPackedBGRA(t *testing.T) {
	const w, h = 3, 2
	pix := bgra(w, h)

	var raw bytes.Buffer
	if err := EncodeRaw(&raw, pix, w, h); err != nil {
		t.Fatal(err)
	}
	data := raw.Bytes()

	const headerLen = 14 + 108
	if len(data) != headerLen+len(pix) {
		t.Fatalf("file is %d bytes, want %d header + %d pixel bytes", len(data), headerLen, len(pix))
	}
	if bpp := binary.LittleEndian.Uint16(data[28:30]); bpp != 32 {
		t.Errorf("bit count = %d, want 32", bpp)
	}
	if off := binary.LittleEndian.Uint32(data[10:14]); off != headerLen {
		t.Errorf("pixel offset = %d, want %d", off, headerLen)
	}
	if !bytes.Equal(data[headerLen:], pix) {
		t.Error("pixel array is not the capture buffer")
	}
}

func TestEncodeRawRejects(t *testing.T) {
	if err := EncodeRaw(io.Discard, nil, 0, 10); !errors.Is(err, ErrDegenerate) {
		t.Errorf("zero width = %v, want ErrDegenerate", err)
	}
	if err := EncodeRaw(io.Discard, make([]byte, 8), 4, 4); err == nil {
		t.Error("short buffer accepted")
	}
}

func TestCompressionLevel(t *testing.T) {
	tests := map[string]png.CompressionLevel{
		"default": png.DefaultCompression,
		"speed":   png.BestSpeed,
		"best":    png.BestCompression,
		"none":    png.NoCompression,
		"":        png.DefaultCompression,
	}
	for in, want := range tests {
		if got := CompressionLevel(in); got != want {
			t.Errorf("CompressionLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCompressedPath(t *testing.T) {
	if got := CompressedPath("/a/b/123.bmp"); got != "/a/b/123.png" {
		t.Errorf("got %q", got)
	}
	if got := CompressedPath("/a/b/123.BMP"); got != "/a/b/123.png" {
		t.Errorf("got %q", got)
	}
}

func TestStoreWriteRaw(t *testing.T) {
	fs := afero.NewMemMapFs()
	now := time.UnixMicro(1_000_000)
	s := NewStore(fs, NewNamerWithClock(func() time.Time { return now }))

	raw, err := s.WriteRaw("/shots", bgra(4, 3), 4, 3)
	if err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}
	if raw.Path != filepath.Join("/shots", "1000000.bmp") {
		t.Errorf("path = %q", raw.Path)
	}
	if raw.Width != 4 || raw.Height != 3 || raw.Size <= 0 {
		t.Errorf("raw = %+v", raw)
	}
	if ok, _ := afero.Exists(fs, raw.Path+TempSuffix); ok {
		t.Error("temp file left behind")
	}

	f, err := fs.Open(raw.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := DecodeRaw(f)
	if err != nil {
		t.Fatalf("written file does not decode: %v", err)
	}
	if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 3 {
		t.Errorf("bounds = %v", img.Bounds())
	}
}

func TestStoreWriteRawSkipsTakenNames(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/shots/1000000.bmp", []byte("old"), 0644)
	afero.WriteFile(fs, "/shots/1000001.bmp.tmp", []byte("partial"), 0644)

	now := time.UnixMicro(1_000_000)
	s := NewStore(fs, NewNamerWithClock(func() time.Time { return now }))

	raw, err := s.WriteRaw("/shots", bgra(2, 2), 2, 2)
	if err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}
	if raw.Path != filepath.Join("/shots", "1000002.bmp") {
		t.Errorf("path = %q, want 1000002.bmp", raw.Path)
	}
	old, _ := afero.ReadFile(fs, "/shots/1000000.bmp")
	if string(old) != "old" {
		t.Error("existing capture was overwritten")
	}
}

func TestStoreWriteRawDegenerate(t *testing.T) {
	s := NewStore(afero.NewMemMapFs(), nil)
	if _, err := s.WriteRaw("/shots", nil, 0, 0); !errors.Is(err, ErrDegenerate) {
		t.Errorf("err = %v, want ErrDegenerate", err)
	}
}

func TestStorePersistErrors(t *testing.T) {
	s := NewStore(afero.NewReadOnlyFs(afero.NewMemMapFs()), nil)
	if _, err := s.WriteRaw("/shots", bgra(2, 2), 2, 2); !errors.Is(err, ErrPersist) {
		t.Errorf("err = %v, want ErrPersist", err)
	}
}

func TestListRaw(t *testing.T) {
	fs := afero.NewMemMapFs()
	for _, name := range []string{"300.bmp", "100.bmp", "200.png", "400.bmp.tmp", "notes.txt"} {
		afero.WriteFile(fs, filepath.Join("/d", name), []byte("x"), 0644)
	}
	fs.MkdirAll("/d/sub.bmp", 0755)

	s := NewStore(fs, nil)
	got, err := s.ListRaw("/d")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"/d/100.bmp", "/d/300.bmp"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("ListRaw = %v, want %v", got, want)
	}

	missing, err := s.ListRaw("/nope")
	if err != nil || len(missing) != 0 {
		t.Errorf("missing dir = %v, %v", missing, err)
	}
}

package storage

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/bmp"
)

// File extensions used in the destination folder.
const (
	RawExt        = ".bmp"
	CompressedExt = ".png"
	TempSuffix    = ".tmp"
)

// Raw captures are top-down 32 bpp BMPs with a BITMAPV4HEADER whose
// channel masks describe the B,G,R,A byte order, so the pixel array is the
// capture buffer byte for byte and the alpha channel survives a decode.
const (
	bmpFileHeaderLen = 14
	bmpV4HeaderLen   = 108
	bmpBitfields     = 3
	bmpSRGB          = 0x73524742 // 'sRGB'
)

type bmpHeader struct {
	Sig         [2]byte
	FileSize    uint32
	Reserved    uint32
	PixOffset   uint32
	InfoSize    uint32
	Width       int32
	Height      int32
	Planes      uint16
	BitCount    uint16
	Compression uint32
	ImageSize   uint32
	XPelsPerM   int32
	YPelsPerM   int32
	ColorsUsed  uint32
	ColorsImp   uint32
	RedMask     uint32
	GreenMask   uint32
	BlueMask    uint32
	AlphaMask   uint32
	ColorSpace  uint32
	Endpoints   [36]byte
	Gamma       [3]uint32
}

// EncodeRaw writes a tightly packed BGRA buffer as a 32 bpp BMP.
func EncodeRaw(w io.Writer, pix []byte, width, height int) error {
	if width <= 0 || height <= 0 {
		return ErrDegenerate
	}
	size := 4 * width * height
	if len(pix) < size {
		return fmt.Errorf("buffer holds %d bytes, need %d for %dx%d", len(pix), size, width, height)
	}

	h := bmpHeader{
		Sig:         [2]byte{'B', 'M'},
		FileSize:    uint32(bmpFileHeaderLen + bmpV4HeaderLen + size),
		PixOffset:   bmpFileHeaderLen + bmpV4HeaderLen,
		InfoSize:    bmpV4HeaderLen,
		Width:       int32(width),
		Height:      -int32(height), // rows stored top to bottom
		Planes:      1,
		BitCount:    32,
		Compression: bmpBitfields,
		ImageSize:   uint32(size),
		RedMask:     0x00ff0000,
		GreenMask:   0x0000ff00,
		BlueMask:    0x000000ff,
		AlphaMask:   0xff000000,
		ColorSpace:  bmpSRGB,
	}
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return err
	}
	_, err := w.Write(pix[:size])
	return err
}

// DecodeRaw reads a raw capture. 32 bpp files decode to *image.NRGBA with
// their alpha intact.
func DecodeRaw(r io.Reader) (image.Image, error) {
	return bmp.Decode(r)
}

// CompressionLevel maps a png_compression setting to the encoder level.
func CompressionLevel(name string) png.CompressionLevel {
	switch strings.ToLower(name) {
	case "speed":
		return png.BestSpeed
	case "best":
		return png.BestCompression
	case "none":
		return png.NoCompression
	default:
		return png.DefaultCompression
	}
}

// EncodeCompressed writes img as PNG.
func EncodeCompressed(w io.Writer, img image.Image, level png.CompressionLevel) error {
	return imaging.Encode(w, img, imaging.PNG, imaging.PNGCompressionLevel(level))
}

// IsRaw reports whether name is a finished raw capture (not a temp file).
func IsRaw(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), RawExt)
}

// CompressedPath returns the PNG path for a raw capture path.
func CompressedPath(rawPath string) string {
	return strings.TrimSuffix(rawPath, filepath.Ext(rawPath)) + CompressedExt
}

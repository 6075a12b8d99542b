package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/bryanchriswhite/SilentShot/internal/logger"
	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
)

var (
	// ErrDegenerate is returned for a zero-area capture.
	ErrDegenerate = errors.New("capture has zero area")

	// ErrPersist wraps failures to write a capture to disk.
	ErrPersist = errors.New("failed to persist capture")
)

// maxNameAttempts bounds retries when a capture name is already taken.
const maxNameAttempts = 16

// Store writes captures into destination folders.
type Store struct {
	fs    afero.Fs
	namer *Namer
}

// NewStore creates a store on fs.
func NewStore(fs afero.Fs, namer *Namer) *Store {
	if namer == nil {
		namer = NewNamer()
	}
	return &Store{fs: fs, namer: namer}
}

// Fs returns the underlying filesystem.
func (s *Store) Fs() afero.Fs {
	return s.fs
}

// EnsureDir creates dir if it does not exist.
func (s *Store) EnsureDir(dir string) error {
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrPersist, dir, err)
	}
	return nil
}

// Raw is a capture written to disk.
type Raw struct {
	Path   string
	Index  int64
	Size   int64
	Width  int
	Height int
}

// WriteRaw encodes a packed BGRA buffer as <index>.bmp in dir. The file
// only appears under its final name once it is complete.
func (s *Store) WriteRaw(dir string, pix []byte, width, height int) (Raw, error) {
	if width <= 0 || height <= 0 {
		return Raw{}, ErrDegenerate
	}
	if err := s.EnsureDir(dir); err != nil {
		return Raw{}, err
	}

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		idx := s.namer.Next()
		path := filepath.Join(dir, fmt.Sprintf("%d%s", idx, RawExt))
		if _, err := s.fs.Stat(path); err == nil {
			continue
		}

		size, err := s.WriteAtomic(path, func(w io.Writer) error {
			return EncodeRaw(w, pix, width, height)
		})
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return Raw{}, err
		}

		logger.WithComponent("storage").Debug().
			Str("path", path).
			Str("size", humanize.Bytes(uint64(size))).
			Int("width", width).
			Int("height", height).
			Msg("Raw capture written")

		return Raw{Path: path, Index: idx, Size: size, Width: width, Height: height}, nil
	}
	return Raw{}, fmt.Errorf("%w: no free name in %s", ErrPersist, dir)
}

// WriteAtomic writes path through a temp file that is renamed into place.
// It fails with os.ErrExist when the temp name is already taken.
func (s *Store) WriteAtomic(path string, encode func(io.Writer) error) (int64, error) {
	tmp := path + TempSuffix
	f, err := s.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %v", ErrPersist, err)
	}

	bw := bufio.NewWriterSize(f, 1<<20)
	err = encode(bw)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.fs.Remove(tmp)
		return 0, fmt.Errorf("%w: write %s: %v", ErrPersist, path, err)
	}

	st, err := s.fs.Stat(tmp)
	if err != nil {
		s.fs.Remove(tmp)
		return 0, fmt.Errorf("%w: %v", ErrPersist, err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		s.fs.Remove(tmp)
		return 0, fmt.Errorf("%w: rename %s: %v", ErrPersist, path, err)
	}
	return st.Size(), nil
}

// ListRaw returns the finished raw captures in dir, oldest first.
func (s *Store) ListRaw(dir string) ([]string, error) {
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !IsRaw(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

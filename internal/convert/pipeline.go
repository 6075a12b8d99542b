package convert

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/SilentShot/internal/logger"
	"github.com/bryanchriswhite/SilentShot/internal/notify"
	"github.com/bryanchriswhite/SilentShot/internal/storage"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

var (
	// ErrQueueFull means no worker freed a slot within the enqueue timeout.
	// The raw file stays on disk and is picked up by the next startup sweep.
	ErrQueueFull = errors.New("conversion queue full")

	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("conversion pipeline closed")

	// ErrDecode wraps raw files that cannot be decoded.
	ErrDecode = errors.New("failed to decode raw capture")
)

// Job is one raw file waiting for conversion.
type Job struct {
	Path string
}

// Options configures a Pipeline.
type Options struct {
	Workers        int
	EnqueueTimeout time.Duration
	SweepThrottle  time.Duration
	Level          png.CompressionLevel

	// PreserveRaw is consulted per job; nil means raw files are removed.
	PreserveRaw func() bool

	// Hub receives an event for every compressed file; optional.
	Hub *notify.Hub
}

// DefaultWorkers leaves one CPU for the capture loop.
func DefaultWorkers() int {
	if n := runtime.NumCPU() - 1; n > 1 {
		return n
	}
	return 1
}

// Stats counts pipeline activity.
type Stats struct {
	Workers   int   `json:"workers"`
	Queued    int   `json:"queued"`
	Capacity  int   `json:"capacity"`
	Converted int64 `json:"converted"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
	Swept     int64 `json:"swept"`
}

// Pipeline converts raw captures to PNG on a pool of workers fed by a
// bounded queue.
type Pipeline struct {
	store *storage.Store
	opts  Options
	jobs  chan Job
	wg    conc.WaitGroup

	mu      sync.RWMutex
	closed  bool
	started bool

	converted atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	swept     atomic.Int64
}

// New creates a pipeline writing through store. Zero options take defaults.
func New(store *storage.Store, opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers()
	}
	if opts.EnqueueTimeout <= 0 {
		opts.EnqueueTimeout = 250 * time.Millisecond
	}
	return &Pipeline{
		store: store,
		opts:  opts,
		jobs:  make(chan Job, 2*opts.Workers),
	}
}

// Start lists the raw files already in dir, then converts that list in the
// background while the workers serve the queue. Files listed here were
// left by an earlier run; captures written after Start returns go through
// Enqueue.
func (p *Pipeline) Start(ctx context.Context, dir string) error {
	p.mu.Lock()
	if p.started || p.closed {
		p.mu.Unlock()
		return fmt.Errorf("pipeline already started")
	}
	p.started = true
	p.mu.Unlock()

	backlog, err := p.store.ListRaw(dir)
	if err != nil {
		return err
	}

	log := logger.WithComponent("convert")
	log.Info().
		Int("workers", p.opts.Workers).
		Int("queue", cap(p.jobs)).
		Int("backlog", len(backlog)).
		Str("dir", dir).
		Msg("Conversion pipeline started")

	if len(backlog) > 0 {
		p.wg.Go(func() {
			n := p.convertAll(ctx, backlog, p.opts.SweepThrottle)
			p.swept.Add(int64(n))
			log.Info().Int("converted", n).Int("backlog", len(backlog)).Msg("Startup sweep finished")
		})
	}

	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Go(p.worker)
	}
	return nil
}

func (p *Pipeline) worker() {
	for job := range p.jobs {
		p.convert(job.Path)
	}
}

// Enqueue hands a raw file to the workers, waiting at most the enqueue timeout.
func (p *Pipeline) Enqueue(path string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}

	select {
	case p.jobs <- Job{Path: path}:
		return nil
	default:
	}

	timer := time.NewTimer(p.opts.EnqueueTimeout)
	defer timer.Stop()
	select {
	case p.jobs <- Job{Path: path}:
		return nil
	case <-timer.C:
		p.rejected.Add(1)
		return ErrQueueFull
	}
}

// Close stops accepting jobs. Queued jobs are still converted.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
}

// Wait blocks until the workers and the startup sweep have exited.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// ConvertDir converts every raw file in dir on the calling goroutine.
func (p *Pipeline) ConvertDir(ctx context.Context, dir string) (converted, failed int, err error) {
	paths, err := p.store.ListRaw(dir)
	if err != nil {
		return 0, 0, err
	}
	converted = p.convertAll(ctx, paths, 0)
	return converted, len(paths) - converted, ctx.Err()
}

func (p *Pipeline) convertAll(ctx context.Context, paths []string, throttle time.Duration) int {
	n := 0
	for i, path := range paths {
		if ctx.Err() != nil {
			return n
		}
		if p.convert(path) == nil {
			n++
		}
		if throttle > 0 && i < len(paths)-1 {
			select {
			case <-ctx.Done():
				return n
			case <-time.After(throttle):
			}
		}
	}
	return n
}

// convert transcodes one raw file. Failures are logged and leave the raw
// file in place.
func (p *Pipeline) convert(path string) error {
	log := logger.WithComponent("convert")
	start := time.Now()

	err := p.transcode(path, log)
	if err != nil {
		p.failed.Add(1)
		log.Warn().Err(err).Str("path", path).Msg("Conversion failed, raw file kept")
		return err
	}
	p.converted.Add(1)
	log.Debug().Str("path", path).Dur("took", time.Since(start)).Msg("Converted")
	return nil
}

func (p *Pipeline) transcode(path string, log *zerolog.Logger) error {
	fs := p.store.Fs()

	f, err := fs.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open raw capture: %w", err)
	}
	img, err := storage.DecodeRaw(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}

	dst := storage.CompressedPath(path)
	fs.Remove(dst + storage.TempSuffix)
	size, err := p.store.WriteAtomic(dst, func(w io.Writer) error {
		return storage.EncodeCompressed(w, img, p.opts.Level)
	})
	if err != nil {
		return err
	}

	if p.opts.PreserveRaw == nil || !p.opts.PreserveRaw() {
		if err := fs.Remove(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to remove raw capture")
		}
	}

	b := img.Bounds()
	if p.opts.Hub != nil {
		p.opts.Hub.Publish(notify.Event{
			Kind:   notify.KindCompressed,
			Path:   dst,
			Size:   size,
			Width:  b.Dx(),
			Height: b.Dy(),
		})
	}

	log.Info().
		Str("path", dst).
		Str("size", humanize.Bytes(uint64(size))).
		Msg("Capture compressed")
	return nil
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Workers:   p.opts.Workers,
		Queued:    len(p.jobs),
		Capacity:  cap(p.jobs),
		Converted: p.converted.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
		Swept:     p.swept.Load(),
	}
}

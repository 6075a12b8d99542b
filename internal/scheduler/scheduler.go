package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/SilentShot/internal/capture"
	"github.com/bryanchriswhite/SilentShot/internal/config"
	"github.com/bryanchriswhite/SilentShot/internal/input"
	"github.com/bryanchriswhite/SilentShot/internal/logger"
	"github.com/bryanchriswhite/SilentShot/internal/notify"
	"github.com/bryanchriswhite/SilentShot/internal/storage"
	"github.com/bryanchriswhite/SilentShot/internal/window"
	"github.com/rs/zerolog"
)

// Destination supplies the folder and output mode for each capture.
// config.Manager implements it.
type Destination interface {
	Destination() string
	OutputMode() config.OutputMode
}

// Enqueuer accepts raw files for conversion.
type Enqueuer interface {
	Enqueue(path string) error
}

// Deps are the collaborators of a Scheduler. Tracker, Queue and Hub are optional.
type Deps struct {
	Keys    input.KeySource
	Frames  capture.FrameSource
	Tracker window.Tracker
	Store   *storage.Store
	Dest    Destination
	Queue   Enqueuer
	Hub     *notify.Hub
}

// Options tune the capture loop.
type Options struct {
	PollInterval    time.Duration
	MaxPendingTicks int
}

// Stats counts capture loop activity.
type Stats struct {
	Presses  int64     `json:"presses"`
	Captures int64     `json:"captures"`
	Retries  int64     `json:"retries"`
	Dropped  int64     `json:"dropped"`
	Skipped  int64     `json:"skipped"`
	Failed   int64     `json:"failed"`
	Pending  bool      `json:"pending"`
	LastPath string    `json:"last_path,omitempty"`
	LastAt   time.Time `json:"last_at,omitempty"`
}

// Scheduler runs the capture loop: poll keys, on a fresh press grab a
// frame, crop it and write it, then hand it to the conversion queue.
// Everything in the loop runs on one goroutine.
type Scheduler struct {
	deps     Deps
	opts     Options
	detector input.Detector
	cropper  capture.Cropper
	log      *zerolog.Logger

	// sleep waits d or until ctx is done; replaced in tests.
	sleep func(ctx context.Context, d time.Duration)

	pending         bool
	pendingModifier bool
	pendingTicks    int

	presses  atomic.Int64
	captures atomic.Int64
	retries  atomic.Int64
	dropped  atomic.Int64
	skipped  atomic.Int64
	failed   atomic.Int64
	isPend   atomic.Bool

	mu       sync.Mutex
	lastPath string
	lastAt   time.Time
}

// New creates a scheduler. Zero options take the config defaults.
func New(deps Deps, opts Options) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = config.DefaultPollInterval
	}
	if opts.MaxPendingTicks <= 0 {
		opts.MaxPendingTicks = config.Defaults().Capture.MaxPendingTicks
	}
	if deps.Tracker == nil {
		deps.Tracker = window.Nop{}
	}
	return &Scheduler{
		deps:  deps,
		opts:  opts,
		log:   logger.WithComponent("scheduler"),
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Run ticks until ctx is done (nil), the key source closes (nil) or the
// frame source fails (the error).
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	w, h := s.deps.Frames.Size()
	s.log.Info().
		Str("source", s.deps.Frames.Name()).
		Int("width", w).
		Int("height", h).
		Str("tracker", s.deps.Tracker.Name()).
		Dur("interval", s.opts.PollInterval).
		Msg("Capture loop started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Capture loop stopped")
			return nil
		case <-ticker.C:
		}

		if err := s.Tick(ctx); err != nil {
			if errors.Is(err, input.ErrClosed) {
				s.log.Info().Msg("Key source closed, capture loop stopped")
				return nil
			}
			return err
		}
	}
}

// Tick runs one iteration of the loop.
func (s *Scheduler) Tick(ctx context.Context) error {
	state, err := s.deps.Keys.Poll()
	if err != nil {
		if errors.Is(err, input.ErrClosed) {
			return err
		}
		s.log.Debug().Err(err).Msg("Key poll failed")
		return nil
	}

	if s.detector.Step(state) == input.EdgeFire {
		s.presses.Add(1)
		s.pending = true
		s.pendingModifier = state.Modifier
		s.pendingTicks = 0
		s.isPend.Store(true)
		s.log.Debug().Bool("modifier", state.Modifier).Msg("Capture requested")
	}

	if !s.pending {
		return nil
	}

	frame, err := s.deps.Frames.Next()
	if errors.Is(err, capture.ErrNotReady) {
		s.retries.Add(1)
		s.sleep(ctx, s.opts.PollInterval)
		frame, err = s.deps.Frames.Next()
	}
	if errors.Is(err, capture.ErrNotReady) {
		s.pendingTicks++
		if s.pendingTicks >= s.opts.MaxPendingTicks {
			s.clearPending()
			s.dropped.Add(1)
			s.log.Warn().Err(err).
				Int("ticks", s.pendingTicks).
				Msg("Frame source not ready, capture dropped")
		}
		return nil
	}
	if err != nil {
		s.clearPending()
		if !errors.Is(err, capture.ErrFatal) {
			err = fmt.Errorf("%w: %v", capture.ErrFatal, err)
		}
		s.log.Error().Err(err).Msg("Frame source failed")
		return err
	}

	modifier := s.pendingModifier
	s.clearPending()
	s.capture(frame, modifier)
	return nil
}

func (s *Scheduler) clearPending() {
	s.pending = false
	s.pendingTicks = 0
	s.isPend.Store(false)
}

// capture crops, writes and dispatches one frame. Nothing here stops the loop.
func (s *Scheduler) capture(frame capture.RawFrame, modifier bool) {
	var (
		buf  []byte
		w, h int
		mode = "full"
	)
	if rect, ok := s.windowRect(modifier); ok {
		buf, w, h = s.cropper.Window(frame, rect)
		mode = "window"
	} else {
		buf, w, h = s.cropper.Full(frame)
	}

	dir := s.deps.Dest.Destination()
	raw, err := s.deps.Store.WriteRaw(dir, buf, w, h)
	if errors.Is(err, storage.ErrDegenerate) {
		s.skipped.Add(1)
		s.log.Info().Str("mode", mode).Msg("Window has no visible area, capture skipped")
		return
	}
	if err != nil {
		s.failed.Add(1)
		s.log.Error().Err(err).Str("dir", dir).Msg("Failed to save capture")
		return
	}

	s.captures.Add(1)
	s.mu.Lock()
	s.lastPath = raw.Path
	s.lastAt = time.Now()
	s.mu.Unlock()

	s.log.Info().
		Str("path", raw.Path).
		Str("mode", mode).
		Int("width", w).
		Int("height", h).
		Msg("Capture saved")

	if s.deps.Hub != nil {
		s.deps.Hub.Publish(notify.Event{
			Kind:   notify.KindRaw,
			Path:   raw.Path,
			Size:   raw.Size,
			Width:  raw.Width,
			Height: raw.Height,
		})
	}

	if s.deps.Queue == nil || !s.deps.Dest.OutputMode().Converts() {
		return
	}
	if err := s.deps.Queue.Enqueue(raw.Path); err != nil {
		s.log.Warn().Err(err).Str("path", raw.Path).Msg("Capture not queued for conversion, left for the next sweep")
	}
}

func (s *Scheduler) windowRect(modifier bool) (capture.Rect, bool) {
	if !modifier {
		return capture.Rect{}, false
	}
	return s.deps.Tracker.ActiveRect()
}

// Stats returns a snapshot of the counters. Safe to call from any goroutine.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	lastPath, lastAt := s.lastPath, s.lastAt
	s.mu.Unlock()

	return Stats{
		Presses:  s.presses.Load(),
		Captures: s.captures.Load(),
		Retries:  s.retries.Load(),
		Dropped:  s.dropped.Load(),
		Skipped:  s.skipped.Load(),
		Failed:   s.failed.Load(),
		Pending:  s.isPend.Load(),
		LastPath: lastPath,
		LastAt:   lastAt,
	}
}

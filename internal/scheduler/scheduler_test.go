package scheduler

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bryanchriswhite/SilentShot/internal/capture"
	"github.com/bryanchriswhite/SilentShot/internal/config"
	"github.com/bryanchriswhite/SilentShot/internal/input"
	"github.com/bryanchriswhite/SilentShot/internal/logger"
	"github.com/bryanchriswhite/SilentShot/internal/notify"
	"github.com/bryanchriswhite/SilentShot/internal/storage"
	"github.com/bryanchriswhite/SilentShot/internal/window"
	"github.com/spf13/afero"
)

type fakeKeys struct {
	states []input.KeyState
	i      int
}

func (k *fakeKeys) Poll() (input.KeyState, error) {
	if k.i >= len(k.states) {
		return input.KeyState{}, input.ErrClosed
	}
	st := k.states[k.i]
	k.i++
	return st, nil
}

func (k *fakeKeys) Close() error { return nil }

func press(modifier bool) input.KeyState { return input.KeyState{Trigger: true, Modifier: modifier} }

var released = input.KeyState{}

// fakeFrames returns errs in order (nil = a frame), then frames forever.
type fakeFrames struct {
	w, h  int
	errs  []error
	calls int
}

func (f *fakeFrames) Next() (capture.RawFrame, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return capture.RawFrame{}, err
		}
	}
	return capture.RawFrame{
		Pix:    make([]byte, (4*f.w+8)*f.h),
		Stride: 4*f.w + 8,
		Width:  f.w,
		Height: f.h,
	}, nil
}

func (f *fakeFrames) Size() (int, int) { return f.w, f.h }
func (f *fakeFrames) Name() string     { return "fake" }
func (f *fakeFrames) Close() error     { return nil }

type fakeTracker struct {
	rect capture.Rect
	ok   bool
}

func (t fakeTracker) ActiveRect() (capture.Rect, bool)    { return t.rect, t.ok }
func (t fakeTracker) ActiveWindow() (*window.Info, error) { return &window.Info{Rect: t.rect}, nil }
func (t fakeTracker) Close() error                        { return nil }
func (t fakeTracker) Name() string                        { return "fake" }

type fakeDest struct {
	dir  string
	mode config.OutputMode
}

func (d *fakeDest) Destination() string           { return d.dir }
func (d *fakeDest) OutputMode() config.OutputMode { return d.mode }

type fakeQueue struct {
	paths []string
	err   error
}

func (q *fakeQueue) Enqueue(path string) error {
	if q.err != nil {
		return q.err
	}
	q.paths = append(q.paths, path)
	return nil
}

type harness struct {
	s      *Scheduler
	fs     afero.Fs
	frames *fakeFrames
	dest   *fakeDest
	queue  *fakeQueue
	hub    *notify.Hub
	sleeps int
}

func newHarness(t *testing.T, states []input.KeyState, tracker fakeTracker) *harness {
	t.Helper()
	logger.SetOutput(&bytes.Buffer{})

	h := &harness{
		fs:     afero.NewMemMapFs(),
		frames: &fakeFrames{w: 320, h: 200},
		dest:   &fakeDest{dir: "/shots", mode: config.OutputPNG},
		queue:  &fakeQueue{},
		hub:    notify.NewHub(16),
	}
	h.s = New(Deps{
		Keys:    &fakeKeys{states: states},
		Frames:  h.frames,
		Tracker: tracker,
		Store:   storage.NewStore(h.fs, nil),
		Dest:    h.dest,
		Queue:   h.queue,
		Hub:     h.hub,
	}, Options{PollInterval: time.Millisecond, MaxPendingTicks: 3})
	h.s.sleep = func(context.Context, time.Duration) { h.sleeps++ }
	return h
}

// tick runs n ticks, failing the test on any error.
func (h *harness) tick(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := h.s.Tick(context.Background()); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
}

func (h *harness) files(t *testing.T, ext string) []string {
	t.Helper()
	entries, _ := afero.ReadDir(h.fs, "/shots")
	var out []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ext) {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestOneCapturePerPress(t *testing.T) {
	states := []input.KeyState{released, press(false), press(false), press(false), released, press(false), released}
	h := newHarness(t, states, fakeTracker{})
	h.tick(t, len(states))

	if got := h.files(t, ".bmp"); len(got) != 2 {
		t.Fatalf("files = %v, want 2 captures", got)
	}
	st := h.s.Stats()
	if st.Presses != 2 || st.Captures != 2 {
		t.Errorf("stats = %+v", st)
	}
	if len(h.queue.paths) != 2 {
		t.Errorf("queued %v", h.queue.paths)
	}
	if st.LastPath != h.queue.paths[1] {
		t.Errorf("last path = %q, want %q", st.LastPath, h.queue.paths[1])
	}
	if len(h.hub.Recent()) != 2 || h.hub.Recent()[0].Kind != notify.KindRaw {
		t.Errorf("hub recent = %+v", h.hub.Recent())
	}
}

func TestNotReadyRetriedSameTick(t *testing.T) {
	h := newHarness(t, []input.KeyState{press(false)}, fakeTracker{})
	h.frames.errs = []error{capture.ErrNotReady}
	h.tick(t, 1)

	if h.frames.calls != 2 || h.sleeps != 1 {
		t.Errorf("calls=%d sleeps=%d, want one retry after one sleep", h.frames.calls, h.sleeps)
	}
	if len(h.files(t, ".bmp")) != 1 {
		t.Error("retry did not capture")
	}
}

func TestNotReadyStaysPending(t *testing.T) {
	states := []input.KeyState{press(true), press(true), released}
	h := newHarness(t, states, fakeTracker{})
	h.frames.errs = []error{capture.ErrNotReady, capture.ErrNotReady, capture.ErrNotReady}

	h.tick(t, 1)
	if !h.s.Stats().Pending || len(h.files(t, ".bmp")) != 0 {
		t.Fatal("capture should still be pending")
	}
	// Second tick: the key is held (no new fire) but the press is still served.
	h.tick(t, 1)
	if got := h.files(t, ".bmp"); len(got) != 1 {
		t.Fatalf("files = %v, want the pending capture", got)
	}
	h.tick(t, 1)
	if st := h.s.Stats(); st.Presses != 1 || st.Captures != 1 || st.Pending {
		t.Errorf("stats = %+v", st)
	}
}

func TestPendingDroppedAfterMaxTicks(t *testing.T) {
	states := []input.KeyState{press(false), released, released, released, released}
	h := newHarness(t, states, fakeTracker{})
	for i := 0; i < 8; i++ {
		h.frames.errs = append(h.frames.errs, capture.ErrNotReady)
	}
	h.tick(t, 4)

	st := h.s.Stats()
	if st.Dropped != 1 || st.Pending || st.Captures != 0 {
		t.Errorf("stats = %+v, want one dropped press", st)
	}
	calls := h.frames.calls
	h.tick(t, 1)
	if h.frames.calls != calls {
		t.Error("frame source polled after the press was dropped")
	}
}

func TestFatalStopsLoop(t *testing.T) {
	h := newHarness(t, []input.KeyState{press(false)}, fakeTracker{})
	h.frames.errs = []error{capture.ErrResolutionChanged}

	err := h.s.Tick(context.Background())
	if !errors.Is(err, capture.ErrFatal) {
		t.Fatalf("err = %v, want ErrFatal", err)
	}
}

func TestUnclassifiedErrorIsFatal(t *testing.T) {
	h := newHarness(t, []input.KeyState{press(false)}, fakeTracker{})
	h.frames.errs = []error{errors.New("boom")}
	if err := h.s.Tick(context.Background()); !errors.Is(err, capture.ErrFatal) {
		t.Errorf("err = %v, want ErrFatal", err)
	}
}

func TestWindowedCropNeedsModifierAndRect(t *testing.T) {
	win := fakeTracker{rect: capture.Rect{Left: 50, Top: 20, Right: 150, Bottom: 120}, ok: true}
	tests := []struct {
		name     string
		modifier bool
		tracker  fakeTracker
		w, h     int
	}{
		{"modifier and window", true, win, 86, 93},
		{"no modifier", false, win, 320, 200},
		{"modifier without window", true, fakeTracker{}, 320, 200},
	}
	for _, tt := range tests {
		h := newHarness(t, []input.KeyState{press(tt.modifier)}, tt.tracker)
		h.tick(t, 1)
		recent := h.hub.Recent()
		if len(recent) != 1 {
			t.Fatalf("%s: %d events", tt.name, len(recent))
		}
		if recent[0].Width != tt.w || recent[0].Height != tt.h {
			t.Errorf("%s: capture %dx%d, want %dx%d", tt.name, recent[0].Width, recent[0].Height, tt.w, tt.h)
		}
	}
}

func TestDegenerateWindowSkipped(t *testing.T) {
	offscreen := fakeTracker{rect: capture.Rect{Left: 5000, Top: 5000, Right: 5100, Bottom: 5100}, ok: true}
	h := newHarness(t, []input.KeyState{press(true)}, offscreen)
	h.tick(t, 1)

	if got := h.files(t, ".bmp"); len(got) != 0 {
		t.Errorf("files = %v, want none", got)
	}
	if st := h.s.Stats(); st.Skipped != 1 || st.Captures != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestRawModeDoesNotEnqueue(t *testing.T) {
	h := newHarness(t, []input.KeyState{press(false)}, fakeTracker{})
	h.dest.mode = config.OutputRaw
	h.tick(t, 1)
	if len(h.queue.paths) != 0 {
		t.Errorf("queued %v in raw mode", h.queue.paths)
	}
	if len(h.files(t, ".bmp")) != 1 {
		t.Error("raw capture missing")
	}
}

func TestDestinationReadPerCapture(t *testing.T) {
	states := []input.KeyState{press(false), released, press(false)}
	h := newHarness(t, states, fakeTracker{})
	h.tick(t, 2)
	h.dest.dir = "/elsewhere"
	h.tick(t, 1)

	if len(h.files(t, ".bmp")) != 1 {
		t.Error("first capture not in /shots")
	}
	entries, _ := afero.ReadDir(h.fs, "/elsewhere")
	if len(entries) != 1 {
		t.Errorf("second capture not in new destination: %d files", len(entries))
	}
}

func TestQueueFullKeepsRunning(t *testing.T) {
	states := []input.KeyState{press(false), released, press(false)}
	h := newHarness(t, states, fakeTracker{})
	h.queue.err = errors.New("conversion queue full")
	h.tick(t, 3)
	if st := h.s.Stats(); st.Captures != 2 {
		t.Errorf("captures = %d, want 2", st.Captures)
	}
}

func TestRunStopsWhenKeysClose(t *testing.T) {
	h := newHarness(t, []input.KeyState{released, press(false), released}, fakeTracker{})

	done := make(chan error, 1)
	go func() { done <- h.s.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the key source closed")
	}
	if h.s.Stats().Captures != 1 {
		t.Errorf("captures = %d", h.s.Stats().Captures)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	states := make([]input.KeyState, 100000)
	h := newHarness(t, states, fakeTracker{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run ignored cancellation")
	}
}

func TestRunReturnsFatal(t *testing.T) {
	h := newHarness(t, []input.KeyState{press(false), released}, fakeTracker{})
	h.frames.errs = []error{capture.ErrResolutionChanged}

	done := make(chan error, 1)
	go func() { done <- h.s.Run(context.Background()) }()
	select {
	case err := <-done:
		if !errors.Is(err, capture.ErrResolutionChanged) {
			t.Errorf("Run = %v, want ErrResolutionChanged", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on a fatal frame error")
	}
}

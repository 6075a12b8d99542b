package input

import (
	"runtime"
	"sync"

	"github.com/bryanchriswhite/SilentShot/internal/logger"
	hook "github.com/robotn/gohook"
)

// Windows virtual-key codes for the supported names. Elsewhere the hook
// reports X keysyms as raw codes.
var windowsRawcodes = map[uint32][]uint16{
	0xff61: {0x2c},             // Print
	0xff13: {0x13},             // Pause
	0xff14: {0x91},             // Scroll_Lock
	0xffe9: {0x12, 0xa4, 0xa5}, // Alt
	0xffe3: {0x11, 0xa2, 0xa3}, // Control
	0xffe1: {0x10, 0xa0, 0xa1}, // Shift
	0xffeb: {0x5b, 0x5c},       // Super
}

func hookRawcodes(goos string, syms []uint32) []uint16 {
	var codes []uint16
	for _, sym := range syms {
		if goos != "windows" {
			codes = append(codes, uint16(sym))
			continue
		}
		if sym >= 0xffbe && sym <= 0xffc9 {
			codes = append(codes, uint16(0x70+sym-0xffbe)) // F1..F12
			continue
		}
		codes = append(codes, windowsRawcodes[sym]...)
	}
	return codes
}

type hookKey struct {
	codes   []uint16
	held    bool
	latched bool
}

func (k *hookKey) matches(raw uint16) bool {
	for _, c := range k.codes {
		if c == raw {
			return true
		}
	}
	return false
}

// sample reports whether the key was down at any point since the last sample.
func (k *hookKey) sample() bool {
	down := k.held || k.latched
	k.latched = false
	return down
}

// HookKeySource tracks key state from the global input hook event stream.
type HookKeySource struct {
	trigger  hookKey
	modifier hookKey
	stop     func()
	closed   bool
	done     chan struct{}
	mu       sync.Mutex
}

// NewHookKeySource starts the global hook and tracks the named keys.
func NewHookKeySource(triggerKey, modifierKey string) (*HookKeySource, error) {
	triggerSym, err := TriggerKeysym(triggerKey)
	if err != nil {
		return nil, err
	}
	modSyms, err := ModifierKeysyms(modifierKey)
	if err != nil {
		return nil, err
	}

	events := hook.Start()
	s := newHookKeySource(events, hook.End,
		hookRawcodes(runtime.GOOS, []uint32{triggerSym}),
		hookRawcodes(runtime.GOOS, modSyms))

	logger.WithComponent("hook-keys").Info().
		Str("trigger", triggerKey).
		Str("modifier", modifierKey).
		Msg("Global input hook started")
	return s, nil
}

func newHookKeySource(events <-chan hook.Event, stop func(), trigger, modifier []uint16) *HookKeySource {
	s := &HookKeySource{
		trigger:  hookKey{codes: trigger},
		modifier: hookKey{codes: modifier},
		stop:     stop,
		done:     make(chan struct{}),
	}
	go s.consume(events)
	return s
}

func (s *HookKeySource) consume(events <-chan hook.Event) {
	defer close(s.done)
	for ev := range events {
		s.handle(ev)
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *HookKeySource) handle(ev hook.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range []*hookKey{&s.trigger, &s.modifier} {
		if !k.matches(ev.Rawcode) {
			continue
		}
		switch ev.Kind {
		case hook.KeyDown, hook.KeyHold:
			k.held = true
			k.latched = true
		case hook.KeyUp:
			k.held = false
		}
	}
}

// Poll returns the keys seen down since the previous poll.
func (s *HookKeySource) Poll() (KeyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return KeyState{}, ErrClosed
	}
	return KeyState{
		Trigger:  s.trigger.sample(),
		Modifier: s.modifier.sample(),
	}, nil
}

// Close stops the hook.
func (s *HookKeySource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.stop != nil {
		s.stop()
	}
	return nil
}

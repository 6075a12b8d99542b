package input

import (
	"errors"
	"fmt"
	"strings"
)

// ErrClosed is returned by Poll once a key source has been closed.
var ErrClosed = errors.New("key source closed")

// KeyState is one sample of the hotkey pair.
type KeyState struct {
	Trigger  bool
	Modifier bool
}

// Edge classifies the trigger key between two consecutive samples.
type Edge int

const (
	EdgeUp   Edge = iota // trigger released
	EdgeFire             // first sample of a press
	EdgeDown             // trigger still held
)

func (e Edge) String() string {
	switch e {
	case EdgeUp:
		return "up"
	case EdgeFire:
		return "fire"
	case EdgeDown:
		return "down"
	default:
		return fmt.Sprintf("edge(%d)", int(e))
	}
}

// Update derives the edge from the previous and current samples.
// Fire is reported only for the sample where the trigger goes down, so a
// held key produces exactly one Fire however long it stays pressed.
func Update(prev, cur KeyState) Edge {
	switch {
	case !cur.Trigger:
		return EdgeUp
	case !prev.Trigger:
		return EdgeFire
	default:
		return EdgeDown
	}
}

// Detector remembers the previous sample so callers can feed one sample per tick.
type Detector struct {
	prev KeyState
}

// Step classifies cur against the last sample and stores it.
func (d *Detector) Step(cur KeyState) Edge {
	e := Update(d.prev, cur)
	d.prev = cur
	return e
}

// Reset forgets the previous sample.
func (d *Detector) Reset() {
	d.prev = KeyState{}
}

// KeySource samples the physical state of the configured keys.
type KeySource interface {
	// Poll returns the current key state. It returns ErrClosed once the
	// source is closed.
	Poll() (KeyState, error)
	Close() error
}

// Keysyms for the supported key names. Values are the X11 keysyms.
var triggerKeysyms = map[string]uint32{
	"print":       0xff61,
	"pause":       0xff13,
	"scroll_lock": 0xff14,
}

// modifierKeysyms maps a modifier name to its left and right keysyms.
var modifierKeysyms = map[string][]uint32{
	"alt":     {0xffe9, 0xffea},
	"control": {0xffe3, 0xffe4},
	"ctrl":    {0xffe3, 0xffe4},
	"shift":   {0xffe1, 0xffe2},
	"super":   {0xffeb, 0xffec},
}

func init() {
	for i := 1; i <= 12; i++ {
		triggerKeysyms[fmt.Sprintf("f%d", i)] = 0xffbe + uint32(i-1)
	}
}

func normalizeKeyName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, " ", "_")
	switch n {
	case "prtsc", "printscreen", "print_screen", "sysrq":
		return "print"
	case "scrolllock":
		return "scroll_lock"
	}
	return n
}

// TriggerKeysym resolves a trigger key name such as "Print" or "F9".
func TriggerKeysym(name string) (uint32, error) {
	if sym, ok := triggerKeysyms[normalizeKeyName(name)]; ok {
		return sym, nil
	}
	return 0, fmt.Errorf("unsupported trigger key %q", name)
}

// ModifierKeysyms resolves a modifier name such as "Alt" to its keysyms.
func ModifierKeysyms(name string) ([]uint32, error) {
	if syms, ok := modifierKeysyms[normalizeKeyName(name)]; ok {
		return syms, nil
	}
	return nil, fmt.Errorf("unsupported modifier key %q", name)
}

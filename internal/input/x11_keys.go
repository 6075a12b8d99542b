package input

import (
	"fmt"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/SilentShot/internal/logger"
)

// X11KeySource polls the X server keymap for the trigger and modifier keys.
type X11KeySource struct {
	conn      *xgb.Conn
	trigger   []xproto.Keycode
	modifiers []xproto.Keycode
	closed    bool
	mu        sync.Mutex
}

// NewX11KeySource connects to the X server and resolves the key names to keycodes.
func NewX11KeySource(triggerKey, modifierKey string) (*X11KeySource, error) {
	triggerSym, err := TriggerKeysym(triggerKey)
	if err != nil {
		return nil, err
	}
	modSyms, err := ModifierKeysyms(modifierKey)
	if err != nil {
		return nil, err
	}

	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	codes, err := keycodeTable(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	s := &X11KeySource{
		conn:      conn,
		trigger:   codes[xproto.Keysym(triggerSym)],
		modifiers: nil,
	}
	for _, sym := range modSyms {
		s.modifiers = append(s.modifiers, codes[xproto.Keysym(sym)]...)
	}

	if len(s.trigger) == 0 {
		conn.Close()
		return nil, fmt.Errorf("no keycode mapped to trigger key %q", triggerKey)
	}

	logger.WithComponent("x11-keys").Info().
		Str("trigger", triggerKey).
		Str("modifier", modifierKey).
		Int("trigger_keycodes", len(s.trigger)).
		Int("modifier_keycodes", len(s.modifiers)).
		Msg("Keyboard polling initialized")

	return s, nil
}

// keycodeTable maps every keysym in the current keyboard mapping to the
// keycodes producing it.
func keycodeTable(conn *xgb.Conn) (map[xproto.Keysym][]xproto.Keycode, error) {
	setup := xproto.Setup(conn)
	first := setup.MinKeycode
	count := byte(setup.MaxKeycode - setup.MinKeycode + 1)

	reply, err := xproto.GetKeyboardMapping(conn, first, count).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get keyboard mapping: %w", err)
	}

	per := int(reply.KeysymsPerKeycode)
	table := make(map[xproto.Keysym][]xproto.Keycode)
	for i := 0; i < int(count); i++ {
		kc := xproto.Keycode(int(first) + i)
		for j := 0; j < per; j++ {
			idx := i*per + j
			if idx >= len(reply.Keysyms) {
				break
			}
			sym := reply.Keysyms[idx]
			if sym == 0 {
				continue
			}
			table[sym] = appendUnique(table[sym], kc)
		}
	}
	return table, nil
}

func appendUnique(codes []xproto.Keycode, kc xproto.Keycode) []xproto.Keycode {
	for _, c := range codes {
		if c == kc {
			return codes
		}
	}
	return append(codes, kc)
}

// keyDown tests a keycode against a 32-byte QueryKeymap bit vector.
func keyDown(keys []byte, kc xproto.Keycode) bool {
	i := int(kc) / 8
	if i >= len(keys) {
		return false
	}
	return keys[i]&(1<<(uint(kc)%8)) != 0
}

func anyDown(keys []byte, codes []xproto.Keycode) bool {
	for _, kc := range codes {
		if keyDown(keys, kc) {
			return true
		}
	}
	return false
}

// Poll samples the keymap.
func (s *X11KeySource) Poll() (KeyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return KeyState{}, ErrClosed
	}

	reply, err := xproto.QueryKeymap(s.conn).Reply()
	if err != nil {
		return KeyState{}, fmt.Errorf("failed to query keymap: %w", err)
	}

	return KeyState{
		Trigger:  anyDown(reply.Keys, s.trigger),
		Modifier: anyDown(reply.Keys, s.modifiers),
	}, nil
}

// Close releases the X connection.
func (s *X11KeySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.conn.Close()
	}
	return nil
}

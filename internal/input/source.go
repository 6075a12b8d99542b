package input

import "fmt"

// Open creates the key source for the configured backend ("x11" or "hook").
func Open(backend, triggerKey, modifierKey string) (KeySource, error) {
	switch backend {
	case "x11", "":
		return NewX11KeySource(triggerKey, modifierKey)
	case "hook":
		return NewHookKeySource(triggerKey, modifierKey)
	default:
		return nil, fmt.Errorf("unknown input backend %q (use x11 or hook)", backend)
	}
}

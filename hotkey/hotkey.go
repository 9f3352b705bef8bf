// Package hotkey exposes the global key combinations that drive the
// assistant while other applications hold focus.
package hotkey

// Trigger identifies which assistant action a hotkey fires.
type Trigger int

const (
	// TriggerAnswer sends the latest transcript to the model (Ctrl+Shift+Space).
	TriggerAnswer Trigger = iota
	// TriggerCapture screenshots the screen for OCR (Ctrl+Shift+S).
	TriggerCapture
)

type Hotkey interface {
	Register() error
	Unregister()
	Keydown() <-chan struct{}
	Keyup() <-chan struct{}
}

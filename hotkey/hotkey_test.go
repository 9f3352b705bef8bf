package hotkey

import "testing"

func TestFakeHotkey(t *testing.T) {
	f := NewFake()
	if err := f.Register(); err != nil {
		t.Fatalf("register: %v", err)
	}
	defer f.Unregister()

	f.SimKeydown()
	select {
	case <-f.Keydown():
	default:
		t.Error("keydown not delivered")
	}

	f.SimKeyup()
	select {
	case <-f.Keyup():
	default:
		t.Error("keyup not delivered")
	}
}

package ocr

import (
	"errors"
	"fmt"
	"image/png"
	"os"
	"time"

	"github.com/kbinani/screenshot"
)

// CaptureScreen grabs the primary display into a temporary PNG and
// returns its path. The caller's hide/show hooks bracket the grab so the
// assistant's own overlay never appears in the screenshot; show runs
// even when the capture fails.
func CaptureScreen(hide, show func()) (string, error) {
	if screenshot.NumActiveDisplays() == 0 {
		return "", errors.New("ocr: no active displays")
	}

	if hide != nil {
		hide()
	}
	if show != nil {
		defer show()
	}
	// Let the compositor finish hiding the overlay before the grab.
	time.Sleep(250 * time.Millisecond)

	img, err := screenshot.CaptureDisplay(0)
	if err != nil {
		return "", fmt.Errorf("ocr: capture display: %w", err)
	}

	f, err := os.CreateTemp("", "prompter-screen-*.png")
	if err != nil {
		return "", fmt.Errorf("ocr: create temp file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("ocr: encode screenshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("ocr: close temp file: %w", err)
	}
	return f.Name(), nil
}

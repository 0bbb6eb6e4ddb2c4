package clipboard

import (
	"errors"
	"fmt"

	cb "github.com/atotto/clipboard"
)

// ErrUnavailable is returned when no clipboard utility exists on the host
// (for example xclip, xsel or wl-copy on Linux).
var ErrUnavailable = errors.New("clipboard unavailable")

func Available() bool { return !cb.Unsupported }

func Read() (string, error) {
	if !Available() {
		return "", ErrUnavailable
	}
	s, err := cb.ReadAll()
	if err != nil {
		return "", fmt.Errorf("reading clipboard: %w", err)
	}
	return s, nil
}

func Copy(text string) error {
	if !Available() {
		return ErrUnavailable
	}
	if err := cb.WriteAll(text); err != nil {
		return fmt.Errorf("writing clipboard: %w", err)
	}
	return nil
}

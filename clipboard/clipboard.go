// Package clipboard copies reply text to the system clipboard.
package clipboard

import (
	"errors"
	"strings"

	cb "github.com/atotto/clipboard"
)

var (
	ErrEmpty       = errors.New("nothing to copy")
	ErrUnavailable = errors.New("no clipboard utility found (install xclip or wl-clipboard)")
)

// Copy places text on the clipboard. Blank text is refused so a copy
// never wipes what the user already had.
func Copy(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmpty
	}
	if !Available() {
		return ErrUnavailable
	}
	return cb.WriteAll(text)
}

// Available reports whether a clipboard backend was found, e.g. xclip or
// wl-copy on Linux.
func Available() bool {
	return !cb.Unsupported
}

// Package clipboard provides chat.Clipboard writers for the terminal client.
package clipboard

import (
	"errors"
	"io"

	"github.com/atotto/clipboard"
	"github.com/aymanbagabas/go-osc52/v2"
)

var ErrUnsupported = errors.New("no system clipboard")

// System writes to the OS clipboard (pbcopy, xclip, wl-copy, ...).
type System struct{}

// Available reports whether a clipboard utility was found.
func Available() bool {
	return !clipboard.Unsupported
}

func (System) WriteText(text string) error {
	if clipboard.Unsupported {
		return ErrUnsupported
	}
	return clipboard.WriteAll(text)
}

// OSC52 asks the terminal to set its clipboard with an escape sequence.
// It works over SSH where no system clipboard is reachable.
type OSC52 struct {
	W io.Writer
}

func (o OSC52) WriteText(text string) error {
	_, err := osc52.New(text).WriteTo(o.W)
	return err
}

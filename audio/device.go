package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

var ErrSelectionCancelled = errors.New("device selection cancelled")

// picker is the state of the interactive microphone list.
type picker struct {
	devices []DeviceInfo
	cursor  int
}

func newPicker(devices []DeviceInfo, current string) *picker {
	p := &picker{devices: devices}
	for i, d := range devices {
		if d.Name == current {
			p.cursor = i
		}
	}
	return p
}

// key applies one read from the raw terminal. It reports whether the
// selection is finished and whether it was cancelled.
func (p *picker) key(b []byte) (done, cancelled bool) {
	switch {
	case len(b) == 1 && (b[0] == '\r' || b[0] == '\n'):
		return true, false
	case len(b) == 1 && (b[0] == 3 || b[0] == 'q' || b[0] == 0x1b):
		return true, true
	case len(b) == 1 && b[0] == 'j', len(b) == 3 && b[0] == 0x1b && b[1] == '[' && b[2] == 'B':
		p.cursor = min(p.cursor+1, len(p.devices)-1)
	case len(b) == 1 && b[0] == 'k', len(b) == 3 && b[0] == 0x1b && b[1] == '[' && b[2] == 'A':
		p.cursor = max(p.cursor-1, 0)
	}
	return false, false
}

// lines is the height of one render, used to move the cursor back up.
func (p *picker) lines() int { return len(p.devices) + 2 }

func (p *picker) render(w io.Writer) {
	fmt.Fprint(w, "\r\x1b[J")
	fmt.Fprint(w, "Record memos from (↑/↓, Enter to confirm, q to cancel):\r\n\r\n")
	for i, d := range p.devices {
		note := ""
		if IsBluetooth(d.Name) {
			note = " \x1b[33m[⚠ Lower audio quality]\x1b[0m"
		}
		if i == p.cursor {
			fmt.Fprintf(w, "  \x1b[1;36m▶ %s%s\x1b[0m\r\n", d.Name, note)
		} else {
			fmt.Fprintf(w, "    %s%s\r\n", d.Name, note)
		}
	}
}

// SelectDevice lets the user pick a microphone on the terminal, starting at
// the one named current. A single device is returned without prompting.
func SelectDevice(ctx Context, current string, in *os.File, out io.Writer) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	switch len(devices) {
	case 0:
		return nil, fmt.Errorf("no capture devices found")
	case 1:
		return &devices[0], nil
	}

	fd := int(in.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	p := newPicker(devices, current)
	p.render(out)
	buf := make([]byte, 3)
	for {
		n, err := in.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		done, cancelled := p.key(buf[:n])
		if done {
			fmt.Fprint(out, "\r\n")
			if cancelled {
				return nil, ErrSelectionCancelled
			}
			return &p.devices[p.cursor], nil
		}
		fmt.Fprintf(out, "\x1b[%dA", p.lines())
		p.render(out)
	}
}

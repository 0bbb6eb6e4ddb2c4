// Package visualizer draws a live spectrum of the microphone while a
// recording is in progress.
package visualizer

import (
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Source is anything that fans captured PCM out to listeners.
type Source interface {
	Attach(fn func([]byte)) (detach func())
}

type Visualizer struct {
	analyser *Analyser
	bins     []byte
	detach   func()
	once     sync.Once
}

// Attach starts feeding src's audio into a new analyser. The listener is
// released by Close.
func Attach(src Source) *Visualizer {
	v := &Visualizer{analyser: NewAnalyser(), bins: make([]byte, BinCount)}
	v.detach = src.Attach(v.analyser.Write)
	return v
}

// Frequencies samples the analyser. The returned slice is reused by the next
// call.
func (v *Visualizer) Frequencies() []byte {
	v.analyser.ByteFrequencyData(v.bins)
	return v.bins
}

func (v *Visualizer) Close() {
	v.once.Do(func() {
		if v.detach != nil {
			v.detach()
		}
	})
}

var levels = []rune(" ▁▂▃▄▅▆▇█")

// Render draws one column per bin, low frequencies on the left, using
// eighth-block characters for sub-row resolution.
func Render(bins []byte, width, height int, color lipgloss.Color) string {
	if width <= 0 || height <= 0 {
		return ""
	}
	cols := min(width, len(bins))
	heights := make([]int, cols)
	for i := range heights {
		heights[i] = int(bins[i]) * height * 8 / 255
	}

	style := lipgloss.NewStyle().Foreground(color)
	rows := make([]string, height)
	var sb strings.Builder
	for r := 0; r < height; r++ {
		sb.Reset()
		floor := (height - 1 - r) * 8
		for _, h := range heights {
			fill := min(max(h-floor, 0), 8)
			sb.WriteRune(levels[fill])
		}
		sb.WriteString(strings.Repeat(" ", width-cols))
		rows[r] = style.Render(sb.String())
	}
	return strings.Join(rows, "\n")
}

package visualizer

import (
	"encoding/binary"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	FFTSize       = 256
	BinCount      = FFTSize / 2
	Smoothing     = 0.8
	MinDecibels   = -100.0
	MaxDecibels   = -30.0
	blackmanAlpha = 0.16
)

// Analyser mirrors the byte frequency output of a WebAudio AnalyserNode:
// Blackman-windowed FFT over the most recent FFTSize samples, magnitudes
// smoothed over time and mapped from [MinDecibels, MaxDecibels] to 0..255.
type Analyser struct {
	mu       sync.Mutex
	ring     [FFTSize]float64
	pos      int
	smoothed [BinCount]float64
	window   [FFTSize]float64
	frame    [FFTSize]float64
	coeff    []complex128
	fft      *fourier.FFT
}

func NewAnalyser() *Analyser {
	a := &Analyser{
		fft:   fourier.NewFFT(FFTSize),
		coeff: make([]complex128, FFTSize/2+1),
	}
	a0 := 0.5 * (1 - blackmanAlpha)
	a2 := 0.5 * blackmanAlpha
	for i := range a.window {
		x := float64(i) / FFTSize
		a.window[i] = a0 - 0.5*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return a
}

// Write feeds little-endian 16-bit PCM.
func (a *Analyser) Write(pcm []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := 0; i+1 < len(pcm); i += 2 {
		a.ring[a.pos] = float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) / 32768.0
		a.pos = (a.pos + 1) % FFTSize
	}
}

// ByteFrequencyData fills dst (up to BinCount values) with the current
// spectrum. Each call advances the smoothing state, so call it once per
// rendered frame.
func (a *Analyser) ByteFrequencyData(dst []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.frame {
		a.frame[i] = a.ring[(a.pos+i)%FFTSize] * a.window[i]
	}
	a.coeff = a.fft.Coefficients(a.coeff, a.frame[:])

	scale := 255 / (MaxDecibels - MinDecibels)
	for k := 0; k < BinCount; k++ {
		mag := cmplx.Abs(a.coeff[k]) / FFTSize
		a.smoothed[k] = Smoothing*a.smoothed[k] + (1-Smoothing)*mag
		if k >= len(dst) {
			continue
		}
		db := 20 * math.Log10(a.smoothed[k])
		v := math.Floor(scale * (db - MinDecibels))
		switch {
		case math.IsNaN(v) || v < 0:
			dst[k] = 0
		case v > 255:
			dst[k] = 255
		default:
			dst[k] = byte(v)
		}
	}
}

package beep

import (
	"math"
	"sync/atomic"
)

var disabled atomic.Bool

func Disable() { disabled.Store(true) }

func Enabled() bool { return !disabled.Load() }

const (
	sampleRate = 44100

	// Start beep: high pitch, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	// End beep: medium pitch, slightly longer
	endFreq   = 900
	endVolume = 0.5
	endDecay  = 40

	// Saved: two rising ticks
	savedLow    = 900
	savedHigh   = 1350
	savedVolume = 0.4
	savedDecay  = 50

	// Error beep: low pitch double-beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30
)

type sound int

const (
	soundStart sound = iota
	soundEnd
	soundSaved
	soundError
)

// tail pads each sound so the playback buffer fills before draining.
const tail = 0.2

func generateTick(freq, duration, volume, decay float64) []int16 {
	n := int(sampleRate * duration)
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / sampleRate
		envelope := math.Exp(-t * decay)
		samples[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
	}
	return samples
}

func join(first, second []int16, gapDur float64) []int16 {
	gap := make([]int16, int(sampleRate*gapDur))
	result := make([]int16, 0, len(first)+len(gap)+len(second))
	result = append(result, first...)
	result = append(result, gap...)
	result = append(result, second...)
	return result
}

func generate(s sound) []int16 {
	switch s {
	case soundStart:
		return generateTick(startFreq, tail, startVolume, startDecay)
	case soundEnd:
		return generateTick(endFreq, tail, endVolume, endDecay)
	case soundSaved:
		return join(
			generateTick(savedLow, 0.06, savedVolume, savedDecay),
			generateTick(savedHigh, tail, savedVolume, savedDecay),
			0.03)
	case soundError:
		beep := generateTick(errorFreq, 0.08, errorVolume, errorDecay)
		return join(beep, beep, 0.05)
	}
	return nil
}

func PlayStart() { play(soundStart) }

func PlayEnd() { play(soundEnd) }

func PlaySaved() { play(soundSaved) }

func PlayError() { play(soundError) }

func play(s sound) {
	if disabled.Load() {
		return
	}
	Init()
	playSound(s)
}

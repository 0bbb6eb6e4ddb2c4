package encoder

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
)

func sine(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/SampleRate))
	}
	return out
}

func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestFlacEncoder(t *testing.T) {
	samples := sine(SampleRate)

	enc, err := NewFlac(uint64(len(samples)))
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}

	var totalFed uint64
	for i := 0; i < len(samples); i += BlockSize {
		end := min(i+BlockSize, len(samples))
		block := samples[i:end]
		if err := enc.EncodeBlock(block); err != nil {
			t.Fatalf("EncodeBlock at offset %d: %v", i, err)
		}
		totalFed += uint64(len(block))
	}

	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if enc.TotalFrames() != totalFed {
		t.Errorf("TotalFrames = %d, want %d", enc.TotalFrames(), totalFed)
	}

	flacData := enc.Bytes()
	if len(flacData) < 4 || string(flacData[:4]) != "fLaC" {
		t.Fatal("output does not start with FLAC magic")
	}

	stream, err := flac.New(bytes.NewReader(flacData))
	if err != nil {
		t.Fatalf("flac.New: %v", err)
	}
	if stream.Info.SampleRate != SampleRate || stream.Info.NChannels != Channels {
		t.Errorf("stream info = %d Hz/%d ch", stream.Info.SampleRate, stream.Info.NChannels)
	}
	if stream.Info.NSamples != totalFed {
		t.Errorf("stream info NSamples = %d, want %d", stream.Info.NSamples, totalFed)
	}
}

func TestFlacEncoderDeclaredLength(t *testing.T) {
	enc, err := NewFlac(BlockSize)
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}
	if err := enc.EncodeBlock(sine(BlockSize / 2)); err != nil {
		t.Fatalf("EncodeBlock: %v", err)
	}
	if err := enc.EncodeBlock(sine(BlockSize)); err == nil {
		t.Error("expected error when a block overruns the declared length")
	}
	if err := enc.Close(); err == nil {
		t.Error("expected error when the clip ends short of the declared length")
	}

	enc, err = NewFlac(0)
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}
	if err := enc.EncodeBlock(sine(BlockSize + 1)); err == nil {
		t.Error("expected error for a block larger than BlockSize")
	}
}

func TestFlacEncoderEmpty(t *testing.T) {
	enc, err := NewFlac(0)
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close on empty encoder: %v", err)
	}
	if enc.TotalFrames() != 0 {
		t.Errorf("TotalFrames = %d, want 0", enc.TotalFrames())
	}
	if len(enc.Bytes()) == 0 {
		t.Error("expected non-empty FLAC output (at least header)")
	}
}

func TestFlacEncoderPartialBlock(t *testing.T) {
	enc, err := NewFlac(BlockSize / 4)
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}

	partial := make([]int16, BlockSize/4)
	for i := range partial {
		partial[i] = int16(i % 1000)
	}

	if err := enc.EncodeBlock(partial); err != nil {
		t.Fatalf("EncodeBlock partial: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if enc.TotalFrames() != uint64(len(partial)) {
		t.Errorf("TotalFrames = %d, want %d", enc.TotalFrames(), len(partial))
	}
}

func TestWavEncoderRoundTrip(t *testing.T) {
	samples := sine(BlockSize + 100)

	enc, err := NewWav()
	if err != nil {
		t.Fatalf("NewWav: %v", err)
	}
	if err := enc.EncodeBlock(samples[:BlockSize]); err != nil {
		t.Fatalf("EncodeBlock: %v", err)
	}
	if err := enc.EncodeBlock(samples[BlockSize:]); err != nil {
		t.Fatalf("EncodeBlock: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	dec := wav.NewDecoder(bytes.NewReader(enc.Bytes()))
	if !dec.IsValidFile() {
		t.Fatal("output is not a valid WAV file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("FullPCMBuffer: %v", err)
	}
	if len(buf.Data) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(buf.Data), len(samples))
	}
	for i, s := range samples {
		if buf.Data[i] != int(s) {
			t.Fatalf("sample %d = %d, want %d", i, buf.Data[i], s)
		}
	}
}

func TestWavEncoderEmpty(t *testing.T) {
	enc, err := NewWav()
	if err != nil {
		t.Fatalf("NewWav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	data := enc.Bytes()
	if len(data) < 12 || string(data[:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE header: %q", data)
	}
}

func TestNewUnknownFormat(t *testing.T) {
	if _, err := New("ogg", 0); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestEncodeChunksKeepsOrder(t *testing.T) {
	samples := sine(3 * BlockSize / 2)
	raw := pcmBytes(samples)

	// Split on odd boundaries so samples straddle chunks.
	chunks := [][]byte{raw[:1001], raw[1001:4097], raw[4097:]}

	clip, err := EncodeChunks(FormatWAV, chunks)
	if err != nil {
		t.Fatalf("EncodeChunks: %v", err)
	}
	if clip.MIMEType != "audio/wav" || clip.Ext != "wav" {
		t.Errorf("clip type = %s/%s", clip.MIMEType, clip.Ext)
	}
	if clip.TotalFrames != uint64(len(samples)) {
		t.Errorf("TotalFrames = %d, want %d", clip.TotalFrames, len(samples))
	}

	buf, err := wav.NewDecoder(bytes.NewReader(clip.Data)).FullPCMBuffer()
	if err != nil {
		t.Fatalf("FullPCMBuffer: %v", err)
	}
	for i, s := range samples {
		if buf.Data[i] != int(s) {
			t.Fatalf("sample %d = %d, want %d", i, buf.Data[i], s)
		}
	}
}

func TestEncodeChunksFlac(t *testing.T) {
	clip, err := EncodeChunks(FormatFLAC, [][]byte{pcmBytes(sine(SampleRate / 2))})
	if err != nil {
		t.Fatalf("EncodeChunks: %v", err)
	}
	if clip.MIMEType != "audio/flac" {
		t.Errorf("MIMEType = %s", clip.MIMEType)
	}
	if got := clip.Duration().Milliseconds(); got != 500 {
		t.Errorf("Duration = %dms, want 500", got)
	}
}

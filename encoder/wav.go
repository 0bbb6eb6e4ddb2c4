package encoder

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

type WavEncoder struct {
	buf         seekBuffer
	enc         *wav.Encoder
	format      *audio.Format
	totalFrames uint64
	encodeTime  time.Duration
	mu          sync.Mutex
}

func NewWav() (*WavEncoder, error) {
	e := &WavEncoder{
		format: &audio.Format{NumChannels: Channels, SampleRate: SampleRate},
	}
	// 1 = PCM
	e.enc = wav.NewEncoder(&e.buf, SampleRate, BitsPerSample, Channels, 1)
	return e, nil
}

func (e *WavEncoder) EncodeBlock(block []int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	data := make([]int, len(block))
	for i, s := range block {
		data[i] = int(s)
	}
	err := e.enc.Write(&audio.IntBuffer{
		Format:         e.format,
		Data:           data,
		SourceBitDepth: BitsPerSample,
	})
	if err != nil {
		return err
	}
	e.totalFrames += uint64(len(block))
	return nil
}

// Close writes the final header sizes. An empty recording still produces a
// valid header-only file.
func (e *WavEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.totalFrames == 0 {
		if err := e.enc.Write(&audio.IntBuffer{Format: e.format, SourceBitDepth: BitsPerSample}); err != nil {
			return err
		}
	}
	return e.enc.Close()
}

func (e *WavEncoder) Bytes() []byte { return e.buf.data }

func (e *WavEncoder) TotalFrames() uint64 { return e.totalFrames }

func (e *WavEncoder) AddEncodeTime(d time.Duration) {
	e.mu.Lock()
	e.encodeTime += d
	e.mu.Unlock()
}

func (e *WavEncoder) EncodeTime() time.Duration { return e.encodeTime }

func (e *WavEncoder) MIMEType() string { return "audio/wav" }

func (e *WavEncoder) Ext() string { return FormatWAV }

// seekBuffer is an in-memory io.WriteSeeker; the WAV encoder seeks back to
// patch chunk sizes on Close.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	end := b.pos + len(p)
	if end > len(b.data) {
		b.data = append(b.data, make([]byte, end-len(b.data))...)
	}
	copy(b.data[b.pos:], p)
	b.pos = end
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(b.pos)
	case io.SeekEnd:
		base = int64(len(b.data))
	default:
		return 0, errors.New("seek: invalid whence")
	}
	next := base + offset
	if next < 0 {
		return 0, errors.New("seek: negative position")
	}
	b.pos = int(next)
	return next, nil
}

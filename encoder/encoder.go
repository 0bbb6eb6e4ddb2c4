package encoder

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

const (
	FormatFLAC = "flac"
	FormatWAV  = "wav"
)

type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
	AddEncodeTime(d time.Duration)
	EncodeTime() time.Duration
	MIMEType() string
	Ext() string
}

// New returns an encoder for format. nSamples is the clip length when known,
// zero otherwise.
func New(format string, nSamples uint64) (Encoder, error) {
	switch format {
	case FormatFLAC:
		return NewFlac(nSamples)
	case FormatWAV:
		return NewWav()
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// Clip is one finalized recording.
type Clip struct {
	Data        []byte
	MIMEType    string
	Ext         string
	TotalFrames uint64
	EncodeTime  time.Duration
}

func (c Clip) Duration() time.Duration {
	return time.Duration(float64(c.TotalFrames) / SampleRate * float64(time.Second))
}

// EncodeChunks assembles little-endian 16-bit PCM chunks, in order, into a
// single clip. An odd trailing byte in a chunk is carried into the next one.
func EncodeChunks(format string, chunks [][]byte) (Clip, error) {
	var size int
	for _, c := range chunks {
		size += len(c)
	}
	enc, err := New(format, uint64(size/2))
	if err != nil {
		return Clip{}, err
	}

	start := time.Now()
	var carry []byte
	block := make([]int16, 0, BlockSize)
	flush := func() error {
		if len(block) == 0 {
			return nil
		}
		if err := enc.EncodeBlock(block); err != nil {
			return err
		}
		block = make([]int16, 0, BlockSize)
		return nil
	}
	for _, chunk := range chunks {
		data := chunk
		if len(carry) > 0 {
			data = append(carry, chunk...)
			carry = nil
		}
		for i := 0; i+1 < len(data); i += 2 {
			block = append(block, int16(binary.LittleEndian.Uint16(data[i:])))
			if len(block) == BlockSize {
				if err := flush(); err != nil {
					return Clip{}, err
				}
			}
		}
		if len(data)%2 == 1 {
			carry = []byte{data[len(data)-1]}
		}
	}
	if err := flush(); err != nil {
		return Clip{}, err
	}
	if err := enc.Close(); err != nil {
		return Clip{}, fmt.Errorf("closing %s encoder: %w", format, err)
	}
	enc.AddEncodeTime(time.Since(start))

	return Clip{
		Data:        enc.Bytes(),
		MIMEType:    enc.MIMEType(),
		Ext:         enc.Ext(),
		TotalFrames: enc.TotalFrames(),
		EncodeTime:  enc.EncodeTime(),
	}, nil
}

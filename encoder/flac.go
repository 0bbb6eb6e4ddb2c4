package encoder

import (
	"bytes"
	"fmt"
	"time"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

// FlacEncoder writes one memo clip as a mono FLAC stream. Clips are encoded
// after capture ends, so the sample count is known up front and written
// into STREAMINFO; players can then show the clip length without decoding.
type FlacEncoder struct {
	buf         bytes.Buffer
	enc         *flac.Encoder
	nSamples    uint64
	totalFrames uint64
	encodeTime  time.Duration
	samples     []int32
}

// NewFlac creates an encoder for a clip of nSamples samples. Zero means the
// length is unknown and STREAMINFO leaves it unset.
func NewFlac(nSamples uint64) (*FlacEncoder, error) {
	e := &FlacEncoder{nSamples: nSamples, samples: make([]int32, 0, BlockSize)}
	info := &meta.StreamInfo{
		BlockSizeMin:  BlockSize,
		BlockSizeMax:  BlockSize,
		SampleRate:    SampleRate,
		NChannels:     Channels,
		BitsPerSample: BitsPerSample,
		NSamples:      nSamples,
	}
	enc, err := flac.NewEncoder(&e.buf, info)
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	enc.EnablePredictionAnalysis(true)
	e.enc = enc
	return e, nil
}

// EncodeBlock writes one frame. Only the final block of a clip may be
// shorter than BlockSize.
func (e *FlacEncoder) EncodeBlock(block []int16) error {
	if len(block) == 0 {
		return nil
	}
	if len(block) > BlockSize {
		return fmt.Errorf("flac block of %d samples exceeds %d", len(block), BlockSize)
	}
	if e.nSamples > 0 && e.totalFrames+uint64(len(block)) > e.nSamples {
		return fmt.Errorf("flac clip overruns its declared %d samples", e.nSamples)
	}

	e.samples = e.samples[:0]
	for _, s := range block {
		e.samples = append(e.samples, int32(s))
	}

	f := &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(len(block)),
			SampleRate:    SampleRate,
			Channels:      frame.ChannelsMono,
			BitsPerSample: BitsPerSample,
		},
		Subframes: []*frame.Subframe{{
			SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
			Samples:   e.samples,
			NSamples:  len(block),
		}},
	}
	if err := e.enc.WriteFrame(f); err != nil {
		return fmt.Errorf("writing flac frame %d: %w", e.totalFrames/BlockSize, err)
	}
	e.totalFrames += uint64(len(block))
	return nil
}

// Close finishes the stream. A clip that ends short of its declared length
// is an error because STREAMINFO would misreport it.
func (e *FlacEncoder) Close() error {
	if err := e.enc.Close(); err != nil {
		return fmt.Errorf("closing flac stream: %w", err)
	}
	if e.nSamples > 0 && e.totalFrames != e.nSamples {
		return fmt.Errorf("flac clip has %d samples, declared %d", e.totalFrames, e.nSamples)
	}
	return nil
}

func (e *FlacEncoder) Bytes() []byte       { return e.buf.Bytes() }
func (e *FlacEncoder) TotalFrames() uint64 { return e.totalFrames }

func (e *FlacEncoder) AddEncodeTime(d time.Duration) { e.encodeTime += d }
func (e *FlacEncoder) EncodeTime() time.Duration     { return e.encodeTime }

func (e *FlacEncoder) MIMEType() string { return "audio/flac" }
func (e *FlacEncoder) Ext() string      { return FormatFLAC }

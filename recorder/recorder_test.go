package recorder

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"echomemo/audio"
	"echomemo/encoder"
	"echomemo/transcriber"
)

func tone(seconds float64, amp float64) []byte {
	n := int(seconds * encoder.SampleRate)
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		s := int16(amp * 32767 * math.Sin(2*math.Pi*440*float64(i)/encoder.SampleRate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}

type fixture struct {
	ctx   *audio.FakeContext
	trans *transcriber.Fake
	dir   string
	rec   *Recorder
}

func newFixture(t *testing.T, pcm []byte, format string) *fixture {
	t.Helper()
	f := &fixture{
		ctx: audio.NewFakeContextPCM(pcm, false),
		trans: transcriber.NewFake(transcriber.AudioResult{
			Title:      "Grocery List",
			Transcript: "buy milk and eggs",
			Summary:    "Milk, eggs",
			Tags:       []string{"Shopping"},
		}, nil),
		dir: t.TempDir(),
	}
	ids := 0
	f.rec = New(Config{
		Audio:       f.ctx,
		Transcriber: f.trans,
		Clips:       ClipDir{Dir: f.dir},
		Format:      format,
		Now:         func() time.Time { return time.UnixMilli(1700000000000) },
		NewID: func() string {
			ids++
			return "entry-" + string(rune('0'+ids))
		},
	})
	return f
}

func TestRecordProducesDraft(t *testing.T) {
	f := newFixture(t, tone(0.5, 0.3), encoder.FormatFLAC)
	ctx := context.Background()

	require.NoError(t, f.rec.Start(ctx, ""))
	assert.Equal(t, Capturing, f.rec.State())

	d, err := f.rec.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReadyForReview, f.rec.State())

	assert.Equal(t, "Grocery List", d.Title)
	assert.Equal(t, "buy milk and eggs", d.Transcript)
	assert.Equal(t, []string{"Shopping"}, d.Tags)
	assert.Equal(t, "entry-1", d.EntryID)
	assert.Equal(t, int64(1700000000000), d.CapturedAt)
	assert.Equal(t, "audio/flac", d.MIMEType)
	assert.False(t, d.Failed)
	assert.Equal(t, filepath.Join(f.dir, "entry-1.flac"), d.ClipURL)

	data, err := os.ReadFile(d.ClipURL)
	require.NoError(t, err)
	assert.Equal(t, "fLaC", string(data[:4]))

	clips, mimes := f.trans.Clips()
	require.Len(t, clips, 1)
	assert.Equal(t, data, clips[0])
	assert.Equal(t, "audio/flac", mimes[0])

	caps := f.ctx.Captures()
	require.Len(t, caps, 1)
	assert.True(t, caps[0].Closed(), "microphone still open after stop")

	taken, ok := f.rec.Take()
	require.True(t, ok)
	assert.Equal(t, d, taken)
	assert.Equal(t, Idle, f.rec.State())
	_, ok = f.rec.Take()
	assert.False(t, ok)
}

func TestChunksAssembledInOrder(t *testing.T) {
	pcm := tone(0.7, 0.5)
	f := newFixture(t, pcm, encoder.FormatWAV)

	require.NoError(t, f.rec.Start(context.Background(), ""))
	d, err := f.rec.Stop(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(d.ClipURL)
	require.NoError(t, err)
	buf, err := wav.NewDecoder(bytes.NewReader(data)).FullPCMBuffer()
	require.NoError(t, err)
	require.Len(t, buf.Data, len(pcm)/2)
	for i, s := range buf.Data {
		want := int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		if s != want {
			t.Fatalf("sample %d = %d, want %d", i, s, want)
		}
	}
}

func TestTranscriptionFailureKeepsClip(t *testing.T) {
	f := newFixture(t, tone(0.2, 0.3), encoder.FormatFLAC)
	f.trans.AudioErr = errors.New("service unavailable")

	require.NoError(t, f.rec.Start(context.Background(), "memo-7"))
	d, err := f.rec.Stop(context.Background())
	require.NoError(t, err)

	assert.True(t, d.Failed)
	assert.Equal(t, FallbackTitle, d.Title)
	assert.Equal(t, "", d.Transcript)
	assert.Equal(t, FallbackSummary, d.Summary)
	assert.Equal(t, []string{FallbackTag}, d.Tags)
	assert.Equal(t, "memo-7", d.TargetMemoID)
	assert.FileExists(t, d.ClipURL)
	assert.Equal(t, ReadyForReview, f.rec.State())
}

func TestNoTranscriberFallsBack(t *testing.T) {
	f := newFixture(t, tone(0.2, 0.3), encoder.FormatWAV)
	f.rec.cfg.Transcriber = nil

	require.NoError(t, f.rec.Start(context.Background(), ""))
	d, err := f.rec.Stop(context.Background())
	require.NoError(t, err)
	assert.True(t, d.Failed)
	assert.FileExists(t, d.ClipURL)
}

func TestPermissionDeniedStaysIdle(t *testing.T) {
	f := newFixture(t, tone(0.2, 0.3), encoder.FormatFLAC)
	f.ctx.Deny = true

	err := f.rec.Start(context.Background(), "")
	require.ErrorIs(t, err, audio.ErrPermissionDenied)
	assert.Equal(t, Idle, f.rec.State())

	caps := f.ctx.Captures()
	require.Len(t, caps, 1)
	assert.True(t, caps[0].Closed())

	_, err = f.rec.Stop(context.Background())
	assert.ErrorIs(t, err, ErrNotCapturing)
}

func TestStartWhileCapturingIsNoop(t *testing.T) {
	f := newFixture(t, tone(0.2, 0.3), encoder.FormatFLAC)
	ctx := context.Background()

	require.NoError(t, f.rec.Start(ctx, ""))
	require.NoError(t, f.rec.Start(ctx, "other"))
	assert.Len(t, f.ctx.Captures(), 1)
	assert.Equal(t, "", f.rec.TargetMemoID())
	require.NoError(t, f.rec.Close())
}

func TestStopWhenIdle(t *testing.T) {
	f := newFixture(t, nil, encoder.FormatFLAC)
	_, err := f.rec.Stop(context.Background())
	assert.ErrorIs(t, err, ErrNotCapturing)
}

func TestStartWithDraftPending(t *testing.T) {
	f := newFixture(t, tone(0.2, 0.3), encoder.FormatFLAC)
	ctx := context.Background()

	require.NoError(t, f.rec.Start(ctx, ""))
	_, err := f.rec.Stop(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, f.rec.Start(ctx, ""), ErrDraftPending)
	assert.Len(t, f.ctx.Captures(), 1)
}

func TestStartWhileFinalizing(t *testing.T) {
	f := newFixture(t, tone(0.2, 0.3), encoder.FormatFLAC)
	f.trans.Release = make(chan struct{})
	ctx := context.Background()

	require.NoError(t, f.rec.Start(ctx, ""))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := f.rec.Stop(ctx)
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool {
		clips, _ := f.trans.Clips()
		return len(clips) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, Finalizing, f.rec.State())
	assert.ErrorIs(t, f.rec.Start(ctx, ""), ErrBusy)

	close(f.trans.Release)
	wg.Wait()
	assert.Equal(t, ReadyForReview, f.rec.State())
}

func TestDiscardRemovesClip(t *testing.T) {
	f := newFixture(t, tone(0.2, 0.3), encoder.FormatFLAC)
	ctx := context.Background()

	require.NoError(t, f.rec.Start(ctx, ""))
	d, err := f.rec.Stop(ctx)
	require.NoError(t, err)
	require.FileExists(t, d.ClipURL)

	require.NoError(t, f.rec.Discard())
	assert.NoFileExists(t, d.ClipURL)
	assert.Equal(t, Idle, f.rec.State())
	_, ok := f.rec.Draft()
	assert.False(t, ok)

	// A fresh cycle is allowed again.
	require.NoError(t, f.rec.Start(ctx, ""))
	require.NoError(t, f.rec.Close())
}

type failingSink struct{}

func (failingSink) Save(string, string, []byte) (string, error) { return "", errors.New("disk full") }
func (failingSink) Remove(string) error                          { return nil }

func TestClipWriteFailureReturnsToIdle(t *testing.T) {
	f := newFixture(t, tone(0.2, 0.3), encoder.FormatFLAC)
	f.rec.cfg.Clips = failingSink{}

	require.NoError(t, f.rec.Start(context.Background(), "memo-1"))
	_, err := f.rec.Stop(context.Background())
	require.ErrorContains(t, err, "disk full")
	assert.Equal(t, Idle, f.rec.State())
	assert.True(t, f.ctx.Captures()[0].Closed())

	clips, _ := f.trans.Clips()
	assert.Empty(t, clips, "transcription must not run without a stored clip")
}

func TestListenersReceiveChunks(t *testing.T) {
	pcm := tone(0.3, 0.3)
	f := newFixture(t, pcm, encoder.FormatFLAC)

	var mu sync.Mutex
	var got int
	detach := f.rec.Attach(func(b []byte) {
		mu.Lock()
		got += len(b)
		mu.Unlock()
	})

	require.NoError(t, f.rec.Start(context.Background(), ""))
	assert.Greater(t, f.rec.Level(), 0.1)
	_, err := f.rec.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.0, f.rec.Level())

	mu.Lock()
	assert.Equal(t, len(pcm), got)
	mu.Unlock()

	detach()
	detach()
	f.rec.listenMu.RLock()
	assert.Empty(t, f.rec.listeners)
	f.rec.listenMu.RUnlock()
}

func TestCloseReleasesMicrophone(t *testing.T) {
	f := newFixture(t, tone(0.2, 0.3), encoder.FormatFLAC)

	require.NoError(t, f.rec.Start(context.Background(), ""))
	require.NoError(t, f.rec.Close())
	assert.Equal(t, Idle, f.rec.State())
	assert.True(t, f.ctx.Captures()[0].Closed())
}

func TestCloseDiscardsPendingDraft(t *testing.T) {
	f := newFixture(t, tone(0.2, 0.3), encoder.FormatFLAC)
	require.NoError(t, f.rec.Start(context.Background(), ""))
	d, err := f.rec.Stop(context.Background())
	require.NoError(t, err)

	require.NoError(t, f.rec.Close())
	assert.NoFileExists(t, d.ClipURL)
}

func TestCloseWhileFinalizingRemovesClip(t *testing.T) {
	f := newFixture(t, tone(0.2, 0.3), encoder.FormatWAV)
	f.trans.Release = make(chan struct{})
	ctx := context.Background()
	require.NoError(t, f.rec.Start(ctx, ""))

	done := make(chan error, 1)
	go func() {
		_, err := f.rec.Stop(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool {
		clips, _ := f.trans.Clips()
		return len(clips) == 1
	}, 2*time.Second, 5*time.Millisecond)
	clip := filepath.Join(f.dir, "entry-1.wav")
	require.FileExists(t, clip)

	require.NoError(t, f.rec.Close())
	close(f.trans.Release)
	assert.ErrorIs(t, <-done, ErrClosed)

	assert.NoFileExists(t, clip)
	assert.Equal(t, Idle, f.rec.State())
	_, ok := f.rec.Draft()
	assert.False(t, ok)
	assert.ErrorIs(t, f.rec.Start(ctx, ""), ErrClosed)
}

func TestElapsedEvents(t *testing.T) {
	events := make(chan Event, 64)
	ctx := audio.NewFakeContextPCM(tone(2, 0.3), true)
	rec := New(Config{
		Audio:   ctx,
		Clips:   ClipDir{Dir: t.TempDir()},
		OnEvent: func(ev Event) { events <- ev },
	})

	require.NoError(t, rec.Start(context.Background(), ""))
	defer rec.Close()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == EventElapsed {
				assert.Equal(t, 1, ev.Elapsed)
				assert.Equal(t, 1, rec.Elapsed())
				return
			}
		case <-deadline:
			t.Fatal("no elapsed event within 3s")
		}
	}
}

func TestTranscriptionMetrics(t *testing.T) {
	clip := encoder.Clip{Data: make([]byte, 512), TotalFrames: encoder.SampleRate}
	result := &transcriber.AudioResult{
		RateLimit: "9/10",
		Metrics: &transcriber.NetworkMetrics{
			DNS:  2 * time.Millisecond,
			TTFB: 40 * time.Millisecond,
		},
	}

	m := transcriptionMetrics(clip, 2048, result)
	assert.Equal(t, "9/10", m.RateLimit)
	assert.InDelta(t, 1.0, m.AudioLengthS, 0.001)
	assert.InDelta(t, 75.0, m.CompressionPct, 0.001)
	assert.InDelta(t, 42.0, m.TotalTimeMs, 0.001, "phase sum stands in for a missing total")

	result.Metrics.Total = 100 * time.Millisecond
	m = transcriptionMetrics(clip, 2048, result)
	assert.InDelta(t, 100.0, m.TotalTimeMs, 0.001)

	m = transcriptionMetrics(clip, 0, &transcriber.AudioResult{})
	assert.Zero(t, m.TotalTimeMs)
	assert.Zero(t, m.CompressionPct)
}

package doctor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"echomemo/audio"
	"echomemo/clipboard"
	"echomemo/encoder"
	"echomemo/kv"
	"echomemo/recorder"
	"echomemo/shutdown"
	"echomemo/transcriber"
)

const probeKey = "echomemo_doctor_probe"

// Clipboard is the subset of the system clipboard the checks use.
type Clipboard interface {
	Copy(text string) error
	Read() (string, error)
}

type systemClipboard struct{}

func (systemClipboard) Copy(text string) error { return clipboard.Copy(text) }
func (systemClipboard) Read() (string, error)  { return clipboard.Read() }

// SystemClipboard is the clipboard backed by the OS.
var SystemClipboard Clipboard = systemClipboard{}

type Deps struct {
	Store       kv.Store
	Audio       audio.Context
	Device      *audio.DeviceInfo
	Transcriber transcriber.Client
	Clipboard   Clipboard
	Format      string

	// RecordFor is how long the microphone check captures. Zero means 3s.
	RecordFor time.Duration

	In  io.Reader
	Out io.Writer

	// Terminal restores the tty before prompting. Off in tests.
	Terminal bool
}

type runner struct {
	Deps
	in  *bufio.Reader
	out io.Writer
}

// Run executes the diagnostic checks and returns an exit code (0=all pass, 1=any fail).
func Run(ctx context.Context, d Deps) int {
	if d.Terminal {
		resetTerminal()
		var stop context.CancelFunc
		ctx, stop = shutdown.Context(ctx)
		defer stop()
	}
	if d.RecordFor <= 0 {
		d.RecordFor = 3 * time.Second
	}
	if d.Format == "" {
		d.Format = encoder.FormatFLAC
	}
	r := &runner{Deps: d, in: bufio.NewReader(d.In), out: d.Out}

	r.printf("echomemo doctor - system diagnostics\n")
	r.printf("====================================\n")

	allPass := true
	if !r.checkStorage() {
		allPass = false
	}
	pcm, ok := r.checkMicrophone(ctx)
	if !ok {
		allPass = false
	}
	if ok && !r.checkTranscription(ctx, pcm) {
		allPass = false
	}
	if !r.checkClipboard() {
		allPass = false
	}

	r.printf("\n")
	if allPass {
		r.printf("All checks passed!\n")
		return 0
	}
	r.printf("Some checks failed. See details above.\n")
	return 1
}

func (r *runner) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

func (r *runner) confirm(question string) bool {
	if r.Terminal {
		resetTerminal()
	}
	r.printf("%s [y/n]: ", question)
	answer, _ := r.in.ReadString('\n')
	answer = strings.TrimSpace(strings.ToLower(answer))
	return answer == "y" || answer == "yes"
}

func (r *runner) checkStorage() bool {
	r.printf("\n[1/4] Storage\n")
	if r.Store == nil {
		r.printf("  FAIL: no store configured\n")
		return false
	}
	want := uuid.NewString()
	if err := r.Store.Set(probeKey, []byte(want)); err != nil {
		r.printf("  FAIL: write: %v\n", err)
		return false
	}
	got, ok, err := r.Store.Get(probeKey)
	if err != nil {
		r.printf("  FAIL: read: %v\n", err)
		return false
	}
	if !ok || string(got) != want {
		r.printf("  FAIL: read back %q, want %q\n", got, want)
		return false
	}
	r.printf("  PASS: memos can be saved\n")
	return true
}

func (r *runner) checkMicrophone(ctx context.Context) ([][]byte, bool) {
	r.printf("\n[2/4] Microphone\n")
	if r.Audio == nil {
		r.printf("  FAIL: no audio backend\n")
		return nil, false
	}
	name := "default device"
	if r.Device != nil {
		name = r.Device.Name
	}
	r.printf("Using %s. Press Enter and speak for %s...", name, r.RecordFor)
	r.in.ReadString('\n')

	chunks, err := r.record(ctx)
	if err != nil {
		r.printf("  FAIL: %v\n", err)
		return nil, false
	}
	if len(chunks) == 0 {
		r.printf("  FAIL: no audio captured\n")
		return nil, false
	}

	var peak float64
	var size int
	for _, c := range chunks {
		peak = max(peak, recorder.RMS(c))
		size += len(c)
	}
	r.printf("  Captured %.1f KB, peak level %.3f\n", float64(size)/1024, peak)
	if peak < recorder.SpeechLevel {
		r.printf("  WARN: no voice detected, check the input level\n")
	}
	r.printf("  PASS: microphone delivers audio\n")
	return chunks, true
}

func (r *runner) record(ctx context.Context) ([][]byte, error) {
	capture, err := r.Audio.NewCapture(r.Device, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	defer capture.Close()

	var mu sync.Mutex
	var chunks [][]byte
	capture.SetCallback(func(data []byte, _ uint32) {
		c := make([]byte, len(data))
		copy(c, data)
		mu.Lock()
		chunks = append(chunks, c)
		mu.Unlock()
	})
	if err := capture.Start(); err != nil {
		return nil, err
	}

	r.printf("  Recording")
	ticker := time.NewTicker(500 * time.Millisecond)
	deadline := time.After(r.RecordFor)
loop:
	for {
		select {
		case <-ticker.C:
			r.printf(".")
		case <-deadline:
			break loop
		case <-ctx.Done():
			ticker.Stop()
			capture.Stop()
			r.printf("\n")
			return nil, ctx.Err()
		}
	}
	ticker.Stop()
	capture.Stop()
	capture.ClearCallback()
	r.printf(" done\n")

	mu.Lock()
	defer mu.Unlock()
	return chunks, nil
}

func (r *runner) checkTranscription(ctx context.Context, chunks [][]byte) bool {
	r.printf("\n[3/4] Transcription\n")
	if r.Transcriber == nil {
		r.printf("  FAIL: no API key configured for the transcription provider\n")
		return false
	}
	clip, err := encoder.EncodeChunks(r.Format, chunks)
	if err != nil {
		r.printf("  FAIL: encode: %v\n", err)
		return false
	}
	r.printf("  Sending %.1f KB of %s to %s...\n", float64(len(clip.Data))/1024, r.Format, r.Transcriber.Name())

	res, err := r.Transcriber.TranscribeAudio(ctx, clip.Data, clip.MIMEType)
	if err != nil {
		r.printf("  FAIL: %v\n", err)
		return false
	}
	text := strings.TrimSpace(res.Transcript)
	if text == "" {
		text = "(no speech detected)"
	}
	r.printf("\n  Title: %s\n  Transcript: %s\n  Tags: %s\n\n", res.Title, text, strings.Join(res.Tags, ", "))

	if r.confirm("Is this correct?") {
		r.printf("  PASS: transcription verified by user\n")
		return true
	}
	r.printf("  FAIL: transcription not confirmed\n")
	return false
}

func (r *runner) checkClipboard() bool {
	r.printf("\n[4/4] Clipboard\n")
	if r.Clipboard == nil {
		r.printf("  FAIL: no clipboard\n")
		return false
	}
	want := fmt.Sprintf("echomemo-doctor-%d", time.Now().UnixNano())

	type result struct {
		got   string
		err   error
		phase string
	}
	ch := make(chan result, 1)
	go func() {
		if err := r.Clipboard.Copy(want); err != nil {
			ch <- result{err: err, phase: "write"}
			return
		}
		got, err := r.Clipboard.Read()
		if err != nil {
			ch <- result{err: err, phase: "read"}
			return
		}
		ch <- result{got: got}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			r.printf("  FAIL: clipboard %s failed: %v\n", res.phase, res.err)
			return false
		}
		if res.got != want {
			r.printf("  FAIL: clipboard mismatch: wrote %q, got %q\n", want, res.got)
			return false
		}
		r.printf("  PASS: transcripts can be copied\n")
		return true
	case <-time.After(3 * time.Second):
		r.printf("  FAIL: clipboard timed out (clipboard tool hung?)\n")
		return false
	}
}

// Package recorder runs one capture-and-transcribe cycle at a time: it owns
// the microphone while capturing, encodes the clip on stop, asks the
// transcription client for a draft and holds that draft until the caller
// takes or discards it.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"echomemo/audio"
	"echomemo/encoder"
	"echomemo/log"
	"echomemo/memo"
	"echomemo/transcriber"
)

var (
	ErrBusy         = errors.New("recorder is finalizing")
	ErrNotCapturing = errors.New("recorder is not capturing")
	ErrDraftPending = errors.New("a draft is awaiting review")
	ErrClosed       = errors.New("recorder is closed")
)

type State int

const (
	Idle State = iota
	Capturing
	Finalizing
	ReadyForReview
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Finalizing:
		return "finalizing"
	case ReadyForReview:
		return "ready"
	}
	return "unknown"
}

// Fallback values used when transcription fails. The clip is kept.
const (
	FallbackTitle   = "New Voice Memo"
	FallbackSummary = "Processing failed."
	FallbackTag     = "Voice"
)

type EventKind int

const (
	EventElapsed EventKind = iota
	EventSilence
)

type Event struct {
	Kind    EventKind
	Elapsed int // whole seconds since capture started
	Silence SilenceEvent
}

type Config struct {
	Audio       audio.Context
	Device      *audio.DeviceInfo // nil selects the default input
	Transcriber transcriber.Client
	Clips       ClipSink
	Format      string // encoder.FormatFLAC or encoder.FormatWAV

	// OnEvent receives elapsed-second and silence events from the ticker
	// goroutine. It must not block.
	OnEvent func(Event)

	Now   func() time.Time
	NewID func() string
}

type Recorder struct {
	cfg Config

	mu        sync.Mutex
	state     State
	opening   bool
	capture   audio.CaptureDevice
	target    string
	startedAt time.Time
	elapsed   int
	draft     *memo.Draft
	closed    bool
	stopTick  chan struct{}
	tickDone  chan struct{}

	chunkMu sync.Mutex
	chunks  [][]byte

	level atomic.Uint64 // float64 bits of the last chunk's RMS
	peak  atomic.Uint64 // float64 bits of the loudest chunk since the last tick

	listenMu     sync.RWMutex
	listeners    map[int]func([]byte)
	nextListener int
}

func New(cfg Config) *Recorder {
	if cfg.Format == "" {
		cfg.Format = encoder.FormatFLAC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Recorder{cfg: cfg, listeners: make(map[int]func([]byte))}
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Elapsed returns whole seconds captured so far.
func (r *Recorder) Elapsed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elapsed
}

// Level returns the RMS of the most recent chunk, 0..1.
func (r *Recorder) Level() float64 {
	return math.Float64frombits(r.level.Load())
}

// TargetMemoID returns the memo the current or pending recording appends to.
func (r *Recorder) TargetMemoID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.target
}

// Attach registers a read-only consumer of captured PCM. Listeners run on
// the audio goroutine and must not retain or modify the chunk.
func (r *Recorder) Attach(fn func([]byte)) (detach func()) {
	r.listenMu.Lock()
	id := r.nextListener
	r.nextListener++
	r.listeners[id] = fn
	r.listenMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.listenMu.Lock()
			delete(r.listeners, id)
			r.listenMu.Unlock()
		})
	}
}

// Start opens the microphone and begins capturing. targetMemoID, when set,
// makes the resulting draft append to that memo.
func (r *Recorder) Start(ctx context.Context, targetMemoID string) error {
	r.mu.Lock()
	switch {
	case r.closed:
		r.mu.Unlock()
		return ErrClosed
	case r.state == Capturing:
		r.mu.Unlock()
		return nil
	case r.opening || r.state == Finalizing:
		r.mu.Unlock()
		return ErrBusy
	case r.state == ReadyForReview:
		r.mu.Unlock()
		return ErrDraftPending
	}
	r.opening = true
	r.mu.Unlock()

	r.chunkMu.Lock()
	r.chunks = nil
	r.chunkMu.Unlock()
	r.level.Store(0)
	r.peak.Store(0)

	capture, err := r.open(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.opening = false
	if err != nil {
		return err
	}
	if r.closed {
		capture.Stop()
		capture.Close()
		return ErrClosed
	}
	r.capture = capture
	r.state = Capturing
	r.target = targetMemoID
	r.startedAt = r.cfg.Now()
	r.elapsed = 0
	r.stopTick = make(chan struct{})
	r.tickDone = make(chan struct{})
	go r.tick(r.stopTick, r.tickDone)

	log.RecordingStart(capture.DeviceName())
	return nil
}

func permissionDenied(err error) error {
	if errors.Is(err, audio.ErrPermissionDenied) {
		return err
	}
	return fmt.Errorf("%w: %w", audio.ErrPermissionDenied, err)
}

func (r *Recorder) open(ctx context.Context) (audio.CaptureDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.cfg.Audio == nil {
		return nil, permissionDenied(errors.New("no audio backend"))
	}
	capture, err := r.cfg.Audio.NewCapture(r.cfg.Device, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		return nil, permissionDenied(err)
	}
	capture.SetCallback(r.onData)
	if err := capture.Start(); err != nil {
		capture.ClearCallback()
		capture.Close()
		return nil, permissionDenied(err)
	}
	return capture, nil
}

func (r *Recorder) onData(data []byte, _ uint32) {
	if len(data) == 0 {
		return
	}
	chunk := make([]byte, len(data))
	copy(chunk, data)

	r.chunkMu.Lock()
	r.chunks = append(r.chunks, chunk)
	r.chunkMu.Unlock()

	level := RMS(chunk)
	r.level.Store(math.Float64bits(level))
	for {
		old := r.peak.Load()
		if level <= math.Float64frombits(old) || r.peak.CompareAndSwap(old, math.Float64bits(level)) {
			break
		}
	}

	r.listenMu.RLock()
	for _, fn := range r.listeners {
		fn(chunk)
	}
	r.listenMu.RUnlock()
}

func (r *Recorder) tick(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	monitor := newSilenceMonitor()
	perSecond := int(time.Second / tickInterval)
	n := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		n++
		peak := math.Float64frombits(r.peak.Swap(0))
		if ev := monitor.Tick(peak >= SpeechLevel); ev != SilenceNone {
			r.emit(Event{Kind: EventSilence, Silence: ev})
		}
		if n%perSecond == 0 {
			r.mu.Lock()
			r.elapsed++
			elapsed := r.elapsed
			r.mu.Unlock()
			r.emit(Event{Kind: EventElapsed, Elapsed: elapsed})
		}
	}
}

func (r *Recorder) emit(ev Event) {
	if r.cfg.OnEvent != nil {
		r.cfg.OnEvent(ev)
	}
}

// release stops and closes the capture device, then the ticker. Callers
// must have moved the state out of Capturing.
func release(capture audio.CaptureDevice, stopTick chan struct{}, tickDone chan struct{}) {
	capture.Stop()
	capture.ClearCallback()
	capture.Close()
	close(stopTick)
	<-tickDone
}

func (r *Recorder) takeChunks() [][]byte {
	r.chunkMu.Lock()
	defer r.chunkMu.Unlock()
	chunks := r.chunks
	r.chunks = nil
	return chunks
}

// Stop releases the microphone, encodes and stores the clip, and waits for
// the transcription. A transcription failure still yields a draft carrying
// fallback text; only a clip that cannot be encoded or stored is an error.
func (r *Recorder) Stop(ctx context.Context) (memo.Draft, error) {
	r.mu.Lock()
	if r.state != Capturing {
		r.mu.Unlock()
		return memo.Draft{}, ErrNotCapturing
	}
	r.state = Finalizing
	capture, stopTick, tickDone := r.capture, r.stopTick, r.tickDone
	r.capture = nil
	target, startedAt := r.target, r.startedAt
	r.mu.Unlock()

	release(capture, stopTick, tickDone)
	r.level.Store(0)
	chunks := r.takeChunks()

	draft, err := r.finalize(ctx, chunks, target, startedAt)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.state = Idle
		r.target = ""
		return memo.Draft{}, err
	}
	if r.closed {
		// Nobody is left to review the draft.
		r.state = Idle
		r.target = ""
		if rmErr := r.cfg.Clips.Remove(draft.ClipURL); rmErr != nil {
			log.Warnf("removing clip of abandoned draft: %v", rmErr)
		}
		return memo.Draft{}, ErrClosed
	}
	r.draft = &draft
	r.state = ReadyForReview
	return draft, nil
}

func (r *Recorder) finalize(ctx context.Context, chunks [][]byte, target string, startedAt time.Time) (memo.Draft, error) {
	var raw int
	for _, c := range chunks {
		raw += len(c)
	}

	clip, err := encoder.EncodeChunks(r.cfg.Format, chunks)
	if err != nil {
		return memo.Draft{}, fmt.Errorf("encoding clip: %w", err)
	}
	log.RecordingStop(clip.Duration().Seconds(), len(chunks))

	entryID := r.cfg.NewID()
	if r.cfg.Clips == nil {
		return memo.Draft{}, errors.New("no clip sink configured")
	}
	url, err := r.cfg.Clips.Save(entryID, clip.Ext, clip.Data)
	if err != nil {
		return memo.Draft{}, fmt.Errorf("storing clip: %w", err)
	}

	draft := memo.Draft{
		EntryID:      entryID,
		ClipURL:      url,
		MIMEType:     clip.MIMEType,
		TargetMemoID: target,
		CapturedAt:   startedAt.UnixMilli(),
	}

	result, err := r.transcribe(ctx, clip)
	if err != nil {
		provider := "none"
		if r.cfg.Transcriber != nil {
			provider = r.cfg.Transcriber.Name()
		}
		log.TranscriptionFailed(provider, err)
		draft.Title = FallbackTitle
		draft.Summary = FallbackSummary
		draft.Tags = []string{FallbackTag}
		draft.Failed = true
		return draft, nil
	}

	logMetrics(r.cfg.Transcriber.Name(), clip, raw, result)
	draft.Title = result.Title
	draft.Transcript = result.Transcript
	draft.Summary = result.Summary
	draft.Tags = result.Tags
	return draft, nil
}

func (r *Recorder) transcribe(ctx context.Context, clip encoder.Clip) (*transcriber.AudioResult, error) {
	if r.cfg.Transcriber == nil {
		return nil, fmt.Errorf("%w: no transcription client configured", transcriber.ErrTranscriptionFailed)
	}
	return r.cfg.Transcriber.TranscribeAudio(ctx, clip.Data, clip.MIMEType)
}

func logMetrics(provider string, clip encoder.Clip, raw int, result *transcriber.AudioResult) {
	m := transcriptionMetrics(clip, raw, result)
	var reused bool
	var proto string
	if nm := result.Metrics; nm != nil {
		reused, proto = nm.ConnReused, nm.TLSProtocol
	}
	log.TranscriptionMetrics(m, clip.Ext, provider, reused, proto)
}

func transcriptionMetrics(clip encoder.Clip, raw int, result *transcriber.AudioResult) log.Metrics {
	m := log.Metrics{
		AudioLengthS:     clip.Duration().Seconds(),
		RawSizeKB:        float64(raw) / 1024,
		CompressedSizeKB: float64(len(clip.Data)) / 1024,
		EncodeTimeMs:     float64(clip.EncodeTime.Microseconds()) / 1000,
		RateLimit:        result.RateLimit,
	}
	if raw > 0 {
		m.CompressionPct = (1 - float64(len(clip.Data))/float64(raw)) * 100
	}
	if nm := result.Metrics; nm != nil {
		total := nm.Total
		if total == 0 {
			total = nm.Sum()
		}
		m.DNSTimeMs = float64(nm.DNS.Microseconds()) / 1000
		m.TLSTimeMs = float64(nm.TLS.Microseconds()) / 1000
		m.TTFBMs = float64(nm.TTFB.Microseconds()) / 1000
		m.TotalTimeMs = float64(total.Microseconds()) / 1000
	}
	return m
}

// Draft returns the pending draft without consuming it.
func (r *Recorder) Draft() (memo.Draft, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.draft == nil {
		return memo.Draft{}, false
	}
	return *r.draft, true
}

// Take hands the pending draft to the caller, who commits it.
func (r *Recorder) Take() (memo.Draft, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.draft == nil {
		return memo.Draft{}, false
	}
	d := *r.draft
	r.draft = nil
	r.state = Idle
	r.target = ""
	return d, true
}

// Discard drops the pending draft and deletes its clip.
func (r *Recorder) Discard() error {
	r.mu.Lock()
	d := r.draft
	if d == nil {
		r.mu.Unlock()
		return nil
	}
	r.draft = nil
	r.state = Idle
	r.target = ""
	r.mu.Unlock()

	return r.cfg.Clips.Remove(d.ClipURL)
}

// Close releases the microphone if still capturing and discards any
// unreviewed draft. A Stop still finalizing when Close runs removes its own
// clip once it finishes. Start fails with ErrClosed afterwards.
func (r *Recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	if r.state == Capturing {
		capture, stopTick, tickDone := r.capture, r.stopTick, r.tickDone
		r.capture = nil
		r.state = Idle
		r.target = ""
		r.mu.Unlock()
		release(capture, stopTick, tickDone)
		r.takeChunks()
		log.Info("recording abandoned on close")
		return nil
	}
	r.mu.Unlock()
	return r.Discard()
}

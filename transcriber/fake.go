package transcriber

import (
	"context"
	"sync"
)

// Fake returns canned results. Calls block until Release is closed, when set,
// so tests can observe in-flight states.
type Fake struct {
	Audio     AudioResult
	Refine    RefineResult
	AudioErr  error
	RefineErr error
	Release   chan struct{}

	mu    sync.Mutex
	clips [][]byte
	mimes []string
	texts []string
}

func NewFake(audio AudioResult, err error) *Fake {
	return &Fake{Audio: audio, AudioErr: err}
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) wait(ctx context.Context) error {
	if f.Release == nil {
		return nil
	}
	select {
	case <-f.Release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fake) TranscribeAudio(ctx context.Context, clip []byte, mimeType string) (*AudioResult, error) {
	f.mu.Lock()
	f.clips = append(f.clips, clip)
	f.mimes = append(f.mimes, mimeType)
	f.mu.Unlock()

	if err := f.wait(ctx); err != nil {
		return nil, serviceErr("fake", "transcribe", 0, err)
	}
	if f.AudioErr != nil {
		return nil, serviceErr("fake", "transcribe", 0, f.AudioErr)
	}
	r := f.Audio
	r.Tags = append([]string(nil), f.Audio.Tags...)
	return &r, nil
}

func (f *Fake) RefineText(ctx context.Context, text string) (*RefineResult, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()

	if err := f.wait(ctx); err != nil {
		return nil, serviceErr("fake", "refine", 0, err)
	}
	if f.RefineErr != nil {
		return nil, serviceErr("fake", "refine", 0, f.RefineErr)
	}
	r := f.Refine
	r.Tags = append([]string(nil), f.Refine.Tags...)
	return &r, nil
}

// Clips returns the clip bytes and MIME types received so far.
func (f *Fake) Clips() ([][]byte, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.clips...), append([]string(nil), f.mimes...)
}

func (f *Fake) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

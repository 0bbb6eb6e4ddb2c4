package transcriber

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const (
	ProviderGemini = "gemini"
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
)

type NetworkMetrics struct {
	DNS         time.Duration
	ConnWait    time.Duration
	TCP         time.Duration
	TLS         time.Duration
	ReqHeaders  time.Duration
	ReqBody     time.Duration
	TTFB        time.Duration
	Download    time.Duration
	Total       time.Duration
	ConnReused  bool
	TLSProtocol string
}

func (m *NetworkMetrics) Sum() time.Duration {
	return m.ConnWait + m.DNS + m.TCP + m.TLS + m.ReqHeaders + m.ReqBody + m.TTFB + m.Download
}

func firstNonEmpty(h http.Header, keys ...string) string {
	for _, k := range keys {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return "?"
}

// AudioResult is the structured interpretation of one recorded clip.
type AudioResult struct {
	Title      string
	Transcript string
	Summary    string
	Tags       []string

	Metrics   *NetworkMetrics
	RateLimit string
}

// RefineResult is an improved rendition of a typed note.
type RefineResult struct {
	Title   string
	Content string
	Tags    []string
}

// Client turns audio and text into memo content. Implementations are safe
// for concurrent use.
type Client interface {
	Name() string
	TranscribeAudio(ctx context.Context, clip []byte, mimeType string) (*AudioResult, error)
	RefineText(ctx context.Context, text string) (*RefineResult, error)
}

// Warmer is implemented by clients that keep a connection to warm up before
// the first recording.
type Warmer interface {
	Warm(ctx context.Context) time.Duration
}

type Config struct {
	Provider string
	APIKey   string
	// Model is the generative model. For groq and openai it is the chat
	// model that structures the whisper transcript.
	Model      string
	AudioModel string
	Language   string
	// BaseURL overrides the provider endpoint.
	BaseURL string
}

const (
	audioPrompt = "Please transcribe this audio. Then provide a concise title, a summary of the main points, " +
		"and a few relevant tags. Return the result in JSON format with properties: title, transcript, summary, " +
		"and tags (an array of strings)."
	refinePrompt = "The user wrote this memo: \"%s\". Please improve the formatting, correct any grammar, provide a " +
		"better title, and extract 2-3 tags. Return JSON with properties: title, content (improved version), and tags."
	structurePrompt = "You receive the transcript of a voice memo. Provide a concise title, a summary of the main " +
		"points, and a few relevant tags. Return JSON with properties: title, summary, and tags (an array of strings)."
)

func languageHint(lang string) string {
	if lang == "" {
		return ""
	}
	return fmt.Sprintf(" The spoken language is %q.", lang)
}

func New(ctx context.Context, cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("no API key configured for %s", cfg.Provider)
	}
	switch cfg.Provider {
	case ProviderGemini, "":
		return NewGemini(ctx, cfg)
	case ProviderGroq:
		return NewGroq(cfg), nil
	case ProviderOpenAI:
		return NewOpenAI(cfg), nil
	default:
		return nil, fmt.Errorf("unknown transcription provider %q", cfg.Provider)
	}
}

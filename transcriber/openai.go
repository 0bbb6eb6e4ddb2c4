package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// OpenAICompat talks to any OpenAI-style API. A clip is transcribed with a
// whisper-class model, then a chat model structures the transcript.
type OpenAICompat struct {
	name       string
	client     *TracedClient
	baseURL    string
	apiKey     string
	audioModel string
	chatModel  string
	lang       string
}

func newOpenAICompat(name, baseURL, audioModel, chatModel string, cfg Config) *OpenAICompat {
	if cfg.BaseURL != "" {
		baseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.AudioModel != "" {
		audioModel = cfg.AudioModel
	}
	if cfg.Model != "" {
		chatModel = cfg.Model
	}
	return &OpenAICompat{
		name:       name,
		client:     NewTracedClient(),
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		audioModel: audioModel,
		chatModel:  chatModel,
		lang:       cfg.Language,
	}
}

func NewGroq(cfg Config) *OpenAICompat {
	return newOpenAICompat(ProviderGroq, "https://api.groq.com/openai/v1",
		"whisper-large-v3-turbo", "llama-3.3-70b-versatile", cfg)
}

func NewOpenAI(cfg Config) *OpenAICompat {
	return newOpenAICompat(ProviderOpenAI, "https://api.openai.com/v1",
		"gpt-4o-transcribe", "gpt-4o-mini", cfg)
}

func (o *OpenAICompat) Name() string { return o.name }

// Warm pre-establishes the API connection and returns the TLS handshake
// time, zero when the connection could not be opened.
func (o *OpenAICompat) Warm(ctx context.Context) time.Duration {
	return o.client.Warm(ctx, o.baseURL)
}

func (o *OpenAICompat) post(ctx context.Context, op, path, contentType string, body *bytes.Buffer) (*TracedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, body)
	if err != nil {
		return nil, serviceErr(o.name, op, 0, err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, serviceErr(o.name, op, 0, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, serviceErr(o.name, op, resp.StatusCode, fmt.Errorf("%s", bytes.TrimSpace(resp.Body)))
	}
	return resp, nil
}

func extFor(mimeType string) string {
	if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
		return exts[0]
	}
	if _, sub, ok := strings.Cut(mimeType, "/"); ok {
		return "." + sub
	}
	return ".bin"
}

func (o *OpenAICompat) transcribe(ctx context.Context, clip []byte, mimeType string) (string, *TracedResponse, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio"+extFor(mimeType))
	if err != nil {
		return "", nil, serviceErr(o.name, "transcribe", 0, err)
	}
	if _, err := part.Write(clip); err != nil {
		return "", nil, serviceErr(o.name, "transcribe", 0, err)
	}

	writer.WriteField("model", o.audioModel)
	writer.WriteField("response_format", "json")
	if o.lang != "" {
		writer.WriteField("language", o.lang)
	}
	writer.Close()

	resp, err := o.post(ctx, "transcribe", "/audio/transcriptions", writer.FormDataContentType(), &body)
	if err != nil {
		return "", nil, err
	}

	var tResp struct {
		Text *string `json:"text"`
	}
	if err := json.Unmarshal(resp.Body, &tResp); err != nil {
		return "", nil, malformedErr(o.name, "transcribe", fmt.Errorf("decoding response: %w", err))
	}
	if tResp.Text == nil {
		return "", nil, malformedErr(o.name, "transcribe", missing("text"))
	}
	return strings.TrimSpace(*tResp.Text), resp, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (o *OpenAICompat) chat(ctx context.Context, op string, messages ...chatMessage) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:          o.chatModel,
		Messages:       messages,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return "", serviceErr(o.name, op, 0, err)
	}
	resp, err := o.post(ctx, op, "/chat/completions", "application/json", bytes.NewBuffer(payload))
	if err != nil {
		return "", err
	}
	var cResp chatResponse
	if err := json.Unmarshal(resp.Body, &cResp); err != nil {
		return "", malformedErr(o.name, op, fmt.Errorf("decoding response: %w", err))
	}
	if len(cResp.Choices) == 0 {
		return "", malformedErr(o.name, op, missing("choices"))
	}
	return cResp.Choices[0].Message.Content, nil
}

func (o *OpenAICompat) TranscribeAudio(ctx context.Context, clip []byte, mimeType string) (*AudioResult, error) {
	transcript, tResp, err := o.transcribe(ctx, clip, mimeType)
	if err != nil {
		return nil, err
	}

	out, err := o.chat(ctx, "summarize",
		chatMessage{Role: "system", Content: structurePrompt + languageHint(o.lang)},
		chatMessage{Role: "user", Content: transcript},
	)
	if err != nil {
		return nil, err
	}

	// The transcript comes from the audio endpoint, the rest from chat.
	merged, err := withTranscript(out, transcript)
	if err != nil {
		return nil, malformedErr(o.name, "summarize", err)
	}
	r, err := parseAudio(merged)
	if err != nil {
		return nil, malformedErr(o.name, "summarize", err)
	}
	r.Metrics = tResp.Metrics
	r.RateLimit = firstNonEmpty(tResp.Header, "x-ratelimit-remaining-requests") + "/" +
		firstNonEmpty(tResp.Header, "x-ratelimit-limit-requests")
	return r, nil
}

func withTranscript(chatJSON, transcript string) (string, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(stripFence(chatJSON)), &fields); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if fields == nil {
		return "", missing("title", "summary", "tags")
	}
	fields["transcript"] = transcript
	out, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (o *OpenAICompat) RefineText(ctx context.Context, text string) (*RefineResult, error) {
	out, err := o.chat(ctx, "refine", chatMessage{Role: "user", Content: fmt.Sprintf(refinePrompt, text)})
	if err != nil {
		return nil, err
	}
	r, err := parseRefine(out)
	if err != nil {
		return nil, malformedErr(o.name, "refine", err)
	}
	return r, nil
}

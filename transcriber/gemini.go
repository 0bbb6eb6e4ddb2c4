package transcriber

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-3-flash-preview"

type Gemini struct {
	client *genai.Client
	model  string
	lang   string
}

func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: NewTracedClient().HTTPClient(),
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	return &Gemini{client: client, model: model, lang: cfg.Language}, nil
}

func (g *Gemini) Name() string { return ProviderGemini }

var audioSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"title":      {Type: genai.TypeString},
		"transcript": {Type: genai.TypeString},
		"summary":    {Type: genai.TypeString},
		"tags":       {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
	},
	Required: []string{"title", "transcript", "summary", "tags"},
}

var refineSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"title":   {Type: genai.TypeString},
		"content": {Type: genai.TypeString},
		"tags":    {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
	},
}

func (g *Gemini) generate(ctx context.Context, op string, schema *genai.Schema, parts ...*genai.Part) (string, error) {
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	})
	if err != nil {
		return "", serviceErr(g.Name(), op, 0, err)
	}
	return resp.Text(), nil
}

func (g *Gemini) TranscribeAudio(ctx context.Context, clip []byte, mimeType string) (*AudioResult, error) {
	text, err := g.generate(ctx, "transcribe", audioSchema,
		genai.NewPartFromBytes(clip, mimeType),
		genai.NewPartFromText(audioPrompt+languageHint(g.lang)),
	)
	if err != nil {
		return nil, err
	}
	r, err := parseAudio(text)
	if err != nil {
		return nil, malformedErr(g.Name(), "transcribe", err)
	}
	return r, nil
}

func (g *Gemini) RefineText(ctx context.Context, text string) (*RefineResult, error) {
	out, err := g.generate(ctx, "refine", refineSchema, genai.NewPartFromText(fmt.Sprintf(refinePrompt, text)))
	if err != nil {
		return nil, err
	}
	r, err := parseRefine(out)
	if err != nil {
		return nil, malformedErr(g.Name(), "refine", err)
	}
	return r, nil
}

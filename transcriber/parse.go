package transcriber

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type audioPayload struct {
	Title      *string   `json:"title"`
	Transcript *string   `json:"transcript"`
	Summary    *string   `json:"summary"`
	Tags       *[]string `json:"tags"`
}

type refinePayload struct {
	Title   *string   `json:"title"`
	Content *string   `json:"content"`
	Tags    *[]string `json:"tags"`
}

// stripFence removes a markdown code fence some models wrap JSON in.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func missing(fields ...string) error {
	return fmt.Errorf("response missing %s", strings.Join(fields, ", "))
}

func parseAudio(text string) (*AudioResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("empty response")
	}
	var p audioPayload
	if err := json.Unmarshal([]byte(stripFence(text)), &p); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	var absent []string
	if p.Title == nil {
		absent = append(absent, "title")
	}
	if p.Transcript == nil {
		absent = append(absent, "transcript")
	}
	if p.Summary == nil {
		absent = append(absent, "summary")
	}
	if p.Tags == nil {
		absent = append(absent, "tags")
	}
	if len(absent) > 0 {
		return nil, missing(absent...)
	}
	return &AudioResult{
		Title:      *p.Title,
		Transcript: *p.Transcript,
		Summary:    *p.Summary,
		Tags:       cleanTags(*p.Tags),
	}, nil
}

// parseRefine accepts any subset of title, content and tags. Absent fields
// stay empty so the caller keeps its existing values.
func parseRefine(text string) (*RefineResult, error) {
	body := stripFence(text)
	if body == "" {
		return nil, errors.New("empty response")
	}
	if !strings.HasPrefix(body, "{") {
		return nil, errors.New("response is not a JSON object")
	}
	var p refinePayload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	r := &RefineResult{}
	if p.Title != nil {
		r.Title = strings.TrimSpace(*p.Title)
	}
	if p.Content != nil {
		r.Content = *p.Content
	}
	if p.Tags != nil {
		r.Tags = cleanTags(*p.Tags)
	}
	return r, nil
}

// cleanTags drops blank tags. Case and order are preserved.
func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

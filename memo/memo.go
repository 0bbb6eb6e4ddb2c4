// Package memo owns the canonical memo collection: the data model, the merge
// rules applied when a recording is confirmed, and write-through persistence
// of the whole collection to the key-value store.
package memo

import (
	"slices"
	"strings"
)

const (
	DataKey = "echomemo_data"

	QuickNoteTitle = "Quick Note"
	QuickNoteTag   = "Text"
)

// AudioEntry is one recorded clip attached to a memo. URL points at the
// playable clip file.
type AudioEntry struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	Transcript string `json:"transcript,omitempty"`
	Summary    string `json:"summary,omitempty"`
	CreatedAt  int64  `json:"createdAt"`
}

// Memo is a note combining free text with zero or more clips, newest first.
type Memo struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Content      string       `json:"content"`
	AudioEntries []AudioEntry `json:"audioEntries"`
	CreatedAt    int64        `json:"createdAt"`
	Tags         []string     `json:"tags"`
	IsFavorite   bool         `json:"isFavorite"`
}

// Draft is the unconfirmed result of a capture-and-transcribe cycle.
// TargetMemoID is set when the recording was started from an open memo.
type Draft struct {
	EntryID      string
	Title        string
	Summary      string
	Transcript   string
	ClipURL      string
	MIMEType     string
	Tags         []string
	TargetMemoID string
	CapturedAt   int64
	// Failed reports that transcription failed and the text fields hold
	// fallback values.
	Failed bool
}

// Entry builds the AudioEntry a confirmed draft contributes.
func (d Draft) Entry() AudioEntry {
	return AudioEntry{
		ID:         d.EntryID,
		URL:        d.ClipURL,
		Transcript: d.Transcript,
		Summary:    d.Summary,
		CreatedAt:  d.CapturedAt,
	}
}

// Refinement carries optional replacement values; empty fields keep the
// memo's current value.
type Refinement struct {
	Title   string
	Content string
	Tags    []string
}

// MergeTags returns existing followed by the values of incoming not already
// present. Matching is exact and case-sensitive; existing order is kept.
func MergeTags(existing, incoming []string) []string {
	out := make([]string, 0, len(existing)+len(incoming))
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for _, group := range [][]string{existing, incoming} {
		for _, t := range group {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// Matches reports whether query is a case-insensitive substring of the
// title, the content or any tag. An empty query matches everything.
// Whitespace in the query is significant.
func (m Memo) Matches(query string) bool {
	q := strings.ToLower(query)
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(m.Title), q) || strings.Contains(strings.ToLower(m.Content), q) {
		return true
	}
	return slices.ContainsFunc(m.Tags, func(t string) bool {
		return strings.Contains(strings.ToLower(t), q)
	})
}

// HasTag reports whether the memo carries tag exactly.
func (m Memo) HasTag(tag string) bool {
	return slices.Contains(m.Tags, tag)
}

// ClipURLs lists the clip references held by the memo.
func (m Memo) ClipURLs() []string {
	urls := make([]string, 0, len(m.AudioEntries))
	for _, e := range m.AudioEntries {
		if e.URL != "" {
			urls = append(urls, e.URL)
		}
	}
	return urls
}

func (m Memo) clone() Memo {
	m.AudioEntries = slices.Clone(m.AudioEntries)
	m.Tags = slices.Clone(m.Tags)
	if m.AudioEntries == nil {
		m.AudioEntries = []AudioEntry{}
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}
	return m
}

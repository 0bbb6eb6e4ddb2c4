package memo

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCorrupt is returned by Load when the stored collection cannot be
// decoded. The store is left empty and usable.
var ErrCorrupt = errors.New("stored memo collection is corrupt")

// storedMemo accepts both the current record shape and the legacy one that
// carried a single clip in audioUrl/transcript/summary.
type storedMemo struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Content      string        `json:"content"`
	AudioEntries *[]AudioEntry `json:"audioEntries"`
	CreatedAt    int64         `json:"createdAt"`
	Tags         []string      `json:"tags"`
	IsFavorite   bool          `json:"isFavorite"`

	AudioURL   string `json:"audioUrl,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Summary    string `json:"summary,omitempty"`
}

func (s storedMemo) upgrade() Memo {
	m := Memo{
		ID:         s.ID,
		Title:      s.Title,
		Content:    s.Content,
		CreatedAt:  s.CreatedAt,
		Tags:       MergeTags(nil, s.Tags),
		IsFavorite: s.IsFavorite,
	}
	switch {
	case s.AudioEntries != nil:
		m.AudioEntries = *s.AudioEntries
	case s.AudioURL != "":
		m.AudioEntries = []AudioEntry{{
			ID:         "legacy-" + s.ID,
			URL:        s.AudioURL,
			Transcript: s.Transcript,
			Summary:    s.Summary,
			CreatedAt:  s.CreatedAt,
		}}
	}
	return m.clone()
}

// Decode parses a persisted collection, upgrading legacy records.
func Decode(data []byte) ([]Memo, error) {
	var stored []storedMemo
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	memos := make([]Memo, 0, len(stored))
	for _, s := range stored {
		memos = append(memos, s.upgrade())
	}
	return memos, nil
}

// Encode serializes the collection as a JSON array of memos.
func Encode(memos []Memo) ([]byte, error) {
	out := make([]Memo, len(memos))
	for i, m := range memos {
		out[i] = m.clone()
	}
	return json.Marshal(out)
}

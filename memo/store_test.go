package memo

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"echomemo/kv"
)

func newTestStore(t *testing.T) (*Store, *kv.Memory) {
	t.Helper()
	backend := kv.NewMemory()
	var n int
	clock := time.UnixMilli(1_700_000_000_000)
	s := New(backend,
		WithIDs(func() string { n++; return fmt.Sprintf("memo-%d", n) }),
		WithClock(func() time.Time { clock = clock.Add(time.Second); return clock }),
	)
	require.NoError(t, s.Load())
	return s, backend
}

func draft(entryID string, tags ...string) Draft {
	return Draft{
		EntryID:    entryID,
		Title:      "Draft " + entryID,
		Transcript: "transcript " + entryID,
		Summary:    "summary " + entryID,
		ClipURL:    "/clips/" + entryID + ".flac",
		Tags:       tags,
		CapturedAt: 1000,
	}
}

func TestCommitNewMemoScenario(t *testing.T) {
	s, _ := newTestStore(t)

	m, ok, err := s.Commit(Draft{
		EntryID:    "e1",
		Title:      "Grocery List",
		Transcript: "milk eggs bread",
		Summary:    "Shopping items",
		ClipURL:    "/clips/e1.flac",
		Tags:       []string{"shopping"},
		CapturedAt: 42,
	})
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "Grocery List", m.Title)
	assert.Equal(t, "", m.Content)
	assert.Equal(t, []string{"shopping"}, m.Tags)
	assert.False(t, m.IsFavorite)
	require.Len(t, m.AudioEntries, 1)
	assert.Equal(t, AudioEntry{ID: "e1", URL: "/clips/e1.flac", Transcript: "milk eggs bread", Summary: "Shopping items", CreatedAt: 42}, m.AudioEntries[0])
	assert.Len(t, s.List(), 1)
}

func TestCommitFallbackDraftScenario(t *testing.T) {
	s, _ := newTestStore(t)
	m, ok, err := s.Commit(Draft{
		EntryID: "e1", Title: "New Voice Memo", Summary: "Processing failed.",
		ClipURL: "/clips/e1.flac", Tags: []string{"Voice"}, Failed: true,
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "New Voice Memo", m.Title)
	assert.Equal(t, []string{"Voice"}, m.Tags)
	assert.Equal(t, "Processing failed.", m.AudioEntries[0].Summary)
	assert.Equal(t, "", m.AudioEntries[0].Transcript)
	assert.NotZero(t, m.AudioEntries[0].CreatedAt)
}

func TestNewMemosArePrepended(t *testing.T) {
	s, _ := newTestStore(t)
	_, _, err := s.Commit(draft("a"))
	require.NoError(t, err)
	_, _, err = s.Commit(draft("b"))
	require.NoError(t, err)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "Draft b", list[0].Title)
	assert.Equal(t, "Draft a", list[1].Title)
}

func TestAppendKeepsNewestFirst(t *testing.T) {
	s, _ := newTestStore(t)
	m, _, err := s.Commit(draft("e0", "Voice"))
	require.NoError(t, err)

	const appends = 5
	for i := 1; i <= appends; i++ {
		d := draft(fmt.Sprintf("e%d", i))
		d.TargetMemoID = m.ID
		_, ok, err := s.Commit(d)
		require.NoError(t, err)
		require.True(t, ok)
	}

	got, ok := s.Get(m.ID)
	require.True(t, ok)
	require.Len(t, got.AudioEntries, appends+1)
	for i, e := range got.AudioEntries {
		assert.Equal(t, fmt.Sprintf("e%d", appends-i), e.ID)
	}
	assert.Equal(t, m.Title, got.Title)
	assert.Equal(t, m.Content, got.Content)
}

func TestAppendMergesTagsScenario(t *testing.T) {
	s, _ := newTestStore(t)
	m, _, err := s.Commit(draft("e1", "Voice"))
	require.NoError(t, err)

	d := draft("e2", "Voice", "Important")
	d.TargetMemoID = m.ID
	got, ok, err := s.Commit(d)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"Voice", "Important"}, got.Tags)
	assert.Equal(t, "Draft e1", got.Title, "append must leave the title alone")
}

func TestAppendToDeletedMemoIsDropped(t *testing.T) {
	s, _ := newTestStore(t)
	m, _, err := s.Commit(draft("e1"))
	require.NoError(t, err)
	_, err = s.Delete(m.ID)
	require.NoError(t, err)

	d := draft("e2")
	d.TargetMemoID = m.ID
	_, ok, err := s.Commit(d)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, s.List())
}

func TestMergeTags(t *testing.T) {
	assert.Equal(t, []string{"a"}, MergeTags([]string{"a"}, []string{"a"}))
	assert.Equal(t, []string{"a", "A"}, MergeTags([]string{"a"}, []string{"A"}))
	assert.Equal(t, []string{"x", "y"}, MergeTags(nil, []string{"x", "y", "x"}))

	once := MergeTags([]string{"Voice"}, []string{"Important"})
	twice := MergeTags(once, []string{"Important"})
	assert.Equal(t, once, twice)

	ab := MergeTags(MergeTags(nil, []string{"a", "b"}), []string{"c"})
	ba := MergeTags(MergeTags(nil, []string{"c"}), []string{"b", "a"})
	assert.ElementsMatch(t, ab, ba)
}

func TestDeleteCascadesEntries(t *testing.T) {
	s, _ := newTestStore(t)
	m, _, err := s.Commit(draft("e1"))
	require.NoError(t, err)
	d := draft("e2")
	d.TargetMemoID = m.ID
	_, _, err = s.Commit(d)
	require.NoError(t, err)

	removed, err := s.Delete(m.ID)
	require.NoError(t, err)
	assert.Len(t, removed.AudioEntries, 2)
	assert.ElementsMatch(t, []string{"/clips/e1.flac", "/clips/e2.flac"}, removed.ClipURLs())
	_, ok := s.Get(m.ID)
	assert.False(t, ok)

	_, err = s.Delete(m.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteEntryLeavesSiblings(t *testing.T) {
	s, _ := newTestStore(t)
	m, _, err := s.Commit(draft("e1", "Voice"))
	require.NoError(t, err)
	for _, id := range []string{"e2", "e3"} {
		d := draft(id)
		d.TargetMemoID = m.ID
		_, _, err = s.Commit(d)
		require.NoError(t, err)
	}
	before, _ := s.Get(m.ID)

	removed, err := s.DeleteEntry(m.ID, "e2")
	require.NoError(t, err)
	assert.Equal(t, "e2", removed.ID)

	after, _ := s.Get(m.ID)
	require.Len(t, after.AudioEntries, 2)
	assert.Equal(t, "e3", after.AudioEntries[0].ID)
	assert.Equal(t, "e1", after.AudioEntries[1].ID)
	assert.Equal(t, before.Title, after.Title)
	assert.Equal(t, before.Tags, after.Tags)
	assert.Equal(t, before.CreatedAt, after.CreatedAt)

	_, err = s.DeleteEntry(m.ID, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyRefine(t *testing.T) {
	s, _ := newTestStore(t)
	note, err := s.CreateQuickNote()
	require.NoError(t, err)
	assert.Equal(t, QuickNoteTitle, note.Title)
	assert.Equal(t, []string{QuickNoteTag}, note.Tags)
	assert.Empty(t, note.AudioEntries)

	content := "buy milk"
	_, err = s.Update(note.ID, Edit{Content: &content})
	require.NoError(t, err)

	got, err := s.ApplyRefine(note.ID, Refinement{Content: "Buy milk.", Tags: []string{"Text", "errands"}})
	require.NoError(t, err)
	assert.Equal(t, QuickNoteTitle, got.Title, "empty title keeps existing")
	assert.Equal(t, "Buy milk.", got.Content)
	assert.Equal(t, []string{"Text", "errands"}, got.Tags)

	got, err = s.ApplyRefine(note.ID, Refinement{Title: "Errands"})
	require.NoError(t, err)
	assert.Equal(t, "Errands", got.Title)
	assert.Equal(t, "Buy milk.", got.Content)
}

func TestToggleFavorite(t *testing.T) {
	s, _ := newTestStore(t)
	note, err := s.CreateQuickNote()
	require.NoError(t, err)
	m, err := s.ToggleFavorite(note.ID)
	require.NoError(t, err)
	assert.True(t, m.IsFavorite)
	m, err = s.ToggleFavorite(note.ID)
	require.NoError(t, err)
	assert.False(t, m.IsFavorite)

	_, err = s.ToggleFavorite("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRoundTrip(t *testing.T) {
	s, backend := newTestStore(t)
	m, _, err := s.Commit(draft("e1", "Voice"))
	require.NoError(t, err)
	d := draft("e2", "Important")
	d.TargetMemoID = m.ID
	_, _, err = s.Commit(d)
	require.NoError(t, err)
	note, err := s.CreateQuickNote()
	require.NoError(t, err)
	_, err = s.ToggleFavorite(note.ID)
	require.NoError(t, err)

	reloaded := New(backend)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, s.List(), reloaded.List())
}

func TestWriteFailureKeepsMemoryState(t *testing.T) {
	s, backend := newTestStore(t)
	backend.FailWrites = errors.New("quota exceeded")

	m, ok, err := s.Commit(draft("e1"))
	assert.True(t, ok)
	assert.ErrorIs(t, err, ErrPersistenceUnavailable)
	_, found := s.Get(m.ID)
	assert.True(t, found)
}

func TestSearch(t *testing.T) {
	s, _ := newTestStore(t)
	_, _, err := s.Commit(draft("e1", "shopping"))
	require.NoError(t, err)
	note, err := s.CreateQuickNote()
	require.NoError(t, err)
	content := "Call the Dentist"
	_, err = s.Update(note.ID, Edit{Content: &content})
	require.NoError(t, err)

	assert.Len(t, s.Search(""), 2)
	assert.Len(t, s.Search("dentist"), 1)
	assert.Len(t, s.Search("SHOP"), 1)
	assert.Len(t, s.Search("draft e1"), 1)
	assert.Empty(t, s.Search("zebra"))
	assert.Equal(t, []string{"Text", "shopping"}, s.Tags())

	// The query is not trimmed.
	assert.Len(t, s.Search(" dentist"), 1)
	assert.Empty(t, s.Search("dentist "))
}

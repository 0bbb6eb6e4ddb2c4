package app

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"echomemo/audio"
	"echomemo/encoder"
	"echomemo/kv"
	"echomemo/memo"
	"echomemo/recorder"
	"echomemo/theme"
	"echomemo/transcriber"
)

type harness struct {
	kv    *kv.Memory
	audio *audio.FakeContext
	trans *transcriber.Fake
	c     *Controller
}

func speech() []byte {
	n := encoder.SampleRate / 4
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		s := int16(9000 * math.Sin(2*math.Pi*300*float64(i)/encoder.SampleRate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		kv:    kv.NewMemory(),
		audio: audio.NewFakeContextPCM(speech(), false),
		trans: transcriber.NewFake(transcriber.AudioResult{
			Title:      "Grocery List",
			Transcript: "milk, eggs, bread",
			Summary:    "Three items",
			Tags:       []string{"Shopping", "Voice"},
		}, nil),
	}
	clips := recorder.ClipDir{Dir: t.TempDir()}
	rec := recorder.New(recorder.Config{
		Audio:       h.audio,
		Transcriber: h.trans,
		Clips:       clips,
		Format:      encoder.FormatWAV,
	})
	h.c = New(Deps{
		Memos:       memo.New(h.kv),
		Themes:      theme.NewStore(h.kv),
		Recorder:    rec,
		Transcriber: h.trans,
		Clips:       clips,
	})
	h.c.Load()
	t.Cleanup(func() { h.c.Close() })
	return h
}

func (h *harness) record(t *testing.T) memo.Draft {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.c.StartRecording(ctx))
	assert.Equal(t, recorder.Capturing, h.c.State().Recording)
	d, err := h.c.FinishRecording(ctx)
	h.c.DraftReady(d, err)
	require.NoError(t, err)
	require.NotNil(t, h.c.State().Draft)
	return d
}

func TestRecordCreatesMemo(t *testing.T) {
	h := newHarness(t)
	d := h.record(t)
	assert.Equal(t, recorder.ReadyForReview, h.c.State().Recording)

	h.c.SetDraftTitle("Weekend groceries")
	m, ok, err := h.c.ConfirmDraft()
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "Weekend groceries", m.Title)
	assert.Equal(t, "", m.Content)
	assert.Equal(t, []string{"Shopping", "Voice"}, m.Tags)
	require.Len(t, m.AudioEntries, 1)
	assert.Equal(t, d.EntryID, m.AudioEntries[0].ID)
	assert.Equal(t, "milk, eggs, bread", m.AudioEntries[0].Transcript)
	assert.FileExists(t, m.AudioEntries[0].URL)

	st := h.c.State()
	assert.Nil(t, st.Draft)
	assert.Equal(t, recorder.Idle, st.Recording)
	assert.Len(t, h.c.Visible(), 1)

	_, _, err = h.c.ConfirmDraft()
	assert.Error(t, err, "a draft can only be confirmed once")
}

func TestRecordAppendsToOpenMemo(t *testing.T) {
	h := newHarness(t)
	note, err := h.c.QuickNote()
	require.NoError(t, err)
	assert.Equal(t, note.ID, h.c.State().SelectedID)

	d := h.record(t)
	assert.Equal(t, note.ID, d.TargetMemoID)
	m, ok, err := h.c.ConfirmDraft()
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, note.ID, m.ID)
	assert.Equal(t, memo.QuickNoteTitle, m.Title, "append keeps the title")
	assert.Equal(t, []string{"Text", "Shopping", "Voice"}, m.Tags)
	assert.Len(t, m.AudioEntries, 1)
	assert.Len(t, h.c.Visible(), 1)
}

func TestFailedTranscriptionStillSaves(t *testing.T) {
	h := newHarness(t)
	h.trans.AudioErr = errors.New("quota exceeded")

	d := h.record(t)
	assert.True(t, d.Failed)
	assert.Equal(t, NoticeProcessing, h.c.State().Notice)

	m, ok, err := h.c.ConfirmDraft()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, recorder.FallbackTitle, m.Title)
	assert.Equal(t, []string{"Voice"}, m.Tags)
	require.Len(t, m.AudioEntries, 1)
	assert.Equal(t, recorder.FallbackSummary, m.AudioEntries[0].Summary)
	assert.FileExists(t, m.AudioEntries[0].URL)
}

func TestMergeKeepsExistingTagOrder(t *testing.T) {
	h := newHarness(t)
	h.trans.Audio.Tags = []string{"Important", "Voice"}

	h.record(t)
	_, _, err := h.c.ConfirmDraft()
	require.NoError(t, err)

	m := h.c.Visible()[0]
	_, err = h.c.Open(m.ID)
	require.NoError(t, err)
	h.trans.Audio.Tags = []string{"Voice", "Important"}
	h.record(t)
	got, _, err := h.c.ConfirmDraft()
	require.NoError(t, err)
	assert.Equal(t, []string{"Important", "Voice"}, got.Tags)
	assert.Len(t, got.AudioEntries, 2)
}

func TestDiscardDraftRemovesClip(t *testing.T) {
	h := newHarness(t)
	d := h.record(t)
	require.FileExists(t, d.ClipURL)

	require.NoError(t, h.c.DiscardDraft())
	assert.NoFileExists(t, d.ClipURL)
	assert.Nil(t, h.c.State().Draft)
	assert.Empty(t, h.c.Visible())
	assert.Equal(t, recorder.Idle, h.c.State().Recording)
}

func TestMicrophoneDenied(t *testing.T) {
	h := newHarness(t)
	h.audio.Deny = true

	err := h.c.StartRecording(context.Background())
	require.ErrorIs(t, err, audio.ErrPermissionDenied)
	st := h.c.State()
	assert.Equal(t, NoticeMicDenied, st.Notice)
	assert.Equal(t, recorder.Idle, st.Recording)

	h.c.DismissNotice()
	assert.Empty(t, h.c.State().Notice)
}

func TestDeleteNeedsConfirmation(t *testing.T) {
	h := newHarness(t)
	h.record(t)
	m, _, err := h.c.ConfirmDraft()
	require.NoError(t, err)
	_, err = h.c.Open(m.ID)
	require.NoError(t, err)
	clip := m.AudioEntries[0].URL

	h.c.RequestDelete(m.ID, "")
	assert.Equal(t, "Permanently delete this memo?", h.c.State().PendingDelete.Prompt())
	h.c.CancelDelete()
	assert.Nil(t, h.c.State().PendingDelete)
	assert.Len(t, h.c.Visible(), 1)

	h.c.RequestDelete(m.ID, "")
	require.NoError(t, h.c.ConfirmDelete())
	assert.Empty(t, h.c.Visible())
	assert.NoFileExists(t, clip)
	assert.Empty(t, h.c.State().SelectedID)

	require.NoError(t, h.c.ConfirmDelete(), "nothing staged")
}

func TestDeleteEntryLeavesSiblings(t *testing.T) {
	h := newHarness(t)
	note, err := h.c.QuickNote()
	require.NoError(t, err)
	first := h.record(t)
	_, _, err = h.c.ConfirmDraft()
	require.NoError(t, err)
	second := h.record(t)
	_, _, err = h.c.ConfirmDraft()
	require.NoError(t, err)

	h.c.RequestDelete(note.ID, first.EntryID)
	assert.Equal(t, "Remove this audio recording?", h.c.State().PendingDelete.Prompt())
	require.NoError(t, h.c.ConfirmDelete())

	m, ok := h.c.Selected()
	require.True(t, ok)
	require.Len(t, m.AudioEntries, 1)
	assert.Equal(t, second.EntryID, m.AudioEntries[0].ID)
	assert.NoFileExists(t, first.ClipURL)
	assert.FileExists(t, second.ClipURL)
	assert.Equal(t, note.ID, h.c.State().SelectedID)
}

func TestTargetDeletedDuringReview(t *testing.T) {
	h := newHarness(t)
	note, err := h.c.QuickNote()
	require.NoError(t, err)
	d := h.record(t)

	h.c.RequestDelete(note.ID, "")
	require.NoError(t, h.c.ConfirmDelete())

	_, ok, err := h.c.ConfirmDraft()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, NoticeTargetGone, h.c.State().Notice)
	assert.Empty(t, h.c.Visible())
	assert.NoFileExists(t, d.ClipURL)
}

func TestRefine(t *testing.T) {
	h := newHarness(t)
	note, err := h.c.QuickNote()
	require.NoError(t, err)

	_, ok := h.c.BeginRefine(note.ID)
	assert.False(t, ok)
	assert.Equal(t, NoticeRefineEmpty, h.c.State().Notice)

	content := "eggs milk  bread"
	_, err = h.c.Update(note.ID, memo.Edit{Content: &content})
	require.NoError(t, err)

	h.trans.Refine = transcriber.RefineResult{Title: "Shopping", Content: "Eggs, milk and bread.", Tags: []string{"Errands", "Text"}}
	text, ok := h.c.BeginRefine(note.ID)
	require.True(t, ok)
	assert.True(t, h.c.State().Refining)

	r, err := h.c.Refine(context.Background(), text)
	m, err := h.c.RefineDone(note.ID, r, err)
	require.NoError(t, err)
	assert.False(t, h.c.State().Refining)
	assert.Equal(t, "Shopping", m.Title)
	assert.Equal(t, "Eggs, milk and bread.", m.Content)
	assert.Equal(t, []string{"Text", "Errands"}, m.Tags)
	assert.Equal(t, []string{content}, h.trans.Texts())
}

func TestRefineTagsOnlyKeepsText(t *testing.T) {
	h := newHarness(t)
	note, err := h.c.QuickNote()
	require.NoError(t, err)
	content := "call the plumber"
	_, err = h.c.Update(note.ID, memo.Edit{Content: &content})
	require.NoError(t, err)

	h.trans.Refine = transcriber.RefineResult{Tags: []string{"Work"}}
	text, ok := h.c.BeginRefine(note.ID)
	require.True(t, ok)
	r, err := h.c.Refine(context.Background(), text)
	m, err := h.c.RefineDone(note.ID, r, err)
	require.NoError(t, err)

	assert.Equal(t, memo.QuickNoteTitle, m.Title)
	assert.Equal(t, content, m.Content)
	assert.Equal(t, []string{"Text", "Work"}, m.Tags)
	assert.Empty(t, h.c.State().Notice)
}

func TestRefineFailureLeavesMemo(t *testing.T) {
	h := newHarness(t)
	note, err := h.c.QuickNote()
	require.NoError(t, err)
	content := "draft"
	_, err = h.c.Update(note.ID, memo.Edit{Content: &content})
	require.NoError(t, err)

	h.trans.RefineErr = errors.New("timeout")
	text, ok := h.c.BeginRefine(note.ID)
	require.True(t, ok)
	r, err := h.c.Refine(context.Background(), text)
	_, err = h.c.RefineDone(note.ID, r, err)
	require.ErrorIs(t, err, transcriber.ErrTranscriptionFailed)
	assert.Equal(t, NoticeRefineFailed, h.c.State().Notice)

	m, _ := h.c.Selected()
	assert.Equal(t, "draft", m.Content)
	assert.Equal(t, memo.QuickNoteTitle, m.Title)
}

func TestFilters(t *testing.T) {
	h := newHarness(t)
	h.record(t)
	groceries, _, err := h.c.ConfirmDraft()
	require.NoError(t, err)
	note, err := h.c.QuickNote()
	require.NoError(t, err)
	_, err = h.c.ToggleFavorite(note.ID)
	require.NoError(t, err)

	assert.Len(t, h.c.Visible(), 2)

	h.c.SetQuery("GROCERY")
	require.Len(t, h.c.Visible(), 1)
	assert.Equal(t, groceries.ID, h.c.Visible()[0].ID)

	h.c.SetQuery("")
	h.c.SetTagFilter("Text")
	require.Len(t, h.c.Visible(), 1)
	assert.Equal(t, note.ID, h.c.Visible()[0].ID)

	h.c.SetTagFilter("")
	h.c.ToggleFavoritesOnly()
	require.Len(t, h.c.Visible(), 1)
	assert.Equal(t, note.ID, h.c.Visible()[0].ID)

	assert.Equal(t, []string{"Text", "Shopping", "Voice"}, h.c.Tags())
}

func TestThemePersists(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, "brownWhite", h.c.State().Theme.ID)

	h.c.ToggleThemeTray()
	assert.True(t, h.c.State().ThemeTrayOpen)
	_, err := h.c.SetTheme("pinkWhite")
	require.NoError(t, err)
	assert.False(t, h.c.State().ThemeTrayOpen)

	next, err := h.c.CycleTheme()
	require.NoError(t, err)
	assert.Equal(t, "blueWhite", next.ID)

	saved, err := theme.NewStore(h.kv).Load()
	require.NoError(t, err)
	assert.Equal(t, "blueWhite", saved.ID)

	_, err = h.c.SetTheme("neon")
	assert.Error(t, err)
}

func TestPersistenceFailureKeepsMemo(t *testing.T) {
	h := newHarness(t)
	h.kv.FailWrites = errors.New("disk full")

	m, err := h.c.QuickNote()
	require.ErrorIs(t, err, memo.ErrPersistenceUnavailable)
	assert.Equal(t, NoticeStorage, h.c.State().Notice)
	got, ok := h.c.Selected()
	require.True(t, ok)
	assert.Equal(t, m.ID, got.ID)
}

func TestLoadCorruptData(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.kv.Set(memo.DataKey, []byte("{not json")))
	h.c.Load()
	assert.Equal(t, NoticeCorrupt, h.c.State().Notice)
	assert.Empty(t, h.c.Visible())
}

func TestRecorderEvents(t *testing.T) {
	h := newHarness(t)
	h.c.RecorderEvent(recorder.Event{Kind: recorder.EventElapsed, Elapsed: 65})
	assert.Equal(t, 65, h.c.State().Elapsed)
	h.c.RecorderEvent(recorder.Event{Kind: recorder.EventSilence, Silence: recorder.SilenceWarn})
	assert.True(t, h.c.State().NoVoice)
	h.c.RecorderEvent(recorder.Event{Kind: recorder.EventSilence, Silence: recorder.SilenceWarnClear})
	assert.False(t, h.c.State().NoVoice)
}

func TestTranscript(t *testing.T) {
	m := memo.Memo{
		Content: "typed",
		AudioEntries: []memo.AudioEntry{
			{ID: "2", Transcript: ""},
			{ID: "1", Transcript: "spoken"},
		},
	}
	assert.Equal(t, "spoken", Transcript(m))
	assert.Equal(t, "typed", Transcript(memo.Memo{Content: "typed"}))
}

func TestCloseWhileCapturing(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.StartRecording(context.Background()))
	require.NoError(t, h.c.Close())
	caps := h.audio.Captures()
	require.Len(t, caps, 1)
	assert.True(t, caps[0].Closed())
	assert.Equal(t, recorder.Idle, h.c.deps.Recorder.State())
}

// Package app holds the application state shared by the terminal UI and
// the command line, and the per-event operations that change it.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"echomemo/audio"
	"echomemo/log"
	"echomemo/memo"
	"echomemo/recorder"
	"echomemo/theme"
	"echomemo/transcriber"
)

// User-visible notices.
const (
	NoticeMicDenied      = "Microphone access denied."
	NoticeProcessing     = "Transcription failed. The recording was kept with placeholder text."
	NoticeStorage        = "Storage is unavailable. Changes are kept in memory only."
	NoticeCorrupt        = "Saved memos could not be read. Starting with an empty list."
	NoticeTargetGone     = "The note this recording belonged to no longer exists."
	NoticeRefineEmpty    = "Write something before refining."
	NoticeRefineFailed   = "Refine failed."
	NoticeNoTranscriber  = "No transcription provider is configured."
	NoticeNoVoice        = "No voice detected. Check your microphone."
	NoticeClipboardEmpty = "Nothing to copy."
)

// DeleteRequest is a staged deletion awaiting confirmation. An empty
// EntryID deletes the whole memo.
type DeleteRequest struct {
	MemoID  string
	EntryID string
}

func (r DeleteRequest) Prompt() string {
	if r.EntryID != "" {
		return "Remove this audio recording?"
	}
	return "Permanently delete this memo?"
}

type State struct {
	Query         string
	TagFilter     string
	FavoritesOnly bool

	// SelectedID is the memo open in the detail view.
	SelectedID string

	Recording recorder.State
	Elapsed   int
	NoVoice   bool

	// Draft is the reviewed copy of the recorder's pending draft. The user
	// may edit its title before confirming.
	Draft *memo.Draft

	PendingDelete *DeleteRequest
	Refining      bool

	Theme         theme.Theme
	ThemeTrayOpen bool

	Notice string
}

type Deps struct {
	Memos       *memo.Store
	Themes      *theme.Store
	Recorder    *recorder.Recorder
	Transcriber transcriber.Client
	Clips       recorder.ClipSink
}

type Controller struct {
	deps Deps

	mu    sync.Mutex
	state State
}

func New(deps Deps) *Controller {
	return &Controller{deps: deps, state: State{Theme: theme.Default()}}
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	if s.Draft != nil {
		d := *s.Draft
		d.Tags = append([]string(nil), s.Draft.Tags...)
		s.Draft = &d
	}
	if s.PendingDelete != nil {
		r := *s.PendingDelete
		s.PendingDelete = &r
	}
	return s
}

func (c *Controller) notify(msg string) {
	c.state.Notice = msg
}

// DismissNotice clears the current notice.
func (c *Controller) DismissNotice() {
	c.mu.Lock()
	c.state.Notice = ""
	c.mu.Unlock()
}

// persisted reports a write-through failure without undoing the mutation.
func (c *Controller) persisted(op string, err error) {
	if err == nil {
		return
	}
	log.PersistenceError(op, err)
	if errors.Is(err, memo.ErrPersistenceUnavailable) {
		c.notify(NoticeStorage)
	} else {
		c.notify(err.Error())
	}
}

// Load restores memos and the theme. Failures are reported as notices; the
// session always continues.
func (c *Controller) Load() {
	memoErr := c.deps.Memos.Load()
	t, themeErr := c.deps.Themes.Load()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Theme = t
	switch {
	case memoErr == nil:
	case errors.Is(memoErr, memo.ErrCorrupt):
		log.Warnf("%v", memoErr)
		c.notify(NoticeCorrupt)
	default:
		log.PersistenceError("load", memoErr)
		c.notify(NoticeStorage)
	}
	if themeErr != nil {
		log.Warnf("%v", themeErr)
	}
}

// Visible returns the memos matching the search query, tag filter and
// favorites toggle, in display order.
func (c *Controller) Visible() []memo.Memo {
	c.mu.Lock()
	q, tag, fav := c.state.Query, c.state.TagFilter, c.state.FavoritesOnly
	c.mu.Unlock()

	var out []memo.Memo
	for _, m := range c.deps.Memos.Search(q) {
		if tag != "" && !m.HasTag(tag) {
			continue
		}
		if fav && !m.IsFavorite {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (c *Controller) Tags() []string {
	return c.deps.Memos.Tags()
}

func (c *Controller) SetQuery(q string) {
	c.mu.Lock()
	c.state.Query = q
	c.mu.Unlock()
}

func (c *Controller) SetTagFilter(tag string) {
	c.mu.Lock()
	c.state.TagFilter = tag
	c.mu.Unlock()
}

func (c *Controller) ToggleFavoritesOnly() {
	c.mu.Lock()
	c.state.FavoritesOnly = !c.state.FavoritesOnly
	c.mu.Unlock()
}

// Open shows a memo in the detail view.
func (c *Controller) Open(id string) (memo.Memo, error) {
	m, ok := c.deps.Memos.Get(id)
	if !ok {
		return memo.Memo{}, fmt.Errorf("%w: %s", memo.ErrNotFound, id)
	}
	c.mu.Lock()
	c.state.SelectedID = id
	c.mu.Unlock()
	return m, nil
}

// Back returns to the list.
func (c *Controller) Back() {
	c.mu.Lock()
	c.state.SelectedID = ""
	c.mu.Unlock()
}

// Selected returns the open memo, if any.
func (c *Controller) Selected() (memo.Memo, bool) {
	c.mu.Lock()
	id := c.state.SelectedID
	c.mu.Unlock()
	if id == "" {
		return memo.Memo{}, false
	}
	return c.deps.Memos.Get(id)
}

// StartRecording opens the microphone. A recording started while a memo is
// open appends to that memo once confirmed.
func (c *Controller) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	target := c.state.SelectedID
	c.mu.Unlock()

	err := c.deps.Recorder.Start(ctx, target)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Recording = c.deps.Recorder.State()
	if err != nil {
		if errors.Is(err, audio.ErrPermissionDenied) {
			c.notify(NoticeMicDenied)
		}
		log.Warnf("start recording: %v", err)
		return err
	}
	c.state.Elapsed = 0
	c.state.NoVoice = false
	return nil
}

// FinishRecording stops capture and waits for the draft. It blocks on the
// transcription call and does not touch controller state; pass the result
// to DraftReady.
func (c *Controller) FinishRecording(ctx context.Context) (memo.Draft, error) {
	c.mu.Lock()
	c.state.Recording = recorder.Finalizing
	c.mu.Unlock()
	return c.deps.Recorder.Stop(ctx)
}

// DraftReady records the outcome of FinishRecording.
func (c *Controller) DraftReady(d memo.Draft, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Recording = c.deps.Recorder.State()
	c.state.NoVoice = false
	if err != nil {
		log.Errorf("finish recording: %v", err)
		c.notify(err.Error())
		return
	}
	c.state.Draft = &d
	if d.Failed {
		c.notify(NoticeProcessing)
	}
}

// RecorderEvent folds ticker events into the state.
func (c *Controller) RecorderEvent(ev recorder.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ev.Kind {
	case recorder.EventElapsed:
		c.state.Elapsed = ev.Elapsed
	case recorder.EventSilence:
		switch ev.Silence {
		case recorder.SilenceWarn, recorder.SilenceRepeat:
			c.state.NoVoice = true
		case recorder.SilenceWarnClear:
			c.state.NoVoice = false
		}
	}
}

// SetDraftTitle edits the title of the draft under review.
func (c *Controller) SetDraftTitle(title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Draft != nil {
		c.state.Draft.Title = title
	}
}

// ConfirmDraft commits the reviewed draft. If the memo it was appending to
// has been deleted meanwhile, the draft is dropped and its clip removed.
func (c *Controller) ConfirmDraft() (memo.Memo, bool, error) {
	d, ok := c.deps.Recorder.Take()
	if !ok {
		return memo.Memo{}, false, errors.New("no draft to confirm")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Draft != nil && c.state.Draft.EntryID == d.EntryID {
		d.Title = c.state.Draft.Title
	}
	c.state.Draft = nil
	c.state.Recording = c.deps.Recorder.State()

	m, committed, err := c.deps.Memos.Commit(d)
	if !committed {
		c.notify(NoticeTargetGone)
		if rmErr := c.deps.Clips.Remove(d.ClipURL); rmErr != nil {
			log.Warnf("remove orphaned clip: %v", rmErr)
		}
		return memo.Memo{}, false, nil
	}
	c.persisted("commit", err)
	log.MemoCommit(m.ID, d.EntryID, d.TargetMemoID != "")
	if d.Transcript != "" {
		log.MemoText(m.ID, d.Transcript)
	}
	return m, true, err
}

// DiscardDraft drops the draft and its clip.
func (c *Controller) DiscardDraft() error {
	err := c.deps.Recorder.Discard()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Draft = nil
	c.state.Recording = c.deps.Recorder.State()
	if err != nil {
		log.Warnf("discard draft: %v", err)
	}
	return err
}

// QuickNote creates an empty text memo and opens it.
func (c *Controller) QuickNote() (memo.Memo, error) {
	m, err := c.deps.Memos.CreateQuickNote()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persisted("quick note", err)
	c.state.SelectedID = m.ID
	return m, err
}

func (c *Controller) Update(id string, e memo.Edit) (memo.Memo, error) {
	m, err := c.deps.Memos.Update(id, e)
	if errors.Is(err, memo.ErrNotFound) {
		return m, err
	}
	c.mu.Lock()
	c.persisted("update", err)
	c.mu.Unlock()
	return m, err
}

func (c *Controller) ToggleFavorite(id string) (memo.Memo, error) {
	m, err := c.deps.Memos.ToggleFavorite(id)
	if errors.Is(err, memo.ErrNotFound) {
		return m, err
	}
	c.mu.Lock()
	c.persisted("favorite", err)
	c.mu.Unlock()
	return m, err
}

// BeginRefine marks a refine in progress and returns the text to send.
// ok is false when the memo has no content.
func (c *Controller) BeginRefine(id string) (text string, ok bool) {
	m, found := c.deps.Memos.Get(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	if !found || strings.TrimSpace(m.Content) == "" {
		c.notify(NoticeRefineEmpty)
		return "", false
	}
	if c.deps.Transcriber == nil {
		c.notify(NoticeNoTranscriber)
		return "", false
	}
	c.state.Refining = true
	return m.Content, true
}

// Refine calls the model. It blocks and does not touch controller state;
// pass the result to RefineDone.
func (c *Controller) Refine(ctx context.Context, text string) (*transcriber.RefineResult, error) {
	return c.deps.Transcriber.RefineText(ctx, text)
}

// RefineDone applies a refine result. A failure leaves the memo unchanged.
func (c *Controller) RefineDone(id string, r *transcriber.RefineResult, err error) (memo.Memo, error) {
	c.mu.Lock()
	c.state.Refining = false
	if err != nil {
		log.Errorf("refine %s: %v", id, err)
		c.notify(NoticeRefineFailed)
		c.mu.Unlock()
		return memo.Memo{}, err
	}
	c.mu.Unlock()

	m, err := c.deps.Memos.ApplyRefine(id, memo.Refinement{Title: r.Title, Content: r.Content, Tags: r.Tags})
	if errors.Is(err, memo.ErrNotFound) {
		return m, err
	}
	c.mu.Lock()
	c.persisted("refine", err)
	c.mu.Unlock()
	return m, err
}

// RequestDelete stages a deletion. Nothing is removed until ConfirmDelete.
func (c *Controller) RequestDelete(memoID, entryID string) {
	c.mu.Lock()
	c.state.PendingDelete = &DeleteRequest{MemoID: memoID, EntryID: entryID}
	c.mu.Unlock()
}

func (c *Controller) CancelDelete() {
	c.mu.Lock()
	c.state.PendingDelete = nil
	c.mu.Unlock()
}

// ConfirmDelete performs the staged deletion and removes the affected clip
// files.
func (c *Controller) ConfirmDelete() error {
	c.mu.Lock()
	req := c.state.PendingDelete
	c.state.PendingDelete = nil
	c.mu.Unlock()
	if req == nil {
		return nil
	}

	var clips []string
	var err error
	if req.EntryID != "" {
		var e memo.AudioEntry
		e, err = c.deps.Memos.DeleteEntry(req.MemoID, req.EntryID)
		if e.URL != "" {
			clips = append(clips, e.URL)
		}
	} else {
		var m memo.Memo
		m, err = c.deps.Memos.Delete(req.MemoID)
		clips = m.ClipURLs()
	}
	if errors.Is(err, memo.ErrNotFound) {
		return err
	}

	for _, url := range clips {
		if rmErr := c.deps.Clips.Remove(url); rmErr != nil {
			log.Warnf("remove clip: %v", rmErr)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if req.EntryID == "" && c.state.SelectedID == req.MemoID {
		c.state.SelectedID = ""
	}
	c.persisted("delete", err)
	return err
}

func (c *Controller) ToggleThemeTray() {
	c.mu.Lock()
	c.state.ThemeTrayOpen = !c.state.ThemeTrayOpen
	c.mu.Unlock()
}

// SetTheme applies and persists a preset.
func (c *Controller) SetTheme(id string) (theme.Theme, error) {
	t, ok := theme.ByID(id)
	if !ok {
		return theme.Theme{}, fmt.Errorf("unknown theme %q", id)
	}
	err := c.deps.Themes.Save(t)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Theme = t
	c.state.ThemeTrayOpen = false
	c.persisted("theme", err)
	return t, err
}

// CycleTheme switches to the next preset.
func (c *Controller) CycleTheme() (theme.Theme, error) {
	c.mu.Lock()
	next := theme.Next(c.state.Theme)
	c.mu.Unlock()
	return c.SetTheme(next.ID)
}

// Transcript returns the text to copy for a memo: the newest entry's
// transcript, or the memo content when there are no transcripts.
func Transcript(m memo.Memo) string {
	for _, e := range m.AudioEntries {
		if e.Transcript != "" {
			return e.Transcript
		}
	}
	return m.Content
}

// Close releases the microphone and any unreviewed draft.
func (c *Controller) Close() error {
	return c.deps.Recorder.Close()
}

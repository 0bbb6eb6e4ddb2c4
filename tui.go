package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"echomemo/app"
	"echomemo/beep"
	"echomemo/clipboard"
	"echomemo/log"
	"echomemo/memo"
	"echomemo/recorder"
	"echomemo/shutdown"
	"echomemo/theme"
	"echomemo/transcriber"
	"echomemo/visualizer"
)

// TUI message types
type frameMsg time.Time
type recorderEventMsg recorder.Event
type recordStartedMsg struct{ err error }
type draftMsg struct {
	draft memo.Draft
	err   error
}
type refineMsg struct {
	id  string
	res *transcriber.RefineResult
	err error
}
type copiedMsg struct{ err error }

type editTarget int

const (
	editNone editTarget = iota
	editSearch
	editTitle
	editContent
	editDraftTitle
)

const (
	frameInterval = 60 * time.Millisecond
	visHeight     = 8
)

type tuiModel struct {
	ctx context.Context
	ctl *app.Controller
	rec *recorder.Recorder

	width, height int
	cursor        int // row in the memo list
	entryCursor   int // row in the detail view's recordings
	tagIndex      int // into ctl.Tags(), -1 for all

	edit  editTarget
	input []rune

	vis   *visualizer.Visualizer
	bins  []byte
	flash string // transient status not owned by the controller
}

func newTUIModel(ctx context.Context, s *session) tuiModel {
	return tuiModel{ctx: ctx, ctl: s.ctl, rec: s.rec, tagIndex: -1}
}

func (c *cli) runTUI(ctx context.Context) error {
	ctx, stop := shutdown.Context(ctx)
	defer stop()

	actx, dev, err := c.openAudio("", "")
	if err != nil {
		return err
	}
	defer actx.Close()

	var prog atomic.Pointer[tea.Program]
	c.keepNotices = true
	s, err := c.session(ctx, actx, dev, func(ev recorder.Event) {
		if p := prog.Load(); p != nil {
			p.Send(recorderEventMsg(ev))
		}
	})
	if err != nil {
		return err
	}
	defer s.ctl.Close()

	go beep.Init()
	log.SessionStart(c.providerName(), c.cfg.Storage.Backend, c.cfg.Audio.Format)

	p := tea.NewProgram(newTUIModel(ctx, s), tea.WithAltScreen(), tea.WithContext(ctx))
	prog.Store(p)
	_, err = p.Run()
	log.SessionEnd(len(c.memos.List()))
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

func frame() tea.Cmd {
	return tea.Tick(frameInterval, func(t time.Time) tea.Msg {
		return frameMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return nil
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.stopVisualizer()
			return m, tea.Quit
		}
		return m.handleKey(msg)

	case frameMsg:
		if m.vis == nil {
			return m, nil
		}
		m.bins = append(m.bins[:0], m.vis.Frequencies()...)
		return m, frame()

	case recorderEventMsg:
		m.ctl.RecorderEvent(recorder.Event(msg))

	case recordStartedMsg:
		if msg.err != nil {
			beep.PlayError()
			return m, nil
		}
		beep.PlayStart()
		m.vis = visualizer.Attach(m.rec)
		return m, frame()

	case draftMsg:
		m.stopVisualizer()
		m.ctl.DraftReady(msg.draft, msg.err)
		if msg.err != nil || msg.draft.Failed {
			beep.PlayError()
		} else {
			beep.PlayEnd()
		}
		if d := m.ctl.State().Draft; d != nil {
			m.edit = editDraftTitle
			m.input = []rune(d.Title)
		}

	case refineMsg:
		if _, err := m.ctl.RefineDone(msg.id, msg.res, msg.err); err == nil {
			beep.PlaySaved()
		}

	case copiedMsg:
		if msg.err != nil {
			m.flash = "Copy failed: " + msg.err.Error()
		} else {
			m.flash = "Transcript copied."
		}
	}
	return m, nil
}

func (m *tuiModel) stopVisualizer() {
	if m.vis != nil {
		m.vis.Close()
		m.vis = nil
	}
	m.bins = nil
}

func (m tuiModel) handleKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	st := m.ctl.State()
	if st.Notice != "" || m.flash != "" {
		m.ctl.DismissNotice()
		m.flash = ""
	}

	switch {
	case st.PendingDelete != nil:
		return m.confirmKey(k)
	case st.Draft != nil:
		return m.reviewKey(k, st)
	case st.Recording == recorder.Capturing:
		switch k.String() {
		case " ", "enter", "r", "esc":
			return m, m.stopRecording()
		}
		return m, nil
	case st.Recording == recorder.Finalizing:
		return m, nil
	case st.ThemeTrayOpen:
		return m.themeKey(k)
	case m.edit != editNone:
		return m.inputKey(k)
	case st.SelectedID != "":
		return m.detailKey(k, st)
	default:
		return m.listKey(k, st)
	}
}

func (m tuiModel) startRecording() tea.Cmd {
	ctx, ctl := m.ctx, m.ctl
	return func() tea.Msg {
		return recordStartedMsg{err: ctl.StartRecording(ctx)}
	}
}

func (m tuiModel) stopRecording() tea.Cmd {
	ctx, ctl := context.WithoutCancel(m.ctx), m.ctl
	return func() tea.Msg {
		d, err := ctl.FinishRecording(ctx)
		return draftMsg{draft: d, err: err}
	}
}

func (m tuiModel) listKey(k tea.KeyMsg, st app.State) (tea.Model, tea.Cmd) {
	memos := m.ctl.Visible()
	switch k.String() {
	case "q":
		return m, tea.Quit
	case "up", "k":
		m.cursor = max(m.cursor-1, 0)
	case "down", "j":
		m.cursor = min(m.cursor+1, max(len(memos)-1, 0))
	case "enter":
		if m.cursor < len(memos) {
			m.ctl.Open(memos[m.cursor].ID)
			m.entryCursor = 0
		}
	case "/":
		m.edit = editSearch
		m.input = []rune(st.Query)
	case "n":
		m.ctl.QuickNote()
		m.entryCursor = 0
	case "r":
		return m, m.startRecording()
	case "f":
		m.ctl.ToggleFavoritesOnly()
		m.cursor = 0
	case "t":
		tags := m.ctl.Tags()
		m.tagIndex++
		if m.tagIndex >= len(tags) {
			m.tagIndex = -1
			m.ctl.SetTagFilter("")
		} else {
			m.ctl.SetTagFilter(tags[m.tagIndex])
		}
		m.cursor = 0
	case "s":
		if m.cursor < len(memos) {
			m.ctl.ToggleFavorite(memos[m.cursor].ID)
		}
	case "d":
		if m.cursor < len(memos) {
			m.ctl.RequestDelete(memos[m.cursor].ID, "")
		}
	case "T":
		m.ctl.ToggleThemeTray()
	}
	return m, nil
}

func (m tuiModel) detailKey(k tea.KeyMsg, st app.State) (tea.Model, tea.Cmd) {
	sel, ok := m.ctl.Selected()
	if !ok {
		m.ctl.Back()
		return m, nil
	}
	switch k.String() {
	case "q":
		return m, tea.Quit
	case "esc", "b":
		m.ctl.Back()
	case "up", "k":
		m.entryCursor = max(m.entryCursor-1, 0)
	case "down", "j":
		m.entryCursor = min(m.entryCursor+1, max(len(sel.AudioEntries)-1, 0))
	case "r":
		return m, m.startRecording()
	case "e":
		m.edit = editContent
		m.input = []rune(sel.Content)
	case "E":
		m.edit = editTitle
		m.input = []rune(sel.Title)
	case "R":
		if st.Refining {
			return m, nil
		}
		text, ok := m.ctl.BeginRefine(sel.ID)
		if !ok {
			return m, nil
		}
		ctx, ctl, id := m.ctx, m.ctl, sel.ID
		return m, func() tea.Msg {
			res, err := ctl.Refine(ctx, text)
			return refineMsg{id: id, res: res, err: err}
		}
	case "c":
		text := app.Transcript(sel)
		if text == "" {
			m.flash = app.NoticeClipboardEmpty
			return m, nil
		}
		return m, func() tea.Msg {
			return copiedMsg{err: clipboard.Copy(text)}
		}
	case "s":
		m.ctl.ToggleFavorite(sel.ID)
	case "d":
		m.ctl.RequestDelete(sel.ID, "")
	case "x":
		if m.entryCursor < len(sel.AudioEntries) {
			m.ctl.RequestDelete(sel.ID, sel.AudioEntries[m.entryCursor].ID)
		}
	case "T":
		m.ctl.ToggleThemeTray()
	}
	return m, nil
}

// inputKey edits the active text field. Content is multi-line and saved
// with ctrl+s; the other fields save on enter.
func (m tuiModel) inputKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.Type {
	case tea.KeyEsc:
		if m.edit == editSearch {
			m.ctl.SetQuery("")
			m.cursor = 0
		}
		m.edit = editNone
		return m, nil
	case tea.KeyEnter:
		if m.edit == editContent {
			m.input = append(m.input, '\n')
			return m, nil
		}
		return m.commitInput(), nil
	case tea.KeyCtrlS:
		return m.commitInput(), nil
	default:
		m.input = editRunes(m.input, k)
	}
	if m.edit == editSearch {
		m.ctl.SetQuery(string(m.input))
		m.cursor = 0
	}
	return m, nil
}

func editRunes(input []rune, k tea.KeyMsg) []rune {
	switch k.Type {
	case tea.KeyBackspace:
		if len(input) > 0 {
			return input[:len(input)-1]
		}
	case tea.KeySpace:
		return append(input, ' ')
	case tea.KeyRunes:
		return append(input, k.Runes...)
	}
	return input
}

func (m tuiModel) commitInput() tuiModel {
	value := string(m.input)
	target := m.edit
	m.edit = editNone
	sel, ok := m.ctl.Selected()
	switch target {
	case editTitle:
		if ok {
			m.ctl.Update(sel.ID, memo.Edit{Title: &value})
		}
	case editContent:
		if ok {
			m.ctl.Update(sel.ID, memo.Edit{Content: &value})
		}
	}
	return m
}

func (m tuiModel) reviewKey(k tea.KeyMsg, st app.State) (tea.Model, tea.Cmd) {
	if m.edit != editDraftTitle {
		m.edit = editDraftTitle
		m.input = []rune(st.Draft.Title)
	}
	switch k.Type {
	case tea.KeyEnter:
		m.ctl.SetDraftTitle(string(m.input))
		m.edit = editNone
		if _, committed, _ := m.ctl.ConfirmDraft(); committed {
			beep.PlaySaved()
		}
	case tea.KeyEsc:
		m.edit = editNone
		m.ctl.DiscardDraft()
	default:
		m.input = editRunes(m.input, k)
	}
	return m, nil
}

func (m tuiModel) confirmKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.String() {
	case "y", "enter":
		m.ctl.ConfirmDelete()
		m.cursor = min(m.cursor, max(len(m.ctl.Visible())-1, 0))
		m.entryCursor = 0
	case "n", "esc":
		m.ctl.CancelDelete()
	}
	return m, nil
}

func (m tuiModel) themeKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch s := k.String(); s {
	case "esc", "T", "enter":
		m.ctl.ToggleThemeTray()
	case "right", "l", "tab":
		m.ctl.CycleTheme()
		m.ctl.ToggleThemeTray()
	case "1", "2", "3", "4", "5":
		m.ctl.SetTheme(theme.Presets[s[0]-'1'].ID)
	}
	return m, nil
}

type styles struct {
	app      lipgloss.Style
	title    lipgloss.Style
	dim      lipgloss.Style
	accent   lipgloss.Style
	selected lipgloss.Style
	box      lipgloss.Style
	notice   lipgloss.Style
	rec      lipgloss.Style
	vis      lipgloss.Color
}

func newStyles(t theme.Theme) styles {
	return styles{
		app:      lipgloss.NewStyle().Background(lipgloss.Color(t.BG)).Foreground(lipgloss.Color(t.TextPrimary)).Padding(1, 2),
		title:    lipgloss.NewStyle().Foreground(lipgloss.Color(t.Primary)).Bold(true),
		dim:      lipgloss.NewStyle().Foreground(lipgloss.Color(t.TextSecondary)),
		accent:   lipgloss.NewStyle().Foreground(lipgloss.Color(t.Accent)),
		selected: lipgloss.NewStyle().Foreground(lipgloss.Color(t.Primary)).Background(lipgloss.Color(t.Surface)).Bold(true),
		box: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color(t.Border)).
			Background(lipgloss.Color(t.Surface)).Padding(1, 2),
		notice: lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true),
		rec:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		vis:    lipgloss.Color(t.VisualizerColor),
	}
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	st := m.ctl.State()
	s := newStyles(st.Theme)
	inner := max(m.width-4, 20)

	var body string
	switch {
	case st.PendingDelete != nil:
		body = s.box.Render(st.PendingDelete.Prompt() + "\n\n" + s.dim.Render("y: delete • n: cancel"))
	case st.Draft != nil:
		body = m.viewReview(s, st, inner)
	case st.Recording == recorder.Capturing || st.Recording == recorder.Finalizing:
		body = m.viewRecording(s, st, inner)
	case st.ThemeTrayOpen:
		body = m.viewThemes(s, st)
	case st.SelectedID != "":
		body = m.viewDetail(s, st, inner)
	default:
		body = m.viewList(s, st, inner)
	}

	header := s.title.Render("echomemo") + s.dim.Render("  "+st.Theme.Name)
	status := ""
	switch {
	case st.Notice != "":
		status = s.notice.Render(st.Notice)
	case m.flash != "":
		status = s.accent.Render(m.flash)
	case st.Refining:
		status = s.dim.Render("Refining...")
	}
	content := lipgloss.JoinVertical(lipgloss.Left, header, "", body, "", status, s.dim.Render(m.help(st)))
	return s.app.Width(m.width).Height(m.height).Render(content)
}

func (m tuiModel) help(st app.State) string {
	switch {
	case st.PendingDelete != nil, st.Draft != nil:
		return ""
	case st.Recording == recorder.Capturing:
		return "space: stop"
	case st.Recording == recorder.Finalizing:
		return ""
	case st.ThemeTrayOpen:
		return "1-5: pick • →: next • esc: close"
	case m.edit == editContent:
		return "ctrl+s: save • esc: cancel"
	case m.edit != editNone:
		return "enter: done • esc: cancel"
	case st.SelectedID != "":
		return "r: record • e: edit • E: title • R: refine • c: copy • s: star • x: delete rec • d: delete • esc: back"
	default:
		return "r: record • n: note • /: search • t: tag • f: favorites • s: star • d: delete • T: theme • q: quit"
	}
}

func (m tuiModel) viewList(s styles, st app.State, width int) string {
	var lines []string
	filters := []string{}
	if st.Query != "" || m.edit == editSearch {
		q := st.Query
		if m.edit == editSearch {
			q = string(m.input) + "▏"
		}
		filters = append(filters, "search: "+q)
	}
	if st.TagFilter != "" {
		filters = append(filters, "#"+st.TagFilter)
	}
	if st.FavoritesOnly {
		filters = append(filters, "★ only")
	}
	if len(filters) > 0 {
		lines = append(lines, s.accent.Render(strings.Join(filters, "  ")), "")
	}

	memos := m.ctl.Visible()
	if len(memos) == 0 {
		lines = append(lines, s.dim.Render("No items found"))
		return strings.Join(lines, "\n")
	}

	rows := max(m.height-10-len(lines), 3)
	start := 0
	if m.cursor >= rows {
		start = m.cursor - rows + 1
	}
	for i := start; i < len(memos) && i < start+rows; i++ {
		line := truncate(listLine(memos[i]), width-2)
		if i == m.cursor {
			lines = append(lines, s.selected.Render("▶ "+line))
		} else {
			lines = append(lines, "  "+line)
		}
	}
	return strings.Join(lines, "\n")
}

func (m tuiModel) viewDetail(s styles, st app.State, width int) string {
	sel, ok := m.ctl.Selected()
	if !ok {
		return s.dim.Render("No items found")
	}
	var lines []string

	title := sel.Title
	if m.edit == editTitle {
		title = string(m.input) + "▏"
	}
	if sel.IsFavorite {
		title += " ★"
	}
	lines = append(lines, s.title.Render(title))
	meta := formatDate(sel.CreatedAt)
	if len(sel.Tags) > 0 {
		meta += "  #" + strings.Join(sel.Tags, " #")
	}
	lines = append(lines, s.dim.Render(meta), "")

	switch {
	case m.edit == editContent:
		lines = append(lines, strings.Split(string(m.input)+"▏", "\n")...)
	case sel.Content == "":
		lines = append(lines, s.dim.Render("(no text, press e to write)"))
	default:
		for _, para := range strings.Split(sel.Content, "\n") {
			lines = append(lines, wrapText(para, width)...)
		}
	}

	lines = append(lines, "", s.title.Render("Recordings"))
	if len(sel.AudioEntries) == 0 {
		lines = append(lines, s.dim.Render("No voice records for this note."))
		return strings.Join(lines, "\n")
	}
	for i, e := range sel.AudioEntries {
		head := fmt.Sprintf("● %s  %s", formatDate(e.CreatedAt), e.Summary)
		if i == m.entryCursor {
			lines = append(lines, s.selected.Render(truncate(head, width)))
		} else {
			lines = append(lines, s.accent.Render(truncate(head, width)))
		}
		if e.Transcript != "" {
			for _, l := range wrapText(e.Transcript, width-2) {
				lines = append(lines, "  "+l)
			}
		}
	}
	return strings.Join(lines, "\n")
}

func (m tuiModel) viewRecording(s styles, st app.State, width int) string {
	if st.Recording == recorder.Finalizing {
		return s.title.Render("Processing...") + "\n\n" + s.dim.Render("Transcribing and titling your memo")
	}
	lines := []string{s.rec.Render("● REC " + formatElapsed(st.Elapsed))}
	if sel, ok := m.ctl.Selected(); ok {
		lines = append(lines, s.dim.Render("adding to "+sel.Title))
	}
	lines = append(lines, "")
	if len(m.bins) > 0 {
		lines = append(lines, visualizer.Render(m.bins, min(width, visualizer.BinCount), visHeight, s.vis))
	}
	if st.NoVoice {
		lines = append(lines, "", s.notice.Render("⚠ "+app.NoticeNoVoice))
	}
	return strings.Join(lines, "\n")
}

func (m tuiModel) viewReview(s styles, st app.State, width int) string {
	d := st.Draft
	title := d.Title
	if m.edit == editDraftTitle {
		title = string(m.input)
	}
	action := "Save as New Memo"
	if d.TargetMemoID != "" {
		action = "Add to Note"
	}
	boxWidth := min(width-4, 72)
	lines := []string{
		s.dim.Render("Title"),
		s.title.Render(title + "▏"),
		"",
	}
	if d.Summary != "" {
		lines = append(lines, wrapText(d.Summary, boxWidth-4)...)
		lines = append(lines, "")
	}
	if d.Transcript != "" {
		for _, l := range wrapText("\""+d.Transcript+"\"", boxWidth-4) {
			lines = append(lines, s.dim.Render(l))
		}
		lines = append(lines, "")
	}
	if len(d.Tags) > 0 {
		lines = append(lines, s.accent.Render("#"+strings.Join(d.Tags, " #")), "")
	}
	lines = append(lines, s.title.Render("enter: "+action)+s.dim.Render("  •  esc: Discard"))
	return s.box.Width(boxWidth).Render(strings.Join(lines, "\n"))
}

func (m tuiModel) viewThemes(s styles, st app.State) string {
	lines := []string{s.title.Render("Theme"), ""}
	for i, t := range theme.Presets {
		swatch := lipgloss.NewStyle().Background(lipgloss.Color(t.BG)).Render("  ") +
			lipgloss.NewStyle().Background(lipgloss.Color(t.Accent)).Render("  ")
		line := fmt.Sprintf("%d %s %s", i+1, swatch, t.Name)
		if t.ID == st.Theme.ID {
			line += s.accent.Render("  ✓")
		}
		lines = append(lines, line)
	}
	return s.box.Render(strings.Join(lines, "\n"))
}

// formatElapsed renders whole seconds as MM:SS.
func formatElapsed(seconds int) string {
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

func truncate(s string, width int) string {
	r := []rune(s)
	if width <= 1 || len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}

// wrapText breaks text at the last space before width, or hard-wraps words
// longer than width.
func wrapText(text string, width int) []string {
	r := []rune(text)
	if len(r) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(r) > width {
		splitAt := width
		for i := width; i > 0; i-- {
			if r[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, string(r[:splitAt]))
		r = []rune(strings.TrimLeft(string(r[splitAt:]), " "))
	}
	if len(r) > 0 {
		lines = append(lines, string(r))
	}
	return lines
}

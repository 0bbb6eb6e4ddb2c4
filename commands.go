package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"echomemo/audio"
	"echomemo/doctor"
	"echomemo/memo"
	"echomemo/theme"
)

func (c *cli) tuiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the terminal UI (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runTUI(cmd.Context())
		},
	}
}

func (c *cli) listCmd() *cobra.Command {
	var (
		query     string
		tag       string
		favorites bool
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memos, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := c.session(cmd.Context(), nil, nil, nil)
			if err != nil {
				return err
			}
			s.ctl.SetQuery(query)
			s.ctl.SetTagFilter(tag)
			if favorites {
				s.ctl.ToggleFavoritesOnly()
			}
			memos := s.ctl.Visible()

			if asJSON {
				if memos == nil {
					memos = []memo.Memo{}
				}
				enc := json.NewEncoder(c.out)
				enc.SetIndent("", "  ")
				return enc.Encode(memos)
			}
			if len(memos) == 0 {
				fmt.Fprintln(c.out, "No items found")
				return nil
			}
			for _, m := range memos {
				fmt.Fprintln(c.out, listLine(m))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "Search title, content and tags")
	cmd.Flags().StringVar(&tag, "tag", "", "Only memos carrying this tag")
	cmd.Flags().BoolVar(&favorites, "favorites", false, "Only favorites")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}

func listLine(m memo.Memo) string {
	star := " "
	if m.IsFavorite {
		star = "★"
	}
	line := fmt.Sprintf("%s %s  %s  %s", star, m.ID, formatDate(m.CreatedAt), m.Title)
	if len(m.Tags) > 0 {
		line += "  [" + strings.Join(m.Tags, ", ") + "]"
	}
	if n := len(m.AudioEntries); n > 0 {
		line += fmt.Sprintf("  (%d rec)", n)
	}
	return line
}

func formatDate(ms int64) string {
	return time.UnixMilli(ms).Format("2006-01-02 15:04")
}

func (c *cli) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a memo with its recordings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.session(cmd.Context(), nil, nil, nil)
			if err != nil {
				return err
			}
			m, err := s.ctl.Open(args[0])
			if err != nil {
				return err
			}
			printMemo(c.out, m)
			return nil
		},
	}
}

func printMemo(w io.Writer, m memo.Memo) {
	fmt.Fprintf(w, "%s\n", m.Title)
	fmt.Fprintf(w, "id: %s  created: %s", m.ID, formatDate(m.CreatedAt))
	if m.IsFavorite {
		fmt.Fprint(w, "  ★ favorite")
	}
	fmt.Fprintln(w)
	if len(m.Tags) > 0 {
		fmt.Fprintf(w, "tags: %s\n", strings.Join(m.Tags, ", "))
	}
	if m.Content != "" {
		fmt.Fprintf(w, "\n%s\n", m.Content)
	}
	fmt.Fprintln(w)
	if len(m.AudioEntries) == 0 {
		fmt.Fprintln(w, "No voice records for this note.")
		return
	}
	for _, e := range m.AudioEntries {
		fmt.Fprintf(w, "● %s  %s\n", formatDate(e.CreatedAt), e.ID)
		if e.Summary != "" {
			fmt.Fprintf(w, "  %s\n", e.Summary)
		}
		if e.Transcript != "" {
			fmt.Fprintf(w, "  \"%s\"\n", e.Transcript)
		}
		fmt.Fprintf(w, "  %s\n", e.URL)
	}
}

func (c *cli) noteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "note [text...]",
		Short: "Create a quick text note",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.session(cmd.Context(), nil, nil, nil)
			if err != nil {
				return err
			}
			m, err := s.ctl.QuickNote()
			if err != nil {
				return err
			}
			if text := strings.Join(args, " "); text != "" {
				if m, err = s.ctl.Update(m.ID, memo.Edit{Content: &text}); err != nil {
					return err
				}
			}
			fmt.Fprintf(c.out, "Created %s\n", m.ID)
			return nil
		},
	}
}

func (c *cli) editCmd() *cobra.Command {
	var title, content string
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change a memo's title or content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var e memo.Edit
			if cmd.Flags().Changed("title") {
				e.Title = &title
			}
			if cmd.Flags().Changed("content") {
				e.Content = &content
			}
			if e.Title == nil && e.Content == nil {
				return fmt.Errorf("nothing to change: pass --title or --content")
			}
			s, err := c.session(cmd.Context(), nil, nil, nil)
			if err != nil {
				return err
			}
			m, err := s.ctl.Update(args[0], e)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Updated %s\n", m.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "New title")
	cmd.Flags().StringVar(&content, "content", "", "New content")
	return cmd
}

func (c *cli) favoriteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "favorite <id>",
		Short: "Toggle a memo's favorite flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.session(cmd.Context(), nil, nil, nil)
			if err != nil {
				return err
			}
			m, err := s.ctl.ToggleFavorite(args[0])
			if err != nil {
				return err
			}
			if m.IsFavorite {
				fmt.Fprintf(c.out, "★ %s\n", m.Title)
			} else {
				fmt.Fprintf(c.out, "☆ %s\n", m.Title)
			}
			return nil
		},
	}
}

func (c *cli) refineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refine <id>",
		Short: "Let the model tidy a note's text, title and tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.session(cmd.Context(), nil, nil, nil)
			if err != nil {
				return err
			}
			id := args[0]
			if _, err := s.ctl.Open(id); err != nil {
				return err
			}
			text, ok := s.ctl.BeginRefine(id)
			if !ok {
				return fmt.Errorf("%s", s.ctl.State().Notice)
			}
			fmt.Fprintln(c.out, "Refining...")
			r, err := s.ctl.Refine(cmd.Context(), text)
			m, err := s.ctl.RefineDone(id, r, err)
			if err != nil {
				return err
			}
			printMemo(c.out, m)
			return nil
		},
	}
}

func (c *cli) deleteCmd() *cobra.Command {
	var (
		entry string
		yes   bool
	)
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a memo, or one recording with --entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.session(cmd.Context(), nil, nil, nil)
			if err != nil {
				return err
			}
			if _, err := s.ctl.Open(args[0]); err != nil {
				return err
			}
			s.ctl.RequestDelete(args[0], entry)
			req := s.ctl.State().PendingDelete
			if !yes && !c.confirm(req.Prompt()) {
				s.ctl.CancelDelete()
				fmt.Fprintln(c.out, "Aborted.")
				return nil
			}
			if err := s.ctl.ConfirmDelete(); err != nil {
				return err
			}
			c.notice(s.ctl)
			fmt.Fprintln(c.out, "Deleted.")
			return nil
		},
	}
	cmd.Flags().StringVar(&entry, "entry", "", "Delete only this recording")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

// lines delivers input lines from a single reader goroutine so prompts
// never race for stdin. The channel closes at EOF.
func (c *cli) lines() <-chan string {
	c.linesOnce.Do(func() {
		ch := make(chan string)
		go func() {
			defer close(ch)
			sc := bufio.NewScanner(c.in)
			for sc.Scan() {
				ch <- sc.Text()
			}
		}()
		c.lineCh = ch
	})
	return c.lineCh
}

// confirm asks a yes/no question on the command's input. Anything but y or
// yes is a no.
func (c *cli) confirm(question string) bool {
	fmt.Fprintf(c.out, "%s [y/N] ", question)
	answer := strings.TrimSpace(strings.ToLower(<-c.lines()))
	return answer == "y" || answer == "yes"
}

func (c *cli) themeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "theme [id]",
		Short: "Show or set the color theme",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.session(cmd.Context(), nil, nil, nil)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				t, err := s.ctl.SetTheme(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "Theme set to %s\n", t.Name)
				return nil
			}
			current := s.ctl.State().Theme
			for _, t := range theme.Presets {
				mark := " "
				if t.ID == current.ID {
					mark = "*"
				}
				fmt.Fprintf(c.out, "%s %-11s %s\n", mark, t.ID, t.Name)
			}
			return nil
		},
	}
}

func (c *cli) devicesCmd() *cobra.Command {
	var pick bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List microphones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			actx, err := audio.NewContext()
			if err != nil {
				return fmt.Errorf("initializing audio: %w", err)
			}
			defer actx.Close()

			if pick {
				dev, err := audio.SelectDevice(actx, c.cfg.Audio.Device, os.Stdin, c.out)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "Selected %s. Set audio.device: %q in %s to keep it.\n", dev.Name, dev.Name, c.configFile())
				return nil
			}

			devices, err := actx.Devices()
			if err != nil {
				return err
			}
			for _, d := range devices {
				mark := " "
				if d.Name == c.cfg.Audio.Device {
					mark = "*"
				}
				bt := ""
				if audio.IsBluetooth(d.Name) {
					bt = " (Bluetooth, lower audio quality)"
				}
				fmt.Fprintf(c.out, "%s %s%s\n", mark, d.Name, bt)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&pick, "pick", false, "Choose a device interactively")
	return cmd
}

func (c *cli) configFile() string {
	if c.configPath != "" {
		return c.configPath
	}
	return "config.yaml"
}

func (c *cli) doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run interactive system diagnostics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.open(); err != nil {
				return err
			}
			actx, err := audio.NewContext()
			if err != nil {
				fmt.Fprintf(c.errOut, "Warning: audio unavailable: %v\n", err)
			} else {
				defer actx.Close()
			}
			d := doctor.Deps{
				Store:       c.store,
				Transcriber: c.transcriber(cmd.Context()),
				Clipboard:   doctor.SystemClipboard,
				Format:      c.cfg.Audio.Format,
				In:          c.in,
				Out:         c.out,
				Terminal:    true,
			}
			if actx != nil {
				d.Audio = actx
				d.Device, err = audio.FindDevice(actx, c.cfg.Audio.Device)
				if err != nil {
					fmt.Fprintf(c.errOut, "Warning: %v, using default device\n", err)
				}
			}
			if doctor.Run(cmd.Context(), d) != 0 {
				return errChecksFailed
			}
			return nil
		},
	}
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of echomemo",
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(c.out, "echomemo %s\n", version)
		},
	}
}

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"echomemo/audio"
	"echomemo/beep"
	"echomemo/log"
	"echomemo/memo"
	"echomemo/shutdown"
)

func (c *cli) recordCmd() *cobra.Command {
	var (
		appendTo string
		wavPath  string
		duration time.Duration
		device   string
		yes      bool
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a voice memo from the command line",
		Long: `Record captures the microphone until Enter is pressed (or --duration
elapses), transcribes the clip and asks whether to keep the result.

With --wav the clip is read from a WAV file instead of the microphone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := shutdown.Context(cmd.Context())
			defer stop()

			actx, dev, err := c.openAudio(wavPath, device)
			if err != nil {
				return err
			}
			defer actx.Close()

			s, err := c.session(ctx, actx, dev, nil)
			if err != nil {
				return err
			}
			defer s.ctl.Close()
			log.SessionStart(c.providerName(), c.cfg.Storage.Backend, c.cfg.Audio.Format)

			if appendTo != "" {
				if _, err := s.ctl.Open(appendTo); err != nil {
					return err
				}
			}
			return c.record(ctx, s, wavPath != "", duration, yes)
		},
	}
	cmd.Flags().StringVar(&appendTo, "append", "", "Add the recording to this memo")
	cmd.Flags().StringVar(&wavPath, "wav", "", "Read audio from a WAV file instead of the microphone")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Stop after this long")
	cmd.Flags().StringVar(&device, "device", "", "Use named microphone device")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Keep the result without asking")
	return cmd
}

// openAudio returns a WAV replay context when wavPath is set, otherwise the
// platform backend with the configured or named device.
func (c *cli) openAudio(wavPath, device string) (audio.Context, *audio.DeviceInfo, error) {
	if wavPath != "" {
		fake, err := audio.NewFakeContext(wavPath, false)
		if err != nil {
			return nil, nil, fmt.Errorf("loading WAV: %w", err)
		}
		return fake, nil, nil
	}
	actx, err := audio.NewContext()
	if err != nil {
		return nil, nil, fmt.Errorf("initializing audio: %w", err)
	}
	if device == "" {
		device = c.cfg.Audio.Device
	}
	dev, err := audio.FindDevice(actx, device)
	if err != nil {
		log.Warnf("device selection failed: %v", err)
		fmt.Fprintf(c.errOut, "Warning: %v, falling back to default device\n", err)
		dev = nil
	}
	return actx, dev, nil
}

func (c *cli) record(ctx context.Context, s *session, replay bool, duration time.Duration, yes bool) error {
	if err := s.ctl.StartRecording(ctx); err != nil {
		c.notice(s.ctl)
		beep.PlayError()
		return err
	}
	beep.PlayStart()

	if !replay {
		if duration > 0 {
			fmt.Fprintf(c.out, "Recording for %s (Enter to stop early)...\n", duration)
		} else {
			fmt.Fprintln(c.out, "Recording... press Enter to stop.")
		}
		c.waitStop(ctx, duration)
	}

	fmt.Fprintln(c.out, "Processing...")
	// Finalizing survives an interrupt so the clip is not lost.
	d, err := s.ctl.FinishRecording(context.WithoutCancel(ctx))
	s.ctl.DraftReady(d, err)
	if err != nil {
		beep.PlayError()
		return err
	}
	beep.PlayEnd()
	c.notice(s.ctl)
	printDraft(c, d)

	question := "Save as New Memo?"
	if d.TargetMemoID != "" {
		question = "Add to Note?"
	}
	if !yes && !c.confirm(question) {
		if err := s.ctl.DiscardDraft(); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "Discarded.")
		return nil
	}

	m, committed, err := s.ctl.ConfirmDraft()
	c.notice(s.ctl)
	if err != nil && !committed {
		return err
	}
	if !committed {
		return nil
	}
	beep.PlaySaved()
	fmt.Fprintf(c.out, "Saved %s (%s)\n", m.ID, m.Title)
	return err
}

// waitStop returns on Enter, after duration (if positive) or when ctx ends.
// Closed input only ends the wait when there is no duration.
func (c *cli) waitStop(ctx context.Context, duration time.Duration) {
	lines := c.lines()
	var timeout <-chan time.Time
	if duration > 0 {
		t := time.NewTimer(duration)
		defer t.Stop()
		timeout = t.C
	}
	for {
		select {
		case _, ok := <-lines:
			if ok || timeout == nil {
				return
			}
			lines = nil
		case <-timeout:
			return
		case <-ctx.Done():
			return
		}
	}
}

func printDraft(c *cli, d memo.Draft) {
	fmt.Fprintf(c.out, "\n%s\n", d.Title)
	if d.Summary != "" {
		fmt.Fprintf(c.out, "  %s\n", d.Summary)
	}
	if d.Transcript != "" {
		fmt.Fprintf(c.out, "  \"%s\"\n", d.Transcript)
	}
	if len(d.Tags) > 0 {
		fmt.Fprintf(c.out, "  tags: %s\n", strings.Join(d.Tags, ", "))
	}
	fmt.Fprintln(c.out)
}


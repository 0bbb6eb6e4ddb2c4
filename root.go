package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"

	"echomemo/app"
	"echomemo/audio"
	"echomemo/beep"
	"echomemo/config"
	"echomemo/kv"
	"echomemo/log"
	"echomemo/memo"
	"echomemo/recorder"
	"echomemo/theme"
	"echomemo/transcriber"
)

// cli carries flag values and the resources opened for one invocation.
type cli struct {
	configPath string
	logPath    string
	verbose    bool

	cfg    *config.Config
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	linesOnce sync.Once
	lineCh    chan string

	// keepNotices leaves controller notices for the TUI to show.
	keepNotices bool

	store  kv.Store
	memos  *memo.Store
	themes *theme.Store
	clips  recorder.ClipDir
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "echomemo",
		Short: "Voice memos in the terminal",
		Long: `echomemo records voice memos, transcribes and titles them with an AI
model, and keeps them next to your typed notes.

Run without a command to open the terminal UI.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			c.teardown()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runTUI(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default: "+config.DefaultPath()+")")
	root.PersistentFlags().StringVar(&c.logPath, "logpath", "", "log directory (default: OS-specific location, use ./ for current dir)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		c.tuiCmd(),
		c.listCmd(),
		c.showCmd(),
		c.noteCmd(),
		c.editCmd(),
		c.favoriteCmd(),
		c.recordCmd(),
		c.refineCmd(),
		c.deleteCmd(),
		c.themeCmd(),
		c.devicesCmd(),
		c.doctorCmd(),
		c.versionCmd(),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command) error {
	c.in = cmd.InOrStdin()
	c.out = cmd.OutOrStdout()
	c.errOut = cmd.ErrOrStderr()

	path := c.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Read(path)
	if err != nil {
		return err
	}
	c.cfg = cfg

	logFlag := c.logPath
	if logFlag == "" {
		logFlag = cfg.App.LogPath
	}
	dir, err := log.ResolveDir(logFlag)
	if err != nil {
		return fmt.Errorf("failed to resolve log directory: %w", err)
	}
	log.SetDir(dir)
	level := cfg.App.LogLevel
	if c.verbose {
		level = "debug"
	}
	if err := log.SetLevel(level); err != nil {
		return err
	}
	if err := log.Init(); err != nil {
		fmt.Fprintf(c.errOut, "Warning: could not init logging: %v\n", err)
	} else {
		initCrashLog()
	}

	if !cfg.Audio.Beep {
		beep.Disable()
	}
	return nil
}

func (c *cli) teardown() {
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			log.Warnf("close store: %v", err)
		}
		c.store = nil
	}
	log.Close()
}

// open connects to the configured storage backend.
func (c *cli) open() error {
	if c.store != nil {
		return nil
	}
	store, err := kv.Open(c.cfg.Storage.Backend, c.cfg.Storage.Dir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	c.store = store
	c.memos = memo.New(store)
	c.themes = theme.NewStore(store)
	c.clips = recorder.ClipDir{Dir: c.cfg.Storage.ClipDir()}
	return nil
}

// transcriber returns nil when no API key is configured; recordings then
// fall back to placeholder text.
func (c *cli) transcriber(ctx context.Context) transcriber.Client {
	client, err := transcriber.New(ctx, c.cfg.Transcription.Client())
	if err != nil {
		log.Warnf("transcription disabled: %v", err)
		return nil
	}
	if w, ok := client.(transcriber.Warmer); ok {
		go func() {
			if d := w.Warm(ctx); d > 0 {
				log.Debug(fmt.Sprintf("warm %s: tls %dms", client.Name(), d.Milliseconds()))
			}
		}()
	}
	return client
}

type session struct {
	ctl *app.Controller
	rec *recorder.Recorder
}

// session opens storage and builds a loaded controller. a may be nil for
// commands that never record.
func (c *cli) session(ctx context.Context, a audio.Context, dev *audio.DeviceInfo, onEvent func(recorder.Event)) (*session, error) {
	if err := c.open(); err != nil {
		return nil, err
	}
	client := c.transcriber(ctx)
	rec := recorder.New(recorder.Config{
		Audio:       a,
		Device:      dev,
		Transcriber: client,
		Clips:       c.clips,
		Format:      c.cfg.Audio.Format,
		OnEvent:     onEvent,
	})
	ctl := app.New(app.Deps{
		Memos:       c.memos,
		Themes:      c.themes,
		Recorder:    rec,
		Transcriber: client,
		Clips:       c.clips,
	})
	ctl.Load()
	if !c.keepNotices {
		c.notice(ctl)
	}
	return &session{ctl: ctl, rec: rec}, nil
}

// notice prints and clears the controller's pending notice.
func (c *cli) notice(ctl *app.Controller) {
	if n := ctl.State().Notice; n != "" {
		fmt.Fprintf(c.errOut, "%s\n", n)
		ctl.DismissNotice()
	}
}

func (c *cli) providerName() string {
	return c.cfg.Transcription.Provider
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/jwulff/patientsim/internal/app"
	"github.com/jwulff/patientsim/internal/archive"
	"github.com/jwulff/patientsim/internal/capture"
	"github.com/jwulff/patientsim/internal/config"
	"github.com/jwulff/patientsim/internal/db"
	"github.com/jwulff/patientsim/internal/logging"
	"github.com/jwulff/patientsim/internal/prompt"
	"github.com/jwulff/patientsim/internal/session"
	"github.com/jwulff/patientsim/internal/speech"
	"github.com/jwulff/patientsim/internal/transcribe"
	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	tea "github.com/charmbracelet/bubbletea"
)

const version = "v0.1.0"

func main() {
	var (
		configPath  = flag.String("config", "", "Config file (default: $XDG_CONFIG_HOME/patientsim/config.yaml)")
		serverURL   = flag.String("server", "", "Prompt server base URL (overrides server.baseURL)")
		startMuted  = flag.Bool("mute", false, "Start with narration muted")
		noArchive   = flag.Bool("no-archive", false, "Do not archive recordings and feedback")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("patientsim %s\n", version)
		return
	}

	if err := run(*configPath, *serverURL, *startMuted, *noArchive); err != nil {
		fmt.Fprintf(os.Stderr, "patientsim: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, serverURL string, startMuted, noArchive bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if serverURL != "" {
		cfg.Server.BaseURL = serverURL
	}

	// The TUI owns the terminal, so logs go to a file.
	log, logCloser, err := logging.File(cfg.Log.File, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	log.Info().Str("version", version).Str("server", cfg.Server.BaseURL).Msg("patientsim starting")

	var oa *openai.Client
	if cfg.OpenAI.APIKey != "" {
		oc := openai.DefaultConfig(cfg.OpenAI.APIKey)
		if cfg.OpenAI.BaseURL != "" {
			oc.BaseURL = cfg.OpenAI.BaseURL
		}
		oa = openai.NewClientWithConfig(oc)
	}

	deps := session.Deps{
		Source:   prompt.NewClient(cfg.Server.BaseURL, cfg.Server.Timeout),
		Narrator: newNarrator(cfg, oa, log),
	}
	if cfg.Capture.Enabled {
		deps.Capturer = capture.NewFFmpegCapturer(cfg.Capture.FFmpeg, cfg.Capture.Format, cfg.Capture.Device, log)
	}

	var arch *archive.Archiver
	if cfg.Archive.Enabled && !noArchive {
		store, err := db.Open(cfg.Archive.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		var t transcribe.Transcriber
		if cfg.TranscriptionEnabled() {
			t = transcribe.NewWhisper(oa)
		}
		arch = archive.New(store, cfg.Archive.Dir, t, log)
		if _, err := arch.Begin(cfg.Case.Topic); err != nil {
			return fmt.Errorf("begin archive session: %w", err)
		}
		defer arch.Wait()
	}

	var prog *tea.Program
	hooks := session.Hooks{
		OnExit: func() {
			if arch != nil {
				arch.Finish(nil)
			}
			if prog != nil {
				prog.Send(app.SessionExitedMsg{})
			}
		},
	}
	if arch != nil {
		hooks.OnRecording = arch.SaveRecording
		hooks.OnFeedback = func(fb session.Feedback) { arch.Finish(&fb) }
	}

	ctrl := session.New(deps, hooks, session.Options{
		VoiceMatch: cfg.Narration.VoiceMatch,
		Pitch:      cfg.Narration.Pitch,
		Rate:       cfg.Narration.Rate,
		Pause:      cfg.Narration.Pause,
		Watchdog:   cfg.Narration.Watchdog,
		Logger:     &log,
	})
	defer ctrl.Close()
	if startMuted || cfg.Narration.StartMuted {
		ctrl.ToggleMute()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prog = tea.NewProgram(app.New(ctx, ctrl, cfg.Case), tea.WithAltScreen())
	if _, err := prog.Run(); err != nil {
		return fmt.Errorf("run tui: %w", err)
	}
	log.Info().Msg("patientsim exiting")
	return nil
}

// newNarrator picks the configured speech engine. A missing system engine
// degrades to silent sessions rather than failing startup.
func newNarrator(cfg config.Config, oa *openai.Client, log zerolog.Logger) session.Narrator {
	switch cfg.Narration.Engine {
	case "system":
		n, err := speech.NewCommandNarrator(log)
		if err != nil {
			log.Warn().Err(err).Msg("no speech engine, narration disabled")
			return nil
		}
		return n
	case "openai":
		if oa == nil {
			return nil
		}
		return speech.NewOpenAINarrator(oa, cfg.Narration.OpenAIVoice, cfg.Narration.Player, log)
	}
	return nil
}

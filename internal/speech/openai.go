package speech

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"github.com/jwulff/patientsim/internal/session"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIVoice is used when no configured fragment matches.
const DefaultOpenAIVoice = "onyx"

var openAIVoices = []openai.SpeechVoice{
	openai.VoiceAlloy, openai.VoiceEcho, openai.VoiceFable,
	openai.VoiceOnyx, openai.VoiceNova, openai.VoiceShimmer,
}

// OpenAINarrator synthesizes speech with OpenAI TTS and plays the result
// with a local audio player.
type OpenAINarrator struct {
	client *openai.Client
	voice  openai.SpeechVoice
	player []string
	log    zerolog.Logger

	command func(ctx context.Context, name string, args ...string) *exec.Cmd

	mu  sync.Mutex
	cur *ttsRun
}

type ttsRun struct {
	cancel   context.CancelFunc
	canceled bool
}

var _ session.Narrator = (*OpenAINarrator)(nil)

// NewOpenAINarrator returns a narrator using client. An empty voice means
// DefaultOpenAIVoice; an empty player picks a platform default.
func NewOpenAINarrator(client *openai.Client, voice string, player []string, log zerolog.Logger) *OpenAINarrator {
	if voice == "" {
		voice = DefaultOpenAIVoice
	}
	if len(player) == 0 {
		player = defaultPlayer()
	}
	return &OpenAINarrator{
		client:  client,
		voice:   openai.SpeechVoice(voice),
		player:  player,
		log:     log.With().Str("component", "narrator").Str("engine", "openai").Logger(),
		command: exec.CommandContext,
	}
}

func defaultPlayer() []string {
	if runtime.GOOS == "darwin" {
		return []string{"afplay"}
	}
	return []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet"}
}

// Voices lists the OpenAI voice catalogue.
func (n *OpenAINarrator) Voices() []session.Voice {
	voices := make([]session.Voice, len(openAIVoices))
	for i, v := range openAIVoices {
		voices[i] = session.Voice{Name: string(v), Lang: "en"}
	}
	return voices
}

// Speak synthesizes and plays u in the background.
func (n *OpenAINarrator) Speak(u session.Utterance, done func(error)) {
	ctx, cancel := context.WithCancel(context.Background())
	run := &ttsRun{cancel: cancel}

	n.mu.Lock()
	n.cancelLocked()
	n.cur = run
	n.mu.Unlock()

	go func() {
		defer cancel()
		err := n.play(ctx, u)

		n.mu.Lock()
		canceled := run.canceled
		if n.cur == run {
			n.cur = nil
		}
		n.mu.Unlock()

		switch {
		case canceled:
			done(ErrCanceled)
		case err != nil:
			n.log.Warn().Err(err).Msg("speak")
			done(err)
		default:
			done(nil)
		}
	}()
}

func (n *OpenAINarrator) play(ctx context.Context, u session.Utterance) error {
	voice := n.voice
	if u.Voice != "" {
		voice = openai.SpeechVoice(u.Voice)
	}
	speed := u.Rate
	if speed < 0.25 || speed > 4 {
		speed = 1
	}

	resp, err := n.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          u.Text,
		Voice:          voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          speed,
	})
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	defer resp.Close()

	f, err := os.CreateTemp("", "patientsim-tts-*.mp3")
	if err != nil {
		return fmt.Errorf("create audio file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := io.Copy(f, resp); err != nil {
		f.Close()
		return fmt.Errorf("write audio: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write audio: %w", err)
	}

	args := append(append([]string(nil), n.player[1:]...), f.Name())
	if err := n.command(ctx, n.player[0], args...).Run(); err != nil {
		return fmt.Errorf("play audio: %w", err)
	}
	return nil
}

// Cancel aborts synthesis or playback in flight.
func (n *OpenAINarrator) Cancel() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelLocked()
}

func (n *OpenAINarrator) cancelLocked() {
	if n.cur == nil {
		return
	}
	n.cur.canceled = true
	n.cur.cancel()
	n.cur = nil
}

// Package speech implements session.Narrator with local TTS tools and
// with OpenAI text-to-speech.
package speech

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/jwulff/patientsim/internal/session"
	"github.com/rs/zerolog"
)

// ErrCanceled is reported to the done callback of an utterance that was
// stopped by Cancel or replaced by a newer Speak.
var ErrCanceled = errors.New("narration canceled")

const baseWPM = 175

// engine describes one command line TTS tool.
type engine struct {
	bin         string
	voicesArgs  []string
	parseVoices func(string) []session.Voice
	args        func(session.Utterance) []string
}

var sayEngine = engine{
	bin:         "say",
	voicesArgs:  []string{"-v", "?"},
	parseVoices: parseSayVoices,
	args:        sayArgs,
}

func espeakEngine(bin string) engine {
	return engine{
		bin:         bin,
		voicesArgs:  []string{"--voices"},
		parseVoices: parseEspeakVoices,
		args:        espeakArgs,
	}
}

// CommandNarrator runs one TTS subprocess at a time.
type CommandNarrator struct {
	eng engine
	log zerolog.Logger

	// command builds the subprocess; tests swap it.
	command func(name string, args ...string) *exec.Cmd

	mu     sync.Mutex
	voices []session.Voice
	cur    *utterance
}

type utterance struct {
	cmd      *exec.Cmd
	canceled bool
}

var _ session.Narrator = (*CommandNarrator)(nil)

// NewCommandNarrator picks the platform TTS tool and starts loading its
// voice list in the background.
func NewCommandNarrator(log zerolog.Logger) (*CommandNarrator, error) {
	eng, err := detectEngine()
	if err != nil {
		return nil, err
	}
	n := newCommandNarrator(eng, log)
	go n.loadVoices()
	return n, nil
}

func newCommandNarrator(eng engine, log zerolog.Logger) *CommandNarrator {
	return &CommandNarrator{
		eng:     eng,
		log:     log.With().Str("component", "narrator").Str("engine", eng.bin).Logger(),
		command: exec.Command,
	}
}

func detectEngine() (engine, error) {
	if runtime.GOOS == "darwin" {
		if _, err := exec.LookPath("say"); err == nil {
			return sayEngine, nil
		}
	}
	for _, bin := range []string{"espeak-ng", "espeak"} {
		if _, err := exec.LookPath(bin); err == nil {
			return espeakEngine(bin), nil
		}
	}
	return engine{}, errors.New("no speech synthesizer found (need say, espeak-ng or espeak)")
}

func (n *CommandNarrator) loadVoices() {
	out, err := n.command(n.eng.bin, n.eng.voicesArgs...).Output()
	if err != nil {
		n.log.Warn().Err(err).Msg("list voices")
		return
	}
	voices := n.eng.parseVoices(string(out))
	n.mu.Lock()
	n.voices = voices
	n.mu.Unlock()
	n.log.Debug().Int("count", len(voices)).Msg("voices loaded")
}

// Voices returns the voices loaded so far.
func (n *CommandNarrator) Voices() []session.Voice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]session.Voice(nil), n.voices...)
}

// Speak starts the TTS process for u, canceling any utterance in flight.
func (n *CommandNarrator) Speak(u session.Utterance, done func(error)) {
	cmd := n.command(n.eng.bin, n.eng.args(u)...)
	ut := &utterance{cmd: cmd}

	n.mu.Lock()
	n.cancelLocked()
	if err := cmd.Start(); err != nil {
		n.mu.Unlock()
		go done(fmt.Errorf("start %s: %w", n.eng.bin, err))
		return
	}
	n.cur = ut
	n.mu.Unlock()

	go func() {
		err := cmd.Wait()

		n.mu.Lock()
		canceled := ut.canceled
		if n.cur == ut {
			n.cur = nil
		}
		n.mu.Unlock()

		switch {
		case canceled:
			done(ErrCanceled)
		case err != nil:
			n.log.Warn().Err(err).Msg("speak")
			done(fmt.Errorf("%s: %w", n.eng.bin, err))
		default:
			done(nil)
		}
	}()
}

// Cancel kills the running TTS process, if any.
func (n *CommandNarrator) Cancel() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelLocked()
}

func (n *CommandNarrator) cancelLocked() {
	if n.cur == nil {
		return
	}
	n.cur.canceled = true
	n.cur.cmd.Process.Kill()
	n.cur = nil
}

// sayArgs builds macOS say arguments. Pitch goes in as an embedded
// baseline command relative to the voice default.
func sayArgs(u session.Utterance) []string {
	var args []string
	if u.Voice != "" {
		args = append(args, "-v", u.Voice)
	}
	args = append(args, "-r", fmt.Sprint(wpm(u.Rate)))
	text := u.Text
	if off := pitchOffset(u.Pitch); off != 0 {
		text = fmt.Sprintf("[[pbas %+d]] %s", off, text)
	}
	return append(args, "--", text)
}

// espeakArgs builds espeak(-ng) arguments. Pitch is 0-99 with 50 as the
// default.
func espeakArgs(u session.Utterance) []string {
	var args []string
	if u.Voice != "" {
		args = append(args, "-v", u.Voice)
	}
	p := 50.0
	if u.Pitch > 0 {
		p = math.Min(99, math.Round(50*u.Pitch))
	}
	args = append(args,
		"-s", fmt.Sprint(wpm(u.Rate)),
		"-p", fmt.Sprint(int(p)),
		"--", u.Text)
	return args
}

func wpm(rate float64) int {
	if rate <= 0 {
		rate = 1
	}
	return int(math.Round(baseWPM * rate))
}

func pitchOffset(pitch float64) int {
	if pitch <= 0 {
		return 0
	}
	return int(math.Round((pitch - 1) * 20))
}

// parseSayVoices parses `say -v ?` output:
//
//	Bad News            en_US    # The light you see at the end of the tunnel...
func parseSayVoices(out string) []session.Voice {
	var voices []session.Voice
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line, _, _ := strings.Cut(sc.Text(), "#")
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		voices = append(voices, session.Voice{
			Name: strings.Join(fields[:len(fields)-1], " "),
			Lang: fields[len(fields)-1],
		})
	}
	return voices
}

// parseEspeakVoices parses `espeak-ng --voices`. The language code is used
// as the voice name since that is what -v accepts.
//
//	Pty Language       Age/Gender VoiceName          File          Other Languages
//	 5  en-us           --/M      English_(America)  gmw/en-US     (en 10)
func parseEspeakVoices(out string) []session.Voice {
	var voices []session.Voice
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 || fields[0] == "Pty" {
			continue
		}
		voices = append(voices, session.Voice{Name: fields[1], Lang: fields[1]})
	}
	return voices
}

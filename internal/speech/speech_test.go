package speech

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"slices"
	"testing"
	"time"

	"github.com/jwulff/patientsim/internal/session"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

func TestSayArgs(t *testing.T) {
	got := sayArgs(session.Utterance{Text: "It hurts here.", Voice: "Daniel", Pitch: 1.3, Rate: 1.3})
	want := []string{"-v", "Daniel", "-r", "228", "--", "[[pbas +6]] It hurts here."}
	if !slices.Equal(got, want) {
		t.Errorf("sayArgs = %q, want %q", got, want)
	}

	got = sayArgs(session.Utterance{Text: "Hi", Pitch: 1, Rate: 1})
	want = []string{"-r", "175", "--", "Hi"}
	if !slices.Equal(got, want) {
		t.Errorf("sayArgs default voice = %q, want %q", got, want)
	}
}

func TestEspeakArgs(t *testing.T) {
	got := espeakArgs(session.Utterance{Text: "Since Tuesday.", Voice: "en-us", Pitch: 1.3, Rate: 1.3})
	want := []string{"-v", "en-us", "-s", "228", "-p", "65", "--", "Since Tuesday."}
	if !slices.Equal(got, want) {
		t.Errorf("espeakArgs = %q, want %q", got, want)
	}

	got = espeakArgs(session.Utterance{Text: "x", Pitch: 5})
	if got[3] != "99" {
		t.Errorf("pitch should clamp to 99, got %q", got[3])
	}
}

func TestParseSayVoices(t *testing.T) {
	out := `Alex                en_US    # Most people recognize me by my voice.
Bad News            en_US    # The light you see at the end of the tunnel is the headlamp of a fast approaching train.
Daniel              en_GB    # Hello, my name is Daniel. I am a British-English voice.

`
	voices := parseSayVoices(out)
	if len(voices) != 3 {
		t.Fatalf("got %d voices, want 3", len(voices))
	}
	if voices[1].Name != "Bad News" || voices[1].Lang != "en_US" {
		t.Errorf("voices[1] = %+v", voices[1])
	}
	if v := session.SelectVoice(voices, []string{"Daniel", "Alex"}); v.Name != "Daniel" {
		t.Errorf("selected %q, want Daniel", v.Name)
	}
}

func TestParseEspeakVoices(t *testing.T) {
	out := `Pty Language       Age/Gender VoiceName          File                 Other Languages
 5  af              --/M      Afrikaans          gmw/af
 2  en-gb           --/M      English_(Great_Britain) gmw/en            (en 2)
 5  en-us           --/M      English_(America)  gmw/en-US            (en 3)
`
	voices := parseEspeakVoices(out)
	if len(voices) != 3 {
		t.Fatalf("got %d voices, want 3", len(voices))
	}
	if v := session.SelectVoice(voices, []string{"Daniel", "en-us"}); v.Name != "en-us" {
		t.Errorf("selected %q, want en-us", v.Name)
	}
}

func requireTool(t *testing.T, name string) string {
	t.Helper()
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not available", name)
	}
	return path
}

func waitDone(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("done callback never fired")
		return nil
	}
}

func TestCommandNarratorCompletes(t *testing.T) {
	truePath := requireTool(t, "true")
	n := newCommandNarrator(espeakEngine("espeak-ng"), zerolog.Nop())
	n.command = func(string, ...string) *exec.Cmd { return exec.Command(truePath) }

	done := make(chan error, 1)
	n.Speak(session.Utterance{Text: "hello"}, func(err error) { done <- err })
	if err := waitDone(t, done); err != nil {
		t.Errorf("done(%v), want nil", err)
	}
}

func TestCommandNarratorFailure(t *testing.T) {
	falsePath := requireTool(t, "false")
	n := newCommandNarrator(espeakEngine("espeak-ng"), zerolog.Nop())
	n.command = func(string, ...string) *exec.Cmd { return exec.Command(falsePath) }

	done := make(chan error, 1)
	n.Speak(session.Utterance{Text: "hello"}, func(err error) { done <- err })
	err := waitDone(t, done)
	if err == nil || errors.Is(err, ErrCanceled) {
		t.Errorf("done(%v), want a process error", err)
	}
}

func TestCommandNarratorCancel(t *testing.T) {
	sleepPath := requireTool(t, "sleep")
	n := newCommandNarrator(espeakEngine("espeak-ng"), zerolog.Nop())
	n.command = func(string, ...string) *exec.Cmd { return exec.Command(sleepPath, "10") }

	first := make(chan error, 1)
	n.Speak(session.Utterance{Text: "one"}, func(err error) { first <- err })

	// A new utterance replaces the one in flight.
	second := make(chan error, 1)
	n.Speak(session.Utterance{Text: "two"}, func(err error) { second <- err })
	if err := waitDone(t, first); !errors.Is(err, ErrCanceled) {
		t.Errorf("replaced utterance done(%v), want ErrCanceled", err)
	}

	n.Cancel()
	if err := waitDone(t, second); !errors.Is(err, ErrCanceled) {
		t.Errorf("canceled utterance done(%v), want ErrCanceled", err)
	}

	// Cancel with nothing in flight is a no-op.
	n.Cancel()
}

func TestCommandNarratorLoadVoices(t *testing.T) {
	echoPath := requireTool(t, "echo")
	n := newCommandNarrator(sayEngine, zerolog.Nop())
	n.command = func(string, ...string) *exec.Cmd {
		return exec.Command(echoPath, "Daniel              en_GB    # Hello")
	}
	if len(n.Voices()) != 0 {
		t.Fatal("voices should be empty before loading")
	}
	n.loadVoices()
	if v := n.Voices(); len(v) != 1 || v[0].Name != "Daniel" {
		t.Errorf("voices = %+v", v)
	}
}

func newOpenAIStub(t *testing.T, audio []byte) (*openai.Client, chan openai.CreateSpeechRequest) {
	t.Helper()
	reqs := make(chan openai.CreateSpeechRequest, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			http.NotFound(w, r)
			return
		}
		var req openai.CreateSpeechRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		reqs <- req
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(audio)
	}))
	t.Cleanup(srv.Close)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	return openai.NewClientWithConfig(cfg), reqs
}

func TestOpenAINarratorSpeak(t *testing.T) {
	truePath := requireTool(t, "true")
	client, reqs := newOpenAIStub(t, []byte("ID3fake-mp3"))

	n := NewOpenAINarrator(client, "", []string{"player", "-q"}, zerolog.Nop())
	var played []byte
	var args []string
	n.command = func(ctx context.Context, name string, a ...string) *exec.Cmd {
		args = a
		played, _ = os.ReadFile(a[len(a)-1])
		return exec.CommandContext(ctx, truePath)
	}

	done := make(chan error, 1)
	n.Speak(session.Utterance{Text: "My chest hurts.", Rate: 1.3}, func(err error) { done <- err })
	if err := waitDone(t, done); err != nil {
		t.Fatalf("done(%v), want nil", err)
	}

	req := <-reqs
	if req.Model != openai.TTSModel1 || req.Voice != openai.VoiceOnyx || req.Input != "My chest hurts." {
		t.Errorf("request = %+v", req)
	}
	if req.Speed != 1.3 {
		t.Errorf("speed = %v, want 1.3", req.Speed)
	}
	if args[0] != "-q" {
		t.Errorf("player args = %q", args)
	}
	if string(played) != "ID3fake-mp3" {
		t.Errorf("played %q", played)
	}
}

func TestOpenAINarratorCancel(t *testing.T) {
	sleepPath := requireTool(t, "sleep")
	client, _ := newOpenAIStub(t, []byte("mp3"))

	n := NewOpenAINarrator(client, "nova", []string{"player"}, zerolog.Nop())
	started := make(chan struct{})
	n.command = func(ctx context.Context, name string, a ...string) *exec.Cmd {
		close(started)
		return exec.CommandContext(ctx, sleepPath, "10")
	}

	done := make(chan error, 1)
	n.Speak(session.Utterance{Text: "long answer"}, func(err error) { done <- err })
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("player never started")
	}
	n.Cancel()
	if err := waitDone(t, done); !errors.Is(err, ErrCanceled) {
		t.Errorf("done(%v), want ErrCanceled", err)
	}
}

func TestOpenAINarratorVoices(t *testing.T) {
	n := NewOpenAINarrator(openai.NewClient("k"), "", nil, zerolog.Nop())
	voices := n.Voices()
	if v := session.SelectVoice(voices, []string{"Daniel", "onyx"}); v.Name != "onyx" {
		t.Errorf("selected %q, want onyx", v.Name)
	}
}

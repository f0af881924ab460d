// Package capture records microphone audio by driving ffmpeg.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/jwulff/patientsim/internal/session"
	"github.com/rs/zerolog"
)

const (
	sampleRate  = 16000
	probeLength = "0.2"
	stopGrace   = 3 * time.Second
)

// ErrNotRecording is returned by Stop without a preceding Start.
var ErrNotRecording = errors.New("not recording")

// DefaultInput returns the ffmpeg input format and device for the platform.
func DefaultInput() (format, device string) {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation", ":0"
	case "windows":
		return "dshow", "audio=default"
	default:
		return "pulse", "default"
	}
}

// FFmpegCapturer opens the microphone through ffmpeg.
type FFmpegCapturer struct {
	bin    string
	format string
	device string
	log    zerolog.Logger
}

var _ session.Capturer = (*FFmpegCapturer)(nil)

// NewFFmpegCapturer returns a capturer. Empty values take the defaults.
func NewFFmpegCapturer(bin, format, device string, log zerolog.Logger) *FFmpegCapturer {
	if bin == "" {
		bin = "ffmpeg"
	}
	df, dd := DefaultInput()
	if format == "" {
		format = df
	}
	if device == "" {
		device = dd
	}
	return &FFmpegCapturer{
		bin:    bin,
		format: format,
		device: device,
		log:    log.With().Str("component", "capture").Logger(),
	}
}

// Open checks that ffmpeg exists and that the input can be read, then
// returns a recorder holding a private temp directory.
func (c *FFmpegCapturer) Open(ctx context.Context) (session.Recorder, error) {
	bin, err := exec.LookPath(c.bin)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", c.bin, err)
	}

	out, err := exec.CommandContext(ctx, bin, probeArgs(c.format, c.device)...).CombinedOutput()
	if err != nil {
		c.log.Warn().Err(err).Bytes("output", out).Msg("probe input")
		return nil, fmt.Errorf("probe %s %s: %w", c.format, c.device, err)
	}

	dir, err := os.MkdirTemp("", "patientsim-capture-")
	if err != nil {
		return nil, fmt.Errorf("create capture dir: %w", err)
	}
	c.log.Info().Str("format", c.format).Str("device", c.device).Msg("microphone opened")
	return &FFmpegRecorder{
		bin:    bin,
		format: c.format,
		device: c.device,
		dir:    dir,
		log:    c.log,
	}, nil
}

func probeArgs(format, device string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", format, "-i", device,
		"-t", probeLength,
		"-f", "null", "-",
	}
}

func captureArgs(format, device, path string) []string {
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", format, "-i", device,
		"-ac", "1", "-ar", fmt.Sprint(sampleRate),
		"-c:a", "pcm_s16le",
		path,
	}
}

// FFmpegRecorder captures one turn at a time into a WAV file.
type FFmpegRecorder struct {
	bin    string
	format string
	device string
	dir    string
	log    zerolog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	exited  chan error
	started time.Time
	closed  bool
}

func (r *FFmpegRecorder) path() string { return filepath.Join(r.dir, "turn.wav") }

// Start discards the previous turn's audio and spawns ffmpeg.
func (r *FFmpegRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("recorder closed")
	}
	if r.cmd != nil {
		return errors.New("already recording")
	}
	if err := os.Remove(r.path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("discard previous clip: %w", err)
	}

	cmd := exec.Command(r.bin, captureArgs(r.format, r.device, r.path())...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	r.cmd, r.stdin, r.exited = cmd, stdin, exited
	r.started = time.Now()
	r.log.Debug().Msg("capture started")
	return nil
}

// Stop asks ffmpeg to finish, then returns the captured clip.
func (r *FFmpegRecorder) Stop() (session.Clip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil {
		return session.Clip{}, ErrNotRecording
	}
	started := r.started
	r.finishLocked(stopGrace)

	data, err := os.ReadFile(r.path())
	if err != nil {
		return session.Clip{}, fmt.Errorf("read clip: %w", err)
	}
	clip := session.Clip{
		Data:       data,
		MIMEType:   "audio/wav",
		Duration:   time.Since(started),
		CapturedAt: started,
	}
	r.log.Debug().Int("bytes", len(data)).Dur("duration", clip.Duration).Msg("capture stopped")
	return clip, nil
}

// finishLocked sends ffmpeg its quit key and kills it after grace.
func (r *FFmpegRecorder) finishLocked(grace time.Duration) {
	io.WriteString(r.stdin, "q\n")
	r.stdin.Close()

	select {
	case <-r.exited:
	case <-time.After(grace):
		r.cmd.Process.Kill()
		<-r.exited
	}
	r.cmd, r.stdin, r.exited = nil, nil, nil
}

// Close stops any capture in progress and removes the temp directory.
func (r *FFmpegRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.cmd != nil {
		r.finishLocked(0)
	}
	r.log.Info().Msg("microphone released")
	return os.RemoveAll(r.dir)
}

// Package transcribe turns recorded clips into text with OpenAI Whisper.
package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jwulff/patientsim/internal/session"
	openai "github.com/sashabaranov/go-openai"
)

// ErrEmptyClip is returned for a clip with no audio.
var ErrEmptyClip = errors.New("empty clip")

// Transcriber converts a clip to text.
type Transcriber interface {
	Transcribe(ctx context.Context, clip session.Clip) (string, error)
}

// Whisper transcribes through the OpenAI audio API.
type Whisper struct {
	client *openai.Client
}

// NewWhisper returns a Whisper transcriber.
func NewWhisper(client *openai.Client) *Whisper {
	return &Whisper{client: client}
}

// Transcribe uploads clip and returns the trimmed transcript.
func (w *Whisper) Transcribe(ctx context.Context, clip session.Clip) (string, error) {
	if len(clip.Data) == 0 {
		return "", ErrEmptyClip
	}
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: "clip" + extension(clip.MIMEType),
		Reader:   bytes.NewReader(clip.Data),
	})
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// extension gives Whisper a filename it can infer the format from.
func extension(mime string) string {
	switch mime {
	case "audio/webm":
		return ".webm"
	case "audio/mpeg":
		return ".mp3"
	case "audio/mp4", "audio/m4a":
		return ".m4a"
	default:
		return ".wav"
	}
}

// Package archive stores each session's recordings, transcripts and
// feedback so they can be reviewed later.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jwulff/patientsim/internal/db"
	"github.com/jwulff/patientsim/internal/session"
	"github.com/jwulff/patientsim/internal/transcribe"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const transcribeTimeout = time.Minute

// ErrNotStarted is returned when recordings arrive before Begin.
var ErrNotStarted = errors.New("archive session not started")

// Store is the subset of db.Store the archiver writes to.
type Store interface {
	CreateSession(id, topic string, startedAt time.Time) error
	AddTurn(t db.Turn) (int64, error)
	SetTranscript(turnID int64, text string) error
	FinishSession(id string, rating *int, text string, endedAt time.Time) error
}

var _ Store = (*db.Store)(nil)

// Archiver is the target of the session host hooks.
type Archiver struct {
	store       Store
	dir         string
	transcriber transcribe.Transcriber // nil disables transcription
	log         zerolog.Logger
	now         func() time.Time

	mu        sync.Mutex
	sessionID string
	turns     int
	finished  bool

	bg errgroup.Group
}

// New returns an archiver writing clips under dir.
func New(store Store, dir string, t transcribe.Transcriber, log zerolog.Logger) *Archiver {
	return &Archiver{
		store:       store,
		dir:         dir,
		transcriber: t,
		log:         log.With().Str("component", "archive").Logger(),
		now:         time.Now,
	}
}

// Begin starts a new archived session and returns its id.
func (a *Archiver) Begin(topic string) (string, error) {
	id := uuid.New().String()
	if err := a.store.CreateSession(id, topic, a.now()); err != nil {
		return "", err
	}
	a.mu.Lock()
	a.sessionID, a.turns, a.finished = id, 0, false
	a.mu.Unlock()
	a.log.Info().Str("session", id).Msg("archive session started")
	return id, nil
}

// SessionID returns the current session id, empty before Begin.
func (a *Archiver) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// SaveRecording writes clip to disk, records the turn and queues it for
// transcription. Errors are logged; the hook has no caller to report to.
func (a *Archiver) SaveRecording(clip session.Clip) {
	if _, err := a.save(clip); err != nil {
		a.log.Error().Err(err).Msg("save recording")
	}
}

func (a *Archiver) save(clip session.Clip) (int64, error) {
	a.mu.Lock()
	id, seq := a.sessionID, a.turns
	if id == "" || a.finished {
		a.mu.Unlock()
		return 0, ErrNotStarted
	}
	a.turns++
	a.mu.Unlock()

	dir := filepath.Join(a.dir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create recording dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("turn-%d.wav", seq))
	if err := os.WriteFile(path, clip.Data, 0o644); err != nil {
		return 0, fmt.Errorf("write recording: %w", err)
	}

	captured := clip.CapturedAt
	if captured.IsZero() {
		captured = a.now()
	}
	turnID, err := a.store.AddTurn(db.Turn{
		SessionID:   id,
		PromptIndex: clip.PromptIndex,
		Caption:     clip.Caption,
		AudioPath:   path,
		MIMEType:    clip.MIMEType,
		Duration:    clip.Duration,
		CapturedAt:  captured,
	})
	if err != nil {
		return 0, err
	}
	a.log.Info().Str("session", id).Int("turn", seq).Int("bytes", len(clip.Data)).Msg("recording saved")

	if a.transcriber != nil {
		a.bg.Go(func() error {
			a.transcribe(turnID, clip)
			return nil
		})
	}
	return turnID, nil
}

func (a *Archiver) transcribe(turnID int64, clip session.Clip) {
	ctx, cancel := context.WithTimeout(context.Background(), transcribeTimeout)
	defer cancel()

	text, err := a.transcriber.Transcribe(ctx, clip)
	if err != nil {
		a.log.Warn().Err(err).Int64("turn", turnID).Msg("transcribe")
		return
	}
	if err := a.store.SetTranscript(turnID, text); err != nil {
		a.log.Error().Err(err).Int64("turn", turnID).Msg("store transcript")
		return
	}
	a.log.Debug().Int64("turn", turnID).Int("chars", len(text)).Msg("transcribed")
}

// Finish closes the archived session once. fb is nil when the learner left
// without submitting feedback.
func (a *Archiver) Finish(fb *session.Feedback) {
	a.mu.Lock()
	id := a.sessionID
	if id == "" || a.finished {
		a.mu.Unlock()
		return
	}
	a.finished = true
	a.mu.Unlock()

	var rating *int
	var text string
	if fb != nil {
		r := fb.Rating
		rating, text = &r, fb.Text
	}
	if err := a.store.FinishSession(id, rating, text, a.now()); err != nil {
		a.log.Error().Err(err).Str("session", id).Msg("finish session")
		return
	}
	a.log.Info().Str("session", id).Bool("feedback", fb != nil).Msg("archive session finished")
}

// Wait blocks until queued transcriptions are done.
func (a *Archiver) Wait() {
	a.bg.Wait()
}

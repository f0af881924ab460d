package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a session id has no row.
var ErrNotFound = errors.New("session not found")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	topic TEXT NOT NULL DEFAULT '',
	startedAt REAL NOT NULL,
	endedAt REAL,
	rating INTEGER,
	feedbackText TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS turns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sessionId TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	sequence INTEGER NOT NULL,
	promptIndex INTEGER NOT NULL,
	caption TEXT NOT NULL DEFAULT '',
	audioPath TEXT NOT NULL,
	mimeType TEXT NOT NULL,
	durationMs INTEGER NOT NULL DEFAULT 0,
	transcript TEXT NOT NULL DEFAULT '',
	capturedAt REAL NOT NULL,
	UNIQUE(sessionId, sequence)
);
`

// Store is the session archive.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the archive at path in WAL mode.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	return open(dsn, true)
}

// OpenReadOnly opens an existing archive without write access.
func OpenReadOnly(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return open(fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", path), false)
}

func open(dsn string, migrate bool) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if migrate {
		if _, err := db.Exec(schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts an active session.
func (s *Store) CreateSession(id, topic string, startedAt time.Time) error {
	_, err := s.db.Exec(`INSERT INTO sessions (id, topic, startedAt, status) VALUES (?, ?, ?, ?)`,
		id, topic, unixFromTime(startedAt), StatusActive)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// AddTurn appends a turn and returns its row id. t.Sequence is assigned
// from the session's existing turn count.
func (s *Store) AddTurn(t Turn) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO turns (sessionId, sequence, promptIndex, caption, audioPath, mimeType, durationMs, transcript, capturedAt)
		VALUES (?, (SELECT COUNT(*) FROM turns WHERE sessionId = ?), ?, ?, ?, ?, ?, ?, ?)
	`, t.SessionID, t.SessionID, t.PromptIndex, t.Caption, t.AudioPath, t.MIMEType,
		t.Duration.Milliseconds(), t.Transcript, unixFromTime(t.CapturedAt))
	if err != nil {
		return 0, fmt.Errorf("insert turn: %w", err)
	}
	return res.LastInsertId()
}

// SetTranscript stores the transcript for a turn.
func (s *Store) SetTranscript(turnID int64, text string) error {
	if _, err := s.db.Exec(`UPDATE turns SET transcript = ? WHERE id = ?`, text, turnID); err != nil {
		return fmt.Errorf("update transcript: %w", err)
	}
	return nil
}

// FinishSession records the feedback and marks the session finished. A nil
// rating leaves it unset (the learner left without submitting).
func (s *Store) FinishSession(id string, rating *int, text string, endedAt time.Time) error {
	res, err := s.db.Exec(`
		UPDATE sessions SET rating = ?, feedbackText = ?, endedAt = ?, status = ?
		WHERE id = ?
	`, rating, text, unixFromTime(endedAt), StatusFinished, id)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const sessionColumns = `
	s.id, s.topic, s.startedAt, s.endedAt, s.rating, s.feedbackText, s.status,
	(SELECT COUNT(*) FROM turns t WHERE t.sessionId = s.id)
`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var sess Session
	var startedAt float64
	var endedAt sql.NullFloat64
	var rating sql.NullInt64

	if err := row.Scan(&sess.ID, &sess.Topic, &startedAt, &endedAt, &rating,
		&sess.FeedbackText, &sess.Status, &sess.TurnCount); err != nil {
		return Session{}, err
	}
	sess.StartedAt = timeFromUnix(startedAt)
	if endedAt.Valid {
		t := timeFromUnix(endedAt.Float64)
		sess.EndedAt = &t
	}
	if rating.Valid {
		r := int(rating.Int64)
		sess.Rating = &r
	}
	return sess, nil
}

// Session returns one session by id.
func (s *Store) Session(id string) (*Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions s WHERE s.id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &sess, nil
}

// LatestSession returns the most recent session regardless of status.
func (s *Store) LatestSession() (*Session, error) {
	row := s.db.QueryRow(`SELECT ` + sessionColumns + ` FROM sessions s ORDER BY s.startedAt DESC LIMIT 1`)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &sess, nil
}

// Sessions returns up to limit sessions, newest first.
func (s *Store) Sessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT `+sessionColumns+` FROM sessions s ORDER BY s.startedAt DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// TurnsForSession returns all turns of a session in recording order.
func (s *Store) TurnsForSession(sessionID string) ([]Turn, error) {
	rows, err := s.db.Query(`
		SELECT id, sessionId, sequence, promptIndex, caption, audioPath, mimeType, durationMs, transcript, capturedAt
		FROM turns
		WHERE sessionId = ?
		ORDER BY sequence ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var durationMs int64
		var capturedAt float64
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Sequence, &t.PromptIndex, &t.Caption,
			&t.AudioPath, &t.MIMEType, &durationMs, &t.Transcript, &capturedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Duration = time.Duration(durationMs) * time.Millisecond
		t.CapturedAt = timeFromUnix(capturedAt)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

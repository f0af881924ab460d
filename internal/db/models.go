// Package db persists practice sessions to a local SQLite archive.
package db

import "time"

// Session is one run through a patient script.
type Session struct {
	ID           string
	Topic        string
	StartedAt    time.Time
	EndedAt      *time.Time
	Rating       *int
	FeedbackText string
	Status       string // active or finished
	TurnCount    int
}

// Turn is one learner response recorded during a session.
type Turn struct {
	ID          int64
	SessionID   string
	Sequence    int
	PromptIndex int
	Caption     string // what the patient said before the turn
	AudioPath   string
	MIMEType    string
	Duration    time.Duration
	Transcript  string
	CapturedAt  time.Time
}

const (
	StatusActive   = "active"
	StatusFinished = "finished"
)

// Package session implements the patient-interview session controller: a
// small state machine that narrates remote prompts, captures the learner's
// spoken responses, and collects end-of-session feedback.
package session

import "time"

// State is the controller's interaction mode.
type State int

const (
	StateInitial State = iota
	StatePatientTalking
	StateUserPrompted
	StateUserTalking
	StateFeedback
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StatePatientTalking:
		return "patientTalking"
	case StateUserPrompted:
		return "userPrompted"
	case StateUserTalking:
		return "userTalking"
	case StateFeedback:
		return "feedback"
	}
	return "unknown"
}

// ApologyCaption replaces the caption whenever the prompt service fails.
const ApologyCaption = "Sorry, I'm having trouble communicating. Please try again later."

// CaptureNotice is shown when the microphone could not be acquired.
const CaptureNotice = "Could not access microphone. Please check permissions and try again."

// ResultsRevealIndex is the prompt index past which results become visible.
const ResultsRevealIndex = 3

// Prompt is one step of the remote script.
type Prompt struct {
	Content      string
	PromptIndex  int
	TotalPrompts int
	Prompt       string
	NextPrompt   *string // nil when the script is exhausted
}

// Clip is one finalized recording of a user turn.
type Clip struct {
	Data       []byte
	MIMEType   string
	Duration   time.Duration
	CapturedAt time.Time

	// Set by the controller: the prompt the learner was answering.
	PromptIndex int
	Caption     string
}

// Feedback is the end-of-session rating and comment.
type Feedback struct {
	Rating int
	Text   string
}

const (
	MinRating = 1
	MaxRating = 10
)

func clampRating(r int) int {
	return max(MinRating, min(MaxRating, r))
}

// Snapshot is an immutable copy of everything a view needs to render.
type Snapshot struct {
	State          State
	PromptIndex    int
	TotalPrompts   int
	Caption        string
	Muted          bool
	Speaking       bool
	Loading        bool
	ResultsVisible bool
	HasRecording   bool
	Notice         string
	Progress       float64
}

// Progress returns how far through the script promptIndex is, in [0, 1].
func Progress(promptIndex, totalPrompts int) float64 {
	switch {
	case totalPrompts <= 0:
		return 0
	case totalPrompts == 1:
		return 1
	}
	p := float64(promptIndex) / float64(totalPrompts-1)
	return max(0, min(1, p))
}

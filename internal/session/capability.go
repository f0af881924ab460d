package session

import (
	"context"
	"time"
)

// PromptSource is the remote script collaborator.
type PromptSource interface {
	NextPrompt(ctx context.Context) (Prompt, error)
	Reset(ctx context.Context) error
}

// Voice is one synthesis voice offered by a Narrator.
type Voice struct {
	Name string
	Lang string
}

// Utterance is a single narration request. An empty Voice means the
// platform default.
type Utterance struct {
	Text  string
	Voice string
	Pitch float64
	Rate  float64
}

// Narrator is the speech-synthesis capability. Only one utterance plays at a
// time.
type Narrator interface {
	// Voices returns the voices loaded so far. It may be empty while the
	// list is still loading.
	Voices() []Voice

	// Speak starts narrating u and returns without waiting. done is called
	// at most once: nil on natural completion, non-nil on error or cancel.
	Speak(u Utterance, done func(error))

	// Cancel stops the in-flight utterance, if any.
	Cancel()
}

// Capturer acquires the microphone. Open is the permission request.
type Capturer interface {
	Open(ctx context.Context) (Recorder, error)
}

// Recorder is an acquired microphone.
type Recorder interface {
	// Start begins capturing and discards any audio buffered by an earlier
	// turn.
	Start() error

	// Stop ends capture and finalizes the buffered audio into one clip.
	Stop() (Clip, error)

	// Close stops any active capture and releases the device.
	Close() error
}

// Timer is a pending clock callback.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. Tests substitute a manual clock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock returns a Clock backed by the runtime timers.
func RealClock() Clock { return realClock{} }

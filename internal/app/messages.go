package app

import "github.com/jwulff/patientsim/internal/session"

// SnapshotMsg carries a published session snapshot.
type SnapshotMsg struct {
	Snapshot session.Snapshot
}

// SessionClosedMsg is sent when the snapshot stream closes.
type SessionClosedMsg struct{}

// SessionExitedMsg is sent when the session has ended and the host should
// navigate away. The program sends it from the exit hook.
type SessionExitedMsg struct{}

// MountedMsg reports the outcome of acquiring the microphone.
type MountedMsg struct {
	Err error
}

// ActionResultMsg carries the error, if any, of a session command.
type ActionResultMsg struct {
	Action string
	Err    error
}

// ClearTransientErrorMsg clears a transient error after a timeout.
type ClearTransientErrorMsg struct {
	seq int
}

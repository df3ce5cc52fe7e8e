// Package recording implements the single-owner capture lifecycle: opening the
// microphone, encoding, silence-driven stopping and payload assembly.
package recording

import (
	"errors"
	"time"

	"github.com/oszuidwest/voicetutor/internal/audio"
	"github.com/oszuidwest/voicetutor/internal/types"
)

// Sentinel errors for capture outcomes.
var (
	// ErrMicrophoneUnavailable is returned when the input device is missing or cannot be opened.
	ErrMicrophoneUnavailable = errors.New("microphone unavailable")

	// ErrEmptyCapture is returned when a capture stopped without any encoded audio.
	ErrEmptyCapture = errors.New("capture contains no audio")

	// ErrNoSpeech is returned when a capture was abandoned because nobody spoke.
	ErrNoSpeech = errors.New("no speech detected")

	// ErrPreempted is returned when a capture was replaced by a newer one.
	ErrPreempted = errors.New("capture preempted by a new session")
)

// State tracks the lifecycle of a capture session.
type State string

const (
	// StateIdle indicates the session has not started capturing.
	StateIdle State = "idle"
	// StateCapturing indicates audio is being captured and encoded.
	StateCapturing State = "capturing"
	// StateFinalizing indicates the device is released and the payload is being assembled.
	StateFinalizing State = "finalizing"
	// StateClosed indicates the session finished and its result is available.
	StateClosed State = "closed"
)

// StopReason records why a capture ended.
type StopReason string

const (
	// StopManual is a user-requested stop.
	StopManual StopReason = "manual"
	// StopAutoSubmit follows sustained silence after speech.
	StopAutoSubmit StopReason = "auto-submit"
	// StopAbandon follows silence with no speech at all.
	StopAbandon StopReason = "abandon"
	// StopStreamLost means the input stream ended unexpectedly.
	StopStreamLost StopReason = "stream-lost"
	// StopPreempted means a newer session replaced this one.
	StopPreempted StopReason = "preempted"
)

// Submits reports whether a capture stopped for this reason may be submitted.
func (r StopReason) Submits() bool {
	switch r {
	case StopManual, StopAutoSubmit, StopStreamLost:
		return true
	default:
		return false
	}
}

// ReasonForVerdict maps a terminal silence verdict to a stop reason.
func ReasonForVerdict(v audio.Verdict) (StopReason, bool) {
	switch v {
	case audio.VerdictAutoSubmit:
		return StopAutoSubmit, true
	case audio.VerdictAbandon:
		return StopAbandon, true
	default:
		return "", false
	}
}

// Result is the outcome of one capture session.
type Result struct {
	SessionID      string
	Reason         StopReason
	Payload        *types.AudioPayload // nil unless Err is nil
	Err            error               // ErrNoSpeech, ErrEmptyCapture, ErrPreempted or nil
	SpeechDetected bool
	StartedAt      time.Time
	StoppedAt      time.Time
}

// Submittable reports whether the result carries audio to analyze.
func (r *Result) Submittable() bool {
	return r.Err == nil && !r.Payload.Empty()
}

// Default timings for the capture lifecycle.
const (
	// DefaultFinalizeTimeout bounds how long Stop waits for encoder output.
	DefaultFinalizeTimeout = 10 * time.Second
)

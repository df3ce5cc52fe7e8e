package audio

import (
	"sync"
	"time"
)

// Verdict is the outcome of feeding one loudness sample to a SilenceDetector.
type Verdict string

const (
	// VerdictContinue means the capture should keep running.
	VerdictContinue Verdict = "continue"
	// VerdictAutoSubmit means speech was heard and has been followed by sustained silence.
	VerdictAutoSubmit Verdict = "auto-submit"
	// VerdictAbandon means no speech was heard before the initial silence timeout.
	VerdictAbandon Verdict = "abandon-no-speech"
)

// Terminal reports whether the verdict ends the capture.
func (v Verdict) Terminal() bool {
	return v == VerdictAutoSubmit || v == VerdictAbandon
}

// Default silence detection settings.
const (
	DefaultSilenceThreshold = 10.0
	DefaultSustainedSilence = 1500 * time.Millisecond
	DefaultInitialSilence   = 5 * time.Second
)

// SilenceConfig holds the thresholds for silence detection.
type SilenceConfig struct {
	Threshold        float64       // loudness (0-255) at or below which audio counts as silence
	SustainedSilence time.Duration // silence after speech before auto-submit
	InitialSilence   time.Duration // silence without any speech before abandoning
}

// DefaultSilenceConfig returns the built-in detection settings.
func DefaultSilenceConfig() SilenceConfig {
	return SilenceConfig{
		Threshold:        DefaultSilenceThreshold,
		SustainedSilence: DefaultSustainedSilence,
		InitialSilence:   DefaultInitialSilence,
	}
}

// SilenceDetector decides when a capture should end based on loudness over time.
// A detector belongs to exactly one capture and is never reset for reuse.
// It is safe for concurrent use.
type SilenceDetector struct {
	mu             sync.Mutex
	cfg            SilenceConfig
	speechDetected bool      // any sample has been above threshold
	silenceStart   time.Time // start of the current silent run, zero while loud
	verdict        Verdict   // sticky once terminal
}

// NewSilenceDetector creates a detector for a single capture.
func NewSilenceDetector(cfg SilenceConfig) *SilenceDetector {
	return &SilenceDetector{cfg: cfg, verdict: VerdictContinue}
}

// Update evaluates one loudness sample taken at now.
// After a terminal verdict the sample is ignored and the same verdict is returned.
func (d *SilenceDetector) Update(level float64, now time.Time) Verdict {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.verdict.Terminal() {
		return d.verdict
	}

	if level > d.cfg.Threshold {
		d.speechDetected = true
		d.silenceStart = time.Time{}
		return VerdictContinue
	}

	if d.silenceStart.IsZero() {
		d.silenceStart = now
		return VerdictContinue
	}

	elapsed := now.Sub(d.silenceStart)
	switch {
	case d.speechDetected && elapsed > d.cfg.SustainedSilence:
		d.verdict = VerdictAutoSubmit
	case !d.speechDetected && elapsed > d.cfg.InitialSilence:
		d.verdict = VerdictAbandon
	}
	return d.verdict
}

// SpeechDetected reports whether any sample so far exceeded the threshold.
func (d *SilenceDetector) SpeechDetected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speechDetected
}

// SilenceDuration returns how long the current silent run has lasted at now.
func (d *SilenceDetector) SilenceDuration(now time.Time) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.silenceStart.IsZero() {
		return 0
	}
	return now.Sub(d.silenceStart)
}

// Verdict returns the latest verdict without evaluating a sample.
func (d *SilenceDetector) Verdict() Verdict {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.verdict
}

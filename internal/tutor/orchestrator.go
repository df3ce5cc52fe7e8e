// Package tutor runs the voice session: capture, silence-driven stopping,
// submission to the analysis service, history and tutor playback.
package tutor

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/voicetutor/internal/audio"
	"github.com/oszuidwest/voicetutor/internal/conversation"
	"github.com/oszuidwest/voicetutor/internal/eventlog"
	"github.com/oszuidwest/voicetutor/internal/metrics"
	"github.com/oszuidwest/voicetutor/internal/recording"
	"github.com/oszuidwest/voicetutor/internal/types"
)

// Sentinel errors for orchestrator operations.
var (
	ErrEntryNotFound = errors.New("history entry not found")
	ErrEntryNoAudio  = errors.New("history entry has no audio")
)

// DefaultSubmitTimeout bounds one analysis round trip.
const DefaultSubmitTimeout = 90 * time.Second

// persistTimeout bounds saving the history after a successful analysis.
const persistTimeout = 10 * time.Second

// Analyzer turns a finished capture into feedback.
type Analyzer interface {
	Analyze(ctx context.Context, payload *types.AudioPayload) (types.FeedbackRecord, error)
}

// Player plays base64 encoded tutor audio.
type Player interface {
	Play(payloadBase64 string)
	Stop()
	Playing() bool
}

// Notifier delivers user notices.
type Notifier interface {
	Notify(notice types.Notice)
}

// Config wires the orchestrator to its collaborators. Events and Metrics are optional.
type Config struct {
	Recorder      *recording.Recorder
	Analyzer      Analyzer
	History       *conversation.Store
	Player        Player
	Notifier      Notifier
	Events        *eventlog.Logger
	Metrics       *metrics.Metrics
	SubmitTimeout time.Duration
}

// Orchestrator coordinates one voice session at a time. It is safe for concurrent use.
type Orchestrator struct {
	recorder      *recording.Recorder
	analyzer      Analyzer
	history       *conversation.Store
	player        Player
	notifier      Notifier
	events        *eventlog.Logger
	metrics       *metrics.Metrics
	submitTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu              sync.Mutex
	submitting      int
	onStatusChange  func()
	onHistoryChange func([]types.TranscriptEntry)
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		recorder:      cfg.Recorder,
		analyzer:      cfg.Analyzer,
		history:       cfg.History,
		player:        cfg.Player,
		notifier:      cfg.Notifier,
		events:        cfg.Events,
		metrics:       cfg.Metrics,
		submitTimeout: cmp.Or(cfg.SubmitTimeout, DefaultSubmitTimeout),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// OnStatusChange registers fn to be called whenever the session status changes.
func (o *Orchestrator) OnStatusChange(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onStatusChange = fn
}

// OnHistoryChange registers fn to be called with the history after every change.
func (o *Orchestrator) OnHistoryChange(fn func([]types.TranscriptEntry)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onHistoryChange = fn
}

// StartSession stops tutor playback and begins a new capture, preempting any
// capture in progress. It returns the new session ID.
func (o *Orchestrator) StartSession(ctx context.Context) (string, error) {
	// The tutor voice must not end up in the recording.
	o.player.Stop()

	sess, err := o.recorder.Start(ctx)
	if err != nil {
		if errors.Is(err, recording.ErrMicrophoneUnavailable) {
			slog.Error("microphone unavailable", "error", err)
			o.notify(types.NoticeMicrophoneUnavailable)
			o.logSession(eventlog.MicrophoneUnavailable, "", &eventlog.SessionDetails{Error: err.Error()})
		}
		return "", err
	}

	if o.metrics != nil {
		o.metrics.SessionStarted()
	}
	o.logSession(eventlog.SessionStarted, sess.ID(), &eventlog.SessionDetails{})

	o.wg.Go(func() { o.monitor(sess) })
	o.wg.Go(func() { o.await(sess) })

	o.statusChanged()
	return sess.ID(), nil
}

// StopSession stops the capture in progress. The audio is submitted in the
// background. It reports whether a capture was stopped.
func (o *Orchestrator) StopSession() bool {
	_, stopped := o.recorder.Stop(recording.StopManual)
	return stopped
}

// StopPlayback stops the tutor clip, if any.
func (o *Orchestrator) StopPlayback() {
	o.player.Stop()
	o.statusChanged()
}

// Replay plays the audio stored with a history entry.
func (o *Orchestrator) Replay(entryID string) error {
	entry, ok := o.history.Entry(entryID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	if !entry.HasAudio() {
		return fmt.Errorf("%w: %s", ErrEntryNoAudio, entryID)
	}
	o.player.Play(entry.Audio)
	o.statusChanged()
	return nil
}

// History returns the transcript history in conversation order.
func (o *Orchestrator) History() []types.TranscriptEntry {
	return o.history.Entries()
}

// Feedback returns the current feedback record, or nil.
func (o *Orchestrator) Feedback() *types.FeedbackRecord {
	return o.history.Feedback()
}

// ClearHistory empties and persists the history.
func (o *Orchestrator) ClearHistory(ctx context.Context) error {
	err := o.history.Clear(ctx)
	if err != nil {
		slog.Error("failed to persist cleared history", "error", err)
	}
	o.notify(types.NoticeHistoryReset)
	if o.events != nil {
		if logErr := o.events.LogMessage(eventlog.HistoryCleared, "history cleared"); logErr != nil {
			slog.Warn("failed to log event", "error", logErr)
		}
	}
	o.historyChanged([]types.TranscriptEntry{})
	return err
}

// SilenceConfig returns the detection settings for new sessions.
func (o *Orchestrator) SilenceConfig() audio.SilenceConfig {
	return o.recorder.SilenceConfig()
}

// SetSilenceConfig changes the detection settings for new sessions.
func (o *Orchestrator) SetSilenceConfig(cfg audio.SilenceConfig) {
	o.recorder.SetSilenceConfig(cfg)
}

// Status reports the current session state. Recording always reflects the
// recorder's capturing session.
func (o *Orchestrator) Status() types.SessionStatus {
	o.mu.Lock()
	submitting := o.submitting > 0
	o.mu.Unlock()
	sess := o.recorder.Active()

	status := types.SessionStatus{
		Submitting:    submitting,
		Playing:       o.player.Playing(),
		HistoryLength: o.history.Len(),
	}
	if sess != nil {
		status.Recording = true
		status.SessionID = sess.ID()
		status.Level = sess.Level()
		status.SpeechDetected = sess.SpeechDetected()
	}
	return status
}

// Close discards any capture in progress and waits for background work.
// Submissions in flight are cancelled.
func (o *Orchestrator) Close() {
	o.recorder.Close()
	o.cancel()
	o.wg.Wait()
}

// monitor feeds loudness samples to the silence detector and stops the
// capture on a terminal verdict.
func (o *Orchestrator) monitor(sess *recording.Session) {
	for sample := range sess.Samples() {
		verdict := sess.Evaluate(sample)
		if reason, ok := recording.ReasonForVerdict(verdict); ok {
			slog.Info("silence verdict", "session", sess.ID(), "verdict", verdict)
			sess.Stop(reason)
			return
		}
	}
}

// await handles the outcome of a finished capture.
func (o *Orchestrator) await(sess *recording.Session) {
	res := sess.Result()
	o.recordSession(&res)
	o.statusChanged()

	switch {
	case errors.Is(res.Err, recording.ErrPreempted):
		return
	case errors.Is(res.Err, recording.ErrNoSpeech), errors.Is(res.Err, recording.ErrEmptyCapture):
		o.notify(types.NoticeNoSpeech)
		return
	case !res.Submittable():
		slog.Warn("capture not submitted", "session", res.SessionID, "error", res.Err)
		return
	}

	o.submit(&res)
}

// submit sends the capture for analysis and records the feedback. Failures
// leave the history and feedback untouched.
func (o *Orchestrator) submit(res *recording.Result) {
	o.setSubmitting(1)
	defer o.setSubmitting(-1)

	ctx, cancel := context.WithTimeout(o.ctx, o.submitTimeout)
	defer cancel()

	started := time.Now()
	record, err := o.analyzer.Analyze(ctx, res.Payload)
	elapsed := time.Since(started)
	if err != nil {
		slog.Error("submission failed", "session", res.SessionID, "error", err)
		if o.metrics != nil {
			o.metrics.Submission("error", elapsed)
		}
		o.logSubmission(eventlog.SubmissionFailed, res.SessionID, &eventlog.SubmissionDetails{
			ElapsedMs: elapsed.Milliseconds(),
			Error:     err.Error(),
		})
		o.notify(types.NoticeTutorUnreachable)
		return
	}

	persistCtx, cancelPersist := context.WithTimeout(o.ctx, persistTimeout)
	entries, err := o.history.Append(persistCtx, record, res.Payload)
	cancelPersist()
	if err != nil {
		slog.Error("failed to persist history", "session", res.SessionID, "error", err)
	}

	slog.Info("feedback received", "session", res.SessionID, "fluency", record.FluencyScore, "elapsed", elapsed)
	if o.metrics != nil {
		o.metrics.Submission("ok", elapsed)
		o.metrics.Fluency(record.FluencyScore)
		o.metrics.History(len(entries))
	}
	o.logSubmission(eventlog.SubmissionCompleted, res.SessionID, &eventlog.SubmissionDetails{
		ElapsedMs:    elapsed.Milliseconds(),
		FluencyScore: record.FluencyScore,
		Confidence:   string(record.Confidence),
		Sentiment:    string(record.Sentiment),
		HasAudio:     record.HasAudio(),
	})
	o.historyChanged(entries)

	if record.HasAudio() {
		o.player.Play(record.AudioBase64)
	}
}

func (o *Orchestrator) setSubmitting(delta int) {
	o.mu.Lock()
	o.submitting += delta
	o.mu.Unlock()
	o.statusChanged()
}

func (o *Orchestrator) notify(kind types.NoticeKind) {
	if o.metrics != nil {
		o.metrics.Notice(string(kind))
	}
	if o.notifier != nil {
		o.notifier.Notify(types.NewNotice(kind))
	}
}

func (o *Orchestrator) recordSession(res *recording.Result) {
	outcome := "submitted"
	eventType := eventlog.SessionStopped
	details := &eventlog.SessionDetails{
		Reason:         string(res.Reason),
		SpeechDetected: res.SpeechDetected,
		DurationMs:     res.StoppedAt.Sub(res.StartedAt).Milliseconds(),
	}
	bytes := 0
	switch {
	case res.Payload != nil:
		bytes = len(res.Payload.Data)
		details.Bytes = bytes
		details.ContentType = res.Payload.ContentType
	case errors.Is(res.Err, recording.ErrPreempted):
		outcome = "preempted"
	case res.Err != nil:
		outcome = "no_speech"
		eventType = eventlog.SessionAbandoned
		details.Error = res.Err.Error()
	}

	if o.metrics != nil {
		o.metrics.SessionFinished(string(res.Reason), outcome, res.StoppedAt.Sub(res.StartedAt), bytes)
	}
	o.logSession(eventType, res.SessionID, details)
}

func (o *Orchestrator) logSession(eventType eventlog.EventType, sessionID string, details *eventlog.SessionDetails) {
	if o.events == nil {
		return
	}
	if err := o.events.LogSession(eventType, sessionID, details); err != nil {
		slog.Warn("failed to log event", "type", eventType, "error", err)
	}
}

func (o *Orchestrator) logSubmission(eventType eventlog.EventType, sessionID string, details *eventlog.SubmissionDetails) {
	if o.events == nil {
		return
	}
	if err := o.events.LogSubmission(eventType, sessionID, details); err != nil {
		slog.Warn("failed to log event", "type", eventType, "error", err)
	}
}

func (o *Orchestrator) statusChanged() {
	o.mu.Lock()
	fn := o.onStatusChange
	o.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (o *Orchestrator) historyChanged(entries []types.TranscriptEntry) {
	o.mu.Lock()
	fn := o.onHistoryChange
	o.mu.Unlock()
	if fn != nil {
		fn(entries)
	}
}

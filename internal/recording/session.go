package recording

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oszuidwest/voicetutor/internal/audio"
	"github.com/oszuidwest/voicetutor/internal/types"
	"github.com/oszuidwest/voicetutor/internal/util"
)

// Config describes how the Recorder captures audio.
type Config struct {
	Source          audio.Source
	NewEncoder      EncoderFactory
	Silence         audio.SilenceConfig
	Analyser        audio.AnalyserConfig
	SampleInterval  time.Duration
	FinalizeTimeout time.Duration
}

// Recorder owns the single active capture session. Starting a new session
// stops the active one first; nothing is queued or rejected.
// It is safe for concurrent use.
type Recorder struct {
	startMu sync.Mutex // serializes Start so stop-before-start holds

	mu     sync.Mutex
	cfg    Config
	active *Session
}

// NewRecorder creates a recorder.
func NewRecorder(cfg Config) *Recorder {
	if cfg.NewEncoder == nil {
		cfg.NewEncoder = WAVEncoderFactory()
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = DefaultFinalizeTimeout
	}
	if cfg.Silence == (audio.SilenceConfig{}) {
		cfg.Silence = audio.DefaultSilenceConfig()
	}
	if cfg.Analyser == (audio.AnalyserConfig{}) {
		cfg.Analyser = audio.DefaultAnalyserConfig()
	}
	return &Recorder{cfg: cfg}
}

// SetSilenceConfig changes detection settings for sessions started afterwards.
func (r *Recorder) SetSilenceConfig(cfg audio.SilenceConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.Silence = cfg
}

// SilenceConfig returns the settings new sessions will use.
func (r *Recorder) SilenceConfig() audio.SilenceConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.Silence
}

// Start preempts any capturing session, opens the input device and begins a
// new capture. Device failures are returned as ErrMicrophoneUnavailable.
func (r *Recorder) Start(ctx context.Context) (*Session, error) {
	r.startMu.Lock()
	defer r.startMu.Unlock()

	r.mu.Lock()
	prev := r.active
	r.active = nil
	cfg := r.cfg
	r.mu.Unlock()

	if prev != nil && prev.State() == StateCapturing {
		slog.Info("preempting active capture", "session", prev.ID())
		prev.Stop(StopPreempted)
	}

	if cfg.Source == nil {
		return nil, ErrMicrophoneUnavailable
	}
	stream, err := cfg.Source.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMicrophoneUnavailable, err)
	}

	enc, err := cfg.NewEncoder()
	if err != nil {
		util.SafeCloseFunc(stream.Close, "input stream")()
		return nil, util.WrapError("start encoder", err)
	}

	s := newSession(stream, enc, &cfg)
	s.start()

	r.mu.Lock()
	r.active = s
	r.mu.Unlock()

	slog.Info("capture started", "session", s.ID(), "content_type", enc.ContentType())
	return s, nil
}

// Active returns the capturing session, or nil.
func (r *Recorder) Active() *Session {
	r.mu.Lock()
	s := r.active
	r.mu.Unlock()
	if s == nil || s.State() != StateCapturing {
		return nil
	}
	return s
}

// Stop stops the capturing session, if any, and reports whether one was stopped.
func (r *Recorder) Stop(reason StopReason) (Result, bool) {
	s := r.Active()
	if s == nil {
		return Result{}, false
	}
	return s.Stop(reason), true
}

// Close discards any capturing session.
func (r *Recorder) Close() {
	r.Stop(StopPreempted)
}

// Session is one capture from start to finished payload.
type Session struct {
	id              string
	stream          audio.Stream
	encoder         Encoder
	detector        *audio.SilenceDetector
	ring            *audio.RingBuffer
	sampler         *audio.Sampler
	finalizeTimeout time.Duration
	startedAt       time.Time

	sampleCtx      context.Context
	cancelSampling context.CancelFunc

	mu       sync.Mutex
	state    State
	chunks   [][]byte
	pcmBytes int64
	level    float64

	stopOnce    sync.Once
	pumpDone    chan struct{}
	collectDone chan struct{}
	done        chan struct{}
	result      Result
}

func newSession(stream audio.Stream, enc Encoder, cfg *Config) *Session {
	analyser := audio.NewAnalyser(cfg.Analyser)
	ring := audio.NewRingBuffer(analyser.FFTSize() * 4)
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		id:              uuid.NewString(),
		stream:          stream,
		encoder:         enc,
		detector:        audio.NewSilenceDetector(cfg.Silence),
		ring:            ring,
		sampler:         audio.NewSampler(ring, analyser, cfg.SampleInterval),
		finalizeTimeout: cfg.FinalizeTimeout,
		sampleCtx:       ctx,
		cancelSampling:  cancel,
		state:           StateIdle,
		pumpDone:        make(chan struct{}),
		collectDone:     make(chan struct{}),
		done:            make(chan struct{}),
	}
}

func (s *Session) start() {
	s.mu.Lock()
	s.state = StateCapturing
	s.startedAt = time.Now()
	s.mu.Unlock()

	go s.pump()
	go s.collect()
}

// pump feeds captured PCM to the loudness buffer and the encoder.
func (s *Session) pump() {
	defer close(s.pumpDone)

	var writeErr error
	for pcm := range s.stream.PCM() {
		_, _ = s.ring.Write(pcm)
		if writeErr == nil {
			if _, err := s.encoder.Write(pcm); err != nil {
				writeErr = err
				slog.Warn("encoder write failed", "session", s.id, "error", err)
				continue
			}
		}
		s.mu.Lock()
		s.pcmBytes += int64(len(pcm))
		s.mu.Unlock()
	}

	if s.State() == StateCapturing {
		slog.Warn("input stream ended", "session", s.id)
		go s.Stop(StopStreamLost)
	}
}

// collect accumulates encoded chunks as they become available.
func (s *Session) collect() {
	defer close(s.collectDone)
	for chunk := range s.encoder.Chunks() {
		s.mu.Lock()
		s.chunks = append(s.chunks, chunk)
		s.mu.Unlock()
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartedAt returns when capturing began.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Level returns the most recently evaluated loudness.
func (s *Session) Level() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// SpeechDetected reports whether speech was heard during this capture.
func (s *Session) SpeechDetected() bool {
	return s.detector.SpeechDetected()
}

// Samples returns the loudness sequence of this capture. It ends when the
// session leaves the capturing state.
func (s *Session) Samples() iter.Seq[audio.LoudnessSample] {
	return s.sampler.Samples(s.sampleCtx)
}

// Evaluate feeds one sample to the silence detector. Samples arriving after
// the session stopped capturing are ignored.
func (s *Session) Evaluate(sample audio.LoudnessSample) audio.Verdict {
	s.mu.Lock()
	if s.state != StateCapturing {
		s.mu.Unlock()
		return audio.VerdictContinue
	}
	s.level = sample.Level
	s.mu.Unlock()
	return s.detector.Update(sample.Level, sample.At)
}

// Done is closed once the session is closed and its Result is final.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Result blocks until the session is closed and returns its outcome.
func (s *Session) Result() Result {
	<-s.done
	return s.result
}

// Wait blocks until the session is closed or ctx is done.
func (s *Session) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
		return s.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Stop ends the capture. Only the first call decides the reason; every call
// blocks until the session is closed and returns the same Result.
func (s *Session) Stop(reason StopReason) Result {
	s.stopOnce.Do(func() {
		s.finalize(reason)
	})
	<-s.done
	return s.result
}

func (s *Session) finalize(reason StopReason) {
	s.cancelSampling()

	s.mu.Lock()
	s.state = StateFinalizing
	s.mu.Unlock()

	// The device is released whatever the reason.
	if err := s.stream.Close(); err != nil {
		slog.Warn("failed to release input stream", "session", s.id, "error", err)
	}
	if !s.waitFor(s.pumpDone) {
		slog.Warn("input pump did not finish in time", "session", s.id)
	}
	if err := s.encoder.Close(); err != nil {
		slog.Warn("encoder close failed", "session", s.id, "error", err)
	}
	if !s.waitFor(s.collectDone) {
		slog.Warn("encoder output did not finish in time", "session", s.id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res := Result{
		SessionID:      s.id,
		Reason:         reason,
		SpeechDetected: s.detector.SpeechDetected(),
		StartedAt:      s.startedAt,
		StoppedAt:      time.Now(),
	}

	switch reason {
	case StopAbandon:
		res.Err = ErrNoSpeech
	case StopPreempted:
		res.Err = ErrPreempted
	default:
		data := bytes.Join(s.chunks, nil)
		if s.pcmBytes == 0 || len(data) == 0 {
			res.Err = ErrEmptyCapture
			break
		}
		res.Payload = &types.AudioPayload{
			Data:        data,
			ContentType: s.encoder.ContentType(),
			Extension:   s.encoder.Extension(),
			Chunks:      len(s.chunks),
			Duration:    res.StoppedAt.Sub(s.startedAt),
		}
	}

	s.chunks = nil
	s.state = StateClosed
	s.result = res
	close(s.done)

	logArgs := []any{"session", s.id, "reason", reason, "speech", res.SpeechDetected}
	if res.Payload != nil {
		logArgs = append(logArgs, "bytes", len(res.Payload.Data), "chunks", res.Payload.Chunks)
	}
	if res.Err != nil && !errors.Is(res.Err, ErrPreempted) {
		logArgs = append(logArgs, "outcome", res.Err)
	}
	slog.Info("capture stopped", logArgs...)
}

func (s *Session) waitFor(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-time.After(s.finalizeTimeout):
		return false
	}
}

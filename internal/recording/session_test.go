package recording

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/voicetutor/internal/audio"
)

type fakeStream struct {
	pcm       chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{pcm: make(chan []byte, 16), closed: make(chan struct{})}
}

func (s *fakeStream) PCM() <-chan []byte { return s.pcm }

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.pcm)
		close(s.closed)
	})
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type fakeSource struct {
	mu      sync.Mutex
	streams []*fakeStream
	err     error
}

func (f *fakeSource) Open(context.Context) (audio.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := newFakeStream()
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeSource) last() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[len(f.streams)-1]
}

// echoEncoder emits every write as one encoded chunk.
type echoEncoder struct {
	chunks    chan []byte
	closeOnce sync.Once
}

func newEchoEncoder() Encoder {
	return &echoEncoder{chunks: make(chan []byte, 64)}
}

func (e *echoEncoder) Write(p []byte) (int, error) {
	e.chunks <- bytes.Clone(p)
	return len(p), nil
}

func (e *echoEncoder) Chunks() <-chan []byte { return e.chunks }

func (e *echoEncoder) Close() error {
	e.closeOnce.Do(func() { close(e.chunks) })
	return nil
}

func (e *echoEncoder) ContentType() string { return "audio/test" }
func (e *echoEncoder) Extension() string   { return "test" }

func newTestRecorder(src audio.Source) *Recorder {
	return NewRecorder(Config{
		Source:         src,
		NewEncoder:     func() (Encoder, error) { return newEchoEncoder(), nil },
		SampleInterval: time.Millisecond,
		Silence: audio.SilenceConfig{
			Threshold:        10,
			SustainedSilence: 100 * time.Millisecond,
			InitialSilence:   500 * time.Millisecond,
		},
		FinalizeTimeout: time.Second,
	})
}

func TestSession_ManualStopProducesPayload(t *testing.T) {
	src := &fakeSource{}
	rec := newTestRecorder(src)

	sess, err := rec.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCapturing, sess.State())
	assert.Same(t, sess, rec.Active())

	stream := src.last()
	stream.pcm <- []byte{1, 2, 3, 4}
	stream.pcm <- []byte{5, 6}

	res := sess.Stop(StopManual)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Payload)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, res.Payload.Data)
	assert.Equal(t, 2, res.Payload.Chunks)
	assert.Equal(t, "audio/test", res.Payload.ContentType)
	assert.Equal(t, "recording.test", res.Payload.Filename())
	assert.Equal(t, StopManual, res.Reason)
	assert.True(t, res.Submittable())

	assert.Equal(t, StateClosed, sess.State())
	assert.True(t, stream.isClosed(), "input stream released")
	assert.Nil(t, rec.Active())

	select {
	case <-sess.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestSession_StopIsIdempotentFirstWriterWins(t *testing.T) {
	src := &fakeSource{}
	rec := newTestRecorder(src)
	sess, err := rec.Start(context.Background())
	require.NoError(t, err)
	src.last().pcm <- []byte{1, 2}

	first := sess.Stop(StopAutoSubmit)

	var wg sync.WaitGroup
	results := make([]Result, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = sess.Stop(StopManual)
		}()
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, StopAutoSubmit, r.Reason)
		assert.Equal(t, first.Payload, r.Payload)
	}
}

func TestSession_EmptyCapture(t *testing.T) {
	rec := newTestRecorder(&fakeSource{})
	sess, err := rec.Start(context.Background())
	require.NoError(t, err)

	res := sess.Stop(StopManual)
	assert.ErrorIs(t, res.Err, ErrEmptyCapture)
	assert.Nil(t, res.Payload)
	assert.False(t, res.Submittable())
}

func TestSession_AbandonDiscardsAudio(t *testing.T) {
	src := &fakeSource{}
	rec := newTestRecorder(src)
	sess, err := rec.Start(context.Background())
	require.NoError(t, err)
	src.last().pcm <- []byte{1, 2, 3, 4}

	res := sess.Stop(StopAbandon)
	assert.ErrorIs(t, res.Err, ErrNoSpeech)
	assert.Nil(t, res.Payload)
}

func TestRecorder_StartPreemptsActiveSession(t *testing.T) {
	src := &fakeSource{}
	rec := newTestRecorder(src)

	first, err := rec.Start(context.Background())
	require.NoError(t, err)
	firstStream := src.last()
	firstStream.pcm <- []byte{9, 9, 9, 9}

	second, err := rec.Start(context.Background())
	require.NoError(t, err)

	res := first.Result()
	assert.Equal(t, StopPreempted, res.Reason)
	assert.ErrorIs(t, res.Err, ErrPreempted)
	assert.Nil(t, res.Payload, "preempted audio is never submitted")
	assert.True(t, firstStream.isClosed())

	assert.Equal(t, StateCapturing, second.State())
	assert.Same(t, second, rec.Active())
	assert.NotEqual(t, first.ID(), second.ID())

	second.Stop(StopManual)
}

func TestRecorder_MicrophoneUnavailable(t *testing.T) {
	rec := newTestRecorder(&fakeSource{err: errors.New("permission denied")})

	sess, err := rec.Start(context.Background())
	assert.Nil(t, sess)
	assert.ErrorIs(t, err, ErrMicrophoneUnavailable)
	assert.Nil(t, rec.Active())
}

func TestRecorder_EncoderFailureReleasesStream(t *testing.T) {
	src := &fakeSource{}
	rec := NewRecorder(Config{
		Source:     src,
		NewEncoder: func() (Encoder, error) { return nil, errors.New("no ffmpeg") },
	})

	_, err := rec.Start(context.Background())
	require.Error(t, err)
	assert.True(t, src.last().isClosed())
}

func TestSession_StreamLost(t *testing.T) {
	src := &fakeSource{}
	rec := newTestRecorder(src)
	sess, err := rec.Start(context.Background())
	require.NoError(t, err)

	stream := src.last()
	stream.pcm <- []byte{1, 2}
	// Device disappears.
	_ = stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := sess.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, StopStreamLost, res.Reason)
	require.NoError(t, res.Err)
	assert.Equal(t, []byte{1, 2}, res.Payload.Data)
}

func TestSession_EvaluateDrivesDetector(t *testing.T) {
	rec := newTestRecorder(&fakeSource{})
	sess, err := rec.Start(context.Background())
	require.NoError(t, err)
	defer sess.Stop(StopManual)

	now := time.Now()
	assert.Equal(t, audio.VerdictContinue, sess.Evaluate(audio.LoudnessSample{Level: 50, At: now}))
	assert.True(t, sess.SpeechDetected())
	assert.InDelta(t, 50.0, sess.Level(), 1e-9)

	sess.Evaluate(audio.LoudnessSample{Level: 0, At: now.Add(10 * time.Millisecond)})
	v := sess.Evaluate(audio.LoudnessSample{Level: 0, At: now.Add(200 * time.Millisecond)})
	assert.Equal(t, audio.VerdictAutoSubmit, v)

	reason, ok := ReasonForVerdict(v)
	require.True(t, ok)
	assert.Equal(t, StopAutoSubmit, reason)
}

func TestSession_EvaluateIgnoredAfterStop(t *testing.T) {
	rec := newTestRecorder(&fakeSource{})
	sess, err := rec.Start(context.Background())
	require.NoError(t, err)
	sess.Stop(StopManual)

	now := time.Now()
	sess.Evaluate(audio.LoudnessSample{Level: 0, At: now})
	v := sess.Evaluate(audio.LoudnessSample{Level: 0, At: now.Add(time.Hour)})
	assert.Equal(t, audio.VerdictContinue, v)
}

func TestSession_SamplesEndOnStop(t *testing.T) {
	rec := newTestRecorder(&fakeSource{})
	sess, err := rec.Start(context.Background())
	require.NoError(t, err)

	first := make(chan struct{})
	finished := make(chan int)
	go func() {
		n := 0
		for range sess.Samples() {
			if n == 0 {
				close(first)
			}
			n++
		}
		finished <- n
	}()

	<-first
	sess.Stop(StopManual)

	select {
	case n := <-finished:
		assert.Positive(t, n)
	case <-time.After(2 * time.Second):
		t.Fatal("sampler kept running after stop")
	}
}

func TestStopReason_Submits(t *testing.T) {
	assert.True(t, StopManual.Submits())
	assert.True(t, StopAutoSubmit.Submits())
	assert.True(t, StopStreamLost.Submits())
	assert.False(t, StopAbandon.Submits())
	assert.False(t, StopPreempted.Submits())
}

func TestReasonForVerdict_Continue(t *testing.T) {
	_, ok := ReasonForVerdict(audio.VerdictContinue)
	assert.False(t, ok)
}

// Package speaker connects the playback controller to the system audio device.
package speaker

import (
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"

	"github.com/oszuidwest/voicetutor/internal/playback"
	"github.com/oszuidwest/voicetutor/internal/util"
)

// DefaultSampleRate is the device rate clips are resampled to.
const DefaultSampleRate beep.SampleRate = 44100

const resampleQuality = 4

// Output plays clips on the default audio device through beep's speaker.
type Output struct {
	mu         sync.Mutex
	sampleRate beep.SampleRate
	suspended  bool
}

// New initializes the audio device.
func New(sampleRate beep.SampleRate) (*Output, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if err := speaker.Init(sampleRate, sampleRate.N(time.Second/10)); err != nil {
		return nil, util.WrapError("initialize speaker", err)
	}
	return &Output{sampleRate: sampleRate}, nil
}

// Factory returns a playback.OutputFactory opening the default device.
func Factory(sampleRate beep.SampleRate) playback.OutputFactory {
	return func() (playback.Output, error) {
		return New(sampleRate)
	}
}

// Suspend implements playback.Output.
func (o *Output) Suspend() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.suspended {
		return nil
	}
	if err := speaker.Suspend(); err != nil {
		return err
	}
	o.suspended = true
	return nil
}

// Resume implements playback.Output.
func (o *Output) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.suspended {
		return nil
	}
	if err := speaker.Resume(); err != nil {
		return err
	}
	o.suspended = false
	return nil
}

// Play implements playback.Output.
func (o *Output) Play(clip *playback.Clip, done func()) (playback.Handle, error) {
	var s beep.Streamer = clip.Streamer()
	if clip.Format().SampleRate != o.sampleRate {
		s = beep.Resample(resampleQuality, clip.Format().SampleRate, o.sampleRate, s)
	}

	ctrl := &beep.Ctrl{Streamer: beep.Seq(s, beep.Callback(func() {
		// Runs under the speaker lock.
		go done()
	}))}
	speaker.Play(ctrl)
	return &handle{ctrl: ctrl}, nil
}

// Close implements playback.Output.
func (o *Output) Close() error {
	speaker.Clear()
	speaker.Close()
	return nil
}

type handle struct {
	ctrl *beep.Ctrl
}

func (h *handle) Stop() {
	speaker.Lock()
	h.ctrl.Streamer = nil
	speaker.Unlock()
}

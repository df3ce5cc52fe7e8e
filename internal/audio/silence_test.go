package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testSilenceConfig() SilenceConfig {
	return SilenceConfig{
		Threshold:        10,
		SustainedSilence: 1500 * time.Millisecond,
		InitialSilence:   5 * time.Second,
	}
}

func TestSilenceDetectorLoudNeverTerminates(t *testing.T) {
	d := NewSilenceDetector(testSilenceConfig())
	start := time.Unix(1700000000, 0)

	for i := range 10000 {
		level := 10.5 + float64(i%200)
		v := d.Update(level, start.Add(time.Duration(i)*16*time.Millisecond))
		if !assert.Equal(t, VerdictContinue, v, "tick %d", i) {
			return
		}
	}
	assert.True(t, d.SpeechDetected())
	assert.Zero(t, d.SilenceDuration(start.Add(time.Hour)))
}

func TestSilenceDetectorAutoSubmit(t *testing.T) {
	d := NewSilenceDetector(testSilenceConfig())
	now := time.Unix(1700000000, 0)

	assert.Equal(t, VerdictContinue, d.Update(50, now))

	// First quiet sample only starts the silence timer.
	now = now.Add(16 * time.Millisecond)
	silenceStart := now
	assert.Equal(t, VerdictContinue, d.Update(3, now))

	// Exactly at the threshold is still not "more than".
	assert.Equal(t, VerdictContinue, d.Update(3, silenceStart.Add(1500*time.Millisecond)))

	v := d.Update(3, silenceStart.Add(1501*time.Millisecond))
	assert.Equal(t, VerdictAutoSubmit, v)
	assert.True(t, v.Terminal())

	// Terminal verdict sticks; loud samples are not evaluated any more.
	assert.Equal(t, VerdictAutoSubmit, d.Update(200, silenceStart.Add(2*time.Second)))
	assert.Equal(t, VerdictAutoSubmit, d.Verdict())
}

func TestSilenceDetectorAbandon(t *testing.T) {
	d := NewSilenceDetector(testSilenceConfig())
	start := time.Unix(1700000000, 0)

	var v Verdict
	tick := 0
	for ; ; tick++ {
		v = d.Update(0, start.Add(time.Duration(tick)*100*time.Millisecond))
		if v.Terminal() {
			break
		}
	}
	assert.Equal(t, VerdictAbandon, v)
	assert.False(t, d.SpeechDetected())
	// 5s timeout is exceeded on the first tick past 5.0s.
	assert.Equal(t, 51, tick)
}

func TestSilenceDetectorThresholdIsSilence(t *testing.T) {
	d := NewSilenceDetector(testSilenceConfig())
	now := time.Unix(1700000000, 0)

	d.Update(10, now)
	assert.False(t, d.SpeechDetected(), "level equal to threshold counts as silence")
	assert.Equal(t, 2*time.Second, d.SilenceDuration(now.Add(2*time.Second)))
}

func TestSilenceDetectorSpeechResetsTimer(t *testing.T) {
	d := NewSilenceDetector(testSilenceConfig())
	now := time.Unix(1700000000, 0)

	d.Update(0, now)
	d.Update(0, now.Add(4*time.Second))
	// Speech just before the initial timeout clears the silent run.
	assert.Equal(t, VerdictContinue, d.Update(80, now.Add(4900*time.Millisecond)))
	assert.Zero(t, d.SilenceDuration(now.Add(5*time.Second)))

	d.Update(0, now.Add(6*time.Second))
	assert.Equal(t, VerdictContinue, d.Update(0, now.Add(7*time.Second)))
	assert.Equal(t, VerdictAutoSubmit, d.Update(0, now.Add(7600*time.Millisecond)))
}

func TestSilenceDetectorDelayedTicks(t *testing.T) {
	d := NewSilenceDetector(testSilenceConfig())
	now := time.Unix(1700000000, 0)

	d.Update(80, now)
	d.Update(0, now.Add(time.Second))
	// A single late tick still sees the full wall-clock elapsed time.
	assert.Equal(t, VerdictAutoSubmit, d.Update(0, now.Add(10*time.Second)))
}

func TestVerdictTerminal(t *testing.T) {
	tests := []struct {
		verdict  Verdict
		terminal bool
	}{
		{VerdictContinue, false},
		{VerdictAutoSubmit, true},
		{VerdictAbandon, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.verdict), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.verdict.Terminal())
		})
	}
}

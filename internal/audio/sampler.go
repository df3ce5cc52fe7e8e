package audio

import (
	"context"
	"iter"
	"sync/atomic"
	"time"
)

// DefaultSampleInterval approximates a 60Hz refresh cadence.
const DefaultSampleInterval = 16 * time.Millisecond

// Sampler periodically reduces a live stream to a loudness sample.
type Sampler struct {
	source   FrameSource
	analyser *Analyser
	interval time.Duration
	started  atomic.Bool
}

// NewSampler creates a sampler reading from source every interval.
func NewSampler(source FrameSource, analyser *Analyser, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	if analyser == nil {
		analyser = NewAnalyser(DefaultAnalyserConfig())
	}
	return &Sampler{source: source, analyser: analyser, interval: interval}
}

// Samples returns the sample sequence. It runs until ctx is cancelled or the
// consumer stops ranging. The sequence can be consumed only once; later
// iterations yield nothing. Cancellation is checked on every tick, so no
// sample is delivered after ctx is done.
func (s *Sampler) Samples(ctx context.Context) iter.Seq[LoudnessSample] {
	return func(yield func(LoudnessSample) bool) {
		if !s.started.CompareAndSwap(false, true) {
			return
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		frame := make([]float64, s.analyser.FFTSize())
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				s.source.Snapshot(frame)
				sample := LoudnessSample{Level: s.analyser.Loudness(frame), At: now}
				if !yield(sample) {
					return
				}
			}
		}
	}
}

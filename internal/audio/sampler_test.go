package audio

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type constantSource struct {
	value float64
	reads atomic.Int32
}

func (s *constantSource) Snapshot(dst []float64) {
	s.reads.Add(1)
	for i := range dst {
		if i%2 == 0 {
			dst[i] = s.value
		} else {
			dst[i] = -s.value
		}
	}
}

func TestSamplerProducesSamples(t *testing.T) {
	src := &constantSource{value: 0.3}
	s := NewSampler(src, nil, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []LoudnessSample
	for sample := range s.Samples(ctx) {
		got = append(got, sample)
		if len(got) == 5 {
			break
		}
	}

	assert.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].At.Before(got[i-1].At))
	}
	assert.Greater(t, got[4].Level, 0.0)
}

func TestSamplerStopsOnCancel(t *testing.T) {
	s := NewSampler(&constantSource{}, nil, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	delivered := 0
	afterCancel := 0
	for range s.Samples(ctx) {
		if ctx.Err() != nil {
			afterCancel++
		}
		delivered++
		if delivered == 3 {
			cancel()
		}
	}

	assert.Equal(t, 3, delivered)
	assert.Zero(t, afterCancel)
}

func TestSamplerNotRestartable(t *testing.T) {
	s := NewSampler(&constantSource{}, nil, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for range s.Samples(ctx) {
		break
	}

	count := 0
	for range s.Samples(ctx) {
		count++
		if count > 0 {
			break
		}
	}
	assert.Zero(t, count)
}

func TestSamplerCancelledBeforeStart(t *testing.T) {
	src := &constantSource{}
	s := NewSampler(src, nil, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for range s.Samples(ctx) {
		t.Fatal("no sample expected after cancellation")
	}
	assert.Zero(t, src.reads.Load())
}

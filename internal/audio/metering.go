// Package audio provides microphone capture, loudness sampling and silence detection.
package audio

import (
	"encoding/binary"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// MaxSampleValue is the maximum absolute value for 16-bit signed audio.
	MaxSampleValue = 32768.0

	// DefaultFFTSize is the analysis window in samples; half of it is the bin count.
	DefaultFFTSize = 256
	// DefaultSmoothing blends each frame with the previous one (0 = none).
	DefaultSmoothing = 0.8
	// DefaultMinDecibels maps to byte value 0.
	DefaultMinDecibels = -100.0
	// DefaultMaxDecibels maps to byte value 255.
	DefaultMaxDecibels = -30.0
)

// AnalyserConfig tunes the frequency analysis behind a loudness sample.
type AnalyserConfig struct {
	FFTSize     int     // power of two, at least 32
	Smoothing   float64 // time constant in [0, 1)
	MinDecibels float64
	MaxDecibels float64
}

// DefaultAnalyserConfig returns settings matching a browser AnalyserNode.
func DefaultAnalyserConfig() AnalyserConfig {
	return AnalyserConfig{
		FFTSize:     DefaultFFTSize,
		Smoothing:   DefaultSmoothing,
		MinDecibels: DefaultMinDecibels,
		MaxDecibels: DefaultMaxDecibels,
	}
}

// Analyser reduces a window of PCM samples to byte-scaled frequency bins.
// It keeps smoothing state between frames and is not safe for concurrent use.
type Analyser struct {
	cfg      AnalyserConfig
	fft      *fourier.FFT
	window   []float64
	scratch  []float64
	coeffs   []complex128
	smoothed []float64
	bins     []uint8
}

// NewAnalyser creates an analyser. Invalid settings fall back to defaults.
func NewAnalyser(cfg AnalyserConfig) *Analyser {
	def := DefaultAnalyserConfig()
	if cfg.FFTSize < 32 || cfg.FFTSize&(cfg.FFTSize-1) != 0 {
		cfg.FFTSize = def.FFTSize
	}
	if cfg.Smoothing < 0 || cfg.Smoothing >= 1 {
		cfg.Smoothing = def.Smoothing
	}
	if cfg.MaxDecibels <= cfg.MinDecibels {
		cfg.MinDecibels, cfg.MaxDecibels = def.MinDecibels, def.MaxDecibels
	}

	n := cfg.FFTSize
	return &Analyser{
		cfg:      cfg,
		fft:      fourier.NewFFT(n),
		window:   blackman(n),
		scratch:  make([]float64, n),
		smoothed: make([]float64, n/2),
		bins:     make([]uint8, n/2),
	}
}

// FFTSize returns the number of samples consumed per frame.
func (a *Analyser) FFTSize() int {
	return a.cfg.FFTSize
}

// FrequencyBins analyses the newest FFTSize samples of frame and returns the
// byte-scaled magnitude of each bin. The returned slice is reused by the next call.
func (a *Analyser) FrequencyBins(frame []float64) []uint8 {
	n := a.cfg.FFTSize
	clear(a.scratch)
	if len(frame) > n {
		frame = frame[len(frame)-n:]
	}
	offset := n - len(frame)
	for i, s := range frame {
		a.scratch[offset+i] = s * a.window[offset+i]
	}

	a.coeffs = a.fft.Coefficients(a.coeffs, a.scratch)

	tau := a.cfg.Smoothing
	scale := 255 / (a.cfg.MaxDecibels - a.cfg.MinDecibels)
	for k := range a.smoothed {
		re, im := real(a.coeffs[k]), imag(a.coeffs[k])
		mag := math.Sqrt(re*re+im*im) / float64(n)
		a.smoothed[k] = tau*a.smoothed[k] + (1-tau)*mag

		db := math.Inf(-1)
		if a.smoothed[k] > 0 {
			db = 20 * math.Log10(a.smoothed[k])
		}
		v := math.Floor(scale * (db - a.cfg.MinDecibels))
		switch {
		case v < 0 || math.IsNaN(v):
			v = 0
		case v > 255:
			v = 255
		}
		a.bins[k] = uint8(v)
	}
	return a.bins
}

// Loudness returns the arithmetic mean of the frequency bins of frame (0-255).
func (a *Analyser) Loudness(frame []float64) float64 {
	return MeanLevel(a.FrequencyBins(frame))
}

// MeanLevel returns the arithmetic mean of bins, or 0 for no bins.
func MeanLevel(bins []uint8) float64 {
	if len(bins) == 0 {
		return 0
	}
	var sum int
	for _, b := range bins {
		sum += int(b)
	}
	return float64(sum) / float64(len(bins))
}

// DecodeS16LE converts mono S16LE PCM to samples in [-1, 1).
// A trailing odd byte is ignored.
func DecodeS16LE(pcm []byte, dst []float64) []float64 {
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(binary.LittleEndian.Uint16(pcm[i:]))
		dst = append(dst, float64(s)/MaxSampleValue)
	}
	return dst
}

func blackman(n int) []float64 {
	const a0, a1, a2 = 0.42, 0.5, 0.08
	w := make([]float64, n)
	for i := range w {
		x := 2 * math.Pi * float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(x) + a2*math.Cos(2*x)
	}
	return w
}

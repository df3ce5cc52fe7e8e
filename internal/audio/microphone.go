package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/voicetutor/internal/ffmpeg"
	"github.com/oszuidwest/voicetutor/internal/types"
)

const (
	// pcmChunkSize is 100ms of mono 16-bit audio at the capture rate.
	pcmChunkSize = types.SampleRate * types.Channels * 2 / 10

	// DefaultStartTimeout bounds how long Open waits for the first audio.
	DefaultStartTimeout = 3 * time.Second

	captureStopTimeout = 2 * time.Second
)

// Stream is a live capture producing mono S16LE PCM chunks.
type Stream interface {
	// PCM delivers captured audio. It is closed when the stream ends.
	PCM() <-chan []byte
	// Close releases the device. It is safe to call more than once.
	Close() error
}

// Source opens capture streams.
type Source interface {
	Open(ctx context.Context) (Stream, error)
}

// Microphone captures from a platform audio input through a subprocess.
type Microphone struct {
	Device       string        // device identifier, empty for the platform default
	FFmpegPath   string        // used on platforms that capture through FFmpeg
	StartTimeout time.Duration // wait for first audio, zero for DefaultStartTimeout
}

// NewMicrophone creates a microphone source for device.
func NewMicrophone(device, ffmpegPath string) *Microphone {
	return &Microphone{Device: device, FFmpegPath: ffmpegPath}
}

// Open starts the capture command and waits until it produces audio.
// A command that cannot start or exits first yields ErrCaptureFailed.
func (m *Microphone) Open(ctx context.Context) (Stream, error) {
	command, args, err := BuildCaptureCommand(m.Device, m.FFmpegPath)
	if err != nil {
		return nil, err
	}

	proc, err := ffmpeg.StartProcess(command, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureFailed, err)
	}

	s := &captureStream{
		proc:   proc,
		pcm:    make(chan []byte, 32),
		ready:  make(chan struct{}),
		exited: make(chan struct{}),
		stop:   make(chan struct{}),
	}
	go s.readLoop()

	timeout := m.StartTimeout
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.ready:
		slog.Info("microphone opened", "command", command, "device", m.Device)
		return s, nil
	case <-s.exited:
		_ = s.Close()
		return nil, fmt.Errorf("%w: %w", ErrCaptureFailed, cmpErr(s.waitErr, io.ErrUnexpectedEOF))
	case <-timer.C:
		_ = s.Close()
		return nil, fmt.Errorf("%w: no audio within %s", ErrCaptureFailed, timeout)
	case <-ctx.Done():
		_ = s.Close()
		return nil, ctx.Err()
	}
}

type captureStream struct {
	proc      *ffmpeg.Process
	pcm       chan []byte
	ready     chan struct{} // closed on the first chunk
	exited    chan struct{} // closed when stdout ends
	stop      chan struct{} // closed by Close
	closeOnce sync.Once
	closeErr  error
	waitErr   error
}

func (s *captureStream) PCM() <-chan []byte {
	return s.pcm
}

func (s *captureStream) readLoop() {
	defer close(s.exited)
	defer close(s.pcm)

	var readyOnce sync.Once
	buf := make([]byte, pcmChunkSize)
	for {
		n, err := s.proc.Stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			readyOnce.Do(func() { close(s.ready) })
			select {
			case s.pcm <- chunk:
			case <-s.stop:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("capture read ended", "error", err)
			}
			return
		}
	}
}

func (s *captureStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.proc.Interrupt()
		select {
		case <-s.exited:
		case <-time.After(captureStopTimeout):
			s.proc.Cancel()
			<-s.exited
		}
		err := s.proc.Wait(captureStopTimeout)
		s.waitErr = err
		if err != nil && !errors.Is(err, ffmpeg.ErrStopTimeout) {
			// Interrupted capture commands exit non-zero.
			slog.Debug("capture process exited", "error", err)
			err = nil
		}
		s.closeErr = err
	})
	return s.closeErr
}

func cmpErr(err, fallback error) error {
	if err != nil {
		return err
	}
	return fallback
}

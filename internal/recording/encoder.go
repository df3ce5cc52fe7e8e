package recording

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/voicetutor/internal/ffmpeg"
	"github.com/oszuidwest/voicetutor/internal/types"
)

// Encoder turns captured PCM into encoded chunks.
type Encoder interface {
	// Write accepts mono S16LE PCM.
	io.Writer
	// Chunks delivers encoded output and is closed after Close has flushed everything.
	Chunks() <-chan []byte
	// Close flushes pending output. It is safe to call more than once.
	Close() error
	// ContentType returns the MIME type of the encoded stream.
	ContentType() string
	// Extension returns the file extension for the encoded stream.
	Extension() string
}

// EncoderFactory creates one encoder per capture.
type EncoderFactory func() (Encoder, error)

// ErrEncoderClosed is returned by Write after Close.
var ErrEncoderClosed = errors.New("encoder closed")

const (
	encodedChunkSize   = 4096
	encoderStopTimeout = 5 * time.Second
)

// FFmpegEncoder encodes PCM with an FFmpeg subprocess writing to stdout.
type FFmpegEncoder struct {
	preset types.CodecPreset
	codec  types.Codec
	proc   *ffmpeg.Process
	chunks chan []byte
	done   chan struct{}

	mu     sync.Mutex
	closed bool
	err    error
}

// NewFFmpegEncoder starts an FFmpeg process for codec.
func NewFFmpegEncoder(ffmpegPath string, codec types.Codec) (*FFmpegEncoder, error) {
	preset := types.PresetFor(codec)
	proc, err := ffmpeg.StartProcess(ffmpegPath, ffmpeg.EncodeArgs(preset))
	if err != nil {
		return nil, err
	}

	e := &FFmpegEncoder{
		preset: preset,
		codec:  codec,
		proc:   proc,
		chunks: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	go e.readLoop()

	slog.Debug("encoder started", "codec", codec, "format", preset.Format)
	return e, nil
}

// FFmpegEncoderFactory returns a factory for FFmpeg encoders.
func FFmpegEncoderFactory(ffmpegPath string, codec types.Codec) EncoderFactory {
	return func() (Encoder, error) {
		return NewFFmpegEncoder(ffmpegPath, codec)
	}
}

func (e *FFmpegEncoder) readLoop() {
	defer close(e.done)
	defer close(e.chunks)

	buf := make([]byte, encodedChunkSize)
	for {
		n, err := e.proc.Stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			e.chunks <- chunk
		}
		if err != nil {
			return
		}
	}
}

// Write sends PCM to the encoder.
func (e *FFmpegEncoder) Write(pcm []byte) (int, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return 0, ErrEncoderClosed
	}
	return e.proc.Stdin.Write(pcm)
}

// Chunks implements Encoder.
func (e *FFmpegEncoder) Chunks() <-chan []byte {
	return e.chunks
}

// Close ends the input and waits for FFmpeg to flush its output.
// Chunks must keep being drained while Close runs.
func (e *FFmpegEncoder) Close() error {
	e.mu.Lock()
	if e.closed {
		err := e.err
		e.mu.Unlock()
		return err
	}
	e.closed = true
	e.mu.Unlock()

	if err := e.proc.Stdin.Close(); err != nil {
		slog.Warn("failed to close encoder stdin", "error", err)
	}

	var err error
	select {
	case <-e.done:
		err = e.proc.Wait(encoderStopTimeout)
	case <-time.After(encoderStopTimeout):
		slog.Warn("encoder did not flush in time", "codec", e.codec)
		e.proc.Cancel()
		<-e.done
		err = e.proc.Wait(encoderStopTimeout)
	}
	if err != nil {
		err = fmt.Errorf("ffmpeg %s: %w", e.codec, err)
	}

	e.mu.Lock()
	e.err = err
	e.mu.Unlock()
	return err
}

// ContentType implements Encoder.
func (e *FFmpegEncoder) ContentType() string {
	return e.preset.ContentType
}

// Extension implements Encoder.
func (e *FFmpegEncoder) Extension() string {
	return e.preset.Format
}

// WAVEncoder wraps PCM in a RIFF/WAVE container without external tools.
// The whole file is emitted as one chunk on Close.
type WAVEncoder struct {
	mu     sync.Mutex
	pcm    bytes.Buffer
	chunks chan []byte
	closed bool
}

// NewWAVEncoder creates a WAV encoder.
func NewWAVEncoder() *WAVEncoder {
	return &WAVEncoder{chunks: make(chan []byte, 1)}
}

// WAVEncoderFactory returns a factory for WAV encoders.
func WAVEncoderFactory() EncoderFactory {
	return func() (Encoder, error) {
		return NewWAVEncoder(), nil
	}
}

// Write buffers PCM.
func (e *WAVEncoder) Write(pcm []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, ErrEncoderClosed
	}
	return e.pcm.Write(pcm)
}

// Chunks implements Encoder.
func (e *WAVEncoder) Chunks() <-chan []byte {
	return e.chunks
}

// Close emits the WAV file, or nothing if no PCM was written.
func (e *WAVEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	// Drop a trailing half sample.
	data := e.pcm.Bytes()
	data = data[:len(data)&^1]
	if len(data) > 0 {
		e.chunks <- encodeWAV(data, types.SampleRate, types.Channels)
	}
	close(e.chunks)
	return nil
}

// ContentType implements Encoder.
func (e *WAVEncoder) ContentType() string {
	return types.CodecPresets[types.CodecWAV].ContentType
}

// Extension implements Encoder.
func (e *WAVEncoder) Extension() string {
	return string(types.CodecWAV)
}

// wavHeader is the canonical 44-byte PCM WAVE header.
type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(pcm)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * blockAlign),
		BlockAlign:    uint16(blockAlign),
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(len(pcm)),
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	// Writes to a bytes.Buffer cannot fail.
	_ = binary.Write(buf, binary.LittleEndian, header)
	buf.Write(pcm)
	return buf.Bytes()
}

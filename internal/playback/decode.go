package playback

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
)

// ErrDecode is returned when an audio payload cannot be turned into a clip.
var ErrDecode = errors.New("audio payload could not be decoded")

// Clip is a fully decoded audio buffer ready for playback.
type Clip struct {
	Buffer      *beep.Buffer
	ContentType string
}

// Format returns the sample format of the clip.
func (c *Clip) Format() beep.Format {
	return c.Buffer.Format()
}

// Streamer returns a fresh streamer over the whole clip.
func (c *Clip) Streamer() beep.StreamSeeker {
	return c.Buffer.Streamer(0, c.Buffer.Len())
}

// Duration returns the clip length.
func (c *Clip) Duration() time.Duration {
	return c.Format().SampleRate.D(c.Buffer.Len())
}

// Decode sniffs the container of data and decodes it into memory.
// MP3 and WAV are supported.
func Decode(data []byte) (*Clip, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}

	mt := mimetype.Detect(data)
	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
		err      error
	)
	switch {
	case mt.Is("audio/mpeg"):
		streamer, format, err = mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	case mt.Is("audio/wav"):
		streamer, format, err = wav.Decode(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("%w: unsupported format %s", ErrDecode, mt.String())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	defer func() { _ = streamer.Close() }()

	buf := beep.NewBuffer(format)
	buf.Append(streamer)
	if err := streamer.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("%w: no samples", ErrDecode)
	}
	return &Clip{Buffer: buf, ContentType: mt.String()}, nil
}

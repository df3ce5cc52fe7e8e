package audio

import (
	"errors"
	"strconv"

	"github.com/oszuidwest/voicetutor/internal/types"
)

// Sentinel errors for microphone capture.
var (
	// ErrNoAudioDevice is returned when no audio input device is available.
	ErrNoAudioDevice = errors.New("no audio input device found")

	// ErrCaptureFailed is returned when the capture command exits before producing audio.
	ErrCaptureFailed = errors.New("audio capture failed to start")
)

// CaptureConfig defines platform-specific audio capture configuration.
type CaptureConfig struct {
	// Command is the executable name ("arecord" or "ffmpeg").
	Command string

	// DefaultDevice is used when no device is configured.
	DefaultDevice string

	// UsesFFmpeg reports whether capture goes through FFmpeg.
	UsesFFmpeg bool

	// BuildArgs returns the capture arguments for a device identifier.
	BuildArgs func(device string) []string
}

// BuildCaptureCommand returns the command and arguments for mono PCM capture.
// An empty device falls back to the platform default, then to the first listed device.
func BuildCaptureCommand(device, ffmpegPath string) (cmd string, args []string, err error) {
	cfg := getPlatformConfig()

	if device == "" {
		device = cfg.DefaultDevice
	}
	if device == "" {
		devices := cfg.Devices()
		if len(devices) == 0 {
			return "", nil, ErrNoAudioDevice
		}
		device = devices[0].ID
	}

	command := cfg.Command
	if cfg.UsesFFmpeg && ffmpegPath != "" {
		command = ffmpegPath
	}
	return command, cfg.BuildArgs(device), nil
}

func sampleRateArg() string { return strconv.Itoa(types.SampleRate) }

func channelsArg() string { return strconv.Itoa(types.Channels) }

//go:build windows

package audio

import (
	"regexp"
	"strings"

	"github.com/oszuidwest/voicetutor/internal/types"
)

// Matches lines like: [dshow @ addr] "Device Name" (audio)
var dshowAudioPattern = regexp.MustCompile(`\[dshow[^\]]*\]\s*"([^"]+)"\s*\(audio\)`)

func getPlatformConfig() CaptureConfig {
	return CaptureConfig{
		Command:    "ffmpeg",
		UsesFFmpeg: true,
		BuildArgs: func(device string) []string {
			return buildFFmpegCaptureArgs("dshow", device)
		},
	}
}

// Devices lists DirectShow audio inputs. FFmpeg versions differ in section
// headers, so lines are filtered by their "(audio)" suffix instead.
func (cfg *CaptureConfig) Devices() []types.AudioDevice {
	return parseDeviceList(DeviceListConfig{
		Command:       []string{cfg.Command, "-hide_banner", "-f", "dshow", "-list_devices", "true", "-i", "dummy"},
		DevicePattern: dshowAudioPattern,
		ParseDevice: func(matches []string) *types.AudioDevice {
			if len(matches) < 2 {
				return nil
			}
			name := strings.TrimSpace(matches[1])
			return &types.AudioDevice{ID: "audio=" + name, Name: name}
		},
	})
}

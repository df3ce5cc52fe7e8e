//go:build windows

package ffmpeg

import (
	"log/slog"

	"github.com/oszuidwest/voicetutor/internal/util"
)

// Interrupt asks FFmpeg to quit through its stdin command channel.
func (p *Process) Interrupt() {
	if err := util.StopFFmpegViaStdin(p.Stdin); err != nil {
		slog.Debug("stdin quit failed", "error", err)
	}
}

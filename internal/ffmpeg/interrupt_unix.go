//go:build !windows

package ffmpeg

import (
	"log/slog"

	"github.com/oszuidwest/voicetutor/internal/util"
)

// Interrupt asks the process to exit with SIGINT.
func (p *Process) Interrupt() {
	if p.Cmd.Process == nil {
		return
	}
	if err := util.GracefulSignal(p.Cmd.Process); err != nil {
		slog.Debug("graceful signal failed", "error", err)
	}
}

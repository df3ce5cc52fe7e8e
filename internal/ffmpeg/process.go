// Package ffmpeg provides shared subprocess management for capture and encoding.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/oszuidwest/voicetutor/internal/types"
	"github.com/oszuidwest/voicetutor/internal/util"
)

// ErrStopTimeout is returned when a process had to be killed after a graceful stop.
var ErrStopTimeout = errors.New("process did not exit in time")

// Process represents a running audio subprocess with piped stdin and stdout.
type Process struct {
	Cmd    *exec.Cmd
	Cancel context.CancelFunc
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr *bytes.Buffer
}

// BaseInputArgs returns FFmpeg arguments for mono PCM on stdin.
func BaseInputArgs() []string {
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(types.SampleRate),
		"-ac", strconv.Itoa(types.Channels),
		"-i", "pipe:0",
	}
}

// EncodeArgs returns the full FFmpeg argument list that reads PCM on stdin
// and writes preset-encoded audio to stdout.
func EncodeArgs(preset types.CodecPreset) []string {
	args := BaseInputArgs()
	args = append(args, "-c:a")
	args = append(args, preset.Args...)
	return append(args,
		"-f", preset.Format,
		"-hide_banner",
		"-loglevel", "warning",
		"-flush_packets", "1",
		"pipe:1",
	)
}

// StartProcess launches command with stdin and stdout pipes.
func StartProcess(command string, args []string) (*Process, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, command, args...)

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		_ = stdinPipe.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		cancel()
		if closeErr := stdinPipe.Close(); closeErr != nil {
			slog.Warn("failed to close stdin pipe", "error", closeErr)
		}
		return nil, fmt.Errorf("start %s: %w", command, err)
	}

	return &Process{
		Cmd:    cmd,
		Cancel: cancel,
		Stdin:  stdinPipe,
		Stdout: stdoutPipe,
		Stderr: &stderr,
	}, nil
}

// Wait waits for the process to exit, killing it after timeout.
// A non-zero exit includes the last stderr line in the error.
func (p *Process) Wait(timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- p.Cmd.Wait()
	}()

	select {
	case err := <-done:
		p.Cancel()
		if err != nil {
			if msg := util.ExtractLastError(p.Stderr.String()); msg != "" {
				return fmt.Errorf("%w: %s", err, msg)
			}
		}
		return err
	case <-time.After(timeout):
		p.Cancel()
		<-done
		return ErrStopTimeout
	}
}

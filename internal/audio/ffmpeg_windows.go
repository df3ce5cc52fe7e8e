//go:build windows

package audio

// -nostdin is omitted so the process can be stopped with 'q' on stdin.
func buildFFmpegCaptureArgs(inputFormat, device string) []string {
	return []string{
		"-f", inputFormat,
		"-i", device,
		"-hide_banner",
		"-loglevel", "warning",
		"-vn",
		"-f", "s16le",
		"-ac", channelsArg(),
		"-ar", sampleRateArg(),
		"pipe:1",
	}
}

//go:build !linux && !windows

package audio

func buildFFmpegCaptureArgs(inputFormat, device string) []string {
	return []string{
		"-f", inputFormat,
		"-i", device,
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-vn",
		"-f", "s16le",
		"-ac", channelsArg(),
		"-ar", sampleRateArg(),
		"pipe:1",
	}
}

package types

// WSStatusResponse is sent to clients with the full session status.
type WSStatusResponse struct {
	Type            string          `json:"type"`             // "status"
	FFmpegAvailable bool            `json:"ffmpeg_available"` // FFmpeg binary is available
	Session         SessionStatus   `json:"session"`          // Orchestrator state
	Feedback        *FeedbackRecord `json:"feedback"`         // Current feedback, if any
	Silence         SilenceSettings `json:"silence"`          // Active detection settings
	Devices         []AudioDevice   `json:"devices"`          // Available audio devices
	Version         VersionInfo     `json:"version"`          // Version information
}

// SilenceSettings mirrors the silence detection configuration.
type SilenceSettings struct {
	Threshold          float64 `json:"threshold"`            // Loudness (0-255) at or below which audio is silent
	SustainedSilenceMs int64   `json:"sustained_silence_ms"` // Silence after speech that triggers submission
	InitialSilenceMs   int64   `json:"initial_silence_ms"`   // Silence without speech that abandons capture
}

// WSLevelsResponse is sent to clients with loudness updates.
type WSLevelsResponse struct {
	Type       string  `json:"type"`       // "levels"
	Level      float64 `json:"level"`      // Latest loudness (0-255)
	Recording  bool    `json:"recording"`  // A capture is in progress
	Submitting bool    `json:"submitting"` // Audio is being analyzed
}

// WSNoticeResponse pushes a user-visible notice.
type WSNoticeResponse struct {
	Type   string `json:"type"` // "notice"
	Notice Notice `json:"notice"`
}

// WSHistoryResponse pushes the transcript history.
type WSHistoryResponse struct {
	Type    string            `json:"type"` // "history"
	Entries []TranscriptEntry `json:"entries"`
}

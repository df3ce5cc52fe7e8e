// Package types provides shared type definitions used across the tutor.
package types

import (
	"time"
)

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	// SpeakerUser marks an entry recorded from the microphone.
	SpeakerUser Speaker = "user"
	// SpeakerTutor marks an entry produced by the analysis service.
	SpeakerTutor Speaker = "tutor"
)

// TranscriptEntry is a single immutable turn in the conversation history.
type TranscriptEntry struct {
	ID        string    `json:"id"`                   // Unique identifier (UUID)
	Speaker   Speaker   `json:"speaker"`              // user or tutor
	Text      string    `json:"text"`                 // Recognized or corrected text
	Timestamp time.Time `json:"timestamp"`            // Creation time
	Audio     string    `json:"audio,omitempty"`      // Base64-encoded audio clip
	AudioType string    `json:"audio_type,omitempty"` // MIME type of Audio
}

// HasAudio reports whether the entry carries a replayable clip.
func (e *TranscriptEntry) HasAudio() bool {
	return e.Audio != ""
}

// Confidence is the analysis service's label for how sure the speaker sounded.
type Confidence string

// Supported confidence labels.
const (
	ConfidenceConfident Confidence = "confident"
	ConfidenceUnsure    Confidence = "unsure"
	ConfidenceConfused  Confidence = "confused"
)

// Sentiment is the analysis service's label for the speaker's mood.
type Sentiment string

// Supported sentiment labels.
const (
	SentimentPositive   Sentiment = "positive"
	SentimentNeutral    Sentiment = "neutral"
	SentimentFrustrated Sentiment = "frustrated"
)

// FeedbackRecord is the normalized result of one remote analysis call.
type FeedbackRecord struct {
	CorrectedSentence  string     `json:"corrected_sentence"`
	MistakeExplanation string     `json:"mistake_explanation"`
	Confidence         Confidence `json:"confidence"`
	Sentiment          Sentiment  `json:"sentiment"`
	Feedback           string     `json:"feedback"`
	AudioBase64        string     `json:"audio_base64,omitempty"`
	FluencyScore       int        `json:"fluency_score"` // 0-100
	UserTranscript     string     `json:"user_transcript"`
}

// HasAudio reports whether the record carries synthesized tutor audio.
func (f *FeedbackRecord) HasAudio() bool {
	return f.AudioBase64 != ""
}

// AudioPayload is a finished, encoded capture ready for submission.
type AudioPayload struct {
	Data        []byte        // Encoded audio bytes
	ContentType string        // MIME type (e.g. audio/webm)
	Extension   string        // File extension without dot
	Chunks      int           // Number of encoded chunks assembled
	Duration    time.Duration // Capture wall-clock duration
}

// Empty reports whether the payload holds no audio.
func (p *AudioPayload) Empty() bool {
	return p == nil || len(p.Data) == 0
}

// Filename returns the attachment name used when submitting the payload.
func (p *AudioPayload) Filename() string {
	ext := p.Extension
	if ext == "" {
		ext = "bin"
	}
	return "recording." + ext
}

// NoticeKind classifies a user-visible notice.
type NoticeKind string

// Notice kinds surfaced to the user.
const (
	NoticeMicrophoneUnavailable NoticeKind = "microphone_unavailable"
	NoticeNoSpeech              NoticeKind = "no_speech"
	NoticeTutorUnreachable      NoticeKind = "tutor_unreachable"
	NoticeHistoryReset          NoticeKind = "history_reset"
)

// Notice is a transient, recoverable message for the user.
type Notice struct {
	Kind      NoticeKind `json:"kind"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
}

var noticeMessages = map[NoticeKind]string{
	NoticeMicrophoneUnavailable: "The microphone could not be opened. Check the input device and permissions.",
	NoticeNoSpeech:              "No speech was detected. Try again and speak a little louder.",
	NoticeTutorUnreachable:      "The tutor could not be reached. Your recording was not saved.",
	NoticeHistoryReset:          "The conversation history was cleared.",
}

// NewNotice returns a notice of kind with its standard message.
func NewNotice(kind NoticeKind) Notice {
	return Notice{Kind: kind, Message: noticeMessages[kind], Timestamp: time.Now()}
}

// Codec represents an audio codec for encoding captures.
type Codec string

// Supported capture codecs.
const (
	CodecWebM Codec = "webm" // Opus in WebM
	CodecOGG  Codec = "ogg"  // Opus in Ogg
	CodecMP3  Codec = "mp3"  // MPEG Audio Layer III
	CodecWAV  Codec = "wav"  // PCM in RIFF/WAVE, no ffmpeg required
)

// CodecPreset defines FFmpeg encoding parameters for a codec.
type CodecPreset struct {
	Args        []string // FFmpeg codec arguments
	Format      string   // FFmpeg output format
	ContentType string   // MIME type of the encoded stream
}

// CodecPresets maps codec types to their FFmpeg configuration.
var CodecPresets = map[Codec]CodecPreset{
	CodecWebM: {[]string{"libopus", "-b:a", "32k"}, "webm", "audio/webm"},
	CodecOGG:  {[]string{"libopus", "-b:a", "32k"}, "ogg", "audio/ogg"},
	CodecMP3:  {[]string{"libmp3lame", "-b:a", "64k"}, "mp3", "audio/mpeg"},
	CodecWAV:  {[]string{"pcm_s16le"}, "wav", "audio/wav"},
}

// PresetFor returns the preset for codec, falling back to WebM.
func PresetFor(codec Codec) CodecPreset {
	if preset, ok := CodecPresets[codec]; ok {
		return preset
	}
	return CodecPresets[CodecWebM]
}

// Audio format constants for PCM capture.
const (
	// SampleRate is the capture sample rate in Hz.
	SampleRate = 16000
	// Channels is the number of capture channels (mono speech).
	Channels = 1
)

// SessionStatus summarizes the orchestrator's current state.
type SessionStatus struct {
	Recording      bool    `json:"recording"`                 // A capture is in progress
	Submitting     bool    `json:"submitting"`                // Audio is being analyzed
	Playing        bool    `json:"playing"`                   // Tutor audio is audible
	SpeechDetected bool    `json:"speech_detected,omitempty"` // Speech heard in current capture
	Level          float64 `json:"level"`                     // Latest loudness (0-255)
	SessionID      string  `json:"session_id,omitempty"`      // Active capture ID
	HistoryLength  int     `json:"history_length"`            // Entries in the transcript
}

// AudioDevice represents an available audio input device.
type AudioDevice struct {
	ID   string `json:"id"`   // Device identifier
	Name string `json:"name"` // Device display name
}

// VersionInfo contains build information.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Newer version exists
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp

	AnalysisVersion  string `json:"analysis_version,omitempty"` // Version the analysis service last reported
	AnalysisOutdated bool   `json:"analysis_outdated"`          // Service is older than the configured minimum
}

// Package eventlog records the voice session lifecycle (captures, submissions,
// playback failures and history resets) in a single JSON lines file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"time"
)

// EventType represents the type of event.
type EventType string

// Session event types.
const (
	SessionStarted        EventType = "session_started"
	SessionStopped        EventType = "session_stopped"
	SessionAbandoned      EventType = "session_abandoned"
	MicrophoneUnavailable EventType = "microphone_unavailable"
)

// Submission event types.
const (
	SubmissionCompleted EventType = "submission_completed"
	SubmissionFailed    EventType = "submission_failed"
)

// Playback and history event types.
const (
	PlaybackFailed EventType = "playback_failed"
	HistoryCleared EventType = "history_cleared"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// SessionDetails contains capture-specific event details.
type SessionDetails struct {
	Reason         string `json:"reason,omitempty"`
	SpeechDetected bool   `json:"speech_detected"`
	DurationMs     int64  `json:"duration_ms,omitempty"`
	Bytes          int    `json:"bytes,omitempty"`
	ContentType    string `json:"content_type,omitempty"`
	Error          string `json:"error,omitempty"`
}

// SubmissionDetails contains analysis-specific event details.
type SubmissionDetails struct {
	ElapsedMs    int64  `json:"elapsed_ms"`
	FluencyScore int    `json:"fluency_score,omitempty"`
	Confidence   string `json:"confidence,omitempty"`
	Sentiment    string `json:"sentiment,omitempty"`
	HasAudio     bool   `json:"has_audio,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Logger writes events to a JSON lines file. It is safe for concurrent use.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// DefaultLogPath returns the platform-specific log file path.
func DefaultLogPath(port int) string {
	switch runtime.GOOS {
	case "windows":
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, "voicetutor", "logs", fmt.Sprintf("%d", port), "sessions.jsonl")
	default: // linux, darwin
		//nolint:gocritic // Intentional absolute path for Unix systems
		return filepath.Join("/var/log/voicetutor", fmt.Sprintf("%d", port), "sessions.jsonl")
	}
}

// NewLogger creates a new event logger at the specified path.
func NewLogger(filePath string) (*Logger, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file.
func (l *Logger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	return l.encoder.Encode(event)
}

// LogSession logs a capture event.
func (l *Logger) LogSession(eventType EventType, sessionID string, details *SessionDetails) error {
	return l.Log(&Event{
		Type:      eventType,
		SessionID: sessionID,
		Details:   details,
	})
}

// LogSubmission logs an analysis event.
func (l *Logger) LogSubmission(eventType EventType, sessionID string, details *SubmissionDetails) error {
	return l.Log(&Event{
		Type:      eventType,
		SessionID: sessionID,
		Details:   details,
	})
}

// LogMessage logs an event carrying only a message.
func (l *Logger) LogMessage(eventType EventType, message string) error {
	return l.Log(&Event{
		Type:    eventType,
		Message: message,
	})
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll        TypeFilter = ""
	FilterSession    TypeFilter = "session"
	FilterSubmission TypeFilter = "submission"
	FilterPlayback   TypeFilter = "playback"
	FilterHistory    TypeFilter = "history"
)

var filterTypes = map[TypeFilter][]EventType{
	FilterSession:    {SessionStarted, SessionStopped, SessionAbandoned, MicrophoneUnavailable},
	FilterSubmission: {SubmissionCompleted, SubmissionFailed},
	FilterPlayback:   {PlaybackFailed},
	FilterHistory:    {HistoryCleared},
}

// ValidFilter reports whether f is a known filter.
func ValidFilter(f TypeFilter) bool {
	if f == FilterAll {
		return true
	}
	_, ok := filterTypes[f]
	return ok
}

// Matches reports whether t passes filter f.
func (f TypeFilter) Matches(t EventType) bool {
	if f == FilterAll {
		return true
	}
	return slices.Contains(filterTypes[f], t)
}

// MaxReadLimit is the maximum number of events that can be read at once.
const MaxReadLimit = 500

// ReadLast reads events from the log file with pagination support.
// Returns up to n events starting from offset, filtered by type, newest first.
// The second result reports whether older matching events remain.
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]Event, bool, error) {
	n = min(n, MaxReadLimit)
	if n <= 0 {
		return []Event{}, false, nil
	}
	offset = max(offset, 0)

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	events := make([]Event, 0, n)
	skipped := 0
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue // Skip malformed lines
		}
		if !filter.Matches(event.Type) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(events) == n {
			// One more match exists beyond the page.
			return events, true, nil
		}
		events = append(events, event)
	}

	return events, false, nil
}

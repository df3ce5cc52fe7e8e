package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/oszuidwest/voicetutor/internal/audio"
	"github.com/oszuidwest/voicetutor/internal/eventlog"
	"github.com/oszuidwest/voicetutor/internal/recording"
	"github.com/oszuidwest/voicetutor/internal/server"
	"github.com/oszuidwest/voicetutor/internal/tutor"
)

// API response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// handleAPIStatus returns the orchestrator state and settings.
// GET /api/status
func (s *Server) handleAPIStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.buildWSStatus())
}

// handleAPISessionStart begins a capture, preempting any capture in progress.
// POST /api/session/start
func (s *Server) handleAPISessionStart(w http.ResponseWriter, r *http.Request) {
	id, err := s.tutor.StartSession(r.Context())
	if err != nil {
		if errors.Is(err, recording.ErrMicrophoneUnavailable) {
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "recording_started", "session_id": id})
}

// handleAPISessionStop stops the capture in progress and submits it.
// POST /api/session/stop
func (s *Server) handleAPISessionStop(w http.ResponseWriter, _ *http.Request) {
	if !s.tutor.StopSession() {
		s.writeError(w, http.StatusConflict, "no capture in progress")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "recording_stopped"})
}

// handleAPIPlaybackStop silences the tutor.
// POST /api/playback/stop
func (s *Server) handleAPIPlaybackStop(w http.ResponseWriter, _ *http.Request) {
	s.tutor.StopPlayback()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "playback_stopped"})
}

// handleAPIHistory returns the transcript history.
// GET /api/history
func (s *Server) handleAPIHistory(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.buildWSHistory())
}

// handleAPIClearHistory empties the transcript history.
// DELETE /api/history
func (s *Server) handleAPIClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.tutor.ClearHistory(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "history_cleared"})
}

// handleAPIReplay plays the audio of one history entry.
// POST /api/history/{id}/replay
func (s *Server) handleAPIReplay(w http.ResponseWriter, r *http.Request) {
	err := s.tutor.Replay(r.PathValue("id"))
	switch {
	case errors.Is(err, tutor.ErrEntryNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, tutor.ErrEntryNoAudio):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "playing"})
	}
}

// handleAPIFeedback returns the feedback for the last exchange.
// GET /api/feedback
func (s *Server) handleAPIFeedback(w http.ResponseWriter, _ *http.Request) {
	feedback := s.tutor.Feedback()
	if feedback == nil {
		s.writeError(w, http.StatusNotFound, "no feedback yet")
		return
	}
	s.writeJSON(w, http.StatusOK, feedback)
}

// handleAPIDevices returns available audio devices.
// GET /api/devices
func (s *Server) handleAPIDevices(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"devices": audio.Devices(),
	})
}

// handleAPIEvents returns session events, newest first.
// GET /api/events?limit=50&offset=0&type=session
func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := queryInt(query.Get("limit"), server.DefaultEventLimit)
	if err != nil || limit < 1 || limit > eventlog.MaxReadLimit {
		s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
		return
	}
	offset, err := queryInt(query.Get("offset"), 0)
	if err != nil || offset < 0 {
		s.writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	filter := eventlog.TypeFilter(query.Get("type"))
	if !eventlog.ValidFilter(filter) {
		s.writeError(w, http.StatusBadRequest, "unknown event type filter")
		return
	}

	events, hasMore, err := eventlog.ReadLast(s.eventLogPath, limit, offset, filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read event log")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"events":   events,
		"has_more": hasMore,
	})
}

// queryInt parses an optional integer query value.
func queryInt(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

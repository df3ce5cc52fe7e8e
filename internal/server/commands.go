package server

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/oszuidwest/voicetutor/internal/config"
	"github.com/oszuidwest/voicetutor/internal/eventlog"
	"github.com/oszuidwest/voicetutor/internal/notify"
	"github.com/oszuidwest/voicetutor/internal/tutor"
	"github.com/oszuidwest/voicetutor/internal/types"
)

// DefaultEventLimit is the number of events returned by events/recent when no limit is given.
const DefaultEventLimit = 50

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg          *config.Config
	tutor        *tutor.Orchestrator
	notifier     *notify.Notifier
	eventLogPath string
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(cfg *config.Config, orch *tutor.Orchestrator, notifier *notify.Notifier, eventLogPath string) *CommandHandler {
	return &CommandHandler{
		cfg:          cfg,
		tutor:        orch,
		notifier:     notifier,
		eventLogPath: eventLogPath,
	}
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "session/start", "silence/update")
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	parts := strings.SplitN(cmd.Type, "/", 3)
	namespace := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	subaction := ""
	if len(parts) > 2 {
		subaction = parts[2]
	}

	switch namespace {
	case "session":
		h.handleSession(action, cmd, send)
	case "playback":
		h.handlePlayback(action, cmd, send)
	case "history":
		h.handleHistory(action, cmd, send)
	case "silence":
		h.handleSilence(action, cmd, send)
	case "events":
		h.handleEvents(action, cmd, send)
	case "notifications":
		h.handleNotifications(action, subaction, cmd, send)
	case "status":
		h.handleStatus(action)
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
	}

	triggerStatusUpdate()
}

// --- Namespace handlers ---

// handleSession routes session/* commands
func (h *CommandHandler) handleSession(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "start":
		id, err := h.tutor.StartSession(context.Background())
		if err != nil {
			reply(send, cmd, nil, err)
			return
		}
		reply(send, cmd, map[string]string{"session_id": id}, nil)
	case "stop":
		reply(send, cmd, map[string]bool{"stopped": h.tutor.StopSession()}, nil)
	default:
		slog.Warn("unknown session action", "action", action)
	}
}

// handlePlayback routes playback/* commands
func (h *CommandHandler) handlePlayback(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "stop":
		h.tutor.StopPlayback()
		reply(send, cmd, nil, nil)
	case "replay":
		run(cmd, send, func(req *ReplayRequest) error {
			return h.tutor.Replay(req.EntryID)
		})
	default:
		slog.Warn("unknown playback action", "action", action)
	}
}

// handleHistory routes history/* commands
func (h *CommandHandler) handleHistory(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "get":
		reply(send, cmd, map[string]any{
			"entries":  h.tutor.History(),
			"feedback": h.tutor.Feedback(),
		}, nil)
	case "clear":
		reply(send, cmd, nil, h.tutor.ClearHistory(context.Background()))
	default:
		slog.Warn("unknown history action", "action", action)
	}
}

// handleSilence routes silence/* commands
func (h *CommandHandler) handleSilence(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		h.handleSilenceUpdate(cmd, send)
	case "get":
		reply(send, cmd, h.silenceSettings(), nil)
	default:
		slog.Warn("unknown silence action", "action", action)
	}
}

// handleSilenceUpdate persists new detection settings and applies them to the next capture.
func (h *CommandHandler) handleSilenceUpdate(cmd WSCommand, send chan<- any) {
	run(cmd, send, func(req *SilenceUpdateRequest) error {
		current := h.silenceSettings()
		threshold := current.Threshold
		if req.Threshold != nil {
			threshold = *req.Threshold
		}
		sustained := current.SustainedSilenceMs
		if req.SustainedSilenceMs != nil {
			sustained = *req.SustainedSilenceMs
		}
		initial := current.InitialSilenceMs
		if req.InitialSilenceMs != nil {
			initial = *req.InitialSilenceMs
		}

		slog.Info("silence/update: changing detection settings",
			"threshold", threshold, "sustained_silence_ms", sustained, "initial_silence_ms", initial)
		if err := h.cfg.SetSilence(threshold, sustained, initial); err != nil {
			return err
		}

		snap := h.cfg.Snapshot()
		h.tutor.SetSilenceConfig(snap.SilenceConfig())
		return nil
	})
}

// silenceSettings returns the persisted detection settings.
func (h *CommandHandler) silenceSettings() types.SilenceSettings {
	snap := h.cfg.Snapshot()
	return types.SilenceSettings{
		Threshold:          snap.SilenceThreshold,
		SustainedSilenceMs: snap.SustainedSilence.Milliseconds(),
		InitialSilenceMs:   snap.InitialSilence.Milliseconds(),
	}
}

// handleEvents routes events/* commands
func (h *CommandHandler) handleEvents(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "recent":
		req, err := decode[EventsRequest](cmd)
		if err != nil {
			reply(send, cmd, nil, err)
			return
		}
		limit := cmp.Or(req.Limit, DefaultEventLimit)
		events, hasMore, err := eventlog.ReadLast(h.eventLogPath, limit, req.Offset, eventlog.TypeFilter(req.Filter))
		if err != nil {
			reply(send, cmd, nil, fmt.Errorf("failed to read event log: %w", err))
			return
		}
		reply(send, cmd, map[string]any{
			"events":   events,
			"has_more": hasMore,
		}, nil)
	default:
		slog.Warn("unknown events action", "action", action)
	}
}

// handleNotifications routes notifications/*/* commands
func (h *CommandHandler) handleNotifications(action, subaction string, cmd WSCommand, send chan<- any) {
	if action != "webhook" {
		slog.Warn("unknown notifications action", "action", action)
		return
	}
	switch subaction {
	case "update":
		run(cmd, send, func(req *WebhookUpdateRequest) error {
			if err := h.cfg.SetWebhookURL(req.URL); err != nil {
				return err
			}
			h.notifier.SetWebhookURL(req.URL)
			return nil
		})
	case "test":
		url := h.cfg.Snapshot().WebhookURL
		if url == "" {
			reply(send, cmd, nil, fmt.Errorf("no webhook URL configured"))
			return
		}
		reply(send, cmd, nil, notify.SendTestWebhook(url))
	case "get":
		reply(send, cmd, map[string]string{"url": h.cfg.Snapshot().WebhookURL}, nil)
	default:
		slog.Warn("unknown webhook action", "subaction", subaction)
	}
}

// handleStatus routes status/* commands
func (h *CommandHandler) handleStatus(action string) {
	switch action {
	case "get":
		// Status is sent automatically, but explicit get triggers immediate update
		slog.Debug("status/get received, status update will be triggered")
	default:
		slog.Warn("unknown status action", "action", action)
	}
}

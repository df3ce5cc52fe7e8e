package server

// Request types for WebSocket commands with validation tags.
// These types define the expected input for each command and use
// go-playground/validator struct tags for automatic validation.

// --- Silence detection settings ---

// SilenceUpdateRequest is the request body for silence/update.
// Omitted fields keep their current value.
type SilenceUpdateRequest struct {
	Threshold          *float64 `json:"threshold" validate:"omitempty,gte=0,lte=255"`
	SustainedSilenceMs *int64   `json:"sustained_silence_ms" validate:"omitempty,gte=100,lte=60000"`
	InitialSilenceMs   *int64   `json:"initial_silence_ms" validate:"omitempty,gte=500,lte=120000"`
}

// --- Playback ---

// ReplayRequest is the request body for playback/replay.
type ReplayRequest struct {
	EntryID string `json:"entry_id" validate:"required,max=64"`
}

// --- Event log ---

// EventsRequest is the request body for events/recent.
type EventsRequest struct {
	Limit  int    `json:"limit" validate:"omitempty,gte=1,lte=500"`
	Offset int    `json:"offset" validate:"omitempty,gte=0"`
	Filter string `json:"filter" validate:"omitempty,oneof=session submission playback history"`
}

// --- Notifications ---

// WebhookUpdateRequest is the request body for notifications/webhook/update.
type WebhookUpdateRequest struct {
	URL string `json:"url" validate:"omitempty,url,max=2048"`
}

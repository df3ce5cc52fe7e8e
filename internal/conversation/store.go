// Package conversation keeps the ordered, bounded transcript history and the
// current feedback record.
package conversation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oszuidwest/voicetutor/internal/storage"
	"github.com/oszuidwest/voicetutor/internal/types"
	"github.com/oszuidwest/voicetutor/internal/util"
)

// ErrPersistedStateCorrupt is returned by Load when stored history cannot be parsed.
var ErrPersistedStateCorrupt = errors.New("persisted history is corrupt")

// Defaults for the history store.
const (
	DefaultLimit = 15
	DefaultKey   = "transcript-history"
)

// tutorAudioType is the MIME type assumed for synthesized tutor audio.
const tutorAudioType = "audio/mpeg"

// Store is the append-only transcript history. Entries are appended in
// user/tutor pairs and the history is truncated to the newest Limit entries.
// It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	blobs   storage.BlobStore
	key     string
	limit   int
	entries []types.TranscriptEntry
	current *types.FeedbackRecord
	now     func() time.Time
}

// NewStore creates a store persisting under key. A non-positive limit uses DefaultLimit.
func NewStore(blobs storage.BlobStore, key string, limit int) *Store {
	if key == "" {
		key = DefaultKey
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{blobs: blobs, key: key, limit: limit, now: time.Now}
}

// Limit returns the retention cap.
func (s *Store) Limit() int {
	return s.limit
}

// Load reads persisted history once. Missing history is not an error. Corrupt
// history is discarded and reported as ErrPersistedStateCorrupt; the store
// stays usable with an empty history.
func (s *Store) Load(ctx context.Context) error {
	data, err := s.blobs.Get(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return util.WrapError("load history", err)
	}

	var entries []types.TranscriptEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		slog.Warn("discarding corrupt history", "key", s.key, "error", err)
		return fmt.Errorf("%w: %w", ErrPersistedStateCorrupt, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = truncate(entries, s.limit)
	slog.Info("history loaded", "entries", len(s.entries))
	return nil
}

// Append adds the user and tutor entries built from record, user first,
// truncates the history, replaces the current feedback and persists.
// The in-memory history is updated even when persisting fails.
func (s *Store) Append(ctx context.Context, record types.FeedbackRecord, userAudio *types.AudioPayload) ([]types.TranscriptEntry, error) {
	now := s.now()
	user := types.TranscriptEntry{
		ID:        uuid.NewString(),
		Speaker:   types.SpeakerUser,
		Text:      record.UserTranscript,
		Timestamp: now,
	}
	if !userAudio.Empty() {
		user.Audio = base64.StdEncoding.EncodeToString(userAudio.Data)
		user.AudioType = userAudio.ContentType
	}
	tutor := types.TranscriptEntry{
		ID:        uuid.NewString(),
		Speaker:   types.SpeakerTutor,
		Text:      record.CorrectedSentence,
		Timestamp: now,
		Audio:     record.AudioBase64,
	}
	if tutor.HasAudio() {
		tutor.AudioType = tutorAudioType
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = truncate(append(s.entries, user, tutor), s.limit)
	rec := record
	s.current = &rec

	return slices.Clone(s.entries), s.persistLocked(ctx)
}

// Entries returns a copy of the history in conversation order.
func (s *Store) Entries() []types.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries)
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Entry returns the entry with id.
func (s *Store) Entry(id string) (types.TranscriptEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ID == id {
			return e, true
		}
	}
	return types.TranscriptEntry{}, false
}

// Feedback returns the current feedback record, or nil before the first result.
func (s *Store) Feedback() *types.FeedbackRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	rec := *s.current
	return &rec
}

// Clear empties the history and feedback and persists the empty list.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.current = nil
	return s.persistLocked(ctx)
}

func (s *Store) persistLocked(ctx context.Context) error {
	entries := s.entries
	if entries == nil {
		entries = []types.TranscriptEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return util.WrapError("encode history", err)
	}
	if err := s.blobs.Put(ctx, s.key, data); err != nil {
		return util.WrapError("persist history", err)
	}
	return nil
}

// truncate keeps the newest limit entries.
func truncate(entries []types.TranscriptEntry, limit int) []types.TranscriptEntry {
	if len(entries) <= limit {
		return entries
	}
	return slices.Clone(entries[len(entries)-limit:])
}

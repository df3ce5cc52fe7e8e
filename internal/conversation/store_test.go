package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/voicetutor/internal/storage"
	"github.com/oszuidwest/voicetutor/internal/types"
)

func record(n int) types.FeedbackRecord {
	return types.FeedbackRecord{
		UserTranscript:    fmt.Sprintf("said %d", n),
		CorrectedSentence: fmt.Sprintf("corrected %d", n),
		AudioBase64:       "c3ludGg=",
		FluencyScore:      80,
	}
}

// fixedClock avoids monotonic readings so entries compare equal after a JSON round trip.
func fixedClock() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestStore_AppendAddsUserThenTutor(t *testing.T) {
	blobs := storage.NewMemoryStore()
	s := NewStore(blobs, "", 0)
	s.now = fixedClock
	ctx := context.Background()

	userAudio := &types.AudioPayload{Data: []byte{1, 2, 3}, ContentType: "audio/webm"}
	entries, err := s.Append(ctx, record(1), userAudio)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, types.SpeakerUser, entries[0].Speaker)
	assert.Equal(t, "said 1", entries[0].Text)
	assert.Equal(t, "AQID", entries[0].Audio)
	assert.Equal(t, "audio/webm", entries[0].AudioType)

	assert.Equal(t, types.SpeakerTutor, entries[1].Speaker)
	assert.Equal(t, "corrected 1", entries[1].Text)
	assert.Equal(t, "c3ludGg=", entries[1].Audio)
	assert.NotEqual(t, entries[0].ID, entries[1].ID)

	fb := s.Feedback()
	require.NotNil(t, fb)
	assert.Equal(t, "corrected 1", fb.CorrectedSentence)

	// Persisted as one JSON list under the default key.
	data, err := blobs.Get(ctx, DefaultKey)
	require.NoError(t, err)
	var stored []types.TranscriptEntry
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Equal(t, entries, stored)
}

func TestStore_Truncation(t *testing.T) {
	tests := []struct {
		name    string
		initial int // entries before the append
		want    int
	}{
		{"below cap", 0, 2},
		{"reaches cap", 13, 15},
		{"from 14", 14, 15},
		{"from 15", 15, 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(storage.NewMemoryStore(), "k", 15)
			ctx := context.Background()

			seed := make([]types.TranscriptEntry, tt.initial)
			for i := range seed {
				seed[i] = types.TranscriptEntry{ID: fmt.Sprintf("old-%d", i), Text: fmt.Sprintf("old %d", i)}
			}
			s.entries = seed

			entries, err := s.Append(ctx, record(99), nil)
			require.NoError(t, err)
			require.Len(t, entries, tt.want)

			// The pair is always the newest two entries, user first.
			assert.Equal(t, types.SpeakerUser, entries[len(entries)-2].Speaker)
			assert.Equal(t, types.SpeakerTutor, entries[len(entries)-1].Speaker)

			dropped := tt.initial + 2 - tt.want
			if tt.initial > 0 {
				assert.Equal(t, fmt.Sprintf("old-%d", dropped), entries[0].ID)
			}
		})
	}
}

func TestStore_FeedbackReplacedWholesale(t *testing.T) {
	s := NewStore(storage.NewMemoryStore(), "k", 15)
	ctx := context.Background()

	first := record(1)
	first.MistakeExplanation = "tense"
	_, err := s.Append(ctx, first, nil)
	require.NoError(t, err)

	second := record(2)
	_, err = s.Append(ctx, second, nil)
	require.NoError(t, err)

	fb := s.Feedback()
	require.NotNil(t, fb)
	assert.Equal(t, second, *fb)
	assert.Empty(t, fb.MistakeExplanation, "fields are not merged from the previous record")
}

func TestStore_LoadRoundTrip(t *testing.T) {
	blobs := storage.NewMemoryStore()
	ctx := context.Background()

	s := NewStore(blobs, "k", 15)
	s.now = fixedClock
	_, err := s.Append(ctx, record(1), nil)
	require.NoError(t, err)

	reloaded := NewStore(blobs, "k", 15)
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, s.Entries(), reloaded.Entries())
	assert.Nil(t, reloaded.Feedback())
}

func TestStore_LoadMissingIsEmpty(t *testing.T) {
	s := NewStore(storage.NewMemoryStore(), "k", 15)
	require.NoError(t, s.Load(context.Background()))
	assert.Zero(t, s.Len())
}

func TestStore_LoadCorrupt(t *testing.T) {
	blobs := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, blobs.Put(ctx, "k", []byte("{not json")))

	s := NewStore(blobs, "k", 15)
	err := s.Load(ctx)
	assert.ErrorIs(t, err, ErrPersistedStateCorrupt)
	assert.Zero(t, s.Len())

	// The store keeps working after a corrupt load.
	_, err = s.Append(ctx, record(1), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
}

func TestStore_LoadTruncatesOversizedHistory(t *testing.T) {
	blobs := storage.NewMemoryStore()
	ctx := context.Background()

	entries := make([]types.TranscriptEntry, 20)
	for i := range entries {
		entries[i].ID = fmt.Sprintf("e%d", i)
	}
	data, err := json.Marshal(entries)
	require.NoError(t, err)
	require.NoError(t, blobs.Put(ctx, "k", data))

	s := NewStore(blobs, "k", 15)
	require.NoError(t, s.Load(ctx))
	got := s.Entries()
	require.Len(t, got, 15)
	assert.Equal(t, "e5", got[0].ID)
}

type failingBlobs struct {
	storage.BlobStore
}

func (failingBlobs) Put(context.Context, string, []byte) error {
	return errors.New("disk full")
}

func TestStore_PersistFailureKeepsMemory(t *testing.T) {
	s := NewStore(failingBlobs{storage.NewMemoryStore()}, "k", 15)

	_, err := s.Append(context.Background(), record(1), nil)
	require.Error(t, err)
	assert.Equal(t, 2, s.Len())
}

func TestStore_ClearAndEntry(t *testing.T) {
	blobs := storage.NewMemoryStore()
	s := NewStore(blobs, "k", 15)
	ctx := context.Background()

	entries, err := s.Append(ctx, record(1), nil)
	require.NoError(t, err)

	got, ok := s.Entry(entries[1].ID)
	require.True(t, ok)
	assert.Equal(t, entries[1], got)

	require.NoError(t, s.Clear(ctx))
	assert.Zero(t, s.Len())
	assert.Nil(t, s.Feedback())

	data, err := blobs.Get(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))

	_, ok = s.Entry(entries[1].ID)
	assert.False(t, ok)
}

package eventlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l, err := NewLogger(filepath.Join(t.TempDir(), "logs", "sessions.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestReadLast_NewestFirstWithPaging(t *testing.T) {
	l := newTestLogger(t)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, l.LogSession(SessionStarted, id, &SessionDetails{}))
	}

	events, more, err := ReadLast(l.Path(), 2, 0, FilterAll)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e", events[0].SessionID)
	assert.Equal(t, "d", events[1].SessionID)
	assert.True(t, more)

	events, more, err = ReadLast(l.Path(), 2, 3, FilterAll)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].SessionID)
	assert.Equal(t, "a", events[1].SessionID)
	assert.False(t, more)
}

func TestReadLast_Filter(t *testing.T) {
	l := newTestLogger(t)
	require.NoError(t, l.LogSession(SessionStarted, "s1", &SessionDetails{}))
	require.NoError(t, l.LogSubmission(SubmissionFailed, "s1", &SubmissionDetails{Error: "status 502"}))
	require.NoError(t, l.LogSession(SessionStopped, "s1", &SessionDetails{Reason: "manual", SpeechDetected: true}))
	require.NoError(t, l.LogMessage(HistoryCleared, "history cleared"))

	tests := []struct {
		filter TypeFilter
		want   []EventType
	}{
		{FilterAll, []EventType{HistoryCleared, SessionStopped, SubmissionFailed, SessionStarted}},
		{FilterSession, []EventType{SessionStopped, SessionStarted}},
		{FilterSubmission, []EventType{SubmissionFailed}},
		{FilterHistory, []EventType{HistoryCleared}},
		{FilterPlayback, nil},
	}
	for _, tt := range tests {
		t.Run(string(tt.filter), func(t *testing.T) {
			events, more, err := ReadLast(l.Path(), 10, 0, tt.filter)
			require.NoError(t, err)
			assert.False(t, more)
			var got []EventType
			for _, e := range events {
				got = append(got, e.Type)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadLast_SkipsMalformedLines(t *testing.T) {
	l := newTestLogger(t)
	require.NoError(t, l.LogMessage(HistoryCleared, "one"))

	f, err := os.OpenFile(l.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{broken\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, l.LogMessage(HistoryCleared, "two"))

	events, _, err := ReadLast(l.Path(), 10, 0, FilterAll)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "two", events[0].Message)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestReadLast_Limits(t *testing.T) {
	events, more, err := ReadLast(filepath.Join(t.TempDir(), "missing.jsonl"), 10, 0, FilterAll)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.False(t, more)

	l := newTestLogger(t)
	require.NoError(t, l.LogMessage(HistoryCleared, "x"))
	events, _, err = ReadLast(l.Path(), 0, 0, FilterAll)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestValidFilter(t *testing.T) {
	assert.True(t, ValidFilter(FilterAll))
	assert.True(t, ValidFilter(FilterSubmission))
	assert.False(t, ValidFilter("stream"))
}

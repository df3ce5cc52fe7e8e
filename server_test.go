package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/voicetutor/internal/audio"
	"github.com/oszuidwest/voicetutor/internal/config"
	"github.com/oszuidwest/voicetutor/internal/conversation"
	"github.com/oszuidwest/voicetutor/internal/eventlog"
	"github.com/oszuidwest/voicetutor/internal/metrics"
	"github.com/oszuidwest/voicetutor/internal/notify"
	"github.com/oszuidwest/voicetutor/internal/recording"
	"github.com/oszuidwest/voicetutor/internal/storage"
	"github.com/oszuidwest/voicetutor/internal/tutor"
)

const testAPIKey = "test-key-0123456789abcdef"

type noMicrophone struct{}

func (noMicrophone) Open(context.Context) (audio.Stream, error) {
	return nil, audio.ErrNoAudioDevice
}

type mutePlayer struct{}

func (mutePlayer) Play(string)   {}
func (mutePlayer) Stop()         {}
func (mutePlayer) Playing() bool { return false }

type fixedService struct {
	version  string
	outdated bool
}

func (s fixedService) ServiceVersion() (string, bool) { return s.version, s.outdated }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()

	cfg := config.New(filepath.Join(dir, "config.json"))
	require.NoError(t, cfg.Load())
	require.NoError(t, cfg.SetAPIKey(testAPIKey))

	eventLogPath := filepath.Join(dir, "sessions.jsonl")
	events, err := eventlog.NewLogger(eventLogPath)
	require.NoError(t, err)

	m := metrics.New("")
	notifier := notify.NewNotifier("")
	orch := tutor.New(tutor.Config{
		Recorder: recording.NewRecorder(recording.Config{Source: noMicrophone{}}),
		Analyzer: unconfiguredAnalyzer{},
		History:  conversation.NewStore(storage.NewMemoryStore(), "", 0),
		Player:   mutePlayer{},
		Notifier: notifier,
		Events:   events,
		Metrics:  m,
	})

	srv := httptest.NewServer(NewServer(cfg, orch, notifier, m, eventLogPath, false).SetupRoutes())
	t.Cleanup(func() {
		srv.Close()
		orch.Close()
		_ = events.Close()
	})
	return srv
}

func doRequest(t *testing.T, method, url string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", testAPIKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	}
	return resp.StatusCode, body
}

func TestAPI_RequiresKey(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/status?api_key=" + testAPIKey)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}

func TestAPI_Status(t *testing.T) {
	srv := newTestServer(t)

	code, body := doRequest(t, http.MethodGet, srv.URL+"/api/status")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "status", body["type"])
	assert.Equal(t, false, body["ffmpeg_available"])

	session, ok := body["session"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, session["recording"])

	silence, ok := body["silence"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 1500, silence["sustained_silence_ms"], 0)
}

func TestAPI_SessionAndHistory(t *testing.T) {
	srv := newTestServer(t)

	code, body := doRequest(t, http.MethodPost, srv.URL+"/api/session/start")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body["error"], "microphone unavailable")

	code, _ = doRequest(t, http.MethodPost, srv.URL+"/api/session/stop")
	assert.Equal(t, http.StatusConflict, code)

	code, _ = doRequest(t, http.MethodGet, srv.URL+"/api/feedback")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = doRequest(t, http.MethodPost, srv.URL+"/api/history/missing/replay")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = doRequest(t, http.MethodDelete, srv.URL+"/api/history")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "history_cleared", body["status"])

	code, body = doRequest(t, http.MethodGet, srv.URL+"/api/history")
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["entries"])

	code, _ = doRequest(t, http.MethodGet, srv.URL+"/api/status/nope")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAPI_Events(t *testing.T) {
	srv := newTestServer(t)

	doRequest(t, http.MethodPost, srv.URL+"/api/session/start")
	doRequest(t, http.MethodDelete, srv.URL+"/api/history")

	code, body := doRequest(t, http.MethodGet, srv.URL+"/api/events")
	require.Equal(t, http.StatusOK, code)
	events, ok := body["events"].([]any)
	require.True(t, ok)
	require.Len(t, events, 2)
	newest, ok := events[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(eventlog.HistoryCleared), newest["type"])

	code, body = doRequest(t, http.MethodGet, srv.URL+"/api/events?type=session&limit=1")
	require.Equal(t, http.StatusOK, code)
	events, ok = body["events"].([]any)
	require.True(t, ok)
	require.Len(t, events, 1)
	assert.Equal(t, false, body["has_more"])

	for _, query := range []string{"limit=0", "limit=501", "offset=-1", "limit=abc", "type=bogus"} {
		code, _ = doRequest(t, http.MethodGet, srv.URL+"/api/events?"+query)
		assert.Equal(t, http.StatusBadRequest, code, query)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	doRequest(t, http.MethodDelete, srv.URL+"/api/history")

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebSocket_CommandsAndPushes(t *testing.T) {
	srv := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?api_key=" + testAPIKey
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	seen := map[string]map[string]any{}
	read := func(until string) {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		for seen[until] == nil {
			var msg map[string]any
			require.NoError(t, conn.ReadJSON(&msg))
			if typ, ok := msg["type"].(string); ok {
				seen[typ] = msg
			}
		}
	}

	read("status")
	read("history")

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "history/clear"}))
	read("history/clear_result")
	read("notice")
	assert.Equal(t, true, seen["history/clear_result"]["success"])
	notice, ok := seen["notice"]["notice"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "history_reset", notice["kind"])

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "silence/update",
		"data": map[string]any{"threshold": 999},
	}))
	read("silence/update_result")
	assert.Equal(t, false, seen["silence/update_result"]["success"])

	read("levels")
}

func TestVersionChecker_Check(t *testing.T) {
	var requests atomic.Int32
	release := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("If-None-Match") == `"v2"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v2"`)
		_, _ = w.Write([]byte(`{"tag_name": "v2.1.0"}`))
	}))
	defer release.Close()

	vc := newVersionChecker(release.URL, fixedService{version: "1.4.0", outdated: true})
	_, err := vc.fetch(context.Background())
	require.NoError(t, err)
	_, err = vc.fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), requests.Load())

	info := vc.Info()
	assert.Equal(t, "2.1.0", info.Latest)
	assert.False(t, info.UpdateAvail, "dev builds never report updates")
	assert.Equal(t, "1.4.0", info.AnalysisVersion)
	assert.True(t, info.AnalysisOutdated)
	vc.Stop()
	vc.Stop()
}

func TestVersionChecker_Failures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantRetry bool
		wantErr   bool
	}{
		{"rate limited", http.StatusTooManyRequests, "", true, true},
		{"server error", http.StatusBadGateway, "", true, true},
		{"no releases", http.StatusNotFound, "", false, false},
		{"prerelease", http.StatusOK, `{"tag_name": "v3.0.0-rc1", "prerelease": true}`, false, false},
		{"bad tag", http.StatusOK, `{"tag_name": "nightly"}`, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			release := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer release.Close()

			vc := newVersionChecker(release.URL, nil)
			retry, err := vc.fetch(context.Background())
			assert.Equal(t, tt.wantRetry, retry)
			assert.Equal(t, tt.wantErr, err != nil)
			assert.Empty(t, vc.Info().Latest)
			assert.Empty(t, vc.Info().AnalysisVersion)
		})
	}
}

func TestIsNewerVersion(t *testing.T) {
	tests := []struct {
		latest, current string
		want            bool
	}{
		{"1.2.0", "1.1.9", true},
		{"v1.2.0", "1.2.0", false},
		{"1.10.0", "1.9.0", true},
		{"1.0.0", "2.0.0", false},
		{"1.0.0", "dev", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isNewerVersion(tt.latest, tt.current), "%s vs %s", tt.latest, tt.current)
	}
}

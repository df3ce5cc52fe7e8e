package analysis

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/voicetutor/internal/types"
)

func testPayload() *types.AudioPayload {
	return &types.AudioPayload{Data: []byte("webm-bytes"), ContentType: "audio/webm", Extension: "webm"}
}

func TestClient_SubmitMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		file, header, err := r.FormFile("audio")
		if !assert.NoError(t, err) {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "webm-bytes", string(data))
		assert.Equal(t, "recording.webm", header.Filename)
		assert.Equal(t, "audio/webm", header.Header.Get("Content-Type"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"corrected_sentence": "Hello.", "fluency_score": 90}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{Endpoint: srv.URL, APIKey: "secret"})
	require.NoError(t, err)

	record, err := c.Analyze(context.Background(), testPayload())
	require.NoError(t, err)
	assert.Equal(t, "Hello.", record.CorrectedSentence)
	assert.Equal(t, 90, record.FluencyScore)
}

func TestClient_CustomFieldName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, err := r.FormFile("file")
		assert.NoError(t, err)
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{Endpoint: srv.URL, FieldName: "file"})
	require.NoError(t, err)
	_, err = c.Submit(context.Background(), testPayload())
	require.NoError(t, err)
}

func TestClient_Unavailable(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		closeIt bool
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":"boom"}`},
		{name: "bad gateway", status: http.StatusBadGateway, body: `upstream down`},
		{name: "not json", status: http.StatusOK, body: `<html>ok</html>`},
		{name: "malformed feedback", status: http.StatusOK, body: `[]`},
		{name: "transport", closeIt: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			if tt.closeIt {
				srv.Close()
			} else {
				defer srv.Close()
			}

			c, err := NewClient(Config{Endpoint: srv.URL})
			require.NoError(t, err)
			_, err = c.Analyze(context.Background(), testPayload())
			assert.ErrorIs(t, err, ErrAnalysisUnavailable)
		})
	}
}

func TestClient_EmptyPayload(t *testing.T) {
	c, err := NewClient(Config{Endpoint: "http://127.0.0.1:1"})
	require.NoError(t, err)
	_, err = c.Submit(context.Background(), &types.AudioPayload{})
	assert.ErrorIs(t, err, ErrAnalysisUnavailable)
	_, err = c.Submit(context.Background(), nil)
	assert.ErrorIs(t, err, ErrAnalysisUnavailable)
}

func TestClient_OAuthToken(t *testing.T) {
	var tokenRequests atomic.Int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenRequests.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-123",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer tokenSrv.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"feedback": "ok"}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{
		Endpoint: srv.URL,
		APIKey:   "ignored",
		OAuth:    &OAuthConfig{TokenURL: tokenSrv.URL, ClientID: "id", ClientSecret: "secret"},
	})
	require.NoError(t, err)

	for range 2 {
		record, err := c.Analyze(context.Background(), testPayload())
		require.NoError(t, err)
		assert.Equal(t, "ok", record.Feedback)
	}
	assert.Equal(t, int32(1), tokenRequests.Load(), "token is cached")
}

func TestClient_VersionCheckIsAdvisory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(APIVersionHeader, "1.0.0")
		_, _ = w.Write([]byte(`{"feedback": "old"}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{Endpoint: srv.URL, MinAPIVersion: "2.1"})
	require.NoError(t, err)
	version, outdated := c.ServiceVersion()
	assert.Empty(t, version)
	assert.False(t, outdated)

	record, err := c.Analyze(context.Background(), testPayload())
	require.NoError(t, err)
	assert.Equal(t, "old", record.Feedback)

	version, outdated = c.ServiceVersion()
	assert.Equal(t, "1.0.0", version)
	assert.True(t, outdated)
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)

	_, err = NewClient(Config{Endpoint: "http://x", MinAPIVersion: "not-a-version"})
	require.Error(t, err)
}

// Package analysis submits finished recordings to the remote analysis service.
package analysis

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/oszuidwest/voicetutor/internal/conversation"
	"github.com/oszuidwest/voicetutor/internal/types"
	"github.com/oszuidwest/voicetutor/internal/util"
)

// ErrAnalysisUnavailable is returned when the service cannot produce feedback:
// transport failures, non-2xx responses and bodies that are not JSON.
var ErrAnalysisUnavailable = errors.New("analysis service unavailable")

// Defaults for the analysis client.
const (
	DefaultFieldName = "audio"
	DefaultTimeout   = 60 * time.Second

	// APIVersionHeader carries the service version checked against MinAPIVersion.
	APIVersionHeader = "X-API-Version"

	// maxResponseBytes bounds the body read; synthesized audio is inlined as base64.
	maxResponseBytes = 32 << 20
)

// OAuthConfig holds OAuth2 client-credentials settings.
type OAuthConfig struct {
	TokenURL     string   `json:"token_url" yaml:"token_url"`
	ClientID     string   `json:"client_id" yaml:"client_id"`
	ClientSecret string   `json:"client_secret" yaml:"client_secret"`
	Scopes       []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
}

// IsConfigured reports whether a token can be requested.
func (c *OAuthConfig) IsConfigured() bool {
	return c != nil && util.IsConfigured(c.TokenURL, c.ClientID, c.ClientSecret)
}

// Config holds the analysis client settings.
type Config struct {
	Endpoint      string
	FieldName     string
	Timeout       time.Duration
	APIKey        string
	OAuth         *OAuthConfig
	MinAPIVersion string
}

// Client posts recordings to the analysis endpoint.
type Client struct {
	endpoint      string
	fieldName     string
	apiKey        string
	minAPIVersion string
	httpClient    *http.Client

	mu       sync.Mutex
	reported string
	outdated bool
}

// NewClient creates a client. When OAuth is configured its token source
// authorizes every request and APIKey is ignored.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("analysis endpoint is required")
	}
	if cfg.MinAPIVersion != "" && !semver.IsValid(CanonicalVersion(cfg.MinAPIVersion)) {
		return nil, fmt.Errorf("invalid minimum API version %q", cfg.MinAPIVersion)
	}

	baseClient := &http.Client{Timeout: cmp.Or(cfg.Timeout, DefaultTimeout)}
	httpClient := baseClient
	apiKey := cfg.APIKey
	if cfg.OAuth.IsConfigured() {
		conf := &clientcredentials.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			TokenURL:     cfg.OAuth.TokenURL,
			Scopes:       cfg.OAuth.Scopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, baseClient)
		httpClient = conf.Client(ctx)
		httpClient.Timeout = baseClient.Timeout
		apiKey = ""
	}

	return &Client{
		endpoint:      cfg.Endpoint,
		fieldName:     cmp.Or(cfg.FieldName, DefaultFieldName),
		apiKey:        apiKey,
		minAPIVersion: cfg.MinAPIVersion,
		httpClient:    httpClient,
	}, nil
}

// Submit uploads the payload and returns the raw JSON response body.
func (c *Client) Submit(ctx context.Context, payload *types.AudioPayload) ([]byte, error) {
	if payload.Empty() {
		return nil, fmt.Errorf("%w: empty payload", ErrAnalysisUnavailable)
	}

	body, contentType, err := c.encodeForm(payload)
	if err != nil {
		return nil, util.WrapError("encode analysis request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, util.WrapError("create analysis request", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAnalysisUnavailable, err)
	}
	defer util.SafeCloseFunc(resp.Body.Close, "analysis response body")()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrAnalysisUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrAnalysisUnavailable, resp.StatusCode, snippet(data))
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: response is not JSON", ErrAnalysisUnavailable)
	}

	c.checkVersion(resp.Header.Get(APIVersionHeader))
	slog.Debug("analysis response received", "status", resp.StatusCode, "bytes", len(data), "elapsed", time.Since(started))
	return data, nil
}

// Analyze submits the payload and parses the response into a feedback record.
func (c *Client) Analyze(ctx context.Context, payload *types.AudioPayload) (types.FeedbackRecord, error) {
	data, err := c.Submit(ctx, payload)
	if err != nil {
		return types.FeedbackRecord{}, err
	}
	record, err := conversation.ParseFeedback(data)
	if err != nil {
		return types.FeedbackRecord{}, fmt.Errorf("%w: %w", ErrAnalysisUnavailable, err)
	}
	return record, nil
}

func (c *Client) encodeForm(payload *types.AudioPayload) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, c.fieldName, payload.Filename()))
	h.Set("Content-Type", cmp.Or(payload.ContentType, "application/octet-stream"))
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(payload.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// ServiceVersion returns the version the service reported on its last
// response and whether it is older than the configured minimum.
func (c *Client) ServiceVersion() (version string, outdated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reported, c.outdated
}

// checkVersion records the reported version and warns when it is older than required.
func (c *Client) checkVersion(reported string) {
	reported = strings.TrimSpace(reported)
	outdated := false
	defer func() {
		c.mu.Lock()
		c.reported, c.outdated = reported, outdated
		c.mu.Unlock()
	}()

	if c.minAPIVersion == "" {
		return
	}
	if reported == "" {
		slog.Warn("analysis service did not report a version", "minimum", c.minAPIVersion)
		return
	}
	got := CanonicalVersion(reported)
	if !semver.IsValid(got) {
		slog.Warn("analysis service reported an invalid version", "version", reported)
		return
	}
	if semver.Compare(got, CanonicalVersion(c.minAPIVersion)) < 0 {
		outdated = true
		slog.Warn("analysis service is older than required", "version", reported, "minimum", c.minAPIVersion)
	}
}

// CanonicalVersion returns v with the "v" prefix semver comparisons expect.
func CanonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

func snippet(data []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(data))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"

	"github.com/oszuidwest/voicetutor/internal/analysis"
	"github.com/oszuidwest/voicetutor/internal/types"
	"github.com/oszuidwest/voicetutor/internal/util"
)

const releaseURL = "https://api.github.com/repos/oszuidwest/voicetutor/releases/latest"

const (
	releaseFirstPoll      = 30 * time.Second
	releasePollInterval   = 24 * time.Hour
	releaseRequestTimeout = 30 * time.Second
	releaseAttempts       = 3
	releaseRetryDelay     = time.Minute
)

var errRateLimited = errors.New("release API rate limited")

// serviceVersioner reports what the analysis service announced about itself.
type serviceVersioner interface {
	ServiceVersion() (version string, outdated bool)
}

// VersionChecker tracks the newest published tutor release next to the
// version of the analysis service in use. It is safe for concurrent use.
type VersionChecker struct {
	releaseURL string
	client     *http.Client
	service    serviceVersioner
	cancel     context.CancelFunc

	mu     sync.RWMutex
	latest string // canonical, with "v" prefix
	etag   string
}

// NewVersionChecker starts polling for tutor releases. service may be nil
// when no analysis endpoint is configured.
func NewVersionChecker(service serviceVersioner) *VersionChecker {
	vc := newVersionChecker(releaseURL, service)
	ctx, cancel := context.WithCancel(context.Background())
	vc.cancel = cancel
	go vc.poll(ctx)
	return vc
}

func newVersionChecker(url string, service serviceVersioner) *VersionChecker {
	return &VersionChecker{
		releaseURL: url,
		client:     &http.Client{Timeout: releaseRequestTimeout},
		service:    service,
		cancel:     func() {},
	}
}

// Stop ends polling. It may be called more than once.
func (vc *VersionChecker) Stop() {
	vc.cancel()
}

func (vc *VersionChecker) poll(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in version checker", "panic", r)
		}
	}()

	wait := releaseFirstPoll
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		vc.refresh(ctx)
		wait = releasePollInterval
	}
}

// refresh fetches the newest release, retrying transient failures.
func (vc *VersionChecker) refresh(ctx context.Context) {
	for attempt := 1; ; attempt++ {
		retry, err := vc.fetch(ctx)
		if err == nil {
			return
		}
		slog.Debug("release check failed", "attempt", attempt, "error", err)
		if !retry || attempt == releaseAttempts {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(releaseRetryDelay):
		}
	}
}

// fetch asks for the newest release. retry reports whether a failure is
// worth another attempt.
func (vc *VersionChecker) fetch(ctx context.Context) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, vc.releaseURL, http.NoBody)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "voicetutor/"+Version)

	vc.mu.RLock()
	if vc.etag != "" {
		req.Header.Set("If-None-Match", vc.etag)
	}
	vc.mu.RUnlock()

	resp, err := vc.client.Do(req)
	if err != nil {
		return true, err
	}
	defer util.SafeCloseFunc(resp.Body.Close, "release response")()

	switch code := resp.StatusCode; {
	case code == http.StatusNotModified, code == http.StatusNotFound:
		// Unchanged, or nothing published yet.
		return false, nil
	case code == http.StatusForbidden, code == http.StatusTooManyRequests:
		return true, errRateLimited
	case code >= 500:
		return true, fmt.Errorf("release API status %d", code)
	case code != http.StatusOK:
		return false, fmt.Errorf("release API status %d", code)
	}

	var release struct {
		TagName    string `json:"tag_name"`
		Draft      bool   `json:"draft"`
		Prerelease bool   `json:"prerelease"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return true, util.WrapError("decode release", err)
	}
	if release.Draft || release.Prerelease {
		return false, nil
	}
	tag := analysis.CanonicalVersion(release.TagName)
	if !semver.IsValid(tag) {
		return false, fmt.Errorf("release tag %q is not a version", release.TagName)
	}

	vc.mu.Lock()
	vc.latest = tag
	if etag := resp.Header.Get("ETag"); etag != "" {
		vc.etag = etag
	}
	vc.mu.Unlock()
	return false, nil
}

// Info reports the build, the newest release and the analysis service version.
func (vc *VersionChecker) Info() types.VersionInfo {
	info := buildInfo()

	vc.mu.RLock()
	latest := vc.latest
	vc.mu.RUnlock()
	if latest != "" {
		info.Latest = strings.TrimPrefix(latest, "v")
		info.UpdateAvail = isNewerVersion(latest, Version)
	}
	if vc.service != nil {
		info.AnalysisVersion, info.AnalysisOutdated = vc.service.ServiceVersion()
	}
	return info
}

// buildInfo describes the running binary.
func buildInfo() types.VersionInfo {
	return types.VersionInfo{
		Current:   strings.TrimPrefix(strings.TrimSpace(Version), "v"),
		Commit:    Commit,
		BuildTime: BuildTime,
	}
}

// isNewerVersion reports whether latest is newer than current. Development
// builds carry no version and never see an update.
func isNewerVersion(latest, current string) bool {
	cur := analysis.CanonicalVersion(current)
	if !semver.IsValid(cur) {
		return false
	}
	return semver.Compare(analysis.CanonicalVersion(latest), cur) > 0
}

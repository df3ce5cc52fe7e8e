// Package main provides a voice tutor that records spoken answers, submits
// them for language feedback and plays the tutor's reply.
//
// Usage:
//
//	voicetutor [-config path/to/config.json] [-log-level info] [-log-format text]
//
// If -config is not specified, the tutor looks for config.json in the same
// directory as the binary. A .yaml or .yml path selects YAML.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/oszuidwest/voicetutor/internal/analysis"
	"github.com/oszuidwest/voicetutor/internal/audio"
	"github.com/oszuidwest/voicetutor/internal/config"
	"github.com/oszuidwest/voicetutor/internal/conversation"
	"github.com/oszuidwest/voicetutor/internal/eventlog"
	"github.com/oszuidwest/voicetutor/internal/metrics"
	"github.com/oszuidwest/voicetutor/internal/notify"
	"github.com/oszuidwest/voicetutor/internal/playback"
	"github.com/oszuidwest/voicetutor/internal/playback/speaker"
	"github.com/oszuidwest/voicetutor/internal/recording"
	"github.com/oszuidwest/voicetutor/internal/storage"
	"github.com/oszuidwest/voicetutor/internal/tutor"
	"github.com/oszuidwest/voicetutor/internal/types"
	"github.com/oszuidwest/voicetutor/internal/util"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn or error")
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	setupLogging(*logLevel, *logFormat)

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)
		return
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	slog.Info("using config file", "path", *configPath)

	cfg := config.New(*configPath)
	if err := cfg.Load(); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Snapshot().APIKey == "" {
		key, err := config.GenerateAPIKey()
		if err != nil {
			slog.Error("failed to generate API key", "error", err)
			os.Exit(1)
		}
		if err := cfg.SetAPIKey(key); err != nil {
			slog.Error("failed to save API key", "error", err)
			os.Exit(1)
		}
		slog.Info("generated API key", "api_key", key)
	}
	snap := cfg.Snapshot()

	// Check FFmpeg availability
	ffmpegPath := util.ResolveFFmpegPath(snap.FFmpegPath)
	ffmpegAvailable := ffmpegPath != ""
	if !ffmpegAvailable {
		slog.Warn("FFmpeg not found - recording as WAV", "configured_path", snap.FFmpegPath)
	} else {
		slog.Info("FFmpeg found", "path", ffmpegPath)
	}

	newEncoder := recording.WAVEncoderFactory()
	if ffmpegAvailable && snap.Codec != types.CodecWAV {
		newEncoder = recording.FFmpegEncoderFactory(ffmpegPath, snap.Codec)
	}

	blobs, err := storage.Open(snap.StorageOptions())
	if err != nil {
		slog.Error("failed to open history storage", "backend", snap.HistoryBackend, "error", err)
		os.Exit(1)
	}
	history := conversation.NewStore(blobs, snap.HistoryKey, snap.HistoryLimit)
	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 30*time.Second)
	if err := history.Load(loadCtx); err != nil {
		if !errors.Is(err, conversation.ErrPersistedStateCorrupt) {
			cancelLoad()
			slog.Error("failed to load history", "error", err)
			os.Exit(1)
		}
		slog.Warn("starting with empty history", "error", err)
	}
	cancelLoad()

	var analyzer tutor.Analyzer
	var service serviceVersioner
	if snap.HasAnalysis() {
		client, err := analysis.NewClient(snap.AnalysisConfig())
		if err != nil {
			slog.Error("failed to create analysis client", "error", err)
			os.Exit(1)
		}
		analyzer = client
		service = client
	} else {
		slog.Warn("no analysis endpoint configured - submissions will fail")
		analyzer = unconfiguredAnalyzer{}
	}

	eventLogPath := snap.EventLogPath
	if eventLogPath == "" {
		eventLogPath = eventlog.DefaultLogPath(snap.WebPort)
	}
	events, err := eventlog.NewLogger(eventLogPath)
	if err != nil {
		slog.Error("failed to open event log", "path", eventLogPath, "error", err)
		os.Exit(1)
	}

	m := metrics.New("")
	m.History(history.Len())
	notifier := notify.NewNotifier(snap.WebhookURL)

	player := playback.NewController(speaker.Factory(speaker.DefaultSampleRate))
	player.OnFailure(func(err error) {
		m.PlaybackFailed()
		if logErr := events.LogMessage(eventlog.PlaybackFailed, err.Error()); logErr != nil {
			slog.Warn("failed to log event", "error", logErr)
		}
	})
	player.OnStart(func(clip *playback.Clip) {
		slog.Debug("tutor clip playing", "duration", clip.Duration())
	})

	recorder := recording.NewRecorder(recording.Config{
		Source:         audio.NewMicrophone(snap.AudioInput, ffmpegPath),
		NewEncoder:     newEncoder,
		Silence:        snap.SilenceConfig(),
		SampleInterval: snap.SampleInterval,
	})

	orch := tutor.New(tutor.Config{
		Recorder:      recorder,
		Analyzer:      analyzer,
		History:       history,
		Player:        player,
		Notifier:      notifier,
		Events:        events,
		Metrics:       m,
		SubmitTimeout: snap.AnalysisTimeout,
	})

	srv := NewServer(cfg, orch, notifier, m, eventLogPath, ffmpegAvailable)
	srv.version = NewVersionChecker(service)

	httpServer := srv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, util.ShutdownSignals()...)
	<-sigChan

	slog.Info("shutting down")

	srv.version.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	orch.Close()
	if err := player.Close(); err != nil {
		slog.Error("error closing playback", "error", err)
	}
	notifier.Wait()
	if err := events.Close(); err != nil {
		slog.Error("error closing event log", "error", err)
	}
	if closer, ok := blobs.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			slog.Error("error closing history storage", "error", err)
		}
	}

	slog.Info("shutdown complete")
}

// setupLogging installs the default slog handler.
func setupLogging(level, format string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// unconfiguredAnalyzer fails every submission so the user gets a
// tutor_unreachable notice instead of a silent drop.
type unconfiguredAnalyzer struct{}

func (unconfiguredAnalyzer) Analyze(context.Context, *types.AudioPayload) (types.FeedbackRecord, error) {
	return types.FeedbackRecord{}, analysis.ErrAnalysisUnavailable
}

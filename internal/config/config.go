// Package config provides application configuration management.
package config

import (
	"cmp"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/oszuidwest/voicetutor/internal/analysis"
	"github.com/oszuidwest/voicetutor/internal/audio"
	"github.com/oszuidwest/voicetutor/internal/conversation"
	"github.com/oszuidwest/voicetutor/internal/storage"
	"github.com/oszuidwest/voicetutor/internal/types"
	"github.com/oszuidwest/voicetutor/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort              = 8080
	DefaultCodec                = types.CodecWebM
	DefaultSampleIntervalMs     = 16
	DefaultSilenceThreshold     = 10.0
	DefaultSustainedSilenceMs   = 1500
	DefaultInitialSilenceMs     = 5000
	DefaultAnalysisTimeoutMs    = 90000
	DefaultHistoryBackend       = storage.BackendFile
	DefaultHistoryDirectoryName = "data"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	FFmpegPath string `json:"ffmpeg_path" yaml:"ffmpeg_path"`                           // Path to FFmpeg binary (empty = use PATH)
	Port       int    `json:"port" yaml:"port" validate:"gte=1,lte=65535"`              // HTTP server port
	APIKey     string `json:"api_key" yaml:"api_key" validate:"omitempty,min=16,max=128"` // Key for the REST and websocket API
}

// AudioConfig holds capture settings.
type AudioConfig struct {
	Input            string `json:"input" yaml:"input"`                                                             // Audio input device identifier
	Codec            string `json:"codec" yaml:"codec" validate:"omitempty,oneof=webm ogg mp3 wav"`                 // Capture codec
	SampleIntervalMs int64  `json:"sample_interval_ms" yaml:"sample_interval_ms" validate:"omitempty,gte=5,lte=1000"` // Loudness sampling cadence
}

// SilenceDetectionConfig holds the loudness threshold and silence limits.
type SilenceDetectionConfig struct {
	Threshold          float64 `json:"threshold" yaml:"threshold" validate:"gte=0,lte=255"`                                        // Loudness at or below which audio is silent
	SustainedSilenceMs int64   `json:"sustained_silence_ms" yaml:"sustained_silence_ms" validate:"omitempty,gte=100,lte=60000"` // Silence after speech before submitting
	InitialSilenceMs   int64   `json:"initial_silence_ms" yaml:"initial_silence_ms" validate:"omitempty,gte=500,lte=120000"`    // Silence without speech before abandoning
}

// AnalysisConfig holds the remote analysis service settings.
type AnalysisConfig struct {
	Endpoint      string               `json:"endpoint" yaml:"endpoint" validate:"omitempty,url"`
	FieldName     string               `json:"field_name" yaml:"field_name" validate:"omitempty,max=64"`
	TimeoutMs     int64                `json:"timeout_ms" yaml:"timeout_ms" validate:"omitempty,gte=1000,lte=600000"`
	APIKey        string               `json:"api_key" yaml:"api_key"`
	OAuth         analysis.OAuthConfig `json:"oauth" yaml:"oauth"`
	MinAPIVersion string               `json:"min_api_version" yaml:"min_api_version"`
}

// HistoryConfig selects where the transcript history is stored.
type HistoryConfig struct {
	Backend string              `json:"backend" yaml:"backend" validate:"omitempty,oneof=file s3 redis memory"`
	Key     string              `json:"key" yaml:"key" validate:"omitempty,max=256"`
	Limit   int                 `json:"limit" yaml:"limit" validate:"omitempty,gte=2,lte=1000"`
	Path    string              `json:"path" yaml:"path"` // Directory for the file backend
	S3      storage.S3Config    `json:"s3" yaml:"s3"`
	Redis   storage.RedisConfig `json:"redis" yaml:"redis"`
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url" yaml:"url" validate:"omitempty,url,max=2048"` // Webhook URL for user notices
}

// NotificationsConfig holds all notification channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig `json:"webhook" yaml:"webhook"`
}

// EventLogConfig holds the session event log settings.
type EventLogConfig struct {
	Path string `json:"path" yaml:"path"` // JSON lines file; empty uses the platform default
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System           SystemConfig           `json:"system" yaml:"system"`
	Audio            AudioConfig            `json:"audio" yaml:"audio"`
	SilenceDetection SilenceDetectionConfig `json:"silence_detection" yaml:"silence_detection"`
	Analysis         AnalysisConfig         `json:"analysis" yaml:"analysis"`
	History          HistoryConfig          `json:"history" yaml:"history"`
	Notifications    NotificationsConfig    `json:"notifications" yaml:"notifications"`
	EventLog         EventLogConfig         `json:"event_log" yaml:"event_log"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	c := &Config{filePath: filePath}
	c.applyDefaults()
	return c
}

// Path returns the configuration file path.
func (c *Config) Path() string {
	return c.filePath
}

// Load reads config from file, creating a default if none exists.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if c.isYAML() {
		err = yaml.Unmarshal(data, c)
	} else {
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	return c.validate()
}

func (c *Config) isYAML() bool {
	switch strings.ToLower(filepath.Ext(c.filePath)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// validate checks all configuration fields for correctness.
func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s %v: failed %q", fe.Namespace(), fe.Value(), fe.Tag())
		}
		return util.WrapError("validate config", err)
	}
	if c.History.Backend == storage.BackendS3 && !c.History.S3.IsConfigured() {
		return fmt.Errorf("invalid history.s3: bucket and credentials are required for the s3 backend")
	}
	if c.History.Backend == storage.BackendRedis && c.History.Redis.Addr == "" {
		return fmt.Errorf("invalid history.redis: addr is required for the redis backend")
	}
	return nil
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	if c.System.Port == 0 {
		c.System.Port = DefaultWebPort
	}
	if c.Audio.Codec == "" {
		c.Audio.Codec = string(DefaultCodec)
	}
	if c.History.Backend == "" {
		c.History.Backend = DefaultHistoryBackend
	}
	if c.History.Key == "" {
		c.History.Key = conversation.DefaultKey
	}
	if c.History.Limit == 0 {
		c.History.Limit = conversation.DefaultLimit
	}
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	var (
		data []byte
		err  error
	)
	if c.isYAML() {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// --- Setters for individual settings ---

// SetAudioInput updates the audio input device and saves the configuration.
func (c *Config) SetAudioInput(input string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Audio.Input = input
	return c.saveLocked()
}

// SetSilence updates the silence detection settings and saves the configuration.
func (c *Config) SetSilence(threshold float64, sustainedMs, initialMs int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SilenceDetection.Threshold = threshold
	c.SilenceDetection.SustainedSilenceMs = sustainedMs
	c.SilenceDetection.InitialSilenceMs = initialMs
	return c.saveLocked()
}

// SetWebhookURL updates the webhook URL and saves the configuration.
func (c *Config) SetWebhookURL(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Webhook.URL = url
	return c.saveLocked()
}

// SetAPIKey updates the API key and saves the configuration.
func (c *Config) SetAPIKey(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.System.APIKey = key
	return c.saveLocked()
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// System
	WebPort    int
	APIKey     string
	FFmpegPath string

	// Audio
	AudioInput     string
	Codec          types.Codec
	SampleInterval time.Duration

	// Silence Detection
	SilenceThreshold float64
	SustainedSilence time.Duration
	InitialSilence   time.Duration

	// Analysis
	AnalysisEndpoint  string
	AnalysisFieldName string
	AnalysisTimeout   time.Duration
	AnalysisAPIKey    string
	AnalysisOAuth     analysis.OAuthConfig
	MinAPIVersion     string

	// History
	HistoryBackend string
	HistoryKey     string
	HistoryLimit   int
	HistoryPath    string
	HistoryS3      storage.S3Config
	HistoryRedis   storage.RedisConfig

	// Notifications
	WebhookURL   string
	EventLogPath string
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		// System
		WebPort:    cmp.Or(c.System.Port, DefaultWebPort),
		APIKey:     c.System.APIKey,
		FFmpegPath: c.System.FFmpegPath,

		// Audio
		AudioInput:     c.Audio.Input,
		Codec:          types.Codec(cmp.Or(c.Audio.Codec, string(DefaultCodec))),
		SampleInterval: msToDuration(cmp.Or(c.Audio.SampleIntervalMs, DefaultSampleIntervalMs)),

		// Silence Detection (with defaults)
		SilenceThreshold: cmp.Or(c.SilenceDetection.Threshold, DefaultSilenceThreshold),
		SustainedSilence: msToDuration(cmp.Or(c.SilenceDetection.SustainedSilenceMs, DefaultSustainedSilenceMs)),
		InitialSilence:   msToDuration(cmp.Or(c.SilenceDetection.InitialSilenceMs, DefaultInitialSilenceMs)),

		// Analysis
		AnalysisEndpoint:  c.Analysis.Endpoint,
		AnalysisFieldName: cmp.Or(c.Analysis.FieldName, analysis.DefaultFieldName),
		AnalysisTimeout:   msToDuration(cmp.Or(c.Analysis.TimeoutMs, DefaultAnalysisTimeoutMs)),
		AnalysisAPIKey:    c.Analysis.APIKey,
		AnalysisOAuth:     c.Analysis.OAuth,
		MinAPIVersion:     c.Analysis.MinAPIVersion,

		// History
		HistoryBackend: cmp.Or(c.History.Backend, DefaultHistoryBackend),
		HistoryKey:     cmp.Or(c.History.Key, conversation.DefaultKey),
		HistoryLimit:   cmp.Or(c.History.Limit, conversation.DefaultLimit),
		HistoryPath:    cmp.Or(c.History.Path, filepath.Join(filepath.Dir(c.filePath), DefaultHistoryDirectoryName)),
		HistoryS3:      c.History.S3,
		HistoryRedis:   c.History.Redis,

		// Notifications
		WebhookURL:   c.Notifications.Webhook.URL,
		EventLogPath: c.EventLog.Path,
	}
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasAnalysis reports whether an analysis endpoint is configured.
func (s *Snapshot) HasAnalysis() bool {
	return s.AnalysisEndpoint != ""
}

// SilenceConfig returns the detector settings.
func (s *Snapshot) SilenceConfig() audio.SilenceConfig {
	return audio.SilenceConfig{
		Threshold:        s.SilenceThreshold,
		SustainedSilence: s.SustainedSilence,
		InitialSilence:   s.InitialSilence,
	}
}

// AnalysisConfig returns the analysis client settings.
func (s *Snapshot) AnalysisConfig() analysis.Config {
	cfg := analysis.Config{
		Endpoint:      s.AnalysisEndpoint,
		FieldName:     s.AnalysisFieldName,
		Timeout:       s.AnalysisTimeout,
		APIKey:        s.AnalysisAPIKey,
		MinAPIVersion: s.MinAPIVersion,
	}
	if s.AnalysisOAuth.IsConfigured() {
		oauth := s.AnalysisOAuth
		cfg.OAuth = &oauth
	}
	return cfg
}

// StorageOptions returns the history backend settings.
func (s *Snapshot) StorageOptions() *storage.Options {
	return &storage.Options{
		Backend: s.HistoryBackend,
		Path:    s.HistoryPath,
		S3:      s.HistoryS3,
		Redis:   s.HistoryRedis,
	}
}

// --- Utility functions ---

// GenerateAPIKey generates a new random 32-character alphanumeric API key.
func GenerateAPIKey() (string, error) {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 32
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		result[i] = chars[n.Int64()]
	}
	return string(result), nil
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

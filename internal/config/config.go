// Package config provides the configuration schema and loader for the
// fieldvoice interview runner.
//
// The interview access token is never part of the file; it is passed on the
// command line.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to a [slog.Level]. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	// LogFormatAuto picks text on a terminal and JSON otherwise.
	LogFormatAuto LogFormat = "auto"
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatAuto || f == LogFormatText || f == LogFormatJSON
}

// Config is the root configuration structure, loaded with [Load] or
// [LoadFromReader].
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Interview InterviewConfig `yaml:"interview"`
	Devices   DevicesConfig   `yaml:"devices"`
	Archive   ArchiveConfig   `yaml:"archive"`
	UI        UIConfig        `yaml:"ui"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// BackendConfig locates the interview API.
type BackendConfig struct {
	// BaseURL is the API root the public/{token}/ paths hang off, e.g.
	// "https://impact.example.org/api/interviews". Required.
	BaseURL string `yaml:"base_url"`

	// Timeout bounds each request. Default: 60s.
	Timeout time.Duration `yaml:"timeout"`
}

// InterviewConfig is the interview policy.
type InterviewConfig struct {
	// Languages offered on the language screen as BCP-47 tags.
	// Default: [en].
	Languages []string `yaml:"languages"`

	// DefaultLanguage must be one of Languages. Default: the first entry.
	DefaultLanguage string `yaml:"default_language"`

	AutoRecord bool `yaml:"auto_record"`

	// AutoRecordDelay is the pause before an automatic recording starts.
	// Default: 800ms.
	AutoRecordDelay time.Duration `yaml:"auto_record_delay"`

	// MaxAnswerDuration stops an answer recording automatically. Zero
	// disables the cap.
	MaxAnswerDuration time.Duration `yaml:"max_answer_duration"`

	// Codecs lists audio MIME types in order of preference.
	Codecs []string `yaml:"codecs"`
}

// DevicesConfig holds the capture and playback command templates.
// Placeholders: {rate}, {channels}, {width}, {height}, {url}.
type DevicesConfig struct {
	Microphone []string `yaml:"microphone"`
	Camera     []string `yaml:"camera"`
	Player     []string `yaml:"player"`

	// CameraMIMEType is the container the camera command writes.
	CameraMIMEType string `yaml:"camera_mime_type"`

	// SampleRate requested from the microphone. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// Width and Height requested from the camera. Default: 1280x720.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// ArchiveConfig locates the local recordings spool.
type ArchiveConfig struct {
	// Dir defaults to "recordings".
	Dir string `yaml:"dir"`
}

// UIConfig configures the UI hub.
type UIConfig struct {
	// ListenAddr defaults to "127.0.0.1:8765". An explicit "-" disables the hub.
	ListenAddr string `yaml:"listen_addr"`

	// AllowedOrigins are host patterns accepted for cross-origin
	// websocket connections.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`

	// File, when set, receives a copy of the log through a size-rotated
	// writer.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConfig names the service in exported telemetry.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
}

// UIDisabled reports whether the hub is switched off.
func (c UIConfig) UIDisabled() bool { return c.ListenAddr == "-" }

package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"slices"
	"time"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultBackendTimeout  = 60 * time.Second
	DefaultAutoRecordDelay = 800 * time.Millisecond
	DefaultSampleRate      = 16000
	DefaultWidth           = 1280
	DefaultHeight          = 720
	DefaultArchiveDir      = "recordings"
	DefaultListenAddr      = "127.0.0.1:8765"
	DefaultServiceName     = "fieldvoice"
	DefaultLogMaxSizeMB    = 20
	DefaultLogMaxBackups   = 5
)

// Load reads the YAML file at path, applies defaults and validates it.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r, applies defaults and validates the
// result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero values. Language tags are normalized to their
// canonical form.
func ApplyDefaults(cfg *Config) {
	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = DefaultBackendTimeout
	}

	iv := &cfg.Interview
	if len(iv.Languages) == 0 {
		iv.Languages = []string{"en"}
	}
	for i, l := range iv.Languages {
		if tag, err := language.Parse(l); err == nil {
			iv.Languages[i] = tag.String()
		}
	}
	if iv.DefaultLanguage == "" {
		iv.DefaultLanguage = iv.Languages[0]
	} else if tag, err := language.Parse(iv.DefaultLanguage); err == nil {
		iv.DefaultLanguage = tag.String()
	}
	if iv.AutoRecordDelay == 0 {
		iv.AutoRecordDelay = DefaultAutoRecordDelay
	}

	if cfg.Devices.SampleRate == 0 {
		cfg.Devices.SampleRate = DefaultSampleRate
	}
	if cfg.Devices.Width == 0 {
		cfg.Devices.Width = DefaultWidth
	}
	if cfg.Devices.Height == 0 {
		cfg.Devices.Height = DefaultHeight
	}
	if cfg.Archive.Dir == "" {
		cfg.Archive.Dir = DefaultArchiveDir
	}
	if cfg.UI.ListenAddr == "" {
		cfg.UI.ListenAddr = DefaultListenAddr
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = LogInfo
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = LogFormatAuto
	}
	if cfg.Log.File != "" {
		if cfg.Log.MaxSizeMB == 0 {
			cfg.Log.MaxSizeMB = DefaultLogMaxSizeMB
		}
		if cfg.Log.MaxBackups == 0 {
			cfg.Log.MaxBackups = DefaultLogMaxBackups
		}
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks cfg and returns every problem found, joined.
func Validate(cfg *Config) error {
	var errs []error

	// Backend
	if cfg.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	} else if u, err := url.Parse(cfg.Backend.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("backend.base_url %q must be an absolute http(s) URL", cfg.Backend.BaseURL))
	}
	if cfg.Backend.Timeout < 0 {
		errs = append(errs, fmt.Errorf("backend.timeout %s must not be negative", cfg.Backend.Timeout))
	}

	// Interview
	iv := cfg.Interview
	seen := make(map[string]int, len(iv.Languages))
	for i, l := range iv.Languages {
		if _, err := language.Parse(l); err != nil {
			errs = append(errs, fmt.Errorf("interview.languages[%d] %q is not a BCP-47 tag", i, l))
			continue
		}
		if prev, ok := seen[l]; ok {
			errs = append(errs, fmt.Errorf("interview.languages[%d] %q is a duplicate of languages[%d]", i, l, prev))
		}
		seen[l] = i
	}
	if iv.DefaultLanguage != "" && !slices.Contains(iv.Languages, iv.DefaultLanguage) {
		errs = append(errs, fmt.Errorf("interview.default_language %q is not in interview.languages", iv.DefaultLanguage))
	}
	if iv.AutoRecordDelay < 0 {
		errs = append(errs, fmt.Errorf("interview.auto_record_delay %s must not be negative", iv.AutoRecordDelay))
	}
	if iv.MaxAnswerDuration != 0 && iv.MaxAnswerDuration < time.Second {
		errs = append(errs, fmt.Errorf("interview.max_answer_duration %s must be at least 1s or 0", iv.MaxAnswerDuration))
	}

	// Devices
	if cfg.Devices.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("devices.sample_rate %d must be positive", cfg.Devices.SampleRate))
	}
	if cfg.Devices.Width < 0 || cfg.Devices.Height < 0 {
		errs = append(errs, fmt.Errorf("devices.width/height %dx%d must be positive", cfg.Devices.Width, cfg.Devices.Height))
	}

	// Log
	if cfg.Log.Level != "" && !cfg.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}
	if cfg.Log.Format != "" && !cfg.Log.Format.IsValid() {
		errs = append(errs, fmt.Errorf("log.format %q is invalid; valid values: auto, text, json", cfg.Log.Format))
	}
	if cfg.Log.MaxSizeMB < 0 || cfg.Log.MaxBackups < 0 || cfg.Log.MaxAgeDays < 0 {
		errs = append(errs, errors.New("log rotation limits must not be negative"))
	}

	return errors.Join(errs...)
}

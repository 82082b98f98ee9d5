package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/fieldvoice/internal/config"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
backend:
  base_url: https://impact.example.org/api/interviews
  timeout: 90s
interview:
  languages: [en, hi, pt-br]
  default_language: hi
  auto_record: true
  auto_record_delay: 1s
  max_answer_duration: 3m
  codecs: [audio/ogg;codecs=opus, audio/wav]
devices:
  microphone: [arecord, -q, -f, S16_LE, -r, "{rate}", -c, "{channels}", -t, raw]
  player: [mpv, --no-video, "{url}"]
  sample_rate: 48000
archive:
  dir: /var/lib/fieldvoice
ui:
  listen_addr: ":9000"
  allowed_origins: [kiosk.local]
log:
  level: debug
  format: json
  file: /var/log/fieldvoice.log
telemetry:
  service_name: fieldvoice-kiosk
`

func load(t *testing.T, doc string) (*config.Config, error) {
	t.Helper()
	return config.LoadFromReader(strings.NewReader(doc))
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()

	cfg, err := load(t, sampleYAML)
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Backend.Timeout != 90*time.Second {
		t.Errorf("backend.timeout = %s", cfg.Backend.Timeout)
	}
	if got := strings.Join(cfg.Interview.Languages, ","); got != "en,hi,pt-BR" {
		t.Errorf("languages = %s, want canonical tags", got)
	}
	if cfg.Interview.DefaultLanguage != "hi" || !cfg.Interview.AutoRecord {
		t.Errorf("interview = %+v", cfg.Interview)
	}
	if cfg.Interview.MaxAnswerDuration != 3*time.Minute || cfg.Interview.AutoRecordDelay != time.Second {
		t.Errorf("durations = %s / %s", cfg.Interview.MaxAnswerDuration, cfg.Interview.AutoRecordDelay)
	}
	if cfg.Devices.SampleRate != 48000 || cfg.Devices.Player[0] != "mpv" {
		t.Errorf("devices = %+v", cfg.Devices)
	}
	if cfg.Log.Level != config.LogDebug || cfg.Log.Format != config.LogFormatJSON {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.Log.MaxSizeMB != config.DefaultLogMaxSizeMB || cfg.Log.MaxBackups != config.DefaultLogMaxBackups {
		t.Errorf("rotation defaults not applied: %+v", cfg.Log)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := load(t, "backend:\n  base_url: http://localhost:8000/api/interviews\n")
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	checks := []struct {
		name      string
		got, want any
	}{
		{"backend.timeout", cfg.Backend.Timeout, config.DefaultBackendTimeout},
		{"interview.languages", strings.Join(cfg.Interview.Languages, ","), "en"},
		{"interview.default_language", cfg.Interview.DefaultLanguage, "en"},
		{"interview.auto_record_delay", cfg.Interview.AutoRecordDelay, config.DefaultAutoRecordDelay},
		{"devices.sample_rate", cfg.Devices.SampleRate, config.DefaultSampleRate},
		{"devices.width", cfg.Devices.Width, config.DefaultWidth},
		{"archive.dir", cfg.Archive.Dir, config.DefaultArchiveDir},
		{"ui.listen_addr", cfg.UI.ListenAddr, config.DefaultListenAddr},
		{"log.level", cfg.Log.Level, config.LogInfo},
		{"log.format", cfg.Log.Format, config.LogFormatAuto},
		{"log.max_size_mb", cfg.Log.MaxSizeMB, 0},
		{"telemetry.service_name", cfg.Telemetry.ServiceName, config.DefaultServiceName},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadFromReader_Invalid(t *testing.T) {
	t.Parallel()

	const base = "backend:\n  base_url: https://x.example/api\n"
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"empty document", "", "backend.base_url is required"},
		{"relative url", "backend:\n  base_url: /api\n", "absolute http(s) URL"},
		{"ftp url", "backend:\n  base_url: ftp://x.example/\n", "absolute http(s) URL"},
		{"unknown key", base + "bogus: 1\n", "field bogus not found"},
		{"bad language", base + "interview:\n  languages: [en, \"not a tag!\"]\n", "not a BCP-47 tag"},
		{"duplicate language", base + "interview:\n  languages: [en, EN]\n", "duplicate"},
		{"default not offered", base + "interview:\n  languages: [en]\n  default_language: fr\n", "not in interview.languages"},
		{"short cap", base + "interview:\n  max_answer_duration: 500ms\n", "at least 1s"},
		{"negative delay", base + "interview:\n  auto_record_delay: -1s\n", "must not be negative"},
		{"bad level", base + "log:\n  level: verbose\n", "log.level"},
		{"bad format", base + "log:\n  format: xml\n", "log.format"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := load(t, tc.doc)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Log: config.LogConfig{Level: "loud", Format: "xml"},
	}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"backend.base_url", "log.level", "log.format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error misses %q: %v", want, err)
		}
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "fieldvoice.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.UI.ListenAddr != ":9000" {
		t.Errorf("ui.listen_addr = %q", cfg.UI.ListenAddr)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLogLevel(t *testing.T) {
	t.Parallel()

	if !config.LogWarn.IsValid() || config.LogLevel("trace").IsValid() {
		t.Error("IsValid mismatch")
	}
	if config.LogLevel("").Level().String() != "INFO" || config.LogError.Level().String() != "ERROR" {
		t.Error("Level mapping mismatch")
	}
}

func TestUIDisabled(t *testing.T) {
	t.Parallel()

	if !(config.UIConfig{ListenAddr: "-"}).UIDisabled() {
		t.Error("\"-\" should disable the hub")
	}
	if (config.UIConfig{ListenAddr: ":80"}).UIDisabled() {
		t.Error("address should not disable the hub")
	}
}

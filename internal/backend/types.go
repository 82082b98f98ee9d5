package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"
)

// Status is the server-side lifecycle of a session.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusPaused, StatusCompleted:
		return true
	}
	return false
}

// ID is an identifier the backend may encode as either a JSON number or a
// JSON string. It is always held as its decimal/string form.
type ID string

// UnmarshalJSON accepts numbers, strings and null.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*id = ""
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("backend: id %s is neither string nor number", b)
	}
	*id = ID(n.String())
	return nil
}

// String returns the identifier as sent by the backend.
func (id ID) String() string { return string(id) }

// Session is the server-authoritative interview record.
type Session struct {
	ID                 ID         `json:"id"`
	Status             Status     `json:"status"`
	Language           string     `json:"language"`
	AnsweredQuestions  int        `json:"answered_questions"`
	TotalQuestions     int        `json:"total_questions"`
	ProgressPercentage float64    `json:"progress_percentage"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	VideoEnabled       bool       `json:"video_enabled"`
	BeneficiaryName    string     `json:"beneficiary_name,omitempty"`
	QuestionnaireTitle string     `json:"questionnaire_title,omitempty"`
	CurrentQuestion    *Question  `json:"current_question,omitempty"`
}

// Expired reports whether the session's expiry lies before now. A session
// without an expiry never expires client-side.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !s.ExpiresAt.IsZero() && now.After(*s.ExpiresAt)
}

// ApplyProgress merges backend-reported progress into the session verbatim.
func (s *Session) ApplyProgress(p Progress) {
	s.AnsweredQuestions = p.Answered
	s.ProgressPercentage = p.Percentage
}

// Question is the question the backend expects answered next.
type Question struct {
	ID       ID       `json:"id"`
	Text     string   `json:"text"`
	Type     string   `json:"type"`
	Options  []string `json:"options,omitempty"`
	Section  string   `json:"section,omitempty"`
	Required bool     `json:"required"`
}

// Progress counters reported by the backend after each answered turn.
type Progress struct {
	Answered   int     `json:"answered"`
	Percentage float64 `json:"percentage"`
}

// DeviceInfo describes the capturing device; sent with the start call.
type DeviceInfo struct {
	Platform  string `json:"platform"`
	Arch      string `json:"arch"`
	Hostname  string `json:"hostname,omitempty"`
	UserAgent string `json:"user_agent"`
	AudioMIME string `json:"audio_mime,omitempty"`
	HasCamera bool   `json:"has_camera"`
}

// CurrentDeviceInfo returns DeviceInfo for the running process.
func CurrentDeviceInfo(version string) DeviceInfo {
	host, _ := os.Hostname()
	if version == "" {
		version = "dev"
	}
	return DeviceInfo{
		Platform:  runtime.GOOS,
		Arch:      runtime.GOARCH,
		Hostname:  host,
		UserAgent: "fieldvoice/" + version,
	}
}

// StartRequest is the body of the start call.
type StartRequest struct {
	Language   string     `json:"language"`
	DeviceInfo DeviceInfo `json:"device_info"`
}

// StartResponse is the reply to the start call.
type StartResponse struct {
	SessionInfo      *Session  `json:"session_info"`
	Greeting         string    `json:"greeting"`
	GreetingAudioURL string    `json:"greeting_audio_url,omitempty"`
	NextQuestion     *Question `json:"next_question,omitempty"`
}

// ReplyKind classifies a [TurnReply].
type ReplyKind int

const (
	// ReplyNextTurn carries the assistant's next message and question.
	ReplyNextTurn ReplyKind = iota
	// ReplyTranscriptionFailed means the audio could not be transcribed; the
	// turn did not advance.
	ReplyTranscriptionFailed
	// ReplyCompleted ends the interview.
	ReplyCompleted
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyNextTurn:
		return "next_turn"
	case ReplyTranscriptionFailed:
		return "transcription_failed"
	case ReplyCompleted:
		return "completed"
	}
	return "ReplyKind(" + strconv.Itoa(int(k)) + ")"
}

// TurnReply is the reply to process-audio and process-text. Exactly one of
// its three shapes is populated; use [TurnReply.Kind] to tell them apart.
type TurnReply struct {
	// Transcription failure branch.
	TranscriptionFailed bool `json:"transcription_failed,omitempty"`

	// Next-turn branch.
	Transcription string    `json:"transcription,omitempty"`
	AIMessage     string    `json:"ai_message,omitempty"`
	AIAudioURL    string    `json:"ai_audio_url,omitempty"`
	Progress      *Progress `json:"progress,omitempty"`
	NextQuestion  *Question `json:"next_question,omitempty"`

	// Completion branch.
	Status   Status `json:"status,omitempty"`
	Message  string `json:"message,omitempty"`
	AudioURL string `json:"audio_url,omitempty"`
}

// Kind classifies the reply. Completion wins over the other branches.
func (r *TurnReply) Kind() ReplyKind {
	switch {
	case r.Status == StatusCompleted:
		return ReplyCompleted
	case r.TranscriptionFailed:
		return ReplyTranscriptionFailed
	}
	return ReplyNextTurn
}

// PauseReply is the reply to pause and resume.
type PauseReply struct {
	CurrentQuestion *Question `json:"current_question,omitempty"`
}

// RecordingMode selects how video is captured.
type RecordingMode string

const (
	ModePerQuestion   RecordingMode = "per_question"
	ModeFullInterview RecordingMode = "full_interview"
)

// IsValid reports whether m is a known mode.
func (m RecordingMode) IsValid() bool {
	return m == ModePerQuestion || m == ModeFullInterview
}

// VideoSettings is the server-supplied video capture policy.
type VideoSettings struct {
	Enabled            bool          `json:"enabled"`
	Mode               RecordingMode `json:"recording_mode"`
	RequireConsent     bool          `json:"require_consent"`
	ConsentGiven       bool          `json:"consent_given"`
	Width              int           `json:"resolution_width"`
	Height             int           `json:"resolution_height"`
	MaxDurationSeconds int           `json:"max_duration_seconds"`
	AutoAnalyze        bool          `json:"auto_analyze"`
}

// DefaultVideoSettings is the policy used when the backend cannot supply one.
func DefaultVideoSettings() VideoSettings {
	return VideoSettings{
		Enabled:            true,
		Mode:               ModePerQuestion,
		RequireConsent:     true,
		Width:              1280,
		Height:             720,
		MaxDurationSeconds: 300,
		AutoAnalyze:        true,
	}
}

// Normalize fills zero or unknown fields from [DefaultVideoSettings].
func (v VideoSettings) Normalize() VideoSettings {
	def := DefaultVideoSettings()
	if !v.Mode.IsValid() {
		v.Mode = def.Mode
	}
	if v.Width <= 0 || v.Height <= 0 {
		v.Width, v.Height = def.Width, def.Height
	}
	if v.MaxDurationSeconds <= 0 {
		v.MaxDurationSeconds = def.MaxDurationSeconds
	}
	return v
}

// AudioUpload is one recorded turn answer.
type AudioUpload struct {
	Data     []byte
	MIMEType string
	FileName string
}

// VideoUpload is one finished video clip plus its metadata.
type VideoUpload struct {
	Data            []byte
	MIMEType        string
	FileName        string
	VideoType       RecordingMode
	DurationSeconds int
	RecordedAt      time.Time
	// QuestionID is set in per-question mode.
	QuestionID ID
}

// VideoUploadResult is the reply to upload-video.
type VideoUploadResult struct {
	VideoID ID `json:"video_id"`
}

// RecordingUpload is the full-session audio backup.
type RecordingUpload struct {
	Data            []byte
	MIMEType        string
	FileName        string
	DurationSeconds int
	RecordedAt      time.Time
}

// RecordingUploadResult is the reply to upload-recording.
type RecordingUploadResult struct {
	RecordingID ID `json:"recording_id"`
}

package interview

import (
	"time"

	"github.com/MrWong99/fieldvoice/internal/backend"
	"github.com/MrWong99/fieldvoice/internal/capture"
)

// Role is the author of a transcript message.
type Role string

const (
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// PendingText is the placeholder shown while an answer is being transcribed.
const PendingText = "Processing…"

// Message is one entry of the visible transcript.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	AudioURL  string    `json:"audio_url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	// Pending marks the user placeholder awaiting transcription.
	Pending bool `json:"pending,omitempty"`
}

// FallbackReason says why the text-entry fallback is showing.
type FallbackReason string

const (
	FallbackNone                FallbackReason = ""
	FallbackManual              FallbackReason = "manual"
	FallbackTranscriptionFailed FallbackReason = "transcription_failed"
	FallbackNetwork             FallbackReason = "network"
	FallbackBackend             FallbackReason = "backend_error"
	FallbackMicrophone          FallbackReason = "microphone"
)

// Notice returns the user-facing message for the reason.
func (r FallbackReason) Notice() string {
	switch r {
	case FallbackTranscriptionFailed:
		return "We could not understand the recording. Please type your answer or try again."
	case FallbackNetwork:
		return "The connection dropped while sending your answer. Please type your answer or try again."
	case FallbackBackend:
		return "The server could not process your answer. Please type your answer or try again."
	case FallbackMicrophone:
		return "The microphone is not available. Please type your answer."
	}
	return ""
}

// Snapshot is a deep copy of everything the UI shows.
type Snapshot struct {
	State            State             `json:"state"`
	Session          backend.Session   `json:"session"`
	SelectedLanguage string            `json:"selected_language"`
	Languages        []string          `json:"languages"`
	Messages         []Message         `json:"messages"`
	CurrentQuestion  *backend.Question `json:"current_question,omitempty"`

	AutoRecord     bool           `json:"auto_record"`
	TextFallback   bool           `json:"text_fallback"`
	FallbackReason FallbackReason `json:"fallback_reason,omitempty"`
	Playing        bool           `json:"playing"`

	// Notice is a transient user-facing message; Error is set in the error
	// state.
	Notice string `json:"notice,omitempty"`
	Error  string `json:"error,omitempty"`

	Turn        capture.RecordingState `json:"turn"`
	FullSession capture.RecordingState `json:"full_session"`
	// UploadPrompt asks the user what to do with the held full-session
	// recording.
	UploadPrompt bool               `json:"upload_prompt"`
	Video        capture.VideoState `json:"video"`

	// Version increases with every published snapshot.
	Version uint64 `json:"version"`
}

// CommandType names a UI action.
type CommandType string

const (
	CmdSelectLanguage   CommandType = "select_language"
	CmdStart            CommandType = "start"
	CmdStartRecording   CommandType = "start_recording"
	CmdStopRecording    CommandType = "stop_recording"
	CmdPause            CommandType = "pause"
	CmdResume           CommandType = "resume"
	CmdSubmitText       CommandType = "submit_text"
	CmdToggleAutoRecord CommandType = "toggle_auto_record"
	CmdShowTextInput    CommandType = "show_text_input"
	CmdRestart          CommandType = "restart"
	CmdLeave            CommandType = "leave"
	CmdVideoConsent     CommandType = "video_consent"
	CmdVideoUpload      CommandType = "video_upload"
	CmdVideoDiscard     CommandType = "video_discard"
	CmdRecordingUpload  CommandType = "recording_upload"
	CmdRecordingSave    CommandType = "recording_save"
	CmdRecordingDiscard CommandType = "recording_discard"
)

// Commands lists every command type.
var Commands = []CommandType{
	CmdSelectLanguage, CmdStart, CmdStartRecording, CmdStopRecording, CmdPause,
	CmdResume, CmdSubmitText, CmdToggleAutoRecord, CmdShowTextInput, CmdRestart,
	CmdLeave, CmdVideoConsent, CmdVideoUpload, CmdVideoDiscard, CmdRecordingUpload,
	CmdRecordingSave, CmdRecordingDiscard,
}

// Command is one UI action.
type Command struct {
	Type     CommandType `json:"type"`
	Language string      `json:"language,omitempty"`
	Text     string      `json:"text,omitempty"`
	// Enabled is the argument of toggle_auto_record, show_text_input and
	// video_consent.
	Enabled bool `json:"enabled,omitempty"`
}

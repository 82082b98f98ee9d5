// Package backend is the client for the interview backend's public session
// REST surface.
//
// Every endpoint is addressed by the session access token embedded in the
// interview link ("public/{token}/..."). Binary payloads (turn audio, video
// clips, full-session recordings) are sent as multipart forms; everything else
// is JSON. HTTP 410 on any call means the token has lapsed and is reported as
// [ErrExpired]; other non-2xx responses surface as [*StatusError] and transport
// failures as [*TransportError]. The client never retries: retry policy belongs
// to the caller.
//
// [API] is the interface consumers depend on; [Client] is the HTTP
// implementation and the mock subpackage provides a test double.
package backend

import "context"

// API is the full set of session-scoped backend operations.
//
// Implementations must be safe for concurrent use.
type API interface {
	// GetSession fetches the current session snapshot.
	GetSession(ctx context.Context) (*Session, error)

	// Start begins the interview in the given language and returns the greeting
	// and first question.
	Start(ctx context.Context, req StartRequest) (*StartResponse, error)

	// ProcessAudio submits one recorded answer for transcription and returns
	// the backend's reply for the turn.
	ProcessAudio(ctx context.Context, audio AudioUpload) (*TurnReply, error)

	// ProcessText submits a typed answer. The reply never reports a
	// transcription failure.
	ProcessText(ctx context.Context, text string) (*TurnReply, error)

	// Pause and Resume suspend and continue the session. Either may return an
	// updated current question.
	Pause(ctx context.Context) (*PauseReply, error)
	Resume(ctx context.Context) (*PauseReply, error)

	// Reset clears the server-side session so the interview can restart.
	Reset(ctx context.Context) error

	// VideoSettings fetches the session's video capture policy.
	VideoSettings(ctx context.Context) (*VideoSettings, error)

	// VideoConsent records the participant's consent decision.
	VideoConsent(ctx context.Context, given bool) error

	// UploadVideo uploads one finished clip.
	UploadVideo(ctx context.Context, v VideoUpload) (*VideoUploadResult, error)

	// UploadRecording uploads the full-session audio backup.
	UploadRecording(ctx context.Context, r RecordingUpload) (*RecordingUploadResult, error)
}

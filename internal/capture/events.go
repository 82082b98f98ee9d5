package capture

import (
	"time"

	"github.com/MrWong99/fieldvoice/internal/backend"
)

// Source identifies which capture controller produced an [Event] or
// [Recording].
type Source string

const (
	SourceTurn    Source = "turn"
	SourceSession Source = "session"
	SourceVideo   Source = "video"
)

// EventKind enumerates controller notifications.
type EventKind int

const (
	EventStarted EventKind = iota
	EventTick
	EventPaused
	EventResumed
	EventCompleted
	EventDiscarded
	// EventLimitWarning fires once when a capped recording enters its final
	// warning window. Event.Remaining holds the seconds left.
	EventLimitWarning
	// EventLimitReached fires when a capped recording stops itself. It is
	// followed by EventCompleted.
	EventLimitReached
	EventUploaded
	EventUploadFailed
	// EventPhase reports a change of the video controller's phase.
	EventPhase
)

var eventNames = [...]string{
	"started", "tick", "paused", "resumed", "completed", "discarded",
	"limit_warning", "limit_reached", "uploaded", "upload_failed", "phase",
}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "unknown"
}

// Event is one notification from a capture controller. Controllers never
// mutate each other; the interview machine consumes these through a single
// channel.
type Event struct {
	Source Source
	Kind   EventKind

	// Elapsed is the recording duration in whole seconds.
	Elapsed int

	// Remaining is set on EventLimitWarning.
	Remaining int

	// Recording is set on EventCompleted.
	Recording *Recording

	// ID is the backend identifier on EventUploaded.
	ID backend.ID

	// Phase is set on EventPhase.
	Phase VideoPhase

	// Err is set on EventUploadFailed.
	Err error
}

// Notify receives controller events. It is called from controller
// goroutines and must not block.
type Notify func(Event)

// Recording is one finished capture.
type Recording struct {
	Source   Source
	Data     []byte
	MIMEType string
	// Duration in whole seconds, counted by the recorder's 1s tick.
	Duration  int
	StartedAt time.Time
	// QuestionID is set for per-question video clips.
	QuestionID backend.ID
}

// Size returns the length of the encoded data.
func (r *Recording) Size() int { return len(r.Data) }

// FileName returns a file name for the recording with the extension that
// matches its MIME type.
func (r *Recording) FileName() string {
	name := string(r.Source)
	if r.QuestionID != "" {
		name += "-q" + r.QuestionID.String()
	}
	return name + ExtensionFor(r.MIMEType)
}

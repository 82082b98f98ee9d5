// Package media defines the device abstractions fieldvoice captures from and
// plays through.
//
// The three primary abstractions are:
//
//   - [Devices]: opens microphone and camera streams under [Constraints].
//   - [Stream]: a live capture handle delivering [Frame] values until closed.
//   - [Player]: plays a remote audio reference (a TTS URL) to completion.
//
// Implementations live in adapter packages (e.g., media/execdev, which
// drives external capture commands). Kiosk integrators can provide their own
// [Devices] for platform-specific capture stacks.
package media

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied is returned when the user or the operating system
	// refuses access to the requested device.
	ErrPermissionDenied = errors.New("media: permission denied")

	// ErrUnsupported is returned when the device exists but cannot satisfy
	// the requested [Constraints] (resolution, sample rate, ...).
	ErrUnsupported = errors.New("media: constraints not supported")

	// ErrNoDevice is returned when no device of the requested kind exists.
	ErrNoDevice = errors.New("media: no device available")
)

// Kind distinguishes audio-only streams from camera streams.
type Kind int

const (
	// KindAudio streams deliver raw 16-bit little-endian PCM.
	KindAudio Kind = iota

	// KindVideo streams deliver container bytes (see [Settings.MIMEType])
	// already muxed by the device.
	KindVideo
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	default:
		return "unknown"
	}
}

// Frame is one chunk of captured data.
type Frame struct {
	// Data holds PCM samples (audio) or container bytes (video).
	Data []byte

	// Timestamp marks when the chunk was captured, relative to stream start.
	Timestamp time.Duration
}

// Constraints describe what the caller wants from a device. Zero fields mean
// "device default".
type Constraints struct {
	// SampleRate in Hz for the audio track.
	SampleRate int

	// Channels for the audio track: 1 mono, 2 stereo.
	Channels int

	// Width and Height of the video track in pixels. Ignored for microphones.
	Width  int
	Height int

	// WithAudio asks a camera stream to also carry the microphone track.
	WithAudio bool
}

// Settings describe what the device actually delivers.
type Settings struct {
	Kind       Kind
	SampleRate int
	Channels   int
	Width      int
	Height     int

	// MIMEType is set for video streams (e.g., "video/webm").
	MIMEType string
}

// Stream is a live capture handle.
//
// Frames returned by [Stream.Frames] flow until the device stops or
// [Stream.Close] is called, at which point the channel is closed. Consumers
// must keep reading: a stalled reader stalls the device.
//
// Implementations must be safe for concurrent use.
type Stream interface {
	// Frames returns the read-only frame channel. The same channel is
	// returned on every call.
	Frames() <-chan Frame

	// Settings reports the negotiated capture settings.
	Settings() Settings

	// Active reports whether the stream is still delivering frames.
	Active() bool

	// Close releases the device. It is safe to call Close more than once.
	Close() error
}

// Devices opens capture streams. Every call returns an independent handle:
// two microphone streams opened back to back are two device handles.
type Devices interface {
	// OpenMicrophone opens an audio-only stream. Returns an error wrapping
	// [ErrPermissionDenied] or [ErrNoDevice] when access fails.
	OpenMicrophone(ctx context.Context, c Constraints) (Stream, error)

	// OpenCamera opens a video stream (optionally with audio). Returns an
	// error wrapping [ErrUnsupported] when the requested resolution cannot be
	// served, so callers can retry with a fallback.
	OpenCamera(ctx context.Context, c Constraints) (Stream, error)
}

// Player plays a remote audio reference to completion.
type Player interface {
	// Play blocks until playback of url finishes, fails, or ctx is cancelled.
	Play(ctx context.Context, url string) error
}

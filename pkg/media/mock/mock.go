// Package mock provides in-memory implementations of [media.Devices],
// [media.Stream] and [media.Player] for unit tests.
//
// All mocks are safe for concurrent use. They record calls so tests can
// assert on them, and expose exported fields that control results.
//
// Typical usage:
//
//	devs := &mock.Devices{}
//	s, _ := devs.OpenMicrophone(ctx, media.Constraints{SampleRate: 16000})
//	devs.Microphones()[0].Push(make([]byte, 640))
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/fieldvoice/pkg/media"
)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock [media.Stream]. Frames are injected with [Stream.Push].
type Stream struct {
	settings media.Settings
	frames   chan media.Frame

	mu     sync.Mutex
	closed bool

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewStream returns an open stream with the given settings.
func NewStream(settings media.Settings) *Stream {
	return &Stream{settings: settings, frames: make(chan media.Frame, 64)}
}

// Frames implements [media.Stream].
func (s *Stream) Frames() <-chan media.Frame { return s.frames }

// Settings implements [media.Stream].
func (s *Stream) Settings() media.Settings { return s.settings }

// Active implements [media.Stream].
func (s *Stream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Close implements [media.Stream]. It closes the frame channel once.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

// Push delivers data as one frame. It reports false if the stream is closed.
func (s *Stream) Push(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.frames <- media.Frame{Data: data}
	return true
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Devices ──────────────────────────────────────────────────────────────────

// Devices is a mock [media.Devices].
type Devices struct {
	mu sync.Mutex

	// MicrophoneError is returned by OpenMicrophone when non-nil.
	MicrophoneError error

	// MicrophoneErrors, when non-empty, is consumed in order: each call to
	// OpenMicrophone pops one entry (nil means success). Takes precedence
	// over MicrophoneError.
	MicrophoneErrors []error

	// CameraError is returned by OpenCamera when non-nil.
	CameraError error

	// UnsupportedAbove makes OpenCamera fail with [media.ErrUnsupported]
	// when the requested width is larger than this value (0 disables).
	UnsupportedAbove int

	// MicrophoneSettings and CameraSettings override the stream settings.
	MicrophoneSettings *media.Settings
	CameraSettings     *media.Settings

	mics    []*Stream
	cameras []*Stream

	// CameraCalls records the constraints of every OpenCamera call.
	CameraCalls []media.Constraints
}

// OpenMicrophone implements [media.Devices].
func (d *Devices) OpenMicrophone(_ context.Context, c media.Constraints) (media.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.MicrophoneErrors) > 0 {
		err := d.MicrophoneErrors[0]
		d.MicrophoneErrors = d.MicrophoneErrors[1:]
		if err != nil {
			return nil, err
		}
	} else if d.MicrophoneError != nil {
		return nil, d.MicrophoneError
	}
	settings := media.Settings{Kind: media.KindAudio, SampleRate: c.SampleRate, Channels: c.Channels}
	if d.MicrophoneSettings != nil {
		settings = *d.MicrophoneSettings
	}
	s := NewStream(settings)
	d.mics = append(d.mics, s)
	return s, nil
}

// OpenCamera implements [media.Devices].
func (d *Devices) OpenCamera(_ context.Context, c media.Constraints) (media.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CameraCalls = append(d.CameraCalls, c)
	if d.CameraError != nil {
		return nil, d.CameraError
	}
	if d.UnsupportedAbove > 0 && c.Width > d.UnsupportedAbove {
		return nil, media.ErrUnsupported
	}
	settings := media.Settings{Kind: media.KindVideo, Width: c.Width, Height: c.Height, MIMEType: "video/webm"}
	if d.CameraSettings != nil {
		settings = *d.CameraSettings
	}
	s := NewStream(settings)
	d.cameras = append(d.cameras, s)
	return s, nil
}

// Microphones returns every microphone stream opened so far.
func (d *Devices) Microphones() []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Stream, len(d.mics))
	copy(out, d.mics)
	return out
}

// Cameras returns every camera stream opened so far.
func (d *Devices) Cameras() []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Stream, len(d.cameras))
	copy(out, d.cameras)
	return out
}

// OpenCount reports how many opened streams are still active.
func (d *Devices) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range append(append([]*Stream{}, d.mics...), d.cameras...) {
		if s.Active() {
			n++
		}
	}
	return n
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player is a mock [media.Player].
type Player struct {
	mu sync.Mutex

	// PlayError is returned by Play.
	PlayError error

	// Block, when non-nil, makes Play wait until the channel is closed or
	// ctx is cancelled.
	Block chan struct{}

	// PlayCalls records every URL passed to Play.
	PlayCalls []string
}

// Play implements [media.Player].
func (p *Player) Play(ctx context.Context, url string) error {
	p.mu.Lock()
	p.PlayCalls = append(p.PlayCalls, url)
	block, err := p.Block, p.PlayError
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Calls returns a copy of the recorded URLs.
func (p *Player) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.PlayCalls))
	copy(out, p.PlayCalls)
	return out
}

package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/fieldvoice/pkg/media"
)

// micCapture owns one microphone handle and a recorder fed from it. The turn
// controller and the full-session recorder each hold their own.
type micCapture struct {
	devices media.Devices
	opts    *options
	rec     *recorder

	mu       sync.Mutex
	stream   media.Stream
	pumpDone chan struct{}
}

func newMicCapture(devices media.Devices, source Source, o *options) *micCapture {
	m := &micCapture{devices: devices, opts: o, rec: newRecorder(source, o)}
	m.rec.finalize = m.encode
	return m
}

// acquire opens the microphone unless a live handle is already held.
func (m *micCapture) acquire(ctx context.Context) (media.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream != nil && m.stream.Active() {
		return m.stream, nil
	}
	s, err := m.devices.OpenMicrophone(ctx, m.opts.constraints)
	if err != nil {
		return nil, fmt.Errorf("capture: open microphone: %w", err)
	}
	m.opts.metrics.CaptureOpened(ctx, "microphone")
	done := make(chan struct{})
	m.stream, m.pumpDone = s, done
	go m.pump(s, done)
	return s, nil
}

// pump drains the stream for its whole lifetime so the device never stalls.
func (m *micCapture) pump(s media.Stream, done chan struct{}) {
	defer close(done)
	for f := range s.Frames() {
		m.rec.write(f.Data)
	}
	m.opts.metrics.CaptureClosed(context.Background(), "microphone")

	m.mu.Lock()
	if m.stream == s {
		m.stream = nil
	}
	m.mu.Unlock()
}

func (m *micCapture) start(ctx context.Context) error {
	s, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	m.rec.start(s.Settings())
	return nil
}

// release closes the device and waits for the pump to drain.
func (m *micCapture) release() error {
	m.rec.halt()
	m.mu.Lock()
	s, done := m.stream, m.pumpDone
	m.stream, m.pumpDone = nil, nil
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	err := s.Close()
	<-done
	return err
}

func (m *micCapture) encode(raw []byte, s media.Settings) ([]byte, string) {
	f := media.Format{SampleRate: s.SampleRate, Channels: s.Channels}
	codec := SelectCodec(m.opts.prefs, f)
	data, err := codec.Encode(raw, f)
	if err == nil {
		return data, codec.ContentType(f)
	}
	m.rec.log.Warn("encode failed, falling back to wav", "codec", codec.Name(), "err", err)
	if wav := (wavCodec{}); wav.Supports(f) {
		data, _ = wav.Encode(raw, f)
		return data, wav.ContentType(f)
	}
	return raw, mimeFallback
}

// AudioCapture records one spoken answer per turn. At most one recording is
// active at a time; starting again discards whatever the previous cycle left.
//
// All methods are safe for concurrent use.
type AudioCapture struct {
	mic *micCapture
}

// NewAudioCapture returns a turn recorder on devices.
func NewAudioCapture(devices media.Devices, opts ...Option) *AudioCapture {
	return &AudioCapture{mic: newMicCapture(devices, SourceTurn, buildOptions(opts))}
}

// Acquire opens the microphone without recording. Returns an error wrapping
// [media.ErrPermissionDenied] when access is refused.
func (a *AudioCapture) Acquire(ctx context.Context) error {
	_, err := a.mic.acquire(ctx)
	return err
}

// Start acquires or reuses the microphone, resets the accumulator and begins
// recording with a 1s tick.
func (a *AudioCapture) Start(ctx context.Context) error {
	return a.mic.start(ctx)
}

// Stop finalizes the buffer and delivers it as an [EventCompleted]. Stopping
// an inactive controller returns [ErrNotRecording] and changes nothing.
func (a *AudioCapture) Stop() (*Recording, error) {
	return a.mic.rec.stop()
}

// Pause suspends recording. Reports whether the state changed.
func (a *AudioCapture) Pause() bool { return a.mic.rec.pause() }

// Resume continues a paused recording. Reports whether the state changed.
func (a *AudioCapture) Resume() bool { return a.mic.rec.resume() }

// Discard clears the buffer and the duration counter and returns to idle.
func (a *AudioCapture) Discard() { a.mic.rec.discard() }

// Reset is Discard without the notification.
func (a *AudioCapture) Reset() { a.mic.rec.reset() }

// State returns the current recording state.
func (a *AudioCapture) State() RecordingState { return a.mic.rec.state() }

// Close releases the microphone.
func (a *AudioCapture) Close() error {
	a.mic.rec.reset()
	if err := a.mic.release(); err != nil {
		a.mic.rec.log.Warn("close microphone", slog.Any("err", err))
		return err
	}
	return nil
}

package capture

import (
	"context"
	"fmt"

	"github.com/MrWong99/fieldvoice/internal/backend"
	"github.com/MrWong99/fieldvoice/pkg/media"
)

// RecordingUploader is the backend surface the full-session recorder needs.
type RecordingUploader interface {
	UploadRecording(ctx context.Context, r backend.RecordingUpload) (*backend.RecordingUploadResult, error)
}

// Archiver stores a recording locally and returns where it was written.
type Archiver interface {
	Save(ctx context.Context, rec *Recording) (string, error)
}

// FullSession records the whole interview on its own microphone handle, in
// parallel with the per-turn controller. The finished buffer is never
// uploaded automatically: it is held until the user uploads, saves or
// discards it, and a failed upload keeps it.
type FullSession struct {
	mic *micCapture
}

// NewFullSession returns a full-session recorder on devices.
func NewFullSession(devices media.Devices, opts ...Option) *FullSession {
	return &FullSession{mic: newMicCapture(devices, SourceSession, buildOptions(opts))}
}

// Start opens a dedicated microphone handle and begins recording. Callers
// treat a failure as non-fatal and continue without a backup.
func (f *FullSession) Start(ctx context.Context) error {
	return f.mic.start(ctx)
}

// Stop finalizes the recording and releases the microphone. The recording
// stays held for [FullSession.Upload], [FullSession.Save] or
// [FullSession.Discard].
func (f *FullSession) Stop() (*Recording, error) {
	rec, err := f.mic.rec.stop()
	if relErr := f.mic.release(); relErr != nil {
		f.mic.rec.log.Warn("release microphone", "err", relErr)
	}
	return rec, err
}

// Pause and Resume suspend and continue the backup recording.
func (f *FullSession) Pause() bool  { return f.mic.rec.pause() }
func (f *FullSession) Resume() bool { return f.mic.rec.resume() }

// State returns the current recording state.
func (f *FullSession) State() RecordingState { return f.mic.rec.state() }

// Recording returns the held recording, or nil.
func (f *FullSession) Recording() *Recording { return f.mic.rec.finished() }

// Upload sends the held recording. On success the buffer is cleared and an
// [EventUploaded] carries the backend id; on failure the buffer is kept and
// an [EventUploadFailed] is emitted.
func (f *FullSession) Upload(ctx context.Context, up RecordingUploader) (backend.ID, error) {
	rec := f.mic.rec.finished()
	if rec == nil {
		return "", ErrNoRecording
	}
	res, err := up.UploadRecording(ctx, backend.RecordingUpload{
		Data:            rec.Data,
		MIMEType:        rec.MIMEType,
		FileName:        rec.FileName(),
		DurationSeconds: rec.Duration,
		RecordedAt:      rec.StartedAt,
	})
	if err != nil {
		f.mic.opts.metrics.RecordUploadFailure(ctx, string(SourceSession))
		f.mic.rec.emit(Event{Kind: EventUploadFailed, Err: err})
		return "", fmt.Errorf("capture: upload session recording: %w", err)
	}
	f.mic.rec.clearResult(rec)
	f.mic.rec.emit(Event{Kind: EventUploaded, ID: res.RecordingID})
	return res.RecordingID, nil
}

// Save writes the held recording through a. The buffer is kept so the user
// can still upload it.
func (f *FullSession) Save(ctx context.Context, a Archiver) (string, error) {
	rec := f.mic.rec.finished()
	if rec == nil {
		return "", ErrNoRecording
	}
	path, err := a.Save(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("capture: save session recording: %w", err)
	}
	return path, nil
}

// Discard drops the held recording.
func (f *FullSession) Discard() { f.mic.rec.discard() }

// Close releases the microphone without finalizing.
func (f *FullSession) Close() error {
	return f.mic.release()
}

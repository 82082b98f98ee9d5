package capture_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/fieldvoice/internal/backend"
	apimock "github.com/MrWong99/fieldvoice/internal/backend/mock"
	"github.com/MrWong99/fieldvoice/internal/capture"
	mediamock "github.com/MrWong99/fieldvoice/pkg/media/mock"
)

type fakeArchive struct {
	saved []*capture.Recording
	err   error
}

func (f *fakeArchive) Save(_ context.Context, rec *capture.Recording) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.saved = append(f.saved, rec)
	return "/spool/" + rec.FileName(), nil
}

func recordSession(t *testing.T) (*capture.FullSession, *mediamock.Devices, *harness) {
	t.Helper()
	h := newHarness(t, capture.WithCodecPreferences([]string{capture.CodecWAV}))
	devs := &mediamock.Devices{}
	fs := capture.NewFullSession(devs, h.opts...)
	t.Cleanup(func() { _ = fs.Close() })

	if err := fs.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	mic := devs.Microphones()[0]
	mic.Push(pcm(1600))
	eventually(t, "buffered audio", func() bool { return fs.State().Buffered == 1600 })
	h.clock.Advance(capTick)
	h.sink.waitFor(t, capture.EventTick)
	if _, err := fs.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	return fs, devs, h
}

func TestFullSession_StopReleasesAndHolds(t *testing.T) {
	t.Parallel()
	fs, devs, _ := recordSession(t)

	if !devs.Microphones()[0].Closed() {
		t.Error("microphone not released after Stop")
	}
	rec := fs.Recording()
	if rec == nil {
		t.Fatal("no recording held after Stop")
	}
	if rec.Source != capture.SourceSession || rec.Duration != 1 {
		t.Errorf("recording = %s/%ds, want session/1s", rec.Source, rec.Duration)
	}
}

func TestFullSession_UploadSuccessClears(t *testing.T) {
	t.Parallel()
	fs, _, h := recordSession(t)
	api := &apimock.API{RecordingID: "rec-7"}

	id, err := fs.Upload(context.Background(), api)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if id != "rec-7" {
		t.Errorf("id = %q, want rec-7", id)
	}
	if ev := h.sink.waitFor(t, capture.EventUploaded); ev.ID != "rec-7" {
		t.Errorf("uploaded event id = %q", ev.ID)
	}
	if fs.Recording() != nil {
		t.Error("recording still held after successful upload")
	}
	if len(api.UploadRecordingCalls) != 1 || api.UploadRecordingCalls[0].DurationSeconds != 1 {
		t.Errorf("upload calls = %+v", api.UploadRecordingCalls)
	}
	if _, err := fs.Upload(context.Background(), api); !errors.Is(err, capture.ErrNoRecording) {
		t.Errorf("second Upload: err = %v, want ErrNoRecording", err)
	}
}

func TestFullSession_UploadFailureKeeps(t *testing.T) {
	t.Parallel()
	fs, _, h := recordSession(t)
	api := &apimock.API{UploadRecordErr: &backend.StatusError{Op: "upload-recording", StatusCode: 502}}

	if _, err := fs.Upload(context.Background(), api); err == nil {
		t.Fatal("Upload: expected error")
	}
	if ev := h.sink.waitFor(t, capture.EventUploadFailed); ev.Err == nil {
		t.Error("upload failed event without error")
	}
	if fs.Recording() == nil {
		t.Fatal("recording dropped after failed upload")
	}

	// Retry succeeds.
	api.Locked(func(a *apimock.API) { a.UploadRecordErr = nil; a.RecordingID = "rec-8" })
	if id, err := fs.Upload(context.Background(), api); err != nil || id != "rec-8" {
		t.Errorf("retry = %q, %v", id, err)
	}
}

func TestFullSession_SaveKeepsBuffer(t *testing.T) {
	t.Parallel()
	fs, _, _ := recordSession(t)
	arch := &fakeArchive{}

	path, err := fs.Save(context.Background(), arch)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if path != "/spool/session.wav" {
		t.Errorf("path = %q", path)
	}
	if fs.Recording() == nil {
		t.Error("Save dropped the recording")
	}
	fs.Discard()
	if fs.Recording() != nil {
		t.Error("Discard kept the recording")
	}
	if _, err := fs.Save(context.Background(), arch); !errors.Is(err, capture.ErrNoRecording) {
		t.Errorf("Save after discard: err = %v, want ErrNoRecording", err)
	}
}

func TestFullSession_IndependentHandle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	devs := &mediamock.Devices{}
	turn := capture.NewAudioCapture(devs, h.opts...)
	fs := capture.NewFullSession(devs, h.opts...)
	t.Cleanup(func() { _ = turn.Close(); _ = fs.Close() })

	ctx := context.Background()
	if err := turn.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := fs.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if n := len(devs.Microphones()); n != 2 {
		t.Errorf("microphone handles = %d, want 2", n)
	}
}

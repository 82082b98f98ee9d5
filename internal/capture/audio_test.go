package capture_test

import (
	"bytes"
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/MrWong99/fieldvoice/internal/capture"
	"github.com/MrWong99/fieldvoice/pkg/media"
	mediamock "github.com/MrWong99/fieldvoice/pkg/media/mock"
)

func newAudio(t *testing.T) (*capture.AudioCapture, *mediamock.Devices, *harness) {
	t.Helper()
	h := newHarness(t, capture.WithCodecPreferences([]string{capture.CodecWAV}))
	devs := &mediamock.Devices{}
	a := capture.NewAudioCapture(devs, h.opts...)
	t.Cleanup(func() { _ = a.Close() })
	return a, devs, h
}

// tickAudio advances the clock one second and, when a is recording, waits
// for the tick to be counted.
func tickAudio(t *testing.T, a *capture.AudioCapture, h *harness) {
	t.Helper()
	recording := a.State().Status == capture.StatusRecording
	h.clock.Advance(time.Second)
	if recording {
		h.sink.waitFor(t, capture.EventTick)
	}
}

// pushAudio feeds data into the microphone and waits until it is buffered.
func pushAudio(t *testing.T, a *capture.AudioCapture, mic *mediamock.Stream, data []byte) {
	t.Helper()
	want := a.State().Buffered + len(data)
	if !mic.Push(data) {
		t.Fatal("push into closed microphone")
	}
	eventually(t, "buffered audio", func() bool { return a.State().Buffered == want })
}

func TestAudioCapture_StartStop(t *testing.T) {
	t.Parallel()
	a, devs, h := newAudio(t)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.sink.waitFor(t, capture.EventStarted)
	mic := devs.Microphones()[0]
	data := pcm(3200)
	pushAudio(t, a, mic, data)
	for range 3 {
		tickAudio(t, a, h)
	}

	rec, err := a.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.Duration != 3 {
		t.Errorf("Duration = %d, want 3", rec.Duration)
	}
	if rec.MIMEType != capture.CodecWAV {
		t.Errorf("MIMEType = %q, want %q", rec.MIMEType, capture.CodecWAV)
	}
	if !bytes.Equal(rec.Data[44:], data) {
		t.Error("wav payload does not match captured pcm")
	}
	if !rec.StartedAt.Equal(epoch) {
		t.Errorf("StartedAt = %v, want %v", rec.StartedAt, epoch)
	}
	ev := h.sink.waitFor(t, capture.EventCompleted)
	if ev.Recording != rec || ev.Source != capture.SourceTurn {
		t.Errorf("completed event = %+v", ev)
	}
	if st := a.State(); st.Status != capture.StatusStopped {
		t.Errorf("Status = %q, want stopped", st.Status)
	}
	if h.clock.Live() != 0 {
		t.Errorf("live tickers after stop = %d, want 0", h.clock.Live())
	}
}

func TestAudioCapture_ReusesMicrophone(t *testing.T) {
	t.Parallel()
	a, devs, _ := newAudio(t)
	ctx := context.Background()

	if err := a.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	for range 3 {
		if err := a.Start(ctx); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if _, err := a.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}
	if n := len(devs.Microphones()); n != 1 {
		t.Errorf("microphones opened = %d, want 1", n)
	}
}

func TestAudioCapture_StopInactiveIsNoop(t *testing.T) {
	t.Parallel()
	a, _, _ := newAudio(t)

	if _, err := a.Stop(); !errors.Is(err, capture.ErrNotRecording) {
		t.Errorf("Stop on idle: err = %v, want ErrNotRecording", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := a.Stop(); !errors.Is(err, capture.ErrNotRecording) {
		t.Errorf("second Stop: err = %v, want ErrNotRecording", err)
	}
	if st := a.State(); st.Status != capture.StatusStopped {
		t.Errorf("Status = %q, want stopped", st.Status)
	}
}

func TestAudioCapture_PermissionDenied(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	devs := &mediamock.Devices{MicrophoneError: media.ErrPermissionDenied}
	a := capture.NewAudioCapture(devs, h.opts...)

	err := a.Start(context.Background())
	if !errors.Is(err, media.ErrPermissionDenied) {
		t.Fatalf("Start: err = %v, want ErrPermissionDenied", err)
	}
	if st := a.State(); st.Status != capture.StatusIdle {
		t.Errorf("Status = %q, want idle", st.Status)
	}
}

func TestAudioCapture_PauseStopsTicking(t *testing.T) {
	t.Parallel()
	a, _, h := newAudio(t)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tickAudio(t, a, h)
	if !a.Pause() {
		t.Fatal("Pause returned false while recording")
	}
	if a.Pause() {
		t.Error("second Pause returned true")
	}
	h.clock.Advance(5 * time.Second)
	if got := a.State().Elapsed; got != 1 {
		t.Errorf("Elapsed while paused = %d, want 1", got)
	}
	if !a.Resume() {
		t.Fatal("Resume returned false while paused")
	}
	tickAudio(t, a, h)
	if got := a.State().Elapsed; got != 2 {
		t.Errorf("Elapsed after resume = %d, want 2", got)
	}
}

func TestAudioCapture_DiscardResets(t *testing.T) {
	t.Parallel()
	a, devs, h := newAudio(t)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pushAudio(t, a, devs.Microphones()[0], pcm(640))
	tickAudio(t, a, h)
	tickAudio(t, a, h)

	a.Discard()
	h.sink.waitFor(t, capture.EventDiscarded)
	want := capture.RecordingState{Status: capture.StatusIdle}
	if st := a.State(); st != want {
		t.Errorf("State after discard = %+v, want %+v", st, want)
	}
	if h.clock.Live() != 0 {
		t.Errorf("live tickers after discard = %d, want 0", h.clock.Live())
	}
	h.clock.Advance(3 * time.Second)
	if st := a.State(); st != want {
		t.Errorf("State after advancing = %+v, want %+v", st, want)
	}
}

func TestAudioCapture_DiscardAfterStop(t *testing.T) {
	t.Parallel()
	a, devs, h := newAudio(t)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pushAudio(t, a, devs.Microphones()[0], pcm(640))
	tickAudio(t, a, h)
	if _, err := a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	a.Discard()
	if st := a.State(); st != (capture.RecordingState{Status: capture.StatusIdle}) {
		t.Errorf("State = %+v, want idle with zero counters", st)
	}
}

// TestAudioCapture_LastCycleWins drives random start/pause/resume/stop/tick
// sequences and checks that a final start/stop cycle yields exactly what a
// fresh controller running only that cycle yields.
func TestAudioCapture_LastCycleWins(t *testing.T) {
	t.Parallel()

	for seed := range uint64(20) {
		t.Run("", func(t *testing.T) {
			t.Parallel()
			rng := rand.New(rand.NewPCG(seed, seed*7+1))
			a, devs, h := newAudio(t)
			ctx := context.Background()

			for range 25 {
				switch rng.IntN(6) {
				case 0:
					if err := a.Start(ctx); err != nil {
						t.Fatalf("Start: %v", err)
					}
				case 1:
					a.Pause()
				case 2:
					a.Resume()
				case 3:
					_, _ = a.Stop()
				case 4:
					tickAudio(t, a, h)
				case 5:
					if a.State().Status == capture.StatusRecording {
						pushAudio(t, a, devs.Microphones()[0], pcm(2+2*rng.IntN(200)))
					}
				}
			}

			final := pcm(960)
			ticks := 1 + rng.IntN(4)
			run := func(a *capture.AudioCapture, devs *mediamock.Devices, h *harness) (*capture.Recording, capture.RecordingState) {
				if err := a.Start(ctx); err != nil {
					t.Fatalf("Start: %v", err)
				}
				pushAudio(t, a, devs.Microphones()[0], final)
				for range ticks {
					tickAudio(t, a, h)
				}
				rec, err := a.Stop()
				if err != nil {
					t.Fatalf("Stop: %v", err)
				}
				return rec, a.State()
			}

			gotRec, gotState := run(a, devs, h)
			fa, fdevs, fh := newAudio(t)
			wantRec, wantState := run(fa, fdevs, fh)

			if gotState != wantState {
				t.Errorf("state = %+v, want %+v", gotState, wantState)
			}
			if gotRec.Duration != wantRec.Duration || !bytes.Equal(gotRec.Data, wantRec.Data) {
				t.Errorf("recording = %ds/%dB, want %ds/%dB",
					gotRec.Duration, len(gotRec.Data), wantRec.Duration, len(wantRec.Data))
			}
			if h.clock.Live() != 0 {
				t.Errorf("live tickers = %d, want 0", h.clock.Live())
			}
		})
	}
}

func TestAudioCapture_CloseReleasesDevice(t *testing.T) {
	t.Parallel()
	a, devs, _ := newAudio(t)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if devs.OpenCount() != 0 {
		t.Errorf("open devices = %d, want 0", devs.OpenCount())
	}
	if st := a.State(); st.Status != capture.StatusIdle {
		t.Errorf("Status = %q, want idle", st.Status)
	}
}

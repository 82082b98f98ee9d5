package capture

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/fieldvoice/internal/observe"
	"github.com/MrWong99/fieldvoice/pkg/media"
)

var (
	// ErrNotRecording is returned by Stop when there is nothing to stop.
	// Callers treat it as a no-op.
	ErrNotRecording = errors.New("capture: not recording")

	// ErrNoRecording is returned by upload and save operations when no
	// finished recording is held.
	ErrNoRecording = errors.New("capture: no finished recording")

	// ErrNoStream is returned when recording is requested before a device
	// stream was acquired.
	ErrNoStream = errors.New("capture: no device stream")
)

// Status is the lifecycle of one recorder.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRecording Status = "recording"
	StatusPaused    Status = "paused"
	StatusStopped   Status = "stopped"
)

// RecordingState is the observable state of a recorder.
type RecordingState struct {
	Status Status `json:"status"`

	// Elapsed is the recorded duration in whole seconds.
	Elapsed int `json:"elapsed"`

	// Buffered is the number of bytes held: captured so far while recording,
	// or the encoded size once stopped.
	Buffered int `json:"buffered"`
}

// recorder is the state shared by all capture controllers: the status, the
// tick counter and the byte accumulator. Controllers own device handling.
type recorder struct {
	source  Source
	clock   Clock
	notify  Notify
	log     *slog.Logger
	metrics *observe.Metrics

	// finalize turns the raw accumulated bytes into the stored payload.
	finalize func(raw []byte, s media.Settings) (data []byte, mimeType string)

	// onTick runs after every counted tick, outside the lock.
	onTick func(elapsed int)

	// label annotates a finished recording before it is stored.
	label func(rec *Recording)

	// onStop runs once the recording is stored and before EventCompleted
	// is emitted, outside the lock.
	onStop func()

	mu        sync.Mutex
	status    Status
	elapsed   int
	buf       bytes.Buffer
	settings  media.Settings
	startedAt time.Time
	result    *Recording
	// gen changes whenever a recording is superseded, tickGen whenever a
	// ticker is replaced. Stale ticks and stale finalizations compare
	// against them.
	gen      uint64
	tickGen  uint64
	ticker   Ticker
	stopTick chan struct{}
}

func newRecorder(source Source, o *options) *recorder {
	return &recorder{
		source:  source,
		clock:   o.clock,
		notify:  o.notify,
		log:     o.log.With(slog.String("source", string(source))),
		metrics: o.metrics,
		status:  StatusIdle,
	}
}

func (r *recorder) emit(ev Event) {
	ev.Source = r.source
	if r.notify != nil {
		r.notify(ev)
	}
}

// write appends captured data while recording. Data arriving while paused,
// stopped or idle is dropped.
func (r *recorder) write(b []byte) {
	r.mu.Lock()
	if r.status == StatusRecording {
		r.buf.Write(b)
	}
	r.mu.Unlock()
}

// start resets everything from the previous cycle and begins recording.
func (r *recorder) start(s media.Settings) {
	r.mu.Lock()
	r.stopTickerLocked()
	r.buf.Reset()
	r.elapsed = 0
	r.result = nil
	r.settings = s
	r.startedAt = r.clock.Now()
	r.status = StatusRecording
	r.gen++
	r.startTickerLocked()
	r.mu.Unlock()

	r.log.Debug("recording started")
	r.emit(Event{Kind: EventStarted})
}

func (r *recorder) pause() bool {
	r.mu.Lock()
	if r.status != StatusRecording {
		r.mu.Unlock()
		return false
	}
	r.stopTickerLocked()
	r.status = StatusPaused
	elapsed := r.elapsed
	r.mu.Unlock()

	r.emit(Event{Kind: EventPaused, Elapsed: elapsed})
	return true
}

func (r *recorder) resume() bool {
	r.mu.Lock()
	if r.status != StatusPaused {
		r.mu.Unlock()
		return false
	}
	r.status = StatusRecording
	r.startTickerLocked()
	elapsed := r.elapsed
	r.mu.Unlock()

	r.emit(Event{Kind: EventResumed, Elapsed: elapsed})
	return true
}

// stop finalizes the current recording. Returns [ErrNotRecording] when the
// recorder is idle or already stopped.
func (r *recorder) stop() (*Recording, error) {
	r.mu.Lock()
	if r.status != StatusRecording && r.status != StatusPaused {
		r.mu.Unlock()
		return nil, ErrNotRecording
	}
	r.stopTickerLocked()
	r.status = StatusStopped
	raw := bytes.Clone(r.buf.Bytes())
	r.buf.Reset()
	gen, settings, elapsed, startedAt := r.gen, r.settings, r.elapsed, r.startedAt
	r.mu.Unlock()

	data, mimeType := raw, settings.MIMEType
	if r.finalize != nil {
		data, mimeType = r.finalize(raw, settings)
	}
	rec := &Recording{
		Source:    r.source,
		Data:      data,
		MIMEType:  mimeType,
		Duration:  elapsed,
		StartedAt: startedAt,
	}
	if r.label != nil {
		r.label(rec)
	}

	r.mu.Lock()
	if r.gen == gen && r.status == StatusStopped {
		r.result = rec
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordRecording(context.Background(), string(r.source), float64(elapsed))
	}
	r.log.Debug("recording stopped", "elapsed", elapsed, "bytes", len(data), "mime", mimeType)
	if r.onStop != nil {
		r.onStop()
	}
	r.emit(Event{Kind: EventCompleted, Elapsed: elapsed, Recording: rec})
	return rec, nil
}

// reset drops the buffer, the finished recording and the duration counter
// and returns to idle.
func (r *recorder) reset() {
	r.mu.Lock()
	r.stopTickerLocked()
	r.buf.Reset()
	r.elapsed = 0
	r.result = nil
	r.status = StatusIdle
	r.gen++
	r.mu.Unlock()
}

func (r *recorder) discard() {
	r.reset()
	r.emit(Event{Kind: EventDiscarded})
}

// halt stops ticking without touching the buffer. Used when the device is
// released.
func (r *recorder) halt() {
	r.mu.Lock()
	r.stopTickerLocked()
	r.mu.Unlock()
}

func (r *recorder) state() RecordingState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := RecordingState{Status: r.status, Elapsed: r.elapsed, Buffered: r.buf.Len()}
	if r.result != nil {
		st.Buffered = len(r.result.Data)
	}
	return st
}

func (r *recorder) finished() *Recording {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// clearResult drops rec if it is still the held recording.
func (r *recorder) clearResult(rec *Recording) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.result != rec {
		return false
	}
	r.result = nil
	r.elapsed = 0
	r.status = StatusIdle
	return true
}

func (r *recorder) startTickerLocked() {
	r.tickGen++
	t := r.clock.NewTicker(time.Second)
	stop := make(chan struct{})
	r.ticker, r.stopTick = t, stop
	go r.tickLoop(t, stop, r.tickGen)
}

func (r *recorder) stopTickerLocked() {
	if r.ticker == nil {
		return
	}
	r.ticker.Stop()
	close(r.stopTick)
	r.ticker, r.stopTick = nil, nil
	r.tickGen++
}

func (r *recorder) tickLoop(t Ticker, stop <-chan struct{}, gen uint64) {
	for {
		select {
		case <-stop:
			return
		case <-t.C():
			r.tick(gen)
		}
	}
}

func (r *recorder) tick(gen uint64) {
	r.mu.Lock()
	if gen != r.tickGen || r.status != StatusRecording {
		r.mu.Unlock()
		return
	}
	r.elapsed++
	elapsed := r.elapsed
	r.mu.Unlock()

	r.emit(Event{Kind: EventTick, Elapsed: elapsed})
	if r.onTick != nil {
		r.onTick(elapsed)
	}
}

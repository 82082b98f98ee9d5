package capture_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/MrWong99/fieldvoice/internal/capture"
	capmock "github.com/MrWong99/fieldvoice/internal/capture/mock"
	"github.com/MrWong99/fieldvoice/internal/observe"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var epoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

const capTick = time.Second

// sink collects controller events.
type sink struct{ ch chan capture.Event }

func newSink() *sink { return &sink{ch: make(chan capture.Event, 1024)} }

func (s *sink) notify(ev capture.Event) { s.ch <- ev }

// waitFor drains events until one of kind arrives.
func (s *sink) waitFor(t *testing.T, kind capture.EventKind) capture.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.ch:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %v event", kind)
		}
	}
}

// none asserts that no event of kind is queued.
func (s *sink) none(t *testing.T, kind capture.EventKind) {
	t.Helper()
	for {
		select {
		case ev := <-s.ch:
			if ev.Kind == kind {
				t.Fatalf("unexpected %v event: %+v", kind, ev)
			}
		default:
			return
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

type harness struct {
	clock *capmock.Clock
	sink  *sink
	opts  []capture.Option
}

func newHarness(t *testing.T, extra ...capture.Option) *harness {
	t.Helper()
	met, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	h := &harness{clock: capmock.NewClock(epoch), sink: newSink()}
	h.opts = append([]capture.Option{
		capture.WithClock(h.clock),
		capture.WithNotify(h.sink.notify),
		capture.WithMetrics(met),
		capture.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, extra...)
	return h
}

// pcm returns n bytes of a recognisable 16-bit pattern.
func pcm(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

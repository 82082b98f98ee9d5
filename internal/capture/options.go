package capture

import (
	"log/slog"

	"github.com/MrWong99/fieldvoice/internal/observe"
	"github.com/MrWong99/fieldvoice/pkg/media"
)

// Option configures a capture controller.
type Option func(*options)

type options struct {
	clock       Clock
	notify      Notify
	log         *slog.Logger
	metrics     *observe.Metrics
	prefs       []string
	constraints media.Constraints
}

func defaultOptions() *options {
	return &options{
		clock:       SystemClock{},
		log:         slog.Default(),
		prefs:       DefaultCodecPreferences,
		constraints: media.Constraints{SampleRate: 16000, Channels: 1},
	}
}

func buildOptions(opts []Option) *options {
	o := defaultOptions()
	for _, fn := range opts {
		fn(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// WithClock sets the clock driving the 1s duration tick. Default: [SystemClock].
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithNotify sets the event sink.
func WithNotify(n Notify) Option {
	return func(o *options) { o.notify = n }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithCodecPreferences sets the ordered codec probe list for audio
// controllers. Default: [DefaultCodecPreferences].
func WithCodecPreferences(prefs []string) Option {
	return func(o *options) { o.prefs = prefs }
}

// WithConstraints sets the microphone constraints. Default: 16 kHz mono.
func WithConstraints(c media.Constraints) Option {
	return func(o *options) { o.constraints = c }
}

package capture

import "time"

// Clock abstracts wall time and tickers so recording durations can be driven
// deterministically in tests. The mock subpackage provides a manual clock.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker is the subset of [time.Ticker] the recorders use.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// SystemClock is the real [Clock].
type SystemClock struct{}

// Now returns time.Now.
func (SystemClock) Now() time.Time { return time.Now() }

// NewTicker wraps [time.NewTicker].
func (SystemClock) NewTicker(d time.Duration) Ticker {
	return systemTicker{time.NewTicker(d)}
}

type systemTicker struct{ t *time.Ticker }

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }

package server

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultDiagnosticsInterval is how often the registry logs its connections.
const DefaultDiagnosticsInterval = 5 * time.Second

// DiagnosticsSink receives periodic diagnostics requests.
type DiagnosticsSink interface {
	Diagnostics()
}

// DiagnosticsTicker asks a sink for a diagnostics snapshot on a fixed interval.
type DiagnosticsTicker struct {
	sink     DiagnosticsSink
	clock    clockwork.Clock
	interval time.Duration
}

// NewDiagnosticsTicker creates a ticker. A nil clock uses the real clock and a
// non-positive interval falls back to DefaultDiagnosticsInterval.
func NewDiagnosticsTicker(sink DiagnosticsSink, clock clockwork.Clock, interval time.Duration) *DiagnosticsTicker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultDiagnosticsInterval
	}
	return &DiagnosticsTicker{sink: sink, clock: clock, interval: interval}
}

// Run emits a diagnostics request every interval. It blocks until ctx is cancelled.
func (t *DiagnosticsTicker) Run(ctx context.Context) {
	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			t.sink.Diagnostics()
		}
	}
}

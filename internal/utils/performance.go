// Package utils holds small cross-cutting helpers with no natural home
// in a single component.
package utils

import (
	"time"

	"github.com/rs/zerolog"
)

// Timer measures one operation's wall-clock duration and logs it on
// Stop, warning if the operation ran long — used by the scheduler to
// report job durations without every Job implementation timing itself.
type Timer struct {
	start   time.Time
	name    string
	log     zerolog.Logger
	enabled bool
}

func NewTimer(name string, log zerolog.Logger) *Timer {
	return &Timer{start: time.Now(), name: name, log: log, enabled: true}
}

// Stop logs the elapsed duration at debug level, escalating to warn
// past 30s and info past 10s, and returns the duration.
func (t *Timer) Stop() time.Duration {
	if !t.enabled {
		return 0
	}
	duration := time.Since(t.start)

	t.log.Debug().
		Str("operation", t.name).
		Dur("duration_ms", duration).
		Msg("performance measurement")

	switch {
	case duration > 30*time.Second:
		t.log.Warn().Str("operation", t.name).Dur("duration", duration).Msg("slow operation detected")
	case duration > 10*time.Second:
		t.log.Info().Str("operation", t.name).Dur("duration", duration).Msg("operation took longer than expected")
	}
	return duration
}

// Disable turns Stop into a no-op; useful when a caller wants to
// construct a Timer unconditionally but skip the logging in some path.
func (t *Timer) Disable() {
	t.enabled = false
}

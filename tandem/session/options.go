package session

import (
	"time"

	"github.com/rflandau/tandem/tandem/objects"
	"github.com/rflandau/tandem/tandem/protocol"
	"github.com/rs/zerolog"
)

// File options.go provides options that can be passed to the session constructor to configure it.

// DefaultTickRate is the number of times per second Run ticks the session.
const DefaultTickRate float64 = 60

// Timers are the intervals a session runs on.
type Timers struct {
	Heartbeat      time.Duration
	Resend         time.Duration
	MaxResend      time.Duration
	StaleTimeout   time.Duration
	OldestDebounce time.Duration
}

// Option function to set various options on the session.
// Uses defaults if an option is not set.
type Option func(*Session)

// WithLogger replaces the session's default logger with the given logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithKeys sets the session isolation keys stamped on outbound envelopes.
// They must match the keys the transport gates inbound datagrams with.
func WithKeys(appKey, privateKey string) Option {
	return func(s *Session) { s.appKey, s.privateKey = appKey, privateKey }
}

// WithCodec overwrites the default JSON codec. It must match the codec the transport peeks with.
func WithCodec(c protocol.Codec) Option {
	return func(s *Session) { s.codec = c }
}

// WithRegistry sets the registry remote and local spawns resolve templates through.
func WithRegistry(r objects.Registry) Option {
	return func(s *Session) { s.registry = r }
}

// WithClock replaces time.Now. Tests use it with a manual clock and drive Tick directly.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.clock = now }
}

// WithTimers overwrites the default timers. Zero fields keep their defaults.
func WithTimers(t Timers) Option {
	return func(s *Session) {
		if t.Heartbeat > 0 {
			s.timers.Heartbeat = t.Heartbeat
		}
		if t.Resend > 0 {
			s.timers.Resend = t.Resend
		}
		if t.MaxResend > 0 {
			s.timers.MaxResend = t.MaxResend
		}
		if t.StaleTimeout > 0 {
			s.timers.StaleTimeout = t.StaleTimeout
		}
		if t.OldestDebounce > 0 {
			s.timers.OldestDebounce = t.OldestDebounce
		}
	}
}

// WithTickRate overwrites DefaultTickRate.
func WithTickRate(hz float64) Option {
	return func(s *Session) {
		if hz > 0 {
			s.tickRate = hz
		}
	}
}

// WithSyncRate overwrites objects.DefaultSyncRate.
func WithSyncRate(hz float64) Option {
	return func(s *Session) { s.syncRate = hz }
}

// WithSmoothing overwrites objects.DefaultSmoothing.
func WithSmoothing(d time.Duration) Option {
	return func(s *Session) { s.smoothing = d }
}

// WithAge overrides the session's creation age (unix nanoseconds), which decides the oldest-peer election.
func WithAge(age int64) Option {
	return func(s *Session) { s.age = age }
}

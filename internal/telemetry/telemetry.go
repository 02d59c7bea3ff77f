// Package telemetry wires the logger and metrics registry shared by every
// component of the session coordinator. Every constructor in the tree takes
// a *Telemetry (or embeds one via options) instead of reaching for a
// process-wide global, per the no-singletons rule.
package telemetry

import (
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Telemetry bundles a scoped logger and a metrics registry. A fresh instance
// is constructed per isolated stack so tests can run many stacks side by
// side without cross-talk.
type Telemetry struct {
	Log      zerolog.Logger
	Registry *prometheus.Registry
}

// Option configures a Telemetry at construction time.
type Option func(*settings)

type settings struct {
	writer    io.Writer
	level     zerolog.Level
	component string
	registry  *prometheus.Registry
}

// WithWriter overrides the destination for log output (default: os.Stderr).
func WithWriter(w io.Writer) Option {
	return func(s *settings) { s.writer = w }
}

// WithLevel sets the minimum logged level (default: info).
func WithLevel(level zerolog.Level) Option {
	return func(s *settings) { s.level = level }
}

// WithComponent stamps every log line with a "component" field.
func WithComponent(name string) Option {
	return func(s *settings) { s.component = name }
}

// WithRegistry supplies an existing prometheus registry instead of creating
// a fresh one; useful when embedding the stack in an application that
// already exposes /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *settings) { s.registry = reg }
}

// New builds a Telemetry instance. Called once per Coordinator/RTP session
// pool at construction time — never from a global init().
func New(opts ...Option) *Telemetry {
	s := &settings{
		writer: os.Stderr,
		level:  zerolog.InfoLevel,
	}
	for _, opt := range opts {
		opt(s)
	}

	logger := zerolog.New(s.writer).With().Timestamp().Logger().Level(s.level)
	if s.component != "" {
		logger = logger.With().Str("component", s.component).Logger()
	}

	reg := s.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Telemetry{Log: logger, Registry: reg}
}

// Sub derives a child Telemetry that shares the registry but tags log lines
// with an additional component name, e.g. t.Sub("rtp") for an RTP session
// owned by a coordinator-scoped Telemetry.
func (t *Telemetry) Sub(component string) *Telemetry {
	return &Telemetry{
		Log:      t.Log.With().Str("component", component).Logger(),
		Registry: t.Registry,
	}
}

// Noop returns a Telemetry that discards logs and uses a private registry;
// convenient for unit tests that don't care about observability.
func Noop() *Telemetry {
	return New(WithWriter(io.Discard), WithLevel(zerolog.Disabled))
}

// Package config holds the application-level configuration structs for
// wiring a Coordinator: port ranges, codec preference order, SRTP policy,
// and telemetry options. Structured as plain config structs with
// functional-option constructors, the same shape as the teacher repo's
// pkg/media_sdp/config.go BuilderConfig/HandlerConfig.
package config

import (
	"net"
	"time"

	"github.com/arzzra/voxcore/pkg/codec"
)

// SRTPPolicy selects whether SRTP is required, optional, or disabled for
// negotiated media.
type SRTPPolicy int

const (
	SRTPDisabled SRTPPolicy = iota
	SRTPOptional
	SRTPRequired
)

// CodecPreference is one entry in the application's codec preference list.
type CodecPreference struct {
	ID          codec.CodecID
	PayloadType uint8
	ClockRate   uint32
}

// Config is the top-level application configuration a Coordinator is
// constructed from.
type Config struct {
	UserAgent string

	LocalSIPAddr string
	RTPAddress   net.IP // advertised in SDP c= lines; defaults to 0.0.0.0
	RTPPortMin   int
	RTPPortMax   int

	CodecPreferences []CodecPreference
	SRTP             SRTPPolicy

	MaxConferenceParticipants int

	JitterMin time.Duration
	JitterMax time.Duration

	ReINVITETimeout time.Duration
	ByeTimeout      time.Duration

	MusicOnHoldPath string

	LogLevel string // "debug", "info", "warn", "error"
}

// Option mutates a Config during construction.
type Option func(*Config)

// WithUserAgent sets the User-Agent header value advertised in SIP requests.
func WithUserAgent(ua string) Option {
	return func(c *Config) { c.UserAgent = ua }
}

// WithRTPPortRange sets the inclusive port range the coordinator allocates
// RTP sessions from.
func WithRTPPortRange(min, max int) Option {
	return func(c *Config) { c.RTPPortMin, c.RTPPortMax = min, max }
}

// WithRTPAddress sets the IP advertised in outgoing SDP c= lines.
func WithRTPAddress(addr net.IP) Option {
	return func(c *Config) { c.RTPAddress = addr }
}

// WithCodecPreferences sets the codec preference order offers are built
// with (spec §4.5).
func WithCodecPreferences(prefs ...CodecPreference) Option {
	return func(c *Config) { c.CodecPreferences = prefs }
}

// WithSRTPPolicy sets whether SRTP is required, optional, or disabled.
func WithSRTPPolicy(p SRTPPolicy) Option {
	return func(c *Config) { c.SRTP = p }
}

// WithMaxConferenceParticipants caps conference admission (spec §4.4).
func WithMaxConferenceParticipants(n int) Option {
	return func(c *Config) { c.MaxConferenceParticipants = n }
}

// WithJitterBounds sets the adaptive jitter buffer's min/max delay.
func WithJitterBounds(min, max time.Duration) Option {
	return func(c *Config) { c.JitterMin, c.JitterMax = min, max }
}

// WithMusicOnHold sets the path to a 16-bit PCM WAV file streamed during
// hold (spec §6).
func WithMusicOnHold(path string) Option {
	return func(c *Config) { c.MusicOnHoldPath = path }
}

// WithLogLevel sets the zerolog level name.
func WithLogLevel(level string) Option {
	return func(c *Config) { c.LogLevel = level }
}

// New builds a Config with sane defaults, then applies opts in order.
func New(opts ...Option) Config {
	c := Config{
		UserAgent:                 "voxcore",
		RTPAddress:                net.IPv4zero,
		RTPPortMin:                20000,
		RTPPortMax:                40000,
		SRTP:                      SRTPOptional,
		MaxConferenceParticipants: 8,
		JitterMin:                 20 * time.Millisecond,
		JitterMax:                 200 * time.Millisecond,
		ReINVITETimeout:           32 * time.Second,
		ByeTimeout:                32 * time.Second,
		LogLevel:                  "info",
	}
	for _, opt := range opts {
		opt(&c)
	}
	if len(c.CodecPreferences) == 0 {
		c.CodecPreferences = []CodecPreference{
			{ID: codec.G711Mu, PayloadType: 0, ClockRate: 8000},
			{ID: codec.G711A, PayloadType: 8, ClockRate: 8000},
			{ID: codec.G722, PayloadType: 9, ClockRate: 8000},
		}
	}
	return c
}

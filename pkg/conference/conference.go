// Package conference implements the N-way audio mixer (spec §4.4):
// per-tick VAD, summing, AGC, and everyone-but-me fan-out over 16-bit PCM
// mono frames, following the same flat-struct/mutex-guarded style as the
// teacher repo's pkg/media session bookkeeping.
package conference

import (
	"math"
	"sync"
	"time"

	"github.com/arzzra/voxcore/internal/telemetry"
	"github.com/arzzra/voxcore/pkg/verrors"
)

// EventKind enumerates the events spec §4.4 requires the mixer to emit.
type EventKind int

const (
	EventParticipantAdded EventKind = iota
	EventParticipantRemoved
	EventVoiceActivityChanged
	EventQualityChanged
	EventPerformanceWarning
	EventParticipantStalled
)

// Event is one conference-level notification.
type Event struct {
	Kind          EventKind
	ParticipantID string
	Talking       bool
	SNR           float64
}

// Config parametrizes a Conference. Default 8kHz/20ms per spec §4.4.
type Config struct {
	SampleRate    uint32 // default 8000
	FrameMillis   int    // default 20
	MaxParticipants int  // 0 = unlimited
	VADThresholdRMS float64 // default 400 (int16 RMS units)
	AGCAttack     float64   // default 0.3 (fraction of gap closed per tick)
	AGCRelease    float64   // default 0.05
	Telemetry     *telemetry.Telemetry
	OnEvent       func(Event)
}

func (c *Config) applyDefaults() {
	if c.SampleRate == 0 {
		c.SampleRate = 8000
	}
	if c.FrameMillis == 0 {
		c.FrameMillis = 20
	}
	if c.VADThresholdRMS == 0 {
		c.VADThresholdRMS = 400
	}
	if c.AGCAttack == 0 {
		c.AGCAttack = 0.3
	}
	if c.AGCRelease == 0 {
		c.AGCRelease = 0.05
	}
}

// participant tracks per-participant mixer state.
type participant struct {
	id             string
	lastFrame      []int16
	haveFrame      bool
	consecutiveVoiced int
	talking        bool
	missedTicks    int
	stalled        bool
}

// Conference mixes N participants' latest frame each tick, emitting
// everyone-but-me output per participant (spec §4.4 step 5).
type Conference struct {
	mu           sync.Mutex
	cfg          Config
	log          telemetry.Telemetry
	samplesPerFrame int

	participants map[string]*participant
	order        []string

	agcGain float64
}

// New constructs an idle conference with the given configuration.
func New(cfg Config) *Conference {
	cfg.applyDefaults()
	tel := cfg.Telemetry
	if tel == nil {
		tel = telemetry.Noop()
	}
	return &Conference{
		cfg:             cfg,
		log:             *tel.Sub("conference"),
		samplesPerFrame: int(cfg.SampleRate) * cfg.FrameMillis / 1000,
		participants:    make(map[string]*participant),
		agcGain:         1.0,
	}
}

// AddParticipant admits a new participant; fails with
// ResourceLimitExceeded once MaxParticipants is reached (spec §4.4/§7).
func (c *Conference) AddParticipant(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.participants[id]; exists {
		return verrors.Newf(verrors.InvalidState, "conference: participant %q already added", id)
	}
	if c.cfg.MaxParticipants > 0 && len(c.participants) >= c.cfg.MaxParticipants {
		return verrors.New(verrors.ResourceLimitExceeded, "conference: max_participants reached")
	}
	c.participants[id] = &participant{id: id}
	c.order = append(c.order, id)
	c.emit(Event{Kind: EventParticipantAdded, ParticipantID: id})
	return nil
}

// RemoveParticipant evicts a participant from the mix.
func (c *Conference) RemoveParticipant(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.participants[id]; !ok {
		return
	}
	delete(c.participants, id)
	for i, p := range c.order {
		if p == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.emit(Event{Kind: EventParticipantRemoved, ParticipantID: id})
}

// SubmitFrame records participant id's most recently captured frame for the
// next tick; a missing submission before Tick is treated as silence (spec
// §4.4 failure semantics).
func (c *Conference) SubmitFrame(id string, samples []int16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.participants[id]
	if !ok {
		return
	}
	p.lastFrame = samples
	p.haveFrame = true
}

// TickResult is the everyone-but-me output for one participant.
type TickResult struct {
	ParticipantID string
	Samples       []int16
}

// Tick performs one mix cycle (spec §4.4 steps 1-6): sample all
// participants atomically, compute VAD, sum talking participants, apply
// AGC, emit everyone-but-me per participant, saturate to i16.
func (c *Conference) Tick() []TickResult {
	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	type sample struct {
		id      string
		samples []int16
		talking bool
	}
	samples := make([]sample, 0, len(c.order))

	for _, id := range c.order {
		p := c.participants[id]
		var frame []int16
		if p.haveFrame {
			frame = p.lastFrame
			p.missedTicks = 0
			p.stalled = false
		} else {
			frame = make([]int16, c.samplesPerFrame)
			p.missedTicks++
			if p.missedTicks >= 3 && !p.stalled {
				p.stalled = true
				c.emit(Event{Kind: EventParticipantStalled, ParticipantID: id})
			}
		}
		p.haveFrame = false

		rms := computeRMS(frame)
		wasTalking := p.talking
		if rms > c.cfg.VADThresholdRMS {
			p.consecutiveVoiced++
		} else {
			p.consecutiveVoiced = 0
		}
		p.talking = p.consecutiveVoiced >= 2
		if p.talking != wasTalking {
			c.emit(Event{Kind: EventVoiceActivityChanged, ParticipantID: id, Talking: p.talking})
		}

		samples = append(samples, sample{id: id, samples: frame, talking: p.talking})
	}

	n := c.samplesPerFrame
	mixAll := make([]int32, n)
	for _, s := range samples {
		if !s.talking {
			continue
		}
		for i := 0; i < n && i < len(s.samples); i++ {
			mixAll[i] += int32(s.samples[i])
		}
	}

	gain := c.applyAGC(mixAll)

	results := make([]TickResult, 0, len(samples))
	for _, s := range samples {
		out := make([]int16, n)
		for i := 0; i < n; i++ {
			v := mixAll[i]
			if s.talking && i < len(s.samples) {
				v -= int32(s.samples[i])
			}
			out[i] = saturateInt16(int32(float64(v) * gain))
		}
		results = append(results, TickResult{ParticipantID: s.id, Samples: out})
	}

	elapsed := time.Since(start)
	if elapsed > time.Duration(c.cfg.FrameMillis)*time.Millisecond/2 {
		c.emit(Event{Kind: EventPerformanceWarning})
	}

	return results
}

// applyAGC tracks peak level with attack/release smoothing against the raw,
// pre-subtraction mix and returns the gain to apply. The gain is applied by
// the caller after the everyone-but-me subtraction (spec §4.4 step 4/5), not
// to the shared mixAll sum directly — applying it beforehand would scale the
// mix but not the raw per-participant sample being subtracted from it,
// leaving a residual trace of a talker's own voice in their own output
// whenever gain != 1.
func (c *Conference) applyAGC(mixAll []int32) float64 {
	var peak float64
	for _, v := range mixAll {
		av := v
		if av < 0 {
			av = -av
		}
		if float64(av) > peak {
			peak = float64(av)
		}
	}
	if peak == 0 {
		return c.agcGain
	}
	const targetPeak = 24000.0
	desiredGain := targetPeak / peak
	if desiredGain < c.agcGain {
		c.agcGain += (desiredGain - c.agcGain) * c.cfg.AGCAttack
	} else {
		c.agcGain += (desiredGain - c.agcGain) * c.cfg.AGCRelease
	}
	if c.agcGain > 1.0 {
		c.agcGain = 1.0 // never amplify above unity, only attenuate peaks
	}
	return c.agcGain
}

func computeRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		sumSq += float64(s) * float64(s)
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}

func saturateInt16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

func (c *Conference) emit(e Event) {
	if c.cfg.OnEvent != nil {
		c.cfg.OnEvent(e)
	}
}

// ParticipantCount reports the current number of admitted participants.
func (c *Conference) ParticipantCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.participants)
}

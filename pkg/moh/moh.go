// Package moh loads and loops a 16-bit PCM WAV music-on-hold file (spec
// §6). No WAV-decoding dependency appears anywhere in the example pack, so
// this is a justified stdlib-only leaf: a minimal RIFF/WAVE reader built on
// encoding/binary, enough to extract the PCM data chunk and sample rate.
package moh

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/arzzra/voxcore/pkg/verrors"
)

// Player loops decoded PCM samples at a configured rate, resampling
// non-8kHz source material on load per spec §6.
type Player struct {
	samples    []int16
	sampleRate uint32
	cursor     int
}

// Load parses a 16-bit PCM mono/stereo WAV file and resamples it to
// targetRate if needed (linear interpolation — see SPEC_FULL.md §4.3 for why
// this doesn't import a resampler module).
func Load(r io.Reader, targetRate uint32) (*Player, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, verrors.Wrap(verrors.InvalidFormat, "moh: read", err)
	}
	samples, sourceRate, channels, err := parseWAV(data)
	if err != nil {
		return nil, err
	}
	if channels == 2 {
		samples = downmixStereo(samples)
	}
	if targetRate != 0 && sourceRate != targetRate {
		samples = resampleLinear(samples, sourceRate, targetRate)
		sourceRate = targetRate
	}
	return &Player{samples: samples, sampleRate: sourceRate}, nil
}

func parseWAV(data []byte) (samples []int16, sampleRate uint32, channels uint16, err error) {
	if len(data) < 44 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return nil, 0, 0, verrors.New(verrors.InvalidFormat, "moh: not a RIFF/WAVE file")
	}
	pos := 12
	var dataChunk []byte
	for pos+8 <= len(data) {
		id := data[pos : pos+4]
		size := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		body := data[pos+8:]
		if int(size) > len(body) {
			break
		}
		switch {
		case bytes.Equal(id, []byte("fmt ")):
			if size < 16 {
				return nil, 0, 0, verrors.New(verrors.InvalidFormat, "moh: short fmt chunk")
			}
			channels = binary.LittleEndian.Uint16(body[2:4])
			sampleRate = binary.LittleEndian.Uint32(body[4:8])
			bitsPerSample := binary.LittleEndian.Uint16(body[14:16])
			if bitsPerSample != 16 {
				return nil, 0, 0, verrors.Newf(verrors.InvalidFormat, "moh: only 16-bit PCM supported, got %d-bit", bitsPerSample)
			}
		case bytes.Equal(id, []byte("data")):
			dataChunk = body[:size]
		}
		pos += 8 + int(size) + int(size)%2
	}
	if dataChunk == nil || sampleRate == 0 {
		return nil, 0, 0, verrors.New(verrors.InvalidFormat, "moh: missing fmt/data chunk")
	}
	samples = make([]int16, len(dataChunk)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(dataChunk[i*2 : i*2+2]))
	}
	return samples, sampleRate, channels, nil
}

func downmixStereo(samples []int16) []int16 {
	mono := make([]int16, len(samples)/2)
	for i := range mono {
		mono[i] = int16((int32(samples[2*i]) + int32(samples[2*i+1])) / 2)
	}
	return mono
}

func resampleLinear(samples []int16, from, to uint32) []int16 {
	if from == 0 || to == 0 || from == to {
		return samples
	}
	ratio := float64(to) / float64(from)
	outLen := int(float64(len(samples)) * ratio)
	out := make([]int16, outLen)
	for i := range out {
		srcPos := float64(i) / ratio
		idx := int(srcPos)
		if idx+1 >= len(samples) {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := srcPos - float64(idx)
		out[i] = int16(float64(samples[idx])*(1-frac) + float64(samples[idx+1])*frac)
	}
	return out
}

// Next returns the next n samples, looping back to the start when the
// source is exhausted, per spec §6 "loops when exhausted".
func (p *Player) Next(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		if len(p.samples) == 0 {
			continue
		}
		out[i] = p.samples[p.cursor]
		p.cursor = (p.cursor + 1) % len(p.samples)
	}
	return out
}

// Reset rewinds playback to the start of the file.
func (p *Player) Reset() { p.cursor = 0 }

// SampleRate reports the player's output sample rate.
func (p *Player) SampleRate() uint32 { return p.sampleRate }

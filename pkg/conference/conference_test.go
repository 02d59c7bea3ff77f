package conference

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func loudFrame(n int, amplitude int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = amplitude
		} else {
			out[i] = -amplitude
		}
	}
	return out
}

func TestAddParticipantEmitsEvent(t *testing.T) {
	var events []Event
	c := New(Config{OnEvent: func(e Event) { events = append(events, e) }})
	require.NoError(t, c.AddParticipant("a"))
	require.Equal(t, EventParticipantAdded, events[0].Kind)
	require.Equal(t, 1, c.ParticipantCount())
}

func TestAddParticipantRejectsOverCapacity(t *testing.T) {
	c := New(Config{MaxParticipants: 1})
	require.NoError(t, c.AddParticipant("a"))
	err := c.AddParticipant("b")
	require.Error(t, err)
}

func TestTickProducesEveryoneButMeOutput(t *testing.T) {
	c := New(Config{})
	require.NoError(t, c.AddParticipant("a"))
	require.NoError(t, c.AddParticipant("b"))

	n := c.samplesPerFrame
	// Drive VAD past the 2-consecutive-frame threshold before asserting mix.
	for i := 0; i < 2; i++ {
		c.SubmitFrame("a", loudFrame(n, 5000))
		c.SubmitFrame("b", make([]int16, n))
		c.Tick()
	}

	c.SubmitFrame("a", loudFrame(n, 5000))
	c.SubmitFrame("b", make([]int16, n))
	results := c.Tick()

	require.Len(t, results, 2)
	var forB TickResult
	for _, r := range results {
		if r.ParticipantID == "b" {
			forB = r
		}
	}
	// b should hear a's voice (non-silent) since only a is talking.
	nonZero := false
	for _, s := range forB.Samples {
		if s != 0 {
			nonZero = true
			break
		}
	}
	require.True(t, nonZero)
}

func TestStalledParticipantAfterThreeMissedTicks(t *testing.T) {
	var events []Event
	c := New(Config{OnEvent: func(e Event) { events = append(events, e) }})
	require.NoError(t, c.AddParticipant("a"))

	for i := 0; i < 3; i++ {
		c.Tick()
	}

	found := false
	for _, e := range events {
		if e.Kind == EventParticipantStalled {
			found = true
		}
	}
	require.True(t, found)
}

func TestRemoveParticipantEmitsEvent(t *testing.T) {
	var events []Event
	c := New(Config{OnEvent: func(e Event) { events = append(events, e) }})
	require.NoError(t, c.AddParticipant("a"))
	c.RemoveParticipant("a")
	require.Equal(t, 0, c.ParticipantCount())
	require.Equal(t, EventParticipantRemoved, events[len(events)-1].Kind)
}

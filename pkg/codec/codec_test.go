package codec

import (
	"testing"

	"github.com/arzzra/voxcore/pkg/verrors"
	"github.com/stretchr/testify/require"
)

func TestG711RoundTripWithinQuantizationBound(t *testing.T) {
	factory := NewFactory()
	c, err := factory.New(Config{ID: G711Mu})
	require.NoError(t, err)

	samples := make([]int16, 160)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 4000
		} else {
			samples[i] = -4000
		}
	}
	frame := AudioFrame{Samples: samples, SampleRate: 8000, Channels: 1}

	encoded, err := c.Encode(frame)
	require.NoError(t, err)
	require.Len(t, encoded, 160)

	decoded, err := c.Decode(encoded)
	require.NoError(t, err)
	require.Len(t, decoded.Samples, 160)

	for i, s := range samples {
		diff := int(s) - int(decoded.Samples[i])
		if diff < 0 {
			diff = -diff
		}
		require.Lessf(t, diff, 1000, "sample %d: |%d - %d| exceeds quantization bound", i, s, decoded.Samples[i])
	}
}

func TestG711InvalidFrameSize(t *testing.T) {
	factory := NewFactory()
	c, err := factory.New(Config{ID: G711A})
	require.NoError(t, err)

	_, err = c.Encode(AudioFrame{Samples: make([]int16, 123)})
	require.Error(t, err)
	kind, ok := verrors.KindOf(err)
	require.True(t, ok)
	require.Equal(t, verrors.InvalidFrameSize, kind)
}

func TestG722FrameSizeContract(t *testing.T) {
	factory := NewFactory()
	c, err := factory.New(Config{ID: G722})
	require.NoError(t, err)

	samples := make([]int16, 160)
	encoded, err := c.Encode(AudioFrame{Samples: samples})
	require.NoError(t, err)
	require.Len(t, encoded, 80)

	decoded, err := c.Decode(encoded)
	require.NoError(t, err)
	require.Len(t, decoded.Samples, 160)
	require.EqualValues(t, 16000, decoded.SampleRate)
}

func TestG729AFramePacking(t *testing.T) {
	factory := NewFactory()
	c, err := factory.New(Config{ID: G729A})
	require.NoError(t, err)

	encoded, err := c.Encode(AudioFrame{Samples: make([]int16, 80)})
	require.NoError(t, err)
	require.Len(t, encoded, 10)

	_, err = c.Decode(make([]byte, 5))
	require.Error(t, err)
	kind, _ := verrors.KindOf(err)
	require.Equal(t, verrors.InvalidFrameSize, kind)
}

func TestRegistryStaticPayloadTypes(t *testing.T) {
	pt, ok := PayloadTypeForStatic(G711Mu)
	require.True(t, ok)
	require.EqualValues(t, 0, pt)

	pt, ok = PayloadTypeForStatic(G711A)
	require.True(t, ok)
	require.EqualValues(t, 8, pt)

	_, ok = PayloadTypeForStatic(Opus)
	require.False(t, ok, "opus has no static payload type")
}

func TestFactoryUnsupportedConfiguration(t *testing.T) {
	factory := NewFactory()
	_, err := factory.New(Config{ID: CodecID(99)})
	require.Error(t, err)
	kind, ok := verrors.KindOf(err)
	require.True(t, ok)
	require.Equal(t, verrors.UnsupportedConfiguration, kind)
}

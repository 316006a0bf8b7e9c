package audio

import (
	"encoding/base64"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := make([]float32, 480)
	for i := range in {
		in[i] = float32(math.Sin(2 * math.Pi * float64(i) / 48.0))
	}

	payload := EncodeOutbound(in, CaptureConfig())
	require.Equal(t, "audio/pcm;rate=16000", payload.MIMEType)

	buf, err := DecodeInbound(payload.Data, 16000, 1)
	require.NoError(t, err)
	require.Len(t, buf.Channels, 1)
	require.Equal(t, len(in), buf.FrameCount())

	const quantum = 1.0 / 32768.0
	for i, want := range in {
		require.InDelta(t, want, buf.Channels[0][i], quantum, "sample %d", i)
	}
}

func TestEncodeOutbound_FullScaleBounds(t *testing.T) {
	// -1.0 maps exactly to -32768; +1.0 is out of int16 range and wraps.
	// The wraparound is a documented property of the codec, not corrected.
	payload := EncodeOutbound([]float32{-1.0}, CaptureConfig())
	buf, err := DecodeInbound(payload.Data, 16000, 1)
	require.NoError(t, err)
	require.InDelta(t, -1.0, buf.Channels[0][0], 1.0/32768.0)
}

func TestDecodeInbound_DeinterleavesChannels(t *testing.T) {
	// Two frames of stereo: L=0x0100, R=0x0200, L=0x0300, R=0x0400.
	pcm := []byte{0x00, 0x01, 0x00, 0x02, 0x00, 0x03, 0x00, 0x04}
	payload := base64.StdEncoding.EncodeToString(pcm)

	buf, err := DecodeInbound(payload, 24000, 2)
	require.NoError(t, err)
	require.Len(t, buf.Channels, 2)
	require.Equal(t, 2, buf.FrameCount())
	require.InDelta(t, 256.0/32768.0, buf.Channels[0][0], 1e-9)
	require.InDelta(t, 512.0/32768.0, buf.Channels[1][0], 1e-9)
	require.InDelta(t, 768.0/32768.0, buf.Channels[0][1], 1e-9)
	require.InDelta(t, 1024.0/32768.0, buf.Channels[1][1], 1e-9)
}

func TestDecodeInbound_Rejects(t *testing.T) {
	_, err := DecodeInbound("not base64!!!", 24000, 1)
	require.Error(t, err)

	_, err = DecodeInbound("", 0, 1)
	require.Error(t, err)

	_, err = DecodeInbound("", 24000, 0)
	require.Error(t, err)
}

func TestBuffer_Duration(t *testing.T) {
	buf := &Buffer{Channels: [][]float32{make([]float32, 24000)}, SampleRate: 24000}
	require.Equal(t, time.Second, buf.Duration())

	var nilBuf *Buffer
	require.Equal(t, time.Duration(0), nilBuf.Duration())
}

func TestConfig_Math(t *testing.T) {
	cfg := PlaybackConfig()
	require.Equal(t, 48000, cfg.BytesPerSecond())
	require.Equal(t, 250*time.Millisecond, cfg.Duration(12000))
	require.Equal(t, 12000, cfg.BytesFor(250*time.Millisecond))
}

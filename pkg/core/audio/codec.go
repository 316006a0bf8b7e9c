package audio

import (
	"encoding/base64"
	"fmt"
	"time"
)

// Payload is a transport-safe audio frame: base64 of little-endian 16-bit
// signed PCM plus the media type the live API expects for it.
type Payload struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

// Buffer is a decoded, playable chunk: one float32 slice per channel,
// samples in [-1, 1].
type Buffer struct {
	Channels   [][]float32
	SampleRate int
}

// FrameCount returns the number of samples per channel.
func (b *Buffer) FrameCount() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the play time of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.FrameCount()) * time.Second / time.Duration(b.SampleRate)
}

// EncodeOutbound converts one capture frame of float samples into the
// transport form sent on the live channel. Samples are scaled by 32768 with
// no clamping: input outside [-1, 1] wraps around, matching the upstream
// behavior this codec mirrors. Callers own keeping input in range.
func EncodeOutbound(samples []float32, cfg Config) Payload {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(s * 32768)
		pcm[i*2] = byte(v)
		pcm[i*2+1] = byte(v >> 8)
	}
	return Payload{
		Data:     base64.StdEncoding.EncodeToString(pcm),
		MIMEType: fmt.Sprintf("audio/pcm;rate=%d", cfg.SampleRate),
	}
}

// DecodeInbound reverses the transport encoding: base64 to s16le bytes,
// reinterpreted as channel-interleaved signed samples, rescaled to floats.
func DecodeInbound(data string, sampleRate, channels int) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("channel count must be positive, got %d", channels)
	}

	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode audio payload: %w", err)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio payload has odd byte length %d", len(pcm))
	}

	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}

	frames := len(samples) / channels
	buf := &Buffer{
		Channels:   make([][]float32, channels),
		SampleRate: sampleRate,
	}
	for ch := 0; ch < channels; ch++ {
		data := make([]float32, frames)
		for i := 0; i < frames; i++ {
			data[i] = float32(samples[i*channels+ch]) / 32768.0
		}
		buf.Channels[ch] = data
	}
	return buf, nil
}

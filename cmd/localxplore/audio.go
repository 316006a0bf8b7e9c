package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/localxplore/localxplore/pkg/core/audio"
	"github.com/localxplore/localxplore/pkg/core/live"
)

const (
	captureFrameDuration = 20 * time.Millisecond
	playbackTick         = 20 * time.Millisecond
)

// micProvider captures microphone audio through an ffmpeg subprocess
// emitting raw s16le PCM on stdout.
type micProvider struct{}

func newMicProvider() *micProvider {
	return &micProvider{}
}

func (p *micProvider) Acquire(ctx context.Context, cfg audio.Config) (live.CaptureStream, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errors.New("ffmpeg is required for voice capture (install ffmpeg and ensure it is in PATH)")
	}
	args, err := micFFmpegArgs(runtime.GOOS, cfg.SampleRate)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg capture: %w", err)
	}

	frameBytes := cfg.BytesFor(captureFrameDuration)
	return &micStream{cmd: cmd, stdout: stdout, frameBytes: frameBytes}, nil
}

func micFFmpegArgs(goos string, sampleRate int) ([]string, error) {
	switch goos {
	case "darwin":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "avfoundation", "-i", ":0",
			"-ac", "1", "-ar", fmt.Sprintf("%d", sampleRate),
			"-f", "s16le", "-",
		}, nil
	case "linux":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "pulse", "-i", "default",
			"-ac", "1", "-ar", fmt.Sprintf("%d", sampleRate),
			"-f", "s16le", "-",
		}, nil
	default:
		return nil, fmt.Errorf("voice capture is not implemented for %s; supported platforms: darwin, linux", goos)
	}
}

type micStream struct {
	cmd        *exec.Cmd
	stdout     io.ReadCloser
	frameBytes int

	mu     sync.Mutex
	closed bool
}

// Next blocks until a full capture frame is available and returns it as
// float samples in [-1, 1].
func (m *micStream) Next() ([]float32, error) {
	raw := make([]byte, m.frameBytes)
	if _, err := io.ReadFull(m.stdout, raw); err != nil {
		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if closed || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read capture frame: %w", err)
	}

	samples := make([]float32, len(raw)/2)
	for i := range samples {
		v := int16(raw[i*2]) | int16(raw[i*2+1])<<8
		samples[i] = float32(v) / 32768.0
	}
	return samples, nil
}

func (m *micStream) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
	}
	_ = m.stdout.Close()
	_ = m.cmd.Wait()
	return nil
}

// speakerOutput plays scheduled chunks through an ffplay subprocess fed raw
// s16le PCM on stdin. The playback clock is wall time since the process
// started; chunks are fed in realtime-sized ticks so a Stop cuts off with at
// most one tick of residue in the pipe.
type speakerOutput struct {
	cfg     audio.Config
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	started time.Time

	feedMu sync.Mutex
	closed chan struct{}
	once   sync.Once
}

func newSpeakerOutput(cfg audio.Config) (*speakerOutput, error) {
	if _, err := exec.LookPath("ffplay"); err != nil {
		return nil, errors.New("ffplay is required for voice playback (install ffmpeg/ffplay and ensure it is in PATH)")
	}

	layout := "mono"
	if cfg.Channels == 2 {
		layout = "stereo"
	}
	// ffplay does not accept ffmpeg-style -ac; channel count goes via -ch_layout.
	cmd := exec.Command("ffplay",
		"-hide_banner", "-loglevel", "error", "-nostats",
		"-nodisp",
		"-f", "s16le",
		"-ch_layout", layout,
		"-ar", fmt.Sprintf("%d", cfg.SampleRate),
		"-i", "-",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffplay stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("start ffplay: %w", err)
	}

	return &speakerOutput{
		cfg:     cfg,
		cmd:     cmd,
		stdin:   stdin,
		started: time.Now(),
		closed:  make(chan struct{}),
	}, nil
}

// Now returns the playback clock: elapsed time since the output opened.
func (s *speakerOutput) Now() time.Duration {
	return time.Since(s.started)
}

// Play feeds the buffer to ffplay starting at startAt on the playback clock.
// The returned source's Stop halts feeding; onEnded fires once the chunk has
// been fed to completion.
func (s *speakerOutput) Play(buf *audio.Buffer, startAt time.Duration, onEnded func()) (audio.Source, error) {
	pcm := encodePCM16LE(buf)
	src := &playSource{stop: make(chan struct{})}

	go func() {
		if wait := startAt - s.Now(); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-src.stop:
				return
			case <-s.closed:
				return
			}
		}

		// One chunk feeds at a time so back-to-back chunks stay in order.
		s.feedMu.Lock()
		defer s.feedMu.Unlock()

		bytesPerTick := s.cfg.BytesFor(playbackTick)
		if bytesPerTick <= 0 {
			bytesPerTick = len(pcm)
		}
		ticker := time.NewTicker(playbackTick)
		defer ticker.Stop()

		for off := 0; off < len(pcm); off += bytesPerTick {
			end := off + bytesPerTick
			if end > len(pcm) {
				end = len(pcm)
			}
			if _, err := s.stdin.Write(pcm[off:end]); err != nil {
				return
			}
			select {
			case <-ticker.C:
			case <-src.stop:
				return
			case <-s.closed:
				return
			}
		}
		if onEnded != nil {
			onEnded()
		}
	}()

	return src, nil
}

func (s *speakerOutput) Close() error {
	s.once.Do(func() { close(s.closed) })
	_ = s.stdin.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
	return nil
}

type playSource struct {
	once sync.Once
	stop chan struct{}
}

func (p *playSource) Stop() {
	p.once.Do(func() { close(p.stop) })
}

// encodePCM16LE flattens the buffer's first channel to little-endian 16-bit
// PCM, the format ffplay is configured for.
func encodePCM16LE(buf *audio.Buffer) []byte {
	if buf == nil || len(buf.Channels) == 0 {
		return nil
	}
	samples := buf.Channels[0]
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		v := int16(f * 32767)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// Package live manages the lifecycle of a bidirectional real-time audio
// conversation: capture device acquisition, continuous chunked encoding and
// transmission, reception of transcription and audio events, interruption
// handling, and teardown. One Session is one conversation; there is no
// reconnection, a failure or close is terminal and a new Session must be
// started.
package live

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/localxplore/localxplore/pkg/core"
	"github.com/localxplore/localxplore/pkg/core/audio"
)

// State is the session lifecycle state.
type State int

const (
	// StateIdle is the initial state before Start.
	StateIdle State = iota
	// StateConnecting covers capture acquisition and channel establishment.
	StateConnecting
	// StateOpen is the steady state: capture loop running, events flowing.
	StateOpen
	// StateClosed is terminal, reached via remote close, local stop, or error.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Event is one inbound message from the live channel. Fields are dispatched
// independently: a single event may carry a transcription and a turn flag,
// or just audio, or just an interruption.
type Event struct {
	// UserText is a transcription of the user's speech, if any.
	UserText string

	// ModelText is a transcription of the model's speech, if any.
	ModelText string

	// TurnComplete marks the end of a model turn.
	TurnComplete bool

	// AudioData is a base64 PCM payload at the playback rate, if any.
	AudioData string

	// Interrupted means the model's output was cut off by user barge-in.
	// All scheduled playback must be discarded immediately.
	Interrupted bool
}

// Channel is an established live connection. Receive returns io.EOF when the
// remote closes the channel.
type Channel interface {
	SendAudio(ctx context.Context, p audio.Payload) error
	Receive() (Event, error)
	Close() error
}

// ChannelConfig describes the live connection to establish.
type ChannelConfig struct {
	Model   string
	Voice   string
	Capture audio.Config
}

// Transport establishes live channels. Implemented by the gemini provider.
type Transport interface {
	Connect(ctx context.Context, cfg ChannelConfig) (Channel, error)
}

// CaptureStream yields fixed-size microphone frames. Next returns io.EOF
// once the stream is closed.
type CaptureStream interface {
	Next() ([]float32, error)
	Close() error
}

// CaptureProvider grants exclusive access to one audio input stream.
type CaptureProvider interface {
	Acquire(ctx context.Context, cfg audio.Config) (CaptureStream, error)
}

// Callbacks receive session events. They are invoked from the session's
// receive goroutine, one at a time.
type Callbacks struct {
	// OnTranscription receives transcribed text, tagged by speaker, with a
	// turn-completion flag. Text may be empty when only the flag applies.
	OnTranscription func(text string, fromUser bool, turnComplete bool)

	// OnAudioChunk receives each decoded playback buffer, after scheduling,
	// for optional visualization.
	OnAudioChunk func(*audio.Buffer)

	// OnError receives the terminal error if the session dies abnormally.
	OnError func(error)

	// OnClose fires exactly once when the session reaches StateClosed.
	OnClose func()
}

// Config configures a Session.
type Config struct {
	Model          string
	Voice          string
	ConnectTimeout time.Duration
	Logger         zerolog.Logger
	Callbacks      Callbacks
}

// DefaultConnectTimeout bounds channel establishment.
const DefaultConnectTimeout = 15 * time.Second

// Session is one live conversation instance. It is single-use: Idle until
// Start, then Connecting, Open, and finally Closed.
type Session struct {
	transport Transport
	capture   CaptureProvider
	scheduler *audio.Scheduler
	cfg       Config
	logger    zerolog.Logger

	mu      sync.Mutex
	state   State
	channel Channel
	stream  CaptureStream

	teardownOnce sync.Once
	done         chan struct{}
}

// NewSession creates an idle session. The scheduler receives every decoded
// inbound chunk and is flushed on interruption and teardown.
func NewSession(transport Transport, capture CaptureProvider, scheduler *audio.Scheduler, cfg Config) *Session {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	return &Session{
		transport: transport,
		capture:   capture,
		scheduler: scheduler,
		cfg:       cfg,
		logger:    cfg.Logger.With().Str("component", "live").Logger(),
		done:      make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start acquires the capture device, connects the live channel, and begins
// the capture and receive loops. It fails with a device-access error if the
// microphone cannot be acquired and a transport error if the channel cannot
// be established within the connect timeout. A session can be started once.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return core.NewBusyError("Live session already " + st.String() + "; start a new session.")
	}
	s.state = StateConnecting
	s.mu.Unlock()

	stream, err := s.capture.Acquire(ctx, audio.CaptureConfig())
	if err != nil {
		s.teardown(nil, nil)
		return core.NewDeviceAccessError(
			"Microphone access was denied. Please check your browser or system permissions.", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	channel, err := s.transport.Connect(connectCtx, ChannelConfig{
		Model:   s.cfg.Model,
		Voice:   s.cfg.Voice,
		Capture: audio.CaptureConfig(),
	})
	if err != nil {
		s.teardown(stream, nil)
		return core.NewTransportError(
			"Failed to start the live conversation. Please try again.", err)
	}

	s.mu.Lock()
	s.state = StateOpen
	s.channel = channel
	s.stream = stream
	s.mu.Unlock()

	go s.captureLoop(ctx, stream, channel)
	go s.receiveLoop(channel)

	s.logger.Info().Str("model", s.cfg.Model).Msg("live session open")
	return nil
}

// Stop closes the session. It is idempotent and always completes: channel
// close errors are logged, not surfaced. Scheduled playback is flushed the
// same way an interruption flushes it.
func (s *Session) Stop() {
	s.mu.Lock()
	channel := s.channel
	stream := s.stream
	s.mu.Unlock()
	s.teardown(stream, channel)
}

// teardown moves the session to Closed exactly once, releasing whatever was
// acquired so far.
func (s *Session) teardown(stream CaptureStream, channel Channel) {
	s.teardownOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		close(s.done)

		if channel != nil {
			if err := channel.Close(); err != nil {
				s.logger.Warn().Err(err).Msg("live channel close failed")
			}
		}
		if stream != nil {
			if err := stream.Close(); err != nil {
				s.logger.Warn().Err(err).Msg("capture stream close failed")
			}
		}
		if s.scheduler != nil {
			s.scheduler.Flush()
		}

		s.logger.Info().Msg("live session closed")
		if s.cfg.Callbacks.OnClose != nil {
			s.cfg.Callbacks.OnClose()
		}
	})
}

// captureLoop reads fixed-size frames for the whole Open duration, encodes
// each, and sends it fire-and-forget. There is no backpressure: frames are
// small and fixed-rate, and a send failure on a dying channel is reported by
// the receive loop, not here.
func (s *Session) captureLoop(ctx context.Context, stream CaptureStream, channel Channel) {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		frame, err := stream.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Warn().Err(err).Msg("capture stream ended abnormally")
			}
			return
		}
		if len(frame) == 0 {
			continue
		}

		payload := audio.EncodeOutbound(frame, audio.CaptureConfig())
		if err := channel.SendAudio(ctx, payload); err != nil {
			s.logger.Debug().Err(err).Msg("audio frame send failed")
		}
	}
}

// receiveLoop dispatches inbound events until the channel ends. A clean
// remote close tears the session down quietly; any other receive error is
// surfaced through OnError first.
func (s *Session) receiveLoop(channel Channel) {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()

	for {
		ev, err := channel.Receive()
		if errors.Is(err, io.EOF) {
			s.teardown(stream, channel)
			return
		}
		if err != nil {
			select {
			case <-s.done:
				// Local stop already won; the receive error is fallout.
				return
			default:
			}
			if s.cfg.Callbacks.OnError != nil {
				s.cfg.Callbacks.OnError(core.NewTransportError(
					"The live conversation was interrupted. Please start a new session.", err))
			}
			s.teardown(stream, channel)
			return
		}
		s.dispatch(ev)
	}
}

func (s *Session) dispatch(ev Event) {
	cb := s.cfg.Callbacks

	if ev.UserText != "" && cb.OnTranscription != nil {
		cb.OnTranscription(ev.UserText, true, false)
	}
	if ev.ModelText != "" && cb.OnTranscription != nil {
		cb.OnTranscription(ev.ModelText, false, false)
	}

	if ev.Interrupted {
		s.logger.Debug().Msg("model interrupted; flushing playback")
		if s.scheduler != nil {
			s.scheduler.Flush()
		}
	}

	if ev.AudioData != "" {
		cfg := audio.PlaybackConfig()
		buf, err := audio.DecodeInbound(ev.AudioData, cfg.SampleRate, cfg.Channels)
		if err != nil {
			s.logger.Warn().Err(err).Msg("dropping undecodable audio chunk")
		} else {
			if s.scheduler != nil {
				if _, err := s.scheduler.Schedule(buf); err != nil {
					s.logger.Warn().Err(err).Msg("playback scheduling failed")
				}
			}
			if cb.OnAudioChunk != nil {
				cb.OnAudioChunk(buf)
			}
		}
	}

	if ev.TurnComplete && cb.OnTranscription != nil {
		cb.OnTranscription("", false, true)
	}
}

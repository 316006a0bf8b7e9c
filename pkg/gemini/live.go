package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/localxplore/localxplore/pkg/core/audio"
	"github.com/localxplore/localxplore/pkg/core/live"
)

// LiveService establishes bidirectional audio channels. It implements
// live.Transport.
type LiveService struct {
	client *Client
}

// NewLiveService creates the live service over a shared client.
func NewLiveService(client *Client) *LiveService {
	return &LiveService{client: client}
}

// setupMessage is the first client frame on a live connection.
type setupMessage struct {
	Setup liveSetup `json:"setup"`
}

type liveSetup struct {
	Model                    string             `json:"model"`
	GenerationConfig         liveGenConfig      `json:"generationConfig"`
	InputAudioTranscription  *liveTranscription `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *liveTranscription `json:"outputAudioTranscription,omitempty"`
}

type liveGenConfig struct {
	ResponseModalities []string          `json:"responseModalities"`
	SpeechConfig       *liveSpeechConfig `json:"speechConfig,omitempty"`
}

type liveSpeechConfig struct {
	VoiceConfig liveVoiceConfig `json:"voiceConfig"`
}

type liveVoiceConfig struct {
	PrebuiltVoiceConfig livePrebuiltVoice `json:"prebuiltVoiceConfig"`
}

type livePrebuiltVoice struct {
	VoiceName string `json:"voiceName"`
}

type liveTranscription struct{}

// realtimeInputMessage carries outbound audio frames.
type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []geminiBlob `json:"mediaChunks"`
}

// serverMessage is one inbound frame. Only the fields the session consumes
// are decoded.
type serverMessage struct {
	SetupComplete *struct{}          `json:"setupComplete,omitempty"`
	ServerContent *liveServerContent `json:"serverContent,omitempty"`
}

type liveServerContent struct {
	ModelTurn           *geminiContent `json:"modelTurn,omitempty"`
	InputTranscription  *liveText      `json:"inputTranscription,omitempty"`
	OutputTranscription *liveText      `json:"outputTranscription,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
}

type liveText struct {
	Text string `json:"text"`
}

// Connect dials the live endpoint, sends the setup message, and waits for
// the setup acknowledgement before handing the channel over.
func (s *LiveService) Connect(ctx context.Context, cfg live.ChannelConfig) (live.Channel, error) {
	endpoint, err := s.client.liveEndpoint()
	if err != nil {
		return nil, err
	}

	dialer := websocket.DefaultDialer
	if dialer == nil {
		dialer = &websocket.Dialer{}
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	setup := setupMessage{Setup: liveSetup{
		Model: "models/" + cfg.Model,
		GenerationConfig: liveGenConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &liveSpeechConfig{
				VoiceConfig: liveVoiceConfig{
					PrebuiltVoiceConfig: livePrebuiltVoice{VoiceName: cfg.Voice},
				},
			},
		},
		InputAudioTranscription:  &liveTranscription{},
		OutputAudioTranscription: &liveTranscription{},
	}}
	if err := conn.WriteJSON(setup); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send live setup: %w", err)
	}

	// The first server frame must acknowledge the setup.
	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	_, payload, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read setup acknowledgement: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	var first serverMessage
	if err := json.Unmarshal(payload, &first); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("decode setup acknowledgement: %w", err)
	}
	if first.SetupComplete == nil {
		_ = conn.Close()
		return nil, fmt.Errorf("live connection rejected: %s", string(payload))
	}

	s.client.logger.Debug().Str("model", cfg.Model).Msg("live channel established")
	return &LiveChannel{conn: conn}, nil
}

// LiveChannel is an established live websocket. It implements live.Channel.
// Writes are serialized; Close is safe to call more than once and safe to
// race with Receive.
type LiveChannel struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

// SendAudio transmits one encoded capture frame as a realtime media chunk.
func (c *LiveChannel) SendAudio(ctx context.Context, p audio.Payload) error {
	if c.closed.Load() {
		return fmt.Errorf("live channel is closed")
	}
	msg := realtimeInputMessage{RealtimeInput: realtimeInput{
		MediaChunks: []geminiBlob{{MIMEType: p.MIMEType, Data: p.Data}},
	}}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

// Receive blocks for the next server content event. It returns io.EOF on a
// clean remote close and on local Close.
func (c *LiveChannel) Receive() (live.Event, error) {
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return live.Event{}, io.EOF
			}
			return live.Event{}, err
		}

		var msg serverMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return live.Event{}, fmt.Errorf("decode live frame: %w", err)
		}
		if msg.ServerContent == nil {
			continue
		}

		ev := live.Event{
			Interrupted:  msg.ServerContent.Interrupted,
			TurnComplete: msg.ServerContent.TurnComplete,
		}
		if t := msg.ServerContent.InputTranscription; t != nil {
			ev.UserText = t.Text
		}
		if t := msg.ServerContent.OutputTranscription; t != nil {
			ev.ModelText = t.Text
		}
		if mt := msg.ServerContent.ModelTurn; mt != nil {
			for _, part := range mt.Parts {
				if part.InlineData != nil && part.InlineData.Data != "" {
					ev.AudioData = part.InlineData.Data
					break
				}
			}
		}
		return ev, nil
	}
}

// Close sends a best-effort close frame and tears the connection down.
func (c *LiveChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	return nil
}

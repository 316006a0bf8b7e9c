package gemini

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/localxplore/localxplore/pkg/core/chat"
)

// streamChunk is one SSE data payload from streamGenerateContent.
type streamChunk struct {
	Candidates []geminiCandidate `json:"candidates"`
}

// chatStream parses the SSE body into chat stream events. It accumulates the
// model's parts so the session can replay them into history on completion.
type chatStream struct {
	reader  *bufio.Reader
	closer  io.Closer
	session *ChatSession

	err      error
	finished bool
	callSeq  int

	text  strings.Builder
	calls []geminiFunctionCall
}

func newChatStream(body io.ReadCloser, session *ChatSession) *chatStream {
	return &chatStream{
		reader:  bufio.NewReader(body),
		closer:  body,
		session: session,
	}
}

// Next returns the next stream event, or io.EOF once the turn is complete.
func (s *chatStream) Next() (chat.StreamEvent, error) {
	if s.err != nil {
		return chat.StreamEvent{}, s.err
	}
	if s.finished {
		return chat.StreamEvent{}, io.EOF
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return chat.StreamEvent{}, s.finish()
			}
			s.err = err
			return chat.StreamEvent{}, err
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "" || data == "[DONE]" {
			return chat.StreamEvent{}, s.finish()
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // skip unparseable chunks
		}
		if len(chunk.Candidates) == 0 {
			continue
		}

		ev := s.consume(chunk.Candidates[0])
		if ev.TextDelta != "" || len(ev.ToolCalls) > 0 {
			return ev, nil
		}
	}
}

// consume folds one candidate chunk into the accumulator and builds the
// outward event. Function calls without a wire id get a synthesized one so
// correlation always has a handle.
func (s *chatStream) consume(candidate geminiCandidate) chat.StreamEvent {
	var ev chat.StreamEvent
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			s.text.WriteString(part.Text)
			ev.TextDelta += part.Text
		}
		if part.FunctionCall != nil {
			fc := *part.FunctionCall
			if fc.ID == "" {
				fc.ID = fmt.Sprintf("call_%s_%d", fc.Name, s.callSeq)
			}
			s.callSeq++
			s.calls = append(s.calls, fc)
			ev.ToolCalls = append(ev.ToolCalls, chat.ToolCall{
				ID:   fc.ID,
				Name: fc.Name,
				Args: fc.Args,
			})
		}
	}
	return ev
}

// finish replays the accumulated model turn into the session history and
// returns io.EOF.
func (s *chatStream) finish() error {
	if !s.finished {
		s.finished = true
		s.session.commitModelTurn(s.text.String(), s.calls)
	}
	return io.EOF
}

// Close releases the underlying response body.
func (s *chatStream) Close() error {
	return s.closer.Close()
}

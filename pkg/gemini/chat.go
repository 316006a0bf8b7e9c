package gemini

import (
	"context"
	"sync"

	"github.com/localxplore/localxplore/pkg/core/chat"
)

// ChatService creates chat sessions. It implements chat.Service.
type ChatService struct {
	client *Client
}

// NewChatService creates the chat service over a shared client.
func NewChatService(client *Client) *ChatService {
	return &ChatService{client: client}
}

// CreateSession builds a session seeded with prior history. The Gemini REST
// API is stateless, so the session keeps the full contents array client-side
// and replays it on every call.
func (s *ChatService) CreateSession(ctx context.Context, cfg chat.SessionConfig) (chat.Remote, error) {
	return &ChatSession{
		client:   s.client,
		model:    cfg.Model,
		tools:    translateDeclarations(cfg.Tools),
		contents: translateTurns(cfg.History),
	}, nil
}

// ChatSession is one server-side conversation, held client-side as contents.
// It implements chat.Remote.
type ChatSession struct {
	client *Client
	model  string
	tools  []geminiTool

	mu       sync.Mutex
	contents []geminiContent
}

// SendTurn appends the user's text and opens the streamed model reply. The
// model turn is committed to history when the stream completes.
func (s *ChatSession) SendTurn(ctx context.Context, text string) (chat.Stream, error) {
	s.mu.Lock()
	s.contents = append(s.contents, geminiContent{
		Role:  "user",
		Parts: []geminiPart{{Text: text}},
	})
	req := s.buildRequest()
	s.mu.Unlock()

	body, err := s.client.doStreamRequest(ctx, s.model, req)
	if err != nil {
		s.rollbackLast()
		return nil, err
	}
	return newChatStream(body, s), nil
}

// SendToolResult echoes a function response and advances the conversation:
// the model's reaction is requested immediately and folded into history so
// it can surface in a subsequent turn.
func (s *ChatSession) SendToolResult(ctx context.Context, res chat.ToolResult) error {
	s.mu.Lock()
	s.contents = append(s.contents, geminiContent{
		Role: "user",
		Parts: []geminiPart{{
			FunctionResponse: &geminiFunctionResponse{
				ID:       res.ToolCallID,
				Name:     res.Name,
				Response: res.Payload,
			},
		}},
	})
	req := s.buildRequest()
	s.mu.Unlock()

	body, err := s.client.doRequest(ctx, s.model, req)
	if err != nil {
		s.rollbackLast()
		return err
	}

	resp, err := parseResponse(body)
	if err != nil {
		// A blocked or malformed 200 reply must not leave the function
		// response in history, or a retry would duplicate it.
		s.rollbackLast()
		return err
	}

	s.mu.Lock()
	s.contents = append(s.contents, resp.Candidates[0].Content)
	s.mu.Unlock()
	return nil
}

// commitModelTurn replays a completed streamed turn into history, function
// call parts included so later functionResponse round trips line up.
func (s *ChatSession) commitModelTurn(text string, calls []geminiFunctionCall) {
	parts := make([]geminiPart, 0, len(calls)+1)
	if text != "" {
		parts = append(parts, geminiPart{Text: text})
	}
	for i := range calls {
		parts = append(parts, geminiPart{FunctionCall: &calls[i]})
	}
	if len(parts) == 0 {
		return
	}

	s.mu.Lock()
	s.contents = append(s.contents, geminiContent{Role: "model", Parts: parts})
	s.mu.Unlock()
}

func (s *ChatSession) buildRequest() *geminiRequest {
	contents := make([]geminiContent, len(s.contents))
	copy(contents, s.contents)
	return &geminiRequest{
		Contents: contents,
		Tools:    s.tools,
	}
}

// rollbackLast drops the most recently appended content after a failed call
// so a retry does not duplicate it.
func (s *ChatSession) rollbackLast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.contents); n > 0 {
		s.contents = s.contents[:n-1]
	}
}

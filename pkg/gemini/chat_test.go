package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/localxplore/localxplore/pkg/core/chat"
)

func TestChatSession_SendTurnRoundTrip(t *testing.T) {
	var gotPath string
	var gotReq geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotReq)

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, `data: {"candidates":[{"content":{"parts":[{"text":"Bonjour!"}]}}]}`+"\n\n")
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL))
	svc := NewChatService(client)
	remote, err := svc.CreateSession(context.Background(), chat.SessionConfig{
		Model:   "gemini-2.5-flash",
		Tools:   []chat.Declaration{chat.BookGuideDeclaration()},
		History: []chat.Turn{chat.NewTurn(chat.RoleUser, "earlier")},
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	stream, err := remote.SendTurn(context.Background(), "bonjour")
	if err != nil {
		t.Fatalf("SendTurn() error = %v", err)
	}
	defer stream.Close()

	ev, err := stream.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if ev.TextDelta != "Bonjour!" {
		t.Fatalf("delta = %q, want Bonjour!", ev.TextDelta)
	}
	if _, err := stream.Next(); err != io.EOF {
		t.Fatalf("terminal Next() error = %v, want io.EOF", err)
	}

	if !strings.Contains(gotPath, "models/gemini-2.5-flash:streamGenerateContent?alt=sse") {
		t.Fatalf("path = %q", gotPath)
	}
	// Prior history plus the new user turn were replayed.
	if len(gotReq.Contents) != 2 {
		t.Fatalf("wire contents = %d, want 2", len(gotReq.Contents))
	}
	if gotReq.Contents[1].Parts[0].Text != "bonjour" {
		t.Fatalf("last content = %+v", gotReq.Contents[1])
	}
	if len(gotReq.Tools) != 1 || len(gotReq.Tools[0].FunctionDeclarations) != 1 {
		t.Fatalf("tools = %+v, want one declaration", gotReq.Tools)
	}

	// The model reply joined the session history for the next call.
	session := remote.(*ChatSession)
	if len(session.contents) != 3 {
		t.Fatalf("session contents = %d, want 3", len(session.contents))
	}
}

func TestChatSession_SendToolResultAdvancesHistory(t *testing.T) {
	var gotReq geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotReq)
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"Booked!"}]},"finishReason":"STOP"}]}`)
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL))
	session := &ChatSession{client: client, model: "gemini-2.5-flash"}

	err := session.SendToolResult(context.Background(), chat.ToolResult{
		ToolCallID: "call-1",
		Name:       "bookTravelGuide",
		Payload:    map[string]any{"status": "success"},
	})
	if err != nil {
		t.Fatalf("SendToolResult() error = %v", err)
	}

	fr := gotReq.Contents[0].Parts[0].FunctionResponse
	if fr == nil || fr.ID != "call-1" || fr.Name != "bookTravelGuide" {
		t.Fatalf("function response = %+v", fr)
	}
	if fr.Response["status"] != "success" {
		t.Fatalf("payload = %v", fr.Response)
	}

	// Function response and model reaction both joined history.
	if len(session.contents) != 2 {
		t.Fatalf("session contents = %d, want 2", len(session.contents))
	}
	if session.contents[1].Parts[0].Text != "Booked!" {
		t.Fatalf("model reaction = %+v", session.contents[1])
	}
}

func TestChatSession_ToolResultBlockedReplyRollsBack(t *testing.T) {
	var reqs []geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req geminiRequest
		_ = json.Unmarshal(body, &req)
		reqs = append(reqs, req)
		// 200 with no candidates, as when the prompt is safety-blocked.
		_, _ = io.WriteString(w, `{"promptFeedback":{"blockReason":"SAFETY"}}`)
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL))
	session := &ChatSession{client: client, model: "gemini-2.5-flash"}
	res := chat.ToolResult{
		ToolCallID: "call-1",
		Name:       "bookTravelGuide",
		Payload:    map[string]any{"status": "success"},
	}

	if err := session.SendToolResult(context.Background(), res); err == nil {
		t.Fatal("SendToolResult() error = nil, want error")
	}
	if len(session.contents) != 0 {
		t.Fatalf("session contents = %d after failure, want 0", len(session.contents))
	}

	// A retry must carry exactly one function response, not an accumulated
	// duplicate from the failed attempt.
	if err := session.SendToolResult(context.Background(), res); err == nil {
		t.Fatal("retry SendToolResult() error = nil, want error")
	}
	last := reqs[len(reqs)-1]
	responses := 0
	for _, content := range last.Contents {
		for _, part := range content.Parts {
			if part.FunctionResponse != nil {
				responses++
			}
		}
	}
	if responses != 1 {
		t.Fatalf("retry carried %d function responses, want 1", responses)
	}
}

func TestChatSession_APIErrorIsTypedAndRollsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"code":429,"message":"Quota exceeded","status":"RESOURCE_EXHAUSTED"}}`)
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL))
	session := &ChatSession{client: client, model: "gemini-2.5-flash"}

	_, err := session.SendTurn(context.Background(), "hello")
	if err == nil {
		t.Fatal("SendTurn() error = nil, want error")
	}
	apiErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if apiErr.Type != ErrRateLimit {
		t.Fatalf("error type = %q, want %q", apiErr.Type, ErrRateLimit)
	}
	if !apiErr.IsRetryable() {
		t.Fatal("IsRetryable() = false, want true")
	}

	// The failed user turn was rolled back.
	if len(session.contents) != 0 {
		t.Fatalf("session contents = %d, want 0", len(session.contents))
	}
}

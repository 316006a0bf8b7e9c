// Package gemini implements the remote Gemini API surface the core consumes:
// streaming chat sessions with function calling, grounded one-shot
// generation, and the bidirectional Live audio channel.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultBaseURL is the default Gemini REST endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultLiveURL is the default Live (bidirectional) websocket endpoint.
	DefaultLiveURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
)

// Client holds the API credential and endpoints shared by the chat, grounded
// query, and live services.
type Client struct {
	apiKey     string
	baseURL    string
	liveURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithBaseURL overrides the REST endpoint.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithLiveURL overrides the Live websocket endpoint.
func WithLiveURL(url string) Option {
	return func(c *Client) {
		c.liveURL = url
	}
}

// WithHTTPClient sets the HTTP client for REST requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Gemini client.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		liveURL:    DefaultLiveURL,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// doRequest sends a non-streaming generateContent call.
func (c *Client) doRequest(ctx context.Context, model string, req *geminiRequest) ([]byte, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)
	resp, err := c.post(ctx, url, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, parseError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

// doStreamRequest sends a streaming generateContent call and returns the SSE
// body. The caller owns closing it.
func (c *Client) doStreamRequest(ctx context.Context, model string, req *geminiRequest) (io.ReadCloser, error) {
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", c.baseURL, model)
	resp, err := c.post(ctx, url, req, true)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, parseError(resp)
	}
	return resp.Body, nil
}

func (c *Client) post(ctx context.Context, url string, req *geminiRequest, stream bool) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	return resp, nil
}

// liveEndpoint builds the websocket URL with the API key attached, the way
// the Live API authenticates.
func (c *Client) liveEndpoint() (string, error) {
	u, err := url.Parse(c.liveURL)
	if err != nil {
		return "", fmt.Errorf("invalid live endpoint: %w", err)
	}
	q := u.Query()
	q.Set("key", c.apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

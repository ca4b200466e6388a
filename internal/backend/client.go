// Package backend talks to completion backends: the local llama-server over
// its OpenAI-compatible API, and remote Anthropic-compatible endpoints.
//
// FILES:
//   - client.go:     OpenAI-style chat client (non-streaming and streaming)
//   - supervisor.go: local backend process lifecycle and crash triage
//   - remote.go:     Anthropic-format relay to remote tiers
//   - bedrock.go:    SigV4 signing for Bedrock-hosted remote targets
package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tierleap/tier-gateway/internal/utils"
	"github.com/tierleap/tier-gateway/internal/wire"
)

// =============================================================================
// Errors
// =============================================================================

// HTTPError is a well-formed non-2xx reply from a backend. It is distinct
// from a transport error (connection refused, reset), which surfaces as a
// plain wrapped error: the routing fallback policy treats the two
// differently.
type HTTPError struct {
	Status  int
	Body    string
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("backend returned %d", e.Status)
}

// newHTTPError captures a non-2xx reply, pulling the message out of the
// OpenAI error envelope when one is present.
func newHTTPError(status int, body []byte) *HTTPError {
	e := &HTTPError{Status: status, Body: string(body)}
	var envelope wire.ChatError
	if json.Unmarshal(body, &envelope) == nil {
		e.Message = envelope.Error.Message
	}
	return e
}

// =============================================================================
// Client
// =============================================================================

// Client is an OpenAI-compatible chat completions client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithAPIKey sets a bearer token. Local llama-server needs none.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a chat client for the given base URL. No timeout is set
// on completion calls themselves; long generations are expected.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete performs one non-streaming chat completion.
func (c *Client) Complete(ctx context.Context, req *wire.ChatRequest) (*wire.ChatResponse, error) {
	req.Stream = false
	resp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read completion body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newHTTPError(resp.StatusCode, body)
	}

	var out wire.ChatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}
	return &out, nil
}

// CompleteStream performs a streaming chat completion. The caller must
// drain or Close the returned stream to release the connection.
func (c *Client) CompleteStream(ctx context.Context, req *wire.ChatRequest) (*Stream, error) {
	req.Stream = true
	resp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, newHTTPError(resp.StatusCode, body)
	}
	return newStream(resp.Body), nil
}

func (c *Client) post(ctx context.Context, req *wire.ChatRequest) (*http.Response, error) {
	payload, err := utils.MarshalNoEscape(req)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request to %s: %w", c.baseURL, err)
	}
	return resp, nil
}

// =============================================================================
// Stream
// =============================================================================

// Stream reads SSE data lines off a streaming completion response.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func newStream(body io.ReadCloser) *Stream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Stream{body: body, scanner: sc}
}

// Next returns the next chunk, or io.EOF when the stream has ended
// (including the terminal [DONE] sentinel). Unparseable data lines are
// skipped rather than failing the stream.
func (s *Stream) Next() (*wire.StreamChunk, error) {
	if s.done {
		return nil, io.EOF
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			s.done = true
			return nil, io.EOF
		}
		var chunk wire.StreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		return &chunk, nil
	}
	s.done = true
	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	return nil, io.EOF
}

// Close releases the underlying connection. Safe to call more than once.
func (s *Stream) Close() error {
	s.done = true
	return s.body.Close()
}

// =============================================================================
// Health
// =============================================================================

// healthTimeout bounds the health probe; the check must stay cheap.
const healthTimeout = 2 * time.Second

// IsHealthy probes the backend's /health endpoint.
func IsHealthy(baseURL string) bool {
	client := &http.Client{Timeout: healthTimeout}
	resp, err := client.Get(strings.TrimRight(baseURL, "/") + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tierleap/tier-gateway/internal/wire"
)

func TestClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi there"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	resp, err := client.Complete(context.Background(), &wire.ChatRequest{
		Model:    "local",
		Messages: []wire.ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Text())
}

func TestClient_CompleteHTTPErrorIsTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Complete(context.Background(), &wire.ChatRequest{Model: "m"})
	require.Error(t, err)

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusTooManyRequests, httpErr.Status)
	assert.Equal(t, "slow down", httpErr.Message)
}

func TestClient_TransportErrorIsNotHTTPError(t *testing.T) {
	// Port is from the port range reserved for documentation examples;
	// nothing listens there.
	client := NewClient("http://127.0.0.1:1")
	_, err := client.Complete(context.Background(), &wire.ChatRequest{Model: "m"})
	require.Error(t, err)

	var httpErr *HTTPError
	assert.False(t, errors.As(err, &httpErr))
}

func TestClient_CompleteStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		_, _ = io.WriteString(w, ": keepalive comment\n\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: not json at all\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	stream, err := NewClient(srv.URL).CompleteStream(context.Background(), &wire.ChatRequest{Model: "m"})
	require.NoError(t, err)
	defer stream.Close()

	var got string
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got += chunk.DeltaText()
	}
	assert.Equal(t, "Hello", got)

	// After EOF the stream stays terminal.
	_, err = stream.Next()
	assert.Equal(t, io.EOF, err)
}

func TestClient_CompleteStreamHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"loading","type":"unavailable"}}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).CompleteStream(context.Background(), &wire.ChatRequest{Model: "m"})
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.Status)
}

func TestSupervisor_CrashedFromMemory(t *testing.T) {
	s := NewLlamaSupervisor("/usr/local/bin/llama-server", 8080)

	s.record("llama_model_load: loading model")
	assert.False(t, s.CrashedFromMemory())

	s.record("ggml_backend_cuda_buffer_type_alloc_buffer: failed to allocate 4096.00 MiB")
	assert.True(t, s.CrashedFromMemory())
}

func TestSupervisor_LogRingBounded(t *testing.T) {
	s := NewLlamaSupervisor("/usr/local/bin/llama-server", 8080)

	s.record("CUDA out of memory")
	for i := 0; i < logRingSize; i++ {
		s.record("benign line")
	}
	// The OOM line has been evicted by newer output.
	assert.False(t, s.CrashedFromMemory())
}

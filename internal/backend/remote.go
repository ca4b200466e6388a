package backend

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/tidwall/sjson"
)

// anthropicVersion is pinned; remote tiers all speak this revision.
const anthropicVersion = "2023-06-01"

// Remote relays untranslated messages-API bodies to a remote tier. The
// request is forwarded as-is apart from a model rewrite, so remote replies
// (including streams) need no translation on the way back.
type Remote struct {
	baseURL    string
	apiKey     string
	signer     *BedrockSigner
	httpClient *http.Client
}

// RemoteOption configures a Remote.
type RemoteOption func(*Remote)

// WithBedrockSigner routes the relay through a SigV4-signed Bedrock
// endpoint instead of api-key auth.
func WithBedrockSigner(s *BedrockSigner) RemoteOption {
	return func(r *Remote) { r.signer = s }
}

// WithRemoteHTTPClient sets a custom HTTP client.
func WithRemoteHTTPClient(hc *http.Client) RemoteOption {
	return func(r *Remote) { r.httpClient = hc }
}

// NewRemote creates a relay for one remote endpoint.
func NewRemote(baseURL, apiKey string, opts ...RemoteOption) *Remote {
	r := &Remote{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Relay forwards the raw request body with the tier's model id patched in.
// A returned error is always a transport failure (no response at all); any
// HTTP reply, success or not, comes back as the response so the caller can
// surface remote errors unchanged.
func (r *Remote) Relay(ctx context.Context, body []byte, model string) (*http.Response, error) {
	patched, err := sjson.SetBytes(body, "model", model)
	if err != nil {
		return nil, fmt.Errorf("rewrite model id: %w", err)
	}

	url := r.baseURL + "/v1/messages"
	if r.signer != nil && r.signer.IsConfigured() {
		url = r.signer.BuildTargetURL(model)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(patched))
	if err != nil {
		return nil, fmt.Errorf("build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-version", anthropicVersion)

	if r.signer != nil && r.signer.IsConfigured() {
		if err := r.signer.SignRequest(ctx, req, patched); err != nil {
			return nil, fmt.Errorf("sign relay request: %w", err)
		}
	} else if r.apiKey != "" {
		req.Header.Set("x-api-key", r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay to %s: %w", r.baseURL, err)
	}
	return resp, nil
}

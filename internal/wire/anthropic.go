// Package wire defines the two protocol vocabularies the gateway translates
// between: the Anthropic-style messages API spoken by the coding client, and
// the OpenAI-style chat completions API spoken by the inference backends.
//
// DESIGN: Types only, no behavior beyond JSON (un)marshaling. The client
// sends message content either as a bare string or as an array of content
// blocks; Message.UnmarshalJSON normalizes both forms so downstream code only
// ever sees blocks.
package wire

import (
	"encoding/json"
	"fmt"
)

// Content block types used by the messages API.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// Stop reasons reported to the client.
const (
	StopEndTurn = "end_turn"
	StopToolUse = "tool_use"
)

// MessagesRequest is the inbound POST /v1/messages payload.
type MessagesRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	System    json.RawMessage `json:"system,omitempty"`
	Messages  []Message       `json:"messages"`
	Tools     []Tool          `json:"tools,omitempty"`
	Stream    bool            `json:"stream,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
}

// SystemText flattens the system field, which may be a bare string or an
// array of {type:"text", text:...} parts, into a single string. Absent or
// unparseable input degrades to "".
func (r *MessagesRequest) SystemText() string {
	if len(r.System) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.System, &s); err == nil {
		return s
	}
	var parts []ContentBlock
	if err := json.Unmarshal(r.System, &parts); err != nil {
		return ""
	}
	var out string
	for _, p := range parts {
		if p.Type == BlockText {
			if out != "" {
				out += "\n"
			}
			out += p.Text
		}
	}
	return out
}

// Message is a single turn in the conversation.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// UnmarshalJSON accepts content as either a bare string (shorthand for one
// text block) or an array of content blocks.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	m.Role = raw.Role
	m.Content = nil

	if len(raw.Content) == 0 || string(raw.Content) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw.Content, &s); err == nil {
		m.Content = []ContentBlock{{Type: BlockText, Text: s}}
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(raw.Content, &blocks); err != nil {
		return fmt.Errorf("decode message content: %w", err)
	}
	m.Content = blocks
	return nil
}

// ContentBlock is the tagged union of the messages API content types.
// Exactly one of the type-specific field groups is meaningful per block.
type ContentBlock struct {
	Type string `json:"type"`

	// type == "text"
	Text string `json:"text,omitempty"`

	// type == "tool_use"
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// type == "tool_result"
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// ResultText flattens a tool_result content payload (string or block array)
// into plain text.
func (b *ContentBlock) ResultText() string {
	if len(b.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Content, &s); err == nil {
		return s
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(b.Content, &blocks); err != nil {
		return ""
	}
	var out string
	for _, nested := range blocks {
		if nested.Type == BlockText {
			out += nested.Text
		}
	}
	return out
}

// Tool is a tool definition offered by the client.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Usage reports token accounting to the client. The backends here provide no
// usable accounting, so the gateway always reports zeros.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// MessagesResponse is the non-streaming response body.
type MessagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// ErrorResponse is the messages API error envelope.
type ErrorResponse struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error type and a human-readable message.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

package translate

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/tierleap/tier-gateway/internal/toolcall"
	"github.com/tierleap/tier-gateway/internal/wire"
)

// NewMessageID mints a client-visible message id.
func NewMessageID() string {
	return "msg_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// NewToolUseID mints a client-visible tool_use id.
func NewToolUseID() string {
	return "toolu_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Response converts raw backend output text into a client message. Tool
// calls recovered from the text become tool_use blocks with fresh ids;
// message content is never an empty array.
func Response(rawText, modelID string) wire.MessagesResponse {
	res := toolcall.Extract(rawText)

	var content []wire.ContentBlock
	if res.Text != "" {
		content = append(content, wire.ContentBlock{Type: wire.BlockText, Text: res.Text})
	}
	for _, call := range res.ToolCalls {
		content = append(content, wire.ContentBlock{
			Type:  wire.BlockToolUse,
			ID:    NewToolUseID(),
			Name:  call.Name,
			Input: MarshalInput(call.Input),
		})
	}
	if len(content) == 0 {
		content = []wire.ContentBlock{{Type: wire.BlockText, Text: ""}}
	}

	stopReason := wire.StopEndTurn
	if len(res.ToolCalls) > 0 {
		stopReason = wire.StopToolUse
	}

	return wire.MessagesResponse{
		ID:         NewMessageID(),
		Type:       "message",
		Role:       "assistant",
		Content:    content,
		Model:      modelID,
		StopReason: stopReason,
		// No usable accounting comes back from the backends.
		Usage: wire.Usage{},
	}
}

// MarshalInput encodes a parsed tool-call input map as a JSON object.
func MarshalInput(input map[string]string) json.RawMessage {
	if input == nil {
		input = map[string]string{}
	}
	data, err := json.Marshal(input)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

// Package translate converts between the client's messages protocol and the
// backends' chat-completions protocol, in both directions, including the
// stateful SSE re-encoding of streaming responses.
//
// DESIGN: Translation never fails on valid JSON input: absent optional
// fields degrade to empty strings/arrays, and malformed tool-call text is
// absorbed by the toolcall package rather than rejected.
package translate

import (
	"encoding/json"
	"fmt"

	"github.com/tierleap/tier-gateway/internal/prompt"
	"github.com/tierleap/tier-gateway/internal/toolcall"
	"github.com/tierleap/tier-gateway/internal/wire"
)

// Fraction of the post-system character budget granted to tool results.
const toolResultBudgetRatio = 0.4

// Sampling defaults applied when the client does not specify its own.
const (
	defaultTemperature = 0.7
	defaultTopP        = 0.9
)

// RequestTranslator builds backend chat requests from client requests, and
// is where the context character budget is enforced.
type RequestTranslator struct {
	policy prompt.Policy
}

// NewRequestTranslator returns a translator using the given reduction policy.
func NewRequestTranslator(policy prompt.Policy) *RequestTranslator {
	return &RequestTranslator{policy: policy}
}

// Translate converts a client request into a backend chat request targeting
// modelID at the given tier.
func (t *RequestTranslator) Translate(req *wire.MessagesRequest, modelID string, tier int) wire.ChatRequest {
	system := t.policy.Reduce(req.SystemText(), tier)
	// Tool docs go in after reduction so the policy can never trim them.
	system += prompt.ToolDocs(req.Tools)

	remaining := t.policy.CharBudget(tier) - len(system)
	if remaining < 0 {
		remaining = 0
	}
	toolResultBudget := int(float64(remaining) * toolResultBudgetRatio)

	messages := make([]wire.ChatMessage, 0, len(req.Messages)+1)
	if system != "" {
		messages = append(messages, wire.ChatMessage{Role: "system", Content: system})
	}
	for _, m := range req.Messages {
		messages = append(messages, wire.ChatMessage{
			Role:    m.Role,
			Content: flattenBlocks(m.Content, toolResultBudget),
		})
	}

	maxTokens := t.policy.MaxTokens(tier)
	if req.MaxTokens > 0 && req.MaxTokens < maxTokens {
		maxTokens = req.MaxTokens
	}

	out := wire.ChatRequest{
		Model:       modelID,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: defaultTemperature,
		TopP:        defaultTopP,
		Stream:      req.Stream,
		// Halt generation right after a tool call. This is also why the
		// extractor tolerates missing closing tags: the stop sequence eats
		// them.
		Stop: []string{toolcall.CloseTag},
	}
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		out.TopP = *req.TopP
	}
	return out
}

// RequestChars returns the total character length of a translated request's
// message contents. Routing uses it for context-overflow checks.
func RequestChars(req *wire.ChatRequest) int {
	total := 0
	for _, m := range req.Messages {
		total += len(m.Content)
	}
	return total
}

// MessagesChars approximates RequestChars for a request that has not been
// translated yet. Routing needs the length before a tier (and therefore a
// translation) exists, so the client-side system text and block payloads
// stand in for the flattened form; the difference is formatting overhead and
// tool-result truncation, both small against the tier budgets.
func MessagesChars(req *wire.MessagesRequest) int {
	total := len(req.SystemText())
	for _, m := range req.Messages {
		for _, b := range m.Content {
			switch b.Type {
			case wire.BlockText:
				total += len(b.Text)
			case wire.BlockToolUse:
				total += len(b.Name) + len(b.Input)
			case wire.BlockToolResult:
				total += len(b.ResultText())
			}
		}
	}
	return total
}

// flattenBlocks renders content blocks into a single flat string for the
// backend. tool_use blocks re-serialize into the tag grammar (the round-trip
// guarantee lives in toolcall); oversized tool results are truncated under
// the budget with an explicit header.
func flattenBlocks(blocks []wire.ContentBlock, toolResultBudget int) string {
	var out string
	for _, b := range blocks {
		var piece string
		switch b.Type {
		case wire.BlockText:
			piece = b.Text
		case wire.BlockToolUse:
			piece = toolcall.Serialize(b.Name, InputMap(b.Input))
		case wire.BlockToolResult:
			piece = truncateResult(b.ResultText(), toolResultBudget)
		default:
			continue
		}
		if piece == "" {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += piece
	}
	return out
}

// truncateResult caps tool-result content at budget characters, prefixing the
// kept portion with a header stating how much was shown. A zero budget means
// the system prompt already consumed the tier's allowance, so only the header
// survives.
func truncateResult(content string, budget int) string {
	if budget < 0 {
		budget = 0
	}
	if len(content) <= budget {
		return content
	}
	out := fmt.Sprintf("[truncated: showing %d of %d chars]", budget, len(content))
	if budget > 0 {
		out += "\n" + content[:budget]
	}
	return out
}

// InputMap converts a tool_use input object into the flat string map the tag
// grammar carries. String values stay literal; anything else is compact JSON.
func InputMap(raw json.RawMessage) map[string]string {
	out := make(map[string]string)
	if len(raw) == 0 {
		return out
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return out
	}
	for k, v := range obj {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		out[k] = string(v)
	}
	return out
}

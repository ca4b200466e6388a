package translate

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tierleap/tier-gateway/internal/prompt"
	"github.com/tierleap/tier-gateway/internal/toolcall"
	"github.com/tierleap/tier-gateway/internal/wire"
)

// fixedPolicy makes the budgets deterministic for tests.
type fixedPolicy struct {
	budget    int
	maxTokens int
}

func (p fixedPolicy) Reduce(s string, _ int) string { return s }
func (p fixedPolicy) CharBudget(_ int) int          { return p.budget }
func (p fixedPolicy) MaxTokens(_ int) int           { return p.maxTokens }

func decodeRequest(t *testing.T, body string) *wire.MessagesRequest {
	t.Helper()
	var req wire.MessagesRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	return &req
}

func TestTranslate_SystemFlattening(t *testing.T) {
	tr := NewRequestTranslator(fixedPolicy{budget: 100000, maxTokens: 2048})

	// String form.
	req := decodeRequest(t, `{"model":"m","max_tokens":100,"system":"You are helpful.","messages":[{"role":"user","content":"hi"}]}`)
	out := tr.Translate(req, "local-model", 1)
	require.NotEmpty(t, out.Messages)
	assert.Equal(t, "system", out.Messages[0].Role)
	assert.Equal(t, "You are helpful.", out.Messages[0].Content)

	// Array-of-parts form.
	req = decodeRequest(t, `{"model":"m","max_tokens":100,"system":[{"type":"text","text":"Part one."},{"type":"text","text":"Part two."}],"messages":[{"role":"user","content":"hi"}]}`)
	out = tr.Translate(req, "local-model", 1)
	assert.Equal(t, "Part one.\nPart two.", out.Messages[0].Content)
}

func TestTranslate_ToolDocsSurviveReduction(t *testing.T) {
	// A policy that wipes the system prompt entirely: tool docs must still be
	// present because they are injected after reduction.
	wipe := prompt.NewTrimPolicy()
	wipe.CharBudgets = map[int]int{1: 10, 2: 10, 3: 10}
	tr := NewRequestTranslator(wipe)

	req := decodeRequest(t, `{"model":"m","max_tokens":100,"system":"big prompt","tools":[{"name":"Bash","description":"Run a command"}],"messages":[{"role":"user","content":"hi"}]}`)
	out := tr.Translate(req, "local-model", 1)

	assert.Contains(t, out.Messages[0].Content, "<tool_call>")
	assert.Contains(t, out.Messages[0].Content, "Bash")
}

func TestTranslate_ToolUseRoundTrip(t *testing.T) {
	tr := NewRequestTranslator(fixedPolicy{budget: 100000, maxTokens: 2048})

	req := decodeRequest(t, `{"model":"m","max_tokens":100,"messages":[
		{"role":"assistant","content":[{"type":"tool_use","id":"toolu_1","name":"Bash","input":{"command":"ls"}}]}
	]}`)
	out := tr.Translate(req, "local-model", 1)

	res := toolcall.Extract(out.Messages[0].Content)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "Bash", res.ToolCalls[0].Name)
	assert.Equal(t, map[string]string{"command": "ls"}, res.ToolCalls[0].Input)
}

func TestTranslate_ToolResultTruncation(t *testing.T) {
	// Budget of 250 chars, 40% of which is the tool-result budget = 100.
	tr := NewRequestTranslator(fixedPolicy{budget: 250, maxTokens: 2048})

	big := strings.Repeat("x", 50000)
	body := fmt.Sprintf(`{"model":"m","max_tokens":100,"messages":[
		{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_1","content":%q}]}
	]}`, big)
	out := tr.Translate(decodeRequest(t, body), "local-model", 1)

	assert.Contains(t, out.Messages[0].Content, "truncated: showing 100 of 50000 chars")
	// Header plus the 100 kept chars, nothing near the original size.
	assert.Less(t, len(out.Messages[0].Content), 200)
}

func TestTranslate_SmallToolResultPassesThrough(t *testing.T) {
	tr := NewRequestTranslator(fixedPolicy{budget: 100000, maxTokens: 2048})

	out := tr.Translate(decodeRequest(t, `{"model":"m","max_tokens":100,"messages":[
		{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_1","content":"ok"}]}
	]}`), "local-model", 1)

	assert.Equal(t, "ok", out.Messages[0].Content)
}

func TestTranslate_MaxTokensCap(t *testing.T) {
	tr := NewRequestTranslator(fixedPolicy{budget: 100000, maxTokens: 1024})

	// Caller asks for more than the tier allows: capped.
	out := tr.Translate(decodeRequest(t, `{"model":"m","max_tokens":999999,"messages":[{"role":"user","content":"hi"}]}`), "local-model", 1)
	assert.Equal(t, 1024, out.MaxTokens)

	// Caller asks for less: honored.
	out = tr.Translate(decodeRequest(t, `{"model":"m","max_tokens":64,"messages":[{"role":"user","content":"hi"}]}`), "local-model", 1)
	assert.Equal(t, 64, out.MaxTokens)
}

func TestTranslate_StopSequenceAndStream(t *testing.T) {
	tr := NewRequestTranslator(fixedPolicy{budget: 100000, maxTokens: 1024})

	out := tr.Translate(decodeRequest(t, `{"model":"m","max_tokens":100,"stream":true,"messages":[{"role":"user","content":"hi"}]}`), "local-model", 1)

	assert.True(t, out.Stream)
	assert.Equal(t, []string{toolcall.CloseTag}, out.Stop)
	assert.Equal(t, "local-model", out.Model)
}

func TestTranslate_AbsentFieldsDegrade(t *testing.T) {
	tr := NewRequestTranslator(fixedPolicy{budget: 100000, maxTokens: 1024})

	out := tr.Translate(decodeRequest(t, `{"model":"m","max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`), "local-model", 1)

	// No system, no tools: first message is the user turn, no system message.
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "user", out.Messages[0].Role)
}

func TestMessagesChars_CountsAllBlockKinds(t *testing.T) {
	req := decodeRequest(t, `{"model":"m","max_tokens":10,"system":"abc","messages":[
		{"role":"user","content":"12345"},
		{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"xyzw"}]}]}`)

	// system "abc" + text "12345" + tool result "xyzw"
	assert.Equal(t, 3+5+4, MessagesChars(req))
}

func TestMessagesChars_ToolUseContributes(t *testing.T) {
	plain := decodeRequest(t, `{"model":"m","max_tokens":10,"messages":[{"role":"user","content":"hi"}]}`)
	withCall := decodeRequest(t, `{"model":"m","max_tokens":10,"messages":[
		{"role":"user","content":"hi"},
		{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls"}}]}]}`)

	assert.Greater(t, MessagesChars(withCall), MessagesChars(plain))
}

func TestTruncateResult_ZeroBudgetKeepsHeaderOnly(t *testing.T) {
	out := truncateResult(strings.Repeat("x", 50000), 0)
	assert.Equal(t, "[truncated: showing 0 of 50000 chars]", out)

	// A negative budget behaves like zero rather than disabling the cap.
	out = truncateResult(strings.Repeat("x", 50000), -5)
	assert.Equal(t, "[truncated: showing 0 of 50000 chars]", out)

	assert.Equal(t, "", truncateResult("", 0))
}

func TestRequestChars(t *testing.T) {
	req := &wire.ChatRequest{Messages: []wire.ChatMessage{
		{Role: "system", Content: "abcde"},
		{Role: "user", Content: "12345"},
	}}
	assert.Equal(t, 10, RequestChars(req))
}

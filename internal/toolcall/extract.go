// Package toolcall recovers structured tool invocations from free-form model
// text tagged with an ad-hoc XML-like convention:
//
//	<tool_call>
//	<function=NAME>
//	<parameter=KEY>VALUE</parameter>
//	</function>
//	</tool_call>
//
// DESIGN: Small local models emit this grammar unreliably: missing wrappers,
// closing tags cut off by stop sequences, tokenizer control tokens leaked into
// the text. Extraction is therefore a forgiving normalization pass followed by
// regex capture, not a strict parser. Every malformed shape is a recoverable
// case: Extract never fails, it degrades to plain text.
//
// The same package owns serialization back into the grammar so the
// serialize→extract round trip has a single owner.
package toolcall

import (
	"regexp"
	"strings"
)

// Tag grammar markers. The request translator sets CloseTag as the backend
// stop sequence, which is exactly why extraction must tolerate its absence.
const (
	OpenTag        = "<tool_call>"
	CloseTag       = "</tool_call>"
	FunctionPrefix = "<function="
)

// HoldbackLen is how many trailing characters a streaming consumer must
// withhold so a marker or leak token split across chunk boundaries never
// partially reaches the client: one less than the longest such sequence.
var HoldbackLen = longestBoundarySequence() - 1

func longestBoundarySequence() int {
	longest := len(OpenTag)
	if len(FunctionPrefix) > longest {
		longest = len(FunctionPrefix)
	}
	for _, tok := range leakTokens {
		if len(tok) > longest {
			longest = len(tok)
		}
	}
	return longest
}

// leakTokens are tokenizer control artifacts that small models leak into
// their output. They are stripped before any parsing.
var leakTokens = []string{
	"<|im_start|>",
	"<|im_end|>",
	"<|endoftext|>",
	"<|eot_id|>",
	"<|end|>",
	"<|assistant|>",
	"<|user|>",
	"</s>",
}

// ParsedToolCall is a structured invocation recovered from model text. Input
// values are literal strings, trimmed of surrounding whitespace; multi-line
// values (file contents) are preserved verbatim.
type ParsedToolCall struct {
	Name  string
	Input map[string]string
}

// Result pairs the plain-text remainder with the recovered calls.
type Result struct {
	Text      string
	ToolCalls []ParsedToolCall
}

var (
	blockRe    = regexp.MustCompile(`(?s)<tool_call>\s*(.*?)\s*</tool_call>`)
	functionRe = regexp.MustCompile(`(?s)<function=([^>\s]+)>(.*?)(?:</function>|\z)`)
	paramRe    = regexp.MustCompile(`(?s)<parameter=([^>\s]+)>(.*?)(?:</parameter>|\z)`)
)

// Extract parses raw model output into plain text plus tool calls. It never
// returns an error: input with no recoverable tool call comes back whole (leak
// tokens removed) as Text with an empty ToolCalls slice.
func Extract(raw string) Result {
	cleaned := StripLeakTokens(raw)
	normalized := normalize(cleaned)

	idx := strings.Index(normalized, OpenTag)
	if idx < 0 {
		return Result{Text: strings.TrimSpace(normalized)}
	}

	res := Result{Text: strings.TrimSpace(normalized[:idx])}
	for _, block := range blockRe.FindAllStringSubmatch(normalized[idx:], -1) {
		if call, ok := parseBlock(block[1]); ok {
			res.ToolCalls = append(res.ToolCalls, call)
		}
	}
	return res
}

// StripLeakTokens removes known tokenizer control tokens.
func StripLeakTokens(s string) string {
	for _, tok := range leakTokens {
		s = strings.ReplaceAll(s, tok, "")
	}
	return s
}

// HasMarker reports whether s contains the start of a tool call in either
// accepted form.
func HasMarker(s string) bool {
	return MarkerIndex(s) >= 0
}

// MarkerIndex returns the position of the earliest tool-call start marker in
// s, or -1 when none is present.
func MarkerIndex(s string) int {
	idx := strings.Index(s, OpenTag)
	if j := strings.Index(s, FunctionPrefix); j >= 0 && (idx < 0 || j < idx) {
		idx = j
	}
	return idx
}

// normalize repairs the common truncation shapes before capture:
//   - a bare <function=...> gains a synthetic <tool_call> wrapper
//   - a missing </function> is appended when none exists anywhere
//   - unbalanced <tool_call> opens gain synthetic closes
func normalize(s string) string {
	if !strings.Contains(s, OpenTag) && strings.Contains(s, FunctionPrefix) {
		idx := strings.Index(s, FunctionPrefix)
		s = s[:idx] + OpenTag + "\n" + s[idx:]
	}
	if strings.Contains(s, FunctionPrefix) && !strings.Contains(s, "</function>") {
		s += "\n</function>"
	}
	for opens, closes := strings.Count(s, OpenTag), strings.Count(s, CloseTag); closes < opens; closes++ {
		s += "\n" + CloseTag
	}
	return s
}

// parseBlock extracts one call from the inside of a tool_call block. A block
// with no parseable <function=...> yields no call.
func parseBlock(inner string) (ParsedToolCall, bool) {
	fn := functionRe.FindStringSubmatch(inner)
	if fn == nil {
		return ParsedToolCall{}, false
	}

	call := ParsedToolCall{
		Name:  ClientToolName(fn[1]),
		Input: make(map[string]string),
	}
	for _, p := range paramRe.FindAllStringSubmatch(fn[2], -1) {
		call.Input[ClientParamName(p[1])] = strings.TrimSpace(p[2])
	}
	return call, true
}

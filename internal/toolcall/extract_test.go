package toolcall

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_PlainTextOnly(t *testing.T) {
	res := Extract("Just a normal answer with no tools.")
	assert.Equal(t, "Just a normal answer with no tools.", res.Text)
	assert.Empty(t, res.ToolCalls)
}

func TestExtract_WellFormedBlock(t *testing.T) {
	input := "Let me check.\n\n<tool_call>\n<function=bash>\n<parameter=command>ls</parameter>\n</function>\n</tool_call>"

	res := Extract(input)

	assert.Equal(t, "Let me check.", res.Text)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "Bash", res.ToolCalls[0].Name)
	assert.Equal(t, map[string]string{"command": "ls"}, res.ToolCalls[0].Input)
}

func TestExtract_StopSequenceTruncation(t *testing.T) {
	// Stop sequence </tool_call> removes closing tags entirely.
	input := "<function=read_file><parameter=file_path>x</parameter>"

	res := Extract(input)

	assert.Equal(t, "", res.Text)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "Read", res.ToolCalls[0].Name)
	assert.Equal(t, map[string]string{"file_path": "x"}, res.ToolCalls[0].Input)
}

func TestExtract_MissingCloseTag(t *testing.T) {
	input := "Running now.\n<tool_call>\n<function=bash>\n<parameter=command>go test ./...</parameter>\n</function>"

	res := Extract(input)

	assert.Equal(t, "Running now.", res.Text)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "Bash", res.ToolCalls[0].Name)
	assert.Equal(t, "go test ./...", res.ToolCalls[0].Input["command"])
}

func TestExtract_BareFunctionWithWrapperSynthesis(t *testing.T) {
	input := "On it.\n<function=grep>\n<parameter=pattern>TODO</parameter>\n</function>"

	res := Extract(input)

	assert.Equal(t, "On it.", res.Text)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "Grep", res.ToolCalls[0].Name)
}

func TestExtract_LeakTokensStripped(t *testing.T) {
	res := Extract("<|im_start|>Here you go.<|im_end|></s>")
	assert.Equal(t, "Here you go.", res.Text)
	assert.Empty(t, res.ToolCalls)
}

func TestExtract_MultilineParameterValue(t *testing.T) {
	content := "package main\n\nfunc main() {\n\tprintln(\"hi\")\n}"
	input := "<tool_call>\n<function=write_file>\n<parameter=file_path>main.go</parameter>\n<parameter=content>" +
		content + "</parameter>\n</function>\n</tool_call>"

	res := Extract(input)

	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "Write", res.ToolCalls[0].Name)
	assert.Equal(t, content, res.ToolCalls[0].Input["content"])
	assert.Equal(t, "main.go", res.ToolCalls[0].Input["file_path"])
}

func TestExtract_MultipleBlocks(t *testing.T) {
	input := "Two steps.\n" +
		"<tool_call>\n<function=read_file>\n<parameter=file_path>a.go</parameter>\n</function>\n</tool_call>\n" +
		"<tool_call>\n<function=read_file>\n<parameter=file_path>b.go</parameter>\n</function>\n</tool_call>"

	res := Extract(input)

	assert.Equal(t, "Two steps.", res.Text)
	require.Len(t, res.ToolCalls, 2)
	assert.Equal(t, "a.go", res.ToolCalls[0].Input["file_path"])
	assert.Equal(t, "b.go", res.ToolCalls[1].Input["file_path"])
}

func TestExtract_MalformedBlockProducesNoCall(t *testing.T) {
	// An opened block with no function inside degrades silently.
	res := Extract("Hmm.\n<tool_call>\ngarbage with no function tag")
	assert.Equal(t, "Hmm.", res.Text)
	assert.Empty(t, res.ToolCalls)
}

func TestExtract_UnknownNamesPassThrough(t *testing.T) {
	input := "<tool_call>\n<function=deploy_service>\n<parameter=environment>staging</parameter>\n</function>\n</tool_call>"

	res := Extract(input)

	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "deploy_service", res.ToolCalls[0].Name)
	assert.Equal(t, "staging", res.ToolCalls[0].Input["environment"])
}

func TestExtract_IdempotentOnNormalizedInput(t *testing.T) {
	serialized := Serialize("Read", map[string]string{"file_path": "x.go"})

	first := Extract(serialized)
	require.Len(t, first.ToolCalls, 1)

	// Re-serializing and re-extracting must not duplicate or mutate anything.
	again := Extract(Serialize(first.ToolCalls[0].Name, first.ToolCalls[0].Input))
	require.Len(t, again.ToolCalls, 1)
	assert.Equal(t, first.ToolCalls[0], again.ToolCalls[0])
	assert.Equal(t, "", again.Text)
}

func TestSerialize_RoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		input map[string]string
	}{
		{"Bash", map[string]string{"command": "ls -la"}},
		{"Read", map[string]string{"file_path": "internal/gateway/handler.go"}},
		{"Edit", map[string]string{"file_path": "a.go", "old_string": "x := 1", "new_string": "x := 2"}},
		{"Write", map[string]string{"file_path": "b.txt", "content": "line one\nline two"}},
		{"Glob", map[string]string{"pattern": "**/*.go", "path": "internal"}},
	}

	for _, tc := range cases {
		res := Extract(Serialize(tc.name, tc.input))
		require.Len(t, res.ToolCalls, 1, "case %s", tc.name)
		assert.Equal(t, tc.name, res.ToolCalls[0].Name)
		assert.Equal(t, tc.input, res.ToolCalls[0].Input)
	}
}

func TestHoldbackLen_CoversAllMarkersAndLeakTokens(t *testing.T) {
	assert.GreaterOrEqual(t, HoldbackLen, len(OpenTag)-1)
	assert.GreaterOrEqual(t, HoldbackLen, len(FunctionPrefix)-1)
	for _, tok := range leakTokens {
		assert.GreaterOrEqualf(t, HoldbackLen, len(tok)-1, "token %q", tok)
	}
}

func TestMarkerIndex(t *testing.T) {
	assert.Equal(t, -1, MarkerIndex("no markers here"))
	assert.Equal(t, 5, MarkerIndex("text <tool_call>"))
	assert.Equal(t, 0, MarkerIndex("<function=bash>"))
	// Earliest of the two wins.
	assert.Equal(t, 0, MarkerIndex("<function=bash> then <tool_call>"))
}

func TestStripLeakTokens(t *testing.T) {
	in := "<|im_start|>assistant\nhello</s><|endoftext|>"
	out := StripLeakTokens(in)
	assert.False(t, strings.Contains(out, "<|"))
	assert.False(t, strings.Contains(out, "</s>"))
}

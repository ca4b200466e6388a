package translate

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tierleap/tier-gateway/internal/toolcall"
	"github.com/tierleap/tier-gateway/internal/wire"
)

func chunkOf(text string) *wire.StreamChunk {
	return &wire.StreamChunk{Choices: []wire.ChunkChoice{{Delta: wire.ChunkDelta{Content: text}}}}
}

// runStream pushes the text in the given fragments and finishes, returning
// all events in order.
func runStream(fragments ...string) []Event {
	st := NewStreamTranslator("msg_test", "local-model")
	var events []Event
	for _, f := range fragments {
		events = append(events, st.Push(chunkOf(f))...)
	}
	return append(events, st.Finish()...)
}

func eventNames(events []Event) []string {
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = e.Name
	}
	return names
}

func concatTextDeltas(events []Event) string {
	var out string
	for _, e := range events {
		if d, ok := e.Data.(wire.ContentBlockDeltaEvent); ok && d.Delta.Type == "text_delta" {
			out += d.Delta.Text
		}
	}
	return out
}

func TestStream_PlainTextEventOrder(t *testing.T) {
	events := runStream("Hello.")

	assert.Equal(t, []string{
		wire.EventMessageStart,
		wire.EventContentBlockStart,
		wire.EventContentBlockDelta,
		wire.EventContentBlockStop,
		wire.EventMessageDelta,
		wire.EventMessageStop,
	}, eventNames(events))

	assert.Equal(t, "Hello.", concatTextDeltas(events))

	last := events[len(events)-2].Data.(wire.MessageDeltaEvent)
	assert.Equal(t, wire.StopEndTurn, last.Delta.StopReason)
}

func TestStream_TextMatchesExtractorOutput(t *testing.T) {
	inputs := []string{
		"Short.",
		"A longer answer that spans well past the holdback window size.",
		"  leading and trailing whitespace trimmed  ",
		"line one\nline two\n",
	}
	for _, input := range inputs {
		events := runStream(input[:len(input)/2], input[len(input)/2:])
		want := toolcall.Extract(input).Text
		assert.Equal(t, want, concatTextDeltas(events), "input %q", input)
	}
}

func TestStream_ToolCallSuppressionAndFinish(t *testing.T) {
	raw := "Let me check.\n\n<tool_call>\n<function=bash>\n<parameter=command>ls</parameter>\n</function>\n"
	// First fragment stays inside the holdback window so the whole text
	// reaches the client as one delta once the marker resolves it.
	events := runStream(raw[:10], raw[10:])

	assert.Equal(t, "Let me check.", concatTextDeltas(events))

	names := eventNames(events)
	// One text block, one tool block, then the closing pair.
	assert.Equal(t, []string{
		wire.EventMessageStart,
		wire.EventContentBlockStart, // text
		wire.EventContentBlockDelta,
		wire.EventContentBlockStop,
		wire.EventContentBlockStart, // tool_use
		wire.EventContentBlockDelta, // input_json_delta
		wire.EventContentBlockStop,
		wire.EventMessageDelta,
		wire.EventMessageStop,
	}, names)

	start := events[4].Data.(wire.ContentBlockStartEvent)
	assert.Equal(t, wire.BlockToolUse, start.ContentBlock.Type)
	assert.Equal(t, "Bash", start.ContentBlock.Name)
	assert.Equal(t, 1, start.Index)

	delta := events[5].Data.(wire.ContentBlockDeltaEvent)
	assert.Equal(t, "input_json_delta", delta.Delta.Type)
	assert.JSONEq(t, `{"command":"ls"}`, delta.Delta.PartialJSON)

	final := events[7].Data.(wire.MessageDeltaEvent)
	assert.Equal(t, wire.StopToolUse, final.Delta.StopReason)
}

func TestStream_SplitMarkerSafetyAtEveryBoundary(t *testing.T) {
	raw := "Checking now. <tool_call>\n<function=read_file>\n<parameter=file_path>a.go</parameter>\n</function>\n</tool_call>"

	whole := runStream(raw)
	wantText := concatTextDeltas(whole)

	for i := 1; i < len(raw); i++ {
		events := runStream(raw[:i], raw[i:])
		assert.Equal(t, wantText, concatTextDeltas(events), "split at %d", i)

		// No emitted text fragment may contain a partial marker.
		for _, e := range events {
			if d, ok := e.Data.(wire.ContentBlockDeltaEvent); ok && d.Delta.Type == "text_delta" {
				assert.NotContains(t, d.Delta.Text, "<tool_call", "split at %d", i)
			}
		}
	}
}

func TestStream_TruncatedToolCallRecoveredAtFinish(t *testing.T) {
	// Stream ends mid-call: the stop sequence ate the closing tags.
	events := runStream("<function=read_file>", "<parameter=file_path>x</parameter>")

	names := eventNames(events)
	assert.Contains(t, names, wire.EventContentBlockStart)

	var toolStart *wire.ContentBlockStartEvent
	for _, e := range events {
		if s, ok := e.Data.(wire.ContentBlockStartEvent); ok && s.ContentBlock.Type == wire.BlockToolUse {
			toolStart = &s
			break
		}
	}
	require.NotNil(t, toolStart)
	assert.Equal(t, "Read", toolStart.ContentBlock.Name)
	// No text ever: tool block gets index 0.
	assert.Equal(t, 0, toolStart.Index)
	assert.Equal(t, "", concatTextDeltas(events))
}

func TestStream_EmptyDeltaStillEmitsHeaderOnce(t *testing.T) {
	st := NewStreamTranslator("msg_test", "local-model")

	first := st.Push(chunkOf(""))
	require.Len(t, first, 1)
	assert.Equal(t, wire.EventMessageStart, first[0].Name)

	second := st.Push(chunkOf(""))
	assert.Empty(t, second)
}

func TestStream_LeakTokensNeverReachClient(t *testing.T) {
	events := runStream("<|im_start|>Hello.", "<|im_end|>")
	assert.Equal(t, "Hello.", concatTextDeltas(events))
}

func TestStream_LeakTokenSplitAtEveryBoundary(t *testing.T) {
	raw := "Hello<|endoftext|> world, here is the answer you wanted."
	want := "Hello world, here is the answer you wanted."

	for i := 0; i <= len(raw); i++ {
		events := runStream(raw[:i], raw[i:])
		got := concatTextDeltas(events)
		assert.Equalf(t, want, got, "split at %d", i)
		assert.NotContainsf(t, got, "<|", "split at %d", i)
	}
}

func TestHoldback_CoversLongestLeakToken(t *testing.T) {
	assert.GreaterOrEqual(t, toolcall.HoldbackLen, len("<|endoftext|>")-1)
}

func TestStream_BlockIndicesStrictlyIncreasing(t *testing.T) {
	raw := "Two calls coming.\n" +
		"<tool_call>\n<function=bash>\n<parameter=command>ls</parameter>\n</function>\n</tool_call>\n" +
		"<tool_call>\n<function=bash>\n<parameter=command>pwd</parameter>\n</function>\n</tool_call>"
	events := runStream(raw)

	var indices []int
	for _, e := range events {
		if s, ok := e.Data.(wire.ContentBlockStartEvent); ok {
			indices = append(indices, s.Index)
		}
	}
	require.NotEmpty(t, indices)
	for i, idx := range indices {
		assert.Equal(t, i, idx, fmt.Sprintf("block %d", i))
	}
}

func TestStream_FinishIsTerminal(t *testing.T) {
	st := NewStreamTranslator("msg_test", "m")
	_ = st.Push(chunkOf("hello"))
	_ = st.Finish()

	// Further calls are no-ops.
	assert.Empty(t, st.Push(chunkOf("more")))
	assert.Empty(t, st.Finish())
}

package prompt

import (
	"strings"

	"github.com/tierleap/tier-gateway/internal/wire"
)

// ToolDocs renders the tool-calling instructions injected into the system
// prompt *after* reduction, so the policy can never trim them away. The
// format taught here is exactly the grammar the extractor parses.
func ToolDocs(tools []wire.Tool) string {
	if len(tools) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\n# Tools\n\n")
	b.WriteString("You can call tools. To call a tool, respond with a block in this exact format:\n\n")
	b.WriteString("<tool_call>\n<function=TOOL_NAME>\n<parameter=PARAM_NAME>value</parameter>\n</function>\n</tool_call>\n\n")
	b.WriteString("Emit at most one tool call per response, after any explanatory text. ")
	b.WriteString("Available tools:\n\n")

	for _, t := range tools {
		b.WriteString("- ")
		b.WriteString(t.Name)
		if t.Description != "" {
			b.WriteString(": ")
			b.WriteString(firstLine(t.Description))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

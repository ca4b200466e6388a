package toolcall

import (
	"sort"
	"strings"
)

// Serialize renders a tool call back into the tag grammar Extract consumes.
// Keys are emitted in sorted order so serialization is deterministic.
//
// Serialized history must survive a round trip: for any (name, input),
// Extract(Serialize(name, input)) recovers the identical pair. Client-facing
// names are not in the local→client maps, so mapping leaves them untouched.
func Serialize(name string, input map[string]string) string {
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(OpenTag)
	b.WriteString("\n<function=")
	b.WriteString(name)
	b.WriteString(">\n")
	for _, k := range keys {
		b.WriteString("<parameter=")
		b.WriteString(k)
		b.WriteString(">")
		b.WriteString(input[k])
		b.WriteString("</parameter>\n")
	}
	b.WriteString("</function>\n")
	b.WriteString(CloseTag)
	return b.String()
}

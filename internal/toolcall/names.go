package toolcall

// Local models are prompted with snake_case tool names they have seen in
// training data; the coding client expects its own vocabulary. Unknown names
// pass through unchanged in both maps, which is what makes the
// serialize→extract round trip hold for client-native names.

var clientToolNames = map[string]string{
	"read_file":    "Read",
	"open_file":    "Read",
	"write_file":   "Write",
	"create_file":  "Write",
	"edit_file":    "Edit",
	"str_replace":  "Edit",
	"bash":         "Bash",
	"run_command":  "Bash",
	"shell":        "Bash",
	"grep":         "Grep",
	"search":       "Grep",
	"search_files": "Grep",
	"glob":         "Glob",
	"list_files":   "Glob",
	"find_files":   "Glob",
	"web_fetch":    "WebFetch",
	"todo_write":   "TodoWrite",
}

// Keys here must never collide with a name the client itself uses, or the
// history round trip would rewrite it.
var clientParamNames = map[string]string{
	"file":     "file_path",
	"filename": "file_path",
	"cmd":      "command",
	"old_str":  "old_string",
	"new_str":  "new_string",
	"regex":    "pattern",
}

// ClientToolName maps a local model's tool name to the client's vocabulary.
func ClientToolName(name string) string {
	if mapped, ok := clientToolNames[name]; ok {
		return mapped
	}
	return name
}

// ClientParamName maps a local model's parameter name to the client's
// vocabulary.
func ClientParamName(name string) string {
	if mapped, ok := clientParamNames[name]; ok {
		return mapped
	}
	return name
}

package agent

import (
	"fmt"
	"strings"

	"github.com/pmnowak/ollama-code/session"
	"github.com/pmnowak/ollama-code/tools"
)

const promptInstructions = `IMPORTANT INSTRUCTIONS:
1. When you need to use a tool, respond with a JSON block in this exact format:
` + "```tool" + `
{"tool": "tool_name", "args": {"param": "value"}}
` + "```" + `

2. You can include explanation text before or after the tool block.
3. Only call ONE tool at a time, then wait for the result.
4. After receiving tool results, continue working or call task_complete when done.
5. Always read relevant files before modifying them.
6. For coding tasks, make sure to test your changes if possible.
7. Use edit_file for small changes in large files instead of write_file.
8. When using edit_file, ensure the 'old_content' matches EXACTLY what is in the file.

Example tool calls:
` + "```tool" + `
{"tool": "list_directory", "args": {"path": "."}}
` + "```" + `

` + "```tool" + `
{"tool": "read_file", "args": {"path": "main.go"}}
` + "```" + `

` + "```tool" + `
{"tool": "run_command", "args": {"command": "go test ./..."}}
` + "```" + `

` + "```tool" + `
{
  "tool": "edit_file",
  "args": {
    "path": "main.go",
    "old_content": "func hello() {\n\tfmt.Println(\"hi\")\n}",
    "new_content": "func hello() {\n\tfmt.Println(\"hello world\")\n}"
  }
}
` + "```"

// SystemPrompt returns the builder for the system Turn. The prompt embeds the
// working directory and the tool list, so it is rebuilt whenever the session
// resets.
func SystemPrompt(specs []tools.Spec) session.PromptFunc {
	catalog := describeTools(specs)
	return func(workDir string) string {
		var b strings.Builder
		b.WriteString("You are a helpful coding assistant with access to the local filesystem and shell.\n")
		fmt.Fprintf(&b, "Current working directory: %s\n\n", workDir)
		b.WriteString("You have access to the following tools:\n")
		b.WriteString(catalog)
		b.WriteString("\n")
		b.WriteString(promptInstructions)
		b.WriteString("\n")
		return b.String()
	}
}

func describeTools(specs []tools.Spec) string {
	var b strings.Builder
	for _, spec := range specs {
		fmt.Fprintf(&b, "- %s: %s\n", spec.Name, spec.Description)
		for _, p := range spec.Params {
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Fprintf(&b, "    - %s (%s, %s): %s\n", p.Name, p.Type, req, p.Description)
		}
	}
	return b.String()
}

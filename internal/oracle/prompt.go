package oracle

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed templates/system_prompt.tmpl
var promptFS embed.FS

var systemPrompt = template.Must(template.New("system_prompt.tmpl").
	Funcs(template.FuncMap{"join": strings.Join}).
	ParseFS(promptFS, "templates/system_prompt.tmpl"))

// PromptData fills the system prompt.
type PromptData struct {
	Deadline         string
	FormURL          string
	Institute        string
	MinIntervalHours int
	Providers        []string
	Simulate         bool
}

// SystemPrompt renders the system instructions for a run.
func SystemPrompt(d PromptData) (string, error) {
	var buf bytes.Buffer
	if err := systemPrompt.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("oracle: render system prompt: %w", err)
	}
	return buf.String(), nil
}

// TaskPrompt is the opening user turn of a run.
func TaskPrompt(pending int, simulate bool) string {
	mode := "DISABLED"
	if simulate {
		mode = "ENABLED"
	}
	return fmt.Sprintf(`Process the %d students with incomplete profiles loaded for this run.

For each student:
1. Analyze their situation.
2. Check whether they have been contacted before.
3. Decide: contact now (with which tone and urgency), schedule for later, or skip.

Execute your decisions using the available tools. Dry run mode: %s.
After processing all students, provide a summary and stop.`, pending, mode)
}

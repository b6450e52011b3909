package contextmgr

import (
	"encoding/json"
	"strings"
	"time"

	"chatd/internal/action"
	"chatd/internal/config"
	"chatd/internal/i18n"
)

// DefaultInputTemplate passes user input through unchanged.
const DefaultInputTemplate = "{{input}}"

// DefaultSystemTemplate mirrors the system prompt the hosted web client
// injects for the gpt family.
const DefaultSystemTemplate = `You are a large language model trained by {{ServiceProvider}}.
Knowledge cutoff: {{cutoff}}
Current model: {{model}}
Current time: {{time}}
Latex inline: \(x^2\)
Latex block: $$e=mc^2$$`

const toolsSystemTemplate = `

You can invoke external tools. To call a tool, reply with exactly one fenced block:

` + "```json:action" + `
{"client_id": "<tool client id>", "request": { ... }}
` + "```" + `

Available tools:
{{tools}}`

// knowledgeCutoff maps model names to their training cutoff date.
var knowledgeCutoff = map[string]string{
	"gpt-4o":      "2023-10",
	"gpt-4o-mini": "2023-10",
	"gpt-4-turbo": "2023-12",
	"gpt-4":       "2021-09",
}

const defaultCutoff = "2021-09"

// FillTemplate renders the session's input template. Recognized variables:
// {{ServiceProvider}}, {{cutoff}}, {{model}}, {{time}}, {{lang}}, {{input}}.
// When the input already starts with the rendered template the template is
// dropped to avoid duplication; a template missing {{input}} gets it
// appended so user text is never lost.
func FillTemplate(input string, cfg config.ModelConfig) string {
	output := cfg.Template
	if strings.TrimSpace(output) == "" {
		output = DefaultInputTemplate
	}

	if input != "" && strings.HasPrefix(input, output) {
		output = ""
	}
	if !strings.Contains(output, "{{input}}") {
		output += "\n{{input}}"
	}

	cutoff, ok := knowledgeCutoff[cfg.Model]
	if !ok {
		cutoff = defaultCutoff
	}
	provider := cfg.Provider
	if provider == "" {
		provider = config.ProviderOpenAI
	}

	r := strings.NewReplacer(
		"{{ServiceProvider}}", provider,
		"{{cutoff}}", cutoff,
		"{{model}}", cfg.Model,
		"{{time}}", time.Now().Format("Mon Jan 2 15:04:05 MST 2006"),
		"{{lang}}", i18n.Lang(),
		"{{input}}", input,
	)
	return strings.TrimSpace(r.Replace(output))
}

// ToolsPrompt serializes tool descriptors into the system prompt block.
func ToolsPrompt(tools []action.ToolDescriptor) string {
	if len(tools) == 0 {
		return ""
	}
	var b strings.Builder
	for _, t := range tools {
		data, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			continue
		}
		b.Write(data)
		b.WriteString("\n")
	}
	return strings.Replace(toolsSystemTemplate, "{{tools}}", strings.TrimRight(b.String(), "\n"), 1)
}

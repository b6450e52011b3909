package contextmgr

import (
	"strings"
	"testing"

	"chatd/internal/action"
	"chatd/internal/config"
)

func TestFillTemplate(t *testing.T) {
	cfg := config.ModelConfig{Model: "gpt-4o", Provider: config.ProviderOpenAI}

	t.Run("default passthrough", func(t *testing.T) {
		if got := FillTemplate("hello", cfg); got != "hello" {
			t.Fatalf("got %q, want %q", got, "hello")
		}
	})

	t.Run("custom template substitutes input", func(t *testing.T) {
		c := cfg
		c.Template = "Answer briefly: {{input}}"
		if got := FillTemplate("what is go", c); got != "Answer briefly: what is go" {
			t.Fatalf("got %q", got)
		}
	})

	t.Run("input starting with template drops template", func(t *testing.T) {
		c := cfg
		c.Template = "Answer briefly:"
		got := FillTemplate("Answer briefly: what is go", c)
		if got != "Answer briefly: what is go" {
			t.Fatalf("template duplicated: %q", got)
		}
	})

	t.Run("template missing input var gets it appended", func(t *testing.T) {
		c := cfg
		c.Template = "You are terse."
		got := FillTemplate("hi", c)
		if !strings.Contains(got, "You are terse.") || !strings.HasSuffix(got, "hi") {
			t.Fatalf("got %q", got)
		}
	})

	t.Run("variables resolved", func(t *testing.T) {
		c := cfg
		c.Template = "provider={{ServiceProvider}} model={{model}} cutoff={{cutoff}} {{input}}"
		got := FillTemplate("x", c)
		if !strings.Contains(got, "provider=OpenAI") {
			t.Fatalf("provider not substituted: %q", got)
		}
		if !strings.Contains(got, "model=gpt-4o") {
			t.Fatalf("model not substituted: %q", got)
		}
		if !strings.Contains(got, "cutoff=2023-10") {
			t.Fatalf("cutoff not substituted: %q", got)
		}
	})

	t.Run("unknown model falls back to default cutoff", func(t *testing.T) {
		c := cfg
		c.Model = "experimental-model"
		c.Template = "{{cutoff}} {{input}}"
		got := FillTemplate("x", c)
		if !strings.HasPrefix(got, defaultCutoff) {
			t.Fatalf("got %q, want prefix %q", got, defaultCutoff)
		}
	})
}

func TestToolsPrompt(t *testing.T) {
	if got := ToolsPrompt(nil); got != "" {
		t.Fatalf("empty tool list produced prompt %q", got)
	}

	got := ToolsPrompt([]action.ToolDescriptor{
		{ClientID: "search", Name: "web_search", Description: "search the web"},
	})
	if !strings.Contains(got, "json:action") {
		t.Fatalf("prompt missing action fence: %q", got)
	}
	if !strings.Contains(got, "web_search") {
		t.Fatalf("prompt missing tool name: %q", got)
	}
}

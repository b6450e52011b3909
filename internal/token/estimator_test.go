package token

import (
	"strings"
	"testing"

	"chatd/internal/chat"
)

func TestEstimateTextGrowsWithLength(t *testing.T) {
	e := Default()
	short := e.EstimateText("hello")
	long := e.EstimateText(strings.Repeat("hello world ", 50))
	if short <= 0 {
		t.Fatalf("short estimate = %d, want > 0", short)
	}
	if long <= short {
		t.Fatalf("long estimate %d not greater than short %d", long, short)
	}
}

func TestEstimateTextEmpty(t *testing.T) {
	if got := Default().EstimateText(""); got != 0 {
		t.Fatalf("empty estimate = %d, want 0", got)
	}
}

func TestHeuristicTokenCount(t *testing.T) {
	tests := []struct {
		name string
		text string
		min  int
	}{
		{"ascii", "hello world", 2},
		{"cjk heavier than ascii", "你好世界测试文本", 10},
		{"single char floors at one", "a", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := heuristicTokenCount(tt.text); got < tt.min {
				t.Fatalf("heuristicTokenCount(%q) = %d, want >= %d", tt.text, got, tt.min)
			}
		})
	}
}

func TestCountMessages(t *testing.T) {
	e := Default()
	msgs := []chat.Message{
		{Role: chat.RoleUser, Content: "first message"},
		{Role: chat.RoleAssistant, Content: "second message"},
	}
	sum := e.EstimateMessage(msgs[0]) + e.EstimateMessage(msgs[1])
	if got := e.CountMessages(msgs); got != sum {
		t.Fatalf("CountMessages = %d, want %d", got, sum)
	}
}

func TestModelToEncoding(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"gpt-4o-mini", "o200k_base"},
		{"o1-preview", "o200k_base"},
		{"gpt-4-turbo", "cl100k_base"},
		{"gpt-3.5-turbo", "cl100k_base"},
		{"", "cl100k_base"},
		{"deepseek-chat", "cl100k_base"},
	}
	for _, tt := range tests {
		if got := modelToEncoding(tt.model); got != tt.want {
			t.Fatalf("modelToEncoding(%q) = %q, want %q", tt.model, got, tt.want)
		}
	}
}

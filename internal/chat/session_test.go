package chat

import (
	"testing"

	"chatd/internal/config"
)

func TestNewSession(t *testing.T) {
	global := config.ModelConfig{Model: "gpt-4o-mini", HistoryMessageCount: 4}
	s := NewSession("New Conversation", global)

	if s.ID == "" {
		t.Fatal("expected session id")
	}
	if s.Kind != KindDirect {
		t.Fatalf("kind = %q, want %q", s.Kind, KindDirect)
	}
	if len(s.Messages) != 0 {
		t.Fatalf("expected empty transcript, got %d messages", len(s.Messages))
	}
	if s.Mask.ModelConfig.Model != "gpt-4o-mini" {
		t.Fatalf("mask model = %q", s.Mask.ModelConfig.Model)
	}
}

func TestNewThreadSession(t *testing.T) {
	s := NewThreadSession("thread_123", "New Conversation", config.ModelConfig{})
	if s.Kind != KindThread {
		t.Fatalf("kind = %q, want %q", s.Kind, KindThread)
	}
	if s.ThreadID != "thread_123" {
		t.Fatalf("thread id = %q", s.ThreadID)
	}
}

func TestApplyMask(t *testing.T) {
	global := config.ModelConfig{Model: "gpt-4o-mini", Temperature: 0.5}

	t.Run("mask model wins", func(t *testing.T) {
		s := NewSession("New Conversation", global)
		s.ApplyMask(Mask{
			ID:          "m1",
			Name:        "Translator",
			Context:     []Message{NewMessage(RoleSystem, "translate everything")},
			ModelConfig: config.ModelConfig{Model: "gpt-4o", Temperature: 0.1},
		}, global)

		if s.Mask.ModelConfig.Model != "gpt-4o" {
			t.Fatalf("model = %q, want gpt-4o", s.Mask.ModelConfig.Model)
		}
		if s.Topic != "Translator" {
			t.Fatalf("topic = %q, want mask name", s.Topic)
		}
		if len(s.Mask.Context) != 1 {
			t.Fatalf("context len = %d", len(s.Mask.Context))
		}
	})

	t.Run("empty mask model keeps global", func(t *testing.T) {
		s := NewSession("New Conversation", global)
		s.ApplyMask(Mask{ID: "m2"}, global)
		if s.Mask.ModelConfig.Model != "gpt-4o-mini" {
			t.Fatalf("model = %q, want global default", s.Mask.ModelConfig.Model)
		}
		if s.Topic != "New Conversation" {
			t.Fatalf("topic = %q, want unchanged", s.Topic)
		}
	})
}

func TestMessageByID(t *testing.T) {
	s := NewSession("t", config.ModelConfig{})
	m := NewMessage(RoleUser, "hi")
	s.Messages = append(s.Messages, m)

	if got := s.MessageByID(m.ID); got == nil || got.Content != "hi" {
		t.Fatalf("MessageByID failed: %+v", got)
	}
	if got := s.MessageByID("missing"); got != nil {
		t.Fatalf("expected nil for unknown id, got %+v", got)
	}

	// The returned pointer must alias the stored message.
	s.MessageByID(m.ID).Content = "edited"
	if s.Messages[0].Content != "edited" {
		t.Fatal("MessageByID must return a pointer into the transcript")
	}
}

package contextmgr

import (
	"strings"

	"chatd/internal/action"
	"chatd/internal/chat"
	"chatd/internal/config"
	"chatd/internal/i18n"
	"chatd/internal/token"
)

// Assembler builds the exact ordered message list submitted to the model
// for one turn. The output has four blocks, in order: system prompt(s),
// long-term memory, mask in-context prompts, recent history.
type Assembler struct {
	est *token.Estimator
}

func New(est *token.Estimator) *Assembler {
	if est == nil {
		est = token.Default()
	}
	return &Assembler{est: est}
}

// systemPromptEligible 仅 gpt/chatgpt 系列注入全局 system prompt。
// Only the gpt/chatgpt family gets the global system prompt injected.
func systemPromptEligible(model string) bool {
	return strings.HasPrefix(model, "gpt-") || strings.HasPrefix(model, "chatgpt-")
}

// Build assembles the context for a session's next turn. The newest user
// message is not part of the output; the caller appends it.
func (a *Assembler) Build(sess *chat.Session, cfg config.ModelConfig, tools []action.ToolDescriptor) []chat.Message {
	total := len(sess.Messages)
	clearIndex := sess.ClearContextIndex

	shouldInject := cfg.EnableInjectSystemPrompts && systemPromptEligible(cfg.Model)

	var systemPrompts []chat.Message
	if shouldInject || len(tools) > 0 {
		content := ""
		if shouldInject {
			sysCfg := cfg
			sysCfg.Template = DefaultSystemTemplate
			content = FillTemplate("", sysCfg)
		}
		if len(tools) > 0 {
			content += ToolsPrompt(tools)
		}
		systemPrompts = []chat.Message{chat.NewMessage(chat.RoleSystem, content)}
	}

	// Long-term memory is dropped when the user cleared context after the
	// last summarization: cleared context always wins.
	shouldSendMemory := cfg.SendMemory &&
		len(sess.MemoryPrompt) > 0 &&
		sess.LastSummarizeIndex > clearIndex

	var memoryPrompts []chat.Message
	if shouldSendMemory {
		memoryPrompts = []chat.Message{MemoryMessage(sess.MemoryPrompt)}
	}

	shortTermStart := total - cfg.HistoryMessageCount
	if shortTermStart < 0 {
		shortTermStart = 0
	}
	memoryStart := shortTermStart
	if shouldSendMemory && sess.LastSummarizeIndex < shortTermStart {
		memoryStart = sess.LastSummarizeIndex
	}
	contextStart := memoryStart
	if clearIndex > contextStart {
		contextStart = clearIndex
	}

	// Walk newest to oldest, skipping errored messages, until the token
	// budget would be reached or contextStart is passed.
	reversed := make([]chat.Message, 0, total-contextStart)
	used := 0
	for i := total - 1; i >= contextStart; i-- {
		msg := sess.Messages[i]
		if msg.IsError {
			continue
		}
		cost := a.est.EstimateMessage(msg)
		if used+cost >= cfg.MaxTokens {
			break
		}
		used += cost
		reversed = append(reversed, msg)
	}

	out := make([]chat.Message, 0, len(systemPrompts)+len(memoryPrompts)+len(sess.Mask.Context)+len(reversed))
	out = append(out, systemPrompts...)
	out = append(out, memoryPrompts...)
	out = append(out, sess.Mask.Context...)
	for i := len(reversed) - 1; i >= 0; i-- {
		out = append(out, reversed[i])
	}
	return out
}

// MemoryMessage wraps the session's memory prompt as the recap system
// message sent in place of the summarized history.
func MemoryMessage(memoryPrompt string) chat.Message {
	return chat.NewMessage(chat.RoleSystem, i18n.T("store.prompt.history", memoryPrompt))
}

package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolCall records one tool invocation made by the model mid-stream.
// The result is merged back at most once, matched by ID.
type ToolCall struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Arguments    string `json:"arguments,omitempty"`
	Result       string `json:"result,omitempty"`
	IsError      bool   `json:"is_error,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Content part kinds.
const (
	PartText  = "text"
	PartImage = "image_url"
)

// ContentPart is one piece of a multimodal message body.
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Message 单条会话消息。ID 创建后不变；流式阶段原地更新 Content 与标志位。
// Message is a single chat message. Its ID is immutable once created;
// content and flags are mutated in place while streaming.
type Message struct {
	ID               string        `json:"id"`
	Role             string        `json:"role"`
	Content          string        `json:"content,omitempty"`
	Parts            []ContentPart `json:"parts,omitempty"`
	Date             time.Time     `json:"date"`
	Streaming        bool          `json:"streaming,omitempty"`
	IsError          bool          `json:"is_error,omitempty"`
	Tools            []ToolCall    `json:"tools,omitempty"`
	Model            string        `json:"model,omitempty"`
	AudioURL         string        `json:"audio_url,omitempty"`
	IsActionResponse bool          `json:"is_action_response,omitempty"`
}

// NewMessage creates a message with a fresh id and timestamp.
func NewMessage(role, content string) Message {
	return Message{
		ID:      uuid.NewString(),
		Role:    role,
		Content: content,
		Date:    time.Now(),
	}
}

// TextOf returns the plain-text body of a message: the string content when
// set, otherwise the concatenated text parts. Image parts are skipped.
func TextOf(m Message) string {
	if m.Content != "" {
		return m.Content
	}
	if len(m.Parts) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText && p.Text != "" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// AppendTool records a tool call announced by the model.
func (m *Message) AppendTool(tc ToolCall) {
	m.Tools = append(m.Tools, tc)
}

// MergeTool replaces the tool call with a matching ID. Unknown ids are
// dropped on the floor rather than appended.
func (m *Message) MergeTool(tc ToolCall) {
	for i := range m.Tools {
		if m.Tools[i].ID == tc.ID {
			m.Tools[i] = tc
			return
		}
	}
}

package chat

import (
	"time"

	"github.com/google/uuid"

	"chatd/internal/config"
)

// Session kinds. The kind is fixed when the session is created and selects
// the turn strategy (direct completion vs. remote thread).
const (
	KindDirect = "direct"
	KindThread = "thread"
)

// Stat accumulates rough transcript size counters for one session.
type Stat struct {
	TokenCount int `json:"token_count"`
	WordCount  int `json:"word_count"`
	CharCount  int `json:"char_count"`
}

// Mask 会话模板：默认话题、固定上下文消息与模型配置。
// Mask is a reusable session template: default topic, fixed in-context
// prompts injected on every turn, and a model configuration.
type Mask struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Context     []Message          `json:"context,omitempty"`
	ModelConfig config.ModelConfig `json:"model_config"`
}

// Session is one persisted conversation. When ThreadID is set the local
// message list is a cache of the remote thread's authoritative history.
type Session struct {
	ID                 string    `json:"id"`
	Topic              string    `json:"topic"`
	ThreadID           string    `json:"thread_id,omitempty"`
	Kind               string    `json:"kind"`
	MemoryPrompt       string    `json:"memory_prompt"`
	Messages           []Message `json:"messages"`
	Stat               Stat      `json:"stat"`
	LastUpdate         time.Time `json:"last_update"`
	LastSummarizeIndex int       `json:"last_summarize_index"`
	ClearContextIndex  int       `json:"clear_context_index,omitempty"`
	Mask               Mask      `json:"mask"`
}

// NewSession creates an empty direct-completion session with the given
// default topic. The UI-level greeting message is not part of the
// transcript, so a fresh session starts with zero messages and zero stats.
func NewSession(defaultTopic string, globalModel config.ModelConfig) *Session {
	return &Session{
		ID:         uuid.NewString(),
		Topic:      defaultTopic,
		Kind:       KindDirect,
		LastUpdate: time.Now(),
		Mask: Mask{
			ID:          uuid.NewString(),
			ModelConfig: globalModel,
		},
	}
}

// NewThreadSession creates a session bound to a remote thread.
func NewThreadSession(threadID, defaultTopic string, globalModel config.ModelConfig) *Session {
	s := NewSession(defaultTopic, globalModel)
	s.ThreadID = threadID
	s.Kind = KindThread
	return s
}

// ApplyMask seeds a session from a template. The mask's model config wins
// over the global default field by field only where the mask sets one.
func (s *Session) ApplyMask(mask Mask, globalModel config.ModelConfig) {
	merged := globalModel
	if mask.ModelConfig.Model != "" {
		merged = mask.ModelConfig
	}
	s.Mask = Mask{
		ID:          mask.ID,
		Name:        mask.Name,
		Context:     append([]Message(nil), mask.Context...),
		ModelConfig: merged,
	}
	if mask.Name != "" {
		s.Topic = mask.Name
	}
}

// LastMessage returns the newest message, or nil for an empty transcript.
func (s *Session) LastMessage() *Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return &s.Messages[len(s.Messages)-1]
}

// MessageByID locates a message in this session. Streaming callbacks use
// this instead of holding pointers across suspension points.
func (s *Session) MessageByID(id string) *Message {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return &s.Messages[i]
		}
	}
	return nil
}

// Collection is the session store's persisted state. Sessions is never
// empty: deleting the last session immediately replaces it with a fresh one.
type Collection struct {
	Sessions     []*Session `json:"sessions"`
	CurrentIndex int        `json:"current_session_index"`
	LastInput    string     `json:"last_input"`
}

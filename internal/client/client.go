package client

import (
	"context"
	"errors"
	"strings"
	"sync"

	"chatd/internal/chat"
	"chatd/internal/config"
)

// RequestConfig carries the per-call model parameters. MaxTokens is left
// zero for summarization calls, where it is not meaningful.
type RequestConfig struct {
	Model       string
	Provider    string
	Stream      bool
	Temperature float64
	MaxTokens   int
}

// ChatRequest is one chat call: the assembled message list plus config.
type ChatRequest struct {
	Messages []chat.Message
	Config   RequestConfig
}

// Callbacks 流式响应回调集。OnFinish 与 OnError 恰好触发其一。
// Callbacks is the streaming callback contract. Exactly one of OnFinish
// (success) or OnError (failure) fires per call. OnController hands the
// caller a cancellation handle before any network traffic happens.
type Callbacks struct {
	OnUpdate     func(partial string)
	OnFinish     func(final string, status int)
	OnError      func(err error)
	OnBeforeTool func(tc chat.ToolCall)
	OnAfterTool  func(tc chat.ToolCall)
	OnController func(cancel context.CancelFunc)
}

// Client is the backend chat-call entry point.
type Client interface {
	Chat(ctx context.Context, req ChatRequest, cb Callbacks)
	Provider() string
}

// Registry resolves a client by provider display name. Unknown names fall
// back to the OpenAI client so a stale provider string in a persisted
// session never strands a turn.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
	def     string
}

func NewRegistry(cfg *config.App) *Registry {
	r := &Registry{
		clients: make(map[string]Client),
		def:     config.ProviderOpenAI,
	}
	for _, name := range []string{config.ProviderOpenAI, config.ProviderGoogle, config.ProviderDeepSeek} {
		r.clients[name] = NewOpenAI(name, cfg.ProviderFor(name))
	}
	return r
}

// Register installs or replaces a client. Tests use this to plug fakes in.
func (r *Registry) Register(name string, c Client) {
	r.mu.Lock()
	r.clients[name] = c
	r.mu.Unlock()
}

// ForProvider returns the client for a provider display name.
func (r *Registry) ForProvider(name string) Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.clients[strings.TrimSpace(name)]; ok {
		return c
	}
	return r.clients[r.def]
}

// BuildHeaders returns the auth headers for raw HTTP calls that bypass the
// client abstraction (the thread endpoints).
func BuildHeaders(apiKey string) map[string]string {
	headers := map[string]string{
		"Content-Type": "application/json",
	}
	if strings.TrimSpace(apiKey) != "" {
		headers["Authorization"] = "Bearer " + apiKey
	}
	return headers
}

// IsAborted reports whether an error represents user-initiated
// cancellation rather than a real failure.
func IsAborted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "aborted") || strings.Contains(msg, "context canceled")
}

package thread

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"chatd/internal/chat"
	"chatd/internal/client"
	"chatd/internal/config"
)

// Run statuses reported by the backend. Queued and in-progress are the
// only two worth waiting on; everything else is terminal.
const (
	RunQueued     = "queued"
	RunInProgress = "in_progress"
	RunCompleted  = "completed"
	RunFailed     = "failed"
	RunCancelled  = "cancelled"
	RunExpired    = "expired"
)

// RunSettled reports whether a status is terminal.
func RunSettled(status string) bool {
	return status != RunQueued && status != RunInProgress
}

// ThreadMessage 远端线程消息。Content 保留原始 JSON，解析延迟到 ExtractText。
// ThreadMessage is one message in a remote thread. Content keeps the raw
// JSON payload; parsing is deferred to ExtractText because the backend
// has shipped several shapes over time.
type ThreadMessage struct {
	ID        string          `json:"id"`
	Role      string          `json:"role"`
	CreatedAt int64           `json:"created_at"`
	Content   json.RawMessage `json:"content"`
}

// Run is a remote assistant run in progress.
type Run struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// AssistantConfig is the remote deployment descriptor.
type AssistantConfig struct {
	AssistantID    string `json:"assistantId"`
	HasAssistantID bool   `json:"hasAssistantId"`
}

// Client talks to the assistant-thread endpoints over raw HTTP. The chat
// client abstraction does not fit here: thread calls are plain JSON
// request/response pairs, not streamed completions.
type Client struct {
	http    *http.Client
	baseURL string
	cfgURL  string
	apiKey  string
}

func NewClient(cfg config.ThreadConfig, apiKey string) *Client {
	timeout := 30 * time.Second
	if cfg.RequestTimeMS > 0 {
		timeout = time.Duration(cfg.RequestTimeMS) * time.Millisecond
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		cfgURL:  cfg.ConfigURL,
		apiKey:  apiKey,
	}
}

func (c *Client) do(ctx context.Context, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	for k, v := range client.BuildHeaders(c.apiKey) {
		req.Header.Set(k, v)
	}
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("thread request %s %s: status %d: %s", method, url, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// FetchAssistantConfig retrieves the remote deployment descriptor. Used at
// startup to discover the assistant id when it is not configured locally.
func (c *Client) FetchAssistantConfig(ctx context.Context) (AssistantConfig, error) {
	var cfg AssistantConfig
	if strings.TrimSpace(c.cfgURL) == "" {
		return cfg, fmt.Errorf("thread config url not set")
	}
	err := c.do(ctx, http.MethodGet, c.cfgURL, nil, &cfg)
	return cfg, err
}

// CreateThread creates an empty remote thread and returns its id.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, c.baseURL+"/threads", map[string]any{}, &out)
	return out.ID, err
}

// CreateMessage appends a message to a remote thread.
func (c *Client) CreateMessage(ctx context.Context, threadID, role, content string) (ThreadMessage, error) {
	var out ThreadMessage
	url := fmt.Sprintf("%s/threads/%s/messages", c.baseURL, threadID)
	err := c.do(ctx, http.MethodPost, url, map[string]string{
		"role":    role,
		"content": content,
	}, &out)
	return out, err
}

// ListMessages fetches the full message list of a remote thread.
func (c *Client) ListMessages(ctx context.Context, threadID string) ([]ThreadMessage, error) {
	var out struct {
		Data []ThreadMessage `json:"data"`
	}
	url := fmt.Sprintf("%s/threads/%s/messages", c.baseURL, threadID)
	if err := c.do(ctx, http.MethodGet, url, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// CreateRun starts an assistant run on the thread.
func (c *Client) CreateRun(ctx context.Context, threadID, assistantID string) (Run, error) {
	var out Run
	url := fmt.Sprintf("%s/threads/%s/runs", c.baseURL, threadID)
	err := c.do(ctx, http.MethodPost, url, map[string]string{
		"assistant_id": assistantID,
	}, &out)
	return out, err
}

// GetRun polls the status of a run.
func (c *Client) GetRun(ctx context.Context, threadID, runID string) (Run, error) {
	var out Run
	url := fmt.Sprintf("%s/threads/%s/runs/%s", c.baseURL, threadID, runID)
	err := c.do(ctx, http.MethodGet, url, nil, &out)
	return out, err
}

// ExtractText pulls the plain text out of a thread message content payload.
// The backend has produced three shapes: a bare string, a part list with
// nested {value} objects, and a part list with plain string text. Anything
// unrecognized yields "".
func ExtractText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}

	var parts []struct {
		Type string          `json:"type"`
		Text json.RawMessage `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var b strings.Builder
	for _, p := range parts {
		if p.Type != "" && p.Type != "text" {
			continue
		}
		if len(p.Text) == 0 {
			continue
		}
		var s string
		if err := json.Unmarshal(p.Text, &s); err == nil {
			b.WriteString(s)
			continue
		}
		var nested struct {
			Value string `json:"value"`
		}
		if err := json.Unmarshal(p.Text, &nested); err == nil {
			b.WriteString(nested.Value)
		}
	}
	return b.String()
}

// ToChatMessages converts remote thread messages into the local transcript
// form, oldest first. Roles other than user/assistant are dropped.
func ToChatMessages(msgs []ThreadMessage) []chat.Message {
	sorted := append([]ThreadMessage(nil), msgs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt < sorted[j].CreatedAt
	})
	out := make([]chat.Message, 0, len(sorted))
	for _, m := range sorted {
		if m.Role != chat.RoleUser && m.Role != chat.RoleAssistant {
			continue
		}
		out = append(out, chat.Message{
			ID:      m.ID,
			Role:    m.Role,
			Content: ExtractText(m.Content),
			Date:    time.Unix(m.CreatedAt, 0),
		})
	}
	return out
}

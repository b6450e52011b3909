package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"chatd/internal/chat"
	"chatd/internal/config"
)

// OpenAI 基于 go-openai SDK 的 Client 实现，也服务于其它 OpenAI 兼容后端。
// OpenAI implements Client over the go-openai SDK. The same implementation
// serves any OpenAI-compatible backend (Gemini and DeepSeek both expose
// compatible endpoints), so the registry builds one per provider.
type OpenAI struct {
	client   *openai.Client
	provider string
}

func NewOpenAI(provider string, cfg config.ProviderConfig) *OpenAI {
	sdkCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		sdkCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	httpClient := &http.Client{}
	if cfg.TimeoutMS > 0 {
		httpClient.Timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	sdkCfg.HTTPClient = httpClient
	return &OpenAI{
		client:   openai.NewClientWithConfig(sdkCfg),
		provider: provider,
	}
}

func (c *OpenAI) Provider() string {
	return c.provider
}

func (c *OpenAI) Chat(ctx context.Context, req ChatRequest, cb Callbacks) {
	ctx, cancel := context.WithCancel(ctx)
	if cb.OnController != nil {
		cb.OnController(cancel)
	}
	defer cancel()

	sdkReq := openai.ChatCompletionRequest{
		Model:       req.Config.Model,
		Messages:    toSDKMessages(req.Messages),
		Temperature: float32(req.Config.Temperature),
	}
	if req.Config.MaxTokens > 0 {
		sdkReq.MaxTokens = req.Config.MaxTokens
	}

	if !req.Config.Stream {
		resp, err := c.client.CreateChatCompletion(ctx, sdkReq)
		if err != nil {
			fail(cb, err)
			return
		}
		content := ""
		if len(resp.Choices) > 0 {
			content = resp.Choices[0].Message.Content
		}
		if cb.OnFinish != nil {
			cb.OnFinish(content, http.StatusOK)
		}
		return
	}

	sdkReq.Stream = true
	stream, err := c.client.CreateChatCompletionStream(ctx, sdkReq)
	if err != nil {
		fail(cb, err)
		return
	}
	defer stream.Close()

	var content strings.Builder
	calls := map[int]*chat.ToolCall{}
	order := []int{}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fail(cb, err)
			return
		}
		for _, choice := range resp.Choices {
			if choice.Delta.Content != "" {
				content.WriteString(choice.Delta.Content)
				if cb.OnUpdate != nil {
					cb.OnUpdate(content.String())
				}
			}
			for _, delta := range choice.Delta.ToolCalls {
				idx := 0
				if delta.Index != nil {
					idx = *delta.Index
				}
				call, ok := calls[idx]
				if !ok {
					call = &chat.ToolCall{}
					calls[idx] = call
					order = append(order, idx)
				}
				if delta.ID != "" && call.ID == "" {
					call.ID = delta.ID
					call.Name = delta.Function.Name
					if cb.OnBeforeTool != nil {
						cb.OnBeforeTool(*call)
					}
				}
				if delta.Function.Name != "" && call.Name == "" {
					call.Name = delta.Function.Name
				}
				call.Arguments += delta.Function.Arguments
			}
		}
	}

	// Tool call arguments are only complete once the stream ends.
	if cb.OnAfterTool != nil {
		for _, idx := range order {
			cb.OnAfterTool(*calls[idx])
		}
	}
	if cb.OnFinish != nil {
		cb.OnFinish(content.String(), http.StatusOK)
	}
}

func fail(cb Callbacks, err error) {
	if cb.OnError != nil {
		cb.OnError(err)
	}
}

func toSDKMessages(msgs []chat.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		sdkMsg := openai.ChatCompletionMessage{Role: m.Role}
		if len(m.Parts) > 0 {
			for _, p := range m.Parts {
				switch p.Type {
				case chat.PartImage:
					sdkMsg.MultiContent = append(sdkMsg.MultiContent, openai.ChatMessagePart{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: p.ImageURL},
					})
				default:
					sdkMsg.MultiContent = append(sdkMsg.MultiContent, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeText,
						Text: p.Text,
					})
				}
			}
		} else {
			sdkMsg.Content = m.Content
		}
		out = append(out, sdkMsg)
	}
	return out
}

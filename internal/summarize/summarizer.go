package summarize

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"chatd/internal/chat"
	"chatd/internal/client"
	"chatd/internal/config"
	"chatd/internal/contextmgr"
	"chatd/internal/i18n"
	"chatd/internal/token"
)

// Fixed summarization models per provider family.
const (
	DefaultModel  = "gpt-4o-mini"
	GeminiModel   = "gemini-pro"
	DeepSeekModel = "deepseek-chat"
)

// summarizeMinLen is the estimated-token threshold that triggers
// auto-titling of a fresh conversation.
const summarizeMinLen = 50

// Mutator is the slice of the session store the summarizer needs: a copy
// of current state and the serialized update path.
type Mutator interface {
	Session(id string) (chat.Session, bool)
	Update(sessionID string, fn func(*chat.Session)) bool
}

// Summarizer maintains each session's topic title and rolling long-term
// memory by issuing secondary model calls.
type Summarizer struct {
	clients *client.Registry
	est     *token.Estimator
	cfg     *config.App
	store   Mutator
	log     zerolog.Logger
}

func New(clients *client.Registry, est *token.Estimator, cfg *config.App, store Mutator, log zerolog.Logger) *Summarizer {
	if est == nil {
		est = token.Default()
	}
	return &Summarizer{
		clients: clients,
		est:     est,
		cfg:     cfg,
		store:   store,
		log:     log.With().Str("component", "summarize").Logger(),
	}
}

// ModelFor resolves the summarization model/provider pair: the session's
// compress-model override wins; otherwise a fixed mapping by the active
// model's name prefix; otherwise the active model itself.
func (s *Summarizer) ModelFor(cfg config.ModelConfig) (string, string) {
	if strings.TrimSpace(cfg.CompressModel) != "" {
		provider := cfg.CompressProvider
		if provider == "" {
			provider = cfg.Provider
		}
		return cfg.CompressModel, provider
	}
	model := cfg.Model
	switch {
	case strings.HasPrefix(model, "gpt") || strings.HasPrefix(model, "chatgpt"):
		if s.cfg.ModelAvailable(DefaultModel) {
			return DefaultModel, config.ProviderOpenAI
		}
	case strings.HasPrefix(model, "gemini"):
		return GeminiModel, config.ProviderGoogle
	case strings.HasPrefix(model, "deepseek-"):
		return DeepSeekModel, config.ProviderDeepSeek
	}
	return cfg.Model, cfg.Provider
}

func isImageModel(model string) bool {
	return strings.HasPrefix(model, "dall-e") || strings.HasPrefix(model, "dalle")
}

// Trigger runs the title and memory steps for a session in the background.
// It is fire-and-forget relative to the turn that caused it.
func (s *Summarizer) Trigger(ctx context.Context, sessionID string, refreshTitle bool) {
	go s.run(ctx, sessionID, refreshTitle)
}

func (s *Summarizer) run(ctx context.Context, sessionID string, refreshTitle bool) {
	sess, ok := s.store.Session(sessionID)
	if !ok {
		return
	}
	cfg := sess.Mask.ModelConfig
	if isImageModel(cfg.Model) {
		return
	}

	model, provider := s.ModelFor(cfg)
	cli := s.clients.ForProvider(provider)

	s.maybeTitle(ctx, cli, &sess, cfg, model, provider, refreshTitle)
	s.maybeCompress(ctx, cli, &sess, cfg, model, provider)
}

func (s *Summarizer) maybeTitle(ctx context.Context, cli client.Client, sess *chat.Session, cfg config.ModelConfig, model, provider string, refresh bool) {
	defaultTopic := i18n.T("store.default_topic")
	auto := s.cfg.EnableAutoGenerateTitle &&
		sess.Topic == defaultTopic &&
		s.est.CountMessages(sess.Messages) >= summarizeMinLen
	if !auto && !refresh {
		return
	}

	start := len(sess.Messages) - cfg.HistoryMessageCount
	if start < 0 {
		start = 0
	}
	topicMsgs := append([]chat.Message(nil), sess.Messages[start:]...)
	topicMsgs = append(topicMsgs, chat.NewMessage(chat.RoleUser, i18n.T("store.prompt.topic")))

	sessionID := sess.ID
	go cli.Chat(ctx, client.ChatRequest{
		Messages: topicMsgs,
		Config: client.RequestConfig{
			Model:    model,
			Provider: provider,
			Stream:   false,
		},
	}, client.Callbacks{
		OnFinish: func(message string, status int) {
			if status != http.StatusOK {
				return
			}
			s.store.Update(sessionID, func(target *chat.Session) {
				topic := TrimTopic(message)
				if topic == "" {
					topic = defaultTopic
				}
				target.Topic = topic
			})
		},
		OnError: func(err error) {
			s.log.Error().Err(err).Str("session", sessionID).Msg("title generation failed")
		},
	})
}

func (s *Summarizer) maybeCompress(ctx context.Context, cli client.Client, sess *chat.Session, cfg config.ModelConfig, model, provider string) {
	summarizeIndex := sess.LastSummarizeIndex
	if sess.ClearContextIndex > summarizeIndex {
		summarizeIndex = sess.ClearContextIndex
	}

	toSummarize := make([]chat.Message, 0, len(sess.Messages)-summarizeIndex)
	for _, m := range sess.Messages[summarizeIndex:] {
		if m.IsError {
			continue
		}
		toSummarize = append(toSummarize, m)
	}

	historyLen := s.est.CountMessages(toSummarize)
	if historyLen > cfg.MaxTokens {
		keep := len(toSummarize) - cfg.HistoryMessageCount
		if keep < 0 {
			keep = 0
		}
		toSummarize = toSummarize[keep:]
	}
	if sess.MemoryPrompt != "" {
		toSummarize = append([]chat.Message{contextmgr.MemoryMessage(sess.MemoryPrompt)}, toSummarize...)
	}

	// Snapshot at trigger time. Messages appended while the call is in
	// flight are deliberately not covered by this summarization round.
	snapshotCount := len(sess.Messages)

	if historyLen <= cfg.CompressMessageLengthThreshold || !cfg.SendMemory {
		return
	}

	msgs := append(toSummarize, chat.NewMessage(chat.RoleSystem, i18n.T("store.prompt.summarize")))
	sessionID := sess.ID
	cli.Chat(ctx, client.ChatRequest{
		Messages: msgs,
		Config: client.RequestConfig{
			Model:       model,
			Provider:    provider,
			Stream:      true,
			Temperature: cfg.Temperature,
			// MaxTokens deliberately stripped for summarization calls.
		},
	}, client.Callbacks{
		OnUpdate: func(partial string) {
			s.store.Update(sessionID, func(target *chat.Session) {
				target.MemoryPrompt = partial
			})
		},
		OnFinish: func(message string, status int) {
			if status != http.StatusOK {
				return
			}
			s.store.Update(sessionID, func(target *chat.Session) {
				// Concurrent rounds must never move the index backward.
				if snapshotCount > target.LastSummarizeIndex {
					target.LastSummarizeIndex = snapshotCount
				}
				target.MemoryPrompt = message
			})
		},
		OnError: func(err error) {
			s.log.Error().Err(err).Str("session", sessionID).Msg("memory summarization failed")
		},
	})
}

var topicTrimSet = "\"“”*，。！？、,.!? \t\r\n"

// TrimTopic strips wrapping quotes and trailing punctuation from a
// generated title.
func TrimTopic(topic string) string {
	topic = strings.TrimSpace(topic)
	topic = strings.Trim(topic, topicTrimSet)
	return strings.TrimSpace(topic)
}

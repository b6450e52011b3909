package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"chatd/internal/action"
	"chatd/internal/chat"
	"chatd/internal/client"
	"chatd/internal/contextmgr"
)

// DirectRunner 直连补全回合:组装上下文、流式调用、回写会话。
// DirectRunner executes a turn against a chat-completion backend: assemble
// context, stream the reply, and write every intermediate state back
// through the store so concurrent readers always see a consistent session.
type DirectRunner struct {
	clients *client.Registry
	pool    *client.ControllerPool
	asm     *contextmgr.Assembler
	store   SessionUpdater
	tools   action.Lister
	log     zerolog.Logger
}

// NewDirectRunner wires a runner. tools may be nil when no action clients
// are registered.
func NewDirectRunner(clients *client.Registry, pool *client.ControllerPool, asm *contextmgr.Assembler, store SessionUpdater, tools action.Lister, log zerolog.Logger) *DirectRunner {
	return &DirectRunner{
		clients: clients,
		pool:    pool,
		asm:     asm,
		store:   store,
		tools:   tools,
		log:     log.With().Str("component", "direct-turn").Logger(),
	}
}

func (r *DirectRunner) Run(ctx context.Context, sessionID string, in TurnInput) error {
	sess, ok := r.store.Session(sessionID)
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	cfg := sess.Mask.ModelConfig

	content := in.Content
	if !in.IsActionResponse {
		content = contextmgr.FillTemplate(in.Content, cfg)
	}

	userMsg := chat.NewMessage(chat.RoleUser, content)
	userMsg.IsActionResponse = in.IsActionResponse
	if len(in.Images) > 0 {
		userMsg.Parts = append(userMsg.Parts, chat.ContentPart{Type: chat.PartText, Text: content})
		for _, img := range in.Images {
			userMsg.Parts = append(userMsg.Parts, chat.ContentPart{Type: chat.PartImage, ImageURL: img})
		}
		userMsg.Content = ""
	}

	botMsg := chat.NewMessage(chat.RoleAssistant, "")
	botMsg.Streaming = true
	botMsg.Model = cfg.Model

	var tools []action.ToolDescriptor
	if r.tools != nil && r.tools.Enabled() {
		listed, err := r.tools.Tools(ctx)
		if err != nil {
			r.log.Warn().Err(err).Msg("tool listing failed, continuing without tools")
		} else {
			tools = listed
		}
	}

	// Context is assembled from the pre-turn transcript; the new user
	// message goes on the end of the request, never through the budget walk.
	recent := r.asm.Build(&sess, cfg, tools)
	sendMsgs := make([]chat.Message, 0, len(recent)+1)
	sendMsgs = append(sendMsgs, recent...)
	sendMsgs = append(sendMsgs, userMsg)

	// Both sides of the turn appear atomically or not at all.
	r.store.Update(sessionID, func(s *chat.Session) {
		s.Messages = append(s.Messages, userMsg, botMsg)
	})

	cli := r.clients.ForProvider(cfg.Provider)
	cli.Chat(ctx, client.ChatRequest{
		Messages: sendMsgs,
		Config: client.RequestConfig{
			Model:       cfg.Model,
			Provider:    cfg.Provider,
			Stream:      true,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		},
	}, client.Callbacks{
		OnController: func(cancel context.CancelFunc) {
			r.pool.Add(sessionID, botMsg.ID, cancel)
		},
		OnUpdate: func(partial string) {
			r.store.Update(sessionID, func(s *chat.Session) {
				if m := s.MessageByID(botMsg.ID); m != nil {
					m.Content = partial
				}
			})
		},
		OnBeforeTool: func(tc chat.ToolCall) {
			r.store.Update(sessionID, func(s *chat.Session) {
				if m := s.MessageByID(botMsg.ID); m != nil {
					m.AppendTool(tc)
				}
			})
		},
		OnAfterTool: func(tc chat.ToolCall) {
			r.store.Update(sessionID, func(s *chat.Session) {
				if m := s.MessageByID(botMsg.ID); m != nil {
					m.MergeTool(tc)
				}
			})
		},
		OnFinish: func(final string, status int) {
			r.store.Update(sessionID, func(s *chat.Session) {
				if m := s.MessageByID(botMsg.ID); m != nil {
					m.Content = final
					m.Streaming = false
					m.Date = time.Now()
				}
			})
			r.pool.Remove(sessionID, botMsg.ID)
			r.store.OnNewMessage(sessionID)
		},
		OnError: func(err error) {
			aborted := client.IsAborted(err)
			r.store.Update(sessionID, func(s *chat.Session) {
				if m := s.MessageByID(botMsg.ID); m != nil {
					m.Content += "\n\n" + errorBlock(err)
					m.Streaming = false
					m.IsError = !aborted
					m.Date = time.Now()
				}
				if m := s.MessageByID(userMsg.ID); m != nil {
					m.IsError = !aborted
				}
			})
			r.pool.Remove(sessionID, botMsg.ID)
			if !aborted {
				r.log.Error().Err(err).Str("session", sessionID).Msg("turn failed")
			}
		},
	})
	return nil
}

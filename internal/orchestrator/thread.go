package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"chatd/internal/chat"
	"chatd/internal/client"
	"chatd/internal/i18n"
	"chatd/internal/thread"
)

// ThreadRunner 远端线程回合:投递消息、发起 run、轮询直到完成。
// ThreadRunner executes a turn against a remote assistant thread: post the
// message, start a run, poll until it settles, then pull the reply from the
// authoritative remote history.
type ThreadRunner struct {
	client      *thread.Client
	store       SessionUpdater
	assistantID string
	poll        time.Duration
	log         zerolog.Logger
}

func NewThreadRunner(cli *thread.Client, store SessionUpdater, assistantID string, poll time.Duration, log zerolog.Logger) *ThreadRunner {
	if poll <= 0 {
		poll = time.Second
	}
	return &ThreadRunner{
		client:      cli,
		store:       store,
		assistantID: assistantID,
		poll:        poll,
		log:         log.With().Str("component", "thread-turn").Logger(),
	}
}

func (r *ThreadRunner) Run(ctx context.Context, sessionID string, in TurnInput) error {
	sess, ok := r.store.Session(sessionID)
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	if sess.ThreadID == "" {
		return fmt.Errorf("session %s has no thread id", sessionID)
	}
	threadID := sess.ThreadID

	userMsg := chat.NewMessage(chat.RoleUser, in.Content)
	botMsg := chat.NewMessage(chat.RoleAssistant, i18n.T("thread.queued"))
	botMsg.Streaming = true

	r.store.Update(sessionID, func(s *chat.Session) {
		s.Messages = append(s.Messages, userMsg, botMsg)
	})

	if r.assistantID == "" {
		r.fail(ctx, sessionID, userMsg.ID, botMsg.ID, fmt.Errorf("assistant id not configured"))
		return nil
	}

	if _, err := r.client.CreateMessage(ctx, threadID, chat.RoleUser, in.Content); err != nil {
		r.fail(ctx, sessionID, userMsg.ID, botMsg.ID, err)
		return nil
	}

	run, err := r.client.CreateRun(ctx, threadID, r.assistantID)
	if err != nil {
		r.fail(ctx, sessionID, userMsg.ID, botMsg.ID, err)
		return nil
	}

	// Wait only on the two transient statuses. Every other status is
	// terminal, including ones this client has no special handling for.
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for !thread.RunSettled(run.Status) {
		r.setStatus(sessionID, botMsg.ID, runIndicator(run.Status))
		select {
		case <-ctx.Done():
			r.fail(ctx, sessionID, userMsg.ID, botMsg.ID, ctx.Err())
			return nil
		case <-ticker.C:
		}
		run, err = r.client.GetRun(ctx, threadID, run.ID)
		if err != nil {
			r.fail(ctx, sessionID, userMsg.ID, botMsg.ID, err)
			return nil
		}
	}
	if run.Status != thread.RunCompleted {
		r.fail(ctx, sessionID, userMsg.ID, botMsg.ID, fmt.Errorf("run %s: %s", run.ID, run.Status))
		return nil
	}

	remote, err := r.client.ListMessages(ctx, threadID)
	if err != nil {
		r.fail(ctx, sessionID, userMsg.ID, botMsg.ID, err)
		return nil
	}

	reply := ""
	history := thread.ToChatMessages(remote)
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == chat.RoleAssistant {
			reply = history[i].Content
			break
		}
	}

	r.store.Update(sessionID, func(s *chat.Session) {
		if m := s.MessageByID(botMsg.ID); m != nil {
			m.Content = reply
			m.Streaming = false
			m.Date = time.Now()
		}
	})
	r.store.OnNewMessage(sessionID)
	return nil
}

// runIndicator maps a transient run status to the localized placeholder
// content shown while waiting.
func runIndicator(status string) string {
	if status == thread.RunQueued {
		return i18n.T("thread.queued")
	}
	return i18n.T("thread.processing")
}

func (r *ThreadRunner) setStatus(sessionID, botID, status string) {
	r.store.Update(sessionID, func(s *chat.Session) {
		if m := s.MessageByID(botID); m != nil {
			m.Content = status
		}
	})
}

func (r *ThreadRunner) fail(ctx context.Context, sessionID, userID, botID string, err error) {
	aborted := client.IsAborted(err) || ctx.Err() != nil
	r.store.Update(sessionID, func(s *chat.Session) {
		if m := s.MessageByID(botID); m != nil {
			m.Content = i18n.T("store.error") + "\n\n" + errorBlock(err)
			m.Streaming = false
			m.IsError = !aborted
			m.Date = time.Now()
		}
		if m := s.MessageByID(userID); m != nil {
			m.IsError = !aborted
		}
	})
	if !aborted {
		r.log.Error().Err(err).Str("session", sessionID).Msg("thread turn failed")
	}
}

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"chatd/internal/chat"
)

// TurnInput is one user turn as submitted to a runner.
type TurnInput struct {
	Content string
	Images  []string
	// IsActionResponse marks synthetic turns carrying a tool result back to
	// the model. These bypass input templating.
	IsActionResponse bool
}

// TurnRunner executes one conversation turn for a session. The store picks
// the runner by the session's kind.
type TurnRunner interface {
	Run(ctx context.Context, sessionID string, in TurnInput) error
}

// SessionUpdater 运行器对会话存储的唯一视图:读副本、串行更新、新消息通知。
// SessionUpdater is the runner's only view of the session store: a copied
// read, the serialized update path, and the new-message notification that
// drives summarization and action handling.
type SessionUpdater interface {
	Session(id string) (chat.Session, bool)
	Update(id string, fn func(*chat.Session)) bool
	OnNewMessage(id string)
}

// errorBlock renders an error as the fenced JSON block appended to the
// assistant message so the transcript itself records what went wrong.
func errorBlock(err error) string {
	payload := map[string]any{
		"error":   true,
		"message": err.Error(),
	}
	data, mErr := json.MarshalIndent(payload, "", "  ")
	if mErr != nil {
		return fmt.Sprintf("```json\n{\"error\": true, \"message\": %q}\n```", err.Error())
	}
	return fmt.Sprintf("```json\n%s\n```", data)
}

package action

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ToolDescriptor describes one externally-registered tool. Descriptors are
// serialized into the system prompt by the context assembler.
type ToolDescriptor struct {
	ClientID    string          `json:"client_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// Lister provides the currently registered tool descriptors.
type Lister interface {
	Enabled() bool
	Tools(ctx context.Context) ([]ToolDescriptor, error)
}

// Runner executes one action request and returns its textual result.
type Runner interface {
	Execute(ctx context.Context, clientID string, payload json.RawMessage) (string, error)
}

// Request is an action invocation the model embedded in a message.
type Request struct {
	ClientID string          `json:"client_id"`
	Payload  json.RawMessage `json:"request"`
}

var actionBlockRe = regexp.MustCompile("(?s)```json:action\\s*\\n(.*?)\\n```")

// ContainsAction reports whether a message body embeds an action block.
func ContainsAction(text string) bool {
	return actionBlockRe.MatchString(text)
}

// ParseAction extracts the first action block from a message body.
// Malformed payloads report false rather than an error: a model that
// produced broken JSON gets no action executed.
func ParseAction(text string) (Request, bool) {
	m := actionBlockRe.FindStringSubmatch(text)
	if m == nil {
		return Request{}, false
	}
	var req Request
	if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &req); err != nil {
		return Request{}, false
	}
	if strings.TrimSpace(req.ClientID) == "" || len(req.Payload) == 0 {
		return Request{}, false
	}
	return req, true
}

// FormatResponse wraps an action result as the synthetic user message body
// fed back into the conversation.
func FormatResponse(clientID, result string) string {
	return fmt.Sprintf("```json:action-response:%s\n%s\n```", clientID, result)
}

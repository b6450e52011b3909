package thread

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatd/internal/chat"
	"chatd/internal/config"
)

func TestExtractText(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "bare string",
			raw:  `"hello"`,
			want: "hello",
		},
		{
			name: "nested value object",
			raw:  `[{"type":"text","text":{"value":"from assistant","annotations":[]}}]`,
			want: "from assistant",
		},
		{
			name: "plain string text part",
			raw:  `[{"type":"text","text":"plain part"}]`,
			want: "plain part",
		},
		{
			name: "multiple parts concatenated",
			raw:  `[{"type":"text","text":{"value":"a"}},{"type":"text","text":{"value":"b"}}]`,
			want: "ab",
		},
		{
			name: "non-text parts skipped",
			raw:  `[{"type":"image_file","text":{"value":"x"}},{"type":"text","text":{"value":"kept"}}]`,
			want: "kept",
		},
		{
			name: "malformed yields empty",
			raw:  `{"unexpected":true}`,
			want: "",
		},
		{
			name: "empty",
			raw:  ``,
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractText(json.RawMessage(tt.raw)); got != tt.want {
				t.Fatalf("ExtractText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunSettled(t *testing.T) {
	for _, status := range []string{RunQueued, RunInProgress} {
		if RunSettled(status) {
			t.Fatalf("%s must not be terminal", status)
		}
	}
	// Includes statuses with no dedicated constant.
	for _, status := range []string{RunCompleted, RunFailed, RunCancelled, RunExpired, "incomplete", "requires_action"} {
		if !RunSettled(status) {
			t.Fatalf("%s must be terminal", status)
		}
	}
}

func TestToChatMessages(t *testing.T) {
	msgs := []ThreadMessage{
		{ID: "m2", Role: "assistant", CreatedAt: 200, Content: json.RawMessage(`"reply"`)},
		{ID: "m1", Role: "user", CreatedAt: 100, Content: json.RawMessage(`"question"`)},
		{ID: "m3", Role: "system", CreatedAt: 300, Content: json.RawMessage(`"dropped"`)},
	}
	out := ToChatMessages(msgs)
	if len(out) != 2 {
		t.Fatalf("got %d messages, want 2", len(out))
	}
	if out[0].ID != "m1" || out[1].ID != "m2" {
		t.Fatalf("not sorted oldest first: %s, %s", out[0].ID, out[1].ID)
	}
	if out[0].Role != chat.RoleUser || out[1].Content != "reply" {
		t.Fatalf("conversion wrong: %+v", out)
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *Client) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /threads", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"thread_new"}`)
	})
	mux.HandleFunc("POST /threads/thread_1/messages", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Role != "user" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"id":"msg_1","role":"user","created_at":100,"content":"hi"}`)
	})
	mux.HandleFunc("GET /threads/thread_1/messages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[
			{"id":"msg_1","role":"user","created_at":100,"content":[{"type":"text","text":{"value":"hi"}}]},
			{"id":"msg_2","role":"assistant","created_at":200,"content":[{"type":"text","text":{"value":"hello"}}]}
		]}`)
	})
	mux.HandleFunc("POST /threads/thread_1/runs", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("OpenAI-Beta") != "assistants=v2" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"id":"run_1","status":"queued"}`)
	})
	mux.HandleFunc("GET /threads/thread_1/runs/run_1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"run_1","status":"completed"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cli := NewClient(config.ThreadConfig{BaseURL: srv.URL, RequestTimeMS: 5000}, "sk-test")
	return srv, cli
}

func TestClientRoundTrip(t *testing.T) {
	_, cli := newTestServer(t)
	ctx := context.Background()

	id, err := cli.CreateThread(ctx)
	if err != nil || id != "thread_new" {
		t.Fatalf("CreateThread = %q, %v", id, err)
	}

	msg, err := cli.CreateMessage(ctx, "thread_1", chat.RoleUser, "hi")
	if err != nil || msg.ID != "msg_1" {
		t.Fatalf("CreateMessage = %+v, %v", msg, err)
	}

	msgs, err := cli.ListMessages(ctx, "thread_1")
	if err != nil || len(msgs) != 2 {
		t.Fatalf("ListMessages = %d msgs, %v", len(msgs), err)
	}
	if got := ExtractText(msgs[1].Content); got != "hello" {
		t.Fatalf("content = %q", got)
	}

	run, err := cli.CreateRun(ctx, "thread_1", "asst_1")
	if err != nil || run.ID != "run_1" {
		t.Fatalf("CreateRun = %+v, %v", run, err)
	}
	run, err = cli.GetRun(ctx, "thread_1", "run_1")
	if err != nil || run.Status != RunCompleted {
		t.Fatalf("GetRun = %+v, %v", run, err)
	}
}

func TestClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"nope"}`, http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	cli := NewClient(config.ThreadConfig{BaseURL: srv.URL}, "")
	if _, err := cli.ListMessages(context.Background(), "thread_x"); err == nil {
		t.Fatal("expected error on 403")
	}
}

package store

import (
	"context"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"chatd/internal/chat"
	"chatd/internal/client"
	"chatd/internal/config"
)

// memBlob is an in-memory BlobStore for tests.
type memBlob struct {
	data    []byte
	version float64
	ok      bool
}

func (m *memBlob) Load() ([]byte, float64, bool, error) { return m.data, m.version, m.ok, nil }
func (m *memBlob) Save(d []byte, v float64) error {
	m.data = append([]byte(nil), d...)
	m.version = v
	m.ok = true
	return nil
}
func (m *memBlob) Clear() error { m.data, m.ok = nil, false; return nil }
func (m *memBlob) Close() error { return nil }

// scriptedClient answers every chat call with a fixed reply.
type scriptedClient struct {
	reply string
}

func (c *scriptedClient) Provider() string { return config.ProviderOpenAI }

func (c *scriptedClient) Chat(ctx context.Context, req client.ChatRequest, cb client.Callbacks) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if cb.OnController != nil {
		cb.OnController(cancel)
	}
	if cb.OnUpdate != nil {
		cb.OnUpdate(c.reply[:1])
	}
	if cb.OnFinish != nil {
		cb.OnFinish(c.reply, http.StatusOK)
	}
}

func newTestStore(t *testing.T, blob *memBlob) *Store {
	t.Helper()
	cfg := config.Default()
	cfg.EnableAutoGenerateTitle = false // keep background calls out of tests

	reg := client.NewRegistry(&cfg)
	fake := &scriptedClient{reply: "scripted reply"}
	for _, p := range []string{config.ProviderOpenAI, config.ProviderGoogle, config.ProviderDeepSeek} {
		reg.Register(p, fake)
	}

	st, err := New(&cfg, blob, reg, Options{}, zerolog.Nop())
	require.NoError(t, err)
	return st
}

func TestNewStoreStartsWithOneSession(t *testing.T) {
	st := newTestStore(t, &memBlob{})
	sessions := st.Sessions()
	require.Len(t, sessions, 1)
	require.Equal(t, chat.KindDirect, sessions[0].Kind)
	require.Equal(t, 0, st.CurrentIndex())
}

func TestOnUserInputAppendsTurn(t *testing.T) {
	st := newTestStore(t, &memBlob{})
	err := st.OnUserInput(context.Background(), "hello there", nil)
	require.NoError(t, err)

	sess := st.CurrentSession()
	require.Len(t, sess.Messages, 2)
	require.Equal(t, chat.RoleUser, sess.Messages[0].Role)
	require.Equal(t, "hello there", sess.Messages[0].Content)
	require.Equal(t, chat.RoleAssistant, sess.Messages[1].Role)
	require.Equal(t, "scripted reply", sess.Messages[1].Content)
	require.False(t, sess.Messages[1].Streaming)
	require.Positive(t, sess.Stat.CharCount)
	require.Equal(t, "hello there", st.LastInput())
}

func TestDeleteLastSessionLeavesFreshOne(t *testing.T) {
	st := newTestStore(t, &memBlob{})
	oldID := st.CurrentSession().ID

	require.True(t, st.DeleteSession(0))
	sessions := st.Sessions()
	require.Len(t, sessions, 1)
	require.NotEqual(t, oldID, sessions[0].ID)
	require.Empty(t, sessions[0].Messages)
}

func TestDeleteSessionShiftsSelection(t *testing.T) {
	st := newTestStore(t, &memBlob{})
	st.NewSession(nil) // index 0
	st.NewSession(nil) // index 0, previous shifted down
	st.SelectSession(2)

	require.True(t, st.DeleteSession(0))
	require.Equal(t, 1, st.CurrentIndex())

	// Deleting past the selection leaves it alone.
	require.True(t, st.DeleteSession(1))
	require.Equal(t, 0, st.CurrentIndex())
}

func TestDeleteSessionOutOfRange(t *testing.T) {
	st := newTestStore(t, &memBlob{})
	require.False(t, st.DeleteSession(5))
	require.False(t, st.DeleteSession(-1))
}

func TestForkSession(t *testing.T) {
	st := newTestStore(t, &memBlob{})
	srcID := st.CurrentSession().ID
	st.Update(srcID, func(s *chat.Session) {
		s.Topic = "original"
		s.Messages = append(s.Messages, chat.NewMessage(chat.RoleUser, "hi"))
		s.MemoryPrompt = "memory"
	})

	forkID := st.ForkSession()
	require.NotEqual(t, srcID, forkID)
	require.Equal(t, 0, st.CurrentIndex())

	fork := st.CurrentSession()
	require.Equal(t, "original", fork.Topic)
	require.Len(t, fork.Messages, 1)
	require.Equal(t, "memory", fork.MemoryPrompt)

	// Mutating the fork leaves the source untouched.
	st.Update(forkID, func(s *chat.Session) {
		s.Messages = append(s.Messages, chat.NewMessage(chat.RoleUser, "fork only"))
	})
	src, ok := st.Session(srcID)
	require.True(t, ok)
	require.Len(t, src.Messages, 1)
}

func TestUndoDeleteRestores(t *testing.T) {
	st := newTestStore(t, &memBlob{})
	st.NewSession(nil)
	victim := st.Sessions()[1].ID

	require.True(t, st.DeleteSession(1))
	require.Len(t, st.Sessions(), 1)

	require.True(t, st.UndoDelete())
	sessions := st.Sessions()
	require.Len(t, sessions, 2)
	require.Equal(t, victim, sessions[1].ID)

	// One level only.
	require.False(t, st.UndoDelete())
}

func TestResetSession(t *testing.T) {
	st := newTestStore(t, &memBlob{})
	id := st.CurrentSession().ID
	st.Update(id, func(s *chat.Session) {
		s.Messages = append(s.Messages, chat.NewMessage(chat.RoleUser, "x"))
		s.MemoryPrompt = "memory"
		s.LastSummarizeIndex = 1
	})

	require.True(t, st.ResetSession(id))
	sess := st.CurrentSession()
	require.Empty(t, sess.Messages)
	require.Empty(t, sess.MemoryPrompt)
	require.Zero(t, sess.LastSummarizeIndex)
}

func TestClearContextToggle(t *testing.T) {
	st := newTestStore(t, &memBlob{})
	id := st.CurrentSession().ID
	st.Update(id, func(s *chat.Session) {
		s.Messages = append(s.Messages,
			chat.NewMessage(chat.RoleUser, "a"),
			chat.NewMessage(chat.RoleAssistant, "b"))
		s.MemoryPrompt = "memory"
	})

	st.ClearContext(id)
	sess := st.CurrentSession()
	require.Equal(t, 2, sess.ClearContextIndex)
	require.Empty(t, sess.MemoryPrompt)

	// Clearing again at the same boundary lifts it.
	st.ClearContext(id)
	require.Zero(t, st.CurrentSession().ClearContextIndex)
}

func TestMoveSessionKeepsSelection(t *testing.T) {
	st := newTestStore(t, &memBlob{})
	st.NewSession(nil)
	st.NewSession(nil)
	st.SelectSession(0)
	selected := st.CurrentSession().ID

	st.MoveSession(0, 2)
	require.Equal(t, 2, st.CurrentIndex())
	require.Equal(t, selected, st.CurrentSession().ID)
}

func TestNextSessionWraps(t *testing.T) {
	st := newTestStore(t, &memBlob{})
	st.NewSession(nil)
	st.NewSession(nil)
	st.SelectSession(2)

	st.NextSession(1)
	require.Equal(t, 0, st.CurrentIndex())
	st.NextSession(-1)
	require.Equal(t, 2, st.CurrentIndex())
}

func TestUpdateUnknownSession(t *testing.T) {
	st := newTestStore(t, &memBlob{})
	require.False(t, st.Update("missing", func(s *chat.Session) {
		t.Fatal("mutator ran for unknown session")
	}))
}

func TestPersistenceRoundTrip(t *testing.T) {
	blob := &memBlob{}
	st := newTestStore(t, blob)
	id := st.CurrentSession().ID
	st.Update(id, func(s *chat.Session) {
		s.Topic = "persisted topic"
		s.Messages = append(s.Messages, chat.NewMessage(chat.RoleUser, "kept"))
	})

	st2 := newTestStore(t, blob)
	sess := st2.CurrentSession()
	require.Equal(t, "persisted topic", sess.Topic)
	require.Len(t, sess.Messages, 1)
	require.Equal(t, "kept", sess.Messages[0].Content)
}

func TestLoadRunsMigrations(t *testing.T) {
	blob := &memBlob{}
	// A pre-mask snapshot persisted at version 1.
	require.NoError(t, blob.Save([]byte(`{
		"sessions": [{"id": "7", "topic": "legacy", "messages": []}],
		"current_session_index": 0
	}`), 1))

	st := newTestStore(t, blob)
	sess := st.CurrentSession()
	require.NotEmpty(t, sess.Mask.ID)
	require.NotEqual(t, "7", sess.ID)
	require.Equal(t, chat.KindDirect, sess.Kind)
	// The reloaded snapshot is saved back at the current version.
	require.Equal(t, CurrentVersion, blob.version)
}

func TestClearAll(t *testing.T) {
	blob := &memBlob{}
	st := newTestStore(t, blob)
	st.NewSession(nil)
	require.NoError(t, st.ClearAll())

	sessions := st.Sessions()
	require.Len(t, sessions, 1)
	require.Empty(t, sessions[0].Messages)
}

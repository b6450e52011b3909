package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatd/internal/action"
	"chatd/internal/chat"
	"chatd/internal/client"
	"chatd/internal/config"
	"chatd/internal/contextmgr"
	"chatd/internal/i18n"
	"chatd/internal/orchestrator"
	"chatd/internal/storage"
	"chatd/internal/summarize"
	"chatd/internal/thread"
	"chatd/internal/token"
)

// undoState is the one-level snapshot taken before a session delete.
type undoState struct {
	sessions []*chat.Session
	index    int
}

// Store 会话集合的唯一持有者。所有修改经 Update 串行执行并整体落盘。
// Store is the single owner of the session collection. Every mutation runs
// serialized through Update under one mutex and persists the whole
// collection as a versioned snapshot, so readers never observe a
// half-applied turn.
type Store struct {
	mu   sync.Mutex
	col  *chat.Collection
	blob storage.BlobStore
	cfg  *config.App
	est  *token.Estimator
	log  zerolog.Logger

	pool         *client.ControllerPool
	summarizer   *summarize.Summarizer
	threadCli    *thread.Client
	syncer       *thread.Syncer
	runners      map[string]orchestrator.TurnRunner
	actionRunner action.Runner

	undo *undoState
}

// Options carries the optional collaborators. Thread support and actions
// are both off when their fields are nil.
type Options struct {
	ThreadClient *thread.Client
	AssistantID  string
	ActionTools  action.Lister
	ActionRunner action.Runner
}

// New loads the persisted snapshot, migrates it, and wires the runners.
func New(cfg *config.App, blob storage.BlobStore, clients *client.Registry, opts Options, log zerolog.Logger) (*Store, error) {
	s := &Store{
		blob:         blob,
		cfg:          cfg,
		est:          token.Default(),
		log:          log.With().Str("component", "store").Logger(),
		pool:         client.NewControllerPool(),
		threadCli:    opts.ThreadClient,
		actionRunner: opts.ActionRunner,
	}

	col, err := s.loadCollection()
	if err != nil {
		return nil, err
	}
	s.col = col

	s.summarizer = summarize.New(clients, s.est, cfg, s, log)

	asm := contextmgr.New(s.est)
	s.runners = map[string]orchestrator.TurnRunner{
		chat.KindDirect: orchestrator.NewDirectRunner(clients, s.pool, asm, s, opts.ActionTools, log),
	}
	if opts.ThreadClient != nil {
		s.syncer = thread.NewSyncer(opts.ThreadClient, s.applyThreadHistory, log)
		s.runners[chat.KindThread] = orchestrator.NewThreadRunner(
			opts.ThreadClient, s, opts.AssistantID,
			time.Duration(cfg.Thread.PollSeconds)*time.Second, log)
		s.watchAllThreads()
	}

	s.mu.Lock()
	s.persistLocked()
	s.mu.Unlock()
	return s, nil
}

func (s *Store) loadCollection() (*chat.Collection, error) {
	data, version, ok, err := s.blob.Load()
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if !ok {
		return s.freshCollection(), nil
	}

	var col chat.Collection
	if err := json.Unmarshal(data, &col); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	Migrate(&col, version, s.cfg.ModelConfig)
	if len(col.Sessions) == 0 {
		col.Sessions = []*chat.Session{s.newSession()}
		col.CurrentIndex = 0
	}
	if col.CurrentIndex < 0 || col.CurrentIndex >= len(col.Sessions) {
		col.CurrentIndex = 0
	}
	return &col, nil
}

func (s *Store) freshCollection() *chat.Collection {
	return &chat.Collection{
		Sessions:     []*chat.Session{s.newSession()},
		CurrentIndex: 0,
	}
}

func (s *Store) newSession() *chat.Session {
	return chat.NewSession(i18n.T("store.default_topic"), s.cfg.ModelConfig)
}

// persistLocked writes the whole collection. Persistence failures are
// logged, not propagated: an in-memory mutation must never be rolled back
// because the disk write failed.
func (s *Store) persistLocked() {
	data, err := json.Marshal(s.col)
	if err != nil {
		s.log.Error().Err(err).Msg("encode snapshot failed")
		return
	}
	if err := s.blob.Save(data, CurrentVersion); err != nil {
		s.log.Error().Err(err).Msg("persist snapshot failed")
	}
}

func (s *Store) findLocked(id string) *chat.Session {
	for _, sess := range s.col.Sessions {
		if sess.ID == id {
			return sess
		}
	}
	return nil
}

func copySession(src *chat.Session) chat.Session {
	out := *src
	out.Messages = append([]chat.Message(nil), src.Messages...)
	out.Mask.Context = append([]chat.Message(nil), src.Mask.Context...)
	return out
}

// Session returns a copy of one session. Runners and the summarizer read
// through this instead of holding references into the collection.
func (s *Store) Session(id string) (chat.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.findLocked(id)
	if sess == nil {
		return chat.Session{}, false
	}
	return copySession(sess), true
}

// Update applies one mutation to a session under the store lock and
// persists the result. Reports whether the session still exists; mutations
// against a deleted session are silently dropped.
func (s *Store) Update(id string, fn func(*chat.Session)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.findLocked(id)
	if sess == nil {
		return false
	}
	fn(sess)
	s.persistLocked()
	return true
}

// CurrentSession returns a copy of the selected session, clamping a stale
// index first.
func (s *Store) CurrentSession() chat.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copySession(s.currentLocked())
}

func (s *Store) currentLocked() *chat.Session {
	if s.col.CurrentIndex < 0 || s.col.CurrentIndex >= len(s.col.Sessions) {
		s.col.CurrentIndex = 0
	}
	return s.col.Sessions[s.col.CurrentIndex]
}

// Sessions returns copies of all sessions in display order.
func (s *Store) Sessions() []chat.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.Session, 0, len(s.col.Sessions))
	for _, sess := range s.col.Sessions {
		out = append(out, copySession(sess))
	}
	return out
}

// CurrentIndex returns the selected session slot.
func (s *Store) CurrentIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.col.CurrentIndex
}

// SelectSession switches the current session. Out-of-range indices are
// ignored.
func (s *Store) SelectSession(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.col.Sessions) {
		return
	}
	s.col.CurrentIndex = index
	s.persistLocked()
}

// NextSession moves the selection by delta with wrap-around.
func (s *Store) NextSession(delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.col.Sessions)
	s.col.CurrentIndex = ((s.col.CurrentIndex+delta)%n + n) % n
	s.persistLocked()
}

// MoveSession reorders the list and keeps the selection pointing at the
// same session it pointed at before the move.
func (s *Store) MoveSession(from, to int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.col.Sessions)
	if from < 0 || from >= n || to < 0 || to >= n || from == to {
		return
	}
	moved := s.col.Sessions[from]
	rest := append([]*chat.Session(nil), s.col.Sessions[:from]...)
	rest = append(rest, s.col.Sessions[from+1:]...)
	sessions := append([]*chat.Session(nil), rest[:to]...)
	sessions = append(sessions, moved)
	sessions = append(sessions, rest[to:]...)
	s.col.Sessions = sessions

	cur := s.col.CurrentIndex
	switch {
	case cur == from:
		s.col.CurrentIndex = to
	case cur > from && cur <= to:
		s.col.CurrentIndex = cur - 1
	case cur < from && cur >= to:
		s.col.CurrentIndex = cur + 1
	}
	s.persistLocked()
}

// NewSession creates a session, optionally seeded from a mask, inserts it
// at the front and selects it. Returns the new session id.
func (s *Store) NewSession(mask *chat.Mask) string {
	sess := s.newSession()
	if mask != nil {
		sess.ApplyMask(*mask, s.cfg.ModelConfig)
	}
	s.mu.Lock()
	s.col.Sessions = append([]*chat.Session{sess}, s.col.Sessions...)
	s.col.CurrentIndex = 0
	s.persistLocked()
	s.mu.Unlock()
	return sess.ID
}

// ForkSession duplicates the current session under a new identity and
// selects the copy. The fork shares nothing with the original afterwards.
func (s *Store) ForkSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.currentLocked()

	fork := s.newSession()
	fork.Topic = src.Topic
	fork.MemoryPrompt = src.MemoryPrompt
	fork.Messages = append([]chat.Message(nil), src.Messages...)
	fork.LastSummarizeIndex = src.LastSummarizeIndex
	fork.ClearContextIndex = src.ClearContextIndex
	fork.Stat = src.Stat
	fork.Mask = chat.Mask{
		ID:          src.Mask.ID,
		Name:        src.Mask.Name,
		Context:     append([]chat.Message(nil), src.Mask.Context...),
		ModelConfig: src.Mask.ModelConfig,
	}

	s.col.Sessions = append([]*chat.Session{fork}, s.col.Sessions...)
	s.col.CurrentIndex = 0
	s.persistLocked()
	return fork.ID
}

// NewSessionWithThread binds a session to a remote thread. An existing
// session for the same thread is selected instead of duplicated. An empty
// threadID creates a fresh remote thread first. Existing remote history
// seeds the local transcript.
func (s *Store) NewSessionWithThread(ctx context.Context, threadID string, mask *chat.Mask) (string, error) {
	if s.threadCli == nil {
		return "", fmt.Errorf("thread support not configured")
	}

	if threadID != "" {
		s.mu.Lock()
		for i, sess := range s.col.Sessions {
			if sess.ThreadID == threadID {
				s.col.CurrentIndex = i
				id := sess.ID
				s.persistLocked()
				s.mu.Unlock()
				return id, nil
			}
		}
		s.mu.Unlock()
	}

	if threadID == "" {
		created, err := s.threadCli.CreateThread(ctx)
		if err != nil {
			return "", fmt.Errorf("create thread: %w", err)
		}
		threadID = created
	}

	sess := chat.NewThreadSession(threadID, i18n.T("store.default_topic"), s.cfg.ModelConfig)
	if mask != nil {
		sess.ApplyMask(*mask, s.cfg.ModelConfig)
	}

	if remote, err := s.threadCli.ListMessages(ctx, threadID); err != nil {
		s.log.Warn().Err(err).Str("thread", threadID).Msg("seed history fetch failed")
	} else {
		sess.Messages = thread.ToChatMessages(remote)
	}

	s.mu.Lock()
	s.col.Sessions = append([]*chat.Session{sess}, s.col.Sessions...)
	s.col.CurrentIndex = 0
	s.persistLocked()
	s.mu.Unlock()

	s.watchThread(threadID)
	return sess.ID, nil
}

func (s *Store) watchThread(threadID string) {
	if s.syncer == nil || threadID == "" {
		return
	}
	s.syncer.Watch(threadID, time.Duration(s.cfg.Thread.SyncSeconds)*time.Second)
}

func (s *Store) watchAllThreads() {
	s.mu.Lock()
	ids := make([]string, 0)
	for _, sess := range s.col.Sessions {
		if sess.ThreadID != "" {
			ids = append(ids, sess.ThreadID)
		}
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.watchThread(id)
	}
}

// applyThreadHistory adopts a freshly fetched remote history. The local
// transcript is replaced only when the remote one grew and its newest
// message differs from ours, so a no-change fetch never churns state.
func (s *Store) applyThreadHistory(threadID string, msgs []chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.col.Sessions {
		if sess.ThreadID != threadID {
			continue
		}
		if len(msgs) <= len(sess.Messages) {
			return
		}
		if n := len(sess.Messages); n > 0 && msgs[len(msgs)-1].ID == sess.Messages[n-1].ID {
			return
		}
		sess.Messages = msgs
		sess.LastUpdate = time.Now()
		s.persistLocked()
		return
	}
}

// DeleteSession removes the session at index, keeping a one-level undo
// snapshot. Deleting the last session replaces it with a fresh one so the
// collection is never empty. Returns false for an out-of-range index.
func (s *Store) DeleteSession(index int) bool {
	s.mu.Lock()
	if index < 0 || index >= len(s.col.Sessions) {
		s.mu.Unlock()
		return false
	}

	deleted := s.col.Sessions[index]
	s.undo = &undoState{
		sessions: append([]*chat.Session(nil), s.col.Sessions...),
		index:    s.col.CurrentIndex,
	}

	sessions := append([]*chat.Session(nil), s.col.Sessions[:index]...)
	sessions = append(sessions, s.col.Sessions[index+1:]...)
	if len(sessions) == 0 {
		sessions = []*chat.Session{s.newSession()}
	}

	nextIndex := s.col.CurrentIndex
	if index < nextIndex {
		nextIndex--
	}
	if nextIndex > len(sessions)-1 {
		nextIndex = len(sessions) - 1
	}
	if nextIndex < 0 {
		nextIndex = 0
	}

	s.col.Sessions = sessions
	s.col.CurrentIndex = nextIndex
	s.persistLocked()
	s.mu.Unlock()

	if deleted.ThreadID != "" && s.syncer != nil {
		s.syncer.Unwatch(deleted.ThreadID)
	}
	return true
}

// UndoDelete restores the collection state saved by the last delete. One
// level only; a second undo without an intervening delete does nothing.
func (s *Store) UndoDelete() bool {
	s.mu.Lock()
	if s.undo == nil {
		s.mu.Unlock()
		return false
	}
	s.col.Sessions = s.undo.sessions
	s.col.CurrentIndex = s.undo.index
	s.undo = nil
	s.persistLocked()
	s.mu.Unlock()

	s.watchAllThreads()
	return true
}

// ClearSessions discards every session and starts over with one fresh one.
func (s *Store) ClearSessions() {
	if s.syncer != nil {
		s.syncer.Shutdown()
	}
	s.mu.Lock()
	s.col = s.freshCollection()
	s.undo = nil
	s.persistLocked()
	s.mu.Unlock()
}

// ResetSession wipes a session's transcript and derived memory, keeping
// its identity and mask.
func (s *Store) ResetSession(id string) bool {
	return s.Update(id, func(sess *chat.Session) {
		sess.Messages = nil
		sess.MemoryPrompt = ""
		sess.LastSummarizeIndex = 0
		sess.ClearContextIndex = 0
		sess.Stat = chat.Stat{}
	})
}

// ClearContext toggles the context boundary for a session: set it past the
// newest message, or lift it when it is already there.
func (s *Store) ClearContext(id string) bool {
	return s.Update(id, func(sess *chat.Session) {
		if sess.ClearContextIndex == len(sess.Messages) {
			sess.ClearContextIndex = 0
			return
		}
		sess.ClearContextIndex = len(sess.Messages)
		sess.MemoryPrompt = ""
	})
}

// SetLastInput remembers the user's last submitted input.
func (s *Store) SetLastInput(input string) {
	s.mu.Lock()
	s.col.LastInput = input
	s.persistLocked()
	s.mu.Unlock()
}

// LastInput returns the remembered input.
func (s *Store) LastInput() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.col.LastInput
}

// OnUserInput runs one turn against the current session, dispatched by the
// session's kind. Blocks until the turn settles.
func (s *Store) OnUserInput(ctx context.Context, content string, images []string) error {
	s.mu.Lock()
	sess := s.currentLocked()
	id, kind := sess.ID, sess.Kind
	s.col.LastInput = content
	s.persistLocked()
	s.mu.Unlock()

	runner, ok := s.runners[kind]
	if !ok {
		runner = s.runners[chat.KindDirect]
	}
	return runner.Run(ctx, id, orchestrator.TurnInput{Content: content, Images: images})
}

// StopStreaming aborts one in-flight turn.
func (s *Store) StopStreaming(sessionID, messageID string) bool {
	return s.pool.Stop(sessionID, messageID)
}

// OnNewMessage is the post-turn hook: refresh stats, kick summarization,
// and execute an embedded action if the reply carries one.
func (s *Store) OnNewMessage(id string) {
	var last chat.Message
	found := s.Update(id, func(sess *chat.Session) {
		sess.LastUpdate = time.Now()
		if m := sess.LastMessage(); m != nil {
			last = *m
			sess.Stat.CharCount += len(m.Content)
			sess.Stat.WordCount += len(strings.Fields(m.Content))
			sess.Stat.TokenCount += s.est.EstimateMessage(*m)
		}
	})
	if !found {
		return
	}

	s.summarizer.Trigger(context.Background(), id, false)

	if s.actionRunner != nil && last.Role == chat.RoleAssistant && !last.IsError {
		if req, ok := action.ParseAction(last.Content); ok {
			go s.runAction(id, req)
		}
	}
}

// runAction executes one embedded action and feeds its result back as a
// synthetic turn.
func (s *Store) runAction(sessionID string, req action.Request) {
	ctx := context.Background()
	result, err := s.actionRunner.Execute(ctx, req.ClientID, req.Payload)
	if err != nil {
		s.log.Error().Err(err).Str("client", req.ClientID).Msg("action failed")
		result = fmt.Sprintf("error: %v", err)
	}

	runner := s.runners[chat.KindDirect]
	if err := runner.Run(ctx, sessionID, orchestrator.TurnInput{
		Content:          action.FormatResponse(req.ClientID, result),
		IsActionResponse: true,
	}); err != nil {
		s.log.Error().Err(err).Str("session", sessionID).Msg("action response turn failed")
	}
}

// RefreshTitle forces topic regeneration for a session.
func (s *Store) RefreshTitle(id string) {
	s.summarizer.Trigger(context.Background(), id, true)
}

// ClearAll wipes both the in-memory state and the persisted snapshot.
func (s *Store) ClearAll() error {
	if s.syncer != nil {
		s.syncer.Shutdown()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.col = s.freshCollection()
	s.undo = nil
	if err := s.blob.Clear(); err != nil {
		return err
	}
	s.persistLocked()
	return nil
}

// Shutdown aborts in-flight turns, stops sync loops, persists a final
// snapshot and closes the database.
func (s *Store) Shutdown() error {
	s.pool.StopAll()
	if s.syncer != nil {
		s.syncer.Shutdown()
	}
	s.mu.Lock()
	s.persistLocked()
	s.mu.Unlock()
	return s.blob.Close()
}

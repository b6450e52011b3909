package thread

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatd/internal/chat"
)

// Scheduler 管理每个线程的后台同步循环。Start 同一 key 先停旧再启新。
// Scheduler owns the background sync loops, one per key. Start on an
// existing key stops the old loop before starting the new one, so repeated
// starts are safe.
type Scheduler struct {
	mu    sync.Mutex
	stops map[string]context.CancelFunc
	wg    sync.WaitGroup
}

func NewScheduler() *Scheduler {
	return &Scheduler{stops: make(map[string]context.CancelFunc)}
}

// Start runs fn every period until Stop or StopAll. fn runs synchronously
// inside the loop; a slow tick delays the next one instead of stacking.
func (s *Scheduler) Start(key string, period time.Duration, fn func(ctx context.Context)) {
	if period <= 0 {
		return
	}
	s.mu.Lock()
	if cancel, ok := s.stops[key]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stops[key] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

// Stop halts the loop registered under key, if any.
func (s *Scheduler) Stop(key string) {
	s.mu.Lock()
	if cancel, ok := s.stops[key]; ok {
		cancel()
		delete(s.stops, key)
	}
	s.mu.Unlock()
}

// StopAll halts every loop and waits for them to exit.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	for key, cancel := range s.stops {
		cancel()
		delete(s.stops, key)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Running reports whether a loop is registered under key.
func (s *Scheduler) Running(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.stops[key]
	return ok
}

// ApplyFunc receives a freshly fetched remote history for a thread. The
// receiver decides whether to adopt it.
type ApplyFunc func(threadID string, msgs []chat.Message)

// Syncer periodically reconciles local session history with the remote
// thread. It remembers the last seen message count per thread and skips
// the apply callback when nothing changed.
type Syncer struct {
	client *Client
	sched  *Scheduler
	apply  ApplyFunc
	log    zerolog.Logger

	mu        sync.Mutex
	lastCount map[string]int
}

func NewSyncer(cli *Client, apply ApplyFunc, log zerolog.Logger) *Syncer {
	return &Syncer{
		client:    cli,
		sched:     NewScheduler(),
		apply:     apply,
		log:       log.With().Str("component", "thread-sync").Logger(),
		lastCount: make(map[string]int),
	}
}

// Watch begins background sync for a thread. Restarting an already watched
// thread resets its loop.
func (s *Syncer) Watch(threadID string, period time.Duration) {
	s.sched.Start(threadID, period, func(ctx context.Context) {
		s.SyncOnce(ctx, threadID)
	})
}

// Unwatch stops background sync for a thread.
func (s *Syncer) Unwatch(threadID string) {
	s.sched.Stop(threadID)
	s.mu.Lock()
	delete(s.lastCount, threadID)
	s.mu.Unlock()
}

// Shutdown stops all loops and waits for them.
func (s *Syncer) Shutdown() {
	s.sched.StopAll()
}

// SyncOnce fetches the remote history once and hands it to the apply
// callback when the message count changed since the last fetch.
func (s *Syncer) SyncOnce(ctx context.Context, threadID string) {
	msgs, err := s.client.ListMessages(ctx, threadID)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn().Err(err).Str("thread", threadID).Msg("sync fetch failed")
		}
		return
	}

	s.mu.Lock()
	prev, seen := s.lastCount[threadID]
	s.lastCount[threadID] = len(msgs)
	s.mu.Unlock()

	if seen && len(msgs) == prev {
		return
	}
	s.apply(threadID, ToChatMessages(msgs))
}

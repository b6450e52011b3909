package client

import (
	"context"
	"sync"
)

type poolKey struct {
	sessionID string
	messageID string
}

// ControllerPool 按 (session, message) 登记进行中请求的取消句柄。
// ControllerPool tracks the cancellation handle of every in-flight
// streaming turn, keyed by (session id, message id). Entries must be
// removed on both finish and error so the pool never leaks.
type ControllerPool struct {
	mu          sync.Mutex
	controllers map[poolKey]context.CancelFunc
}

func NewControllerPool() *ControllerPool {
	return &ControllerPool{controllers: make(map[poolKey]context.CancelFunc)}
}

func (p *ControllerPool) Add(sessionID, messageID string, cancel context.CancelFunc) {
	p.mu.Lock()
	p.controllers[poolKey{sessionID, messageID}] = cancel
	p.mu.Unlock()
}

func (p *ControllerPool) Remove(sessionID, messageID string) {
	p.mu.Lock()
	delete(p.controllers, poolKey{sessionID, messageID})
	p.mu.Unlock()
}

// Stop aborts one in-flight turn. Returns false when nothing was pending.
func (p *ControllerPool) Stop(sessionID, messageID string) bool {
	p.mu.Lock()
	cancel, ok := p.controllers[poolKey{sessionID, messageID}]
	p.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// StopAll aborts every in-flight turn (app teardown).
func (p *ControllerPool) StopAll() {
	p.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(p.controllers))
	for _, cancel := range p.controllers {
		cancels = append(cancels, cancel)
	}
	p.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// HasPending reports whether any turn is still streaming.
func (p *ControllerPool) HasPending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.controllers) > 0
}

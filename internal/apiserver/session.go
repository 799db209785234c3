// session.go — 活动会话注册表: 每会话至多一条活动流。
package apiserver

import (
	"context"
	"sync"

	"github.com/agentchat/stream-core/internal/stream"
	"github.com/agentchat/stream-core/internal/timeline"
)

// liveSession 一条活动事件流的全部状态。
type liveSession struct {
	builder *timeline.Builder
	coord   *timeline.Coordinator
	diags   *stream.Diagnostics
	cancel  context.CancelFunc
}

// sessionRegistry 会话 id → 活动流。同会话并发发起第二条流被拒绝。
type sessionRegistry struct {
	mu   sync.Mutex
	live map[string]*liveSession
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{live: make(map[string]*liveSession)}
}

// add 登记活动流; 会话已有活动流时返回 false。
func (r *sessionRegistry) add(sessionID string, ls *liveSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.live[sessionID]; exists {
		return false
	}
	r.live[sessionID] = ls
	return true
}

func (r *sessionRegistry) get(sessionID string) *liveSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live[sessionID]
}

func (r *sessionRegistry) remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, sessionID)
}

func (r *sessionRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// cancelAll 优雅退出: 取消所有活动流。
func (r *sessionRegistry) cancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ls := range r.live {
		ls.cancel()
	}
}

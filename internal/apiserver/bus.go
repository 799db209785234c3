// bus.go — 事件总线 (WebSocket 推送扇出)。
package apiserver

import (
	"sync"
)

// BusEvent 推送事件。
type BusEvent struct {
	SessionID string `json:"sessionId"`
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
}

// EventBus 事件总线。
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]chan BusEvent
}

// NewEventBus 创建事件总线。
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string]chan BusEvent)}
}

// Publish 广播事件。慢订阅者丢弃而非阻塞发布方。
func (b *EventBus) Publish(event BusEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe 订阅。
func (b *EventBus) Subscribe(id string) chan BusEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan BusEvent, 32)
	b.subscribers[id] = ch
	return ch
}

// Unsubscribe 取消订阅。
//
// 不关闭 ch — 消费侧通过 ctx.Done() 退出, GC 回收未引用的 channel。
func (b *EventBus) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subscribers, id)
	b.mu.Unlock()
}

// interrupt.go — 中断协调: 单一待决中断 + 人工裁决回传。
package timeline

import (
	"context"
	"sync"

	"github.com/agentchat/stream-core/internal/stream"
	"github.com/agentchat/stream-core/pkg/errors"
)

// ResumeSender 将裁决回传给事件生产方。
type ResumeSender interface {
	SendResume(ctx context.Context, interruptID string, decision Decision) error
}

// Coordinator 中断协调器。
//
// 不变量: 任意时刻至多一个待决中断。生产方在前一个中断未决时又发
// 新中断属协议违例, 采用"新者胜"策略: 旧记录被替换并记诊断 —
// 生产方视角只有最新中断仍可恢复, 对旧 id 的裁决无处投递。
type Coordinator struct {
	mu       sync.Mutex
	diags    *stream.Diagnostics
	sender   ResumeSender
	pending  *InterruptRecord
	onResume func() // Builder 回调, 裁决成功后恢复时间线推进
}

// NewCoordinator 创建协调器。sender 不可为 nil。
func NewCoordinator(sender ResumeSender, diags *stream.Diagnostics) *Coordinator {
	return &Coordinator{sender: sender, diags: diags}
}

// Suspend 登记一个待决中断 (Builder 折叠 interrupt 事件时调用)。
func (c *Coordinator) Suspend(rec InterruptRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		c.diags.Addf(stream.StageOrder, "interrupt while another pending, replacing",
			"old=%s new=%s", c.pending.ID, rec.ID)
	}
	c.pending = &rec
}

// Pending 返回当前待决中断 (无则 nil)。
func (c *Coordinator) Pending() *InterruptRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil
	}
	rec := *c.pending
	return &rec
}

// Resolve 对指定中断投递裁决。
//
// id 与待决中断不符 (或根本无待决中断) 返回 ErrInvalidInterruptState
// 且不改变任何状态; 回传失败同样保留待决记录, 允许重试。
func (c *Coordinator) Resolve(ctx context.Context, interruptID string, decision Decision) error {
	const op = "Coordinator.Resolve"

	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return errors.Wrapf(errors.ErrInvalidInterruptState, op,
			"no pending interrupt, got resolve for %q", interruptID)
	}
	if c.pending.ID != interruptID {
		pendingID := c.pending.ID
		c.mu.Unlock()
		return errors.Wrapf(errors.ErrInvalidInterruptState, op,
			"pending interrupt %q, got resolve for %q", pendingID, interruptID)
	}
	c.mu.Unlock()

	// 回传在锁外执行 (网络调用), 成功后才清除待决记录
	if err := c.sender.SendResume(ctx, interruptID, decision); err != nil {
		return errors.Wrapf(err, op, "send resume for %s", interruptID)
	}

	c.mu.Lock()
	if c.pending != nil && c.pending.ID == interruptID {
		c.pending = nil
	}
	resume := c.onResume
	c.mu.Unlock()

	if resume != nil {
		resume()
	}
	return nil
}

// Clear 丢弃待决中断而不回传 (会话取消路径)。
func (c *Coordinator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
}

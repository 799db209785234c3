// builder.go — 时间线状态机: 折叠事件序列为有序 Message 列表。
package timeline

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agentchat/stream-core/internal/stream"
)

// Builder 单会话时间线状态机。
//
// 跨事件状态 (开放文本缓冲、未决工具调用、挂起中断) 全部落在实例内,
// 会话之间零共享。折叠循环是单消费者, 锁只为外部读取 (Messages/State)
// 与中断 resolve 的跨 goroutine 访问而设。
type Builder struct {
	mu sync.Mutex

	sessionID    string
	displayNames map[string]string // 工具名 → 显示名, 构造时注入的只读表
	diags        *stream.Diagnostics
	coord        *Coordinator
	now          func() time.Time

	messages    []*Message
	state       State
	textIdx     int    // 开放文本消息下标, -1 无
	toolMsgIdx  int    // 当前承载工具调用的消息下标, -1 无
	reasoning   []string
	openTools   map[string]*ToolExecution
	deferred    []*stream.Event // 挂起期间暂存的事件, resume 时重放
	passthrough []*stream.Event // 多代理交接族, 保序透传
	metadata    map[string]any
	progress    *stream.ProgressData
	lastError   *stream.ErrorData
	seq         int
}

// NewBuilder 创建时间线状态机。displayNames 为工具显示名查找表 (可为 nil),
// 以依赖注入代替进程级全局表, 避免跨会话耦合。
func NewBuilder(sessionID string, displayNames map[string]string, diags *stream.Diagnostics) *Builder {
	return &Builder{
		sessionID:    sessionID,
		displayNames: displayNames,
		diags:        diags,
		now:          time.Now,
		state:        StateIdle,
		textIdx:      -1,
		toolMsgIdx:   -1,
		openTools:    map[string]*ToolExecution{},
	}
}

// AttachCoordinator 绑定中断协调器; resolve 后时间线自动恢复推进。
func (b *Builder) AttachCoordinator(c *Coordinator) {
	b.coord = c
	c.onResume = b.resume
}

// SessionID 返回所属会话 id。
func (b *Builder) SessionID() string { return b.sessionID }

// State 返回当前状态。
func (b *Builder) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// LastError 返回 error 事件负载 (无则 nil)。
func (b *Builder) LastError() *stream.ErrorData {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastError
}

// Progress 返回最近一次进度播报 (无则 nil)。
func (b *Builder) Progress() *stream.ProgressData {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.progress
}

// Passthrough 返回保序的多代理交接族事件。
func (b *Builder) Passthrough() []*stream.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*stream.Event, len(b.passthrough))
	copy(out, b.passthrough)
	return out
}

// Messages 返回按时间戳升序的消息快照; 同刻消息保持插入序 (稳定排序)。
// 文本→工具的同窗交错由构造保证, 不靠重排。
func (b *Builder) Messages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, 0, len(b.messages))
	for _, m := range b.messages {
		out = append(out, *m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// AddUserMessage 将用户消息插入时间线 (活流路径由 API 层调用)。
func (b *Builder) AddUserMessage(text string, images []string, documents []stream.Document, ts time.Time) Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	msg := b.appendMessageLocked(SenderUser, text, ts)
	msg.Images = images
	msg.Documents = documents
	return *msg
}

// Apply 折叠一个已校验事件。
//
// 终态后的事件与挂起期间的非终态事件不会推进时间线:
// 前者丢弃并记诊断, 后者暂存并在 resume 时按原序重放。
func (b *Builder) Apply(ev *stream.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.applyLocked(ev)
}

func (b *Builder) applyLocked(ev *stream.Event) {
	if ev == nil {
		return
	}
	if b.state.IsTerminal() {
		b.diags.Addf(stream.StageOrder, "event after terminal state", "type=%s state=%s", ev.Type, b.state)
		return
	}
	if b.state == StateInterrupted && ev.Type != stream.EventInterrupt && ev.Type != stream.EventError {
		b.deferred = append(b.deferred, ev)
		return
	}

	switch ev.Type {
	case stream.EventStart, stream.EventInit:
		b.beginTurnLocked()

	case stream.EventReasoning, stream.EventThinking:
		b.appendReasoningLocked(ev)

	case stream.EventResponse, stream.EventText:
		b.appendTextLocked(ev)

	case stream.EventToolUse:
		b.openToolLocked(ev)

	case stream.EventToolResult:
		b.resolveToolLocked(ev)

	case stream.EventToolProgress:
		b.appendToolProgressLocked(ev)

	case stream.EventInterrupt:
		b.suspendLocked(ev)

	case stream.EventComplete:
		b.completeTurnLocked(ev)

	case stream.EventEnd:
		b.closeBuffersLocked()
		b.state = StateComplete

	case stream.EventError:
		b.closeBuffersLocked()
		b.lastError = ev.Error
		b.state = StateError

	case stream.EventWarning:
		if ev.Warning != nil {
			b.diags.Add(stream.StageOrder, "producer warning", ev.Warning.Message)
		}

	case stream.EventMetadata:
		if b.metadata == nil {
			b.metadata = map[string]any{}
		}
		for k, val := range ev.Metadata {
			b.metadata[k] = val
		}

	case stream.EventProgress, stream.EventBrowserProgress, stream.EventResearchProgress:
		b.progress = ev.Progress

	case stream.EventPassthrough:
		b.passthrough = append(b.passthrough, ev)

	default:
		b.diags.Addf(stream.StageOrder, "unhandled event type", "type=%s", ev.Type)
	}
}

// ========================================
// 事件处理 (持锁)
// ========================================

func (b *Builder) beginTurnLocked() {
	b.textIdx = -1
	b.toolMsgIdx = -1
	b.reasoning = nil
	b.state = StateIdle
}

func (b *Builder) appendReasoningLocked(ev *stream.Event) {
	if ev.Text == "" {
		return
	}
	b.reasoning = append(b.reasoning, ev.Text)
	if b.state == StateIdle {
		b.state = StateReasoning
	}
}

// appendTextLocked 连续文本事件合并进同一 Message — 可见单元对齐
// assistant 回复段, 而非网络帧。
func (b *Builder) appendTextLocked(ev *stream.Event) {
	if b.textIdx >= 0 && b.textIdx == len(b.messages)-1 {
		b.messages[b.textIdx].Text += ev.Text
	} else {
		b.appendMessageLocked(SenderAssistant, ev.Text, ev.Timestamp)
		b.textIdx = len(b.messages) - 1
	}
	b.toolMsgIdx = -1
	b.state = StateResponding
}

// openToolLocked tool_use: 先关闭开放文本缓冲 (被打断的文本永远排在
// 工具调用消息之前), 再按 call id 开一个 ToolExecution 占位。
func (b *Builder) openToolLocked(ev *stream.Event) {
	data := ev.ToolUse
	if _, exists := b.openTools[data.ID]; exists {
		b.diags.Addf(stream.StageOrder, "duplicate tool_use id", "id=%s", data.ID)
		return
	}

	b.textIdx = -1

	exec := &ToolExecution{
		ID:          data.ID,
		ToolName:    data.Name,
		DisplayName: b.displayNames[data.Name],
		ToolInput:   data.Input,
		Reasoning:   b.reasoning,
	}
	b.reasoning = nil

	if b.toolMsgIdx >= 0 && b.toolMsgIdx == len(b.messages)-1 {
		host := b.messages[b.toolMsgIdx]
		host.ToolExecutions = append(host.ToolExecutions, exec)
	} else {
		msg := b.appendMessageLocked(SenderAssistant, "", ev.Timestamp)
		msg.ToolExecutions = []*ToolExecution{exec}
		b.toolMsgIdx = len(b.messages) - 1
	}

	b.openTools[data.ID] = exec
	b.state = StateToolPending
}

// resolveToolLocked tool_result: 按 id 补全对应调用; 无匹配则丢弃 —
// 绝不暴露有结果无调用的 ToolExecution。
func (b *Builder) resolveToolLocked(ev *stream.Event) {
	data := ev.ToolResult
	exec, ok := b.openTools[data.ID]
	if !ok {
		b.diags.Addf(stream.StageOrder, "tool_result without matching call", "id=%s", data.ID)
		return
	}
	exec.ToolResult = data.Result
	exec.IsComplete = true
	exec.IsCancelled = data.Cancelled
	delete(b.openTools, data.ID)
	if len(b.openTools) == 0 {
		b.state = StateResponding
	}
}

func (b *Builder) appendToolProgressLocked(ev *stream.Event) {
	data := ev.ToolProgress
	if exec, ok := b.openTools[data.ID]; ok {
		exec.Progress = append(exec.Progress, data.Message)
		return
	}
	b.diags.Addf(stream.StageOrder, "tool_progress without open call", "id=%s", data.ID)
}

// suspendLocked interrupt: 移交 Coordinator 并停住时间线推进。
func (b *Builder) suspendLocked(ev *stream.Event) {
	if b.coord == nil {
		b.diags.Add(stream.StageOrder, "interrupt without coordinator", "")
		return
	}
	desc := ev.Interrupts[0]
	b.coord.Suspend(InterruptRecord{ID: desc.ID, Name: desc.Name, Reason: desc.Reason})
	b.state = StateInterrupted
}

func (b *Builder) completeTurnLocked(ev *stream.Event) {
	b.closeBuffersLocked()

	if ev.Completion != nil {
		host := b.lastAssistantLocked()
		if host == nil {
			host = b.appendMessageLocked(SenderAssistant, "", ev.Timestamp)
		}
		if len(ev.Completion.Images) > 0 {
			host.Images = append(host.Images, ev.Completion.Images...)
		}
		if len(ev.Completion.Documents) > 0 {
			host.Documents = append(host.Documents, ev.Completion.Documents...)
		}
		if ev.Completion.Usage != nil {
			host.TokenUsage = ev.Completion.Usage
		}
	}
	b.state = StateComplete
}

// resume Coordinator 裁决完成后的回调: 离开挂起态并按原序重放暂存事件。
func (b *Builder) resume() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateInterrupted {
		return
	}
	b.state = StateResponding
	pending := b.deferred
	b.deferred = nil
	for _, ev := range pending {
		b.applyLocked(ev)
	}
}

// Cancel 协作取消: 丢弃半成品而非输出损坏消息, 终态 cancelled
// (与 complete / error 可区分)。
func (b *Builder) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.IsTerminal() {
		return
	}
	b.closeBuffersLocked()
	for id, exec := range b.openTools {
		exec.IsCancelled = true
		delete(b.openTools, id)
	}
	// 既无文本也无工具调用的尾部空消息直接丢弃
	if n := len(b.messages); n > 0 {
		last := b.messages[n-1]
		if last.Sender == SenderAssistant && last.Text == "" && len(last.ToolExecutions) == 0 {
			b.messages = b.messages[:n-1]
		}
	}
	b.state = StateCancelled
}

// Fail 传输层失败: 保留已构建消息, 进入 error 终态。
func (b *Builder) Fail(message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.IsTerminal() {
		return
	}
	b.closeBuffersLocked()
	b.lastError = &stream.ErrorData{Message: message, Code: "TRANSPORT"}
	b.state = StateError
}

// ========================================
// 内部工具 (持锁)
// ========================================

func (b *Builder) closeBuffersLocked() {
	b.textIdx = -1
	b.toolMsgIdx = -1
	b.reasoning = nil
}

func (b *Builder) appendMessageLocked(sender Sender, text string, ts time.Time) *Message {
	if ts.IsZero() {
		ts = b.now()
	}
	msg := &Message{
		ID:        b.nextMessageIDLocked(),
		Sender:    sender,
		Text:      text,
		Timestamp: ts,
	}
	b.messages = append(b.messages, msg)
	return msg
}

func (b *Builder) lastAssistantLocked() *Message {
	for i := len(b.messages) - 1; i >= 0; i-- {
		if b.messages[i].Sender == SenderAssistant {
			return b.messages[i]
		}
	}
	return nil
}

// nextMessageIDLocked 确定性消息 id: 会话 id + 递增序号。
func (b *Builder) nextMessageIDLocked() string {
	b.seq += 1
	return fmt.Sprintf("%s-%d", b.sessionID, b.seq)
}

// Package timeline 将已校验事件序列折叠为有序消息时间线。
//
// 核心: Builder 状态机 (单会话) + Coordinator 中断协调。
// 活流与历史重建产出同一 Message 形态, 下游无需区分来源。
package timeline

import (
	"encoding/json"
	"time"

	"github.com/agentchat/stream-core/internal/stream"
)

// Sender 消息发送方。
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// State Builder 状态机状态。
//
// 流转: Idle → Reasoning → Responding → (ToolPending ↔ Responding)* →
// Interrupted? → Complete | Error | Cancelled。
type State string

const (
	StateIdle        State = "idle"
	StateReasoning   State = "reasoning"
	StateResponding  State = "responding"
	StateToolPending State = "tool_pending"
	StateInterrupted State = "interrupted"
	StateComplete    State = "complete"
	StateError       State = "error"
	StateCancelled   State = "cancelled"
)

// IsTerminal 判断状态是否终态。
func (s State) IsTerminal() bool {
	switch s {
	case StateComplete, StateError, StateCancelled:
		return true
	default:
		return false
	}
}

// ToolExecution 一次工具调用的完整生命周期。
//
// tool_use 事件创建, 同 id 的 tool_result 原地补全, 同 id 绝不重复创建。
type ToolExecution struct {
	ID          string          `json:"id"`
	ToolName    string          `json:"toolName"`
	DisplayName string          `json:"displayName,omitempty"` // 注入的只读显示名表映射
	ToolInput   json.RawMessage `json:"toolInput,omitempty"`
	Reasoning   []string        `json:"reasoning,omitempty"` // 调用前/伴随的推理片段, 有序
	Progress    []string        `json:"progress,omitempty"`  // tool_progress 播报
	ToolResult  string          `json:"toolResult,omitempty"`
	IsComplete  bool            `json:"isComplete"`
	IsCancelled bool            `json:"isCancelled"`
}

// LatencyMetrics 消息级延迟指标 (overlay 合入)。
type LatencyMetrics struct {
	TotalMS     int64 `json:"totalMs"`
	FirstByteMS int64 `json:"firstByteMs,omitempty"`
}

// Message 对外可见的时间线单元。
//
// 排序键为 Timestamp; 同刻消息保持源事件序 (稳定排序)。
type Message struct {
	ID             string             `json:"id"`
	Sender         Sender             `json:"sender"`
	Text           string             `json:"text"`
	Timestamp      time.Time          `json:"timestamp"`
	ToolExecutions []*ToolExecution   `json:"toolExecutions,omitempty"`
	Images         []string           `json:"images,omitempty"`
	Documents      []stream.Document  `json:"documents,omitempty"`
	LatencyMetrics *LatencyMetrics    `json:"latencyMetrics,omitempty"`
	TokenUsage     *stream.TokenUsage `json:"tokenUsage,omitempty"`
	Feedback       string             `json:"feedback,omitempty"`
}

// InterruptRecord 一次待决中断。
type InterruptRecord struct {
	ID     string                  `json:"id"`
	Name   string                  `json:"name,omitempty"`
	Reason *stream.InterruptReason `json:"reason,omitempty"`
}

// Decision 人工对中断的裁决。
type Decision struct {
	Approve  bool           `json:"approve"`
	Feedback map[string]any `json:"feedback,omitempty"`
}

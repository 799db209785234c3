// Package stream 实现流式会话协议的解码层。
//
// 三级流水线: FrameDecoder (帧切分) → Validator (事件校验) → 调用方折叠。
// 事件模型是封闭的带标签联合: 每种协议帧类型一个变体, 外加 passthrough
// 兜底变体承载多代理交接族事件。
package stream

import (
	"encoding/json"
	"strings"
	"time"
)

// EventType 协议帧类型判别值。
type EventType string

const (
	// 文本类
	EventReasoning EventType = "reasoning"
	EventResponse  EventType = "response"
	EventText      EventType = "text"
	EventThinking  EventType = "thinking"

	// 生命周期
	EventStart    EventType = "start"
	EventEnd      EventType = "end"
	EventInit     EventType = "init"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
	EventWarning  EventType = "warning"

	// 工具调用
	EventToolUse      EventType = "tool_use"
	EventToolResult   EventType = "tool_result"
	EventToolProgress EventType = "tool_progress"

	// 中断
	EventInterrupt EventType = "interrupt"

	// 进度 / 元数据
	EventProgress         EventType = "progress"
	EventMetadata         EventType = "metadata"
	EventBrowserProgress  EventType = "browser_progress"
	EventResearchProgress EventType = "research_progress"

	// 多代理交接族兜底: *_node_start / *_node_stop / *_handoff / *_complete
	// 原始类型保留在 Event.RawType, 负载原样透传。
	EventPassthrough EventType = "passthrough"
)

// ========================================
// 事件数据类型
// ========================================

// ToolUseData 工具调用发起。
type ToolUseData struct {
	ID    string          `json:"toolUseId"`
	Name  string          `json:"toolName"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolResultData 工具调用结果。
type ToolResultData struct {
	ID        string `json:"toolUseId"`
	Result    string `json:"result,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

// ToolProgressData 工具执行中的进度播报。
type ToolProgressData struct {
	ID      string `json:"toolUseId,omitempty"`
	Message string `json:"message"`
}

// InterruptReason 中断原因: 触发工具 + 计划预览。
type InterruptReason struct {
	ToolName string `json:"toolName,omitempty"`
	Plan     string `json:"plan,omitempty"`
}

// InterruptDescriptor 单个中断描述。
type InterruptDescriptor struct {
	ID     string           `json:"id"`
	Name   string           `json:"name,omitempty"`
	Reason *InterruptReason `json:"reason,omitempty"`
}

// ProgressData 数值步骤 + 文本内容的进度事件。
type ProgressData struct {
	Step    float64 `json:"step"`
	Content string  `json:"content"`
}

// TokenUsage token 用量统计。
type TokenUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// Document 生成文档引用。
type Document struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// CompletionData complete 事件附带的终局负载。
type CompletionData struct {
	Images    []string    `json:"images,omitempty"`
	Documents []Document  `json:"documents,omitempty"`
	Usage     *TokenUsage `json:"usage,omitempty"`
}

// ErrorData 终止性错误。
type ErrorData struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WarningData 非致命警告。
type WarningData struct {
	Message string `json:"message"`
}

// ========================================
// Event
// ========================================

// Event 已校验的协议事件。构造后不可变 (约定, 非强制)。
//
// Type 决定哪些负载字段有意义; 其余字段为零值。
type Event struct {
	Type      EventType
	Timestamp time.Time

	Text         string                // reasoning/response/text/thinking
	ToolUse      *ToolUseData          // tool_use
	ToolResult   *ToolResultData       // tool_result
	ToolProgress *ToolProgressData     // tool_progress
	Interrupts   []InterruptDescriptor // interrupt
	Progress     *ProgressData         // progress/browser_progress/research_progress
	Completion   *CompletionData       // complete
	Error        *ErrorData            // error
	Warning      *WarningData          // warning
	Metadata     map[string]any        // metadata

	// passthrough 专用: 原始类型与未解释负载。
	RawType string
	Raw     json.RawMessage
}

// wireEvent 帧负载的 JSON 线格式 (全部变体字段合并, omitempty)。
type wireEvent struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp,omitempty"`

	Text    string `json:"text,omitempty"`
	Content string `json:"content,omitempty"` // text 别名 / 进度内容

	ToolUseID string          `json:"toolUseId,omitempty"`
	ToolName  string          `json:"toolName,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Cancelled bool            `json:"cancelled,omitempty"`
	Message   string          `json:"message,omitempty"`

	Interrupts []InterruptDescriptor `json:"interrupts,omitempty"`

	Step *float64 `json:"step,omitempty"`

	Images    []string    `json:"images,omitempty"`
	Documents []Document  `json:"documents,omitempty"`
	Usage     *TokenUsage `json:"usage,omitempty"`

	Code     string         `json:"code,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// IsTextBearing 判断事件是否携带可合并的展示文本。
func (e *Event) IsTextBearing() bool {
	switch e.Type {
	case EventResponse, EventText:
		return true
	default:
		return false
	}
}

// IsReasoning 判断事件是否为推理片段 (thinking 与 reasoning 同语义)。
func (e *Event) IsReasoning() bool {
	return e.Type == EventReasoning || e.Type == EventThinking
}

// IsTerminal 判断事件是否结束一个 turn。
func (e *Event) IsTerminal() bool {
	switch e.Type {
	case EventComplete, EventEnd, EventError:
		return true
	default:
		return false
	}
}

// Marshal 将事件编码为 (帧类型, JSON 负载)。与 Validator 解码互逆,
// 供往返测试与下游 SSE 重发使用。
func (e *Event) Marshal() (string, []byte, error) {
	w := wireEvent{Type: string(e.Type)}
	if e.Type == EventPassthrough {
		w.Type = e.RawType
	}
	if !e.Timestamp.IsZero() {
		w.Timestamp = e.Timestamp.UTC().Format(time.RFC3339Nano)
	}

	switch e.Type {
	case EventReasoning, EventResponse, EventText, EventThinking:
		w.Text = e.Text
	case EventToolUse:
		if e.ToolUse != nil {
			w.ToolUseID = e.ToolUse.ID
			w.ToolName = e.ToolUse.Name
			w.Input = e.ToolUse.Input
		}
	case EventToolResult:
		if e.ToolResult != nil {
			w.ToolUseID = e.ToolResult.ID
			if e.ToolResult.Result != "" {
				quoted, err := json.Marshal(e.ToolResult.Result)
				if err != nil {
					return "", nil, err
				}
				w.Result = quoted
			}
			w.Cancelled = e.ToolResult.Cancelled
		}
	case EventToolProgress:
		if e.ToolProgress != nil {
			w.ToolUseID = e.ToolProgress.ID
			w.Message = e.ToolProgress.Message
		}
	case EventInterrupt:
		w.Interrupts = e.Interrupts
	case EventProgress, EventBrowserProgress, EventResearchProgress:
		if e.Progress != nil {
			step := e.Progress.Step
			w.Step = &step
			w.Content = e.Progress.Content
		}
	case EventComplete:
		if e.Completion != nil {
			w.Images = e.Completion.Images
			w.Documents = e.Completion.Documents
			w.Usage = e.Completion.Usage
		}
	case EventError:
		if e.Error != nil {
			w.Message = e.Error.Message
			w.Code = e.Error.Code
		}
	case EventWarning:
		if e.Warning != nil {
			w.Message = e.Warning.Message
		}
	case EventMetadata:
		w.Metadata = e.Metadata
	case EventPassthrough:
		// 透传事件原样输出负载。
		if len(e.Raw) > 0 {
			return e.RawType, e.Raw, nil
		}
	}

	payload, err := json.Marshal(w)
	if err != nil {
		return "", nil, err
	}
	return w.Type, payload, nil
}

// handoffSuffixes 多代理交接族的类型后缀。
var handoffSuffixes = []string{"_node_start", "_node_stop", "_handoff", "_complete"}

// isHandoffType 判断未知类型是否属于交接族白名单。
// 精确匹配的已知类型 (如 complete) 优先于后缀规则, 由调用方保证。
func isHandoffType(t string) bool {
	for _, suffix := range handoffSuffixes {
		if strings.HasSuffix(t, suffix) && len(t) > len(suffix) {
			return true
		}
	}
	return false
}

// Package history 从持久化事件日志重建消息时间线。
//
// 输出与活流 Builder 同形态 (timeline.Message), 下游无需区分来源。
package history

import (
	"context"
	"encoding/json"
)

// MemoryEvent 持久化存储中的单条事件。
//
// payload 恰有一个有效项, 走内联或外联编码之一 (见 PayloadItem)。
type MemoryEvent struct {
	EventID   string        `json:"eventId"`
	EventTime string        `json:"eventTime"`
	Payload   []PayloadItem `json:"payload"`
}

// PayloadItem 事件负载项。
//
// 两种编码: Conversational 内联 (content.text 为小 JSON 文档) 或
// Blob 外联 (JSON 编码的二元组 [messageJson, role])。编码由生产方按
// 内容大小选择, 重建方对任意事件都必须两种都认。
type PayloadItem struct {
	Conversational *Conversational `json:"conversational,omitempty"`
	Blob           string          `json:"blob,omitempty"`
}

// Conversational 内联编码负载。
type Conversational struct {
	Content Content `json:"content"`
	Role    string  `json:"role,omitempty"`
}

// Content 内联负载的内容包装。
type Content struct {
	Text string `json:"text"`
}

// storedMessage 内联 content.text / 外联 blob 首元素解出的消息文档。
// message 字段是编码判别: 缺失则该事件不是消息 (可能是状态快照)。
type storedMessage struct {
	Message        string          `json:"message"`
	Images         []string        `json:"images,omitempty"`
	Documents      json.RawMessage `json:"documents,omitempty"`
	ToolExecutions json.RawMessage `json:"toolExecutions,omitempty"`
}

// storedAgentState 代理状态快照文档 (内联编码, 与消息互斥)。
type storedAgentState struct {
	AgentState json.RawMessage `json:"agentState"`
	Agent      string          `json:"agent,omitempty"`
}

// EventPage 一页持久化事件, 页内新→旧。
type EventPage struct {
	Events     []MemoryEvent
	NextCursor string // 空串表示无更多页
}

// Pager 持久化事件日志的分页读取端口。
//
// 返回页为新→旧序; cursor 取上一页的 NextCursor (首页传空串)。
// 游标依赖前页响应, 调用方必须顺序翻页。
type Pager interface {
	ListEvents(ctx context.Context, memoryID, sessionID, actorID, cursor string, pageSize int) (*EventPage, error)
}

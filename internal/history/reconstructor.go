// reconstructor.go — 分页拉取 + 双编码解码 + 单次反转, 重建时间线。
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agentchat/stream-core/internal/stream"
	"github.com/agentchat/stream-core/internal/timeline"
	"github.com/agentchat/stream-core/pkg/errors"
	"github.com/agentchat/stream-core/pkg/logger"
)

// maxPageSize 存储端单页上限。
const maxPageSize = 100

// primaryAgent 状态快照归属的默认代理名。
const primaryAgent = "primary"

// Result 重建产物。
type Result struct {
	Messages []timeline.Message
	// AgentState 最新一次代理状态快照 (无则 nil); 不进消息时间线。
	AgentState json.RawMessage
	// Truncated 后续分页失败时为 true: Messages 只含成功拉取的部分。
	Truncated bool
}

// Reconstructor 历史重建器。
type Reconstructor struct {
	pager    Pager
	pageSize int
	diags    *stream.Diagnostics
	now      func() time.Time
}

// NewReconstructor 创建重建器。pageSize 超出存储上限时收紧到上限。
func NewReconstructor(pager Pager, pageSize int, diags *stream.Diagnostics) *Reconstructor {
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return &Reconstructor{pager: pager, pageSize: pageSize, diags: diags, now: time.Now}
}

// Rebuild 重建一个会话的完整时间线。
//
// 存储按新→旧分页返回; 全量累积后只做一次整体反转 — 逐页反转会
// 颠倒跨页顺序。游标依赖前页, 翻页严格串行。
//
// 失败策略: 首页失败直接报错; 后续页失败返回已拉取部分并置
// Truncated (包 ErrTruncated 哨兵的诊断同时落盘)。
func (r *Reconstructor) Rebuild(ctx context.Context, memoryID, sessionID, actorID string) (*Result, error) {
	const op = "Reconstructor.Rebuild"

	var all []MemoryEvent
	truncated := false
	cursor := ""
	for page := 0; ; page++ {
		ep, err := r.pager.ListEvents(ctx, memoryID, sessionID, actorID, cursor, r.pageSize)
		if err != nil {
			if page == 0 {
				return nil, errors.Wrapf(err, op, "fetch first page for session %s", sessionID)
			}
			r.diags.Addf(stream.StageHistory, "page fetch failed, truncating",
				"page=%d err=%v (%v)", page, err, errors.ErrTruncated)
			logger.Warn("history fetch truncated",
				logger.FieldSessionID, sessionID, logger.FieldPage, page, logger.FieldError, err)
			truncated = true
			break
		}
		all = append(all, ep.Events...)
		if ep.NextCursor == "" {
			break
		}
		cursor = ep.NextCursor
	}

	// 新→旧扫描: 首个命中的主代理快照即最新, 立即停 —
	// 旧快照绝不覆盖新快照
	agentState := r.extractAgentState(all)

	// 单次整体反转 → 旧→新
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}

	messages := make([]timeline.Message, 0, len(all))
	for idx, ev := range all {
		msg, ok := r.decodeEvent(ev, sessionID, idx)
		if ok {
			messages = append(messages, msg)
		}
	}

	logger.Info("history rebuilt",
		logger.FieldSessionID, sessionID,
		logger.FieldCount, len(messages))
	return &Result{Messages: messages, AgentState: agentState, Truncated: truncated}, nil
}

// extractAgentState 在新→旧序列上找最新主代理快照。
func (r *Reconstructor) extractAgentState(newestFirst []MemoryEvent) json.RawMessage {
	for _, ev := range newestFirst {
		item := relevantItem(ev)
		if item == nil || item.Conversational == nil {
			continue
		}
		var st storedAgentState
		if err := json.Unmarshal([]byte(item.Conversational.Content.Text), &st); err != nil {
			continue
		}
		if len(st.AgentState) == 0 {
			continue
		}
		if st.Agent != "" && st.Agent != primaryAgent {
			continue
		}
		return st.AgentState
	}
	return nil
}

// decodeEvent 解一条持久化事件为消息; 非消息事件返回 ok=false。
func (r *Reconstructor) decodeEvent(ev MemoryEvent, sessionID string, idx int) (timeline.Message, bool) {
	item := relevantItem(ev)
	if item == nil {
		r.diags.Addf(stream.StageHistory, "event without payload", "eventId=%s", ev.EventID)
		return timeline.Message{}, false
	}

	var stored storedMessage
	var role string
	switch {
	case item.Conversational != nil:
		if err := json.Unmarshal([]byte(item.Conversational.Content.Text), &stored); err != nil {
			r.diags.Addf(stream.StageHistory, "undecodable inline payload", "eventId=%s err=%v", ev.EventID, err)
			return timeline.Message{}, false
		}
		if stored.Message == "" {
			// 无 message 字段: 状态快照 (已在扫描阶段消费) 或未知文档
			var st storedAgentState
			if json.Unmarshal([]byte(item.Conversational.Content.Text), &st) == nil && len(st.AgentState) > 0 {
				return timeline.Message{}, false
			}
			r.diags.Addf(stream.StageHistory, "inline payload without message field", "eventId=%s", ev.EventID)
			return timeline.Message{}, false
		}
		role = item.Conversational.Role

	case item.Blob != "":
		// 外联二元组 [messageJson, role]
		var tuple []json.RawMessage
		if err := json.Unmarshal([]byte(item.Blob), &tuple); err != nil || len(tuple) != 2 {
			r.diags.Addf(stream.StageHistory, "malformed blob tuple", "eventId=%s err=%v", ev.EventID, err)
			return timeline.Message{}, false
		}
		var messageJSON string
		if err := json.Unmarshal(tuple[0], &messageJSON); err != nil {
			// 首元素也可能直接是对象而非转义字符串
			messageJSON = string(tuple[0])
		}
		if err := json.Unmarshal([]byte(messageJSON), &stored); err != nil {
			r.diags.Addf(stream.StageHistory, "undecodable blob message", "eventId=%s err=%v", ev.EventID, err)
			return timeline.Message{}, false
		}
		if err := json.Unmarshal(tuple[1], &role); err != nil {
			r.diags.Addf(stream.StageHistory, "undecodable blob role", "eventId=%s err=%v", ev.EventID, err)
			return timeline.Message{}, false
		}

	default:
		r.diags.Addf(stream.StageHistory, "payload with neither encoding", "eventId=%s", ev.EventID)
		return timeline.Message{}, false
	}

	msg := timeline.Message{
		ID:        ev.EventID,
		Sender:    senderFromRole(role),
		Text:      stored.Message,
		Timestamp: r.parseEventTime(ev),
		Images:    stored.Images,
	}
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("%s-%d", sessionID, idx)
	}
	if len(stored.Documents) > 0 {
		var docs []stream.Document
		if err := json.Unmarshal(stored.Documents, &docs); err == nil {
			msg.Documents = docs
		} else {
			r.diags.Addf(stream.StageHistory, "undecodable documents", "eventId=%s err=%v", ev.EventID, err)
		}
	}
	if len(stored.ToolExecutions) > 0 {
		var execs []*timeline.ToolExecution
		if err := json.Unmarshal(stored.ToolExecutions, &execs); err == nil {
			msg.ToolExecutions = execs
		} else {
			r.diags.Addf(stream.StageHistory, "undecodable tool executions", "eventId=%s err=%v", ev.EventID, err)
		}
	}
	return msg, true
}

func (r *Reconstructor) parseEventTime(ev MemoryEvent) time.Time {
	if ev.EventTime != "" {
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
			if t, err := time.Parse(layout, ev.EventTime); err == nil {
				return t
			}
		}
		r.diags.Addf(stream.StageHistory, "unparseable event time", "eventId=%s time=%q", ev.EventID, ev.EventTime)
	}
	return r.now()
}

// relevantItem 取负载数组中首个携带编码的项。
func relevantItem(ev MemoryEvent) *PayloadItem {
	for i := range ev.Payload {
		if ev.Payload[i].Conversational != nil || ev.Payload[i].Blob != "" {
			return &ev.Payload[i]
		}
	}
	return nil
}

func senderFromRole(role string) timeline.Sender {
	if strings.EqualFold(role, "user") {
		return timeline.SenderUser
	}
	return timeline.SenderAssistant
}
